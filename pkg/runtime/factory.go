package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/splax/peep-runtime/pkg/crypto"
	"github.com/splax/peep-runtime/pkg/runtime/proto"
)

// FactoryBuilder produces the factory handed to a Loader from a load request.
// It is how the controller stays independent of the shape of the factory.
type FactoryBuilder[F any] interface {
	Build(ctx context.Context, deploymentID uuid.UUID, req proto.LoadRequest) (F, error)
}

// FactoryBuilderFunc adapts a function to FactoryBuilder.
type FactoryBuilderFunc[F any] func(ctx context.Context, deploymentID uuid.UUID, req proto.LoadRequest) (F, error)

// Build calls f(ctx, deploymentID, req).
func (f FactoryBuilderFunc[F]) Build(ctx context.Context, deploymentID uuid.UUID, req proto.LoadRequest) (F, error) {
	return f(ctx, deploymentID, req)
}

// ResourceFactory is the plain factory: project identity, environment and secrets.
type ResourceFactory struct {
	DeploymentID uuid.UUID
	ProjectName  string
	Env          proto.Environment
	secrets      map[string]string
}

// Secret returns a secret by key.
func (f ResourceFactory) Secret(key string) (string, bool) {
	v, ok := f.secrets[key]
	return v, ok
}

// Secrets returns a copy of every secret.
func (f ResourceFactory) Secrets() map[string]string {
	out := make(map[string]string, len(f.secrets))
	for k, v := range f.secrets {
		out[k] = v
	}
	return out
}

// SecretKeys returns the secret names in sorted order.
func (f ResourceFactory) SecretKeys() []string {
	keys := make([]string, 0, len(f.secrets))
	for k := range f.secrets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NewResourceFactoryBuilder returns a builder for ResourceFactory. Sealed
// secret values are opened with secretsKey.
func NewResourceFactoryBuilder(secretsKey string) FactoryBuilder[ResourceFactory] {
	return FactoryBuilderFunc[ResourceFactory](func(_ context.Context, deploymentID uuid.UUID, req proto.LoadRequest) (ResourceFactory, error) {
		if strings.TrimSpace(req.ProjectName) == "" {
			return ResourceFactory{}, errors.New("project name required")
		}
		env, err := proto.ParseEnvironment(req.Env)
		if err != nil {
			return ResourceFactory{}, err
		}
		secrets, err := OpenSecrets(secretsKey, req.Secrets)
		if err != nil {
			return ResourceFactory{}, err
		}
		return ResourceFactory{
			DeploymentID: deploymentID,
			ProjectName:  req.ProjectName,
			Env:          env,
			secrets:      secrets,
		}, nil
	})
}

// OpenSecrets returns a copy of secrets with sealed values decrypted.
func OpenSecrets(key string, secrets map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(secrets))
	for name, value := range secrets {
		plain, err := crypto.OpenString(key, value)
		if err != nil {
			return nil, fmt.Errorf("open secret %s: %w", name, err)
		}
		out[name] = plain
	}
	return out, nil
}
