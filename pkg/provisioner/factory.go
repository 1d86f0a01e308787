package provisioner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/splax/peep-runtime/internal/docker"
	"github.com/splax/peep-runtime/pkg/config"
	"github.com/splax/peep-runtime/pkg/runtime"
	"github.com/splax/peep-runtime/pkg/runtime/proto"
)

// Factory gives a loading service its secrets, databases and a private
// storage directory.
type Factory struct {
	runtime.ResourceFactory

	provisioner Provisioner
	storageRoot string
}

// Database provisions a database of the given engine for the project.
func (f *Factory) Database(ctx context.Context, engine Engine) (DatabaseInfo, error) {
	if f.provisioner == nil {
		return DatabaseInfo{}, ErrNoProvisioner
	}
	return f.provisioner.ProvisionDatabase(ctx, DatabaseRequest{ProjectName: f.ProjectName, Engine: engine})
}

// StorageDir returns the project's storage directory, creating it if needed.
func (f *Factory) StorageDir() (string, error) {
	if f.storageRoot == "" {
		return "", fmt.Errorf("storage path not configured")
	}
	name := filepath.Base(filepath.Clean("/" + f.ProjectName))
	if name == "/" || name == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidProject, f.ProjectName)
	}
	dir := filepath.Join(f.storageRoot, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create storage dir: %w", err)
	}
	return dir, nil
}

// NewFactoryBuilder builds Factory values backed by p. A nil p yields
// factories whose Database calls fail with ErrNoProvisioner.
func NewFactoryBuilder(p Provisioner, storagePath, secretsKey string) runtime.FactoryBuilder[*Factory] {
	base := runtime.NewResourceFactoryBuilder(secretsKey)
	return runtime.FactoryBuilderFunc[*Factory](func(ctx context.Context, deploymentID uuid.UUID, req proto.LoadRequest) (*Factory, error) {
		rf, err := base.Build(ctx, deploymentID, req)
		if err != nil {
			return nil, err
		}
		return &Factory{ResourceFactory: rf, provisioner: p, storageRoot: storagePath}, nil
	})
}

// dockerDaemon is the docker connection the local provisioner runs on.
type dockerDaemon interface {
	Containers
	Ping(ctx context.Context) error
	Close() error
}

var dialDocker = func(host string) (dockerDaemon, error) {
	return docker.New(host)
}

// FromConfig picks the provisioner named by cfg and returns a factory builder
// for it. A remote provisioner URL wins over the local docker provisioner.
func FromConfig(cfg config.RuntimeConfig, logger *slog.Logger) (runtime.FactoryBuilder[*Factory], error) {
	var p Provisioner
	switch {
	case strings.TrimSpace(cfg.ProvisionerURL) != "":
		client, err := NewClient(cfg.ProvisionerURL, cfg.ProvisionerToken, nil)
		if err != nil {
			return nil, err
		}
		p = client
	case cfg.LocalProvisioner:
		cli, err := dialDocker(cfg.DockerHost)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cli.Ping(ctx); err != nil {
			_ = cli.Close()
			return nil, fmt.Errorf("local provisioner: %w", err)
		}
		p = NewLocal(cli, LocalConfig{
			PostgresImage:    cfg.PostgresImage,
			PostgresPassword: cfg.PostgresPassword,
			RedisImage:       cfg.RedisImage,
		}, logger)
	}
	return NewFactoryBuilder(p, cfg.StoragePath, cfg.SecretsKey), nil
}
