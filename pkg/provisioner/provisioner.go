package provisioner

import (
	"context"
	"errors"
)

var (
	// ErrUnsupportedEngine indicates the requested engine cannot be provisioned.
	ErrUnsupportedEngine = errors.New("provisioner: unsupported engine")
	// ErrInvalidProject indicates the project name cannot own a database.
	ErrInvalidProject = errors.New("provisioner: invalid project name")
	// ErrNoProvisioner indicates the runtime was started without a provisioner.
	ErrNoProvisioner = errors.New("provisioner: none configured")
	// ErrUnavailable indicates the provisioner could not serve the request.
	ErrUnavailable = errors.New("provisioner: unavailable")
)

// Provisioner creates and deletes project databases. Provisioning is
// idempotent per project and engine.
type Provisioner interface {
	ProvisionDatabase(ctx context.Context, req DatabaseRequest) (DatabaseInfo, error)
	DeleteDatabase(ctx context.Context, req DatabaseRequest) error
}
