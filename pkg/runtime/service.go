package runtime

import (
	"context"
	"log/slog"
)

// Service is a started tenant service. Bind serves on addr until it returns or
// ctx is cancelled; a nil return means the service ended on its own.
type Service interface {
	Bind(ctx context.Context, addr string) error
}

// Loader builds the service's resources from a factory F and returns their
// descriptors in the order they were produced.
type Loader[F any] interface {
	Load(ctx context.Context, factory F, logger *slog.Logger) ([][]byte, error)
}

// Runner turns resource descriptors into a runnable Service.
type Runner interface {
	Run(ctx context.Context, resources [][]byte) (Service, error)
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context, addr string) error

// Bind calls f(ctx, addr).
func (f ServiceFunc) Bind(ctx context.Context, addr string) error { return f(ctx, addr) }

// LoaderFunc adapts a function to Loader.
type LoaderFunc[F any] func(ctx context.Context, factory F, logger *slog.Logger) ([][]byte, error)

// Load calls f(ctx, factory, logger).
func (f LoaderFunc[F]) Load(ctx context.Context, factory F, logger *slog.Logger) ([][]byte, error) {
	return f(ctx, factory, logger)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, resources [][]byte) (Service, error)

// Run calls f(ctx, resources).
func (f RunnerFunc) Run(ctx context.Context, resources [][]byte) (Service, error) {
	return f(ctx, resources)
}
