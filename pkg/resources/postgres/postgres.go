// Package postgres turns a provisioned postgres database into a connection pool.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/peep-runtime/pkg/provisioner"
)

// Provision asks the factory for the project's postgres database and returns
// its resource descriptor.
func Provision(ctx context.Context, f *provisioner.Factory) ([]byte, error) {
	info, err := f.Database(ctx, provisioner.EnginePostgres)
	if err != nil {
		return nil, fmt.Errorf("provision postgres: %w", err)
	}
	return provisioner.EncodeDatabase(info)
}

// ConnectionString extracts the connection URL from a descriptor.
func ConnectionString(descriptor []byte, public bool) (string, error) {
	info, err := provisioner.DecodeDatabase(descriptor, provisioner.EnginePostgres)
	if err != nil {
		return "", err
	}
	return info.ConnectionString(public), nil
}

// Open connects a pool to the database a descriptor names and pings it.
func Open(ctx context.Context, descriptor []byte) (*pgxpool.Pool, error) {
	dsn, err := ConnectionString(descriptor, true)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}
