// Package redis turns a provisioned redis database into a client.
package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/splax/peep-runtime/pkg/provisioner"
)

// Provision asks the factory for the project's redis database and returns
// its resource descriptor.
func Provision(ctx context.Context, f *provisioner.Factory) ([]byte, error) {
	info, err := f.Database(ctx, provisioner.EngineRedis)
	if err != nil {
		return nil, fmt.Errorf("provision redis: %w", err)
	}
	return provisioner.EncodeDatabase(info)
}

// Options builds client options from a descriptor.
func Options(descriptor []byte) (*goredis.Options, error) {
	info, err := provisioner.DecodeDatabase(descriptor, provisioner.EngineRedis)
	if err != nil {
		return nil, err
	}
	opts, err := goredis.ParseURL(info.ConnectionString(true))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return opts, nil
}

// Open connects a client to the database a descriptor names and pings it.
func Open(ctx context.Context, descriptor []byte) (*goredis.Client, error) {
	opts, err := Options(descriptor)
	if err != nil {
		return nil, err
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
