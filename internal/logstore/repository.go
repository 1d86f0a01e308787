package logstore

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/splax/peep-runtime/pkg/logs"
)

// ErrInvalidArgument indicates stored data was rejected by the database.
var ErrInvalidArgument = errors.New("logstore: invalid argument")

// Repository persists deployment log lines.
type Repository interface {
	AppendLogs(ctx context.Context, lines []logs.LogLine) error
	ListLogs(ctx context.Context, deploymentID uuid.UUID, limit int) ([]logs.LogLine, error)
	Ping(ctx context.Context) error
}
