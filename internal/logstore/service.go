// Package logstore implements the service that stores deployment logs and
// streams them to followers.
package logstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/splax/peep-runtime/internal/ws"
	"github.com/splax/peep-runtime/pkg/logs"
)

// Service handles log persistence and streaming.
type Service struct {
	repo   Repository
	hub    *ws.Hub
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a log service.
func NewService(repo Repository, hub *ws.Hub, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{repo: repo, hub: hub, logger: logger.With("component", "logstore"), now: time.Now}
}

// Append stores a batch under deploymentID and broadcasts it to followers.
// Lines are attributed to the deployment the request was authorised for.
func (s Service) Append(ctx context.Context, deploymentID uuid.UUID, lines []logs.LogLine) error {
	if len(lines) == 0 {
		return nil
	}
	batch := make([]logs.LogLine, len(lines))
	for i, line := range lines {
		line.DeploymentID = deploymentID
		if line.Timestamp.IsZero() {
			line.Timestamp = s.now()
		}
		line.Timestamp = line.Timestamp.UTC()
		batch[i] = line
	}
	if err := s.repo.AppendLogs(ctx, batch); err != nil {
		return err
	}
	recordStored(len(batch))
	s.broadcast(deploymentID, batch)
	return nil
}

// List returns up to limit of the latest lines of a deployment.
func (s Service) List(ctx context.Context, deploymentID uuid.UUID, limit int) ([]logs.LogLine, error) {
	return s.repo.ListLogs(ctx, deploymentID, limit)
}

// Ping checks the repository.
func (s Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// Hub returns the websocket hub (useful for HTTP handlers).
func (s Service) Hub() *ws.Hub {
	return s.hub
}

func (s Service) broadcast(deploymentID uuid.UUID, lines []logs.LogLine) {
	if s.hub == nil {
		return
	}
	key := deploymentID.String()
	if s.hub.Subscribers(key) == 0 {
		return
	}
	for _, line := range lines {
		data, err := json.Marshal(line)
		if err != nil {
			s.logger.Warn("failed to marshal log payload", "error", err)
			continue
		}
		s.hub.Broadcast(key, data)
	}
}
