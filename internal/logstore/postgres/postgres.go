// Package postgres stores deployment logs in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/peep-runtime/internal/logstore"
	"github.com/splax/peep-runtime/pkg/logs"
)

// Repository implements logstore.Repository on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ logstore.Repository = (*Repository)(nil)

// AppendLogs bulk inserts lines with COPY.
func (r *Repository) AppendLogs(ctx context.Context, lines []logs.LogLine) error {
	if len(lines) == 0 {
		return nil
	}
	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"log_lines"},
		[]string{"deployment_id", "origin", "line", "logged_at"},
		pgx.CopyFromSlice(len(lines), func(i int) ([]any, error) {
			l := lines[i]
			return []any{l.DeploymentID, l.Origin, l.Text, l.Timestamp.UTC()}, nil
		}),
	)
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "22P02", "22021", "23502":
			return logstore.ErrInvalidArgument
		}
	}
	return err
}

// ListLogs returns the most recent lines of a deployment, oldest first.
func (r *Repository) ListLogs(ctx context.Context, deploymentID uuid.UUID, limit int) ([]logs.LogLine, error) {
	const query = `SELECT deployment_id, origin, line, logged_at
		FROM log_lines WHERE deployment_id = $1 ORDER BY id DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, deploymentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []logs.LogLine
	for rows.Next() {
		var l logs.LogLine
		if err := rows.Scan(&l.DeploymentID, &l.Origin, &l.Text, &l.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
