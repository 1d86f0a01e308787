package provisioner

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"github.com/splax/peep-runtime/internal/docker"
)

const (
	sharedPostgresName   = "peep-shared-postgres"
	sharedPostgresVolume = "peep-shared-postgres-data"
	redisNamePrefix      = "peep-redis-"
	labelPassword        = "dev.peep.runtime.password"
	labelProject         = "dev.peep.runtime.project"

	postgresPort nat.Port = "5432/tcp"
	redisPort    nat.Port = "6379/tcp"
)

var containerSafe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// Containers is the subset of the docker client the local provisioner needs.
type Containers interface {
	EnsureContainer(ctx context.Context, spec docker.ContainerSpec) (docker.ContainerInfo, error)
	RemoveContainer(ctx context.Context, name string) error
}

// pgAdmin is an administrative connection to the shared postgres.
type pgAdmin interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close(ctx context.Context) error
}

// LocalConfig configures the docker-backed provisioner.
type LocalConfig struct {
	PostgresImage    string
	PostgresPassword string
	RedisImage       string
	ReadyTimeout     time.Duration
}

// Local provisions databases from containers on the local docker daemon.
// Postgres databases share one server with a login role per project.
type Local struct {
	containers Containers
	cfg        LocalConfig
	logger     *slog.Logger

	connectPostgres func(ctx context.Context, dsn string) (pgAdmin, error)
	pingRedis       func(ctx context.Context, addr, password string) error
	newPassword     func() (string, error)

	mu sync.Mutex
}

var _ Provisioner = (*Local)(nil)

// NewLocal constructs a local provisioner.
func NewLocal(containers Containers, cfg LocalConfig, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PostgresImage == "" {
		cfg.PostgresImage = "postgres:16-alpine"
	}
	if cfg.RedisImage == "" {
		cfg.RedisImage = "redis:7-alpine"
	}
	if cfg.PostgresPassword == "" {
		cfg.PostgresPassword = "postgres"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 30 * time.Second
	}
	return &Local{
		containers:      containers,
		cfg:             cfg,
		logger:          logger.With("component", "local_provisioner"),
		connectPostgres: connectPostgres,
		pingRedis:       pingRedis,
		newPassword:     randomPassword,
	}
}

// ProvisionDatabase returns a database for the project, creating it on first
// use. Postgres passwords are cycled on every call.
func (l *Local) ProvisionDatabase(ctx context.Context, req DatabaseRequest) (DatabaseInfo, error) {
	project := strings.TrimSpace(req.ProjectName)
	if project == "" {
		return DatabaseInfo{}, ErrInvalidProject
	}
	switch req.Engine {
	case EnginePostgres:
		return l.provisionPostgres(ctx, project)
	case EngineRedis:
		return l.provisionRedis(ctx, project)
	default:
		return DatabaseInfo{}, fmt.Errorf("%w: %q", ErrUnsupportedEngine, req.Engine)
	}
}

// DeleteDatabase drops the project's database and role, or removes its
// redis container.
func (l *Local) DeleteDatabase(ctx context.Context, req DatabaseRequest) error {
	project := strings.TrimSpace(req.ProjectName)
	if project == "" {
		return ErrInvalidProject
	}
	switch req.Engine {
	case EnginePostgres:
		l.mu.Lock()
		defer l.mu.Unlock()
		conn, _, err := l.sharedPostgres(ctx)
		if err != nil {
			return err
		}
		defer conn.Close(context.Background())
		role, db := postgresNames(project)
		if _, err := conn.Exec(ctx, "DROP DATABASE IF EXISTS "+pgx.Identifier{db}.Sanitize()); err != nil {
			return fmt.Errorf("drop database: %w", err)
		}
		if _, err := conn.Exec(ctx, "DROP ROLE IF EXISTS "+pgx.Identifier{role}.Sanitize()); err != nil {
			return fmt.Errorf("drop role: %w", err)
		}
		return nil
	case EngineRedis:
		if !containerSafe.MatchString(project) {
			return fmt.Errorf("%w: %q", ErrInvalidProject, project)
		}
		return l.containers.RemoveContainer(ctx, redisNamePrefix+project)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedEngine, req.Engine)
	}
}

func (l *Local) provisionPostgres(ctx context.Context, project string) (DatabaseInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	conn, admin, err := l.sharedPostgres(ctx)
	if err != nil {
		return DatabaseInfo{}, err
	}
	defer conn.Close(context.Background())

	password, err := l.newPassword()
	if err != nil {
		return DatabaseInfo{}, err
	}
	role, db := postgresNames(project)
	if err := ensureRole(ctx, conn, role, password); err != nil {
		return DatabaseInfo{}, err
	}
	if err := ensureDatabase(ctx, conn, db, role); err != nil {
		return DatabaseInfo{}, err
	}
	l.logger.Info("postgres database ready", "project", project, "database", db)
	return DatabaseInfo{
		Engine:         EnginePostgres,
		Username:       role,
		Password:       password,
		DatabaseName:   db,
		Port:           admin.Port,
		AddressPrivate: admin.AddressPrivate,
		AddressPublic:  admin.AddressPublic,
	}, nil
}

// sharedPostgres starts the shared server if needed and returns an admin
// connection together with the admin's connection details.
func (l *Local) sharedPostgres(ctx context.Context) (pgAdmin, DatabaseInfo, error) {
	info, err := l.containers.EnsureContainer(ctx, docker.ContainerSpec{
		Name:   sharedPostgresName,
		Image:  l.cfg.PostgresImage,
		Env:    []string{"POSTGRES_PASSWORD=" + l.cfg.PostgresPassword},
		Port:   postgresPort,
		Volume: sharedPostgresVolume,
		Target: "/var/lib/postgresql/data",
	})
	if err != nil {
		return nil, DatabaseInfo{}, fmt.Errorf("%w: start shared postgres: %v", ErrUnavailable, err)
	}
	host, port, err := info.HostAddress(postgresPort)
	if err != nil {
		return nil, DatabaseInfo{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	admin := DatabaseInfo{
		Engine:         EnginePostgres,
		Username:       "postgres",
		Password:       l.cfg.PostgresPassword,
		DatabaseName:   "postgres",
		Port:           port,
		AddressPrivate: host,
		AddressPublic:  host,
	}

	var conn pgAdmin
	err = waitReady(ctx, l.cfg.ReadyTimeout, func(ctx context.Context) error {
		c, err := l.connectPostgres(ctx, admin.ConnectionString(true))
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, DatabaseInfo{}, fmt.Errorf("%w: shared postgres not ready: %v", ErrUnavailable, err)
	}
	return conn, admin, nil
}

func (l *Local) provisionRedis(ctx context.Context, project string) (DatabaseInfo, error) {
	if !containerSafe.MatchString(project) {
		return DatabaseInfo{}, fmt.Errorf("%w: %q", ErrInvalidProject, project)
	}
	password, err := l.newPassword()
	if err != nil {
		return DatabaseInfo{}, err
	}
	info, err := l.containers.EnsureContainer(ctx, docker.ContainerSpec{
		Name:   redisNamePrefix + project,
		Image:  l.cfg.RedisImage,
		Cmd:    []string{"redis-server", "--requirepass", password},
		Port:   redisPort,
		Labels: map[string]string{labelPassword: password, labelProject: project},
	})
	if err != nil {
		return DatabaseInfo{}, fmt.Errorf("%w: start redis: %v", ErrUnavailable, err)
	}
	// A reused container keeps the password it was created with.
	if existing := info.Labels[labelPassword]; existing != "" {
		password = existing
	}
	host, port, err := info.HostAddress(redisPort)
	if err != nil {
		return DatabaseInfo{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	addr := host + ":" + port
	if err := waitReady(ctx, l.cfg.ReadyTimeout, func(ctx context.Context) error {
		return l.pingRedis(ctx, addr, password)
	}); err != nil {
		return DatabaseInfo{}, fmt.Errorf("%w: redis not ready: %v", ErrUnavailable, err)
	}
	l.logger.Info("redis database ready", "project", project, "addr", addr)
	return DatabaseInfo{
		Engine:         EngineRedis,
		Username:       "default",
		Password:       password,
		DatabaseName:   "0",
		Port:           port,
		AddressPrivate: host,
		AddressPublic:  host,
	}, nil
}

func postgresNames(project string) (role, db string) {
	return "user-" + project, "db-" + project
}

func ensureRole(ctx context.Context, conn pgAdmin, role, password string) error {
	var exists bool
	if err := conn.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)", role).Scan(&exists); err != nil {
		return fmt.Errorf("lookup role: %w", err)
	}
	verb := "CREATE"
	if exists {
		verb = "ALTER"
	}
	stmt := verb + " ROLE " + pgx.Identifier{role}.Sanitize() + " WITH LOGIN PASSWORD " + quoteLiteral(password)
	if _, err := conn.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("%s role: %w", strings.ToLower(verb), err)
	}
	return nil
}

func ensureDatabase(ctx context.Context, conn pgAdmin, db, owner string) error {
	var exists bool
	if err := conn.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", db).Scan(&exists); err != nil {
		return fmt.Errorf("lookup database: %w", err)
	}
	if exists {
		return nil
	}
	stmt := "CREATE DATABASE " + pgx.Identifier{db}.Sanitize() + " OWNER " + pgx.Identifier{owner}.Sanitize()
	if _, err := conn.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	return nil
}

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

func waitReady(ctx context.Context, timeout time.Duration, probe func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		err := probe(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return err
		case <-ticker.C:
		}
	}
}

func connectPostgres(ctx context.Context, dsn string) (pgAdmin, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close(context.Background())
		return nil, err
	}
	return conn, nil
}

func pingRedis(ctx context.Context, addr, password string) error {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	defer client.Close()
	return client.Ping(ctx).Err()
}

func randomPassword() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate password: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
