// Package host wires a lifecycle controller to its control server and log
// pipeline and runs it as a process.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/splax/peep-runtime/internal/control"
	"github.com/splax/peep-runtime/pkg/config"
	"github.com/splax/peep-runtime/pkg/logger"
	"github.com/splax/peep-runtime/pkg/logs"
	logstore "github.com/splax/peep-runtime/pkg/logstore/client"
	"github.com/splax/peep-runtime/pkg/runtime"
)

var buildVersion = "dev"

// BuilderFunc constructs the factory builder once configuration is known.
type BuilderFunc[F any] func(cfg config.RuntimeConfig, logger *slog.Logger) (runtime.FactoryBuilder[F], error)

// ResourceFactories builds plain secret-only factories.
func ResourceFactories(cfg config.RuntimeConfig, _ *slog.Logger) (runtime.FactoryBuilder[runtime.ResourceFactory], error) {
	return runtime.NewResourceFactoryBuilder(cfg.SecretsKey), nil
}

// Host owns one deployment's controller, control server and log pipeline.
type Host[F any] struct {
	cfg        config.RuntimeConfig
	logger     *slog.Logger
	controller *runtime.Controller[F]
	batcher    *logs.Batcher[logs.LogLine]
	server     *http.Server
	listener   net.Listener
}

// Start builds the pipeline and begins listening on cfg.ControlAddr. Serving
// starts with Run.
func Start[F any](cfg config.RuntimeConfig, log *slog.Logger, builder runtime.FactoryBuilder[F], loader runtime.Loader[F], runner runtime.Runner) (*Host[F], error) {
	if log == nil {
		log = slog.Default()
	}
	deploymentID := uuid.Nil
	if raw := strings.TrimSpace(cfg.DeploymentID); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse deployment id: %w", err)
		}
		deploymentID = parsed
	}

	recorder, batcher, err := newRecorder(cfg, log)
	if err != nil {
		return nil, err
	}

	controller := runtime.New(builder, loader, runner,
		runtime.WithLogger(log),
		runtime.WithRecorder(recorder),
		runtime.WithDeploymentID(deploymentID),
	)

	listener, err := net.Listen("tcp", cfg.ControlAddr)
	if err != nil {
		if batcher != nil {
			_ = batcher.Close(context.Background())
		}
		return nil, fmt.Errorf("listen on control address: %w", err)
	}

	router := control.NewRouter(log, controller,
		control.WithToken(cfg.ControlToken),
		control.WithStopTimeout(cfg.ShutdownTimeout),
	)
	return &Host[F]{
		cfg:        cfg,
		logger:     log.With("component", "host"),
		controller: controller,
		batcher:    batcher,
		listener:   listener,
		server: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// newRecorder ships logs to the log store when one is configured, otherwise
// mirrors them to the process logger.
func newRecorder(cfg config.RuntimeConfig, log *slog.Logger) (logs.Recorder, *logs.Batcher[logs.LogLine], error) {
	if strings.TrimSpace(cfg.LogStoreURL) == "" {
		out := log.With("component", "deployment_logs")
		return logs.RecorderFunc(func(line logs.LogLine) {
			out.Info(line.Text, "origin", line.Origin)
		}), nil, nil
	}
	store, err := logstore.New(cfg.LogStoreURL, cfg.LogStoreToken, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("configure log store: %w", err)
	}
	receiver := logs.NewSinkReceiver(store, log, logs.WithCooldown(cfg.LogRateLimitCooldown))
	batcher := logs.NewBatcher[logs.LogLine](receiver, cfg.LogBatchCapacity, cfg.LogBatchInterval)
	return batcher, batcher, nil
}

// Addr returns the control server's listening address.
func (h *Host[F]) Addr() string {
	return h.listener.Addr().String()
}

// Controller exposes the lifecycle controller.
func (h *Host[F]) Controller() *runtime.Controller[F] {
	return h.controller
}

// Run serves the control protocol until ctx is done or the deployment reached
// a terminal state, then shuts everything down.
func (h *Host[F]) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.logger.Info("control server starting", "addr", h.Addr(), "deployment_id", h.controller.DeploymentID())
		if err := h.server.Serve(h.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-h.controller.Done():
			h.logger.Info("deployment finished", "reason", h.controller.Status().Stop.Reason.String())
		}
		return h.shutdown()
	})
	return g.Wait()
}

func (h *Host[F]) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := h.controller.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop deployment: %w", err))
	}
	if err := h.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown control server: %w", err))
	}
	if h.batcher != nil {
		if err := h.batcher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush logs: %w", err))
		}
	}
	h.logger.Info("control server stopped")
	return errors.Join(errs...)
}

// Main is the entry point of a deployment binary. It loads configuration from
// the environment, serves the control protocol and exits the process.
func Main[F any](newBuilder BuilderFunc[F], loader runtime.Loader[F], runner runtime.Runner) {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "version") {
		fmt.Println(buildVersion)
		return
	}
	if err := config.LoadEnvFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "load env file: %v\n", err)
		os.Exit(1)
	}
	cfg := config.LoadRuntimeConfig()
	log := logger.New("runtime", logger.ParseLevel(cfg.LogLevel))
	if err := config.Validate(cfg); err != nil {
		log.Error("invalid runtime configuration", "error", err)
		os.Exit(1)
	}

	builder, err := newBuilder(cfg, log)
	if err != nil {
		log.Error("failed to configure resource factories", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h, err := Start(cfg, log, builder, loader, runner)
	if err != nil {
		log.Error("failed to start runtime", "error", err)
		os.Exit(1)
	}
	if err := h.Run(ctx); err != nil {
		log.Error("runtime exited with error", "error", err)
		os.Exit(1)
	}
}
