package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/splax/peep-runtime/pkg/logs"
	"github.com/splax/peep-runtime/pkg/runtime/proto"
)

// State is the lifecycle state of a deployment.
type State int

const (
	StateUnloaded State = iota
	StateLoaded
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Status is a snapshot of the controller.
type Status struct {
	DeploymentID uuid.UUID   `json:"deployment_id"`
	State        string      `json:"state"`
	Address      string      `json:"address,omitempty"`
	Stop         *StopStatus `json:"stop,omitempty"`
}

// killSwitch is the one-shot abort signal of a running service. done is
// closed once the run task has finished, which is the acknowledgement Stop
// waits for.
type killSwitch struct {
	signal chan struct{}
	done   chan struct{}
}

type options struct {
	logger       *slog.Logger
	recorder     logs.Recorder
	deploymentID uuid.UUID
}

// Option customises a Controller.
type Option func(*options)

// WithLogger sets the logger for lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRecorder forwards every log line of the deployment to recorder, in
// addition to the SubscribeLogs stream.
func WithRecorder(recorder logs.Recorder) Option {
	return func(o *options) {
		o.recorder = recorder
	}
}

// WithDeploymentID fixes the deployment identity instead of generating one.
func WithDeploymentID(id uuid.UUID) Option {
	return func(o *options) {
		if id != uuid.Nil {
			o.deploymentID = id
		}
	}
}

// Controller drives one deployment through load, start and stop.
type Controller[F any] struct {
	id       uuid.UUID
	builder  FactoryBuilder[F]
	loader   *Slot[Loader[F]]
	runner   *Slot[Runner]
	kill     *Slot[*killSwitch]
	stop     *StopBroadcast
	stream   *logs.Stream
	recorder logs.Recorder
	svcLog   *slog.Logger
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	state     State
	address   string
	signalled bool
}

// New returns a controller in the unloaded state.
func New[F any](builder FactoryBuilder[F], loader Loader[F], runner Runner, opts ...Option) *Controller[F] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.deploymentID == uuid.Nil {
		o.deploymentID = uuid.New()
	}
	stream := logs.NewStream()
	recorder := logs.Tee(stream, o.recorder)
	c := &Controller[F]{
		id:       o.deploymentID,
		builder:  builder,
		loader:   NewSlot(loader),
		runner:   NewSlot(runner),
		kill:     EmptySlot[*killSwitch](),
		stop:     NewStopBroadcast(),
		stream:   stream,
		recorder: recorder,
		svcLog:   logs.NewLogger(recorder, o.deploymentID, logs.OriginService),
		logger:   o.logger.With("component", "lifecycle", "deployment_id", o.deploymentID),
		now:      time.Now,
		state:    StateUnloaded,
	}
	return c
}

// DeploymentID returns the identity tagging this deployment's logs.
func (c *Controller[F]) DeploymentID() uuid.UUID {
	return c.id
}

// State returns the current lifecycle state.
func (c *Controller[F]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot for observers.
func (c *Controller[F]) Status() Status {
	c.mu.Lock()
	st := Status{DeploymentID: c.id, State: c.state.String(), Address: c.address}
	c.mu.Unlock()
	if stop, ok := c.stop.Status(); ok {
		st.Stop = &stop
	}
	return st
}

// Load consumes the loader and builds the service's resources. Only the first
// call reaches user code; later calls fail with ErrAlreadyTaken.
func (c *Controller[F]) Load(ctx context.Context, req proto.LoadRequest) (proto.LoadResponse, error) {
	loader, err := c.loader.Take()
	if err != nil {
		c.logger.Warn("load rejected", "error", err)
		return proto.LoadResponse{Message: err.Error()}, err
	}

	c.logger.Info("loading service", "project", req.ProjectName, "env", req.Env, "secrets", len(req.Secrets))
	c.record(fmt.Sprintf("loading resources for project %s", req.ProjectName))

	factory, err := isolate(func() (F, error) {
		return c.builder.Build(ctx, c.id, req)
	})
	if err != nil {
		recordPanic("factory", err)
		return c.loadFailed(fmt.Sprintf("failed to build resource factory: %v", err)), nil
	}

	resources, err := isolate(func() ([][]byte, error) {
		return loader.Load(ctx, factory, c.svcLog)
	})
	if err != nil {
		recordPanic("load", err)
		return c.loadFailed(err.Error()), nil
	}

	c.mu.Lock()
	c.state = StateLoaded
	c.mu.Unlock()
	c.logger.Info("service loaded", "resources", len(resources))
	c.record("service loaded")
	return proto.LoadResponse{Success: true, Resources: resources}, nil
}

func (c *Controller[F]) loadFailed(message string) proto.LoadResponse {
	c.logger.Error("service load failed", "error", message)
	c.record("service load failed: " + message)
	c.finish(proto.StopReasonCrashed, message)
	return proto.LoadResponse{Message: message}
}

// Start consumes the runner, builds the service and launches it on
// req.Address. It returns as soon as the launch is accepted; the outcome of
// the service itself is reported through SubscribeStop.
func (c *Controller[F]) Start(ctx context.Context, req proto.StartRequest) (proto.StartResponse, error) {
	if c.State() != StateLoaded {
		err := ErrNotLoaded
		if c.runner.Taken() {
			err = ErrAlreadyTaken
		}
		c.logger.Warn("start rejected", "error", err)
		return proto.StartResponse{Message: err.Error()}, err
	}

	addr, err := parseAddress(req.Address)
	if err != nil {
		return proto.StartResponse{Message: err.Error()}, err
	}

	runner, err := c.runner.Take()
	if err != nil {
		c.logger.Warn("start rejected", "error", err)
		return proto.StartResponse{Message: err.Error()}, err
	}

	svc, err := isolate(func() (Service, error) {
		return runner.Run(ctx, req.Resources)
	})
	if err == nil && svc == nil {
		err = errors.New("runner returned no service")
	}
	if err != nil {
		recordPanic("start", err)
		message := err.Error()
		c.logger.Error("service start failed", "error", message)
		c.record("service start failed: " + message)
		c.finish(proto.StopReasonCrashed, message)
		return proto.StartResponse{Message: message}, nil
	}

	ks := &killSwitch{signal: make(chan struct{}), done: make(chan struct{})}
	if err := c.kill.Fill(ks); err != nil {
		// The runner is take-once, so only one Start can get here.
		return proto.StartResponse{Message: err.Error()}, err
	}

	c.mu.Lock()
	c.state = StateRunning
	c.address = addr
	c.mu.Unlock()

	c.logger.Info("starting service", "address", addr)
	c.record("starting service on " + addr)
	go c.run(svc, addr, ks)
	return proto.StartResponse{Success: true}, nil
}

// run races the service against the kill signal. It must not return before
// Bind has returned.
func (c *Controller[F]) run(svc Service, addr string, ks *killSwitch) {
	defer close(ks.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- Isolate(func() error { return svc.Bind(ctx, addr) })
	}()

	select {
	case err := <-result:
		if err != nil {
			recordPanic("bind", err)
			c.logger.Error("service crashed", "error", err)
			c.record("service crashed: " + err.Error())
			c.finish(proto.StopReasonCrashed, err.Error())
			return
		}
		c.logger.Info("service ended")
		c.record("service ended")
		c.finish(proto.StopReasonEnded, "")
	case <-ks.signal:
		c.finish(proto.StopReasonStopped, "")
		cancel()
		if err := <-result; err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("service returned an error while stopping", "error", err)
		}
		c.logger.Info("service stopped")
		c.record("service stopped")
	}
}

// Stop aborts the running service and returns once it has exited or ctx is done.
func (c *Controller[F]) Stop(ctx context.Context) (proto.StopResponse, error) {
	ks, err := c.kill.Take()
	switch {
	case errors.Is(err, ErrSlotEmpty):
		return proto.StopResponse{}, ErrNotRunning
	case err != nil:
		c.mu.Lock()
		signalled := c.signalled
		c.mu.Unlock()
		if !signalled {
			return proto.StopResponse{}, ErrNotRunning
		}
		return proto.StopResponse{}, fmt.Errorf("%w: stop signal already sent", err)
	}

	select {
	case <-ks.done:
		return proto.StopResponse{}, ErrNotRunning
	default:
	}

	c.logger.Info("stopping service")
	c.mu.Lock()
	c.signalled = true
	c.mu.Unlock()
	close(ks.signal)

	select {
	case <-ks.done:
		return proto.StopResponse{Success: true}, nil
	case <-ctx.Done():
		return proto.StopResponse{}, fmt.Errorf("wait for service to stop: %w", ctx.Err())
	}
}

// SubscribeStop returns a channel that yields the terminal status once, even
// when it was sent before the call.
func (c *Controller[F]) SubscribeStop() (<-chan StopStatus, func()) {
	return c.stop.Subscribe()
}

// SubscribeLogs attaches the single log subscriber.
func (c *Controller[F]) SubscribeLogs() (*logs.Subscription, error) {
	return c.stream.Subscribe()
}

// Done is closed once a terminal status was sent.
func (c *Controller[F]) Done() <-chan struct{} {
	return c.stop.Done()
}

// Shutdown stops a running service and closes the log stream.
func (c *Controller[F]) Shutdown(ctx context.Context) error {
	defer c.stream.Close()
	if c.State() != StateRunning {
		return nil
	}
	_, err := c.Stop(ctx)
	if errors.Is(err, ErrNotRunning) || errors.Is(err, ErrAlreadyTaken) {
		return nil
	}
	return err
}

func (c *Controller[F]) finish(reason proto.StopReason, message string) {
	if !c.stop.Send(reason, message) {
		return
	}
	c.mu.Lock()
	c.state = StateTerminated
	c.mu.Unlock()
	recordStop(reason.String())
	c.logger.Info("deployment terminated", "reason", reason.String(), "message", message)
}

func (c *Controller[F]) record(text string) {
	c.recorder.Send(logs.LogLine{
		DeploymentID: c.id,
		Origin:       logs.OriginRuntime,
		Timestamp:    c.now().UTC(),
		Text:         text,
	})
}

func parseAddress(raw string) (string, error) {
	ap, err := netip.ParseAddrPort(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if ap.Port() == 0 {
		return "", fmt.Errorf("%w: port required", ErrInvalidAddress)
	}
	return ap.String(), nil
}
