package logs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultRateLimitCooldown is how long the receiver backs off after the
	// sink reports a rate limit.
	DefaultRateLimitCooldown = 1500 * time.Millisecond

	// RateLimitWarning is recorded for a deployment once its logs were rate limited.
	RateLimitWarning = "your application is producing too many logs, log recording is being rate limited"
)

// Sink persists a batch of lines for one deployment.
type Sink interface {
	StoreLogs(ctx context.Context, deploymentID uuid.UUID, lines []LogLine) error
}

// RateLimitedError is returned by a Sink that refused a batch because the
// deployment exceeded its quota.
type RateLimitedError struct {
	WaitTime time.Duration
	Metadata map[string]string
}

func (e *RateLimitedError) Error() string {
	if e.WaitTime > 0 {
		return fmt.Sprintf("log sink rate limited, retry after %s", e.WaitTime)
	}
	return "log sink rate limited"
}

// IsRateLimited reports whether err carries a RateLimitedError.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// SinkReceiver is the Receiver that forwards batches to a Sink and applies the
// rate limit policy: a limited batch is not retried, the receiver sleeps for
// Cooldown and then records a single warning line for the deployment.
type SinkReceiver struct {
	sink     Sink
	logger   *slog.Logger
	cooldown time.Duration
	now      func() time.Time
	sleep    func(context.Context, time.Duration)

	// OnRateLimited, when set, observes every rate limited batch.
	OnRateLimited func(deploymentID uuid.UUID, err *RateLimitedError)
}

// SinkOption customises a SinkReceiver.
type SinkOption func(*SinkReceiver)

// WithCooldown overrides DefaultRateLimitCooldown.
func WithCooldown(d time.Duration) SinkOption {
	return func(r *SinkReceiver) {
		if d >= 0 {
			r.cooldown = d
		}
	}
}

// WithClock overrides the time source used for the warning line.
func WithClock(now func() time.Time) SinkOption {
	return func(r *SinkReceiver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewSinkReceiver wraps sink with the rate limit policy.
func NewSinkReceiver(sink Sink, logger *slog.Logger, opts ...SinkOption) *SinkReceiver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &SinkReceiver{
		sink:     sink,
		logger:   logger.With("component", "log_sink"),
		cooldown: DefaultRateLimitCooldown,
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Receive sends batch to the sink. The batch is attributed to the deployment
// of its first line.
func (r *SinkReceiver) Receive(ctx context.Context, batch []LogLine) {
	if len(batch) == 0 {
		return
	}
	deploymentID := batch[0].DeploymentID
	err := r.sink.StoreLogs(ctx, deploymentID, batch)
	if err == nil {
		pipelineMetrics().batches.WithLabelValues("stored").Inc()
		pipelineMetrics().lines.Add(float64(len(batch)))
		return
	}

	var limited *RateLimitedError
	if !errors.As(err, &limited) {
		pipelineMetrics().batches.WithLabelValues("dropped").Inc()
		r.logger.Error("failed to store logs", "deployment_id", deploymentID, "lines", len(batch), "error", err)
		return
	}

	pipelineMetrics().batches.WithLabelValues("rate_limited").Inc()
	r.logger.Warn("log sink rate limited batch",
		"deployment_id", deploymentID,
		"lines", len(batch),
		"wait_time", limited.WaitTime,
		"metadata", formatMetadata(limited.Metadata),
	)
	if r.OnRateLimited != nil {
		r.OnRateLimited(deploymentID, limited)
	}

	r.sleep(ctx, r.cooldown)

	warning := LogLine{
		DeploymentID: deploymentID,
		Origin:       OriginRuntime,
		Timestamp:    r.now().UTC(),
		Text:         RateLimitWarning,
	}
	if err := r.sink.StoreLogs(ctx, deploymentID, []LogLine{warning}); err != nil {
		r.logger.Error("failed to record rate limit warning", "deployment_id", deploymentID, "error", err)
	}
}

func formatMetadata(md map[string]string) string {
	if len(md) == 0 {
		return ""
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+md[k])
	}
	return strings.Join(parts, ",")
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
