// Package control serves the runtime control protocol over HTTP/JSON.
package control

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/peep-runtime/internal/ws"
	"github.com/splax/peep-runtime/pkg/logs"
	"github.com/splax/peep-runtime/pkg/runtime"
	"github.com/splax/peep-runtime/pkg/runtime/proto"
)

const (
	defaultStopTimeout = 30 * time.Second
	defaultHeartbeat   = 15 * time.Second
	maxBodyBytes       = 1 << 20
)

// Lifecycle is the deployment lifecycle the router exposes.
type Lifecycle interface {
	Load(ctx context.Context, req proto.LoadRequest) (proto.LoadResponse, error)
	Start(ctx context.Context, req proto.StartRequest) (proto.StartResponse, error)
	Stop(ctx context.Context) (proto.StopResponse, error)
	SubscribeStop() (<-chan runtime.StopStatus, func())
	SubscribeLogs() (*logs.Subscription, error)
	Status() runtime.Status
}

// Router wires control endpoints to a Lifecycle.
type Router struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	lifecycle   Lifecycle
	upgrader    websocket.Upgrader
	token       string
	stopTimeout time.Duration
	heartbeat   time.Duration

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	subscriptions      *prometheus.GaugeVec
}

// Option customises a Router.
type Option func(*Router)

// WithToken requires "Authorization: Bearer <token>" on control endpoints.
func WithToken(token string) Option {
	return func(r *Router) { r.token = strings.TrimSpace(token) }
}

// WithStopTimeout bounds how long POST /stop waits for the service to exit.
func WithStopTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.stopTimeout = d
		}
	}
}

// WithHeartbeat sets the comment frame interval on SSE streams.
func WithHeartbeat(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.heartbeat = d
		}
	}
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, lifecycle Lifecycle, opts ...Option) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger.With("component", "control"),
		lifecycle: lifecycle,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		stopTimeout: defaultStopTimeout,
		heartbeat:   defaultHeartbeat,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.instrument("healthz", r.handleHealthz)))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/status", r.audit(r.instrument("status", r.authorized(r.handleStatus))))
	r.mux.HandleFunc("/load", r.audit(r.instrument("load", r.authorized(r.handleLoad))))
	r.mux.HandleFunc("/start", r.audit(r.instrument("start", r.authorized(r.handleStart))))
	r.mux.HandleFunc("/stop", r.audit(r.instrument("stop", r.authorized(r.handleStop))))
	r.mux.HandleFunc("/logs", r.audit(r.instrument("logs", r.authorized(r.handleLogs))))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	st := r.lifecycle.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"state":     st.State,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, r.lifecycle.Status())
}

func (r *Router) handleLoad(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload proto.LoadRequest
	if !r.decode(w, req, &payload) {
		return
	}
	resp, err := r.lifecycle.Load(req.Context(), payload)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (r *Router) handleStart(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload proto.StartRequest
	if !r.decode(w, req, &payload) {
		return
	}
	resp, err := r.lifecycle.Start(req.Context(), payload)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (r *Router) handleStop(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		ctx, cancel := context.WithTimeout(req.Context(), r.stopTimeout)
		defer cancel()
		resp, err := r.lifecycle.Stop(ctx)
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodGet:
		r.streamStop(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

// streamStop sends the terminal status as a single SSE event, then ends the response.
func (r *Router) streamStop(w http.ResponseWriter, req *http.Request) {
	ch, cancel := r.lifecycle.SubscribeStop()
	defer cancel()

	client := ws.PrepareSSE(w, r.logger)
	if client == nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	defer client.Close()
	defer r.trackStream("stop")()

	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case status, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(status)
			if err != nil {
				r.logger.Error("encode stop status", "error", err)
				return
			}
			_ = client.SendEvent("stop", payload)
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		case <-req.Context().Done():
			return
		}
	}
}

// handleLogs streams deployment logs over a websocket when the client asks
// for an upgrade, otherwise over SSE. Only one stream may be open.
func (r *Router) handleLogs(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	sub, err := r.lifecycle.SubscribeLogs()
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	defer sub.Close()
	defer r.trackStream("logs")()

	if websocket.IsWebSocketUpgrade(req) {
		conn, err := r.upgrader.Upgrade(w, req, nil)
		if err != nil {
			r.logger.Error("websocket upgrade failed", "error", err)
			return
		}
		client := ws.NewClient(conn, r.logger)
		ctx, cancel := context.WithCancel(req.Context())
		defer cancel()
		go client.DrainReads(cancel)
		if r.pumpLogs(ctx, sub, client) {
			client.CloseWithReason(websocket.CloseNormalClosure, "log stream closed")
			return
		}
		client.Close()
		return
	}

	client := ws.PrepareSSE(w, r.logger)
	if client == nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	defer client.Close()
	r.pumpLogs(req.Context(), sub, client)
}

// pumpLogs forwards lines until the stream ends (true) or the client goes away (false).
func (r *Router) pumpLogs(ctx context.Context, sub *logs.Subscription, client ws.Subscriber) bool {
	for {
		line, err := sub.Next(ctx)
		if err != nil {
			return errors.Is(err, io.EOF)
		}
		payload, err := json.Marshal(line)
		if err != nil {
			r.logger.Warn("encode log line", "error", err)
			continue
		}
		if err := client.Send(payload); err != nil {
			return false
		}
	}
}

func (r *Router) decode(w http.ResponseWriter, req *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// authorized enforces the control token when one is configured.
func (r *Router) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.token == "" {
			next(w, req)
			return
		}
		token := bearerToken(req)
		if len(token) != len(r.token) || subtle.ConstantTimeCompare([]byte(token), []byte(r.token)) != 1 {
			r.logger.Warn("control token mismatch", "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "invalid control token")
			return
		}
		next(w, req)
	}
}

func bearerToken(req *http.Request) string {
	header := strings.TrimSpace(req.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
