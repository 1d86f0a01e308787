package logstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/peep-runtime/internal/ws"
	"github.com/splax/peep-runtime/pkg/jwt"
	logstore "github.com/splax/peep-runtime/pkg/logstore/client"
)

const maxBatchBytes = 4 << 20

// Router serves the log store HTTP API.
type Router struct {
	mux       chi.Router
	logger    *slog.Logger
	svc       Service
	limiter   RateLimiter
	jwtSecret string
	listLimit int
	upgrader  websocket.Upgrader
}

// RouterOption customises the router.
type RouterOption func(*Router)

// WithJWTSecret requires deployment tokens signed with secret.
func WithJWTSecret(secret string) RouterOption {
	return func(r *Router) {
		r.jwtSecret = strings.TrimSpace(secret)
	}
}

// WithListLimit caps how many lines a listing may return.
func WithListLimit(limit int) RouterOption {
	return func(r *Router) {
		if limit > 0 {
			r.listLimit = limit
		}
	}
}

// NewRouter wires the log store routes.
func NewRouter(logger *slog.Logger, svc Service, limiter RateLimiter, opts ...RouterOption) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		logger:    logger.With("component", "logstore_http"),
		svc:       svc,
		limiter:   limiter,
		listLimit: 500,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	initMetrics()

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(r.audit)
	mux.Use(middleware.Recoverer)
	mux.Use(instrument)

	mux.Get("/healthz", r.handleHealthz)
	mux.Method(http.MethodGet, "/metrics", promhttp.Handler())
	mux.Route("/logs", func(cr chi.Router) {
		cr.Post("/", r.handleStore)
		cr.Get("/{deploymentID}", r.handleList)
		cr.Get("/{deploymentID}/tail", r.handleTail)
	})
	r.mux = mux
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases the limiter.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
	defer cancel()
	if err := r.svc.Ping(ctx); err != nil {
		r.logger.Error("health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleStore(w http.ResponseWriter, req *http.Request) {
	deploymentID, err := uuid.Parse(strings.TrimSpace(req.Header.Get(logstore.HeaderDeploymentID)))
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing or invalid "+logstore.HeaderDeploymentID+" header")
		return
	}
	if !r.authorize(w, req, deploymentID, jwt.ScopeLogsWrite) {
		return
	}
	if !r.allow(w, req, deploymentID) {
		return
	}

	var body logstore.StoreRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBatchBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := r.svc.Append(req.Context(), deploymentID, body.Lines); err != nil {
		if errors.Is(err, ErrInvalidArgument) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		r.logger.Error("store logs failed", "deployment_id", deploymentID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store logs")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"stored": len(body.Lines)})
}

func (r *Router) handleList(w http.ResponseWriter, req *http.Request) {
	deploymentID, ok := r.pathDeployment(w, req)
	if !ok || !r.authorize(w, req, deploymentID, "") {
		return
	}
	limit := r.listLimit
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, r.listLimit)
	}
	lines, err := r.svc.List(req.Context(), deploymentID, limit)
	if err != nil {
		r.logger.Error("list logs failed", "deployment_id", deploymentID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list logs")
		return
	}
	writeJSON(w, http.StatusOK, logstore.ListResponse{Lines: lines})
}

func (r *Router) handleTail(w http.ResponseWriter, req *http.Request) {
	deploymentID, ok := r.pathDeployment(w, req)
	if !ok || !r.authorize(w, req, deploymentID, "") {
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	key := deploymentID.String()
	client := ws.NewClient(conn, r.logger)
	hub := r.svc.Hub()
	hub.Register(key, client)
	go client.DrainReads(func() {
		hub.Unregister(key, client)
		client.Close()
	})
}

func (r *Router) pathDeployment(w http.ResponseWriter, req *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(req, "deploymentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deployment id")
		return uuid.Nil, false
	}
	return id, true
}

// authorize checks the bearer token's deployment claim when a secret is set.
// An empty scope accepts any scope.
func (r *Router) authorize(w http.ResponseWriter, req *http.Request, deploymentID uuid.UUID, scope string) bool {
	if r.jwtSecret == "" {
		return true
	}
	token, err := bearerToken(req.Header.Get("Authorization"))
	if err != nil {
		r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "authentication required")
		return false
	}
	claims, err := jwt.Parse(token, r.jwtSecret)
	if err != nil {
		r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return false
	}
	if claims.DeploymentID != deploymentID.String() {
		writeError(w, http.StatusForbidden, "token is not valid for this deployment")
		return false
	}
	if scope != "" && claims.Scope != scope {
		writeError(w, http.StatusForbidden, "token lacks scope "+scope)
		return false
	}
	return true
}

// allow applies the per-deployment rate limit and sets the rate headers.
func (r *Router) allow(w http.ResponseWriter, req *http.Request, deploymentID uuid.UUID) bool {
	if r.limiter == nil {
		return true
	}
	decision := r.limiter.Allow(req.Context(), deploymentID.String())
	h := w.Header()
	h.Set(logstore.HeaderRateLimitLimit, strconv.Itoa(r.limiter.Limit()))
	h.Set(logstore.HeaderRateLimitRemaining, strconv.Itoa(decision.remaining))
	if decision.allowed {
		return true
	}
	waitMS := decision.wait.Milliseconds()
	h.Set(logstore.HeaderRateLimitAfter, strconv.FormatInt(waitMS, 10))
	h.Set("Retry-After", strconv.Itoa(int(math.Ceil(decision.wait.Seconds()))))
	recordRateLimitHit("/logs")
	r.logger.Warn("log upload rate limited", "deployment_id", deploymentID, "wait_ms", waitMS)
	writeError(w, http.StatusTooManyRequests, fmt.Sprintf("wait for %dms", waitMS))
	return false
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
