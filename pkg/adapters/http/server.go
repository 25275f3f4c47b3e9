// Package http serves the spooler over net/http.
package http

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/aretw0/spooler/internal/logging"
	"github.com/aretw0/spooler/pkg/domain"
	"github.com/aretw0/spooler/pkg/ports"
	"github.com/aretw0/spooler/pkg/session"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HandlerOption configures NewHandler.
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	gatherer prometheus.Gatherer
	spool    []SpoolOption
	logger   *slog.Logger
}

// WithGatherer sets the metrics source of GET /metrics (default: prometheus.DefaultGatherer).
func WithGatherer(g prometheus.Gatherer) HandlerOption {
	return func(c *handlerConfig) {
		c.gatherer = g
	}
}

// WithSpoolOptions passes options to the Spool middleware.
func WithSpoolOptions(opts ...SpoolOption) HandlerOption {
	return func(c *handlerConfig) {
		c.spool = append(c.spool, opts...)
	}
}

// WithHandlerLogger sets the logger of the route handlers.
// The Spool middleware keeps its own, set with WithLogger.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(c *handlerConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// UploadResponse is returned by POST /upload.
type UploadResponse struct {
	Bytes      int64  `json:"bytes"`
	SHA256     string `json:"sha256"`
	Overflowed bool   `json:"overflowed"`
}

// NewHandler creates the HTTP handler of the spooler server.
//
//	POST|PUT /upload  receive a body (chunked bodies are spooled) and describe it
//	GET /sessions     active aggregation sessions
//	GET /health       liveness
//	GET /metrics      Prometheus metrics
func NewHandler(manager *session.Manager, registry ports.SessionRegistry, opts ...HandlerOption) http.Handler {
	cfg := &handlerConfig{gatherer: prometheus.DefaultGatherer, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(cfg)
	}
	h := &handler{registry: registry, logger: cfg.logger}

	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		h.writeJSON(w, map[string]any{
			"status":      "ok",
			"connections": manager.Connections(),
			"active":      manager.Active(),
		})
	})
	r.Handle("/metrics", promhttp.HandlerFor(cfg.gatherer, promhttp.HandlerOpts{}))
	r.Get("/sessions", h.listSessions)

	r.Group(func(r chi.Router) {
		r.Use(Spool(manager, cfg.spool...))
		r.Post("/upload", h.upload)
		r.Put("/upload", h.upload)
	})

	return r
}

type handler struct {
	registry ports.SessionRegistry
	logger   *slog.Logger
}

func (h *handler) upload(w http.ResponseWriter, r *http.Request) {
	sum := sha256.New()
	n, err := io.Copy(sum, r.Body)
	if err != nil {
		h.logger.Warn("failed to read upload body", "path", r.URL.Path, "err", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	overflowed := false
	for _, v := range r.Header.Values(domain.HeaderWarning) {
		if v == domain.OverflowWarning {
			overflowed = true
		}
	}

	h.writeJSON(w, UploadResponse{
		Bytes:      n,
		SHA256:     hex.EncodeToString(sum.Sum(nil)),
		Overflowed: overflowed,
	})
}

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		h.writeJSON(w, []domain.SessionRecord{})
		return
	}
	list, err := h.registry.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list sessions", "err", err)
		http.Error(w, "failed to list sessions", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, list)
}

func (h *handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "err", err)
	}
}
