package mcphttp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"
)

// MaxBodyBytes caps the size of a request body.
const MaxBodyBytes = 10 << 20

// RequestHandler turns one encoded JSON-RPC request into an encoded response.
type RequestHandler interface {
	Handle(ctx context.Context, body []byte) []byte
}

// Handler is the MCP endpoint: every POST body is handed to the dispatcher,
// anything else is answered with 404.
type Handler struct {
	dispatcher RequestHandler
	limiter    *rate.Limiter
	onLimited  func()
	logger     *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithRateLimit rejects requests beyond rps (with the given burst) with 429.
// A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int, onLimited func()) Option {
	return func(h *Handler) {
		if rps <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		h.onLimited = onLimited
	}
}

// NewHandler creates a new Handler.
func NewHandler(dispatcher RequestHandler, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		dispatcher: dispatcher,
		logger:     logger.With("component", "mcphttp_handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, "Not Found")
		return
	}
	if h.limiter != nil && !h.limiter.Allow() {
		if h.onLimited != nil {
			h.onLimited()
		}
		h.logger.Warn("Rate limit exceeded", slog.String("remote", r.RemoteAddr))
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
			return
		}
		h.logger.Warn("Failed to read request body", slog.Any("error", err))
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	resp := h.dispatcher.Handle(r.Context(), body)
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(resp); err != nil {
		h.logger.Warn("Failed to write response", slog.Any("error", err))
	}
}
