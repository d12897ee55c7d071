package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ctford/lein-mcp/internal/domain"
)

// Standard errors returned by use cases and adapters.
var (
	ErrToolNotFound       = errors.New("tool not found")
	ErrUnknownResource    = errors.New("unknown resource")
	ErrInvalidParams      = errors.New("invalid params")
	ErrNamespaceNotLoaded = errors.New("namespace could not be loaded")
)

// --- Evaluator Related ---

// Evaluator runs Clojure code in the live session. Evaluation failures inside
// the session are reported through domain.EvalOutcome; a returned error means
// the evaluator itself could not be reached.
type Evaluator interface {
	Evaluate(ctx context.Context, code, ns string) (domain.EvalOutcome, error)

	// RequireNamespace loads ns. A namespace that cannot be loaded yields an
	// error wrapping ErrNamespaceNotLoaded.
	RequireNamespace(ctx context.Context, ns string) error

	// LoadFile loads contents as if read from path.
	LoadFile(ctx context.Context, path, contents string) (domain.EvalOutcome, error)
}

// FileSystem is the read-only view of the host file system used by load-file.
type FileSystem interface {
	Exists(path string) bool
	ReadFile(path string) (string, error)
}

// --- Catalog Related ---

// CatalogRepository stores the static tool and resource descriptors.
// Listing preserves the order in which entries were saved.
type CatalogRepository interface {
	Save(ctx context.Context, tools []mcp.Tool, resources []mcp.Resource, templates []mcp.ResourceTemplate) error

	ListTools(ctx context.Context) ([]mcp.Tool, error)

	// FindToolByName returns ErrToolNotFound for unknown names.
	FindToolByName(ctx context.Context, name string) (*mcp.Tool, error)

	ListResources(ctx context.Context) ([]mcp.Resource, error)
	ListResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error)
}

// --- Observation ---

// RequestObserver receives one callback per dispatched request. outcome is
// "ok", "error" or "tool_error".
type RequestObserver interface {
	ObserveRequest(method, outcome string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, string, time.Duration) {}
