package memrepo

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ctford/lein-mcp/internal/usecase"
)

// InMemoryCatalog provides an in-memory implementation of the CatalogRepository.
// NOTE: contents are rebuilt at every start; nothing is persisted.
type InMemoryCatalog struct {
	mu        sync.RWMutex
	order     []string            // tool names in save order
	tools     map[string]mcp.Tool // Map tool name to Tool definition
	resources []mcp.Resource
	templates []mcp.ResourceTemplate
	logger    *slog.Logger
}

// NewInMemoryCatalog creates a new in-memory catalog.
func NewInMemoryCatalog(logger *slog.Logger) *InMemoryCatalog {
	return &InMemoryCatalog{
		tools:  make(map[string]mcp.Tool),
		logger: logger.With("component", "mem_catalog"),
	}
}

// Save stores the given descriptors. Tools with an already known name are
// overwritten in place; resources and templates replace the previous sets.
func (r *InMemoryCatalog) Save(ctx context.Context, tools []mcp.Tool, resources []mcp.Resource, templates []mcp.ResourceTemplate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for i, tool := range tools {
		if tool.Name == "" {
			r.logger.Warn("Skipping tool with empty name during save", slog.Int("index", i))
			continue
		}
		if _, exists := r.tools[tool.Name]; !exists {
			r.order = append(r.order, tool.Name)
		}
		r.tools[tool.Name] = tool
		count++
	}
	r.resources = append([]mcp.Resource(nil), resources...)
	r.templates = append([]mcp.ResourceTemplate(nil), templates...)
	r.logger.Info("Saved catalog", slog.Int("count", count), slog.Int("total_tools", len(r.tools)))
	return nil
}

// ListTools returns all tools in the order they were first saved.
func (r *InMemoryCatalog) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		list = append(list, r.tools[name])
	}
	r.logger.Debug("Listed tools from catalog", slog.Int("count", len(list)))
	return list, nil
}

// FindToolByName retrieves a tool definition by its name.
func (r *InMemoryCatalog) FindToolByName(ctx context.Context, name string) (*mcp.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok {
		r.logger.Warn("Tool definition not found", slog.String("tool_name", name))
		return nil, usecase.ErrToolNotFound
	}
	return &tool, nil
}

// ListResources returns the stored resources.
func (r *InMemoryCatalog) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]mcp.Resource{}, r.resources...), nil
}

// ListResourceTemplates returns the stored resource templates.
func (r *InMemoryCatalog) ListResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]mcp.ResourceTemplate{}, r.templates...), nil
}

var _ usecase.CatalogRepository = (*InMemoryCatalog)(nil)
