package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
)

// ServeCatalogUseCase publishes and lists the tool and resource catalog.
type ServeCatalogUseCase struct {
	repository CatalogRepository
	logger     *slog.Logger
}

// NewServeCatalogUseCase creates a new ServeCatalogUseCase.
func NewServeCatalogUseCase(repository CatalogRepository, logger *slog.Logger) *ServeCatalogUseCase {
	return &ServeCatalogUseCase{
		repository: repository,
		logger:     logger.With("usecase", "ServeCatalog"),
	}
}

// Publish stores the built-in catalog in the repository. It runs once at startup.
func (uc *ServeCatalogUseCase) Publish(ctx context.Context) error {
	tools, resources, templates := Tools(), Resources(), ResourceTemplates()
	if err := uc.repository.Save(ctx, tools, resources, templates); err != nil {
		uc.logger.Error("Failed to publish catalog", slog.Any("error", err))
		return fmt.Errorf("failed to publish catalog: %w", err)
	}
	uc.logger.Info("Published catalog",
		slog.Int("tools", len(tools)),
		slog.Int("resources", len(resources)),
		slog.Int("templates", len(templates)))
	return nil
}

// ListTools retrieves all tools currently stored in the repository.
func (uc *ServeCatalogUseCase) ListTools(ctx context.Context) (*mcp.ListToolsResult, error) {
	tools, err := uc.repository.ListTools(ctx)
	if err != nil {
		uc.logger.Error("Failed to list tools from repository", slog.Any("error", err))
		return nil, fmt.Errorf("failed to list tools from repository: %w", err)
	}
	uc.logger.Debug("Listed tools", slog.Int("count", len(tools)))
	return mcp.NewListToolsResult(tools, ""), nil
}

// ListResources retrieves the fixed resources.
func (uc *ServeCatalogUseCase) ListResources(ctx context.Context) (*mcp.ListResourcesResult, error) {
	resources, err := uc.repository.ListResources(ctx)
	if err != nil {
		uc.logger.Error("Failed to list resources from repository", slog.Any("error", err))
		return nil, fmt.Errorf("failed to list resources from repository: %w", err)
	}
	return mcp.NewListResourcesResult(resources, ""), nil
}

// ListResourceTemplates retrieves the resource templates.
func (uc *ServeCatalogUseCase) ListResourceTemplates(ctx context.Context) (*mcp.ListResourceTemplatesResult, error) {
	templates, err := uc.repository.ListResourceTemplates(ctx)
	if err != nil {
		uc.logger.Error("Failed to list resource templates from repository", slog.Any("error", err))
		return nil, fmt.Errorf("failed to list resource templates from repository: %w", err)
	}
	return mcp.NewListResourceTemplatesResult(templates, ""), nil
}
