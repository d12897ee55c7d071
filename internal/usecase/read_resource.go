package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ctford/lein-mcp/internal/domain"
)

// ReadResourceUseCase serves resources/read for clojure:// URIs.
type ReadResourceUseCase struct {
	evaluator Evaluator
	session   *domain.Session
	logger    *slog.Logger
}

// NewReadResourceUseCase creates a new ReadResourceUseCase.
func NewReadResourceUseCase(evaluator Evaluator, session *domain.Session, logger *slog.Logger) *ReadResourceUseCase {
	return &ReadResourceUseCase{
		evaluator: evaluator,
		session:   session,
		logger:    logger.With("usecase", "ReadResource"),
	}
}

// Execute reads the resource at uri. Unknown URIs yield ErrUnknownResource;
// any other error means the evaluator could not be reached.
func (uc *ReadResourceUseCase) Execute(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	ref, ok := domain.ParseResourceURI(uri)
	if !ok {
		uc.logger.Info("Unknown resource requested", slog.String("uri", uri))
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, uri)
	}

	var (
		text string
		mime = mimeText
		err  error
	)
	switch ref.Kind {
	case domain.ResourceCurrentNS:
		text = uc.session.Namespace()
	case domain.ResourceNamespaces:
		mime = mimeJSON
		text, err = uc.namespaces(ctx)
	case domain.ResourceDoc:
		text, err = uc.printedString(ctx, docCode(ref.Symbol), "No documentation found for: "+ref.Symbol)
	case domain.ResourceSource:
		text, err = uc.printedString(ctx, sourceCode(ref.Symbol), "No source found for: "+ref.Symbol)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, uri)
	}
	if err != nil {
		uc.logger.Error("Failed to read resource", slog.String("uri", uri), slog.Any("error", err))
		return nil, fmt.Errorf("failed to read %s: %w", uri, err)
	}

	return &mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{
			mcp.TextResourceContents{URI: uri, MIMEType: mime, Text: text},
		},
	}, nil
}

// printedString evaluates code expected to return a string and unquotes it.
// Failed evaluations and nil fall back to notFound.
func (uc *ReadResourceUseCase) printedString(ctx context.Context, code, notFound string) (string, error) {
	outcome, err := uc.evaluator.Evaluate(ctx, code, uc.session.Namespace())
	if err != nil {
		return "", err
	}
	v := outcome.ValueString()
	if outcome.Failed || blankResult(v) {
		return notFound, nil
	}
	s := unquote(strings.TrimSpace(v))
	if strings.TrimSpace(s) == "" {
		return notFound, nil
	}
	return s, nil
}

func (uc *ReadResourceUseCase) namespaces(ctx context.Context) (string, error) {
	outcome, err := uc.evaluator.Evaluate(ctx, namespacesCode, domain.DefaultNamespace)
	if err != nil {
		return "", err
	}
	names := []string{}
	if !outcome.Failed {
		for _, line := range strings.Split(outcome.Out, "\n") {
			if name := strings.TrimSpace(line); name != "" {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	raw, err := json.Marshal(names)
	if err != nil {
		return "", fmt.Errorf("failed to encode namespaces: %w", err)
	}
	return string(raw), nil
}
