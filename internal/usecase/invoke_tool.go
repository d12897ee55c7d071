package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ctford/lein-mcp/internal/domain"
)

// InvokeToolUseCase executes tools/call requests against the live session.
type InvokeToolUseCase struct {
	catalog   CatalogRepository
	evaluator Evaluator
	files     FileSystem
	session   *domain.Session
	logger    *slog.Logger
}

// NewInvokeToolUseCase creates a new InvokeToolUseCase.
func NewInvokeToolUseCase(catalog CatalogRepository, evaluator Evaluator, files FileSystem, session *domain.Session, logger *slog.Logger) *InvokeToolUseCase {
	return &InvokeToolUseCase{
		catalog:   catalog,
		evaluator: evaluator,
		files:     files,
		session:   session,
		logger:    logger.With("usecase", "InvokeTool"),
	}
}

// Execute runs the named tool. Every tool-level failure, including an argument
// of the wrong type, is reported inside the returned result with IsError set;
// the error return is reserved for arguments that are not an object at all
// (ErrInvalidParams).
func (uc *InvokeToolUseCase) Execute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	toolName := req.Params.Name
	log := uc.logger.With(slog.String("tool_name", toolName))

	if _, err := uc.catalog.FindToolByName(ctx, toolName); err != nil {
		if !errors.Is(err, ErrToolNotFound) {
			log.Error("Catalog lookup failed", slog.Any("error", err))
		}
		return mcp.NewToolResultError("Unknown tool: " + toolName), nil
	}
	name, ok := domain.ParseToolName(toolName)
	if !ok {
		return mcp.NewToolResultError("Unknown tool: " + toolName), nil
	}

	log.Debug("Executing tool invocation")
	switch name {
	case domain.ToolEvalClojure:
		var args domain.EvalArgs
		if res, err := bind(req, &args); res != nil || err != nil {
			return res, err
		}
		return uc.eval(ctx, log, args), nil
	case domain.ToolLoadFile:
		var args domain.LoadFileArgs
		if res, err := bind(req, &args); res != nil || err != nil {
			return res, err
		}
		return uc.loadFile(ctx, log, args), nil
	case domain.ToolSetNS:
		var args domain.SetNSArgs
		if res, err := bind(req, &args); res != nil || err != nil {
			return res, err
		}
		return uc.setNS(ctx, log, args), nil
	case domain.ToolApropos:
		var args domain.AproposArgs
		if res, err := bind(req, &args); res != nil || err != nil {
			return res, err
		}
		return uc.apropos(ctx, log, args), nil
	}
	return mcp.NewToolResultError("Unknown tool: " + toolName), nil
}

// bind decodes the arguments object into target. Arguments that are not an
// object are a protocol error; a field of the wrong type is a tool error.
func bind(req mcp.CallToolRequest, target any) (*mcp.CallToolResult, error) {
	switch req.Params.Arguments.(type) {
	case nil, map[string]any:
	default:
		return nil, fmt.Errorf("%w: arguments of %s must be an object", ErrInvalidParams, req.Params.Name)
	}
	if err := req.BindArguments(target); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid argument for %s: %v", req.Params.Name, err)), nil
	}
	return nil, nil
}

func missingArgument(name string) *mcp.CallToolResult {
	return mcp.NewToolResultError("Missing required argument: " + name)
}

func evaluatorFault(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError("Error: " + err.Error())
}

func (uc *InvokeToolUseCase) eval(ctx context.Context, log *slog.Logger, args domain.EvalArgs) *mcp.CallToolResult {
	if strings.TrimSpace(args.Code) == "" {
		return missingArgument("code")
	}
	outcome, err := uc.evaluator.Evaluate(ctx, args.Code, uc.session.Namespace())
	if err != nil {
		log.Error("Evaluation failed", slog.Any("error", err))
		return evaluatorFault(err)
	}
	text := outcome.Text()
	if text == "" {
		text = "nil"
	}
	return mcp.NewToolResultText(text)
}

func (uc *InvokeToolUseCase) loadFile(ctx context.Context, log *slog.Logger, args domain.LoadFileArgs) *mcp.CallToolResult {
	path := args.FilePath
	if strings.TrimSpace(path) == "" {
		return missingArgument("file-path")
	}
	if !uc.files.Exists(path) {
		log.Info("File to load not found", slog.String("path", path))
		return mcp.NewToolResultError("File not found: " + path)
	}
	contents, err := uc.files.ReadFile(path)
	if err != nil {
		log.Error("Failed to read file", slog.String("path", path), slog.Any("error", err))
		return evaluatorFault(err)
	}
	outcome, err := uc.evaluator.LoadFile(ctx, path, contents)
	if err != nil {
		log.Error("Load failed", slog.String("path", path), slog.Any("error", err))
		return evaluatorFault(err)
	}
	text := outcome.Text()
	if text == "" {
		text = "Successfully loaded file: " + path
	}
	return mcp.NewToolResultText(text)
}

func (uc *InvokeToolUseCase) setNS(ctx context.Context, log *slog.Logger, args domain.SetNSArgs) *mcp.CallToolResult {
	ns := strings.TrimSpace(args.Namespace)
	if ns == "" {
		return missingArgument("namespace")
	}
	if !validSymbol(ns) {
		return mcp.NewToolResultErrorf("Failed to set namespace: invalid namespace name: %s", ns)
	}
	if err := uc.evaluator.RequireNamespace(ctx, ns); err != nil {
		log.Warn("Namespace could not be required", slog.String("namespace", ns), slog.Any("error", err))
		return mcp.NewToolResultError("Failed to set namespace: " + err.Error())
	}
	uc.session.SetNamespace(ns)
	log.Info("Namespace changed", slog.String("namespace", ns))
	return mcp.NewToolResultText("Namespace set to: " + ns)
}

func (uc *InvokeToolUseCase) apropos(ctx context.Context, log *slog.Logger, args domain.AproposArgs) *mcp.CallToolResult {
	if strings.TrimSpace(args.Query) == "" {
		return missingArgument("query")
	}
	outcome, err := uc.evaluator.Evaluate(ctx, aproposCode(args.Query), uc.session.Namespace())
	if err != nil {
		log.Error("Apropos failed", slog.Any("error", err))
		return evaluatorFault(err)
	}
	if outcome.Failed {
		return mcp.NewToolResultText(outcome.Text())
	}
	matches := formatSymbolList(outcome.ValueString())
	if blankResult(matches) {
		return mcp.NewToolResultText("No matches found")
	}
	return mcp.NewToolResultText(matches)
}

// formatSymbolList turns a printed seq of symbols into one symbol per line.
func formatSymbolList(printed string) string {
	s := strings.TrimSpace(printed)
	if inner, ok := strings.CutPrefix(s, "("); ok {
		if inner, ok = strings.CutSuffix(inner, ")"); ok {
			return strings.Join(strings.Fields(inner), "\n")
		}
	}
	return s
}
