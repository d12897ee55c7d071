package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ctford/lein-mcp/internal/domain"
	"github.com/ctford/lein-mcp/pkg/shared/mcpjsonrpc"
)

// ServerName is reported in the initialize result.
const ServerName = "lein-mcp"

const instructions = "Tools and resources of a live Clojure REPL. Evaluations run in the current namespace, " +
	"which set-ns changes and clojure://session/current-ns reports."

// Request outcomes reported to the RequestObserver.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeToolError = "tool_error"
)

// Dispatcher decodes JSON-RPC requests, enforces the initialize handshake and
// routes each method to its use case.
type Dispatcher struct {
	session   *domain.Session
	catalog   *ServeCatalogUseCase
	tools     *InvokeToolUseCase
	resources *ReadResourceUseCase
	observer  RequestObserver
	tracer    trace.Tracer
	version   string
	logger    *slog.Logger
}

// DispatcherOption configures optional Dispatcher collaborators.
type DispatcherOption func(*Dispatcher)

// WithObserver registers an observer notified after every request.
func WithObserver(o RequestObserver) DispatcherOption {
	return func(d *Dispatcher) {
		if o != nil {
			d.observer = o
		}
	}
}

// WithServerVersion sets the version reported in the initialize result.
func WithServerVersion(v string) DispatcherOption {
	return func(d *Dispatcher) { d.version = v }
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(
	session *domain.Session,
	catalog *ServeCatalogUseCase,
	tools *InvokeToolUseCase,
	resources *ReadResourceUseCase,
	logger *slog.Logger,
	opts ...DispatcherOption,
) *Dispatcher {
	d := &Dispatcher{
		session:   session,
		catalog:   catalog,
		tools:     tools,
		resources: resources,
		observer:  nopObserver{},
		tracer:    otel.Tracer("github.com/ctford/lein-mcp/internal/usecase"),
		version:   "dev",
		logger:    logger.With("component", "dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle processes one encoded request and returns the encoded response.
// It never fails: every problem becomes a JSON-RPC error envelope.
func (d *Dispatcher) Handle(ctx context.Context, body []byte) []byte {
	start := time.Now()
	resp, label := d.dispatch(ctx, body)

	outcome := OutcomeOK
	if resp.Error != nil {
		outcome = OutcomeError
	} else if isToolError(resp.Result) {
		outcome = OutcomeToolError
	}
	d.observer.ObserveRequest(label, outcome, time.Since(start))

	raw, err := json.Marshal(resp)
	if err != nil {
		d.logger.Error("Failed to encode response", slog.Any("error", err))
		raw, _ = json.Marshal(mcpjsonrpc.NewErrorResponse(resp.ID, mcpjsonrpc.CodeInternalError, "Internal error"))
	}
	return raw
}

func isToolError(result json.RawMessage) bool {
	if len(result) == 0 || !bytes.Contains(result, []byte(`"isError"`)) {
		return false
	}
	var flag struct {
		IsError bool `json:"isError"`
	}
	return json.Unmarshal(result, &flag) == nil && flag.IsError
}

func (d *Dispatcher) dispatch(ctx context.Context, body []byte) (resp *mcpjsonrpc.Response, label string) {
	label = "invalid"
	trimmed := bytes.TrimSpace(body)
	var req mcpjsonrpc.Request
	if len(trimmed) == 0 || trimmed[0] != '{' || json.Unmarshal(trimmed, &req) != nil {
		d.logger.Warn("Failed to decode request", slog.Int("bytes", len(body)))
		return mcpjsonrpc.NewErrorResponse(nil, mcpjsonrpc.CodeParseError, "Parse error"), label
	}
	if req.Version != mcpjsonrpc.Version || req.Method == "" {
		return mcpjsonrpc.NewErrorResponse(req.ID, mcpjsonrpc.CodeInvalidRequest, "Invalid Request"), label
	}

	method := domain.ParseMethod(req.Method)
	label = "unknown"
	if method != domain.MethodUnknown {
		label = req.Method
		if method == domain.MethodNotification {
			label = "notification"
		}
	}

	ctx, span := d.tracer.Start(ctx, "mcp "+label,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.system", "jsonrpc"),
			attribute.String("rpc.method", req.Method),
		))
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Recovered from panic in handler", slog.String("method", req.Method), slog.Any("panic", r))
			resp = mcpjsonrpc.NewErrorResponse(req.ID, mcpjsonrpc.CodeInternalError, fmt.Sprintf("Internal error: %v", r))
		}
		if resp.Error != nil {
			span.SetStatus(codes.Error, resp.Error.Message)
		}
		span.End()
	}()

	log := d.logger.With(slog.String("method", req.Method))
	if method != domain.MethodInitialize && !d.session.Initialized() {
		log.Warn("Rejected request before initialize")
		return mcpjsonrpc.NewErrorResponse(req.ID, mcpjsonrpc.CodeServerNotInitialized, "Server not initialized"), label
	}

	var (
		result any
		rpcErr *mcpjsonrpc.Error
	)
	switch method {
	case domain.MethodInitialize:
		result = d.initialize(log, req.Params)
	case domain.MethodPing, domain.MethodNotification:
		result = mcp.EmptyResult{}
	case domain.MethodToolsList:
		result, rpcErr = internalOnError(d.catalog.ListTools(ctx))
	case domain.MethodResourcesList:
		result, rpcErr = internalOnError(d.catalog.ListResources(ctx))
	case domain.MethodResourceTemplatesList:
		result, rpcErr = internalOnError(d.catalog.ListResourceTemplates(ctx))
	case domain.MethodToolsCall:
		result, rpcErr = d.callTool(ctx, span, req.Params)
	case domain.MethodResourcesRead:
		result, rpcErr = d.readResource(ctx, req.Params)
	case domain.MethodUnknown:
		rpcErr = &mcpjsonrpc.Error{Code: mcpjsonrpc.CodeMethodNotFound, Message: "Unknown method: " + req.Method}
	}
	if rpcErr != nil {
		log.Info("Request failed", slog.Int("code", rpcErr.Code), slog.String("message", rpcErr.Message))
		return mcpjsonrpc.NewErrorResponse(req.ID, rpcErr.Code, rpcErr.Message), label
	}

	resp, err := mcpjsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		log.Error("Failed to encode result", slog.Any("error", err))
		return mcpjsonrpc.NewErrorResponse(req.ID, mcpjsonrpc.CodeInternalError, "Internal error: "+err.Error()), label
	}
	return resp, label
}

func internalOnError(result any, err error) (any, *mcpjsonrpc.Error) {
	if err != nil {
		return nil, &mcpjsonrpc.Error{Code: mcpjsonrpc.CodeInternalError, Message: "Internal error: " + err.Error()}
	}
	return result, nil
}

func invalidParams(format string, args ...any) *mcpjsonrpc.Error {
	return &mcpjsonrpc.Error{Code: mcpjsonrpc.CodeInvalidParams, Message: "Invalid params: " + fmt.Sprintf(format, args...)}
}

func (d *Dispatcher) initialize(log *slog.Logger, params json.RawMessage) *mcp.InitializeResult {
	var p mcp.InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			log.Warn("Ignoring undecodable initialize params", slog.Any("error", err))
		}
	}
	version := mcp.LATEST_PROTOCOL_VERSION
	if slices.Contains(mcp.ValidProtocolVersions, p.ProtocolVersion) {
		version = p.ProtocolVersion
	}

	d.session.MarkInitialized()
	log.Info("Session initialized",
		slog.String("client", p.ClientInfo.Name),
		slog.String("protocol_version", version))

	result := &mcp.InitializeResult{
		ProtocolVersion: version,
		ServerInfo:      mcp.Implementation{Name: ServerName, Version: d.version},
		Instructions:    instructions,
	}
	result.Capabilities.Tools = &struct {
		ListChanged bool `json:"listChanged,omitempty"`
	}{}
	result.Capabilities.Resources = &struct {
		Subscribe   bool `json:"subscribe,omitempty"`
		ListChanged bool `json:"listChanged,omitempty"`
	}{}
	return result
}

func (d *Dispatcher) callTool(ctx context.Context, span trace.Span, params json.RawMessage) (any, *mcpjsonrpc.Error) {
	var p mcp.CallToolParams
	if len(params) == 0 {
		return nil, invalidParams("missing params")
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams("%v", err)
	}
	if p.Name == "" {
		return nil, invalidParams("missing tool name")
	}
	span.SetAttributes(attribute.String("mcp.tool", p.Name))

	result, err := d.tools.Execute(ctx, mcp.CallToolRequest{Params: p})
	if err != nil {
		if errors.Is(err, ErrInvalidParams) {
			return nil, invalidParams("%s", strings.TrimPrefix(err.Error(), ErrInvalidParams.Error()+": "))
		}
		return nil, &mcpjsonrpc.Error{Code: mcpjsonrpc.CodeInternalError, Message: "Internal error: " + err.Error()}
	}
	return result, nil
}

func (d *Dispatcher) readResource(ctx context.Context, params json.RawMessage) (any, *mcpjsonrpc.Error) {
	var p mcp.ReadResourceParams
	if len(params) == 0 {
		return nil, invalidParams("missing params")
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams("%v", err)
	}
	if p.URI == "" {
		return nil, invalidParams("missing uri")
	}

	result, err := d.resources.Execute(ctx, p.URI)
	switch {
	case errors.Is(err, ErrUnknownResource):
		return nil, &mcpjsonrpc.Error{Code: mcpjsonrpc.CodeResourceNotFound, Message: "Unknown resource URI: " + p.URI}
	case err != nil:
		return nil, &mcpjsonrpc.Error{Code: mcpjsonrpc.CodeInternalError, Message: "Internal error: " + err.Error()}
	}
	return result, nil
}
