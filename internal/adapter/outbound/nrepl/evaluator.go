package nrepl

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ctford/lein-mcp/internal/domain"
	"github.com/ctford/lein-mcp/internal/usecase"
)

// EvalObserver is notified of every completed nREPL operation.
type EvalObserver interface {
	ObserveEval(op string, elapsed time.Duration, failed bool)
}

// Evaluator implements usecase.Evaluator on top of a Client.
type Evaluator struct {
	client      *Client
	evalTimeout time.Duration
	observer    EvalObserver
	logger      *slog.Logger
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithEvalTimeout bounds each evaluation. Zero means no bound. When the bound
// is hit the connection is dropped; the JVM may keep running the code.
func WithEvalTimeout(d time.Duration) EvaluatorOption {
	return func(e *Evaluator) { e.evalTimeout = d }
}

// WithEvalObserver registers an observer for evaluation timings.
func WithEvalObserver(o EvalObserver) EvaluatorOption {
	return func(e *Evaluator) { e.observer = o }
}

// NewEvaluator creates a new Evaluator.
func NewEvaluator(client *Client, logger *slog.Logger, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		client: client,
		logger: logger.With("component", "nrepl_evaluator"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs code in namespace ns.
func (e *Evaluator) Evaluate(ctx context.Context, code, ns string) (domain.EvalOutcome, error) {
	return e.run(ctx, Message{"op": "eval", "code": code, "ns": ns}, ns)
}

// LoadFile loads contents through the load-file op, so path and contents
// travel as data rather than as code.
func (e *Evaluator) LoadFile(ctx context.Context, path, contents string) (domain.EvalOutcome, error) {
	return e.run(ctx, Message{
		"op":        "load-file",
		"file":      contents,
		"file-path": path,
		"file-name": filepath.Base(path),
	}, "")
}

// RequireNamespace loads ns from the classpath.
func (e *Evaluator) RequireNamespace(ctx context.Context, ns string) error {
	outcome, err := e.Evaluate(ctx, usecase.RequireCode(ns), domain.DefaultNamespace)
	if err != nil {
		return err
	}
	if outcome.Failed {
		return fmt.Errorf("%w: %s", usecase.ErrNamespaceNotLoaded, failureMessage(outcome.Err))
	}
	return nil
}

// Ping checks that the server answers a describe request.
func (e *Evaluator) Ping(ctx context.Context) error {
	_, err := e.client.Exchange(ctx, Message{"op": "describe"})
	return err
}

func (e *Evaluator) run(ctx context.Context, msg Message, ns string) (domain.EvalOutcome, error) {
	if e.evalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.evalTimeout)
		defer cancel()
	}
	op := msg.String("op")
	start := time.Now()
	replies, err := e.client.Exchange(ctx, msg)
	elapsed := time.Since(start)
	if err != nil {
		e.logger.Error("nREPL exchange failed", slog.String("op", op), slog.Any("error", err))
		e.observe(op, elapsed, true)
		return domain.EvalOutcome{}, err
	}
	outcome := collect(replies, ns)
	e.observe(op, elapsed, outcome.Failed)
	e.logger.Debug("nREPL exchange done",
		slog.String("op", op),
		slog.Duration("elapsed", elapsed),
		slog.Bool("failed", outcome.Failed))
	return outcome, nil
}

func (e *Evaluator) observe(op string, elapsed time.Duration, failed bool) {
	if e.observer != nil {
		e.observer.ObserveEval(op, elapsed, failed)
	}
}

// collect folds the responses of one request into an outcome.
func collect(replies []Message, ns string) domain.EvalOutcome {
	var (
		out, errOut strings.Builder
		outcome     domain.EvalOutcome
		ex, rootEx  string
		statuses    []string
	)
	for _, r := range replies {
		out.WriteString(r.String("out"))
		errOut.WriteString(r.String("err"))
		if v, ok := r["value"].(string); ok {
			outcome.Value = domain.StringValue(v)
		}
		if s := r.String("ex"); s != "" {
			ex = s
		}
		if s := r.String("root-ex"); s != "" {
			rootEx = s
		}
		statuses = append(statuses, r.Status()...)
	}
	outcome.Out = out.String()
	outcome.Err = errOut.String()

	var reason string
	switch {
	case slices.Contains(statuses, "namespace-not-found"):
		reason = "namespace not found: " + ns
	case slices.Contains(statuses, "eval-error"):
		reason = firstNonEmpty(
			failureMessage(outcome.Err),
			strings.TrimPrefix(firstNonEmpty(rootEx, ex), "class "),
			"evaluation failed",
		)
	case slices.Contains(statuses, "error"), slices.Contains(statuses, "unknown-op"):
		reason = firstNonEmpty(failureMessage(outcome.Err), "nREPL error: "+strings.Join(statuses, ", "))
	default:
		return outcome
	}
	outcome.Failed = true
	outcome.Value = nil
	outcome.Err = "Error: " + reason + "\n" + outcome.Err
	return outcome
}

// failureMessage picks the most useful line of a failed evaluation's err text:
// the last one, which for Clojure's error printer is the exception message.
func failureMessage(errText string) string {
	lines := strings.Split(strings.TrimSpace(errText), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" && !strings.HasPrefix(l, "Error: ") {
			return l
		}
	}
	return strings.TrimPrefix(strings.TrimSpace(errText), "Error: ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ usecase.Evaluator = (*Evaluator)(nil)
