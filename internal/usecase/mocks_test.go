package usecase_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ctford/lein-mcp/internal/adapter/outbound/memrepo"
	"github.com/ctford/lein-mcp/internal/domain"
	"github.com/ctford/lein-mcp/internal/usecase"
)

// MockEvaluator is a mock implementation of the Evaluator interface.
type MockEvaluator struct {
	mock.Mock
}

func (m *MockEvaluator) Evaluate(ctx context.Context, code, ns string) (domain.EvalOutcome, error) {
	args := m.Called(ctx, code, ns)
	return args.Get(0).(domain.EvalOutcome), args.Error(1)
}

func (m *MockEvaluator) RequireNamespace(ctx context.Context, ns string) error {
	args := m.Called(ctx, ns)
	return args.Error(0)
}

func (m *MockEvaluator) LoadFile(ctx context.Context, path, contents string) (domain.EvalOutcome, error) {
	args := m.Called(ctx, path, contents)
	return args.Get(0).(domain.EvalOutcome), args.Error(1)
}

// fakeFS serves files from a map.
type fakeFS map[string]string

func (f fakeFS) Exists(path string) bool {
	_, ok := f[path]
	return ok
}

func (f fakeFS) ReadFile(path string) (string, error) {
	s, ok := f[path]
	if !ok {
		return "", os.ErrNotExist
	}
	return s, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func value(s string) domain.EvalOutcome {
	return domain.EvalOutcome{Value: domain.StringValue(s)}
}

func publishedCatalog(t *testing.T) (*memrepo.InMemoryCatalog, *usecase.ServeCatalogUseCase) {
	t.Helper()
	repo := memrepo.NewInMemoryCatalog(testLogger())
	uc := usecase.NewServeCatalogUseCase(repo, testLogger())
	require.NoError(t, uc.Publish(context.Background()))
	return repo, uc
}
