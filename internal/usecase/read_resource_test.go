package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ctford/lein-mcp/internal/domain"
	"github.com/ctford/lein-mcp/internal/usecase"
)

func codeContaining(fragment string) any {
	return mock.MatchedBy(func(code string) bool { return strings.Contains(code, fragment) })
}

func TestReadResourceUseCase_Execute(t *testing.T) {
	tests := []struct {
		name      string
		mockSetup func(*MockEvaluator)
		uri       string
		wantText  string
		wantMIME  string
	}{
		{
			name:      "current namespace",
			mockSetup: func(ev *MockEvaluator) {},
			uri:       "clojure://session/current-ns",
			wantText:  "user",
			wantMIME:  "text/plain",
		},
		{
			name: "namespaces sorted as JSON",
			mockSetup: func(ev *MockEvaluator) {
				ev.On("Evaluate", mock.Anything, codeContaining("all-ns"), "user").Return(domain.EvalOutcome{
					Out:   "user\nclojure.core\nclojure.string\n",
					Value: domain.StringValue("nil"),
				}, nil).Once()
			},
			uri:      "clojure://session/namespaces",
			wantText: `["clojure.core","clojure.string","user"]`,
			wantMIME: "application/json",
		},
		{
			name: "namespaces default to empty array",
			mockSetup: func(ev *MockEvaluator) {
				ev.On("Evaluate", mock.Anything, mock.Anything, "user").Return(domain.EvalOutcome{}, nil).Once()
			},
			uri:      "clojure://session/namespaces",
			wantText: "[]",
			wantMIME: "application/json",
		},
		{
			name: "doc unquoted",
			mockSetup: func(ev *MockEvaluator) {
				ev.On("Evaluate", mock.Anything, codeContaining(`(clojure.core/symbol "map")`), "user").
					Return(value(`"Returns a lazy sequence.\n  More."`), nil).Once()
			},
			uri:      "clojure://doc/map",
			wantText: "Returns a lazy sequence.\n  More.",
			wantMIME: "text/plain",
		},
		{
			name: "doc missing",
			mockSetup: func(ev *MockEvaluator) {
				ev.On("Evaluate", mock.Anything, codeContaining(":doc"), "user").Return(value("nil"), nil).Once()
			},
			uri:      "clojure://doc/no-such-var",
			wantText: "No documentation found for: no-such-var",
			wantMIME: "text/plain",
		},
		{
			name: "doc evaluation failure",
			mockSetup: func(ev *MockEvaluator) {
				ev.On("Evaluate", mock.Anything, mock.Anything, "user").Return(domain.EvalOutcome{
					Err: "Error: boom", Failed: true,
				}, nil).Once()
			},
			uri:      "clojure://doc/x",
			wantText: "No documentation found for: x",
			wantMIME: "text/plain",
		},
		{
			name: "source found",
			mockSetup: func(ev *MockEvaluator) {
				ev.On("Evaluate", mock.Anything, codeContaining(`source-fn (clojure.core/symbol "clojure.core/inc")`), "user").
					Return(value(`"(defn inc\n  [x] (. clojure.lang.Numbers (inc x)))"`), nil).Once()
			},
			uri:      "clojure://source/clojure.core/inc",
			wantText: "(defn inc\n  [x] (. clojure.lang.Numbers (inc x)))",
			wantMIME: "text/plain",
		},
		{
			name: "source missing",
			mockSetup: func(ev *MockEvaluator) {
				ev.On("Evaluate", mock.Anything, mock.Anything, "user").Return(value(""), nil).Once()
			},
			uri:      "clojure://source/%2B",
			wantText: "No source found for: +",
			wantMIME: "text/plain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := new(MockEvaluator)
			tt.mockSetup(ev)
			uc := usecase.NewReadResourceUseCase(ev, domain.NewSession(""), testLogger())

			res, err := uc.Execute(context.Background(), tt.uri)
			require.NoError(t, err)
			require.Len(t, res.Contents, 1)
			contents, ok := res.Contents[0].(mcp.TextResourceContents)
			require.True(t, ok)
			assert.Equal(t, tt.uri, contents.URI)
			assert.Equal(t, tt.wantMIME, contents.MIMEType)
			assert.Equal(t, tt.wantText, contents.Text)
			ev.AssertExpectations(t)
		})
	}
}

func TestReadResourceUseCase_Errors(t *testing.T) {
	ev := new(MockEvaluator)
	uc := usecase.NewReadResourceUseCase(ev, domain.NewSession(""), testLogger())

	_, err := uc.Execute(context.Background(), "clojure://bogus/x")
	assert.ErrorIs(t, err, usecase.ErrUnknownResource)

	_, err = uc.Execute(context.Background(), "clojure://doc/")
	assert.ErrorIs(t, err, usecase.ErrUnknownResource)

	broken := errors.New("broken pipe")
	ev.On("Evaluate", mock.Anything, mock.Anything, mock.Anything).Return(domain.EvalOutcome{}, broken).Once()
	_, err = uc.Execute(context.Background(), "clojure://doc/map")
	assert.ErrorIs(t, err, broken)
	assert.NotErrorIs(t, err, usecase.ErrUnknownResource)
}

func TestReadResourceUseCase_FollowsSessionNamespace(t *testing.T) {
	ev := new(MockEvaluator)
	session := domain.NewSession("")
	session.SetNamespace("app.core")
	ev.On("Evaluate", mock.Anything, mock.Anything, "app.core").Return(value(`"local doc"`), nil).Once()

	uc := usecase.NewReadResourceUseCase(ev, session, testLogger())
	res, err := uc.Execute(context.Background(), "clojure://doc/helper")
	require.NoError(t, err)
	assert.Equal(t, "local doc", res.Contents[0].(mcp.TextResourceContents).Text)

	res, err = uc.Execute(context.Background(), "clojure://session/current-ns")
	require.NoError(t, err)
	assert.Equal(t, "app.core", res.Contents[0].(mcp.TextResourceContents).Text)
	ev.AssertExpectations(t)
}
