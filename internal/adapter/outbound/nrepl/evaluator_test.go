package nrepl_test

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackpal/bencode-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctford/lein-mcp/internal/adapter/outbound/nrepl"
	"github.com/ctford/lein-mcp/internal/usecase"
)

// fakeServer speaks just enough nREPL for the client: it answers clone itself
// and hands every other request to handler. A nil reply list hangs up.
type fakeServer struct {
	ln      net.Listener
	handler func(nrepl.Message) []nrepl.Message

	mu       sync.Mutex
	requests []nrepl.Message
	clones   int
	conns    []net.Conn
}

func startFakeServer(t *testing.T, handler func(nrepl.Message) []nrepl.Message) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeServer{ln: ln, handler: handler}
	go s.serve()
	t.Cleanup(func() {
		ln.Close()
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, c := range s.conns {
			c.Close()
		}
	})
	return s
}

func (s *fakeServer) addr() string { return s.ln.Addr().String() }

func (s *fakeServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go s.handle(conn)
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		raw, err := bencode.Decode(r)
		if err != nil {
			return
		}
		req := nrepl.Message(raw.(map[string]any))

		var replies []nrepl.Message
		if req.String("op") == "clone" {
			s.mu.Lock()
			s.clones++
			s.mu.Unlock()
			replies = []nrepl.Message{{"new-session": "sess-1", "status": []any{"done"}}}
		} else {
			s.mu.Lock()
			s.requests = append(s.requests, req)
			s.mu.Unlock()
			replies = s.handler(req)
			if replies == nil {
				return
			}
		}
		for _, reply := range replies {
			reply["id"] = req.String("id")
			if sess := req.String("session"); sess != "" {
				reply["session"] = sess
			}
			if err := bencode.Marshal(conn, map[string]any(reply)); err != nil {
				return
			}
		}
	}
}

func (s *fakeServer) recorded() ([]nrepl.Message, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]nrepl.Message(nil), s.requests...), s.clones
}

func done(extra ...string) nrepl.Message {
	status := []any{"done"}
	for _, e := range extra {
		status = append(status, e)
	}
	return nrepl.Message{"status": status}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newEvaluator(t *testing.T, s *fakeServer, opts ...nrepl.EvaluatorOption) *nrepl.Evaluator {
	t.Helper()
	client := nrepl.NewClient(nrepl.StaticAddr(s.addr()), testLogger(), nrepl.WithDialTimeout(time.Second))
	t.Cleanup(func() { client.Close() })
	return nrepl.NewEvaluator(client, testLogger(), opts...)
}

func TestEvaluator_Evaluate(t *testing.T) {
	tests := []struct {
		name       string
		replies    []nrepl.Message
		wantValue  string
		wantOut    string
		wantErr    string
		wantFailed bool
		wantText   string
	}{
		{
			name:      "value",
			replies:   []nrepl.Message{{"value": "6", "ns": "user"}, done()},
			wantValue: "6",
			wantText:  "6",
		},
		{
			name:      "output is captured per request",
			replies:   []nrepl.Message{{"out": "hello\n"}, {"out": "world\n"}, {"value": "nil"}, done()},
			wantValue: "nil",
			wantOut:   "hello\nworld\n",
			wantText:  "hello\nworld\nnil",
		},
		{
			name: "evaluation error",
			replies: []nrepl.Message{
				{"err": "Execution error (ArithmeticException) at user/eval1 (REPL:1).\nDivide by zero\n"},
				{"ex": "class java.lang.ArithmeticException", "root-ex": "class java.lang.ArithmeticException", "status": []any{"eval-error"}},
				done(),
			},
			wantFailed: true,
			wantErr:    "Error: Divide by zero\nExecution error (ArithmeticException) at user/eval1 (REPL:1).\nDivide by zero\n",
			wantText:   "Error: Divide by zero\nExecution error (ArithmeticException) at user/eval1 (REPL:1).\nDivide by zero",
		},
		{
			name: "evaluation error without err output falls back to the exception class",
			replies: []nrepl.Message{
				{"ex": "class clojure.lang.ExceptionInfo", "root-ex": "class java.lang.IllegalStateException", "status": []any{"eval-error"}},
				done(),
			},
			wantFailed: true,
			wantErr:    "Error: java.lang.IllegalStateException\n",
			wantText:   "Error: java.lang.IllegalStateException",
		},
		{
			name:       "unknown namespace",
			replies:    []nrepl.Message{done("error", "namespace-not-found")},
			wantFailed: true,
			wantErr:    "Error: namespace not found: my.ns\n",
			wantText:   "Error: namespace not found: my.ns",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := startFakeServer(t, func(nrepl.Message) []nrepl.Message { return tt.replies })
			ev := newEvaluator(t, s)

			outcome, err := ev.Evaluate(context.Background(), "(code)", "my.ns")
			require.NoError(t, err)
			assert.Equal(t, tt.wantFailed, outcome.Failed)
			assert.Equal(t, tt.wantValue, outcome.ValueString())
			assert.Equal(t, tt.wantOut, outcome.Out)
			assert.Equal(t, tt.wantErr, outcome.Err)
			assert.Equal(t, tt.wantText, outcome.Text())
			if tt.wantFailed {
				assert.Nil(t, outcome.Value)
			}

			reqs, _ := s.recorded()
			require.Len(t, reqs, 1)
			assert.Equal(t, "eval", reqs[0].String("op"))
			assert.Equal(t, "(code)", reqs[0].String("code"))
			assert.Equal(t, "my.ns", reqs[0].String("ns"))
			assert.Equal(t, "sess-1", reqs[0].String("session"))
			assert.NotEmpty(t, reqs[0].String("id"))
		})
	}
}

func TestEvaluator_ReusesSession(t *testing.T) {
	s := startFakeServer(t, func(nrepl.Message) []nrepl.Message {
		return []nrepl.Message{{"value": "1"}, done()}
	})
	ev := newEvaluator(t, s)

	for i := 0; i < 3; i++ {
		_, err := ev.Evaluate(context.Background(), "1", "user")
		require.NoError(t, err)
	}
	reqs, clones := s.recorded()
	assert.Len(t, reqs, 3)
	assert.Equal(t, 1, clones)
	assert.NotEqual(t, reqs[0].String("id"), reqs[1].String("id"))
}

func TestEvaluator_LoadFile(t *testing.T) {
	s := startFakeServer(t, func(nrepl.Message) []nrepl.Message {
		return []nrepl.Message{{"value": "#'app.core/f"}, done()}
	})
	ev := newEvaluator(t, s)

	outcome, err := ev.LoadFile(context.Background(), "/src/app/core.clj", "(ns app.core)\n(defn f [])\n")
	require.NoError(t, err)
	assert.Equal(t, "#'app.core/f", outcome.ValueString())

	reqs, _ := s.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "load-file", reqs[0].String("op"))
	assert.Equal(t, "(ns app.core)\n(defn f [])\n", reqs[0].String("file"))
	assert.Equal(t, "/src/app/core.clj", reqs[0].String("file-path"))
	assert.Equal(t, "core.clj", reqs[0].String("file-name"))
}

func TestEvaluator_RequireNamespace(t *testing.T) {
	s := startFakeServer(t, func(req nrepl.Message) []nrepl.Message {
		if req.String("code") == usecase.RequireCode("clojure.set") {
			return []nrepl.Message{{"value": "nil"}, done()}
		}
		return []nrepl.Message{
			{"err": "Execution error (FileNotFoundException) at user/eval5 (REPL:1).\nCould not locate no/such__init.class, no/such.clj or no/such.cljc on classpath.\n"},
			{"ex": "class java.io.FileNotFoundException", "status": []any{"eval-error"}},
			done(),
		}
	})
	ev := newEvaluator(t, s)

	require.NoError(t, ev.RequireNamespace(context.Background(), "clojure.set"))

	err := ev.RequireNamespace(context.Background(), "no.such")
	require.Error(t, err)
	assert.ErrorIs(t, err, usecase.ErrNamespaceNotLoaded)
	assert.Contains(t, err.Error(), "Could not locate no/such__init.class")

	reqs, _ := s.recorded()
	require.Len(t, reqs, 2)
	assert.Equal(t, "user", reqs[0].String("ns"))
}

func TestEvaluator_ReconnectsAfterHangup(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	s := startFakeServer(t, func(nrepl.Message) []nrepl.Message {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return nil
		}
		return []nrepl.Message{{"value": "2"}, done()}
	})
	ev := newEvaluator(t, s)

	_, err := ev.Evaluate(context.Background(), "1", "user")
	require.Error(t, err)

	outcome, err := ev.Evaluate(context.Background(), "2", "user")
	require.NoError(t, err)
	assert.Equal(t, "2", outcome.ValueString())

	_, clones := s.recorded()
	assert.Equal(t, 2, clones)
}

func TestEvaluator_ContextCancellation(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	s := startFakeServer(t, func(req nrepl.Message) []nrepl.Message {
		if req.String("code") == "(Thread/sleep 100000)" {
			<-release
		}
		return []nrepl.Message{{"value": "ok"}, done()}
	})

	t.Run("request context", func(t *testing.T) {
		ev := newEvaluator(t, s)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := ev.Evaluate(ctx, "(Thread/sleep 100000)", "user")
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	})

	t.Run("eval timeout option", func(t *testing.T) {
		ev := newEvaluator(t, s, nrepl.WithEvalTimeout(50*time.Millisecond))
		_, err := ev.Evaluate(context.Background(), "(Thread/sleep 100000)", "user")
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		outcome, err := ev.Evaluate(context.Background(), ":fine", "user")
		require.NoError(t, err)
		assert.Equal(t, "ok", outcome.ValueString())
	})
}

func TestEvaluator_PingWhileEvalInFlight(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	started := make(chan struct{})
	s := startFakeServer(t, func(req nrepl.Message) []nrepl.Message {
		if req.String("op") == "eval" {
			close(started)
			<-release
		}
		return []nrepl.Message{{"value": "ok"}, done()}
	})
	ev := newEvaluator(t, s)

	go func() {
		_, _ = ev.Evaluate(context.Background(), "(Thread/sleep 100000)", "user")
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	begin := time.Now()
	err := ev.Ping(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, nrepl.ErrBusy)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(begin), time.Second)
}

func TestEvaluator_DropsConnectionAfterInterruptedRead(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	s := startFakeServer(t, func(req nrepl.Message) []nrepl.Message {
		if req.String("code") == "(Thread/sleep 100000)" {
			<-release
		}
		return []nrepl.Message{{"value": "ok"}, done()}
	})
	ev := newEvaluator(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	_, err := ev.Evaluate(ctx, "(Thread/sleep 100000)", "user")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	outcome, err := ev.Evaluate(context.Background(), ":fine", "user")
	require.NoError(t, err)
	assert.Equal(t, "ok", outcome.ValueString())
	_, clones := s.recorded()
	assert.Equal(t, 2, clones)
}

type recordingEvalObserver struct {
	mu  sync.Mutex
	ops []string
}

func (o *recordingEvalObserver) ObserveEval(op string, _ time.Duration, failed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if failed {
		op += "!"
	}
	o.ops = append(o.ops, op)
}

func TestEvaluator_ObserverAndPing(t *testing.T) {
	s := startFakeServer(t, func(req nrepl.Message) []nrepl.Message {
		switch req.String("op") {
		case "describe":
			return []nrepl.Message{{"ops": map[string]any{"eval": map[string]any{}}}, done()}
		case "load-file":
			return []nrepl.Message{{"ex": "class clojure.lang.Compiler$CompilerException", "status": []any{"eval-error"}}, done()}
		}
		return []nrepl.Message{{"value": "1"}, done()}
	})
	obs := &recordingEvalObserver{}
	ev := newEvaluator(t, s, nrepl.WithEvalObserver(obs))

	require.NoError(t, ev.Ping(context.Background()))
	_, err := ev.Evaluate(context.Background(), "1", "user")
	require.NoError(t, err)
	outcome, err := ev.LoadFile(context.Background(), "/x.clj", "(")
	require.NoError(t, err)
	assert.True(t, outcome.Failed)
	assert.Equal(t, "Error: clojure.lang.Compiler$CompilerException\n", outcome.Err)

	assert.Equal(t, []string{"eval", "load-file!"}, obs.ops)
}

func TestEvaluator_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	client := nrepl.NewClient(nrepl.StaticAddr(addr), testLogger(), nrepl.WithDialTimeout(200*time.Millisecond))
	ev := nrepl.NewEvaluator(client, testLogger())
	_, err = ev.Evaluate(context.Background(), "1", "user")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to nREPL")
}
