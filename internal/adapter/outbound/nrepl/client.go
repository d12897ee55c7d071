// Package nrepl talks to a Clojure nREPL server over its bencode TCP protocol.
package nrepl

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackpal/bencode-go"
)

// Message is one bencoded nREPL request or response.
type Message map[string]any

// String returns the string value at key, or "".
func (m Message) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Status returns the status flags of a response.
func (m Message) Status() []string {
	raw, _ := m["status"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// HasStatus reports whether the response carries status flag s.
func (m Message) HasStatus(s string) bool {
	return slices.Contains(m.Status(), s)
}

// ErrConnectionClosed is returned when the server hangs up mid exchange.
var ErrConnectionClosed = errors.New("nREPL connection closed")

// AddrFunc resolves the server address at dial time.
type AddrFunc func(ctx context.Context) (string, error)

// StaticAddr returns an AddrFunc for a fixed address.
func StaticAddr(addr string) AddrFunc {
	return func(context.Context) (string, error) { return addr, nil }
}

// Client holds a single connection and a single cloned nREPL session.
// Exchanges are serialized: one request is in flight at a time, and callers
// waiting for their turn give up when their context ends.
type Client struct {
	resolve     AddrFunc
	dialTimeout time.Duration
	logger      *slog.Logger

	// turn is a one-slot semaphore held for the whole of an exchange.
	turn chan struct{}

	// connMu guards conn against Close while an exchange holds the turn.
	connMu  sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	session string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDialTimeout bounds connection attempts.
func WithDialTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.dialTimeout = d }
}

// NewClient creates a Client. No connection is made until the first exchange.
func NewClient(resolve AddrFunc, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		resolve:     resolve,
		dialTimeout: 5 * time.Second,
		logger:      logger.With("component", "nrepl_client"),
		turn:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Exchange sends msg within the client's session and collects every response
// carrying its id up to and including the one with status "done".
func (c *Client) Exchange(ctx context.Context, msg Message) ([]Message, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	if err := c.ensureSessionLocked(ctx); err != nil {
		return nil, err
	}
	req := make(Message, len(msg)+2)
	for k, v := range msg {
		req[k] = v
	}
	req["session"] = c.session
	return c.roundTripLocked(ctx, req, true)
}

// ErrBusy is returned when the caller's context ends while another exchange
// still holds the connection.
var ErrBusy = errors.New("nREPL connection busy")

func (c *Client) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBusy, err)
	}
	select {
	case c.turn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrBusy, ctx.Err())
	}
}

func (c *Client) release() {
	<-c.turn
}

// Close drops the connection. The next exchange reconnects with a new session.
// An exchange in flight is interrupted and fails with ErrConnectionClosed.
func (c *Client) Close() error {
	select {
	case c.turn <- struct{}{}:
		defer c.release()
		return c.closeLocked()
	default:
		c.connMu.Lock()
		defer c.connMu.Unlock()
		if c.conn == nil {
			return nil
		}
		return c.conn.Close()
	}
}

func (c *Client) closeLocked() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn, c.reader, c.session = nil, nil, ""
	return err
}

func (c *Client) dialLocked(ctx context.Context) error {
	addr, err := c.resolve(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve nREPL address: %w", err)
	}
	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to nREPL at %s: %w", addr, err)
	}
	c.connMu.Lock()
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.connMu.Unlock()
	c.logger.Info("Connected to nREPL", slog.String("addr", addr))
	return nil
}

func (c *Client) ensureSessionLocked(ctx context.Context) error {
	if c.conn != nil && c.session != "" {
		return nil
	}
	if c.conn == nil {
		if err := c.dialLocked(ctx); err != nil {
			return err
		}
	}
	replies, err := c.roundTripLocked(ctx, Message{"op": "clone"}, false)
	if err != nil {
		return fmt.Errorf("failed to clone nREPL session: %w", err)
	}
	for _, r := range replies {
		if s := r.String("new-session"); s != "" {
			c.session = s
		}
	}
	if c.session == "" {
		_ = c.closeLocked()
		return errors.New("nREPL clone returned no session")
	}
	c.logger.Debug("Cloned nREPL session", slog.String("session", c.session))
	return nil
}

func (c *Client) roundTripLocked(ctx context.Context, req Message, redial bool) ([]Message, error) {
	id := uuid.NewString()
	req["id"] = id

	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, map[string]any(req)); err != nil {
		return nil, fmt.Errorf("failed to encode nREPL %v request: %w", req["op"], err)
	}

	if err := c.writeLocked(ctx, buf.Bytes()); err != nil {
		if !redial {
			_ = c.closeLocked()
			return nil, err
		}
		// The server may have restarted since the last exchange.
		c.logger.Warn("nREPL write failed, reconnecting", slog.Any("error", err))
		_ = c.closeLocked()
		if err := c.ensureSessionLocked(ctx); err != nil {
			return nil, err
		}
		req["session"] = c.session
		return c.roundTripLocked(ctx, req, false)
	}

	replies, err := c.readLocked(ctx, id)
	if err != nil {
		_ = c.closeLocked()
		return nil, err
	}
	return replies, nil
}

// watch arms the connection deadline from ctx and unblocks I/O when ctx is
// cancelled. The returned func disarms it. If ctx fired, the expired deadline
// may land after the reset, so the connection is dropped instead.
func (c *Client) watch(ctx context.Context) func() {
	conn := c.conn
	deadline, _ := ctx.Deadline()
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	return func() {
		if !stop() {
			c.logger.Debug("Context ended during nREPL I/O, dropping connection")
			_ = c.closeLocked()
			return
		}
		_ = conn.SetDeadline(time.Time{})
	}
}

func (c *Client) writeLocked(ctx context.Context, b []byte) error {
	if c.conn == nil {
		return ErrConnectionClosed
	}
	done := c.watch(ctx)
	defer done()
	if _, err := c.conn.Write(b); err != nil {
		return c.ioError(ctx, "write", err)
	}
	return nil
}

func (c *Client) readLocked(ctx context.Context, id string) ([]Message, error) {
	if c.conn == nil {
		return nil, c.ioError(ctx, "read", ErrConnectionClosed)
	}
	done := c.watch(ctx)
	defer done()

	var replies []Message
	for {
		raw, err := bencode.Decode(c.reader)
		if err != nil {
			return nil, c.ioError(ctx, "read", err)
		}
		dict, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unexpected nREPL response of type %T", raw)
		}
		msg := Message(dict)
		if msg.String("id") != id {
			c.logger.Debug("Ignoring nREPL response for another request", slog.String("id", msg.String("id")))
			continue
		}
		replies = append(replies, msg)
		if msg.HasStatus("done") {
			return replies, nil
		}
	}
}

func (c *Client) ioError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("nREPL %s interrupted: %w", op, ctxErr)
	}
	if d, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) && !time.Now().Before(d) {
		return fmt.Errorf("nREPL %s interrupted: %w", op, context.DeadlineExceeded)
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("nREPL %s failed: %w", op, ErrConnectionClosed)
	}
	return fmt.Errorf("nREPL %s failed: %w", op, err)
}
