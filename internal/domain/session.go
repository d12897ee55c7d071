package domain

import "sync/atomic"

// DefaultNamespace is the namespace a fresh Clojure REPL starts in.
const DefaultNamespace = "user"

// Session is the single piece of mutable state shared by every request the
// bridge serves. Fields are read and written atomically but independently, so
// concurrent set-ns calls resolve as last write wins.
type Session struct {
	initialNamespace string
	namespace        atomic.Pointer[string]
	initialized      atomic.Bool
}

// NewSession creates an uninitialized session positioned in ns. An empty ns
// falls back to DefaultNamespace.
func NewSession(ns string) *Session {
	if ns == "" {
		ns = DefaultNamespace
	}
	s := &Session{initialNamespace: ns}
	s.Reset()
	return s
}

// Namespace returns the current namespace.
func (s *Session) Namespace() string {
	return *s.namespace.Load()
}

// SetNamespace overwrites the current namespace.
func (s *Session) SetNamespace(ns string) {
	s.namespace.Store(&ns)
}

// Initialized reports whether the initialize handshake has completed.
func (s *Session) Initialized() bool {
	return s.initialized.Load()
}

// MarkInitialized records a completed handshake. Calling it again is a no-op.
func (s *Session) MarkInitialized() {
	s.initialized.Store(true)
}

// Reset restores the values the session was created with.
func (s *Session) Reset() {
	ns := s.initialNamespace
	s.namespace.Store(&ns)
	s.initialized.Store(false)
}
