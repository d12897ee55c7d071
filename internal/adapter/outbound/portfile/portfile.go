// Package portfile reads and writes the one-line port files used for local
// service discovery (.nrepl-port, .mcp-port).
package portfile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// ErrInvalidPort is returned when a port file does not hold a usable port.
var ErrInvalidPort = errors.New("invalid port")

// Write atomically replaces path with a single line holding port.
func Write(path string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create port file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := fmt.Fprintf(tmp, "%d\n", port); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write port file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write port file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to write port file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to install port file: %w", err)
	}
	return nil
}

// Read returns the port stored in path.
func Read(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w in %s: %q", ErrInvalidPort, path, s)
	}
	return port, nil
}

// Remove deletes path. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove port file: %w", err)
	}
	return nil
}

// LoopbackAddr returns host:port on 127.0.0.1 for the port stored in path.
func LoopbackAddr(path string) (string, error) {
	port, err := Read(path)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), nil
}

// Wait blocks until path holds a valid port or ctx is done.
func Wait(ctx context.Context, path string, logger *slog.Logger) (int, error) {
	if port, err := Read(path); err == nil {
		return port, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return 0, fmt.Errorf("failed to watch for %s: %w", path, err)
	}
	defer func() {
		_ = w.Close()
	}()

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return 0, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	// The file may have appeared between the first read and the watch.
	if port, err := Read(path); err == nil {
		return port, nil
	}
	logger.Info("Waiting for port file", slog.String("path", path))

	want := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("gave up waiting for %s: %w", path, ctx.Err())
		case ev, ok := <-w.Events:
			if !ok {
				return 0, fmt.Errorf("watcher for %s closed", path)
			}
			if filepath.Clean(ev.Name) != want || ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			port, err := Read(path)
			if err != nil {
				// Partially written; the next Write event completes it.
				logger.Debug("Port file not ready", slog.Any("error", err))
				continue
			}
			return port, nil
		case err, ok := <-w.Errors:
			if !ok {
				return 0, fmt.Errorf("watcher for %s closed", path)
			}
			logger.Debug("fsnotify error", slog.Any("error", err))
		}
	}
}
