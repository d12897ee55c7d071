package portfile_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctford/lein-mcp/internal/adapter/outbound/portfile"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".mcp-port")

	require.NoError(t, portfile.Write(path, 7888))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "7888\n", string(b))

	port, err := portfile.Read(path)
	require.NoError(t, err)
	assert.Equal(t, 7888, port)

	addr, err := portfile.LoopbackAddr(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7888", addr)

	// Overwrite in place.
	require.NoError(t, portfile.Write(path, 9000))
	port, err = portfile.Read(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, port)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestRead_Invalid(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"text", "abc\n"},
		{"zero", "0\n"},
		{"too large", "70000"},
		{"negative", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := portfile.Read(path)
			assert.ErrorIs(t, err, portfile.ErrInvalidPort)
		})
	}

	_, err := portfile.Read(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.ErrorIs(t, portfile.Write(filepath.Join(dir, "bad"), 0), portfile.ErrInvalidPort)
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".mcp-port")
	require.NoError(t, portfile.Write(path, 1234))
	require.NoError(t, portfile.Remove(path))
	_, err := os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.NoError(t, portfile.Remove(path))
}

func TestWait(t *testing.T) {
	t.Run("already present", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".nrepl-port")
		require.NoError(t, os.WriteFile(path, []byte("45678"), 0o644))

		port, err := portfile.Wait(context.Background(), path, testLogger())
		require.NoError(t, err)
		assert.Equal(t, 45678, port)
	})

	t.Run("appears later", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".nrepl-port")
		go func() {
			time.Sleep(100 * time.Millisecond)
			_ = portfile.Write(path, 5555)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		port, err := portfile.Wait(ctx, path, testLogger())
		require.NoError(t, err)
		assert.Equal(t, 5555, port)
	})

	t.Run("gives up", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".nrepl-port")
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		_, err := portfile.Wait(ctx, path, testLogger())
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
