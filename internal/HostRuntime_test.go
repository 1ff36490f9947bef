package internal

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickLoop_Hooks(t *testing.T) {
	loop := NewTickLoop()
	var order []string

	loop.AddHook(ThinkEvent, "a", func() { order = append(order, "a") })
	loop.AddHook(ThinkEvent, "b", func() { order = append(order, "b") })
	loop.AddHook("Other", "c", func() { order = append(order, "c") })

	t.Run("Runs Think hooks in registration order", func(t *testing.T) {
		loop.Tick()
		assert.Equal(t, []string{"a", "b"}, order)
		assert.Equal(t, uint64(1), loop.Ticks())
	})

	t.Run("Replacing keeps the position", func(t *testing.T) {
		order = nil
		loop.AddHook(ThinkEvent, "a", func() { order = append(order, "a2") })
		loop.Tick()
		assert.Equal(t, []string{"a2", "b"}, order)
		assert.Equal(t, 2, loop.HookCount(ThinkEvent))
	})

	t.Run("Removing unknown hooks is a no-op", func(t *testing.T) {
		loop.RemoveHook(ThinkEvent, "missing")
		loop.RemoveHook("Missing", "a")
		assert.Equal(t, 2, loop.HookCount(ThinkEvent))
	})

	t.Run("Removal during a frame skips the hook", func(t *testing.T) {
		order = nil
		loop.AddHook(ThinkEvent, "a", func() {
			order = append(order, "a")
			loop.RemoveHook(ThinkEvent, "b")
		})
		loop.Tick()
		assert.Equal(t, []string{"a"}, order)
		assert.False(t, loop.HasHook(ThinkEvent, "b"))
	})

	t.Run("Hooks added during a frame run next frame", func(t *testing.T) {
		order = nil
		loop.AddHook(ThinkEvent, "a", func() {
			order = append(order, "a")
			loop.AddHook(ThinkEvent, "late", func() { order = append(order, "late") })
		})
		loop.Tick()
		assert.Equal(t, []string{"a"}, order)
		loop.Tick()
		assert.Equal(t, []string{"a", "a", "late"}, order)
	})
}

func TestTickLoop_Run(t *testing.T) {
	loop := NewTickLoop()

	t.Run("Stops when done", func(t *testing.T) {
		count := 0
		loop.AddHook(ThinkEvent, "count", func() { count++ })
		err := loop.Run(context.Background(), time.Millisecond, func() bool { return count >= 3 })
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("Stops when the context ends", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := loop.Run(ctx, time.Millisecond, func() bool { return false })
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})
}

func TestTickLoop_OpenFile(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	path := filepath.Join(root, "cache", "1.gma")
	require.NoError(t, EnsureDirectoryExistence(filepath.Dir(path)))
	require.NoError(t, os.WriteFile(path, []byte("GMADdata"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "x.gma"), []byte("GMAD"), 0644))

	loop := NewTickLoop(Mount{Name: "GAME", Root: root})

	t.Run("Opens files inside a mount", func(t *testing.T) {
		f, err := loop.OpenFile(path)
		require.NoError(t, err)
		defer f.Close()

		data, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, "GMADdata", string(data))
	})

	t.Run("Rejects files outside every mount", func(t *testing.T) {
		_, err := loop.OpenFile(filepath.Join(outside, "x.gma"))
		assert.True(t, errors.Is(err, ErrNotMounted))
	})

	t.Run("Reports missing files", func(t *testing.T) {
		_, err := loop.OpenFile(filepath.Join(root, "cache", "2.gma"))
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrNotMounted))
	})
}
