package definitions

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestWatcher_ReloadsChangedDefinition(t *testing.T) {
	dir := t.TempDir()

	var (
		mu      sync.Mutex
		changed []string
	)
	w, err := NewWatcher(dir, nil, func(code string) {
		mu.Lock()
		changed = append(changed, code)
		mu.Unlock()
	})
	require.NoError(t, err)
	w.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	writeFile(t, dir, "stock.json", stockJSON)
	writeFile(t, dir, "stock.json", stockJSON)
	writeFile(t, dir, "readme.md", "ignored")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changed) > 0
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"stock"}, changed)
}

func TestWatcher_StartFailureReleasesWatcher(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	w, err := NewWatcher(filepath.Join(t.TempDir(), "missing"), nil)
	require.NoError(t, err)

	err = w.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")

	w.Stop()

	err = w.Start(context.Background())
	assert.ErrorIs(t, err, fsnotify.ErrClosed)
}
