package active

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZebulonRouseFrantzich/armtc/internal/domain"
	"github.com/ZebulonRouseFrantzich/armtc/internal/lockfile"
)

type fakeInstalls struct {
	mu        sync.Mutex
	committed map[domain.Version]bool
}

func (f *fakeInstalls) IsCommitted(_ context.Context, v domain.Version) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.committed[v], nil
}

func (f *fakeInstalls) set(v domain.Version, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed[v] = ok
}

func newTestTracker(t *testing.T, opts Options) (*Tracker, *fakeInstalls, domain.Layout) {
	t.Helper()
	layout, err := domain.NewLayout(t.TempDir())
	require.NoError(t, err)
	installs := &fakeInstalls{committed: map[domain.Version]bool{"v21.1.1": true, "v20.1.0": true}}
	locker := lockfile.New(layout.LocksDir(), lockfile.WithPollInterval(5*time.Millisecond))
	return New(layout, locker, installs, opts), installs, layout
}

func TestGetUnset(t *testing.T) {
	tr, _, _ := newTestTracker(t, Options{})
	v, ok, err := tr.Get(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, v)
}

func TestSetAndGet(t *testing.T) {
	tr, _, layout := newTestTracker(t, Options{})
	ctx := context.Background()

	require.NoError(t, tr.Set(ctx, "v21.1.1"))
	v, ok, err := tr.Get(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.Version("v21.1.1"), v)

	data, err := os.ReadFile(layout.ActiveFile())
	require.NoError(t, err)
	assert.Equal(t, "v21.1.1\n", string(data))

	require.NoError(t, tr.Set(ctx, "v20.1.0"))
	v, _, err = tr.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Version("v20.1.0"), v)
}

func TestSetNotInstalledLeavesPointer(t *testing.T) {
	tr, _, _ := newTestTracker(t, Options{})
	ctx := context.Background()
	require.NoError(t, tr.Set(ctx, "v21.1.1"))

	err := tr.Set(ctx, "v22.0.0")
	require.ErrorIs(t, err, domain.ErrNotInstalled)

	v, ok, err := tr.Get(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.Version("v21.1.1"), v)
}

func TestClear(t *testing.T) {
	tr, _, layout := newTestTracker(t, Options{})
	ctx := context.Background()

	require.NoError(t, tr.Clear(ctx))
	require.NoError(t, tr.Set(ctx, "v21.1.1"))
	require.NoError(t, tr.Clear(ctx))
	require.NoError(t, tr.Clear(ctx))
	assert.NoFileExists(t, layout.ActiveFile())

	_, ok, err := tr.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTxnClearIf(t *testing.T) {
	tr, _, _ := newTestTracker(t, Options{})
	ctx := context.Background()
	require.NoError(t, tr.Set(ctx, "v21.1.1"))

	clearIf := func(v domain.Version) bool {
		var cleared bool
		require.NoError(t, tr.Locked(ctx, func(tx *Txn) error {
			var err error
			cleared, err = tx.ClearIf(v)
			return err
		}))
		return cleared
	}

	assert.False(t, clearIf("v20.1.0"))
	v, ok, err := tr.Get(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.Version("v21.1.1"), v)

	assert.True(t, clearIf("v21.1.1"))
	_, ok, err = tr.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.False(t, clearIf("v21.1.1"))
}

func TestGetCorruptState(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "garbage", content: "not a version\n"},
		{name: "non canonical", content: "21.1.1\n"},
		{name: "uninstalled version", content: "v19.0.0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _, layout := newTestTracker(t, Options{})
			require.NoError(t, os.WriteFile(layout.ActiveFile(), []byte(tt.content), 0o644))

			_, _, err := tr.Get(context.Background())
			require.ErrorIs(t, err, domain.ErrCorruptState)

			// Never repaired by a read.
			data, err := os.ReadFile(layout.ActiveFile())
			require.NoError(t, err)
			assert.Equal(t, tt.content, string(data))
		})
	}
}

func TestGetAfterInstallVanishes(t *testing.T) {
	tr, installs, _ := newTestTracker(t, Options{})
	ctx := context.Background()
	require.NoError(t, tr.Set(ctx, "v21.1.1"))

	installs.set("v21.1.1", false)
	_, _, err := tr.Get(ctx)
	require.ErrorIs(t, err, domain.ErrCorruptState)

	require.NoError(t, tr.Clear(ctx))
	_, ok, err := tr.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLockedNonBlocking(t *testing.T) {
	tr, installs, layout := newTestTracker(t, Options{})
	other := New(layout, lockfile.New(layout.LocksDir()), installs, Options{Mode: lockfile.NonBlocking})
	ctx := context.Background()

	inside := make(chan struct{})
	leave := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- tr.Locked(ctx, func(*Txn) error {
			close(inside)
			<-leave
			return nil
		})
	}()
	<-inside

	_, _, err := other.Get(ctx)
	require.ErrorIs(t, err, domain.ErrBusy)
	require.ErrorIs(t, other.Set(ctx, "v21.1.1"), domain.ErrBusy)

	close(leave)
	require.NoError(t, <-done)
	require.NoError(t, other.Set(ctx, "v21.1.1"))
}

func TestConcurrentSets(t *testing.T) {
	tr, _, _ := newTestTracker(t, Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		v := domain.Version("v21.1.1")
		if i%2 == 1 {
			v = "v20.1.0"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, tr.Set(ctx, v))
		}()
	}
	wg.Wait()

	v, ok, err := tr.Get(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, []domain.Version{"v21.1.1", "v20.1.0"}, v)
}

func TestSweepTemps(t *testing.T) {
	tr, _, layout := newTestTracker(t, Options{})
	ctx := context.Background()
	require.NoError(t, tr.Set(ctx, "v21.1.1"))

	stale := ".active.3f2a1b4c-5d6e-4f70-8a9b-0c1d2e3f4a5b.tmp"
	others := []string{".config.toml.9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d.tmp", "active.tmp"}
	for _, name := range append([]string{stale}, others...) {
		require.NoError(t, os.WriteFile(filepath.Join(layout.Root, name), []byte("v20.1.0"), 0o644))
	}

	busy := New(layout, lockfile.New(layout.LocksDir()), nil, Options{})
	err := tr.Locked(ctx, func(*Txn) error {
		swept, err := busy.SweepTemps(ctx)
		require.NoError(t, err)
		assert.Empty(t, swept)
		return nil
	})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(layout.Root, stale))

	swept, err := tr.SweepTemps(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{stale}, swept)
	assert.NoFileExists(t, filepath.Join(layout.Root, stale))
	for _, name := range others {
		assert.FileExists(t, filepath.Join(layout.Root, name))
	}

	v, ok, err := tr.Get(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.Version("v21.1.1"), v)
}
