package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu      sync.Mutex
	models  map[string]string
	loads   int
	loadErr error
	saves   int
}

func newFakeStore(initial map[string]string) *fakeStore {
	return &fakeStore{models: initial}
}

func (f *fakeStore) LoadRegistry(ctx context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	out := make(map[string]string, len(f.models))
	for k, v := range f.models {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) SaveRegistry(ctx context.Context, models map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	f.models = make(map[string]string, len(models))
	for k, v := range models {
		f.models[k] = v
	}
	return nil
}

func TestForceReloadPopulatesMap(t *testing.T) {
	store := newFakeStore(map[string]string{"model-a": "worker-1"})
	reg := New(store, time.Hour)

	require.NoError(t, reg.ForceReload(context.Background()))

	workerID, ok := reg.WorkerFor("model-a")
	require.True(t, ok)
	assert.Equal(t, "worker-1", workerID)
}

func TestWorkerForUnknownModel(t *testing.T) {
	reg := New(newFakeStore(nil), time.Hour)
	_, ok := reg.WorkerFor("unknown")
	assert.False(t, ok)
}

func TestRefreshIfDueOnlyReloadsOncePerInterval(t *testing.T) {
	store := newFakeStore(map[string]string{"model-a": "worker-1"})
	reg := New(store, time.Minute)
	now := time.Now()

	reg.RefreshIfDue(context.Background(), now)
	reg.RefreshIfDue(context.Background(), now.Add(time.Second))
	reg.RefreshIfDue(context.Background(), now.Add(30*time.Second))

	store.mu.Lock()
	loads := store.loads
	store.mu.Unlock()
	assert.Equal(t, 1, loads, "reload must not fire again before the interval elapses")

	reg.RefreshIfDue(context.Background(), now.Add(2*time.Minute))
	store.mu.Lock()
	loads = store.loads
	store.mu.Unlock()
	assert.Equal(t, 2, loads, "reload must fire again once the interval has elapsed")
}

func TestRefreshIfDueKeepsStaleMapOnLoadFailure(t *testing.T) {
	store := newFakeStore(map[string]string{"model-a": "worker-1"})
	reg := New(store, time.Minute)
	require.NoError(t, reg.ForceReload(context.Background()))

	store.mu.Lock()
	store.loadErr = fmt.Errorf("store unreachable")
	store.mu.Unlock()

	reg.RefreshIfDue(context.Background(), time.Now().Add(2*time.Minute))

	workerID, ok := reg.WorkerFor("model-a")
	require.True(t, ok, "a failed reload must retain the previous map, not clear it")
	assert.Equal(t, "worker-1", workerID)
}

func TestAnnouncerOverridesExistingAssignment(t *testing.T) {
	store := newFakeStore(map[string]string{"model-a": "worker-1"})
	reg := New(store, time.Hour)
	require.NoError(t, reg.ForceReload(context.Background()))
	ann := NewAnnouncer(store, reg)

	changed, err := ann.Announce(context.Background(), "worker-2", []string{"model-a", "model-b"})
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	workerID, ok := reg.WorkerFor("model-a")
	require.True(t, ok)
	assert.Equal(t, "worker-2", workerID, "re-announcement by a different worker must override")

	workerID, ok = reg.WorkerFor("model-b")
	require.True(t, ok)
	assert.Equal(t, "worker-2", workerID)
}

func TestAnnouncerIdempotentOnIdenticalAnnouncement(t *testing.T) {
	store := newFakeStore(nil)
	reg := New(store, time.Hour)
	require.NoError(t, reg.ForceReload(context.Background()))
	ann := NewAnnouncer(store, reg)

	_, err := ann.Announce(context.Background(), "worker-1", []string{"model-a"})
	require.NoError(t, err)

	changed, err := ann.Announce(context.Background(), "worker-1", []string{"model-a"})
	require.NoError(t, err)
	assert.Equal(t, 0, changed, "repeated identical announcements must produce no diffs")
}

func TestAnnouncerSavesIncrementallyPerModel(t *testing.T) {
	store := newFakeStore(nil)
	reg := New(store, time.Hour)
	require.NoError(t, reg.ForceReload(context.Background()))
	ann := NewAnnouncer(store, reg)

	changed, err := ann.Announce(context.Background(), "worker-1", []string{"model-a", "model-b", "model-c"})
	require.NoError(t, err)
	assert.Equal(t, 3, changed)

	store.mu.Lock()
	saves := store.saves
	store.mu.Unlock()
	assert.Equal(t, 3, saves, "each changed model assignment must be persisted individually")
}
