// Package registry maintains the Gateway's in-memory model_name -> worker_id
// map, refreshed from the store at most once per refresh interval: a
// read-mostly structure protected by a mutex held only long enough to copy
// or replace the map reference.
package registry

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultRefreshInterval bounds how stale the cached registry may get.
const DefaultRefreshInterval = 300 * time.Second

// Loader reads the persisted registry document.
type Loader interface {
	LoadRegistry(ctx context.Context) (map[string]string, error)
}

// Saver persists the registry document.
type Saver interface {
	SaveRegistry(ctx context.Context, models map[string]string) error
}

// Registry is the read-mostly model_name -> worker_id cache shared by every
// handler in one Gateway instance. Multiple Gateway instances converge only
// through the store, with a staleness bound of the refresh interval.
type Registry struct {
	store           Loader
	refreshInterval time.Duration

	mu         sync.Mutex
	models     map[string]string
	nextReload time.Time
}

// New builds a Registry backed by store, starting empty until the first
// RefreshIfDue call.
func New(store Loader, refreshInterval time.Duration) *Registry {
	if refreshInterval <= 0 {
		refreshInterval = DefaultRefreshInterval
	}
	return &Registry{
		store:           store,
		refreshInterval: refreshInterval,
		models:          map[string]string{},
	}
}

// RefreshIfDue reloads the registry from the store if the current moment is
// the first request past the reload deadline. The deadline is advanced
// under the lock before the store read, so at most one concurrent reload
// happens per instance even under request concurrency.
func (r *Registry) RefreshIfDue(ctx context.Context, now time.Time) {
	r.mu.Lock()
	if now.Before(r.nextReload) {
		r.mu.Unlock()
		return
	}
	r.nextReload = now.Add(r.refreshInterval)
	r.mu.Unlock()

	models, err := r.store.LoadRegistry(ctx)
	if err != nil {
		log.Printf("registry: reload failed, keeping stale map: %v", err)
		return
	}

	r.mu.Lock()
	r.models = models
	r.mu.Unlock()
}

// WorkerFor returns the worker_id owning model, and whether it was found.
func (r *Registry) WorkerFor(model string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	workerID, ok := r.models[model]
	return workerID, ok
}

// Snapshot returns a copy of the current model -> worker map.
func (r *Registry) Snapshot() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.models))
	for k, v := range r.models {
		out[k] = v
	}
	return out
}

// ForceReload loads the registry from the store regardless of the deadline.
// Used on process startup so the first request does not see an empty map.
func (r *Registry) ForceReload(ctx context.Context) error {
	models, err := r.store.LoadRegistry(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.models = models
	r.nextReload = time.Now().Add(r.refreshInterval)
	r.mu.Unlock()
	return nil
}

// Announcer applies an /advworkid announcement, saving the registry after
// each individual model assignment so a partial batch failure still commits
// the models processed so far.
type Announcer struct {
	store Saver
	reg   *Registry
}

// NewAnnouncer builds an Announcer writing through store and reg.
func NewAnnouncer(store Saver, reg *Registry) *Announcer {
	return &Announcer{store: store, reg: reg}
}

// Announce records workerID as the owner of each of models, persisting
// after every individual change, and returns how many assignments changed.
func (a *Announcer) Announce(ctx context.Context, workerID string, models []string) (int, error) {
	a.reg.mu.Lock()
	current := make(map[string]string, len(a.reg.models))
	for k, v := range a.reg.models {
		current[k] = v
	}
	a.reg.mu.Unlock()

	changed := 0
	for _, model := range models {
		prev, existed := current[model]
		if existed && prev == workerID {
			continue
		}
		if existed {
			log.Printf("registry: model %q reassigned from worker %q to %q", model, prev, workerID)
		}
		current[model] = workerID
		changed++

		if err := a.store.SaveRegistry(ctx, current); err != nil {
			return changed, err
		}
	}

	a.reg.mu.Lock()
	a.reg.models = current
	a.reg.mu.Unlock()

	return changed, nil
}
