// Package registry maintains the time-ordered, bounded-retention log of
// change events (deploys, commits, test runs) the correlation engine matches
// incidents against.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/devkdas/causeway/internal/models"
)

// Registry is a thread-safe change event log with a per-component index.
// Eviction is driven externally; the registry never drops events on its own.
type Registry struct {
	mu          sync.RWMutex
	events      []models.ChangeEvent
	byRef       map[string]struct{}
	byComponent map[string][]int
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		byRef:       make(map[string]struct{}),
		byComponent: make(map[string][]int),
	}
}

// Record appends a change event. It fails with models.ErrDuplicateEvent when
// an event with the same reference identifier is still inside the retention
// window, making webhook ingestion idempotent.
func (r *Registry) Record(event models.ChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Ref != "" {
		if _, ok := r.byRef[event.Ref]; ok {
			return models.ErrDuplicateEvent
		}
		r.byRef[event.Ref] = struct{}{}
	}

	idx := len(r.events)
	r.events = append(r.events, event)
	for _, component := range event.Components {
		r.byComponent[component] = append(r.byComponent[component], idx)
	}
	return nil
}

// Query returns events touching component within [since, until], ordered
// most-recent-first. An empty result is not an error.
func (r *Registry) Query(component string, since, until time.Time) []models.ChangeEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return queryEvents(r.events, r.byComponent[component], since, until)
}

// Evict drops events whose timestamp precedes the cutoff and rebuilds the
// indexes. Called periodically by an external scheduler.
func (r *Registry) Evict(olderThan time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.events[:0]
	for _, ev := range r.events {
		if ev.Timestamp.Before(olderThan) {
			if ev.Ref != "" {
				delete(r.byRef, ev.Ref)
			}
			continue
		}
		kept = append(kept, ev)
	}
	dropped := len(r.events) - len(kept)
	r.events = kept

	r.byComponent = make(map[string][]int, len(r.byComponent))
	for idx, ev := range r.events {
		for _, component := range ev.Components {
			r.byComponent[component] = append(r.byComponent[component], idx)
		}
	}
	return dropped
}

// Len returns the number of retained events.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

// Snapshot returns a consistent, immutable view of the registry. Analyses
// run against snapshots so a concurrent Record or Evict cannot produce a
// partially-updated candidate list mid-computation.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := &Snapshot{
		events:      append([]models.ChangeEvent(nil), r.events...),
		byComponent: make(map[string][]int, len(r.byComponent)),
	}
	for component, idxs := range r.byComponent {
		snap.byComponent[component] = append([]int(nil), idxs...)
	}
	return snap
}

// Snapshot is a frozen copy of the registry taken at a single point in time.
type Snapshot struct {
	events      []models.ChangeEvent
	byComponent map[string][]int
}

// Query behaves like Registry.Query against the frozen view.
func (s *Snapshot) Query(component string, since, until time.Time) []models.ChangeEvent {
	if s == nil {
		return nil
	}
	return queryEvents(s.events, s.byComponent[component], since, until)
}

func queryEvents(events []models.ChangeEvent, idxs []int, since, until time.Time) []models.ChangeEvent {
	matched := make([]models.ChangeEvent, 0, len(idxs))
	for _, idx := range idxs {
		ev := events[idx]
		if ev.Timestamp.Before(since) || ev.Timestamp.After(until) {
			continue
		}
		matched = append(matched, ev)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	return matched
}
