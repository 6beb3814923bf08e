package engine

import (
	"sort"
	"time"

	"github.com/devkdas/causeway/internal/models"
)

// EventSource is the read view of the change event registry used during
// matching. Matching always runs against a snapshot, never the live store.
type EventSource interface {
	Query(component string, since, until time.Time) []models.ChangeEvent
}

// FindCandidates returns change events that plausibly caused the incident,
// ranked by temporal proximity. For every component referenced by the
// incident's signals it looks back `window` from the signal timestamp; a
// change recorded after the earliest symptom is never a candidate cause.
// Candidates are deduplicated by event id, keeping the best proximity when a
// change touches several matched signals. An empty result is valid.
func FindCandidates(incident models.Incident, source EventSource, window time.Duration) []models.Candidate {
	if source == nil || window <= 0 || len(incident.Signals) == 0 {
		return nil
	}

	earliest := incident.EarliestSignal()
	best := make(map[string]models.Candidate)

	for _, sig := range incident.Signals {
		if sig.Component == "" {
			continue
		}
		events := source.Query(sig.Component, sig.Timestamp.Add(-window), sig.Timestamp)
		for _, ev := range events {
			if ev.Timestamp.After(earliest) {
				continue
			}
			proximity := clamp(1-float64(sig.Timestamp.Sub(ev.Timestamp))/float64(window), 0, 1)
			if existing, ok := best[ev.ID]; ok && existing.Proximity >= proximity {
				continue
			}
			best[ev.ID] = models.Candidate{Event: ev, Proximity: proximity}
		}
	}

	candidates := make([]models.Candidate, 0, len(best))
	for _, cand := range best {
		candidates = append(candidates, cand)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Proximity != candidates[j].Proximity {
			return candidates[i].Proximity > candidates[j].Proximity
		}
		return candidates[i].Event.Timestamp.After(candidates[j].Event.Timestamp)
	})
	return candidates
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
