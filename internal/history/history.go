// Package history tracks how past incidents were resolved so the scorer can
// learn which (component, event kind) pairings tend to be real root causes.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/devkdas/causeway/internal/cache"
	"github.com/devkdas/causeway/internal/models"
)

const (
	keyPrefix = "causeway:history:"

	// convictionSamples is the number of outcomes after which the adjustment
	// reaches full strength; fewer samples scale it down proportionally.
	convictionSamples = 5

	storeTimeout = 500 * time.Millisecond
)

type outcome struct {
	Confirmed int `json:"confirmed"`
	RuledOut  int `json:"ruled_out"`
}

// Recorder keeps a bounded in-memory tally of confirmed and ruled-out root
// causes per (component, event kind), optionally written through to a cache
// provider so the tally survives restarts. It implements the scorer's
// HistoryAdjuster contract.
type Recorder struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *outcome]
	store   cache.Provider
	ttl     time.Duration
	logger  *slog.Logger
}

// NewRecorder constructs a Recorder holding up to maxEntries pairings.
// store may be nil for purely in-memory operation.
func NewRecorder(logger *slog.Logger, maxEntries int, store cache.Provider, ttl time.Duration) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	if store == nil {
		store = cache.NoopProvider{}
	}
	entries, err := lru.New[string, *outcome](maxEntries)
	if err != nil {
		return nil, err
	}
	return &Recorder{entries: entries, store: store, ttl: ttl, logger: logger}, nil
}

// Adjust returns the learned adjustment for a pairing in [-1,1]: positive
// when the pairing was repeatedly confirmed, negative when ruled out, zero
// when nothing is known yet.
func (r *Recorder) Adjust(component string, kind models.EventKind) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.load(component, kind)
	total := entry.Confirmed + entry.RuledOut
	if total == 0 {
		return 0
	}

	raw := float64(entry.Confirmed-entry.RuledOut) / float64(total)
	conviction := float64(total) / convictionSamples
	if conviction > 1 {
		conviction = 1
	}
	return raw * conviction
}

// RecordOutcome registers operator feedback for a pairing: confirmed when
// the hypothesised root cause was right, ruled out otherwise.
func (r *Recorder) RecordOutcome(ctx context.Context, component string, kind models.EventKind, confirmed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.load(component, kind)
	if confirmed {
		entry.Confirmed++
	} else {
		entry.RuledOut++
	}

	key := pairingKey(component, kind)
	r.entries.Add(key, entry)
	r.persist(ctx, key, entry)
}

// load returns the tally for a pairing, pulling it from the write-through
// store on an in-memory miss.
func (r *Recorder) load(component string, kind models.EventKind) *outcome {
	key := pairingKey(component, kind)
	if entry, ok := r.entries.Get(key); ok {
		return entry
	}

	entry := &outcome{}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if data, err := r.store.Get(ctx, key); err == nil {
		if unmarshalErr := json.Unmarshal(data, entry); unmarshalErr != nil {
			r.logger.Warn("corrupt history entry", slog.String("key", key), slog.Any("error", unmarshalErr))
			*entry = outcome{}
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		r.logger.Warn("history store read failed", slog.String("key", key), slog.Any("error", err))
	}

	r.entries.Add(key, entry)
	return entry
}

func (r *Recorder) persist(ctx context.Context, key string, entry *outcome) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := r.store.Set(writeCtx, key, data, r.ttl); err != nil {
		r.logger.Warn("history store write failed", slog.String("key", key), slog.Any("error", err))
	}
}

func pairingKey(component string, kind models.EventKind) string {
	return keyPrefix + component + ":" + string(kind)
}
