package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/devkdas/causeway/internal/engine"
	"github.com/devkdas/causeway/internal/metrics"
	"github.com/devkdas/causeway/internal/models"
	"github.com/devkdas/causeway/internal/notify"
	"github.com/devkdas/causeway/internal/registry"
	"github.com/devkdas/causeway/internal/utils"
)

// ErrNoHypothesis is returned when feedback arrives for an incident whose
// analysis never identified a root cause.
var ErrNoHypothesis = errors.New("incident has no root-cause hypothesis")

// Enricher elaborates an applied analysis with richer narrative text.
type Enricher interface {
	Elaborate(ctx context.Context, incident models.Incident, analysis models.Analysis) (models.Analysis, error)
}

// OutcomeRecorder persists operator verdicts on root-cause hypotheses.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, component string, kind models.EventKind, confirmed bool)
}

// Config controls correlation and lifecycle behaviour.
type Config struct {
	// CorrelationWindow is the lookback used when matching change events.
	CorrelationWindow time.Duration
	// DedupWindow bounds how far apart two signals on the same component may
	// be and still join the same incident. Zero means CorrelationWindow.
	DedupWindow time.Duration
	// MitigationThreshold is the confidence at which an incident with an
	// identified root cause moves to mitigating.
	MitigationThreshold float64
	// MaxResolvedRetained caps how many resolved incidents stay queryable.
	MaxResolvedRetained int
	// EnrichmentTimeout bounds a single enrichment call.
	EnrichmentTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.CorrelationWindow <= 0 {
		c.CorrelationWindow = 30 * time.Minute
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = c.CorrelationWindow
	}
	if c.MitigationThreshold <= 0 {
		c.MitigationThreshold = 0.7
	}
	if c.MaxResolvedRetained <= 0 {
		c.MaxResolvedRetained = 1024
	}
	if c.EnrichmentTimeout <= 0 {
		c.EnrichmentTimeout = 20 * time.Second
	}
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Status   models.IncidentStatus
	Severity models.Severity
}

type incidentState struct {
	mu           sync.Mutex
	incident     models.Incident
	revision     uint64
	lastSignalAt time.Time
	hypothesis   *models.Candidate
}

func (st *incidentState) snapshotLocked() models.Incident {
	inc := st.incident
	inc.Signals = append([]models.Signal(nil), st.incident.Signals...)
	if st.incident.Analysis != nil {
		a := *st.incident.Analysis
		a.SuggestedActions = append([]string(nil), a.SuggestedActions...)
		inc.Analysis = &a
	}
	if st.incident.ResolvedAt != nil {
		t := *st.incident.ResolvedAt
		inc.ResolvedAt = &t
	}
	return inc
}

type resolvedRecord struct {
	incident   models.Incident
	hypothesis *models.Candidate
}

// stripedLocks serialises ingestion per cluster key so concurrent signals for
// the same component cannot race two incidents into existence.
type stripedLocks struct {
	stripes [32]sync.Mutex
}

func (s *stripedLocks) lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	mu := &s.stripes[h.Sum32()%uint32(len(s.stripes))]
	mu.Lock()
	return mu.Unlock
}

// Manager owns incident identity, clustering, and the lifecycle state
// machine. Analysis runs asynchronously against a registry snapshot; results
// carry the incident revision they were computed for and are discarded when
// superseded.
type Manager struct {
	logger    *slog.Logger
	cfg       Config
	registry  *registry.Registry
	scorer    *engine.Scorer
	publisher notify.Publisher
	outcomes  OutcomeRecorder
	enricher  Enricher

	mu              sync.RWMutex
	active          map[string]*incidentState
	openByComponent map[string]string
	resolved        *lru.Cache[string, resolvedRecord]

	stripes   stripedLocks
	latencies *utils.LatencyTracker
	wg        sync.WaitGroup
}

// NewManager wires the correlation engine, registry, and downstream
// collaborators into a lifecycle manager. publisher, outcomes, and enricher
// may be nil.
func NewManager(logger *slog.Logger, cfg Config, reg *registry.Registry, scorer *engine.Scorer, publisher notify.Publisher, outcomes OutcomeRecorder, enricher Enricher) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	if reg == nil {
		reg = registry.New()
	}
	if scorer == nil {
		scorer = engine.NewScorer(logger, engine.DefaultWeights(), nil, nil)
	}
	if publisher == nil {
		publisher = notify.NoopPublisher{}
	}

	resolved, err := lru.New[string, resolvedRecord](cfg.MaxResolvedRetained)
	if err != nil {
		return nil, utils.NewAppError("lifecycle.NewManager", "resolved incident cache", err)
	}

	return &Manager{
		logger:          logger,
		cfg:             cfg,
		registry:        reg,
		scorer:          scorer,
		publisher:       publisher,
		outcomes:        outcomes,
		enricher:        enricher,
		active:          make(map[string]*incidentState),
		openByComponent: make(map[string]string),
		resolved:        resolved,
		latencies:       utils.NewLatencyTracker(1024),
	}, nil
}

// Ingest clusters a normalised signal into an open incident or creates a new
// one, then schedules an analysis pass. The returned incident reflects the
// state before that pass completes.
func (m *Manager) Ingest(sig models.Signal) (models.Incident, error) {
	key := clusterKey(sig)
	unlock := m.stripes.lock(key)
	defer unlock()

	m.mu.RLock()
	var st *incidentState
	if id, ok := m.openByComponent[key]; ok {
		st = m.active[id]
	}
	m.mu.RUnlock()

	if st != nil {
		if inc, rev, ok := m.appendSignal(st, sig); ok {
			metrics.IncSignal(metrics.OutcomeDeduplicated)
			m.emit(models.IncidentUpdated, inc)
			m.scheduleAnalysis(st, inc, rev)
			return inc, nil
		}
	}

	st, inc, rev := m.createIncident(key, sig)
	metrics.IncSignal(metrics.OutcomeAccepted)
	m.emit(models.IncidentCreated, inc)
	m.scheduleAnalysis(st, inc, rev)
	return inc, nil
}

// appendSignal folds the signal into an existing open incident when it falls
// inside the dedup window. Reports false when a fresh incident is needed.
// The returned revision belongs to the returned snapshot; an analysis pass
// scheduled for it must carry that revision, not a later one.
func (m *Manager) appendSignal(st *incidentState, sig models.Signal) (models.Incident, uint64, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.incident.Status.Terminal() {
		return models.Incident{}, 0, false
	}
	gap := sig.Timestamp.Sub(st.lastSignalAt)
	if gap < 0 {
		gap = -gap
	}
	if gap > m.cfg.DedupWindow {
		return models.Incident{}, 0, false
	}

	st.incident.Signals = append(st.incident.Signals, sig)
	st.incident.Severity = models.MaxSeverity(st.incident.Signals)
	st.incident.Status = models.StatusAnalyzing
	if sig.Timestamp.After(st.lastSignalAt) {
		st.lastSignalAt = sig.Timestamp
	}
	st.revision++
	return st.snapshotLocked(), st.revision, true
}

func (m *Manager) createIncident(key string, sig models.Signal) (*incidentState, models.Incident, uint64) {
	now := time.Now().UTC()
	st := &incidentState{
		incident: models.Incident{
			ID:          uuid.NewString(),
			Title:       fmt.Sprintf("%s on %s", sig.Type, key),
			Description: sig.Description,
			Severity:    sig.Severity,
			Status:      models.StatusAnalyzing,
			CreatedAt:   now,
			Signals:     []models.Signal{sig},
		},
		revision:     1,
		lastSignalAt: sig.Timestamp,
	}

	m.mu.Lock()
	m.active[st.incident.ID] = st
	m.openByComponent[key] = st.incident.ID
	open := len(m.active)
	m.mu.Unlock()

	metrics.SetOpenIncidents(open)
	m.logger.Info("incident opened",
		slog.String("incident_id", st.incident.ID),
		slog.String("component", key),
		slog.String("severity", string(st.incident.Severity)),
	)

	st.mu.Lock()
	defer st.mu.Unlock()
	return st, st.snapshotLocked(), st.revision
}

// Resolve moves an incident to its terminal state and freezes it. In-flight
// analyses for the incident are discarded when they land.
func (m *Manager) Resolve(id string) (models.Incident, error) {
	m.mu.Lock()
	st := m.active[id]
	if st == nil {
		m.mu.Unlock()
		if rec, ok := m.resolved.Get(id); ok {
			return rec.incident, models.ErrAlreadyResolved
		}
		return models.Incident{}, models.ErrNotFound
	}

	st.mu.Lock()
	now := time.Now().UTC()
	st.incident.Status = models.StatusResolved
	st.incident.ResolvedAt = &now
	st.revision++
	frozen := st.snapshotLocked()
	hypothesis := st.hypothesis
	st.mu.Unlock()

	delete(m.active, id)
	for component, incID := range m.openByComponent {
		if incID == id {
			delete(m.openByComponent, component)
		}
	}
	m.resolved.Add(id, resolvedRecord{incident: frozen, hypothesis: hypothesis})
	open := len(m.active)
	m.mu.Unlock()

	metrics.SetOpenIncidents(open)
	m.logger.Info("incident resolved", slog.String("incident_id", id))
	m.emit(models.IncidentResolved, frozen)
	return frozen, nil
}

// Get returns a point-in-time copy of an incident, active or resolved.
func (m *Manager) Get(id string) (models.Incident, error) {
	m.mu.RLock()
	st := m.active[id]
	m.mu.RUnlock()

	if st != nil {
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.snapshotLocked(), nil
	}
	if rec, ok := m.resolved.Get(id); ok {
		return rec.incident, nil
	}
	return models.Incident{}, models.ErrNotFound
}

// List returns incidents matching the filter, newest first.
func (m *Manager) List(filter ListFilter) []models.Incident {
	m.mu.RLock()
	states := make([]*incidentState, 0, len(m.active))
	for _, st := range m.active {
		states = append(states, st)
	}
	m.mu.RUnlock()

	out := make([]models.Incident, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		inc := st.snapshotLocked()
		st.mu.Unlock()
		if filter.matches(inc) {
			out = append(out, inc)
		}
	}
	for _, rec := range m.resolved.Values() {
		if filter.matches(rec.incident) {
			out = append(out, rec.incident)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (f ListFilter) matches(inc models.Incident) bool {
	if f.Status != "" && inc.Status != f.Status {
		return false
	}
	if f.Severity != "" && inc.Severity != f.Severity {
		return false
	}
	return true
}

// Reanalyze schedules a fresh analysis pass for an open incident,
// superseding any pass still in flight.
func (m *Manager) Reanalyze(id string) (models.Incident, error) {
	m.mu.RLock()
	st := m.active[id]
	m.mu.RUnlock()

	if st == nil {
		if _, ok := m.resolved.Get(id); ok {
			return models.Incident{}, models.ErrAlreadyResolved
		}
		return models.Incident{}, models.ErrNotFound
	}

	st.mu.Lock()
	st.incident.Status = models.StatusAnalyzing
	st.revision++
	rev := st.revision
	inc := st.snapshotLocked()
	st.mu.Unlock()

	m.emit(models.IncidentUpdated, inc)
	m.scheduleAnalysis(st, inc, rev)
	return inc, nil
}

// Feedback records an operator verdict on the incident's root-cause
// hypothesis, feeding the historical pairing adjustment.
func (m *Manager) Feedback(ctx context.Context, id string, confirmed bool) error {
	m.mu.RLock()
	st := m.active[id]
	m.mu.RUnlock()

	var hypothesis *models.Candidate
	var components []string
	switch {
	case st != nil:
		st.mu.Lock()
		hypothesis = st.hypothesis
		components = st.incident.Components()
		st.mu.Unlock()
	default:
		rec, ok := m.resolved.Get(id)
		if !ok {
			return models.ErrNotFound
		}
		hypothesis = rec.hypothesis
		components = rec.incident.Components()
	}

	if hypothesis == nil {
		return ErrNoHypothesis
	}
	if m.outcomes != nil {
		m.outcomes.RecordOutcome(ctx, feedbackComponent(*hypothesis, components), hypothesis.Event.Kind, confirmed)
	}
	m.logger.Info("feedback recorded",
		slog.String("incident_id", id),
		slog.String("event_id", hypothesis.Event.ID),
		slog.Bool("confirmed", confirmed),
	)
	return nil
}

// Drain waits for in-flight analysis passes to finish or the context to end.
func (m *Manager) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// scheduleAnalysis snapshots the registry at schedule time so ingestion
// ordering is reflected in what the pass can see. rev must come from the
// same critical section that produced inc; re-reading the counter here could
// stamp a stale snapshot with a newer revision and slip it past the
// staleness check in applyAnalysis.
func (m *Manager) scheduleAnalysis(st *incidentState, inc models.Incident, rev uint64) {
	events := m.registry.Snapshot()
	m.wg.Add(1)
	go m.analyze(st, inc, rev, events)
}

func (m *Manager) analyze(st *incidentState, inc models.Incident, rev uint64, events *registry.Snapshot) {
	defer m.wg.Done()

	start := time.Now()
	var (
		analysis   models.Analysis
		hypothesis *models.Candidate
		outcome    = metrics.OutcomeApplied
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("analysis pass failed, using baseline",
					slog.String("incident_id", inc.ID),
					slog.Any("panic", r),
				)
				analysis, hypothesis = m.scorer.Evaluate(inc, nil)
				outcome = metrics.OutcomeFallback
			}
		}()
		candidates := engine.FindCandidates(inc, events, m.cfg.CorrelationWindow)
		analysis, hypothesis = m.scorer.Evaluate(inc, candidates)
	}()
	duration := time.Since(start)

	applied, ok := m.applyAnalysis(st, rev, analysis, hypothesis)
	if !ok {
		outcome = metrics.OutcomeStale
	}
	metrics.ObserveAnalysis(duration, outcome)
	m.latencies.Observe(duration)
	if count := m.latencies.Count(); count >= 20 && count%20 == 0 {
		m.logger.Info("analysis latency", slog.Duration("p95", m.latencies.Percentile(95)), slog.Int("samples", count))
	}

	if ok && m.enricher != nil && analysis.RootCause != "" {
		m.enrichAnalysis(st, rev, applied, analysis)
	}
}

// applyAnalysis attaches the analysis unless the incident was resolved or
// re-revised while the pass ran.
func (m *Manager) applyAnalysis(st *incidentState, rev uint64, analysis models.Analysis, hypothesis *models.Candidate) (models.Incident, bool) {
	st.mu.Lock()
	if st.incident.Status.Terminal() || st.revision != rev {
		st.mu.Unlock()
		m.logger.Debug("analysis superseded, discarding",
			slog.String("incident_id", st.incident.ID),
			slog.Uint64("revision", rev),
		)
		return models.Incident{}, false
	}

	a := analysis
	st.incident.Analysis = &a
	st.incident.Confidence = analysis.Confidence
	st.hypothesis = hypothesis
	if analysis.Confidence >= m.cfg.MitigationThreshold && analysis.RootCause != "" {
		st.incident.Status = models.StatusMitigating
	} else {
		st.incident.Status = models.StatusOpen
	}
	inc := st.snapshotLocked()
	st.mu.Unlock()

	m.emit(models.IncidentUpdated, inc)
	return inc, true
}

// enrichAnalysis asks the enricher for richer narrative text and swaps it in
// atomically, under the same revision and terminal checks as the analysis.
func (m *Manager) enrichAnalysis(st *incidentState, rev uint64, inc models.Incident, analysis models.Analysis) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.EnrichmentTimeout)
	defer cancel()

	enriched, err := m.enricher.Elaborate(ctx, inc, analysis)
	if err != nil {
		m.logger.Warn("enrichment skipped",
			slog.Any("error", utils.NewAppError("lifecycle.enrich", "elaboration failed", err)),
		)
		return
	}

	st.mu.Lock()
	if st.incident.Status.Terminal() || st.revision != rev || st.incident.Analysis == nil {
		st.mu.Unlock()
		return
	}
	if enriched.RootCause != "" {
		st.incident.Analysis.RootCause = enriched.RootCause
	}
	if enriched.ImpactAssessment != "" {
		st.incident.Analysis.ImpactAssessment = enriched.ImpactAssessment
	}
	if len(enriched.SuggestedActions) > 0 {
		st.incident.Analysis.SuggestedActions = append([]string(nil), enriched.SuggestedActions...)
	}
	snapshot := st.snapshotLocked()
	st.mu.Unlock()

	m.emit(models.IncidentUpdated, snapshot)
}

func (m *Manager) emit(eventType models.LifecycleEventType, inc models.Incident) {
	err := m.publisher.Publish(models.LifecycleEvent{Type: eventType, Incident: inc})
	if err != nil {
		m.logger.Warn("lifecycle publish failed",
			slog.String("incident_id", inc.ID),
			slog.String("event_type", string(eventType)),
			slog.Any("error", err),
		)
	}
}

// clusterKey picks the grouping key for a signal: its component, or its
// source when the component is unknown.
func clusterKey(sig models.Signal) string {
	key := sig.Component
	if key == "" {
		key = sig.Source
	}
	if key == "" {
		key = "unknown"
	}
	return key
}

// feedbackComponent picks the component to attribute an outcome to: the
// first incident component the event touches, else the event's own first.
func feedbackComponent(cand models.Candidate, incidentComponents []string) string {
	for _, c := range incidentComponents {
		if cand.Event.Touches(c) {
			return c
		}
	}
	if len(cand.Event.Components) > 0 {
		return cand.Event.Components[0]
	}
	return "unknown"
}
