// Package store implements the Fleet State Store (C1): the single
// authoritative in-memory snapshot of trainsets, clearances, and bay
// occupancy, serialized through one writer goroutine so every
// Snapshot() is internally consistent. Grounded on the teacher's
// internal/matching.Engine, which runs its own book-mutation loop
// behind a single goroutine and hands callers independent, lock-
// protected reads.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kmrl/induction/pkg/domain"
)

// ErrBayOccupied is returned when an Apply would seat two trainsets in
// the same bay, violating §4.1's invariant.
var ErrBayOccupied = fmt.Errorf("bay already occupied by another trainset")

// ErrInvalidStatus is returned when a status delta names a value
// outside the §4.1 enum.
var ErrInvalidStatus = fmt.Errorf("invalid trainset status")

var validStatuses = map[domain.TrainsetStatus]bool{
	domain.StatusAvailable:      true,
	domain.StatusInService:      true,
	domain.StatusMaintenance:    true,
	domain.StatusCleaning:       true,
	domain.StatusOutOfOrder:     true,
	domain.StatusDecommissioned: true,
}

// SourceMeta describes the provenance of one field-level update. A
// manual override carries Manual=true and an Expiry; per §4.2 it
// "always wins priority ties" and overrides later auto-resolutions
// until that expiry passes.
type SourceMeta struct {
	SourceID  string
	Priority  int
	Timestamp time.Time
	Manual    bool
	Expiry    time.Time
}

type manualPin struct {
	value  interface{}
	expiry time.Time
}

// Delta is a single field-level mutation for one trainset.
type Delta struct {
	TrainsetID string
	Field      string
	Value      interface{}
}

// ApplyResult reports the outcome of an Apply call.
type ApplyResult struct {
	Applied  bool
	Conflict *domain.Conflict
}

// fieldHistory remembers the most recent winning write per field, plus
// all contending sources seen within the conflict window, so repeated
// near-simultaneous writes can be adjudicated by (priority, timestamp).
type fieldHistory struct {
	sources []domain.ConflictSource
	winner  domain.ConflictSource
}

// Store is the C1 Fleet State Store.
type Store struct {
	mu             sync.RWMutex
	trainsets      map[string]*domain.Trainset
	bays           map[string]*domain.Bay
	clearances     map[string][]domain.Clearance
	sensorRings    map[string][]domain.SensorFrame
	conflicts      map[string]*domain.Conflict
	fieldHistories map[string]*fieldHistory // trainsetID|field -> history
	manualPins     map[string]manualPin     // trainsetID|field -> active manual override

	conflictWindow time.Duration
	ringLimit      int

	applyCh  chan applyRequest
	sensorCh chan sensorRequest
	sink     PlanSink
	log      *zap.Logger

	anomalyHook func(trainsetID string, frame domain.SensorFrame)
	auditHook   func(frame domain.SensorFrame)
}

type applyRequest struct {
	delta    Delta
	meta     SourceMeta
	response chan applyResponse
}

type applyResponse struct {
	result ApplyResult
	err    error
}

type sensorRequest struct {
	frame domain.SensorFrame
	done  chan struct{}
}

// PlanSink persists InductionPlans; it does not store Conflicts, which
// live only in the Store's memory. The core depends
// only on this interface — see pkg/planstore for the in-memory and
// Postgres implementations.
type PlanSink interface {
	SavePlan(ctx context.Context, plan *domain.InductionPlan) error
	GetPlan(ctx context.Context, depotID string) (*domain.InductionPlan, error)
}

// New constructs a Store. conflictWindow and ringLimit follow §4.1/§4.2
// defaults (5s, 1000 frames) unless overridden.
func New(sink PlanSink, log *zap.Logger, conflictWindow time.Duration, ringLimit int) *Store {
	if conflictWindow <= 0 {
		conflictWindow = 5 * time.Second
	}
	if ringLimit <= 0 {
		ringLimit = 1000
	}
	return &Store{
		trainsets:      make(map[string]*domain.Trainset),
		bays:           make(map[string]*domain.Bay),
		clearances:     make(map[string][]domain.Clearance),
		sensorRings:    make(map[string][]domain.SensorFrame),
		conflicts:      make(map[string]*domain.Conflict),
		fieldHistories: make(map[string]*fieldHistory),
		manualPins:     make(map[string]manualPin),
		conflictWindow: conflictWindow,
		ringLimit:      ringLimit,
		applyCh:        make(chan applyRequest, 256),
		sensorCh:       make(chan sensorRequest, 256),
		sink:           sink,
		log:            log,
	}
}

// SetAnomalyHook installs the callback C1 invokes after SensorAppend.
// No caller in this module installs one; C2's IoT transformer tags
// anomalies on the frame itself before it is appended.
func (s *Store) SetAnomalyHook(hook func(trainsetID string, frame domain.SensorFrame)) {
	s.anomalyHook = hook
}

// SetAuditHook installs a callback invoked after every SensorAppend
// alongside the anomaly hook, used to mirror frames into the InfluxDB
// audit side-channel without the ring or anomaly detection depending
// on it.
func (s *Store) SetAuditHook(hook func(frame domain.SensorFrame)) {
	s.auditHook = hook
}

// Run starts the single writer goroutine and blocks until ctx is
// cancelled. It recovers from writer panics (§7 kind 6, Fatal) by
// logging and re-panicking after cleanup, so the embedding process
// terminates and restarts rather than continuing with corrupted state.
func (s *Store) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			if s.log != nil {
				s.log.Fatal("fleet state store writer panicked", zap.Any("panic", r))
			}
			panic(r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.applyCh:
			result, err := s.applyLocked(req.delta, req.meta)
			req.response <- applyResponse{result: result, err: err}
		case req := <-s.sensorCh:
			s.sensorAppendLocked(req.frame)
			close(req.done)
		}
	}
}

// Apply merges a field-level update into the store, resolving
// conflicts by (priority desc, timestamp desc) within the conflict
// window, per §4.1/§4.2.
func (s *Store) Apply(ctx context.Context, delta Delta, meta SourceMeta) (ApplyResult, error) {
	resp := make(chan applyResponse, 1)
	select {
	case s.applyCh <- applyRequest{delta: delta, meta: meta, response: resp}:
	case <-ctx.Done():
		return ApplyResult{}, ctx.Err()
	}

	select {
	case r := <-resp:
		return r.result, r.err
	case <-ctx.Done():
		return ApplyResult{}, ctx.Err()
	}
}

// SensorAppend appends a frame to the trainset's retention ring and
// runs the configured anomaly hook.
func (s *Store) SensorAppend(ctx context.Context, frame domain.SensorFrame) error {
	done := make(chan struct{})
	select {
	case s.sensorCh <- sensorRequest{frame: frame, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) sensorAppendLocked(frame domain.SensorFrame) {
	s.mu.Lock()
	ring := s.sensorRings[frame.TrainsetID]
	ring = append(ring, frame)
	if len(ring) > s.ringLimit {
		ring = ring[len(ring)-s.ringLimit:]
	}
	s.sensorRings[frame.TrainsetID] = ring
	s.mu.Unlock()

	if s.anomalyHook != nil {
		s.anomalyHook(frame.TrainsetID, frame)
	}
	if s.auditHook != nil {
		s.auditHook(frame)
	}
}

func (s *Store) applyLocked(delta Delta, meta SourceMeta) (ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, exists := s.trainsets[delta.TrainsetID]
	if !exists {
		ts = &domain.Trainset{ID: delta.TrainsetID, CertificateExpiry: map[domain.Department]time.Time{}}
		s.trainsets[delta.TrainsetID] = ts
	}

	key := delta.TrainsetID + "|" + delta.Field
	hist := s.fieldHistories[key]
	if hist == nil {
		hist = &fieldHistory{}
		s.fieldHistories[key] = hist
	}

	candidate := domain.ConflictSource{
		SourceID:  meta.SourceID,
		Value:     delta.Value,
		Priority:  meta.Priority,
		Timestamp: meta.Timestamp,
	}
	prevSources, prevWinner := hist.sources, hist.winner
	prevPin, hadPin := s.manualPins[key]

	// Drop sources outside the conflict window relative to this write.
	var windowed []domain.ConflictSource
	for _, src := range hist.sources {
		if meta.Timestamp.Sub(src.Timestamp) <= s.conflictWindow && src.Timestamp.Sub(meta.Timestamp) <= s.conflictWindow {
			windowed = append(windowed, src)
		}
	}
	windowed = append(windowed, candidate)
	hist.sources = windowed

	if meta.Manual {
		s.manualPins[key] = manualPin{value: delta.Value, expiry: meta.Expiry}
	}

	winner := windowed[0]
	conflicting := false
	for _, src := range windowed[1:] {
		if !valuesEqual(src.Value, winner.Value) {
			conflicting = true
		}
		switch {
		case src.Priority > winner.Priority:
			winner = src
		case src.Priority == winner.Priority && src.SourceID == "manual-override" && winner.SourceID != "manual-override":
			// Manual overrides always win priority ties, per §4.2.
			winner = src
		case src.Priority == winner.Priority && winner.SourceID != "manual-override" && src.Timestamp.After(winner.Timestamp):
			winner = src
		}
	}

	// An unexpired manual pin overrides any later auto-resolution for
	// this field, even from a higher-priority source.
	if pin, ok := s.manualPins[key]; ok && !meta.Manual {
		if pin.expiry.IsZero() || meta.Timestamp.Before(pin.expiry) {
			if !valuesEqual(pin.value, winner.Value) {
				conflicting = true
			}
			winner = domain.ConflictSource{SourceID: "manual-override", Value: pin.value, Priority: winner.Priority, Timestamp: winner.Timestamp}
		} else {
			delete(s.manualPins, key)
		}
	}

	var conflictRecord *domain.Conflict
	if conflicting {
		conflictRecord = &domain.Conflict{
			ID:            uuid.New(),
			FieldPath:     delta.Field,
			TrainsetID:    delta.TrainsetID,
			Sources:       append([]domain.ConflictSource(nil), windowed...),
			Resolution:    domain.ResolutionAutoPriority,
			ResolvedValue: winner.Value,
			CreatedAt:     meta.Timestamp,
		}
		if allSamePriority(windowed) {
			conflictRecord.Resolution = domain.ResolutionAutoTimestamp
		}
		if winner.SourceID == "manual-override" {
			conflictRecord.Resolution = domain.ResolutionManual
		}
		now := meta.Timestamp
		conflictRecord.ResolvedAt = &now
		s.conflicts[delta.TrainsetID+"|"+delta.Field+"|"+now.String()] = conflictRecord
	}

	hist.winner = winner

	if err := s.setField(ts, delta.Field, winner.Value); err != nil {
		// Undo this write's bookkeeping so a rejected delta leaves no trace.
		hist.sources, hist.winner = prevSources, prevWinner
		if hadPin {
			s.manualPins[key] = prevPin
		} else {
			delete(s.manualPins, key)
		}
		if conflictRecord != nil {
			delete(s.conflicts, delta.TrainsetID+"|"+delta.Field+"|"+meta.Timestamp.String())
		}
		if !exists {
			delete(s.trainsets, delta.TrainsetID)
		}
		return ApplyResult{}, err
	}
	ts.UpdatedAt = meta.Timestamp

	return ApplyResult{Applied: true, Conflict: conflictRecord}, nil
}

func allSamePriority(sources []domain.ConflictSource) bool {
	if len(sources) == 0 {
		return true
	}
	p := sources[0].Priority
	for _, s := range sources[1:] {
		if s.Priority != p {
			return false
		}
	}
	return true
}

func valuesEqual(a, b interface{}) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// setField applies a named field update to a trainset, rejecting
// invariant violations without mutating state (§4.1).
func (s *Store) setField(ts *domain.Trainset, field string, value interface{}) error {
	switch field {
	case "status":
		status, ok := value.(domain.TrainsetStatus)
		if !ok {
			status = domain.TrainsetStatus(fmt.Sprintf("%v", value))
		}
		if !validStatuses[status] {
			return ErrInvalidStatus
		}
		ts.Status = status
	case "fitness_score":
		if f, ok := toFloat(value); ok {
			ts.FitnessScore = f
		}
	case "mileage_km":
		if f, ok := toFloat(value); ok {
			ts.MileageKM = int64(f)
		}
	case "operational_clearance":
		if b, ok := value.(bool); ok {
			ts.OperationalClearance = b
		}
	case "current_bay":
		bayID, _ := value.(string)
		if bayID != "" {
			if bay, exists := s.bays[bayID]; exists && bay.OccupiedBy != "" && bay.OccupiedBy != ts.ID {
				return ErrBayOccupied
			}
		}
		if ts.CurrentBay != "" {
			if old, exists := s.bays[ts.CurrentBay]; exists && old.OccupiedBy == ts.ID {
				old.OccupiedBy = ""
			}
		}
		ts.CurrentBay = bayID
		if bayID != "" {
			if bay, exists := s.bays[bayID]; exists {
				bay.OccupiedBy = ts.ID
			}
		}
	case "needs_cleaning":
		if b, ok := value.(bool); ok {
			ts.NeedsCleaning = b
		}
	case "needs_inspection":
		if b, ok := value.(bool); ok {
			ts.NeedsInspection = b
		}
	case "open_jobs":
		if jobs, ok := value.([]domain.JobCard); ok {
			ts.OpenJobs = jobs
		}
	case "branding":
		if b, ok := value.(*domain.BrandingContract); ok {
			ts.Branding = b
		}
	default:
		// Unknown fields are accepted as no-ops: ingestion transformers
		// evolve independently of the store and new telemetry channels
		// should not hard-fail the writer.
	}
	return nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// RegisterBay adds or replaces a bay in the occupancy map.
func (s *Store) RegisterBay(bay domain.Bay) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := bay
	s.bays[bay.ID] = &b
}

// UpsertClearance records a department clearance for a trainset and
// recomputes OperationalClearance per §4.2's dependency check: CLEARED
// from all three departments, windows covering `at`.
func (s *Store) UpsertClearance(c domain.Clearance, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.clearances[c.TrainsetID]
	replaced := false
	for i, existing := range list {
		if existing.Department == c.Department {
			list[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, c)
	}
	s.clearances[c.TrainsetID] = list

	cleared := map[domain.Department]bool{}
	for _, cl := range list {
		if cl.Status == domain.ClearanceCleared && cl.Covers(at) {
			cleared[cl.Department] = true
		}
	}
	fullyCleared := cleared[domain.DeptRollingStock] && cleared[domain.DeptSignalling] && cleared[domain.DeptTelecom]

	ts, exists := s.trainsets[c.TrainsetID]
	if !exists {
		ts = &domain.Trainset{ID: c.TrainsetID, CertificateExpiry: map[domain.Department]time.Time{}}
		s.trainsets[c.TrainsetID] = ts
	}
	ts.OperationalClearance = fullyCleared
}

// FleetSnapshot is an immutable, value-copied view of the fleet,
// suitable for handing to solvers (§3: "solvers receive copies").
type FleetSnapshot struct {
	Trainsets map[string]domain.Trainset
	Bays      map[string]domain.Bay
	Clearances map[string][]domain.Clearance
	Conflicts  []domain.Conflict
	TakenAt    time.Time
}

// Snapshot returns a deep, consistent copy of fleet state. O(N) in
// fleet size per §4.1.
func (s *Store) Snapshot() FleetSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := FleetSnapshot{
		Trainsets:  make(map[string]domain.Trainset, len(s.trainsets)),
		Bays:       make(map[string]domain.Bay, len(s.bays)),
		Clearances: make(map[string][]domain.Clearance, len(s.clearances)),
		TakenAt:    time.Now(),
	}

	for id, ts := range s.trainsets {
		cp := *ts
		cp.CertificateExpiry = make(map[domain.Department]time.Time, len(ts.CertificateExpiry))
		for k, v := range ts.CertificateExpiry {
			cp.CertificateExpiry[k] = v
		}
		cp.OpenJobs = append([]domain.JobCard(nil), ts.OpenJobs...)
		snap.Trainsets[id] = cp
	}
	for id, b := range s.bays {
		snap.Bays[id] = *b
	}
	for id, cl := range s.clearances {
		snap.Clearances[id] = append([]domain.Clearance(nil), cl...)
	}
	for _, c := range s.conflicts {
		snap.Conflicts = append(snap.Conflicts, *c)
	}

	return snap
}

// SensorHistory returns the retention ring for a trainset (read-only
// copy), most recent last.
func (s *Store) SensorHistory(trainsetID string) []domain.SensorFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.SensorFrame(nil), s.sensorRings[trainsetID]...)
}

// Conflicts returns all conflict records observed so far. They are kept
// in memory for the Store's lifetime; nothing prunes them, and no
// PlanSink persists them.
func (s *Store) Conflicts() []domain.Conflict {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Conflict, 0, len(s.conflicts))
	for _, c := range s.conflicts {
		out = append(out, *c)
	}
	return out
}
