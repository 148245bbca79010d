// Package ingestion implements the Ingestion Fabric (C2): one poller
// per configured source, pushing normalized deltas through a bounded
// drop-oldest queue into a single normalizer goroutine that applies
// them to the Fleet State Store. Per-source health is tracked with an
// in-process circuit breaker; each source failure also increments a
// Redis counter when a client is configured, which this package only
// writes and never reads back. Grounded on the teacher's
// internal/portfolio.Manager (Redis-backed cache alongside an
// in-process map) and pkg/circuit (breaker-per-key group).
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kmrl/induction/internal/store"
	"github.com/kmrl/induction/pkg/circuit"
	"github.com/kmrl/induction/shared/events"
)

// SourceType names one of the §4.2 transformation kinds.
type SourceType string

const (
	SourceMaintenanceExport  SourceType = "maintenance-export"
	SourceIoTTelemetry       SourceType = "iot-telemetry"
	SourceStreamBus          SourceType = "stream-bus"
	SourceManualOverride     SourceType = "manual-override"
	SourceDepartmentClearance SourceType = "department-clearance"
)

// SourceConfig describes one ingestion source per §4.2.
type SourceConfig struct {
	ID           string
	Type         SourceType
	Format       string
	Priority     int // 1..10
	PollInterval time.Duration
	Backoff      time.Duration
}

// Source is polled for raw records; each concrete source (file tailer,
// HTTP client, message-queue consumer) implements this.
type Source interface {
	Poll(ctx context.Context) ([]RawRecord, error)
}

// RawRecord is one unnormalized record yielded by a source, per §6's
// ingestion source contract: {sourceId, timestamp, format, bytes}.
// Fields carries the decoded payload; validator tags enforce the
// minimum shape before a record reaches a transformer.
type RawRecord struct {
	SourceID   string                 `validate:"required"`
	TrainsetID string                 `validate:"required"`
	Timestamp  time.Time              `validate:"required"`
	Format     string
	Fields     map[string]interface{} `validate:"required"`
}

// Outcome classifies how the normalizer disposed of one record, per
// §6: Applied | Rejected{errors[]} | Conflicted{conflictId}.
type Outcome string

const (
	OutcomeApplied    Outcome = "APPLIED"
	OutcomeRejected   Outcome = "REJECTED"
	OutcomeConflicted Outcome = "CONFLICTED"
)

type queuedRecord struct {
	source SourceConfig
	raw    RawRecord
}

// Fabric is the C2 Ingestion Fabric.
type Fabric struct {
	store     *store.Store
	publisher events.Publisher
	log       *zap.Logger
	validate  *validator.Validate
	breakers  *circuit.BreakerGroup
	redis     *goredis.Client

	mu      sync.Mutex
	sources map[string]SourceConfig
	impls   map[string]Source

	queue    chan queuedRecord
	queueCap int
	drops    map[string]int64

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a Fabric. redisClient may be nil, in which case
// source-health counters stay process-local only.
func New(st *store.Store, publisher events.Publisher, log *zap.Logger, redisClient *goredis.Client, bufferSize int) *Fabric {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Fabric{
		store:     st,
		publisher: publisher,
		log:       log,
		validate:  validator.New(),
		breakers: circuit.NewBreakerGroup(circuit.Config{
			MaxFailures: 5,
			Timeout:     24 * time.Hour, // recovery is manual (Reenable), not timeout-based
			HalfOpenMax: 1,
		}),
		redis:    redisClient,
		sources:  make(map[string]SourceConfig),
		impls:    make(map[string]Source),
		queue:    make(chan queuedRecord, bufferSize),
		queueCap: bufferSize,
		drops:    make(map[string]int64),
	}
}

// RegisterSource adds a source and its poller implementation.
func (f *Fabric) RegisterSource(cfg SourceConfig, impl Source) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources[cfg.ID] = cfg
	f.impls[cfg.ID] = impl
}

// Reenable resets a source's breaker after an operator intervention,
// per §4.2's "skipped until an operator re-enables it".
func (f *Fabric) Reenable(sourceID string) {
	f.breakers.Reenable(sourceID)
}

// SourceHealthy reports whether sourceID's breaker is closed.
func (f *Fabric) SourceHealthy(sourceID string) bool {
	return f.breakers.Get(sourceID).State() == circuit.StateClosed
}

// DropCount returns how many records have been dropped for sourceID
// due to queue overflow.
func (f *Fabric) DropCount(sourceID string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drops[sourceID]
}

// Run starts one poller goroutine per registered source plus the
// normalizer goroutine, and blocks until ctx is cancelled.
func (f *Fabric) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	f.mu.Lock()
	sources := make([]SourceConfig, 0, len(f.sources))
	for _, cfg := range f.sources {
		sources = append(sources, cfg)
	}
	f.mu.Unlock()

	for _, cfg := range sources {
		f.wg.Add(1)
		go f.pollLoop(ctx, cfg)
	}

	f.wg.Add(1)
	go f.normalizeLoop(ctx)

	<-ctx.Done()
	f.wg.Wait()
}

func (f *Fabric) pollLoop(ctx context.Context, cfg SourceConfig) {
	defer f.wg.Done()

	impl := f.impls[cfg.ID]
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			breaker := f.breakers.Get(cfg.ID)
			err := breaker.Execute(ctx, func() error {
				records, err := impl.Poll(ctx)
				if err != nil {
					return err
				}
				for _, r := range records {
					f.enqueue(cfg, r)
				}
				return nil
			})
			if err != nil {
				f.recordSourceFailure(ctx, cfg, err)
				time.Sleep(cfg.Backoff)
			}
		}
	}
}

func (f *Fabric) recordSourceFailure(ctx context.Context, cfg SourceConfig, pollErr error) {
	breaker := f.breakers.Get(cfg.ID)
	fails := breaker.Failures()
	// The breaker zeroes its failure count when it opens, so the poll
	// failure that trips it is recognised by the open state; later ticks
	// refused by the open breaker do not publish again.
	if breaker.State() == circuit.StateOpen && !errors.Is(pollErr, circuit.ErrCircuitOpen) {
		fails = 5
	}

	if f.redis != nil {
		key := "ingestion:source:fails:" + cfg.ID
		f.redis.Incr(ctx, key)
		f.redis.Expire(ctx, key, 24*time.Hour)
	}

	if fails >= 5 {
		if f.publisher != nil {
			evt, err := events.New(events.TopicIngestionSourceErr, "", "", events.SourceErrorData{
				SourceID:         cfg.ID,
				ConsecutiveFails: fails,
			})
			if err == nil {
				f.publisher.Publish(events.TopicIngestionSourceErr, evt)
			}
		}
		if f.log != nil {
			f.log.Warn("ingestion source marked error", zap.String("source", cfg.ID), zap.Int("failures", fails))
		}
	}
}

// enqueue pushes a raw record onto the bounded queue, dropping the
// oldest entry on overflow per §4.2/§5.
func (f *Fabric) enqueue(cfg SourceConfig, raw RawRecord) {
	item := queuedRecord{source: cfg, raw: raw}
	select {
	case f.queue <- item:
	default:
		select {
		case old := <-f.queue:
			f.mu.Lock()
			f.drops[old.source.ID]++
			f.mu.Unlock()
		default:
		}
		select {
		case f.queue <- item:
		default:
		}
	}
}

func (f *Fabric) normalizeLoop(ctx context.Context) {
	defer f.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case item := <-f.queue:
			f.normalize(ctx, item)
		}
	}
}

func (f *Fabric) normalize(ctx context.Context, item queuedRecord) {
	if err := f.validate.Struct(item.raw); err != nil {
		if f.log != nil {
			f.log.Info("rejected ingestion record", zap.String("source", item.source.ID), zap.Error(err))
		}
		return
	}

	result, err := transform(item.source, item.raw)
	if err != nil {
		if f.log != nil {
			f.log.Info("transform rejected record", zap.String("source", item.source.ID), zap.Error(err))
		}
		return
	}

	if result.Clearance != nil {
		f.store.UpsertClearance(*result.Clearance, item.raw.Timestamp)
		return
	}

	if result.SensorFrame != nil {
		if err := f.store.SensorAppend(ctx, *result.SensorFrame); err != nil && f.log != nil {
			f.log.Warn("sensor append failed", zap.String("source", item.source.ID), zap.Error(err))
		}
		for _, anomaly := range result.SensorFrame.Anomalies {
			if f.publisher == nil {
				continue
			}
			evt, err := events.New(events.TopicAlertWarning, "", "", events.AlertData{
				TrainsetID: result.SensorFrame.TrainsetID,
				Message:    anomaly,
			})
			if err == nil {
				f.publisher.Publish(events.TopicAlertWarning, evt)
			}
		}
	}

	for _, delta := range result.Deltas {
		applyResult, err := f.store.Apply(ctx, delta, result.Meta)
		if err != nil {
			if f.log != nil {
				f.log.Warn("apply rejected delta", zap.String("source", item.source.ID), zap.String("field", delta.Field), zap.Error(err))
			}
			continue
		}
		if applyResult.Conflict != nil && f.publisher != nil {
			evt, err := events.New(events.TopicIngestionConflict, "", "", events.ConflictData{
				ConflictID: applyResult.Conflict.ID.String(),
				FieldPath:  applyResult.Conflict.FieldPath,
				TrainsetID: applyResult.Conflict.TrainsetID,
				Resolution: string(applyResult.Conflict.Resolution),
			})
			if err == nil {
				f.publisher.Publish(events.TopicIngestionConflict, evt)
			}
		}
	}
}

// ErrRejected wraps a transformer-level validation failure distinct
// from struct-shape validation (§7 kind 1, Validation).
type ErrRejected struct {
	Reason string
}

func (e *ErrRejected) Error() string { return fmt.Sprintf("ingestion record rejected: %s", e.Reason) }
