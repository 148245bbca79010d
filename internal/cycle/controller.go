// Package cycle implements the Real-Time Cycle Controller (C7): it
// owns a cancellable task per running induction cycle, enforces "at
// most one nightly cycle active", publishes progress to C8, and
// persists the resulting plan. Grounded on the teacher's
// internal/matching.Engine run-loop, which owns its own lifecycle
// (start, cancel, single active instance) around a core computation.
package cycle

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"github.com/kmrl/induction/internal/config"
	"github.com/kmrl/induction/internal/planning"
	"github.com/kmrl/induction/internal/stabling"
	"github.com/kmrl/induction/internal/store"
	"github.com/kmrl/induction/pkg/domain"
	"github.com/kmrl/induction/shared/events"
)

// Controller runs nightly and real-time induction cycles against a
// Store, publishing progress through a Publisher and persisting the
// result via a PlanSink.
type Controller struct {
	store      *store.Store
	cfg        *config.Config
	publisher  events.Publisher
	sink       store.PlanSink
	lease      *nightlyLease
	leaseCache *stabling.BayLeaseCache
	log        *zap.Logger

	mu          sync.RWMutex
	currentPlan map[string]*domain.InductionPlan // depotID -> latest
	planCounter int
	lastGoodID  map[string]string
}

// New builds a Controller. etcdEndpoints may be empty to use the
// in-process lease fallback. cfg.RedisStablingURL may be empty to use
// a no-op bay-lease cache.
func New(st *store.Store, cfg *config.Config, publisher events.Publisher, sink store.PlanSink, etcdEndpoints []string, log *zap.Logger) (*Controller, error) {
	lease, err := newNightlyLease(etcdEndpoints)
	if err != nil {
		return nil, err
	}
	return &Controller{
		store:       st,
		cfg:         cfg,
		publisher:   publisher,
		sink:        sink,
		lease:       lease,
		leaseCache:  stabling.NewBayLeaseCache(cfg.RedisStablingURL, stabling.DefaultLeaseTTL),
		log:         log,
		currentPlan: make(map[string]*domain.InductionPlan),
		lastGoodID:  make(map[string]string),
	}, nil
}

// RunNightlyInduction captures a C1 snapshot and runs the full
// pipeline for depotID, publishing progress and persisting the result.
// Returns ErrCycleInFlight if a nightly cycle for any depot is already
// running, since §4.7 scopes "at most one nightly cycle" globally.
func (c *Controller) RunNightlyInduction(ctx context.Context, depotID string, seed int64) (*domain.InductionPlan, error) {
	release, err := c.lease.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return c.runCycle(ctx, depotID, seed)
}

// TriggerRealtimeCycle is the ack-and-run entry point for timer,
// manual, or "urgent conflict" triggers (§4.7). It runs the same
// pipeline as RunNightlyInduction but does not take the nightly lease:
// monitoring cycles run at any cadence alongside a nightly cycle.
func (c *Controller) TriggerRealtimeCycle(ctx context.Context, depotID, reason string, seed int64) (*domain.InductionPlan, error) {
	if c.log != nil {
		c.log.Info("real-time cycle triggered", zap.String("depot", depotID), zap.String("reason", reason))
	}
	return c.runCycle(ctx, depotID, seed)
}

func (c *Controller) runCycle(ctx context.Context, depotID string, seed int64) (*domain.InductionPlan, error) {
	cycleCtx, cancel := context.WithTimeout(ctx, c.cfg.CycleTimeout)
	defer cancel()

	c.mu.Lock()
	c.planCounter++
	counter := c.planCounter
	c.mu.Unlock()

	snap := c.store.Snapshot()
	rng := rand.New(rand.NewSource(seed))

	// planID is derived from snap.TakenAt, the same timestamp
	// planning.Build uses to build plan.ID, so the STARTED/PROGRESS
	// events below and the COMPLETED event published after Build
	// returns always carry the same plan id.
	planID := domain.NewPlanID(depotID, snap.TakenAt, counter)
	c.publish(events.TopicPlanStarted, planID, depotID, map[string]string{"depot": depotID})

	plan, err := planning.Build(cycleCtx, snap, c.cfg, depotID, counter, rng, nil, c.leaseCache, func(percent int) {
		c.publish(events.TopicPlanProgress, planID, depotID, events.ProgressData{Percent: percent})
	})

	if err != nil {
		phase := "solve"
		cause := err.Error()
		if cycleCtx.Err() != nil {
			c.publish(events.TopicPlanCancelled, planID, depotID, events.FailedData{Phase: phase, Cause: "cancelled", LastGoodPlan: c.lastGoodID[depotID]})
			return nil, fmt.Errorf("cycle cancelled: %w", cycleCtx.Err())
		}
		c.publish(events.TopicPlanFailed, planID, depotID, events.FailedData{Phase: phase, Cause: cause, LastGoodPlan: c.lastGoodID[depotID]})
		return nil, err
	}

	if err := c.sink.SavePlan(ctx, plan); err != nil && c.log != nil {
		c.log.Warn("failed to persist plan", zap.Error(err))
	}

	c.mu.Lock()
	c.currentPlan[depotID] = plan
	c.lastGoodID[depotID] = plan.ID
	c.mu.Unlock()

	c.publish(events.TopicPlanCompleted, plan.ID, depotID, plan.Metrics)
	return plan, nil
}

// GetCurrentPlan returns the latest plan for depotID, or an error if
// none has been produced yet.
func (c *Controller) GetCurrentPlan(depotID string) (*domain.InductionPlan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	plan, ok := c.currentPlan[depotID]
	if !ok {
		return nil, fmt.Errorf("no plan found for depot %q", depotID)
	}
	return plan, nil
}

func (c *Controller) publish(topic, planID, depotID string, data interface{}) {
	if c.publisher == nil {
		return
	}
	evt, err := events.New(topic, planID, depotID, data)
	if err != nil {
		return
	}
	c.publisher.Publish(topic, evt)
}

// Close releases the controller's etcd connection, if any.
func (c *Controller) Close() {
	c.lease.Close()
}
