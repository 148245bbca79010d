// Package planstore provides PlanSink implementations: an in-memory
// default and a Postgres-backed adapter, kept interchangeable so the
// Fleet State Store's persistence choice stays external to the core
// (per §1, "persistence technology is not fixed by this design").
package planstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/kmrl/induction/pkg/domain"
)

// Memory is a PlanSink that keeps the latest plan per depot in
// process memory. It is the sink every cmd/ entry point constructs;
// none of them opens the Postgres sink, whatever POSTGRES_DSN holds.
type Memory struct {
	mu    sync.RWMutex
	plans map[string]*domain.InductionPlan
}

// NewMemory constructs an empty in-memory plan sink.
func NewMemory() *Memory {
	return &Memory{plans: make(map[string]*domain.InductionPlan)}
}

// SavePlan stores plan, replacing any prior plan for the same depot.
func (m *Memory) SavePlan(ctx context.Context, plan *domain.InductionPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *plan
	m.plans[plan.DepotID] = &cp
	return nil
}

// GetPlan returns the last saved plan for depotID.
func (m *Memory) GetPlan(ctx context.Context, depotID string) (*domain.InductionPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	plan, ok := m.plans[depotID]
	if !ok {
		return nil, fmt.Errorf("no plan saved for depot %q", depotID)
	}
	cp := *plan
	return &cp, nil
}
