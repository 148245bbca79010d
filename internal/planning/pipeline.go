// Package planning implements the plan-building pipeline behind the
// Planning API (§6, served by internal/api): the orchestration that chains C3 (scoring) -> C4 (ensemble solver) -> C5 (constraint
// repair) -> C6 (stabling) into one InductionPlan, shared by the
// real-time cycle controller (C7) and the scenario simulator (C9).
// Grounded on the teacher's internal/matching.Engine, which sequences
// its own independent stages (validate -> match -> settle) behind one
// exported entry point.
package planning

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/kmrl/induction/internal/config"
	"github.com/kmrl/induction/internal/repair"
	"github.com/kmrl/induction/internal/scoring"
	"github.com/kmrl/induction/internal/solver"
	"github.com/kmrl/induction/internal/stabling"
	"github.com/kmrl/induction/internal/store"
	"github.com/kmrl/induction/pkg/domain"
)

// ProgressFunc receives the §4.7 progress percentages {10,40,80,100}.
type ProgressFunc func(percent int)

// Build runs the full C3->C4->C5->C6 pipeline over snap and returns
// the resulting plan. A repair.ErrUnresolvableConstraints does not
// abort the run: the plan is still returned, marked Infeasible, with a
// constraint-satisfaction ratio of 0 (so its confidence is 0.5 plus the
// ML term, at most 0.8) and per-Decision conflict tags, per §7/§8's "N=0
// or infeasible still yields a published plan" requirement.
func Build(ctx context.Context, snap store.FleetSnapshot, cfg *config.Config, depotID string, planCounter int, rng *rand.Rand, energyByTrainset map[string]float64, leaseCache *stabling.BayLeaseCache, progress ProgressFunc) (*domain.InductionPlan, error) {
	report := func(p int) {
		if progress != nil {
			progress(p)
		}
	}

	if len(snap.Trainsets) == 0 {
		report(10)
		report(40)
		report(80)
		report(100)
		return &domain.InductionPlan{
			ID:          domain.NewPlanID(depotID, snap.TakenAt, planCounter),
			GeneratedAt: snap.TakenAt,
			DepotID:     depotID,
			Decisions:   map[string]*domain.Decision{},
			Confidence:  1.0,
		}, nil
	}

	coeffs := scoring.Compute(snap, energyByTrainset)
	report(10)

	bounds := solver.Bounds{MinService: cfg.MinService, MaxMaintenance: cfg.MaxMaintenance}
	params := solver.Params{
		Population: cfg.SolverPopulation, Generations: cfg.SolverGenerations,
		CrossoverRate: cfg.SolverCrossoverRate, MutationRate: cfg.SolverMutationRate,
		SAInitialTemp: cfg.SAInitialTemp, SACooling: cfg.SACooling, SAMinTemp: cfg.SAMinTemp,
		Mode: cfg.SolverMode,
	}
	labels, scores, err := solver.Run(ctx, snap, coeffs, bounds, params, rng)
	if err != nil {
		return nil, fmt.Errorf("ensemble solver: %w", err)
	}
	report(40)

	decisions, repairErr := repair.Run(snap, coeffs, labels, cfg.MinService, cfg.MaxMaintenance)

	bays := make([]domain.Bay, 0, len(snap.Bays))
	for _, b := range snap.Bays {
		bays = append(bays, b)
	}
	sort.Slice(bays, func(i, j int) bool { return bays[i].ID < bays[j].ID })

	stableResult := stabling.Run(ctx, snap.Trainsets, decisions, bays, cfg.StablingMaxSimultaneousMoves, leaseCache)
	report(80)

	constraintSatisfactionRatio := 1.0
	var infeasibleReasons []string
	if repairErr != nil {
		constraintSatisfactionRatio = 0.0
		infeasibleReasons = append(infeasibleReasons, repairErr.Error())
	}

	plan := &domain.InductionPlan{
		ID:          domain.NewPlanID(depotID, snap.TakenAt, planCounter),
		GeneratedAt: snap.TakenAt,
		DepotID:     depotID,
		Decisions:   stableResult.Decisions,
		Moves:       stableResult.Waves,
		Metrics: computeMetrics(snap, stableResult.Decisions, stableResult.Waves, cfg.MinService, cfg.MaxMaintenance, cfg.StablingBaselineMoves, constraintSatisfactionRatio, mlConfidenceOf(scores, coeffs)),
		Infeasible:        repairErr != nil,
		InfeasibleReasons: infeasibleReasons,
	}
	plan.Confidence = computeConfidence(constraintSatisfactionRatio, mlConfidenceOf(scores, coeffs))
	report(100)

	return plan, nil
}

// mlConfidenceOf approximates the ensemble's own agreement signal: the
// mean winning-label score relative to the mean magnitude of the
// underlying coefficients, clamped to [0,1].
func mlConfidenceOf(scores map[string]float64, coeffs scoring.Coefficients) float64 {
	if len(scores) == 0 {
		return 1.0
	}
	var scoreSum, coeffMagSum float64
	for id, s := range scores {
		scoreSum += s
		coeffMagSum += abs(coeffs[id])
	}
	if coeffMagSum == 0 {
		return 1.0
	}
	v := (scoreSum / float64(len(scores))) / (coeffMagSum / float64(len(scores)))
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
