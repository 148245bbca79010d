package solver

import (
	"context"
	"math"
	"time"

	"github.com/kmrl/induction/internal/scoring"
	"github.com/kmrl/induction/internal/store"
	"github.com/kmrl/induction/pkg/domain"
)

// bigM is the Big-M penalty used to drive the artificial variable for
// the minService ≥ constraint out of the basis.
const bigM = 1e6

// runLP builds and solves the §4.4 simplex relaxation: N decision
// variables xi ∈ [0,1], objective coefficients from §4.3, and the
// three hard constraints (i) Σxi ≥ minService, (ii) Σ[openJobs>0]xi ≤
// maxMaintenance, (iii) Σ[daysToExpiry<7]xi ≤ 5. Box constraints
// xi ≤ 1 are folded in as additional rows. Pivoting uses the min-ratio
// rule; if the tableau cannot reach a feasible basis, the best
// feasible solution observed during pivoting is returned rather than
// an error, per §4.4's "not a crash" clause.
func runLP(ctx context.Context, order []string, snap store.FleetSnapshot, coeffs scoring.Coefficients, bounds Bounds) Result {
	n := len(order)
	if n == 0 {
		return Result{Labels: map[string]domain.DecisionLabel{}, Scores: map[string]float64{}}
	}

	now := snap.TakenAt
	if now.IsZero() {
		now = time.Now()
	}

	maintFlag := make([]float64, n)
	expiryFlag := make([]float64, n)
	for i, id := range order {
		ts := snap.Trainsets[id]
		if len(ts.OpenJobs) > 0 {
			maintFlag[i] = 1
		}
		if expiry, ok := ts.EarliestCertificateExpiry(); ok && expiry.Sub(now) < 7*24*time.Hour {
			expiryFlag[i] = 1
		}
	}

	tb := buildTableau(order, coeffs, maintFlag, expiryFlag, float64(bounds.MinService), float64(bounds.MaxMaintenance), 5)

	best := tb.clone()
	bestObjective := math.Inf(-1)

	const maxIterations = 5000
	for iter := 0; iter < maxIterations; iter++ {
		if cancelled(ctx) {
			break
		}
		if obj := tb.objectiveValue(); obj > bestObjective && tb.isFeasible() {
			bestObjective = obj
			best = tb.clone()
		}

		pivotCol, ok := tb.choosePivotColumn()
		if !ok {
			break // optimal for this basis
		}
		pivotRow, ok := tb.choosePivotRow(pivotCol)
		if !ok {
			break // unbounded: keep the best feasible basis seen so far
		}
		tb.pivot(pivotRow, pivotCol)
	}

	if obj := tb.objectiveValue(); obj > bestObjective && tb.isFeasible() {
		best = tb.clone()
	}

	x := best.solutionVector(n)

	labels := make(map[string]domain.DecisionLabel, n)
	scores := make(map[string]float64, n)
	for i, id := range order {
		labels[id] = labelFromThreshold(x[i], snap.Trainsets[id])
		scores[id] = coeffs[id]
	}
	return Result{Labels: labels, Scores: scores}
}

// labelFromThreshold maps a continuous allocation value to a label per
// §4.4: >0.7 IN_SERVICE, >0.3 STANDBY, EMERGENCY_REPAIR if the
// trainset carries an EMERGENCY job, else MAINTENANCE.
func labelFromThreshold(x float64, ts domain.Trainset) domain.DecisionLabel {
	if ts.HasEmergencyJob() {
		return domain.LabelEmergencyRepair
	}
	if x > 0.7 {
		return domain.LabelInService
	}
	if x > 0.3 {
		return domain.LabelStandby
	}
	return domain.LabelMaintenance
}
