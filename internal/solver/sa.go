package solver

import (
	"context"
	"math"
	"math/rand"

	"github.com/kmrl/induction/internal/scoring"
	"github.com/kmrl/induction/internal/store"
	"github.com/kmrl/induction/pkg/domain"
)

// runSA runs the §4.4 simulated-annealing search: initial T=100,
// cooling 0.95/step, stop below T=0.01; single-label-mutation
// neighbor; accept worsening moves with probability exp(-ΔE/T). The
// cancel token is checked once per temperature step.
func runSA(ctx context.Context, order []string, snap store.FleetSnapshot, coeffs scoring.Coefficients, bounds Bounds, params Params, rng *rand.Rand) Result {
	n := len(order)
	current := newRandomIndividual(n, rng)
	currentEnergy := saEnergy(order, current.labels, coeffs, bounds)

	best := current
	bestEnergy := currentEnergy

	temp := params.SAInitialTemp
	if temp <= 0 {
		temp = 100
	}
	cooling := params.SACooling
	if cooling <= 0 || cooling >= 1 {
		cooling = 0.95
	}
	minTemp := params.SAMinTemp
	if minTemp <= 0 {
		minTemp = 0.01
	}

	for temp > minTemp {
		if cancelled(ctx) {
			break
		}

		neighbor := current
		neighbor.labels = append([]domain.DecisionLabel(nil), current.labels...)
		idx := rng.Intn(n)
		neighbor.labels[idx] = gaLabels[rng.Intn(len(gaLabels))]
		neighborEnergy := saEnergy(order, neighbor.labels, coeffs, bounds)

		delta := neighborEnergy - currentEnergy
		if delta < 0 || rng.Float64() < math.Exp(-delta/temp) {
			current = neighbor
			currentEnergy = neighborEnergy
			if currentEnergy < bestEnergy {
				best = current
				bestEnergy = currentEnergy
			}
		}

		temp *= cooling
	}

	labels := make(map[string]domain.DecisionLabel, n)
	scores := make(map[string]float64, n)
	for i, id := range order {
		labels[id] = best.labels[i]
		scores[id] = coeffs[id]
	}
	return Result{Labels: labels, Scores: scores}
}

// saEnergy is the §4.4 penalty terms minus 10·Σscore: service
// shortfall costs 100/unit, maintenance overflow costs 50/unit.
func saEnergy(order []string, labels []domain.DecisionLabel, coeffs scoring.Coefficients, bounds Bounds) float64 {
	sum := 0.0
	for _, id := range order {
		sum += coeffs[id]
	}

	serviceCount := countLabel(order, labels, domain.LabelInService)
	shortfall := bounds.MinService - serviceCount
	if shortfall < 0 {
		shortfall = 0
	}

	maintCount := countLabel(order, labels, domain.LabelMaintenance) + countLabel(order, labels, domain.LabelEmergencyRepair)
	overflow := maintCount - bounds.MaxMaintenance
	if overflow < 0 {
		overflow = 0
	}

	return float64(shortfall)*100 + float64(overflow)*50 - 10*sum
}
