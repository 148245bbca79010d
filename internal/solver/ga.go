package solver

import (
	"context"
	"math/rand"
	"sort"

	"github.com/kmrl/induction/internal/scoring"
	"github.com/kmrl/induction/internal/store"
	"github.com/kmrl/induction/pkg/domain"
)

var gaLabels = []domain.DecisionLabel{domain.LabelInService, domain.LabelStandby, domain.LabelMaintenance, domain.LabelEmergencyRepair}

type individual struct {
	labels  []domain.DecisionLabel
	fitness float64
}

// runGA runs the §4.4 genetic algorithm: population 100, generations
// 50, crossover 0.7, mutation 0.1, tournament-5 selection, top-10%
// elitism. The cancel token is checked once per generation.
func runGA(ctx context.Context, order []string, snap store.FleetSnapshot, coeffs scoring.Coefficients, bounds Bounds, params Params, rng *rand.Rand) Result {
	n := len(order)
	pop := make([]individual, params.Population)
	for i := range pop {
		pop[i] = newRandomIndividual(n, rng)
		pop[i].fitness = gaFitness(order, pop[i].labels, coeffs, bounds)
	}

	eliteCount := params.Population / 10
	if eliteCount < 1 {
		eliteCount = 1
	}

	for gen := 0; gen < params.Generations; gen++ {
		if cancelled(ctx) {
			break
		}

		sort.Slice(pop, func(i, j int) bool { return pop[i].fitness > pop[j].fitness })

		next := make([]individual, 0, params.Population)
		next = append(next, pop[:eliteCount]...)

		for len(next) < params.Population {
			parentA := tournamentSelect(pop, rng, 5)
			parentB := tournamentSelect(pop, rng, 5)

			child := parentA
			if rng.Float64() < params.CrossoverRate {
				child = crossover(parentA, parentB, rng)
			}
			mutate(&child, params.MutationRate, rng)
			child.fitness = gaFitness(order, child.labels, coeffs, bounds)
			next = append(next, child)
		}

		pop = next
	}

	sort.Slice(pop, func(i, j int) bool { return pop[i].fitness > pop[j].fitness })
	best := pop[0]

	labels := make(map[string]domain.DecisionLabel, n)
	scores := make(map[string]float64, n)
	for i, id := range order {
		labels[id] = best.labels[i]
		scores[id] = coeffs[id]
	}
	return Result{Labels: labels, Scores: scores}
}

func newRandomIndividual(n int, rng *rand.Rand) individual {
	labels := make([]domain.DecisionLabel, n)
	for i := range labels {
		labels[i] = gaLabels[rng.Intn(len(gaLabels))]
	}
	return individual{labels: labels}
}

func tournamentSelect(pop []individual, rng *rand.Rand, size int) individual {
	best := pop[rng.Intn(len(pop))]
	for i := 1; i < size; i++ {
		candidate := pop[rng.Intn(len(pop))]
		if candidate.fitness > best.fitness {
			best = candidate
		}
	}
	return best
}

func crossover(a, b individual, rng *rand.Rand) individual {
	n := len(a.labels)
	point := rng.Intn(n)
	labels := make([]domain.DecisionLabel, n)
	copy(labels[:point], a.labels[:point])
	copy(labels[point:], b.labels[point:])
	return individual{labels: labels}
}

func mutate(ind *individual, rate float64, rng *rand.Rand) {
	for i := range ind.labels {
		if rng.Float64() < rate {
			ind.labels[i] = gaLabels[rng.Intn(len(gaLabels))]
		}
	}
}

// gaFitness is coefficient sum plus a service-count bonus and a
// maintenance-overflow penalty, per §4.4.
func gaFitness(order []string, labels []domain.DecisionLabel, coeffs scoring.Coefficients, bounds Bounds) float64 {
	sum := 0.0
	for _, id := range order {
		sum += coeffs[id]
	}

	serviceCount := countLabel(order, labels, domain.LabelInService)
	if serviceCount >= bounds.MinService {
		sum += 100
	}

	maintCount := countLabel(order, labels, domain.LabelMaintenance) + countLabel(order, labels, domain.LabelEmergencyRepair)
	if overflow := maintCount - bounds.MaxMaintenance; overflow > 0 {
		sum -= 10 * float64(overflow)
	}

	return sum
}
