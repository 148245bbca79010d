// Package scoring implements the Feature & Scoring Layer (C3): the
// §4.3 scalar objective coefficient computed per trainset from a fleet
// snapshot. Grounded on the teacher's internal/risk package, which
// reduces an account's live positions to a handful of weighted scalar
// risk figures in the same "pure function over a snapshot" style.
package scoring

import (
	"math"

	"github.com/kmrl/induction/internal/store"
	"github.com/kmrl/induction/pkg/domain"
)

const (
	weightFitness       = 0.25
	weightMileage       = 0.20
	weightPriority      = 0.30
	weightExposure      = 0.15
	weightEnergy        = 0.10
	hardDemotionScore   = -10.0
	energyNormalization = 1000.0
)

// Coefficients maps trainset ID to its objective coefficient c, per
// §4.3. The map is dense over every trainset in the snapshot.
type Coefficients map[string]float64

// Compute derives the coefficient vector for every trainset in snap.
// energyByTrainset supplies each trainset's recent shunting energy
// consumption (kWh); trainsets absent from it are treated as 0.
func Compute(snap store.FleetSnapshot, energyByTrainset map[string]float64) Coefficients {
	mean := meanMileage(snap.Trainsets)

	coeffs := make(Coefficients, len(snap.Trainsets))
	for id, ts := range snap.Trainsets {
		coeffs[id] = coefficientFor(ts, mean, energyByTrainset[id])
	}
	return coeffs
}

func coefficientFor(ts domain.Trainset, meanMileage, energy float64) float64 {
	if !ts.OperationalClearance {
		return hardDemotionScore
	}

	mileageDeviation := 0.0
	if meanMileage > 0 {
		mileageDeviation = math.Abs(float64(ts.MileageKM)-meanMileage) / meanMileage
		if mileageDeviation > 1 {
			mileageDeviation = 1
		}
	}

	c := weightFitness*ts.FitnessScore/100 +
		weightMileage*(1-mileageDeviation) -
		weightPriority*ts.OpenJobPriorityWeight()

	if ts.Branding != nil {
		exposureRatio := 0.0
		if ts.Branding.TargetHours > 0 {
			exposureRatio = ts.Branding.AccumulatedHours / ts.Branding.TargetHours
		}
		bonus := 1 - exposureRatio
		if bonus < 0 {
			bonus = 0
		}
		c += weightExposure * bonus
	}

	energyTerm := 1 - energy/energyNormalization
	c += weightEnergy * energyTerm

	return c
}

func meanMileage(trainsets map[string]domain.Trainset) float64 {
	if len(trainsets) == 0 {
		return 0
	}
	var sum float64
	for _, ts := range trainsets {
		sum += float64(ts.MileageKM)
	}
	return sum / float64(len(trainsets))
}
