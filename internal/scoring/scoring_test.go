package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kmrl/induction/internal/store"
	"github.com/kmrl/induction/pkg/domain"
)

func snapshotWith(trainsets map[string]domain.Trainset) store.FleetSnapshot {
	return store.FleetSnapshot{Trainsets: trainsets}
}

func TestComputeHardDemotesWithoutClearance(t *testing.T) {
	t.Run("trainset lacking operational clearance gets -10", func(t *testing.T) {
		snap := snapshotWith(map[string]domain.Trainset{
			"TS-1": {ID: "TS-1", OperationalClearance: false, FitnessScore: 90, MileageKM: 1000},
		})
		coeffs := Compute(snap, nil)
		assert.Equal(t, -10.0, coeffs["TS-1"])
	})
}

func TestComputeWeightsFitnessMileageAndJobs(t *testing.T) {
	t.Run("higher fitness and no open jobs score higher than a job-laden peer", func(t *testing.T) {
		snap := snapshotWith(map[string]domain.Trainset{
			"TS-A": {ID: "TS-A", OperationalClearance: true, FitnessScore: 100, MileageKM: 50000},
			"TS-B": {
				ID: "TS-B", OperationalClearance: true, FitnessScore: 100, MileageKM: 50000,
				OpenJobs: []domain.JobCard{{Priority: domain.PriorityEmergency}},
			},
		})
		coeffs := Compute(snap, nil)
		assert.Greater(t, coeffs["TS-A"], coeffs["TS-B"])
	})
}

func TestComputeZeroMeanMileageDoesNotDivideByZero(t *testing.T) {
	t.Run("all-zero mileage fleet does not panic or produce NaN", func(t *testing.T) {
		snap := snapshotWith(map[string]domain.Trainset{
			"TS-1": {ID: "TS-1", OperationalClearance: true, FitnessScore: 80, MileageKM: 0},
			"TS-2": {ID: "TS-2", OperationalClearance: true, FitnessScore: 80, MileageKM: 0},
		})
		coeffs := Compute(snap, nil)
		for _, c := range coeffs {
			assert.False(t, isNaN(c))
		}
	})
}

func TestComputeBrandingExposureBonus(t *testing.T) {
	t.Run("a trainset under its branding exposure target scores higher than one over it", func(t *testing.T) {
		snap := snapshotWith(map[string]domain.Trainset{
			"TS-UNDER": {
				ID: "TS-UNDER", OperationalClearance: true, FitnessScore: 80, MileageKM: 1000,
				Branding: &domain.BrandingContract{TargetHours: 100, AccumulatedHours: 10},
			},
			"TS-OVER": {
				ID: "TS-OVER", OperationalClearance: true, FitnessScore: 80, MileageKM: 1000,
				Branding: &domain.BrandingContract{TargetHours: 100, AccumulatedHours: 150},
			},
		})
		coeffs := Compute(snap, nil)
		assert.Greater(t, coeffs["TS-UNDER"], coeffs["TS-OVER"])
	})
}

func isNaN(f float64) bool { return f != f }
