package repair

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmrl/induction/internal/scoring"
	"github.com/kmrl/induction/internal/store"
	"github.com/kmrl/induction/pkg/domain"
)

func baseSnapshot(n int) store.FleetSnapshot {
	trainsets := make(map[string]domain.Trainset, n)
	for i := 0; i < n; i++ {
		id := string(rune('A' + i))
		trainsets[id] = domain.Trainset{ID: id, OperationalClearance: true, FitnessScore: 80, MileageKM: 1000}
	}
	return store.FleetSnapshot{Trainsets: trainsets, TakenAt: time.Now()}
}

func TestRunPromotesStandbyToMeetMinService(t *testing.T) {
	t.Run("promotes highest scoring standby trainsets until minService is met", func(t *testing.T) {
		snap := baseSnapshot(4)
		labels := map[string]domain.DecisionLabel{"A": domain.LabelStandby, "B": domain.LabelStandby, "C": domain.LabelStandby, "D": domain.LabelStandby}
		coeffs := scoring.Coefficients{"A": 0.9, "B": 0.8, "C": 0.2, "D": 0.1}

		decisions, err := Run(snap, coeffs, labels, 2, 4)
		require.NoError(t, err)

		assert.Equal(t, domain.LabelInService, decisions["A"].Label)
		assert.Equal(t, domain.LabelInService, decisions["B"].Label)
		assert.Equal(t, domain.LabelStandby, decisions["C"].Label)
		assert.NotEmpty(t, decisions["A"].Reasons)
	})
}

func TestRunDemotesExcessMaintenance(t *testing.T) {
	t.Run("demotes lowest scoring maintenance trainsets beyond the cap", func(t *testing.T) {
		snap := baseSnapshot(3)
		labels := map[string]domain.DecisionLabel{"A": domain.LabelMaintenance, "B": domain.LabelMaintenance, "C": domain.LabelMaintenance}
		coeffs := scoring.Coefficients{"A": 0.9, "B": 0.5, "C": 0.1}

		decisions, err := Run(snap, coeffs, labels, 0, 1)
		require.NoError(t, err)

		assert.Equal(t, domain.LabelMaintenance, decisions["A"].Label)
		assert.Equal(t, domain.LabelStandby, decisions["B"].Label)
		assert.Equal(t, domain.LabelStandby, decisions["C"].Label)
		assert.Contains(t, decisions["B"].ConflictTags, "MAINTENANCE_CAP_EXCEEDED")
	})
}

func TestRunForcesExpiringCertificateToMaintenance(t *testing.T) {
	t.Run("a trainset with a certificate expiring within 14 days is forced to maintenance", func(t *testing.T) {
		snap := baseSnapshot(2)
		ts := snap.Trainsets["A"]
		ts.CertificateExpiry = map[domain.Department]time.Time{domain.DeptRollingStock: snap.TakenAt.Add(3 * 24 * time.Hour)}
		snap.Trainsets["A"] = ts

		labels := map[string]domain.DecisionLabel{"A": domain.LabelInService, "B": domain.LabelStandby}
		coeffs := scoring.Coefficients{"A": 0.9, "B": 0.1}

		decisions, err := Run(snap, coeffs, labels, 0, 4)
		require.NoError(t, err)

		assert.Equal(t, domain.LabelMaintenance, decisions["A"].Label)
		assert.Contains(t, decisions["A"].ConflictTags, "EXPIRING_CERTIFICATE")
	})
}

func TestRunKeepsExpiringInServiceWhenCapacityScarce(t *testing.T) {
	t.Run("an expiring trainset stays in service when minService would otherwise be violated", func(t *testing.T) {
		snap := baseSnapshot(1)
		ts := snap.Trainsets["A"]
		ts.CertificateExpiry = map[domain.Department]time.Time{domain.DeptTelecom: snap.TakenAt.Add(2 * 24 * time.Hour)}
		snap.Trainsets["A"] = ts

		labels := map[string]domain.DecisionLabel{"A": domain.LabelInService}
		coeffs := scoring.Coefficients{"A": 0.9}

		decisions, err := Run(snap, coeffs, labels, 1, 4)
		require.NoError(t, err)

		assert.Equal(t, domain.LabelInService, decisions["A"].Label)
		assert.Contains(t, decisions["A"].ConflictTags, "EXPIRING_CERT_KEPT_IN_SERVICE_SCARCE_CAPACITY")
	})
}

func TestRunStripsUnjustifiedEmergencyRepair(t *testing.T) {
	t.Run("emergency repair without a matching job card is demoted to maintenance", func(t *testing.T) {
		snap := baseSnapshot(1)
		labels := map[string]domain.DecisionLabel{"A": domain.LabelEmergencyRepair}
		coeffs := scoring.Coefficients{"A": 0.5}

		decisions, err := Run(snap, coeffs, labels, 0, 4)
		require.NoError(t, err)

		assert.Equal(t, domain.LabelMaintenance, decisions["A"].Label)
	})
}

func TestRunKeepsJustifiedEmergencyRepair(t *testing.T) {
	t.Run("emergency repair with a matching job card is preserved", func(t *testing.T) {
		snap := baseSnapshot(1)
		ts := snap.Trainsets["A"]
		ts.OpenJobs = []domain.JobCard{{Priority: domain.PriorityEmergency}}
		snap.Trainsets["A"] = ts

		labels := map[string]domain.DecisionLabel{"A": domain.LabelEmergencyRepair}
		coeffs := scoring.Coefficients{"A": 0.5}

		decisions, err := Run(snap, coeffs, labels, 0, 4)
		require.NoError(t, err)

		assert.Equal(t, domain.LabelEmergencyRepair, decisions["A"].Label)
	})
}
