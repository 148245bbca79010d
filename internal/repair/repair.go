// Package repair implements the Constraint Repairer (C5): promotion
// and demotion passes over the ensembled labels until every §4.5
// constraint holds or a 10-iteration fixed-point cap is hit.
// Grounded on the teacher's internal/risk limit-enforcement passes,
// which iterate a position set applying corrective actions until
// limits are satisfied or a cap is reached.
package repair

import (
	"fmt"
	"sort"

	"github.com/kmrl/induction/internal/scoring"
	"github.com/kmrl/induction/internal/store"
	"github.com/kmrl/induction/pkg/domain"
)

const maxIterations = 10
const expiringFitnessDays = 14

// ErrUnresolvableConstraints is raised when the fixed-point pass does
// not converge within the iteration cap.
type ErrUnresolvableConstraints struct {
	Iterations int
}

func (e *ErrUnresolvableConstraints) Error() string {
	return fmt.Sprintf("constraints not resolved after %d iterations", e.Iterations)
}

// Run repairs labels in place, returning the final Decision set. If
// the fixed point isn't reached within the cap, it returns the
// best-effort result alongside ErrUnresolvableConstraints so the
// caller can still emit a plan, per §4.5/§7 (Infeasible plans are
// still published).
func Run(snap store.FleetSnapshot, coeffs scoring.Coefficients, labels map[string]domain.DecisionLabel, minService, maxMaintenance int) (map[string]*domain.Decision, error) {
	decisions := make(map[string]*domain.Decision, len(labels))
	for id, label := range labels {
		decisions[id] = &domain.Decision{TrainsetID: id, Label: label, Score: coeffs[id]}
	}

	var lastErr error
	for iter := 0; iter < maxIterations; iter++ {
		changed := false

		if promoteForMinService(snap, coeffs, decisions, minService) {
			changed = true
		}
		if demoteForMaxMaintenance(snap, decisions, maxMaintenance) {
			changed = true
		}
		if forceExpiringToMaintenance(snap, decisions, minService) {
			changed = true
		}
		if stripUnjustifiedEmergencyRepair(snap, decisions) {
			changed = true
		}

		if !changed {
			lastErr = nil
			return decisions, nil
		}
	}

	lastErr = &ErrUnresolvableConstraints{Iterations: maxIterations}
	return decisions, lastErr
}

// promoteForMinService promotes the highest-scoring STANDBY decisions
// to IN_SERVICE until the minimum service count is met.
func promoteForMinService(snap store.FleetSnapshot, coeffs scoring.Coefficients, decisions map[string]*domain.Decision, minService int) bool {
	serviceCount := countLabel(decisions, domain.LabelInService)
	if serviceCount >= minService {
		return false
	}

	candidates := standbyByScoreDesc(decisions)
	changed := false
	for _, d := range candidates {
		if serviceCount >= minService {
			break
		}
		d.Label = domain.LabelInService
		d.Reasons = append(d.Reasons, "promoted to IN_SERVICE to satisfy minimum service count")
		serviceCount++
		changed = true
	}
	return changed
}

// demoteForMaxMaintenance demotes the lowest-priority excess
// MAINTENANCE/EMERGENCY_REPAIR decisions to STANDBY.
func demoteForMaxMaintenance(snap store.FleetSnapshot, decisions map[string]*domain.Decision, maxMaintenance int) bool {
	maint := maintenanceByScoreAsc(decisions)
	excess := len(maint) - maxMaintenance
	if excess <= 0 {
		return false
	}

	changed := false
	for i := 0; i < excess && i < len(maint); i++ {
		d := maint[i]
		if d.Label == domain.LabelEmergencyRepair {
			continue // never demote a justified emergency repair
		}
		d.Label = domain.LabelStandby
		d.Reasons = append(d.Reasons, "demoted to STANDBY: maintenance slot cap exceeded")
		d.ConflictTags = append(d.ConflictTags, "MAINTENANCE_CAP_EXCEEDED")
		changed = true
	}
	return changed
}

// forceExpiringToMaintenance pushes trainsets with certificates
// expiring within 14 days into MAINTENANCE, unless service is already
// scarce enough that doing so would violate minService.
func forceExpiringToMaintenance(snap store.FleetSnapshot, decisions map[string]*domain.Decision, minService int) bool {
	changed := false
	for id, d := range decisions {
		ts := snap.Trainsets[id]
		expiry, ok := ts.EarliestCertificateExpiry()
		if !ok || d.Label == domain.LabelMaintenance || d.Label == domain.LabelEmergencyRepair {
			continue
		}
		daysLeft := expiry.Sub(snap.TakenAt).Hours() / 24
		if daysLeft >= expiringFitnessDays {
			continue
		}

		if d.Label == domain.LabelInService && countLabel(decisions, domain.LabelInService) <= minService {
			d.ConflictTags = append(d.ConflictTags, "EXPIRING_CERT_KEPT_IN_SERVICE_SCARCE_CAPACITY")
			continue
		}

		d.Label = domain.LabelMaintenance
		d.Reasons = append(d.Reasons, "forced to MAINTENANCE: certificate expires within 14 days")
		d.ConflictTags = append(d.ConflictTags, "EXPIRING_CERTIFICATE")
		changed = true
	}
	return changed
}

// stripUnjustifiedEmergencyRepair demotes any EMERGENCY_REPAIR
// decision whose trainset carries no EMERGENCY job card.
func stripUnjustifiedEmergencyRepair(snap store.FleetSnapshot, decisions map[string]*domain.Decision) bool {
	changed := false
	for id, d := range decisions {
		if d.Label != domain.LabelEmergencyRepair {
			continue
		}
		if snap.Trainsets[id].HasEmergencyJob() {
			continue
		}
		d.Label = domain.LabelMaintenance
		d.Reasons = append(d.Reasons, "demoted from EMERGENCY_REPAIR: no EMERGENCY job card present")
		changed = true
	}
	return changed
}

func countLabel(decisions map[string]*domain.Decision, label domain.DecisionLabel) int {
	n := 0
	for _, d := range decisions {
		if d.Label == label {
			n++
		}
	}
	return n
}

func standbyByScoreDesc(decisions map[string]*domain.Decision) []*domain.Decision {
	var out []*domain.Decision
	for _, d := range decisions {
		if d.Label == domain.LabelStandby {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].TrainsetID < out[j].TrainsetID
	})
	return out
}

func maintenanceByScoreAsc(decisions map[string]*domain.Decision) []*domain.Decision {
	var out []*domain.Decision
	for _, d := range decisions {
		if d.Label == domain.LabelMaintenance || d.Label == domain.LabelEmergencyRepair {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].TrainsetID < out[j].TrainsetID
	})
	return out
}
