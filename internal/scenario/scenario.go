// Package scenario implements Scenario & Feedback (C9): hypothetical
// what-if re-runs of the planning pipeline against a patched snapshot,
// and an append-only operator feedback log. Grounded on the teacher's
// internal/risk package, which already runs its scoring pass against
// both the live book and hypothetical what-if positions without
// mutating the live book.
package scenario

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/kmrl/induction/internal/config"
	"github.com/kmrl/induction/internal/planning"
	"github.com/kmrl/induction/internal/store"
	"github.com/kmrl/induction/pkg/domain"
)

// FieldPatch overrides one field on one trainset in a cloned snapshot.
type FieldPatch struct {
	TrainsetID string
	Field      string
	Value      interface{}
}

// ErrInvalidPatch is returned when a patch targets an unknown field or
// a trainset absent from the snapshot.
type ErrInvalidPatch struct {
	Reason string
}

func (e *ErrInvalidPatch) Error() string { return "invalid scenario patch: " + e.Reason }

// Simulate clones snap, applies patch, and runs the C3-C6 pipeline
// against the clone without publishing any event — it returns a
// hypothetical plan only, per §4.9.
func Simulate(ctx context.Context, snap store.FleetSnapshot, cfg *config.Config, depotID string, patch []FieldPatch, rng *rand.Rand) (*domain.InductionPlan, error) {
	clone := cloneSnapshot(snap)

	for _, p := range patch {
		ts, ok := clone.Trainsets[p.TrainsetID]
		if !ok {
			return nil, &ErrInvalidPatch{Reason: fmt.Sprintf("unknown trainset %q", p.TrainsetID)}
		}
		if err := applyFieldPatch(&ts, p.Field); err != nil {
			return nil, err
		}
		applyFieldValue(&ts, p.Field, p.Value)
		clone.Trainsets[p.TrainsetID] = ts
	}

	// leaseCache is nil: a hypothetical run must never observe or record
	// live bay leases alongside the real-time cycle controller's runs.
	return planning.Build(ctx, clone, cfg, depotID, 0, rng, nil, nil, nil)
}

func cloneSnapshot(snap store.FleetSnapshot) store.FleetSnapshot {
	clone := store.FleetSnapshot{
		Trainsets:  make(map[string]domain.Trainset, len(snap.Trainsets)),
		Bays:       make(map[string]domain.Bay, len(snap.Bays)),
		Clearances: make(map[string][]domain.Clearance, len(snap.Clearances)),
		TakenAt:    snap.TakenAt,
	}
	for id, ts := range snap.Trainsets {
		cp := ts
		cp.CertificateExpiry = make(map[domain.Department]time.Time, len(ts.CertificateExpiry))
		for k, v := range ts.CertificateExpiry {
			cp.CertificateExpiry[k] = v
		}
		cp.OpenJobs = append([]domain.JobCard(nil), ts.OpenJobs...)
		clone.Trainsets[id] = cp
	}
	for id, b := range snap.Bays {
		clone.Bays[id] = b
	}
	for id, cl := range snap.Clearances {
		clone.Clearances[id] = append([]domain.Clearance(nil), cl...)
	}
	clone.Conflicts = append([]domain.Conflict(nil), snap.Conflicts...)
	return clone
}

func applyFieldPatch(ts *domain.Trainset, field string) error {
	switch field {
	case "fitness_score", "mileage_km", "operational_clearance", "needs_cleaning", "needs_inspection", "status", "current_bay":
		return nil
	default:
		return &ErrInvalidPatch{Reason: fmt.Sprintf("unknown field %q", field)}
	}
}

func applyFieldValue(ts *domain.Trainset, field string, value interface{}) {
	switch field {
	case "fitness_score":
		if f, ok := toFloat(value); ok {
			ts.FitnessScore = f
		}
	case "mileage_km":
		if f, ok := toFloat(value); ok {
			ts.MileageKM = int64(f)
		}
	case "operational_clearance":
		if b, ok := value.(bool); ok {
			ts.OperationalClearance = b
		}
	case "needs_cleaning":
		if b, ok := value.(bool); ok {
			ts.NeedsCleaning = b
		}
	case "needs_inspection":
		if b, ok := value.(bool); ok {
			ts.NeedsInspection = b
		}
	case "status":
		if s, ok := value.(string); ok {
			ts.Status = domain.TrainsetStatus(s)
		}
	case "current_bay":
		if s, ok := value.(string); ok {
			ts.CurrentBay = s
		}
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
