package planning

import (
	"math"

	"github.com/kmrl/induction/internal/store"
	"github.com/kmrl/induction/pkg/domain"
	"github.com/kmrl/induction/pkg/money"
)

// computeMetrics derives the §4.8 aggregate PlanMetrics from the final
// decisions, the move waves, the fleet snapshot (for branding
// compliance and financial impact), and the constraint bounds used to
// produce the plan.
func computeMetrics(snap store.FleetSnapshot, decisions map[string]*domain.Decision, waves [][]domain.ShuntingMove, minService, maxMaintenance, baselineMoves int, constraintSatisfactionRatio, mlConfidence float64) domain.PlanMetrics {
	n := len(decisions)
	if n == 0 {
		return domain.PlanMetrics{
			ServiceAvailability:  1,
			PredictedPunctuality: 0.95,
		}
	}

	var totalScore float64
	serviceCount := 0
	maintenanceCount := 0
	for _, d := range decisions {
		totalScore += d.Score
		switch d.Label {
		case domain.LabelInService:
			serviceCount++
		case domain.LabelMaintenance, domain.LabelEmergencyRepair:
			maintenanceCount++
		}
	}

	var moveKWh float64
	for _, wave := range waves {
		for _, m := range wave {
			moveKWh += m.KWh
		}
	}

	var complianceSum float64
	var brandedCount int
	var serviceFinancialImpact money.Amount
	for id, ts := range snap.Trainsets {
		if ts.Branding == nil {
			continue
		}
		brandedCount++
		complianceSum += ts.Branding.Compliance()
		if d, ok := decisions[id]; ok && d.Label == domain.LabelInService {
			serviceFinancialImpact = serviceFinancialImpact.Add(ts.Branding.Revenue.Sub(ts.Branding.Penalty))
		}
	}
	brandingCompliance := 1.0
	if brandedCount > 0 {
		brandingCompliance = complianceSum / float64(brandedCount)
	}

	maintenanceEfficiency := 0.0
	if maxMaintenance > 0 {
		maintenanceEfficiency = float64(maintenanceCount) / float64(maxMaintenance)
	}

	serviceAvailability := float64(serviceCount) / float64(n)

	energySavings := float64(baselineMoves) - moveKWh

	predictedPunctuality := 0.95 + 0.045*math.Min(1, float64(serviceCount)/20)

	riskScore := riskScoreOf(snap, decisions, minService, serviceCount)

	financialImpact := serviceFinancialImpact.Abs().Float64()
	costBenefit := 0.0
	if financialImpact > 0 {
		costBenefit = float64(serviceCount) * 2000 / financialImpact
	}

	return domain.PlanMetrics{
		TotalScore:           totalScore / float64(n),
		ServiceAvailability:  serviceAvailability,
		MaintenanceEfficiency: maintenanceEfficiency,
		EnergySavings:        energySavings,
		BrandingCompliance:   brandingCompliance,
		PredictedPunctuality: predictedPunctuality,
		RiskScore:            riskScore,
		CostBenefit:          costBenefit,
	}
}

// riskScoreOf is a saturated (clamped to [0,1]) sum of a service
// shortfall penalty and an open-job backlog penalty, per §4.8's
// "saturated sum of backlog + shortfall penalties". Each open
// EMERGENCY/HIGH job card still outstanding after repair contributes
// to backlog risk; a shortfall below minService contributes directly.
func riskScoreOf(snap store.FleetSnapshot, decisions map[string]*domain.Decision, minService, serviceCount int) float64 {
	shortfall := 0
	if minService > serviceCount {
		shortfall = minService - serviceCount
	}
	shortfallPenalty := float64(shortfall) * 0.10

	backlogPenalty := 0.0
	for id, ts := range snap.Trainsets {
		d, ok := decisions[id]
		if !ok || d.Label == domain.LabelMaintenance || d.Label == domain.LabelEmergencyRepair {
			continue
		}
		for _, job := range ts.OpenJobs {
			switch job.Priority {
			case domain.PriorityEmergency:
				backlogPenalty += 0.05
			case domain.PriorityHigh:
				backlogPenalty += 0.02
			}
		}
	}

	risk := shortfallPenalty + backlogPenalty
	if risk > 1 {
		risk = 1
	}
	return risk
}

// computeConfidence implements §4.8's Confidence formula.
// constraintSatisfactionRatio is 1.0 when the repair pass resolves every
// constraint and 0.0 when it does not; mlConfidence is the ensemble
// solver's own agreement signal (mean label-score across trainsets,
// normalized to [0,1]).
func computeConfidence(constraintSatisfactionRatio, mlConfidence float64) float64 {
	return 0.5 + 0.2*constraintSatisfactionRatio + 0.3*mlConfidence
}
