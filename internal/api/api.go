// Package api wires the Planning API (§6): the single surface an
// embedding application drives to run cycles, read the current plan,
// simulate scenarios, submit manual overrides, and subscribe to
// events. It composes internal/cycle, internal/scenario, and
// internal/broadcast rather than containing pipeline logic itself.
package api

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kmrl/induction/internal/broadcast"
	"github.com/kmrl/induction/internal/config"
	"github.com/kmrl/induction/internal/cycle"
	"github.com/kmrl/induction/internal/scenario"
	"github.com/kmrl/induction/internal/store"
	"github.com/kmrl/induction/pkg/domain"
)

// ErrNotFound is returned by GetCurrentPlan/SubmitManualDecision when
// the referenced plan or trainset doesn't exist.
var ErrNotFound = fmt.Errorf("not found")

// ErrUnauthorized is returned by SubmitManualDecision when the bearer
// token fails verification or carries no subject.
var ErrUnauthorized = fmt.Errorf("unauthorized")

// manualOverrideClaims is the expected shape of a SubmitManualDecision
// bearer token, grounded on the teacher's internal/auth.Claims.
type manualOverrideClaims struct {
	AuthorizedBy string `json:"authorized_by"`
	jwt.RegisteredClaims
}

// API implements the §6 Planning API surface.
type API struct {
	store     *store.Store
	cfg       *config.Config
	cycle     *cycle.Controller
	bus       *broadcast.Bus
	plans     map[string]*domain.InductionPlan // planID -> plan, for SubmitManualDecision lookups
	jwtSecret string
}

// NewAPI wires the Planning API over an already-constructed Store,
// Controller, and Bus.
func NewAPI(st *store.Store, cfg *config.Config, ctrl *cycle.Controller, bus *broadcast.Bus, jwtSecret string) *API {
	return &API{
		store:     st,
		cfg:       cfg,
		cycle:     ctrl,
		bus:       bus,
		plans:     make(map[string]*domain.InductionPlan),
		jwtSecret: jwtSecret,
	}
}

// RunNightlyInduction runs the nightly pipeline for depotID.
func (a *API) RunNightlyInduction(ctx context.Context, depotID string, seed int64) (*domain.InductionPlan, error) {
	plan, err := a.cycle.RunNightlyInduction(ctx, depotID, seed)
	if err != nil {
		return nil, err
	}
	a.plans[plan.ID] = plan
	return plan, nil
}

// TriggerRealtimeCycle acks a real-time trigger and runs the pipeline.
func (a *API) TriggerRealtimeCycle(ctx context.Context, depotID, reason string, seed int64) (*domain.InductionPlan, error) {
	plan, err := a.cycle.TriggerRealtimeCycle(ctx, depotID, reason, seed)
	if err != nil {
		return nil, err
	}
	a.plans[plan.ID] = plan
	return plan, nil
}

// GetCurrentPlan returns the latest plan for depotID.
func (a *API) GetCurrentPlan(depotID string) (*domain.InductionPlan, error) {
	plan, err := a.cycle.GetCurrentPlan(depotID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, err)
	}
	return plan, nil
}

// SimulateScenario runs a hypothetical what-if pipeline over the
// current snapshot and returns the resulting plan without publishing
// anything or touching the current plan.
func (a *API) SimulateScenario(ctx context.Context, depotID string, patch []scenario.FieldPatch, seed int64) (*domain.InductionPlan, error) {
	snap := a.store.Snapshot()
	return scenario.Simulate(ctx, snap, a.cfg, depotID, patch, rand.New(rand.NewSource(seed)))
}

// SubmitManualDecision validates the bearer token's authorizedBy
// subject and applies a manual override to the named trainset's
// decision within the stored plan. Per §4.2, a manual override always
// wins priority ties and pins the field until its expiry.
func (a *API) SubmitManualDecision(ctx context.Context, planID, trainsetID string, newLabel domain.DecisionLabel, bearerToken string, expiry time.Time) (*domain.Decision, error) {
	authorizedBy, err := a.verifyBearer(bearerToken)
	if err != nil {
		return nil, err
	}
	if authorizedBy == "" {
		return nil, ErrUnauthorized
	}

	plan, ok := a.plans[planID]
	if !ok {
		return nil, fmt.Errorf("%w: plan %q", ErrNotFound, planID)
	}
	decision, ok := plan.Decisions[trainsetID]
	if !ok {
		return nil, fmt.Errorf("%w: trainset %q in plan %q", ErrNotFound, trainsetID, planID)
	}

	decision.Label = newLabel
	decision.Reasons = append(decision.Reasons, fmt.Sprintf("manually overridden to %s by %s", newLabel, authorizedBy))

	_, err = a.store.Apply(ctx, store.Delta{TrainsetID: trainsetID, Field: "status", Value: labelToStatus(newLabel)},
		store.SourceMeta{SourceID: "manual-override", Priority: 100, Timestamp: time.Now(), Manual: true, Expiry: expiry})
	if err != nil {
		return nil, err
	}

	return decision, nil
}

func (a *API) verifyBearer(bearerToken string) (string, error) {
	tokenString := strings.TrimPrefix(bearerToken, "Bearer ")
	if tokenString == "" {
		return "", ErrUnauthorized
	}

	token, err := jwt.ParseWithClaims(tokenString, &manualOverrideClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(a.jwtSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*manualOverrideClaims)
	if !ok || !token.Valid {
		return "", ErrUnauthorized
	}

	return claims.AuthorizedBy, nil
}

// SubscribeEvents opens a subscription for the given topics; an empty
// list subscribes to every topic. The caller reads Subscription.Events
// and must call Unsubscribe when done.
func (a *API) SubscribeEvents(topics []string) []*broadcast.Subscription {
	if len(topics) == 0 {
		return []*broadcast.Subscription{a.bus.Subscribe("")}
	}
	subs := make([]*broadcast.Subscription, 0, len(topics))
	for _, topic := range topics {
		subs = append(subs, a.bus.Subscribe(topic))
	}
	return subs
}

func labelToStatus(label domain.DecisionLabel) domain.TrainsetStatus {
	switch label {
	case domain.LabelInService:
		return domain.StatusInService
	case domain.LabelMaintenance, domain.LabelEmergencyRepair:
		return domain.StatusMaintenance
	default:
		return domain.StatusAvailable
	}
}
