// Package domain holds the shared entity types described by the fleet
// data model: trainsets, job cards, clearances, bays, decisions, and
// the plans that bundle them for a depot's nightly induction run.
package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/kmrl/induction/pkg/money"
)

// Department identifies one of the three certifying departments whose
// sign-off gates a trainset's operational clearance.
type Department string

const (
	DeptRollingStock Department = "rolling-stock"
	DeptSignalling   Department = "signalling"
	DeptTelecom      Department = "telecom"
)

// JobPriority orders open job cards; EMERGENCY outranks HIGH outranks
// MEDIUM outranks LOW.
type JobPriority string

const (
	PriorityEmergency JobPriority = "EMERGENCY"
	PriorityHigh      JobPriority = "HIGH"
	PriorityMedium    JobPriority = "MEDIUM"
	PriorityLow       JobPriority = "LOW"
)

// Weight returns the numeric priority weight used by §4.3's scoring
// formula: EMERGENCY:4, HIGH:3, MEDIUM:2, LOW:1.
func (p JobPriority) Weight() float64 {
	switch p {
	case PriorityEmergency:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// ClearanceStatus is the per-department sign-off state.
type ClearanceStatus string

const (
	ClearanceCleared ClearanceStatus = "CLEARED"
	ClearancePending ClearanceStatus = "PENDING"
	ClearanceFailed  ClearanceStatus = "FAILED"
)

// TrainsetStatus tracks the C1 bay-occupancy state machine.
type TrainsetStatus string

const (
	StatusAvailable     TrainsetStatus = "AVAILABLE"
	StatusInService     TrainsetStatus = "IN_SERVICE"
	StatusMaintenance   TrainsetStatus = "MAINTENANCE"
	StatusCleaning      TrainsetStatus = "CLEANING"
	StatusOutOfOrder    TrainsetStatus = "OUT_OF_ORDER"
	StatusDecommissioned TrainsetStatus = "DECOMMISSIONED"
)

// DecisionLabel is the induction outcome assigned to a trainset.
type DecisionLabel string

const (
	LabelInService      DecisionLabel = "IN_SERVICE"
	LabelStandby        DecisionLabel = "STANDBY"
	LabelMaintenance    DecisionLabel = "MAINTENANCE"
	LabelEmergencyRepair DecisionLabel = "EMERGENCY_REPAIR"
)

// BayType classifies a physical stabling bay.
type BayType string

const (
	BayStabling    BayType = "STABLING"
	BayInspection  BayType = "INSPECTION"
	BayMaintenance BayType = "MAINTENANCE"
	BayCleaning    BayType = "CLEANING"
)

// MoveType classifies how a ShuntingMove is executed.
type MoveType string

const (
	MoveDirect   MoveType = "DIRECT"
	MovePullPush MoveType = "PULL_PUSH"
	MoveTriangle MoveType = "TRIANGLE"
)

// ConflictResolution records how an ingestion Conflict was settled.
type ConflictResolution string

const (
	ResolutionPending      ConflictResolution = "PENDING"
	ResolutionAutoPriority ConflictResolution = "AUTO_PRIORITY"
	ResolutionAutoTimestamp ConflictResolution = "AUTO_TIMESTAMP"
	ResolutionManual       ConflictResolution = "MANUAL"
)

// JobCard is an open maintenance task against a trainset.
type JobCard struct {
	ID            string
	Priority      JobPriority
	EstimatedHours float64
	RequiredParts []string
	Deadline      *time.Time
	WorkType      string
}

// BrandingContract obliges a minimum advertiser exposure on a trainset.
type BrandingContract struct {
	AdvertiserID     string
	TargetHours      float64
	AccumulatedHours float64
	Revenue          money.Amount
	Penalty          money.Amount
	Deadline         time.Time
}

// Compliance returns accumulated/target clamped to [0,1]; overshoot is
// allowed per §3 but never reported above 1.0.
func (b BrandingContract) Compliance() float64 {
	if b.TargetHours <= 0 {
		return 1
	}
	c := b.AccumulatedHours / b.TargetHours
	if c > 1 {
		return 1
	}
	if c < 0 {
		return 0
	}
	return c
}

// SensorChannel names one numeric telemetry channel on a SensorFrame.
type SensorChannel string

const (
	ChannelMotorTemperature    SensorChannel = "motor_temperature"
	ChannelVibration           SensorChannel = "vibration"
	ChannelBrakePadWear        SensorChannel = "brake_pad_wear"
	ChannelHVACFilterStatus    SensorChannel = "hvac_filter_status"
	ChannelBatteryStateOfHealth SensorChannel = "battery_soh"
	ChannelPantographPressure  SensorChannel = "pantograph_pressure"
)

// SensorFrame is one immutable telemetry sample for a trainset.
type SensorFrame struct {
	TrainsetID string
	Timestamp  time.Time
	Channels   map[SensorChannel]float64
	Anomalies  []string
}

// Clearance is a department sign-off for a validity window.
type Clearance struct {
	Department Department
	TrainsetID string
	Status     ClearanceStatus
	From       time.Time
	To         time.Time
}

// Covers reports whether the clearance window covers instant t.
func (c Clearance) Covers(t time.Time) bool {
	return !t.Before(c.From) && !t.After(c.To)
}

// Trainset is the authoritative per-unit aggregate held by C1.
type Trainset struct {
	ID                  string
	Status              TrainsetStatus
	FitnessScore         float64
	CertificateExpiry    map[Department]time.Time
	MileageKM            int64
	OpenJobs             []JobCard
	Branding             *BrandingContract
	LastMaintenance      *time.Time
	NextMaintenance      *time.Time
	CurrentBay           string
	OperationalClearance bool
	NeedsCleaning        bool
	NeedsInspection      bool
	NextDeparture        time.Time
	UpdatedAt            time.Time
}

// OpenJobPriorityWeight sums §4.3's per-card priority weight.
func (t Trainset) OpenJobPriorityWeight() float64 {
	var sum float64
	for _, j := range t.OpenJobs {
		sum += j.Priority.Weight()
	}
	return sum
}

// HasEmergencyJob reports whether any open job card is EMERGENCY.
func (t Trainset) HasEmergencyJob() bool {
	for _, j := range t.OpenJobs {
		if j.Priority == PriorityEmergency {
			return true
		}
	}
	return false
}

// EarliestCertificateExpiry returns the soonest certificate expiry
// across the three certifying departments.
func (t Trainset) EarliestCertificateExpiry() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, exp := range t.CertificateExpiry {
		if !found || exp.Before(earliest) {
			earliest = exp
			found = true
		}
	}
	return earliest, found
}

// Bay is a physical stabling/inspection/maintenance/cleaning slot.
type Bay struct {
	ID            string
	TrackID       string
	TrackOffset   float64 // meters from a common reference, used for move-distance math
	Position      int     // 1 = closest to depot exit
	Type          BayType
	OccupiedBy    string
}

// Decision is the induction outcome for one trainset, mutated through
// the state machine described in §4.6 as C6 places and sequences it.
type Decision struct {
	TrainsetID      string
	Label           DecisionLabel
	Score           float64
	Reasons         []string
	ConflictTags    []string
	AssignedBay     string
	ShuntingMoves   []ShuntingMove
	Priority        int
	PlacementState  PlacementState
}

// PlacementState is the post-C6 state machine attached to a Decision.
type PlacementState string

const (
	PlacementPlaced          PlacementState = "PLACED"
	PlacementMovePending     PlacementState = "MOVE_PENDING"
	PlacementMoveInProgress  PlacementState = "MOVE_IN_PROGRESS"
	PlacementMoveDone        PlacementState = "MOVE_DONE"
	PlacementBlocked         PlacementState = "BLOCKED"
)

// ShuntingMove is one non-revenue move between bays.
type ShuntingMove struct {
	TrainsetID      string
	From            string
	To              string
	Type            MoveType
	EstimatedMinutes float64
	KWh             float64
	BlockedBy       []string
	Wave            int
}

// PlanMetrics holds the §4.8 aggregate metrics for a plan.
type PlanMetrics struct {
	TotalScore            float64
	ServiceAvailability    float64
	MaintenanceEfficiency  float64
	EnergySavings          float64
	BrandingCompliance     float64
	PredictedPunctuality   float64
	RiskScore              float64
	CostBenefit            float64
}

// InductionPlan is the immutable output of one nightly or real-time
// induction cycle.
type InductionPlan struct {
	ID          string
	GeneratedAt time.Time
	DepotID     string
	Decisions   map[string]*Decision
	Moves       [][]ShuntingMove // waves, in execution order
	Metrics     PlanMetrics
	Confidence  float64
	Infeasible  bool
	InfeasibleReasons []string
}

// NewPlanID builds the §6 persisted-layout key: depot|ISO-timestamp|counter.
func NewPlanID(depotID string, at time.Time, counter int) string {
	return depotID + "|" + at.UTC().Format(time.RFC3339) + "|" + itoa(counter)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ConflictSource is one contending value for a field, as seen by C2's
// conflict resolver.
type ConflictSource struct {
	SourceID  string
	Value     interface{}
	Priority  int
	Timestamp time.Time
}

// Conflict records contending field updates seen within the ingestion
// conflict window, and how they were resolved.
type Conflict struct {
	ID           uuid.UUID
	FieldPath    string
	TrainsetID   string
	Sources      []ConflictSource
	Resolution   ConflictResolution
	ResolvedValue interface{}
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}
