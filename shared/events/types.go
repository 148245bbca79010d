// Package events defines the wire envelope and topic names for the
// Event Broadcaster (C8). Adapted from the teacher's shared/events
// package: same envelope shape, topics renamed to the induction
// domain's §6 topic list.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Topic names: the set enumerated in spec.md §6, plus plan.cancelled
// for a cancelled cycle.
const (
	TopicPlanStarted        = "plan.started"
	TopicPlanProgress       = "plan.progress"
	TopicPlanCompleted      = "plan.completed"
	TopicPlanFailed         = "plan.failed"
	TopicPlanCancelled      = "plan.cancelled"
	TopicAlertCritical      = "alert.critical"
	TopicAlertWarning       = "alert.warning"
	TopicIngestionConflict  = "ingestion.conflict"
	TopicIngestionSourceErr = "ingestion.source.error"
)

// Event is the envelope published on every topic.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Topic     string          `json:"topic"`
	PlanID    string          `json:"plan_id,omitempty"`
	DepotID   string          `json:"depot_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// New builds an Event, marshaling data into the envelope.
func New(topic, planID, depotID string, data interface{}) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        uuid.New(),
		Topic:     topic,
		PlanID:    planID,
		DepotID:   depotID,
		Timestamp: time.Now(),
		Data:      raw,
	}, nil
}

// ParseData unmarshals the event payload into v.
func (e Event) ParseData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// ProgressData is published on TopicPlanProgress.
type ProgressData struct {
	Percent int `json:"percent"`
}

// FailedData is published on TopicPlanFailed and TopicPlanCancelled.
type FailedData struct {
	Phase        string `json:"phase"`
	Cause        string `json:"cause"`
	LastGoodPlan string `json:"last_good_plan_id"`
}

// AlertData is published on alert.critical / alert.warning.
type AlertData struct {
	TrainsetID string `json:"trainset_id,omitempty"`
	Message    string `json:"message"`
}

// ConflictData is published on ingestion.conflict.
type ConflictData struct {
	ConflictID string `json:"conflict_id"`
	FieldPath  string `json:"field_path"`
	TrainsetID string `json:"trainset_id"`
	Resolution string `json:"resolution"`
}

// SourceErrorData is published on ingestion.source.error.
type SourceErrorData struct {
	SourceID         string `json:"source_id"`
	ConsecutiveFails int    `json:"consecutive_fails"`
}

// Publisher is the interface the broadcaster publishes through; an
// in-process bus and a NATS-backed bus both implement it.
type Publisher interface {
	Publish(topic string, evt Event) error
}
