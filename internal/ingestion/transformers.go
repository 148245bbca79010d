package ingestion

import (
	"fmt"
	"time"

	"github.com/kmrl/induction/internal/store"
	"github.com/kmrl/induction/pkg/domain"
)

// TransformResult is the normalized output of one raw record. Exactly
// one of Deltas, Clearance, or SensorFrame is populated, matching the
// per-source-type shapes in §4.2: a field delta set (most sources), a
// Clearance aggregate (department clearance), or a telemetry frame
// (IoT telemetry).
type TransformResult struct {
	Deltas      []store.Delta
	Meta        store.SourceMeta
	Clearance   *domain.Clearance
	SensorFrame *domain.SensorFrame
}

// transform routes a raw record to its source-type transformer. A
// stream-bus record carries its true type in Fields["type"] and is
// re-dispatched.
func transform(cfg SourceConfig, raw RawRecord) (TransformResult, error) {
	sourceType := cfg.Type
	if sourceType == SourceStreamBus {
		inner, ok := raw.Fields["type"].(string)
		if !ok || inner == "" {
			return TransformResult{}, &ErrRejected{Reason: "stream-bus record missing type"}
		}
		sourceType = SourceType(inner)
	}

	switch sourceType {
	case SourceMaintenanceExport:
		return transformMaintenanceExport(cfg, raw)
	case SourceIoTTelemetry:
		return transformIoTTelemetry(cfg, raw)
	case SourceManualOverride:
		return transformManualOverride(cfg, raw)
	case SourceDepartmentClearance:
		return transformDepartmentClearance(cfg, raw)
	default:
		return TransformResult{}, &ErrRejected{Reason: fmt.Sprintf("unknown source type %q", sourceType)}
	}
}

func baseMeta(cfg SourceConfig, raw RawRecord) store.SourceMeta {
	return store.SourceMeta{SourceID: cfg.ID, Priority: cfg.Priority, Timestamp: raw.Timestamp}
}

// transformMaintenanceExport derives the §4.2 maintenance score and an
// open-job-card set from a tabular export record.
func transformMaintenanceExport(cfg SourceConfig, raw RawRecord) (TransformResult, error) {
	mileage, _ := toFloat(raw.Fields["mileage_km"])
	hours, _ := toFloat(raw.Fields["hours"])
	defectCount, _ := toFloat(raw.Fields["defect_count"])

	score := 100.0
	if mileage > 100000 {
		score -= 10
	}
	if mileage > 150000 {
		score -= 15
	}
	if hours > 8000 {
		score -= 10
	}
	if hours > 10000 {
		score -= 15
	}
	score -= 5 * defectCount
	if score < 0 {
		score = 0
	}

	deltas := []store.Delta{
		{TrainsetID: raw.TrainsetID, Field: "fitness_score", Value: score},
		{TrainsetID: raw.TrainsetID, Field: "mileage_km", Value: mileage},
	}

	if jobs, ok := raw.Fields["open_jobs"].([]domain.JobCard); ok {
		deltas = append(deltas, store.Delta{TrainsetID: raw.TrainsetID, Field: "open_jobs", Value: jobs})
	}

	return TransformResult{Deltas: deltas, Meta: baseMeta(cfg, raw)}, nil
}

// transformIoTTelemetry validates sensor ranges, builds a SensorFrame,
// and tags the §4.2 anomaly conditions.
func transformIoTTelemetry(cfg SourceConfig, raw RawRecord) (TransformResult, error) {
	temp, hasTemp := toFloat(raw.Fields["motor_temperature"])
	if hasTemp && (temp < -50 || temp > 100) {
		return TransformResult{}, &ErrRejected{Reason: "motor_temperature out of range"}
	}
	vibration, hasVibration := toFloat(raw.Fields["vibration"])
	if hasVibration && vibration < 0 {
		return TransformResult{}, &ErrRejected{Reason: "vibration must be non-negative"}
	}

	channels := map[domain.SensorChannel]float64{}
	var anomalies []string

	if hasTemp {
		channels[domain.ChannelMotorTemperature] = temp
		if temp > 40 {
			anomalies = append(anomalies, "HIGH_TEMPERATURE")
		}
	}
	if hasVibration {
		channels[domain.ChannelVibration] = vibration
		if vibration > 2.5 {
			anomalies = append(anomalies, "EXCESSIVE_VIBRATION")
		}
	}
	if wear, ok := toFloat(raw.Fields["brake_pad_wear"]); ok {
		channels[domain.ChannelBrakePadWear] = wear
		if wear > 90 {
			anomalies = append(anomalies, "CRITICAL_BRAKE_WEAR")
		}
	}
	if pressure, ok := toFloat(raw.Fields["pantograph_pressure"]); ok {
		channels[domain.ChannelPantographPressure] = pressure
		if pressure < 4 || pressure > 6 {
			anomalies = append(anomalies, "PANTOGRAPH_PRESSURE_ANOMALY")
		}
	}
	if soh, ok := toFloat(raw.Fields["battery_soh"]); ok {
		channels[domain.ChannelBatteryStateOfHealth] = soh
	}

	frame := domain.SensorFrame{
		TrainsetID: raw.TrainsetID,
		Timestamp:  raw.Timestamp,
		Channels:   channels,
		Anomalies:  anomalies,
	}

	return TransformResult{SensorFrame: &frame, Meta: baseMeta(cfg, raw)}, nil
}

// transformManualOverride requires a non-empty authorizedBy and
// produces a Manual-flagged delta that pins the field per §4.2.
func transformManualOverride(cfg SourceConfig, raw RawRecord) (TransformResult, error) {
	authorizedBy, _ := raw.Fields["authorized_by"].(string)
	if authorizedBy == "" {
		return TransformResult{}, &ErrRejected{Reason: "manual override requires non-empty authorizedBy"}
	}
	field, _ := raw.Fields["field"].(string)
	if field == "" {
		return TransformResult{}, &ErrRejected{Reason: "manual override requires a target field"}
	}
	value := raw.Fields["value"]

	var expiry time.Time
	if e, ok := raw.Fields["expiry"].(time.Time); ok {
		expiry = e
	}

	meta := store.SourceMeta{
		SourceID:  cfg.ID,
		Priority:  cfg.Priority,
		Timestamp: raw.Timestamp,
		Manual:    true,
		Expiry:    expiry,
	}

	return TransformResult{
		Deltas: []store.Delta{{TrainsetID: raw.TrainsetID, Field: field, Value: value}},
		Meta:   meta,
	}, nil
}

// transformDepartmentClearance maps a record to a Clearance aggregate;
// the store's dependency check gates OperationalClearance on all
// three departments intersecting, per §4.2.
func transformDepartmentClearance(cfg SourceConfig, raw RawRecord) (TransformResult, error) {
	deptStr, _ := raw.Fields["department"].(string)
	if deptStr == "" {
		return TransformResult{}, &ErrRejected{Reason: "department clearance requires a department"}
	}
	statusStr, _ := raw.Fields["status"].(string)
	if statusStr == "" {
		statusStr = string(domain.ClearancePending)
	}
	from, _ := raw.Fields["from"].(time.Time)
	to, _ := raw.Fields["to"].(time.Time)

	clearance := domain.Clearance{
		Department: domain.Department(deptStr),
		TrainsetID: raw.TrainsetID,
		Status:     domain.ClearanceStatus(statusStr),
		From:       from,
		To:         to,
	}

	return TransformResult{Clearance: &clearance, Meta: baseMeta(cfg, raw)}, nil
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
