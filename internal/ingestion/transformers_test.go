package ingestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmrl/induction/pkg/domain"
)

func TestTransformMaintenanceExport(t *testing.T) {
	t.Run("derives a floored maintenance score", func(t *testing.T) {
		cfg := SourceConfig{ID: "maint-1", Type: SourceMaintenanceExport, Priority: 3}
		raw := RawRecord{
			SourceID: "maint-1", TrainsetID: "TS-1", Timestamp: time.Now(),
			Fields: map[string]interface{}{
				"mileage_km":   float64(160000),
				"hours":        float64(11000),
				"defect_count": float64(4),
			},
		}
		result, err := transform(cfg, raw)
		require.NoError(t, err)
		require.Len(t, result.Deltas, 2)
		assert.Equal(t, "fitness_score", result.Deltas[0].Field)
		// 100 - 10 - 15 - 10 - 15 - 20 = 30
		assert.Equal(t, 30.0, result.Deltas[0].Value)
	})

	t.Run("floors the score at zero", func(t *testing.T) {
		cfg := SourceConfig{ID: "maint-1", Type: SourceMaintenanceExport, Priority: 3}
		raw := RawRecord{
			SourceID: "maint-1", TrainsetID: "TS-2", Timestamp: time.Now(),
			Fields: map[string]interface{}{
				"mileage_km":   float64(200000),
				"hours":        float64(20000),
				"defect_count": float64(50),
			},
		}
		result, err := transform(cfg, raw)
		require.NoError(t, err)
		assert.Equal(t, 0.0, result.Deltas[0].Value)
	})
}

func TestTransformIoTTelemetry(t *testing.T) {
	t.Run("tags all four anomaly conditions", func(t *testing.T) {
		cfg := SourceConfig{ID: "iot-1", Type: SourceIoTTelemetry, Priority: 4}
		raw := RawRecord{
			SourceID: "iot-1", TrainsetID: "TS-3", Timestamp: time.Now(),
			Fields: map[string]interface{}{
				"motor_temperature":   float64(45),
				"vibration":           float64(3.0),
				"brake_pad_wear":      float64(95),
				"pantograph_pressure": float64(7),
			},
		}
		result, err := transform(cfg, raw)
		require.NoError(t, err)
		require.NotNil(t, result.SensorFrame)
		assert.ElementsMatch(t, []string{
			"HIGH_TEMPERATURE", "EXCESSIVE_VIBRATION", "CRITICAL_BRAKE_WEAR", "PANTOGRAPH_PRESSURE_ANOMALY",
		}, result.SensorFrame.Anomalies)
	})

	t.Run("rejects out-of-range temperature", func(t *testing.T) {
		cfg := SourceConfig{ID: "iot-1", Type: SourceIoTTelemetry, Priority: 4}
		raw := RawRecord{
			SourceID: "iot-1", TrainsetID: "TS-4", Timestamp: time.Now(),
			Fields: map[string]interface{}{"motor_temperature": float64(150)},
		}
		_, err := transform(cfg, raw)
		assert.Error(t, err)
	})

	t.Run("rejects negative vibration", func(t *testing.T) {
		cfg := SourceConfig{ID: "iot-1", Type: SourceIoTTelemetry, Priority: 4}
		raw := RawRecord{
			SourceID: "iot-1", TrainsetID: "TS-5", Timestamp: time.Now(),
			Fields: map[string]interface{}{"vibration": float64(-1)},
		}
		_, err := transform(cfg, raw)
		assert.Error(t, err)
	})
}

func TestTransformManualOverride(t *testing.T) {
	t.Run("requires a non-empty authorizedBy", func(t *testing.T) {
		cfg := SourceConfig{ID: "manual-override", Type: SourceManualOverride, Priority: 10}
		raw := RawRecord{
			SourceID: "manual-override", TrainsetID: "TS-6", Timestamp: time.Now(),
			Fields: map[string]interface{}{"field": "status", "value": domain.StatusMaintenance},
		}
		_, err := transform(cfg, raw)
		assert.Error(t, err)
	})

	t.Run("produces a manual-flagged delta with expiry", func(t *testing.T) {
		cfg := SourceConfig{ID: "manual-override", Type: SourceManualOverride, Priority: 10}
		expiry := time.Now().Add(time.Hour)
		raw := RawRecord{
			SourceID: "manual-override", TrainsetID: "TS-7", Timestamp: time.Now(),
			Fields: map[string]interface{}{
				"authorized_by": "ops-lead-1",
				"field":         "status",
				"value":         domain.StatusMaintenance,
				"expiry":        expiry,
			},
		}
		result, err := transform(cfg, raw)
		require.NoError(t, err)
		require.Len(t, result.Deltas, 1)
		assert.True(t, result.Meta.Manual)
		assert.Equal(t, expiry, result.Meta.Expiry)
	})
}

func TestTransformDepartmentClearance(t *testing.T) {
	t.Run("maps to a Clearance aggregate", func(t *testing.T) {
		cfg := SourceConfig{ID: "dept-clearance", Type: SourceDepartmentClearance, Priority: 6}
		now := time.Now()
		raw := RawRecord{
			SourceID: "dept-clearance", TrainsetID: "TS-8", Timestamp: now,
			Fields: map[string]interface{}{
				"department": string(domain.DeptSignalling),
				"status":     string(domain.ClearanceCleared),
				"from":       now.Add(-time.Hour),
				"to":         now.Add(time.Hour),
			},
		}
		result, err := transform(cfg, raw)
		require.NoError(t, err)
		require.NotNil(t, result.Clearance)
		assert.Equal(t, domain.DeptSignalling, result.Clearance.Department)
		assert.True(t, result.Clearance.Covers(now))
	})
}

func TestTransformStreamBusRoutesToInnerType(t *testing.T) {
	t.Run("stream-bus dispatches by Fields[type]", func(t *testing.T) {
		cfg := SourceConfig{ID: "stream-1", Type: SourceStreamBus, Priority: 5}
		raw := RawRecord{
			SourceID: "stream-1", TrainsetID: "TS-9", Timestamp: time.Now(),
			Fields: map[string]interface{}{
				"type":         string(SourceIoTTelemetry),
				"vibration":    float64(0.2),
			},
		}
		result, err := transform(cfg, raw)
		require.NoError(t, err)
		assert.NotNil(t, result.SensorFrame)
	})
}
