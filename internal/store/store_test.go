package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmrl/induction/pkg/domain"
)

func runStore(t *testing.T) (*Store, context.Context, context.CancelFunc) {
	t.Helper()
	s := New(nil, nil, 5*time.Second, 10)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	return s, ctx, cancel
}

func TestApplyBasic(t *testing.T) {
	t.Run("applies a field update and shows up in the snapshot", func(t *testing.T) {
		s, ctx, cancel := runStore(t)
		defer cancel()

		now := time.Now()
		_, err := s.Apply(ctx, Delta{TrainsetID: "TS-1", Field: "mileage_km", Value: float64(1200)},
			SourceMeta{SourceID: "maintenance-export", Priority: 3, Timestamp: now})
		require.NoError(t, err)

		snap := s.Snapshot()
		ts, ok := snap.Trainsets["TS-1"]
		require.True(t, ok)
		assert.Equal(t, int64(1200), ts.MileageKM)
	})
}

func TestApplyConflictResolvesByPriority(t *testing.T) {
	t.Run("higher priority source wins within the conflict window", func(t *testing.T) {
		s, ctx, cancel := runStore(t)
		defer cancel()

		base := time.Now()
		_, err := s.Apply(ctx, Delta{TrainsetID: "TS-2", Field: "status", Value: domain.StatusAvailable},
			SourceMeta{SourceID: "manual-override", Priority: 1, Timestamp: base})
		require.NoError(t, err)

		result, err := s.Apply(ctx, Delta{TrainsetID: "TS-2", Field: "status", Value: domain.StatusMaintenance},
			SourceMeta{SourceID: "department-clearance", Priority: 5, Timestamp: base.Add(time.Second)})
		require.NoError(t, err)
		require.NotNil(t, result.Conflict)
		assert.Equal(t, domain.ResolutionAutoPriority, result.Conflict.Resolution)

		snap := s.Snapshot()
		assert.Equal(t, domain.StatusMaintenance, snap.Trainsets["TS-2"].Status)
	})

	t.Run("equal priority resolves by latest timestamp", func(t *testing.T) {
		s, ctx, cancel := runStore(t)
		defer cancel()

		base := time.Now()
		_, err := s.Apply(ctx, Delta{TrainsetID: "TS-3", Field: "status", Value: domain.StatusAvailable},
			SourceMeta{SourceID: "iot-telemetry", Priority: 2, Timestamp: base})
		require.NoError(t, err)

		result, err := s.Apply(ctx, Delta{TrainsetID: "TS-3", Field: "status", Value: domain.StatusCleaning},
			SourceMeta{SourceID: "iot-telemetry", Priority: 2, Timestamp: base.Add(time.Second)})
		require.NoError(t, err)
		require.NotNil(t, result.Conflict)
		assert.Equal(t, domain.ResolutionAutoTimestamp, result.Conflict.Resolution)

		snap := s.Snapshot()
		assert.Equal(t, domain.StatusCleaning, snap.Trainsets["TS-3"].Status)
	})

	t.Run("updates outside the conflict window do not conflict", func(t *testing.T) {
		s, ctx, cancel := runStore(t)
		defer cancel()

		base := time.Now()
		_, err := s.Apply(ctx, Delta{TrainsetID: "TS-4", Field: "status", Value: domain.StatusAvailable},
			SourceMeta{SourceID: "manual-override", Priority: 5, Timestamp: base})
		require.NoError(t, err)

		result, err := s.Apply(ctx, Delta{TrainsetID: "TS-4", Field: "status", Value: domain.StatusMaintenance},
			SourceMeta{SourceID: "department-clearance", Priority: 1, Timestamp: base.Add(time.Hour)})
		require.NoError(t, err)
		assert.Nil(t, result.Conflict)

		snap := s.Snapshot()
		assert.Equal(t, domain.StatusMaintenance, snap.Trainsets["TS-4"].Status)
	})
}

func TestManualOverrideWinsTiesAndPinsUntilExpiry(t *testing.T) {
	t.Run("manual override wins a priority tie", func(t *testing.T) {
		s, ctx, cancel := runStore(t)
		defer cancel()

		base := time.Now()
		_, err := s.Apply(ctx, Delta{TrainsetID: "TS-10", Field: "status", Value: domain.StatusAvailable},
			SourceMeta{SourceID: "iot-telemetry", Priority: 5, Timestamp: base})
		require.NoError(t, err)

		result, err := s.Apply(ctx, Delta{TrainsetID: "TS-10", Field: "status", Value: domain.StatusOutOfOrder},
			SourceMeta{SourceID: "manual-override", Priority: 5, Timestamp: base.Add(-time.Second), Manual: true, Expiry: base.Add(time.Hour)})
		require.NoError(t, err)
		require.NotNil(t, result.Conflict)
		assert.Equal(t, domain.ResolutionManual, result.Conflict.Resolution)

		snap := s.Snapshot()
		assert.Equal(t, domain.StatusOutOfOrder, snap.Trainsets["TS-10"].Status)
	})

	t.Run("manual pin overrides later higher-priority auto writes until it expires", func(t *testing.T) {
		s, ctx, cancel := runStore(t)
		defer cancel()

		base := time.Now()
		_, err := s.Apply(ctx, Delta{TrainsetID: "TS-11", Field: "status", Value: domain.StatusOutOfOrder},
			SourceMeta{SourceID: "manual-override", Priority: 5, Timestamp: base, Manual: true, Expiry: base.Add(10 * time.Second)})
		require.NoError(t, err)

		_, err = s.Apply(ctx, Delta{TrainsetID: "TS-11", Field: "status", Value: domain.StatusAvailable},
			SourceMeta{SourceID: "department-clearance", Priority: 9, Timestamp: base.Add(2 * time.Second)})
		require.NoError(t, err)
		snap := s.Snapshot()
		assert.Equal(t, domain.StatusOutOfOrder, snap.Trainsets["TS-11"].Status)

		_, err = s.Apply(ctx, Delta{TrainsetID: "TS-11", Field: "status", Value: domain.StatusAvailable},
			SourceMeta{SourceID: "department-clearance", Priority: 9, Timestamp: base.Add(time.Hour)})
		require.NoError(t, err)
		snap = s.Snapshot()
		assert.Equal(t, domain.StatusAvailable, snap.Trainsets["TS-11"].Status)
	})
}

func TestApplyRejectsDoubleBayOccupancy(t *testing.T) {
	t.Run("two trainsets cannot hold the same bay", func(t *testing.T) {
		s, ctx, cancel := runStore(t)
		defer cancel()

		s.RegisterBay(domain.Bay{ID: "BAY-1", Type: domain.BayStabling})

		_, err := s.Apply(ctx, Delta{TrainsetID: "TS-5", Field: "current_bay", Value: "BAY-1"},
			SourceMeta{SourceID: "manual-override", Priority: 5, Timestamp: time.Now()})
		require.NoError(t, err)

		_, err = s.Apply(ctx, Delta{TrainsetID: "TS-6", Field: "current_bay", Value: "BAY-1"},
			SourceMeta{SourceID: "manual-override", Priority: 5, Timestamp: time.Now()})
		assert.ErrorIs(t, err, ErrBayOccupied)
	})
}

func TestUpsertClearanceRequiresAllThreeDepartments(t *testing.T) {
	t.Run("operational clearance only flips once all three departments are cleared", func(t *testing.T) {
		s, _, cancel := runStore(t)
		defer cancel()

		now := time.Now()
		window := func() (time.Time, time.Time) { return now.Add(-time.Hour), now.Add(time.Hour) }

		from, to := window()
		s.UpsertClearance(domain.Clearance{Department: domain.DeptRollingStock, TrainsetID: "TS-7", Status: domain.ClearanceCleared, From: from, To: to}, now)
		s.UpsertClearance(domain.Clearance{Department: domain.DeptSignalling, TrainsetID: "TS-7", Status: domain.ClearanceCleared, From: from, To: to}, now)

		snap := s.Snapshot()
		assert.False(t, snap.Trainsets["TS-7"].OperationalClearance)

		s.UpsertClearance(domain.Clearance{Department: domain.DeptTelecom, TrainsetID: "TS-7", Status: domain.ClearanceCleared, From: from, To: to}, now)
		snap = s.Snapshot()
		assert.True(t, snap.Trainsets["TS-7"].OperationalClearance)
	})
}

func TestSensorAppendRingRetention(t *testing.T) {
	t.Run("ring drops oldest frames past the retention limit", func(t *testing.T) {
		s, ctx, cancel := runStore(t)
		defer cancel()

		for i := 0; i < 15; i++ {
			err := s.SensorAppend(ctx, domain.SensorFrame{
				TrainsetID: "TS-8",
				Timestamp:  time.Now(),
				Channels:   map[domain.SensorChannel]float64{domain.ChannelMotorTemperature: float64(i)},
			})
			require.NoError(t, err)
		}

		history := s.SensorHistory("TS-8")
		assert.Len(t, history, 10)
		assert.Equal(t, float64(14), history[len(history)-1].Channels[domain.ChannelMotorTemperature])
	})
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	t.Run("mutating a snapshot does not affect the store", func(t *testing.T) {
		s, ctx, cancel := runStore(t)
		defer cancel()

		_, err := s.Apply(ctx, Delta{TrainsetID: "TS-9", Field: "mileage_km", Value: float64(500)},
			SourceMeta{SourceID: "maintenance-export", Priority: 3, Timestamp: time.Now()})
		require.NoError(t, err)

		snap := s.Snapshot()
		ts := snap.Trainsets["TS-9"]
		ts.MileageKM = 999999
		snap.Trainsets["TS-9"] = ts

		again := s.Snapshot()
		assert.Equal(t, int64(500), again.Trainsets["TS-9"].MileageKM)
	})
}
