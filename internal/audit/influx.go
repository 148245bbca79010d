// Package audit writes every ingested SensorFrame to InfluxDB as a
// time-series audit/analytics side-channel alongside the Fleet State
// Store's in-memory retention ring. The ring stays authoritative for
// anomaly checks — this package never gates or mutates C1's decisions,
// it only observes.
package audit

import (
	"context"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"go.uber.org/zap"

	"github.com/kmrl/induction/pkg/domain"
)

const measurement = "sensor_frame"

// SensorSink writes SensorFrames to an InfluxDB bucket. A nil-address
// construction yields a no-op sink, matching the stabling bay-lease
// cache's pattern for optional external dependencies.
type SensorSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	log      *zap.Logger
}

// NewSensorSink connects to InfluxDB at url with the given org/bucket/
// token. An empty url disables the sink (WriteFrame becomes a no-op).
func NewSensorSink(url, org, bucket, token string, log *zap.Logger) *SensorSink {
	if url == "" {
		return &SensorSink{log: log}
	}
	client := influxdb2.NewClient(url, token)
	return &SensorSink{
		client:   client,
		writeAPI: client.WriteAPI(org, bucket),
		log:      log,
	}
}

// WriteFrame writes one SensorFrame's channels as a point, tagged by
// trainset ID, best-effort and asynchronous via the Influx client's
// batching write API. Errors surface only through the client's own
// error channel, which this sink logs in the background.
func (s *SensorSink) WriteFrame(frame domain.SensorFrame) {
	if s.writeAPI == nil {
		return
	}
	fields := make(map[string]interface{}, len(frame.Channels)+1)
	for channel, value := range frame.Channels {
		fields[string(channel)] = value
	}
	fields["anomaly_count"] = len(frame.Anomalies)

	point := influxdb2.NewPoint(
		measurement,
		map[string]string{"trainset_id": frame.TrainsetID},
		fields,
		frame.Timestamp,
	)
	s.writeAPI.WritePoint(point)
}

// Flush blocks until all buffered points are flushed, or ctx expires.
func (s *SensorSink) Flush(ctx context.Context) {
	if s.writeAPI == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		s.writeAPI.Flush()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Close flushes and releases the underlying client.
func (s *SensorSink) Close() {
	if s.client == nil {
		return
	}
	s.Flush(context.Background())
	s.client.Close()
}

// logErrors drains the write API's error channel until it closes,
// logging each failed write. Call once, in a goroutine, after
// construction.
func (s *SensorSink) logErrors() {
	if s.writeAPI == nil || s.log == nil {
		return
	}
	errCh := s.writeAPI.Errors()
	for err := range errCh {
		s.log.Warn("influxdb sensor write failed", zap.Error(err))
	}
}

// StartErrorLogger launches the background error-draining goroutine.
// Call once after NewSensorSink when url is non-empty.
func (s *SensorSink) StartErrorLogger() {
	if s.writeAPI == nil {
		return
	}
	go s.logErrors()
}
