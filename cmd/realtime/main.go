// Command realtime runs the long-lived cycle controller: it ingests
// live fleet signals through the heterogeneous ingestion fabric and
// re-runs the induction pipeline whenever a monitored condition fires,
// independent of the nightly cron cadence (§4.1).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kmrl/induction/internal/api"
	"github.com/kmrl/induction/internal/audit"
	"github.com/kmrl/induction/internal/broadcast"
	"github.com/kmrl/induction/internal/config"
	"github.com/kmrl/induction/internal/cycle"
	"github.com/kmrl/induction/internal/ingestion"
	"github.com/kmrl/induction/internal/store"
	"github.com/kmrl/induction/pkg/messaging"
	"github.com/kmrl/induction/pkg/planstore"
	"github.com/kmrl/induction/shared/events"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := config.FromEnv()
	depotID := os.Getenv("INDUCTION_DEPOT")
	if depotID == "" {
		depotID = "default"
	}

	sink := planstore.NewMemory()
	st := store.New(sink, log, cfg.IngestionConflictWindow, 500)

	sensorAudit := audit.NewSensorSink(cfg.InfluxURL, cfg.InfluxOrg, cfg.InfluxBucket, cfg.InfluxToken, log)
	sensorAudit.StartErrorLogger()
	defer sensorAudit.Close()
	st.SetAuditHook(sensorAudit.WriteFrame)

	var publisher events.Publisher
	if cfg.NATSURL != "" {
		nc, err := messaging.NewClient(messaging.Config{
			URL:            cfg.NATSURL,
			Name:           "induction-realtime",
			ReconnectWait:  2 * time.Second,
			MaxReconnects:  10,
			ConnectTimeout: 5 * time.Second,
		})
		if err != nil {
			log.Warn("nats unavailable, events stay in-process only", zap.Error(err))
		} else {
			defer nc.Close()
			publisher = nc
		}
	}
	bus := broadcast.New(publisher, log)

	var ingestRedis *goredis.Client
	if cfg.RedisIngestionURL != "" {
		ingestRedis = goredis.NewClient(&goredis.Options{Addr: cfg.RedisIngestionURL})
	}
	fabric := ingestion.New(st, bus, log, ingestRedis, cfg.IngestionBufferSize)

	ctrl, err := cycle.New(st, cfg, bus, sink, cfg.EtcdEndpoints, log)
	if err != nil {
		log.Fatal("construct cycle controller", zap.Error(err))
	}
	defer ctrl.Close()

	planningAPI := api.NewAPI(st, cfg, ctrl, bus, cfg.JWTSecret)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go st.Run(ctx)
	go fabric.Run(ctx)
	go watchForTriggers(ctx, bus, planningAPI, depotID, log)

	log.Info("realtime cycle controller started", zap.String("depot", depotID))
	<-ctx.Done()
	log.Info("shutting down")
}

// watchForTriggers re-runs the induction pipeline whenever an
// ingestion conflict or source error is observed, per the real-time
// path described in §4.1.
func watchForTriggers(ctx context.Context, bus *broadcast.Bus, planningAPI *api.API, depotID string, log *zap.Logger) {
	sub := bus.Subscribe(events.TopicIngestionConflict)
	defer bus.Unsubscribe(sub.ID)
	errSub := bus.Subscribe(events.TopicIngestionSourceErr)
	defer bus.Unsubscribe(errSub.ID)

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-sub.Events:
			triggerRealtimeCycle(ctx, planningAPI, depotID, "ingestion conflict", log, evt)
		case evt := <-errSub.Events:
			triggerRealtimeCycle(ctx, planningAPI, depotID, "ingestion source error", log, evt)
		}
	}
}

func triggerRealtimeCycle(ctx context.Context, planningAPI *api.API, depotID, reason string, log *zap.Logger, evt events.Event) {
	plan, err := planningAPI.TriggerRealtimeCycle(ctx, depotID, reason, time.Now().UnixNano())
	if err != nil {
		log.Error("realtime cycle failed", zap.String("reason", reason), zap.String("cause_topic", evt.Topic), zap.Error(err))
		return
	}
	log.Info("realtime cycle complete", zap.String("plan_id", plan.ID), zap.String("reason", reason))
}
