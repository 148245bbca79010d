// Command induction runs the nightly induction cycle once per
// configured depot, then exits. It is meant to be invoked by a cron
// scheduler at the nightly cutoff, not left running — the real-time
// path lives in cmd/realtime.
package main

import (
	"context"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kmrl/induction/internal/api"
	"github.com/kmrl/induction/internal/broadcast"
	"github.com/kmrl/induction/internal/config"
	"github.com/kmrl/induction/internal/cycle"
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
	depots := depotList()

	sink := planstore.NewMemory()
	st := store.New(sink, log, cfg.IngestionConflictWindow, 500)

	var publisher events.Publisher
	if cfg.NATSURL != "" {
		nc, err := messaging.NewClient(messaging.Config{
			URL:            cfg.NATSURL,
			Name:           "induction-nightly",
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

	ctrl, err := cycle.New(st, cfg, bus, sink, cfg.EtcdEndpoints, log)
	if err != nil {
		log.Fatal("construct cycle controller", zap.Error(err))
	}
	defer ctrl.Close()

	planningAPI := api.NewAPI(st, cfg, ctrl, bus, cfg.JWTSecret)

	ctx := context.Background()
	seed := time.Now().UnixNano()
	for _, depotID := range depots {
		plan, err := planningAPI.RunNightlyInduction(ctx, depotID, seed)
		if err != nil {
			log.Error("nightly induction failed", zap.String("depot", depotID), zap.Error(err))
			continue
		}
		log.Info("nightly induction complete",
			zap.String("depot", depotID),
			zap.String("plan_id", plan.ID),
			zap.Bool("infeasible", plan.Infeasible),
			zap.Int("decisions", len(plan.Decisions)))
	}
}

func depotList() []string {
	raw := os.Getenv("INDUCTION_DEPOTS")
	if raw == "" {
		return []string{"default"}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"default"}
	}
	return out
}
