// Command gatewaystub is a thin reference adapter exposing exactly one
// operation over HTTP: streaming SubscribeEvents to a WebSocket
// client. It demonstrates how an outer transport would sit in front of
// the Planning API without implementing the rest of it (no order/risk
// style REST surface) — that's left to whatever real gateway an
// operator deploys.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kmrl/induction/internal/api"
	"github.com/kmrl/induction/internal/broadcast"
	"github.com/kmrl/induction/internal/config"
	"github.com/kmrl/induction/internal/cycle"
	"github.com/kmrl/induction/internal/store"
	"github.com/kmrl/induction/pkg/planstore"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type stub struct {
	planningAPI *api.API
	bus         *broadcast.Bus
	log         *zap.Logger
}

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := config.FromEnv()
	sink := planstore.NewMemory()
	st := store.New(sink, log, cfg.IngestionConflictWindow, 500)
	bus := broadcast.New(nil, log)

	ctrl, err := cycle.New(st, cfg, bus, sink, cfg.EtcdEndpoints, log)
	if err != nil {
		log.Fatal("construct cycle controller", zap.Error(err))
	}
	defer ctrl.Close()

	s := &stub{planningAPI: api.NewAPI(st, cfg, ctrl, bus, cfg.JWTSecret), bus: bus, log: log}

	r := gin.Default()
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "healthy"}) })
	r.GET("/ws/events", s.handleWebSocket)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8090"
	}
	srv := &http.Server{Addr: ":" + port, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}
}

// handleWebSocket upgrades the connection and streams every event
// matching the requested topics (?topics=plan.completed,alert.critical)
// to the client until it disconnects. An empty topics param subscribes
// to everything.
func (s *stub) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var topics []string
	if raw := c.Query("topics"); raw != "" {
		topics = strings.Split(raw, ",")
	}
	subs := s.planningAPI.SubscribeEvents(topics)
	defer func() {
		for _, sub := range subs {
			s.bus.Unsubscribe(sub.ID)
		}
	}()

	merged := make(chan []byte, 64)
	done := make(chan struct{})
	for _, sub := range subs {
		go pumpSubscription(sub, merged, done)
	}

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				close(done)
				return
			}
		}
	}()

	for {
		select {
		case payload := <-merged:
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func pumpSubscription(sub *broadcast.Subscription, merged chan<- []byte, done <-chan struct{}) {
	for {
		select {
		case evt := <-sub.Events:
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			select {
			case merged <- payload:
			case <-done:
				return
			}
		case <-sub.Done:
			return
		case <-done:
			return
		}
	}
}
