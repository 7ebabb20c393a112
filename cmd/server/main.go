package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/andrei-shtanakov/collab-editor/internal/api"
	"github.com/andrei-shtanakov/collab-editor/internal/config"
	"github.com/andrei-shtanakov/collab-editor/internal/events"
	"github.com/andrei-shtanakov/collab-editor/internal/routers"
	"github.com/andrei-shtanakov/collab-editor/internal/session"
	"github.com/andrei-shtanakov/collab-editor/internal/store"
	"github.com/andrei-shtanakov/collab-editor/internal/utils"
)

var (
	listenAndServe = http.ListenAndServe
	exitFunc       = func(err error) { log.Fatal(err) }
)

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := utils.NewLogger()

	st := store.New()
	pub := events.NewPublisher(cfg.RedisAddr, logger)
	defer pub.Close()

	reg := session.NewRegistry(st, session.Options{
		GracePeriod:    cfg.IdleGracePeriod,
		SendBufferSize: cfg.SendBufferSize,
		PingInterval:   cfg.PingInterval,
		PongWait:       cfg.PongWait,
		WriteWait:      cfg.WriteWait,
		MaxMessageSize: cfg.MaxMessageSize,
	}, logger)
	reg.SetIdleHook(func(id string) { pub.Publish(ctx, events.TypeIdle, id) })
	defer reg.Shutdown()

	go sweepStale(ctx, cfg, reg)

	h := api.NewHandlers(logger, cfg, st, reg, pub)

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)
	r.Mount("/", routers.New(cfg, h))

	addr := ":" + cfg.Port
	log.Printf("collab-editor listening on %s", addr)
	return listenAndServe(addr, r)
}

// sweepStale periodically expires sessions that have been inactive for
// longer than the session TTL and have no live hub.
func sweepStale(ctx context.Context, cfg config.Config, reg *session.Registry) {
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.ExpireStale(cfg.SessionTTL)
		}
	}
}

func main() {
	if err := run(context.Background()); err != nil {
		exitFunc(err)
	}
}
