package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geocoder89/chime/internal/auth"
	"github.com/geocoder89/chime/internal/bus"
	"github.com/geocoder89/chime/internal/config"
	"github.com/geocoder89/chime/internal/db"
	httpx "github.com/geocoder89/chime/internal/http"
	"github.com/geocoder89/chime/internal/observability"
	"github.com/geocoder89/chime/internal/reactors"
	"github.com/geocoder89/chime/internal/repo/postgres"
	"github.com/geocoder89/chime/internal/schedule"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env)

	shutdownTracer, err := observability.InitTracer(context.Background(), "chime-api", cfg.OTLPEndpoint)
	if err != nil {
		log.Warn("tracing disabled", "err", err)
		shutdownTracer = func(context.Context) error { return nil }
	}

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)

	pool, err := db.NewPool(cfg.DBURL)
	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	usersRepo := postgres.NewUsersRepo(pool, prom)
	eventsRepo := postgres.NewEventsRepo(pool, prom)

	sched := schedule.NewService(cfg.DeliveryTimeOverride, log)

	// the in-process bus ties the user facade to the scheduling core
	b := bus.New(log)
	reactors.New(eventsRepo, usersRepo, sched, log).Register(b)

	jwtMgr := auth.NewManager(cfg.AdminJWTSecret, time.Hour)

	ping := func() error {
		ctx, cancel := config.WithTimeout(1 * time.Second)
		defer cancel()
		return pool.Ping(ctx)
	}

	router := httpx.NewRouter(httpx.Deps{
		Env:          cfg.Env,
		Log:          log,
		Users:        usersRepo,
		Events:       eventsRepo,
		Bus:          b,
		JWT:          jwtMgr,
		Prom:         prom,
		PromRegistry: reg,
		Ping:         ping,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.Port, "env", cfg.Env)
		err := srv.ListenAndServe()

		if err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	// graceful shutdown

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("server shutting down")

	shutdownCh := make(chan struct{})

	go func() {
		defer close(shutdownCh)

		ctx, cancel := config.WithTimeout(10 * time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("graceful shutdown failed", "err", err)
			return
		}

		_ = shutdownTracer(ctx)
	}()

	select {
	case <-shutdownCh:
		log.Info("shutdown complete")

	case <-time.After(12 * time.Second):
		log.Error("shutdown timed out")
	}
}
