package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/cafeteria-pos/internal/config"
	"github.com/ariefcatur/cafeteria-pos/internal/fanout"
	"github.com/ariefcatur/cafeteria-pos/internal/httpx"
	kafkax "github.com/ariefcatur/cafeteria-pos/internal/kafka"
	"github.com/ariefcatur/cafeteria-pos/internal/logger"
	"github.com/ariefcatur/cafeteria-pos/internal/orders"
	"github.com/ariefcatur/cafeteria-pos/internal/redisx"
	"github.com/ariefcatur/cafeteria-pos/internal/relay"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.New("kitchen-relay", "info", "text").Error("load config", "error", err)
		os.Exit(1)
	}
	name := cfg.ServiceName + "-relay"
	log := logger.New(name, cfg.LogLevel, cfg.LogFormat)
	if len(cfg.KafkaBrokers) == 0 {
		log.Error("relay needs KAFKA_BROKERS")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := fanout.NewHub(log)
	go hub.Run(ctx)

	svc := &relay.Service{Publisher: hub, ServiceName: name, Log: log}
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		svc.Dedup = &redisx.Cache{R: rdb}
	}

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.RelayGroup, orders.Topics, cfg.RelayWorkers, log)
	go func() {
		log.Info("relay consumer started", "group", cfg.RelayGroup, "topics", orders.Topics, "workers", cfg.RelayWorkers)
		if err := cons.Start(ctx, svc.HandleEvent); err != nil {
			log.Error("consumer exit", "error", err)
			cancel()
		}
	}()

	router := httpx.NewRouter(log)
	router.Get("/ws", fanout.ServeWS(hub, log))
	srv := &http.Server{Addr: cfg.RelayAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("relay listening", "addr", cfg.RelayAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", "error", err)
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down relay...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	cancel()
}
