package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/ariefcatur/cafeteria-pos/internal/config"
	"github.com/ariefcatur/cafeteria-pos/internal/fanout"
	"github.com/ariefcatur/cafeteria-pos/internal/httpx"
	kafkax "github.com/ariefcatur/cafeteria-pos/internal/kafka"
	"github.com/ariefcatur/cafeteria-pos/internal/logger"
	"github.com/ariefcatur/cafeteria-pos/internal/memstore"
	"github.com/ariefcatur/cafeteria-pos/internal/orders"
	"github.com/ariefcatur/cafeteria-pos/internal/postgres"
	"github.com/ariefcatur/cafeteria-pos/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.New("order-api", "info", "text").Error("load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store
	var store orders.Store
	switch cfg.StoreDriver {
	case "memory":
		log.Warn("using in-memory store; data is lost on exit")
		ms := memstore.New()
		for _, p := range postgres.DefaultMenu {
			ms.AddProduct(orders.Product{Name: p.Name, Price: p.Price, Category: p.Category, StockQuantity: p.Stock})
		}
		store = ms
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.ServiceName)
		if err != nil {
			log.Error("db connect", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store = &postgres.Store{DB: db}
	}

	// Fanout: websocket hub, plus Kafka when brokers are configured
	hub := fanout.NewHub(log)
	go hub.Run(ctx)
	publishers := fanout.Tee{hub}

	var prod *kafkax.Producer
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
		prod.Start(ctx)
		publishers = append(publishers, &kafkax.EventPublisher{Producer: prod})
	}

	// Redis
	var cache httpx.Cache
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, continuing without cache", "error", err)
		}
		cache = &redisx.Cache{R: rdb}
	}

	svc := &orders.Service{
		Store:             store,
		Publisher:         publishers,
		Log:               log,
		Producer:          cfg.ServiceName,
		StrictTransitions: cfg.StrictTransitions,
	}

	router := httpx.NewRouter(log)
	router.Get("/ws", fanout.ServeWS(hub, log))
	oh := &httpx.OrdersHandler{
		Service:      svc,
		Cache:        cache,
		Log:          log,
		HistoryLimit: cfg.HistoryLimit,
	}
	httpx.WithTimeout(router, 15*time.Second, func(r chi.Router) { oh.Register(r) })

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("HTTP listening", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	if prod != nil {
		prod.Close() // flush sisa pesan lalu close writer
		prod.WaitClosed()
	}
	cancel() // stop hub
}
