package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/donkynetwork/donky-core-go/pkg/messaging"
	"github.com/donkynetwork/donky-core-go/pkg/observability"
)

func loadConfig() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("DONKYSIM")
	v.AutomaticEnv()
	v.SetDefault("addr", ":8095")
	v.SetDefault("jwt_secret", "donkysim-dev-secret")
	v.SetDefault("rabbitmq_url", "")
	v.SetDefault("kafka_brokers", "")
	v.SetDefault("kafka_topic", "donky-exchanges")
	v.SetDefault("redis_addr", "")
	v.SetDefault("otlp_endpoint", "")
	return v
}

func main() {
	cfg := loadConfig()
	logger := observability.NewLogger("donkysim", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName:    "donkysim",
		ServiceVersion: "0.1.0",
		Endpoint:       cfg.GetString("otlp_endpoint"),
		Environment:    "development",
	}, logger)
	if err != nil {
		logger.Warn("tracer init failed", "error", err)
	} else if shutdown != nil {
		defer shutdown(context.Background())
	}

	srv := &server{
		registry:  newDeviceRegistry(),
		jwtSecret: []byte(cfg.GetString("jwt_secret")),
		logger:    logger,
	}

	if url := cfg.GetString("rabbitmq_url"); url != "" {
		bus, err := messaging.NewBus(messaging.DefaultBusConfig(url), logger)
		if err != nil {
			logger.Warn("rabbitmq unavailable, pending signals go straight to streams", "error", err)
		} else {
			srv.bus = bus
			defer bus.Close()
		}
	}

	if brokers := cfg.GetString("kafka_brokers"); brokers != "" {
		srv.journal = messaging.NewJournal(strings.Split(brokers, ","), cfg.GetString("kafka_topic"))
		defer srv.journal.Close()
	}

	if addr := cfg.GetString("redis_addr"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, ack idempotency disabled", "error", err)
		} else {
			srv.redis = client
			defer client.Close()
		}
	}

	r := mux.NewRouter()
	r.HandleFunc("/v1/registration", srv.handleRegister).Methods("POST")
	r.HandleFunc("/v1/authentication/gettoken", srv.handleGetToken).Methods("POST")
	r.HandleFunc("/v1/notification/synchronise", srv.handleSynchronise).Methods("POST")
	r.HandleFunc("/v1/notification/send", srv.handleInject).Methods("POST")
	r.HandleFunc("/v1/notification/stream", srv.handleStream)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", srv.handleHealth).Methods("GET")

	httpServer := &http.Server{
		Addr:         cfg.GetString("addr"),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streams stay open
	}

	go func() {
		logger.Info("donkysim listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}
