// Entry point for the location stream consumer: reads driver location
// samples from Kafka and writes them to the store.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hail/internal/config"
	"hail/internal/infra"
	"hail/internal/ingest"
	"hail/internal/logging"
	"hail/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logging.New("location-consumer", cfg.Log.Level)

	if !cfg.Kafka.Enabled() {
		log.Fatal().Msg("HAIL_KAFKA_BROKERS is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st store.Store
	if cfg.DB.DSN != "" {
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres init")
		}
		defer pool.Close()
		pg := store.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrate")
		}
		st = pg
	} else {
		log.Warn().Msg("no HAIL_DB_DSN set, using in-memory store")
		st = store.NewMemory()
	}

	// Metrics and liveness on a side port.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		})
		addr := os.Getenv("HAIL_METRICS_ADDR")
		if addr == "" {
			addr = ":2112"
		}
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	svc := ingest.NewService(st, nil)
	consumer := ingest.NewConsumer(cfg.Kafka, svc, log)
	defer consumer.Close()

	log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.LocationTopic).Msg("consuming")
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("consumer")
	}
}
