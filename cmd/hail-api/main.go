// Entry point; loads config, wires services, starts the HTTP server and the
// dispatch scheduler.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"hail/internal/config"
	httptransport "hail/internal/http"
	"hail/internal/infra"
	"hail/internal/ingest"
	"hail/internal/logging"
	"hail/internal/modules/dispatch"
	"hail/internal/modules/fleet"
	"hail/internal/modules/trip"
	"hail/internal/sched"
	"hail/internal/store"
	"hail/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logging.New("hail-api", cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store: postgres when a DSN is configured, in-memory otherwise.
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

	// Scheduler: redis-backed delay queue when configured, in-process timers
	// otherwise.
	registry := sched.NewRegistry(log)
	var scheduler sched.Scheduler
	if cfg.Redis.Addr != "" {
		rds := infra.NewRedis(cfg.Redis.Addr)
		defer rds.Close()
		rs := sched.NewRedis(rds, registry, cfg.SchedPoll, log)
		go rs.Run(ctx)
		scheduler = rs
	} else {
		log.Warn().Msg("no HAIL_REDIS_ADDR set, using in-process scheduler")
		mem := sched.NewMemory(registry)
		defer mem.Close()
		scheduler = mem
	}

	hub := ws.NewHub(log)
	engine := dispatch.NewEngine(st, scheduler, dispatch.Config(cfg.Dispatch), hub, log)
	engine.RegisterHandlers(registry)

	var publisher ingest.Publisher
	if cfg.Kafka.Enabled() {
		kp := ingest.NewKafkaPublisher(cfg.Kafka)
		defer kp.Close()
		publisher = kp
	}
	locationSvc := ingest.NewService(st, publisher)
	driverSvc := fleet.NewService(st)
	tripSvc := trip.NewService(st, engine, log)

	handler := httptransport.NewRouter(httptransport.RouterDeps{
		Trips:     tripSvc,
		Drivers:   driverSvc,
		Locations: locationSvc,
		Engine:    engine,
		Hub:       hub,
		Log:       log,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()

	log.Info().Str("addr", cfg.HTTP.Addr).Msg("listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server")
	}
}
