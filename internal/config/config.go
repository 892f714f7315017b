// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DispatchConfig carries the tunables of the dispatch engine. The rejection
// cooldown and the no-driver backoff default to the same value but are
// independent knobs.
type DispatchConfig struct {
	NoDriverBackoff   time.Duration
	RejectionCooldown time.Duration
	LocationFreshness time.Duration
	SweepGrace        time.Duration
}

type KafkaConfig struct {
	Brokers       []string
	LocationTopic string
	GroupID       string
}

// Enabled reports whether location ingest via Kafka is configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

type Config struct {
	HTTP struct {
		Addr string
	}
	DB struct {
		DSN string
	}
	Redis struct {
		Addr string
	}
	Log struct {
		Level string
	}
	Kafka     KafkaConfig
	Dispatch  DispatchConfig
	SchedPoll time.Duration
}

func Load() (Config, error) {
	// .env is a local-dev convenience; absence is not an error.
	_ = godotenv.Load()

	var cfg Config
	cfg.HTTP.Addr = envOrDefault("HAIL_HTTP_ADDR", ":8080")
	cfg.DB.DSN = os.Getenv("HAIL_DB_DSN")
	cfg.Redis.Addr = os.Getenv("HAIL_REDIS_ADDR")
	cfg.Log.Level = envOrDefault("HAIL_LOG_LEVEL", "info")

	cfg.Kafka.Brokers = splitCSV(os.Getenv("HAIL_KAFKA_BROKERS"))
	cfg.Kafka.LocationTopic = envOrDefault("HAIL_KAFKA_LOCATION_TOPIC", "driver-locations")
	cfg.Kafka.GroupID = envOrDefault("HAIL_KAFKA_GROUP_ID", "hail-location-consumer")

	cfg.Dispatch.NoDriverBackoff = envOrDefaultDuration("HAIL_NO_DRIVER_BACKOFF", 30*time.Second)
	cfg.Dispatch.RejectionCooldown = envOrDefaultDuration("HAIL_REJECTION_COOLDOWN", 30*time.Second)
	cfg.Dispatch.LocationFreshness = envOrDefaultDuration("HAIL_LOCATION_FRESHNESS", 2*time.Minute)
	cfg.Dispatch.SweepGrace = envOrDefaultDuration("HAIL_SWEEP_GRACE", 250*time.Millisecond)
	cfg.SchedPoll = envOrDefaultDuration("HAIL_SCHED_POLL", time.Second)

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return def
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
