package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"hail/internal/config"
	"hail/internal/modules/location"
)

const publishTimeout = 2 * time.Second

// KafkaPublisher writes location samples to the location topic, keyed by
// driver id so one driver's samples stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.LocationTopic,
		Balancer: &kafka.Hash{},
	})
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) PublishSample(ctx context.Context, s location.Sample) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(s.DriverID), Value: b})
}

func (p *KafkaPublisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// Consumer reads samples from the location topic and writes them through
// the ingest service. Malformed messages are logged and skipped; read
// errors back off and retry until the context is cancelled.
type Consumer struct {
	reader  *kafka.Reader
	service *Service
	log     zerolog.Logger
}

func NewConsumer(cfg config.KafkaConfig, svc *Service, log zerolog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.LocationTopic,
		GroupID:  cfg.GroupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	return &Consumer{reader: r, service: svc, log: log}
}

func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn().Err(err).Dur("backoff", backoff).Msg("kafka read failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		var s location.Sample
		if err := json.Unmarshal(m.Value, &s); err != nil {
			c.log.Warn().Err(err).Msg("invalid location message")
			continue
		}
		if err := c.service.Ingest(ctx, s); err != nil {
			c.log.Error().Err(err).Str("driver_id", string(s.DriverID)).Msg("sample write failed")
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
