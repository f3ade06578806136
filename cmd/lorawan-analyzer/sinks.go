package main

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-analyzer/internal/config"
	"github.com/lorawan-server/lorawan-analyzer/internal/ingest"
	"github.com/lorawan-server/lorawan-analyzer/internal/metrics"
	"github.com/lorawan-server/lorawan-analyzer/internal/sink"
)

// sinkSet holds the optional external sinks in the order they are flushed.
type sinkSet struct {
	nc     *nats.Conn
	nats   *sink.NATSPublisher
	influx *sink.InfluxWriter
	kafka  *sink.KafkaPublisher
	redis  *sink.RedisGatewayRegistry
}

func openSinks(cfg *config.Config, m *metrics.Metrics, router *ingest.Router) (*sinkSet, error) {
	s := &sinkSet{}

	if cfg.InfluxDB.Enabled {
		s.influx = sink.NewInfluxWriter(cfg.InfluxDB.URL, cfg.InfluxDB.Token, cfg.InfluxDB.Org, cfg.InfluxDB.Bucket, m)
		router.OnPacket("influxdb", s.influx)
		log.Info().Str("url", cfg.InfluxDB.URL).Str("bucket", cfg.InfluxDB.Bucket).Msg("InfluxDB sink enabled")
	}

	if cfg.Kafka.Enabled {
		s.kafka = sink.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, m)
		router.OnPacket("kafka", s.kafka)
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("Kafka sink enabled")
	}

	if cfg.NATS.Enabled {
		opts := []nats.Option{
			nats.Name("lorawan-analyzer"),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.ReconnectWait(cfg.NATS.ReconnectWait),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				log.Warn().Err(err).Msg("NATS disconnected")
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
			}),
		}
		if cfg.NATS.Username != "" {
			opts = append(opts, nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password))
		}
		nc, err := nats.Connect(cfg.NATS.URL, opts...)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		s.nc = nc
		s.nats = sink.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix, m)
		router.OnPacket("nats", s.nats)
		log.Info().Str("url", cfg.NATS.URL).Str("prefix", cfg.NATS.SubjectPrefix).Msg("NATS sink enabled")
	}

	if cfg.Redis.Enabled {
		s.redis = sink.NewRedisGatewayRegistry(sink.RedisOpts{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
			Timeout:  2 * time.Second,
		}, m)
		router.OnLocation("redis", s.redis)
		log.Info().Str("addr", cfg.Redis.Addr).Str("key", cfg.Redis.Key).Msg("Redis gateway registry enabled")
	}

	return s, nil
}

// close flushes buffered writes and releases the connections.
func (s *sinkSet) close() {
	if s.nats != nil {
		if err := s.nats.Flush(); err != nil {
			log.Warn().Err(err).Msg("NATS flush")
		}
	}
	if s.nc != nil {
		s.nc.Close()
	}
	if s.influx != nil {
		s.influx.Close()
	}
	if s.kafka != nil {
		if err := s.kafka.Close(); err != nil {
			log.Warn().Err(err).Msg("Kafka close")
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("Redis close")
		}
	}
}
