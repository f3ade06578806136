// Package transport subscribes to the gateway bridge over MQTT.
package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-analyzer/internal/ingest"
	"github.com/lorawan-server/lorawan-analyzer/internal/metrics"
)

// Router handles one inbound message
type Router interface {
	HandleMessage(ctx context.Context, topic string, payload []byte) (ingest.Result, error)
}

// Config holds the broker connection settings
type Config struct {
	Server   string
	Username string
	Password string
	ClientID string
	Topics   []string
	QoS      byte

	ConnectBackoff    time.Duration
	MaxConnectBackoff time.Duration
}

// MQTTSubscriber feeds broker messages to the router
type MQTTSubscriber struct {
	cfg     Config
	router  Router
	metrics *metrics.Metrics

	client    mqtt.Client
	connected atomic.Bool
	connects  atomic.Int64

	// ctx is the Start context, used for messages delivered by paho goroutines
	mu  sync.RWMutex
	ctx context.Context
}

// NewMQTTSubscriber creates a subscriber. Nothing connects until Start.
func NewMQTTSubscriber(cfg Config, router Router, m *metrics.Metrics) *MQTTSubscriber {
	if cfg.ClientID == "" {
		cfg.ClientID = "lorawan-analyzer-" + uuid.NewString()[:8]
	}
	if cfg.ConnectBackoff <= 0 {
		cfg.ConnectBackoff = time.Second
	}
	if cfg.MaxConnectBackoff <= 0 {
		cfg.MaxConnectBackoff = 30 * time.Second
	}
	return &MQTTSubscriber{
		cfg:     cfg,
		router:  router,
		metrics: m,
		ctx:     context.Background(),
	}
}

func (s *MQTTSubscriber) options() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Server).
		SetClientID(s.cfg.ClientID).
		// in-order delivery keeps per-device counters sequential
		SetOrderMatters(true).
		SetCleanSession(true).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetMaxReconnectInterval(s.cfg.MaxConnectBackoff)

	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
	}
	if s.cfg.Password != "" {
		opts.SetPassword(s.cfg.Password)
	}

	// subscriptions do not survive a clean session, so redo them on every connect
	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.connected.Store(false)
		s.metrics.RecordMQTTStatus(false)
		log.Warn().Err(err).Str("server", s.cfg.Server).Msg("MQTT connection lost")
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		log.Info().Str("server", s.cfg.Server).Msg("MQTT reconnecting")
	})
	return opts
}

func (s *MQTTSubscriber) onConnect(c mqtt.Client) {
	s.connected.Store(true)
	s.metrics.RecordMQTTStatus(true)
	if s.connects.Add(1) > 1 {
		s.metrics.RecordMQTTReconnect()
	}
	log.Info().Str("server", s.cfg.Server).Msg("Connected to MQTT broker")

	for _, topic := range s.cfg.Topics {
		token := c.Subscribe(topic, s.cfg.QoS, s.onMessage)
		if token.Wait() && token.Error() != nil {
			log.Error().Err(token.Error()).Str("topic", topic).Msg("MQTT subscribe failed")
			continue
		}
		log.Info().Str("topic", topic).Uint8("qos", s.cfg.QoS).Msg("Subscribed")
	}
}

func (s *MQTTSubscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()

	log.Trace().
		Str("topic", msg.Topic()).
		Int("size", len(msg.Payload())).
		Msg("Received message")

	// decode errors are logged by the router
	_, _ = s.router.HandleMessage(ctx, msg.Topic(), msg.Payload())
}

// Start connects, subscribes and blocks until ctx is cancelled. The initial
// connect is retried with exponential backoff; later losses are handled by
// the client's auto reconnect.
func (s *MQTTSubscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.client = mqtt.NewClient(s.options())
	if err := s.connectWithBackoff(ctx); err != nil {
		return err
	}

	log.Info().
		Int("subscriptions", len(s.cfg.Topics)).
		Msg("MQTT subscriber started")

	<-ctx.Done()

	if s.client.IsConnected() {
		if token := s.client.Unsubscribe(s.cfg.Topics...); token.WaitTimeout(2*time.Second) && token.Error() != nil {
			log.Warn().Err(token.Error()).Msg("MQTT unsubscribe failed")
		}
	}
	s.client.Disconnect(250)
	s.connected.Store(false)
	s.metrics.RecordMQTTStatus(false)
	log.Info().Msg("MQTT subscriber stopped")

	return ctx.Err()
}

func (s *MQTTSubscriber) connectWithBackoff(ctx context.Context) error {
	backoff := s.cfg.ConnectBackoff
	for {
		token := s.client.Connect()
		token.Wait()
		if token.Error() == nil {
			return nil
		}
		log.Warn().
			Err(token.Error()).
			Str("server", s.cfg.Server).
			Dur("retryIn", backoff).
			Msg("MQTT connect failed")

		select {
		case <-time.After(backoff):
			if backoff < s.cfg.MaxConnectBackoff {
				backoff = min(backoff*2, s.cfg.MaxConnectBackoff)
			}
		case <-ctx.Done():
			return fmt.Errorf("connect %s: %w", s.cfg.Server, ctx.Err())
		}
	}
}

// IsConnected reports the last known connection state
func (s *MQTTSubscriber) IsConnected() bool {
	return s.connected.Load()
}
