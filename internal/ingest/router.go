// Package ingest routes transport messages to decoders and consumers.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-analyzer/internal/frame"
	"github.com/lorawan-server/lorawan-analyzer/internal/location"
	"github.com/lorawan-server/lorawan-analyzer/internal/metadata"
	"github.com/lorawan-server/lorawan-analyzer/internal/metrics"
	"github.com/lorawan-server/lorawan-analyzer/internal/models"
)

// PacketConsumer receives every decoded gateway-layer packet.
type PacketConsumer interface {
	ConsumePacket(ctx context.Context, p *models.Packet) error
}

// LocationConsumer receives gateway locations found in application uplinks.
type LocationConsumer interface {
	ConsumeLocation(ctx context.Context, loc models.GatewayLocation) error
}

// MetadataConsumer receives device records found in application uplinks.
type MetadataConsumer interface {
	ConsumeMetadata(ctx context.Context, rec models.DeviceMetadata) error
}

// PacketConsumerFunc adapts a function to PacketConsumer
type PacketConsumerFunc func(ctx context.Context, p *models.Packet) error

func (f PacketConsumerFunc) ConsumePacket(ctx context.Context, p *models.Packet) error {
	return f(ctx, p)
}

// LocationConsumerFunc adapts a function to LocationConsumer
type LocationConsumerFunc func(ctx context.Context, loc models.GatewayLocation) error

func (f LocationConsumerFunc) ConsumeLocation(ctx context.Context, loc models.GatewayLocation) error {
	return f(ctx, loc)
}

// MetadataConsumerFunc adapts a function to MetadataConsumer
type MetadataConsumerFunc func(ctx context.Context, rec models.DeviceMetadata) error

func (f MetadataConsumerFunc) ConsumeMetadata(ctx context.Context, rec models.DeviceMetadata) error {
	return f(ctx, rec)
}

// Enricher fills derived fields of a packet before consumers see it.
// Enrichers run in registration order.
type Enricher interface {
	Enrich(p *models.Packet)
}

type named[T any] struct {
	name     string
	consumer T
}

// Router is stateless apart from its consumer lists; all per-device state
// lives in the enrichers.
type Router struct {
	decoder   frame.EventDecoder
	locations location.Extractor
	devices   metadata.Extractor
	metrics   *metrics.Metrics
	now       func() time.Time

	mu                sync.RWMutex
	enrichers         []Enricher
	packetConsumers   []named[PacketConsumer]
	locationConsumers []named[LocationConsumer]
	metadataConsumers []named[MetadataConsumer]
}

// NewRouter creates a router for payloads encoded in f.
func NewRouter(f frame.Format, m *metrics.Metrics) (*Router, error) {
	dec, err := frame.NewEventDecoder(f)
	if err != nil {
		return nil, err
	}
	locs, err := location.NewExtractor(f)
	if err != nil {
		return nil, err
	}
	devs, err := metadata.NewExtractor(f)
	if err != nil {
		return nil, err
	}
	return &Router{
		decoder:   dec,
		locations: locs,
		devices:   devs,
		metrics:   m,
		now:       time.Now,
	}, nil
}

// Format returns the payload format the router decodes.
func (r *Router) Format() frame.Format {
	return r.decoder.Format()
}

// Use appends an enricher.
func (r *Router) Use(e Enricher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enrichers = append(r.enrichers, e)
}

// OnPacket registers a packet consumer under name.
func (r *Router) OnPacket(name string, c PacketConsumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packetConsumers = append(r.packetConsumers, named[PacketConsumer]{name, c})
}

// OnLocation registers a location consumer under name.
func (r *Router) OnLocation(name string, c LocationConsumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locationConsumers = append(r.locationConsumers, named[LocationConsumer]{name, c})
}

// OnMetadata registers a metadata consumer under name.
func (r *Router) OnMetadata(name string, c MetadataConsumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadataConsumers = append(r.metadataConsumers, named[MetadataConsumer]{name, c})
}

// Result is what a single message produced.
type Result struct {
	Topic     Topic                    `json:"topic"`
	Packet    *models.Packet           `json:"packet,omitempty"`
	Locations []models.GatewayLocation `json:"locations,omitempty"`
	Metadata  *models.DeviceMetadata   `json:"metadata,omitempty"`
}

// HandleMessage classifies topic, decodes payload and delivers the result.
// Unroutable topics return an empty Result and no error. A decode error drops
// the message and is returned; consumer errors are logged and never returned.
func (r *Router) HandleMessage(ctx context.Context, topic string, payload []byte) (Result, error) {
	t := ClassifyTopic(topic)
	res := Result{Topic: t}

	if !t.Routable() {
		if t.Kind == frame.KindStats {
			r.metrics.RecordDropped(metrics.DropIgnored)
		} else {
			r.metrics.RecordDropped(metrics.DropUnknownTopic)
		}
		log.Trace().Str("topic", topic).Msg("Ignoring message")
		return res, nil
	}
	r.metrics.RecordMessageReceived(t.Layer.String() + "_" + t.Kind.String())

	var err error
	switch t.Layer {
	case LayerGateway:
		res.Packet, err = r.handleGateway(ctx, t, payload)
	case LayerApplication:
		res.Locations, res.Metadata, err = r.handleApplication(ctx, payload)
	}
	if err != nil {
		r.metrics.RecordDropped(metrics.DropDecodeError)
		log.Warn().
			Err(err).
			Str("topic", topic).
			Int("size", len(payload)).
			Msg("Failed to decode message")
		return res, fmt.Errorf("decode %s: %w", topic, err)
	}
	return res, nil
}

func (r *Router) handleGateway(ctx context.Context, t Topic, payload []byte) (*models.Packet, error) {
	start := time.Now()
	p, err := frame.Decode(r.decoder, t.Kind, payload, r.now(), t.GatewayID)
	r.metrics.RecordDecodeDuration(t.Kind.String(), time.Since(start))
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	enrichers := r.enrichers
	consumers := r.packetConsumers
	r.mu.RUnlock()

	for _, e := range enrichers {
		e.Enrich(p)
	}

	r.metrics.RecordPacket(string(p.PacketType))
	for _, c := range consumers {
		r.deliver(c.name, func() error { return c.consumer.ConsumePacket(ctx, p) })
	}
	return p, nil
}

// handleApplication never produces a packet: the same radio event already
// arrives on the gateway topic.
func (r *Router) handleApplication(ctx context.Context, payload []byte) ([]models.GatewayLocation, *models.DeviceMetadata, error) {
	start := time.Now()
	locs, locErr := r.locations.Extract(payload)
	rec, ok, recErr := r.devices.Extract(payload, r.now())
	r.metrics.RecordDecodeDuration("application", time.Since(start))
	if locErr != nil && recErr != nil {
		return nil, nil, errors.Join(locErr, recErr)
	}

	r.mu.RLock()
	locConsumers := r.locationConsumers
	metaConsumers := r.metadataConsumers
	r.mu.RUnlock()

	for _, loc := range locs {
		loc := loc
		for _, c := range locConsumers {
			r.deliver(c.name, func() error { return c.consumer.ConsumeLocation(ctx, loc) })
		}
	}
	r.metrics.RecordLocations(len(locs))

	var out *models.DeviceMetadata
	if ok {
		out = &rec
		for _, c := range metaConsumers {
			r.deliver(c.name, func() error { return c.consumer.ConsumeMetadata(ctx, rec) })
		}
		r.metrics.RecordMetadata()
	}
	return locs, out, nil
}

// deliver runs one consumer. Errors and panics stay inside.
func (r *Router) deliver(name string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.RecordConsumerError(name)
			log.Error().
				Str("consumer", name).
				Interface("panic", rec).
				Msg("Consumer panicked")
		}
	}()
	if err := fn(); err != nil {
		r.metrics.RecordConsumerError(name)
		log.Error().Err(err).Str("consumer", name).Msg("Consumer failed")
	}
}
