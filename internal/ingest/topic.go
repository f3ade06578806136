package ingest

import (
	"strings"

	"github.com/lorawan-server/lorawan-analyzer/internal/frame"
)

// Layer tells which side of the network server published a message.
type Layer int

const (
	LayerUnknown Layer = iota
	LayerGateway
	LayerApplication
)

func (l Layer) String() string {
	switch l {
	case LayerGateway:
		return "gateway"
	case LayerApplication:
		return "application"
	default:
		return "unknown"
	}
}

func (l Layer) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Topic is the classification of a transport topic.
type Topic struct {
	Layer     Layer           `json:"layer"`
	Kind      frame.EventKind `json:"kind"`
	GatewayID string          `json:"gateway_id,omitempty"`
}

// Routable reports whether a consumer exists for the topic.
func (t Topic) Routable() bool {
	switch t.Layer {
	case LayerGateway:
		return t.Kind == frame.KindUplink || t.Kind == frame.KindDownlink || t.Kind == frame.KindTxAck
	case LayerApplication:
		return t.Kind == frame.KindUplink
	default:
		return false
	}
}

// ClassifyTopic inspects the segments of topic. Application topics are
// checked first and only carry uplinks. Gateway topics need a non-empty
// segment after "gateway".
//
//	eu868/gateway/0016c001f153a14c/event/up      gateway uplink
//	eu868/gateway/0016c001f153a14c/command/down  gateway downlink
//	application/3/device/0004a30b001c0530/event/up
func ClassifyTopic(topic string) Topic {
	segs := strings.Split(strings.Trim(topic, "/"), "/")
	kind := kindFromSuffix(segs)

	for _, s := range segs {
		if s == "application" {
			if kind != frame.KindUplink {
				return Topic{}
			}
			return Topic{Layer: LayerApplication, Kind: kind}
		}
	}

	for i, s := range segs {
		if s != "gateway" {
			continue
		}
		if i+1 >= len(segs) || segs[i+1] == "" {
			return Topic{}
		}
		if kind == frame.KindUnknown {
			return Topic{}
		}
		return Topic{Layer: LayerGateway, Kind: kind, GatewayID: strings.ToLower(segs[i+1])}
	}

	return Topic{}
}

func kindFromSuffix(segs []string) frame.EventKind {
	if len(segs) < 2 {
		return frame.KindUnknown
	}
	switch segs[len(segs)-2] + "/" + segs[len(segs)-1] {
	case "event/up":
		return frame.KindUplink
	case "event/ack":
		return frame.KindTxAck
	case "command/down":
		return frame.KindDownlink
	case "event/stats":
		return frame.KindStats
	default:
		return frame.KindUnknown
	}
}

// SubscriptionTopics derives the gateway subscriptions from the configured
// uplink topic: ".../event/up" also yields ".../event/ack" and
// ".../command/down". A topic with another suffix is returned alone.
func SubscriptionTopics(uplinkTopic string) []string {
	base, ok := strings.CutSuffix(uplinkTopic, "/event/up")
	if !ok {
		return []string{uplinkTopic}
	}
	return []string{
		base + "/event/up",
		base + "/event/ack",
		base + "/command/down",
	}
}
