package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lorawan-server/lorawan-analyzer/internal/frame"
)

func TestClassifyTopic(t *testing.T) {
	tests := []struct {
		topic    string
		want     Topic
		routable bool
	}{
		{
			topic:    "eu868/gateway/0016c001ff10a235/event/up",
			want:     Topic{Layer: LayerGateway, Kind: frame.KindUplink, GatewayID: "0016c001ff10a235"},
			routable: true,
		},
		{
			topic:    "eu868/gateway/0016C001FF10A235/event/ack",
			want:     Topic{Layer: LayerGateway, Kind: frame.KindTxAck, GatewayID: "0016c001ff10a235"},
			routable: true,
		},
		{
			topic:    "us915_0/gateway/aa555a0000000101/command/down",
			want:     Topic{Layer: LayerGateway, Kind: frame.KindDownlink, GatewayID: "aa555a0000000101"},
			routable: true,
		},
		{
			topic: "eu868/gateway/0016c001ff10a235/event/stats",
			want:  Topic{Layer: LayerGateway, Kind: frame.KindStats, GatewayID: "0016c001ff10a235"},
		},
		{
			topic:    "application/3/device/0004a30b001c0530/event/up",
			want:     Topic{Layer: LayerApplication, Kind: frame.KindUplink},
			routable: true,
		},
		// application shape wins over a gateway segment
		{
			topic:    "application/gateway/device/x/event/up",
			want:     Topic{Layer: LayerApplication, Kind: frame.KindUplink},
			routable: true,
		},
		{topic: "application/3/device/0004a30b001c0530/event/join"},
		{topic: "application/3/device/0004a30b001c0530/event/ack"},
		{topic: "eu868/gateway/0016c001ff10a235/event/conn"},
		{topic: "eu868/gateway//event/up"},
		{topic: "eu868/gateway"},
		{topic: "eu868/relay/0016c001ff10a235/event/up"},
		{topic: "up"},
		{topic: ""},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got := ClassifyTopic(tt.topic)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.routable, got.Routable())
		})
	}
}

func TestSubscriptionTopics(t *testing.T) {
	assert.Equal(t, []string{
		"+/gateway/+/event/up",
		"+/gateway/+/event/ack",
		"+/gateway/+/command/down",
	}, SubscriptionTopics("+/gateway/+/event/up"))

	assert.Equal(t, []string{"eu868/gateway/#"}, SubscriptionTopics("eu868/gateway/#"))
}
