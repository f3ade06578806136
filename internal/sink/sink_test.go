package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-analyzer/internal/models"
	"github.com/lorawan-server/lorawan-analyzer/internal/storage"
)

var testTime = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func u32(v uint32) *uint32 { return &v }
func u8(v uint8) *uint8    { return &v }

func dataPacket() *models.Packet {
	return &models.Packet{
		Timestamp:       testTime,
		GatewayID:       "0016c001ff10a235",
		PacketType:      models.PacketTypeData,
		DevAddr:         "26011bda",
		Operator:        "ttn",
		Frequency:       868100000,
		Bandwidth:       125000,
		SpreadingFactor: u32(7),
		RSSI:            -97,
		SNR:             7.5,
		PayloadSize:     18,
		AirtimeUS:       51456,
		FCnt:            u32(10),
		FPort:           u8(1),
		SessionID:       "s1",
	}
}

type fakePointWriter struct {
	points []*write.Point
	err    error
}

func (f *fakePointWriter) WritePoint(ctx context.Context, point ...*write.Point) error {
	f.points = append(f.points, point...)
	return f.err
}

func TestInfluxWriter(t *testing.T) {
	fw := &fakePointWriter{}
	w := &InfluxWriter{writer: fw}
	require.NoError(t, w.ConsumePacket(context.Background(), dataPacket()))
	require.Len(t, fw.points, 1)

	pt := fw.points[0]
	assert.Equal(t, "packets", pt.Name())
	assert.Equal(t, testTime, pt.Time())

	tags := map[string]string{}
	for _, tag := range pt.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, map[string]string{
		"gateway_id":       "0016c001ff10a235",
		"packet_type":      "data",
		"operator":         "ttn",
		"spreading_factor": "SF7",
	}, tags)

	fields := map[string]interface{}{}
	for _, f := range pt.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, "26011bda", fields["dev_addr"])
	assert.Equal(t, int64(-97), fields["rssi"])
	assert.Equal(t, int64(51456), fields["airtime_us"])
	assert.Equal(t, int64(10), fields["f_cnt"])
	assert.Equal(t, 7.5, fields["snr"])
	assert.NotContains(t, fields, "join_eui")

	fw.err = errors.New("bucket not found")
	assert.Error(t, w.ConsumePacket(context.Background(), dataPacket()))
}

type fakeKafka struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeKafka) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafka) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisher(t *testing.T) {
	fk := &fakeKafka{}
	k := &KafkaPublisher{writer: fk}

	require.NoError(t, k.ConsumePacket(context.Background(), dataPacket()))
	require.NoError(t, k.ConsumePacket(context.Background(), &models.Packet{
		PacketType: models.PacketTypeJoin,
		GatewayID:  "0016c001ff10a235",
		JoinEUI:    "70b3d57ed0000000",
		DevEUI:     "0004a30b001c0530",
	}))
	require.NoError(t, k.ConsumePacket(context.Background(), &models.Packet{
		PacketType: models.PacketTypeTxAck,
		GatewayID:  "0016c001ff10a235",
	}))
	require.NoError(t, k.Close())

	require.Len(t, fk.msgs, 3)
	assert.Equal(t, "26011bda", string(fk.msgs[0].Key))
	assert.Equal(t, "0004a30b001c0530", string(fk.msgs[1].Key))
	assert.Equal(t, "0016c001ff10a235", string(fk.msgs[2].Key))
	assert.Equal(t, "data", string(fk.msgs[0].Headers[0].Value))

	var decoded models.Packet
	require.NoError(t, json.Unmarshal(fk.msgs[0].Value, &decoded))
	assert.Equal(t, *dataPacket(), decoded)
	assert.True(t, fk.closed)
}

type fakeConn struct {
	subjects []string
	flushed  bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.subjects = append(f.subjects, subject)
	return nil
}

func (f *fakeConn) Flush() error {
	f.flushed = true
	return nil
}

func TestNATSPublisher(t *testing.T) {
	fc := &fakeConn{}
	n := NewNATSPublisher(fc, "lorawan.", nil)

	require.NoError(t, n.ConsumePacket(context.Background(), dataPacket()))
	require.NoError(t, n.ConsumePacket(context.Background(), &models.Packet{PacketType: models.PacketTypeTxAck, GatewayID: "gw.1*"}))
	require.NoError(t, n.ConsumePacket(context.Background(), &models.Packet{PacketType: models.PacketTypeDownlink}))
	require.NoError(t, n.Flush())

	assert.Equal(t, []string{
		"lorawan.0016c001ff10a235.data",
		"lorawan.gw_1_.tx_ack",
		"lorawan.unknown.downlink",
	}, fc.subjects)
	assert.True(t, fc.flushed)
}

type fakeRedis struct {
	geo  map[string][]*redis.GeoLocation
	hash map[string][]interface{}
	err  error
}

func (f *fakeRedis) GeoAdd(ctx context.Context, key string, locs ...*redis.GeoLocation) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.geo[key] = append(f.geo[key], locs...)
	cmd.SetVal(int64(len(locs)))
	return cmd
}

func (f *fakeRedis) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	f.hash[key] = values
	cmd.SetVal(int64(len(values) / 2))
	return cmd
}

func (f *fakeRedis) GeoSearchLocation(ctx context.Context, key string, q *redis.GeoSearchLocationQuery) *redis.GeoSearchLocationCmd {
	cmd := redis.NewGeoSearchLocationCmd(ctx, q)
	var out []redis.GeoLocation
	for _, l := range f.geo[key] {
		out = append(out, *l)
	}
	cmd.SetVal(out)
	return cmd
}

func TestRedisGatewayRegistry(t *testing.T) {
	fr := &fakeRedis{geo: map[string][]*redis.GeoLocation{}, hash: map[string][]interface{}{}}
	r := &RedisGatewayRegistry{rdb: fr, key: "gateways"}

	alt := 12.5
	require.NoError(t, r.ConsumeLocation(context.Background(), models.GatewayLocation{
		GatewayID: "0016C001FF10A235",
		Latitude:  52.37,
		Longitude: 4.89,
		Altitude:  &alt,
		Name:      "Dam",
	}))

	require.Len(t, fr.geo["gateways"], 1)
	assert.Equal(t, 4.89, fr.geo["gateways"][0].Longitude)
	assert.Equal(t, []interface{}{
		"latitude", "52.37",
		"longitude", "4.89",
		"altitude", "12.5",
		"name", "Dam",
	}, fr.hash["gateways:0016c001ff10a235"])

	ids, err := r.Nearby(context.Background(), 52.37, 4.89, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"0016C001FF10A235"}, ids)

	fr.err = errors.New("READONLY")
	assert.ErrorContains(t, r.ConsumeLocation(context.Background(), models.GatewayLocation{GatewayID: "x"}), "READONLY")
	assert.NoError(t, r.Close())
}

func TestLogConsumer(t *testing.T) {
	var buf bytes.Buffer
	l := &LogConsumer{logger: zerolog.New(&buf), level: zerolog.InfoLevel}

	require.NoError(t, l.ConsumePacket(context.Background(), dataPacket()))
	require.NoError(t, l.ConsumePacket(context.Background(), &models.Packet{
		PacketType: models.PacketTypeTxAck,
		GatewayID:  "0016c001ff10a235",
		Operator:   "TOO_LATE",
		FCnt:       u32(12345),
		DownlinkID: u32(12345),
	}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var up map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &up))
	assert.Equal(t, "Uplink", up["message"])
	assert.Equal(t, "26011bda", up["devAddr"])
	assert.Equal(t, "ttn", up["operator"])
	assert.Equal(t, 51.456, up["airtimeMs"])
	assert.Equal(t, float64(7), up["sf"])

	var ack map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &ack))
	assert.Equal(t, "Tx ack", ack["message"])
	assert.Equal(t, "TOO_LATE", ack["status"])
	assert.Equal(t, float64(12345), ack["downlinkId"])

	buf.Reset()
	quiet := &LogConsumer{logger: zerolog.New(&buf).Level(zerolog.WarnLevel), level: zerolog.DebugLevel}
	require.NoError(t, quiet.ConsumePacket(context.Background(), dataPacket()))
	assert.Empty(t, buf.String())
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.ConsumePacket(context.Background(), dataPacket()))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got models.Packet
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, "26011bda", got.DevAddr)

	hub.Close()
	assert.Equal(t, 0, hub.Len())
}

func TestHubRejectsOrigin(t *testing.T) {
	hub := NewHub([]string{"https://analyzer.example"})
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, map[string][]string{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)
}

func TestStoreRecorder(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	rec := NewStoreRecorder(store)
	rec.now = func() time.Time { return testTime.Add(time.Minute) }

	require.NoError(t, rec.ConsumePacket(ctx, dataPacket()))
	require.NoError(t, rec.ConsumePacket(ctx, &models.Packet{PacketType: models.PacketTypeTxAck}))
	require.NoError(t, rec.ConsumeLocation(ctx, models.GatewayLocation{GatewayID: "0016c001ff10a235", Latitude: 1, Longitude: 2, Name: "Dam"}))
	require.NoError(t, rec.ConsumeMetadata(ctx, models.DeviceMetadata{DevAddr: "26011bda", DeviceName: "soil-7"}))

	gws, err := store.ListGateways(ctx)
	require.NoError(t, err)
	require.Len(t, gws, 1)
	assert.Equal(t, "Dam", gws[0].Name)
	assert.Equal(t, testTime, gws[0].FirstSeen)
	assert.Equal(t, testTime.Add(time.Minute), gws[0].LastSeen)

	md, err := store.GetDeviceMetadata(ctx, "26011bda")
	require.NoError(t, err)
	assert.Equal(t, "soil-7", md.DeviceName)
}
