package sink

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lorawan-server/lorawan-analyzer/internal/metrics"
	"github.com/lorawan-server/lorawan-analyzer/internal/models"
)

type geoClient interface {
	GeoAdd(ctx context.Context, key string, geoLocation ...*redis.GeoLocation) *redis.IntCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	GeoSearchLocation(ctx context.Context, key string, q *redis.GeoSearchLocationQuery) *redis.GeoSearchLocationCmd
}

// RedisOpts configures the registry connection
type RedisOpts struct {
	Addr     string
	Password string
	DB       int
	Key      string
	Timeout  time.Duration
}

// RedisGatewayRegistry keeps gateway positions in a geo set and their
// details in one hash per gateway.
type RedisGatewayRegistry struct {
	rdb     geoClient
	closer  func() error
	key     string
	metrics *metrics.Metrics
}

func NewRedisGatewayRegistry(o RedisOpts, m *metrics.Metrics) *RedisGatewayRegistry {
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Password:     o.Password,
		DB:           o.DB,
		DialTimeout:  o.Timeout,
		ReadTimeout:  o.Timeout,
		WriteTimeout: o.Timeout,
	})
	return &RedisGatewayRegistry{
		rdb:     rdb,
		closer:  rdb.Close,
		key:     o.Key,
		metrics: m,
	}
}

// ConsumeLocation stores loc
func (r *RedisGatewayRegistry) ConsumeLocation(ctx context.Context, loc models.GatewayLocation) error {
	err := r.rdb.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Name:      loc.GatewayID,
		Longitude: loc.Longitude,
		Latitude:  loc.Latitude,
	}).Err()
	if err == nil {
		err = r.rdb.HSet(ctx, r.detailKey(loc.GatewayID), detailFields(loc)...).Err()
	}
	r.metrics.RecordSinkWrite("redis", err)
	if err != nil {
		return fmt.Errorf("store gateway %s: %w", loc.GatewayID, err)
	}
	return nil
}

// Nearby lists gateway ids within radiusKm of a point, nearest first.
func (r *RedisGatewayRegistry) Nearby(ctx context.Context, lat, lon, radiusKm float64) ([]string, error) {
	res, err := r.rdb.GeoSearchLocation(ctx, r.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  lon,
			Latitude:   lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(res))
	for i, loc := range res {
		ids[i] = loc.Name
	}
	return ids, nil
}

// Close releases the connection pool
func (r *RedisGatewayRegistry) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}

func (r *RedisGatewayRegistry) detailKey(gatewayID string) string {
	return r.key + ":" + strings.ToLower(gatewayID)
}

func detailFields(loc models.GatewayLocation) []interface{} {
	fields := []interface{}{
		"latitude", strconv.FormatFloat(loc.Latitude, 'f', -1, 64),
		"longitude", strconv.FormatFloat(loc.Longitude, 'f', -1, 64),
	}
	if loc.Altitude != nil {
		fields = append(fields, "altitude", strconv.FormatFloat(*loc.Altitude, 'f', -1, 64))
	}
	if loc.Name != "" {
		fields = append(fields, "name", loc.Name)
	}
	return fields
}
