package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/lorawan-server/lorawan-analyzer/internal/config"
	"github.com/lorawan-server/lorawan-analyzer/internal/metadata"
	"github.com/lorawan-server/lorawan-analyzer/internal/models"
	"github.com/lorawan-server/lorawan-analyzer/internal/operator"
	"github.com/lorawan-server/lorawan-analyzer/internal/storage"
)

type fixedCount int

func (c fixedCount) Len() int { return int(c) }

type testEnv struct {
	server  *RESTServer
	store   *storage.MemoryStore
	matcher *operator.Matcher
	devices *metadata.Cache
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	cfg := &config.Config{
		Operators: []config.OperatorConfig{
			{Name: "Mine", Prefix: config.Prefixes{"26011"}, Color: "#00ff00", KnownDevices: true},
		},
		HideRules: []config.HideRuleConfig{
			{Type: "join_eui", Prefix: "70B3D5", Description: "kits"},
		},
	}
	cfg.JWT.TokenTTL = time.Hour
	cfg.JWT.AdminUser = "admin"
	if mutate != nil {
		mutate(cfg)
	}

	store := storage.NewMemoryStore()
	matcher := operator.NewMatcher()
	registry := operator.NewRegistry(matcher, store, cfg.OperatorRules())
	require.NoError(t, registry.Reload(context.Background()))
	devices := metadata.NewCache(store)

	srv := NewRESTServer(cfg, Deps{
		Store:     store,
		Operators: registry,
		Devices:   devices,
		Sessions:  fixedCount(3),
		Connected: func() bool { return true },
	})
	return &testEnv{server: srv, store: store, matcher: matcher, devices: devices}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) (*httptest.ResponseRecorder, map[string]interface{}) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)

	var out map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec, body := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestOperatorLifecycleReloadsMatcher(t *testing.T) {
	env := newTestEnv(t, nil)
	assert.Equal(t, operator.Unknown, env.matcher.Name("aa112233"))

	rec, body := env.do(t, http.MethodPost, "/api/operators", `{"prefix":"AA","name":"Custom","priority":10}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := int64(body["id"].(float64))
	assert.Equal(t, "Custom", env.matcher.Name("aa112233"))

	rec, body = env.do(t, http.MethodGet, "/api/operators", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["operators"], 1)

	rec, _ = env.do(t, http.MethodPost, "/api/operators", `{"prefix":"AA","name":"Custom"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, body = env.do(t, http.MethodDelete, "/api/operators/"+itoa(id), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, operator.Unknown, env.matcher.Name("aa112233"))

	rec, _ = env.do(t, http.MethodDelete, "/api/operators/"+itoa(id), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateOperatorValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, body := range []string{
		`{"prefix":"","name":"X"}`,
		`{"prefix":"ZZ","name":"X"}`,
		`{"prefix":"26","name":""}`,
		`{"prefix":"26","name":"X","color":"green"}`,
		`not json`,
	} {
		rec, _ := env.do(t, http.MethodPost, "/api/operators", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Equal(t, 1, env.matcher.Len())
}

func TestHideRules(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, _ := env.do(t, http.MethodPost, "/api/hide-rules", `{"type":"dev_eui","prefix":"26"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := env.do(t, http.MethodPost, "/api/hide-rules", `{"type":"dev_addr","prefix":"26","description":"lab"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := int64(body["id"].(float64))

	rec, body = env.do(t, http.MethodGet, "/api/hide-rules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rules := body["rules"].([]interface{})
	require.Len(t, rules, 2)
	assert.Equal(t, "dev_addr", rules[0].(map[string]interface{})["type"])
	assert.Equal(t, "join_eui", rules[1].(map[string]interface{})["type"])

	rec, _ = env.do(t, http.MethodDelete, "/api/hide-rules/"+itoa(id), "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodDelete, "/api/hide-rules/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfigRoutes(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.store.CreateCustomOperator(context.Background(),
		&models.CustomOperator{Prefix: "AA", Name: "Custom", Color: "#123456"}))
	require.NoError(t, env.store.CreateCustomOperator(context.Background(),
		&models.CustomOperator{Prefix: "BB", Name: "Mine", Color: "#ffffff"}))

	rec, body := env.do(t, http.MethodGet, "/api/config/my-devices", "")
	require.Equal(t, http.StatusOK, rec.Code)
	ranges := body["ranges"].([]interface{})
	require.Len(t, ranges, 1)
	assert.Equal(t, map[string]interface{}{"type": "dev_addr", "prefix": "26011", "description": "Mine"}, ranges[0])

	rec, body = env.do(t, http.MethodGet, "/api/config/operator-colors", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"Custom": "#123456", "Mine": "#00ff00"}, body)
}

func TestGatewaysAndDevices(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, env.store.TouchGateway(ctx, "0016c001ff10a235", now))
	require.NoError(t, env.store.UpsertDeviceMetadata(ctx, models.DeviceMetadata{
		DevAddr: "26011BDA", DeviceName: "stored", ApplicationName: "app", LastUpdated: now,
	}))

	rec, body := env.do(t, http.MethodGet, "/api/gateways", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total"])

	rec, body = env.do(t, http.MethodGet, "/api/devices/26011bda", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stored", body["device"].(map[string]interface{})["deviceName"])
	assert.Equal(t, "Mine", body["operator"])

	env.devices.Upsert(models.DeviceMetadata{DevAddr: "26011bda", DeviceName: "cached", LastUpdated: now})
	_, body = env.do(t, http.MethodGet, "/api/devices/26011bda", "")
	assert.Equal(t, "cached", body["device"].(map[string]interface{})["deviceName"])

	rec, _ = env.do(t, http.MethodGet, "/api/devices/01020304", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/devices/xyz", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeFinder struct {
	ids  []string
	err  error
	args []float64
}

func (f *fakeFinder) Nearby(ctx context.Context, lat, lon, radiusKm float64) ([]string, error) {
	f.args = []float64{lat, lon, radiusKm}
	return f.ids, f.err
}

func TestNearbyGateways(t *testing.T) {
	env := newTestEnv(t, nil)
	rec, _ := env.do(t, http.MethodGet, "/api/gateways/nearby?lat=52.37&lon=4.89", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "registry disabled")

	finder := &fakeFinder{ids: []string{"0016c001ff10a235", "aa555a0000000101"}}
	env.server.deps.Nearby = finder

	rec, body := env.do(t, http.MethodGet, "/api/gateways/nearby?lat=52.37&lon=4.89&radius=2.5", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []interface{}{"0016c001ff10a235", "aa555a0000000101"}, body["gateways"])
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, []float64{52.37, 4.89, 2.5}, finder.args)

	_, body = env.do(t, http.MethodGet, "/api/gateways/nearby?lat=52.37&lon=4.89", "")
	assert.Equal(t, float64(10), body["radiusKm"])

	for _, q := range []string{"lon=4.89", "lat=91&lon=4.89", "lat=52&lon=abc", "lat=52&lon=4&radius=0", "lat=52&lon=4&radius=5000"} {
		rec, _ = env.do(t, http.MethodGet, "/api/gateways/nearby?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	finder.err = errors.New("connection refused")
	rec, _ = env.do(t, http.MethodGet, "/api/gateways/nearby?lat=52.37&lon=4.89", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, nil)
	env.devices.Upsert(models.DeviceMetadata{DevAddr: "26011bda", DeviceName: "d"})

	rec, body := env.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["sessions"])
	assert.Equal(t, float64(1), body["devices"])
	assert.Equal(t, float64(1), body["operatorRules"])
	assert.Equal(t, true, body["mqttConnected"])
}

func TestAuthProtectsMutations(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)
	env := newTestEnv(t, func(c *config.Config) {
		c.JWT.Secret = "0123456789abcdef"
		c.JWT.AdminPasswordHash = string(hash)
	})

	rec, _ := env.do(t, http.MethodPost, "/api/operators", `{"prefix":"AA","name":"X"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/operators", `{"prefix":"AA","name":"X"}`, "Authorization", "Bearer junk")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := env.do(t, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"pw"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	token := body["access_token"].(string)

	rec, _ = env.do(t, http.MethodPost, "/api/operators", `{"prefix":"AA","name":"X"}`, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/operators", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginDisabled(t *testing.T) {
	env := newTestEnv(t, nil)
	rec, _ := env.do(t, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"pw"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
