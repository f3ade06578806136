package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/lorawan-server/lorawan-analyzer/internal/frame"
	"github.com/lorawan-server/lorawan-analyzer/internal/ingest"
	"github.com/lorawan-server/lorawan-analyzer/internal/models"
	"github.com/lorawan-server/lorawan-analyzer/internal/operator"
	"github.com/lorawan-server/lorawan-analyzer/internal/session"
)

// Config represents the application configuration
type Config struct {
	MQTT      MQTTConfig       `yaml:"mqtt"`
	Database  DatabaseConfig   `yaml:"database"`
	InfluxDB  InfluxDBConfig   `yaml:"influxdb"`
	Kafka     KafkaConfig      `yaml:"kafka"`
	NATS      NATSConfig       `yaml:"nats"`
	Redis     RedisConfig      `yaml:"redis"`
	API       APIConfig        `yaml:"api"`
	JWT       JWTConfig        `yaml:"jwt"`
	Log       LogConfig        `yaml:"log"`
	Session   SessionConfig    `yaml:"session"`
	Operators []OperatorConfig `yaml:"operators"`
	HideRules []HideRuleConfig `yaml:"hide_rules"`
}

// MQTTConfig represents the broker subscription
type MQTTConfig struct {
	Server           string `yaml:"server"`
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`
	ClientID         string `yaml:"client_id"`
	Topic            string `yaml:"topic"`
	ApplicationTopic string `yaml:"application_topic"`
	Format           string `yaml:"format"`
	QoS              byte   `yaml:"qos"`
}

// DatabaseConfig represents database configuration. An empty DSN keeps
// operators, hide rules and gateways in memory.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// InfluxDBConfig represents the packet time-series store
type InfluxDBConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// KafkaConfig represents the packet export stream
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// NATSConfig represents the packet fan-out bus
type NATSConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// RedisConfig represents the gateway geo registry
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// APIConfig represents the HTTP API
type APIConfig struct {
	Bind           string   `yaml:"bind"`
	StaticDir      string   `yaml:"static_dir"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// JWTConfig represents JWT configuration. Mutating API routes require a
// token once AdminPasswordHash is set.
type JWTConfig struct {
	Secret            string        `yaml:"secret"`
	TokenTTL          time.Duration `yaml:"token_ttl"`
	AdminUser         string        `yaml:"admin_user"`
	AdminPasswordHash string        `yaml:"admin_password_hash"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SessionConfig tunes session correlation
type SessionConfig struct {
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	MaxForwardGap  uint32        `yaml:"max_forward_gap"`
	ResetTolerance *uint32       `yaml:"reset_tolerance"`
	JoinWindow     time.Duration `yaml:"join_window"`
	Shards         int           `yaml:"shards"`
}

// OperatorConfig is an operator entry of the config file
type OperatorConfig struct {
	Name         string   `yaml:"name"`
	Prefix       Prefixes `yaml:"prefix"`
	Priority     int      `yaml:"priority"`
	Color        string   `yaml:"color"`
	KnownDevices bool     `yaml:"known_devices"`
}

// Prefixes accepts a single prefix or a list of them
type Prefixes []string

func (p *Prefixes) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*p = Prefixes{s}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*p = list
		return nil
	default:
		return fmt.Errorf("line %d: prefix must be a string or a list of strings", node.Line)
	}
}

// HideRuleConfig is a hide rule of the config file
type HideRuleConfig struct {
	Type        string `yaml:"type"`
	Prefix      string `yaml:"prefix"`
	Description string `yaml:"description"`
}

// Load loads configuration from file. A missing file is not an error: the
// defaults and environment are used.
func Load(filename string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(filename)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Warn().Str("path", filename).Msg("Config file not found, using defaults")
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	// Apply environment overrides
	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if server := os.Getenv("MQTT_SERVER"); server != "" {
		c.MQTT.Server = server
	}

	if user := os.Getenv("MQTT_USERNAME"); user != "" {
		c.MQTT.Username = user
	}

	if pass := os.Getenv("MQTT_PASSWORD"); pass != "" {
		c.MQTT.Password = pass
	}

	if format := os.Getenv("MQTT_FORMAT"); format != "" {
		c.MQTT.Format = format
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if influxURL := os.Getenv("INFLUX_URL"); influxURL != "" {
		c.InfluxDB.URL = influxURL
		c.InfluxDB.Enabled = true
	}

	if influxToken := os.Getenv("INFLUX_TOKEN"); influxToken != "" {
		c.InfluxDB.Token = influxToken
	}

	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		c.Redis.Addr = redisAddr
		c.Redis.Enabled = true
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
		c.NATS.Enabled = true
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = splitList(brokers)
		c.Kafka.Enabled = true
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
}

func (c *Config) setDefaults() {
	if c.MQTT.Server == "" {
		c.MQTT.Server = "tcp://localhost:1883"
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "+/gateway/+/event/up"
	}
	if c.MQTT.ApplicationTopic == "" {
		c.MQTT.ApplicationTopic = "application/+/device/+/event/up"
	}
	if c.MQTT.Format == "" {
		c.MQTT.Format = string(frame.FormatProtobuf)
	}

	if c.InfluxDB.Bucket == "" {
		c.InfluxDB.Bucket = "lorawan"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "lorawan.packets"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "lorawan.packets"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
	if c.NATS.ReconnectWait == 0 {
		c.NATS.ReconnectWait = 2 * time.Second
	}
	if c.Redis.Key == "" {
		c.Redis.Key = "lorawan:gateways"
	}

	if c.API.Bind == "" {
		c.API.Bind = "0.0.0.0:3000"
	}

	if c.JWT.TokenTTL == 0 {
		c.JWT.TokenTTL = 12 * time.Hour
	}
	if c.JWT.AdminUser == "" {
		c.JWT.AdminUser = "admin"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}

	d := session.DefaultConfig()
	if c.Session.IdleTimeout == 0 {
		c.Session.IdleTimeout = d.IdleTimeout
	}
	if c.Session.SweepInterval == 0 {
		c.Session.SweepInterval = d.SweepInterval
	}
	if c.Session.MaxForwardGap == 0 {
		c.Session.MaxForwardGap = d.MaxForwardGap
	}
	if c.Session.ResetTolerance == nil {
		tol := d.ResetTolerance
		c.Session.ResetTolerance = &tol
	}
	if c.Session.JoinWindow == 0 {
		c.Session.JoinWindow = d.JoinWindow
	}
	if c.Session.Shards == 0 {
		c.Session.Shards = d.Shards
	}
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if _, err := frame.ParseFormat(c.MQTT.Format); err != nil {
		return fmt.Errorf("mqtt.format: %w", err)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos: %d is not 0, 1 or 2", c.MQTT.QoS)
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "") {
		return errors.New("influxdb: url and org are required when enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka: brokers are required when enabled")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats: url is required when enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis: addr is required when enabled")
	}
	if c.JWT.AdminPasswordHash != "" && len(c.JWT.Secret) < 16 {
		return errors.New("jwt.secret: at least 16 characters are required when admin login is enabled")
	}
	if c.Session.Shards < 0 {
		return fmt.Errorf("session.shards: %d is negative", c.Session.Shards)
	}

	for i, op := range c.Operators {
		if strings.TrimSpace(op.Name) == "" {
			return fmt.Errorf("operators[%d]: name is required", i)
		}
		if len(op.Prefix) == 0 {
			return fmt.Errorf("operators[%d] %s: prefix is required", i, op.Name)
		}
		for _, p := range op.Prefix {
			if _, err := operator.ParsePrefix(p); err != nil {
				return fmt.Errorf("operators[%d] %s: %w", i, op.Name, err)
			}
		}
	}

	for i, r := range c.HideRules {
		switch models.HideRuleType(r.Type) {
		case models.HideRuleDevAddr, models.HideRuleJoinEUI:
		default:
			return fmt.Errorf("hide_rules[%d]: unknown type %q", i, r.Type)
		}
		if _, err := operator.ParsePrefix(r.Prefix); err != nil {
			return fmt.Errorf("hide_rules[%d]: %w", i, err)
		}
	}
	return nil
}

// PayloadFormat returns the validated payload format
func (c *Config) PayloadFormat() frame.Format {
	f, _ := frame.ParseFormat(c.MQTT.Format)
	return f
}

// MQTTTopics returns every subscription: the gateway topics derived from
// mqtt.topic followed by the application topic.
func (c *Config) MQTTTopics() []string {
	topics := ingest.SubscriptionTopics(c.MQTT.Topic)
	if c.MQTT.ApplicationTopic != "" {
		topics = append(topics, c.MQTT.ApplicationTopic)
	}
	return topics
}

// OperatorRules expands the configured operators into matcher rules, one
// per prefix.
func (c *Config) OperatorRules() []operator.Rule {
	var rules []operator.Rule
	for _, op := range c.Operators {
		for _, p := range op.Prefix {
			rules = append(rules, operator.Rule{
				Prefix:   p,
				Name:     op.Name,
				Priority: op.Priority,
				Source:   operator.SourceConfig,
			})
		}
	}
	return rules
}

// KnownDeviceRanges lists the DevAddr prefixes of operators flagged with
// known_devices.
func (c *Config) KnownDeviceRanges() []models.DeviceRange {
	var ranges []models.DeviceRange
	for _, op := range c.Operators {
		if !op.KnownDevices {
			continue
		}
		for _, p := range op.Prefix {
			ranges = append(ranges, models.DeviceRange{
				Type:        models.HideRuleDevAddr,
				Prefix:      p,
				Description: op.Name,
			})
		}
	}
	return ranges
}

// OperatorColors maps operator names to their configured color
func (c *Config) OperatorColors() map[string]string {
	colors := make(map[string]string)
	for _, op := range c.Operators {
		if op.Color != "" {
			colors[op.Name] = op.Color
		}
	}
	return colors
}

// StaticHideRules converts the configured hide rules
func (c *Config) StaticHideRules() []models.HideRule {
	rules := make([]models.HideRule, 0, len(c.HideRules))
	for _, r := range c.HideRules {
		rules = append(rules, models.HideRule{
			Type:        models.HideRuleType(r.Type),
			Prefix:      r.Prefix,
			Description: r.Description,
		})
	}
	return rules
}

// TrackerConfig converts the session section
func (c *Config) TrackerConfig() session.Config {
	cfg := session.Config{
		IdleTimeout:   c.Session.IdleTimeout,
		SweepInterval: c.Session.SweepInterval,
		MaxForwardGap: c.Session.MaxForwardGap,
		JoinWindow:    c.Session.JoinWindow,
		Shards:        c.Session.Shards,
	}
	if c.Session.ResetTolerance != nil {
		cfg.ResetTolerance = *c.Session.ResetTolerance
	}
	return cfg
}

// PrintConfigSummary prints the effective configuration without secrets
func (c *Config) PrintConfigSummary() {
	fmt.Printf("=== LoRaWAN Analyzer Configuration ===\n")
	fmt.Printf("MQTT: %s (format %s, qos %d)\n", c.MQTT.Server, c.MQTT.Format, c.MQTT.QoS)
	for _, t := range c.MQTTTopics() {
		fmt.Printf("  Topic: %s\n", t)
	}
	if c.Database.DSN != "" {
		fmt.Printf("Database: postgres\n")
	} else {
		fmt.Printf("Database: in memory\n")
	}
	fmt.Printf("InfluxDB: %v", c.InfluxDB.Enabled)
	if c.InfluxDB.Enabled {
		fmt.Printf(" (%s, bucket %s)", c.InfluxDB.URL, c.InfluxDB.Bucket)
	}
	fmt.Printf("\n")
	fmt.Printf("Kafka: %v", c.Kafka.Enabled)
	if c.Kafka.Enabled {
		fmt.Printf(" (%s, topic %s)", strings.Join(c.Kafka.Brokers, ","), c.Kafka.Topic)
	}
	fmt.Printf("\n")
	fmt.Printf("NATS: %v", c.NATS.Enabled)
	if c.NATS.Enabled {
		fmt.Printf(" (%s, prefix %s)", c.NATS.URL, c.NATS.SubjectPrefix)
	}
	fmt.Printf("\n")
	fmt.Printf("Redis: %v", c.Redis.Enabled)
	if c.Redis.Enabled {
		fmt.Printf(" (%s, key %s)", c.Redis.Addr, c.Redis.Key)
	}
	fmt.Printf("\n")
	fmt.Printf("API: %s (admin login %v)\n", c.API.Bind, c.JWT.AdminPasswordHash != "")
	fmt.Printf("Sessions: idle %s, sweep %s, %d shards\n",
		c.Session.IdleTimeout, c.Session.SweepInterval, c.Session.Shards)
	fmt.Printf("Operators: %d (%d prefixes), hide rules: %d\n",
		len(c.Operators), len(c.OperatorRules()), len(c.HideRules))
	fmt.Printf("=======================================\n")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
