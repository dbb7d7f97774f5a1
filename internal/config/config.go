package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// PresenceBroadcastMode controls when user-status-change "online" is broadcast.
type PresenceBroadcastMode string

const (
	// PresenceEveryJoin broadcasts on every join, even for an already-online user.
	PresenceEveryJoin PresenceBroadcastMode = "every-join"
	// PresenceTransition broadcasts only on the user's first live connection.
	PresenceTransition PresenceBroadcastMode = "transition"
)

// DeliveryMode controls when a freshly sent message is marked delivered.
type DeliveryMode string

const (
	// DeliveryOptimistic marks every message delivered right after it is emitted.
	DeliveryOptimistic DeliveryMode = "optimistic"
	// DeliveryOnline marks delivered only when the receiver has a live connection.
	DeliveryOnline DeliveryMode = "online"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENV" default:"development"`

	MongoURI      string `envconfig:"MONGODB_URI" default:"mongodb://localhost:27017"`
	MongoDatabase string `envconfig:"MONGODB_DATABASE" default:"circles"`
	PostgresURI   string `envconfig:"POSTGRES_URI" default:"postgres://localhost:5432/circles?sslmode=disable"`
	RedisURI      string `envconfig:"REDIS_URI" default:"redis://localhost:6379/0"`

	// CORS: ALLOWED_ORIGINS (comma separated) wins over FRONTEND_URL.
	AllowedOriginsRaw string   `envconfig:"ALLOWED_ORIGINS"`
	FrontendURL       string   `envconfig:"FRONTEND_URL" default:"http://localhost:3000"`
	AllowedOrigins    []string `ignored:"true"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`

	PresenceMode PresenceBroadcastMode `envconfig:"PRESENCE_BROADCAST_MODE" default:"every-join"`
	DeliveryMode DeliveryMode          `envconfig:"DELIVERY_MODE" default:"optimistic"`

	SessionTTL       time.Duration `envconfig:"SESSION_TTL" default:"168h"`
	RequireWSSession bool          `envconfig:"REQUIRE_WS_SESSION" default:"false"`

	WSSendBuffer      int           `envconfig:"WS_SEND_BUFFER" default:"64"`
	WSMaxMessageBytes int64         `envconfig:"WS_MAX_MESSAGE_BYTES" default:"8192"`
	WSPingPeriod      time.Duration `envconfig:"WS_PING_PERIOD" default:"20s"`
	WSPongWait        time.Duration `envconfig:"WS_PONG_WAIT" default:"25s"`
	WSWriteWait       time.Duration `envconfig:"WS_WRITE_WAIT" default:"3s"`

	MessageRate      float64 `envconfig:"MESSAGE_RATE" default:"5"`
	MessageBurst     int     `envconfig:"MESSAGE_BURST" default:"20"`
	MaxContentLength int     `envconfig:"MAX_CONTENT_LENGTH" default:"4000"`

	HistoryCacheTTL time.Duration `envconfig:"HISTORY_CACHE_TTL" default:"1h"`

	HTTPRateLimit  int           `envconfig:"HTTP_RATE_LIMIT" default:"120"`
	HTTPRateWindow time.Duration `envconfig:"HTTP_RATE_WINDOW" default:"1m"`

	MetricsEnabled bool `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads the process environment. Callers load .env beforehand.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	cfg.AllowedOrigins = parseOrigins(cfg.AllowedOriginsRaw)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = parseOrigins(cfg.FrontendURL)
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unknown modes and nonsensical limits.
func (c *Config) Validate() error {
	switch c.PresenceMode {
	case PresenceEveryJoin, PresenceTransition:
	default:
		return fmt.Errorf("config: PRESENCE_BROADCAST_MODE %q must be %q or %q", c.PresenceMode, PresenceEveryJoin, PresenceTransition)
	}
	switch c.DeliveryMode {
	case DeliveryOptimistic, DeliveryOnline:
	default:
		return fmt.Errorf("config: DELIVERY_MODE %q must be %q or %q", c.DeliveryMode, DeliveryOptimistic, DeliveryOnline)
	}
	if c.WSSendBuffer <= 0 {
		return fmt.Errorf("config: WS_SEND_BUFFER must be positive")
	}
	if c.WSPingPeriod >= c.WSPongWait {
		return fmt.Errorf("config: WS_PING_PERIOD (%s) must be shorter than WS_PONG_WAIT (%s)", c.WSPingPeriod, c.WSPongWait)
	}
	if c.MaxContentLength <= 0 {
		return fmt.Errorf("config: MAX_CONTENT_LENGTH must be positive")
	}
	return nil
}

// IsProduction returns true when ENV is set to "production".
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func parseOrigins(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimRight(strings.TrimSpace(part), "/")
		if part != "" && !containsOrigin(out, part) {
			out = append(out, part)
		}
	}
	return out
}

func containsOrigin(list []string, o string) bool {
	o = strings.ToLower(o)
	for _, v := range list {
		if strings.ToLower(v) == o {
			return true
		}
	}
	return false
}
