package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	ErrMissingUpstreamURL = errors.New("UPSTREAM_URL is required")
	ErrInvalidUpstreamURL = errors.New("invalid UPSTREAM_URL")
	ErrInvalidLogLevel    = errors.New("invalid LOG_LEVEL")
	ErrInvalidRetryPolicy = errors.New("invalid retry policy")
	ErrInvalidPort        = errors.New("invalid port")
	ErrInvalidLimit       = errors.New("invalid limit")
)

// Protocols served by default and their standard ports. Teltonika UDP uses
// a different packet layout from its TCP stream and is off unless a port is
// set explicitly.
var defaultPorts = map[string]ProtocolPorts{
	"gt06":      {TCP: 5023, UDP: 5023},
	"tk103":     {TCP: 5001, UDP: 5001},
	"h02":       {TCP: 5013, UDP: 5013},
	"teltonika": {TCP: 5027, UDP: 0},
}

var logLevels = []string{"debug", "info", "warn", "error"}

type ProtocolPorts struct {
	TCP int
	UDP int
}

type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Config is read once at startup and never changed afterwards.
type Config struct {
	Host string

	UpstreamURL       string
	UpstreamToken     string
	UpstreamJWTSecret string
	UpstreamJWTIssuer string
	UpstreamJWTTTL    time.Duration

	Protocols map[string]ProtocolPorts

	MaxFrameSize   int
	ReadBufferSize int
	IdleTimeout    time.Duration

	Retry           RetryPolicy
	ForwardTimeout  time.Duration
	QueueSize       int
	Workers         int
	ShutdownTimeout time.Duration

	LogLevel string

	HealthAddr    string
	StatsInterval time.Duration
	StatusToken   string

	Mongo           MongoConfig
	RedisURL        string
	DeviceTokenTTL  time.Duration
	DeviceCacheSize int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("UPSTREAM_URL", "")
	v.SetDefault("UPSTREAM_TOKEN", "")
	v.SetDefault("UPSTREAM_JWT_SECRET", "")
	v.SetDefault("UPSTREAM_JWT_ISSUER", "trackgate")
	v.SetDefault("UPSTREAM_JWT_TTL", 15*time.Minute)

	for name, ports := range defaultPorts {
		v.SetDefault(portKey(name, "TCP"), ports.TCP)
		v.SetDefault(portKey(name, "UDP"), ports.UDP)
	}

	v.SetDefault("MAX_FRAME_SIZE", 4096)
	v.SetDefault("READ_BUFFER_SIZE", 4096)
	v.SetDefault("IDLE_TIMEOUT", 5*time.Minute)

	v.SetDefault("RETRY_MAX_ATTEMPTS", 5)
	v.SetDefault("RETRY_BASE_BACKOFF", 500*time.Millisecond)
	v.SetDefault("RETRY_MAX_BACKOFF", 30*time.Second)
	v.SetDefault("FORWARD_TIMEOUT", 10*time.Second)
	v.SetDefault("QUEUE_SIZE", 1024)
	v.SetDefault("FORWARD_WORKERS", 4)
	v.SetDefault("SHUTDOWN_TIMEOUT", 15*time.Second)

	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("HEALTH_ADDR", ":8080")
	v.SetDefault("STATS_INTERVAL", 60*time.Second)
	v.SetDefault("STATUS_TOKEN", "")

	v.SetDefault("MONGODB_URI", "")
	v.SetDefault("MONGODB_DATABASE", "tracking")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("DEVICE_TOKEN_TTL", 10*time.Minute)
	v.SetDefault("DEVICE_CACHE_SIZE", 10000)
}

func portKey(protocol, transport string) string {
	return strings.ToUpper(protocol) + "_" + transport + "_PORT"
}

// Load reads the environment and, when configFile is set, a YAML or JSON
// file whose keys are the environment names. Environment wins over the file.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		Host:              strings.TrimSpace(v.GetString("HOST")),
		UpstreamURL:       strings.TrimSpace(v.GetString("UPSTREAM_URL")),
		UpstreamToken:     strings.TrimSpace(v.GetString("UPSTREAM_TOKEN")),
		UpstreamJWTSecret: v.GetString("UPSTREAM_JWT_SECRET"),
		UpstreamJWTIssuer: v.GetString("UPSTREAM_JWT_ISSUER"),
		UpstreamJWTTTL:    v.GetDuration("UPSTREAM_JWT_TTL"),
		Protocols:         make(map[string]ProtocolPorts, len(defaultPorts)),
		MaxFrameSize:      v.GetInt("MAX_FRAME_SIZE"),
		ReadBufferSize:    v.GetInt("READ_BUFFER_SIZE"),
		IdleTimeout:       v.GetDuration("IDLE_TIMEOUT"),
		Retry: RetryPolicy{
			MaxAttempts: v.GetInt("RETRY_MAX_ATTEMPTS"),
			BaseBackoff: v.GetDuration("RETRY_BASE_BACKOFF"),
			MaxBackoff:  v.GetDuration("RETRY_MAX_BACKOFF"),
		},
		ForwardTimeout:  v.GetDuration("FORWARD_TIMEOUT"),
		QueueSize:       v.GetInt("QUEUE_SIZE"),
		Workers:         v.GetInt("FORWARD_WORKERS"),
		ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
		LogLevel:        strings.ToLower(strings.TrimSpace(v.GetString("LOG_LEVEL"))),
		HealthAddr:      v.GetString("HEALTH_ADDR"),
		StatsInterval:   v.GetDuration("STATS_INTERVAL"),
		StatusToken:     v.GetString("STATUS_TOKEN"),
		Mongo: MongoConfig{
			URI:      strings.TrimSpace(v.GetString("MONGODB_URI")),
			Database: v.GetString("MONGODB_DATABASE"),
		},
		RedisURL:        strings.TrimSpace(v.GetString("REDIS_URL")),
		DeviceTokenTTL:  v.GetDuration("DEVICE_TOKEN_TTL"),
		DeviceCacheSize: v.GetInt("DEVICE_CACHE_SIZE"),
	}
	for name := range defaultPorts {
		cfg.Protocols[name] = ProtocolPorts{
			TCP: v.GetInt(portKey(name, "TCP")),
			UDP: v.GetInt(portKey(name, "UDP")),
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the gateway cannot start with.
func (c *Config) Validate() error {
	if c.UpstreamURL == "" {
		return ErrMissingUpstreamURL
	}
	u, err := url.Parse(c.UpstreamURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidUpstreamURL, c.UpstreamURL)
	}

	if !validLogLevel(c.LogLevel) {
		return fmt.Errorf("%w: %q (want one of %s)", ErrInvalidLogLevel, c.LogLevel, strings.Join(logLevels, ", "))
	}

	switch {
	case c.Retry.MaxAttempts < 1:
		return fmt.Errorf("%w: RETRY_MAX_ATTEMPTS must be at least 1, got %d", ErrInvalidRetryPolicy, c.Retry.MaxAttempts)
	case c.Retry.BaseBackoff <= 0:
		return fmt.Errorf("%w: RETRY_BASE_BACKOFF must be positive, got %s", ErrInvalidRetryPolicy, c.Retry.BaseBackoff)
	case c.Retry.MaxBackoff < c.Retry.BaseBackoff:
		return fmt.Errorf("%w: RETRY_MAX_BACKOFF %s is below RETRY_BASE_BACKOFF %s", ErrInvalidRetryPolicy, c.Retry.MaxBackoff, c.Retry.BaseBackoff)
	}

	for name, ports := range c.Protocols {
		for _, p := range []int{ports.TCP, ports.UDP} {
			if p < 0 || p > 65535 {
				return fmt.Errorf("%w: %s port %d", ErrInvalidPort, name, p)
			}
		}
	}

	limits := []struct {
		key   string
		value int
	}{
		{"MAX_FRAME_SIZE", c.MaxFrameSize},
		{"READ_BUFFER_SIZE", c.ReadBufferSize},
		{"QUEUE_SIZE", c.QueueSize},
		{"FORWARD_WORKERS", c.Workers},
		{"DEVICE_CACHE_SIZE", c.DeviceCacheSize},
	}
	for _, l := range limits {
		if l.value < 1 {
			return fmt.Errorf("%w: %s must be at least 1, got %d", ErrInvalidLimit, l.key, l.value)
		}
	}
	return nil
}

func validLogLevel(level string) bool {
	for _, l := range logLevels {
		if l == level {
			return true
		}
	}
	return false
}

// ProtocolNames lists the protocols with at least one enabled port.
func (c *Config) ProtocolNames() []string {
	var names []string
	for name, ports := range c.Protocols {
		if ports.TCP > 0 || ports.UDP > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
