package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Session policies for the broker connection.
const (
	// SessionPerCommand opens a connection for each facade command and
	// tears it down afterwards.
	SessionPerCommand = "per_command"

	// SessionPersistent keeps one connection open and reconnects on demand.
	SessionPersistent = "persistent"
)

// Attribute kinds accepted in the controllable attribute list.
const (
	AttributeKindBool   = "bool"
	AttributeKindNumber = "number"
	AttributeKindString = "string"
)

// Config is the root configuration structure for the gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// GatewayConfig contains command and session behaviour of the device gateway.
type GatewayConfig struct {
	// SessionPolicy is "per_command" or "persistent".
	SessionPolicy string `yaml:"session_policy"`

	// AckTimeout bounds the wait for local publish acknowledgment of a command.
	AckTimeout time.Duration `yaml:"ack_timeout"`

	// SharedKeys are requested from the broker after every successful connect.
	SharedKeys []string `yaml:"shared_keys"`

	// Attributes lists the controllable attributes the facade accepts writes for.
	Attributes []AttributeConfig `yaml:"attributes"`
}

// AttributeConfig declares one controllable attribute.
type AttributeConfig struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
}

// MQTTConfig contains broker connection settings.
type MQTTConfig struct {
	Broker         MQTTBrokerConfig `yaml:"broker"`
	Auth           MQTTAuthConfig   `yaml:"auth"`
	QoS            int              `yaml:"qos"`
	ConnectTimeout time.Duration    `yaml:"connect_timeout"`
}

// MQTTBrokerConfig contains broker connection details.
type MQTTBrokerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	TLS       bool   `yaml:"tls"`
	ClientID  string `yaml:"client_id"`
	KeepAlive int    `yaml:"keep_alive"`
}

// MQTTAuthConfig contains broker credentials.
// The device access token is sent as the MQTT username; it is never checked locally.
type MQTTAuthConfig struct {
	Token string `yaml:"token"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket relay settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains bearer token settings for the HTTP API.
// An empty secret disables authentication (development only).
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults for the CoreIOT cloud.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			SessionPolicy: SessionPerCommand,
			AckTimeout:    2 * time.Second,
			SharedKeys:    []string{"ledState"},
			Attributes: []AttributeConfig{
				{Name: "ledState", Kind: AttributeKindBool},
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:      "app.coreiot.io",
				Port:      1883,
				KeepAlive: 60,
			},
			QoS:            0,
			ConnectTimeout: 5 * time.Second,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    5000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// The COREIOT_* names are kept for compatibility with existing device deployments.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COREIOT_TOKEN"); v != "" {
		cfg.MQTT.Auth.Token = v
	}
	if v := os.Getenv("COREIOT_SERVER"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GATEWAY_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("GATEWAY_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GATEWAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GATEWAY_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	switch c.Gateway.SessionPolicy {
	case SessionPerCommand, SessionPersistent:
	default:
		errs = append(errs, fmt.Sprintf("gateway.session_policy must be %q or %q", SessionPerCommand, SessionPersistent))
	}
	if c.Gateway.AckTimeout <= 0 {
		errs = append(errs, "gateway.ack_timeout must be positive")
	}

	seen := make(map[string]bool, len(c.Gateway.Attributes))
	for i, attr := range c.Gateway.Attributes {
		if attr.Name == "" {
			errs = append(errs, fmt.Sprintf("gateway.attributes[%d].name is required", i))
			continue
		}
		if seen[attr.Name] {
			errs = append(errs, fmt.Sprintf("gateway.attributes: duplicate name %q", attr.Name))
		}
		seen[attr.Name] = true
		switch attr.Kind {
		case AttributeKindBool, AttributeKindNumber, AttributeKindString:
		default:
			errs = append(errs, fmt.Sprintf("gateway.attributes[%d].kind must be bool, number or string", i))
		}
	}

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.Broker.KeepAlive < 0 {
		errs = append(errs, "mqtt.broker.keep_alive cannot be negative")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.ConnectTimeout <= 0 {
		errs = append(errs, "mqtt.connect_timeout must be positive")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// An empty secret leaves the API open; a short one is refused outright.
	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// BrokerAddress returns host:port of the configured broker.
func (c MQTTConfig) BrokerAddress() string {
	return fmt.Sprintf("%s:%d", c.Broker.Host, c.Broker.Port)
}

// ReadTimeout returns the API read timeout as a Duration.
func (c APIConfig) ReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// WriteTimeout returns the API write timeout as a Duration.
func (c APIConfig) WriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// IdleTimeout returns the API idle timeout as a Duration.
func (c APIConfig) IdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}
