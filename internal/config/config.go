// Package config provides configuration loading for canopyd.
package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/fyrsmithlabs/canopy/internal/permissions"
)

// Config is the complete daemon configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	HTTP      HTTPConfig      `koanf:"http"`
	Actor     ActorConfig     `koanf:"actor"`
	Auth      AuthConfig      `koanf:"auth"`
	Tree      TreeConfig      `koanf:"tree"`
	NATS      NATSConfig      `koanf:"nats"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig configures the client-facing stream listener.
type ServerConfig struct {
	Addr             string          `koanf:"addr"`
	MaxClients       int             `koanf:"max_clients"`
	HandshakeTimeout Duration        `koanf:"handshake_timeout"`
	MaxFrameBytes    ByteSize        `koanf:"max_frame_bytes"`
	SessionValidity  Duration        `koanf:"session_validity"`
	TLS              TLSConfig       `koanf:"tls"`
	RateLimit        RateLimitConfig `koanf:"rate_limit"`
}

// TLSConfig points at a PEM certificate and key. TLS is off when both are
// empty.
type TLSConfig struct {
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

// Enabled reports whether TLS files are configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" || t.KeyFile != ""
}

// RateLimitConfig bounds inbound messages per connection. A zero rate
// disables limiting.
type RateLimitConfig struct {
	PerSecond float64 `koanf:"per_second"`
	Burst     int     `koanf:"burst"`
}

// HTTPConfig configures the admin HTTP API.
type HTTPConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// ActorConfig sizes the actor's mailboxes and per-client queues.
type ActorConfig struct {
	ControlBuffer  int `koanf:"control_buffer"`
	TrafficBuffer  int `koanf:"traffic_buffer"`
	OutboundBuffer int `koanf:"outbound_buffer"`
}

// PermissionConfig is the configuration form of a permission.
type PermissionConfig struct {
	Level  string   `koanf:"level"`
	Groups []string `koanf:"groups"`
}

// Permission converts the configured values.
func (p PermissionConfig) Permission() (permissions.Permission, error) {
	level, err := permissions.ParseLevel(p.Level)
	if err != nil {
		return permissions.Permission{}, err
	}
	return permissions.New(level, p.Groups), nil
}

// TokenConfig maps a pre-shared token to a session credential.
type TokenConfig struct {
	Name   string   `koanf:"name"`
	Token  Secret   `koanf:"token"`
	Level  string   `koanf:"level"`
	Groups []string `koanf:"groups"`
}

// Permission returns the credential granted by the token.
func (t TokenConfig) Permission() (permissions.Permission, error) {
	return PermissionConfig{Level: t.Level, Groups: t.Groups}.Permission()
}

// AuthConfig resolves session credentials.
type AuthConfig struct {
	DefaultPermission PermissionConfig `koanf:"default_permission"`
	Tokens            []TokenConfig    `koanf:"tokens"`
}

// SeedNode is a folder created under the root at startup.
type SeedNode struct {
	Name   string   `koanf:"name"`
	Level  string   `koanf:"level"`
	Groups []string `koanf:"groups"`
}

// Permission returns the permission declared for the seed folder.
func (s SeedNode) Permission() (permissions.Permission, error) {
	return PermissionConfig{Level: s.Level, Groups: s.Groups}.Permission()
}

// TreeConfig describes the initial tree.
type TreeConfig struct {
	RootName string     `koanf:"root_name"`
	Seed     []SeedNode `koanf:"seed"`
}

// NATSConfig configures the optional change mirror.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// LoggingConfig is the subset of logging settings exposed to operators.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	OTEL     bool   `koanf:"otel"`
	Sampling bool   `koanf:"sampling"`
}

// TelemetryConfig is the subset of OpenTelemetry settings exposed to
// operators.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:             "127.0.0.1:9123",
			MaxClients:       32,
			HandshakeTimeout: Duration(10 * time.Second),
			MaxFrameBytes:    1 << 20,
			SessionValidity:  Duration(time.Hour),
			RateLimit: RateLimitConfig{
				PerSecond: 50,
				Burst:     100,
			},
		},
		HTTP: HTTPConfig{
			Enabled:         true,
			Host:            "127.0.0.1",
			Port:            9124,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Actor: ActorConfig{
			ControlBuffer:  64,
			TrafficBuffer:  1024,
			OutboundBuffer: 256,
		},
		Auth: AuthConfig{
			DefaultPermission: PermissionConfig{Level: "public"},
		},
		Tree: TreeConfig{
			RootName: "root",
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "canopy",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Sampling: true,
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
			ServiceName: "canopy",
			SampleRate:  1.0,
		},
	}
}

// Validate checks the configuration for errors. All problems are reported
// together.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		add("server.addr %q: %v", c.Server.Addr, err)
	}
	if c.Server.MaxClients <= 0 {
		add("server.max_clients must be positive, got %d", c.Server.MaxClients)
	}
	if c.Server.HandshakeTimeout.Duration() <= 0 {
		add("server.handshake_timeout must be positive")
	}
	if c.Server.MaxFrameBytes <= 0 {
		add("server.max_frame_bytes must be positive, got %d", c.Server.MaxFrameBytes)
	}
	if (c.Server.TLS.CertFile == "") != (c.Server.TLS.KeyFile == "") {
		add("server.tls requires both cert_file and key_file")
	}
	if c.Server.RateLimit.PerSecond < 0 || c.Server.RateLimit.Burst < 0 {
		add("server.rate_limit values cannot be negative")
	}
	if c.Server.RateLimit.PerSecond > 0 && c.Server.RateLimit.Burst == 0 {
		add("server.rate_limit.burst must be positive when per_second is set")
	}

	if c.HTTP.Enabled {
		if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
			add("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
		}
		if c.HTTP.ShutdownTimeout.Duration() <= 0 {
			add("http.shutdown_timeout must be positive")
		}
	}

	if c.Actor.ControlBuffer <= 0 || c.Actor.TrafficBuffer <= 0 || c.Actor.OutboundBuffer <= 0 {
		add("actor buffers must be positive")
	}

	if _, err := c.Auth.DefaultPermission.Permission(); err != nil {
		add("auth.default_permission: %v", err)
	}
	seen := make(map[string]bool, len(c.Auth.Tokens))
	for i, tok := range c.Auth.Tokens {
		if !tok.Token.IsSet() {
			add("auth.tokens[%d]: token is empty", i)
			continue
		}
		if seen[tok.Token.Value()] {
			add("auth.tokens[%d]: duplicate token", i)
		}
		seen[tok.Token.Value()] = true
		if _, err := tok.Permission(); err != nil {
			add("auth.tokens[%d]: %v", i, err)
		}
	}

	if c.Tree.RootName == "" {
		add("tree.root_name cannot be empty")
	}
	for i, s := range c.Tree.Seed {
		if s.Name == "" {
			add("tree.seed[%d]: name is empty", i)
		}
		if _, err := s.Permission(); err != nil {
			add("tree.seed[%d]: %v", i, err)
		}
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			add("nats.url is required when nats is enabled")
		}
		if c.NATS.SubjectPrefix == "" {
			add("nats.subject_prefix is required when nats is enabled")
		}
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		add("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			add("telemetry.endpoint is required when telemetry is enabled")
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			add("telemetry.sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate)
		}
	}

	return errors.Join(errs...)
}
