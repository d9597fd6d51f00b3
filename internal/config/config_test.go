package config

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad addr", func(c *Config) { c.Server.Addr = "nohost" }, "server.addr"},
		{"zero clients", func(c *Config) { c.Server.MaxClients = 0 }, "max_clients"},
		{"zero handshake", func(c *Config) { c.Server.HandshakeTimeout = 0 }, "handshake_timeout"},
		{"zero frame", func(c *Config) { c.Server.MaxFrameBytes = 0 }, "max_frame_bytes"},
		{"cert without key", func(c *Config) { c.Server.TLS.CertFile = "c.pem" }, "server.tls"},
		{"rate without burst", func(c *Config) { c.Server.RateLimit.Burst = 0 }, "burst"},
		{"bad http port", func(c *Config) { c.HTTP.Port = 70000 }, "http.port"},
		{"zero buffers", func(c *Config) { c.Actor.OutboundBuffer = 0 }, "actor buffers"},
		{"bad default level", func(c *Config) { c.Auth.DefaultPermission.Level = "root" }, "default_permission"},
		{"empty token", func(c *Config) { c.Auth.Tokens = []TokenConfig{{Level: "admin"}} }, "token is empty"},
		{"duplicate token", func(c *Config) {
			c.Auth.Tokens = []TokenConfig{{Token: "a", Level: "admin"}, {Token: "a", Level: "user"}}
		}, "duplicate"},
		{"empty root name", func(c *Config) { c.Tree.RootName = "" }, "root_name"},
		{"unnamed seed", func(c *Config) { c.Tree.Seed = []SeedNode{{Level: "public"}} }, "tree.seed[0]"},
		{"nats without url", func(c *Config) { c.NATS.Enabled = true; c.NATS.URL = "" }, "nats.url"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad sample rate", func(c *Config) { c.Telemetry.Enabled = true; c.Telemetry.SampleRate = 2 }, "sample_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateReportsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.MaxClients = 0
	cfg.Tree.RootName = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_clients")
	assert.Contains(t, err.Error(), "root_name")
}

func TestHTTPDisabledSkipsPortCheck(t *testing.T) {
	cfg := Default()
	cfg.HTTP.Enabled = false
	cfg.HTTP.Port = 0
	assert.NoError(t, cfg.Validate())
}

func TestSecret(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "hunter2")
	assert.Equal(t, "hunter2", s.Value())
	assert.True(t, s.IsSet())
	assert.False(t, Secret("").IsSet())
	assert.Empty(t, Secret("").String())

	assert.True(t, s.Equal("hunter2"))
	assert.False(t, s.Equal("hunter"))
	assert.False(t, Secret("").Equal(""))

	var parsed Secret
	require.NoError(t, parsed.UnmarshalText([]byte(" hunter2\n")))
	assert.True(t, parsed.Equal("hunter2"))

	out, err := json.Marshal(TokenConfig{Name: "n", Token: s})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, "1m30s", d.Duration().String())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestByteSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		text    string
		wantErr bool
	}{
		{in: "512", want: 512, text: "512"},
		{in: "2048B", want: 2048, text: "2KiB"},
		{in: "64KiB", want: 64 << 10, text: "64KiB"},
		{in: "1 MiB", want: 1 << 20, text: "1MiB"},
		{in: "4KB", want: 4000, text: "4000"},
		{in: "1MB", want: 1000000, text: "1000000"},
		{in: "0", want: 0, text: "0"},
		{in: "-1", wantErr: true},
		{in: "lots", wantErr: true},
		{in: "1.5MiB", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var b ByteSize
			err := b.UnmarshalText([]byte(tt.in))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.Int())
			text, err := b.MarshalText()
			require.NoError(t, err)
			assert.Equal(t, tt.text, string(text))
		})
	}
}
