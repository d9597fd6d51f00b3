package logging

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/canopy/internal/config"
)

// Config holds logging configuration.
type Config struct {
	Level  zapcore.Level
	Format string

	// Output receives encoded entries. Nil leaves only the OTEL bridge.
	Output io.Writer
	OTEL   bool

	Sampling SamplingConfig

	Caller          bool
	CallerSkip      int
	StacktraceLevel zapcore.Level

	// Fields are attached to every entry.
	Fields    map[string]string
	Redaction RedactionConfig
}

// SamplingConfig thins out repeated entries per level and tick.
type SamplingConfig struct {
	Enabled bool
	Tick    config.Duration
	Levels  map[zapcore.Level]LevelSamplingConfig
}

// LevelSamplingConfig defines the sampling rate of one level.
type LevelSamplingConfig struct {
	Initial    int
	Thereafter int
}

// RedactionConfig lists field keys whose values are masked and patterns
// masked inside any string value.
type RedactionConfig struct {
	Enabled  bool
	Fields   []string
	Patterns []string
}

// NewDefaultConfig returns the configuration canopyd starts with.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Output: os.Stdout,
		Sampling: SamplingConfig{
			Enabled: true,
			Tick:    config.Duration(time.Second),
			Levels:  DefaultLevelSamplingConfig(),
		},
		Caller:          true,
		CallerSkip:      2,
		StacktraceLevel: zapcore.ErrorLevel,
		Fields:          map[string]string{"service": "canopyd"},
		Redaction: RedactionConfig{
			Enabled: true,
			// session tokens travel in ClientHello and Authorization headers
			Fields:   []string{"token", "auth.token", "authorization", "bearer", "password", "secret"},
			Patterns: []string{`(?i)bearer\s+\S+`},
		},
	}
}

// FromSettings builds a Config from the daemon's logging section.
func FromSettings(s config.LoggingConfig) (*Config, error) {
	cfg := NewDefaultConfig()
	level, err := LevelFromString(s.Level)
	if err != nil {
		return nil, fmt.Errorf("logging level: %w", err)
	}
	cfg.Level = level
	if s.Format != "" {
		cfg.Format = s.Format
	}
	cfg.OTEL = s.OTEL
	cfg.Sampling.Enabled = s.Sampling
	return cfg, cfg.Validate()
}

// DefaultLevelSamplingConfig returns the default per-level sampling.
// Levels missing from the map (error and above) are never sampled.
func DefaultLevelSamplingConfig() map[zapcore.Level]LevelSamplingConfig {
	return map[zapcore.Level]LevelSamplingConfig{
		TraceLevel:         {Initial: 1, Thereafter: 0},
		zapcore.DebugLevel: {Initial: 10, Thereafter: 0},
		zapcore.InfoLevel:  {Initial: 100, Thereafter: 10},
		zapcore.WarnLevel:  {Initial: 100, Thereafter: 100},
	}
}

func (c *Config) Validate() error {
	switch {
	case c.Format != "json" && c.Format != "console":
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	case c.Output == nil && !c.OTEL:
		return fmt.Errorf("no output: set Output or enable OTEL")
	case c.Sampling.Enabled && c.Sampling.Tick.Duration() <= 0:
		return fmt.Errorf("sampling tick must be positive")
	case c.Caller && c.CallerSkip < 0:
		return fmt.Errorf("caller skip must be >= 0, got %d", c.CallerSkip)
	}
	if c.Redaction.Enabled {
		for _, p := range c.Redaction.Patterns {
			if len(p) > maxPatternLen {
				return fmt.Errorf("redaction pattern longer than %d chars: %q", maxPatternLen, p)
			}
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("redaction pattern %q: %w", p, err)
			}
		}
	}
	for k, v := range c.Fields {
		if k == "" || v == "" {
			return fmt.Errorf("static field %q=%q: key and value are required", k, v)
		}
	}
	return nil
}
