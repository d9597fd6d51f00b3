package logging

import (
	"fmt"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

const instrumentationName = "github.com/fyrsmithlabs/canopy"

// newCore builds the writer and/or OTEL core and applies sampling.
func newCore(cfg *Config, otelProvider log.LoggerProvider) (zapcore.Core, error) {
	var cores []zapcore.Core

	if cfg.Output != nil {
		encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, fmt.Errorf("failed to create redacting encoder: %w", err)
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(cfg.Output)), cfg.Level))
	}

	if cfg.OTEL && otelProvider != nil {
		cores = append(cores, otelzap.NewCore(instrumentationName, otelzap.WithLoggerProvider(otelProvider)))
	}

	switch len(cores) {
	case 0:
		return nil, fmt.Errorf("at least one output must be enabled and available")
	case 1:
		return newSampledCore(cores[0], cfg.Sampling), nil
	default:
		return newSampledCore(zapcore.NewTee(cores...), cfg.Sampling), nil
	}
}

// newSampledCore samples each configured level independently. Levels with
// no sampling entry, which includes error and above by default, pass
// through untouched.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled || len(cfg.Levels) == 0 {
		return core
	}

	cores := make([]zapcore.Core, 0, len(cfg.Levels)+1)
	cores = append(cores, &levelFilterCore{Core: core, skip: cfg.Levels})
	for level, rate := range cfg.Levels {
		only := &levelFilterCore{Core: core, only: &level}
		cores = append(cores, zapcore.NewSamplerWithOptions(only, cfg.Tick.Duration(), rate.Initial, rate.Thereafter))
	}
	return zapcore.NewTee(cores...)
}

// levelFilterCore passes either exactly one level or every level not in
// skip.
type levelFilterCore struct {
	zapcore.Core
	only *zapcore.Level
	skip map[zapcore.Level]LevelSamplingConfig
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	if c.only != nil && lvl != *c.only {
		return false
	}
	if _, sampled := c.skip[lvl]; sampled {
		return false
	}
	return c.Core.Enabled(lvl)
}

func (c *levelFilterCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{Core: c.Core.With(fields), only: c.only, skip: c.skip}
}
