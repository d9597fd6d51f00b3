// Package logging provides structured logging for canopy on top of Zap.
//
// # Overview
//
// The package wraps Zap with:
//   - a Trace level (-2, below Debug) for wire-level detail
//   - stdout and optional OpenTelemetry output
//   - automatic context fields (trace, client, session, request)
//   - redaction of secret-looking fields and values
//   - per-level sampling (errors are never sampled)
//
// # Usage
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithClientID(ctx, 7)
//	logger.Info(ctx, "change applied", zap.Uint64("hash", h))
//
// Tests use NewCapture to inspect emitted entries.
package logging
