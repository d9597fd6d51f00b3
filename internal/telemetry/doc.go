// Package telemetry wires OpenTelemetry tracing and metrics for canopyd.
//
// Spans are exported over OTLP (gRPC by default, or http/protobuf) to a
// collector. When telemetry is disabled the package hands out the global
// no-op providers, so instrumented code never needs to check.
//
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	ctx, span := tel.Tracer("canopy/actor").Start(ctx, "actor.apply")
//	defer span.End()
//
// Failures while building exporters do not stop the daemon. The instance is
// marked degraded and keeps serving no-op instruments.
//
// Tests use NewRecorder, which keeps spans and metrics in memory.
package telemetry
