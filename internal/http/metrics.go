package http

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fyrsmithlabs/canopy/internal/actor"
	"github.com/fyrsmithlabs/canopy/internal/change"
	"github.com/fyrsmithlabs/canopy/internal/permissions"
	"github.com/fyrsmithlabs/canopy/internal/tree"
)

const instrumentationName = "github.com/fyrsmithlabs/canopy/internal/http"

// apiMetrics records request and edit outcomes for the admin API.
type apiMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	inflight metric.Int64UpDownCounter
	edits    metric.Int64Counter
}

func newAPIMetrics(meter metric.Meter) (*apiMetrics, error) {
	var (
		m    apiMetrics
		err  error
		errs []error
	)

	m.requests, err = meter.Int64Counter("canopy.http.requests_total",
		metric.WithDescription("Admin API requests by method, route and status code."),
		metric.WithUnit("{request}"),
	)
	errs = append(errs, err)

	m.duration, err = meter.Float64Histogram("canopy.http.request_duration_seconds",
		metric.WithDescription("Admin API request latency. Streaming routes are not recorded."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	errs = append(errs, err)

	m.inflight, err = meter.Int64UpDownCounter("canopy.http.active_requests",
		metric.WithDescription("Admin API requests currently being served, including open event streams."),
		metric.WithUnit("{request}"),
	)
	errs = append(errs, err)

	m.edits, err = meter.Int64Counter("canopy.http.edits_total",
		metric.WithDescription("Changes and triggers submitted through the admin API by operation and result."),
		metric.WithUnit("{edit}"),
	)
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &m, nil
}

// middleware records one sample per request. Echo reports the route
// pattern (/api/v1/nodes/:id/trigger) rather than the raw path, which keeps
// the route label bounded.
func (m *apiMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			m.inflight.Add(ctx, 1)
			defer m.inflight.Add(ctx, -1)

			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := c.Response().Status
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			}
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", route),
				attribute.Int("status", status),
			)
			m.requests.Add(ctx, 1, attrs)
			if !isStream(route) {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			return err
		}
	}
}

func (m *apiMetrics) recordEdit(ctx context.Context, op string, err error) {
	m.edits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("result", editResult(err)),
	))
}

func isStream(route string) bool {
	return route == "/ws" || route == "/api/v1/events"
}

// editResult buckets an edit error into a low-cardinality label.
func editResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, permissions.ErrPermissionDenied):
		return "denied"
	case errors.Is(err, tree.ErrNotFound):
		return "not_found"
	case errors.Is(err, change.ErrDuplicateID):
		return "conflict"
	case errors.Is(err, change.ErrInvalid),
		errors.Is(err, change.ErrRootRemoval),
		errors.Is(err, tree.ErrNotButton):
		return "invalid"
	case errors.Is(err, actor.ErrChannelClosed):
		return "unavailable"
	default:
		return "error"
	}
}
