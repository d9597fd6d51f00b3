package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/canopy/internal/actor"
	"github.com/fyrsmithlabs/canopy/internal/change"
	"github.com/fyrsmithlabs/canopy/internal/permissions"
	"github.com/fyrsmithlabs/canopy/internal/tree"
)

func meteredServer(t *testing.T) (*Server, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	gw, authn := testDeps(t)
	server, err := NewServer(gw, authn, zap.NewNop(), &Config{Version: "test"},
		WithMeter(mp.Meter(instrumentationName)))
	require.NoError(t, err)
	return server, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumWhere(t *testing.T, m metricdata.Metrics, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "%s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		match := true
		for _, kv := range attrs {
			if v, ok := dp.Attributes.Value(kv.Key); !ok || v != kv.Value {
				match = false
				break
			}
		}
		if match {
			total += dp.Value
		}
	}
	return total
}

func TestAPIMetrics_Requests(t *testing.T) {
	server, reader := meteredServer(t)

	do(t, server, http.MethodGet, "/health", "", nil)
	do(t, server, http.MethodGet, "/api/v1/status", "", nil)
	do(t, server, http.MethodPost, "/api/v1/nodes/"+buttonID.String()+"/trigger", "", nil)
	do(t, server, http.MethodPost, "/api/v1/nodes/"+rootID.String()+"/trigger", "", nil)
	do(t, server, http.MethodGet, "/nowhere", "", nil)

	got := collect(t, reader)

	requests := got["canopy.http.requests_total"]
	assert.Equal(t, int64(5), sumWhere(t, requests))
	assert.Equal(t, int64(2), sumWhere(t, requests,
		attribute.String("route", "/api/v1/nodes/:id/trigger")))
	assert.Equal(t, int64(1), sumWhere(t, requests,
		attribute.String("route", "/api/v1/nodes/:id/trigger"),
		attribute.Int("status", http.StatusBadRequest)))
	assert.Equal(t, int64(1), sumWhere(t, requests, attribute.Int("status", http.StatusNotFound)))

	hist, ok := got["canopy.http.request_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(5), count)

	assert.Equal(t, int64(0), sumWhere(t, got["canopy.http.active_requests"]))
}

func TestAPIMetrics_Edits(t *testing.T) {
	server, reader := meteredServer(t)

	add := change.ToDocument(change.NodeAdded{ID: uuid.MustParse("00000000-0000-0000-0000-000000000009"), Parent: rootID, Data: tree.Int32(1)})
	body, err := json.Marshal(add)
	require.NoError(t, err)
	do(t, server, http.MethodPost, "/api/v1/changes", "", body)
	do(t, server, http.MethodPost, "/api/v1/changes", "", body)

	rename, err := json.Marshal(change.ToDocument(change.NodeChangedName{ID: lockedID, Name: "x"}))
	require.NoError(t, err)
	do(t, server, http.MethodPost, "/api/v1/changes", "", rename)
	do(t, server, http.MethodPost, "/api/v1/nodes/"+buttonID.String()+"/trigger", "", nil)

	edits := collect(t, reader)["canopy.http.edits_total"]
	added := attribute.String("op", string(change.OpNodeAdded))
	assert.Equal(t, int64(1), sumWhere(t, edits, added, attribute.String("result", "ok")))
	assert.Equal(t, int64(1), sumWhere(t, edits, added, attribute.String("result", "conflict")))
	assert.Equal(t, int64(1), sumWhere(t, edits,
		attribute.String("op", string(change.OpNodeChangedName)),
		attribute.String("result", "denied")))
	assert.Equal(t, int64(1), sumWhere(t, edits,
		attribute.String("op", "trigger"),
		attribute.String("result", "ok")))
}

func TestEditResult(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{nil, "ok"},
		{fmt.Errorf("apply: %w", permissions.ErrPermissionDenied), "denied"},
		{tree.ErrNotFound, "not_found"},
		{change.ErrDuplicateID, "conflict"},
		{change.ErrInvalid, "invalid"},
		{change.ErrRootRemoval, "invalid"},
		{tree.ErrNotButton, "invalid"},
		{actor.ErrChannelClosed, "unavailable"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, editResult(tt.err))
		})
	}
}

func TestIsStream(t *testing.T) {
	assert.True(t, isStream("/ws"))
	assert.True(t, isStream("/api/v1/events"))
	assert.False(t, isStream("/api/v1/tree"))
}

