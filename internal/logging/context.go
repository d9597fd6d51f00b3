package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	clientCtxKey  struct{}
	sessionCtxKey struct{}
	requestCtxKey struct{}
	remoteCtxKey  struct{}
	loggerCtxKey  struct{}
)

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id, ok := ClientIDFromContext(ctx); ok {
		fields = append(fields, zap.Uint64("client.id", id))
	}
	if s := SessionIDFromContext(ctx); s != "" {
		fields = append(fields, zap.String("session.id", s))
	}
	if r := RequestIDFromContext(ctx); r != "" {
		fields = append(fields, zap.String("request.id", r))
	}
	if a := RemoteAddrFromContext(ctx); a != "" {
		fields = append(fields, zap.String("remote.addr", a))
	}
	return fields
}

// WithClientID records the actor-assigned client id.
func WithClientID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, clientCtxKey{}, id)
}

// ClientIDFromContext returns the client id stored by WithClientID.
func ClientIDFromContext(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(clientCtxKey{}).(uint64)
	return id, ok
}

// WithSessionID records a transport session id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, id)
}

// SessionIDFromContext returns the session id, or "".
func SessionIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(sessionCtxKey{}).(string)
	return s
}

// WithRequestID records an HTTP request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	r, _ := ctx.Value(requestCtxKey{}).(string)
	return r
}

// WithRemoteAddr records the peer address of a connection.
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteCtxKey{}, addr)
}

// RemoteAddrFromContext returns the peer address, or "".
func RemoteAddrFromContext(ctx context.Context) string {
	a, _ := ctx.Value(remoteCtxKey{}).(string)
	return a
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger stored by WithLogger, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
