package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
)

// heartbeatInterval keeps idle event streams open through proxies.
var heartbeatInterval = 30 * time.Second

// WithEvents streams the change mirror at /api/v1/events. subject is the
// NATS subject the mirror publishes to.
func WithEvents(nc *nats.Conn, subject string) Option {
	return func(s *Server) {
		s.nats = nc
		s.eventSubject = subject
	}
}

// handleEvents relays mirrored changes as Server-Sent Events until the
// client disconnects.
func (s *Server) handleEvents(c echo.Context) error {
	msgChan := make(chan *nats.Msg, 64)
	sub, err := s.nats.ChanSubscribe(s.eventSubject, msgChan)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream unavailable")
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgChan:
			fmt.Fprintf(c.Response(), "event: change\n")
			fmt.Fprintf(c.Response(), "data: %s\n\n", string(msg.Data))
			c.Response().Flush()

		case <-ticker.C:
			fmt.Fprintf(c.Response(), ": heartbeat\n\n")
			c.Response().Flush()

		case <-c.Request().Context().Done():
			return nil
		}
	}
}
