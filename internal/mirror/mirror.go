// Package mirror publishes applied tree changes to NATS so that other
// systems can follow the tree without holding a protocol session.
//
// Every change is published as a JSON Event to the subject
//
//	{prefix}.changes
//
// Publishing is fire-and-forget; a change that cannot be published is
// still applied to the tree.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/canopy/internal/change"
	"github.com/fyrsmithlabs/canopy/internal/config"
	"github.com/fyrsmithlabs/canopy/internal/logging"
)

// ErrNotConnected is returned when publishing without a NATS connection.
var ErrNotConnected = errors.New("mirror: not connected")

// Event is the JSON document published for each applied change.
type Event struct {
	ClientID uint64          `json:"client_id"`
	Hash     string          `json:"hash"`
	Change   change.Document `json:"change"`
	Time     time.Time       `json:"time"`
}

// Subject returns the subject changes are published to.
func Subject(prefix string) string {
	return prefix + ".changes"
}

// Connect dials the NATS server named in cfg.
func Connect(cfg config.NATSConfig, logger *logging.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("canopyd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn(context.Background(), "nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info(context.Background(), "nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// Publisher implements actor.Mirror on top of a NATS connection.
type Publisher struct {
	nc      *nats.Conn
	subject string
	logger  *logging.Logger
	now     func() time.Time
}

// NewPublisher creates a Publisher for subjects under prefix.
func NewPublisher(nc *nats.Conn, prefix string, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{
		nc:      nc,
		subject: Subject(prefix),
		logger:  logger.Named("mirror"),
		now:     time.Now,
	}
}

// Subject returns the subject this publisher writes to.
func (p *Publisher) Subject() string { return p.subject }

// PublishChange publishes c as applied by clientID. Client id 0 marks
// changes made outside a protocol session.
func (p *Publisher) PublishChange(ctx context.Context, clientID uint64, c change.Change, hash uint64) error {
	if p.nc == nil || p.nc.IsClosed() {
		return ErrNotConnected
	}

	data, err := json.Marshal(Event{
		ClientID: clientID,
		Hash:     formatHash(hash),
		Change:   change.ToDocument(c),
		Time:     p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	p.logger.Trace(ctx, "change mirrored",
		zap.String("subject", p.subject),
		zap.Uint64("client_id", clientID),
	)
	return nil
}

// Decode parses a published Event and returns its change.
func Decode(data []byte) (Event, change.Change, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, nil, fmt.Errorf("unmarshal event: %w", err)
	}
	c, err := ev.Change.Change()
	if err != nil {
		return Event{}, nil, err
	}
	return ev, c, nil
}

func formatHash(h uint64) string {
	return fmt.Sprintf("%016x", h)
}
