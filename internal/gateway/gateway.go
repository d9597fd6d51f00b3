// Package gateway is the per-connection front door to the actor. It turns
// registration and client traffic into mailbox messages and waits for the
// answers, honoring context cancellation and actor shutdown.
package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/canopy/internal/actor"
	"github.com/fyrsmithlabs/canopy/internal/change"
	"github.com/fyrsmithlabs/canopy/internal/permissions"
	"github.com/fyrsmithlabs/canopy/internal/wire"
)

// Mailboxes is the part of the actor a gateway talks to. *actor.Actor
// implements it.
type Mailboxes interface {
	Control() chan<- actor.ControlMessage
	Traffic() chan<- actor.Envelope
	Done() <-chan struct{}
}

// Gateway registers sessions with one actor. It is safe for concurrent use
// and any number of gateways may share an actor.
type Gateway struct {
	actor Mailboxes
}

// New creates a gateway for a.
func New(a Mailboxes) *Gateway {
	return &Gateway{actor: a}
}

// Register admits a client with the given credential and blocks until the
// actor answers. The returned session's inbox first yields a snapshot of
// the tree.
func (g *Gateway) Register(ctx context.Context, credential permissions.Permission) (*Session, error) {
	ticket := uuid.New()
	reply := make(chan actor.RegisterResponse, 1)

	if err := g.sendControl(ctx, actor.Register{Ticket: ticket, Credential: credential, Reply: reply}); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	select {
	case resp := <-reply:
		if resp.Ticket != ticket {
			g.abandon(resp.ClientID)
			return nil, fmt.Errorf("register: %w: ticket %s answered for %s", actor.ErrProtocolViolation, resp.Ticket, ticket)
		}
		return &Session{
			ClientID:   resp.ClientID,
			Credential: credential,
			inbox:      resp.Inbox,
			gw:         g,
		}, nil
	case <-ctx.Done():
		// The actor may still answer; release the slot if it does.
		go func() {
			select {
			case resp := <-reply:
				g.abandon(resp.ClientID)
			case <-g.actor.Done():
			}
		}()
		return nil, fmt.Errorf("register: %w", ctx.Err())
	case <-g.actor.Done():
		return nil, fmt.Errorf("register: %w", actor.ErrChannelClosed)
	}
}

// Inspect returns a copy of the actor's current state.
func (g *Gateway) Inspect(ctx context.Context) (actor.Status, error) {
	reply := make(chan actor.Status, 1)
	if err := g.sendControl(ctx, actor.Inspect{Reply: reply}); err != nil {
		return actor.Status{}, fmt.Errorf("inspect: %w", err)
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return actor.Status{}, fmt.Errorf("inspect: %w", ctx.Err())
	case <-g.actor.Done():
		return actor.Status{}, fmt.Errorf("inspect: %w", actor.ErrChannelClosed)
	}
}

func (g *Gateway) sendControl(ctx context.Context, m actor.ControlMessage) error {
	select {
	case g.actor.Control() <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-g.actor.Done():
		return actor.ErrChannelClosed
	}
}

func (g *Gateway) abandon(clientID uint64) {
	select {
	case g.actor.Control() <- actor.Deregister{ClientID: clientID}:
	case <-g.actor.Done():
	}
}

// Session is one registered client.
type Session struct {
	ClientID   uint64
	Credential permissions.Permission

	inbox     <-chan wire.Message
	gw        *Gateway
	closeOnce sync.Once
}

// Inbox yields messages addressed to this client. It is closed after Close
// or when the actor stops.
func (s *Session) Inbox() <-chan wire.Message { return s.inbox }

// Send forwards m to the actor without waiting for the outcome. Failures
// reach the client as ServerLog messages on the inbox.
func (s *Session) Send(ctx context.Context, m wire.Message) error {
	return s.send(ctx, actor.Envelope{ClientID: s.ClientID, Message: m})
}

// Apply submits a change and waits for the resulting hash.
func (s *Session) Apply(ctx context.Context, c change.Change) (uint64, error) {
	return s.roundTrip(ctx, wire.ServerChange{Change: c})
}

// Trigger presses the Button node id and waits for the resulting hash.
func (s *Session) Trigger(ctx context.Context, id uuid.UUID) (uint64, error) {
	return s.roundTrip(ctx, wire.ClientTrigger{ID: id})
}

// ReportHash tells the actor the client's tree hash. On mismatch a snapshot
// arrives on the inbox. It returns the actor's hash.
func (s *Session) ReportHash(ctx context.Context, hash uint64) (uint64, error) {
	return s.roundTrip(ctx, wire.ClientHash{Hash: hash})
}

// Close deregisters the session. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() { s.gw.abandon(s.ClientID) })
}

func (s *Session) roundTrip(ctx context.Context, m wire.Message) (uint64, error) {
	reply := make(chan actor.Result, 1)
	if err := s.send(ctx, actor.Envelope{ClientID: s.ClientID, Message: m, Reply: reply}); err != nil {
		return 0, err
	}
	select {
	case r := <-reply:
		return r.Hash, r.Err
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-s.gw.actor.Done():
		return 0, actor.ErrChannelClosed
	}
}

func (s *Session) send(ctx context.Context, env actor.Envelope) error {
	select {
	case s.gw.actor.Traffic() <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.gw.actor.Done():
		return actor.ErrChannelClosed
	}
}
