// Package actor owns the live tree. A single goroutine running Actor.Run is
// the only code that reads or mutates it; everything else talks to it
// through the control and traffic mailboxes.
//
// The control mailbox always wins: each iteration drains one ready control
// message before looking at client traffic.
package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/canopy/internal/change"
	"github.com/fyrsmithlabs/canopy/internal/logging"
	"github.com/fyrsmithlabs/canopy/internal/permissions"
	"github.com/fyrsmithlabs/canopy/internal/tree"
	"github.com/fyrsmithlabs/canopy/internal/wire"
)

const instrumentationName = "github.com/fyrsmithlabs/canopy/internal/actor"

// Default mailbox and inbox sizes.
const (
	DefaultControlBuffer  = 64
	DefaultTrafficBuffer  = 1024
	DefaultOutboundBuffer = 256
)

// State is the lifecycle state of an Actor.
type State int

const (
	StateRunning State = iota
	StateTerminated
)

func (s State) String() string {
	if s == StateTerminated {
		return "terminated"
	}
	return "running"
}

// Mirror receives every change the actor applies.
type Mirror interface {
	PublishChange(ctx context.Context, clientID uint64, c change.Change, hash uint64) error
}

type client struct {
	id         uint64
	credential permissions.Permission
	inbox      chan wire.Message
}

// Actor serializes all access to one tree.
type Actor struct {
	root    *tree.Node
	control chan ControlMessage
	traffic chan Envelope
	done    chan struct{}

	clients        map[uint64]*client
	nextID         uint64
	state          State
	outboundBuffer int

	logger  *logging.Logger
	metrics *Metrics
	mirror  Mirror
	tracer  trace.Tracer
}

// Option configures an Actor.
type Option func(*Actor)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *logging.Logger) Option {
	return func(a *Actor) {
		if l != nil {
			a.logger = l.Named("actor")
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(a *Actor) { a.metrics = m }
}

// WithMirror publishes every applied change to m.
func WithMirror(m Mirror) Option {
	return func(a *Actor) { a.mirror = m }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(a *Actor) {
		if t != nil {
			a.tracer = t
		}
	}
}

// WithBuffers sizes the control mailbox, the traffic mailbox and each
// client inbox. Non-positive values keep the defaults.
func WithBuffers(control, traffic, outbound int) Option {
	return func(a *Actor) {
		if control > 0 {
			a.control = make(chan ControlMessage, control)
		}
		if traffic > 0 {
			a.traffic = make(chan Envelope, traffic)
		}
		if outbound > 0 {
			a.outboundBuffer = outbound
		}
	}
}

// New creates an actor owning root. Nothing else may touch root once Run
// has started.
func New(root *tree.Node, opts ...Option) *Actor {
	a := &Actor{
		root:           root,
		control:        make(chan ControlMessage, DefaultControlBuffer),
		traffic:        make(chan Envelope, DefaultTrafficBuffer),
		done:           make(chan struct{}),
		clients:        make(map[uint64]*client),
		outboundBuffer: DefaultOutboundBuffer,
		logger:         logging.NewNop(),
		tracer:         otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Control returns the control mailbox.
func (a *Actor) Control() chan<- ControlMessage { return a.control }

// Traffic returns the client traffic mailbox.
func (a *Actor) Traffic() chan<- Envelope { return a.traffic }

// Done is closed when Run returns.
func (a *Actor) Done() <-chan struct{} { return a.done }

// Run processes messages until Quit, returning nil, or until a mailbox is
// closed, returning ErrChannelClosed. The wait for messages has no timeout;
// ctx only carries logging and tracing values. Run must be called once.
func (a *Actor) Run(ctx context.Context) error {
	defer close(a.done)
	a.logger.Info(ctx, "actor started", zap.Uint64("hash", a.root.Hash()))

	for a.state == StateRunning {
		select {
		case msg, ok := <-a.control:
			if !ok {
				return a.fail(ctx, "control")
			}
			a.handleControl(ctx, msg)
			continue
		default:
		}

		select {
		case msg, ok := <-a.control:
			if !ok {
				return a.fail(ctx, "control")
			}
			a.handleControl(ctx, msg)
		case env, ok := <-a.traffic:
			if !ok {
				return a.fail(ctx, "traffic")
			}
			a.handleEnvelope(ctx, env)
		}
	}

	a.logger.Info(ctx, "actor terminated")
	return nil
}

func (a *Actor) fail(ctx context.Context, mailbox string) error {
	a.logger.Error(ctx, "mailbox closed", zap.String("mailbox", mailbox))
	for id, c := range a.clients {
		close(c.inbox)
		delete(a.clients, id)
		a.metrics.clientRemoved()
	}
	a.state = StateTerminated
	return fmt.Errorf("%s mailbox: %w", mailbox, ErrChannelClosed)
}

func (a *Actor) handleControl(ctx context.Context, msg ControlMessage) {
	switch m := msg.(type) {
	case Register:
		a.register(ctx, m)
	case Deregister:
		a.deregister(ctx, m.ClientID)
	case Inspect:
		a.metrics.recordMessage("inspect", nil)
		if m.Reply == nil {
			return
		}
		select {
		case m.Reply <- Status{Root: a.root.Snapshot(), Hash: a.root.Hash(), Clients: len(a.clients)}:
		default:
			a.logger.Warn(ctx, "inspect reply dropped")
		}
	case Quit:
		a.quit(ctx)
	default:
		a.metrics.recordMessage("unknown", ErrProtocolViolation)
		a.logger.Warn(ctx, "unexpected control message", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (a *Actor) register(ctx context.Context, m Register) {
	if m.Reply == nil {
		a.metrics.recordMessage("register", ErrProtocolViolation)
		a.logger.Warn(ctx, "register without reply channel", zap.String("ticket", m.Ticket.String()))
		return
	}

	a.nextID++
	c := &client{
		id:         a.nextID,
		credential: m.Credential,
		inbox:      make(chan wire.Message, a.outboundBuffer),
	}
	c.inbox <- wire.ServerSnapshot{Snapshot: change.Capture(a.root)}

	select {
	case m.Reply <- RegisterResponse{Ticket: m.Ticket, ClientID: c.id, Inbox: c.inbox}:
	default:
		close(c.inbox)
		a.metrics.recordMessage("register", ErrChannelClosed)
		a.logger.Warn(ctx, "register reply dropped", zap.String("ticket", m.Ticket.String()))
		return
	}

	a.clients[c.id] = c
	a.metrics.clientAdded()
	a.metrics.recordMessage("register", nil)
	a.logger.Info(logging.WithClientID(ctx, c.id), "client registered",
		zap.String("credential", c.credential.String()),
		zap.Int("clients", len(a.clients)),
	)
}

func (a *Actor) deregister(ctx context.Context, id uint64) {
	c, ok := a.clients[id]
	if !ok {
		a.metrics.recordMessage("deregister", ErrProtocolViolation)
		a.logger.Debug(ctx, "deregister for unknown client", zap.Uint64("client.id", id))
		return
	}
	delete(a.clients, id)
	close(c.inbox)
	a.metrics.clientRemoved()
	a.metrics.recordMessage("deregister", nil)
	a.logger.Info(logging.WithClientID(ctx, id), "client deregistered", zap.Int("clients", len(a.clients)))
}

func (a *Actor) quit(ctx context.Context) {
	a.logger.Info(ctx, "quit received", zap.Int("clients", len(a.clients)))
	for id, c := range a.clients {
		a.deliver(c, wire.ServerLog{Text: "server shutting down"})
		close(c.inbox)
		delete(a.clients, id)
		a.metrics.clientRemoved()
	}
	a.state = StateTerminated
	a.metrics.recordMessage("quit", nil)
}

func (a *Actor) handleEnvelope(ctx context.Context, env Envelope) {
	kind := messageKind(env.Message)
	ctx = logging.WithClientID(ctx, env.ClientID)
	ctx, span := a.tracer.Start(ctx, "actor."+kind, trace.WithAttributes(
		attribute.Int64("client.id", int64(env.ClientID)),
	))
	defer span.End()

	var (
		hash uint64
		err  error
	)
	c, ok := a.clients[env.ClientID]
	if !ok {
		err = fmt.Errorf("%w: unknown client %d", ErrProtocolViolation, env.ClientID)
	} else {
		switch m := env.Message.(type) {
		case wire.ServerChange:
			hash, err = a.applyChange(ctx, c, m.Change, false)
		case wire.ClientTrigger:
			hash, err = a.trigger(ctx, c, m.ID)
		case wire.ClientHash:
			hash = a.root.Hash()
			if m.Hash != hash {
				a.logger.Info(ctx, "client hash mismatch, sending snapshot",
					zap.String("client_hash", fmt.Sprintf("%016x", m.Hash)),
					zap.String("hash", fmt.Sprintf("%016x", hash)),
				)
				a.deliver(c, wire.ServerSnapshot{Snapshot: change.Capture(a.root)})
			}
		default:
			err = fmt.Errorf("%w: clients may not send %s", ErrProtocolViolation, kind)
		}
	}

	a.metrics.recordMessage(kind, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.logger.Warn(ctx, "message rejected", zap.String("kind", kind), zap.Error(err))
		if c != nil {
			a.deliver(c, wire.ServerLog{Text: err.Error()})
		}
	} else {
		span.SetAttributes(attribute.String("tree.hash", fmt.Sprintf("%016x", hash)))
	}

	if env.Reply != nil {
		select {
		case env.Reply <- Result{Hash: hash, Err: err}:
		default:
			a.logger.Warn(ctx, "result dropped", zap.String("kind", kind))
		}
	}
}

// applyChange checks permission on the change's target, applies it and
// fans it out. The originator is skipped unless includeOrigin is set.
func (a *Actor) applyChange(ctx context.Context, c *client, ch change.Change, includeOrigin bool) (uint64, error) {
	if ch == nil {
		return 0, fmt.Errorf("%w: empty change", change.ErrInvalid)
	}
	target, err := change.Target(a.root, ch)
	if err != nil {
		return 0, err
	}
	if err := permissions.Check(target.Permission(), c.credential); err != nil {
		return 0, fmt.Errorf("%s: %w", change.Describe(ch), err)
	}

	start := time.Now()
	hash, err := change.Apply(a.root, ch)
	a.metrics.recordApply(time.Since(start).Seconds())
	if err != nil {
		return 0, err
	}

	a.logger.Debug(ctx, "change applied",
		zap.String("change", change.Describe(ch)),
		zap.String("hash", fmt.Sprintf("%016x", hash)),
	)

	out := wire.ServerChange{Change: ch, Hash: hash}
	for id, other := range a.clients {
		if id == c.id && !includeOrigin {
			continue
		}
		a.deliver(other, out)
	}

	if a.mirror != nil {
		if err := a.mirror.PublishChange(ctx, c.id, ch, hash); err != nil {
			a.logger.Warn(ctx, "mirror publish failed", zap.Error(err))
		}
	}
	return hash, nil
}

// trigger presses a Button. The originator only sent an id, so it receives
// the resulting change like every other client.
func (a *Actor) trigger(ctx context.Context, c *client, id uuid.UUID) (uint64, error) {
	n, err := a.root.Lookup(id)
	if err != nil {
		return 0, fmt.Errorf("trigger: %w", err)
	}
	b, ok := n.Data().(tree.Button)
	if !ok {
		return 0, fmt.Errorf("trigger %s: %w: holds %s", id, tree.ErrNotButton, n.Data().Kind())
	}

	next := tree.Button{Count: b.Count + 1}
	hash, err := a.applyChange(ctx, c, change.NodeChangedData{ID: id, Data: next}, true)
	if err != nil {
		return 0, err
	}
	a.deliver(c, wire.ServerLog{Text: fmt.Sprintf("button %s pressed (%d)", id, next.Count)})
	return hash, nil
}

// deliver queues m on the client's inbox, dropping the oldest queued
// message when the inbox is full. It never blocks.
func (a *Actor) deliver(c *client, m wire.Message) {
	for {
		select {
		case c.inbox <- m:
			return
		default:
		}
		select {
		case <-c.inbox:
			a.metrics.recordDrop()
		default:
		}
	}
}

func messageKind(m wire.Message) string {
	if m == nil {
		return "nil"
	}
	return m.Kind().String()
}
