// Package client talks to a canopy server: Replica keeps a local copy of the
// tree over a protocol session, and HTTPClient calls the admin API.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/canopy/internal/change"
	"github.com/fyrsmithlabs/canopy/internal/logging"
	"github.com/fyrsmithlabs/canopy/internal/permissions"
	"github.com/fyrsmithlabs/canopy/internal/transport"
	"github.com/fyrsmithlabs/canopy/internal/tree"
	"github.com/fyrsmithlabs/canopy/internal/wire"
)

var (
	// ErrRejected is returned when the server refuses the handshake.
	ErrRejected = errors.New("session rejected")

	// ErrUnexpected is returned for messages a server must not send.
	ErrUnexpected = errors.New("unexpected message")
)

// UpdateKind says what an Update carries.
type UpdateKind int

const (
	// UpdateChange is a change applied to the replica.
	UpdateChange UpdateKind = iota
	// UpdateSnapshot means the replica was rebuilt from a snapshot.
	UpdateSnapshot
	// UpdateLog is a text message from the server.
	UpdateLog
)

// Update describes one event seen by a Replica.
type Update struct {
	Kind   UpdateKind
	Change change.Change
	Text   string
	Hash   uint64
}

// Options configure a Replica.
type Options struct {
	Token        string
	TLS          *tls.Config
	MaxFrameSize int
	DialTimeout  time.Duration
	Logger       *logging.Logger

	// OnUpdate is called from Run for every applied change, snapshot and
	// log line. It must not block for long.
	OnUpdate func(Update)
}

// Replica holds a copy of the server's tree and keeps it current.
type Replica struct {
	conn     transport.Conn
	session  uint64
	validity time.Duration
	logger   *logging.Logger
	onUpdate func(Update)

	writeMu sync.Mutex

	mu   sync.RWMutex
	root *tree.Node
}

// Dial connects to a TCP endpoint, optionally over TLS, and completes the
// handshake.
func Dial(ctx context.Context, addr string, opts Options) (*Replica, error) {
	d := net.Dialer{Timeout: opts.DialTimeout}
	var (
		nc  net.Conn
		err error
	)
	if opts.TLS != nil {
		td := tls.Dialer{NetDialer: &d, Config: opts.TLS}
		nc, err = td.DialContext(ctx, "tcp", addr)
	} else {
		nc, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return Open(ctx, transport.NewStreamConn(nc, opts.MaxFrameSize), opts)
}

// DialWebSocket connects to a ws:// or wss:// endpoint and completes the
// handshake.
func DialWebSocket(ctx context.Context, url string, opts Options) (*Replica, error) {
	d := websocket.Dialer{
		HandshakeTimeout: opts.DialTimeout,
		TLSClientConfig:  opts.TLS,
	}
	ws, _, err := d.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return Open(ctx, transport.NewWebSocketConn(ws, opts.MaxFrameSize), opts)
}

// Open runs the handshake on an established connection and builds the
// replica from the initial snapshot. conn is closed on failure.
func Open(ctx context.Context, conn transport.Conn, opts Options) (*Replica, error) {
	r := &Replica{
		conn:     conn,
		logger:   opts.Logger,
		onUpdate: opts.OnUpdate,
	}
	if r.logger == nil {
		r.logger = logging.NewNop()
	}
	r.logger = r.logger.Named("replica")

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := r.handshake(opts.Token); err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return r, nil
}

func (r *Replica) handshake(token string) error {
	if err := r.conn.WriteMessage(wire.ClientHello{Version: wire.ProtocolVersion, Token: token}); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	msg, err := r.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read accept: %w", err)
	}
	switch m := msg.(type) {
	case wire.ServerAccept:
		r.session = m.Session
		r.validity = time.Duration(m.Validity) * time.Second
	case wire.ServerLog:
		return fmt.Errorf("%w: %s", ErrRejected, m.Text)
	default:
		return fmt.Errorf("%w: %s during handshake", ErrUnexpected, msg.Kind())
	}

	msg, err = r.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	snap, ok := msg.(wire.ServerSnapshot)
	if !ok {
		return fmt.Errorf("%w: %s before snapshot", ErrUnexpected, msg.Kind())
	}
	return r.rebuild(snap.Snapshot)
}

// Session returns the id the server assigned to this client.
func (r *Replica) Session() uint64 { return r.session }

// Validity returns how long the server keeps the session open. Zero means
// less than a second or unlimited, depending on server configuration.
func (r *Replica) Validity() time.Duration { return r.validity }

// Hash returns the content hash of the local tree.
func (r *Replica) Hash() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.root.Hash()
}

// View returns a copy of the local tree.
func (r *Replica) View() tree.View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.root.Snapshot()
}

// Run reads server messages and keeps the replica current until ctx is
// done or the connection closes. It returns nil on a clean close.
func (r *Replica) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = r.conn.Close() })
	defer stop()

	for {
		msg, err := r.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if err := r.handle(ctx, msg); err != nil {
			return err
		}
	}
}

func (r *Replica) handle(ctx context.Context, msg wire.Message) error {
	switch m := msg.(type) {
	case wire.ServerChange:
		r.applyRemote(ctx, m)
	case wire.ServerSnapshot:
		if err := r.rebuild(m.Snapshot); err != nil {
			return err
		}
		r.notify(Update{Kind: UpdateSnapshot, Hash: m.Snapshot.Hash})
	case wire.ServerLog:
		r.logger.Debug(ctx, "server log", zap.String("text", m.Text))
		r.notify(Update{Kind: UpdateLog, Text: m.Text})
	default:
		return fmt.Errorf("%w: %s", ErrUnexpected, msg.Kind())
	}
	return nil
}

// applyRemote applies a change from the server. If the local tree ends up
// with a different hash the server is told, and it answers with a snapshot.
func (r *Replica) applyRemote(ctx context.Context, m wire.ServerChange) {
	r.mu.Lock()
	hash, err := change.Apply(r.root, m.Change)
	if err != nil {
		hash = r.root.Hash()
	}
	r.mu.Unlock()

	if err != nil || hash != m.Hash {
		r.logger.Warn(ctx, "replica out of sync",
			zap.String("change", change.Describe(m.Change)),
			zap.Uint64("local_hash", hash),
			zap.Uint64("server_hash", m.Hash),
			zap.Error(err),
		)
		if err := r.write(wire.ClientHash{Hash: hash}); err != nil {
			r.logger.Warn(ctx, "hash report failed", zap.Error(err))
		}
		return
	}
	r.notify(Update{Kind: UpdateChange, Change: m.Change, Hash: hash})
}

func (r *Replica) rebuild(s change.Snapshot) error {
	root, err := change.Rebuild(s, permissions.Public())
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}
	r.mu.Lock()
	r.root = root
	r.mu.Unlock()
	return nil
}

func (r *Replica) notify(u Update) {
	if r.onUpdate != nil {
		r.onUpdate(u)
	}
}

// Submit applies c locally, sends it to the server and reports the new
// hash. The server does not echo a client's own changes; if it rejects c
// the hash report no longer matches and a snapshot restores the replica.
func (r *Replica) Submit(c change.Change) error {
	r.mu.Lock()
	hash, err := change.Apply(r.root, c)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	if err := r.write(wire.ServerChange{Change: c, Hash: hash}); err != nil {
		return err
	}
	return r.write(wire.ClientHash{Hash: hash})
}

// Add creates a node under parent and returns its id.
func (r *Replica) Add(parent uuid.UUID, name *string, data tree.Data) (uuid.UUID, error) {
	id := uuid.New()
	return id, r.Submit(change.NodeAdded{Data: data, Name: name, ID: id, Parent: parent})
}

// Rename changes the name of node id.
func (r *Replica) Rename(id uuid.UUID, name string) error {
	return r.Submit(change.NodeChangedName{ID: id, Name: name})
}

// Set replaces the data of node id.
func (r *Replica) Set(id uuid.UUID, data tree.Data) error {
	return r.Submit(change.NodeChangedData{ID: id, Data: data})
}

// Remove deletes node id and its subtree.
func (r *Replica) Remove(id uuid.UUID) error {
	return r.Submit(change.NodeRemoved{ID: id})
}

// Trigger presses the Button node id. The resulting change arrives through
// Run like any other.
func (r *Replica) Trigger(id uuid.UUID) error {
	return r.write(wire.ClientTrigger{ID: id})
}

// Resync reports the local hash; a mismatch makes the server send a
// snapshot.
func (r *Replica) Resync() error {
	return r.write(wire.ClientHash{Hash: r.Hash()})
}

// Close ends the session.
func (r *Replica) Close() error {
	return r.conn.Close()
}

func (r *Replica) write(m wire.Message) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := r.conn.WriteMessage(m); err != nil {
		return fmt.Errorf("send %s: %w", m.Kind(), err)
	}
	return nil
}
