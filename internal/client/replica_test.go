package client

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/canopy/internal/actor"
	"github.com/fyrsmithlabs/canopy/internal/auth"
	"github.com/fyrsmithlabs/canopy/internal/change"
	"github.com/fyrsmithlabs/canopy/internal/config"
	"github.com/fyrsmithlabs/canopy/internal/gateway"
	"github.com/fyrsmithlabs/canopy/internal/permissions"
	"github.com/fyrsmithlabs/canopy/internal/transport"
	"github.com/fyrsmithlabs/canopy/internal/tree"
	"github.com/fyrsmithlabs/canopy/internal/wire"
)

const waitTimeout = 2 * time.Second

var (
	rootID   = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	buttonID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	lockedID = uuid.MustParse("00000000-0000-0000-0000-000000000003")
)

type testServer struct {
	gw  *gateway.Gateway
	srv *transport.Server
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	root := tree.New(tree.Config{
		ID:   rootID,
		Name: tree.Name("root"),
		Children: []*tree.Node{
			tree.New(tree.Config{ID: buttonID, Name: tree.Name("button"), Data: tree.Button{}}),
			tree.New(tree.Config{ID: lockedID, Name: tree.Name("locked"), Permission: permissions.Admin()}),
		},
	})
	a := actor.New(root)
	go func() { _ = a.Run(context.Background()) }()

	authn, err := auth.New(config.AuthConfig{
		DefaultPermission: config.PermissionConfig{Level: "public"},
		Tokens:            []config.TokenConfig{{Name: "ops", Token: "admin-token", Level: "admin"}},
	})
	require.NoError(t, err)

	gw := gateway.New(a)
	srv := transport.NewServer(gw, authn, transport.Config{})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
		select {
		case a.Control() <- actor.Quit{}:
		case <-a.Done():
		}
		<-a.Done()
	})
	return &testServer{gw: gw, srv: srv}
}

func (s *testServer) listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.srv.Serve(ln) }()
	return ln.Addr().String()
}

func (s *testServer) hash(t *testing.T) uint64 {
	t.Helper()
	status, err := s.gw.Inspect(context.Background())
	require.NoError(t, err)
	return status.Hash
}

// running dials addr and runs the replica until the test ends. Updates are
// delivered on the returned channel.
func running(t *testing.T, addr, token string) (*Replica, <-chan Update) {
	t.Helper()
	updates := make(chan Update, 64)
	r, err := Dial(context.Background(), addr, Options{
		Token:       token,
		DialTimeout: waitTimeout,
		OnUpdate:    func(u Update) { updates <- u },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return r, updates
}

func next(t *testing.T, updates <-chan Update) Update {
	t.Helper()
	select {
	case u := <-updates:
		return u
	case <-time.After(waitTimeout):
		t.Fatal("no update received")
		return Update{}
	}
}

func httpHandler(srv *transport.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = srv.ServeWebSocket(w, r)
	})
}

func findByID(v tree.View, id uuid.UUID) (tree.View, bool) {
	if v.ID == id {
		return v, true
	}
	for _, c := range v.Children {
		if found, ok := findByID(c, id); ok {
			return found, true
		}
	}
	return tree.View{}, false
}

func TestDialBuildsReplica(t *testing.T) {
	s := startServer(t)
	addr := s.listen(t)

	r, _ := running(t, addr, "")
	assert.Equal(t, uint64(1), r.Session())
	assert.Equal(t, s.hash(t), r.Hash())

	view := r.View()
	assert.Equal(t, rootID, view.ID)
	assert.Equal(t, 3, view.Count())
}

func TestReplicasConverge(t *testing.T) {
	s := startServer(t)
	addr := s.listen(t)

	a, updatesA := running(t, addr, "")
	b, updatesB := running(t, addr, "")

	id, err := a.Add(rootID, tree.Name("count"), tree.Int64(5))
	require.NoError(t, err)

	u := next(t, updatesB)
	require.Equal(t, UpdateChange, u.Kind)
	assert.Equal(t, id, u.Change.NodeID())
	assert.Equal(t, a.Hash(), b.Hash())

	// a client's own edits are not echoed back to it
	require.NoError(t, b.Set(id, tree.Int64(6)))
	require.NoError(t, b.Rename(id, "total"))
	assert.Equal(t, UpdateChange, next(t, updatesA).Kind)
	assert.Equal(t, UpdateChange, next(t, updatesA).Kind)
	assert.Equal(t, b.Hash(), a.Hash())

	node, ok := findByID(a.View(), id)
	require.True(t, ok)
	assert.Equal(t, "total", *node.Name)
	assert.Equal(t, tree.Int64(6), node.Data.Data)

	require.NoError(t, a.Remove(id))
	u = next(t, updatesB)
	assert.Equal(t, change.NodeRemoved{ID: id}, u.Change)
	assert.Equal(t, s.hash(t), b.Hash())
}

func TestRejectedEditIsRolledBack(t *testing.T) {
	s := startServer(t)
	addr := s.listen(t)

	r, updates := running(t, addr, "")
	before := r.Hash()

	require.NoError(t, r.Rename(lockedID, "mine"))
	assert.NotEqual(t, before, r.Hash())

	u := next(t, updates)
	require.Equal(t, UpdateLog, u.Kind)
	assert.Contains(t, u.Text, permissions.ErrPermissionDenied.Error())

	u = next(t, updates)
	require.Equal(t, UpdateSnapshot, u.Kind)
	assert.Equal(t, before, r.Hash())

	node, ok := findByID(r.View(), lockedID)
	require.True(t, ok)
	assert.Equal(t, "locked", *node.Name)
}

func TestAdminTokenEdits(t *testing.T) {
	s := startServer(t)
	addr := s.listen(t)

	admin, _ := running(t, addr, "admin-token")
	_, watcher := running(t, addr, "")

	require.NoError(t, admin.Rename(lockedID, "open"))
	u := next(t, watcher)
	assert.Equal(t, change.NodeChangedName{ID: lockedID, Name: "open"}, u.Change)
	assert.Equal(t, s.hash(t), admin.Hash())
}

func TestTrigger(t *testing.T) {
	s := startServer(t)
	addr := s.listen(t)

	r, updates := running(t, addr, "")
	require.NoError(t, r.Trigger(buttonID))

	u := next(t, updates)
	require.Equal(t, UpdateChange, u.Kind)
	assert.Equal(t, change.NodeChangedData{ID: buttonID, Data: tree.Button{Count: 1}}, u.Change)

	u = next(t, updates)
	require.Equal(t, UpdateLog, u.Kind)
	assert.Contains(t, u.Text, "pressed (1)")
	assert.Equal(t, s.hash(t), r.Hash())
}

func TestResync(t *testing.T) {
	s := startServer(t)
	addr := s.listen(t)

	r, updates := running(t, addr, "")
	require.NoError(t, r.Resync())

	// hashes agree, so only a later change shows up
	require.NoError(t, r.Trigger(buttonID))
	u := next(t, updates)
	assert.Equal(t, UpdateChange, u.Kind)
}

func TestLocalErrorsAreNotSent(t *testing.T) {
	s := startServer(t)
	addr := s.listen(t)

	r, _ := running(t, addr, "")
	err := r.Remove(uuid.New())
	assert.ErrorIs(t, err, tree.ErrNotFound)
	err = r.Remove(rootID)
	assert.ErrorIs(t, err, change.ErrRootRemoval)
	assert.Equal(t, s.hash(t), r.Hash())
}

func TestDialWebSocket(t *testing.T) {
	s := startServer(t)
	hs := httptest.NewServer(httpHandler(s.srv))
	defer hs.Close()

	url := "ws" + strings.TrimPrefix(hs.URL, "http")
	r, err := DialWebSocket(context.Background(), url, Options{DialTimeout: waitTimeout})
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, s.hash(t), r.Hash())
}

func TestOpenRejected(t *testing.T) {
	tests := []struct {
		name    string
		answer  []wire.Message
		wantErr error
	}{
		{"server log", []wire.Message{wire.ServerLog{Text: "server at capacity"}}, ErrRejected},
		{"wrong first message", []wire.Message{wire.ClientHash{Hash: 1}}, ErrUnexpected},
		{"no snapshot", []wire.Message{wire.ServerAccept{Session: 1}, wire.ServerLog{Text: "hi"}}, ErrUnexpected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, client := net.Pipe()
			sc := transport.NewStreamConn(server, 0)
			defer sc.Close()

			go func() {
				if _, err := sc.ReadMessage(); err != nil {
					return
				}
				for _, m := range tt.answer {
					if err := sc.WriteMessage(m); err != nil {
						return
					}
				}
			}()

			_, err := Open(context.Background(), transport.NewStreamConn(client, 0), Options{})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestOpenCanceled(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Open(ctx, transport.NewStreamConn(client, 0), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
