package wire

import (
	"bytes"
	"io"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/fyrsmithlabs/canopy/internal/change"
	"github.com/fyrsmithlabs/canopy/internal/tree"
)

func TestMessageRoundTrip(t *testing.T) {
	parent := uuid.New()
	child := uuid.New()
	rootName := "root"

	tests := []struct {
		name string
		msg  Message
	}{
		{"hello with token", ClientHello{Version: ProtocolVersion, Token: "s3cret"}},
		{"hello without token", ClientHello{Version: 7}},
		{"accept", ServerAccept{Session: 12, Validity: 3600}},
		{"log", ServerLog{Text: "permission denied"}},
		{"hash", ClientHash{Hash: math.MaxUint64}},
		{"trigger", ClientTrigger{ID: child}},
		{"added with nested data", ServerChange{Hash: 99, Change: change.NodeAdded{
			Data:   tree.NewTuple(tree.Int32(-5), tree.NewList(tree.Float32(1.5), tree.String("x")), tree.Bool(true)),
			Name:   tree.Name(""),
			ID:     child,
			Parent: parent,
		}}},
		{"added without name", ServerChange{Change: change.NodeAdded{Data: tree.Button{Count: 2}, ID: child, Parent: parent}}},
		{"removed", ServerChange{Change: change.NodeRemoved{ID: child}}},
		{"renamed", ServerChange{Change: change.NodeChangedName{ID: child, Name: "new"}}},
		{"data", ServerChange{Change: change.NodeChangedData{ID: child, Data: tree.UInt64(math.MaxUint64)}}},
		{"snapshot", ServerSnapshot{Snapshot: change.Snapshot{
			RootID:   parent,
			RootName: &rootName,
			RootData: tree.Folder{},
			Changes: []change.NodeAdded{
				{Data: tree.Int64(math.MinInt64), ID: child, Parent: parent},
			},
			Hash: 42,
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := Marshal(tt.msg)
			require.NoError(t, err)

			got, err := Unmarshal(payload)
			require.NoError(t, err)
			assert.Equal(t, tt.msg.Kind(), got.Kind())

			if sc, ok := tt.msg.(ServerChange); ok {
				back := got.(ServerChange)
				assert.Equal(t, sc.Hash, back.Hash)
				assert.Equal(t, change.Describe(sc.Change), change.Describe(back.Change))
				return
			}
			assert.Equal(t, tt.msg, got)
		})
	}
}

func TestUnmarshalRejectsMalformed(t *testing.T) {
	valid, err := Marshal(ClientTrigger{ID: uuid.New()})
	require.NoError(t, err)

	twoMessages := append(append([]byte{}, valid...), valid...)

	badUUID := protowire.AppendTag(nil, protowire.Number(KindClientTrigger), protowire.BytesType)
	badUUID = protowire.AppendBytes(badUUID, protowire.AppendBytes(protowire.AppendTag(nil, 1, protowire.BytesType), []byte{1, 2, 3}))

	unknownKind := protowire.AppendTag(nil, 99, protowire.BytesType)
	unknownKind = protowire.AppendBytes(unknownKind, nil)

	wrongType := protowire.AppendTag(nil, protowire.Number(KindServerLog), protowire.VarintType)
	wrongType = protowire.AppendVarint(wrongType, 1)

	tests := map[string][]byte{
		"truncated":    valid[:len(valid)-3],
		"two messages": twoMessages,
		"bad uuid":     badUUID,
		"unknown kind": unknownKind,
		"wrong type":   wrongType,
		"empty":        nil,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Unmarshal(payload)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestUnmarshalRejectsChangeWithoutData(t *testing.T) {
	body := appendUUID(nil, 1, uuid.New())
	c := protowire.AppendTag(nil, 4, protowire.BytesType)
	c = protowire.AppendBytes(c, body)
	sc := protowire.AppendTag(nil, 1, protowire.BytesType)
	sc = protowire.AppendBytes(sc, c)
	env := protowire.AppendTag(nil, protowire.Number(KindServerChange), protowire.BytesType)
	env = protowire.AppendBytes(env, sc)

	_, err := Unmarshal(env)
	assert.ErrorIs(t, err, ErrDecode)
}

func serverChangeEnvelope(op protowire.Number, body []byte) []byte {
	c := protowire.AppendTag(nil, op, protowire.BytesType)
	c = protowire.AppendBytes(c, body)
	sc := protowire.AppendTag(nil, 1, protowire.BytesType)
	sc = protowire.AppendBytes(sc, c)
	env := protowire.AppendTag(nil, protowire.Number(KindServerChange), protowire.BytesType)
	return protowire.AppendBytes(env, sc)
}

func TestUnmarshalRejectsNodeAddedWithoutID(t *testing.T) {
	parent := uuid.New()

	t.Run("id field missing", func(t *testing.T) {
		body, err := appendDataField(nil, 1, tree.Bool(true))
		require.NoError(t, err)
		body = protowire.AppendTag(body, 2, protowire.BytesType)
		body = protowire.AppendString(body, "x")
		body = appendUUID(body, 4, parent)

		_, err = Unmarshal(serverChangeEnvelope(1, body))
		assert.ErrorIs(t, err, ErrDecode)
	})

	t.Run("nil id", func(t *testing.T) {
		payload, err := Marshal(ServerChange{Change: change.NodeAdded{
			Data:   tree.Bool(true),
			Name:   tree.Name("x"),
			Parent: parent,
		}})
		require.NoError(t, err)

		_, err = Unmarshal(payload)
		assert.ErrorIs(t, err, ErrDecode)
	})
}

func TestUnmarshalRejectsInvalidUTF8(t *testing.T) {
	id := uuid.New()
	bad := string([]byte{'o', 0xff, 'k'})

	tests := map[string]Message{
		"string data":   ServerChange{Change: change.NodeChangedData{ID: id, Data: tree.String(bad)}},
		"nested string": ServerChange{Change: change.NodeChangedData{ID: id, Data: tree.NewList(tree.String(bad))}},
		"rename":        ServerChange{Change: change.NodeChangedName{ID: id, Name: bad}},
		"added name":    ServerChange{Change: change.NodeAdded{Data: tree.Folder{}, Name: tree.Name(bad), ID: id, Parent: uuid.New()}},
		"snapshot root name": ServerSnapshot{Snapshot: change.Snapshot{
			RootID:   id,
			RootName: &bad,
			RootData: tree.Folder{},
		}},
	}
	for name, msg := range tests {
		t.Run(name, func(t *testing.T) {
			payload, err := Marshal(msg)
			require.NoError(t, err)

			_, err = Unmarshal(payload)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}

	payload, err := Marshal(ServerChange{Change: change.NodeChangedData{ID: id, Data: tree.String("héllo ✓")}})
	require.NoError(t, err)
	_, err = Unmarshal(payload)
	require.NoError(t, err)
}

func TestFrames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, ServerLog{Text: "one"}))
	require.NoError(t, WriteMessage(&buf, ClientHash{Hash: 2}))

	m, err := ReadMessage(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, ServerLog{Text: "one"}, m)

	m, err = ReadMessage(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, ClientHash{Hash: 2}, m)

	_, err = ReadMessage(&buf, 0)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameLimits(t *testing.T) {
	t.Run("oversized", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteFrame(&buf, make([]byte, 64)))
		_, err := ReadFrame(&buf, 32)
		assert.ErrorIs(t, err, ErrDecode)
	})

	t.Run("empty frame", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0, 0, 0, 0}), 0)
		assert.ErrorIs(t, err, ErrDecode)
	})

	t.Run("truncated body", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0, 0, 0, 8, 1, 2}), 0)
		assert.ErrorIs(t, err, ErrDecode)
	})

	t.Run("truncated header", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0, 0}), 0)
		assert.ErrorIs(t, err, ErrDecode)
	})
}
