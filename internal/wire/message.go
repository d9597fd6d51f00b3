// Package wire defines the messages exchanged between canopy servers and
// clients and their binary encoding.
//
// Messages are encoded with the protobuf wire format (field numbers are
// listed on each type) and carried in frames prefixed by a 4-byte
// big-endian length.
package wire

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/canopy/internal/change"
)

// ProtocolVersion is the protocol version spoken by this package.
const ProtocolVersion = 1

// ErrDecode is returned for frames or payloads that cannot be decoded.
var ErrDecode = errors.New("decode error")

// Kind identifies a message type; it doubles as the envelope field number.
type Kind uint8

const (
	KindClientHello Kind = iota + 1
	KindServerAccept
	KindServerChange
	KindServerLog
	KindClientHash
	KindClientTrigger
	KindServerSnapshot
)

func (k Kind) String() string {
	switch k {
	case KindClientHello:
		return "client_hello"
	case KindServerAccept:
		return "server_accept"
	case KindServerChange:
		return "server_change"
	case KindServerLog:
		return "server_log"
	case KindClientHash:
		return "client_hash"
	case KindClientTrigger:
		return "client_trigger"
	case KindServerSnapshot:
		return "server_snapshot"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Message is any value that can travel on the wire.
type Message interface {
	Kind() Kind
}

// ClientHello opens a session. Fields: 1 version, 2 token.
type ClientHello struct {
	Version uint32
	Token   string
}

// ServerAccept confirms a session. Fields: 1 session, 2 validity seconds.
type ServerAccept struct {
	Session  uint64
	Validity uint32
}

// ServerChange carries one tree edit. Clients send it to request an edit;
// the server sends it, with the resulting hash, to every other client.
// Fields: 1 change, 2 hash.
type ServerChange struct {
	Change change.Change
	Hash   uint64
}

// ServerLog is free text for the client, usually an error report.
// Fields: 1 text.
type ServerLog struct {
	Text string
}

// ClientHash reports the client's current tree hash. Fields: 1 hash.
type ClientHash struct {
	Hash uint64
}

// ClientTrigger asks the server to press a Button node. Fields: 1 id.
type ClientTrigger struct {
	ID uuid.UUID
}

// ServerSnapshot carries the whole tree. Fields: 1 root id, 2 root name,
// 3 root data, 4 node_added (repeated), 5 hash.
type ServerSnapshot struct {
	Snapshot change.Snapshot
}

func (ClientHello) Kind() Kind    { return KindClientHello }
func (ServerAccept) Kind() Kind   { return KindServerAccept }
func (ServerChange) Kind() Kind   { return KindServerChange }
func (ServerLog) Kind() Kind      { return KindServerLog }
func (ClientHash) Kind() Kind     { return KindClientHash }
func (ClientTrigger) Kind() Kind  { return KindClientTrigger }
func (ServerSnapshot) Kind() Kind { return KindServerSnapshot }
