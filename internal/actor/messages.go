package actor

import (
	"errors"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/canopy/internal/permissions"
	"github.com/fyrsmithlabs/canopy/internal/tree"
	"github.com/fyrsmithlabs/canopy/internal/wire"
)

var (
	// ErrProtocolViolation is returned for messages the actor cannot accept
	// in its current state: traffic from an unknown client, unexpected
	// message kinds, or a registration answered for another ticket.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrChannelClosed is returned by Run when one of its mailboxes is
	// closed, and by callers that find the actor gone.
	ErrChannelClosed = errors.New("channel closed")
)

// ControlMessage is a message for the privileged control mailbox.
// Implementations are Register, Deregister, Inspect and Quit.
type ControlMessage interface {
	isControl()
}

// Register asks the actor to admit a new client. The actor mints the
// client id and answers on Reply, which must be buffered.
type Register struct {
	Ticket     uuid.UUID
	Credential permissions.Permission
	Reply      chan<- RegisterResponse
}

// RegisterResponse answers a Register. Inbox receives every message the
// actor addresses to the client and is closed when the client is dropped.
type RegisterResponse struct {
	Ticket   uuid.UUID
	ClientID uint64
	Inbox    <-chan wire.Message
}

// Deregister removes a client and closes its inbox.
type Deregister struct {
	ClientID uint64
}

// Inspect asks for a read-only copy of the actor's state. Reply must be
// buffered.
type Inspect struct {
	Reply chan<- Status
}

// Status is the answer to Inspect.
type Status struct {
	Root    tree.View
	Hash    uint64
	Clients int
}

// Quit stops the actor after notifying every client.
type Quit struct{}

func (Register) isControl()   {}
func (Deregister) isControl() {}
func (Inspect) isControl()    {}
func (Quit) isControl()       {}

// Envelope carries one message from a registered client through the
// traffic mailbox. Reply is optional and must be buffered when set.
type Envelope struct {
	ClientID uint64
	Message  wire.Message
	Reply    chan<- Result
}

// Result reports the outcome of an Envelope: the tree hash after the
// message was handled, or the error that was also sent to the client.
type Result struct {
	Hash uint64
	Err  error
}
