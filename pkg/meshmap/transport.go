package meshmap

import (
	"fmt"
	"time"
)

// SendOptions is an opaque bitmask passed through to the transport; its
// bits mean whatever the transport implementation says they mean.
// meshmap only ever forwards the value it was configured with.
type SendOptions int

// SendOptionsDefault is the zero value, meaning "whatever the transport
// considers its default delivery mode."
const SendOptionsDefault SendOptions = 0

// RPCMode selects how many replies an RPC call waits for.
type RPCMode int

const (
	// FirstReply returns as soon as one member has replied.
	FirstReply RPCMode = iota
	// AllReply waits for (or times out on) every destination member.
	AllReply
)

// Reply pairs an RPC response with the member that sent it.
type Reply struct {
	Source  MemberID
	Message *Message
}

// Channel is the group communication transport meshmap is built against.
// It is never implemented by this package — see pkg/transport/local and
// pkg/transport/httpchan for concrete channels, and spec.md §6 for the
// contract this interface reproduces.
type Channel interface {
	// Members returns the set of live peer ids known to the transport
	// layer itself (this is the channel's own membership view, which may
	// be broader than meshmap's map-specific Membership registry).
	Members() []MemberID
	LocalMember() MemberID

	// Send is one-way, best-effort delivery to every destination.
	Send(to []MemberID, msg *Message, opts SendOptions) error

	AddMembershipListener(l MembershipListener)
	RemoveMembershipListener(l MembershipListener)
	AddChannelListener(l ChannelListener)
	RemoveChannelListener(l ChannelListener)
}

// RPCChannel layers request/reply semantics on top of a Channel. A single
// RPCChannel is scoped to one map context id; responses are routed back
// to the RPCResponder registered for that context.
type RPCChannel interface {
	Send(to []MemberID, msg *Message, mode RPCMode, opts SendOptions, timeout time.Duration) ([]Reply, error)

	// Bind registers the handler that answers RPC requests addressed to
	// this channel's map context. Called once, during Map init.
	Bind(responder RPCResponder)
}

// RPCResponder answers RPC requests addressed to this map context. Exactly
// one is registered per RPCChannel (the map's dispatcher).
type RPCResponder interface {
	ReplyRequest(msg *Message, sender MemberID) (*Message, error)
}

// MembershipListener receives channel-level membership callbacks —
// distinct from meshmap's own map-scoped Membership registry. Members
// join that registry only through map protocol messages
// (INIT/START/PING); MemberDisappeared does remove a member from it, the
// same as a STOP message. Most Channel implementations fire this only for transport
// failures/disconnects they detect independent of the map protocol.
type MembershipListener interface {
	MemberAdded(id MemberID)
	MemberDisappeared(id MemberID)
}

// ChannelListener receives every message delivered over the Channel for
// this map's context id.
type ChannelListener interface {
	// Accept reports whether this listener wants the message at all
	// (meshmap's implementation compares Message.MapID byte-for-byte
	// against its own context id).
	Accept(msg *Message, sender MemberID) bool
	// MessageReceived handles a message accepted by Accept.
	MessageReceived(msg *Message, sender MemberID)
	// LeftOver handles a message delivered after its RPC correlation
	// already completed (e.g. a slow START/INIT/PING reply arriving after
	// the caller stopped waiting).
	LeftOver(msg *Message, sender MemberID)
}

// FaultyMembers is returned (wrapped) by a Channel/RPCChannel send when
// the transport can identify which destinations failed, so the caller can
// feed them through memberDisappeared without waiting for the next
// heartbeat.
type FaultyMembers struct {
	Err     error
	Members []MemberID
}

func (e *FaultyMembers) Error() string {
	return fmt.Sprintf("channel send: %v (faulty members: %v)", e.Err, e.Members)
}

func (e *FaultyMembers) Unwrap() error { return e.Err }
