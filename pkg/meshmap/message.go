package meshmap

import "bytes"

// Message is the tagged envelope carried over the Channel. Key and value
// are shipped as raw bytes (KeyRaw/ValRaw) and decoded lazily by the
// typed Map[K,V] using whichever Codec it was constructed with — Message
// itself never imports a codec, matching spec.md §9's "the core must not
// tie itself to a specific codec."
type Message struct {
	MapID   []byte
	Type    MsgType
	Diff    bool
	KeyRaw  []byte
	ValRaw  []byte
	DiffRaw []byte
	Primary MemberID
	Backups []MemberID

	// StateList carries the payload of a STATE/STATE_COPY reply: a batch
	// of per-entry PROXY or COPY messages. Only used for those two
	// message types; nil otherwise.
	StateList []*Message

	// LifecycleState carries the responder's lifecycle state in a PING
	// reply.
	LifecycleState LifecycleState
}

// SameContext reports whether msg belongs to the given map context id.
// Comparison is byte-exact; the context id is never interpreted.
func (m *Message) SameContext(mapID []byte) bool {
	return bytes.Equal(m.MapID, mapID)
}

// Clone returns a shallow copy of the message. Transports that need to
// mutate a field (e.g. stamping Primary before replying) without racing
// the original should clone first.
func (m *Message) Clone() *Message {
	cp := *m
	return &cp
}
