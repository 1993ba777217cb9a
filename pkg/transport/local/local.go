// Package local provides in-process meshmap.Channel and meshmap.RPCChannel
// implementations, useful for tests and single-binary demos where every
// "node" is really a goroutine sharing one address space. It reproduces
// the semantics a real transport must honor (async delivery, RPC
// correlation by FirstReply/AllReply, membership notification on
// join/leave) without any actual network code.
package local

import (
	"sync"
	"time"

	"github.com/ryandielhenn/meshmap/pkg/meshmap"
)

// Hub is the shared registry a set of in-process peers join. It plays the
// role a real cluster's discovery+transport layer would: tracking who's
// present and fanning out sends.
type Hub struct {
	mu    sync.RWMutex
	peers map[meshmap.MemberID]*core
}

func NewHub() *Hub {
	return &Hub{peers: make(map[meshmap.MemberID]*core)}
}

// core is the shared state behind one member's Channel and RPC, so a
// single Hub.Join gives the caller a matched pair that speak as the same
// member (meshmap.New needs one Channel and one RPCChannel per map).
type core struct {
	id  meshmap.MemberID
	hub *Hub

	mu        sync.Mutex
	chanLis   []meshmap.ChannelListener
	memberLis []meshmap.MembershipListener
	responder meshmap.RPCResponder
}

// Join registers a new member under id and announces it to every
// already-joined peer's MembershipListeners. Returns the Channel/RPC
// pair to hand to meshmap.New.
func (h *Hub) Join(id meshmap.MemberID) (*Channel, *RPC) {
	c := &core{id: id, hub: h}
	h.mu.Lock()
	peers := make([]*core, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.peers[id] = c
	h.mu.Unlock()

	for _, p := range peers {
		p.fireMemberAdded(id)
	}
	return &Channel{core: c}, &RPC{core: c}
}

// Leave deregisters id and announces its departure to every remaining
// peer's MembershipListeners — the local analogue of a transport-level
// disconnect (distinct from the map protocol's own STOP message).
func (h *Hub) Leave(id meshmap.MemberID) {
	h.mu.Lock()
	delete(h.peers, id)
	peers := make([]*core, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		p.fireMemberDisappeared(id)
	}
}

func (h *Hub) peersExcept(self meshmap.MemberID) []*core {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*core, 0, len(h.peers))
	for id, c := range h.peers {
		if id != self {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) lookup(id meshmap.MemberID) (*core, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.peers[id]
	return c, ok
}

func (c *core) snapshotChannelListeners() []meshmap.ChannelListener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]meshmap.ChannelListener(nil), c.chanLis...)
}

func (c *core) snapshotMembershipListeners() []meshmap.MembershipListener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]meshmap.MembershipListener(nil), c.memberLis...)
}

func (c *core) fireMemberAdded(id meshmap.MemberID) {
	for _, l := range c.snapshotMembershipListeners() {
		l.MemberAdded(id)
	}
}

func (c *core) fireMemberDisappeared(id meshmap.MemberID) {
	for _, l := range c.snapshotMembershipListeners() {
		l.MemberDisappeared(id)
	}
}

func (c *core) deliver(msg *meshmap.Message, sender meshmap.MemberID) {
	for _, l := range c.snapshotChannelListeners() {
		if l.Accept(msg, sender) {
			l.MessageReceived(msg, sender)
		}
	}
}

// Channel is one member's meshmap.Channel handle onto the Hub.
type Channel struct{ core *core }

var _ meshmap.Channel = (*Channel)(nil)

func (c *Channel) LocalMember() meshmap.MemberID { return c.core.id }

func (c *Channel) Members() []meshmap.MemberID {
	peers := c.core.hub.peersExcept(c.core.id)
	out := make([]meshmap.MemberID, 0, len(peers))
	for _, p := range peers {
		out = append(out, p.id)
	}
	return out
}

// Send delivers msg to every destination asynchronously, one goroutine
// per recipient, mirroring a real transport's fire-and-forget semantics.
func (c *Channel) Send(to []meshmap.MemberID, msg *meshmap.Message, opts meshmap.SendOptions) error {
	for _, id := range to {
		dest, ok := c.core.hub.lookup(id)
		if !ok {
			continue
		}
		go dest.deliver(msg, c.core.id)
	}
	return nil
}

func (c *Channel) AddChannelListener(l meshmap.ChannelListener) {
	c.core.mu.Lock()
	defer c.core.mu.Unlock()
	c.core.chanLis = append(c.core.chanLis, l)
}

func (c *Channel) RemoveChannelListener(l meshmap.ChannelListener) {
	c.core.mu.Lock()
	defer c.core.mu.Unlock()
	for i, x := range c.core.chanLis {
		if x == l {
			c.core.chanLis = append(c.core.chanLis[:i], c.core.chanLis[i+1:]...)
			return
		}
	}
}

func (c *Channel) AddMembershipListener(l meshmap.MembershipListener) {
	c.core.mu.Lock()
	defer c.core.mu.Unlock()
	c.core.memberLis = append(c.core.memberLis, l)
}

func (c *Channel) RemoveMembershipListener(l meshmap.MembershipListener) {
	c.core.mu.Lock()
	defer c.core.mu.Unlock()
	for i, x := range c.core.memberLis {
		if x == l {
			c.core.memberLis = append(c.core.memberLis[:i], c.core.memberLis[i+1:]...)
			return
		}
	}
}

// RPC is one member's meshmap.RPCChannel handle onto the Hub, sharing
// state with the Channel returned by the same Hub.Join call.
type RPC struct{ core *core }

var _ meshmap.RPCChannel = (*RPC)(nil)

func (r *RPC) Bind(responder meshmap.RPCResponder) {
	r.core.mu.Lock()
	defer r.core.mu.Unlock()
	r.core.responder = responder
}

// Send synchronously calls each destination's bound responder, honoring
// FirstReply (return on the first successful reply) or AllReply (wait
// for every destination, up to timeout).
func (r *RPC) Send(to []meshmap.MemberID, msg *meshmap.Message, mode meshmap.RPCMode, opts meshmap.SendOptions, timeout time.Duration) ([]meshmap.Reply, error) {
	if len(to) == 0 {
		return nil, nil
	}

	type result struct {
		reply meshmap.Reply
		ok    bool
	}
	results := make(chan result, len(to))

	for _, id := range to {
		id := id
		go func() {
			dest, ok := r.core.hub.lookup(id)
			if !ok {
				results <- result{}
				return
			}
			dest.mu.Lock()
			responder := dest.responder
			dest.mu.Unlock()
			if responder == nil {
				results <- result{}
				return
			}
			reply, err := responder.ReplyRequest(msg, r.core.id)
			if err != nil || reply == nil {
				results <- result{}
				return
			}
			results <- result{reply: meshmap.Reply{Source: id, Message: reply}, ok: true}
		}()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var out []meshmap.Reply
	var faulty []meshmap.MemberID
	for i := 0; i < len(to); i++ {
		select {
		case res := <-results:
			if !res.ok {
				continue
			}
			out = append(out, res.reply)
			if mode == meshmap.FirstReply {
				return out, nil
			}
		case <-timer.C:
			if len(out) > 0 {
				return out, nil
			}
			return nil, &meshmap.FaultyMembers{Err: meshmap.ErrNoReply, Members: append(faulty, to...)}
		}
	}
	if len(out) == 0 {
		return nil, meshmap.ErrNoReply
	}
	return out, nil
}
