// Package httpchan is the real meshmap.Channel/meshmap.RPCChannel
// transport: one-way sends and RPC calls both travel as gob-encoded
// envelopes over plain HTTP POSTs, grounded on the teacher's
// pkg/node/handlers.go Forward (http.NewRequestWithContext +
// http.DefaultClient.Do + io.Copy of the response body) and
// cmd/server/main.go's mux wiring. Peer addresses come from
// pkg/discovery; httpchan only knows "member id -> base URL", not etcd.
package httpchan

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ryandielhenn/meshmap/pkg/meshmap"
)

const (
	sendPath = "/meshmap/send"
	rpcPath  = "/meshmap/rpc"
)

// envelope is the wire format for both endpoints: the map context id
// travels alongside the message so one HTTP listener can serve several
// independent Map contexts.
type envelope struct {
	MapID []byte
	Msg   *meshmap.Message
}

// Transport is one node's HTTP-based view of the cluster: an address
// book of peers (kept current by the caller via UpdatePeers, typically
// fed by pkg/discovery.WatchPeers) and the HTTP client used to reach
// them. A single Transport can back several map contexts; each gets its
// own Channel/RPC pair scoped to its own listeners via MapContext.
type Transport struct {
	self   meshmap.MemberID
	client *http.Client

	mu    sync.RWMutex
	peers map[meshmap.MemberID]string // member id -> base URL, e.g. "http://10.0.0.2:8080"

	ctxMu    sync.Mutex
	contexts map[string]*mapContext
}

// New returns a Transport for the local node, reachable at selfAddr
// (used verbatim as this node's MemberID).
func New(selfAddr string) *Transport {
	return &Transport{
		self:     meshmap.MemberID(selfAddr),
		client:   &http.Client{Timeout: 10 * time.Second},
		peers:    make(map[meshmap.MemberID]string),
		contexts: make(map[string]*mapContext),
	}
}

func (t *Transport) Self() meshmap.MemberID { return t.self }

// UpdatePeers replaces the known peer set with addrs (member id -> base
// URL) and fires MemberAdded/MemberDisappeared against every map
// context's MembershipListeners for whatever changed. Meant to be called
// from a pkg/discovery.WatchPeers loop.
func (t *Transport) UpdatePeers(addrs map[meshmap.MemberID]string) {
	t.mu.Lock()
	added := make([]meshmap.MemberID, 0)
	removed := make([]meshmap.MemberID, 0)
	for id := range addrs {
		if _, ok := t.peers[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range t.peers {
		if _, ok := addrs[id]; !ok {
			removed = append(removed, id)
		}
	}
	t.peers = addrs
	t.mu.Unlock()

	for _, ctx := range t.snapshotContexts() {
		for _, id := range added {
			ctx.fireMemberAdded(id)
		}
		for _, id := range removed {
			ctx.fireMemberDisappeared(id)
		}
	}
}

func (t *Transport) peerAddr(id meshmap.MemberID) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	addr, ok := t.peers[id]
	return addr, ok
}

func (t *Transport) peerIDs() []meshmap.MemberID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]meshmap.MemberID, 0, len(t.peers))
	for id := range t.peers {
		out = append(out, id)
	}
	return out
}

func (t *Transport) snapshotContexts() []*mapContext {
	t.ctxMu.Lock()
	defer t.ctxMu.Unlock()
	out := make([]*mapContext, 0, len(t.contexts))
	for _, c := range t.contexts {
		out = append(out, c)
	}
	return out
}

// MapContext returns the Channel/RPC pair for a map context id, creating
// it on first use.
func (t *Transport) MapContext(mapID string) (*Channel, *RPC) {
	t.ctxMu.Lock()
	defer t.ctxMu.Unlock()
	c, ok := t.contexts[mapID]
	if !ok {
		c = &mapContext{transport: t, mapID: []byte(mapID)}
		t.contexts[mapID] = c
	}
	return &Channel{ctx: c}, &RPC{ctx: c}
}

// Handler returns the http.Handler that must be mounted so peers can
// reach this node. It registers the full sendPath/rpcPath on its own mux
// and peers always post to those paths, so it must receive those request
// paths unchanged (e.g. mux.Handle("/meshmap/", t.Handler())).
func (t *Transport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(sendPath, t.handleSend)
	mux.HandleFunc(rpcPath, t.handleRPC)
	return mux
}

func (t *Transport) handleSend(w http.ResponseWriter, r *http.Request) {
	env, sender, err := decodeEnvelope(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx := t.lookupContext(env.MapID)
	if ctx == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	go ctx.deliver(env.Msg, sender)
	w.WriteHeader(http.StatusNoContent)
}

func (t *Transport) handleRPC(w http.ResponseWriter, r *http.Request) {
	env, sender, err := decodeEnvelope(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx := t.lookupContext(env.MapID)
	if ctx == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	responder := ctx.boundResponder()
	if responder == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	reply, err := responder.ReplyRequest(env.Msg, sender)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if reply == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/gob")
	if err := gob.NewEncoder(w).Encode(envelope{MapID: env.MapID, Msg: reply}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func decodeEnvelope(r *http.Request) (envelope, meshmap.MemberID, error) {
	defer r.Body.Close()
	var env envelope
	if err := gob.NewDecoder(r.Body).Decode(&env); err != nil {
		return envelope{}, "", fmt.Errorf("httpchan: decode envelope: %w", err)
	}
	sender := meshmap.MemberID(r.Header.Get("X-Meshmap-Sender"))
	return env, sender, nil
}

func (t *Transport) lookupContext(mapID []byte) *mapContext {
	t.ctxMu.Lock()
	defer t.ctxMu.Unlock()
	c, ok := t.contexts[string(mapID)]
	if !ok {
		return nil
	}
	return c
}

func (t *Transport) postEnvelope(ctx context.Context, addr string, env envelope) (*http.Response, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/gob")
	req.Header.Set("X-Meshmap-Sender", string(t.self))
	return t.client.Do(req)
}

// mapContext holds the listeners/responder for one map id, shared by the
// Channel and RPC views handed out through MapContext.
type mapContext struct {
	transport *Transport
	mapID     []byte

	mu        sync.Mutex
	chanLis   []meshmap.ChannelListener
	memberLis []meshmap.MembershipListener
	responder meshmap.RPCResponder
}

func (c *mapContext) boundResponder() meshmap.RPCResponder {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responder
}

func (c *mapContext) deliver(msg *meshmap.Message, sender meshmap.MemberID) {
	c.mu.Lock()
	listeners := append([]meshmap.ChannelListener(nil), c.chanLis...)
	c.mu.Unlock()
	for _, l := range listeners {
		if l.Accept(msg, sender) {
			l.MessageReceived(msg, sender)
		}
	}
}

func (c *mapContext) fireMemberAdded(id meshmap.MemberID) {
	c.mu.Lock()
	listeners := append([]meshmap.MembershipListener(nil), c.memberLis...)
	c.mu.Unlock()
	for _, l := range listeners {
		l.MemberAdded(id)
	}
}

func (c *mapContext) fireMemberDisappeared(id meshmap.MemberID) {
	c.mu.Lock()
	listeners := append([]meshmap.MembershipListener(nil), c.memberLis...)
	c.mu.Unlock()
	for _, l := range listeners {
		l.MemberDisappeared(id)
	}
}

// Channel implements meshmap.Channel over HTTP.
type Channel struct{ ctx *mapContext }

var _ meshmap.Channel = (*Channel)(nil)

func (c *Channel) LocalMember() meshmap.MemberID { return c.ctx.transport.self }

func (c *Channel) Members() []meshmap.MemberID { return c.ctx.transport.peerIDs() }

// Send POSTs msg to sendPath on every destination, one goroutine per
// peer, and does not wait for the response body — mirroring the
// teacher's Forward, which is fire-and-proxy rather than request/reply.
func (c *Channel) Send(to []meshmap.MemberID, msg *meshmap.Message, opts meshmap.SendOptions) error {
	env := envelope{MapID: c.ctx.mapID, Msg: msg}
	for _, id := range to {
		addr, ok := c.ctx.transport.peerAddr(id)
		if !ok {
			continue
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			resp, err := c.ctx.transport.postEnvelope(ctx, addr+sendPath, env)
			if err != nil {
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()
	}
	return nil
}

func (c *Channel) AddChannelListener(l meshmap.ChannelListener) {
	c.ctx.mu.Lock()
	defer c.ctx.mu.Unlock()
	c.ctx.chanLis = append(c.ctx.chanLis, l)
}

func (c *Channel) RemoveChannelListener(l meshmap.ChannelListener) {
	c.ctx.mu.Lock()
	defer c.ctx.mu.Unlock()
	for i, x := range c.ctx.chanLis {
		if x == l {
			c.ctx.chanLis = append(c.ctx.chanLis[:i], c.ctx.chanLis[i+1:]...)
			return
		}
	}
}

func (c *Channel) AddMembershipListener(l meshmap.MembershipListener) {
	c.ctx.mu.Lock()
	defer c.ctx.mu.Unlock()
	c.ctx.memberLis = append(c.ctx.memberLis, l)
}

func (c *Channel) RemoveMembershipListener(l meshmap.MembershipListener) {
	c.ctx.mu.Lock()
	defer c.ctx.mu.Unlock()
	for i, x := range c.ctx.memberLis {
		if x == l {
			c.ctx.memberLis = append(c.ctx.memberLis[:i], c.ctx.memberLis[i+1:]...)
			return
		}
	}
}

// RPC implements meshmap.RPCChannel over HTTP: POST to rpcPath and
// decode the gob-encoded reply body, fanning FirstReply/AllReply out
// across goroutines like pkg/transport/local's RPC does, just with a
// network call instead of a direct responder invocation.
type RPC struct{ ctx *mapContext }

var _ meshmap.RPCChannel = (*RPC)(nil)

func (r *RPC) Bind(responder meshmap.RPCResponder) {
	r.ctx.mu.Lock()
	defer r.ctx.mu.Unlock()
	r.ctx.responder = responder
}

func (r *RPC) Send(to []meshmap.MemberID, msg *meshmap.Message, mode meshmap.RPCMode, opts meshmap.SendOptions, timeout time.Duration) ([]meshmap.Reply, error) {
	if len(to) == 0 {
		return nil, nil
	}
	env := envelope{MapID: r.ctx.mapID, Msg: msg}

	type result struct {
		reply meshmap.Reply
		ok    bool
	}
	results := make(chan result, len(to))

	callCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for _, id := range to {
		id := id
		go func() {
			addr, ok := r.ctx.transport.peerAddr(id)
			if !ok {
				results <- result{}
				return
			}
			resp, err := r.ctx.transport.postEnvelope(callCtx, addr+rpcPath, env)
			if err != nil {
				results <- result{}
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusNoContent {
				results <- result{}
				return
			}
			var respEnv envelope
			if err := gob.NewDecoder(resp.Body).Decode(&respEnv); err != nil {
				results <- result{}
				return
			}
			results <- result{reply: meshmap.Reply{Source: id, Message: respEnv.Msg}, ok: true}
		}()
	}

	var out []meshmap.Reply
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
		case <-callCtx.Done():
			if len(out) > 0 {
				return out, nil
			}
			return nil, &meshmap.FaultyMembers{Err: meshmap.ErrNoReply, Members: to}
		}
	}
	if len(out) == 0 {
		return nil, meshmap.ErrNoReply
	}
	return out, nil
}
