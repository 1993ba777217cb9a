// Package discovery is the etcd-backed membership directory meshnode
// uses to find peers: each node registers itself under a lease-backed
// key, and every node watches the same prefix to learn who else is
// alive. It does not know about meshmap.Channel at all — it only hands
// back addresses; pkg/transport/httpchan is what turns "peer appeared at
// this address" into a meshmap.MembershipListener callback.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const nodePrefix = "/meshmap/nodes/"

// Node is one registered cluster member.
type Node struct {
	ID   string
	Addr string
}

// NewClient dials an etcd cluster at the given endpoints.
func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

// RegisterNode puts id->addr under a TTL-second lease and keeps the
// lease alive until ctx is canceled, draining the keepalive response
// channel so the lease's background goroutine doesn't block once no one
// is reading from it. Callers should cancel ctx (and optionally call
// cli.Revoke on the returned lease) on clean shutdown.
func RegisterNode(ctx context.Context, cli *clientv3.Client, id, addr string, ttl int64) (clientv3.LeaseID, error) {
	lease, err := cli.Grant(ctx, ttl)
	if err != nil {
		return 0, fmt.Errorf("discovery: grant lease: %w", err)
	}

	key := nodePrefix + id
	if _, err := cli.Put(ctx, key, addr, clientv3.WithLease(lease.ID)); err != nil {
		return 0, fmt.Errorf("discovery: register node: %w", err)
	}

	keepAlive, err := cli.KeepAlive(ctx, lease.ID)
	if err != nil {
		return 0, fmt.Errorf("discovery: keepalive: %w", err)
	}
	go func() {
		for range keepAlive {
			// drain; etcd's client closes this channel when ctx is done or
			// the lease expires, at which point the range exits.
		}
	}()

	return lease.ID, nil
}

// GetPeers lists every currently-registered node.
func GetPeers(ctx context.Context, cli *clientv3.Client) ([]Node, error) {
	resp, err := cli.Get(ctx, nodePrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("discovery: get peers: %w", err)
	}
	out := make([]Node, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		out = append(out, Node{
			ID:   strings.TrimPrefix(string(kv.Key), nodePrefix),
			Addr: string(kv.Value),
		})
	}
	return out, nil
}

// EventType distinguishes a peer joining from a peer's registration
// expiring or being explicitly removed.
type EventType int

const (
	PeerAdded EventType = iota
	PeerRemoved
)

// WatchPeers streams node add/remove events until ctx is canceled. It
// blocks; callers run it in its own goroutine.
func WatchPeers(ctx context.Context, cli *clientv3.Client, onEvent func(Node, EventType)) {
	watch := cli.Watch(ctx, nodePrefix, clientv3.WithPrefix())
	for resp := range watch {
		for _, ev := range resp.Events {
			n := Node{ID: strings.TrimPrefix(string(ev.Kv.Key), nodePrefix)}
			switch ev.Type {
			case clientv3.EventTypePut:
				n.Addr = string(ev.Kv.Value)
				onEvent(n, PeerAdded)
			case clientv3.EventTypeDelete:
				onEvent(n, PeerRemoved)
			}
		}
	}
}
