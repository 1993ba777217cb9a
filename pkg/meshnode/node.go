// Package meshnode wires a meshmap.Map[string, value.Bytes] up to an
// HTTP surface, adapted from the teacher's pkg/node. Unlike the
// teacher's ring-based Node, meshnode never forwards a request to
// another host: meshmap.Map.Get/Put/Remove already give every node
// location-transparent access to any key (promoting a local
// BACKUP/PROXY/COPY entry to PRIMARY as needed), so the owner-lookup +
// Forward dance pkg/node did has no analog here.
package meshnode

import (
	"go.uber.org/zap"

	"github.com/ryandielhenn/meshmap/pkg/meshmap"
	"github.com/ryandielhenn/meshmap/pkg/value"
)

// Node is the HTTP-facing wrapper around one cluster member's map.
type Node struct {
	m    *meshmap.Map[string, value.Bytes]
	addr string
	log  *zap.Logger
}

func New(m *meshmap.Map[string, value.Bytes], addr string, log *zap.Logger) *Node {
	if log == nil {
		log = zap.NewNop()
	}
	return &Node{m: m, addr: addr, log: log}
}

func (n *Node) Addr() string { return n.addr }

func (n *Node) Map() *meshmap.Map[string, value.Bytes] { return n.m }
