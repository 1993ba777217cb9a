package meshnode

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/ryandielhenn/meshmap/pkg/value"
)

// Healthz returns 200 OK to indicate the node is alive.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Info writes a JSON payload with the process id, current time, and the
// local entry count (SizeFull — every role, not just active/primary).
func (n *Node) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		PID   int       `json:"pid"`
		Now   time.Time `json:"now"`
		Addr  string    `json:"addr"`
		Items int       `json:"items"`
		State string    `json:"state"`
	}
	data, _ := json.Marshal(resp{
		PID:   os.Getpid(),
		Now:   time.Now(),
		Addr:  n.addr,
		Items: n.m.SizeFull(),
		State: n.m.LifecycleState().String(),
	})
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// Put stores the request body under the /kv/<key> path. meshmap.Map.Put
// handles location transparency internally (choosing a backup, notifying
// proxies); there is no owner lookup or forwarding here, unlike the
// ring-based node this package replaces.
func (n *Node) Put(w http.ResponseWriter, req *http.Request) {
	key := req.URL.Path[len("/kv/"):]
	body, err := io.ReadAll(req.Body)
	if err != nil && err.Error() != "EOF" {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n.m.Put(key, value.NewBytes(body))
	w.WriteHeader(http.StatusNoContent)
}

// Get returns the value for a key, promoting the local entry to PRIMARY
// first if needed (meshmap.Map.Get's three promotion paths).
func (n *Node) Get(w http.ResponseWriter, req *http.Request) {
	key := req.URL.Path[len("/kv/"):]
	v, ok := n.m.Get(key)
	if !ok {
		http.NotFound(w, req)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(v.Get())
}

// Del removes a key, best-effort broadcasting REMOVE to the cluster.
func (n *Node) Del(w http.ResponseWriter, req *http.Request) {
	key := req.URL.Path[len("/kv/"):]
	n.m.Remove(key)
	w.WriteHeader(http.StatusNoContent)
}

// Debug dumps the local map contents for operators — adapted from the
// original's println-based debug() into an HTTP-exposed text response.
func (n *Node) Debug(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(n.m.DebugString()))
}
