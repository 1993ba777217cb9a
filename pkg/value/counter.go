package value

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/ryandielhenn/meshmap/pkg/meshmap"
)

// Counter is a diffable meshmap.Replicable value: an integer
// accumulator that ships only the delta accrued since its last
// replication instead of its whole running total. It demonstrates the
// diff path spec.md §4.2/§5 describes, in the spirit of the pack's
// G-Counter accumulator shape — but deliberately without CRDT merge
// semantics: ApplyDiff adds the incoming delta to the local total
// directly, because in this protocol a BACKUP/COPY always has exactly
// one writer (the current primary), so there is never a concurrent
// write to reconcile (see SPEC_FULL.md §4.2 for why CRDT merge would be
// the wrong model here).
type Counter struct {
	mu    sync.Mutex
	total int64
	delta int64
	dirty bool

	lastAccessedMillis    int64
	lastReplicatedMillis  int64
	owner                 meshmap.MapOwner
}

// NewCounter returns a Counter starting at zero.
func NewCounter() *Counter { return &Counter{} }

// Add increments the counter by delta (delta may be negative) and marks
// it dirty for the next replicate() pass.
func (c *Counter) Add(delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total += delta
	c.delta += delta
	c.dirty = true
}

// Total returns the current running total.
func (c *Counter) Total() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// ------------------------------------------------------------------
// meshmap.Replicable
// ------------------------------------------------------------------

func (c *Counter) Lock()   { c.mu.Lock() }
func (c *Counter) Unlock() { c.mu.Unlock() }

func (c *Counter) IsDiffable() bool { return true }

// IsDirty must be called with Lock held (replicate() takes the lock
// around its IsDirty check).
func (c *Counter) IsDirty() bool { return c.dirty }

// IsAccessReplicate is always false: a read of a counter doesn't need to
// tell backups anything they don't already have.
func (c *Counter) IsAccessReplicate() bool { return false }

// GetDiff returns the accumulated delta as 8 bytes of big-endian int64.
// Must be called with Lock held.
func (c *Counter) GetDiff() ([]byte, error) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(c.delta))
	return buf, nil
}

// ResetDiff clears the accumulated delta after it has been sent. Must be
// called with Lock held.
func (c *Counter) ResetDiff() {
	c.delta = 0
	c.dirty = false
}

// ApplyDiff adds the incoming delta to the local total. Must be called
// with Lock held.
func (c *Counter) ApplyDiff(data []byte) error {
	if len(data) != 8 {
		return nil
	}
	d := int64(binary.BigEndian.Uint64(data))
	c.total += d
	return nil
}

func (c *Counter) SetOwner(owner meshmap.MapOwner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owner = owner
}

func (c *Counter) AccessEntry() {
	// Access timestamps aren't replicated (IsAccessReplicate is false);
	// tracked locally only for diagnostics.
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastAccessedMillis = time.Now().UnixMilli()
}

func (c *Counter) SetLastTimeReplicated(unixMillis int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastReplicatedMillis = unixMillis
}

var _ meshmap.Replicable = (*Counter)(nil)
