package meshmap

import (
	"sync"
	"time"
)

// Membership is the map-scoped registry of peers that have announced
// themselves on this map context (spec.md §3's component C) — distinct
// from whatever broader membership the Channel itself tracks. It is a
// plain map[MemberID]time.Time guarded by one mutex, reproducing the
// original's "HashMap<Member,Long> mapMembers" guarded by its own
// monitor; there's no third-party structure that improves on that.
type Membership struct {
	mu       sync.Mutex
	local    MemberID
	lastSeen map[MemberID]time.Time
	cursor   int // currentNode, advanced under mu
}

func NewMembership(local MemberID) *Membership {
	return &Membership{
		local:    local,
		lastSeen: make(map[MemberID]time.Time),
	}
}

// Add records that m is alive, refreshing its timestamp. It is always a
// no-op for the local member: the local node is never a member of its
// own membership registry, which is what guarantees PROXY announcements
// computed as "every live member except the backups" can never include
// self (spec.md §9's first Open Question).
func (c *Membership) Add(m MemberID) (added bool) {
	if m == c.local || m == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, existed := c.lastSeen[m]
	c.lastSeen[m] = time.Now()
	return !existed
}

// Touch refreshes m's timestamp but only if m is already a member (used
// by the PING STATETRANSFERRED grace case, which shouldn't add a member
// that never announced itself).
func (c *Membership) Touch(m MemberID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lastSeen[m]; ok {
		c.lastSeen[m] = time.Now()
	}
}

// Remove deletes m, reporting whether it had been present.
func (c *Membership) Remove(m MemberID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, existed := c.lastSeen[m]
	delete(c.lastSeen, m)
	return existed
}

func (c *Membership) Contains(m MemberID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.lastSeen[m]
	return ok
}

// Members returns a snapshot of the currently known live peers.
func (c *Membership) Members() []MemberID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]MemberID, 0, len(c.lastSeen))
	for m := range c.lastSeen {
		out = append(out, m)
	}
	return out
}

// ExcludingSelfAnd returns the current members minus those listed in
// exclude. Self is never present to begin with (see Add), so there is no
// separate self-guard needed here.
func (c *Membership) ExcludingSelfAnd(exclude []MemberID) []MemberID {
	skip := make(map[MemberID]struct{}, len(exclude))
	for _, m := range exclude {
		skip[m] = struct{}{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]MemberID, 0, len(c.lastSeen))
	for m := range c.lastSeen {
		if _, excluded := skip[m]; !excluded {
			out = append(out, m)
		}
	}
	return out
}

// EvictStale removes, and returns, every member whose last-heard age
// exceeds timeout.
func (c *Membership) EvictStale(timeout time.Duration) []MemberID {
	now := time.Now()
	c.mu.Lock()
	var stale []MemberID
	for m, last := range c.lastSeen {
		if now.Sub(last) > timeout {
			stale = append(stale, m)
		}
	}
	for _, m := range stale {
		delete(c.lastSeen, m)
	}
	c.mu.Unlock()
	return stale
}

// NextBackupIndex implements the exact round-robin tie-break spec.md §4.4
// requires to be reproduced bit-for-bit: read size, take node =
// cursor++; if node >= size, wrap to 0 and reset cursor to 1. Returns -1
// if there are no members at all.
func (c *Membership) NextBackupIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	size := len(c.lastSeen)
	if size == 0 {
		return -1
	}
	node := c.cursor
	c.cursor++
	if node >= size {
		node = 0
		c.cursor = 1
	}
	return node
}

// NextBackupNode picks the next round-robin backup from the current
// membership snapshot. The snapshot order is not significant (map
// iteration order is randomized by Go itself); what matters is that
// repeated calls advance a shared cursor, not that the chosen member is
// deterministic across nodes — spec.md only requires the tie-break
// arithmetic to match, not map ordering.
func (c *Membership) NextBackupNode() (MemberID, bool) {
	members := c.Members()
	idx := c.NextBackupIndex()
	if idx < 0 || len(members) == 0 {
		return "", false
	}
	if idx >= len(members) {
		idx = 0
	}
	return members[idx], true
}

func (c *Membership) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lastSeen)
}
