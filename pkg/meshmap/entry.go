package meshmap

import "sync"

// Entry is the per-key record: a role, a value, and enough routing
// metadata (primary, backup list) to locate the value when this node
// doesn't hold it itself. Entry's own mutex guards every field below —
// role, primary, backups, and the value pointer itself. When the value
// additionally implements Replicable, diff application (the dispatcher's
// BACKUP/COPY handling) and diff emission (Replicate) are serialized by
// the value's own Lock/Unlock, not by the entry's mutex.
type Entry[K comparable, V any] struct {
	mu sync.Mutex

	key   K
	value V
	has   bool // whether value has been set (V may be a non-nilable type)

	role    Role
	primary MemberID
	backups []MemberID
}

// NewEntry builds a PRIMARY entry for a freshly-put key (PRIMARY is the
// Role zero value).
func NewEntry[K comparable, V any](key K, value V) *Entry[K, V] {
	return &Entry[K, V]{key: key, value: value, has: true}
}

// NewEmptyEntry builds an entry with no value yet — used for PROXY
// entries and placeholders created ahead of BACKUP/COPY delivery.
func NewEmptyEntry[K comparable, V any](key K) *Entry[K, V] {
	return &Entry[K, V]{key: key}
}

func (e *Entry[K, V]) Lock()   { e.mu.Lock() }
func (e *Entry[K, V]) Unlock() { e.mu.Unlock() }

func (e *Entry[K, V]) Key() K { return e.key }

// Value returns the current value and whether one has been set. Value()
// takes the entry lock itself, so it must not be called with the lock
// held; use Snapshot when value and metadata must be read together.
func (e *Entry[K, V]) Value() (V, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value, e.has
}

// SetValue replaces the value wholesale (a full-value BACKUP/COPY
// delivery, or a local Put/promotion).
func (e *Entry[K, V]) SetValue(v V) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value = v
	e.has = true
}

func (e *Entry[K, V]) Role() Role {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role
}

func (e *Entry[K, V]) SetRole(r Role) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.role = r
}

// IsPrimary reports role == RolePrimary, i.e. none of backup/proxy/copy
// is set — the at-most-one-role-flag invariant from spec.md §3.
func (e *Entry[K, V]) IsPrimary() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role == RolePrimary
}

// Active reports whether this entry should be visible through the
// filtered views (size/values/entrySet/keySet) — every role except proxy.
func (e *Entry[K, V]) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role.Active()
}

func (e *Entry[K, V]) Primary() MemberID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.primary
}

func (e *Entry[K, V]) SetPrimary(m MemberID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.primary = m
}

// Backups returns a copy of the backup list.
func (e *Entry[K, V]) Backups() []MemberID {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]MemberID, len(e.backups))
	copy(out, e.backups)
	return out
}

func (e *Entry[K, V]) SetBackups(b []MemberID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.backups = append([]MemberID(nil), b...)
}

// Snapshot captures role/primary/backups/value/has under one lock
// acquisition, for call sites that need a consistent view (replicate(),
// the dispatcher).
type Snapshot[K comparable, V any] struct {
	Key     K
	Value   V
	Has     bool
	Role    Role
	Primary MemberID
	Backups []MemberID
}

func (e *Entry[K, V]) Snapshot() Snapshot[K, V] {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot[K, V]{
		Key:     e.key,
		Value:   e.value,
		Has:     e.has,
		Role:    e.role,
		Primary: e.primary,
		Backups: append([]MemberID(nil), e.backups...),
	}
}

// SetRouting assigns role/primary/backups in one lock acquisition.
func (e *Entry[K, V]) SetRouting(role Role, primary MemberID, backups []MemberID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.role = role
	e.primary = primary
	e.backups = append([]MemberID(nil), backups...)
}
