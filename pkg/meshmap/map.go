package meshmap

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Map is a cluster-replicated key/value map. See doc.go for the model and
// spec.md for the full protocol this implements.
type Map[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]*Entry[K, V]

	mapName string
	mapID   []byte

	channel  Channel
	rpc      RPCChannel
	owner    MapOwner
	keyCodec Codec[K]
	valCodec Codec[V]

	rpcTimeout    time.Duration
	accessTimeout time.Duration
	sendOpts      SendOptions
	useStateCopy  bool
	terminate     bool

	membership *Membership
	stateMu    sync.Mutex

	state atomic.Uint32 // LifecycleState

	log     *zap.Logger
	metrics Metrics

	equalFn func(a, b V) bool
}

// Option configures a Map at construction time.
type Option[K comparable, V any] func(*Map[K, V])

func WithRPCTimeout[K comparable, V any](d time.Duration) Option[K, V] {
	return func(m *Map[K, V]) { m.rpcTimeout = d }
}

func WithAccessTimeout[K comparable, V any](d time.Duration) Option[K, V] {
	return func(m *Map[K, V]) { m.accessTimeout = d }
}

func WithChannelSendOptions[K comparable, V any](o SendOptions) Option[K, V] {
	return func(m *Map[K, V]) { m.sendOpts = o }
}

func WithOwner[K comparable, V any](owner MapOwner) Option[K, V] {
	return func(m *Map[K, V]) { m.owner = owner }
}

func WithLogger[K comparable, V any](l *zap.Logger) Option[K, V] {
	return func(m *Map[K, V]) {
		if l != nil {
			m.log = l
		}
	}
}

func WithMetrics[K comparable, V any](metrics Metrics) Option[K, V] {
	return func(m *Map[K, V]) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithStateCopy makes transferState() request full-value STATE_COPY
// snapshots instead of locator-only STATE snapshots.
func WithStateCopy[K comparable, V any](copy bool) Option[K, V] {
	return func(m *Map[K, V]) { m.useStateCopy = copy }
}

// WithTerminateOnInitFailure makes New tear the map down and return an
// error if init() fails to broadcast INIT or START, instead of logging and
// continuing in state NEW.
func WithTerminateOnInitFailure[K comparable, V any](terminate bool) Option[K, V] {
	return func(m *Map[K, V]) { m.terminate = terminate }
}

// WithEqual supplies a value-equality function for ContainsValue when V is
// not safely comparable with ==.
func WithEqual[K comparable, V any](eq func(a, b V) bool) Option[K, V] {
	return func(m *Map[K, V]) { m.equalFn = eq }
}

// New constructs a Map, registers it against channel/rpc, and runs the
// init sequence (broadcast INIT, transfer state, broadcast START) before
// returning. mapContext is the map context id (spec.md §3); it is stored
// 8-bit-clean so several independent maps can share one channel.
func New[K comparable, V any](channel Channel, rpc RPCChannel, keyCodec Codec[K], valCodec Codec[V], mapContext string, opts ...Option[K, V]) (*Map[K, V], error) {
	m := &Map[K, V]{
		entries:       make(map[K]*Entry[K, V]),
		mapName:       mapContext,
		mapID:         []byte(mapContext),
		channel:       channel,
		rpc:           rpc,
		keyCodec:      keyCodec,
		valCodec:      valCodec,
		rpcTimeout:    5 * time.Second,
		accessTimeout: 5 * time.Second,
		sendOpts:      SendOptionsDefault,
		membership:    NewMembership(channel.LocalMember()),
		log:           zap.NewNop(),
		metrics:       noopMetrics{},
	}
	for _, o := range opts {
		o(m)
	}
	if err := m.init(); err != nil {
		return nil, err
	}
	return m, nil
}

// wrap turns a single member id into a one-element destination slice,
// or an empty slice for the zero MemberID — mirroring the original's
// Member[] wrap(Member) helper.
func wrap(id MemberID) []MemberID {
	if id == "" {
		return nil
	}
	return []MemberID{id}
}

func (m *Map[K, V]) String() string {
	return fmt.Sprintf("Map[%s]", m.mapName)
}

// Equal compares two maps by context id, not contents — reproducing the
// original's hashCode/equals (defined over mapContextName).
func (m *Map[K, V]) Equal(other *Map[K, V]) bool {
	if other == nil {
		return false
	}
	return string(m.mapID) == string(other.mapID)
}

func (m *Map[K, V]) getInternal(key K) (*Entry[K, V], bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return e, ok
}

func (m *Map[K, V]) putIfAbsent(key K, e *Entry[K, V]) *Entry[K, V] {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.entries[key]; ok {
		return existing
	}
	m.entries[key] = e
	return e
}

func (m *Map[K, V]) putEntry(key K, e *Entry[K, V]) {
	m.mu.Lock()
	m.entries[key] = e
	n := len(m.entries)
	m.mu.Unlock()
	m.metrics.SetEntries(n)
}

func (m *Map[K, V]) removeEntry(key K) (*Entry[K, V], bool) {
	m.mu.Lock()
	e, ok := m.entries[key]
	delete(m.entries, key)
	n := len(m.entries)
	m.mu.Unlock()
	m.metrics.SetEntries(n)
	return e, ok
}

func (m *Map[K, V]) snapshotKeys() []K {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]K, 0, len(m.entries))
	for k := range m.entries {
		out = append(out, k)
	}
	return out
}

// ------------------------------------------------------------------
// Local operations (spec.md §4.3, §6)
// ------------------------------------------------------------------

// Put stores value under key, notifying the cluster (choosing a backup
// and publishing BACKUP/PROXY) unless notify is false.
func (m *Map[K, V]) Put(key K, value V) (V, bool) {
	return m.put(key, value, true)
}

func (m *Map[K, V]) PutNotify(key K, value V, notify bool) (V, bool) {
	return m.put(key, value, notify)
}

func (m *Map[K, V]) put(key K, value V, notify bool) (V, bool) {
	var old V
	var hadOld bool
	if _, exists := m.getInternal(key); exists {
		old, hadOld = m.remove(key, notify)
	}

	entry := NewEntry[K, V](key, value)
	entry.SetPrimary(m.channel.LocalMember())

	if notify {
		backups, err := m.publishEntryInfo(key, value)
		if err != nil {
			m.log.Error("unable to publish entry info for put", zap.Any("key", key), zap.Error(err))
		}
		entry.SetBackups(backups)
	}
	m.putEntry(key, entry)
	m.metrics.IncRoleTransition("PRIMARY")
	return old, hadOld
}

// PutAll puts every entry of src, each notifying the cluster.
func (m *Map[K, V]) PutAll(src map[K]V) {
	for k, v := range src {
		m.Put(k, v)
	}
}

// Remove deletes key locally and, if notify and there are live peers,
// best-effort broadcasts REMOVE.
func (m *Map[K, V]) Remove(key K) (V, bool) {
	return m.remove(key, true)
}

func (m *Map[K, V]) RemoveNotify(key K, notify bool) (V, bool) {
	return m.remove(key, notify)
}

func (m *Map[K, V]) remove(key K, notify bool) (V, bool) {
	entry, existed := m.removeEntry(key)

	if notify && m.membership.Len() > 0 {
		encKey, err := m.keyCodec.Encode(key)
		if err != nil {
			m.log.Error("unable to encode key for remove", zap.Error(err))
		} else {
			msg := &Message{MapID: m.mapID, Type: MsgRemove, KeyRaw: encKey}
			if err := m.channel.Send(m.membership.Members(), msg, m.sendOpts); err != nil {
				m.log.Error("unable to send remove", zap.Error(err))
			}
		}
	}
	if !existed {
		var zero V
		return zero, false
	}
	v, has := entry.Value()
	return v, has
}

// Get returns the value for key. If the local entry is not PRIMARY, Get
// promotes it first per spec.md §4.3's three promotion paths
// (BACKUP->PRIMARY, PROXY->PRIMARY, COPY->PRIMARY).
func (m *Map[K, V]) Get(key K) (V, bool) {
	entry, ok := m.getInternal(key)
	if !ok {
		var zero V
		return zero, false
	}
	if entry.IsPrimary() {
		return entry.Value()
	}
	if err := m.promote(key, entry); err != nil {
		m.log.Error("unable to promote entry on get", zap.Any("key", key), zap.Error(err))
		var zero V
		return zero, false
	}
	return entry.Value()
}

// ContainsKey is true for any role, including PROXY — a lookup hint.
func (m *Map[K, V]) ContainsKey(key K) bool {
	_, ok := m.getInternal(key)
	return ok
}

// ContainsValue scans active entries for a value match. Per spec.md §9,
// this is advisory: no per-entry lock is held across the whole scan, so
// a concurrent mutation can make the answer stale the instant it's
// returned.
func (m *Map[K, V]) ContainsValue(value V) bool {
	eq := m.valueEqual
	for _, k := range m.snapshotKeys() {
		entry, ok := m.getInternal(k)
		if !ok || !entry.Active() {
			continue
		}
		v, has := entry.Value()
		if has && eq(v, value) {
			return true
		}
	}
	return false
}

func (m *Map[K, V]) valueEqual(a, b V) bool {
	if m.equalFn != nil {
		return m.equalFn(a, b)
	}
	if eq, ok := any(a).(interface{ Equal(V) bool }); ok {
		return eq.Equal(b)
	}
	return any(a) == any(b)
}

// Size counts active entries with a value set.
func (m *Map[K, V]) Size() int {
	n := 0
	for _, k := range m.snapshotKeys() {
		entry, ok := m.getInternal(k)
		if !ok {
			continue
		}
		snap := entry.Snapshot()
		if snap.Role.Active() && snap.Has {
			n++
		}
	}
	return n
}

func (m *Map[K, V]) IsEmpty() bool { return m.Size() == 0 }

// KeySet returns keys of active entries only.
func (m *Map[K, V]) KeySet() []K {
	var out []K
	for _, k := range m.snapshotKeys() {
		entry, ok := m.getInternal(k)
		if ok && entry.Active() {
			out = append(out, k)
		}
	}
	return out
}

// Values returns values of active, non-empty entries.
func (m *Map[K, V]) Values() []V {
	var out []V
	for _, k := range m.snapshotKeys() {
		entry, ok := m.getInternal(k)
		if !ok {
			continue
		}
		snap := entry.Snapshot()
		if snap.Role.Active() && snap.Has {
			out = append(out, snap.Value)
		}
	}
	return out
}

// EntryView is a read-only snapshot returned by EntrySet/EntrySetFull.
type EntryView[K comparable, V any] struct {
	Key   K
	Value V
	Role  Role
}

func (m *Map[K, V]) EntrySet() []EntryView[K, V] {
	var out []EntryView[K, V]
	for _, k := range m.snapshotKeys() {
		entry, ok := m.getInternal(k)
		if !ok {
			continue
		}
		snap := entry.Snapshot()
		if snap.Role.Active() && snap.Has {
			out = append(out, EntryView[K, V]{Key: k, Value: snap.Value, Role: snap.Role})
		}
	}
	return out
}

// KeySetFull, EntrySetFull, SizeFull expose every entry including
// PROXY/BACKUP/COPY — spec.md §6's unfiltered views.
func (m *Map[K, V]) KeySetFull() []K {
	return m.snapshotKeys()
}

func (m *Map[K, V]) EntrySetFull() []EntryView[K, V] {
	var out []EntryView[K, V]
	for _, k := range m.snapshotKeys() {
		entry, ok := m.getInternal(k)
		if !ok {
			continue
		}
		snap := entry.Snapshot()
		out = append(out, EntryView[K, V]{Key: k, Value: snap.Value, Role: snap.Role})
	}
	return out
}

func (m *Map[K, V]) SizeFull() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Clear removes every key. With notify=true it follows spec.md §9's
// observed (not "fixed") behavior: it iterates KeySet() (active entries
// only) and calls Remove per key, so PROXY/BACKUP/COPY entries on this
// node are left behind untouched. With notify=false it drops local
// storage outright.
func (m *Map[K, V]) Clear(notify bool) {
	if !notify {
		m.mu.Lock()
		m.entries = make(map[K]*Entry[K, V])
		m.mu.Unlock()
		m.metrics.SetEntries(0)
		return
	}
	for _, k := range m.KeySet() {
		m.Remove(k)
	}
}

// DebugString formats the map's contents for diagnostics — the original
// debug dumper, reproduced without the direct stdout write (spec.md §5
// expansion; a library shouldn't print unbidden).
func (m *Map[K, V]) DebugString() string {
	s := fmt.Sprintf("Map[%s] size=%d members=%v\n", m.mapName, m.SizeFull(), m.membership.Members())
	for _, k := range m.snapshotKeys() {
		entry, ok := m.getInternal(k)
		if !ok {
			continue
		}
		snap := entry.Snapshot()
		s += fmt.Sprintf("  %v role=%s primary=%s backups=%v value=%v\n", k, snap.Role, snap.Primary, snap.Backups, snap.Value)
	}
	return s
}
