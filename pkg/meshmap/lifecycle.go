package meshmap

import (
	"time"

	"go.uber.org/zap"
)

// init runs the boot sequence from spec.md §4.7: register as channel
// listener / membership listener / RPC responder, broadcast INIT,
// transfer state, broadcast START, move to INITIALIZED. Failures are
// logged; if m.terminate is set, init tears the map down and returns a
// LifecycleError instead of settling for state NEW.
func (m *Map[K, V]) init() error {
	start := time.Now()
	m.log.Info("map init starting", zap.String("map", m.mapName))

	m.channel.AddChannelListener(m)
	m.channel.AddMembershipListener(m)
	m.rpc.Bind(m)

	if err := m.broadcast(MsgInit, true); err != nil {
		m.log.Warn("unable to broadcast INIT", zap.Error(err))
		if m.terminate {
			m.breakdown()
			return &LifecycleError{Cause: err}
		}
	}

	m.transferState()

	if err := m.broadcast(MsgStart, true); err != nil {
		m.log.Warn("unable to broadcast START", zap.Error(err))
		if m.terminate {
			m.breakdown()
			return &LifecycleError{Cause: err}
		}
	}

	m.state.Store(uint32(StateInitialized))
	m.log.Info("map init completed", zap.String("map", m.mapName), zap.Duration("elapsed", time.Since(start)))
	return nil
}

// broadcast is the INIT/START broadcast helper (spec.md §4.7): sends to
// every channel member, waiting (ALL_REPLY) for each one to answer so
// every reachable peer is learned about, feeding every responder through
// mapMemberAdded and dispatching its reply as though it were received.
func (m *Map[K, V]) broadcast(msgType MsgType, rpc bool) error {
	members := m.channel.Members()
	if len(members) == 0 {
		return nil
	}
	msg := &Message{MapID: m.mapID, Type: msgType, Primary: m.channel.LocalMember()}
	if !rpc {
		return m.channel.Send(members, msg, m.sendOpts)
	}
	replies, err := m.rpc.Send(members, msg, AllReply, m.sendOpts, m.rpcTimeout)
	if err != nil {
		return err
	}
	if len(replies) == 0 {
		m.log.Warn("broadcast got no replies", zap.Stringer("type", msgType))
		return nil
	}
	for _, r := range replies {
		m.mapMemberAdded(r.Source)
		if r.Message != nil {
			m.MessageReceived(r.Message, r.Source)
		}
	}
	return nil
}

// ping sends PING to every channel member (ALL_REPLY), updating
// membership by reply, then evicts any member whose last-heard time is
// older than timeout (spec.md §4.7's heartbeat).
func (m *Map[K, V]) ping(timeout time.Duration) error {
	msg := &Message{MapID: m.mapID, Type: MsgPing, Primary: m.channel.LocalMember()}
	members := m.channel.Members()
	if len(members) > 0 {
		replies, err := m.rpc.Send(members, msg, AllReply, m.sendOpts, timeout)
		if err != nil {
			var faulty *FaultyMembers
			if asFaultyMembers(err, &faulty) {
				for _, fm := range faulty.Members {
					m.memberDisappeared(fm)
				}
			}
			return err
		}
		for _, r := range replies {
			switch {
			case r.Message.LifecycleState.Available():
				m.memberAlive(r.Source)
			case r.Message.LifecycleState == StateTransferred:
				m.log.Info("ping: peer in state-transferred grace", zap.String("member", string(r.Source)))
				m.membership.Touch(r.Source)
			default:
				m.log.Info("ping: peer unavailable", zap.String("member", string(r.Source)))
			}
		}
	}
	stale := m.membership.EvictStale(timeout)
	for _, s := range stale {
		m.log.Warn("ping timeout, evicting member", zap.String("member", string(s)), zap.String("map", m.mapName))
		m.memberDisappeared(s)
	}
	return nil
}

func asFaultyMembers(err error, target **FaultyMembers) bool {
	fm, ok := err.(*FaultyMembers)
	if ok {
		*target = fm
	}
	return ok
}

// memberAlive records M as alive and runs mapMemberAdded reconciliation.
func (m *Map[K, V]) memberAlive(member MemberID) {
	m.mapMemberAdded(member)
	m.membership.Add(member)
}

// heartbeat calls ping(accessTimeout) if the map is currently available
// (INITIALIZED). Meant to be driven by a caller-owned ticker —
// meshmap does not start its own goroutine for this, matching spec.md §1
// ("logging, configuration ... are consumed" — likewise, scheduling is
// the caller's job; see cmd/meshnode for the ticker that drives this).
func (m *Map[K, V]) Heartbeat() {
	if !LifecycleState(m.state.Load()).Available() {
		return
	}
	if err := m.ping(m.accessTimeout); err != nil {
		m.log.Error("heartbeat failed", zap.Error(err))
	}
	m.metrics.SetMembers(m.membership.Len())
}

// transferState implements spec.md §4.7: pick the first known map
// member, request STATE or STATE_COPY (first reply), and under
// stateMutex apply every returned PROXY/COPY message through the normal
// dispatcher.
func (m *Map[K, V]) transferState() {
	members := m.membership.Members()
	if len(members) == 0 {
		m.state.Store(uint32(StateTransferred))
		return
	}
	backup := members[0]
	msgType := MsgState
	if m.useStateCopy {
		msgType = MsgStateCopy
	}
	req := &Message{MapID: m.mapID, Type: msgType}
	replies, err := m.rpc.Send(wrap(backup), req, FirstReply, m.sendOpts, m.rpcTimeout)
	if err != nil || len(replies) == 0 {
		m.log.Warn("state transfer got no replies", zap.Error(err))
		m.state.Store(uint32(StateTransferred))
		return
	}
	m.stateMu.Lock()
	for _, entryMsg := range replies[0].Message.StateList {
		m.MessageReceived(entryMsg, replies[0].Source)
	}
	m.stateMu.Unlock()
	m.state.Store(uint32(StateTransferred))
}

// breakdown is idempotent: mark DESTROYED, best-effort STOP broadcast,
// deregister from the transport, clear membership and entries.
func (m *Map[K, V]) Breakdown() {
	m.state.Store(uint32(StateDestroyed))
	if err := m.broadcast(MsgStop, false); err != nil {
		m.log.Warn("unable to broadcast STOP", zap.Error(err))
	}
	m.channel.RemoveChannelListener(m)
	m.channel.RemoveMembershipListener(m)
	for _, member := range m.membership.Members() {
		m.membership.Remove(member)
	}
	m.mu.Lock()
	m.entries = make(map[K]*Entry[K, V])
	m.mu.Unlock()
}

func (m *Map[K, V]) breakdown() { m.Breakdown() }

// LifecycleState returns the map's current lifecycle state.
func (m *Map[K, V]) LifecycleState() LifecycleState {
	return LifecycleState(m.state.Load())
}

// ------------------------------------------------------------------
// Membership reconciliation (spec.md §4.6)
// ------------------------------------------------------------------

// mapMemberAdded ignores self, records M if new, and — under stateMutex —
// gives every local PRIMARY entry with an empty backup list a backup by
// calling publishEntryInfo, catching up a newly-seen peer.
func (m *Map[K, V]) mapMemberAdded(member MemberID) {
	if member == "" || member == m.channel.LocalMember() {
		return
	}
	added := m.membership.Add(member)
	m.metrics.SetMembers(m.membership.Len())
	if !added {
		return
	}
	m.log.Info("map member added", zap.String("member", string(member)), zap.String("map", m.mapName))

	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	for _, k := range m.snapshotKeys() {
		entry, ok := m.getInternal(k)
		if !ok {
			continue
		}
		snap := entry.Snapshot()
		if snap.Role == RolePrimary && len(snap.Backups) == 0 {
			backups, err := m.publishEntryInfo(snap.Key, snap.Value)
			if err != nil {
				m.log.Error("unable to select backup for new member", zap.Any("key", snap.Key), zap.Error(err))
			}
			entry.SetBackups(backups)
			entry.SetPrimary(m.channel.LocalMember())
		}
	}
}

// memberDisappeared implements spec.md §4.6's full reconciliation: new
// backup for orphaned primaries, clear primary pointers, garbage-collect
// orphaned proxies, and self-promote backups left without a primary.
func (m *Map[K, V]) memberDisappeared(member MemberID) {
	if !m.membership.Remove(member) {
		return // not a map member; nothing to reconcile
	}
	m.metrics.SetMembers(m.membership.Len())
	start := time.Now()
	m.log.Info("map member disappeared", zap.String("member", string(member)), zap.String("map", m.mapName))

	for _, k := range m.snapshotKeys() {
		entry, ok := m.getInternal(k)
		if !ok {
			continue
		}
		snap := entry.Snapshot()

		if snap.Role == RolePrimary && containsMember(snap.Backups, member) {
			backups, err := m.publishEntryInfo(snap.Key, snap.Value)
			if err != nil {
				m.log.Error("unable to relocate entry", zap.Any("key", snap.Key), zap.Error(err))
			}
			entry.SetBackups(backups)
			entry.SetPrimary(m.channel.LocalMember())
		} else if snap.Primary == member {
			entry.SetPrimary("")
		}

		snap = entry.Snapshot() // re-read after the mutation above

		switch {
		case snap.Role == RoleProxy && snap.Primary == "" && len(snap.Backups) == 1 && snap.Backups[0] == member:
			m.removeEntry(snap.Key) // orphan: no primary, no reachable backup
		case snap.Primary == "" && snap.Role == RoleBackup && len(snap.Backups) == 1 && snap.Backups[0] == m.channel.LocalMember():
			local := m.channel.LocalMember()
			entry.SetRouting(RolePrimary, local, nil)
			backups, err := m.publishEntryInfo(snap.Key, snap.Value)
			if err != nil {
				m.log.Error("unable to relocate entry", zap.Any("key", snap.Key), zap.Error(err))
			}
			entry.SetBackups(backups)
			m.metrics.IncRoleTransition("PRIMARY")
			if m.owner != nil {
				m.owner.ObjectMadePrimary(snap.Key, snap.Value)
			}
		}
	}
	m.log.Info("relocate complete", zap.Duration("elapsed", time.Since(start)), zap.String("map", m.mapName))
}

func containsMember(list []MemberID, m MemberID) bool {
	for _, x := range list {
		if x == m {
			return true
		}
	}
	return false
}

// ------------------------------------------------------------------
// MembershipListener (channel-level, not the map-scoped Membership above)
// ------------------------------------------------------------------

func (m *Map[K, V]) MemberAdded(id MemberID) {
	// Channel-level membership changes don't themselves mean the peer has
	// announced itself on this map context; that only happens via
	// INIT/START/PING, handled in dispatch.go/above. Nothing to do here.
}

func (m *Map[K, V]) MemberDisappeared(id MemberID) {
	m.memberDisappeared(id)
}
