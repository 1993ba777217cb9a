package meshmap

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

// promote runs the three Get-time promotion paths from spec.md §4.3.
// On return, if err == nil, entry is PRIMARY, except when a PROXY's
// value could not be fetched from its backups: that entry is left as-is.
func (m *Map[K, V]) promote(key K, entry *Entry[K, V]) error {
	snap := entry.Snapshot()
	switch snap.Role {
	case RoleBackup:
		return m.promoteBackup(key, entry, snap)
	case RoleProxy:
		return m.promoteProxy(key, entry, snap)
	case RoleCopy:
		return m.promoteCopy(key, entry, snap)
	default:
		return nil // already primary (race with a concurrent promotion)
	}
}

func (m *Map[K, V]) finishPromotion(key K, entry *Entry[K, V], backups []MemberID, fired bool) {
	entry.SetRouting(RolePrimary, m.channel.LocalMember(), backups)
	m.metrics.IncRoleTransition("PRIMARY")
	if fired && m.owner != nil {
		v, _ := entry.Value()
		m.owner.ObjectMadePrimary(key, v)
	}
	if v, has := entry.Value(); has {
		if r, ok := any(v).(Replicable); ok {
			r.SetOwner(m.owner)
		}
	}
}

// promoteBackup: BACKUP -> PRIMARY. Choose new backups via
// publishEntryInfo using the existing value.
func (m *Map[K, V]) promoteBackup(key K, entry *Entry[K, V], snap Snapshot[K, V]) error {
	backups, err := m.publishEntryInfo(key, snap.Value)
	if err != nil {
		m.log.Error("unable to select backup on promotion", zap.Any("key", key), zap.Error(err))
	}
	m.finishPromotion(key, entry, backups, true)
	return nil
}

// promoteProxy: PROXY -> PRIMARY. Fetch the value from the current
// backup list (first reply wins), tell the new backups they now back a
// local primary, and announce the new ownership to everyone else.
func (m *Map[K, V]) promoteProxy(key K, entry *Entry[K, V], snap Snapshot[K, V]) error {
	encKey, err := m.keyCodec.Encode(key)
	if err != nil {
		return err
	}
	req := &Message{MapID: m.mapID, Type: MsgRetrieveBackup, KeyRaw: encKey}
	replies, err := m.rpc.Send(snap.Backups, req, FirstReply, m.sendOpts, m.rpcTimeout)
	if err != nil || len(replies) == 0 || replies[0].Message == nil {
		m.log.Warn("unable to retrieve backup value", zap.Any("key", key), zap.Error(err))
		return nil // leave the entry as-is, per spec.md §4.3
	}

	if len(replies[0].Message.ValRaw) > 0 {
		v, err := m.valCodec.Decode(replies[0].Message.ValRaw)
		if err != nil {
			return err
		}
		entry.SetValue(v)
	}

	local := m.channel.LocalMember()
	newBackups := snap.Backups

	notify := &Message{MapID: m.mapID, Type: MsgNotifyMapMember, KeyRaw: encKey, Primary: local, Backups: newBackups}
	if len(newBackups) > 0 {
		if err := m.channel.Send(newBackups, notify, m.sendOpts); err != nil {
			m.log.Error("unable to notify new backups", zap.Error(err))
		}
	}

	proxyMsg := &Message{MapID: m.mapID, Type: MsgProxy, KeyRaw: encKey, Primary: local, Backups: newBackups}
	dest := m.membership.ExcludingSelfAnd(newBackups)
	if len(dest) > 0 {
		if err := m.channel.Send(dest, proxyMsg, m.sendOpts); err != nil {
			m.log.Error("unable to announce new ownership", zap.Error(err))
		}
	}

	m.finishPromotion(key, entry, newBackups, true)
	return nil
}

// promoteCopy: COPY -> PRIMARY. Tell every live member (they each hold a
// copy) that the value now lives here.
func (m *Map[K, V]) promoteCopy(key K, entry *Entry[K, V], snap Snapshot[K, V]) error {
	encKey, err := m.keyCodec.Encode(key)
	if err != nil {
		return err
	}
	members := m.membership.Members()
	if len(members) > 0 {
		local := m.channel.LocalMember()
		notify := &Message{MapID: m.mapID, Type: MsgNotifyMapMember, KeyRaw: encKey, Primary: local, Backups: members}
		if err := m.channel.Send(members, notify, m.sendOpts); err != nil {
			m.log.Error("unable to notify copy holders", zap.Error(err))
		}
	}
	m.finishPromotion(key, entry, members, true)
	return nil
}

// ------------------------------------------------------------------
// Replication (spec.md §4.3's replicate, §4.4's publishEntryInfo)
// ------------------------------------------------------------------

// Replicate pushes out any pending change for key. Only acts on PRIMARY
// entries that have at least one backup.
func (m *Map[K, V]) Replicate(key K, complete bool) {
	entry, ok := m.getInternal(key)
	if !ok {
		return
	}
	snap := entry.Snapshot()
	if snap.Role != RolePrimary || len(snap.Backups) == 0 {
		return
	}

	var rep Replicable
	if snap.Has {
		rep, _ = any(snap.Value).(Replicable)
	}
	isDirty := false
	if rep != nil {
		rep.Lock()
		isDirty = rep.IsDirty()
		rep.Unlock()
	}
	isAccess := rep != nil && rep.IsAccessReplicate()
	if !(complete || isDirty || isAccess) {
		m.metrics.IncReplicate("skipped")
		return
	}

	encKey, err := m.keyCodec.Encode(key)
	if err != nil {
		m.log.Error("unable to encode key for replicate", zap.Error(err))
		return
	}

	var msg *Message
	if rep != nil && rep.IsDiffable() && (isDirty || complete) {
		rep.Lock()
		diff, derr := rep.GetDiff()
		if derr != nil {
			m.log.Error("unable to diff value", zap.Any("key", key), zap.Error(derr))
		} else {
			msg = &Message{MapID: m.mapID, Type: MsgBackup, Diff: true, KeyRaw: encKey, DiffRaw: diff, Primary: snap.Primary, Backups: snap.Backups}
			rep.ResetDiff()
		}
		rep.Unlock()
	}
	if msg == nil && complete {
		encVal, err := m.valCodec.Encode(snap.Value)
		if err != nil {
			m.log.Error("unable to encode value for replicate", zap.Error(err))
			return
		}
		msg = &Message{MapID: m.mapID, Type: MsgBackup, KeyRaw: encKey, ValRaw: encVal, Primary: snap.Primary, Backups: snap.Backups}
	}
	if msg == nil && isAccess {
		msg = &Message{MapID: m.mapID, Type: MsgAccess, KeyRaw: encKey, Primary: snap.Primary, Backups: snap.Backups}
	}
	if msg == nil {
		m.metrics.IncReplicate("skipped")
		return
	}

	if err := m.channel.Send(snap.Backups, msg, m.sendOpts); err != nil {
		m.log.Error("unable to replicate", zap.Any("key", key), zap.Error(err))
		return
	}
	if rep != nil {
		rep.SetLastTimeReplicated(time.Now().UnixMilli())
	}
	switch {
	case msg.Diff:
		m.metrics.IncReplicate("diff")
	case msg.Type == MsgBackup:
		m.metrics.IncReplicate("full")
	default:
		m.metrics.IncReplicate("access")
	}
}

// ReplicateAll calls Replicate(key, complete) for every entry.
func (m *Map[K, V]) ReplicateAll(complete bool) {
	for _, k := range m.snapshotKeys() {
		m.Replicate(k, complete)
	}
}

// publishEntryInfo is the one required backup-selection strategy:
// round-robin single backup (spec.md §4.4). If membership is empty, it
// returns an empty list and sends nothing. Otherwise it sends BACKUP
// (full value) to the chosen backup and PROXY (metadata only) to every
// other live member.
func (m *Map[K, V]) publishEntryInfo(key K, value V) ([]MemberID, error) {
	backup, ok := m.membership.NextBackupNode()
	if !ok {
		return nil, nil
	}

	encKey, err := m.keyCodec.Encode(key)
	if err != nil {
		return nil, err
	}
	encVal, err := m.valCodec.Encode(value)
	if err != nil {
		return nil, err
	}

	local := m.channel.LocalMember()
	backups := []MemberID{backup}

	backupMsg := &Message{MapID: m.mapID, Type: MsgBackup, KeyRaw: encKey, ValRaw: encVal, Primary: local, Backups: backups}
	var sendErr error
	if err := m.channel.Send(wrap(backup), backupMsg, m.sendOpts); err != nil {
		sendErr = err
		m.log.Error("unable to send backup", zap.Any("key", key), zap.String("backup", string(backup)), zap.Error(err))
	}

	others := m.membership.ExcludingSelfAnd(backups)
	if len(others) > 0 {
		proxyMsg := &Message{MapID: m.mapID, Type: MsgProxy, KeyRaw: encKey, Primary: local, Backups: backups}
		if err := m.channel.Send(others, proxyMsg, m.sendOpts); err != nil {
			m.log.Error("unable to announce proxies", zap.Error(err))
			sendErr = errors.Join(sendErr, err)
		}
	}
	return backups, sendErr
}
