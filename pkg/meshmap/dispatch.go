package meshmap

import (
	"bytes"

	"go.uber.org/zap"
)

// Accept implements ChannelListener: drop anything not addressed to this
// map's context id. mapId comparison is byte-exact and otherwise
// uninterpreted, per spec.md §3.
func (m *Map[K, V]) Accept(msg *Message, sender MemberID) bool {
	return bytes.Equal(msg.MapID, m.mapID)
}

// ReplyRequest implements RPCResponder: the synchronous side of every
// message type that expects a reply (spec.md §4.5).
func (m *Map[K, V]) ReplyRequest(msg *Message, sender MemberID) (*Message, error) {
	switch msg.Type {
	case MsgInit:
		reply := msg.Clone()
		reply.Primary = m.channel.LocalMember()
		// The requester treats this reply as a memberAlive for us.
		return reply, nil

	case MsgStart:
		reply := msg.Clone()
		reply.Primary = m.channel.LocalMember()
		m.mapMemberAdded(sender)
		return reply, nil

	case MsgRetrieveBackup:
		key, err := m.keyCodec.Decode(msg.KeyRaw)
		if err != nil {
			return nil, err
		}
		entry, ok := m.getInternal(key)
		if !ok {
			return nil, nil
		}
		v, has := entry.Value()
		if !has {
			return nil, nil
		}
		encVal, err := m.valCodec.Encode(v)
		if err != nil {
			return nil, err
		}
		reply := msg.Clone()
		reply.ValRaw = encVal
		return reply, nil

	case MsgState, MsgStateCopy:
		return m.buildStateReply(msg)

	case MsgPing:
		reply := msg.Clone()
		reply.Primary = m.channel.LocalMember()
		reply.LifecycleState = LifecycleState(m.state.Load())
		return reply, nil

	default:
		return nil, nil
	}
}

// buildStateReply answers STATE/STATE_COPY under stateMutex, so it never
// races the "rescan primaries with empty backups" pass triggered by
// mapMemberAdded (spec.md §4.6/§5).
func (m *Map[K, V]) buildStateReply(msg *Message) (*Message, error) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	copyFull := msg.Type == MsgStateCopy
	var list []*Message
	for _, k := range m.snapshotKeys() {
		entry, ok := m.getInternal(k)
		if !ok {
			continue
		}
		snap := entry.Snapshot()
		if !snap.Has && !copyFull {
			// a proxy locator can still be shipped with no value
		}
		encKey, err := m.keyCodec.Encode(snap.Key)
		if err != nil {
			return nil, err
		}
		entryMsg := &Message{MapID: m.mapID, Primary: snap.Primary, Backups: snap.Backups, KeyRaw: encKey}
		if copyFull {
			entryMsg.Type = MsgCopy
			if snap.Has {
				encVal, err := m.valCodec.Encode(snap.Value)
				if err != nil {
					return nil, err
				}
				entryMsg.ValRaw = encVal
			}
		} else {
			entryMsg.Type = MsgProxy
		}
		list = append(list, entryMsg)
	}
	reply := msg.Clone()
	reply.StateList = list
	return reply, nil
}

// MessageReceived implements ChannelListener: the asynchronous side of
// message handling (spec.md §4.5).
func (m *Map[K, V]) MessageReceived(msg *Message, sender MemberID) {
	switch msg.Type {
	case MsgStart:
		m.mapMemberAdded(msg.Primary)
	case MsgStop:
		m.memberDisappeared(msg.Primary)
	case MsgProxy:
		m.handleProxy(msg)
	case MsgRemove:
		m.handleRemove(msg)
	case MsgBackup, MsgCopy:
		m.handleBackupOrCopy(msg)
	case MsgAccess, MsgNotifyMapMember:
		m.handleAccessOrNotify(msg)
	default:
		// unknown types are dropped
	}
}

// LeftOver implements ChannelListener for messages delivered after their
// RPC correlation window already closed (spec.md §4.5).
func (m *Map[K, V]) LeftOver(msg *Message, sender MemberID) {
	switch msg.Type {
	case MsgStart:
		m.mapMemberAdded(msg.Primary)
	case MsgInit:
		m.memberAlive(msg.Primary)
	case MsgPing:
		if msg.LifecycleState.Available() {
			m.memberAlive(msg.Primary)
		}
	default:
		m.log.Debug("ignoring left-over message", zap.Stringer("type", msg.Type))
	}
}

func (m *Map[K, V]) handleProxy(msg *Message) {
	key, err := m.keyCodec.Decode(msg.KeyRaw)
	if err != nil {
		m.log.Error("unable to decode key in PROXY", zap.Error(err))
		return
	}
	entry := m.ensureEntry(key)
	entry.SetRouting(RoleProxy, msg.Primary, msg.Backups)
	m.metrics.IncRoleTransition("PROXY")
}

func (m *Map[K, V]) handleRemove(msg *Message) {
	key, err := m.keyCodec.Decode(msg.KeyRaw)
	if err != nil {
		m.log.Error("unable to decode key in REMOVE", zap.Error(err))
		return
	}
	m.removeEntry(key)
}

func (m *Map[K, V]) handleBackupOrCopy(msg *Message) {
	key, err := m.keyCodec.Decode(msg.KeyRaw)
	if err != nil {
		m.log.Error("unable to decode key in BACKUP/COPY", zap.Error(err))
		return
	}
	role := RoleBackup
	if msg.Type == MsgCopy {
		role = RoleCopy
	}

	entry, existed := m.getInternal(key)
	if !existed {
		entry = NewEmptyEntry[K, V](key)
		if existing := m.putIfAbsent(key, entry); existing != entry {
			entry = existing
		}
	}

	if !existed {
		entry.SetRouting(role, msg.Primary, msg.Backups)
		if len(msg.ValRaw) > 0 {
			v, err := m.valCodec.Decode(msg.ValRaw)
			if err != nil {
				m.log.Error("unable to decode value in BACKUP/COPY", zap.Error(err))
				return
			}
			entry.SetValue(v)
			if r, ok := any(v).(Replicable); ok {
				r.SetOwner(m.owner)
			}
		}
	} else {
		entry.SetRouting(role, msg.Primary, msg.Backups)
		v, has := entry.Value()
		if has {
			if rep, ok := any(v).(Replicable); ok {
				if msg.Diff {
					rep.Lock()
					if err := rep.ApplyDiff(msg.DiffRaw); err != nil {
						m.log.Error("unable to apply diff", zap.Any("key", key), zap.Error(err))
					}
					rep.Unlock()
				} else if len(msg.ValRaw) > 0 {
					nv, err := m.valCodec.Decode(msg.ValRaw)
					if err != nil {
						m.log.Error("unable to decode value in BACKUP/COPY", zap.Error(err))
						return
					}
					if nrep, ok := any(nv).(Replicable); ok {
						nrep.SetOwner(m.owner)
					}
					entry.SetValue(nv)
				} else {
					rep.SetOwner(m.owner)
				}
			} else if len(msg.ValRaw) > 0 {
				nv, err := m.valCodec.Decode(msg.ValRaw)
				if err != nil {
					m.log.Error("unable to decode value in BACKUP/COPY", zap.Error(err))
					return
				}
				entry.SetValue(nv)
			}
		} else if len(msg.ValRaw) > 0 {
			nv, err := m.valCodec.Decode(msg.ValRaw)
			if err != nil {
				m.log.Error("unable to decode value in BACKUP/COPY", zap.Error(err))
				return
			}
			entry.SetValue(nv)
			if r, ok := any(nv).(Replicable); ok {
				r.SetOwner(m.owner)
			}
		}
	}
	m.metrics.IncRoleTransition(role.String())
}

func (m *Map[K, V]) handleAccessOrNotify(msg *Message) {
	key, err := m.keyCodec.Decode(msg.KeyRaw)
	if err != nil {
		m.log.Error("unable to decode key in ACCESS/NOTIFY_MAPMEMBER", zap.Error(err))
		return
	}
	entry, ok := m.getInternal(key)
	if !ok {
		return
	}
	entry.SetPrimary(msg.Primary)
	entry.SetBackups(msg.Backups)
	if v, has := entry.Value(); has {
		if rep, ok := any(v).(Replicable); ok {
			rep.AccessEntry()
		}
	}
}

// ensureEntry returns the entry for key, creating an empty placeholder if
// absent (used by PROXY, which always has routing info but not always a
// preceding entry).
func (m *Map[K, V]) ensureEntry(key K) *Entry[K, V] {
	if e, ok := m.getInternal(key); ok {
		return e
	}
	return m.putIfAbsent(key, NewEmptyEntry[K, V](key))
}
