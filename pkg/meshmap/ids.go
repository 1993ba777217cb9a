package meshmap

import "fmt"

// MemberID identifies a member of the group communication channel. It is
// opaque to meshmap; transports mint them however they see fit (a
// host:port string, a UUID, an etcd lease-backed node id, ...).
type MemberID string

// MsgType is the wire message type. Values match the 13 message types
// spec'd for this protocol; the numbering is wire-significant so a peer
// on an older release can still decode the types it understands.
type MsgType int

const (
	MsgBackup          MsgType = 1
	MsgRetrieveBackup  MsgType = 2
	MsgProxy           MsgType = 3
	MsgRemove          MsgType = 4
	MsgState           MsgType = 5
	MsgStart           MsgType = 6
	MsgStop            MsgType = 7
	MsgInit            MsgType = 8
	MsgCopy            MsgType = 9
	MsgStateCopy       MsgType = 10
	MsgAccess          MsgType = 11
	MsgNotifyMapMember MsgType = 12
	MsgPing            MsgType = 13
)

func (t MsgType) String() string {
	switch t {
	case MsgBackup:
		return "BACKUP"
	case MsgRetrieveBackup:
		return "RETRIEVE_BACKUP"
	case MsgProxy:
		return "PROXY"
	case MsgRemove:
		return "REMOVE"
	case MsgState:
		return "STATE"
	case MsgStart:
		return "START"
	case MsgStop:
		return "STOP"
	case MsgInit:
		return "INIT"
	case MsgCopy:
		return "COPY"
	case MsgStateCopy:
		return "STATE_COPY"
	case MsgAccess:
		return "ACCESS"
	case MsgNotifyMapMember:
		return "NOTIFY_MAPMEMBER"
	case MsgPing:
		return "PING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(t))
	}
}

// Role is the per-entry role flag. The zero value is RolePrimary so a
// freshly-constructed Entry defaults to the correct role without callers
// having to remember to set it.
type Role uint8

const (
	RolePrimary Role = iota
	RoleBackup
	RoleProxy
	RoleCopy
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "PRIMARY"
	case RoleBackup:
		return "BACKUP"
	case RoleProxy:
		return "PROXY"
	case RoleCopy:
		return "COPY"
	default:
		return "UNKNOWN"
	}
}

// Active reports whether entries in this role are visible to size(),
// values(), entrySet() and keySet() — every role except proxy.
func (r Role) Active() bool {
	return r != RoleProxy
}

// LifecycleState is the map's global lifecycle state. Transitions are
// monotonic: NEW -> STATETRANSFERRED -> INITIALIZED -> DESTROYED.
type LifecycleState uint8

const (
	StateNew LifecycleState = iota
	StateTransferred
	StateInitialized
	StateDestroyed
)

func (s LifecycleState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateTransferred:
		return "STATETRANSFERRED"
	case StateInitialized:
		return "INITIALIZED"
	case StateDestroyed:
		return "DESTROYED"
	default:
		return "UNKNOWN"
	}
}

// Available reports whether heartbeats should be active in this state.
// Only INITIALIZED is available.
func (s LifecycleState) Available() bool {
	return s == StateInitialized
}
