package meshmap

import "errors"

// Error kinds per spec.md §7. User-facing Get/Put/Remove never propagate
// these — they log and fall back to a nil/old value/best-effort send, as
// the original does. They exist so the lifecycle coordinator's
// terminate=true init path, and tests, have something concrete to check.
var (
	// ErrNoReply means an RPC call (state transfer, retrieve-backup,
	// broadcast) got zero replies before its timeout.
	ErrNoReply = errors.New("meshmap: no reply received")

	// ErrLifecycleInit means init() failed and the caller asked to
	// terminate rather than continue in state NEW.
	ErrLifecycleInit = errors.New("meshmap: lifecycle init failed")

	// ErrDestroyed means an operation was attempted after breakdown().
	ErrDestroyed = errors.New("meshmap: map has been destroyed")
)

// LifecycleError wraps the underlying cause of a failed init(terminate=true).
type LifecycleError struct {
	Cause error
}

func (e *LifecycleError) Error() string {
	return "meshmap: " + e.Cause.Error()
}

func (e *LifecycleError) Unwrap() error { return e.Cause }
