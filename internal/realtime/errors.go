package realtime

import (
	"errors"
	"fmt"
)

// Sentinel error kinds (stable for errors.Is and API/wire mapping).
var (
	// ErrNotParticipant means the sender is not a member of the target chat.
	ErrNotParticipant = errors.New("not_participant")
	// ErrCalleeOffline means the callee has no live handles.
	ErrCalleeOffline = errors.New("callee_offline")
	// ErrCallAlreadyInProgress means the pair already has an outstanding call.
	ErrCallAlreadyInProgress = errors.New("call_in_progress")
	// ErrNoActiveCall means no call exists between the pair.
	ErrNoActiveCall = errors.New("no_active_call")
)

// PersistenceError wraps a store failure during fan-out. When it is returned
// nothing was broadcast.
type PersistenceError struct {
	Op  string
	Err error
}

func (e PersistenceError) Error() string {
	return fmt.Sprintf("%s: persistence: %v", e.Op, e.Err)
}

func (e PersistenceError) Unwrap() error { return e.Err }

// IsPersistence reports whether err is a PersistenceError.
func IsPersistence(err error) bool {
	var pe PersistenceError
	return errors.As(err, &pe)
}
