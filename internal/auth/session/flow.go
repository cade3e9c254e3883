package session

import (
	"context"
	"errors"
	"sync"
)

// State is the client-observed session state.
type State int

const (
	// StateUnknown is the initial state before any credential check.
	StateUnknown State = iota
	// StateAuthenticating is the transient state while credentials or a
	// refresh are in flight.
	StateAuthenticating
	// StateAuthenticated holds a usable access token and cached snapshot.
	StateAuthenticated
	// StateUnauthenticated is terminal until fresh credential verification.
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "invalid"
	}
}

// Rotator mints a replacement access token for the flow's identity.
type Rotator func(ctx context.Context) (Token, error)

// Flow is the retry-once pipeline every caller of a protected operation runs.
//
// On ErrExpiredAccess or ErrInvalidAccess from a protected call, the flow
// rotates and replays the call exactly once; any further failure transitions
// to StateUnauthenticated and discards the cached snapshot. The single-retry
// bound is enforced by construction: Do contains no loop, only one
// straight-line replay.
type Flow struct {
	rotate Rotator

	mu     sync.Mutex
	state  State
	access Token
	snap   Snapshot
}

// NewFlow constructs a Flow in StateUnknown.
func NewFlow(rotate Rotator) *Flow {
	return &Flow{rotate: rotate, state: StateUnknown}
}

// Begin marks the flow as authenticating.
func (f *Flow) Begin() {
	f.mu.Lock()
	f.state = StateAuthenticating
	f.mu.Unlock()
}

// Establish installs a fresh access token and snapshot after a successful
// credential verification, transitioning to StateAuthenticated.
func (f *Flow) Establish(access Token, snap Snapshot) {
	f.mu.Lock()
	f.state = StateAuthenticated
	f.access = access
	f.snap = snap
	f.mu.Unlock()
}

// State returns the current session state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Snapshot returns the cached profile snapshot while authenticated.
func (f *Flow) Snapshot() (Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateAuthenticated {
		return Snapshot{}, false
	}
	return f.snap, true
}

// Do runs a protected call under the retry-once contract.
//
// The call receives the current access token. Recoverable auth failures
// trigger one rotation and one replay; everything else is returned verbatim.
func (f *Flow) Do(ctx context.Context, call func(ctx context.Context, accessToken string) error) error {
	f.mu.Lock()
	if f.state != StateAuthenticated {
		f.mu.Unlock()
		return ErrMissingToken
	}
	token := f.access.Value
	f.mu.Unlock()

	err := call(ctx, token)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrExpiredAccess) && !errors.Is(err, ErrInvalidAccess) {
		return err
	}

	// Recovery path: rotate, then replay exactly once.
	f.mu.Lock()
	f.state = StateAuthenticating
	f.mu.Unlock()

	fresh, rerr := f.rotate(ctx)
	if rerr != nil {
		f.invalidate()
		return rerr
	}

	f.mu.Lock()
	f.state = StateAuthenticated
	f.access = fresh
	f.mu.Unlock()

	err = call(ctx, fresh.Value)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrExpiredAccess) || errors.Is(err, ErrInvalidAccess) {
		f.invalidate()
	}
	return err
}

// invalidate transitions to the terminal unauthenticated state and discards
// the cached snapshot and token.
func (f *Flow) invalidate() {
	f.mu.Lock()
	f.state = StateUnauthenticated
	f.access = Token{}
	f.snap = Snapshot{}
	f.mu.Unlock()
}
