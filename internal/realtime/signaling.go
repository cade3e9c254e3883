package realtime

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	v1 "pigeon/contracts/realtime/v1"
)

// CallState tracks where a two-party call stands. The server only relays;
// it never inspects SDP or candidates.
type CallState int

const (
	// CallOffered: the caller's offer is recorded but not yet delivered.
	CallOffered CallState = iota
	// CallRinging: the offer reached at least one callee handle.
	CallRinging
	// CallNegotiating: the callee answered; both sides exchange candidates.
	CallNegotiating
)

func (s CallState) String() string {
	switch s {
	case CallOffered:
		return "offered"
	case CallRinging:
		return "ringing"
	case CallNegotiating:
		return "negotiating"
	default:
		return "invalid"
	}
}

type call struct {
	callerID  string
	calleeID  string
	state     CallState
	startedAt time.Time
}

func (c *call) otherParty(userID string) string {
	if userID == c.callerID {
		return c.calleeID
	}
	return c.callerID
}

// Coordinator relays call signaling between exactly two identities. One
// outstanding call per unordered pair; state lives only in memory, so a
// restart drops every call.
type Coordinator struct {
	log      *slog.Logger
	registry *Registry

	mu    sync.Mutex
	calls map[[2]string]*call
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(log *slog.Logger, registry *Registry) *Coordinator {
	return &Coordinator{
		log:      log,
		registry: registry,
		calls:    make(map[[2]string]*call),
	}
}

func callKey(a, b string) [2]string {
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}

// ActiveCalls returns the number of outstanding calls.
func (co *Coordinator) ActiveCalls() int {
	co.mu.Lock()
	defer co.mu.Unlock()
	return len(co.calls)
}

// PlaceCall records an offer and delivers it to the callee's handles.
// The callee must be online; a pair can hold only one outstanding call.
func (co *Coordinator) PlaceCall(fromID string, p v1.PlaceCallPayload, now time.Time) error {
	toID := strings.TrimSpace(p.ToUserID)
	if toID == "" || toID == fromID {
		return ErrNoActiveCall
	}
	if !co.registry.Online(toID) {
		return ErrCalleeOffline
	}

	key := callKey(fromID, toID)

	co.mu.Lock()
	if _, busy := co.calls[key]; busy {
		co.mu.Unlock()
		return ErrCallAlreadyInProgress
	}
	c := &call{callerID: fromID, calleeID: toID, state: CallOffered, startedAt: now}
	co.calls[key] = c
	co.mu.Unlock()

	payload, _ := json.Marshal(v1.IncomingCallPayload{FromUserID: fromID, Offer: p.Offer})
	if !co.deliver(toID, NewEnvelope(v1.TypeIncomingCall, payload, now)) {
		// Every handle refused the offer; treat the callee as unreachable.
		co.mu.Lock()
		delete(co.calls, key)
		co.mu.Unlock()
		return ErrCalleeOffline
	}

	co.mu.Lock()
	if cur, ok := co.calls[key]; ok && cur.state == CallOffered {
		cur.state = CallRinging
	}
	co.mu.Unlock()

	co.log.Info("call.placed", "caller_id", fromID, "callee_id", toID)
	return nil
}

// AcceptCall forwards the callee's answer to the caller. Only the callee of
// a ringing call may answer.
func (co *Coordinator) AcceptCall(fromID string, p v1.AcceptCallPayload, now time.Time) error {
	toID := strings.TrimSpace(p.ToUserID)
	key := callKey(fromID, toID)

	co.mu.Lock()
	c, ok := co.calls[key]
	if !ok || c.calleeID != fromID || c.state == CallNegotiating {
		co.mu.Unlock()
		return ErrNoActiveCall
	}
	c.state = CallNegotiating
	co.mu.Unlock()

	payload, _ := json.Marshal(v1.CallAnsweredPayload{FromUserID: fromID, Answer: p.Answer})
	co.deliver(toID, NewEnvelope(v1.TypeCallAnswered, payload, now))

	co.log.Info("call.answered", "caller_id", toID, "callee_id", fromID)
	return nil
}

// RelayICE forwards a candidate to the other party of an outstanding call.
// Candidates are opaque; any buffering happens on the receiving client.
func (co *Coordinator) RelayICE(fromID string, p v1.ICECandidatePayload, now time.Time) error {
	toID := strings.TrimSpace(p.ToUserID)
	key := callKey(fromID, toID)

	co.mu.Lock()
	_, ok := co.calls[key]
	co.mu.Unlock()
	if !ok {
		return ErrNoActiveCall
	}

	payload, _ := json.Marshal(v1.ICECandidatePayload{FromUserID: fromID, Candidate: p.Candidate})
	co.deliver(toID, NewEnvelope(v1.TypeICECandidate, payload, now))
	return nil
}

// EndCall tears down the pair's call from any state and notifies the other
// party exactly once.
func (co *Coordinator) EndCall(fromID string, p v1.EndCallPayload, now time.Time) error {
	toID := strings.TrimSpace(p.ToUserID)
	key := callKey(fromID, toID)

	co.mu.Lock()
	c, ok := co.calls[key]
	if ok {
		delete(co.calls, key)
	}
	co.mu.Unlock()
	if !ok {
		return ErrNoActiveCall
	}

	payload, _ := json.Marshal(v1.CallEndedPayload{ByUserID: fromID})
	co.deliver(c.otherParty(fromID), NewEnvelope(v1.TypeCallEnded, payload, now))

	co.log.Info("call.ended", "by", fromID, "peer", c.otherParty(fromID), "state", c.state.String())
	return nil
}

// PartyDisconnected closes every call involving the identity and notifies
// each remaining party. Called when a user's last handle goes away.
func (co *Coordinator) PartyDisconnected(userID string, now time.Time) {
	var peers []string

	co.mu.Lock()
	for key, c := range co.calls {
		if c.callerID == userID || c.calleeID == userID {
			peers = append(peers, c.otherParty(userID))
			delete(co.calls, key)
		}
	}
	co.mu.Unlock()

	for _, peer := range peers {
		payload, _ := json.Marshal(v1.CallEndedPayload{ByUserID: userID})
		co.deliver(peer, NewEnvelope(v1.TypeCallEnded, payload, now))
	}
	if len(peers) > 0 {
		co.log.Info("call.party_disconnected", "user_id", userID, "closed", len(peers))
	}
}

// deliver enqueues an envelope to every live handle of the identity.
// Reports whether at least one handle accepted it.
func (co *Coordinator) deliver(userID string, env v1.Envelope) bool {
	delivered := false
	for _, handle := range co.registry.HandlesFor(userID) {
		if handle.trySend(env) {
			delivered = true
			continue
		}
		co.log.Info("call.deliver.drop", "user_id", userID, "handle_id", handle.HandleID, "type", env.Type)
	}
	return delivered
}
