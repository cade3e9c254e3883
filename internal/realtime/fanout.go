package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	v1 "pigeon/contracts/realtime/v1"
	"pigeon/internal/chat"
)

// Fanout is the persist-then-broadcast pipeline for chat messages.
//
// Ordering contract: a message is broadcast only after the store has stamped
// it. If persistence fails nothing is broadcast and the sender gets a
// PersistenceError. Delivery to each handle is non-blocking; a full queue
// drops the envelope rather than stalling the chat.
type Fanout struct {
	log      *slog.Logger
	store    chat.Store
	registry *Registry

	// delivered is an optional hook for metrics, called once per envelope
	// actually enqueued to a handle.
	delivered func()
}

// NewFanout constructs a Fanout.
func NewFanout(log *slog.Logger, store chat.Store, registry *Registry) *Fanout {
	return &Fanout{log: log, store: store, registry: registry}
}

// OnDelivered installs a delivery hook (metrics).
func (f *Fanout) OnDelivered(fn func()) { f.delivered = fn }

// Send validates membership, persists the message, and broadcasts the
// persisted record to every live handle of both participants.
func (f *Fanout) Send(ctx context.Context, senderID string, p v1.SendMessagePayload, now time.Time) (chat.Message, error) {
	const op = "realtime.fanout.send"

	chatID := strings.TrimSpace(p.ChatID)
	if chatID == "" {
		return chat.Message{}, fmt.Errorf("%s: missing chat_id", op)
	}

	text := strings.TrimSpace(p.Text)
	mediaURL := strings.TrimSpace(p.MediaURL)
	if text == "" && mediaURL == "" {
		return chat.Message{}, fmt.Errorf("%s: empty message", op)
	}
	if len([]rune(text)) > maxMessageChars {
		return chat.Message{}, fmt.Errorf("%s: message too long: max=%d chars", op, maxMessageChars)
	}

	c, err := f.store.GetChat(ctx, chatID)
	if err != nil {
		if chat.IsNotFound(err) {
			// Unknown chat and non-membership are indistinguishable to the sender.
			return chat.Message{}, ErrNotParticipant
		}
		return chat.Message{}, PersistenceError{Op: op, Err: err}
	}
	if !c.HasParticipant(senderID) {
		return chat.Message{}, ErrNotParticipant
	}

	msg, err := f.store.AppendMessage(ctx, chat.AppendMessageInput{
		ChatID:    c.ID,
		SenderID:  senderID,
		Text:      text,
		MediaType: strings.TrimSpace(p.MediaType),
		MediaURL:  mediaURL,
		Now:       now,
	})
	if err != nil {
		return chat.Message{}, PersistenceError{Op: op, Err: err}
	}

	f.broadcast(c, msg)
	return msg, nil
}

// broadcast delivers the persisted record to both participants' handles.
func (f *Fanout) broadcast(c chat.Chat, msg chat.Message) {
	payload, err := json.Marshal(v1.IncomingMessagePayload{
		ChatID:    msg.ChatID,
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
		Text:      msg.Text,
		MediaType: msg.MediaType,
		MediaURL:  msg.MediaURL,
		ServerTS:  msg.ServerTS,
	})
	if err != nil {
		f.log.Error("fanout.marshal.fail", "chat_id", msg.ChatID, "err", err)
		return
	}
	env := NewEnvelope(v1.TypeIncomingMessage, payload, msg.ServerTS)

	for _, userID := range c.Participants() {
		for _, handle := range f.registry.HandlesFor(userID) {
			if handle.trySend(env) {
				if f.delivered != nil {
					f.delivered()
				}
				continue
			}
			// Backpressure: drop for this handle, never block the chat.
			f.log.Info("fanout.drop", "chat_id", msg.ChatID, "user_id", userID, "handle_id", handle.HandleID)
		}
	}
}

// NewEnvelope wraps a payload in a stamped v1 envelope.
func NewEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      uuid.NewString(),
		TS:      ts,
		Payload: payload,
	}
}
