package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"pigeon/internal/identity"
)

// MemoryStore is a dev/test fallback when no database is configured.
// It mirrors the PostgresStore contract, including error kinds.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]Chat
	byPair   map[[2]string]string // (low, high) -> chat id
	messages map[string][]Message // chat id -> ordered messages
}

// NewMemoryStore constructs an empty in-memory chat store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]Chat),
		byPair:   make(map[[2]string]string),
		messages: make(map[string][]Message),
	}
}

var _ Store = (*MemoryStore)(nil)

// GetOrCreateDirectChat returns the chat for the pair, creating it on first use.
func (s *MemoryStore) GetOrCreateDirectChat(ctx context.Context, creatorID, otherID string) (Chat, error) {
	const op = "chat.GetOrCreateDirectChat"

	if err := ctx.Err(); err != nil {
		return Chat{}, err
	}
	creatorID = strings.TrimSpace(creatorID)
	otherID = strings.TrimSpace(otherID)
	if creatorID == "" || otherID == "" {
		return Chat{}, invalid(op, "missing participant")
	}
	if creatorID == otherID {
		return Chat{}, invalid(op, "cannot chat with self")
	}

	a, b := pairOf(creatorID, otherID)
	key := [2]string{a, b}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byPair[key]; ok {
		return s.byID[id], nil
	}

	now := time.Now().UTC()
	id, err := identity.NewULID(now)
	if err != nil {
		return Chat{}, err
	}
	c := Chat{ID: id, UserA: a, UserB: b, CreatedBy: creatorID, CreatedAt: now}
	s.byID[id] = c
	s.byPair[key] = id
	return c, nil
}

// GetChat loads a chat by id.
func (s *MemoryStore) GetChat(ctx context.Context, chatID string) (Chat, error) {
	if err := ctx.Err(); err != nil {
		return Chat{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[strings.TrimSpace(chatID)]
	if !ok {
		return Chat{}, notFound("chat.GetChat", "chat")
	}
	return c, nil
}

// AppendMessage stamps and persists a message.
func (s *MemoryStore) AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error) {
	const op = "chat.AppendMessage"

	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	chatID := strings.TrimSpace(in.ChatID)
	senderID := strings.TrimSpace(in.SenderID)
	if chatID == "" || senderID == "" {
		return Message{}, invalid(op, "missing chat_id or sender_id")
	}
	if strings.TrimSpace(in.Text) == "" && strings.TrimSpace(in.MediaURL) == "" {
		return Message{}, invalid(op, "empty message")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[chatID]; !ok {
		return Message{}, notFound(op, "chat")
	}

	id, err := identity.NewULID(now)
	if err != nil {
		return Message{}, err
	}
	m := Message{
		ID:        id,
		ChatID:    chatID,
		SenderID:  senderID,
		Text:      in.Text,
		MediaType: in.MediaType,
		MediaURL:  in.MediaURL,
		ServerTS:  now,
	}
	s.messages[chatID] = append(s.messages[chatID], m)
	return m, nil
}

// History returns up to limit messages in ascending server order.
func (s *MemoryStore) History(ctx context.Context, chatID string, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil, invalid("chat.History", "missing chat_id")
	}
	if limit <= 0 || limit > 500 {
		limit = 200
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[chatID]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// ChatsOf lists every chat the user participates in, newest first.
func (s *MemoryStore) ChatsOf(ctx context.Context, userID string) ([]Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalid("chat.ChatsOf", "missing user_id")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Chat
	for _, c := range s.byID {
		if c.HasParticipant(userID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}
