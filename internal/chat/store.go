// Package chat owns conversations and their message history. A chat is a
// direct two-party conversation; the pair of participants identifies it, so
// starting a chat twice for the same pair yields the same row.
package chat

import (
	"context"
	"time"
)

// Chat is a direct conversation between exactly two users.
type Chat struct {
	ID        string
	UserA     string // lower participant id
	UserB     string // higher participant id
	CreatedBy string
	CreatedAt time.Time
}

// Participants returns both member ids.
func (c Chat) Participants() [2]string { return [2]string{c.UserA, c.UserB} }

// HasParticipant reports whether userID is a member of the chat.
func (c Chat) HasParticipant(userID string) bool {
	return userID == c.UserA || userID == c.UserB
}

// OtherParticipant returns the peer of userID, or "" if userID is not a member.
func (c Chat) OtherParticipant(userID string) string {
	switch userID {
	case c.UserA:
		return c.UserB
	case c.UserB:
		return c.UserA
	default:
		return ""
	}
}

// Message is one persisted chat message. ID and ServerTS are assigned by the
// server at persist time and define the canonical history order.
type Message struct {
	ID       string
	ChatID   string
	SenderID string
	Text     string

	// MediaType is "" for plain text, "image" or "file" otherwise.
	MediaType string
	MediaURL  string

	ServerTS time.Time
}

// AppendMessageInput describes a message before the server stamps it.
type AppendMessageInput struct {
	ChatID    string
	SenderID  string
	Text      string
	MediaType string
	MediaURL  string
	Now       time.Time
}

// Store is the conversation persistence boundary.
type Store interface {
	// GetOrCreateDirectChat returns the chat for the pair, creating it on
	// first use. Idempotent: participant order does not matter.
	GetOrCreateDirectChat(ctx context.Context, creatorID, otherID string) (Chat, error)

	// GetChat loads a chat by id.
	GetChat(ctx context.Context, chatID string) (Chat, error)

	// AppendMessage stamps the message with a server-assigned id and
	// timestamp and persists it.
	AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error)

	// History returns up to limit messages in ascending ServerTS/id order.
	History(ctx context.Context, chatID string, limit int) ([]Message, error)

	// ChatsOf lists every chat the user participates in, newest first.
	ChatsOf(ctx context.Context, userID string) ([]Chat, error)
}

// pairOf normalizes a participant pair to (low, high) lexicographic order so
// the same two users always map to the same key.
func pairOf(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
