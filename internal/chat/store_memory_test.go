package chat

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGetOrCreateDirectChatIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	c1, err := s.GetOrCreateDirectChat(ctx, "userB", "userA")
	if err != nil {
		t.Fatalf("GetOrCreateDirectChat: %v", err)
	}
	// Same pair in either order resolves to the same chat.
	c2, err := s.GetOrCreateDirectChat(ctx, "userA", "userB")
	if err != nil {
		t.Fatalf("GetOrCreateDirectChat reversed: %v", err)
	}
	if c1.ID != c2.ID {
		t.Fatalf("pair resolved to two chats: %q vs %q", c1.ID, c2.ID)
	}
	if c1.UserA != "userA" || c1.UserB != "userB" {
		t.Fatalf("pair not normalized: %+v", c1)
	}
	if c1.CreatedBy != "userB" {
		t.Fatalf("CreatedBy = %q, want the first caller", c1.CreatedBy)
	}
}

func TestGetOrCreateDirectChatRejectsSelf(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.GetOrCreateDirectChat(context.Background(), "userA", "userA"); !IsInvalidInput(err) {
		t.Fatalf("self chat = %v, want invalid input", err)
	}
}

func TestAppendMessageStampsServerOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	c, err := s.GetOrCreateDirectChat(ctx, "userA", "userB")
	if err != nil {
		t.Fatalf("GetOrCreateDirectChat: %v", err)
	}

	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		m, err := s.AppendMessage(ctx, AppendMessageInput{
			ChatID:   c.ID,
			SenderID: "userA",
			Text:     "hello",
			Now:      base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("AppendMessage %d: %v", i, err)
		}
		if m.ID == "" || m.ServerTS.IsZero() {
			t.Fatalf("message %d missing server stamp: %+v", i, m)
		}
		ids = append(ids, m.ID)
	}

	hist, err := s.History(ctx, c.ID, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("history length = %d, want 3", len(hist))
	}
	for i, m := range hist {
		if m.ID != ids[i] {
			t.Fatalf("history[%d].ID = %q, want append order preserved", i, m.ID)
		}
	}
}

func TestAppendMessageValidation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	c, err := s.GetOrCreateDirectChat(ctx, "userA", "userB")
	if err != nil {
		t.Fatalf("GetOrCreateDirectChat: %v", err)
	}

	if _, err := s.AppendMessage(ctx, AppendMessageInput{ChatID: c.ID, SenderID: "userA"}); !IsInvalidInput(err) {
		t.Fatalf("empty message = %v, want invalid input", err)
	}
	if _, err := s.AppendMessage(ctx, AppendMessageInput{ChatID: "missing", SenderID: "userA", Text: "x"}); !IsNotFound(err) {
		t.Fatalf("unknown chat = %v, want not found", err)
	}
	// Media-only messages are valid.
	if _, err := s.AppendMessage(ctx, AppendMessageInput{
		ChatID: c.ID, SenderID: "userA", MediaType: "image", MediaURL: "/media/x.png",
	}); err != nil {
		t.Fatalf("media-only message: %v", err)
	}
}

func TestChatsOfNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.GetOrCreateDirectChat(ctx, "me", "p1"); err != nil {
		t.Fatalf("GetOrCreateDirectChat: %v", err)
	}
	if _, err := s.GetOrCreateDirectChat(ctx, "p2", "me"); err != nil {
		t.Fatalf("GetOrCreateDirectChat: %v", err)
	}
	if _, err := s.GetOrCreateDirectChat(ctx, "p1", "p2"); err != nil {
		t.Fatalf("GetOrCreateDirectChat: %v", err)
	}

	chats, err := s.ChatsOf(ctx, "me")
	if err != nil {
		t.Fatalf("ChatsOf: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("ChatsOf(me) = %d chats, want 2 (must exclude p1-p2)", len(chats))
	}
	for _, c := range chats {
		if !c.HasParticipant("me") {
			t.Fatalf("listed chat %q does not include the caller", c.ID)
		}
	}
}

func TestChatHelpers(t *testing.T) {
	c := Chat{ID: "c1", UserA: "a", UserB: "b"}
	if c.OtherParticipant("a") != "b" || c.OtherParticipant("b") != "a" {
		t.Fatalf("OtherParticipant wrong: %+v", c)
	}
	if c.OtherParticipant("z") != "" {
		t.Fatalf("OtherParticipant for non-member must be empty")
	}
	if c.HasParticipant("z") {
		t.Fatalf("HasParticipant(z) = true")
	}
}

func TestGetChatNotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.GetChat(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetChat(nope) = %v, want ErrNotFound", err)
	}
}
