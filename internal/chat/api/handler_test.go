package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"pigeon/internal/auth/session"
	"pigeon/internal/chat"
	"pigeon/internal/identity"
	"pigeon/internal/media"
)

// fakeAuth maps bearer tokens to identities without real JWTs.
type fakeAuth struct {
	byToken map[string]string // token -> user id
}

func (f *fakeAuth) Authenticate(r *http.Request) (session.AccessClaims, error) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if id, ok := f.byToken[raw]; ok {
		return session.AccessClaims{Snapshot: session.Snapshot{UserID: id}}, nil
	}
	return session.AccessClaims{}, session.ErrInvalidAccess
}

type chatTestEnv struct {
	mux   *http.ServeMux
	users *identity.MemoryStore
	chats *chat.MemoryStore
	auth  *fakeAuth
}

func newChatTestEnv(t *testing.T) *chatTestEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := &chatTestEnv{
		users: identity.NewMemoryStore(),
		chats: chat.NewMemoryStore(),
		auth:  &fakeAuth{byToken: make(map[string]string)},
	}
	blobs, err := media.NewFSStore(t.TempDir(), "/media")
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	h := NewHandler(log, e.auth, e.chats, e.users, blobs)
	e.mux = http.NewServeMux()
	h.Routes(e.mux)
	return e
}

func (e *chatTestEnv) addUser(t *testing.T, email, name string) identity.User {
	t.Helper()
	u, err := e.users.CreateUser(context.Background(), identity.CreateUserInput{
		Email:    email,
		Password: "hunter2hunter2",
		Name:     name,
		Phone:    "+15550004444",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	e.auth.byToken["tok-"+u.ID] = u.ID
	return u
}

func (e *chatTestEnv) do(t *testing.T, method, path string, body io.Reader, user identity.User, mod func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if user.ID != "" {
		req.Header.Set("Authorization", "Bearer tok-"+user.ID)
	}
	if mod != nil {
		mod(req)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func TestStartChatIdempotent(t *testing.T) {
	e := newChatTestEnv(t)
	alice := e.addUser(t, "alice@example.com", "Alice")
	bob := e.addUser(t, "bob@example.com", "Bob")

	start := func(from identity.User, to identity.User) chatResponse {
		rec := e.do(t, http.MethodPost, "/api/chats",
			strings.NewReader(`{"other_user_id":"`+to.ID+`"}`), from, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("start chat = %d: %s", rec.Code, rec.Body.String())
		}
		var out chatResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return out
	}

	c1 := start(alice, bob)
	c2 := start(bob, alice)
	if c1.ChatID != c2.ChatID {
		t.Fatalf("start in both directions yielded %q and %q", c1.ChatID, c2.ChatID)
	}
	if c1.Partner.ID != bob.ID || c2.Partner.ID != alice.ID {
		t.Fatalf("partner views wrong: %+v / %+v", c1.Partner, c2.Partner)
	}
}

func TestStartChatUnknownUser(t *testing.T) {
	e := newChatTestEnv(t)
	alice := e.addUser(t, "alice@example.com", "Alice")

	rec := e.do(t, http.MethodPost, "/api/chats",
		strings.NewReader(`{"other_user_id":"01HZZZZZZZZZZZZZZZZZZZZZZZ"}`), alice, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("start with ghost user = %d, want 404", rec.Code)
	}
}

func TestListChatsShowsPartner(t *testing.T) {
	e := newChatTestEnv(t)
	alice := e.addUser(t, "alice@example.com", "Alice")
	bob := e.addUser(t, "bob@example.com", "Bob")

	if _, err := e.chats.GetOrCreateDirectChat(context.Background(), alice.ID, bob.ID); err != nil {
		t.Fatalf("GetOrCreateDirectChat: %v", err)
	}

	rec := e.do(t, http.MethodGet, "/api/chats", nil, alice, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list chats = %d: %s", rec.Code, rec.Body.String())
	}
	var out chatListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Chats) != 1 || out.Chats[0].Partner.ID != bob.ID {
		t.Fatalf("list = %+v, want one chat with bob as partner", out.Chats)
	}
}

func TestHistoryRequiresMembership(t *testing.T) {
	e := newChatTestEnv(t)
	alice := e.addUser(t, "alice@example.com", "Alice")
	bob := e.addUser(t, "bob@example.com", "Bob")
	mallory := e.addUser(t, "mallory@example.com", "Mallory")

	c, err := e.chats.GetOrCreateDirectChat(context.Background(), alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("GetOrCreateDirectChat: %v", err)
	}
	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	for i, text := range []string{"first", "second"} {
		if _, err := e.chats.AppendMessage(context.Background(), chat.AppendMessageInput{
			ChatID: c.ID, SenderID: alice.ID, Text: text, Now: base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	rec := e.do(t, http.MethodGet, "/api/chats/"+c.ID+"/messages", nil, bob, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history as member = %d: %s", rec.Code, rec.Body.String())
	}
	var out historyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Messages) != 2 || out.Messages[0].Text != "first" {
		t.Fatalf("history = %+v, want both messages in order", out.Messages)
	}

	// Outsider and unknown chat answer identically.
	outsider := e.do(t, http.MethodGet, "/api/chats/"+c.ID+"/messages", nil, mallory, nil)
	ghost := e.do(t, http.MethodGet, "/api/chats/nope/messages", nil, mallory, nil)
	if outsider.Code != http.StatusForbidden || ghost.Code != http.StatusForbidden {
		t.Fatalf("codes = %d/%d, want 403/403", outsider.Code, ghost.Code)
	}
	if outsider.Body.String() != ghost.Body.String() {
		t.Fatalf("membership probe must be indistinguishable from unknown chat")
	}
}

func TestSearchExcludesSelf(t *testing.T) {
	e := newChatTestEnv(t)
	alice := e.addUser(t, "alice@example.com", "Searcher Alice")
	e.addUser(t, "bob@example.com", "Searcher Bob")

	rec := e.do(t, http.MethodGet, "/api/users/search?q=searcher", nil, alice, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search = %d: %s", rec.Code, rec.Body.String())
	}
	var out searchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Users) != 1 || out.Users[0].Name != "Searcher Bob" {
		t.Fatalf("search = %+v, want only bob", out.Users)
	}
}

func TestRoutesRejectAnonymous(t *testing.T) {
	e := newChatTestEnv(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/chats"},
		{http.MethodPost, "/api/chats"},
		{http.MethodGet, "/api/chats/c1/messages"},
		{http.MethodGet, "/api/users/search?q=x"},
		{http.MethodPost, "/api/uploads"},
	} {
		rec := e.do(t, tc.method, tc.path, nil, identity.User{}, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s anonymous = %d, want 401", tc.method, tc.path, rec.Code)
		}
	}
}

func multipartUpload(t *testing.T, field, filename, contentType string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestUpload(t *testing.T) {
	e := newChatTestEnv(t)
	alice := e.addUser(t, "alice@example.com", "Alice")

	body, ct := multipartUpload(t, "file", "pic.png", "image/png", []byte("png-bytes"))
	rec := e.do(t, http.MethodPost, "/api/uploads", body, alice, func(r *http.Request) {
		r.Header.Set("Content-Type", ct)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("upload = %d: %s", rec.Code, rec.Body.String())
	}
	var out uploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(out.MediaURL, "/media/") || out.MediaType != "image" {
		t.Fatalf("upload response = %+v", out)
	}

	// Disallowed types are client errors, not 415.
	body, ct = multipartUpload(t, "file", "x.sh", "application/x-sh", []byte("#!/bin/sh"))
	rec = e.do(t, http.MethodPost, "/api/uploads", body, alice, func(r *http.Request) {
		r.Header.Set("Content-Type", ct)
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("script upload = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "unsupported_type") {
		t.Fatalf("unsupported type body = %s", rec.Body.String())
	}
}
