// Package chatapi exposes the REST chat surface: partner listing, user
// search, chat creation, message history, and media upload.
package chatapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	authapi "pigeon/internal/auth/api"
	"pigeon/internal/auth/session"
	"pigeon/internal/chat"
	"pigeon/internal/identity"
	"pigeon/internal/media"
)

const (
	maxBodyBytes    = 1 << 20
	searchLimit     = 25
	historyLimit    = 200
	uploadFormField = "file"
)

// Authenticator verifies the bearer token of a protected request.
type Authenticator interface {
	Authenticate(r *http.Request) (session.AccessClaims, error)
}

// Handler implements the chat endpoints. Every route is protected; the
// caller identity always comes from the verified access token.
type Handler struct {
	log    *slog.Logger
	auth   Authenticator
	chats  chat.Store
	users  identity.Store
	blobs  media.Store
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, auth Authenticator, chats chat.Store, users identity.Store, blobs media.Store) *Handler {
	return &Handler{log: log, auth: auth, chats: chats, users: users, blobs: blobs}
}

// Routes registers the chat endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/chats", h.handleListChats)
	mux.HandleFunc("POST /api/chats", h.handleStartChat)
	mux.HandleFunc("GET /api/chats/{id}/messages", h.handleHistory)
	mux.HandleFunc("GET /api/users/search", h.handleSearch)
	mux.HandleFunc("POST /api/uploads", h.handleUpload)
}

func (h *Handler) handleListChats(w http.ResponseWriter, r *http.Request) {
	claims, err := h.auth.Authenticate(r)
	if err != nil {
		authapi.WriteAuthError(w, err)
		return
	}

	chats, err := h.chats.ChatsOf(r.Context(), claims.UserID)
	if err != nil {
		h.log.Error("chat.list.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "chat list failed")
		return
	}

	out := chatListResponse{Chats: make([]chatResponse, 0, len(chats))}
	for _, c := range chats {
		partnerID := c.OtherParticipant(claims.UserID)
		partner, err := h.users.GetUserByID(r.Context(), partnerID)
		if err != nil {
			// A deleted partner hides the chat rather than failing the list.
			if identity.IsNotFound(err) {
				continue
			}
			h.log.Error("chat.list.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "internal", "chat list failed")
			return
		}
		out.Chats = append(out.Chats, chatResponse{
			ChatID:    c.ID,
			Partner:   toPartnerResponse(partner),
			CreatedAt: c.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleStartChat(w http.ResponseWriter, r *http.Request) {
	claims, err := h.auth.Authenticate(r)
	if err != nil {
		authapi.WriteAuthError(w, err)
		return
	}

	var req startChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	// The other party must exist before a chat is created for the pair.
	partner, err := h.users.GetUserByID(r.Context(), req.OtherUserID)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			writeError(w, http.StatusNotFound, "user_not_found", "no such user")
			return
		}
		h.log.Error("chat.start.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "chat start failed")
		return
	}

	c, err := h.chats.GetOrCreateDirectChat(r.Context(), claims.UserID, partner.ID)
	if err != nil {
		if chat.IsInvalidInput(err) {
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		h.log.Error("chat.start.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "chat start failed")
		return
	}

	h.log.Info("chat.start.ok", "chat_id", c.ID, "user_id", claims.UserID)
	writeJSON(w, http.StatusOK, chatResponse{
		ChatID:    c.ID,
		Partner:   toPartnerResponse(partner),
		CreatedAt: c.CreatedAt,
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	claims, err := h.auth.Authenticate(r)
	if err != nil {
		authapi.WriteAuthError(w, err)
		return
	}

	chatID := r.PathValue("id")
	c, err := h.chats.GetChat(r.Context(), chatID)
	if err != nil {
		if chat.IsNotFound(err) || chat.IsInvalidInput(err) {
			// Unknown chat and non-membership answer identically.
			writeError(w, http.StatusForbidden, "forbidden", "not a participant")
			return
		}
		h.log.Error("chat.history.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "history failed")
		return
	}
	if !c.HasParticipant(claims.UserID) {
		writeError(w, http.StatusForbidden, "forbidden", "not a participant")
		return
	}

	msgs, err := h.chats.History(r.Context(), c.ID, historyLimit)
	if err != nil {
		h.log.Error("chat.history.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "history failed")
		return
	}

	out := historyResponse{ChatID: c.ID, Messages: make([]messageResponse, 0, len(msgs))}
	for _, m := range msgs {
		out.Messages = append(out.Messages, messageResponse{
			ID:        m.ID,
			ChatID:    m.ChatID,
			SenderID:  m.SenderID,
			Text:      m.Text,
			MediaType: m.MediaType,
			MediaURL:  m.MediaURL,
			ServerTS:  m.ServerTS,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	claims, err := h.auth.Authenticate(r)
	if err != nil {
		authapi.WriteAuthError(w, err)
		return
	}

	q := r.URL.Query().Get("q")
	users, err := h.users.SearchUsers(r.Context(), q, claims.UserID, searchLimit)
	if err != nil {
		h.log.Error("chat.search.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "search failed")
		return
	}

	out := searchResponse{Users: make([]partnerResponse, 0, len(users))}
	for _, u := range users {
		out.Users = append(out.Users, toPartnerResponse(u))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	_, err := h.auth.Authenticate(r)
	if err != nil {
		authapi.WriteAuthError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, media.MaxUploadBytes+(64<<10))
	file, header, err := r.FormFile(uploadFormField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "multipart field 'file' required")
		return
	}
	defer func() { _ = file.Close() }()

	contentType := header.Header.Get("Content-Type")
	kind := media.KindOf(contentType)
	if kind == "" {
		writeError(w, http.StatusBadRequest, "unsupported_type", "file type not allowed")
		return
	}

	url, err := h.blobs.Save(r.Context(), header.Filename, contentType, header.Size, file)
	if err != nil {
		switch {
		case errors.Is(err, media.ErrTooLarge):
			writeError(w, http.StatusBadRequest, "too_large", "file exceeds the size limit")
		case errors.Is(err, media.ErrUnsupportedType):
			writeError(w, http.StatusBadRequest, "unsupported_type", "file type not allowed")
		default:
			h.log.Error("chat.upload.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "internal", "upload failed")
		}
		return
	}

	h.log.Info("chat.upload.ok", "media_url", url, "type", contentType)
	writeJSON(w, http.StatusOK, uploadResponse{MediaURL: url, MediaType: kind})
}

// ---- helpers ----

func toPartnerResponse(u identity.User) partnerResponse {
	return partnerResponse{ID: u.ID, Name: u.Name, Email: u.Email, PhotoURL: u.PhotoURL}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}
