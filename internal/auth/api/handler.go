// Package authapi exposes the REST authentication surface: registration,
// login, token rotation, logout, profile, and one-time email codes.
package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"pigeon/internal/auth/session"
	"pigeon/internal/identity"
	"pigeon/internal/otp"
)

// dummyHash keeps login timing uniform when the email is unknown: the
// request still pays for one bcrypt comparison.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Handler implements the auth endpoints.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	users    identity.Store
	sessions *session.Service
	codes    *otp.Service

	now func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, cfg Config, users identity.Store, sessions *session.Service, codes *otp.Service) *Handler {
	return &Handler{
		log:      log,
		cfg:      cfg,
		users:    users,
		sessions: sessions,
		codes:    codes,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Routes registers the auth endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/register", h.handleRegister)
	mux.HandleFunc("POST /api/auth/login", h.handleLogin)
	mux.HandleFunc("POST /api/auth/refresh", h.handleRefresh)
	mux.HandleFunc("POST /api/auth/logout", h.handleLogout)
	mux.HandleFunc("GET /api/me", h.handleMe)
	mux.HandleFunc("PATCH /api/me", h.handleUpdateMe)
	mux.HandleFunc("POST /api/auth/otp/send", h.handleOTPSend)
	mux.HandleFunc("POST /api/auth/otp/verify", h.handleOTPVerify)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	user, err := h.users.CreateUser(r.Context(), identity.CreateUserInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Phone:    req.Phone,
		Now:      h.now(),
	})
	if err != nil {
		switch {
		case identity.IsConflict(err):
			writeError(w, http.StatusConflict, "email_taken", "email already registered")
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		default:
			h.log.Error("auth.register.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "internal", "registration failed")
		}
		return
	}

	h.establishSession(w, user)
	h.log.Info("auth.register.ok", "user_id", user.ID)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	auth, err := h.users.GetUserAuthByEmail(r.Context(), req.Email)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			// Burn a bcrypt comparison so unknown emails cost the same
			// as wrong passwords, then answer identically.
			_, _ = identity.VerifyPassword(req.Password, dummyHash)
			h.log.Info("auth.login.fail", "reason", "unknown_email")
			writeError(w, http.StatusBadRequest, "invalid_credentials", "invalid email or password")
			return
		}
		h.log.Error("auth.login.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "login failed")
		return
	}

	ok, err := identity.VerifyPassword(req.Password, auth.PasswordHash)
	if err != nil {
		h.log.Error("auth.login.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "login failed")
		return
	}
	if !ok {
		h.log.Info("auth.login.fail", "reason", "bad_password", "user_id", auth.User.ID)
		writeError(w, http.StatusBadRequest, "invalid_credentials", "invalid email or password")
		return
	}

	h.establishSession(w, auth.User)
	h.log.Info("auth.login.ok", "user_id", auth.User.ID)
}

// establishSession mints the token pair, sets the refresh cookie, and writes
// the auth response.
func (h *Handler) establishSession(w http.ResponseWriter, user identity.User) {
	access, refresh, err := h.sessions.Issue(user, h.now())
	if err != nil {
		h.log.Error("auth.issue.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "session issue failed")
		return
	}

	h.setRefreshCookie(w, refresh.Value, refresh.ExpiresAt)
	writeJSON(w, http.StatusOK, authResponse{
		User:            toUserResponse(user),
		AccessToken:     access.Value,
		AccessExpiresAt: access.ExpiresAt,
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token, ok := h.refreshTokenFromCookie(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "no_refresh_token", "refresh cookie missing")
		return
	}

	access, err := h.sessions.Rotate(r.Context(), token, h.now())
	if err != nil {
		// A dead refresh token is unrecoverable; drop the cookie so the
		// client stops retrying with it. 401 is reserved for the missing
		// cookie above; a token that was presented but rejected is 403.
		h.clearRefreshCookie(w)
		switch {
		case errors.Is(err, session.ErrExpiredRefresh):
			writeError(w, http.StatusForbidden, "refresh_expired", "refresh token expired")
		case errors.Is(err, session.ErrIdentityNotFound):
			writeError(w, http.StatusForbidden, "forbidden", "identity no longer exists")
		case errors.Is(err, session.ErrInvalidRefresh), errors.Is(err, session.ErrMissingToken):
			writeError(w, http.StatusForbidden, "forbidden", "invalid refresh token")
		default:
			h.log.Error("auth.refresh.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "internal", "refresh failed")
		}
		return
	}

	h.log.Info("auth.refresh.ok")
	writeJSON(w, http.StatusOK, refreshResponse{
		AccessToken:     access.Value,
		AccessExpiresAt: access.ExpiresAt,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	// Logout is purely client-side state removal: clear the cookie. Tokens
	// already in the wild stay valid until they expire.
	h.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Authenticate verifies the request's bearer token. Shared with other API
// packages mounting protected routes.
func (h *Handler) Authenticate(r *http.Request) (session.AccessClaims, error) {
	return h.sessions.VerifyAccess(bearerToken(r), h.now())
}

// WriteAuthError maps a VerifyAccess failure onto the wire. The expired case
// keeps its own code so clients know rotation is worth one try.
func WriteAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrExpiredAccess):
		writeError(w, http.StatusUnauthorized, "token_expired", "access token expired")
	case errors.Is(err, session.ErrMissingToken):
		writeError(w, http.StatusUnauthorized, "token_missing", "authorization required")
	default:
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid access token")
	}
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, err := h.Authenticate(r)
	if err != nil {
		WriteAuthError(w, err)
		return
	}

	user, err := h.users.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "identity no longer exists")
			return
		}
		h.log.Error("auth.me.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "profile load failed")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(user)})
}

func (h *Handler) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	claims, err := h.Authenticate(r)
	if err != nil {
		WriteAuthError(w, err)
		return
	}

	var req updateMeRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	// The target identity always comes from the verified token.
	user, err := h.users.UpdateProfile(r.Context(), identity.UpdateProfileInput{
		UserID:   claims.UserID,
		Name:     req.Name,
		Phone:    req.Phone,
		PhotoURL: req.PhotoURL,
		Now:      h.now(),
	})
	if err != nil {
		switch {
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		case identity.IsNotFound(err):
			writeError(w, http.StatusUnauthorized, "unauthorized", "identity no longer exists")
		default:
			h.log.Error("auth.update_me.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "internal", "profile update failed")
		}
		return
	}

	h.log.Info("auth.update_me.ok", "user_id", user.ID)
	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(user)})
}

func (h *Handler) handleOTPSend(w http.ResponseWriter, r *http.Request) {
	var req otpSendRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	if err := h.codes.Send(r.Context(), req.Email); err != nil {
		if identity.IsInvalidInput(err) {
			writeError(w, http.StatusBadRequest, "invalid_input", "invalid email address")
			return
		}
		h.log.Error("auth.otp.send.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "code delivery failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleOTPVerify(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	if err := h.codes.Verify(r.Context(), req.Email, req.Code); err != nil {
		switch {
		case errors.Is(err, otp.ErrCodeMismatch):
			writeError(w, http.StatusBadRequest, "code_mismatch", "wrong code")
		case errors.Is(err, otp.ErrCodeExpired):
			writeError(w, http.StatusBadRequest, "code_expired", "code expired, request a new one")
		case errors.Is(err, otp.ErrTooManyAttempts):
			writeError(w, http.StatusTooManyRequests, "too_many_attempts", "request a new code")
		default:
			h.log.Error("auth.otp.verify.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "internal", "verification failed")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Phone:     u.Phone,
		PhotoURL:  u.PhotoURL,
		CreatedAt: u.CreatedAt,
	}
}
