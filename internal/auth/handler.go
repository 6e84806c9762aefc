package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"golang.org/x/crypto/bcrypt"

	"classroom-api/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

// UserStore is the slice of the credential store the login handler needs.
type UserStore interface {
	FindByLogin(ctx context.Context, login string) (User, error)
	RecordFailedLogin(ctx context.Context, id string) (int, error)
	ResetFailedLogins(ctx context.Context, id string) error
}

type Handler struct {
	users  UserStore
	tokens *TokenService
	codec  *Codec
	logger *observability.Logger
}

func NewHandler(users UserStore, tokens *TokenService, codec *Codec, logger *observability.Logger) *Handler {
	return &Handler{users: users, tokens: tokens, codec: codec, logger: logger}
}

type loginRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	GetRefreshToken bool   `json:"getRefreshToken"`
}

type loginResponse struct {
	User         User   `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Login validates submitted credentials, enforces the lockout policy and on
// success establishes the cookie session. The lockout check runs strictly
// before password verification: a blocked account answers identically whether
// the submitted password is right or wrong.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if !h.codec.Enabled() {
		writeError(w, http.StatusUnauthorized, "authentication is disabled")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body loginRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeAppError(w, http.StatusBadRequest, newAppError("invalid json body", ErrorCodeInvalidData))
		return
	}

	body.Username = strings.TrimSpace(body.Username)
	if body.Username == "" || body.Password == "" {
		writeAppError(w, http.StatusBadRequest, newAppError("username and password are required", ErrorCodeInvalidData))
		return
	}

	user, err := h.users.FindByLogin(r.Context(), body.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeAppError(w, http.StatusUnauthorized, newAppError("Invalid username", ErrorCodeInvalidUsername))
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to login")
		return
	}

	if user.FailedLogins >= LockoutThreshold {
		writeAppError(w, http.StatusUnauthorized, newAppError("Account blocked. Please reset password", ErrorCodeAccountBlocked))
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(body.Password)); err != nil {
		// Comparison-engine faults are logged and fail closed as a plain
		// wrong password so they never leak a distinct failure mode.
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			h.logger.Error("password_verify_failed", map[string]any{"error": err.Error()})
		}
		if _, regErr := h.users.RecordFailedLogin(r.Context(), user.ID); regErr != nil {
			sentry.CaptureException(regErr)
			writeError(w, http.StatusInternalServerError, "failed to login")
			return
		}
		writeAppError(w, http.StatusUnauthorized, newAppError("Invalid password", ErrorCodeInvalidPassword))
		return
	}

	if err := h.users.ResetFailedLogins(r.Context(), user.ID); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to login")
		return
	}

	pair, err := h.tokens.IssuePair(user.ID, body.GetRefreshToken)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to login")
		return
	}

	setAuthCookie(w, AccessTokenCookie, pair.AccessToken, h.tokens.AccessTTL())
	if body.GetRefreshToken {
		setAuthCookie(w, RefreshTokenCookie, pair.RefreshToken, h.tokens.RefreshTTL())
	}
	if csrfToken, err := randomToken(32); err == nil {
		setCSRFCookie(w, csrfToken)
	}

	writeJSON(w, http.StatusOK, loginResponse{
		User:         user.Sanitized(),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

// Logout clears the session cookies. Tokens stay valid until natural expiry;
// there is no server-side revocation by design.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	clearCookie(w, AccessTokenCookie)
	clearCookie(w, RefreshTokenCookie)
	clearCookie(w, CSRFTokenCookie)
	w.WriteHeader(http.StatusNoContent)
}

func setAuthCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:   name,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}
