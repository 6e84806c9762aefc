package auth

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"

	"classroom-api/internal/observability"
)

// UserFinder is the slice of the credential store the middleware needs to
// resolve a token subject into an identity.
type UserFinder interface {
	FindByID(ctx context.Context, id string) (User, error)
}

// Middleware authenticates every inbound request: it extracts the credential
// from cookies or headers, applies the CSRF verdict to mutating
// cookie-authenticated requests, silently refreshes expired access cookies
// from a refresh cookie, and attaches the resolved identity to the request
// context.
type Middleware struct {
	codec  *Codec
	tokens *TokenService
	users  UserFinder
	logger *observability.Logger
}

func NewMiddleware(codec *Codec, tokens *TokenService, users UserFinder, logger *observability.Logger) *Middleware {
	return &Middleware{codec: codec, tokens: tokens, users: users, logger: logger}
}

type userContextKey struct{}

// WithUser attaches a resolved identity to the context.
func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// CurrentUser returns the identity resolved for this request, if any.
// Anonymous requests leave it unset.
func CurrentUser(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(userContextKey{}).(User)
	return user, ok
}

// Require guards a route behind a minimum role. A higher role always
// satisfies a lower requirement.
func (m *Middleware) Require(role Role) func(http.Handler) http.Handler {
	return m.authenticate(&role)
}

// Optional resolves an identity when a credential is present but lets
// anonymous requests through.
func (m *Middleware) Optional() func(http.Handler) http.Handler {
	return m.authenticate(nil)
}

func (m *Middleware) authenticate(required *Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var token string
			fromCookie := false
			fromRefresh := false
			if cookie, err := r.Cookie(AccessTokenCookie); err == nil && cookie.Value != "" {
				token = cookie.Value
				fromCookie = true
			} else if cookie, err := r.Cookie(RefreshTokenCookie); err == nil && cookie.Value != "" {
				token = cookie.Value
				fromCookie = true
				fromRefresh = true
			} else {
				token = strings.TrimSpace(r.Header.Get("X-Access-Token"))
				if token == "" {
					token = strings.TrimSpace(r.Header.Get("Authorization"))
				}
			}

			// Cookie-carried credentials on a mutating request must come with
			// a matching CSRF token, regardless of token validity.
			if fromCookie && r.Method != http.MethodGet && !IsCSRFValid(r.Context()) {
				writeError(w, http.StatusUnauthorized, "bad csrf token")
				return
			}

			if fromRefresh {
				access, ok := m.tokens.RefreshAccessToken(token)
				if !ok {
					writeError(w, http.StatusUnauthorized, "invalid refresh token")
					return
				}
				setAuthCookie(w, AccessTokenCookie, access, m.tokens.AccessTTL())
				token = access
			}

			token = strings.TrimPrefix(token, "Bearer ")

			if !m.codec.Enabled() {
				// Authentication is disabled: everything is anonymous, and
				// routes that demand a role cannot be satisfied.
				if required == nil {
					next.ServeHTTP(w, r)
					return
				}
				writeError(w, http.StatusUnauthorized, "invalid access token")
				return
			}

			if required == nil && token == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := m.codec.Verify(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid access token")
				return
			}

			user, err := m.users.FindByID(r.Context(), claims.SubjectID)
			if err != nil {
				if !errors.Is(err, sql.ErrNoRows) {
					sentry.CaptureException(err)
				}
				if required != nil {
					writeError(w, http.StatusUnauthorized, "invalid access token")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if required != nil && !user.Role.Satisfies(*required) {
				writeError(w, http.StatusForbidden, "Forbidden")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user.Sanitized())))
		})
	}
}
