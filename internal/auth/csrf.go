package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

// CSRFHeader is the header the client echoes the csrf-token cookie back in on
// mutating requests.
const CSRFHeader = "X-Csrf-Token"

const csrfCookieTTL = 24 * time.Hour

type csrfContextKey struct{}

// CSRFGuard computes double-submit validity once per request and caches the
// verdict on the context: the non-HttpOnly csrf-token cookie must match the
// echoed header. Requests that carry no csrf cookie get a fresh one so page
// scripts can pick it up; validity for such requests stays false, which only
// matters when cookie credentials are also present.
func CSRFGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		valid := false
		cookie, err := r.Cookie(CSRFTokenCookie)
		if err == nil && cookie.Value != "" {
			echoed := strings.TrimSpace(r.Header.Get(CSRFHeader))
			valid = echoed != "" && subtle.ConstantTimeCompare([]byte(echoed), []byte(cookie.Value)) == 1
		} else if token, randErr := randomToken(32); randErr == nil {
			setCSRFCookie(w, token)
		}

		ctx := context.WithValue(r.Context(), csrfContextKey{}, valid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IsCSRFValid reads the verdict cached by CSRFGuard. Requests that never went
// through the guard count as invalid.
func IsCSRFValid(ctx context.Context) bool {
	valid, _ := ctx.Value(csrfContextKey{}).(bool)
	return valid
}

func setCSRFCookie(w http.ResponseWriter, token string) {
	// Deliberately not HttpOnly: the frontend reads this cookie to echo it
	// back in the header.
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFTokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(csrfCookieTTL.Seconds()),
		Expires:  time.Now().Add(csrfCookieTTL),
		SameSite: http.SameSiteLaxMode,
	})
}

func randomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
