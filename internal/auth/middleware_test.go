package auth

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"classroom-api/internal/observability"
)

type fakeUserFinder struct {
	users map[string]User
}

func (f *fakeUserFinder) FindByID(_ context.Context, id string) (User, error) {
	user, ok := f.users[id]
	if !ok {
		return User{}, sql.ErrNoRows
	}
	return user, nil
}

func newTestMiddleware(secret string, users map[string]User) (*Middleware, *Codec, *TokenService) {
	codec := NewCodec(secret)
	tokens := NewTokenService(codec)
	mw := NewMiddleware(codec, tokens, &fakeUserFinder{users: users}, observability.NewLogger())
	return mw, codec, tokens
}

func echoUser(t *testing.T, captured *User) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, ok := CurrentUser(r.Context()); ok {
			*captured = user
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_HeaderCredentials(t *testing.T) {
	users := map[string]User{
		"u1": {ID: "u1", Username: "alice", Role: RoleStandard, PasswordHash: "hash"},
	}
	mw, codec, _ := newTestMiddleware("test-secret", users)

	t.Run("valid bearer token resolves identity", func(t *testing.T) {
		token, err := codec.Issue("u1", time.Hour)
		if err != nil {
			t.Fatalf("Issue() error = %v", err)
		}

		var seen User
		handler := mw.Require(RoleStandard)(echoUser(t, &seen))
		r := httptest.NewRequest("GET", "/activities", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if seen.ID != "u1" {
			t.Errorf("resolved user = %q, want u1", seen.ID)
		}
		if seen.PasswordHash != "" {
			t.Error("password hash must be stripped from the context identity")
		}
	})

	t.Run("x-access-token header works without bearer prefix", func(t *testing.T) {
		token, _ := codec.Issue("u1", time.Hour)

		var seen User
		handler := mw.Require(RoleStandard)(echoUser(t, &seen))
		r := httptest.NewRequest("GET", "/activities", nil)
		r.Header.Set("X-Access-Token", token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
	})

	t.Run("expired bearer token is rejected", func(t *testing.T) {
		expired, _ := codec.Issue("u1", -time.Minute)

		handler := mw.Require(RoleStandard)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not run")
		}))
		r := httptest.NewRequest("GET", "/activities", nil)
		r.Header.Set("Authorization", "Bearer "+expired)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
		if !strings.Contains(w.Body.String(), "invalid access token") {
			t.Errorf("unexpected body: %s", w.Body.String())
		}
	})

	t.Run("header credentials skip the csrf check on mutating requests", func(t *testing.T) {
		token, _ := codec.Issue("u1", time.Hour)

		var seen User
		handler := mw.Require(RoleStandard)(echoUser(t, &seen))
		r := httptest.NewRequest("POST", "/activities", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})
}

func TestMiddleware_CookieCredentialsAndCSRF(t *testing.T) {
	users := map[string]User{
		"u1": {ID: "u1", Username: "alice", Role: RoleStandard},
	}
	mw, codec, _ := newTestMiddleware("test-secret", users)

	t.Run("mutating request with cookie and no csrf is rejected", func(t *testing.T) {
		token, _ := codec.Issue("u1", time.Hour)

		handler := CSRFGuard(mw.Require(RoleStandard)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not run")
		})))
		r := httptest.NewRequest("POST", "/activities", nil)
		r.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: token})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", w.Code)
		}
		if !strings.Contains(w.Body.String(), "bad csrf token") {
			t.Errorf("unexpected body: %s", w.Body.String())
		}
	})

	t.Run("mutating request with matching csrf passes", func(t *testing.T) {
		token, _ := codec.Issue("u1", time.Hour)

		var seen User
		handler := CSRFGuard(mw.Require(RoleStandard)(echoUser(t, &seen)))
		r := httptest.NewRequest("POST", "/activities", nil)
		r.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: token})
		r.AddCookie(&http.Cookie{Name: CSRFTokenCookie, Value: "csrf-1"})
		r.Header.Set(CSRFHeader, "csrf-1")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if seen.ID != "u1" {
			t.Errorf("resolved user = %q, want u1", seen.ID)
		}
	})

	t.Run("GET with cookie bypasses the csrf check", func(t *testing.T) {
		token, _ := codec.Issue("u1", time.Hour)

		var seen User
		handler := CSRFGuard(mw.Require(RoleStandard)(echoUser(t, &seen)))
		r := httptest.NewRequest("GET", "/activities", nil)
		r.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: token})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})
}

func TestMiddleware_SilentRefresh(t *testing.T) {
	users := map[string]User{
		"u1": {ID: "u1", Username: "alice", Role: RoleStandard},
	}
	mw, codec, _ := newTestMiddleware("test-secret", users)

	t.Run("refresh cookie alone renews the access cookie", func(t *testing.T) {
		refresh, _ := codec.Issue("u1", 24*time.Hour)

		var seen User
		handler := mw.Require(RoleStandard)(echoUser(t, &seen))
		r := httptest.NewRequest("GET", "/activities", nil)
		r.AddCookie(&http.Cookie{Name: RefreshTokenCookie, Value: refresh})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if seen.ID != "u1" {
			t.Errorf("resolved user = %q, want u1", seen.ID)
		}

		var renewed *http.Cookie
		for _, cookie := range w.Result().Cookies() {
			if cookie.Name == AccessTokenCookie {
				renewed = cookie
			}
		}
		if renewed == nil {
			t.Fatal("expected a fresh access-token cookie")
		}
		if !renewed.HttpOnly {
			t.Error("access-token cookie must be HttpOnly")
		}
		if _, err := codec.Verify(renewed.Value); err != nil {
			t.Errorf("renewed access token must verify: %v", err)
		}
	})

	t.Run("invalid refresh cookie is rejected", func(t *testing.T) {
		handler := mw.Require(RoleStandard)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not run")
		}))
		r := httptest.NewRequest("GET", "/activities", nil)
		r.AddCookie(&http.Cookie{Name: RefreshTokenCookie, Value: "garbage"})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", w.Code)
		}
		if !strings.Contains(w.Body.String(), "invalid refresh token") {
			t.Errorf("unexpected body: %s", w.Body.String())
		}
	})

	t.Run("access cookie takes priority over refresh cookie", func(t *testing.T) {
		access, _ := codec.Issue("u1", time.Hour)

		handler := mw.Require(RoleStandard)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		r := httptest.NewRequest("GET", "/activities", nil)
		r.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: access})
		r.AddCookie(&http.Cookie{Name: RefreshTokenCookie, Value: "garbage"})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		// The invalid refresh cookie is never consulted.
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})
}

func TestMiddleware_Authorization(t *testing.T) {
	users := map[string]User{
		"std":   {ID: "std", Role: RoleStandard},
		"adm":   {ID: "adm", Role: RoleAdmin},
		"super": {ID: "super", Role: RoleSuperAdmin},
	}
	mw, codec, _ := newTestMiddleware("test-secret", users)

	requestAs := func(t *testing.T, subject string, required Role) int {
		t.Helper()
		token, err := codec.Issue(subject, time.Hour)
		if err != nil {
			t.Fatalf("Issue() error = %v", err)
		}
		handler := mw.Require(required)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		r := httptest.NewRequest("GET", "/activities", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}

	t.Run("higher role satisfies lower requirement", func(t *testing.T) {
		if code := requestAs(t, "adm", RoleStandard); code != http.StatusOK {
			t.Errorf("admin on standard route: status = %d, want 200", code)
		}
		if code := requestAs(t, "super", RoleAdmin); code != http.StatusOK {
			t.Errorf("superadmin on admin route: status = %d, want 200", code)
		}
	})

	t.Run("lower role is forbidden", func(t *testing.T) {
		if code := requestAs(t, "std", RoleAdmin); code != http.StatusForbidden {
			t.Errorf("standard on admin route: status = %d, want 403", code)
		}
	})

	t.Run("unknown subject on a guarded route is unauthorized", func(t *testing.T) {
		if code := requestAs(t, "ghost", RoleStandard); code != http.StatusUnauthorized {
			t.Errorf("unknown subject: status = %d, want 401", code)
		}
	})
}

func TestMiddleware_AnonymousAndDisabled(t *testing.T) {
	users := map[string]User{
		"u1": {ID: "u1", Role: RoleStandard},
	}

	t.Run("optional route without credentials is anonymous", func(t *testing.T) {
		mw, _, _ := newTestMiddleware("test-secret", users)

		anonymous := false
		handler := mw.Optional()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, ok := CurrentUser(r.Context())
			anonymous = !ok
			w.WriteHeader(http.StatusOK)
		}))
		r := httptest.NewRequest("GET", "/activities", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if !anonymous {
			t.Error("expected an anonymous request")
		}
	})

	t.Run("guarded route without credentials is unauthorized", func(t *testing.T) {
		mw, _, _ := newTestMiddleware("test-secret", users)

		handler := mw.Require(RoleStandard)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not run")
		}))
		r := httptest.NewRequest("GET", "/activities", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("disabled secret treats everything as anonymous", func(t *testing.T) {
		mw, _, _ := newTestMiddleware("", users)

		handler := mw.Optional()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		r := httptest.NewRequest("GET", "/activities", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Errorf("optional route: status = %d, want 200", w.Code)
		}

		guarded := mw.Require(RoleStandard)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not run")
		}))
		r = httptest.NewRequest("GET", "/activities", nil)
		w = httptest.NewRecorder()
		guarded.ServeHTTP(w, r)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("guarded route: status = %d, want 401", w.Code)
		}
	})
}
