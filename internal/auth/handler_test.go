package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/techinfoplus/tip-erp/internal/auth"
	"github.com/techinfoplus/tip-erp/internal/shared"
	"github.com/techinfoplus/tip-erp/internal/users"
	_ "github.com/techinfoplus/tip-erp/testing"
)

type stubUsers struct {
	user     users.User
	password string
}

func (s *stubUsers) Authenticate(ctx context.Context, username, password string) (users.User, error) {
	if username != s.user.Username || password != s.password {
		return users.User{}, shared.ErrInvalidCredentials
	}
	return s.user, nil
}

func (s *stubUsers) GetUser(ctx context.Context, id int64) (users.User, error) {
	if id != s.user.ID {
		return users.User{}, users.ErrNotFound
	}
	return s.user, nil
}

func newRouter(t *testing.T) (http.Handler, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	issuer, err := auth.NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	svc := auth.NewService(&stubUsers{
		user:     users.User{ID: 7, Username: "awa", Role: "user", Active: true, Rights: map[string]bool{shared.PermCounter: true}},
		password: "motdepasse1",
	}, issuer, shared.NewTokenStore(client, "test"))
	h := auth.NewHandler(nil, svc)

	r := chi.NewRouter()
	r.Route("/api/auth", func(r chi.Router) {
		h.MountPublic(r)
		r.Group(func(r chi.Router) {
			r.Use(auth.Authenticate(svc, nil))
			h.MountRoutes(r)
		})
	})
	return r, mr
}

func call(r http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestLoginMeLogout(t *testing.T) {
	r, _ := newRouter(t)

	rec := call(r, http.MethodPost, "/api/auth/login", "", `{"username":"awa","password":"motdepasse1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var result auth.LoginResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.NotEmpty(t, result.Token)
	require.Equal(t, "Bearer", result.TokenType)
	require.Equal(t, int64(7), result.User.ID)

	rec = call(r, http.MethodGet, "/api/auth/me", result.Token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"username":"awa"`)

	rec = call(r, http.MethodPost, "/api/auth/logout", result.Token, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = call(r, http.MethodGet, "/api/auth/me", result.Token, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	r, _ := newRouter(t)

	rec := call(r, http.MethodPost, "/api/auth/login", "", `{"username":"awa","password":"nope"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(r, http.MethodPost, "/api/auth/login", "", `{"username":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProtectedRoutesFailClosed(t *testing.T) {
	r, _ := newRouter(t)

	require.Equal(t, http.StatusUnauthorized, call(r, http.MethodGet, "/api/auth/me", "", "").Code)
	require.Equal(t, http.StatusUnauthorized, call(r, http.MethodGet, "/api/auth/me", "garbage", "").Code)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "7",
			Issuer:    "tip-erp",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	token, err := forged.SignedString([]byte("another-secret"))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, call(r, http.MethodGet, "/api/auth/me", token, "").Code)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "7", Issuer: "tip-erp", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, call(r, http.MethodGet, "/api/auth/me", unsigned, "").Code)
}

func TestExpiredTokenRejected(t *testing.T) {
	issuer, err := auth.NewIssuer("test-secret", time.Minute)
	require.NoError(t, err)
	token, _, err := issuer.Issue(users.User{ID: 1, Username: "x"})
	require.NoError(t, err)

	later, err := auth.NewIssuer("test-secret", time.Minute)
	require.NoError(t, err)
	later.SetClock(func() time.Time { return time.Now().Add(2 * time.Minute) })
	_, err = later.Parse(token)
	require.ErrorIs(t, err, jwt.ErrTokenExpired)
}
