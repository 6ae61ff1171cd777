package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionManager(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "catalog_session", "test-secret", time.Hour, false), mr
}

func TestSessionRoundTripKeepsCSRFToken(t *testing.T) {
	ctx := context.Background()
	sm, mr := newTestSessionManager(t)
	csrf := NewCSRFManager("secret")

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	token, err := csrf.EnsureToken(ctx, sess)
	require.NoError(t, err)
	sess.AddFlash(FlashMessage{Kind: "success", Message: "saved"})

	rr := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rr, sess))
	assert.True(t, mr.Exists("catalog:session:"+sess.ID))

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	req := httptest.NewRequest(http.MethodPost, "/fetch", nil)
	req.AddCookie(cookies[0])

	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, loaded.ID)
	assert.NoError(t, csrf.VerifyToken(ctx, loaded, token))
	assert.ErrorIs(t, csrf.VerifyToken(ctx, loaded, "forged"), ErrCSRFTokenMismatch)

	flash := loaded.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "saved", flash.Message)
	assert.Nil(t, loaded.PopFlash())
}

func TestSessionUnknownCookieStartsFresh(t *testing.T) {
	sm, _ := newTestSessionManager(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "catalog_session", Value: "stale"})

	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, "stale", sess.ID)
	assert.Empty(t, sess.Get(CSRFSessionKey))
}

func TestCSRFExemptPrefixes(t *testing.T) {
	csrf := NewCSRFManager("secret", "/api/", "/debug/")
	assert.True(t, csrf.Exempt("/api/products/search"))
	assert.True(t, csrf.Exempt("/debug/fetch"))
	assert.False(t, csrf.Exempt("/products"))
	assert.False(t, csrf.Exempt("/fetch"))
}

func TestTokenFromRequestPrefersHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodDelete, "/products/1", nil)
	req.Header.Set(CSRFHeader, "from-header")
	assert.Equal(t, "from-header", TokenFromRequest(req))
}

func TestSessionTamperedCookieStartsFresh(t *testing.T) {
	ctx := context.Background()
	sm, _ := newTestSessionManager(t)

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.Set("owner", "alice")
	rr := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rr, sess))
	signed := rr.Result().Cookies()[0].Value
	assert.NotEqual(t, sess.ID, signed)

	// A bare id or one signed with another secret is rejected even though the session exists.
	other := NewSessionManager(sm.client, "catalog_session", "other-secret", time.Hour, false)
	for _, value := range []string{sess.ID, other.sign(sess.ID), signed + "x"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "catalog_session", Value: value})
		loaded, err := sm.Load(ctx, req)
		require.NoError(t, err)
		assert.NotEqual(t, sess.ID, loaded.ID, value)
		assert.Empty(t, loaded.Get("owner"))
	}
}
