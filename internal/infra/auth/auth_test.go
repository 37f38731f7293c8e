package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-scope-resolver/internal/domain"
	"go.uber.org/zap"
)

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func sign(t *testing.T, key *rsa.PrivateKey, claims domain.CustomClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return tok
}

func claimsFor(userID string, exp time.Time) domain.CustomClaims {
	return domain.CustomClaims{
		UserID:           userID,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
	}
}

func TestParseRSAPublicKey(t *testing.T) {
	key := newKey(t)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	data := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	pub, err := ParseRSAPublicKey(data)
	require.NoError(t, err)
	assert.True(t, pub.Equal(&key.PublicKey))

	_, err = ParseRSAPublicKey(nil)
	assert.Error(t, err)
	_, err = ParseRSAPublicKey([]byte("not a pem"))
	assert.Error(t, err)
}

func TestValidator_Authenticate(t *testing.T) {
	key := newKey(t)
	v := NewValidator(&key.PublicKey, 0)

	admin := claimsFor("alice", time.Now().Add(time.Hour))
	admin.Scopes = map[string]bool{"resolver.admin": true}
	p, err := v.Authenticate("Bearer " + sign(t, key, admin))
	require.NoError(t, err)
	assert.Equal(t, "alice", p.UserID)
	assert.True(t, p.HasScope("resolver.admin"))

	subOnly := domain.CustomClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "bob",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	p, err = v.Authenticate(sign(t, key, subOnly))
	require.NoError(t, err)
	assert.Equal(t, "bob", p.UserID)
	assert.False(t, p.HasScope("resolver.admin"))

	// Истек 10 секунд назад: в пределах допуска на расхождение часов
	p, err = v.Authenticate(sign(t, key, claimsFor("alice", time.Now().Add(-10*time.Second))))
	require.NoError(t, err)
	assert.Equal(t, "alice", p.UserID)
}

func TestValidator_Rejects(t *testing.T) {
	key := newKey(t)
	v := NewValidator(&key.PublicKey, 0)

	hs, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claimsFor("alice", time.Now().Add(time.Hour))).SignedString([]byte("secret"))
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		target error
	}{
		{name: "empty header", header: "", target: ErrNoToken},
		{name: "bearer without token", header: "Bearer ", target: ErrNoToken},
		{name: "no user id", header: sign(t, key, claimsFor("", time.Now().Add(time.Hour))), target: ErrNoSubject},
		{name: "expired", header: sign(t, key, claimsFor("alice", time.Now().Add(-time.Hour))), target: jwt.ErrTokenExpired},
		{name: "no exp", header: sign(t, key, domain.CustomClaims{UserID: "alice"}), target: jwt.ErrTokenRequiredClaimMissing},
		{name: "foreign key", header: sign(t, newKey(t), claimsFor("alice", time.Now().Add(time.Hour))), target: jwt.ErrTokenSignatureInvalid},
		{name: "hmac", header: hs, target: jwt.ErrTokenSignatureInvalid},
		{name: "garbage", header: "Bearer nope", target: jwt.ErrTokenMalformed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Authenticate(tc.header)
			assert.ErrorIs(t, err, tc.target)
		})
	}
}

func TestEffectiveUserID_FallsBackToSubject(t *testing.T) {
	c := domain.CustomClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "bob"}}
	assert.Equal(t, "bob", c.EffectiveUserID())
}

func TestMiddleware(t *testing.T) {
	key := newKey(t)
	mw := NewMiddleware(NewValidator(&key.PublicKey, 0), zap.NewNop())

	var seen string
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := FromContext(r.Context())
		seen = p.UserID
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		header string
		status int
		user   string
	}{
		{name: "valid", header: "Bearer " + sign(t, key, claimsFor("alice", time.Now().Add(time.Hour))), status: http.StatusNoContent, user: "alice"},
		{name: "missing header", status: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "no user id", header: "Bearer " + sign(t, key, claimsFor("", time.Now().Add(time.Hour))), status: http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.user, seen)
		})
	}
}

func TestFromContext_Empty(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
}
