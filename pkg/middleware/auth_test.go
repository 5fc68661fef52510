package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitat/internal/config"
	"habitat/internal/logger"
	"habitat/pkg/errors"
)

func writePublicKey(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "admin.pub")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))
	return path
}

func claims(subject string, expires time.Time, roles ...string) AdminClaims {
	c := AdminClaims{Roles: roles, RegisteredClaims: jwt.RegisteredClaims{Subject: subject}}
	if !expires.IsZero() {
		c.ExpiresAt = jwt.NewNumericDate(expires)
	}
	return c
}

func TestNewTokenVerifier(t *testing.T) {
	v, err := NewTokenVerifier(config.AdminConfig{Role: "admin"})
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = NewTokenVerifier(config.AdminConfig{PublicKeyFile: filepath.Join(t.TempDir(), "missing.pem"), Role: "admin"})
	assert.Error(t, err)
}

func TestTokenVerifierRS256(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	v, err := NewTokenVerifier(config.AdminConfig{PublicKeyFile: writePublicKey(t, key), Role: "admin"})
	require.NoError(t, err)
	require.NotNil(t, v)

	sign := func(k *rsa.PrivateKey, c AdminClaims) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, c).SignedString(k)
		require.NoError(t, err)
		return token
	}
	hour := time.Now().Add(time.Hour)

	tests := []struct {
		name        string
		token       string
		wantErr     error
		wantSubject string
	}{
		{name: "valid", token: sign(key, claims("ops", hour, "viewer", "admin")), wantSubject: "ops"},
		{name: "other key", token: sign(other, claims("ops", hour, "admin")), wantErr: errors.ErrUnauthorized},
		{name: "expired", token: sign(key, claims("ops", time.Now().Add(-time.Minute), "admin")), wantErr: errors.ErrUnauthorized},
		{name: "no expiry", token: sign(key, claims("ops", time.Time{}, "admin")), wantErr: errors.ErrUnauthorized},
		{name: "no subject", token: sign(key, claims("", hour, "admin")), wantErr: errors.ErrUnauthorized},
		{name: "no role", token: sign(key, claims("ops", hour, "viewer")), wantErr: errors.ErrForbidden},
		{name: "empty", token: "", wantErr: errors.ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Verify(tt.token)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSubject, got.Subject)
		})
	}
}

func TestTokenVerifierRejectsAlgorithmSwitch(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	path := writePublicKey(t, key)
	v, err := NewTokenVerifier(config.AdminConfig{PublicKeyFile: path, Role: "admin"})
	require.NoError(t, err)

	// HS256 keyed with the public key, which anyone can read.
	pubPEM, err := os.ReadFile(path)
	require.NoError(t, err)
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims("ops", time.Now().Add(time.Hour), "admin")).SignedString(pubPEM)
	require.NoError(t, err)

	_, err = v.Verify(forged)
	assert.ErrorIs(t, err, errors.ErrUnauthorized)
}

func TestRequireAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v, err := NewTokenVerifier(config.AdminConfig{Secret: "s3cret", Role: "admin"})
	require.NoError(t, err)

	newEngine := func(v *TokenVerifier) *gin.Engine {
		r := gin.New()
		r.POST("/admin", RequireAdmin(v, logger.NopLogger()), func(c *gin.Context) {
			claims := c.MustGet(ClaimsKey).(*AdminClaims)
			c.String(http.StatusOK, claims.Subject)
		})
		return r
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims("ops", time.Now().Add(time.Hour), "admin")).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	tests := []struct {
		name       string
		verifier   *TokenVerifier
		header     string
		wantStatus int
	}{
		{name: "valid", verifier: v, header: "Bearer " + token, wantStatus: http.StatusOK},
		{name: "missing header", verifier: v, wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", verifier: v, header: "Basic " + token, wantStatus: http.StatusUnauthorized},
		{name: "not configured", verifier: nil, header: "Bearer " + token, wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			newEngine(tt.verifier).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "ops", w.Body.String())
			}
		})
	}
}
