package middleware

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"habitat/internal/config"
	"habitat/internal/logger"
	"habitat/pkg/errors"
)

const ClaimsKey = "admin_claims"

// AdminClaims are the claims an operator token carries. Roles must include
// the configured admin role.
type AdminClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// TokenVerifier checks operator bearer tokens against one key.
type TokenVerifier struct {
	method jwt.SigningMethod
	key    interface{}
	role   string
}

// NewTokenVerifier returns nil when cfg configures no key; RequireAdmin then
// refuses everything.
func NewTokenVerifier(cfg config.AdminConfig) (*TokenVerifier, error) {
	v := &TokenVerifier{role: cfg.Role}

	switch {
	case cfg.PublicKeyFile != "":
		pemBytes, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read admin public key: %w", err)
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse admin public key: %w", err)
		}
		v.method, v.key = jwt.SigningMethodRS256, key
	case cfg.Secret != "":
		v.method, v.key = jwt.SigningMethodHS256, []byte(cfg.Secret)
	default:
		return nil, nil
	}

	return v, nil
}

// Verify parses token, checks its signature, expiry and admin role.
func (v *TokenVerifier) Verify(token string) (*AdminClaims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.ErrUnauthorized
	}

	claims := &AdminClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.key, nil
	}, jwt.WithValidMethods([]string{v.method.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return nil, errors.ErrUnauthorized.WithCause(err)
	}

	if claims.Subject == "" {
		return nil, errors.ErrUnauthorized.WithDetail("message", "token has no subject")
	}
	if !slices.Contains(claims.Roles, v.role) {
		return nil, errors.ErrForbidden.WithDetail("message", fmt.Sprintf("role %q required", v.role))
	}
	return claims, nil
}

// RequireAdmin guards operator endpoints. A nil verifier rejects every
// request, so those endpoints are closed unless a key is configured.
func RequireAdmin(v *TokenVerifier, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v == nil {
			reject(c, errors.ErrForbidden.WithDetail("message", "admin authentication is not configured"))
			return
		}

		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			reject(c, errors.ErrUnauthorized)
			return
		}

		claims, err := v.Verify(token)
		if err != nil {
			log.WarnwCtx(c.Request.Context(), "Admin request refused",
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"error", err,
			)
			reject(c, err)
			return
		}

		c.Set(ClaimsKey, claims)
		log.InfowCtx(c.Request.Context(), "Admin request",
			"subject", claims.Subject,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)
		c.Next()
	}
}

func reject(c *gin.Context, err error) {
	c.AbortWithStatusJSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}
