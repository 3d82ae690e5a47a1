package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/apascualco/foodgate/internal/domain"
	"github.com/gin-gonic/gin"
)

const (
	ContextKeyAdminSubject = "admin_subject"
	ContextKeyClaims       = "claims"

	HeaderAuthorization = "Authorization"
	BearerPrefix        = "Bearer "
)

// AdminTokenValidator is satisfied by jwt.Service.
type AdminTokenValidator interface {
	ValidateAdminToken(token string) (*domain.AdminClaims, error)
}

type AuthMiddleware struct {
	validator AdminTokenValidator
}

func NewAuthMiddleware(validator AdminTokenValidator) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
	}
}

// RequireAdmin guards the internal endpoints with a bearer token carrying
// the gateway admin scope.
func (a *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractBearerToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "missing authorization token",
			})
			return
		}

		claims, err := a.validator.ValidateAdminToken(tokenString)
		if err != nil {
			slog.Warn("admin token rejected", "error", err, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": tokenErrorMessage(err),
			})
			return
		}

		if !claims.HasScope(domain.ScopeGatewayAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":    "forbidden",
				"message":  "insufficient scopes",
				"required": []string{domain.ScopeGatewayAdmin},
				"provided": claims.Scopes,
			})
			return
		}

		c.Set(ContextKeyAdminSubject, claims.Subject)
		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

func tokenErrorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, domain.ErrTokenIssuerNotAllowed):
		return "token issuer not allowed"
	default:
		return "invalid token"
	}
}

func extractBearerToken(c *gin.Context) string {
	auth := c.GetHeader(HeaderAuthorization)
	if auth == "" {
		return ""
	}
	if !strings.HasPrefix(auth, BearerPrefix) {
		return ""
	}
	return strings.TrimPrefix(auth, BearerPrefix)
}
