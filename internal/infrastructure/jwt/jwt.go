package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/apascualco/foodgate/internal/domain"
	"github.com/apascualco/foodgate/internal/infrastructure/config"
	"github.com/golang-jwt/jwt/v5"
)

// Service validates the HS256 tokens accepted on the admin endpoints.
type Service struct {
	secret []byte
	issuer string
}

func NewService(cfg *config.Config) (*Service, error) {
	if cfg.AdminJWTSecret == "" {
		return nil, fmt.Errorf("admin jwt secret not configured")
	}
	return NewServiceWithSecret([]byte(cfg.AdminJWTSecret), cfg.AdminJWTIssuer), nil
}

func NewServiceWithSecret(secret []byte, issuer string) *Service {
	return &Service{
		secret: secret,
		issuer: issuer,
	}
}

func (s *Service) ValidateAdminToken(tokenString string) (*domain.AdminClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, domain.ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
			return nil, domain.ErrTokenMissingExpiry
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, domain.ErrTokenInvalidSignature
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrTokenMalformed, err)
	}

	if !token.Valid {
		return nil, domain.ErrTokenMalformed
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, domain.ErrTokenMalformed
	}

	claims := &domain.AdminClaims{
		Subject: getStringClaim(mapClaims, "sub"),
		Scopes:  getStringSliceClaim(mapClaims, "scopes"),
		Issuer:  getStringClaim(mapClaims, "iss"),
	}

	if iat, ok := mapClaims["iat"].(float64); ok {
		claims.IssuedAt = int64(iat)
	}
	if exp, ok := mapClaims["exp"].(float64); ok {
		claims.ExpiresAt = int64(exp)
	}

	if err := claims.Valid(); err != nil {
		return nil, err
	}

	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, fmt.Errorf("%w: %q", domain.ErrTokenIssuerNotAllowed, claims.Issuer)
	}

	return claims, nil
}

// GenerateAdminToken signs a token for operators and tests.
func (s *Service) GenerateAdminToken(subject string, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":    subject,
		"scopes": scopes,
		"iss":    s.issuer,
		"iat":    now.Unix(),
		"exp":    now.Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func getStringClaim(claims jwt.MapClaims, key string) string {
	if val, ok := claims[key].(string); ok {
		return val
	}
	return ""
}

func getStringSliceClaim(claims jwt.MapClaims, key string) []string {
	if val, ok := claims[key].([]interface{}); ok {
		result := make([]string, 0, len(val))
		for _, v := range val {
			if s, ok := v.(string); ok {
				result = append(result, s)
			}
		}
		return result
	}
	return nil
}
