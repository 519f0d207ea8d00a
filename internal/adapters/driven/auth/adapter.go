package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
	"github.com/custodia-labs/integration-gateway/internal/core/ports/driven"
)

// Ensure Adapter implements IdentityVerifier
var _ driven.IdentityVerifier = (*Adapter)(nil)

// jwtClaims is the wire form of domain.TokenClaims
type jwtClaims struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	jwt.RegisteredClaims
}

// Adapter verifies HS256 identity tokens minted by the upstream identity provider
type Adapter struct {
	secret []byte
}

// NewAdapter creates a verifier for the given shared secret
func NewAdapter(secret string) *Adapter {
	return &Adapter{secret: []byte(secret)}
}

// GenerateToken signs claims
func (a *Adapter) GenerateToken(claims *domain.TokenClaims) (string, error) {
	jc := jwtClaims{
		TenantID: claims.TenantID,
		UserID:   claims.UserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.UserID,
			IssuedAt:  jwt.NewNumericDate(time.Unix(claims.IssuedAt, 0)),
			ExpiresAt: jwt.NewNumericDate(time.Unix(claims.ExpiresAt, 0)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jc).SignedString(a.secret)
}

// ParseToken validates a token and extracts the tenant and user
func (a *Adapter) ParseToken(tokenString string) (*domain.TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwtClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithExpirationRequired())
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, domain.ErrTokenExpired
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*jwtClaims)
	if !ok || !token.Valid {
		return nil, domain.ErrTokenInvalid
	}
	if claims.TenantID == "" {
		return nil, fmt.Errorf("%w: token has no tenant", domain.ErrTokenInvalid)
	}

	out := &domain.TokenClaims{
		TenantID:  claims.TenantID,
		UserID:    claims.UserID,
		ExpiresAt: claims.ExpiresAt.Unix(),
	}
	if out.UserID == "" {
		out.UserID = claims.Subject
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Unix()
	}
	return out, nil
}
