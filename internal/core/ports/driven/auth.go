package driven

import "github.com/custodia-labs/integration-gateway/internal/core/domain"

// IdentityVerifier validates identity tokens minted by the upstream identity provider.
type IdentityVerifier interface {
	// ParseToken validates a token and extracts its claims.
	ParseToken(token string) (*domain.TokenClaims, error)

	// GenerateToken signs claims (used by tooling and tests).
	GenerateToken(claims *domain.TokenClaims) (string, error)
}
