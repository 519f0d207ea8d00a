package domain

// Principal is the caller identity supplied by the upstream identity provider.
type Principal struct {
	TenantID string
	UserID   string
}

// TokenClaims contains the identity token fields the gateway relies on.
type TokenClaims struct {
	TenantID  string
	UserID    string
	IssuedAt  int64
	ExpiresAt int64
}
