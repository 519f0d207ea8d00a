package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// AuthKind discriminates the AuthConfig variants.
type AuthKind string

const (
	AuthKindNone   AuthKind = "none"
	AuthKindAPIKey AuthKind = "api_key"
	AuthKindBearer AuthKind = "bearer"
	AuthKindOAuth2 AuthKind = "oauth2"
	AuthKindBasic  AuthKind = "basic"
)

// AuthConfig is the credential configuration of a connection. The concrete
// types below are the only implementations.
type AuthConfig interface {
	Kind() AuthKind
	Validate() error
	isAuthConfig()
}

// NoAuth sends requests without credentials.
type NoAuth struct{}

// APIKeyLocation says where an API key is placed.
type APIKeyLocation string

const (
	APIKeyInHeader APIKeyLocation = "header"
	APIKeyInQuery  APIKeyLocation = "query"
)

// APIKeyAuth sends a static key in a named header or query parameter.
type APIKeyAuth struct {
	Key  string
	Name string
	In   APIKeyLocation
}

// BearerAuth sends a static bearer token.
type BearerAuth struct {
	Token string
}

// OAuth2Auth sends the current access token and refreshes it on 401.
type OAuth2Auth struct {
	AccessToken  string
	RefreshToken string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	ExpiresAt    *time.Time
}

// BasicAuth sends HTTP basic credentials.
type BasicAuth struct {
	Username string
	Password string
}

func (NoAuth) Kind() AuthKind     { return AuthKindNone }
func (APIKeyAuth) Kind() AuthKind { return AuthKindAPIKey }
func (BearerAuth) Kind() AuthKind { return AuthKindBearer }
func (OAuth2Auth) Kind() AuthKind { return AuthKindOAuth2 }
func (BasicAuth) Kind() AuthKind  { return AuthKindBasic }

func (NoAuth) isAuthConfig()     {}
func (APIKeyAuth) isAuthConfig() {}
func (BearerAuth) isAuthConfig() {}
func (OAuth2Auth) isAuthConfig() {}
func (BasicAuth) isAuthConfig()  {}

func (NoAuth) Validate() error { return nil }

func (a APIKeyAuth) Validate() error {
	if a.Key == "" {
		return NewValidationError("authentication.apiKey", "is required")
	}
	if a.In != "" && a.In != APIKeyInHeader && a.In != APIKeyInQuery {
		return NewValidationError("authentication.in", "must be header or query")
	}
	return nil
}

// ParamName returns the header or query parameter name carrying the key.
func (a APIKeyAuth) ParamName() string {
	if a.Name != "" {
		return a.Name
	}
	if a.In == APIKeyInQuery {
		return "api_key"
	}
	return "X-API-Key"
}

func (a BearerAuth) Validate() error {
	if a.Token == "" {
		return NewValidationError("authentication.token", "is required")
	}
	return nil
}

func (a OAuth2Auth) Validate() error {
	if a.AccessToken == "" {
		return NewValidationError("authentication.accessToken", "is required")
	}
	if a.RefreshToken != "" && a.TokenURL == "" {
		return NewValidationError("authentication.tokenUrl", "is required to refresh tokens")
	}
	return nil
}

// CanRefresh reports whether a refresh grant can be attempted.
func (a OAuth2Auth) CanRefresh() bool {
	return a.RefreshToken != "" && a.TokenURL != ""
}

func (a BasicAuth) Validate() error {
	if a.Username == "" {
		return NewValidationError("authentication.username", "is required")
	}
	return nil
}

// authConfigJSON is the flat plaintext form sealed inside an envelope.
type authConfigJSON struct {
	Type         AuthKind       `json:"type"`
	APIKey       string         `json:"apiKey,omitempty"`
	KeyName      string         `json:"keyName,omitempty"`
	KeyIn        APIKeyLocation `json:"in,omitempty"`
	Token        string         `json:"token,omitempty"`
	AccessToken  string         `json:"accessToken,omitempty"`
	RefreshToken string         `json:"refreshToken,omitempty"`
	TokenURL     string         `json:"tokenUrl,omitempty"`
	ClientID     string         `json:"clientId,omitempty"`
	ClientSecret string         `json:"clientSecret,omitempty"`
	Scopes       []string       `json:"scopes,omitempty"`
	ExpiresAt    *time.Time     `json:"expiresAt,omitempty"`
	Username     string         `json:"username,omitempty"`
	Password     string         `json:"password,omitempty"`
}

// MarshalAuthConfig serializes an AuthConfig to its plaintext JSON form.
func MarshalAuthConfig(cfg AuthConfig) ([]byte, error) {
	var out authConfigJSON
	switch a := cfg.(type) {
	case NoAuth:
		out.Type = AuthKindNone
	case APIKeyAuth:
		out = authConfigJSON{Type: AuthKindAPIKey, APIKey: a.Key, KeyName: a.Name, KeyIn: a.In}
	case BearerAuth:
		out = authConfigJSON{Type: AuthKindBearer, Token: a.Token}
	case OAuth2Auth:
		out = authConfigJSON{
			Type:         AuthKindOAuth2,
			AccessToken:  a.AccessToken,
			RefreshToken: a.RefreshToken,
			TokenURL:     a.TokenURL,
			ClientID:     a.ClientID,
			ClientSecret: a.ClientSecret,
			Scopes:       a.Scopes,
			ExpiresAt:    a.ExpiresAt,
		}
	case BasicAuth:
		out = authConfigJSON{Type: AuthKindBasic, Username: a.Username, Password: a.Password}
	case nil:
		return nil, NewValidationError("authentication", "is required")
	default:
		return nil, fmt.Errorf("unsupported auth config %T", cfg)
	}
	return json.Marshal(out)
}

// UnmarshalAuthConfig parses the plaintext JSON form back into a variant.
func UnmarshalAuthConfig(data []byte) (AuthConfig, error) {
	var in authConfigJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode auth config: %w", err)
	}
	switch in.Type {
	case AuthKindNone:
		return NoAuth{}, nil
	case "":
		return nil, NewValidationError("authentication.type", "is required")
	case AuthKindAPIKey:
		return APIKeyAuth{Key: in.APIKey, Name: in.KeyName, In: in.KeyIn}, nil
	case AuthKindBearer:
		return BearerAuth{Token: in.Token}, nil
	case AuthKindOAuth2:
		return OAuth2Auth{
			AccessToken:  in.AccessToken,
			RefreshToken: in.RefreshToken,
			TokenURL:     in.TokenURL,
			ClientID:     in.ClientID,
			ClientSecret: in.ClientSecret,
			Scopes:       in.Scopes,
			ExpiresAt:    in.ExpiresAt,
		}, nil
	case AuthKindBasic:
		return BasicAuth{Username: in.Username, Password: in.Password}, nil
	default:
		return nil, NewValidationError("authentication.type", fmt.Sprintf("unknown auth type %q", in.Type))
	}
}

// AuthConfigEqual reports whether two configs carry identical credentials.
func AuthConfigEqual(a, b AuthConfig) bool {
	ab, errA := MarshalAuthConfig(a)
	bb, errB := MarshalAuthConfig(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}
