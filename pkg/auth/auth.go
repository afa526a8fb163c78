package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Auth type discriminators as they appear in the auth_type field of call
// template definitions.
const (
	TypeAPIKey = "api_key"
	TypeBasic  = "basic"
	TypeOAuth2 = "oauth2"
)

// API key placement locations.
const (
	LocationHeader = "header"
	LocationQuery  = "query"
	LocationCookie = "cookie"
)

// DefaultAPIKeyVarName is the header name used when a template omits var_name.
const DefaultAPIKeyVarName = "X-Api-Key"

// Validation errors returned by the concrete auth types.
var (
	ErrMissingAPIKey       = errors.New("API key must be provided")
	ErrInvalidLocation     = errors.New("location must be 'header', 'query', or 'cookie'")
	ErrMissingUsername     = errors.New("username must be provided")
	ErrMissingPassword     = errors.New("password must be provided")
	ErrMissingTokenURL     = errors.New("token URL must be provided")
	ErrMissingClientID     = errors.New("client ID must be provided")
	ErrMissingClientSecret = errors.New("client secret must be provided")
	ErrUnknownAuthType     = errors.New("unknown auth_type")
)

const redacted = "***"

// Auth applies credentials to outgoing HTTP requests. Implementations never
// expose secret material through Redacted or fmt verbs.
type Auth interface {
	// Type returns the auth_type discriminator.
	Type() string

	// Validate checks that required fields are present and well formed.
	Validate() error

	// ApplyTo attaches the credentials to the request.
	ApplyTo(req *http.Request) error

	// Redacted returns a loggable description with secrets masked.
	Redacted() string
}

// ApiKeyAuth places a static key in a header, query parameter, or cookie.
type ApiKeyAuth struct {
	APIKey   string `json:"api_key" yaml:"api_key"`
	VarName  string `json:"var_name,omitempty" yaml:"var_name,omitempty"`
	Location string `json:"location,omitempty" yaml:"location,omitempty"`
}

// NewApiKeyAuth returns an ApiKeyAuth with the conventional defaults:
// header placement under X-Api-Key.
func NewApiKeyAuth(key string) *ApiKeyAuth {
	return &ApiKeyAuth{
		APIKey:   key,
		VarName:  DefaultAPIKeyVarName,
		Location: LocationHeader,
	}
}

func (a *ApiKeyAuth) Type() string { return TypeAPIKey }

func (a *ApiKeyAuth) Validate() error {
	if a.APIKey == "" {
		return ErrMissingAPIKey
	}
	switch a.location() {
	case LocationHeader, LocationQuery, LocationCookie:
		return nil
	default:
		return ErrInvalidLocation
	}
}

func (a *ApiKeyAuth) ApplyTo(req *http.Request) error {
	name := a.VarName
	if name == "" {
		name = DefaultAPIKeyVarName
	}
	switch a.location() {
	case LocationHeader:
		req.Header.Set(name, a.APIKey)
	case LocationQuery:
		q := req.URL.Query()
		q.Set(name, a.APIKey)
		req.URL.RawQuery = q.Encode()
	case LocationCookie:
		req.AddCookie(&http.Cookie{Name: name, Value: a.APIKey})
	default:
		return ErrInvalidLocation
	}
	return nil
}

func (a *ApiKeyAuth) Redacted() string {
	return fmt.Sprintf("api_key(var_name=%s, location=%s, api_key=%s)", a.VarName, a.location(), redacted)
}

func (a *ApiKeyAuth) location() string {
	if a.Location == "" {
		return LocationHeader
	}
	return a.Location
}

// BasicAuth carries HTTP basic credentials.
type BasicAuth struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

func (a *BasicAuth) Type() string { return TypeBasic }

func (a *BasicAuth) Validate() error {
	if a.Username == "" {
		return ErrMissingUsername
	}
	if a.Password == "" {
		return ErrMissingPassword
	}
	return nil
}

func (a *BasicAuth) ApplyTo(req *http.Request) error {
	req.SetBasicAuth(a.Username, a.Password)
	return nil
}

func (a *BasicAuth) Redacted() string {
	return fmt.Sprintf("basic(username=%s, password=%s)", a.Username, redacted)
}

// OAuth2Auth obtains bearer tokens through the client credentials grant.
// The token source caches tokens and refreshes on expiry, so repeated calls
// reuse a valid token instead of hitting the token endpoint each time.
// Must not be copied after first use.
type OAuth2Auth struct {
	TokenURL     string `json:"token_url" yaml:"token_url"`
	ClientID     string `json:"client_id" yaml:"client_id"`
	ClientSecret string `json:"client_secret" yaml:"client_secret"`
	Scope        string `json:"scope,omitempty" yaml:"scope,omitempty"`

	once   sync.Once
	source oauth2.TokenSource
}

func (a *OAuth2Auth) Type() string { return TypeOAuth2 }

func (a *OAuth2Auth) Validate() error {
	if a.TokenURL == "" {
		return ErrMissingTokenURL
	}
	if a.ClientID == "" {
		return ErrMissingClientID
	}
	if a.ClientSecret == "" {
		return ErrMissingClientSecret
	}
	return nil
}

func (a *OAuth2Auth) ApplyTo(req *http.Request) error {
	a.once.Do(func() {
		cfg := &clientcredentials.Config{
			ClientID:     a.ClientID,
			ClientSecret: a.ClientSecret,
			TokenURL:     a.TokenURL,
		}
		if a.Scope != "" {
			cfg.Scopes = strings.Fields(a.Scope)
		}
		a.source = cfg.TokenSource(req.Context())
	})

	token, err := a.source.Token()
	if err != nil {
		return fmt.Errorf("token request to %s failed: %w", a.TokenURL, err)
	}
	token.SetAuthHeader(req)
	return nil
}

func (a *OAuth2Auth) Redacted() string {
	return fmt.Sprintf("oauth2(token_url=%s, client_id=%s, client_secret=%s)", a.TokenURL, a.ClientID, redacted)
}
