package auth

import (
	"fmt"
)

// Decode builds an Auth from a raw auth object as decoded from a call
// template definition. The auth_type field selects the concrete type;
// the result is validated before being returned.
func Decode(raw map[string]any) (Auth, error) {
	if raw == nil {
		return nil, nil
	}

	authType, _ := raw["auth_type"].(string)

	var a Auth
	switch authType {
	case TypeAPIKey:
		a = &ApiKeyAuth{
			APIKey:   stringField(raw, "api_key"),
			VarName:  stringField(raw, "var_name"),
			Location: stringField(raw, "location"),
		}
	case TypeBasic:
		a = &BasicAuth{
			Username: stringField(raw, "username"),
			Password: stringField(raw, "password"),
		}
	case TypeOAuth2:
		a = &OAuth2Auth{
			TokenURL:     stringField(raw, "token_url"),
			ClientID:     stringField(raw, "client_id"),
			ClientSecret: stringField(raw, "client_secret"),
			Scope:        stringField(raw, "scope"),
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAuthType, authType)
	}

	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Encode renders an Auth back to its raw object form, auth_type included.
// Used when writing providers files; secrets are included because the file
// is the credential store, unlike logs.
func Encode(a Auth) map[string]any {
	switch v := a.(type) {
	case *ApiKeyAuth:
		out := map[string]any{"auth_type": TypeAPIKey, "api_key": v.APIKey}
		if v.VarName != "" {
			out["var_name"] = v.VarName
		}
		if v.Location != "" {
			out["location"] = v.Location
		}
		return out
	case *BasicAuth:
		return map[string]any{"auth_type": TypeBasic, "username": v.Username, "password": v.Password}
	case *OAuth2Auth:
		out := map[string]any{
			"auth_type":     TypeOAuth2,
			"token_url":     v.TokenURL,
			"client_id":     v.ClientID,
			"client_secret": v.ClientSecret,
		}
		if v.Scope != "" {
			out["scope"] = v.Scope
		}
		return out
	default:
		return nil
	}
}

func stringField(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return s
}
