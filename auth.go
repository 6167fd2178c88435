package fetchkit

import (
	"encoding/base64"
)

// AuthType selects the authentication scheme.
type AuthType string

const (
	AuthBasic  AuthType = "basic"
	AuthBearer AuthType = "bearer"
	AuthAPIKey AuthType = "apikey"
)

// Auth describes request authentication. It is a pure config → headers
// mapping; no credentials are stored beyond the request.
type Auth struct {
	Type AuthType `validate:"required,oneof=basic bearer apikey"`

	// Basic.
	Username string
	Password string

	// Bearer.
	Token string

	// APIKey: arbitrary header name/value pair.
	Header string
	Value  string
}

// headers synthesizes the auth headers for the configured scheme.
func (a *Auth) headers() (map[string]string, error) {
	switch a.Type {
	case AuthBasic:
		if a.Username == "" {
			return nil, validationError("basic auth requires a username")
		}
		cred := base64.StdEncoding.EncodeToString([]byte(a.Username + ":" + a.Password))
		return map[string]string{"Authorization": "Basic " + cred}, nil

	case AuthBearer:
		if a.Token == "" {
			return nil, validationError("bearer auth requires a token")
		}
		return map[string]string{"Authorization": "Bearer " + a.Token}, nil

	case AuthAPIKey:
		if a.Header == "" || a.Value == "" {
			return nil, validationError("apikey auth requires a header name and value")
		}
		return map[string]string{a.Header: a.Value}, nil

	default:
		return nil, validationError("unknown auth type %q", a.Type)
	}
}
