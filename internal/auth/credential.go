package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the credential variants.
type Kind string

const (
	KindOAuth  Kind = "oauth"
	KindAPIKey Kind = "api_key"
)

// API key prefixes issued by the service.
const (
	LiveKeyPrefix = "kanuni_live_"
	TestKeyPrefix = "kanuni_test_"
)

// OAuthToken is the refreshable credential variant.
type OAuthToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// APIKey is the static credential variant.
type APIKey struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	Prefix string `json:"prefix"`
	Last4  string `json:"last_4"`
}

// Masked renders the key without its secret part.
func (k APIKey) Masked() string {
	return k.Prefix + "..." + k.Last4
}

// Credential holds exactly one of OAuth or APIKey, selected by Type.
type Credential struct {
	Type   Kind        `json:"type"`
	OAuth  *OAuthToken `json:"oauth,omitempty"`
	APIKey *APIKey     `json:"api_key,omitempty"`
}

// Validate checks that the active variant matches Type and is the only one set.
func (c Credential) Validate() error {
	switch c.Type {
	case KindOAuth:
		if c.OAuth == nil || c.APIKey != nil {
			return fmt.Errorf("oauth credential must carry only an oauth token")
		}
		if c.OAuth.AccessToken == "" {
			return fmt.Errorf("oauth credential is missing an access token")
		}
	case KindAPIKey:
		if c.APIKey == nil || c.OAuth != nil {
			return fmt.Errorf("api key credential must carry only an api key")
		}
		if c.APIKey.Key == "" {
			return fmt.Errorf("api key credential is missing the key")
		}
	default:
		return fmt.Errorf("unknown credential type %q", c.Type)
	}
	return nil
}

// StoredCredentials is the document persisted in auth.json.
type StoredCredentials struct {
	Auth      Credential `json:"auth"`
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	Email     string     `json:"email,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (s *StoredCredentials) clone() *StoredCredentials {
	if s == nil {
		return nil
	}
	out := *s
	if s.Auth.OAuth != nil {
		tok := *s.Auth.OAuth
		out.Auth.OAuth = &tok
	}
	if s.Auth.APIKey != nil {
		key := *s.Auth.APIKey
		out.Auth.APIKey = &key
	}
	if s.UserID != nil {
		id := *s.UserID
		out.UserID = &id
	}
	return &out
}

// ParseAPIKey checks the key format and extracts its display parts.
func ParseAPIKey(key string) (*APIKey, error) {
	key = strings.TrimSpace(key)
	var prefix string
	switch {
	case strings.HasPrefix(key, LiveKeyPrefix):
		prefix = LiveKeyPrefix
	case strings.HasPrefix(key, TestKeyPrefix):
		prefix = TestKeyPrefix
	default:
		return nil, fmt.Errorf("invalid API key format: expected %s or %s prefix", LiveKeyPrefix, TestKeyPrefix)
	}
	suffix := key[len(prefix):]
	if len(suffix) < 4 {
		return nil, fmt.Errorf("invalid API key format: key is too short")
	}
	return &APIKey{
		Key:    key,
		Name:   "CLI Key",
		Prefix: prefix,
		Last4:  suffix[len(suffix)-4:],
	}, nil
}
