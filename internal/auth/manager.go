package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/oremus-labs/kanuni/internal/clock"
	"github.com/oremus-labs/kanuni/internal/logutil"
	"github.com/oremus-labs/kanuni/internal/metrics"
)

const (
	// RefreshMargin is how long before expiry an OAuth token is refreshed.
	RefreshMargin = 5 * time.Minute

	defaultTokenLifetime = time.Hour
	refreshKey           = "refresh"
)

// Grant is a token response from login, device authorization or refresh.
type Grant struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	UserID       string `json:"-"`
	Email        string `json:"-"`
}

// Refresher exchanges a refresh token for a new grant.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Grant, error)
}

// Manager hands out bearer tokens, refreshing OAuth tokens before they expire.
// AccessToken is safe for concurrent use; at most one refresh runs at a time.
type Manager struct {
	store     CredentialStore
	refresher Refresher
	clock     clock.Clock

	mu     sync.RWMutex
	cached *StoredCredentials
	flight singleflight.Group
}

// NewManager builds a Manager. A nil clock means wall time.
func NewManager(store CredentialStore, refresher Refresher, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.Real()
	}
	return &Manager{store: store, refresher: refresher, clock: clk}
}

// AccessToken returns a token usable as a bearer credential.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	creds, err := m.load()
	if err != nil {
		return "", err
	}
	switch creds.Auth.Type {
	case KindAPIKey:
		return creds.Auth.APIKey.Key, nil
	case KindOAuth:
		if m.fresh(creds.Auth.OAuth) {
			return creds.Auth.OAuth.AccessToken, nil
		}
	default:
		return "", fmt.Errorf("unknown credential type %q", creds.Auth.Type)
	}

	ch := m.flight.DoChan(refreshKey, func() (interface{}, error) {
		return m.refresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Current returns a copy of the active credential, or nil when logged out.
func (m *Manager) Current() (*StoredCredentials, error) {
	creds, err := m.load()
	if err != nil {
		if IsAuthError(err) {
			return nil, nil
		}
		return nil, err
	}
	return creds.clone(), nil
}

// LoginOAuth stores a freshly issued OAuth grant.
func (m *Manager) LoginOAuth(grant *Grant) (*StoredCredentials, error) {
	if grant == nil || grant.AccessToken == "" {
		return nil, fmt.Errorf("login response did not include an access token")
	}
	now := m.clock.Now().UTC()
	creds := &StoredCredentials{
		Auth: Credential{
			Type: KindOAuth,
			OAuth: &OAuthToken{
				AccessToken:  grant.AccessToken,
				RefreshToken: grant.RefreshToken,
				ExpiresAt:    m.expiry(grant, now),
			},
		},
		Email:     grant.Email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	creds.UserID = userIDFrom(grant)
	if err := m.replace(creds); err != nil {
		return nil, err
	}
	logutil.Info("stored oauth credentials", map[string]interface{}{"email": grant.Email})
	return creds.clone(), nil
}

// LoginAPIKey stores a validated API key.
func (m *Manager) LoginAPIKey(key *APIKey, userID, email string) (*StoredCredentials, error) {
	if key == nil {
		return nil, fmt.Errorf("api key is required")
	}
	now := m.clock.Now().UTC()
	stored := *key
	creds := &StoredCredentials{
		Auth:      Credential{Type: KindAPIKey, APIKey: &stored},
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if id, err := uuid.Parse(userID); err == nil {
		creds.UserID = &id
	}
	if err := m.replace(creds); err != nil {
		return nil, err
	}
	logutil.Info("stored api key credentials", map[string]interface{}{"key": key.Masked()})
	return creds.clone(), nil
}

// Logout removes the stored credential.
func (m *Manager) Logout() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Clear(); err != nil {
		return err
	}
	m.cached = nil
	return nil
}

func (m *Manager) load() (*StoredCredentials, error) {
	m.mu.RLock()
	creds := m.cached
	m.mu.RUnlock()
	if creds != nil {
		return creds, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cached != nil {
		return m.cached, nil
	}
	loaded, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	if loaded == nil {
		return nil, &AuthenticationError{Message: "no stored credentials", Err: ErrNotAuthenticated}
	}
	m.cached = loaded
	return loaded, nil
}

func (m *Manager) replace(creds *StoredCredentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Save(creds); err != nil {
		return err
	}
	m.cached = creds
	return nil
}

func (m *Manager) fresh(tok *OAuthToken) bool {
	return tok.ExpiresAt.After(m.clock.Now().Add(RefreshMargin))
}

// refresh runs inside the single flight. It re-checks the cache first so a
// caller that queued behind a finished refresh does not start another one.
func (m *Manager) refresh(ctx context.Context) (string, error) {
	m.mu.RLock()
	current := m.cached
	m.mu.RUnlock()
	if current == nil || current.Auth.Type != KindOAuth {
		return "", &AuthenticationError{Message: "credentials changed during refresh", Err: ErrNotAuthenticated}
	}
	if m.fresh(current.Auth.OAuth) {
		return current.Auth.OAuth.AccessToken, nil
	}
	if m.refresher == nil {
		return "", &AuthenticationError{Message: "access token expired and cannot be refreshed"}
	}

	grant, err := m.refresher.Refresh(ctx, current.Auth.OAuth.RefreshToken)
	if err == nil && (grant == nil || grant.AccessToken == "") {
		err = fmt.Errorf("refresh response did not include an access token")
	}
	if err != nil {
		metrics.ObserveTokenRefresh(false)
		logutil.Warn("token refresh failed", map[string]interface{}{"error": err.Error()})
		return "", &AuthenticationError{Message: "session expired and could not be refreshed", Err: err}
	}
	metrics.ObserveTokenRefresh(true)

	now := m.clock.Now().UTC()
	updated := current.clone()
	updated.Auth.OAuth.AccessToken = grant.AccessToken
	if grant.RefreshToken != "" {
		updated.Auth.OAuth.RefreshToken = grant.RefreshToken
	}
	updated.Auth.OAuth.ExpiresAt = m.expiry(grant, now)
	updated.UpdatedAt = now
	if updated.UserID == nil {
		updated.UserID = userIDFrom(grant)
	}
	if updated.Email == "" {
		updated.Email = grant.Email
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cached != current {
		// Logged out or re-logged in while the request was in flight.
		return "", &AuthenticationError{Message: "credentials changed during refresh", Err: ErrNotAuthenticated}
	}
	if err := m.store.Save(updated); err != nil {
		return "", fmt.Errorf("persisting refreshed credentials: %w", err)
	}
	m.cached = updated
	logutil.Debug("access token refreshed", map[string]interface{}{
		"expires_at": updated.Auth.OAuth.ExpiresAt.Format(time.RFC3339),
	})
	return grant.AccessToken, nil
}

func (m *Manager) expiry(grant *Grant, now time.Time) time.Time {
	if grant.ExpiresIn > 0 {
		return now.Add(time.Duration(grant.ExpiresIn) * time.Second)
	}
	if exp, _ := tokenClaims(grant.AccessToken); !exp.IsZero() {
		return exp.UTC()
	}
	return now.Add(defaultTokenLifetime)
}

func userIDFrom(grant *Grant) *uuid.UUID {
	candidate := grant.UserID
	if candidate == "" {
		_, candidate = tokenClaims(grant.AccessToken)
	}
	id, err := uuid.Parse(candidate)
	if err != nil {
		return nil
	}
	return &id
}
