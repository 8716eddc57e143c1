package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oremus-labs/kanuni/internal/auth"
	"github.com/oremus-labs/kanuni/internal/clock"
)

const deviceClientID = "kanuni-cli"

var (
	// ErrAccessDenied means the user rejected the device authorization.
	ErrAccessDenied = errors.New("authorization was denied")
	// ErrDeviceCodeExpired means the user did not approve the device code in time.
	ErrDeviceCodeExpired = errors.New("device code has expired")
)

type tokenResponse struct {
	User         *User  `json:"user,omitempty"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (t *tokenResponse) grant() *auth.Grant {
	g := &auth.Grant{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresIn:    t.ExpiresIn,
	}
	if t.User != nil {
		g.UserID = t.User.ID
		g.Email = t.User.Email
	}
	return g
}

// Login exchanges an email and password for tokens.
func (c *Client) Login(ctx context.Context, email, password, mfaCode string) (*auth.Grant, error) {
	payload := map[string]string{"email": email, "password": password}
	if mfaCode != "" {
		payload["mfa_code"] = mfaCode
	}
	var resp tokenResponse
	if err := c.postAnonymous(ctx, "/auth/login", payload, &resp); err != nil {
		return nil, err
	}
	return resp.grant(), nil
}

// Refresh implements auth.Refresher.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*auth.Grant, error) {
	var resp tokenResponse
	if err := c.postAnonymous(ctx, "/auth/refresh", map[string]string{"refresh_token": refreshToken}, &resp); err != nil {
		return nil, err
	}
	return resp.grant(), nil
}

// Logout revokes the current session server-side.
func (c *Client) Logout(ctx context.Context) error {
	return c.PostJSON(ctx, "/auth/logout", nil, nil)
}

// Profile returns the authenticated user.
func (c *Client) Profile(ctx context.Context) (*User, error) {
	var user User
	if err := c.GetJSON(ctx, "/auth/profile", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ValidateAPIKey checks key against the profile endpoint before it is stored.
func (c *Client) ValidateAPIKey(ctx context.Context, key string) (*User, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/auth/profile", nil, false)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+key)
	var user User
	if err := c.do(req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// RequestDeviceCode starts the device authorization flow.
func (c *Client) RequestDeviceCode(ctx context.Context) (*DeviceCode, error) {
	var code DeviceCode
	payload := map[string]string{"client_id": deviceClientID, "scope": "full_access"}
	if err := c.postAnonymous(ctx, "/auth/device/code", payload, &code); err != nil {
		return nil, err
	}
	return &code, nil
}

// WaitForDeviceToken polls until the user approves or rejects the device code.
func (c *Client) WaitForDeviceToken(ctx context.Context, code *DeviceCode, clk clock.Clock) (*auth.Grant, error) {
	if clk == nil {
		clk = clock.Real()
	}
	interval := time.Duration(code.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := clk.Now().Add(10 * time.Minute)
	if code.ExpiresIn > 0 {
		deadline = clk.Now().Add(time.Duration(code.ExpiresIn) * time.Second)
	}
	payload := map[string]string{"device_code": code.DeviceCode, "client_id": deviceClientID}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-clk.After(interval):
		}
		if clk.Now().After(deadline) {
			return nil, ErrDeviceCodeExpired
		}

		var resp tokenResponse
		err := c.postAnonymous(ctx, "/auth/device/token", payload, &resp)
		if err == nil {
			return resp.grant(), nil
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			return nil, err
		}
		switch apiErr.Code {
		case "authorization_pending":
		case "slow_down":
			interval += 5 * time.Second
		case "access_denied":
			return nil, ErrAccessDenied
		case "expired_token":
			return nil, ErrDeviceCodeExpired
		default:
			return nil, fmt.Errorf("device authorization failed: %w", err)
		}
	}
}

// ListAPIKeys returns the account's keys.
func (c *Client) ListAPIKeys(ctx context.Context) ([]APIKeyInfo, error) {
	var keys []APIKeyInfo
	if err := c.GetJSON(ctx, "/account/api-keys", &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// CreateAPIKey issues a new key. expiresInDays of 0 means no expiry.
func (c *Client) CreateAPIKey(ctx context.Context, name string, permissions []string, expiresInDays int) (*CreatedAPIKey, error) {
	payload := map[string]interface{}{
		"name":        name,
		"permissions": permissions,
	}
	if expiresInDays > 0 {
		payload["expires_in_days"] = expiresInDays
	}
	var created CreatedAPIKey
	if err := c.PostJSON(ctx, "/account/api-keys", payload, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// RevokeAPIKey deletes a key by id.
func (c *Client) RevokeAPIKey(ctx context.Context, id string) error {
	return c.DeleteJSON(ctx, "/account/api-keys/"+id, nil, nil)
}

// ListSessions returns the account's CLI sessions.
func (c *Client) ListSessions(ctx context.Context) ([]CLISession, error) {
	var sessions []CLISession
	if err := c.GetJSON(ctx, "/auth/cli/sessions", &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// RevokeSession ends a CLI session.
func (c *Client) RevokeSession(ctx context.Context, id string) error {
	return c.DeleteJSON(ctx, "/auth/cli/sessions/"+id, map[string]string{"reason": "User revoked from CLI"}, nil)
}
