package cloud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Credentials are returned by registration and pairing; the config layer
// persists them.
type Credentials struct {
	APIKey     string `json:"apiKey"`
	TenantID   string `json:"tenantId"`
	LocationID string `json:"locationId"`
}

// RegisterRequest identifies this hub to the cloud during setup.
type RegisterRequest struct {
	HubName    string `json:"hubName"`
	LocationID string `json:"locationId"`
	Secret     string `json:"secret"`
}

func credentialsFrom(data any) (Credentials, error) {
	m, ok := data.(map[string]any)
	if !ok {
		return Credentials{}, errors.New("malformed registration response")
	}
	var c Credentials
	c.APIKey, _ = m["apiKey"].(string)
	c.TenantID, _ = m["tenantId"].(string)
	c.LocationID, _ = m["locationId"].(string)
	if c.APIKey == "" {
		return Credentials{}, errors.New("registration response missing apiKey")
	}
	return c, nil
}

// Register enrols the hub with the cloud, retrying transient failures with
// capped exponential backoff. 4xx responses are permanent and abort the retry
// loop.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (Credentials, error) {
	var creds Credentials

	policy := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithMaxInterval(30*time.Second),
		backoff.WithMaxElapsedTime(5*time.Minute),
	), ctx)

	op := func() error {
		resp := c.Post(ctx, "/api/hub/register", req)
		if resp.OK {
			var err error
			creds, err = credentialsFrom(resp.Data)
			if err != nil {
				return backoff.Permanent(err)
			}
			return nil
		}
		if resp.Status >= 400 && resp.Status < 500 {
			return backoff.Permanent(fmt.Errorf("registration rejected: %s", resp.Err))
		}
		log.Warn().Int("status", resp.Status).Str("error", resp.Err).Msg("registration attempt failed, retrying")
		return errors.New(resp.Err)
	}

	if err := backoff.Retry(op, policy); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

// PairInit starts a pairing flow and returns the short code the operator
// enters in the cloud dashboard.
func (c *Client) PairInit(ctx context.Context) (string, error) {
	resp := c.Post(ctx, "/api/hub/pair/init", map[string]any{})
	if !resp.OK {
		return "", fmt.Errorf("pair init: %s", resp.Err)
	}
	if m, ok := resp.Data.(map[string]any); ok {
		if code, ok := m["code"].(string); ok && code != "" {
			return code, nil
		}
	}
	return "", errors.New("pair init response missing code")
}

// PairStatus polls the pairing flow. Returns credentials once the operator
// has approved the code; ok=false while still pending.
func (c *Client) PairStatus(ctx context.Context, code string) (Credentials, bool, error) {
	resp := c.Get(ctx, "/api/hub/pair/status", map[string][]string{"code": {code}})
	if !resp.OK {
		return Credentials{}, false, fmt.Errorf("pair status: %s", resp.Err)
	}
	m, _ := resp.Data.(map[string]any)
	if status, _ := m["status"].(string); status != "approved" {
		return Credentials{}, false, nil
	}
	creds, err := credentialsFrom(m["credentials"])
	if err != nil {
		return Credentials{}, false, err
	}
	return creds, true, nil
}

// Heartbeat reports hub liveness with the terminal count and pending outbox
// depth. Failures are logged by the caller; heartbeats are best-effort.
func (c *Client) Heartbeat(ctx context.Context, terminals, pendingSync int) error {
	resp := c.Post(ctx, "/api/hub/heartbeat", map[string]any{
		"terminalCount":    terminals,
		"pendingSyncCount": pendingSync,
	})
	if !resp.OK {
		return fmt.Errorf("heartbeat: %s", resp.Err)
	}
	return nil
}
