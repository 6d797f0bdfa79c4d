// Package vault reads engine secrets from a HashiCorp Vault KV v2
// mount. It is optional: the config loader only calls it when both
// VAULT_ADDR and VAULT_TOKEN are set.
package vault

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"
)

// Client wraps the HashiCorp Vault client.
type Client struct {
	client *api.Client
}

// NewClient creates a Vault client for the given address and token.
func NewClient(addr, token string) (*Client, error) {
	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = addr

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(token)

	return &Client{client: client}, nil
}

// ReadSecrets reads the KV secret at path and returns its string
// fields. KV v2 wraps the payload in a "data" envelope; both wrapped
// and flat layouts are accepted so v1 mounts keep working.
func (c *Client) ReadSecrets(ctx context.Context, path string) (map[string]string, error) {
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vault path %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no secret found at vault path %s", path)
	}

	payload := secret.Data
	if inner, ok := secret.Data["data"].(map[string]interface{}); ok {
		payload = inner
	}

	out := make(map[string]string, len(payload))
	for k, v := range payload {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out, nil
}

// Health pings the Vault sys/health endpoint.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if !resp.Initialized || resp.Sealed {
		return fmt.Errorf("vault not ready: initialized=%v sealed=%v", resp.Initialized, resp.Sealed)
	}
	return nil
}
