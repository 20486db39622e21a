// SPDX-License-Identifier: LGPL-3.0-or-later

package secrets

import (
	"context"
	"fmt"

	vault "github.com/hashicorp/vault/api"
)

// VaultResolver resolves the hypervisor password from a HashiCorp Vault
// KV v2 secret, reading Vault on every call.
type VaultResolver struct {
	client *vault.Client
	mount  string
	path   string
	key    string
}

// NewVaultResolver constructs a VaultResolver (address + token auth,
// default KV v2 mount of "secret").
func NewVaultResolver(cfg *VaultConfig) (*VaultResolver, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("vault address is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("vault token is required")
	}

	vc := vault.DefaultConfig()
	vc.Address = cfg.Address
	client, err := vault.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	mount := cfg.Mount
	if mount == "" {
		mount = "secret"
	}
	key := cfg.PasswordKey
	if key == "" {
		key = "password"
	}
	if cfg.SecretPath == "" {
		return nil, fmt.Errorf("vault secret_path is required")
	}

	return &VaultResolver{client: client, mount: mount, path: cfg.SecretPath, key: key}, nil
}

func (r *VaultResolver) ResolvePassword(ctx context.Context, name string) (string, error) {
	secret, err := r.client.KVv2(r.mount).Get(ctx, r.path)
	if err != nil {
		return "", fmt.Errorf("read vault secret %s/%s: %w", r.mount, r.path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("vault secret %s/%s not found", r.mount, r.path)
	}
	raw, ok := secret.Data[r.key]
	if !ok {
		return "", fmt.Errorf("vault secret %s/%s has no key %q", r.mount, r.path, r.key)
	}
	pw, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("vault secret %s/%s key %q is not a string", r.mount, r.path, r.key)
	}
	return pw, nil
}

func (r *VaultResolver) Close() error { return nil }
