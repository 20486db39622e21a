// SPDX-License-Identifier: LGPL-3.0-or-later

// Package secrets resolves the Windows credential used for WinRM
// connections to the hypervisor host.
package secrets

import (
	"context"
	"fmt"
)

// Resolver looks up the hypervisor WinRM password. Neither implementation
// uses name to pick the secret. The config-backed implementation simply
// returns a value handed to it at startup; the Vault-backed
// implementation reads a KV v2 mount on every call. The daemon
// (orchestratord or orchctl serve) calls ResolvePassword once at
// startup, so a password rotated later takes effect only after a restart.
type Resolver interface {
	ResolvePassword(ctx context.Context, name string) (string, error)
	Close() error
}

// StaticResolver returns the password it was constructed with,
// regardless of name. Used when Secrets.Backend is "config".
type StaticResolver struct {
	Password string
}

func (s *StaticResolver) ResolvePassword(ctx context.Context, name string) (string, error) {
	return s.Password, nil
}

func (s *StaticResolver) Close() error { return nil }

// NewResolver builds the configured Resolver. backend is "config" or
// "vault"; staticPassword is used only for "config".
func NewResolver(backend string, staticPassword string, vaultCfg *VaultConfig) (Resolver, error) {
	switch backend {
	case "", "config":
		return &StaticResolver{Password: staticPassword}, nil
	case "vault":
		if vaultCfg == nil {
			return nil, fmt.Errorf("vault backend selected but no vault configuration was supplied")
		}
		return NewVaultResolver(vaultCfg)
	default:
		return nil, fmt.Errorf("unsupported secrets backend %q (supported: config, vault)", backend)
	}
}

// VaultConfig holds the HashiCorp Vault connection details needed to
// resolve the hypervisor password. The daemon fills it from
// config.VaultConfig at startup; that type has no mount field, so Mount
// stays empty there and the default "secret" applies.
type VaultConfig struct {
	Address     string
	Token       string
	Mount       string // KV v2 mount, default "secret"
	SecretPath  string // path within the mount holding the credential
	PasswordKey string // key within the secret's data map, default "password"
}
