// Package secrets loads the variables and secrets available to interpolation.
package secrets

import (
	"context"
	"fmt"
	"strings"

	"github.com/bcnelson/stack-executor/internal/domain"
	"github.com/bcnelson/stack-executor/internal/storage"
	vault "github.com/hashicorp/vault/api"
)

// VariablesAndSecrets is the name/value view handed to an Interpolator.
type VariablesAndSecrets struct {
	Variables map[string]string
	Secrets   map[string]string
}

// KVReader reads one key/value secret document.
type KVReader interface {
	Read(ctx context.Context, path string) (map[string]any, error)
}

// Source merges stored variables, configured core secrets and an optional
// external KV path. Later sources override earlier ones for secrets.
type Source struct {
	store  storage.Storage
	core   map[string]string
	kv     KVReader
	kvPath string
}

// NewSource creates a Source. kv may be nil.
func NewSource(store storage.Storage, core map[string]string, kv KVReader, kvPath string) *Source {
	return &Source{store: store, core: core, kv: kv, kvPath: kvPath}
}

// Load collects the current variables and secrets. Any failure is reported
// as domain.ErrInterpolation.
func (s *Source) Load(ctx context.Context) (*VariablesAndSecrets, error) {
	out := &VariablesAndSecrets{
		Variables: make(map[string]string),
		Secrets:   make(map[string]string),
	}

	vars, err := s.store.ListVariables(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: listing variables: %v", domain.ErrInterpolation, err)
	}
	for _, v := range vars {
		if v.IsSecret {
			out.Secrets[v.Name] = v.Value
		} else {
			out.Variables[v.Name] = v.Value
		}
	}

	for name, value := range s.core {
		out.Secrets[name] = value
	}

	if s.kv != nil && s.kvPath != "" {
		data, err := s.kv.Read(ctx, s.kvPath)
		if err != nil {
			return nil, fmt.Errorf("%w: reading secrets from %s: %v", domain.ErrInterpolation, s.kvPath, err)
		}
		for name, raw := range data {
			value, ok := raw.(string)
			if !ok {
				value = fmt.Sprint(raw)
			}
			out.Secrets[name] = value
		}
	}

	return out, nil
}

// VaultKV reads secrets from a Vault KV v2 mount.
type VaultKV struct {
	client *vault.Client
	mount  string
}

// NewVaultKV creates a token-authenticated Vault KV v2 reader.
func NewVaultKV(address, token, mount string) (*VaultKV, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("vault address is required")
	}

	apiCfg := vault.DefaultConfig()
	apiCfg.Address = address
	client, err := vault.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}
	client.SetToken(token)

	mount = strings.Trim(strings.TrimSpace(mount), "/")
	if mount == "" {
		mount = "secret"
	}
	return &VaultKV{client: client, mount: mount}, nil
}

// Read returns the data of the latest version at path.
func (v *VaultKV) Read(ctx context.Context, path string) (map[string]any, error) {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return nil, fmt.Errorf("vault secret path is required")
	}
	secret, err := v.client.KVv2(v.mount).Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault secret not found")
	}
	return secret.Data, nil
}
