// Copyright 2024 kharf
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package secret

import (
	"context"
	"errors"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
	"github.com/kharf/k8sdeploy/pkg/values"
)

const (
	DefaultVaultMount = "secret"
)

// VaultSource reads secrets from a Vault KV version 2 secret.
// Nested tables are taken over as they are stored.
type VaultSource struct {
	Client *vault.Client
	Mount  string
	Path   string
}

var _ Source = (*VaultSource)(nil)

// NewVaultSource connects to the Vault at address.
// Empty address and token fall back to VAULT_ADDR and VAULT_TOKEN.
func NewVaultSource(address string, token string, mount string, path string) (*VaultSource, error) {
	config := vault.DefaultConfig()
	if config.Error != nil {
		return nil, config.Error
	}
	if address = strings.TrimSpace(address); address != "" {
		config.Address = address
	}

	client, err := vault.NewClient(config)
	if err != nil {
		return nil, err
	}
	if token = strings.TrimSpace(token); token != "" {
		client.SetToken(token)
	}

	mount = strings.Trim(strings.TrimSpace(mount), "/")
	if mount == "" {
		mount = DefaultVaultMount
	}
	return &VaultSource{
		Client: client,
		Mount:  mount,
		Path:   strings.Trim(strings.TrimSpace(path), "/"),
	}, nil
}

func (source VaultSource) Load(ctx context.Context) (values.Tree, error) {
	if source.Path == "" {
		return values.Tree{}, fmt.Errorf("%w: vault secret path is empty", ErrSourceNotFound)
	}
	kvSecret, err := source.Client.KVv2(source.Mount).Get(ctx, source.Path)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return values.Tree{}, fmt.Errorf("%w: vault %s/%s", ErrSourceNotFound, source.Mount, source.Path)
		}
		return values.Tree{}, err
	}
	tree, err := values.FromMap(kvSecret.Data)
	if err != nil {
		return values.Tree{}, fmt.Errorf("vault %s/%s: %w", source.Mount, source.Path, err)
	}
	return tree, nil
}
