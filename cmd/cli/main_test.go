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

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/kharf/k8sdeploy/pkg/deploy"
	"github.com/kharf/k8sdeploy/pkg/secret"
	"github.com/spf13/viper"
	"gotest.tools/v3/assert"
)

func TestSecretSource(t *testing.T) {
	dir := t.TempDir()
	secretsPath := filepath.Join(dir, "secrets.toml")
	assert.NilError(t, os.WriteFile(secretsPath, []byte("[db]\npassword = \"s3cr3t\"\n"), 0600))

	testCases := []struct {
		name     string
		settings map[string]any
		want     any
		wantErr  error
	}{
		{
			name: "None",
		},
		{
			name:     "File",
			settings: map[string]any{secretsFlag: secretsPath},
			want:     secret.FileSource{Path: secretsPath},
		},
		{
			name:     "Env",
			settings: map[string]any{secretsFromEnvFlag: "APP_SECRETS"},
			want:     secret.EnvSource{Name: "APP_SECRETS"},
		},
		{
			name: "Conflicting",
			settings: map[string]any{
				secretsFlag:        secretsPath,
				secretsFromEnvFlag: "APP_SECRETS",
			},
			wantErr: ErrConflictingSecretSources,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := viper.New()
			for key, value := range tc.settings {
				config.Set(key, value)
			}
			source, err := secretSource(config)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			assert.NilError(t, err)
			if tc.want == nil {
				assert.Assert(t, source == nil)
				return
			}
			assert.DeepEqual(t, source, tc.want)
		})
	}
}

func TestSecretSource_Vault(t *testing.T) {
	config := viper.New()
	config.Set(secretsFromVaultFlag, "apps/demo")
	config.Set(vaultAddressFlag, "http://127.0.0.1:8200")
	config.Set(vaultMountFlag, "kv")

	source, err := secretSource(config)
	assert.NilError(t, err)
	vaultSource, ok := source.(*secret.VaultSource)
	assert.Assert(t, ok)
	assert.Equal(t, vaultSource.Mount, "kv")
	assert.Equal(t, vaultSource.Path, "apps/demo")
}

func TestLoadSecrets(t *testing.T) {
	ctx := context.Background()

	_, err := loadSecrets(ctx, viper.New(), deploy.Init, logr.Discard())
	assert.ErrorIs(t, err, ErrSecretsRequired)

	tree, err := loadSecrets(ctx, viper.New(), deploy.Update, logr.Discard())
	assert.NilError(t, err)
	assert.Equal(t, len(tree.Root()), 0)

	config := viper.New()
	config.Set(secretsFlag, filepath.Join(t.TempDir(), "missing.toml"))
	_, err = loadSecrets(ctx, config, deploy.Update, logr.Discard())
	assert.ErrorIs(t, err, secret.ErrSourceNotFound)
}

func TestNewOrchestrator_MissingFlags(t *testing.T) {
	ctx := context.Background()

	_, err := newOrchestrator(ctx, viper.New(), deploy.Init, logr.Discard())
	assert.ErrorIs(t, err, ErrMissingFlag)

	config := viper.New()
	config.Set(manifestsFlag, t.TempDir())
	_, err = newOrchestrator(ctx, config, deploy.Init, logr.Discard())
	assert.ErrorIs(t, err, ErrMissingFlag)

	valuesPath := filepath.Join(t.TempDir(), "values.toml")
	assert.NilError(t, os.WriteFile(valuesPath, []byte("[cluster]\ncontext = \"c1\"\n"), 0600))
	config.Set(valuesFlag, valuesPath)
	_, err = newOrchestrator(ctx, config, deploy.Init, logr.Discard())
	assert.ErrorIs(t, err, deploy.ErrConfigurationInvalid)
}

func TestRootCommand(t *testing.T) {
	config, err := initCliConfig()
	assert.NilError(t, err)
	root := initCli(config, os.Stderr).Build()

	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.DeepEqual(t, names, []string{"init", "update"})

	err = root.PersistentFlags().Parse([]string{"-m", "/srv/manifests", "--dry-run"})
	assert.NilError(t, err)
	assert.Equal(t, config.GetString(manifestsFlag), "/srv/manifests")
	assert.Assert(t, config.GetBool(dryRunFlag))
}
