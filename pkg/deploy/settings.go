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

package deploy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kharf/k8sdeploy/pkg/values"
)

const (
	DefaultVariant = "generic"
)

var (
	ErrConfigurationInvalid   = errors.New("Configuration is invalid")
	ErrNamespaceStateMismatch = errors.New("Deployment namespace is in an unexpected state")
	ErrBulkApplyFailed        = errors.New("Could not apply staged manifests")
)

// Settings are the values a run needs before any manifest is touched.
type Settings struct {
	// Deployment names the deployment namespace.
	Deployment string
	// Context is the kubeconfig context of the target cluster.
	Context string
	// Variant names the overlay directory staged ahead of base files.
	Variant string
}

// SettingsFromValues extracts the run settings from the public values.
// deployment and cluster.context are required, cluster.variant defaults to [DefaultVariant].
func SettingsFromValues(tree values.Tree) (Settings, error) {
	deployment, err := requiredString(tree, "deployment")
	if err != nil {
		return Settings{}, err
	}
	clusterContext, err := requiredString(tree, "cluster", "context")
	if err != nil {
		return Settings{}, err
	}

	variant := DefaultVariant
	if node, found := tree.Get("cluster", "variant"); found {
		value, isString := tree.String("cluster", "variant")
		if !isString {
			return Settings{}, fmt.Errorf("%w: cluster.variant must be a string, got %s", ErrConfigurationInvalid, node)
		}
		if value = strings.TrimSpace(value); value != "" {
			variant = value
		}
	}

	return Settings{
		Deployment: deployment,
		Context:    clusterContext,
		Variant:    variant,
	}, nil
}

func requiredString(tree values.Tree, path ...string) (string, error) {
	key := strings.Join(path, ".")
	if _, found := tree.Get(path...); !found {
		return "", fmt.Errorf("%w: %s is missing", ErrConfigurationInvalid, key)
	}
	value, isString := tree.String(path...)
	if !isString {
		return "", fmt.Errorf("%w: %s must be a string", ErrConfigurationInvalid, key)
	}
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%w: %s is blank", ErrConfigurationInvalid, key)
	}
	return value, nil
}
