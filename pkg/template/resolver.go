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

package template

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kharf/k8sdeploy/pkg/values"
)

const (
	// SecretsPrefix is the leading path segment redirecting a lookup to the secrets tree.
	SecretsPrefix = "secrets"
)

var (
	ErrUnknownKey       = errors.New("Template refers to unknown key")
	ErrSecretsForbidden = errors.New("Secret values can only be used in files located in the @secrets directory")
)

var placeholderPattern = regexp.MustCompile(`\$\{\{\s*(.*?)\s*\}\}`)

// Resolver substitutes ${{ path }} placeholders with values of the public or the secret configuration tree.
// Both trees are read-only, so a Resolver is safe for concurrent use.
type Resolver struct {
	values  values.Tree
	secrets values.Tree
}

// NewResolver constructs a [Resolver].
// An empty secrets tree makes every secret expression an unknown key.
func NewResolver(public values.Tree, secrets values.Tree) *Resolver {
	return &Resolver{
		values:  public,
		secrets: secrets,
	}
}

// Resolve replaces every placeholder in text.
// Expressions starting with the secrets segment are only resolved when secretsAllowed is set
// and fail with [ErrSecretsForbidden] otherwise.
// Unresolvable expressions fail with [ErrUnknownKey].
func (r *Resolver) Resolve(text string, secretsAllowed bool) (string, error) {
	resolved, _, err := r.ResolveScalar(text, secretsAllowed)
	return resolved, err
}

// ResolveScalar resolves text like [Resolver.Resolve].
// If text consists of exactly one placeholder, the referenced node is returned as well,
// otherwise the returned node is nil.
func (r *Resolver) ResolveScalar(text string, secretsAllowed bool) (string, values.Node, error) {
	matches := placeholderPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, nil, nil
	}
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(text) {
		node, err := r.lookup(text[matches[0][2]:matches[0][3]], secretsAllowed)
		if err != nil {
			return "", nil, err
		}
		return node.String(), node, nil
	}
	var builder strings.Builder
	last := 0
	for _, match := range matches {
		node, err := r.lookup(text[match[2]:match[3]], secretsAllowed)
		if err != nil {
			return "", nil, err
		}
		builder.WriteString(text[last:match[0]])
		builder.WriteString(node.String())
		last = match[1]
	}
	builder.WriteString(text[last:])
	return builder.String(), nil, nil
}

func (r *Resolver) lookup(expr string, secretsAllowed bool) (values.Node, error) {
	path := strings.Split(expr, ".")
	tree := r.values
	if path[0] == SecretsPrefix {
		if !secretsAllowed {
			return nil, fmt.Errorf("%w: tried to reference %s", ErrSecretsForbidden, expr)
		}
		tree = r.secrets
		path = path[1:]
	}
	if len(path) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, expr)
	}
	for _, segment := range path {
		if segment == "" {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKey, expr)
		}
	}
	node, found := tree.Get(path...)
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, expr)
	}
	return node, nil
}
