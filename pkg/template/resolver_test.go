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

package template_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/kharf/k8sdeploy/pkg/template"
	"github.com/kharf/k8sdeploy/pkg/values"
	"gotest.tools/v3/assert"
)

func newResolver(t *testing.T) *template.Resolver {
	public, err := values.FromMap(map[string]any{
		"deployment": "demo",
		"replicas":   int64(3),
		"empty":      "",
		"cluster": map[string]any{
			"context": "c1",
			"variant": "prod",
		},
		"hosts": []any{"a", "b"},
		"secrets": map[string]any{
			"password": "from-values",
		},
	})
	assert.NilError(t, err)
	secrets, err := values.FromMap(map[string]any{
		"db": map[string]any{
			"password": "s3cr3t",
		},
	})
	assert.NilError(t, err)
	return template.NewResolver(public, secrets)
}

func TestResolver_Resolve(t *testing.T) {
	resolver := newResolver(t)
	testCases := []struct {
		name           string
		text           string
		secretsAllowed bool
		want           string
		wantErr        error
	}{
		{
			name: "NoPlaceholder",
			text: "plain text",
			want: "plain text",
		},
		{
			name: "Single",
			text: "${{ deployment }}",
			want: "demo",
		},
		{
			name: "NoWhitespace",
			text: "${{deployment}}",
			want: "demo",
		},
		{
			name: "Nested",
			text: "${{ cluster.context }}",
			want: "c1",
		},
		{
			name: "Multiple",
			text: "${{ deployment }}-${{ cluster.variant }}.svc:${{ replicas }}",
			want: "demo-prod.svc:3",
		},
		{
			name: "EmptyValue",
			text: "x${{ empty }}y",
			want: "xy",
		},
		{
			name: "Composite",
			text: "${{ hosts }}",
			want: "[a, b]",
		},
		{
			name:    "UnknownKey",
			text:    "${{ cluster.missing }}",
			wantErr: template.ErrUnknownKey,
		},
		{
			name:    "EmptyExpression",
			text:    "${{ }}",
			wantErr: template.ErrUnknownKey,
		},
		{
			name:    "EmptySegment",
			text:    "${{ cluster..context }}",
			wantErr: template.ErrUnknownKey,
		},
		{
			name:           "Secret",
			text:           "${{ secrets.db.password }}",
			secretsAllowed: true,
			want:           "s3cr3t",
		},
		{
			name:    "SecretForbidden",
			text:    "${{ secrets.db.password }}",
			wantErr: template.ErrSecretsForbidden,
		},
		{
			name:    "SecretForbiddenNeverReadsValues",
			text:    "${{ secrets.password }}",
			wantErr: template.ErrSecretsForbidden,
		},
		{
			name:           "UnknownSecret",
			text:           "${{ secrets.db.user }}",
			secretsAllowed: true,
			wantErr:        template.ErrUnknownKey,
		},
		{
			name:           "SecretsRootOnly",
			text:           "${{ secrets }}",
			secretsAllowed: true,
			wantErr:        template.ErrUnknownKey,
		},
		{
			name:           "ValuesInSecretFile",
			text:           "${{ deployment }}",
			secretsAllowed: true,
			want:           "demo",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolver.Resolve(tc.text, tc.secretsAllowed)
			if tc.wantErr != nil {
				assert.Assert(t, errors.Is(err, tc.wantErr), "got %v", err)
				return
			}
			assert.NilError(t, err)
			assert.Equal(t, got, tc.want)
		})
	}
}

func TestResolver_ResolveScalar(t *testing.T) {
	resolver := newResolver(t)
	testCases := []struct {
		name     string
		text     string
		want     string
		wantNode values.Node
	}{
		{
			name:     "SinglePlaceholder",
			text:     "${{ replicas }}",
			want:     "3",
			wantNode: values.Scalar{Value: int64(3)},
		},
		{
			name:     "SingleComposite",
			text:     "${{ hosts }}",
			want:     "[a, b]",
			wantNode: values.Sequence{values.Scalar{Value: "a"}, values.Scalar{Value: "b"}},
		},
		{
			name: "SurroundingText",
			text: " ${{ replicas }}",
			want: " 3",
		},
		{
			name: "TwoPlaceholders",
			text: "${{ replicas }}${{ replicas }}",
			want: "33",
		},
		{
			name: "NoPlaceholder",
			text: "3",
			want: "3",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, node, err := resolver.ResolveScalar(tc.text, false)
			assert.NilError(t, err)
			assert.Equal(t, got, tc.want)
			assert.DeepEqual(t, node, tc.wantNode)
		})
	}
}

func TestResolver_Resolve_SecretBoundary(t *testing.T) {
	resolver := newResolver(t)
	for _, key := range []string{"password", "db", "db.password", "deployment", "a.b.c"} {
		_, err := resolver.Resolve(fmt.Sprintf("value: ${{ secrets.%s }}", key), false)
		assert.Assert(t, errors.Is(err, template.ErrSecretsForbidden), key)
	}
}

func TestResolver_Resolve_WithoutSecrets(t *testing.T) {
	public, err := values.FromMap(map[string]any{"deployment": "demo"})
	assert.NilError(t, err)
	resolver := template.NewResolver(public, values.Tree{})
	_, err = resolver.Resolve("${{ secrets.db.password }}", true)
	assert.Assert(t, errors.Is(err, template.ErrUnknownKey))
}
