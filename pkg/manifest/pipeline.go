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

package manifest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kharf/k8sdeploy/pkg/values"
	"gopkg.in/yaml.v3"
)

const (
	// Extension is the canonical extension of every staged manifest.
	Extension = ".yaml"
	// Separator is the line separating documents of a manifest stream.
	Separator = "---"

	strTag       = "!!str"
	quotedStyles = yaml.DoubleQuotedStyle | yaml.SingleQuotedStyle | yaml.LiteralStyle | yaml.FoldedStyle
)

// Resolver substitutes placeholders inside a single scalar.
// The returned node is set when the scalar was exactly one placeholder.
// See [template.Resolver].
type Resolver interface {
	ResolveScalar(text string, secretsAllowed bool) (string, values.Node, error)
}

// Pipeline splits manifest files into documents, resolves placeholders in every scalar of every document
// and writes the result to a staging location.
type Pipeline struct {
	resolver Resolver
}

// NewPipeline constructs a [Pipeline].
func NewPipeline(resolver Resolver) *Pipeline {
	return &Pipeline{
		resolver: resolver,
	}
}

// Transform renders the manifest file at sourcePath and writes it to destinationPath,
// with the extension of destinationPath replaced by [Extension].
// It returns the path of the written file.
// Nothing is written if any document of the file fails to render.
func (p *Pipeline) Transform(sourcePath string, destinationPath string, secretsAllowed bool) (string, error) {
	content, err := os.ReadFile(sourcePath)
	if err != nil {
		return "", err
	}
	rendered, err := p.Render(content, secretsAllowed)
	if err != nil {
		return "", fmt.Errorf("%s: %w", sourcePath, err)
	}
	target := ReplaceExtension(destinationPath)
	if err := os.MkdirAll(filepath.Dir(target), 0700); err != nil {
		return "", err
	}
	if err := os.WriteFile(target, rendered, 0600); err != nil {
		return "", err
	}
	return target, nil
}

// Render resolves placeholders in every document of a manifest stream.
func (p *Pipeline) Render(content []byte, secretsAllowed bool) ([]byte, error) {
	documents := Split(string(content))
	rendered := make([]string, 0, len(documents))
	for idx, document := range documents {
		out, err := p.renderDocument(document, secretsAllowed)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", idx, err)
		}
		rendered = append(rendered, out)
	}
	return []byte(strings.Join(rendered, "\n"+Separator+"\n")), nil
}

func (p *Pipeline) renderDocument(document string, secretsAllowed bool) (string, error) {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(document), &root); err != nil {
		return "", err
	}
	if root.Kind == 0 {
		return "", nil
	}
	err := walk(&root, false, func(node *yaml.Node, isKey bool) error {
		return p.substitute(node, isKey, secretsAllowed)
	})
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		_ = enc.Close()
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	out := buf.String()
	if strings.HasPrefix(out, "!") {
		idx := strings.IndexByte(out, '\n')
		if idx < 0 {
			out = ""
		} else {
			out = out[idx+1:]
		}
	}
	return strings.TrimSpace(out), nil
}

// substitute resolves the placeholders of a scalar node.
// Substituted text stays a string. Only a plain scalar consisting of exactly one placeholder
// takes the type of the referenced value: non-string scalars are re-typed from their text
// and composites become flow collections, unless the scalar is a mapping key.
func (p *Pipeline) substitute(node *yaml.Node, isKey bool, secretsAllowed bool) error {
	resolved, ref, err := p.resolver.ResolveScalar(node.Value, secretsAllowed)
	if err != nil {
		return err
	}
	if ref == nil && resolved == node.Value {
		return nil
	}
	node.Value = resolved
	node.Tag = strTag
	if ref == nil || node.Style&quotedStyles != 0 {
		return nil
	}

	switch ref.Kind() {
	case values.ScalarKind:
		switch ref.Interface().(type) {
		case string, nil:
		default:
			node.Tag = ""
		}
	default:
		if isKey {
			return nil
		}
		collection, err := values.FlowNode(ref)
		if err != nil {
			return err
		}
		collection.Anchor = node.Anchor
		*node = *collection
	}
	return nil
}

// walk visits every scalar reachable from node, mapping keys included.
// Aliases are skipped, their anchors are visited where they are defined.
func walk(node *yaml.Node, isKey bool, visit func(node *yaml.Node, isKey bool) error) error {
	switch node.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, child := range node.Content {
			if err := walk(child, false, visit); err != nil {
				return err
			}
		}
	case yaml.MappingNode:
		for idx, child := range node.Content {
			if err := walk(child, idx%2 == 0, visit); err != nil {
				return err
			}
		}
	case yaml.ScalarNode:
		return visit(node, isKey)
	}
	return nil
}

// Split normalizes line endings and splits a manifest stream on separator lines.
// Blank documents are dropped.
func Split(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	var documents []string
	var current []string
	flush := func() {
		document := strings.Join(current, "\n")
		if strings.TrimSpace(document) != "" {
			documents = append(documents, document)
		}
		current = nil
	}
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimRight(line, " \t") == Separator {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return documents
}

// ReplaceExtension replaces the extension of path with [Extension].
func ReplaceExtension(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + Extension
}
