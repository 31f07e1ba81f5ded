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

package values

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Tree is a read-only configuration tree with dotted-path lookup.
// The zero value is an empty tree.
type Tree struct {
	root Mapping
}

// NewTree constructs a [Tree] from its root mapping.
func NewTree(root Mapping) Tree {
	return Tree{root: root}
}

// FromMap converts generically decoded data into a [Tree].
func FromMap(data map[string]any) (Tree, error) {
	node, err := FromAny(data)
	if err != nil {
		return Tree{}, err
	}
	return Tree{root: node.(Mapping)}, nil
}

// Parse decodes a TOML document into a [Tree].
func Parse(data []byte) (Tree, error) {
	content := make(map[string]any)
	if err := toml.Unmarshal(data, &content); err != nil {
		return Tree{}, err
	}
	return FromMap(content)
}

// Load reads and decodes a TOML file into a [Tree].
func Load(path string) (Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tree{}, err
	}
	tree, err := Parse(data)
	if err != nil {
		return Tree{}, fmt.Errorf("%s: %w", path, err)
	}
	return tree, nil
}

// Root returns the root mapping of the tree.
func (t Tree) Root() Mapping {
	return t.root
}

// Get descends the tree along path.
// A missing key or a non-mapping node before the path is exhausted reports false.
// An empty path addresses the root mapping.
func (t Tree) Get(path ...string) (Node, bool) {
	var current Node = t.root
	for _, key := range path {
		mapping, ok := current.(Mapping)
		if !ok {
			return nil, false
		}
		next, found := mapping[key]
		if !found {
			return nil, false
		}
		current = next
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

// String looks up a string scalar.
func (t Tree) String(path ...string) (string, bool) {
	node, found := t.Get(path...)
	if !found {
		return "", false
	}
	scalar, ok := node.(Scalar)
	if !ok {
		return "", false
	}
	str, ok := scalar.Value.(string)
	return str, ok
}
