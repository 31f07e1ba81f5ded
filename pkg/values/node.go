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
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnsupportedValue = errors.New("Unsupported value type")
)

// Kind identifies which variant a [Node] holds.
type Kind int

const (
	ScalarKind Kind = iota
	SequenceKind
	MappingKind
)

// Node is a value of a configuration tree.
// It is either a [Scalar], a [Sequence] or a [Mapping].
type Node interface {
	Kind() Kind
	// String renders the node as substitution text.
	String() string
	// Interface returns the plain Go representation of the node.
	Interface() any

	node()
}

// Scalar holds a string, int64, float64, bool, time.Time or nil.
type Scalar struct {
	Value any
}

var _ Node = (*Scalar)(nil)

func (s Scalar) Kind() Kind {
	return ScalarKind
}

func (s Scalar) String() string {
	switch v := s.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}

func (s Scalar) Interface() any {
	return s.Value
}

func (Scalar) node() {}

// Sequence is an ordered list of nodes.
type Sequence []Node

var _ Node = (*Sequence)(nil)

func (s Sequence) Kind() Kind {
	return SequenceKind
}

// String renders the sequence in single-line YAML flow style.
func (s Sequence) String() string {
	return flow(s)
}

func (s Sequence) Interface() any {
	items := make([]any, 0, len(s))
	for _, item := range s {
		items = append(items, item.Interface())
	}
	return items
}

func (Sequence) node() {}

// Mapping maps unique string keys to nodes.
type Mapping map[string]Node

var _ Node = (*Mapping)(nil)

func (m Mapping) Kind() Kind {
	return MappingKind
}

// String renders the mapping in single-line YAML flow style with sorted keys.
func (m Mapping) String() string {
	return flow(m)
}

func (m Mapping) Interface() any {
	fields := make(map[string]any, len(m))
	for key, value := range m {
		fields[key] = value.Interface()
	}
	return fields
}

func (Mapping) node() {}

// FlowNode encodes node as a YAML node in flow style.
func FlowNode(node Node) (*yaml.Node, error) {
	var out yaml.Node
	if err := out.Encode(node.Interface()); err != nil {
		return nil, err
	}
	out.Style = yaml.FlowStyle
	return &out, nil
}

func flow(node Node) string {
	out, err := FlowNode(node)
	if err != nil {
		return fmt.Sprint(node.Interface())
	}
	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Sprint(node.Interface())
	}
	return strings.TrimSuffix(string(data), "\n")
}

// FromAny converts generically decoded data into a [Node].
func FromAny(value any) (Node, error) {
	switch v := value.(type) {
	case nil:
		return Scalar{}, nil
	case string, bool, int64, float64, time.Time:
		return Scalar{Value: v}, nil
	case int:
		return Scalar{Value: int64(v)}, nil
	case int32:
		return Scalar{Value: int64(v)}, nil
	case uint32:
		return Scalar{Value: int64(v)}, nil
	case float32:
		return Scalar{Value: float64(v)}, nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return Scalar{Value: i}, nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedValue, v)
		}
		return Scalar{Value: f}, nil
	case []any:
		seq := make(Sequence, 0, len(v))
		for _, item := range v {
			node, err := FromAny(item)
			if err != nil {
				return nil, err
			}
			seq = append(seq, node)
		}
		return seq, nil
	case []map[string]any:
		seq := make(Sequence, 0, len(v))
		for _, item := range v {
			node, err := FromAny(item)
			if err != nil {
				return nil, err
			}
			seq = append(seq, node)
		}
		return seq, nil
	case map[string]any:
		mapping := make(Mapping, len(v))
		for key, item := range v {
			node, err := FromAny(item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			mapping[key] = node
		}
		return mapping, nil
	case map[any]any:
		mapping := make(Mapping, len(v))
		for key, item := range v {
			node, err := FromAny(item)
			if err != nil {
				return nil, fmt.Errorf("%v: %w", key, err)
			}
			mapping[fmt.Sprint(key)] = node
		}
		return mapping, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, value)
	}
}
