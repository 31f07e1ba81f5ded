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
	"fmt"
	"strings"
)

// Phase orders staged manifests of one directory.
type Phase int

const (
	PhaseSecrets Phase = iota
	PhaseVariant
	PhaseBase
)

func (phase Phase) String() string {
	switch phase {
	case PhaseSecrets:
		return "secrets"
	case PhaseVariant:
		return "variant"
	case PhaseBase:
		return "base"
	}
	return fmt.Sprintf("Phase(%d)", int(phase))
}

// StagedName returns the staging file name for file of directory dir.
// The name encodes directory, phase and optional sub directory,
// so a lexical sort of the staging directory reproduces the apply order:
//
//	<dir>.<phase>.<subDir>.<file>.yaml
func StagedName(dir string, phase Phase, subDir string, file string) string {
	parts := []string{dir, fmt.Sprintf("%d", int(phase))}
	if subDir != "" {
		parts = append(parts, subDir)
	}
	parts = append(parts, ReplaceExtension(file))
	return strings.Join(parts, ".")
}
