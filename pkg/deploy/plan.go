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
	"io/fs"
	"path"
	"strings"

	"github.com/kharf/k8sdeploy/pkg/inventory"
	"github.com/kharf/k8sdeploy/pkg/manifest"
)

const (
	// ImportDirectory holds files each naming one external manifest reference.
	ImportDirectory = "@import"
	// InitDirectory is staged on initialization only.
	InitDirectory = "@init"
	// SecretsDirectory holds files allowed to refer to secret values.
	SecretsDirectory = "@secrets"
)

var (
	ErrEmptyImport     = errors.New("Import reference is empty")
	ErrStagingConflict = errors.New("Manifest files map to the same staged file")
	ErrImportConflict  = errors.New("Import files map to the same import record")
)

// Mode distinguishes the first deployment from later ones.
type Mode int

const (
	Init Mode = iota
	Update
)

func (mode Mode) String() string {
	switch mode {
	case Init:
		return "init"
	case Update:
		return "update"
	}
	return fmt.Sprintf("Mode(%d)", int(mode))
}

type StageKind int

const (
	StageTransform StageKind = iota
	StageImport
)

func (kind StageKind) String() string {
	if kind == StageImport {
		return "import"
	}
	return "transform"
}

// Stage is one unit of work of a run.
type Stage struct {
	Kind StageKind
	// Directory is the top-level directory the stage originates from.
	Directory string
	// SubDirectory is the nested directory of secrets and variant stages.
	SubDirectory string
	Phase        manifest.Phase
	// Source is the slash-separated path of the file relative to the manifests root.
	Source string
	// Target is the staged file name. Empty for imports.
	Target         string
	SecretsAllowed bool
	// ImportName keys the import record.
	ImportName string
	// Reference is the trimmed content of an import file.
	Reference string
}

type PlanOptions struct {
	Mode    Mode
	Variant string
}

// Plan lists the stages of a run over the manifest tree in execution order.
// Top-level directories are taken in lexical order and names starting with '.' are skipped.
// Within a directory, @secrets files come first, then the variant directory's files, then the directory's own files.
func Plan(fsys fs.FS, opts PlanOptions) ([]Stage, error) {
	variant := opts.Variant
	if variant == "" {
		variant = DefaultVariant
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	var stages []Stage
	for _, entry := range entries {
		dir := entry.Name()
		if !entry.IsDir() || isHidden(dir) {
			continue
		}

		switch dir {
		case InitDirectory:
			if opts.Mode != Init {
				continue
			}
		case ImportDirectory:
			imports, err := planImports(fsys, dir)
			if err != nil {
				return nil, err
			}
			stages = append(stages, imports...)
			continue
		}

		transforms, err := planDirectory(fsys, dir, variant)
		if err != nil {
			return nil, err
		}
		stages = append(stages, transforms...)
	}

	if err := checkTargets(stages); err != nil {
		return nil, err
	}
	return stages, nil
}

// checkTargets rejects stages writing the same staged file.
func checkTargets(stages []Stage) error {
	sources := make(map[string]string, len(stages))
	for _, stage := range stages {
		if stage.Kind != StageTransform {
			continue
		}
		if other, found := sources[stage.Target]; found {
			return fmt.Errorf("%w: %s and %s both stage %s", ErrStagingConflict, other, stage.Source, stage.Target)
		}
		sources[stage.Target] = stage.Source
	}
	return nil
}

func planImports(fsys fs.FS, dir string) ([]Stage, error) {
	files, err := listFiles(fsys, dir)
	if err != nil {
		return nil, err
	}

	stages := make([]Stage, 0, len(files))
	records := make(map[string]string, len(files))
	for _, file := range files {
		source := path.Join(dir, file)
		record, err := inventory.RecordName(file)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", source, err)
		}
		if other, found := records[record]; found {
			return nil, fmt.Errorf("%w: %s and %s both use %s", ErrImportConflict, other, source, record)
		}
		records[record] = source

		content, err := fs.ReadFile(fsys, source)
		if err != nil {
			return nil, err
		}
		reference := strings.TrimSpace(string(content))
		if reference == "" {
			return nil, fmt.Errorf("%w: %s", ErrEmptyImport, source)
		}
		stages = append(stages, Stage{
			Kind:       StageImport,
			Directory:  dir,
			Source:     source,
			ImportName: file,
			Reference:  reference,
		})
	}
	return stages, nil
}

func planDirectory(fsys fs.FS, dir string, variant string) ([]Stage, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var hasSecrets, hasVariant bool
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if isHidden(name) {
			continue
		}
		if !entry.IsDir() {
			files = append(files, name)
			continue
		}
		switch name {
		case SecretsDirectory:
			hasSecrets = true
		case variant:
			hasVariant = true
		}
	}

	var stages []Stage
	if hasSecrets {
		secrets, err := planNested(fsys, dir, SecretsDirectory, manifest.PhaseSecrets, true)
		if err != nil {
			return nil, err
		}
		stages = append(stages, secrets...)
	}
	if hasVariant {
		overlay, err := planNested(fsys, dir, variant, manifest.PhaseVariant, false)
		if err != nil {
			return nil, err
		}
		stages = append(stages, overlay...)
	}
	for _, file := range files {
		stages = append(stages, Stage{
			Kind:      StageTransform,
			Directory: dir,
			Phase:     manifest.PhaseBase,
			Source:    path.Join(dir, file),
			Target:    manifest.StagedName(dir, manifest.PhaseBase, "", file),
		})
	}
	return stages, nil
}

func planNested(
	fsys fs.FS,
	dir string,
	subDir string,
	phase manifest.Phase,
	secretsAllowed bool,
) ([]Stage, error) {
	files, err := listFiles(fsys, path.Join(dir, subDir))
	if err != nil {
		return nil, err
	}

	stages := make([]Stage, 0, len(files))
	for _, file := range files {
		stages = append(stages, Stage{
			Kind:           StageTransform,
			Directory:      dir,
			SubDirectory:   subDir,
			Phase:          phase,
			Source:         path.Join(dir, subDir, file),
			Target:         manifest.StagedName(dir, phase, subDir, file),
			SecretsAllowed: secretsAllowed,
		})
	}
	return stages, nil
}

// listFiles returns the visible regular files of dir in lexical order.
func listFiles(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || isHidden(entry.Name()) {
			continue
		}
		files = append(files, entry.Name())
	}
	return files, nil
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
