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
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/kharf/k8sdeploy/pkg/inventory"
	"github.com/kharf/k8sdeploy/pkg/kube"
	"github.com/kharf/k8sdeploy/pkg/template"
	"golang.org/x/sync/errgroup"
)

const (
	// StagingDirectory is the default staging directory name inside the manifests directory.
	StagingDirectory = ".tmp"
)

// State is the position of a run in its state machine.
type State int32

const (
	Start State = iota
	CompatibilityChecked
	NamespaceEnsured
	AutomationNamespaceEnsured
	Staged
	Applied
	Done
	Failed
)

func (state State) String() string {
	switch state {
	case Start:
		return "Start"
	case CompatibilityChecked:
		return "CompatibilityChecked"
	case NamespaceEnsured:
		return "NamespaceEnsured"
	case AutomationNamespaceEnsured:
		return "AutomationNamespaceEnsured"
	case Staged:
		return "Staged"
	case Applied:
		return "Applied"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	}
	return fmt.Sprintf("State(%d)", int32(state))
}

// Gate vets the environment before anything is changed.
type Gate interface {
	Check(ctx context.Context) error
}

// Cluster manages namespaces of the target cluster.
type Cluster interface {
	NamespaceExists(ctx context.Context, name string) (bool, error)
	CreateNamespace(ctx context.Context, name string, opts ...kube.NamespaceOption) error
}

// Importer applies external manifests at most once per reference.
type Importer interface {
	Apply(ctx context.Context, importName string, reference string) (inventory.Result, error)
}

// Transformer resolves a manifest file into the staging directory.
type Transformer interface {
	Transform(sourcePath string, destinationPath string, secretsAllowed bool) (string, error)
}

// Applier applies a file or directory of manifests.
type Applier interface {
	Apply(ctx context.Context, target string) error
}

// Orchestrator runs one deployment from the manifest tree to the cluster.
type Orchestrator struct {
	Log      logr.Logger
	Settings Settings
	Mode     Mode

	// ManifestsDir is the root of the manifest tree.
	ManifestsDir string
	// StagingDir receives the resolved manifests. Defaults to <ManifestsDir>/.tmp.
	StagingDir string
	// Workers bounds concurrent transforms. Defaults to GOMAXPROCS.
	Workers int

	Gate        Gate
	Cluster     Cluster
	Importer    Importer
	Transformer Transformer
	Applier     Applier

	state atomic.Int32
}

// State reports where the run is, or where it stopped.
func (orchestrator *Orchestrator) State() State {
	return State(orchestrator.state.Load())
}

func (orchestrator *Orchestrator) transition(state State) {
	orchestrator.Log.V(1).Info("Transition", "from", orchestrator.State().String(), "to", state.String())
	orchestrator.state.Store(int32(state))
}

// Run executes the run to completion.
// The context is checked before every transition, a cancelled run ends in [Failed] and keeps staged files.
func (orchestrator *Orchestrator) Run(ctx context.Context) error {
	orchestrator.state.Store(int32(Start))
	log := orchestrator.Log.WithValues("deployment", orchestrator.Settings.Deployment, "mode", orchestrator.Mode.String())

	steps := []struct {
		to  State
		run func(ctx context.Context) error
	}{
		{CompatibilityChecked, orchestrator.Gate.Check},
		{NamespaceEnsured, orchestrator.ensureNamespace},
		{AutomationNamespaceEnsured, orchestrator.ensureAutomationNamespace},
		{Staged, orchestrator.stage},
		{Applied, orchestrator.apply},
		{Done, func(context.Context) error { return nil }},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return orchestrator.fail(log, err)
		}
		if err := step.run(ctx); err != nil {
			return orchestrator.fail(log, err)
		}
		orchestrator.transition(step.to)
	}

	log.Info("Deployment succeeded")
	return nil
}

func (orchestrator *Orchestrator) fail(log logr.Logger, err error) error {
	log.Error(err, "Deployment failed", "state", orchestrator.State().String())
	orchestrator.transition(Failed)
	return err
}

func (orchestrator *Orchestrator) ensureNamespace(ctx context.Context) error {
	name := orchestrator.Settings.Deployment
	exists, err := orchestrator.Cluster.NamespaceExists(ctx, name)
	if err != nil {
		return err
	}

	switch orchestrator.Mode {
	case Init:
		if exists {
			return fmt.Errorf("%w: deployment %s already exists", ErrNamespaceStateMismatch, name)
		}
		orchestrator.Log.Info("Creating namespace", "namespace", name)
		return orchestrator.Cluster.CreateNamespace(ctx, name, kube.Labels{"name": name})
	default:
		if !exists {
			return fmt.Errorf("%w: unknown deployment %s", ErrNamespaceStateMismatch, name)
		}
		return nil
	}
}

func (orchestrator *Orchestrator) ensureAutomationNamespace(ctx context.Context) error {
	exists, err := orchestrator.Cluster.NamespaceExists(ctx, kube.AutomationNamespace)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	orchestrator.Log.Info("Creating namespace", "namespace", kube.AutomationNamespace)
	return orchestrator.Cluster.CreateNamespace(
		ctx,
		kube.AutomationNamespace,
		kube.Labels{"name": kube.AutomationNamespace},
	)
}

func (orchestrator *Orchestrator) stagingDir() string {
	if orchestrator.StagingDir != "" {
		return orchestrator.StagingDir
	}
	return filepath.Join(orchestrator.ManifestsDir, StagingDirectory)
}

func (orchestrator *Orchestrator) stage(ctx context.Context) error {
	stagingDir := orchestrator.stagingDir()
	if err := os.RemoveAll(stagingDir); err != nil {
		return err
	}
	if err := os.MkdirAll(stagingDir, 0700); err != nil {
		return err
	}

	stages, err := Plan(os.DirFS(orchestrator.ManifestsDir), PlanOptions{
		Mode:    orchestrator.Mode,
		Variant: orchestrator.Settings.Variant,
	})
	if err != nil {
		return err
	}
	orchestrator.Log.Info("Staging manifests", "stages", len(stages), "staging", stagingDir)

	var batch []Stage
	for _, stage := range stages {
		if stage.Kind == StageTransform {
			batch = append(batch, stage)
			continue
		}
		if err := orchestrator.transformAll(ctx, stagingDir, batch); err != nil {
			return err
		}
		batch = nil
		if err := orchestrator.importReference(ctx, stage); err != nil {
			return err
		}
	}
	return orchestrator.transformAll(ctx, stagingDir, batch)
}

func (orchestrator *Orchestrator) transformAll(ctx context.Context, stagingDir string, stages []Stage) error {
	if len(stages) == 0 {
		return nil
	}
	workers := orchestrator.Workers
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for _, stage := range stages {
		stage := stage
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			return orchestrator.transform(stagingDir, stage)
		})
	}
	return eg.Wait()
}

func (orchestrator *Orchestrator) transform(stagingDir string, stage Stage) error {
	source := filepath.Join(orchestrator.ManifestsDir, filepath.FromSlash(stage.Source))
	destination := filepath.Join(stagingDir, stage.Target)
	written, err := orchestrator.Transformer.Transform(source, destination, stage.SecretsAllowed)
	if err != nil {
		if orchestrator.skippable(stage, err) {
			orchestrator.Log.Error(err, "Skipping secrets file", "file", stage.Source)
			return nil
		}
		return err
	}
	orchestrator.Log.V(1).Info("Staged", "file", stage.Source, "staged", written)
	return nil
}

// skippable reports whether a failed transform may be logged and skipped.
// This holds for resolution errors of secrets files during updates only.
func (orchestrator *Orchestrator) skippable(stage Stage, err error) bool {
	if orchestrator.Mode != Update || !stage.SecretsAllowed {
		return false
	}
	return errors.Is(err, template.ErrUnknownKey) || errors.Is(err, template.ErrSecretsForbidden)
}

func (orchestrator *Orchestrator) importReference(ctx context.Context, stage Stage) error {
	result, err := orchestrator.Importer.Apply(ctx, stage.ImportName, stage.Reference)
	if err != nil {
		return err
	}
	orchestrator.Log.Info("Import processed", "import", stage.ImportName, "result", result.String())
	return nil
}

func (orchestrator *Orchestrator) apply(ctx context.Context) error {
	stagingDir := orchestrator.stagingDir()
	orchestrator.Log.Info("Applying staged manifests", "staging", stagingDir)
	if err := orchestrator.Applier.Apply(ctx, stagingDir); err != nil {
		return fmt.Errorf("%w: %w", ErrBulkApplyFailed, err)
	}
	return nil
}
