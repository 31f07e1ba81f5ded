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

package kube

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/version"
	"sigs.k8s.io/yaml"
)

var (
	ErrKubectlFailed = errors.New("Kubectl command failed")
)

// Kubectl runs the kubectl binary against one context.
type Kubectl struct {
	// Path to the binary. Defaults to "kubectl" looked up in PATH.
	Path       string
	Kubeconfig string
	Context    string
	DryRun     bool
	Log        logr.Logger
}

// Apply applies the manifests at target, which may be a file, a directory or a URL.
func (kubectl Kubectl) Apply(ctx context.Context, target string) error {
	args := append(kubectl.globalArgs(), "apply", "-f", target)
	if kubectl.DryRun {
		args = append(args, "--dry-run=client")
	}
	return kubectl.run(ctx, nil, args...)
}

// ClientVersion reports the version of the kubectl binary.
func (kubectl Kubectl) ClientVersion(ctx context.Context) (*version.Info, error) {
	var stdout bytes.Buffer
	if err := kubectl.run(ctx, &stdout, "version", "--client", "--output=yaml"); err != nil {
		return nil, err
	}

	var out struct {
		ClientVersion *version.Info `json:"clientVersion"`
	}
	if err := yaml.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("%w: decode client version: %w", ErrKubectlFailed, err)
	}
	if out.ClientVersion == nil {
		return nil, fmt.Errorf("%w: no client version reported", ErrKubectlFailed)
	}
	return out.ClientVersion, nil
}

func (kubectl Kubectl) globalArgs() []string {
	var args []string
	if kubectl.Kubeconfig != "" {
		args = append(args, "--kubeconfig", kubectl.Kubeconfig)
	}
	if kubectl.Context != "" {
		args = append(args, "--context", kubectl.Context)
	}
	return args
}

func (kubectl Kubectl) run(ctx context.Context, stdout *bytes.Buffer, args ...string) error {
	path := kubectl.Path
	if path == "" {
		path = "kubectl"
	}

	output := &lineWriter{log: kubectl.Log.WithName("kubectl")}
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stderr = output
	if stdout != nil {
		cmd.Stdout = stdout
	} else {
		cmd.Stdout = output
	}

	kubectl.Log.V(1).Info("Running kubectl", "args", args)
	err := cmd.Run()
	output.Flush()
	if err != nil {
		return fmt.Errorf("%w: kubectl %s: %w", ErrKubectlFailed, strings.Join(args, " "), err)
	}
	return nil
}

// lineWriter forwards command output to a logger, one entry per line.
type lineWriter struct {
	log     logr.Logger
	mu      sync.Mutex
	pending []byte
}

func (writer *lineWriter) Write(p []byte) (int, error) {
	writer.mu.Lock()
	defer writer.mu.Unlock()
	writer.pending = append(writer.pending, p...)
	for {
		i := bytes.IndexByte(writer.pending, '\n')
		if i < 0 {
			break
		}
		writer.emit(writer.pending[:i])
		writer.pending = writer.pending[i+1:]
	}
	return len(p), nil
}

// Flush logs a trailing line without newline.
func (writer *lineWriter) Flush() {
	writer.mu.Lock()
	defer writer.mu.Unlock()
	writer.emit(writer.pending)
	writer.pending = nil
}

func (writer *lineWriter) emit(line []byte) {
	text := strings.TrimRight(string(line), "\r ")
	if text != "" {
		writer.log.Info(text)
	}
}
