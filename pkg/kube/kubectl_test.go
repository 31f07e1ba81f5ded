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

package kube_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/kharf/k8sdeploy/pkg/kube"
	"gotest.tools/v3/assert"
)

const versionOutput = `clientVersion:
  buildDate: "2024-05-14T10:50:48Z"
  compiler: gc
  gitVersion: v1.30.1
  goVersion: go1.22.2
  major: "1"
  minor: "30"
  platform: linux/amd64
kustomizeVersion: v5.0.4-0.20230601165947-6ce0bf390ce3
`

// fakeKubectl writes a script standing in for kubectl, which records its arguments in the returned file.
func fakeKubectl(t *testing.T, exitCode int) (string, string) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	script := fmt.Sprintf(`#!/bin/sh
echo "$*" >> %s
if [ "$1" = "version" ]; then
cat <<'OUT'
%sOUT
exit 0
fi
echo "namespace/demo configured"
echo "Warning: deprecated" >&2
printf "partial line"
exit %d
`, argsFile, versionOutput, exitCode)
	path := filepath.Join(dir, "kubectl")
	err := os.WriteFile(path, []byte(script), 0700)
	assert.NilError(t, err)
	return path, argsFile
}

type capturedLog struct {
	mu    sync.Mutex
	lines []string
}

func (log *capturedLog) logger() logr.Logger {
	return funcr.New(func(prefix, args string) {
		log.mu.Lock()
		defer log.mu.Unlock()
		log.lines = append(log.lines, args)
	}, funcr.Options{})
}

func (log *capturedLog) contains(text string) bool {
	log.mu.Lock()
	defer log.mu.Unlock()
	for _, line := range log.lines {
		if strings.Contains(line, text) {
			return true
		}
	}
	return false
}

func TestKubectl_Apply(t *testing.T) {
	testCases := []struct {
		name     string
		kubectl  kube.Kubectl
		wantArgs string
	}{
		{
			name: "Context",
			kubectl: kube.Kubectl{
				Context: "c1",
			},
			wantArgs: "--context c1 apply -f /tmp/staging",
		},
		{
			name: "KubeconfigDryRun",
			kubectl: kube.Kubectl{
				Kubeconfig: "/etc/kube/config",
				Context:    "c1",
				DryRun:     true,
			},
			wantArgs: "--kubeconfig /etc/kube/config --context c1 apply -f /tmp/staging --dry-run=client",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path, argsFile := fakeKubectl(t, 0)
			log := &capturedLog{}
			kubectl := tc.kubectl
			kubectl.Path = path
			kubectl.Log = log.logger()

			err := kubectl.Apply(context.Background(), "/tmp/staging")
			assert.NilError(t, err)

			args, err := os.ReadFile(argsFile)
			assert.NilError(t, err)
			assert.Equal(t, strings.TrimSpace(string(args)), tc.wantArgs)
			assert.Assert(t, log.contains("namespace/demo configured"))
			assert.Assert(t, log.contains("partial line"))
			assert.Assert(t, log.contains("Warning: deprecated"))
		})
	}
}

func TestKubectl_Apply_Failed(t *testing.T) {
	path, _ := fakeKubectl(t, 3)
	kubectl := kube.Kubectl{
		Path:    path,
		Context: "c1",
		Log:     logr.Discard(),
	}

	err := kubectl.Apply(context.Background(), "/tmp/staging")
	assert.ErrorIs(t, err, kube.ErrKubectlFailed)
	assert.ErrorContains(t, err, "exit status 3")
}

func TestKubectl_ClientVersion(t *testing.T) {
	path, argsFile := fakeKubectl(t, 0)
	kubectl := kube.Kubectl{
		Path:    path,
		Context: "c1",
		Log:     logr.Discard(),
	}

	info, err := kubectl.ClientVersion(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, info.Major, "1")
	assert.Equal(t, info.Minor, "30")
	assert.Equal(t, info.GitVersion, "v1.30.1")

	args, err := os.ReadFile(argsFile)
	assert.NilError(t, err)
	assert.Equal(t, strings.TrimSpace(string(args)), "version --client --output=yaml")
}

func TestKubectl_ClientVersion_Missing(t *testing.T) {
	kubectl := kube.Kubectl{
		Path: filepath.Join(t.TempDir(), "kubectl"),
		Log:  logr.Discard(),
	}
	_, err := kubectl.ClientVersion(context.Background())
	assert.ErrorIs(t, err, kube.ErrKubectlFailed)
}
