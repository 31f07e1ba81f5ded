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
	"errors"
	"testing"

	"github.com/kharf/k8sdeploy/internal/kubetest"
	"github.com/kharf/k8sdeploy/pkg/inventory"
	"github.com/kharf/k8sdeploy/pkg/kube"
	"go.uber.org/goleak"
	"gotest.tools/v3/assert"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	clienttesting "k8s.io/client-go/testing"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestClient_Namespace(t *testing.T) {
	ctx := context.Background()
	env := kubetest.StartKubetestEnv(
		kubetest.WithObjects(&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "existing"}}),
	)

	exists, err := env.Client.NamespaceExists(ctx, "existing")
	assert.NilError(t, err)
	assert.Assert(t, exists)

	exists, err = env.Client.NamespaceExists(ctx, "demo")
	assert.NilError(t, err)
	assert.Assert(t, !exists)

	err = env.Client.CreateNamespace(ctx, "demo", kube.Labels{"name": "demo"})
	assert.NilError(t, err)

	var namespace corev1.Namespace
	err = env.TestKubeClient.Get(ctx, client.ObjectKey{Name: "demo"}, &namespace)
	assert.NilError(t, err)
	assert.DeepEqual(t, namespace.Labels, map[string]string{"name": "demo"})

	err = env.Client.CreateNamespace(ctx, "demo")
	assert.Assert(t, apierrors.IsAlreadyExists(err))
}

func TestClient_CreateNamespace_DryRun(t *testing.T) {
	ctx := context.Background()
	env := kubetest.StartKubetestEnv(kubetest.WithDryRun(true))

	err := env.Client.CreateNamespace(ctx, "demo", kube.Labels{"name": "demo"})
	assert.NilError(t, err)

	exists, err := env.Client.NamespaceExists(ctx, "demo")
	assert.NilError(t, err)
	assert.Assert(t, !exists)
}

func TestClient_ServerVersion(t *testing.T) {
	ctx := context.Background()
	env := kubetest.StartKubetestEnv(kubetest.WithServerVersion("1", "29+", "v1.29.4-eks-036c24b"))

	info, err := env.Client.ServerVersion(ctx)
	assert.NilError(t, err)
	assert.Equal(t, info.Minor, "29+")
	assert.Equal(t, info.GitVersion, "v1.29.4-eks-036c24b")

	errUnreachable := errors.New("connection refused")
	env.Discovery.PrependReactor("*", "*", func(action clienttesting.Action) (bool, runtime.Object, error) {
		return true, nil, errUnreachable
	})
	_, err = env.Client.ServerVersion(ctx)
	assert.ErrorIs(t, err, errUnreachable)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = env.Client.ServerVersion(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigMapStore(t *testing.T) {
	ctx := context.Background()
	env := kubetest.StartKubetestEnv()
	store := &kube.ConfigMapStore{
		Client:    env.Client,
		Namespace: kube.AutomationNamespace,
	}

	_, err := store.Get(ctx, "import-crds.yaml")
	assert.ErrorIs(t, err, inventory.ErrRecordNotFound)

	err = store.Create(ctx, "import-crds.yaml", "https://example.com/v1.yaml")
	assert.NilError(t, err)

	reference, err := store.Get(ctx, "import-crds.yaml")
	assert.NilError(t, err)
	assert.Equal(t, reference, "https://example.com/v1.yaml")

	err = store.Replace(ctx, "import-crds.yaml", "https://example.com/v2.yaml")
	assert.NilError(t, err)

	var configMap corev1.ConfigMap
	err = env.TestKubeClient.Get(
		ctx,
		client.ObjectKey{Name: "import-crds.yaml", Namespace: kube.AutomationNamespace},
		&configMap,
	)
	assert.NilError(t, err)
	assert.DeepEqual(t, configMap.Data, map[string]string{kube.RecordKey: "https://example.com/v2.yaml"})
	assert.Equal(t, configMap.Labels["app.kubernetes.io/managed-by"], kube.FieldManager)

	err = store.Replace(ctx, "import-missing", "x")
	assert.ErrorIs(t, err, inventory.ErrRecordNotFound)
}

func TestConfigMapStore_Create_MissingNamespace(t *testing.T) {
	testCases := []struct {
		name    string
		dryRun  bool
		wantErr bool
	}{
		{
			name:    "Fails",
			wantErr: true,
		},
		{
			name:   "DryRunSucceeds",
			dryRun: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			env := kubetest.StartKubetestEnv(
				kubetest.WithNamespaceLifecycle(),
				kubetest.WithDryRun(tc.dryRun),
			)
			store := &kube.ConfigMapStore{
				Client:    env.Client,
				Namespace: kube.AutomationNamespace,
			}

			err := store.Create(ctx, "import-crds.yaml", "https://example.com/v1.yaml")
			if tc.wantErr {
				assert.Assert(t, apierrors.IsNotFound(err), "got %v", err)
				return
			}
			assert.NilError(t, err)
			_, err = store.Get(ctx, "import-crds.yaml")
			assert.ErrorIs(t, err, inventory.ErrRecordNotFound)
		})
	}
}

func TestConfigMapStore_Tracker(t *testing.T) {
	ctx := context.Background()
	env := kubetest.StartKubetestEnv()
	applier := &recordingApplier{}
	tracker := inventory.Tracker{
		Store: &kube.ConfigMapStore{
			Client:    env.Client,
			Namespace: kube.AutomationNamespace,
		},
		Applier: applier,
	}

	for i := 0; i < 3; i++ {
		_, err := tracker.Apply(ctx, "crds.yaml", "https://example.com/v1.yaml")
		assert.NilError(t, err)
	}
	assert.DeepEqual(t, applier.targets, []string{"https://example.com/v1.yaml"})
}

type recordingApplier struct {
	targets []string
}

func (applier *recordingApplier) Apply(ctx context.Context, target string) error {
	applier.targets = append(applier.targets, target)
	return nil
}
