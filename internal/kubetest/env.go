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

package kubetest

import (
	"context"

	"github.com/kharf/k8sdeploy/pkg/kube"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/version"
	fakediscovery "k8s.io/client-go/discovery/fake"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	clienttesting "k8s.io/client-go/testing"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"
)

// KubetestEnv is an in-memory control plane.
type KubetestEnv struct {
	// TestKubeClient reads and writes the fake control plane directly, bypassing dry runs.
	TestKubeClient client.Client
	Discovery      *fakediscovery.FakeDiscovery
	Client         *kube.Client
}

type options struct {
	objects            []client.Object
	serverVersion      *version.Info
	dryRun             bool
	namespaceLifecycle bool
}

type Option interface {
	apply(*options)
}

type objectsOption []client.Object

func (opt objectsOption) apply(opts *options) {
	opts.objects = append(opts.objects, opt...)
}

// WithObjects seeds the control plane.
func WithObjects(objects ...client.Object) objectsOption {
	return objectsOption(objects)
}

type serverVersionOption struct {
	info *version.Info
}

func (opt serverVersionOption) apply(opts *options) {
	opts.serverVersion = opt.info
}

// WithServerVersion sets the version the fake API server reports.
func WithServerVersion(major string, minor string, gitVersion string) serverVersionOption {
	return serverVersionOption{
		info: &version.Info{
			Major:      major,
			Minor:      minor,
			GitVersion: gitVersion,
		},
	}
}

type dryRunOption bool

func (opt dryRunOption) apply(opts *options) {
	opts.dryRun = bool(opt)
}

func WithDryRun(enabled bool) dryRunOption {
	return dryRunOption(enabled)
}

type namespaceLifecycleOption bool

func (opt namespaceLifecycleOption) apply(opts *options) {
	opts.namespaceLifecycle = bool(opt)
}

// WithNamespaceLifecycle rejects creating namespaced objects in a missing namespace with NotFound,
// like the API server does.
func WithNamespaceLifecycle() namespaceLifecycleOption {
	return namespaceLifecycleOption(true)
}

func createInExistingNamespace(
	ctx context.Context,
	c client.WithWatch,
	obj client.Object,
	opts ...client.CreateOption,
) error {
	if namespace := obj.GetNamespace(); namespace != "" {
		if err := c.Get(ctx, client.ObjectKey{Name: namespace}, &corev1.Namespace{}); err != nil {
			return err
		}
	}
	return c.Create(ctx, obj, opts...)
}

func StartKubetestEnv(opts ...Option) *KubetestEnv {
	options := &options{
		serverVersion: &version.Info{
			Major:      "1",
			Minor:      "30",
			GitVersion: "v1.30.1",
		},
	}
	for _, o := range opts {
		o.apply(options)
	}

	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		panic(err)
	}

	builder := fake.NewClientBuilder().
		WithScheme(scheme).
		WithObjects(options.objects...)
	if options.namespaceLifecycle {
		builder = builder.WithInterceptorFuncs(interceptor.Funcs{
			Create: createInExistingNamespace,
		})
	}
	testClient := builder.Build()

	discovery := &fakediscovery.FakeDiscovery{
		Fake:               &clienttesting.Fake{},
		FakedServerVersion: options.serverVersion,
	}

	return &KubetestEnv{
		TestKubeClient: testClient,
		Discovery:      discovery,
		Client: &kube.Client{
			Client:    testClient,
			Discovery: discovery,
			DryRun:    options.dryRun,
		},
	}
}
