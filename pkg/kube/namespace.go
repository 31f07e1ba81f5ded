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
	"context"
	"maps"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// NamespaceOption configures a namespace before it is created.
type NamespaceOption interface {
	ApplyToNamespace(namespace *corev1.Namespace)
}

// Labels are added to the labels of a namespace.
type Labels map[string]string

var _ NamespaceOption = (Labels)(nil)

func (labels Labels) ApplyToNamespace(namespace *corev1.Namespace) {
	if namespace.Labels == nil {
		namespace.Labels = make(map[string]string, len(labels))
	}
	maps.Copy(namespace.Labels, labels)
}

// NamespaceExists reports whether the namespace is present in the cluster.
// Every error other than NotFound is returned unchanged.
func (c *Client) NamespaceExists(ctx context.Context, name string) (bool, error) {
	var namespace corev1.Namespace
	if err := c.Client.Get(ctx, client.ObjectKey{Name: name}, &namespace); err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *Client) CreateNamespace(ctx context.Context, name string, opts ...NamespaceOption) error {
	namespace := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name: name,
		},
	}
	for _, opt := range opts {
		opt.ApplyToNamespace(namespace)
	}
	return c.Client.Create(ctx, namespace, c.createOptions()...)
}
