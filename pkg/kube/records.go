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
	"fmt"

	"github.com/kharf/k8sdeploy/pkg/inventory"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

const (
	// AutomationNamespace holds the bookkeeping objects of k8s-deploy.
	AutomationNamespace = "k8s-deploy-auto"
	// RecordKey is the ConfigMap data key holding the applied import reference.
	RecordKey = "path"

	managedByLabel = "app.kubernetes.io/managed-by"
)

// ConfigMapStore keeps import records as ConfigMaps.
type ConfigMapStore struct {
	Client    *Client
	Namespace string
}

var _ inventory.RecordStore = (*ConfigMapStore)(nil)

func (store *ConfigMapStore) Get(ctx context.Context, name string) (string, error) {
	configMap, err := store.get(ctx, name)
	if err != nil {
		return "", err
	}
	return configMap.Data[RecordKey], nil
}

func (store *ConfigMapStore) Create(ctx context.Context, name string, reference string) error {
	configMap := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: store.Namespace,
			Labels: map[string]string{
				managedByLabel: FieldManager,
			},
		},
		Data: map[string]string{
			RecordKey: reference,
		},
	}
	err := store.Client.Client.Create(ctx, configMap, store.Client.createOptions()...)
	if err != nil && store.Client.DryRun && apierrors.IsNotFound(err) {
		// A dry run leaves a new automation namespace uncreated.
		return nil
	}
	return err
}

func (store *ConfigMapStore) Replace(ctx context.Context, name string, reference string) error {
	configMap, err := store.get(ctx, name)
	if err != nil {
		return err
	}
	if configMap.Data == nil {
		configMap.Data = map[string]string{}
	}
	configMap.Data[RecordKey] = reference
	return store.Client.Client.Update(ctx, configMap, store.Client.updateOptions()...)
}

func (store *ConfigMapStore) get(ctx context.Context, name string) (*corev1.ConfigMap, error) {
	var configMap corev1.ConfigMap
	err := store.Client.Client.Get(ctx, client.ObjectKey{Name: name, Namespace: store.Namespace}, &configMap)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", inventory.ErrRecordNotFound, store.Namespace, name)
		}
		return nil, err
	}
	return &configMap, nil
}
