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
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"k8s.io/apimachinery/pkg/version"
	"k8s.io/client-go/discovery"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

const (
	FieldManager = "k8s-deploy"
)

// Client talks to the control plane of the cluster a deployment targets.
// Every write is sent as a server-side dry run when DryRun is set.
type Client struct {
	Client    client.Client
	Discovery discovery.ServerVersionInterface
	DryRun    bool
}

// New builds a Client from the kubeconfig at kubeconfigPath, or the default loading rules when it is empty,
// using the named context.
func New(kubeconfigPath string, contextName string, dryRun bool) (*Client, error) {
	config, err := RESTConfig(kubeconfigPath, contextName)
	if err != nil {
		return nil, err
	}

	kubeClient, err := client.New(config, client.Options{Scheme: clientgoscheme.Scheme})
	if err != nil {
		return nil, fmt.Errorf("create kube client: %w", err)
	}

	discoveryClient, err := discovery.NewDiscoveryClientForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("create discovery client: %w", err)
	}

	return &Client{
		Client:    kubeClient,
		Discovery: discoveryClient,
		DryRun:    dryRun,
	}, nil
}

// RESTConfig loads the rest config of contextName.
func RESTConfig(kubeconfigPath string, contextName string) (*rest.Config, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfigPath != "" {
		expanded, err := homedir.Expand(kubeconfigPath)
		if err != nil {
			return nil, fmt.Errorf("expand kubeconfig path: %w", err)
		}
		loadingRules.ExplicitPath = filepath.Clean(expanded)
	}

	overrides := &clientcmd.ConfigOverrides{}
	if contextName != "" {
		overrides.CurrentContext = contextName
	}

	config, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("build rest config for context %s: %w", contextName, err)
	}
	config.Timeout = 30 * time.Second
	return config, nil
}

// ServerVersion reports the version of the cluster's API server.
func (c *Client) ServerVersion(ctx context.Context) (*version.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := c.Discovery.ServerVersion()
	if err != nil {
		return nil, fmt.Errorf("get server version: %w", err)
	}
	return info, nil
}

func (c *Client) createOptions() []client.CreateOption {
	opts := []client.CreateOption{client.FieldOwner(FieldManager)}
	if c.DryRun {
		opts = append(opts, client.DryRunAll)
	}
	return opts
}

func (c *Client) updateOptions() []client.UpdateOption {
	opts := []client.UpdateOption{client.FieldOwner(FieldManager)}
	if c.DryRun {
		opts = append(opts, client.DryRunAll)
	}
	return opts
}
