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

package compat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/Masterminds/semver/v3"
	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/version"
)

const (
	// MaxClusterLag is how many minor versions the cluster may be behind the local tool chain.
	MaxClusterLag = 2
)

var (
	ErrIncompatibleVersions = errors.New("Local tool chain and cluster versions are incompatible")
	ErrInvalidVersion       = errors.New("Version is invalid")
)

// Version is a Kubernetes version decomposed into its major and minor parts.
type Version struct {
	Major int
	Minor int
	// Full is the version as reported, used for messages.
	Full string
}

func (v Version) String() string {
	if v.Full != "" {
		return v.Full
	}
	return fmt.Sprintf("v%d.%d", v.Major, v.Minor)
}

// Parse decomposes a reported version.
// The semantic version in GitVersion takes precedence over the Major and Minor fields,
// which some providers suffix, like "29+".
func Parse(info *version.Info) (Version, error) {
	if info == nil {
		return Version{}, fmt.Errorf("%w: no version reported", ErrInvalidVersion)
	}

	if info.GitVersion != "" {
		semVer, err := semver.NewVersion(info.GitVersion)
		if err == nil {
			return Version{
				Major: int(semVer.Major()),
				Minor: int(semVer.Minor()),
				Full:  info.GitVersion,
			}, nil
		}
	}

	major, err := leadingNumber(info.Major)
	if err != nil {
		return Version{}, fmt.Errorf("%w: major %q: %w", ErrInvalidVersion, info.Major, err)
	}
	minor, err := leadingNumber(info.Minor)
	if err != nil {
		return Version{}, fmt.Errorf("%w: minor %q: %w", ErrInvalidVersion, info.Minor, err)
	}

	full := info.GitVersion
	if full == "" {
		full = fmt.Sprintf("v%d.%d", major, minor)
	}
	return Version{Major: major, Minor: minor, Full: full}, nil
}

func leadingNumber(s string) (int, error) {
	digits := strings.TrimSpace(s)
	if i := strings.IndexFunc(digits, func(r rune) bool { return !unicode.IsDigit(r) }); i >= 0 {
		digits = digits[:i]
	}
	return strconv.Atoi(digits)
}

// Check fails when the cluster runs another major version or its minor version is ahead of local,
// or more than [MaxClusterLag] minors behind.
func Check(local Version, cluster Version) error {
	if local.Major != cluster.Major {
		return fmt.Errorf(
			"%w: cluster %s has another major version than local %s",
			ErrIncompatibleVersions,
			cluster,
			local,
		)
	}

	delta := cluster.Minor - local.Minor
	if delta > 0 {
		return fmt.Errorf("%w: cluster %s is newer than local %s", ErrIncompatibleVersions, cluster, local)
	}
	if delta < -MaxClusterLag {
		return fmt.Errorf(
			"%w: cluster %s is more than %d minor versions behind local %s",
			ErrIncompatibleVersions,
			cluster,
			MaxClusterLag,
			local,
		)
	}
	return nil
}

// VersionFunc reports a version, like the one of kubectl or of the API server.
type VersionFunc func(ctx context.Context) (*version.Info, error)

// Gate checks the local tool chain against the cluster before anything is changed.
type Gate struct {
	Log     logr.Logger
	Local   VersionFunc
	Cluster VersionFunc
}

func (gate Gate) Check(ctx context.Context) error {
	localInfo, err := gate.Local(ctx)
	if err != nil {
		return fmt.Errorf("get local version: %w", err)
	}
	local, err := Parse(localInfo)
	if err != nil {
		return err
	}

	clusterInfo, err := gate.Cluster(ctx)
	if err != nil {
		return fmt.Errorf("get cluster version: %w", err)
	}
	cluster, err := Parse(clusterInfo)
	if err != nil {
		return err
	}

	gate.Log.Info("Checking version compatibility", "local", local.String(), "cluster", cluster.String())
	return Check(local, cluster)
}
