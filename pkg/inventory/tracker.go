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

package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/validation"
)

const (
	// RecordPrefix prefixes the name of every import record.
	RecordPrefix = "import-"
)

var (
	ErrRecordNotFound    = errors.New("Import record not found")
	ErrImportApplyFailed = errors.New("Could not apply import")
	ErrWrongRecordName   = errors.New("Import record name is incorrect")
)

// Result reports what [Tracker.Apply] did.
type Result int

const (
	// Applied means the import reference was applied and its record created or replaced.
	Applied Result = iota
	// UpToDate means the stored reference equals the requested one and nothing was applied.
	UpToDate
)

func (result Result) String() string {
	if result == UpToDate {
		return "UpToDate"
	}
	return "Applied"
}

// RecordStore persists the import reference applied last, keyed by record name.
type RecordStore interface {
	// Get returns the stored reference or [ErrRecordNotFound].
	Get(ctx context.Context, name string) (string, error)
	Create(ctx context.Context, name string, reference string) error
	Replace(ctx context.Context, name string, reference string) error
}

// Applier applies an external manifest reference, like a URL or a path, to the cluster.
type Applier interface {
	Apply(ctx context.Context, target string) error
}

// Tracker applies imports at most once per distinct reference.
type Tracker struct {
	Log     logr.Logger
	Store   RecordStore
	Applier Applier
}

// Apply applies reference unless the record of importName already stores it.
// The record is written after a successful apply only.
func (tracker Tracker) Apply(ctx context.Context, importName string, reference string) (Result, error) {
	name, err := RecordName(importName)
	if err != nil {
		return Applied, err
	}
	exists := true
	stored, err := tracker.Store.Get(ctx, name)
	if err != nil {
		if !errors.Is(err, ErrRecordNotFound) {
			return Applied, err
		}
		exists = false
	}
	if exists && stored == reference {
		tracker.Log.Info("Import is up to date", "import", importName, "reference", reference)
		return UpToDate, nil
	}
	tracker.Log.Info("Importing", "import", importName, "reference", reference, "previous", stored)
	if err := tracker.Applier.Apply(ctx, reference); err != nil {
		return Applied, fmt.Errorf("%w: %s: %w", ErrImportApplyFailed, reference, err)
	}
	if exists {
		err = tracker.Store.Replace(ctx, name, reference)
	} else {
		err = tracker.Store.Create(ctx, name, reference)
	}
	if err != nil {
		return Applied, err
	}
	return Applied, nil
}

// RecordName derives the record name of an import from its file name.
// The name is lower-cased and every character a DNS-1123 subdomain does not allow is replaced by '-'.
func RecordName(importName string) (string, error) {
	var builder strings.Builder
	builder.WriteString(RecordPrefix)
	for _, r := range strings.ToLower(importName) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	name := strings.TrimRight(builder.String(), "-.")
	if errs := validation.IsDNS1123Subdomain(name); len(errs) != 0 {
		return "", fmt.Errorf("%w: %s: %s", ErrWrongRecordName, name, strings.Join(errs, ", "))
	}
	return name, nil
}
