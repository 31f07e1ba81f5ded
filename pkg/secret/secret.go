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

package secret

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
	"github.com/kharf/k8sdeploy/pkg/values"
)

var (
	ErrSourceNotFound = errors.New("Secrets source not found")
	ErrDecryption     = errors.New("Could not decrypt secrets")
)

// Source loads the secrets tree of a run.
type Source interface {
	Load(ctx context.Context) (values.Tree, error)
}

// FileSource reads secrets from a TOML file.
// The file is decrypted with age first when Identities are set, either armored or binary.
type FileSource struct {
	Path       string
	Identities []age.Identity
}

var _ Source = (*FileSource)(nil)

func (source FileSource) Load(ctx context.Context) (values.Tree, error) {
	data, err := os.ReadFile(source.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return values.Tree{}, fmt.Errorf("%w: %s", ErrSourceNotFound, source.Path)
		}
		return values.Tree{}, err
	}

	if len(source.Identities) != 0 {
		data, err = decrypt(data, source.Identities)
		if err != nil {
			return values.Tree{}, fmt.Errorf("%w: %s: %w", ErrDecryption, source.Path, err)
		}
	}

	tree, err := values.Parse(data)
	if err != nil {
		return values.Tree{}, fmt.Errorf("%s: %w", source.Path, err)
	}
	return tree, nil
}

func decrypt(data []byte, identities []age.Identity) ([]byte, error) {
	var reader io.Reader = bytes.NewReader(data)
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte(armor.Header)) {
		reader = armor.NewReader(bytes.NewReader(bytes.TrimSpace(data)))
	}
	ageReader, err := age.Decrypt(reader, identities...)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(ageReader)
}

// ParseIdentities reads age identities from a key file as written by age-keygen.
func ParseIdentities(path string) ([]age.Identity, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	identities, err := age.ParseIdentities(bufio.NewReader(file))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return identities, nil
}

// EnvSource reads secrets as TOML from an environment variable.
type EnvSource struct {
	Name string
	// LookupEnv defaults to [os.LookupEnv].
	LookupEnv func(key string) (string, bool)
}

var _ Source = (*EnvSource)(nil)

func (source EnvSource) Load(ctx context.Context) (values.Tree, error) {
	lookup := source.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	content, found := lookup(source.Name)
	if !found || strings.TrimSpace(content) == "" {
		return values.Tree{}, fmt.Errorf("%w: environment variable %s", ErrSourceNotFound, source.Name)
	}
	tree, err := values.Parse([]byte(content))
	if err != nil {
		return values.Tree{}, fmt.Errorf("environment variable %s: %w", source.Name, err)
	}
	return tree, nil
}
