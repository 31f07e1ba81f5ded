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

package logging

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-logr/logr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	crzap "sigs.k8s.io/controller-runtime/pkg/log/zap"
)

var (
	ErrUnknownLevel = errors.New("Unknown log level")
)

// New creates a logger writing to out at the given level: debug, info, warn or error.
// The debug level switches to the human readable development encoding.
func New(level string, out io.Writer) (logr.Logger, error) {
	opts := crzap.Options{
		DestWriter:  out,
		TimeEncoder: zapcore.ISO8601TimeEncoder,
	}

	var zapLevel zapcore.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		opts.Development = true
		zapLevel = zapcore.DebugLevel
	case "info", "":
		zapLevel = zapcore.InfoLevel
	case "warn", "warning":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		return logr.Logger{}, fmt.Errorf("%w: %s", ErrUnknownLevel, level)
	}

	atomicLevel := zap.NewAtomicLevelAt(zapLevel)
	opts.Level = &atomicLevel
	return crzap.New(crzap.UseFlagOptions(&opts)), nil
}
