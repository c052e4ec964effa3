/*
Copyright 2018 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package log provides the process-wide structured logger used by
// default throughout the module, mirroring
// sigs.k8s.io/controller-runtime/pkg/log's global-logger pattern: a
// delegating logr.Logger that can be set once at startup (typically
// backed by zap) and retrieved from a context thereafter.
package log

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type loggerKey struct{}

var (
	mu  sync.RWMutex
	log logr.Logger = logr.Discard()
)

// SetLogger installs l as the process-wide default logger. Call this
// once, early in main, before starting any Controller.
func SetLogger(l logr.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = l
}

// Log returns the process-wide default logger.
func Log() logr.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// IntoContext returns a copy of ctx carrying l, retrievable with FromContext.
func IntoContext(ctx context.Context, l logr.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logr.Logger carried by ctx, or the
// process-wide default logger if ctx carries none.
func FromContext(ctx context.Context) logr.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(logr.Logger); ok {
			return l
		}
	}
	return Log()
}

// NewZap builds a production-shaped zap-backed logr.Logger: JSON
// encoding, ISO8601 timestamps, info level by default. Pass development
// = true for a human-readable console encoder at debug level, the
// configuration typically used when running locally.
func NewZap(development bool) logr.Logger {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zl, err := cfg.Build()
	if err != nil {
		return logr.Discard()
	}
	return zapr.NewLogger(zl)
}
