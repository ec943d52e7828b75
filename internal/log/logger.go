// Copyright 2026 Google LLC
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

package log

import (
	"context"
	"io"
)

// Logger is the interface every component in this module logs through.
// The Runner and the Warehouse Writer pull their logger out of the
// context they're invoked with, rather than taking one as a constructor
// argument, so a caller can attach request-scoped fields (script name,
// account id) once and have them flow through every nested call.
type Logger interface {
	DebugContext(ctx context.Context, msg string, keysAndValues ...any)
	InfoContext(ctx context.Context, msg string, keysAndValues ...any)
	WarnContext(ctx context.Context, msg string, keysAndValues ...any)
	ErrorContext(ctx context.Context, msg string, keysAndValues ...any)
}

type contextKey struct{ name string }

var loggerKey = &contextKey{"log.Logger"}

// WithLogger attaches l to ctx for retrieval by LoggerFromContext.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// LoggerFromContext returns the Logger attached to ctx, or a no-op
// logger if none was attached. Components never fail just because a
// caller forgot to attach a logger.
func LoggerFromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey).(Logger); ok && l != nil {
		return l
	}
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) DebugContext(context.Context, string, ...any) {}
func (nopLogger) InfoContext(context.Context, string, ...any)  {}
func (nopLogger) WarnContext(context.Context, string, ...any)  {}
func (nopLogger) ErrorContext(context.Context, string, ...any) {}

// NewNopLogger returns a Logger that discards everything, for tests that
// don't care about log output but still need a Logger to attach.
func NewNopLogger() Logger { return nopLogger{} }

// NewDiscardLogger returns a StdLogger writing to io.Discard, useful when
// a test wants real formatting logic to run without polluting output.
func NewDiscardLogger() Logger {
	l, _ := NewStdLogger(io.Discard, io.Discard, Info)
	return l
}

var (
	_ Logger = &StdLogger{}
	_ Logger = &StructuredLogger{}
)
