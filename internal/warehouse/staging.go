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

package warehouse

import (
	"context"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"

	"github.com/googleapis/ads-report-fetcher/internal/log"
)

// stagingBufferSize bounds the internal buffer of an object-store sink
// so a large result set cannot grow its upload buffer unboundedly.
const stagingBufferSize = 1 << 20 // ~1 MiB

// stagingSink is a single newline-delimited write target for one
// account's (or, for shared sinks, one script's) staged rows.
type stagingSink interface {
	WriteLine(b []byte) error
	Close() error
	// Path is the location Load should read back from: a local file
	// path, or a gs:// URI for object-store destinations.
	Path() string
	IsRemote() bool
}

// stagingFileName matches the persisted-state naming convention: a
// dotfile named after the destination table and, for per-customer
// sinks, the account it belongs to.
func stagingFileName(table, account string) string {
	if account == "" {
		return fmt.Sprintf(".%s.json", table)
	}
	return fmt.Sprintf(".%s_%s.json", table, account)
}

// openStagingSink opens a sink for path, dispatching to a local file or
// an object-store writer based on whether path carries a gs:// scheme.
func openStagingSink(ctx context.Context, gcsClient *storage.Client, path string) (stagingSink, error) {
	if bucket, object, ok := parseGCSURI(path); ok {
		if gcsClient == nil {
			return nil, fmt.Errorf("staging path %q requires a storage client", path)
		}
		w := gcsClient.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ChunkSize = stagingBufferSize
		w.ContentType = "application/x-ndjson"
		return &gcsSink{ctx: ctx, w: w, uri: path}, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating staging file %q: %w", path, err)
	}
	return &localSink{f: f, path: path}, nil
}

func parseGCSURI(path string) (bucket, object string, ok bool) {
	const prefix = "gs://"
	if !strings.HasPrefix(path, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// newScratchSubdir generates a collision-free directory name for staging
// files when the caller did not configure an output path.
func newScratchSubdir() string {
	return "ads-report-fetcher-" + uuid.NewString()
}

type localSink struct {
	f    *os.File
	path string
}

func (s *localSink) WriteLine(b []byte) error {
	if _, err := s.f.Write(b); err != nil {
		return err
	}
	_, err := s.f.Write([]byte("\n"))
	return err
}

func (s *localSink) Close() error   { return s.f.Close() }
func (s *localSink) Path() string   { return s.path }
func (s *localSink) IsRemote() bool { return false }

type gcsSink struct {
	ctx context.Context
	w   *storage.Writer
	uri string
}

func (s *gcsSink) WriteLine(b []byte) error {
	if _, err := s.w.Write(b); err != nil {
		log.LoggerFromContext(s.ctx).ErrorContext(s.ctx, "staging upload write failed", "uri", s.uri, "error", err)
		return err
	}
	if _, err := s.w.Write([]byte("\n")); err != nil {
		log.LoggerFromContext(s.ctx).ErrorContext(s.ctx, "staging upload write failed", "uri", s.uri, "error", err)
		return err
	}
	return nil
}

func (s *gcsSink) Close() error {
	if err := s.w.Close(); err != nil {
		log.LoggerFromContext(s.ctx).ErrorContext(s.ctx, "staging upload close failed", "uri", s.uri, "error", err)
		return err
	}
	return nil
}

func (s *gcsSink) Path() string   { return s.uri }
func (s *gcsSink) IsRemote() bool { return true }
