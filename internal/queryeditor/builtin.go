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

package queryeditor

import (
	"context"
	"io"
	"strings"

	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/googleapis/ads-report-fetcher/internal/schema"
)

const builtinPrefix = "builtin."

// builtinResources holds the small set of synthetic resources that are
// never backed by the warehouse's real field catalog. A query whose FROM
// clause names one of these is handed off here instead of to the Schema
// Registry.
var builtinResources = map[string]*schema.StructDescriptor{
	"unit": {
		Name: "unit",
		Fields: map[string]schema.FieldDescriptor{
			"value": schema.Primitive(protoreflect.Int64Kind, false),
		},
	},
}

// isBuiltinResource reports whether name designates a built-in resource
// (i.e. carries the "builtin." prefix), and returns its bare name.
func isBuiltinResource(name string) (string, bool) {
	if !strings.HasPrefix(name, builtinPrefix) {
		return "", false
	}
	return strings.TrimPrefix(name, builtinPrefix), true
}

// resolveBuiltinResource resolves the bare name (without "builtin.") to
// its struct descriptor.
func resolveBuiltinResource(bareName string) (*schema.StructDescriptor, bool) {
	sd, ok := builtinResources[bareName]
	return sd, ok
}

// builtinExecutors holds the override executor each built-in resource
// registers itself as, keyed by the same bare name as builtinResources.
var builtinExecutors = map[string]OverrideExecutor{
	"unit": unitExecutor{},
}

// unitExecutor backs the "builtin.unit" resource: a script that needs
// exactly one account-independent row (e.g. to evaluate a virtual
// column with no upstream dependency) selects it instead of a real
// resource, and gets a single row with value=1 rather than a call to
// the upstream API.
type unitExecutor struct{}

func (unitExecutor) Execute(ctx context.Context, accountID string) (RowSource, error) {
	return &unitRowSource{}, nil
}

type unitRowSource struct {
	emitted bool
}

func (s *unitRowSource) Next() (map[string]any, error) {
	if s.emitted {
		return nil, io.EOF
	}
	s.emitted = true
	return map[string]any{"unit": map[string]any{"value": int64(1)}}, nil
}
