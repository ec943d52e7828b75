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

// Package rowparser implements the Row Parser (P): it projects one raw
// API row, shaped according to a compiled QueryPlan, into the ordered
// set of output values the Warehouse Writer will serialize.
package rowparser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/googleapis/ads-report-fetcher/internal/mathexpr"
	"github.com/googleapis/ads-report-fetcher/internal/queryeditor"
	"github.com/googleapis/ads-report-fetcher/internal/schema"
	"github.com/googleapis/ads-report-fetcher/internal/util"
)

var trailingNumericPattern = regexp.MustCompile(`(\d+)$`)

// APIKind selects the row-shape convention the raw row was produced
// under: REST responses carry camelCase keys, gRPC responses carry the
// wire's snake_case field names and may carry enum values as bare
// numbers instead of names.
type APIKind int

const (
	APIKindREST APIKind = iota
	APIKindGRPC
)

// ParseRow projects raw (one decoded API response row, keyed by
// resource name at the top level, e.g. {"campaign": {...}}) against
// plan, returning the output row as alias -> value. objectMode controls
// whether nested/repeated values are preserved as structured Go values
// (true) or flattened to their string representation (false), matching
// the two shapes the Warehouse Writer's staging sink needs to support.
func ParseRow(reg *schema.Registry, plan *queryeditor.QueryPlan, raw map[string]any, apiKind APIKind, objectMode bool) (map[string]any, error) {
	normalized := normalizeKeys(raw, apiKind)

	bare := bareResourceName(plan)
	resourceNode, _ := normalized[bare]
	if resourceNode == nil {
		resourceNode = normalized
	}

	scope := mathexpr.MapScope{bare: mathexpr.FromAny(resourceNode)}

	out := make(map[string]any, len(plan.Columns))
	for _, col := range plan.Columns {
		v, err := projectColumn(reg, plan, col, resourceNode, scope, apiKind, objectMode)
		if err != nil {
			return nil, err
		}
		out[col.Alias] = v
	}
	return out, nil
}

func bareResourceName(plan *queryeditor.QueryPlan) string {
	if plan.IsBuiltinResource {
		return strings.TrimPrefix(plan.Resource, "builtin.")
	}
	return plan.Resource
}

func projectColumn(reg *schema.Registry, plan *queryeditor.QueryPlan, col queryeditor.ColumnPlan, resourceNode any, scope mathexpr.Scope, apiKind APIKind, objectMode bool) (any, error) {
	if col.Customizer.Kind == queryeditor.CustomizerVirtualColumn {
		return ParseVirtualColumn(col.Expr, scope)
	}

	value, ok := getPath(resourceNode, col.FieldPath)
	if !ok || value == nil {
		if col.Customizer.Kind == queryeditor.CustomizerFunction {
			return nil, nil
		}
		if col.Repeated {
			return []any{}, nil
		}
		return zeroValue(col.Type), nil
	}

	switch col.Customizer.Kind {
	case queryeditor.CustomizerResourceIndex:
		return extractResourceIndex(value, col.Customizer.Index)
	case queryeditor.CustomizerNestedField:
		return projectNestedField(value, col.Customizer.NestedKey, apiKind)
	case queryeditor.CustomizerFunction:
		fn, ok := plan.Functions[col.Customizer.FunctionName]
		if !ok {
			return nil, util.NewRowError("undefined function column "+col.Alias, nil)
		}
		return ParseFunctionColumn(fn, value)
	default:
		return coerceScalar(reg, col, value, apiKind, objectMode)
	}
}

// ParseFunctionColumn calls a user function once with the customized
// field's value bound to its single formal parameter. The function-ref
// customizer forces its column's result type to string scalar, so
// whatever the body evaluates to is stringified here rather than passed
// through in its native type.
func ParseFunctionColumn(fn queryeditor.UserFunction, value any) (any, error) {
	scope := mathexpr.MapScope{fn.Param: mathexpr.FromAny(value)}
	v, err := fn.Body.Eval(scope)
	if err != nil {
		return nil, util.NewRowError("evaluating function column: "+err.Error(), err)
	}
	return stringifyFunctionResult(v), nil
}

func stringifyFunctionResult(v mathexpr.Value) any {
	a := v.ToAny()
	if a == nil {
		return nil
	}
	if s, ok := a.(string); ok {
		return s
	}
	return fmt.Sprint(a)
}

// ParseVirtualColumn evaluates a virtual column's compiled expression
// against the row scope ParseRow builds: the whole (nested, not
// flattened) resource node bound under the bare resource name.
func ParseVirtualColumn(node mathexpr.Node, scope mathexpr.Scope) (any, error) {
	v, err := node.Eval(scope)
	if err != nil {
		return nil, util.NewRowError("evaluating virtual column: "+err.Error(), err)
	}
	return v.ToAny(), nil
}

func getPath(node any, path []string) (any, bool) {
	cur := node
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// extractResourceIndex splits a resource-name-shaped string like
// "customers/7/adGroupAds/10~99" by "~" and picks segment N. N=0 is a
// special case: the picked segment (the "/"-delimited resource-name
// prefix) is reduced further to the trailing numeric component of its
// last "/"-separated part, e.g. "customers/7/adGroupAds/10" → "10". The
// chosen segment is returned as an int64 when it parses as one, else as
// a plain string.
func extractResourceIndex(value any, n int) (any, error) {
	s, err := resourceIndexSource(value)
	if err != nil {
		return nil, err
	}
	segs := strings.Split(s, "~")
	if n < 0 || n >= len(segs) {
		return nil, util.NewRowError(fmt.Sprintf("resource-index customizer index %d out of range for %q", n, s), nil)
	}
	chosen := segs[n]
	if n == 0 {
		lastComponent := chosen
		if i := strings.LastIndex(chosen, "/"); i >= 0 {
			lastComponent = chosen[i+1:]
		}
		chosen = lastComponent
		if m := trailingNumericPattern.FindString(lastComponent); m != "" {
			chosen = m
		}
	}
	if id, err := strconv.ParseInt(chosen, 10, 64); err == nil {
		return id, nil
	}
	return chosen, nil
}

// resourceIndexSource resolves the string the resource-index customizer
// splits: the field's own value if it's already a string, or one of a
// struct's name/text/asset/value fields (probed in that order) if not.
func resourceIndexSource(value any) (string, error) {
	if s, ok := value.(string); ok {
		return s, nil
	}
	if m, ok := value.(map[string]any); ok {
		for _, key := range []string{"name", "text", "asset", "value"} {
			if s, ok := m[key].(string); ok {
				return s, nil
			}
		}
	}
	return "", util.NewRowError(fmt.Sprintf("resource-index customizer found no string source in %v", value), nil)
}

// projectNestedField projects NestedKey out of each element of value
// (if repeated) or out of value itself (if a single struct).
func projectNestedField(value any, nestedKey string, apiKind APIKind) (any, error) {
	path := strings.Split(nestedKey, ".")
	switch v := value.(type) {
	case []any:
		out := make([]any, 0, len(v))
		for _, elem := range v {
			m, ok := elem.(map[string]any)
			if !ok {
				continue
			}
			if nv, ok := getPath(m, path); ok {
				out = append(out, nv)
			}
		}
		return out, nil
	case map[string]any:
		nv, ok := getPath(v, path)
		if !ok {
			return nil, nil
		}
		return nv, nil
	default:
		return nil, util.NewRowError("nested-field customizer applied to a non-container field", nil)
	}
}

// coerceScalar applies gRPC enum/struct post-processing: a numeric enum
// value is resolved to its name via the Schema Registry; everything
// else passes through, except that a map or list value is flattened to
// a string when objectMode is false.
func coerceScalar(reg *schema.Registry, col queryeditor.ColumnPlan, value any, apiKind APIKind, objectMode bool) (any, error) {
	if col.Type == protoreflect.EnumKind && apiKind == APIKindGRPC {
		if n, ok := asInt64(value); ok {
			if ed, ok := reg.GetEnum(col.TypeName); ok {
				if name, ok := ed.Values[n]; ok {
					return name, nil
				}
			}
		}
	}
	if !objectMode {
		switch value.(type) {
		case map[string]any, []any:
			return flattenToString(value), nil
		}
	}
	return value, nil
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case float64:
		return int64(x), true
	case int:
		return int64(x), true
	default:
		return 0, false
	}
}

func zeroValue(kind protoreflect.Kind) any {
	switch kind {
	case protoreflect.Int32Kind, protoreflect.Int64Kind:
		return int64(0)
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		return float64(0)
	case protoreflect.BoolKind:
		return false
	default:
		return ""
	}
}

func flattenToString(v any) string {
	var sb strings.Builder
	writeFlat(&sb, v)
	return sb.String()
}

func writeFlat(sb *strings.Builder, v any) {
	switch x := v.(type) {
	case []any:
		sb.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeFlat(sb, e)
		}
		sb.WriteByte(']')
	case map[string]any:
		sb.WriteByte('{')
		first := true
		for k, e := range x {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			sb.WriteString(k)
			sb.WriteByte('=')
			writeFlat(sb, e)
		}
		sb.WriteByte('}')
	default:
		sb.WriteString(stringifyAny(x))
	}
}

func stringifyAny(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

// normalizeKeys recursively normalizes map keys to snake_case for REST
// rows (the wire convention is camelCase) and leaves gRPC rows
// untouched (already snake_case).
func normalizeKeys(raw map[string]any, apiKind APIKind) map[string]any {
	if apiKind == APIKindGRPC {
		return raw
	}
	return normalizeKeysDeep(raw).(map[string]any)
}

func normalizeKeysDeep(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[camelToSnake(k)] = normalizeKeysDeep(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalizeKeysDeep(e)
		}
		return out
	default:
		return v
	}
}

func camelToSnake(s string) string {
	var sb strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				sb.WriteByte('_')
			}
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
