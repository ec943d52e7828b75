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

// Package queryeditor implements the Query Editor (Q): it turns report
// query text plus a resolved macro table into a QueryPlan the Query
// Runner can execute and the Row Parser can project rows against.
package queryeditor

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/googleapis/ads-report-fetcher/internal/mathexpr"
	"github.com/googleapis/ads-report-fetcher/internal/schema"
	"github.com/googleapis/ads-report-fetcher/internal/util"
)

// CustomizerKind names the four projection customizer variants a column
// may carry.
type CustomizerKind int

const (
	CustomizerNone CustomizerKind = iota
	// CustomizerNestedField projects a named sub-field out of a
	// repeated or struct-valued field, e.g. frequency_caps:level.
	CustomizerNestedField
	// CustomizerResourceIndex extracts a numeric segment out of a
	// resource-name-shaped string, e.g. campaign.resource_name~2. N=0
	// is a special case meaning "the trailing numeric component".
	CustomizerResourceIndex
	// CustomizerFunction routes the column's base field value through
	// a single-argument user function, e.g. campaign.name:$up.
	CustomizerFunction
	// CustomizerVirtualColumn marks a column whose value is computed
	// from a compiled expression instead of requested from the
	// upstream API.
	CustomizerVirtualColumn
)

// Customizer is the resolved customizer for one column.
type Customizer struct {
	Kind         CustomizerKind
	NestedKey    string
	Index        int
	FunctionName string
}

// UserFunction is one FUNCTIONS-block definition: a single formal
// parameter bound to the customized field's value, and the compiled
// expression body evaluated against it.
type UserFunction struct {
	Param string
	Body  mathexpr.Node
}

// ColumnPlan is one projected output column: its header name, the type
// the Row Parser should coerce values to, and how to pull its value out
// of a raw row.
type ColumnPlan struct {
	Alias      string
	FieldPath  []string
	Customizer Customizer
	Type       protoreflect.Kind
	// TypeName is the registry type name backing Type when it is
	// EnumKind or MessageKind, letting the Row Parser resolve enum
	// numeric values to names without re-walking the schema.
	TypeName string
	Repeated bool
	// Expr is the compiled expression backing a virtual column; nil
	// for every other customizer kind.
	Expr mathexpr.Node
}

// QueryPlan is the compiled result of Parse: everything the Query Runner
// and Row Parser need to execute a report query and shape its rows.
type QueryPlan struct {
	Resource           string
	ResourceDescriptor *schema.StructDescriptor
	IsBuiltinResource  bool
	Columns            []ColumnPlan
	NativeQuery        string
	Functions          map[string]UserFunction
	// Override, when set, lets a built-in synthetic resource supply
	// its own row source instead of the real upstream API client.
	Override OverrideExecutor
}

// RowSource yields raw rows the same way a Query Runner API client's row
// iterator does; kept as its own type here so this package doesn't need
// to import the runner package to describe what an override executor
// hands back.
type RowSource interface {
	Next() (map[string]any, error)
}

// OverrideExecutor lets a built-in resource substitute a prebuilt row
// source for the plan's native query.
type OverrideExecutor interface {
	Execute(ctx context.Context, accountID string) (RowSource, error)
}

var selectFromPattern = regexp.MustCompile(`(?is)^\s*SELECT\s+(.+?)\s+FROM\s+([a-zA-Z0-9_.]+)\s*(.*?)\s*$`)
var functionsKeywordPattern = regexp.MustCompile(`(?i)\bFUNCTIONS\b`)
var functionHeaderPattern = regexp.MustCompile(`(?i)function\s+([A-Za-z_]\w*)\s*\(\s*([A-Za-z_]\w*)\s*\)\s*\{`)
var returnStatementPattern = regexp.MustCompile(`(?is)^return\s+(.*?)\s*;?\s*$`)
var asAliasPattern = regexp.MustCompile(`(?i)\s+AS\s+`)
var resourceIndexPattern = regexp.MustCompile(`^(.+)~(\d+)$`)
var nestedFieldPattern = regexp.MustCompile(`^([^:]+):(.+)$`)
var plainFieldPattern = regexp.MustCompile(`^[A-Za-z_]\w*(\.[A-Za-z_]\w*)*$`)

// Parse compiles queryText (query language text with macros already
// substituted by the Macro Engine) into a QueryPlan, resolving every
// referenced field against reg.
func Parse(reg *schema.Registry, queryText string) (*QueryPlan, error) {
	functionsSrc, coreQuery := extractFunctionsBlock(queryText)
	functions, err := compileFunctions(functionsSrc)
	if err != nil {
		return nil, err
	}

	m := selectFromPattern.FindStringSubmatch(coreQuery)
	if m == nil {
		return nil, util.NewQueryError(util.KindInvalidQuery, "query must match SELECT <columns> FROM <resource> [...]", nil)
	}
	columnListSrc, resourceName, trailing := m[1], m[2], m[3]

	plan := &QueryPlan{Resource: resourceName, Functions: functions}

	if bare, ok := isBuiltinResource(resourceName); ok {
		sd, ok := resolveBuiltinResource(bare)
		if !ok {
			return nil, util.NewQueryError(util.KindUnknownResource, fmt.Sprintf("unknown builtin resource %q", resourceName), nil)
		}
		plan.ResourceDescriptor = sd
		plan.IsBuiltinResource = true
		if exec, ok := builtinExecutors[bare]; ok {
			plan.Override = exec
		}
	} else {
		sd, err := reg.GetResource(resourceName)
		if err != nil {
			return nil, err
		}
		plan.ResourceDescriptor = sd
	}

	items := splitTopLevel(columnListSrc, ',')
	for _, raw := range items {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		cols, err := compileColumnItem(reg, plan, raw)
		if err != nil {
			return nil, err
		}
		plan.Columns = append(plan.Columns, cols...)
	}

	plan.NativeQuery = assembleNativeQuery(plan, resourceName, trailing)
	return plan, nil
}

// extractFunctionsBlock splits queryText at its tail FUNCTIONS section,
// if any. There is no closing keyword: everything from the first
// top-level FUNCTIONS token to the end of the text is the functions
// source, and everything before it is the core SELECT...FROM query.
func extractFunctionsBlock(queryText string) (functionsSrc, coreQuery string) {
	loc := functionsKeywordPattern.FindStringIndex(queryText)
	if loc == nil {
		return "", strings.TrimSpace(queryText)
	}
	return strings.TrimSpace(queryText[loc[1]:]), strings.TrimSpace(queryText[:loc[0]])
}

// compileFunctions brace-scans a FUNCTIONS section for a sequence of
// `function NAME(PARAM) { BODY }` blocks, compiling each single-statement
// body into a mathexpr.Node evaluated against a scope binding PARAM to
// the customized field's value.
func compileFunctions(src string) (map[string]UserFunction, error) {
	functions := make(map[string]UserFunction)
	for src = strings.TrimSpace(src); src != ""; {
		loc := functionHeaderPattern.FindStringSubmatchIndex(src)
		if loc == nil {
			return nil, util.NewQueryError(util.KindBadFunctionBody, fmt.Sprintf("malformed FUNCTIONS section near %q", src), nil)
		}
		name := src[loc[2]:loc[3]]
		param := src[loc[4]:loc[5]]
		bodyStart := loc[1]
		bodyEnd, err := matchingBrace(src, bodyStart)
		if err != nil {
			return nil, util.NewQueryError(util.KindBadFunctionBody, fmt.Sprintf("function %q: %s", name, err.Error()), err)
		}
		node, err := compileFunctionBody(src[bodyStart:bodyEnd])
		if err != nil {
			return nil, util.NewQueryError(util.KindBadFunctionBody, fmt.Sprintf("function %q: %s", name, err.Error()), err)
		}
		functions[name] = UserFunction{Param: param, Body: node}
		src = strings.TrimSpace(src[bodyEnd+1:])
	}
	return functions, nil
}

// matchingBrace returns the index of the "}" that closes the "{" just
// before openPos, counting nested braces along the way.
func matchingBrace(s string, openPos int) (int, error) {
	depth := 1
	for i := openPos; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("unbalanced braces")
}

func compileFunctionBody(body string) (mathexpr.Node, error) {
	expr := strings.TrimSpace(body)
	if m := returnStatementPattern.FindStringSubmatch(expr); m != nil {
		expr = m[1]
	}
	expr = strings.TrimSuffix(strings.TrimSpace(expr), ";")
	return mathexpr.Parse(expr)
}

func compileColumnItem(reg *schema.Registry, plan *QueryPlan, item string) ([]ColumnPlan, error) {
	body, alias, hasAlias := splitAlias(item)

	if body == "*" {
		return expandWildcard(plan.ResourceDescriptor), nil
	}

	fieldExpr := body
	customizer := Customizer{}

	switch {
	case resourceIndexPattern.MatchString(fieldExpr):
		m := resourceIndexPattern.FindStringSubmatch(fieldExpr)
		idx, err := strconv.Atoi(m[2])
		if err != nil {
			return nil, util.NewQueryError(util.KindInvalidQuery, fmt.Sprintf("invalid resource index %q", m[2]), err)
		}
		fieldExpr = m[1]
		customizer = Customizer{Kind: CustomizerResourceIndex, Index: idx}

	case nestedFieldPattern.MatchString(fieldExpr) && strings.HasPrefix(nestedFieldPattern.FindStringSubmatch(fieldExpr)[2], "$"):
		m := nestedFieldPattern.FindStringSubmatch(fieldExpr)
		fname := strings.TrimPrefix(m[2], "$")
		if _, ok := plan.Functions[fname]; !ok {
			return nil, util.NewQueryError(util.KindBadFunctionBody, fmt.Sprintf("reference to undefined function %q", fname), nil)
		}
		fieldExpr = m[1]
		customizer = Customizer{Kind: CustomizerFunction, FunctionName: fname}

	case nestedFieldPattern.MatchString(fieldExpr):
		m := nestedFieldPattern.FindStringSubmatch(fieldExpr)
		fieldExpr = m[1]
		customizer = Customizer{Kind: CustomizerNestedField, NestedKey: m[2]}

	case !plainFieldPattern.MatchString(stripBareResourcePrefix(fieldExpr, plan.Resource)):
		return compileVirtualColumn(fieldExpr, alias, hasAlias)
	}

	fieldExpr = stripBareResourcePrefix(fieldExpr, plan.Resource)

	fieldPath := strings.Split(fieldExpr, ".")
	fd, err := reg.GetFieldType(plan.ResourceDescriptor, fieldPath)
	if err != nil {
		return nil, err
	}

	colType := fd.Kind
	switch customizer.Kind {
	case CustomizerResourceIndex:
		colType = protoreflect.Int64Kind
	case CustomizerFunction:
		colType = protoreflect.StringKind
	case CustomizerNestedField:
		if !fd.IsStruct() {
			return nil, util.NewQueryError(util.KindInvalidFieldPath,
				fmt.Sprintf("nested-field customizer requires a struct field, got %q", fieldExpr), nil)
		}
		elemDescriptor, err := reg.StructByTypeName(fd.TypeName)
		if err != nil {
			return nil, err
		}
		nested, err := reg.GetFieldType(elemDescriptor, strings.Split(customizer.NestedKey, "."))
		if err != nil {
			return nil, err
		}
		colType = nested.Kind
	}

	if !hasAlias {
		alias = defaultAlias(fieldPath, customizer)
	}

	return []ColumnPlan{{
		Alias:      alias,
		FieldPath:  fieldPath,
		Customizer: customizer,
		Type:       colType,
		TypeName:   fd.TypeName,
		Repeated:   fd.Repeated && customizer.Kind == CustomizerNone,
	}}, nil
}

// compileVirtualColumn handles a SELECT-list item that matches none of
// the path-qualified customizer syntaxes: parsed as a math expression
// evaluated against the full flattened row, per the virtual-column
// customizer.
func compileVirtualColumn(expr string, alias string, hasAlias bool) ([]ColumnPlan, error) {
	node, err := mathexpr.Parse(expr)
	if err != nil {
		return nil, util.NewQueryError(util.KindInvalidQuery,
			fmt.Sprintf("column %q is neither a known field path nor a valid expression: %s", expr, err.Error()), err)
	}
	if !hasAlias {
		alias = virtualColumnAlias(expr)
	}
	return []ColumnPlan{{
		Alias:      alias,
		Customizer: Customizer{Kind: CustomizerVirtualColumn},
		Type:       inferFunctionType(node),
		Expr:       node,
	}}, nil
}

func virtualColumnAlias(expr string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, expr)
}

func stripBareResourcePrefix(fieldExpr, resource string) string {
	if bare := bareResourceName(resource); strings.HasPrefix(fieldExpr, bare+".") {
		return strings.TrimPrefix(fieldExpr, bare+".")
	}
	return fieldExpr
}

func bareResourceName(resource string) string {
	if bare, ok := isBuiltinResource(resource); ok {
		return bare
	}
	return resource
}

func splitAlias(item string) (body string, alias string, hasAlias bool) {
	parts := asAliasPattern.Split(item, 2)
	if len(parts) == 2 {
		return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), true
	}
	return strings.TrimSpace(item), "", false
}

func defaultAlias(fieldPath []string, c Customizer) string {
	base := strings.Join(fieldPath, "_")
	switch c.Kind {
	case CustomizerResourceIndex:
		return base + "_id"
	case CustomizerNestedField:
		return base + "_" + strings.ReplaceAll(c.NestedKey, ".", "_")
	default:
		return base
	}
}

func expandWildcard(sd *schema.StructDescriptor) []ColumnPlan {
	names := make([]string, 0, len(sd.Fields))
	for name, fd := range sd.Fields {
		if fd.IsPrimitive() || fd.IsEnum() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	cols := make([]ColumnPlan, 0, len(names))
	for _, name := range names {
		fd := sd.Fields[name]
		cols = append(cols, ColumnPlan{
			Alias:     name,
			FieldPath: []string{name},
			Type:      fd.Kind,
			TypeName:  fd.TypeName,
			Repeated:  fd.Repeated,
		})
	}
	return cols
}

// inferFunctionType reflects the detect-constant capability of the Math
// Expression Engine: a purely literal function body can be typed from
// its literal value; anything that depends on row data is assumed to
// project as a double, the common case for computed ratios.
func inferFunctionType(node mathexpr.Node) protoreflect.Kind {
	if !node.IsConstant() {
		return protoreflect.DoubleKind
	}
	v, err := node.Eval(mathexpr.MapScope{})
	if err != nil {
		return protoreflect.DoubleKind
	}
	switch v.InferredPrimitiveType() {
	case "int64":
		return protoreflect.Int64Kind
	case "double":
		return protoreflect.DoubleKind
	default:
		return protoreflect.StringKind
	}
}

// assembleNativeQuery rebuilds the query text sent to the Query Runner's
// API client: bare field paths for every column requested from the
// upstream API (every customizer but virtual-column has one), plus any
// resource fields a virtual column's expression depends on, with
// customizer syntax and aliases stripped. A function-ref's own body
// isn't walked for accessors: it only ever sees the single value bound
// to its parameter, never the row.
func assembleNativeQuery(plan *QueryPlan, resource string, trailing string) string {
	bare := bareResourceName(resource)
	seen := map[string]bool{}
	var fields []string
	addField := func(path []string) {
		key := strings.Join(path, ".")
		if len(path) == 0 || path[0] != bare {
			key = bare + "." + key
		}
		if !seen[key] {
			seen[key] = true
			fields = append(fields, key)
		}
	}

	for _, col := range plan.Columns {
		if col.Customizer.Kind == CustomizerVirtualColumn {
			var accessors [][]string
			col.Expr.CollectAccessors(&accessors)
			for _, a := range accessors {
				addField(a)
			}
			continue
		}
		addField(col.FieldPath)
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(fields, ", "), resource)
	if trailing != "" {
		query += " " + trailing
	}
	return query
}

// splitTopLevel splits s on sep, ignoring separators inside ${...}
// blocks so a function column's expression body is never torn apart.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}
