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

// Package macro implements the Macro/Template Engine (M). It renders a
// query's Handlebars-style template scaffolding (conditionals, loops,
// variable interpolation) and then resolves `{name}` macro references
// and `${expr}` math expressions against the caller-supplied macro
// table.
package macro

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/aymerick/raymond"

	"github.com/googleapis/ads-report-fetcher/internal/log"
	"github.com/googleapis/ads-report-fetcher/internal/mathexpr"
	"github.com/googleapis/ads-report-fetcher/internal/util"
)

// Clock is swappable so tests can pin the magic date macros; production
// code leaves it at wall-clock time.
var Clock = func() time.Time { return time.Now().UTC() }

// Result is what Render produces: the fully resolved text, plus the
// names of any macro references that could not be resolved. Unresolved
// references are left verbatim in Text so a caller can decide whether
// that is fatal.
type Result struct {
	Text          string
	UnknownMacros []string
}

// tokenPattern matches `{name}` and `${expr}` blocks. Group 1 captures
// an optional leading "$" that marks the block as a math expression
// rather than a plain macro reference.
var tokenPattern = regexp.MustCompile(`(\$)?\{([^{}]+)\}`)

var dynamicDatePattern = regexp.MustCompile(`^:(YYYYMMDD|YYYYMM|YYYY)(?:-(\d+))?$`)

// Render executes the two-stage expansion described in the package
// doc: first the Handlebars scaffolding against templateData, then
// `{name}`/`${expr}` resolution against macros.
func Render(ctx context.Context, templateText string, templateData map[string]any, macros map[string]string) (Result, error) {
	stage1, err := raymond.Render(templateText, templateData)
	if err != nil {
		return Result{}, util.NewQueryError(util.KindBadFunctionBody, "rendering query template: "+err.Error(), err)
	}

	scope := macroScope(macros)
	var unknown []string
	seenUnknown := map[string]bool{}

	out := tokenPattern.ReplaceAllStringFunc(stage1, func(match string) string {
		groups := tokenPattern.FindStringSubmatch(match)
		isExpr := groups[1] == "$"
		name := groups[2]

		if isExpr {
			v, err := evalExpr(name, scope)
			if err != nil {
				log.LoggerFromContext(ctx).WarnContext(ctx, "macro: math expression failed", "expr", name, "err", err)
				return match
			}
			return v
		}

		if v, ok := resolveMacro(name, macros); ok {
			return v
		}
		if !seenUnknown[name] {
			seenUnknown[name] = true
			unknown = append(unknown, name)
		}
		return match
	})

	return Result{Text: out, UnknownMacros: unknown}, nil
}

func evalExpr(src string, scope mathexpr.Scope) (string, error) {
	node, err := mathexpr.Parse(src)
	if err != nil {
		return "", err
	}
	v, err := node.Eval(scope)
	if err != nil {
		return "", err
	}
	return stringifyValue(v), nil
}

func stringifyValue(v mathexpr.Value) string {
	switch a := v.ToAny().(type) {
	case string:
		return a
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", a)
	}
}

func macroScope(macros map[string]string) mathexpr.Scope {
	m := make(mathexpr.MapScope, len(macros))
	for k, v := range macros {
		m[k] = mathexpr.StringVal(v)
	}
	return m
}

// resolveMacro resolves a plain `{name}` reference: the caller-supplied
// macro table wins on a name collision; the magic dynamic-date and
// synthetic macro families are injected only when the table doesn't
// already supply the name.
func resolveMacro(name string, macros map[string]string) (string, bool) {
	if v, ok := macros[name]; ok {
		return v, true
	}
	if v, ok := resolveDynamicDate(name); ok {
		return v, true
	}
	if v, ok := resolveSyntheticMacro(name); ok {
		return v, true
	}
	return "", false
}

// resolveDynamicDate resolves macros of the form ":YYYYMMDD-N",
// ":YYYYMM-N", and ":YYYY-N", each meaning "N days/months/years before
// today", formatted to the matching precision. The "-N" suffix is
// optional and defaults to 0, so ":YYYYMMDD" alone resolves to today.
func resolveDynamicDate(name string) (string, bool) {
	m := dynamicDatePattern.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	n := 0
	if m[2] != "" {
		var err error
		n, err = strconv.Atoi(m[2])
		if err != nil {
			return "", false
		}
	}
	today := truncateToDay(Clock())
	switch m[1] {
	case "YYYYMMDD":
		return today.AddDate(0, 0, -n).Format("20060102"), true
	case "YYYYMM":
		return today.AddDate(0, -n, 0).Format("200601"), true
	case "YYYY":
		return today.AddDate(-n, 0, 0).Format("2006"), true
	default:
		return "", false
	}
}

// resolveSyntheticMacro resolves the fixed set of magic macros that
// always carry the current moment, independent of the macro table.
func resolveSyntheticMacro(name string) (string, bool) {
	now := Clock()
	switch name {
	case "date_iso":
		return truncateToDay(now).Format("2006-01-02"), true
	case "current_date":
		return truncateToDay(now).Format("2006-01-02"), true
	case "current_datetime":
		return now.Format("2006-01-02T15:04:05Z"), true
	default:
		return "", false
	}
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
