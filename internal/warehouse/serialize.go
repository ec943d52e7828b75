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
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/googleapis/ads-report-fetcher/internal/queryeditor"
)

// serializeRow turns one Row Parser output (keyed by column alias) into a
// JSON-marshalable row keyed by destination field name, applying the
// struct/repeated-column JSON-stringification and array-handling rules.
func serializeRow(plan *queryeditor.QueryPlan, row map[string]any, opts Options) (map[string]any, error) {
	out := make(map[string]any, len(plan.Columns))
	for _, col := range plan.Columns {
		name := strings.ReplaceAll(col.Alias, ".", "_")
		v, err := serializeColumnValue(col, row[col.Alias], opts)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Alias, err)
		}
		out[name] = v
	}
	return out, nil
}

func serializeColumnValue(col queryeditor.ColumnPlan, value any, opts Options) (any, error) {
	if value == nil {
		return nil, nil
	}

	if col.Repeated {
		list, ok := value.([]any)
		if !ok {
			list = []any{value}
		}
		if col.Type == protoreflect.MessageKind {
			elems := make([]string, len(list))
			for i, el := range list {
				b, err := json.Marshal(NormalizeValue(el))
				if err != nil {
					return nil, err
				}
				elems[i] = string(b)
			}
			if opts.ArrayHandling == ArrayHandlingStrings {
				return strings.Join(elems, opts.arraySeparator()), nil
			}
			out := make([]any, len(elems))
			for i, s := range elems {
				out[i] = s
			}
			return out, nil
		}
		if opts.ArrayHandling == ArrayHandlingStrings {
			parts := make([]string, len(list))
			for i, el := range list {
				parts[i] = fmt.Sprint(NormalizeValue(el))
			}
			return strings.Join(parts, opts.arraySeparator()), nil
		}
		return NormalizeValue(list), nil
	}

	if col.Type == protoreflect.MessageKind {
		b, err := json.Marshal(NormalizeValue(value))
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}

	return NormalizeValue(value), nil
}

// NormalizeValue converts driver-specific scalar types to standard
// JSON-compatible types, recursing through slices and maps. Rows
// reaching this layer originate from the Row Parser rather than a raw
// BigQuery driver response, but an upstream API client is free to
// surface *big.Rat for NUMERIC-shaped fields, so the same conversion is
// kept here.
func NormalizeValue(v any) any {
	if v == nil {
		return nil
	}

	if rat, ok := v.(*big.Rat); ok {
		s := rat.FloatString(38)
		if strings.Contains(s, ".") {
			s = strings.TrimRight(s, "0")
			s = strings.TrimRight(s, ".")
		}
		return s
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return v
		}
		newSlice := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			newSlice[i] = NormalizeValue(rv.Index(i).Interface())
		}
		return newSlice
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		newMap := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			newMap[iter.Key().String()] = NormalizeValue(iter.Value().Interface())
		}
		return newMap
	}
	return v
}
