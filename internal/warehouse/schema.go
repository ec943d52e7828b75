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
	"strings"

	bigqueryapi "cloud.google.com/go/bigquery"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/googleapis/ads-report-fetcher/internal/queryeditor"
)

// deriveSchema emits one destination field per column of plan. A column
// is REPEATED in the destination schema only when it is repeated in the
// plan and the writer's array-handling mode keeps arrays as arrays;
// "strings" mode collapses repeated columns to a single STRING field.
func deriveSchema(plan *queryeditor.QueryPlan, arrayHandling ArrayHandling) bigqueryapi.Schema {
	fields := make(bigqueryapi.Schema, 0, len(plan.Columns))
	for _, col := range plan.Columns {
		name := strings.ReplaceAll(col.Alias, ".", "_")
		fields = append(fields, &bigqueryapi.FieldSchema{
			Name:     name,
			Type:     bqFieldType(col.Type),
			Repeated: col.Repeated && arrayHandling == ArrayHandlingArrays,
		})
	}
	return fields
}

func bqFieldType(kind protoreflect.Kind) bigqueryapi.FieldType {
	switch kind {
	case protoreflect.Int32Kind, protoreflect.Int64Kind:
		return bigqueryapi.IntegerFieldType
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		return bigqueryapi.FloatFieldType
	case protoreflect.BoolKind:
		return bigqueryapi.BooleanFieldType
	case protoreflect.EnumKind, protoreflect.MessageKind:
		return bigqueryapi.StringFieldType
	default:
		// unknown -> STRING, matching the forward-compatible "unknown
		// leaf resolves to string" behavior of schema.Registry.GetFieldType.
		return bigqueryapi.StringFieldType
	}
}
