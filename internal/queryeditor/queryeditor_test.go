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
	"strings"
	"testing"

	yaml "github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/googleapis/ads-report-fetcher/internal/schema"
)

const testCatalog = `
row:
  name: row
  fields:
    - {name: campaign, kind: struct, type: campaign}
resources:
  - name: campaign
    fields:
      - {name: id, kind: int64}
      - {name: name, kind: string}
      - {name: resource_name, kind: string}
      - {name: clicks, kind: int64}
      - {name: impressions, kind: int64}
      - {name: labels, kind: string, repeated: true}
      - {name: network_settings, kind: struct, type: network_settings}
      - {name: frequency_caps, kind: struct, type: frequency_cap, repeated: true}
commons:
  - name: network_settings
    fields:
      - {name: target_google_search, kind: bool}
  - name: frequency_cap
    fields:
      - {name: level, kind: string}
enums: []
`

func loadRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	dec := yaml.NewDecoder(strings.NewReader(testCatalog))
	reg, err := schema.Load(context.Background(), dec)
	require.NoError(t, err)
	return reg
}

func TestParsePlainColumns(t *testing.T) {
	reg := loadRegistry(t)
	plan, err := Parse(reg, "SELECT campaign.id, campaign.name AS campaign_name FROM campaign")
	require.NoError(t, err)
	require.Len(t, plan.Columns, 2)
	assert.Equal(t, "id", plan.Columns[0].Alias)
	assert.Equal(t, protoreflect.Int64Kind, plan.Columns[0].Type)
	assert.Equal(t, "campaign_name", plan.Columns[1].Alias)
	assert.Equal(t, "SELECT campaign.id, campaign.name FROM campaign", plan.NativeQuery)
}

func TestParseResourceIndexCustomizer(t *testing.T) {
	reg := loadRegistry(t)
	plan, err := Parse(reg, "SELECT campaign.resource_name~0 FROM campaign")
	require.NoError(t, err)
	require.Len(t, plan.Columns, 1)
	col := plan.Columns[0]
	assert.Equal(t, CustomizerResourceIndex, col.Customizer.Kind)
	assert.Equal(t, 0, col.Customizer.Index)
	assert.Equal(t, protoreflect.Int64Kind, col.Type)
	assert.Equal(t, "resource_name_id", col.Alias)
}

func TestParseNestedFieldCustomizer(t *testing.T) {
	reg := loadRegistry(t)
	plan, err := Parse(reg, "SELECT campaign.frequency_caps:level FROM campaign")
	require.NoError(t, err)
	require.Len(t, plan.Columns, 1)
	col := plan.Columns[0]
	assert.Equal(t, CustomizerNestedField, col.Customizer.Kind)
	assert.Equal(t, "level", col.Customizer.NestedKey)
	assert.Equal(t, protoreflect.StringKind, col.Type)
}

func TestParseWildcard(t *testing.T) {
	reg := loadRegistry(t)
	plan, err := Parse(reg, "SELECT * FROM campaign")
	require.NoError(t, err)
	var aliases []string
	for _, c := range plan.Columns {
		aliases = append(aliases, c.Alias)
	}
	assert.Contains(t, aliases, "id")
	assert.Contains(t, aliases, "clicks")
	assert.NotContains(t, aliases, "network_settings")
}

func TestParseVirtualColumn(t *testing.T) {
	reg := loadRegistry(t)
	plan, err := Parse(reg, "SELECT campaign.clicks + campaign.impressions AS total FROM campaign")
	require.NoError(t, err)
	require.Len(t, plan.Columns, 1)
	col := plan.Columns[0]
	assert.Equal(t, CustomizerVirtualColumn, col.Customizer.Kind)
	assert.Equal(t, "total", col.Alias)
	require.NotNil(t, col.Expr)
	assert.Contains(t, plan.NativeQuery, "campaign.clicks")
	assert.Contains(t, plan.NativeQuery, "campaign.impressions")
}

func TestParseFunctionRefColumn(t *testing.T) {
	reg := loadRegistry(t)
	query := "SELECT campaign.name:$up AS n FROM campaign " +
		"FUNCTIONS function up(v){return v.toUpperCase();}"
	plan, err := Parse(reg, query)
	require.NoError(t, err)
	require.Len(t, plan.Columns, 1)
	col := plan.Columns[0]
	assert.Equal(t, CustomizerFunction, col.Customizer.Kind)
	assert.Equal(t, "up", col.Customizer.FunctionName)
	assert.Equal(t, "n", col.Alias)
	assert.Equal(t, protoreflect.StringKind, col.Type)
	require.Contains(t, plan.Functions, "up")
	assert.Equal(t, "v", plan.Functions["up"].Param)
	assert.Contains(t, plan.NativeQuery, "campaign.name")
}

func TestParseUnknownResource(t *testing.T) {
	reg := loadRegistry(t)
	_, err := Parse(reg, "SELECT campaign.id FROM does_not_exist")
	require.Error(t, err)
}

func TestParseUndefinedFunctionReference(t *testing.T) {
	reg := loadRegistry(t)
	_, err := Parse(reg, "SELECT campaign.name:$nope FROM campaign")
	require.Error(t, err)
}

func TestParseBuiltinResource(t *testing.T) {
	reg := loadRegistry(t)
	plan, err := Parse(reg, "SELECT value FROM builtin.unit")
	require.NoError(t, err)
	assert.True(t, plan.IsBuiltinResource)
	require.Len(t, plan.Columns, 1)
	assert.NotNil(t, plan.Override)
}

func TestParseMalformedQuery(t *testing.T) {
	reg := loadRegistry(t)
	_, err := Parse(reg, "campaign.id FROM campaign")
	require.Error(t, err)
}
