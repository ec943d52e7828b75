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

package rowparser

import (
	"context"
	"strings"
	"testing"

	yaml "github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/googleapis/ads-report-fetcher/internal/queryeditor"
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
      - {name: resource_name, kind: string}
      - {name: status, kind: enum, type: CampaignStatus}
      - {name: network_settings, kind: struct, type: network_settings}
      - {name: frequency_caps, kind: struct, type: frequency_cap, repeated: true}
      - {name: labels, kind: string, repeated: true}
commons:
  - name: network_settings
    fields:
      - {name: target_google_search, kind: bool}
  - name: frequency_cap
    fields:
      - {name: level, kind: string}
      - {name: cap, kind: int64}
enums:
  - name: CampaignStatus
    values: {UNKNOWN: 0, ENABLED: 2, PAUSED: 3}
`

func loadRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	dec := yaml.NewDecoder(strings.NewReader(testCatalog))
	reg, err := schema.Load(context.Background(), dec)
	require.NoError(t, err)
	return reg
}

func TestParseRowPlainFields(t *testing.T) {
	reg := loadRegistry(t)
	plan, err := queryeditor.Parse(reg, "SELECT campaign.id, campaign.network_settings.target_google_search FROM campaign")
	require.NoError(t, err)

	raw := map[string]any{
		"campaign": map[string]any{
			"id": int64(42),
			"networkSettings": map[string]any{
				"targetGoogleSearch": true,
			},
		},
	}
	out, err := ParseRow(reg, plan, raw, APIKindREST, true)
	require.NoError(t, err)
	assert.Equal(t, int64(42), out["id"])
	assert.Equal(t, true, out["network_settings_target_google_search"])
}

func TestParseRowResourceIndexCustomizer(t *testing.T) {
	reg := loadRegistry(t)
	plan, err := queryeditor.Parse(reg, "SELECT campaign.resource_name~0 FROM campaign")
	require.NoError(t, err)

	raw := map[string]any{
		"campaign": map[string]any{
			"resourceName": "customers/111/campaigns/222",
		},
	}
	out, err := ParseRow(reg, plan, raw, APIKindREST, true)
	require.NoError(t, err)
	assert.Equal(t, int64(222), out["resource_name_id"])
}

func TestParseRowNestedFieldCustomizer(t *testing.T) {
	reg := loadRegistry(t)
	plan, err := queryeditor.Parse(reg, "SELECT campaign.frequency_caps:level FROM campaign")
	require.NoError(t, err)

	raw := map[string]any{
		"campaign": map[string]any{
			"frequencyCaps": []any{
				map[string]any{"level": "AD_GROUP_AD"},
				map[string]any{"level": "CAMPAIGN"},
			},
		},
	}
	out, err := ParseRow(reg, plan, raw, APIKindREST, true)
	require.NoError(t, err)
	assert.Equal(t, []any{"AD_GROUP_AD", "CAMPAIGN"}, out["frequency_caps_level"])
}

func TestParseRowEnumFromGRPC(t *testing.T) {
	reg := loadRegistry(t)
	plan, err := queryeditor.Parse(reg, "SELECT campaign.status FROM campaign")
	require.NoError(t, err)

	raw := map[string]any{
		"campaign": map[string]any{
			"status": int64(2),
		},
	}
	out, err := ParseRow(reg, plan, raw, APIKindGRPC, true)
	require.NoError(t, err)
	assert.Equal(t, "ENABLED", out["status"])
}

func TestParseRowFunctionRefColumn(t *testing.T) {
	reg := loadRegistry(t)
	query := "SELECT campaign.id:$plus_one AS id_plus_one FROM campaign " +
		"FUNCTIONS function plus_one(v){return v + 1;}"
	plan, err := queryeditor.Parse(reg, query)
	require.NoError(t, err)

	raw := map[string]any{"campaign": map[string]any{"id": int64(41)}}
	out, err := ParseRow(reg, plan, raw, APIKindREST, true)
	require.NoError(t, err)
	assert.Equal(t, "42", out["id_plus_one"])
}

func TestParseRowFunctionRefNullPassthrough(t *testing.T) {
	reg := loadRegistry(t)
	query := "SELECT campaign.resource_name:$plus_one AS n FROM campaign " +
		"FUNCTIONS function plus_one(v){return v + 1;}"
	plan, err := queryeditor.Parse(reg, query)
	require.NoError(t, err)

	out, err := ParseRow(reg, plan, map[string]any{}, APIKindREST, true)
	require.NoError(t, err)
	assert.Nil(t, out["n"])
}

func TestParseRowVirtualColumn(t *testing.T) {
	reg := loadRegistry(t)
	plan, err := queryeditor.Parse(reg, "SELECT campaign.id + 1 AS id_plus_one FROM campaign")
	require.NoError(t, err)

	raw := map[string]any{"campaign": map[string]any{"id": int64(41)}}
	out, err := ParseRow(reg, plan, raw, APIKindREST, true)
	require.NoError(t, err)
	assert.EqualValues(t, 42, out["id_plus_one"])
}

func TestParseRowMissingFieldYieldsZeroValue(t *testing.T) {
	reg := loadRegistry(t)
	plan, err := queryeditor.Parse(reg, "SELECT campaign.id FROM campaign")
	require.NoError(t, err)

	out, err := ParseRow(reg, plan, map[string]any{}, APIKindREST, true)
	require.NoError(t, err)
	assert.Equal(t, int64(0), out["id"])
}

func TestParseRowNonObjectModeFlattensLists(t *testing.T) {
	reg := loadRegistry(t)
	plan, err := queryeditor.Parse(reg, "SELECT campaign.labels FROM campaign")
	require.NoError(t, err)
	raw := map[string]any{
		"campaign": map[string]any{
			"labels": []any{"a", "b"},
		},
	}

	out, err := ParseRow(reg, plan, raw, APIKindREST, true)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out["labels"])

	out, err = ParseRow(reg, plan, raw, APIKindREST, false)
	require.NoError(t, err)
	assert.Equal(t, "[a, b]", out["labels"])
}
