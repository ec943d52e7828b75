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

package schema

import (
	"context"
	"strings"
	"testing"

	yaml "github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/googleapis/ads-report-fetcher/internal/util"
)

const testCatalog = `
row:
  name: row
  fields:
    - {name: campaign, kind: struct, type: campaign}
    - {name: ad_group_ad, kind: struct, type: ad_group_ad}
    - {name: campaign_constant, kind: struct, type: campaign}
resources:
  - name: campaign
    fields:
      - {name: id, kind: int64}
      - {name: name, kind: string}
      - {name: status, kind: enum, type: CampaignStatus}
      - {name: labels, kind: string, repeated: true}
      - {name: network_settings, kind: struct, type: network_settings}
  - name: ad_group_ad
    fields:
      - {name: resource_name, kind: string}
commons:
  - name: network_settings
    fields:
      - {name: target_google_search, kind: bool}
enums:
  - name: CampaignStatus
    values: {UNKNOWN: 0, ENABLED: 2, PAUSED: 3, REMOVED: 4}
`

func loadTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dec := yaml.NewDecoder(strings.NewReader(testCatalog))
	reg, err := Load(context.Background(), dec)
	require.NoError(t, err)
	return reg
}

func TestGetResource(t *testing.T) {
	reg := loadTestRegistry(t)

	sd, err := reg.GetResource("campaign")
	require.NoError(t, err)
	assert.Equal(t, "campaign", sd.Name)
	assert.Contains(t, sd.Fields, "id")

	_, err = reg.GetResource("does_not_exist")
	require.Error(t, err)
	var qe util.ReportError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, util.KindUnknownResource, qe.Kind())
}

func TestGetFieldType(t *testing.T) {
	reg := loadTestRegistry(t)
	campaign, err := reg.GetResource("campaign")
	require.NoError(t, err)

	fd, err := reg.GetFieldType(campaign, []string{"id"})
	require.NoError(t, err)
	assert.Equal(t, protoreflect.Int64Kind, fd.Kind)

	fd, err = reg.GetFieldType(campaign, []string{"network_settings", "target_google_search"})
	require.NoError(t, err)
	assert.Equal(t, protoreflect.BoolKind, fd.Kind)

	// Unknown leaf is unknown-forward-compatible.
	fd, err = reg.GetFieldType(campaign, []string{"some_new_field"})
	require.NoError(t, err)
	assert.Equal(t, protoreflect.StringKind, fd.Kind)

	// Primitive intermediate segment is invalid.
	_, err = reg.GetFieldType(campaign, []string{"id", "whatever"})
	require.Error(t, err)

	// Repeated field mid-path is invalid.
	_, err = reg.GetFieldType(campaign, []string{"labels", "whatever"})
	require.Error(t, err)
}

func TestIsConstantResource(t *testing.T) {
	assert.True(t, IsConstantResource("customer_constant"))
	assert.False(t, IsConstantResource("campaign"))
}

func TestGetEnum(t *testing.T) {
	reg := loadTestRegistry(t)
	ed, ok := reg.GetEnum("CampaignStatus")
	require.True(t, ok)
	assert.Equal(t, "ENABLED", ed.Values[2])
}
