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
	"strings"
	"sync"
	"testing"

	bigqueryapi "cloud.google.com/go/bigquery"
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
    - {name: customer_constant, kind: struct, type: customer_constant}
resources:
  - name: campaign
    fields:
      - {name: id, kind: int64}
      - {name: name, kind: string}
      - {name: labels, kind: string, repeated: true}
      - {name: frequency_caps, kind: struct, type: frequency_cap, repeated: true}
  - name: customer_constant
    fields:
      - {name: currency_code, kind: string}
commons:
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

type loadCall struct {
	datasetID, tableID string
	src                LoadSource
}

type fakeClient struct {
	mu sync.Mutex

	deleted []string
	created []string
	loads   []loadCall
	views   []string
	inserts map[string][]map[string]any

	ensureEmptyTableErr error
	loadErr              error
}

var _ Client = &fakeClient{}

func (c *fakeClient) EnsureEmptyTable(ctx context.Context, datasetID, tableID string, schema bigqueryapi.Schema) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ensureEmptyTableErr != nil {
		return c.ensureEmptyTableErr
	}
	c.created = append(c.created, tableID)
	return nil
}

func (c *fakeClient) DeleteTable(ctx context.Context, datasetID, tableID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, tableID)
	return nil
}

func (c *fakeClient) Load(ctx context.Context, datasetID, tableID string, src LoadSource, schema bigqueryapi.Schema) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loadErr != nil {
		return c.loadErr
	}
	c.loads = append(c.loads, loadCall{datasetID: datasetID, tableID: tableID, src: src})
	return nil
}

func (c *fakeClient) InsertRows(ctx context.Context, datasetID, tableID string, rows []map[string]any, schema bigqueryapi.Schema) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inserts == nil {
		c.inserts = make(map[string][]map[string]any)
	}
	c.inserts[tableID] = append(c.inserts[tableID], rows...)
	return nil
}

func (c *fakeClient) CreateOrReplaceView(ctx context.Context, datasetID, viewID, query string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views = append(c.views, query)
	return nil
}

func (c *fakeClient) TableExists(ctx context.Context, datasetID, tableID string) (bool, error) {
	return false, nil
}

func testPlan(t *testing.T, query string) *queryeditor.QueryPlan {
	t.Helper()
	reg := loadRegistry(t)
	plan, err := queryeditor.Parse(reg, query)
	require.NoError(t, err)
	return plan
}

func TestWriterLifecyclePerCustomerLoad(t *testing.T) {
	client := &fakeClient{}
	w := New(client, nil, "my_dataset", Options{OutputPath: t.TempDir()})
	ctx := context.Background()

	plan := testPlan(t, "SELECT campaign.id, campaign.name FROM campaign")
	require.NoError(t, w.BeginScript(ctx, "campaign_report", plan))

	require.NoError(t, w.BeginCustomer(ctx, "111"))
	require.NoError(t, w.AddRow(ctx, "111", map[string]any{"id": int64(1), "name": "a"}))
	require.NoError(t, w.AddRow(ctx, "111", map[string]any{"id": int64(2), "name": "b"}))
	require.NoError(t, w.EndCustomer(ctx, "111"))

	require.NoError(t, w.BeginCustomer(ctx, "222"))
	require.NoError(t, w.EndCustomer(ctx, "222")) // zero rows

	require.NoError(t, w.EndScript(ctx))

	assert.Contains(t, client.deleted, "campaign_report_111")
	assert.Contains(t, client.created, "campaign_report_222")
	require.Len(t, client.loads, 1)
	assert.Equal(t, "campaign_report_111", client.loads[0].tableID)
	require.Len(t, client.views, 1)
	assert.Contains(t, client.views[0], "campaign_report_*")
	assert.Contains(t, client.views[0], "'111'")
	assert.Contains(t, client.views[0], "'222'")
}

func TestWriterConstantResourceSkipsUnionView(t *testing.T) {
	client := &fakeClient{}
	w := New(client, nil, "my_dataset", Options{OutputPath: t.TempDir()})
	ctx := context.Background()

	plan := testPlan(t, "SELECT customer_constant.currency_code FROM customer_constant")
	require.NoError(t, w.BeginScript(ctx, "currency_report", plan))

	require.NoError(t, w.BeginCustomer(ctx, "111"))
	require.NoError(t, w.AddRow(ctx, "111", map[string]any{"currency_code": "USD"}))
	require.NoError(t, w.EndCustomer(ctx, "111"))

	require.NoError(t, w.EndScript(ctx))

	assert.Empty(t, client.views)
	require.Len(t, client.loads, 1)
	assert.Equal(t, "currency_report", client.loads[0].tableID)
}

func TestWriterRejectsDuplicateAccount(t *testing.T) {
	client := &fakeClient{}
	w := New(client, nil, "my_dataset", Options{OutputPath: t.TempDir()})
	ctx := context.Background()

	plan := testPlan(t, "SELECT campaign.id FROM campaign")
	require.NoError(t, w.BeginScript(ctx, "campaign_report", plan))
	require.NoError(t, w.BeginCustomer(ctx, "111"))
	err := w.BeginCustomer(ctx, "111")
	require.Error(t, err)
}

func TestWriterInsertPathBuffersAndFlushesOnEndCustomer(t *testing.T) {
	client := &fakeClient{}
	w := New(client, nil, "my_dataset", Options{OutputPath: t.TempDir(), InsertMethod: InsertMethodInsert})
	ctx := context.Background()

	plan := testPlan(t, "SELECT campaign.id FROM campaign")
	require.NoError(t, w.BeginScript(ctx, "campaign_report", plan))
	require.NoError(t, w.BeginCustomer(ctx, "111"))
	require.NoError(t, w.AddRow(ctx, "111", map[string]any{"id": int64(1)}))
	require.NoError(t, w.AddRow(ctx, "111", map[string]any{"id": int64(2)}))
	require.NoError(t, w.EndCustomer(ctx, "111"))

	require.Len(t, client.inserts["campaign_report_111"], 2)
	assert.Empty(t, client.loads)
}

func TestDeriveSchemaTypesAndRepeated(t *testing.T) {
	plan := testPlan(t, "SELECT campaign.id, campaign.name, campaign.labels FROM campaign")
	s := deriveSchema(plan, ArrayHandlingArrays)

	byName := map[string]*bigqueryapi.FieldSchema{}
	for _, f := range s {
		byName[f.Name] = f
	}
	assert.Equal(t, bigqueryapi.IntegerFieldType, byName["id"].Type)
	assert.Equal(t, bigqueryapi.StringFieldType, byName["name"].Type)
	assert.True(t, byName["labels"].Repeated)

	sStrings := deriveSchema(plan, ArrayHandlingStrings)
	byNameStrings := map[string]*bigqueryapi.FieldSchema{}
	for _, f := range sStrings {
		byNameStrings[f.Name] = f
	}
	assert.False(t, byNameStrings["labels"].Repeated)
}

func TestSerializeRowRepeatedStructColumnJSONStringifiesElements(t *testing.T) {
	plan := testPlan(t, "SELECT campaign.frequency_caps FROM campaign")
	row := map[string]any{
		"frequency_caps": []any{
			map[string]any{"level": "AD_GROUP_AD"},
			map[string]any{"level": "CAMPAIGN"},
		},
	}

	out, err := serializeRow(plan, row, Options{ArrayHandling: ArrayHandlingArrays}.withDefaults())
	require.NoError(t, err)
	elems, ok := out["frequency_caps"].([]any)
	require.True(t, ok)
	require.Len(t, elems, 2)
	assert.JSONEq(t, `{"level":"AD_GROUP_AD"}`, elems[0].(string))
	assert.JSONEq(t, `{"level":"CAMPAIGN"}`, elems[1].(string))

	outStrings, err := serializeRow(plan, row, Options{ArrayHandling: ArrayHandlingStrings}.withDefaults())
	require.NoError(t, err)
	joined, ok := outStrings["frequency_caps"].(string)
	require.True(t, ok)
	assert.Contains(t, joined, "|")
}

// A nested-field customizer (frequency_caps:level) resolves with
// Repeated=false regardless of the underlying parent field's
// repeatedness, since compileColumnItem only flags plain field paths as
// repeated. Such a column's values pass straight through NormalizeValue
// as an ordinary slice, bypassing the array-handling separator join.
func TestSerializeRowNestedFieldBypassesArrayHandling(t *testing.T) {
	plan := testPlan(t, "SELECT campaign.frequency_caps:level FROM campaign")
	row := map[string]any{"frequency_caps_level": []any{"AD_GROUP_AD", "CAMPAIGN"}}

	out, err := serializeRow(plan, row, Options{ArrayHandling: ArrayHandlingStrings}.withDefaults())
	require.NoError(t, err)
	assert.Equal(t, []any{"AD_GROUP_AD", "CAMPAIGN"}, out["frequency_caps_level"])
}

func TestStagingFileName(t *testing.T) {
	assert.Equal(t, ".campaign_report_111.json", stagingFileName("campaign_report", "111"))
	assert.Equal(t, ".campaign_report.json", stagingFileName("campaign_report", ""))
}
