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

package writer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/googleapis/ads-report-fetcher/internal/queryeditor"
)

func TestNullWriterLifecycle(t *testing.T) {
	ctx := context.Background()
	w := NewNull()

	require.NoError(t, w.BeginScript(ctx, "campaign_report", &queryeditor.QueryPlan{Resource: "campaign"}))
	assert.True(t, w.Started())

	require.NoError(t, w.BeginCustomer(ctx, "111"))
	require.NoError(t, w.AddRow(ctx, "111", map[string]any{"id": int64(1)}))
	require.NoError(t, w.AddRow(ctx, "111", map[string]any{"id": int64(2)}))
	require.NoError(t, w.EndCustomer(ctx, "111"))

	require.NoError(t, w.BeginCustomer(ctx, "222"))
	require.NoError(t, w.AddRow(ctx, "222", map[string]any{"id": int64(3)}))
	require.NoError(t, w.EndCustomer(ctx, "222"))

	require.NoError(t, w.EndScript(ctx))
	assert.False(t, w.Started())

	assert.Equal(t, 2, w.RowCounts["111"])
	assert.Equal(t, 1, w.RowCounts["222"])
	assert.Equal(t, 3, w.TotalRows())
}
