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

package macro

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplateScaffolding(t *testing.T) {
	tpl := "SELECT 1 {{#if includeFoo}}, foo{{/if}} FROM {{table}}"
	res, err := Render(context.Background(), tpl, map[string]any{
		"includeFoo": true,
		"table":      "campaign",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1 , foo FROM campaign", res.Text)
}

func TestRenderPlainMacro(t *testing.T) {
	res, err := Render(context.Background(), "WHERE customer.id = {customer_id}", nil, map[string]string{
		"customer_id": "12345",
	})
	require.NoError(t, err)
	assert.Equal(t, "WHERE customer.id = 12345", res.Text)
	assert.Empty(t, res.UnknownMacros)
}

func TestRenderUnknownMacro(t *testing.T) {
	res, err := Render(context.Background(), "SELECT {not_registered}", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT {not_registered}", res.Text)
	assert.Equal(t, []string{"not_registered"}, res.UnknownMacros)
}

func TestRenderDynamicDateMacro(t *testing.T) {
	fixed := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	old := Clock
	Clock = func() time.Time { return fixed }
	defer func() { Clock = old }()

	res, err := Render(context.Background(), "segments.date BETWEEN {:YYYYMMDD-7} AND {:YYYYMMDD-0}", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "segments.date BETWEEN 20260308 AND 20260315", res.Text)
}

func TestRenderDynamicDateMacroDefaultsToToday(t *testing.T) {
	fixed := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	old := Clock
	Clock = func() time.Time { return fixed }
	defer func() { Clock = old }()

	res, err := Render(context.Background(), "segments.date = {:YYYYMMDD}", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "segments.date = 20260315", res.Text)
}

func TestRenderExplicitMacroTableWinsOverDynamicDate(t *testing.T) {
	res, err := Render(context.Background(), "segments.date = {:YYYYMMDD}", nil, map[string]string{
		":YYYYMMDD": "overridden",
	})
	require.NoError(t, err)
	assert.Equal(t, "segments.date = overridden", res.Text)
}

func TestRenderSyntheticMacro(t *testing.T) {
	fixed := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	old := Clock
	Clock = func() time.Time { return fixed }
	defer func() { Clock = old }()

	res, err := Render(context.Background(), "AS OF {date_iso}", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "AS OF 2026-03-15", res.Text)
}

func TestRenderMathExpression(t *testing.T) {
	res, err := Render(context.Background(), "LIMIT ${1 + 2}", nil, map[string]string{"unused": "x"})
	require.NoError(t, err)
	assert.Equal(t, "LIMIT 3", res.Text)
}

func TestRenderMathExpressionOverMacroScope(t *testing.T) {
	res, err := Render(context.Background(), `${"prefix_" + account_id}`, nil, map[string]string{
		"account_id": "999",
	})
	require.NoError(t, err)
	assert.Equal(t, "prefix_999", res.Text)
}
