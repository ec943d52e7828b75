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

// Package writer defines the Writer Interface (I) every sink the Query
// Runner drives a script execution through must satisfy, plus a Null
// writer used for dry runs and tests.
package writer

import (
	"context"
	"sync"

	"github.com/googleapis/ads-report-fetcher/internal/log"
	"github.com/googleapis/ads-report-fetcher/internal/queryeditor"
)

// Writer receives the output of one script execution across every
// account it ran against. Calls arrive in a fixed lifecycle:
// BeginScript once, then for each account BeginCustomer, zero or more
// AddRow, EndCustomer, and finally EndScript once all accounts are
// done. Implementations must tolerate AddRow/EndCustomer being called
// concurrently across different accounts, but never for the same
// account.
type Writer interface {
	BeginScript(ctx context.Context, scriptName string, plan *queryeditor.QueryPlan) error
	BeginCustomer(ctx context.Context, customerID string) error
	AddRow(ctx context.Context, customerID string, row map[string]any) error
	EndCustomer(ctx context.Context, customerID string) error
	EndScript(ctx context.Context) error
}

// Null is a Writer that discards every row. It exists for dry runs
// ("preview the plan without touching the warehouse") and as the
// default test double for the Query Runner's own tests.
type Null struct {
	mu        sync.Mutex
	RowCounts map[string]int
	started   bool
}

var _ Writer = &Null{}

// NewNull returns a ready-to-use Null writer.
func NewNull() *Null {
	return &Null{RowCounts: make(map[string]int)}
}

func (w *Null) BeginScript(ctx context.Context, scriptName string, plan *queryeditor.QueryPlan) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.started = true
	log.LoggerFromContext(ctx).InfoContext(ctx, "dry run: begin script", "script", scriptName, "resource", plan.Resource)
	return nil
}

func (w *Null) BeginCustomer(ctx context.Context, customerID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.RowCounts[customerID]; !ok {
		w.RowCounts[customerID] = 0
	}
	return nil
}

func (w *Null) AddRow(ctx context.Context, customerID string, row map[string]any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.RowCounts[customerID]++
	return nil
}

func (w *Null) EndCustomer(ctx context.Context, customerID string) error {
	return nil
}

func (w *Null) EndScript(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.started = false
	return nil
}

// Started reports whether BeginScript has run without a matching
// EndScript yet, useful for tests asserting lifecycle ordering.
func (w *Null) Started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

// TotalRows sums RowCounts across every account seen so far.
func (w *Null) TotalRows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	total := 0
	for _, c := range w.RowCounts {
		total += c
	}
	return total
}
