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

// Package runner implements the Query Runner (R): it drives one script
// (a query plus a macro table) across a set of accounts, fanning out
// with bounded concurrency, retrying transient upstream failures, and
// feeding every row through the Writer Interface.
package runner

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/googleapis/ads-report-fetcher/internal/log"
	"github.com/googleapis/ads-report-fetcher/internal/macro"
	"github.com/googleapis/ads-report-fetcher/internal/queryeditor"
	"github.com/googleapis/ads-report-fetcher/internal/rowparser"
	"github.com/googleapis/ads-report-fetcher/internal/schema"
	"github.com/googleapis/ads-report-fetcher/internal/util"
	"github.com/googleapis/ads-report-fetcher/internal/writer"
)

// RowIterator streams raw API rows for one account's execution of a
// native query. Next returns io.EOF once the result set is exhausted.
type RowIterator interface {
	Next() (map[string]any, error)
}

// APIClient is the only dependency the Runner has on the reporting
// platform itself; production wiring backs it with the real API
// transport, tests back it with an in-memory fake.
type APIClient interface {
	Query(ctx context.Context, customerID string, nativeQuery string) (RowIterator, error)
}

// Options configures one Execute/ExecuteGen call.
type Options struct {
	Concurrency int
	APIKind     rowparser.APIKind
	ObjectMode  bool
	MaxAttempts int
	BaseBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 100 * time.Millisecond
	}
	return o
}

// Runner executes scripts against an APIClient, backed by a Schema
// Registry for query compilation.
type Runner struct {
	Registry *schema.Registry
	Client   APIClient
}

// New constructs a Runner.
func New(reg *schema.Registry, client APIClient) *Runner {
	return &Runner{Registry: reg, Client: client}
}

// Execute runs scriptName's queryText against every account in
// accountIDs, writing every row to w. Constant resources (see
// schema.IsConstantResource) execute exactly once regardless of how
// many accounts are given, since their rows do not vary by account.
func (r *Runner) Execute(ctx context.Context, scriptName, queryText string, accountIDs []string, macros map[string]string, w writer.Writer, opts Options) error {
	opts = opts.withDefaults()

	plan, err := r.compile(ctx, queryText, macros)
	if err != nil {
		return err
	}

	if err := w.BeginScript(ctx, scriptName, plan); err != nil {
		return err
	}
	defer w.EndScript(ctx)

	if schema.IsConstantResource(bareResourceName(plan.Resource)) {
		if len(accountIDs) == 0 {
			return nil
		}
		return r.runAccount(ctx, plan, accountIDs[0], w, opts)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, acct := range accountIDs {
		acct := acct
		g.Go(func() error {
			return r.runAccount(ctx, plan, acct, w, opts)
		})
	}
	return g.Wait()
}

// RowResult is one item of the ExecuteGen stream: either a successfully
// parsed row for an account, or the terminal error for that account.
type RowResult struct {
	AccountID string
	Row       map[string]any
	Err       error
}

// ExecuteGen is the generator variant of Execute: instead of driving a
// Writer, it returns a channel of RowResult and runs the fan-out in the
// background. The channel is closed once every account has finished (or
// failed) and the plan has been fully compiled; a compile failure is
// sent as a single RowResult with Err set and the channel closed
// immediately after.
func (r *Runner) ExecuteGen(ctx context.Context, queryText string, accountIDs []string, macros map[string]string, opts Options) <-chan RowResult {
	opts = opts.withDefaults()
	out := make(chan RowResult)

	go func() {
		defer close(out)

		plan, err := r.compile(ctx, queryText, macros)
		if err != nil {
			out <- RowResult{Err: err}
			return
		}

		runFor := accountIDs
		if schema.IsConstantResource(bareResourceName(plan.Resource)) && len(accountIDs) > 0 {
			runFor = accountIDs[:1]
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Concurrency)
		for _, acct := range runFor {
			acct := acct
			g.Go(func() error {
				err := r.streamAccount(gctx, plan, acct, out, opts)
				if err != nil {
					select {
					case out <- RowResult{AccountID: acct, Err: err}:
					case <-ctx.Done():
					}
				}
				return err
			})
		}
		_ = g.Wait()
	}()

	return out
}

func (r *Runner) compile(ctx context.Context, queryText string, macros map[string]string) (*queryeditor.QueryPlan, error) {
	rendered, err := macro.Render(ctx, queryText, nil, macros)
	if err != nil {
		return nil, err
	}
	if len(rendered.UnknownMacros) > 0 {
		log.LoggerFromContext(ctx).WarnContext(ctx, "unresolved macros in query text", "macros", rendered.UnknownMacros)
	}
	return queryeditor.Parse(r.Registry, rendered.Text)
}

func (r *Runner) runAccount(ctx context.Context, plan *queryeditor.QueryPlan, accountID string, w writer.Writer, opts Options) error {
	if err := w.BeginCustomer(ctx, accountID); err != nil {
		return err
	}

	err := r.queryWithRetry(ctx, plan, accountID, opts, func(row map[string]any) error {
		return w.AddRow(ctx, accountID, row)
	})

	if endErr := w.EndCustomer(ctx, accountID); endErr != nil && err == nil {
		err = endErr
	}
	return err
}

func (r *Runner) streamAccount(ctx context.Context, plan *queryeditor.QueryPlan, accountID string, out chan<- RowResult, opts Options) error {
	return r.queryWithRetry(ctx, plan, accountID, opts, func(row map[string]any) error {
		select {
		case out <- RowResult{AccountID: accountID, Row: row}:
			return nil
		case <-ctx.Done():
			return util.NewCancelledError(ctx.Err())
		}
	})
}

// queryWithRetry runs the native query for one account, retrying the
// whole account (query + row stream) on a retryable upstream error, and
// calls emit for every successfully parsed row.
func (r *Runner) queryWithRetry(ctx context.Context, plan *queryeditor.QueryPlan, accountID string, opts Options, emit func(map[string]any) error) error {
	bo := &linearBackOff{base: opts.BaseBackoff}

	operation := func() (struct{}, error) {
		err := r.queryOnce(ctx, plan, accountID, opts, emit)
		if err == nil {
			return struct{}{}, nil
		}
		var upstream *util.UpstreamError
		if errors.As(err, &upstream) && upstream.Retryable() {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(opts.MaxAttempts)))
	return err
}

// linearBackOff waits base, 2*base, 3*base, ... between attempts.
type linearBackOff struct {
	base    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.base
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

func (r *Runner) queryOnce(ctx context.Context, plan *queryeditor.QueryPlan, accountID string, opts Options, emit func(map[string]any) error) error {
	it, err := r.queryRows(ctx, plan, accountID)
	if err != nil {
		return classifyUpstreamError(accountID, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return util.NewCancelledError(err)
		}
		raw, err := it.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return classifyUpstreamError(accountID, err)
		}
		row, err := rowparser.ParseRow(r.Registry, plan, raw, opts.APIKind, opts.ObjectMode)
		if err != nil {
			return err
		}
		if err := emit(row); err != nil {
			return err
		}
	}
}

func (r *Runner) queryRows(ctx context.Context, plan *queryeditor.QueryPlan, accountID string) (RowIterator, error) {
	if plan.Override != nil {
		return plan.Override.Execute(ctx, accountID)
	}
	return r.Client.Query(ctx, accountID, plan.NativeQuery)
}

// classifyUpstreamError propagates a client error's own retryable
// classification unchanged; only an error the client didn't already
// classify gets wrapped, and always-retryable, since it carries no
// classification of its own to trust.
func classifyUpstreamError(accountID string, err error) error {
	var upstream *util.UpstreamError
	if errors.As(err, &upstream) {
		return err
	}
	return util.NewUpstreamError(accountID, true, err)
}

func bareResourceName(resource string) string {
	const prefix = "builtin."
	if len(resource) > len(prefix) && resource[:len(prefix)] == prefix {
		return resource[len(prefix):]
	}
	return resource
}
