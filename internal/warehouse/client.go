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
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	bigqueryapi "cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/googleapis/ads-report-fetcher/internal/log"
	"github.com/googleapis/ads-report-fetcher/internal/util"
)

// LoadSource names the staging file Load should read from, either a
// local path (wrapped in bigquery.NewReaderSource) or a gs:// URI
// (wrapped in bigquery.NewGCSReference).
type LoadSource struct {
	LocalPath string
	GCSURI    string
}

// Client is the warehouse operations the Writer needs. Production code
// uses bqClient, backed by the real cloud.google.com/go/bigquery client;
// tests back it with an in-memory fake, the same seam the Query Runner
// uses for its APIClient.
type Client interface {
	EnsureEmptyTable(ctx context.Context, datasetID, tableID string, schema bigqueryapi.Schema) error
	DeleteTable(ctx context.Context, datasetID, tableID string) error
	Load(ctx context.Context, datasetID, tableID string, src LoadSource, schema bigqueryapi.Schema) error
	InsertRows(ctx context.Context, datasetID, tableID string, rows []map[string]any, schema bigqueryapi.Schema) error
	CreateOrReplaceView(ctx context.Context, datasetID, viewID, query string) error
	TableExists(ctx context.Context, datasetID, tableID string) (bool, error)
}

// bqClient is the production Client, backed by a real BigQuery
// connection initialized via Application Default Credentials.
type bqClient struct {
	client   *bigqueryapi.Client
	location string
}

var _ Client = &bqClient{}

// Connect initializes a BigQuery client for project/location via
// Application Default Credentials, wrapping connection setup in a span
// so dashboards can see connection latency separately from query work.
func Connect(ctx context.Context, tracer trace.Tracer, name, project, location string) (*bqClient, error) {
	ctx, span := initConnectionSpan(ctx, tracer, "bigquery", name)
	defer span.End()

	cred, err := google.FindDefaultCredentials(ctx, bigqueryapi.Scope)
	if err != nil {
		return nil, fmt.Errorf("failed to find default Google Cloud credentials: %w", err)
	}

	client, err := bigqueryapi.NewClient(ctx, project,
		option.WithUserAgent("ads-report-fetcher"),
		option.WithCredentials(cred))
	if err != nil {
		return nil, fmt.Errorf("failed to create BigQuery client for project %q: %w", project, err)
	}
	client.Location = location

	return &bqClient{client: client, location: location}, nil
}

// NewStorageClient initializes a GCS client via ADC for object-store
// staging destinations, sharing Connect's credential discovery.
func NewStorageClient(ctx context.Context) (*storage.Client, error) {
	cred, err := google.FindDefaultCredentials(ctx, storage.ScopeReadWrite)
	if err != nil {
		return nil, fmt.Errorf("failed to find default Google Cloud credentials: %w", err)
	}
	return storage.NewClient(ctx, option.WithCredentials(cred))
}

func initConnectionSpan(ctx context.Context, tracer trace.Tracer, kind, name string) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, fmt.Sprintf("%s/connect/%s", kind, name))
}

func (c *bqClient) EnsureEmptyTable(ctx context.Context, datasetID, tableID string, schema bigqueryapi.Schema) error {
	table := c.client.Dataset(datasetID).Table(tableID)

	// A recently deleted table of the same name can linger for a short
	// time and make Create fail with a conflict; a short linear retry
	// absorbs that without surfacing a spurious failure.
	bo := &linearBackOff{base: 200 * time.Millisecond}

	operation := func() (struct{}, error) {
		err := table.Create(ctx, &bigqueryapi.TableMetadata{Schema: schema})
		if err == nil {
			return struct{}{}, nil
		}
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusConflict {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}

	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(5))
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

func (c *bqClient) DeleteTable(ctx context.Context, datasetID, tableID string) error {
	err := c.client.Dataset(datasetID).Table(tableID).Delete(ctx)
	if err == nil || isNotFound(err) {
		return nil
	}
	return err
}

func (c *bqClient) Load(ctx context.Context, datasetID, tableID string, src LoadSource, schema bigqueryapi.Schema) error {
	var readSource bigqueryapi.LoadSource
	var closeFile func() error

	switch {
	case src.GCSURI != "":
		ref := bigqueryapi.NewGCSReference(src.GCSURI)
		ref.SourceFormat = bigqueryapi.JSON
		ref.Schema = schema
		readSource = ref
	case src.LocalPath != "":
		f, err := os.Open(src.LocalPath)
		if err != nil {
			return fmt.Errorf("opening staging file %q: %w", src.LocalPath, err)
		}
		closeFile = f.Close
		rs := bigqueryapi.NewReaderSource(f)
		rs.SourceFormat = bigqueryapi.JSON
		rs.Schema = schema
		readSource = rs
	default:
		return fmt.Errorf("load source has neither a local path nor a GCS URI")
	}
	if closeFile != nil {
		defer closeFile()
	}

	loader := c.client.Dataset(datasetID).Table(tableID).LoaderFrom(readSource)
	loader.WriteDisposition = bigqueryapi.WriteTruncate

	job, err := loader.Run(ctx)
	if err != nil {
		return classifyWarehouseError(err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return classifyWarehouseError(err)
	}
	if status.Err() != nil {
		if len(status.Errors) > 0 {
			logPartialFailureRows(ctx, status.Errors)
			return util.NewWarehouseError(util.KindWarehousePartialFailure, "load reported per-row failures", status.Err())
		}
		return classifyWarehouseError(status.Err())
	}
	return nil
}

func (c *bqClient) InsertRows(ctx context.Context, datasetID, tableID string, rows []map[string]any, schema bigqueryapi.Schema) error {
	inserter := c.client.Dataset(datasetID).Table(tableID).Inserter()
	savers := make([]bigqueryapi.ValueSaver, len(rows))
	for i, r := range rows {
		savers[i] = &bigqueryapi.ValuesSaver{Schema: schema, Row: schemaValues(schema, r)}
	}
	if err := inserter.Put(ctx, savers); err != nil {
		var multi bigqueryapi.PutMultiError
		if errors.As(err, &multi) {
			logPutMultiErrors(ctx, multi)
			return util.NewWarehouseError(util.KindWarehousePartialFailure, "insert reported per-row failures", err)
		}
		return classifyWarehouseError(err)
	}
	return nil
}

func schemaValues(schema bigqueryapi.Schema, row map[string]any) []bigqueryapi.Value {
	values := make([]bigqueryapi.Value, len(schema))
	for i, f := range schema {
		values[i] = row[f.Name]
	}
	return values
}

func (c *bqClient) CreateOrReplaceView(ctx context.Context, datasetID, viewID, query string) error {
	ddl := fmt.Sprintf("CREATE OR REPLACE VIEW `%s.%s` AS %s", datasetID, viewID, query)
	q := c.client.Query(ddl)
	job, err := q.Run(ctx)
	if err != nil {
		return classifyViewError(viewID, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return classifyViewError(viewID, err)
	}
	if status.Err() != nil {
		return classifyViewError(viewID, status.Err())
	}
	return nil
}

func (c *bqClient) TableExists(ctx context.Context, datasetID, tableID string) (bool, error) {
	_, err := c.client.Dataset(datasetID).Table(tableID).Metadata(ctx)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

func classifyWarehouseError(err error) error {
	if isNotFound(err) {
		return util.NewWarehouseError(util.KindWarehouseNotFound, "shard table not found", err)
	}
	return err
}

func classifyViewError(viewID string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusBadRequest {
		return util.NewWarehouseError(util.KindWarehouseViewPrefixConflict,
			fmt.Sprintf("creating union view %q: the shard-table wildcard matched a non-table entity; "+
				"another object sharing the %q prefix collides with this script's shard naming", viewID, viewID), err)
	}
	return err
}

func logPartialFailureRows(ctx context.Context, errs []*bigqueryapi.Error) {
	n := len(errs)
	if n > 10 {
		n = 10
	}
	for _, e := range errs[:n] {
		log.LoggerFromContext(ctx).ErrorContext(ctx, "load row failure", "reason", e.Reason, "message", e.Message, "location", e.Location)
	}
}

func logPutMultiErrors(ctx context.Context, errs bigqueryapi.PutMultiError) {
	n := len(errs)
	if n > 10 {
		n = 10
	}
	for _, e := range errs[:n] {
		log.LoggerFromContext(ctx).ErrorContext(ctx, "insert row failure", "row_index", e.RowIndex, "error", e.Error())
	}
}
