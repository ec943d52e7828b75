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

// Package warehouse implements the Warehouse Writer (W): it derives a
// BigQuery schema from a query plan, stages rows per account on a
// newline-delimited sink, bulk-loads each staged file into a per-account
// shard table, and creates a union view across shards once a script
// finishes. It satisfies the writer.Writer lifecycle.
package warehouse

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	bigqueryapi "cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"

	"github.com/googleapis/ads-report-fetcher/internal/log"
	"github.com/googleapis/ads-report-fetcher/internal/queryeditor"
	"github.com/googleapis/ads-report-fetcher/internal/schema"
	"github.com/googleapis/ads-report-fetcher/internal/writer"
)

// ArrayHandling selects how repeated columns are represented in the
// destination schema and rows.
type ArrayHandling string

const (
	ArrayHandlingArrays  ArrayHandling = "arrays"
	ArrayHandlingStrings ArrayHandling = "strings"
)

// InsertMethod selects the bulk-load path or the row-append path.
type InsertMethod string

const (
	InsertMethodLoad   InsertMethod = "load"
	InsertMethodInsert InsertMethod = "insert"
)

// insertChunkSize is the row-append path's flush threshold.
const insertChunkSize = 50_000

// Options configures a Writer. Zero-valued fields take the defaults
// documented on each one.
type Options struct {
	DatasetLocation string // default "us"
	TableTemplate   string // "{scriptName}" substitution; default is the script name verbatim
	DumpSchema      bool
	DumpData        bool
	NoUnionView     bool
	InsertMethod    InsertMethod  // default InsertMethodLoad
	ArrayHandling   ArrayHandling // default ArrayHandlingArrays
	ArraySeparator  string        // default "|"
	OutputPath      string        // local directory or gs:// prefix; default a scratch temp dir
	// ForceSharedSink implements the file-per-customer=false override:
	// every account's rows land in one sink and one shard, loaded once
	// at EndScript instead of per account at EndCustomer. Constant
	// resources always behave this way regardless of this flag.
	ForceSharedSink bool
}

func (o Options) withDefaults() Options {
	if o.DatasetLocation == "" {
		o.DatasetLocation = "us"
	}
	if o.InsertMethod == "" {
		o.InsertMethod = InsertMethodLoad
	}
	if o.ArrayHandling == "" {
		o.ArrayHandling = ArrayHandlingArrays
	}
	return o
}

func (o Options) arraySeparator() string {
	if o.ArraySeparator == "" {
		return "|"
	}
	return o.ArraySeparator
}

func (o Options) tableName(scriptName string) string {
	if o.TableTemplate == "" {
		return scriptName
	}
	return strings.ReplaceAll(o.TableTemplate, "{scriptName}", scriptName)
}

// accountState is the per-account bookkeeping owned exclusively by the
// task running that account between BeginCustomer and EndCustomer.
type accountState struct {
	sinkKey  string
	rowCount int
}

// Writer is the Warehouse Writer. One instance runs one script
// execution at a time, matching the Writer Interface contract.
type Writer struct {
	Client        Client
	StorageClient *storage.Client
	DatasetID     string
	Options       Options

	mu            sync.Mutex
	started       bool
	scriptName    string
	plan          *queryeditor.QueryPlan
	table         string
	isConstant    bool
	schema        bigqueryapi.Schema
	sharedSink    bool
	seenAccounts  []string
	accounts      map[string]*accountState
	sinks         map[string]stagingSink // sinkKey -> open sink
	insertBuffers map[string][]map[string]any
	outputPath    string
}

var _ writer.Writer = &Writer{}

// New constructs a Writer against datasetID, ready for one BeginScript
// call at a time.
func New(client Client, storageClient *storage.Client, datasetID string, opts Options) *Writer {
	return &Writer{
		Client:        client,
		StorageClient: storageClient,
		DatasetID:     datasetID,
		Options:       opts.withDefaults(),
	}
}

func (w *Writer) BeginScript(ctx context.Context, scriptName string, plan *queryeditor.QueryPlan) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.scriptName = scriptName
	w.plan = plan
	w.table = w.Options.tableName(scriptName)
	w.isConstant = schema.IsConstantResource(bareResourceName(plan.Resource))
	w.schema = deriveSchema(plan, w.Options.ArrayHandling)
	w.sharedSink = w.isConstant || w.Options.ForceSharedSink
	w.seenAccounts = nil
	w.accounts = make(map[string]*accountState)
	w.sinks = make(map[string]stagingSink)
	w.insertBuffers = make(map[string][]map[string]any)
	w.started = true

	outputPath := w.Options.OutputPath
	if outputPath == "" {
		outputPath = filepath.Join(os.TempDir(), newScratchSubdir())
		if err := os.MkdirAll(outputPath, 0o755); err != nil {
			return fmt.Errorf("creating scratch staging directory: %w", err)
		}
	}
	w.outputPath = outputPath

	log.LoggerFromContext(ctx).InfoContext(ctx, "warehouse: begin script", "script", scriptName, "table", w.table, "resource", plan.Resource)

	if w.Options.DumpSchema {
		if err := w.dumpSchema(scriptName); err != nil {
			log.LoggerFromContext(ctx).WarnContext(ctx, "warehouse: schema dump failed", "error", err)
		}
	}
	return nil
}

func (w *Writer) dumpSchema(scriptName string) error {
	b, err := json.MarshalIndent(w.schema, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(w.outputPath, scriptName+"_schema.json")
	return os.WriteFile(path, b, 0o644)
}

func (w *Writer) BeginCustomer(ctx context.Context, customerID string) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return fmt.Errorf("warehouse: beginCustomer called before beginScript")
	}
	if _, seen := w.accounts[customerID]; seen {
		w.mu.Unlock()
		return fmt.Errorf("warehouse: account %q already begun in this script", customerID)
	}

	sinkKey := customerID
	if w.sharedSink {
		sinkKey = "_shared"
	}
	w.seenAccounts = append(w.seenAccounts, customerID)
	w.accounts[customerID] = &accountState{sinkKey: sinkKey}

	needsSink := w.sinks[sinkKey] == nil && w.Options.InsertMethod == InsertMethodLoad
	path := ""
	if needsSink {
		path = w.stagingPath(sinkKey, customerID)
	}
	w.mu.Unlock()

	if !needsSink {
		return nil
	}

	sink, err := openStagingSink(ctx, w.StorageClient, path)
	if err != nil {
		return fmt.Errorf("opening staging sink for account %q: %w", customerID, err)
	}

	w.mu.Lock()
	w.sinks[sinkKey] = sink
	w.mu.Unlock()
	return nil
}

func (w *Writer) stagingPath(sinkKey, customerID string) string {
	name := stagingFileName(w.table, customerID)
	if w.sharedSink {
		name = stagingFileName(w.table, "")
	}
	if strings.HasPrefix(w.outputPath, "gs://") {
		return strings.TrimSuffix(w.outputPath, "/") + "/" + strings.TrimPrefix(name, ".")
	}
	return filepath.Join(w.outputPath, name)
}

func (w *Writer) AddRow(ctx context.Context, customerID string, row map[string]any) error {
	serialized, err := serializeRow(w.plan, row, w.Options)
	if err != nil {
		return err
	}

	w.mu.Lock()
	state, ok := w.accounts[customerID]
	if !ok {
		w.mu.Unlock()
		return fmt.Errorf("warehouse: addRow for unknown account %q", customerID)
	}
	sinkKey := state.sinkKey
	state.rowCount++
	w.mu.Unlock()

	if w.Options.InsertMethod == InsertMethodInsert {
		w.mu.Lock()
		w.insertBuffers[sinkKey] = append(w.insertBuffers[sinkKey], serialized)
		buffered := w.insertBuffers[sinkKey]
		shouldFlush := len(buffered) >= insertChunkSize
		if shouldFlush {
			w.insertBuffers[sinkKey] = nil
		}
		w.mu.Unlock()
		if shouldFlush {
			return w.Client.InsertRows(ctx, w.DatasetID, w.shardTableID(sinkKey), buffered, w.schema)
		}
		return nil
	}

	b, err := json.Marshal(serialized)
	if err != nil {
		return err
	}

	w.mu.Lock()
	sink := w.sinks[sinkKey]
	w.mu.Unlock()

	if sink == nil {
		return fmt.Errorf("warehouse: no staging sink open for account %q", customerID)
	}
	return sink.WriteLine(b)
}

func (w *Writer) shardTableID(sinkKey string) string {
	if w.sharedSink {
		return w.table
	}
	return fmt.Sprintf("%s_%s", w.table, sinkKey)
}

func (w *Writer) EndCustomer(ctx context.Context, customerID string) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return fmt.Errorf("warehouse: endCustomer called before beginScript")
	}
	state, ok := w.accounts[customerID]
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("warehouse: endCustomer for unknown account %q", customerID)
	}

	if w.sharedSink {
		// The shard is loaded once at EndScript once every account
		// sharing the sink has finished writing.
		return nil
	}

	if w.Options.InsertMethod == InsertMethodInsert {
		return w.flushInsertBuffer(ctx, state.sinkKey)
	}
	return w.closeAndLoadShard(ctx, state.sinkKey, state.rowCount)
}

func (w *Writer) flushInsertBuffer(ctx context.Context, sinkKey string) error {
	w.mu.Lock()
	buffered := w.insertBuffers[sinkKey]
	w.insertBuffers[sinkKey] = nil
	w.mu.Unlock()

	tableID := w.shardTableID(sinkKey)
	if len(buffered) == 0 {
		return w.Client.EnsureEmptyTable(ctx, w.DatasetID, tableID, w.schema)
	}
	return w.Client.InsertRows(ctx, w.DatasetID, tableID, buffered, w.schema)
}

func (w *Writer) closeAndLoadShard(ctx context.Context, sinkKey string, rowCount int) error {
	w.mu.Lock()
	sink := w.sinks[sinkKey]
	delete(w.sinks, sinkKey)
	w.mu.Unlock()

	var stagingPath string
	if sink != nil {
		stagingPath = sink.Path()
		if err := sink.Close(); err != nil {
			return fmt.Errorf("closing staging sink: %w", err)
		}
	}

	tableID := w.shardTableID(sinkKey)

	if rowCount == 0 {
		return w.Client.EnsureEmptyTable(ctx, w.DatasetID, tableID, w.schema)
	}

	if err := w.Client.DeleteTable(ctx, w.DatasetID, tableID); err != nil {
		return err
	}

	src := LoadSource{LocalPath: stagingPath}
	if sink != nil && sink.IsRemote() {
		src = LoadSource{GCSURI: stagingPath}
	}
	if err := w.Client.Load(ctx, w.DatasetID, tableID, src, w.schema); err != nil {
		return err
	}

	if !w.Options.DumpData && sink != nil && !sink.IsRemote() {
		_ = os.Remove(stagingPath)
	}
	return nil
}

func (w *Writer) EndScript(ctx context.Context) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return fmt.Errorf("warehouse: endScript called before beginScript")
	}
	sharedSink := w.sharedSink
	accounts := append([]string(nil), w.seenAccounts...)
	w.mu.Unlock()

	var err error
	if sharedSink {
		totalRows := 0
		w.mu.Lock()
		for _, st := range w.accounts {
			totalRows += st.rowCount
		}
		w.mu.Unlock()

		if w.Options.InsertMethod == InsertMethodInsert {
			err = w.flushInsertBuffer(ctx, "_shared")
		} else {
			err = w.closeAndLoadShard(ctx, "_shared", totalRows)
		}
	} else if !w.Options.NoUnionView && len(accounts) > 0 {
		err = w.createUnionView(ctx, accounts)
	}

	w.mu.Lock()
	if err == nil {
		// State is cleared only on success so a failed script can be
		// retried by an outer caller.
		w.started = false
		w.plan = nil
		w.accounts = nil
		w.sinks = nil
		w.insertBuffers = nil
		w.seenAccounts = nil
	}
	w.mu.Unlock()

	log.LoggerFromContext(ctx).InfoContext(ctx, "warehouse: end script", "script", w.scriptName, "accounts", len(accounts), "error", err)
	return err
}

func (w *Writer) createUnionView(ctx context.Context, accounts []string) error {
	if err := w.Client.DeleteTable(ctx, w.DatasetID, w.table); err != nil {
		return err
	}

	quoted := make([]string, len(accounts))
	for i, a := range accounts {
		quoted[i] = fmt.Sprintf("'%s'", a)
	}
	query := fmt.Sprintf("SELECT * FROM `%s.%s_*` WHERE _TABLE_SUFFIX IN (%s)",
		w.DatasetID, w.table, strings.Join(quoted, ", "))
	return w.Client.CreateOrReplaceView(ctx, w.DatasetID, w.table, query)
}

func bareResourceName(resource string) string {
	const prefix = "builtin."
	if len(resource) > len(prefix) && resource[:len(prefix)] == prefix {
		return resource[len(prefix):]
	}
	return resource
}
