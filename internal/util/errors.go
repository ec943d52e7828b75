// Copyright 2026 Google LLC
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package util

import "fmt"

// ErrorKind enumerates the error taxonomy of the report-fetching pipeline.
// Every fatal or retryable condition the core raises is tagged with one of
// these so callers can branch on kind instead of matching strings.
type ErrorKind string

const (
	KindUnknownMacro              ErrorKind = "UNKNOWN_MACRO"
	KindUnknownResource           ErrorKind = "UNKNOWN_RESOURCE"
	KindInvalidFieldPath          ErrorKind = "INVALID_FIELD_PATH"
	KindInvalidQuery              ErrorKind = "INVALID_QUERY"
	KindBadFunctionBody           ErrorKind = "BAD_FUNCTION_BODY"
	KindBadResourceIndexSource    ErrorKind = "BAD_RESOURCE_INDEX_SOURCE"
	KindUpstreamTransient         ErrorKind = "UPSTREAM_TRANSIENT"
	KindUpstreamPermanent         ErrorKind = "UPSTREAM_PERMANENT"
	KindWarehousePartialFailure   ErrorKind = "WAREHOUSE_PARTIAL_FAILURE"
	KindWarehouseNotFound         ErrorKind = "WAREHOUSE_NOT_FOUND"
	KindWarehouseViewPrefixConflict ErrorKind = "WAREHOUSE_VIEW_PREFIX_CONFLICT"
	KindCancelled                 ErrorKind = "CANCELLED"
)

// ReportError is the interface every typed error in this module satisfies.
type ReportError interface {
	error
	Kind() ErrorKind
	Unwrap() error
}

// QueryError covers failures raised while parsing or macro-expanding a
// query (Schema Registry, Macro Engine, Query Editor). Always fatal for
// the script.
type QueryError struct {
	K     ErrorKind
	Msg   string
	Cause error
}

var _ ReportError = &QueryError{}

func (e *QueryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *QueryError) Kind() ErrorKind { return e.K }
func (e *QueryError) Unwrap() error   { return e.Cause }

func NewQueryError(kind ErrorKind, msg string, cause error) *QueryError {
	return &QueryError{K: kind, Msg: msg, Cause: cause}
}

// RowError covers failures raised while parsing a single row
// (BadResourceIndexSource). Fatal for the row, propagated as a script
// failure.
type RowError struct {
	Msg   string
	Cause error
}

var _ ReportError = &RowError{}

func (e *RowError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *RowError) Kind() ErrorKind { return KindBadResourceIndexSource }
func (e *RowError) Unwrap() error   { return e.Cause }

func NewRowError(msg string, cause error) *RowError {
	return &RowError{Msg: msg, Cause: cause}
}

// UpstreamError wraps an error returned by the injected API client. If
// Retry is true the Runner retries the call with backoff; otherwise the
// error is attached with AccountID and propagated unmodified.
type UpstreamError struct {
	AccountID string
	Retry     bool
	Cause     error
}

var _ ReportError = &UpstreamError{}

func (e *UpstreamError) Error() string {
	if e.AccountID != "" {
		return fmt.Sprintf("account %s: %v", e.AccountID, e.Cause)
	}
	return e.Cause.Error()
}

func (e *UpstreamError) Kind() ErrorKind {
	if e.Retry {
		return KindUpstreamTransient
	}
	return KindUpstreamPermanent
}

func (e *UpstreamError) Unwrap() error    { return e.Cause }
func (e *UpstreamError) Retryable() bool  { return e.Retry }

func NewUpstreamError(accountID string, retryable bool, cause error) *UpstreamError {
	return &UpstreamError{AccountID: accountID, Retry: retryable, Cause: cause}
}

// WarehouseError covers failures raised by the Warehouse Writer: partial
// load failures, vanished shard tables, and union-view prefix conflicts.
type WarehouseError struct {
	K     ErrorKind
	Msg   string
	Cause error
}

var _ ReportError = &WarehouseError{}

func (e *WarehouseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *WarehouseError) Kind() ErrorKind { return e.K }
func (e *WarehouseError) Unwrap() error   { return e.Cause }

func NewWarehouseError(kind ErrorKind, msg string, cause error) *WarehouseError {
	return &WarehouseError{K: kind, Msg: msg, Cause: cause}
}

// CancelledError propagates the caller's cancellation signal.
type CancelledError struct {
	Cause error
}

var _ ReportError = &CancelledError{}

func (e *CancelledError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("cancelled: %v", e.Cause)
	}
	return "cancelled"
}

func (e *CancelledError) Kind() ErrorKind { return KindCancelled }
func (e *CancelledError) Unwrap() error   { return e.Cause }

func NewCancelledError(cause error) *CancelledError {
	return &CancelledError{Cause: cause}
}
