// Package output provides JSONL output for map commands.
//
// Output is structured as typed record envelopes containing map entries,
// share results, errors and summaries. Each line is a self-contained JSON
// object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/mapnimbus/pkg/catalog"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: mapnimbus.<type>.v<version>
const (
	// TypeMap identifies catalog entry records.
	TypeMap = "mapnimbus.map.v1"

	// TypeShare identifies upload and URL records.
	TypeShare = "mapnimbus.share.v1"

	// TypeError identifies error records.
	TypeError = "mapnimbus.error.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "mapnimbus.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "mapnimbus.map.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID correlates the records of one command invocation.
	RunID string `json:"run_id"`

	// Provider identifies the map provider (e.g., "aws").
	Provider string `json:"provider"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// MapRecord is the data payload for one listed map.
type MapRecord = catalog.Entry

// ShareRecord is the data payload for saved maps and generated URLs.
type ShareRecord struct {
	// URL is a share or map URL. Empty when the map was saved privately.
	URL string `json:"url,omitempty"`

	// LoadParams identifies the saved map when no share URL was produced.
	LoadParams *catalog.LoadParams `json:"load_params,omitempty"`

	Title string `json:"title,omitempty"`
}

// ErrorRecord is the data payload for errors.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// MapID is the map key related to this error, if applicable.
	MapID string `json:"map_id,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeAuth     = "AUTH"
	ErrCodeNotFound = "NOT_FOUND"
	ErrCodeParse    = "PARSE"
	ErrCodeStorage  = "STORAGE"
	ErrCodeInternal = "INTERNAL"
)

// SummaryRecord is the data payload for final summaries.
type SummaryRecord struct {
	// Maps is the number of map records written.
	Maps int64 `json:"maps"`

	// Broken is the number of entries carrying an error.
	Broken int64 `json:"broken"`

	// Levels lists the levels that were listed.
	Levels []string `json:"levels,omitempty"`

	// Duration is the total command duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
