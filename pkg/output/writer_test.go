package output

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/mapnimbus/pkg/catalog"
	"github.com/3leaps/mapnimbus/pkg/storage"
)

func decodeRecord(t *testing.T, line []byte, data any) Record {
	t.Helper()
	var record Record
	require.NoError(t, json.Unmarshal(line, &record))
	if data != nil {
		require.NoError(t, json.Unmarshal(record.Data, data))
	}
	return record
}

func TestJSONLWriter_WriteMap(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-1", "aws")

	entry := &MapRecord{
		ID:               "Harbor.json",
		Title:            "Harbor",
		Description:      "piers",
		PrivateMap:       true,
		LastModification: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
		LoadParams:       catalog.LoadParams{Level: storage.LevelPrivate, MapID: "Harbor.json", IdentityID: "u1"},
	}
	require.NoError(t, w.WriteMap(context.Background(), entry))

	var got catalog.Entry
	record := decodeRecord(t, buf.Bytes(), &got)
	assert.Equal(t, TypeMap, record.Type)
	assert.Equal(t, "run-1", record.RunID)
	assert.Equal(t, "aws", record.Provider)
	assert.False(t, record.TS.IsZero())
	assert.Equal(t, *entry, got)
}

func TestJSONLWriter_RecordTypes(t *testing.T) {
	ctx := context.Background()
	lp := &catalog.LoadParams{Level: storage.LevelPrivate, MapID: "a.json"}

	tests := []struct {
		name     string
		write    func(w *JSONLWriter) error
		wantType string
		wantData string
	}{
		{
			name:     "share url",
			write:    func(w *JSONLWriter) error { return w.WriteShare(ctx, &ShareRecord{URL: "http://x/demo/map?mapUrl=y"}) },
			wantType: TypeShare,
			wantData: `{"url":"http://x/demo/map?mapUrl=y"}`,
		},
		{
			name:     "share load params",
			write:    func(w *JSONLWriter) error { return w.WriteShare(ctx, &ShareRecord{LoadParams: lp, Title: "a"}) },
			wantType: TypeShare,
			wantData: `{"load_params":{"level":"private","mapId":"a.json"},"title":"a"}`,
		},
		{
			name: "error",
			write: func(w *JSONLWriter) error {
				return w.WriteError(ctx, &ErrorRecord{Code: ErrCodeNotFound, Message: "missing", MapID: "a.json"})
			},
			wantType: TypeError,
			wantData: `{"code":"NOT_FOUND","message":"missing","map_id":"a.json"}`,
		},
		{
			name: "summary",
			write: func(w *JSONLWriter) error {
				return w.WriteSummary(ctx, &SummaryRecord{Maps: 2, Broken: 1, Duration: time.Second, DurationHuman: "1s"})
			},
			wantType: TypeSummary,
			wantData: `{"maps":2,"broken":1,"duration_ns":1000000000,"duration":"1s"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, tt.write(NewJSONLWriter(&buf, "run", "aws")))
			record := decodeRecord(t, buf.Bytes(), nil)
			assert.Equal(t, tt.wantType, record.Type)
			assert.JSONEq(t, tt.wantData, string(record.Data))
		})
	}
}

func TestJSONLWriter_Closed(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run", "aws")
	require.NoError(t, w.Close())

	err := w.WriteError(context.Background(), &ErrorRecord{Code: ErrCodeInternal})
	assert.ErrorIs(t, err, ErrWriterClosed)
	assert.Zero(t, buf.Len())
}

func TestJSONLWriter_CancelledContext(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run", "aws")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, w.WriteMap(ctx, &MapRecord{}), context.Canceled)
	assert.Zero(t, buf.Len())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

type shortWriter struct{ buf bytes.Buffer }

func (s *shortWriter) Write(p []byte) (int, error) {
	if len(p) > 3 {
		p = p[:3]
	}
	return s.buf.Write(p)
}

func TestJSONLWriter_WriteFailures(t *testing.T) {
	w := NewJSONLWriter(failingWriter{}, "run", "aws")
	err := w.WriteSummary(context.Background(), &SummaryRecord{})

	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "write", we.Op)
	assert.Contains(t, err.Error(), "disk full")

	sw := &shortWriter{}
	require.NoError(t, NewJSONLWriter(sw, "run", "aws").WriteSummary(context.Background(), &SummaryRecord{Maps: 1}))
	decodeRecord(t, bytes.TrimSpace(sw.buf.Bytes()), nil)
}

func TestJSONLWriter_ConcurrentWritesDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run", "aws")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.WriteMap(context.Background(), &MapRecord{ID: "m.json", Title: "m"})
		}()
	}
	wg.Wait()

	lines := 0
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		decodeRecord(t, sc.Bytes(), nil)
		lines++
	}
	assert.Equal(t, 50, lines)
}
