package errors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/mapnimbus/pkg/maps"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"auth", &maps.Error{Op: "login", Kind: maps.ErrAuth}, http.StatusUnauthorized, CodeUnauthorized},
		{"not found", &maps.Error{Op: "download map", Kind: maps.ErrNotFound}, http.StatusNotFound, CodeNotFound},
		{"load params", &maps.Error{Op: "map url", Kind: maps.ErrInvalidLoadParams}, http.StatusBadRequest, CodeBadRequest},
		{"invalid map", &maps.Error{Op: "upload map", Kind: maps.ErrInvalidMap}, http.StatusBadRequest, CodeBadRequest},
		{"parse", &maps.Error{Op: "download map", Kind: maps.ErrParse}, http.StatusUnprocessableEntity, CodeUnprocessable},
		{"storage write", &maps.Error{Op: "upload map", Kind: maps.ErrStorageWrite}, http.StatusBadGateway, CodeStorageError},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, CodeTimeout},
		{"external", NewExternalServiceError("issuer down"), http.StatusServiceUnavailable, CodeServiceUnavailable},
		{"explicit", BadRequest("bad body", nil), http.StatusBadRequest, CodeBadRequest},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := Classify(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestRespondWithError(t *testing.T) {
	t.Run("maps error keeps message", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/maps/download", nil)
		req.Header.Set(RequestIDHeader, "req-1")
		rec := httptest.NewRecorder()

		RespondWithError(rec, req, &maps.Error{Op: "download map", Key: "a.json", Kind: maps.ErrNotFound})

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body HTTPErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, CodeNotFound, body.Error.Code)
		assert.Equal(t, "download map a.json: map not found", body.Error.Message)
		assert.Equal(t, "req-1", body.Error.RequestID)
	})

	t.Run("internal errors are not echoed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RespondWithError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("secret detail"))

		var body HTTPErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, CodeInternal, body.Error.Code)
		assert.NotContains(t, body.Error.Message, "secret")
	})

	t.Run("http error details", func(t *testing.T) {
		rec := httptest.NewRecorder()
		err := &HTTPError{Status: http.StatusBadRequest, Code: "VALIDATION_ERROR", Message: "invalid input",
			Details: map[string]any{"field": "title"}}
		RespondWithError(rec, httptest.NewRequest(http.MethodPost, "/", nil), err)

		var body HTTPErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
		assert.Equal(t, "invalid input", body.Error.Message)
		assert.Equal(t, "title", body.Error.Details["field"])
	})
}

func TestWrapInternal(t *testing.T) {
	cause := errors.New("disk")
	err := WrapInternal(context.Background(), cause, "reading config")
	assert.ErrorIs(t, err, ErrInternal)
	assert.ErrorIs(t, err, cause)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = WrapInternal(ctx, cause, "reading config")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewEnvelope(t *testing.T) {
	envelope := NewEnvelope(CodeNotFound, "map not found", "req-9", map[string]any{"map_id": "roads.json"})
	assert.Equal(t, CodeNotFound, envelope.Code)
	assert.Equal(t, "map not found", envelope.Message)
	assert.Equal(t, "req-9", envelope.CorrelationID)
	assert.Equal(t, "roads.json", envelope.Context["map_id"])

	bare := NewEnvelope(CodeInternal, "internal server error", "", nil)
	assert.Empty(t, bare.CorrelationID)
	assert.Empty(t, bare.Context)
}
