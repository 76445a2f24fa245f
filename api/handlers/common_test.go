package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BaSui01/hivetrain/scheduler"
	"github.com/BaSui01/hivetrain/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestWriteJSON_Headers(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusAccepted, map[string]int{"epoch": 3})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.JSONEq(t, `{"epoch":3}`, w.Body.String())
}

func TestWriteJSON_EncodeFailure(t *testing.T) {
	// NaN 无法编码为 JSON；状态码必须是 500 而不是调用方传入的 200
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusOK, map[string]float64{"loss": math.NaN()})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeEnvelope(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INTERNAL_ERROR", resp.Error.Code)
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, map[string]string{"run_id": "r-1"})

	resp := decodeEnvelope(t, w)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.False(t, resp.Timestamp.IsZero())
	assert.Equal(t, map[string]any{"run_id": "r-1"}, resp.Data)
}

func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		code types.ErrorCode
		want int
	}{
		{types.ErrInvalidRequest, http.StatusBadRequest},
		{types.ErrConfigInvalid, http.StatusBadRequest},
		{types.ErrUnauthorized, http.StatusUnauthorized},
		{types.ErrForbidden, http.StatusForbidden},
		{types.ErrNotFound, http.StatusNotFound},
		{types.ErrConflict, http.StatusConflict},
		{types.ErrSchedulerIdle, http.StatusConflict},
		{types.ErrRateLimited, http.StatusTooManyRequests},
		{types.ErrNumericInvalid, http.StatusUnprocessableEntity},
		{types.ErrBatchFailed, http.StatusUnprocessableEntity},
		{types.ErrApplyFailed, http.StatusUnprocessableEntity},
		{types.ErrTimeout, http.StatusGatewayTimeout},
		{types.ErrStepCancelled, http.StatusGatewayTimeout},
		{types.ErrSchedulerShutdown, http.StatusServiceUnavailable},
		{types.ErrServiceUnavailable, http.StatusServiceUnavailable},
		{types.ErrInternalError, http.StatusInternalServerError},
		{"SOMETHING_NEW", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, types.NewError(tt.code, "boom"), zap.NewNop())

			assert.Equal(t, tt.want, w.Code)
			resp := decodeEnvelope(t, w)
			assert.False(t, resp.Success)
			assert.Nil(t, resp.Data)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.code), resp.Error.Code)
		})
	}
}

func TestWriteError_ExplicitStatusAndNodePath(t *testing.T) {
	w := httptest.NewRecorder()
	err := types.NewError(types.ErrNumericInvalid, "non-finite gradients").
		WithNodePath("0.1").
		WithHTTPStatus(http.StatusServiceUnavailable)
	WriteError(w, err, nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decodeEnvelope(t, w)
	assert.Equal(t, "0.1", resp.Error.NodePath)
}

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  types.ErrorCode
	}{
		{"scheduler shutdown", scheduler.ErrShutdown, http.StatusServiceUnavailable, types.ErrSchedulerShutdown},
		{"wrapped shutdown", fmt.Errorf("step: %w", scheduler.ErrShutdown), http.StatusServiceUnavailable, types.ErrSchedulerShutdown},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, types.ErrTimeout},
		{"types error", types.NewError(types.ErrApplyFailed, "apply").WithNodePath("0"), http.StatusUnprocessableEntity, types.ErrApplyFailed},
		{"plain error", assert.AnError, http.StatusInternalServerError, types.ErrInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteDomainError(w, tt.err, nil)

			assert.Equal(t, tt.wantCode, w.Code)
			resp := decodeEnvelope(t, w)
			assert.Equal(t, string(tt.wantErr), resp.Error.Code)
		})
	}
}

func TestDecodeJSONBody(t *testing.T) {
	type hyperParams struct {
		LearningRate float64 `json:"learning_rate"`
	}

	tests := []struct {
		name       string
		body       string
		wantErr    bool
		wantStatus int
	}{
		{name: "valid", body: `{"learning_rate":0.01}`},
		{name: "trailing comma", body: `{"learning_rate":0.01,}`, wantErr: true, wantStatus: http.StatusBadRequest},
		{name: "unknown field", body: `{"lr":0.01}`, wantErr: true, wantStatus: http.StatusBadRequest},
		{name: "empty", body: "", wantErr: true, wantStatus: http.StatusBadRequest},
		{
			name:       "over 1 MB",
			body:       `{"learning_rate":0.01,"pad":"` + strings.Repeat("x", 2<<20) + `"}`,
			wantErr:    true,
			wantStatus: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			var r *http.Request
			if tt.body == "" {
				r = httptest.NewRequest(http.MethodPost, "/v1/training/hyperparams", nil)
			} else {
				r = httptest.NewRequest(http.MethodPost, "/v1/training/hyperparams", strings.NewReader(tt.body))
			}

			var dst hyperParams
			err := DecodeJSONBody(w, r, &dst, zap.NewNop())
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, 0.01, dst.LearningRate)
				return
			}
			assert.Error(t, err)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestValidateContentType(t *testing.T) {
	for ct, want := range map[string]bool{
		"application/json":                  true,
		"application/json; charset=UTF-8":   true,
		"application/json;  charset=utf-8":  true,
		"text/plain":                        false,
		"application/x-www-form-urlencoded": false,
		"":                                  false,
	} {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/v1/training/hyperparams", nil)
		r.Header.Set("Content-Type", ct)

		assert.Equal(t, want, ValidateContentType(w, r, nil), "content type %q", ct)
		if !want {
			assert.Equal(t, http.StatusBadRequest, w.Code)
		}
	}
}

func TestResponseWriter_RecordsStatusAndBytes(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)
	assert.Equal(t, http.StatusOK, rw.StatusCode)

	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusBadRequest)
	_, err := rw.Write([]byte("epoch"))
	require.NoError(t, err)
	_, err = rw.Write([]byte("s"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, rw.StatusCode)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, int64(6), rw.Bytes)
	assert.Same(t, rec, rw.Unwrap())
}

func TestResponseWriter_ImplicitOK(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)
	_, _ = rw.Write([]byte("{}"))
	assert.True(t, rw.Written)
	assert.Equal(t, http.StatusOK, rw.StatusCode)
}
