package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/medflow/intake-capture/pkg/errors"
	"github.com/medflow/intake-capture/pkg/i18n"
	"github.com/medflow/intake-capture/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, rr *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	JSON(rr, http.StatusCreated, map[string]string{"id": "s-1"})

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	resp := decode(t, rr)
	assert.True(t, resp.Success)
	assert.Equal(t, map[string]interface{}{"id": "s-1"}, resp.Data)
}

func TestImage(t *testing.T) {
	rr := httptest.NewRecorder()
	Image(rr, "image/jpeg", []byte{0xff, 0xd8})

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/jpeg", rr.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	assert.Equal(t, []byte{0xff, 0xd8}, rr.Body.Bytes())
}

func TestError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"capture busy", errors.CaptureBusy(), http.StatusConflict, "CAPTURE_BUSY"},
		{"not found", errors.NotFound("capture session"), http.StatusNotFound, "NOT_FOUND"},
		{"plain error", assert.AnError, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			Error(rr, tt.err)

			assert.Equal(t, tt.wantStatus, rr.Code)
			resp := decode(t, rr)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestErrorLocalized(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(i18n.WithLocale(req.Context(), "fr"))
	rr := httptest.NewRecorder()

	ErrorLocalized(rr, req, errors.CaptureClosed())

	assert.Equal(t, http.StatusConflict, rr.Code)
	resp := decode(t, rr)
	assert.Equal(t, i18n.TWithLocale("fr", "errors.capture_closed"), resp.Error.Message)
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Facing string `json:"facing"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"facing":"user"}`))
	require.NoError(t, DecodeJSON(req, &v))
	assert.Equal(t, "user", v.Facing)

	req = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{`))
	err := DecodeJSONLocalized(req, &v)
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "BAD_REQUEST", appErr.Code)
}

func TestValidate(t *testing.T) {
	type body struct {
		Facing string `json:"facing" validate:"omitempty,oneof=environment user"`
		Width  int    `json:"ideal_width" validate:"gte=0"`
	}

	require.NoError(t, Validate(&body{Facing: "user"}))

	err := Validate(&body{Facing: "sideways", Width: -1})
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "must be one of: environment user", appErr.Details["facing"])
	assert.Equal(t, "must be at least 0", appErr.Details["ideal_width"])
}

func TestRequestID(t *testing.T) {
	var got string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "req-42", got)
	assert.Equal(t, "req-42", rr.Header().Get("X-Request-ID"))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, got, 36)
}

func TestLogger_KeepsFlusher(t *testing.T) {
	var flushable bool
	h := Logger(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flushable = w.(http.Flusher)
		w.WriteHeader(http.StatusAccepted)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, flushable)
	assert.Equal(t, http.StatusAccepted, rr.Code)
}

func TestRecoverer(t *testing.T) {
	h := Recoverer(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestWithUserContext(t *testing.T) {
	ctx := WithUserContext(context.Background(), "u-1", "reception")
	assert.Equal(t, "u-1", GetUserID(ctx))
	assert.Equal(t, "reception", GetUserRole(ctx))
	assert.Empty(t, GetUserID(context.Background()))
}
