package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/medflow/intake-capture/pkg/i18n"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		wantCode   string
		wantStatus int
		wantBase   error
	}{
		{"not found", NotFound("capture session"), "NOT_FOUND", http.StatusNotFound, ErrNotFound},
		{"unauthorized", Unauthorized("missing token"), "UNAUTHORIZED", http.StatusUnauthorized, ErrUnauthorized},
		{"bad request", BadRequest("invalid JSON body"), "BAD_REQUEST", http.StatusBadRequest, ErrBadRequest},
		{"validation", Validation(map[string]string{"cin": "required"}), "VALIDATION_ERROR", http.StatusBadRequest, ErrValidation},
		{"capture busy", CaptureBusy(), "CAPTURE_BUSY", http.StatusConflict, ErrConflict},
		{"capture not ready", CaptureNotReady(), "CAPTURE_NOT_READY", http.StatusConflict, ErrConflict},
		{"capture closed", CaptureClosed(), "CAPTURE_CLOSED", http.StatusConflict, ErrConflict},
		{"token expired", TokenExpired(), "TOKEN_EXPIRED", http.StatusUnauthorized, ErrTokenExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, tt.err.Code)
			assert.Equal(t, tt.wantStatus, tt.err.StatusCode)
			assert.True(t, Is(tt.err, tt.wantBase))
			assert.NotEmpty(t, tt.err.MessageKey)
		})
	}
}

func TestAs_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("shutter: %w", CaptureNotReady())

	var appErr *AppError
	require.True(t, As(err, &appErr))
	assert.Equal(t, "CAPTURE_NOT_READY", appErr.Code)
	assert.True(t, Is(err, ErrConflict))
}

func TestWrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, "UPSTREAM", "workflow unavailable", http.StatusBadGateway)

	assert.Equal(t, "workflow unavailable: connection refused", err.Error())
	assert.True(t, Is(err, cause))
}

func TestLocalize(t *testing.T) {
	err := NotFound("preview")

	fr := i18n.WithLocale(context.Background(), i18n.LocaleFrench)
	en := i18n.WithLocale(context.Background(), i18n.LocaleEnglish)
	assert.Equal(t, "preview introuvable", err.Localize(fr))
	assert.Equal(t, "preview not found", err.Localize(en))
	assert.Equal(t, "This capture session has ended.", CaptureClosed().LocalizeWith(i18n.NewLocalizer("en")))
}

func TestLocalize_WithoutKeyKeepsMessage(t *testing.T) {
	err := New("CUSTOM", "custom message", http.StatusTeapot)
	assert.Equal(t, "custom message", err.Localize(context.Background()))
}

func TestWithDetails(t *testing.T) {
	err := BadRequest("bad").WithDetails(map[string]string{"facing": "must be one of: environment user"})
	assert.Equal(t, "must be one of: environment user", err.Details["facing"])
}
