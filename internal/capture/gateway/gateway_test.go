package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/medflow/intake-capture/internal/capture/domain"
	"github.com/medflow/intake-capture/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func images() (domain.Image, domain.Image) {
	return domain.Image{Data: []byte("front-jpeg"), ContentType: domain.ContentTypeJPEG},
		domain.Image{Data: []byte("back-jpeg"), ContentType: domain.ContentTypeJPEG}
}

func newGateway(t *testing.T, url string) *HTTPGateway {
	t.Helper()
	g, err := New(Config{URL: url, Token: "wf-token", Timeout: time.Second}, nil, logger.Nop())
	require.NoError(t, err)
	return g
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}
}

func TestExtract_Request(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer wf-token", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		front, fh, err := r.FormFile(PartFront)
		require.NoError(t, err)
		defer front.Close()
		assert.Equal(t, FileNameFront, fh.Filename)
		assert.Equal(t, "image/jpeg", fh.Header.Get("Content-Type"))
		data, _ := io.ReadAll(front)
		assert.Equal(t, "front-jpeg", string(data))

		back, bh, err := r.FormFile(PartBack)
		require.NoError(t, err)
		defer back.Close()
		assert.Equal(t, FileNameBack, bh.Filename)

		respond(http.StatusOK, `{"success":true,"data":{"nom":"Alaoui","prenom":"Sara","age":31,"verified":true,"extra":null}}`)(w, r)
	}))
	defer server.Close()

	front, back := images()
	fields, err := newGateway(t, server.URL).Extract(context.Background(), front, back)
	require.NoError(t, err)

	assert.Equal(t, domain.ExtractedFields{
		"nom":      "Alaoui",
		"prenom":   "Sara",
		"age":      "31",
		"verified": "true",
	}, fields)
}

func TestExtract_Failures(t *testing.T) {
	tests := []struct {
		name        string
		handler     http.HandlerFunc
		want        *domain.CaptureError
		wantMessage string
	}{
		{
			name:        "service error",
			handler:     respond(http.StatusBadGateway, `{"success":false,"message":"workflow down"}`),
			want:        domain.ErrServiceUnavailable,
			wantMessage: "workflow down",
		},
		{
			name:    "5xx html body",
			handler: respond(http.StatusServiceUnavailable, `<html>maintenance</html>`),
			want:    domain.ErrServiceUnavailable,
		},
		{
			name:        "client error",
			handler:     respond(http.StatusUnauthorized, `{"success":false,"message":"bad token"}`),
			want:        domain.ErrTransport,
			wantMessage: "bad token",
		},
		{
			name:        "success false",
			handler:     respond(http.StatusOK, `{"success":false,"message":"Carte illisible"}`),
			want:        domain.ErrNoDataExtracted,
			wantMessage: "Carte illisible",
		},
		{
			name:    "empty data",
			handler: respond(http.StatusOK, `{"success":true,"data":{}}`),
			want:    domain.ErrNoDataExtracted,
		},
		{
			name:    "only null values",
			handler: respond(http.StatusOK, `{"success":true,"data":{"nom":null}}`),
			want:    domain.ErrNoDataExtracted,
		},
		{
			name:    "missing data",
			handler: respond(http.StatusOK, `{"success":true}`),
			want:    domain.ErrNoDataExtracted,
		},
		{
			name:    "data not an object",
			handler: respond(http.StatusOK, `{"success":true,"data":["nom"]}`),
			want:    domain.ErrTransport,
		},
		{
			name:    "success not boolean",
			handler: respond(http.StatusOK, `{"success":"yes","data":{"nom":"x"}}`),
			want:    domain.ErrTransport,
		},
		{
			name:    "not json",
			handler: respond(http.StatusOK, `ok`),
			want:    domain.ErrTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			front, back := images()
			_, err := newGateway(t, server.URL).Extract(context.Background(), front, back)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			var ce *domain.CaptureError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, domain.ClassExtraction, ce.Class)
			assert.Equal(t, tt.wantMessage, ce.Message)
		})
	}
}

func TestExtract_NetworkError(t *testing.T) {
	server := httptest.NewServer(respond(http.StatusOK, `{}`))
	url := server.URL
	server.Close()

	front, back := images()
	_, err := newGateway(t, url).Extract(context.Background(), front, back)
	assert.True(t, errors.Is(err, domain.ErrTransport))
}

func TestExtract_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	g, err := New(Config{URL: server.URL, Timeout: 50 * time.Millisecond}, nil, logger.Nop())
	require.NoError(t, err)

	front, back := images()
	_, err = g.Extract(context.Background(), front, back)
	assert.True(t, errors.Is(err, domain.ErrTransport))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestExtract_MissingImage(t *testing.T) {
	g := newGateway(t, "http://127.0.0.1:1")
	front, _ := images()
	_, err := g.Extract(context.Background(), front, domain.Image{})
	assert.True(t, errors.Is(err, domain.ErrTransport))
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(Config{}, nil, logger.Nop())
	assert.Error(t, err)
}
