// Package gateway uploads the two card images to the workflow extraction
// webhook and returns the fields it recognized.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/medflow/intake-capture/internal/capture/domain"
	"github.com/medflow/intake-capture/pkg/logger"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Multipart part and file names expected by the webhook
const (
	PartFront     = "front"
	PartBack      = "back"
	FileNameFront = "id_card_front.jpg"
	FileNameBack  = "id_card_back.jpg"
)

const maxResponseBytes = 1 << 20

const envelopeSchema = `{
	"type": "object",
	"required": ["success"],
	"properties": {
		"success": {"type": "boolean"},
		"data": {"type": ["object", "null"]},
		"message": {"type": ["string", "null"]}
	}
}`

// Config points the gateway at the webhook
type Config struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// HTTPGateway implements the extraction call over HTTP
type HTTPGateway struct {
	cfg    Config
	client *http.Client
	schema *jsonschema.Schema
	log    *logger.Logger
}

type envelope struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data"`
	Message string                 `json:"message"`
}

// New creates a gateway. A nil client uses a dedicated http.Client.
func New(cfg Config, client *http.Client, log *logger.Logger) (*HTTPGateway, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("extraction URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if client == nil {
		client = &http.Client{}
	}

	schema, err := jsonschema.CompileString("extraction-envelope.json", envelopeSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to compile envelope schema: %w", err)
	}

	return &HTTPGateway{
		cfg:    cfg,
		client: client,
		schema: schema,
		log:    log.WithComponent("extraction_gateway"),
	}, nil
}

// Extract uploads front and back in one request. Failures are
// *domain.CaptureError of class extraction: ServiceUnavailable for 5xx,
// NoDataExtracted when the service reports no fields, TransportError for
// everything else.
func (g *HTTPGateway) Extract(ctx context.Context, front, back domain.Image) (domain.ExtractedFields, error) {
	if front.Empty() || back.Empty() {
		return nil, domain.ExtractionError(domain.KindTransportError, "", "missing image", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	body, contentType, err := buildBody(front, back)
	if err != nil {
		return nil, domain.ExtractionError(domain.KindTransportError, "", "build multipart body", err)
	}
	defer zero(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL, bytes.NewReader(body.Bytes()))
	if err != nil {
		return nil, domain.ExtractionError(domain.KindTransportError, "", "build request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if g.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.Token)
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		g.log.Error().Err(err).Msg("extraction request failed")
		return nil, domain.ExtractionError(domain.KindTransportError, "", "request", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, domain.ExtractionError(domain.KindTransportError, "", "read response", err)
	}

	env, decodeErr := g.decode(raw)

	switch {
	case resp.StatusCode >= 500:
		msg := ""
		if decodeErr == nil {
			msg = env.Message
		}
		g.log.Error().Int("status", resp.StatusCode).Msg("extraction service unavailable")
		return nil, domain.ExtractionError(domain.KindServiceUnavailable, msg, "HTTP "+strconv.Itoa(resp.StatusCode), nil)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		msg := ""
		if decodeErr == nil {
			msg = env.Message
		}
		g.log.Error().Int("status", resp.StatusCode).Msg("extraction request rejected")
		return nil, domain.ExtractionError(domain.KindTransportError, msg, "HTTP "+strconv.Itoa(resp.StatusCode), nil)
	case decodeErr != nil:
		g.log.Error().Err(decodeErr).Msg("invalid extraction response")
		return nil, domain.ExtractionError(domain.KindTransportError, "", "decode response", decodeErr)
	}

	if !env.Success {
		return nil, domain.ExtractionError(domain.KindNoDataExtracted, env.Message, "success=false", nil)
	}

	fields := toFields(env.Data)
	if len(fields) == 0 {
		return nil, domain.ExtractionError(domain.KindNoDataExtracted, env.Message, "empty data", nil)
	}

	g.log.Info().
		Int("fields", len(fields)).
		Dur("duration", time.Since(start)).
		Msg("extraction succeeded")
	return fields, nil
}

func (g *HTTPGateway) decode(raw []byte) (*envelope, error) {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if err := g.schema.Validate(doc); err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func buildBody(front, back domain.Image) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	parts := []struct {
		name, file string
		data       []byte
	}{
		{PartFront, FileNameFront, front.Data},
		{PartBack, FileNameBack, back.Data},
	}
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, p.name, p.file))
		h.Set("Content-Type", domain.ContentTypeJPEG)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(p.data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return body, w.FormDataContentType(), nil
}

// toFields keeps scalar values; nulls count as absent
func toFields(data map[string]interface{}) domain.ExtractedFields {
	fields := make(domain.ExtractedFields, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case float64:
			fields[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			fields[k] = strconv.FormatBool(val)
		}
	}
	return fields
}

func zero(b *bytes.Buffer) {
	domain.ZeroBytes(b.Bytes())
}
