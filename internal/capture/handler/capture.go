package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/medflow/intake-capture/internal/capture/domain"
	"github.com/medflow/intake-capture/internal/capture/repository"
	"github.com/medflow/intake-capture/internal/capture/session"
	"github.com/medflow/intake-capture/internal/intake"
	"github.com/medflow/intake-capture/pkg/errors"
	"github.com/medflow/intake-capture/pkg/httputil"
	"github.com/medflow/intake-capture/pkg/i18n"
	"github.com/medflow/intake-capture/pkg/logger"
)

// PreviewReader serves preview thumbnails by handle
type PreviewReader interface {
	Get(handle string) ([]byte, error)
}

// AuditLister lists recorded capture outcomes of a surface
type AuditLister interface {
	ListBySurface(ctx context.Context, surfaceID string, limit int) ([]*repository.AuditEntry, error)
}

// CaptureHandler exposes the capture trigger, status, preview and form
// surfaces
type CaptureHandler struct {
	sessions    *session.Manager
	previews    PreviewReader
	forms       *intake.Registry
	audit       AuditLister
	constraints domain.Constraints
	logger      *logger.Logger
}

// NewCaptureHandler creates a capture handler. audit may be nil when
// auditing is disabled. defaults fill constraints a start request omits.
func NewCaptureHandler(sessions *session.Manager, previews PreviewReader, forms *intake.Registry, audit AuditLister, defaults domain.Constraints, log *logger.Logger) *CaptureHandler {
	return &CaptureHandler{
		sessions:    sessions,
		previews:    previews,
		forms:       forms,
		audit:       audit,
		constraints: defaults,
		logger:      log.WithComponent("capture-handler"),
	}
}

// Routes registers the authenticated capture endpoints
func (h *CaptureHandler) Routes(r chi.Router) {
	r.Route("/surfaces/{surfaceId}", func(r chi.Router) {
		r.Post("/sessions", h.StartSession)
		r.Get("/form", h.GetForm)
		r.Post("/form/validate", h.ValidateForm)
		r.Get("/history", h.History)
	})
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/shutter", h.Shutter)
		r.Post("/cancel", h.Cancel)
		r.Get("/events", h.Events)
	})
}

// StartRequest optionally overrides the configured device constraints
type StartRequest struct {
	Facing      domain.Facing `json:"facing" validate:"omitempty,oneof=environment user"`
	IdealWidth  int           `json:"ideal_width" validate:"gte=0,lte=8192"`
	IdealHeight int           `json:"ideal_height" validate:"gte=0,lte=8192"`
}

// StartSession begins a capture on a surface and acquires the device.
// A device failure is reported in the returned session, not as an HTTP error.
func (h *CaptureHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	surfaceID := chi.URLParam(r, "surfaceId")

	var req StartRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSONLocalized(r, &req); err != nil {
			httputil.ErrorLocalized(w, r, err)
			return
		}
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	c := h.constraints
	if req.Facing != "" {
		c.Facing = req.Facing
	}
	if req.IdealWidth > 0 {
		c.IdealWidth = req.IdealWidth
	}
	if req.IdealHeight > 0 {
		c.IdealHeight = req.IdealHeight
	}

	ctx := session.WithRequestID(r.Context(), httputil.GetRequestID(r.Context()))
	s := h.sessions.Begin(ctx, surfaceID, c, i18n.GetLocaleFromContext(ctx))
	if err := s.Start(ctx); err != nil && !isCaptureFailure(err) {
		httputil.ErrorLocalized(w, r, mapSessionError(err))
		return
	}

	httputil.JSON(w, http.StatusCreated, s.Snapshot())
}

// GetSession returns the session status, controls and previews
func (h *CaptureHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		httputil.ErrorLocalized(w, r, mapSessionError(err))
		return
	}
	httputil.JSON(w, http.StatusOK, s.Snapshot())
}

// Shutter captures the next side. The second press returns once the
// extraction has been resolved.
func (h *CaptureHandler) Shutter(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		httputil.ErrorLocalized(w, r, mapSessionError(err))
		return
	}

	if err := s.CaptureFrame(r.Context()); err != nil && !isCaptureFailure(err) {
		httputil.ErrorLocalized(w, r, mapSessionError(err))
		return
	}
	httputil.JSON(w, http.StatusOK, s.Snapshot())
}

// Cancel stops the session and discards its images
func (h *CaptureHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		httputil.ErrorLocalized(w, r, mapSessionError(err))
		return
	}

	if err := s.Cancel(true); err != nil {
		httputil.ErrorLocalized(w, r, mapSessionError(err))
		return
	}
	httputil.JSON(w, http.StatusOK, s.Snapshot())
}

// Events streams transitions as server-sent events until the session ends
// or the client goes away
func (h *CaptureHandler) Events(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		httputil.ErrorLocalized(w, r, mapSessionError(err))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.ErrorLocalized(w, r, errors.Internal("streaming unsupported"))
		return
	}

	l := session.NewChannelListener(32)
	unsubscribe := s.Subscribe(l)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	snap := s.Snapshot()
	if err := writeEvent(w, "snapshot", snap); err != nil {
		return
	}
	flusher.Flush()
	if snap.State.IsTerminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case t := <-l.C:
			if err := writeEvent(w, "transition", t); err != nil {
				h.logger.Debug().Err(err).Str("session_id", s.ID()).Msg("event stream closed")
				return
			}
			flusher.Flush()
			if t.To.IsTerminal() && t.From != t.To {
				return
			}
		case <-s.Done():
			// drain what was queued before the terminal transition
			for {
				select {
				case t := <-l.C:
					if writeEvent(w, "transition", t) != nil {
						return
					}
				default:
					flusher.Flush()
					return
				}
			}
		}
	}
}

// Preview serves a thumbnail until its session revokes it
func (h *CaptureHandler) Preview(w http.ResponseWriter, r *http.Request) {
	data, err := h.previews.Get(chi.URLParam(r, "handle"))
	if err != nil {
		httputil.ErrorLocalized(w, r, mapSessionError(err))
		return
	}
	httputil.Image(w, domain.ContentTypeJPEG, append([]byte(nil), data...))
}

// GetForm returns the intake form of a surface
func (h *CaptureHandler) GetForm(w http.ResponseWriter, r *http.Request) {
	form := h.forms.Form(chi.URLParam(r, "surfaceId"))
	httputil.JSON(w, http.StatusOK, form.Snapshot())
}

// ValidateFormRequest carries staff edits to apply before validating
type ValidateFormRequest struct {
	Values map[string]string `json:"values"`
}

// ValidateForm applies edits and runs the intake rules. Failing fields are
// returned as localized validation details.
func (h *CaptureHandler) ValidateForm(w http.ResponseWriter, r *http.Request) {
	form := h.forms.Form(chi.URLParam(r, "surfaceId"))

	var req ValidateFormRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSONLocalized(r, &req); err != nil {
			httputil.ErrorLocalized(w, r, err)
			return
		}
	}
	if len(req.Values) > 0 {
		form.Update(req.Values)
	}

	if !form.Validate(i18n.LocalizerFromContext(r.Context())) {
		httputil.ErrorLocalized(w, r, errors.Validation(form.Snapshot().Errors))
		return
	}
	httputil.JSON(w, http.StatusOK, form.Snapshot())
}

// History lists recorded outcomes of a surface, newest first
func (h *CaptureHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		httputil.JSON(w, http.StatusOK, []*repository.AuditEntry{})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.audit.ListBySurface(r.Context(), chi.URLParam(r, "surfaceId"), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list capture history")
		httputil.ErrorLocalized(w, r, err)
		return
	}
	if entries == nil {
		entries = []*repository.AuditEntry{}
	}
	httputil.JSON(w, http.StatusOK, entries)
}

// HealthCheck reports the status of one dependency
type HealthCheck func(ctx context.Context) map[string]string

// Health reports service health including every registered dependency
func Health(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]interface{}{"status": "healthy"}
		for name, check := range checks {
			res := check(ctx)
			body[name] = res
			if res["status"] != "up" {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}
		httputil.JSON(w, status, body)
	}
}

func writeEvent(w http.ResponseWriter, name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

// isCaptureFailure reports whether err is a device, capture or extraction
// failure already reflected in the session state
func isCaptureFailure(err error) bool {
	var ce *domain.CaptureError
	return errors.As(err, &ce)
}

func mapSessionError(err error) error {
	switch {
	case errors.Is(err, domain.ErrOperationInFlight):
		return errors.CaptureBusy()
	case errors.Is(err, domain.ErrNotReady):
		return errors.CaptureNotReady()
	case errors.Is(err, domain.ErrSessionClosed):
		return errors.CaptureClosed()
	case errors.Is(err, domain.ErrSessionNotFound):
		return errors.NotFound("capture session")
	case errors.Is(err, domain.ErrPreviewNotFound):
		return errors.NotFound("preview")
	default:
		return err
	}
}
