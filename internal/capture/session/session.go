// Package session sequences one document capture: acquire the device,
// take the front and back stills, upload them and fill the intake form.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medflow/intake-capture/internal/capture/device"
	"github.com/medflow/intake-capture/internal/capture/domain"
	"github.com/medflow/intake-capture/pkg/i18n"
	"github.com/medflow/intake-capture/pkg/logger"
)

// Status message keys
const (
	msgRequestingDevice  = "capture.requesting_device"
	msgReadyFront        = "capture.ready_front"
	msgCapturing         = "capture.capturing"
	msgFrontCaptured     = "capture.front_captured"
	msgUploading         = "capture.uploading"
	msgSucceeded         = "capture.succeeded"
	msgSucceededUnmapped = "capture.succeeded_unmapped"
	msgCancelled         = "capture.cancelled"
	msgBusy              = "capture.busy"
	msgNotReady          = "capture.not_ready"
	msgFailedPrefix      = "capture.failed."
	msgExtractionReason  = "capture.extraction_reason."
	instructionFront     = "capture.instruction.front"
	instructionBack      = "capture.instruction.back"
)

const recordTimeout = 5 * time.Second

// Session is one capture attempt on one UI surface. All methods are safe
// for concurrent use. Start and CaptureFrame reject overlapping calls;
// Cancel is always accepted and makes any in-flight result stale.
type Session struct {
	id          string
	surfaceID   string
	locale      string
	constraints domain.Constraints
	deps        Deps
	log         *logger.Logger

	notifyMu sync.Mutex

	mu           sync.Mutex
	state        domain.State
	phase        domain.Side
	front        *domain.Image
	back         *domain.Image
	previews     domain.Previews
	handle       *device.Handle
	lastErr      *domain.CaptureError
	status       domain.Status
	instruction  string
	busy         bool
	gen          uint64
	fieldKeys    []string
	discardedAt  time.Time
	createdAt    time.Time
	updatedAt    time.Time
	listeners    map[int]Listener
	nextListener int
	pending      []Transition
	outcome      *domain.Outcome
	done         chan struct{}
}

func newSession(surfaceID, locale string, c domain.Constraints, deps Deps) *Session {
	id := uuid.NewString()
	if !i18n.IsSupported(locale) {
		locale = i18n.DefaultLocale
	}
	now := time.Now().UTC()
	s := &Session{
		id:          id,
		surfaceID:   surfaceID,
		locale:      locale,
		constraints: c,
		deps:        deps,
		log:         deps.Log.WithSession(id, surfaceID),
		state:       domain.StateIdle,
		createdAt:   now,
		updatedAt:   now,
		listeners:   make(map[int]Listener),
		done:        make(chan struct{}),
	}
	s.status = s.newStatus(domain.SeverityInfo, instructionFront, nil)
	return s
}

// ID returns the session identifier
func (s *Session) ID() string { return s.id }

// SurfaceID returns the UI surface the session belongs to
func (s *Session) SurfaceID() string { return s.surfaceID }

// Done is closed once the session reaches a terminal state
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current state
func (s *Session) State() domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Busy reports whether an acquire, grab or upload is in flight
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Snapshot returns a consistent view of the session
func (s *Session) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers l for future transitions and returns a function
// that removes it
func (s *Session) Subscribe(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.nextListener
	s.nextListener++
	s.listeners[key] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, key)
	}
}

// Start acquires the device: Idle → RequestingDevice → DeviceReady, or
// Failed with the device classification kept in the last error. The
// acquisition is not aborted when ctx is cancelled; a Cancel that lands
// meanwhile makes the handle be released as soon as it arrives.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.state.IsTerminal():
		s.mu.Unlock()
		return domain.ErrSessionClosed
	case s.busy || s.state != domain.StateIdle:
		s.rejectLocked(msgBusy)
		s.mu.Unlock()
		s.flush()
		return domain.ErrOperationInFlight
	}

	s.busy = true
	gen := s.gen
	s.transitionLocked(domain.StateRequestingDevice, s.newStatus(domain.SeverityLoading, msgRequestingDevice, nil))
	s.mu.Unlock()
	s.flush()

	h, err := s.deps.Devices.Acquire(context.WithoutCancel(ctx), s.constraints)

	s.mu.Lock()
	s.busy = false
	if s.gen != gen || s.state != domain.StateRequestingDevice {
		s.mu.Unlock()
		s.deps.Devices.Release(h)
		s.log.Info().Msg("device arrived after cancel, released")
		return domain.ErrSessionClosed
	}

	if err != nil {
		ce := domain.AsCaptureError(err, domain.ClassDevice)
		s.failLocked(ce, s.newStatus(domain.SeverityError, msgFailedPrefix+string(ce.Kind), nil))
		s.mu.Unlock()
		s.deps.Devices.Release(h)
		s.finish()
		return ce
	}

	s.handle = h
	s.discardImagesLocked()
	s.discardedAt = time.Time{}
	s.phase = domain.SideFront
	s.instruction = instructionFront
	s.lastErr = nil
	s.transitionLocked(domain.StateDeviceReady, s.newStatus(domain.SeverityInfo, msgReadyFront, nil))
	s.mu.Unlock()
	s.flush()
	return nil
}

// CaptureFrame grabs the side the session expects next. The first call
// stores the front and keeps the device open. The second stores the
// back, releases the device and uploads both images, returning once the
// upload has been resolved. A press while not ready or while a grab is in
// flight only updates the status to a warning.
func (s *Session) CaptureFrame(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.state.IsTerminal():
		s.mu.Unlock()
		return domain.ErrSessionClosed
	case s.busy:
		s.rejectLocked(msgBusy)
		s.mu.Unlock()
		s.flush()
		return domain.ErrOperationInFlight
	case !s.state.AcceptsShutter() || s.handle == nil:
		s.rejectLocked(msgNotReady)
		s.mu.Unlock()
		s.flush()
		return domain.ErrNotReady
	}

	side := s.phase
	capturing := domain.StateCapturingFront
	if side == domain.SideBack {
		capturing = domain.StateCapturingBack
	}
	s.busy = true
	gen := s.gen
	h := s.handle
	s.transitionLocked(capturing, s.newStatus(domain.SeverityLoading, msgCapturing, nil))
	s.mu.Unlock()
	s.flush()

	img, err := s.deps.Grabber.Grab(context.WithoutCancel(ctx), h)

	s.mu.Lock()
	s.busy = false
	if s.gen != gen || s.state != capturing {
		s.mu.Unlock()
		img.Discard()
		return domain.ErrSessionClosed
	}

	if err != nil {
		ce := domain.AsCaptureError(err, domain.ClassCapture)
		s.failLocked(ce, s.newStatus(domain.SeverityError, msgFailedPrefix+string(ce.Kind), nil))
		s.mu.Unlock()
		s.finish()
		return ce
	}

	if side == domain.SideFront {
		s.front = &img
		s.previews.Front = s.deps.Previews.Put(img.Thumbnail)
		s.phase = domain.SideBack
		s.instruction = instructionBack
		s.transitionLocked(domain.StateFrontCaptured, s.newStatus(domain.SeveritySuccess, msgFrontCaptured, nil))
		s.mu.Unlock()
		s.flush()
		return nil
	}

	s.back = &img
	s.previews.Back = s.deps.Previews.Put(img.Thumbnail)
	s.releaseLocked()
	s.instruction = ""
	s.transitionLocked(domain.StateBackCaptured, s.newStatus(domain.SeverityLoading, msgUploading, nil))
	s.transitionLocked(domain.StateUploading, s.newStatus(domain.SeverityLoading, msgUploading, nil))
	s.busy = true
	// the gateway owns these copies for the length of the call
	front, back := s.front.Clone(), s.back.Clone()
	s.mu.Unlock()
	s.flush()

	return s.upload(ctx, gen, front, back)
}

func (s *Session) upload(ctx context.Context, gen uint64, front, back domain.Image) error {
	fields, err := s.deps.Gateway.Extract(context.WithoutCancel(ctx), front, back)
	front.Discard()
	back.Discard()

	s.mu.Lock()
	s.busy = false
	if s.gen != gen || s.state != domain.StateUploading {
		s.mu.Unlock()
		s.log.Info().Msg("extraction result arrived after cancel, discarded")
		return domain.ErrSessionClosed
	}

	if err == nil && len(fields) == 0 {
		err = domain.ExtractionError(domain.KindNoDataExtracted, "", "empty field set", nil)
	}
	if err != nil {
		ce := domain.AsCaptureError(err, domain.ClassExtraction)
		if ce.Class != domain.ClassExtraction {
			ce = domain.ExtractionError(domain.KindTransportError, ce.Message, ce.Detail, err)
		}
		s.failLocked(ce, s.newStatus(domain.SeverityError, msgFailedPrefix+"extraction", map[string]string{
			"message": s.extractionMessage(ce),
		}))
		s.mu.Unlock()
		s.finish()
		return ce
	}

	s.fieldKeys = sortedKeys(fields)
	s.lastErr = nil
	s.transitionLocked(domain.StateSucceeded, s.newStatus(domain.SeveritySuccess, msgSucceeded, nil))
	s.mu.Unlock()
	s.flush()

	_, mapErr := s.deps.Mapper.Apply(context.WithoutCancel(ctx), s.surfaceID, fields)

	s.mu.Lock()
	s.discardImagesLocked()
	if mapErr != nil {
		s.log.Warn().Err(mapErr).Msg("extracted fields could not be applied to the form")
		s.statusLocked(s.newStatus(domain.SeverityWarning, msgSucceededUnmapped, nil))
	}
	s.mu.Unlock()
	s.finish()
	return nil
}

// Cancel ends the session from any non-terminal state. The device is
// released at once; images and previews are dropped when discardImages is
// set. In-flight acquire, grab or upload results are discarded when they
// return. Cancelling a finished session is a no-op.
func (s *Session) Cancel(discardImages bool) error {
	s.mu.Lock()
	if s.state.IsTerminal() {
		s.mu.Unlock()
		return nil
	}

	s.gen++
	s.busy = false
	s.releaseLocked()
	if discardImages {
		s.discardImagesLocked()
	}
	s.instruction = ""
	s.transitionLocked(domain.StateCancelled, s.newStatus(domain.SeverityInfo, msgCancelled, nil))
	s.mu.Unlock()
	s.finish()
	return nil
}

// discard drops everything the session holds, cancelling it first when
// it is still running. Used on eviction and shutdown.
func (s *Session) discard() {
	s.Cancel(true)
	s.mu.Lock()
	s.discardImagesLocked()
	s.mu.Unlock()
}

func (s *Session) transitionLocked(to domain.State, status domain.Status) {
	from := s.state
	s.state = to
	s.status = status
	s.updatedAt = time.Now().UTC()

	ev := s.log.Info()
	if to == domain.StateFailed && s.lastErr != nil {
		ev = s.log.Error().
			Str("error_class", string(s.lastErr.Class)).
			Str("error_kind", string(s.lastErr.Kind)).
			Str("detail", s.lastErr.Detail)
	}
	ev.Str("from", string(from)).Str("to", string(to)).Msg("capture transition")

	if to.IsTerminal() {
		s.outcome = s.outcomeLocked()
	}
	s.pending = append(s.pending, Transition{From: from, To: to, Snapshot: s.snapshotLocked()})
}

// statusLocked changes only the status message
func (s *Session) statusLocked(status domain.Status) {
	s.status = status
	s.updatedAt = time.Now().UTC()
	s.pending = append(s.pending, Transition{From: s.state, To: s.state, Snapshot: s.snapshotLocked()})
}

func (s *Session) rejectLocked(key string) {
	s.log.Warn().Str("state", string(s.state)).Bool("busy", s.busy).Msg("capture operation rejected")
	s.statusLocked(s.newStatus(domain.SeverityWarning, key, nil))
}

func (s *Session) failLocked(ce *domain.CaptureError, status domain.Status) {
	s.lastErr = ce
	s.busy = false
	s.releaseLocked()
	s.discardImagesLocked()
	s.instruction = ""
	s.transitionLocked(domain.StateFailed, status)
}

func (s *Session) releaseLocked() {
	if s.handle == nil {
		return
	}
	s.deps.Devices.Release(s.handle)
	s.handle = nil
}

func (s *Session) discardImagesLocked() {
	if s.front == nil && s.back == nil && s.previews == (domain.Previews{}) {
		return
	}
	s.front.Discard()
	s.back.Discard()
	s.front, s.back = nil, nil
	s.deps.Previews.Revoke(s.previews.Front)
	s.deps.Previews.Revoke(s.previews.Back)
	s.previews = domain.Previews{}
	s.discardedAt = time.Now().UTC()
	if s.outcome != nil {
		s.outcome.ImagesDiscardedAt = s.discardedAt
	}
}

func (s *Session) outcomeLocked() *domain.Outcome {
	o := &domain.Outcome{
		SessionID:         s.id,
		SurfaceID:         s.surfaceID,
		State:             s.state,
		FieldsExtracted:   s.fieldKeys,
		DurationMs:        time.Since(s.createdAt).Milliseconds(),
		ImagesDiscardedAt: s.discardedAt,
		CreatedAt:         time.Now().UTC(),
	}
	if s.state == domain.StateFailed && s.lastErr != nil {
		o.ErrorClass = s.lastErr.Class
		o.ErrorKind = s.lastErr.Kind
	}
	return o
}

// flush delivers queued transitions in order, outside the session lock
func (s *Session) flush() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	listeners := make([]Listener, 0, len(s.listeners))
	keys := make([]int, 0, len(s.listeners))
	for k := range s.listeners {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		listeners = append(listeners, s.listeners[k])
	}
	s.mu.Unlock()

	for _, t := range pending {
		for _, l := range listeners {
			l.OnTransition(t)
		}
	}
}

// finish flushes, closes Done and hands the outcome to the recorders once
func (s *Session) finish() {
	s.flush()

	s.mu.Lock()
	outcome := s.outcome
	s.outcome = nil
	s.mu.Unlock()
	if outcome == nil {
		return
	}
	close(s.done)

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	for _, r := range s.deps.Recorders {
		if err := r.Record(ctx, *outcome); err != nil {
			s.log.Warn().Err(err).Msg("failed to record capture outcome")
		}
	}
}

func (s *Session) snapshotLocked() domain.Snapshot {
	snap := domain.Snapshot{
		ID:        s.id,
		SurfaceID: s.surfaceID,
		State:     s.state,
		Phase:     s.phase,
		Busy:      s.busy,
		Status:    s.status,
		Controls:  s.controlsLocked(),
		Previews:  s.previews,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
	if s.instruction != "" {
		snap.Instruction = i18n.TWithLocale(s.locale, s.instruction)
	}
	if s.lastErr != nil {
		info := s.lastErr.Info()
		if info.Message == "" {
			info.Message = s.status.Message
		}
		snap.LastError = info
	}
	return snap
}

func (s *Session) controlsLocked() domain.Controls {
	terminal := s.state.IsTerminal()
	return domain.Controls{
		StartEnabled:   s.state == domain.StateIdle || terminal,
		ShutterEnabled: s.state.AcceptsShutter() && !s.busy,
		CancelEnabled:  !terminal && s.state != domain.StateIdle,
	}
}

func (s *Session) newStatus(sev domain.Severity, key string, params map[string]string) domain.Status {
	return domain.Status{
		Severity: sev,
		Key:      key,
		Params:   params,
		Message:  i18n.TWithLocale(s.locale, key, params),
	}
}

// extractionMessage prefers the text reported by the service and falls
// back to a localized reason for the failure kind
func (s *Session) extractionMessage(ce *domain.CaptureError) string {
	if ce.Message != "" {
		return ce.Message
	}
	return i18n.TWithLocale(s.locale, msgExtractionReason+string(ce.Kind))
}

func sortedKeys(fields domain.ExtractedFields) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
