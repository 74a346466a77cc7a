// Package device owns live frame sources. A source is acquired exclusively
// by one capture session at a time and must be released on every exit path.
package device

import (
	"context"
	"errors"
	"image"
	"io/fs"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/medflow/intake-capture/internal/capture/domain"
	"github.com/medflow/intake-capture/pkg/logger"
)

// Source opens live frame streams
type Source interface {
	// Name identifies the source in logs
	Name() string
	// Facings lists the camera facings the source can satisfy
	Facings() []domain.Facing
	// Open starts a stream. It must not block waiting for the first frame.
	Open(ctx context.Context, c domain.Constraints) (Stream, error)
}

// Stream is an open frame source
type Stream interface {
	// Frame returns the most recent frame. Before the source is ready it
	// may return nil or an image with empty bounds.
	Frame() (image.Image, error)
	Close() error
}

// Options bound what an Acquirer accepts and how long it waits for the
// first frame
type Options struct {
	MaxWidth          int
	MaxHeight         int
	ReadyTimeout      time.Duration
	ReadyPollInterval time.Duration
}

// DefaultOptions returns the defaults used when a field is zero
func DefaultOptions() Options {
	return Options{
		MaxWidth:          4096,
		MaxHeight:         4096,
		ReadyTimeout:      10 * time.Second,
		ReadyPollInterval: 100 * time.Millisecond,
	}
}

// Acquirer hands out the single Source to one holder at a time
type Acquirer struct {
	source Source
	opts   Options
	log    *logger.Logger

	mu     sync.Mutex
	holder *Handle
	busy   bool
}

// NewAcquirer creates an acquirer for source
func NewAcquirer(source Source, opts Options, log *logger.Logger) *Acquirer {
	def := DefaultOptions()
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = def.MaxWidth
	}
	if opts.MaxHeight <= 0 {
		opts.MaxHeight = def.MaxHeight
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = def.ReadyTimeout
	}
	if opts.ReadyPollInterval <= 0 {
		opts.ReadyPollInterval = def.ReadyPollInterval
	}
	return &Acquirer{
		source: source,
		opts:   opts,
		log:    log.WithComponent("device"),
	}
}

// Handle is an exclusively owned, acquired source
type Handle struct {
	id         string
	stream     Stream
	width      int
	height     int
	acquiredAt time.Time

	mu       sync.Mutex
	released bool
}

// ID identifies the handle in logs
func (h *Handle) ID() string { return h.id }

// Size is the native frame resolution observed when the handle became ready
func (h *Handle) Size() (int, int) { return h.width, h.height }

// Released reports whether the handle has been released
func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// Frame returns the current live frame
func (h *Handle) Frame() (image.Image, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil, domain.DeviceError(domain.KindNotReady, "handle released", nil)
	}
	img, err := h.stream.Frame()
	if err != nil {
		return nil, Classify(err)
	}
	return img, nil
}

// Acquire opens the source for the caller and waits until it produces a
// frame of non-zero size. Errors are always *domain.CaptureError of class
// device; on error nothing is left open.
func (a *Acquirer) Acquire(ctx context.Context, c domain.Constraints) (*Handle, error) {
	if err := a.checkConstraints(c); err != nil {
		return nil, err
	}

	a.mu.Lock()
	if a.busy {
		a.mu.Unlock()
		return nil, domain.DeviceError(domain.KindDeviceBusy, a.source.Name()+" is held by another session", nil)
	}
	a.busy = true
	a.mu.Unlock()

	h, err := a.open(ctx, c)
	a.mu.Lock()
	if err != nil {
		a.busy = false
	} else {
		a.holder = h
	}
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	a.log.Info().
		Str("source", a.source.Name()).
		Str("handle_id", h.id).
		Int("width", h.width).
		Int("height", h.height).
		Msg("device acquired")
	return h, nil
}

func (a *Acquirer) open(ctx context.Context, c domain.Constraints) (*Handle, error) {
	stream, err := a.source.Open(ctx, c)
	if err != nil {
		return nil, Classify(err)
	}

	bounds, err := a.waitReady(ctx, stream)
	if err != nil {
		if cerr := stream.Close(); cerr != nil {
			a.log.Warn().Err(cerr).Msg("failed to close stream after acquire error")
		}
		return nil, err
	}

	return &Handle{
		id:         uuid.NewString(),
		stream:     stream,
		width:      bounds.Dx(),
		height:     bounds.Dy(),
		acquiredAt: time.Now(),
	}, nil
}

func (a *Acquirer) waitReady(ctx context.Context, stream Stream) (image.Rectangle, error) {
	deadline := time.NewTimer(a.opts.ReadyTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(a.opts.ReadyPollInterval)
	defer ticker.Stop()

	for {
		img, err := stream.Frame()
		if err != nil {
			return image.Rectangle{}, Classify(err)
		}
		if img != nil && !img.Bounds().Empty() {
			return img.Bounds(), nil
		}

		select {
		case <-ctx.Done():
			return image.Rectangle{}, domain.DeviceError(domain.KindUnknown, "acquire aborted", ctx.Err())
		case <-deadline.C:
			return image.Rectangle{}, domain.DeviceError(domain.KindNotReady, "no frame within "+a.opts.ReadyTimeout.String(), nil)
		case <-ticker.C:
		}
	}
}

func (a *Acquirer) checkConstraints(c domain.Constraints) error {
	if c.IdealWidth < 0 || c.IdealHeight < 0 {
		return domain.DeviceError(domain.KindConstraintsUnsupported, "negative frame size", nil)
	}
	if c.IdealWidth > a.opts.MaxWidth || c.IdealHeight > a.opts.MaxHeight {
		return domain.DeviceError(domain.KindConstraintsUnsupported, "frame size exceeds source maximum", nil)
	}
	if c.Facing == "" {
		return nil
	}
	for _, f := range a.source.Facings() {
		if f == c.Facing {
			return nil
		}
	}
	return domain.DeviceError(domain.KindConstraintsUnsupported, "facing "+string(c.Facing)+" not available on "+a.source.Name(), nil)
}

// Release stops the stream behind h. Safe to call with nil and more than once.
func (a *Acquirer) Release(h *Handle) {
	if h == nil {
		return
	}

	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	err := h.stream.Close()
	h.mu.Unlock()

	a.mu.Lock()
	if a.holder == h {
		a.holder = nil
		a.busy = false
	}
	a.mu.Unlock()

	if err != nil {
		a.log.Warn().Err(err).Str("handle_id", h.id).Msg("failed to close stream")
	}
	a.log.Info().
		Str("handle_id", h.id).
		Dur("held_for", time.Since(h.acquiredAt)).
		Msg("device released")
}

// Busy reports whether a handle is currently out
func (a *Acquirer) Busy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.busy
}

// Classify maps platform errors onto the device error taxonomy
func Classify(err error) *domain.CaptureError {
	var ce *domain.CaptureError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ce):
		return ce
	case errors.Is(err, fs.ErrPermission):
		return domain.DeviceError(domain.KindPermissionDenied, "", err)
	case errors.Is(err, fs.ErrNotExist):
		return domain.DeviceError(domain.KindDeviceNotFound, "", err)
	case errors.Is(err, syscall.EBUSY):
		return domain.DeviceError(domain.KindDeviceBusy, "", err)
	default:
		return domain.DeviceError(domain.KindUnknown, "", err)
	}
}
