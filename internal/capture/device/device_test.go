package device

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/medflow/intake-capture/internal/capture/domain"
	"github.com/medflow/intake-capture/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	readyAfter int32
	calls      int32
	closed     int32
	frameErr   error
}

func (s *fakeStream) Frame() (image.Image, error) {
	if s.frameErr != nil {
		return nil, s.frameErr
	}
	n := atomic.AddInt32(&s.calls, 1)
	if n <= s.readyAfter {
		return image.NewRGBA(image.Rect(0, 0, 0, 0)), nil
	}
	return image.NewRGBA(image.Rect(0, 0, 64, 48)), nil
}

func (s *fakeStream) Close() error {
	atomic.AddInt32(&s.closed, 1)
	return nil
}

type fakeSource struct {
	mu      sync.Mutex
	openErr error
	stream  *fakeStream
	opened  int
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) Facings() []domain.Facing {
	return []domain.Facing{domain.FacingEnvironment}
}

func (s *fakeSource) Open(ctx context.Context, c domain.Constraints) (Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened++
	if s.openErr != nil {
		return nil, s.openErr
	}
	if s.stream == nil {
		s.stream = &fakeStream{}
	}
	return s.stream, nil
}

func fastOptions() Options {
	return Options{
		MaxWidth:          1920,
		MaxHeight:         1080,
		ReadyTimeout:      200 * time.Millisecond,
		ReadyPollInterval: 5 * time.Millisecond,
	}
}

func TestAcquirer_AcquireRelease(t *testing.T) {
	src := &fakeSource{stream: &fakeStream{readyAfter: 3}}
	a := NewAcquirer(src, fastOptions(), logger.Nop())

	h, err := a.Acquire(context.Background(), domain.Constraints{Facing: domain.FacingEnvironment, IdealWidth: 1280, IdealHeight: 720})
	require.NoError(t, err)
	w, hgt := h.Size()
	assert.Equal(t, 64, w)
	assert.Equal(t, 48, hgt)
	assert.True(t, a.Busy())

	a.Release(h)
	a.Release(h)
	a.Release(nil)

	assert.False(t, a.Busy())
	assert.True(t, h.Released())
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.stream.closed))

	_, err = h.Frame()
	assert.True(t, errors.Is(err, domain.ErrDeviceNotReady))
}

func TestAcquirer_ExclusiveOwnership(t *testing.T) {
	a := NewAcquirer(&fakeSource{}, fastOptions(), logger.Nop())

	h, err := a.Acquire(context.Background(), domain.Constraints{})
	require.NoError(t, err)

	_, err = a.Acquire(context.Background(), domain.Constraints{})
	assert.True(t, errors.Is(err, domain.ErrDeviceBusy))

	a.Release(h)
	h2, err := a.Acquire(context.Background(), domain.Constraints{})
	require.NoError(t, err)
	a.Release(h2)
}

func TestAcquirer_Constraints(t *testing.T) {
	a := NewAcquirer(&fakeSource{}, fastOptions(), logger.Nop())

	tests := []struct {
		name string
		c    domain.Constraints
	}{
		{"too wide", domain.Constraints{IdealWidth: 3840, IdealHeight: 1080}},
		{"negative", domain.Constraints{IdealWidth: -1}},
		{"user facing", domain.Constraints{Facing: domain.FacingUser}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Acquire(context.Background(), tt.c)
			assert.True(t, errors.Is(err, domain.ErrConstraintsUnsupported))
			assert.False(t, a.Busy())
		})
	}
}

func TestAcquirer_OpenErrorsClassified(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want *domain.CaptureError
	}{
		{"permission", fmt.Errorf("open: %w", os.ErrPermission), domain.ErrPermissionDenied},
		{"missing", &os.PathError{Op: "stat", Path: "/dev/video0", Err: syscall.ENOENT}, domain.ErrDeviceNotFound},
		{"busy", &os.PathError{Op: "open", Path: "/dev/video0", Err: syscall.EBUSY}, domain.ErrDeviceBusy},
		{"other", errors.New("driver crashed"), domain.ErrDeviceUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAcquirer(&fakeSource{openErr: tt.err}, fastOptions(), logger.Nop())
			_, err := a.Acquire(context.Background(), domain.Constraints{})
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.False(t, a.Busy())
		})
	}
}

func TestAcquirer_NeverReady(t *testing.T) {
	src := &fakeSource{stream: &fakeStream{readyAfter: 1 << 30}}
	a := NewAcquirer(src, fastOptions(), logger.Nop())

	_, err := a.Acquire(context.Background(), domain.Constraints{})
	assert.True(t, errors.Is(err, domain.ErrDeviceNotReady))
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.stream.closed))
	assert.False(t, a.Busy())
}

func TestAcquirer_ContextCancelled(t *testing.T) {
	src := &fakeSource{stream: &fakeStream{readyAfter: 1 << 30}}
	a := NewAcquirer(src, fastOptions(), logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Acquire(ctx, domain.Constraints{})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, a.Busy())
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestFolderSource(t *testing.T) {
	dir := t.TempDir()
	src := NewFolderSource(dir)
	a := NewAcquirer(src, fastOptions(), logger.Nop())

	t.Run("empty folder never ready", func(t *testing.T) {
		_, err := a.Acquire(context.Background(), domain.Constraints{})
		assert.True(t, errors.Is(err, domain.ErrDeviceNotReady))
	})

	t.Run("newest image is the frame", func(t *testing.T) {
		old := filepath.Join(dir, "scan-001.png")
		writePNG(t, old, 10, 10)
		past := time.Now().Add(-time.Minute)
		require.NoError(t, os.Chtimes(old, past, past))
		writePNG(t, filepath.Join(dir, "scan-002.png"), 40, 30)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

		h, err := a.Acquire(context.Background(), domain.Constraints{})
		require.NoError(t, err)
		defer a.Release(h)

		w, hgt := h.Size()
		assert.Equal(t, 40, w)
		assert.Equal(t, 30, hgt)
	})

	t.Run("missing folder", func(t *testing.T) {
		missing := NewAcquirer(NewFolderSource(filepath.Join(dir, "nope")), fastOptions(), logger.Nop())
		_, err := missing.Acquire(context.Background(), domain.Constraints{})
		assert.True(t, errors.Is(err, domain.ErrDeviceNotFound))
	})

	t.Run("file instead of folder", func(t *testing.T) {
		file := filepath.Join(dir, "scan-002.png")
		notDir := NewAcquirer(NewFolderSource(file), fastOptions(), logger.Nop())
		_, err := notDir.Acquire(context.Background(), domain.Constraints{})
		assert.True(t, errors.Is(err, domain.ErrDeviceNotFound))
	})
}

func TestScreenSource_Facings(t *testing.T) {
	a := NewAcquirer(NewScreenSource(image.Rectangle{}), fastOptions(), logger.Nop())
	_, err := a.Acquire(context.Background(), domain.Constraints{Facing: domain.FacingUser})
	assert.True(t, errors.Is(err, domain.ErrConstraintsUnsupported))
}
