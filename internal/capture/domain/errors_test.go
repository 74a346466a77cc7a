package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCaptureError_Is(t *testing.T) {
	err := DeviceError(KindDeviceBusy, "held by session s-1", nil)
	wrapped := fmt.Errorf("start: %w", err)

	assert.True(t, errors.Is(wrapped, ErrDeviceBusy))
	assert.False(t, errors.Is(wrapped, ErrPermissionDenied))
	assert.False(t, errors.Is(wrapped, ErrNoDataExtracted))
}

func TestCaptureError_Unwrap(t *testing.T) {
	cause := errors.New("ioctl failed")
	err := DeviceError(KindUnknown, "", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "device: unknown")
	assert.Contains(t, err.Error(), "ioctl failed")
}

func TestAsCaptureError(t *testing.T) {
	ce := AsCaptureError(fmt.Errorf("x: %w", ErrTransport), ClassDevice)
	assert.Equal(t, ClassExtraction, ce.Class)

	tests := []struct {
		class ErrorClass
		want  ErrorKind
	}{
		{ClassDevice, KindUnknown},
		{ClassCapture, KindEncoding},
		{ClassExtraction, KindTransportError},
	}
	for _, tt := range tests {
		ce := AsCaptureError(errors.New("plain"), tt.class)
		assert.Equal(t, tt.class, ce.Class)
		assert.Equal(t, tt.want, ce.Kind)
	}
}

func TestState(t *testing.T) {
	held := map[State]bool{
		StateDeviceReady:    true,
		StateCapturingFront: true,
		StateFrontCaptured:  true,
		StateCapturingBack:  true,
	}
	all := []State{
		StateIdle, StateRequestingDevice, StateDeviceReady, StateCapturingFront,
		StateFrontCaptured, StateCapturingBack, StateBackCaptured, StateUploading,
		StateSucceeded, StateFailed, StateCancelled,
	}
	for _, s := range all {
		assert.Equal(t, held[s], s.HoldsDevice(), "HoldsDevice(%s)", s)
		assert.False(t, s.IsTerminal() && s.HoldsDevice(), "terminal state %s holds device", s)
	}
	assert.True(t, StateDeviceReady.AcceptsShutter())
	assert.True(t, StateFrontCaptured.AcceptsShutter())
	assert.False(t, StateCapturingFront.AcceptsShutter())
}

func TestImage_Discard(t *testing.T) {
	data := []byte{1, 2, 3}
	img := &Image{Data: data}
	img.Discard()

	assert.True(t, img.Empty())
	assert.Equal(t, []byte{0, 0, 0}, data)

	var nilImg *Image
	nilImg.Discard()
	assert.True(t, nilImg.Empty())
}

func TestImage_Clone(t *testing.T) {
	img := &Image{Data: []byte{1, 2, 3}, Thumbnail: []byte{4}, Width: 64}
	c := img.Clone()
	img.Discard()

	assert.Equal(t, []byte{1, 2, 3}, c.Data)
	assert.Nil(t, c.Thumbnail)
	assert.Equal(t, 64, c.Width)

	c.Discard()
	assert.True(t, c.Empty())
}
