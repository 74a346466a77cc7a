// Package grabber turns the current live frame of an acquired device into
// an encoded still.
package grabber

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"time"

	"github.com/medflow/intake-capture/internal/capture/device"
	"github.com/medflow/intake-capture/internal/capture/domain"
	"github.com/medflow/intake-capture/pkg/logger"
	"golang.org/x/image/draw"
)

const (
	DefaultQuality      = 90
	DefaultPreviewWidth = 320
)

// Grabber encodes frames as JPEG at the source's native resolution
type Grabber struct {
	quality      int
	previewWidth int
	log          *logger.Logger
}

// New creates a grabber. Out of range values fall back to the defaults.
func New(quality, previewWidth int, log *logger.Logger) *Grabber {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	if previewWidth <= 0 {
		previewWidth = DefaultPreviewWidth
	}
	return &Grabber{
		quality:      quality,
		previewWidth: previewWidth,
		log:          log.WithComponent("grabber"),
	}
}

// Grab captures the current frame of h. A frame with zero width or height
// fails with a device NotReady error; an encoder failure with Encoding.
func (g *Grabber) Grab(ctx context.Context, h *device.Handle) (domain.Image, error) {
	frame, err := h.Frame()
	if err != nil {
		return domain.Image{}, err
	}
	if frame == nil || frame.Bounds().Empty() {
		return domain.Image{}, domain.DeviceError(domain.KindNotReady, "frame has zero size", nil)
	}
	if err := ctx.Err(); err != nil {
		return domain.Image{}, domain.EncodingError("grab aborted", err)
	}

	start := time.Now()
	data, err := encodeJPEG(frame, g.quality)
	if err != nil {
		return domain.Image{}, domain.EncodingError("jpeg encode", err)
	}

	thumb, err := encodeJPEG(Thumbnail(frame, g.previewWidth), g.quality)
	if err != nil {
		domain.ZeroBytes(data)
		return domain.Image{}, domain.EncodingError("thumbnail encode", err)
	}

	b := frame.Bounds()
	g.log.Debug().
		Str("handle_id", h.ID()).
		Int("width", b.Dx()).
		Int("height", b.Dy()).
		Int("bytes", len(data)).
		Dur("encode", time.Since(start)).
		Msg("frame grabbed")

	return domain.Image{
		Data:        data,
		Thumbnail:   thumb,
		ContentType: domain.ContentTypeJPEG,
		Width:       b.Dx(),
		Height:      b.Dy(),
		CapturedAt:  time.Now().UTC(),
	}, nil
}

// Thumbnail scales src down to maxWidth keeping the aspect ratio. Frames
// narrower than maxWidth are returned as they are.
func Thumbnail(src image.Image, maxWidth int) image.Image {
	b := src.Bounds()
	if b.Dx() <= maxWidth {
		return src
	}
	height := b.Dy() * maxWidth / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
