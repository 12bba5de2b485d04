package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync/atomic"
)

// SyntheticDevice generates solid-color JPEG frames. Used when
// capture.source is "synthetic" and throughout the test suite.
type SyntheticDevice struct {
	Width  int
	Height int

	// FailAfter, when > 0, makes every Grab beyond that count fail. Zero
	// means never fail.
	FailAfter int

	grabs atomic.Int64
	open  atomic.Bool
}

func NewSyntheticDevice(width, height int) *SyntheticDevice {
	return &SyntheticDevice{Width: width, Height: height}
}

func (d *SyntheticDevice) Open(ctx context.Context) error {
	d.open.Store(true)
	return nil
}

func (d *SyntheticDevice) Grab(ctx context.Context) ([]byte, error) {
	if !d.open.Load() {
		return nil, ErrDeviceClosed
	}
	n := d.grabs.Add(1)
	if d.FailAfter > 0 && n > int64(d.FailAfter) {
		return nil, ErrReadFailed
	}

	w, h := d.Width, d.Height
	if w == 0 {
		w = 64
	}
	if h == 0 {
		h = 64
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	shade := uint8(n % 256)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: shade, B: shade, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *SyntheticDevice) Close() error {
	d.open.Store(false)
	return nil
}
