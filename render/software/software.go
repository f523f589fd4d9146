// Package software implements a CPU render backend whose output frames can be
// streamed to a remote view.
package software

import (
	"context"
	"image"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/edaniels/golog"
	"github.com/fogleman/gg"
	"github.com/pkg/errors"

	"github.com/seqview/seqview/render"
)

// Backend composes materialized frames into a single viewport image. It
// implements render.Backend; the latest composed frame is served through Next
// so the backend plugs directly into a gostream image source.
type Backend struct {
	width  int
	height int
	logger golog.Logger

	placeholder image.Image

	mu     sync.Mutex
	latest image.Image
	closed bool
}

// texture is a CPU-resident drawable: just the decoded frame it was created
// from.
type texture struct {
	img      *image.NRGBA
	released bool
}

func (t *texture) Bounds() image.Rectangle {
	return t.img.Bounds()
}

func (t *texture) Release() {
	t.released = true
	t.img = nil
}

// NewBackend returns a software backend with the given viewport size.
func NewBackend(width, height int, logger golog.Logger) *Backend {
	b := &Backend{width: width, height: height, logger: logger}
	b.placeholder = drawPlaceholder(width, height)
	b.latest = b.placeholder
	return b
}

// drawPlaceholder draws the neutral frame shown while a slot is not yet
// materialized.
func drawPlaceholder(width, height int) image.Image {
	dc := gg.NewContext(width, height)
	dc.SetRGB(0.10, 0.10, 0.12)
	dc.Clear()
	dc.SetRGB(0.25, 0.25, 0.28)
	dc.SetLineWidth(2)
	inset := float64(minInt(width, height)) * 0.05
	dc.DrawRectangle(inset, inset, float64(width)-2*inset, float64(height)-2*inset)
	dc.Stroke()
	cx := float64(width) / 2
	cy := float64(height) / 2
	r := float64(minInt(width, height)) * 0.04
	dc.DrawCircle(cx, cy, r)
	dc.Stroke()
	return dc.Image()
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// CreateTexture wraps the decoded frame; the software backend has no separate
// GPU residency so the "upload" is a copy to keep the texture owned here.
func (b *Backend) CreateTexture(img *image.NRGBA) (render.Texture, error) {
	if img == nil {
		return nil, errors.New("cannot create texture from nil frame")
	}
	owned := image.NewNRGBA(img.Bounds())
	copy(owned.Pix, img.Pix)
	return &texture{img: owned}, nil
}

// Present composes the textures scaled to fit, centered, splitting the
// viewport horizontally for stereo. With no textures the placeholder is shown.
func (b *Backend) Present(texs []render.Texture) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return errors.New("render backend closed")
	}

	if len(texs) == 0 {
		b.mu.Lock()
		b.latest = b.placeholder
		b.mu.Unlock()
		return nil
	}

	canvas := imaging.New(b.width, b.height, color.NRGBA{R: 0, G: 0, B: 0, A: 255})
	cellW := b.width / len(texs)
	for i, tex := range texs {
		st, ok := tex.(*texture)
		if !ok {
			return errors.Errorf("foreign texture type %T", tex)
		}
		if st.released {
			return errors.New("cannot present a released texture")
		}
		cell := image.Rect(i*cellW, 0, (i+1)*cellW, b.height)
		dst := render.FitRect(st.img.Bounds().Size(), cell)
		fitted := imaging.Fit(st.img, dst.Dx(), dst.Dy(), imaging.Linear)
		canvas = imaging.Paste(canvas, fitted, dst.Min)
	}

	b.mu.Lock()
	b.latest = canvas
	b.mu.Unlock()
	return nil
}

// Next returns the latest composed frame. It satisfies the image source
// contract used by gostream.StreamSource and never blocks on rendering.
func (b *Backend) Next(ctx context.Context) (image.Image, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, errors.New("render backend closed")
	}
	return b.latest, func() {}, nil
}

// Close makes further Present/Next calls fail.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
