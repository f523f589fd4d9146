// Package render abstracts the drawable resources a viewer materializes
// decoded frames into.
package render

import "image"

// Texture is an owned drawable resource created from a decoded frame. A
// texture is created and released only on the render thread.
type Texture interface {
	Bounds() image.Rectangle
	Release()
}

// Backend creates textures and presents them to a display surface. All
// methods must be called from the render thread only.
type Backend interface {
	// CreateTexture uploads a decoded frame into a new texture.
	CreateTexture(img *image.NRGBA) (Texture, error)

	// Present draws the textures scaled to fit, centered, side by side when
	// more than one is given (half viewport per eye). With no textures the
	// neutral placeholder is drawn instead.
	Present(texs []Texture) error

	Close() error
}

// FitRect returns the largest rectangle with src's aspect ratio that fits
// centered inside bounds.
func FitRect(src image.Point, bounds image.Rectangle) image.Rectangle {
	if src.X <= 0 || src.Y <= 0 {
		return image.Rectangle{}
	}
	bw := bounds.Dx()
	bh := bounds.Dy()
	w := bw
	h := w * src.Y / src.X
	if h > bh {
		h = bh
		w = h * src.X / src.Y
	}
	x0 := bounds.Min.X + (bw-w)/2
	y0 := bounds.Min.Y + (bh-h)/2
	return image.Rect(x0, y0, x0+w, y0+h)
}
