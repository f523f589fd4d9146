package transform

import (
	"image"
	"image/color"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"

	"github.com/seqview/seqview/calib"
)

// backgroundColor fills output pixels whose mapped source coordinate is
// invalid or outside the source image.
var backgroundColor = color.NRGBA{R: 0, G: 0, B: 0, A: 255}

// Undistorter applies a camera's RemapTable to decoded frames. A nil
// Undistorter, or one whose construction failed entirely, passes frames
// through unchanged.
type Undistorter struct {
	table *RemapTable
}

// NewUndistorter builds the remap for one camera. Construction never fails
// outright: a degenerate fisheye construction falls back once to the
// rectilinear model, and if that also fails the camera's frames are shown
// pass-through.
func NewUndistorter(p *calib.FisheyeParams, out OutputSpec, logger golog.Logger) *Undistorter {
	if p == nil {
		return &Undistorter{}
	}
	if err := p.CheckValid(); err != nil {
		logger.Warnw("invalid calibration, showing frames pass-through", "camera", p.CameraName, "error", err)
		return &Undistorter{}
	}
	table, err := BuildFisheyeRemap(p, out)
	if err == nil {
		return &Undistorter{table: table}
	}
	logger.Warnw("fisheye remap construction failed, falling back to rectilinear model",
		"camera", p.CameraName, "error", err)
	table, err = BuildRectilinearRemap(p, out)
	if err == nil {
		return &Undistorter{table: table}
	}
	logger.Warnw("rectilinear fallback also failed, showing frames pass-through",
		"camera", p.CameraName, "error", err)
	return &Undistorter{}
}

// PassThrough reports whether Apply returns frames unchanged.
func (u *Undistorter) PassThrough() bool {
	return u == nil || u.table == nil
}

// Table returns the underlying remap table, or nil in pass-through mode.
func (u *Undistorter) Table() *RemapTable {
	if u == nil {
		return nil
	}
	return u.table
}

// Apply remaps src through the table with bilinear interpolation. In
// pass-through mode src is returned as is.
func (u *Undistorter) Apply(src *image.NRGBA) *image.NRGBA {
	if u.PassThrough() {
		return src
	}
	rt := u.table
	dst := image.NewNRGBA(image.Rect(0, 0, rt.Width, rt.Height))
	for v := 0; v < rt.Height; v++ {
		for x := 0; x < rt.Width; x++ {
			pt, ok := rt.Lookup(x, v)
			c := backgroundColor
			if ok {
				if sampled, inBounds := bilinearNRGBA(src, pt); inBounds {
					c = sampled
				}
			}
			dst.SetNRGBA(x, v, c)
		}
	}
	return dst
}

// bilinearNRGBA samples src at the (possibly fractional) point p using
// bilinear interpolation of the four surrounding pixels. The second return is
// false when p lies outside the image.
func bilinearNRGBA(src *image.NRGBA, p r2.Point) (color.NRGBA, bool) {
	w := src.Rect.Dx()
	h := src.Rect.Dy()
	if p.X < 0 || p.Y < 0 || p.X > float64(w-1) || p.Y > float64(h-1) {
		return color.NRGBA{}, false
	}
	x0 := int(p.X)
	y0 := int(p.Y)
	x1 := x0 + 1
	y1 := y0 + 1
	if x1 > w-1 {
		x1 = w - 1
	}
	if y1 > h-1 {
		y1 = h - 1
	}
	fx := p.X - float64(x0)
	fy := p.Y - float64(y0)

	c00 := src.NRGBAAt(src.Rect.Min.X+x0, src.Rect.Min.Y+y0)
	c10 := src.NRGBAAt(src.Rect.Min.X+x1, src.Rect.Min.Y+y0)
	c01 := src.NRGBAAt(src.Rect.Min.X+x0, src.Rect.Min.Y+y1)
	c11 := src.NRGBAAt(src.Rect.Min.X+x1, src.Rect.Min.Y+y1)

	lerp := func(a, b uint8, t float64) float64 {
		return float64(a) + (float64(b)-float64(a))*t
	}
	blend := func(a00, a10, a01, a11 uint8) uint8 {
		top := lerp(a00, a10, fx)
		bot := lerp(a01, a11, fx)
		return uint8(top + (bot-top)*fy + 0.5)
	}
	return color.NRGBA{
		R: blend(c00.R, c10.R, c01.R, c11.R),
		G: blend(c00.G, c10.G, c01.G, c11.G),
		B: blend(c00.B, c10.B, c01.B, c11.B),
		A: blend(c00.A, c10.A, c01.A, c11.A),
	}, true
}
