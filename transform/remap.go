package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/seqview/seqview/calib"
)

// Default output geometry for unwrapping a ~180° fisheye into a flat view:
// the output is wider than the source and the focal lengths are expanded so
// the compressed fisheye periphery is stretched out.
const (
	DefaultWidthScale  = 2.5
	DefaultHeightScale = 1.5
	DefaultFocalScale  = 2.5
)

// minValidFraction is the smallest share of output pixels that must map to a
// finite source coordinate for a construction to count as non-degenerate.
const minValidFraction = 0.01

// minProjectionDenom guards the unit-sphere division.
const minProjectionDenom = 1e-6

// OutputSpec describes the geometry of the undistorted output image. Zero
// fields take defaults derived from the source size.
type OutputSpec struct {
	Width      int
	Height     int
	FocalScale float64
}

func (o OutputSpec) withDefaults(p *calib.FisheyeParams) OutputSpec {
	if o.Width <= 0 {
		o.Width = int(float64(p.Width) * DefaultWidthScale)
	}
	if o.Height <= 0 {
		o.Height = int(float64(p.Height) * DefaultHeightScale)
	}
	if o.FocalScale <= 0 {
		o.FocalScale = DefaultFocalScale
	}
	return o
}

// RemapTable maps every output pixel to a source pixel coordinate. It is
// content independent: built once per camera and shared read-only by every
// decode of that camera's frames.
type RemapTable struct {
	Width  int
	Height int

	srcX  []float32
	srcY  []float32
	valid []bool
}

// Lookup returns the source coordinate for output pixel (u, v) and whether
// the mapping is valid.
func (rt *RemapTable) Lookup(u, v int) (r2.Point, bool) {
	i := v*rt.Width + u
	if !rt.valid[i] {
		return r2.Point{}, false
	}
	return r2.Point{X: float64(rt.srcX[i]), Y: float64(rt.srcY[i])}, true
}

// projectFunc maps a camera-frame ray to a source pixel coordinate.
type projectFunc func(x, y, z float64) (float64, float64, bool)

// meiProject projects through the unified omnidirectional model: the ray is
// normalized onto the unit sphere, shifted by the mirror parameter xi, then
// distorted and scaled by the generalized focal lengths.
func meiProject(p *calib.FisheyeParams, dist Distorter) projectFunc {
	return func(x, y, z float64) (float64, float64, bool) {
		norm := math.Sqrt(x*x + y*y + z*z)
		if norm == 0 {
			return 0, 0, false
		}
		xs, ys, zs := x/norm, y/norm, z/norm
		den := zs + p.Xi
		if den < minProjectionDenom {
			return 0, 0, false
		}
		mx, my := dist.Transform(xs/den, ys/den)
		return p.Fx*mx + p.Cx, p.Fy*my + p.Cy, true
	}
}

// pinholeProject projects through a plain pinhole with radial/tangential
// distortion, ignoring the mirror parameter.
func pinholeProject(p *calib.FisheyeParams, dist Distorter) projectFunc {
	return func(x, y, z float64) (float64, float64, bool) {
		if z < minProjectionDenom {
			return 0, 0, false
		}
		mx, my := dist.Transform(x/z, y/z)
		return p.Fx*mx + p.Cx, p.Fy*my + p.Cy, true
	}
}

// buildRemap constructs the table by casting an ideal ray through each output
// pixel of a virtual pinhole camera and forward-projecting it through the
// distortion model to find the source pixel it came from.
func buildRemap(p *calib.FisheyeParams, out OutputSpec, project projectFunc) (*RemapTable, error) {
	out = out.withDefaults(p)

	// Virtual output camera: scaled focal lengths, principal point scaled in
	// proportion to the output size so equal geometry yields the identity map.
	k := mat.NewDense(3, 3, []float64{
		p.Fx * out.FocalScale, 0, p.Cx * float64(out.Width) / float64(p.Width),
		0, p.Fy * out.FocalScale, p.Cy * float64(out.Height) / float64(p.Height),
		0, 0, 1,
	})
	var kInv mat.Dense
	if err := kInv.Inverse(k); err != nil {
		return nil, errors.Wrap(err, "degenerate output camera matrix")
	}

	rt := &RemapTable{
		Width:  out.Width,
		Height: out.Height,
		srcX:   make([]float32, out.Width*out.Height),
		srcY:   make([]float32, out.Width*out.Height),
		valid:  make([]bool, out.Width*out.Height),
	}
	validCount := 0
	for v := 0; v < out.Height; v++ {
		for u := 0; u < out.Width; u++ {
			x := kInv.At(0, 0)*float64(u) + kInv.At(0, 1)*float64(v) + kInv.At(0, 2)
			y := kInv.At(1, 0)*float64(u) + kInv.At(1, 1)*float64(v) + kInv.At(1, 2)
			su, sv, ok := project(x, y, 1)
			i := v*rt.Width + u
			if !ok || math.IsNaN(su) || math.IsNaN(sv) {
				continue
			}
			rt.srcX[i] = float32(su)
			rt.srcY[i] = float32(sv)
			rt.valid[i] = true
			validCount++
		}
	}
	if float64(validCount) < minValidFraction*float64(out.Width*out.Height) {
		return nil, errors.Errorf("degenerate projection: %d of %d output pixels map to a source coordinate",
			validCount, out.Width*out.Height)
	}
	return rt, nil
}

// BuildFisheyeRemap constructs a RemapTable that unwraps the MEI fisheye
// projection described by the calibration into a flat view.
func BuildFisheyeRemap(p *calib.FisheyeParams, out OutputSpec) (*RemapTable, error) {
	if err := p.CheckValid(); err != nil {
		return nil, err
	}
	dist := &BrownConrady{p.K1, p.K2, p.P1, p.P2}
	return buildRemap(p, out, meiProject(p, dist))
}

// BuildRectilinearRemap constructs a RemapTable using a plain pinhole model
// with the same camera matrix. It is the single sanctioned fallback when the
// fisheye construction is numerically degenerate.
func BuildRectilinearRemap(p *calib.FisheyeParams, out OutputSpec) (*RemapTable, error) {
	if err := p.CheckValid(); err != nil {
		return nil, err
	}
	dist := &BrownConrady{p.K1, p.K2, p.P1, p.P2}
	return buildRemap(p, out, pinholeProject(p, dist))
}
