// Package transform builds and applies geometric undistortion remaps for
// fisheye camera sequences.
package transform

import "github.com/pkg/errors"

// DistortionType is the name of the distortion model.
type DistortionType string

const (
	// MEIDistortionType is the unified omnidirectional (MEI) model used by the
	// KITTI-360 fisheye cameras.
	MEIDistortionType = DistortionType("mei")
	// BrownConradyDistortionType is the plain radial/tangential model used for
	// the rectilinear fallback.
	BrownConradyDistortionType = DistortionType("brown_conrady")
)

// Distorter applies a distortion model to normalized image coordinates.
type Distorter interface {
	ModelType() DistortionType
	CheckValid() error
	Parameters() []float64
	Transform(x, y float64) (float64, float64)
}

// InvalidDistortionError is used when distortion parameters are invalid.
func InvalidDistortionError(msg string) error {
	return errors.Wrapf(errors.New("invalid distortion parameters"), msg)
}

// BrownConrady applies radial (k1, k2) and tangential (p1, p2) distortion to
// normalized coordinates. The same polynomial distorts the unit-sphere
// projection in the MEI model.
type BrownConrady struct {
	RadialK1     float64
	RadialK2     float64
	TangentialP1 float64
	TangentialP2 float64
}

// NewBrownConrady takes a slice of up to four coefficients in k1, k2, p1, p2
// order, padding missing values with zero.
func NewBrownConrady(inp []float64) (*BrownConrady, error) {
	if len(inp) > 4 {
		return nil, errors.Errorf("list of parameters too long, expected max 4, got %d", len(inp))
	}
	for i := len(inp); i < 4; i++ {
		inp = append(inp, 0.0)
	}
	return &BrownConrady{inp[0], inp[1], inp[2], inp[3]}, nil
}

// ModelType returns the type of distortion model.
func (bc *BrownConrady) ModelType() DistortionType {
	return BrownConradyDistortionType
}

// CheckValid checks if the fields for BrownConrady have valid inputs.
func (bc *BrownConrady) CheckValid() error {
	if bc == nil {
		return InvalidDistortionError("BrownConrady shaped parameters not provided")
	}
	return nil
}

// Parameters returns the parameters of the distortion model as a list of floats.
func (bc *BrownConrady) Parameters() []float64 {
	if bc == nil {
		return []float64{}
	}
	return []float64{bc.RadialK1, bc.RadialK2, bc.TangentialP1, bc.TangentialP2}
}

// Transform distorts the normalized input point (x, y):
//
//	x_d = x*(1 + k1*r² + k2*r⁴) + 2*p1*x*y + p2*(r² + 2*x²)
//	y_d = y*(1 + k1*r² + k2*r⁴) + p1*(r² + 2*y²) + 2*p2*x*y
func (bc *BrownConrady) Transform(x, y float64) (float64, float64) {
	if bc == nil {
		return x, y
	}
	r2 := x*x + y*y
	radDist := 1.0 + bc.RadialK1*r2 + bc.RadialK2*r2*r2
	xd := x*radDist + 2.0*bc.TangentialP1*x*y + bc.TangentialP2*(r2+2.0*x*x)
	yd := y*radDist + bc.TangentialP1*(r2+2.0*y*y) + 2.0*bc.TangentialP2*x*y
	return xd, yd
}
