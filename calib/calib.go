// Package calib loads KITTI-360 style camera calibration files into typed
// parameter structs.
package calib

import (
	"math"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// FisheyeParams holds the intrinsic parameters of one fisheye camera using the
// MEI (unified omnidirectional) model: a mirror parameter xi, radial distortion
// k1/k2, tangential distortion p1/p2, and the generalized focal lengths
// gamma1/gamma2 with principal point u0/v0.
type FisheyeParams struct {
	CameraName string
	Width      int
	Height     int

	// Xi is the unit-sphere mirror parameter.
	Xi float64

	K1, K2 float64
	P1, P2 float64

	Fx, Fy float64
	Cx, Cy float64
}

// fisheyeFile mirrors the layout of the image_XX.yaml files shipped with the
// KITTI-360 calibration set.
type fisheyeFile struct {
	CameraName  string `yaml:"camera_name"`
	ImageWidth  int    `yaml:"image_width"`
	ImageHeight int    `yaml:"image_height"`
	Mirror      struct {
		Xi float64 `yaml:"xi"`
	} `yaml:"mirror_parameters"`
	Distortion struct {
		K1 float64 `yaml:"k1"`
		K2 float64 `yaml:"k2"`
		P1 float64 `yaml:"p1"`
		P2 float64 `yaml:"p2"`
	} `yaml:"distortion_parameters"`
	Projection struct {
		Gamma1 float64 `yaml:"gamma1"`
		Gamma2 float64 `yaml:"gamma2"`
		U0     float64 `yaml:"u0"`
		V0     float64 `yaml:"v0"`
	} `yaml:"projection_parameters"`
}

// LoadFisheyeParams reads fisheye camera parameters from an OpenCV-flavored
// YAML file. The "%YAML:1.0" directive OpenCV writes is not valid YAML and is
// stripped before parsing.
func LoadFisheyeParams(path string) (*FisheyeParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read calibration file %q", path)
	}
	var kept []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "%") {
			continue
		}
		kept = append(kept, line)
	}
	var ff fisheyeFile
	if err := yaml.Unmarshal([]byte(strings.Join(kept, "\n")), &ff); err != nil {
		return nil, errors.Wrapf(err, "cannot parse calibration file %q", path)
	}
	params := &FisheyeParams{
		CameraName: ff.CameraName,
		Width:      ff.ImageWidth,
		Height:     ff.ImageHeight,
		Xi:         ff.Mirror.Xi,
		K1:         ff.Distortion.K1,
		K2:         ff.Distortion.K2,
		P1:         ff.Distortion.P1,
		P2:         ff.Distortion.P2,
		Fx:         ff.Projection.Gamma1,
		Fy:         ff.Projection.Gamma2,
		Cx:         ff.Projection.U0,
		Cy:         ff.Projection.V0,
	}
	if err := params.CheckValid(); err != nil {
		return nil, errors.Wrapf(err, "calibration file %q", path)
	}
	return params, nil
}

// CheckValid returns an error if the parameters cannot describe a projection.
func (p *FisheyeParams) CheckValid() error {
	if p == nil {
		return errors.New("fisheye parameters are nil")
	}
	if p.Width <= 0 || p.Height <= 0 {
		return errors.Errorf("invalid image size %dx%d", p.Width, p.Height)
	}
	if p.Fx <= 0 || p.Fy <= 0 {
		return errors.Errorf("invalid focal lengths fx=%v fy=%v", p.Fx, p.Fy)
	}
	for _, v := range []float64{p.Xi, p.K1, p.K2, p.P1, p.P2, p.Fx, p.Fy, p.Cx, p.Cy} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("non-finite calibration value")
		}
	}
	return nil
}
