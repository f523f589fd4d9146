package calib

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// readVariable scans a whitespace-delimited calibration file for a line of the
// form "name: v0 v1 ..." and returns the values as a rows x cols matrix. A nil
// matrix (and nil error) means the variable is absent.
func readVariable(path, name string, rows, cols int) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open calibration file %q", path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, name+":") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, name+":"))
		if len(fields) != rows*cols {
			return nil, errors.Errorf("variable %q in %q: expected %d values, got %d",
				name, path, rows*cols, len(fields))
		}
		values := make([]float64, len(fields))
		for i, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "variable %q in %q", name, path)
			}
			values[i] = v
		}
		return mat.NewDense(rows, cols, values), nil
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading %q", path)
	}
	return nil, nil
}

// homogeneous4x4 embeds a 3x4 matrix into an identity 4x4.
func homogeneous4x4(m3x4 *mat.Dense) *mat.Dense {
	out := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		out.Set(i, i, 1)
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			out.Set(i, j, m3x4.At(i, j))
		}
	}
	return out
}

// LoadCameraToPose reads calib_cam_to_pose.txt and returns a map from camera
// name to its 4x4 camera-to-pose transform.
func LoadCameraToPose(path string) (map[string]*mat.Dense, error) {
	cameras := []string{"image_00", "image_01", "image_02", "image_03"}
	transforms := make(map[string]*mat.Dense)
	for _, camera := range cameras {
		m, err := readVariable(path, camera, 3, 4)
		if err != nil {
			return nil, err
		}
		if m != nil {
			transforms[camera] = homogeneous4x4(m)
		}
	}
	if len(transforms) == 0 {
		return nil, errors.Errorf("no camera transforms found in %q", path)
	}
	return transforms, nil
}

// LoadRigid reads a 12-value rigid body calibration file (e.g.
// calib_cam_to_velo.txt) and returns the 4x4 homogeneous transform.
func LoadRigid(path string) (*mat.Dense, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read calibration file %q", path)
	}
	fields := strings.Fields(string(data))
	if len(fields) != 12 {
		return nil, errors.Errorf("rigid transform %q: expected 12 values, got %d", path, len(fields))
	}
	values := make([]float64, 12)
	for i, field := range fields {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "rigid transform %q", path)
		}
		values[i] = v
	}
	return homogeneous4x4(mat.NewDense(3, 4, values)), nil
}

// LoadPerspective reads perspective.txt and returns the rectified projection
// (P_rect_XX, as 4x4) and rectification (R_rect_XX, 3x3) matrices found in it.
func LoadPerspective(path string) (map[string]*mat.Dense, error) {
	intrinsics := make(map[string]*mat.Dense)
	for _, name := range []string{"P_rect_00", "P_rect_01"} {
		m, err := readVariable(path, name, 3, 4)
		if err != nil {
			return nil, err
		}
		if m != nil {
			intrinsics[name] = homogeneous4x4(m)
		}
	}
	for _, name := range []string{"R_rect_00", "R_rect_01"} {
		m, err := readVariable(path, name, 3, 3)
		if err != nil {
			return nil, err
		}
		if m != nil {
			intrinsics[name] = m
		}
	}
	if len(intrinsics) == 0 {
		return nil, errors.Errorf("no perspective intrinsics found in %q", path)
	}
	return intrinsics, nil
}

// RectifiedParams builds distortion-free camera parameters from the rectified
// projection matrix P_rect_<camera> of a perspective calibration file. The
// file stores no image size, so the caller supplies the rectified dimensions.
func RectifiedParams(path, camera string, width, height int) (*FisheyeParams, error) {
	intrinsics, err := LoadPerspective(path)
	if err != nil {
		return nil, err
	}
	p, ok := intrinsics["P_rect_"+camera]
	if !ok {
		return nil, errors.Errorf("no P_rect_%s in %q", camera, path)
	}
	params := &FisheyeParams{
		CameraName: "image_" + camera,
		Width:      width,
		Height:     height,
		Fx:         p.At(0, 0),
		Fy:         p.At(1, 1),
		Cx:         p.At(0, 2),
		Cy:         p.At(1, 2),
	}
	if err := params.CheckValid(); err != nil {
		return nil, errors.Wrapf(err, "perspective calibration %q", path)
	}
	return params, nil
}
