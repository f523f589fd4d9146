package sequence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func writeImages(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		test.That(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644), test.ShouldBeNil)
	}
}

func TestNewIndex(t *testing.T) {
	logger := golog.NewTestLogger(t)
	dir := t.TempDir()
	writeImages(t, dir, "0000000002.png", "0000000000.png", "0000000001.jpg", "notes.txt")

	records, err := NewIndex(dir, Options{}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(records), test.ShouldEqual, 3)
	test.That(t, records[0].Base, test.ShouldEqual, "0000000000")
	test.That(t, records[1].Base, test.ShouldEqual, "0000000001")
	test.That(t, records[2].Base, test.ShouldEqual, "0000000002")
	for i, rec := range records {
		test.That(t, rec.Index, test.ShouldEqual, i)
		test.That(t, rec.Stereo(), test.ShouldBeFalse)
	}
	test.That(t, records[1].Paths[0], test.ShouldEqual, filepath.Join(dir, "0000000001.jpg"))
}

func TestNewIndexEmpty(t *testing.T) {
	logger := golog.NewTestLogger(t)
	dir := t.TempDir()
	writeImages(t, dir, "notes.txt")

	_, err := NewIndex(dir, Options{}, logger)
	test.That(t, errors.Is(err, ErrNoAssets), test.ShouldBeTrue)
}

func TestNewIndexTruncation(t *testing.T) {
	logger := golog.NewTestLogger(t)
	dir := t.TempDir()
	writeImages(t, dir, "a.png", "b.png", "c.png", "d.png")

	records, err := NewIndex(dir, Options{MaxAssets: 2}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(records), test.ShouldEqual, 2)
	test.That(t, records[0].Base, test.ShouldEqual, "a")
	test.That(t, records[1].Base, test.ShouldEqual, "b")
}

func TestStereoPairing(t *testing.T) {
	logger := golog.NewTestLogger(t)
	leftDir := t.TempDir()
	rightDir := t.TempDir()
	writeImages(t, leftDir, "a.png", "b.png", "c.png")
	writeImages(t, rightDir, "b.png", "c.png", "d.png")

	records, err := NewStereoIndex(leftDir, rightDir, Options{}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(records), test.ShouldEqual, 2)
	test.That(t, records[0].Base, test.ShouldEqual, "b")
	test.That(t, records[1].Base, test.ShouldEqual, "c")
	for _, rec := range records {
		test.That(t, rec.Stereo(), test.ShouldBeTrue)
		test.That(t, rec.Paths[0], test.ShouldEqual, filepath.Join(leftDir, rec.Base+".png"))
		test.That(t, rec.Paths[1], test.ShouldEqual, filepath.Join(rightDir, rec.Base+".png"))
	}
}

func TestStereoPairingNoOverlap(t *testing.T) {
	logger := golog.NewTestLogger(t)
	leftDir := t.TempDir()
	rightDir := t.TempDir()
	writeImages(t, leftDir, "a.png")
	writeImages(t, rightDir, "b.png")

	_, err := NewStereoIndex(leftDir, rightDir, Options{}, logger)
	test.That(t, errors.Is(err, ErrNoAssets), test.ShouldBeTrue)
}

func TestExtensionPreference(t *testing.T) {
	logger := golog.NewTestLogger(t)
	dir := t.TempDir()
	writeImages(t, dir, "a.jpg", "a.png")

	records, err := NewIndex(dir, Options{}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(records), test.ShouldEqual, 1)
	test.That(t, records[0].Paths[0], test.ShouldEqual, filepath.Join(dir, "a.png"))
}
