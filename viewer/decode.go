package viewer

import (
	"context"
	"image"
	"image/draw"
	"os"

	// Registered decoders for the formats the sequences ship in.
	_ "image/jpeg"
	_ "image/png"

	"github.com/pkg/errors"

	"github.com/seqview/seqview/sequence"
	"github.com/seqview/seqview/transform"
)

// DecodeFunc reads and decodes every file of one asset record, returning one
// buffer per eye. Implementations must be safe for concurrent use across
// distinct records.
type DecodeFunc func(ctx context.Context, rec sequence.Record) ([]*image.NRGBA, error)

// NewFrameDecoder returns the standard decoder: read the file, decode it,
// and run the matching camera's undistortion remap over it. undistorters is
// indexed by eye; a nil entry (or a shorter slice) leaves that eye
// pass-through.
func NewFrameDecoder(undistorters []*transform.Undistorter) DecodeFunc {
	return func(ctx context.Context, rec sequence.Record) ([]*image.NRGBA, error) {
		buffers := make([]*image.NRGBA, 0, len(rec.Paths))
		for eye, path := range rec.Paths {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			buf, err := decodeFile(path)
			if err != nil {
				return nil, errors.Wrapf(err, "asset %q eye %d", rec.Base, eye)
			}
			var und *transform.Undistorter
			if eye < len(undistorters) {
				und = undistorters[eye]
			}
			buffers = append(buffers, und.Apply(buf))
		}
		return buffers, nil
	}
}

// decodeFile decodes one image file into an NRGBA buffer.
func decodeFile(path string) (*image.NRGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrap(err, "cannot decode image")
	}
	if nrgba, ok := img.(*image.NRGBA); ok {
		return nrgba, nil
	}
	converted := image.NewNRGBA(image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy()))
	draw.Draw(converted, converted.Bounds(), img, img.Bounds().Min, draw.Src)
	return converted, nil
}
