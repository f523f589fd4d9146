// Command undistort is a calibration inspection tool. It serves one camera's
// sequence with the fisheye remap applied and lets the client re-tune the
// output framing live: "raw" toggles the remap off, "tune <focalScale>"
// rebuilds it with a different virtual focal length. Unlike the viewers,
// calibration here is mandatory; there is nothing to inspect without it.
package main

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"strings"
	"sync"

	"github.com/edaniels/golog"
	"github.com/edaniels/gostream"
	"github.com/edaniels/gostream/codec/x264"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/seqview/seqview/calib"
	"github.com/seqview/seqview/sequence"
	"github.com/seqview/seqview/transform"
	"github.com/seqview/seqview/viewer"
)

func main() {
	goutils.ContextualMainQuit(mainWithArgs, logger)
}

var (
	defaultPort = 5555

	logger = golog.NewDevelopmentLogger("undistort")
)

// Arguments for the command.
type Arguments struct {
	ImageDir   string              `flag:"0,required,usage=directory of sequentially named images"`
	CalibFile  string              `flag:"1,required,usage=camera calibration file (fisheye yaml, or perspective with -rect)"`
	Port       goutils.NetPortFlag `flag:"port,usage=port to serve the remote view on"`
	MaxAssets  int                 `flag:"max,usage=cap the sequence length"`
	RectCamera string              `flag:"rect,usage=load rectified P_rect_<id> from a perspective calibration file (e.g. 00)"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := goutils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.Port == 0 {
		argsParsed.Port = goutils.NetPortFlag(defaultPort)
	}
	return inspect(ctx, argsParsed, logger)
}

// inspector decodes raw frames on demand and applies whatever remap is
// currently configured, so a re-tune takes effect on the very next frame
// without invalidating any cache.
type inspector struct {
	records []sequence.Record
	params  *calib.FisheyeParams
	nav     *viewer.NavCursor
	decode  viewer.DecodeFunc
	logger  golog.Logger

	mu  sync.Mutex
	und *transform.Undistorter
	raw bool
}

func (in *inspector) Next(ctx context.Context) (image.Image, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	rec := in.records[in.nav.Pos()]
	frame, err := in.decode(ctx, rec)
	if err != nil {
		return nil, nil, err
	}
	in.mu.Lock()
	und, raw := in.und, in.raw
	in.mu.Unlock()
	if raw {
		return frame[0], func() {}, nil
	}
	return und.Apply(frame[0]), func() {}, nil
}

// retune rebuilds the remap with a new virtual focal scale through the same
// construction path used at startup, so the fallback behavior is identical.
func (in *inspector) retune(focalScale float64) {
	und := transform.NewUndistorter(in.params, transform.OutputSpec{FocalScale: focalScale}, in.logger)
	in.mu.Lock()
	in.und = und
	in.raw = false
	in.mu.Unlock()
}

func (in *inspector) handleData(data []byte, responder gostream.ClientResponder) {
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "next":
		in.logger.Debugw("advance", "index", in.nav.Advance())
	case "prev":
		in.logger.Debugw("retreat", "index", in.nav.Retreat())
	case "raw":
		in.mu.Lock()
		in.raw = !in.raw
		raw := in.raw
		in.mu.Unlock()
		responder.SendText(fmt.Sprintf("raw mode: %t", raw))
	case "tune":
		if len(fields) != 2 {
			responder.SendText("usage: tune <focalScale>")
			return
		}
		scale, err := strconv.ParseFloat(fields[1], 64)
		if err != nil || scale <= 0 {
			responder.SendText("focal scale must be a positive number")
			return
		}
		in.retune(scale)
		responder.SendText(fmt.Sprintf("focal scale set to %g", scale))
	default:
		responder.SendText("unknown command; use next, prev, raw, or tune <focalScale>")
	}
}

// loadParams reads the calibration. Plain invocations parse a fisheye yaml
// file; with -rect the file is a perspective matrix file and the rectified
// image size is taken from the first frame of the sequence.
func loadParams(ctx context.Context, args Arguments, decode viewer.DecodeFunc, records []sequence.Record) (*calib.FisheyeParams, error) {
	if args.RectCamera == "" {
		return calib.LoadFisheyeParams(args.CalibFile)
	}
	frame, err := decode(ctx, records[0])
	if err != nil {
		return nil, errors.Wrap(err, "cannot size the rectified calibration")
	}
	b := frame[0].Bounds()
	return calib.RectifiedParams(args.CalibFile, args.RectCamera, b.Dx(), b.Dy())
}

func inspect(ctx context.Context, args Arguments, logger golog.Logger) error {
	records, err := sequence.NewIndex(args.ImageDir, sequence.Options{MaxAssets: args.MaxAssets}, logger)
	if err != nil {
		return err
	}
	decode := viewer.NewFrameDecoder(nil)
	params, err := loadParams(ctx, args, decode, records)
	if err != nil {
		return errors.Wrap(err, "cannot load calibration")
	}
	und := transform.NewUndistorter(params, transform.OutputSpec{}, logger)
	if und.PassThrough() {
		return errors.Errorf("calibration %q does not produce a usable remap", args.CalibFile)
	}

	in := &inspector{
		records: records,
		params:  params,
		nav:     viewer.NewNavCursor(len(records)),
		decode:  decode,
		logger:  logger,
		und:     und,
	}

	remoteView, err := gostream.NewView(x264.DefaultViewConfig)
	if err != nil {
		return err
	}
	remoteView.SetOnDataHandler(func(ctx context.Context, data []byte, responder gostream.ClientResponder) {
		in.handleData(data, responder)
	})
	server := gostream.NewViewServer(int(args.Port), remoteView, logger)
	if err := server.Start(); err != nil {
		return err
	}

	goutils.ContextMainReadyFunc(ctx)()
	gostream.StreamSource(ctx, gostream.ImageSourceFunc(in.Next), remoteView)
	return server.Stop(context.Background())
}
