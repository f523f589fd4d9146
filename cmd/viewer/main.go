// Command viewer serves a progressively loaded image sequence over a remote
// view. Frames decode on a background worker pool while the first window is
// loaded eagerly; the client steps through the sequence by sending "next" and
// "prev" over the view's data channel.
package main

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/edaniels/gostream"
	"github.com/edaniels/gostream/codec/x264"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/seqview/seqview/calib"
	"github.com/seqview/seqview/render/software"
	"github.com/seqview/seqview/sequence"
	"github.com/seqview/seqview/transform"
	"github.com/seqview/seqview/viewer"
)

func main() {
	goutils.ContextualMainQuit(mainWithArgs, logger)
}

var (
	defaultPort  = 5555
	streamWidth  = 1408
	streamHeight = 376

	logger = golog.NewDevelopmentLogger("viewer")
)

// Arguments for the command.
type Arguments struct {
	ImageDir  string              `flag:"0,required,usage=directory of sequentially named images"`
	Port      goutils.NetPortFlag `flag:"port,usage=port to serve the remote view on"`
	CalibFile string              `flag:"calib,usage=camera calibration file (fisheye)"`
	MaxAssets int                 `flag:"max,usage=cap the sequence length"`
	Workers   int                 `flag:"workers,usage=background decode workers"`
	Window    int                 `flag:"window,usage=eagerly decoded leading window"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := goutils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.Port == 0 {
		argsParsed.Port = goutils.NetPortFlag(defaultPort)
	}
	return viewSequence(ctx, argsParsed, logger)
}

// loadUndistorter reads the calibration file and builds the camera's remap.
// A missing or unreadable file is not fatal for viewing; the frames are shown
// pass-through.
func loadUndistorter(path string, logger golog.Logger) *transform.Undistorter {
	if path == "" {
		return nil
	}
	params, err := calib.LoadFisheyeParams(path)
	if err != nil {
		logger.Warnw("cannot load calibration, showing frames pass-through", "path", path, "error", err)
		return nil
	}
	return transform.NewUndistorter(params, transform.OutputSpec{}, logger)
}

func viewSequence(ctx context.Context, args Arguments, logger golog.Logger) (err error) {
	records, err := sequence.NewIndex(args.ImageDir, sequence.Options{MaxAssets: args.MaxAssets}, logger)
	if err != nil {
		return err
	}

	und := loadUndistorter(args.CalibFile, logger)
	decode := viewer.NewFrameDecoder([]*transform.Undistorter{und})

	table := viewer.NewTable(records)
	pool := viewer.NewPool(table, decode, viewer.PoolConfig{
		Workers:     args.Workers,
		EagerWindow: args.Window,
	}, logger)
	backend := software.NewBackend(streamWidth, streamHeight, logger)
	view := viewer.NewView(table, backend, decode, viewer.ViewConfig{}, logger)
	defer func() {
		err = multierr.Combine(err, view.Close(context.Background()))
	}()
	defer func() {
		err = multierr.Combine(err, pool.Close(context.Background()))
	}()

	if err := pool.PrimeEagerWindow(ctx); err != nil {
		return err
	}
	pool.Start()
	view.Start()

	remoteView, err := gostream.NewView(x264.DefaultViewConfig)
	if err != nil {
		return err
	}
	remoteView.SetOnDataHandler(func(ctx context.Context, data []byte, responder gostream.ClientResponder) {
		handleNavData(view, data, responder, logger)
	})
	server := gostream.NewViewServer(int(args.Port), remoteView, logger)
	if err := server.Start(); err != nil {
		return err
	}

	goutils.ContextMainReadyFunc(ctx)()
	gostream.StreamSource(ctx, gostream.ImageSourceFunc(backend.Next), remoteView)
	return server.Stop(context.Background())
}

// handleNavData maps the view client's data channel messages to cursor moves.
func handleNavData(view *viewer.View, data []byte, responder gostream.ClientResponder, logger golog.Logger) {
	switch string(data) {
	case "next":
		idx := view.Advance()
		logger.Debugw("advance", "index", idx)
	case "prev":
		idx := view.Retreat()
		logger.Debugw("retreat", "index", idx)
	default:
		responder.SendText("unknown command; use next or prev")
	}
}
