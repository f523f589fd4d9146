// Command stereoviewer serves a stereo image sequence side by side. Only
// basenames present in both camera directories are shown, each eye undistorted
// with its own calibration; navigation moves both eyes in lockstep.
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
	streamWidth  = 2816
	streamHeight = 376

	logger = golog.NewDevelopmentLogger("stereoviewer")
)

// Arguments for the command.
type Arguments struct {
	LeftDir    string              `flag:"0,required,usage=left camera image directory"`
	RightDir   string              `flag:"1,required,usage=right camera image directory"`
	Port       goutils.NetPortFlag `flag:"port,usage=port to serve the remote view on"`
	LeftCalib  string              `flag:"left-calib,usage=left camera calibration file"`
	RightCalib string              `flag:"right-calib,usage=right camera calibration file"`
	MaxAssets  int                 `flag:"max,usage=cap the sequence length"`
	Workers    int                 `flag:"workers,usage=background decode workers"`
	Window     int                 `flag:"window,usage=eagerly decoded leading window"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := goutils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.Port == 0 {
		argsParsed.Port = goutils.NetPortFlag(defaultPort)
	}
	return viewStereoSequence(ctx, argsParsed, logger)
}

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

func viewStereoSequence(ctx context.Context, args Arguments, logger golog.Logger) (err error) {
	records, err := sequence.NewStereoIndex(args.LeftDir, args.RightDir,
		sequence.Options{MaxAssets: args.MaxAssets}, logger)
	if err != nil {
		return err
	}

	decode := viewer.NewFrameDecoder([]*transform.Undistorter{
		loadUndistorter(args.LeftCalib, logger),
		loadUndistorter(args.RightCalib, logger),
	})

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
	})
	server := gostream.NewViewServer(int(args.Port), remoteView, logger)
	if err := server.Start(); err != nil {
		return err
	}

	goutils.ContextMainReadyFunc(ctx)()
	gostream.StreamSource(ctx, gostream.ImageSourceFunc(backend.Next), remoteView)
	return server.Stop(context.Background())
}
