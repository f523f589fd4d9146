package viewer

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	goutils "go.viam.com/utils"

	"github.com/seqview/seqview/render"
)

// DefaultTickInterval is the render loop rate (~60 Hz).
const DefaultTickInterval = 16 * time.Millisecond

// maxMaterializeAttempts bounds retries of a failing texture creation before
// the slot is marked MaterializeFailed.
const maxMaterializeAttempts = 3

// ViewConfig shapes the render loop.
type ViewConfig struct {
	// TickInterval is the fixed render tick; zero means DefaultTickInterval.
	TickInterval time.Duration
	// ReleaseBuffers drops a slot's raw buffers once its textures exist,
	// bounding memory at the cost of re-materialization after texture loss.
	ReleaseBuffers bool
	// Clock is swappable for tests; nil means the wall clock.
	Clock clock.Clock
}

// View owns the navigation cursor and the render loop. Each tick it
// materializes the visible slot if its decode has finished and presents the
// result; it never blocks waiting on decode or materialization.
type View struct {
	table   *Table
	backend render.Backend
	decode  DecodeFunc
	nav     *NavCursor
	cfg     ViewConfig
	clock   clock.Clock
	logger  golog.Logger

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
	startOnce               sync.Once
	closeOnce               sync.Once
}

// NewView returns a view over the table. decode is used for foreground
// decodes when navigation lands on a slot the pool has not reached yet.
func NewView(table *Table, backend render.Backend, decode DecodeFunc, cfg ViewConfig, logger golog.Logger) *View {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	c := cfg.Clock
	if c == nil {
		c = clock.New()
	}
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	return &View{
		table:      table,
		backend:    backend,
		decode:     decode,
		nav:        NewNavCursor(table.Len()),
		cfg:        cfg,
		clock:      c,
		logger:     logger,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
}

// Pos returns the currently displayed index.
func (v *View) Pos() int {
	return v.nav.Pos()
}

// Advance moves to the next asset. If the pool has not reached the new index
// yet, the calling thread decodes it in the foreground so the visible slot is
// never permanently stuck pending.
func (v *View) Advance() int {
	idx := v.nav.Advance()
	v.ensureCovered(idx)
	return idx
}

// Retreat moves to the previous asset, with the same foreground-decode
// guarantee as Advance.
func (v *View) Retreat() int {
	idx := v.nav.Retreat()
	v.ensureCovered(idx)
	return idx
}

// ensureCovered claims and decodes idx on the calling thread when no worker
// owns it yet. The table's claim guard makes this safe against a racing pool
// worker.
func (v *View) ensureCovered(idx int) {
	if !v.table.BeginDecode(idx) {
		return
	}
	rec := v.table.Record(idx)
	v.logger.Debugw("foreground decode", "index", idx, "asset", rec.Base)
	buffers, err := v.decode(v.cancelCtx, rec)
	if err != nil {
		v.logger.Errorw("foreground decode failed", "index", idx, "asset", rec.Base, "error", err)
		v.table.FinishDecode(idx, nil, err)
		return
	}
	v.table.FinishDecode(idx, buffers, nil)
}

// Start runs the render loop at the configured tick rate until Close.
func (v *View) Start() {
	v.startOnce.Do(func() {
		v.activeBackgroundWorkers.Add(1)
		goutils.ManagedGo(func() {
			ticker := v.clock.Ticker(v.cfg.TickInterval)
			defer ticker.Stop()
			for {
				select {
				case <-v.cancelCtx.Done():
					return
				default:
				}
				select {
				case <-v.cancelCtx.Done():
					return
				case <-ticker.C:
					v.RenderOnce()
				}
			}
		}, v.activeBackgroundWorkers.Done)
	})
}

// RenderOnce materializes the visible slot if possible and presents it (or
// the placeholder). It runs on the render thread once per tick and never
// blocks on worker progress.
func (v *View) RenderOnce() {
	idx := v.nav.Pos()
	v.materialize(idx)
	if err := v.backend.Present(v.table.Textures(idx)); err != nil {
		v.logger.Errorw("present failed", "index", idx, "error", err)
	}
}

// materialize converts the slot's decoded buffers into textures exactly once.
// Invoking it on an already materialized slot is a no-op. A failed texture
// creation is logged and retried on a later frame (the decoded buffers are
// still valid) until the attempt budget is spent.
func (v *View) materialize(idx int) {
	if v.table.MaterializeState(idx) != NotMaterialized {
		return
	}
	buffers := v.table.DecodedBuffers(idx)
	if buffers == nil {
		return
	}
	textures := make([]render.Texture, 0, len(buffers))
	for _, buf := range buffers {
		tex, err := v.backend.CreateTexture(buf)
		if err != nil {
			for _, created := range textures {
				created.Release()
			}
			if v.table.NoteMaterializeFailure(idx, maxMaterializeAttempts) {
				v.logger.Errorw("materialization failed, will retry", "index", idx, "error", err)
			} else {
				v.logger.Errorw("materialization failed permanently", "index", idx, "error", err)
			}
			return
		}
		textures = append(textures, tex)
	}
	v.table.SetMaterialized(idx, textures, v.cfg.ReleaseBuffers)
}

// Close stops the render loop, joins it, then releases every resident
// texture and the backend. Callers must close the decode pool first so no
// worker is in flight during teardown.
func (v *View) Close(ctx context.Context) error {
	var err error
	v.closeOnce.Do(func() {
		v.cancelFunc()
		v.activeBackgroundWorkers.Wait()
		v.table.ReleaseTextures(func(tex render.Texture) { tex.Release() })
		err = v.backend.Close()
	})
	return err
}
