package viewer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/edaniels/golog"
	goutils "go.viam.com/utils"
)

// Default pool shape, matching the interactive viewers this pipeline serves:
// enough workers to keep disk and CPU busy, and a small eager window so the
// first frames are on screen with zero latency.
const (
	DefaultWorkers     = 4
	DefaultEagerWindow = 10
)

// PoolConfig shapes the decode worker pool. Zero values take defaults.
type PoolConfig struct {
	// Workers is the fixed number of background decode workers.
	Workers int
	// EagerWindow is the number of leading indices decoded synchronously
	// before the pool starts.
	EagerWindow int
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.EagerWindow < 0 {
		c.EagerWindow = 0
	} else if c.EagerWindow == 0 {
		c.EagerWindow = DefaultEagerWindow
	}
	return c
}

// Pool is the fixed set of background workers that claim indices off a shared
// monotonic counter and populate the asset table. Completion order across
// indices is unspecified; the only guarantee is that every index eventually
// reaches a terminal decode status.
type Pool struct {
	table  *Table
	decode DecodeFunc
	cfg    PoolConfig
	logger golog.Logger

	// cursor is the shared claim counter: ownership of "next index to
	// decode" is determined solely by atomically incrementing it.
	cursor int64

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup

	startOnce sync.Once
}

// NewPool returns a pool over the table. Nothing runs until PrimeEagerWindow
// and Start are called.
func NewPool(table *Table, decode DecodeFunc, cfg PoolConfig, logger golog.Logger) *Pool {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	return &Pool{
		table:      table,
		decode:     decode,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
}

// decodeIndex claims and decodes one slot; it is a no-op when another
// claimant already owns or finished the slot.
func (p *Pool) decodeIndex(ctx context.Context, i int) {
	if !p.table.BeginDecode(i) {
		return
	}
	rec := p.table.Record(i)
	buffers, err := p.decode(ctx, rec)
	if err != nil {
		p.logger.Errorw("decode failed", "index", i, "asset", rec.Base, "error", err)
		p.table.FinishDecode(i, nil, err)
		return
	}
	p.table.FinishDecode(i, buffers, nil)
}

// PrimeEagerWindow synchronously decodes the first EagerWindow indices on the
// calling thread so the initial view is available with zero latency, then
// positions the claim counter past them so the pool does not reclaim the
// range.
func (p *Pool) PrimeEagerWindow(ctx context.Context) error {
	k := p.cfg.EagerWindow
	if n := p.table.Len(); k > n {
		k = n
	}
	for i := 0; i < k; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.decodeIndex(ctx, i)
	}
	atomic.StoreInt64(&p.cursor, int64(k))
	p.logger.Debugw("eager window primed", "window", k, "assets", p.table.Len())
	return nil
}

// Start spawns the worker routines. Each worker loops: claim the next index;
// exit when the sequence is exhausted or the pool is cancelled.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		n := int64(p.table.Len())
		for w := 0; w < p.cfg.Workers; w++ {
			p.activeBackgroundWorkers.Add(1)
			goutils.ManagedGo(func() {
				for {
					if p.cancelCtx.Err() != nil {
						return
					}
					i := atomic.AddInt64(&p.cursor, 1) - 1
					if i >= n {
						return
					}
					p.decodeIndex(p.cancelCtx, int(i))
				}
			}, p.activeBackgroundWorkers.Done)
		}
		p.logger.Debugw("decode pool started", "workers", p.cfg.Workers, "assets", n)
	})
}

// Wait blocks until every worker has exited, which happens once all claims
// are exhausted (quiescence) or the pool is closed.
func (p *Pool) Wait() {
	p.activeBackgroundWorkers.Wait()
}

// Close cancels the pool and joins every worker. Workers observe the
// cancellation between claims, so Close returns within one pending decode.
// Table teardown is safe once Close has returned.
func (p *Pool) Close(ctx context.Context) error {
	p.cancelFunc()
	p.activeBackgroundWorkers.Wait()
	return nil
}
