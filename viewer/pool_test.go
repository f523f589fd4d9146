package viewer

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/seqview/seqview/sequence"
)

func stubDecode(ctx context.Context, rec sequence.Record) ([]*image.NRGBA, error) {
	buffers := make([]*image.NRGBA, len(rec.Paths))
	for i := range buffers {
		buffers[i] = tinyBuffer()
	}
	return buffers, nil
}

func TestPoolEagerWindowAndQuiescence(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tbl := NewTable(makeRecords(25))
	pool := NewPool(tbl, stubDecode, PoolConfig{Workers: 4, EagerWindow: 10}, logger)

	// Before any pool tick, the eager window is fully decoded and nothing
	// beyond it has been touched.
	test.That(t, pool.PrimeEagerWindow(context.Background()), test.ShouldBeNil)
	for i := 0; i < 10; i++ {
		status, _ := tbl.DecodeState(i)
		test.That(t, status, test.ShouldEqual, Decoded)
	}
	for i := 10; i < 25; i++ {
		status, _ := tbl.DecodeState(i)
		test.That(t, status, test.ShouldEqual, DecodePending)
	}

	pool.Start()
	pool.Wait()

	// Quiescence: every slot has reached a terminal status.
	for i := 0; i < 25; i++ {
		status, _ := tbl.DecodeState(i)
		test.That(t, status, test.ShouldEqual, Decoded)
	}
	test.That(t, pool.Close(context.Background()), test.ShouldBeNil)
}

func TestPoolEagerWindowLargerThanSequence(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tbl := NewTable(makeRecords(5))
	pool := NewPool(tbl, stubDecode, PoolConfig{Workers: 2, EagerWindow: 10}, logger)

	test.That(t, pool.PrimeEagerWindow(context.Background()), test.ShouldBeNil)
	pool.Start()
	pool.Wait()
	for i := 0; i < 5; i++ {
		status, _ := tbl.DecodeState(i)
		test.That(t, status, test.ShouldEqual, Decoded)
	}
	test.That(t, pool.Close(context.Background()), test.ShouldBeNil)
}

func TestPoolDecodeFailureIsolated(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tbl := NewTable(makeRecords(8))
	decode := func(ctx context.Context, rec sequence.Record) ([]*image.NRGBA, error) {
		if rec.Index == 3 {
			return nil, errors.New("truncated file")
		}
		return stubDecode(ctx, rec)
	}
	pool := NewPool(tbl, decode, PoolConfig{Workers: 3, EagerWindow: 2}, logger)
	test.That(t, pool.PrimeEagerWindow(context.Background()), test.ShouldBeNil)
	pool.Start()
	pool.Wait()

	for i := 0; i < 8; i++ {
		status, err := tbl.DecodeState(i)
		if i == 3 {
			test.That(t, status, test.ShouldEqual, DecodeFailed)
			test.That(t, err.Error(), test.ShouldContainSubstring, "truncated file")
		} else {
			test.That(t, status, test.ShouldEqual, Decoded)
			test.That(t, err, test.ShouldBeNil)
		}
	}
	test.That(t, pool.Close(context.Background()), test.ShouldBeNil)
}

func TestPoolSingleDecoderPerSlot(t *testing.T) {
	logger := golog.NewTestLogger(t)
	const n = 40
	tbl := NewTable(makeRecords(n))

	// Count how many decoders are inside each slot at once; the claim guard
	// must keep it at one even with racing foreground claimants.
	var active sync.Map
	var violations int32
	decode := func(ctx context.Context, rec sequence.Record) ([]*image.NRGBA, error) {
		v, _ := active.LoadOrStore(rec.Index, new(int32))
		ctr := v.(*int32)
		if atomic.AddInt32(ctr, 1) > 1 {
			atomic.AddInt32(&violations, 1)
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(ctr, -1)
		return stubDecode(ctx, rec)
	}

	pool := NewPool(tbl, decode, PoolConfig{Workers: 8, EagerWindow: 1}, logger)
	test.That(t, pool.PrimeEagerWindow(context.Background()), test.ShouldBeNil)
	pool.Start()

	// Racing foreground decodes over the whole range, as navigation would
	// issue them.
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n; i++ {
				pool.decodeIndex(context.Background(), i)
			}
		}()
	}
	wg.Wait()
	pool.Wait()

	test.That(t, atomic.LoadInt32(&violations), test.ShouldEqual, 0)
	for i := 0; i < n; i++ {
		status, _ := tbl.DecodeState(i)
		test.That(t, status, test.ShouldEqual, Decoded)
	}
	test.That(t, pool.Close(context.Background()), test.ShouldBeNil)
}

func TestPoolCancellation(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tbl := NewTable(makeRecords(100))

	// Decodes park until cancelled, simulating slow I/O.
	decode := func(ctx context.Context, rec sequence.Record) ([]*image.NRGBA, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	pool := NewPool(tbl, decode, PoolConfig{Workers: 4, EagerWindow: -1}, logger)
	pool.Start()

	// Give the workers time to park inside their first claims.
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		test.That(t, pool.Close(context.Background()), test.ShouldBeNil)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not shut down after cancellation")
	}

	// The claims that were in flight finished with the cancellation reason;
	// nothing is left mid-decode.
	for i := 0; i < 100; i++ {
		status, _ := tbl.DecodeState(i)
		test.That(t, status, test.ShouldNotEqual, Decoding)
	}
}
