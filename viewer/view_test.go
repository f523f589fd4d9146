package viewer

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/seqview/seqview/render"
	"github.com/seqview/seqview/sequence"
)

type fakeTexture struct {
	bounds   image.Rectangle
	released bool
}

func (f *fakeTexture) Bounds() image.Rectangle { return f.bounds }
func (f *fakeTexture) Release()                { f.released = true }

// fakeBackend records texture creation and presentation so tests can observe
// what the render loop did on each tick.
type fakeBackend struct {
	mu          sync.Mutex
	createCalls int
	failCreates int
	created     []*fakeTexture
	presented   [][]render.Texture
	closed      bool
}

func (f *fakeBackend) CreateTexture(img *image.NRGBA) (render.Texture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.failCreates > 0 {
		f.failCreates--
		return nil, errors.New("device lost")
	}
	tex := &fakeTexture{bounds: img.Bounds()}
	f.created = append(f.created, tex)
	return tex, nil
}

func (f *fakeBackend) Present(textures []render.Texture) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presented = append(f.presented, textures)
	return nil
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeBackend) lastPresented() []render.Texture {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.presented) == 0 {
		return nil
	}
	return f.presented[len(f.presented)-1]
}

func decodedTable(t *testing.T, n int) *Table {
	t.Helper()
	tbl := NewTable(makeRecords(n))
	for i := 0; i < n; i++ {
		test.That(t, tbl.BeginDecode(i), test.ShouldBeTrue)
		tbl.FinishDecode(i, []*image.NRGBA{tinyBuffer()}, nil)
	}
	return tbl
}

func TestMaterializeIdempotent(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tbl := decodedTable(t, 1)
	backend := &fakeBackend{}
	view := NewView(tbl, backend, stubDecode, ViewConfig{}, logger)

	view.RenderOnce()
	test.That(t, tbl.MaterializeState(0), test.ShouldEqual, Materialized)
	test.That(t, backend.createCalls, test.ShouldEqual, 1)
	first := tbl.Textures(0)[0]

	// Further ticks present the same handle without touching the backend.
	view.RenderOnce()
	view.RenderOnce()
	test.That(t, backend.createCalls, test.ShouldEqual, 1)
	test.That(t, tbl.Textures(0)[0], test.ShouldEqual, first)
	test.That(t, backend.lastPresented()[0], test.ShouldEqual, first)
}

func TestMaterializeRetryAfterFailure(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tbl := decodedTable(t, 1)
	backend := &fakeBackend{failCreates: 1}
	view := NewView(tbl, backend, stubDecode, ViewConfig{}, logger)

	// First tick fails texture creation; the buffers survive and the slot
	// stays eligible.
	view.RenderOnce()
	test.That(t, tbl.MaterializeState(0), test.ShouldEqual, NotMaterialized)
	test.That(t, tbl.DecodedBuffers(0), test.ShouldNotBeNil)

	// Next tick succeeds.
	view.RenderOnce()
	test.That(t, tbl.MaterializeState(0), test.ShouldEqual, Materialized)
	test.That(t, backend.createCalls, test.ShouldEqual, 2)
}

func TestMaterializePermanentFailure(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tbl := decodedTable(t, 1)
	backend := &fakeBackend{failCreates: maxMaterializeAttempts}
	view := NewView(tbl, backend, stubDecode, ViewConfig{}, logger)

	for i := 0; i < maxMaterializeAttempts; i++ {
		view.RenderOnce()
	}
	test.That(t, tbl.MaterializeState(0), test.ShouldEqual, MaterializeFailed)

	// A terminal failure stops consuming the backend.
	view.RenderOnce()
	test.That(t, backend.createCalls, test.ShouldEqual, maxMaterializeAttempts)
}

func TestMaterializePartialFailureReleases(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tbl := NewTable(makeRecords(1))
	test.That(t, tbl.BeginDecode(0), test.ShouldBeTrue)
	tbl.FinishDecode(0, []*image.NRGBA{tinyBuffer(), tinyBuffer()}, nil)

	// First texture succeeds, second fails: the orphaned first texture must
	// be released before the retry.
	backend := &fakeBackend{}
	view := NewView(tbl, &secondCreateFails{inner: backend}, stubDecode, ViewConfig{}, logger)
	view.RenderOnce()

	test.That(t, tbl.MaterializeState(0), test.ShouldEqual, NotMaterialized)
	test.That(t, len(backend.created), test.ShouldEqual, 1)
	test.That(t, backend.created[0].released, test.ShouldBeTrue)
}

// secondCreateFails wraps a backend and fails every second CreateTexture call.
type secondCreateFails struct {
	inner *fakeBackend
	calls int
}

func (s *secondCreateFails) CreateTexture(img *image.NRGBA) (render.Texture, error) {
	s.calls++
	if s.calls%2 == 0 {
		return nil, errors.New("device lost")
	}
	return s.inner.CreateTexture(img)
}

func (s *secondCreateFails) Present(textures []render.Texture) error {
	return s.inner.Present(textures)
}

func (s *secondCreateFails) Close() error { return s.inner.Close() }

func TestRenderPendingSlotPresentsPlaceholder(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tbl := NewTable(makeRecords(1))
	backend := &fakeBackend{}
	view := NewView(tbl, backend, stubDecode, ViewConfig{}, logger)

	// Nothing decoded yet: the tick presents an empty texture set and the
	// backend shows its placeholder.
	view.RenderOnce()
	test.That(t, backend.createCalls, test.ShouldEqual, 0)
	test.That(t, len(backend.presented), test.ShouldEqual, 1)
	test.That(t, len(backend.lastPresented()), test.ShouldEqual, 0)
}

func TestReleaseBuffersAfterMaterialize(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tbl := decodedTable(t, 1)
	backend := &fakeBackend{}
	view := NewView(tbl, backend, stubDecode, ViewConfig{ReleaseBuffers: true}, logger)

	view.RenderOnce()
	test.That(t, tbl.MaterializeState(0), test.ShouldEqual, Materialized)
	test.That(t, tbl.DecodedBuffers(0), test.ShouldBeNil)
}

func TestStereoMaterialization(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tbl := NewTable([]sequence.Record{{
		Index: 0,
		Base:  "0000000000",
		Paths: []string{"left/0000000000.png", "right/0000000000.png"},
	}})
	test.That(t, tbl.BeginDecode(0), test.ShouldBeTrue)
	tbl.FinishDecode(0, []*image.NRGBA{tinyBuffer(), tinyBuffer()}, nil)

	backend := &fakeBackend{}
	view := NewView(tbl, backend, stubDecode, ViewConfig{}, logger)
	view.RenderOnce()

	test.That(t, backend.createCalls, test.ShouldEqual, 2)
	test.That(t, len(backend.lastPresented()), test.ShouldEqual, 2)
}

func TestNavigationSaturation(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tbl := decodedTable(t, 3)
	backend := &fakeBackend{}
	view := NewView(tbl, backend, stubDecode, ViewConfig{}, logger)

	test.That(t, view.Pos(), test.ShouldEqual, 0)
	test.That(t, view.Retreat(), test.ShouldEqual, 0)
	test.That(t, view.Advance(), test.ShouldEqual, 1)
	test.That(t, view.Advance(), test.ShouldEqual, 2)
	test.That(t, view.Advance(), test.ShouldEqual, 2)
	test.That(t, view.Retreat(), test.ShouldEqual, 1)
}

func TestNavigationForegroundDecode(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tbl := NewTable(makeRecords(3))
	backend := &fakeBackend{}
	view := NewView(tbl, backend, stubDecode, ViewConfig{}, logger)

	// No pool running: landing on index 1 decodes it on the caller.
	view.Advance()
	status, _ := tbl.DecodeState(1)
	test.That(t, status, test.ShouldEqual, Decoded)

	// A slot a worker already finished is not re-decoded.
	view.Retreat()
	status, _ = tbl.DecodeState(0)
	test.That(t, status, test.ShouldEqual, Decoded)
}

func TestRenderLoopTicks(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tbl := decodedTable(t, 2)
	backend := &fakeBackend{}
	clk := clock.NewMock()
	view := NewView(tbl, backend, stubDecode, ViewConfig{Clock: clk}, logger)

	view.Start()
	// Let the loop install its ticker before advancing the mock clock.
	time.Sleep(20 * time.Millisecond)
	clk.Add(DefaultTickInterval)

	deadline := time.Now().Add(5 * time.Second)
	for {
		backend.mu.Lock()
		ticks := len(backend.presented)
		backend.mu.Unlock()
		if ticks >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("render loop never ticked")
		}
		time.Sleep(time.Millisecond)
	}

	test.That(t, view.Close(context.Background()), test.ShouldBeNil)
	test.That(t, backend.closed, test.ShouldBeTrue)
	for _, tex := range backend.created {
		test.That(t, tex.released, test.ShouldBeTrue)
	}
}
