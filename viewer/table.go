package viewer

import (
	"image"
	"sync"

	"github.com/seqview/seqview/render"
	"github.com/seqview/seqview/sequence"
)

// slot is the per-index record tracking one asset's decode and
// materialization lifecycle. Decode fields are written by whichever thread
// wins the claim; materialize fields are written only by the render thread.
// The mutex publishes buffers together with the status transition, so any
// reader observing Decoded also observes the fully written buffers.
type slot struct {
	mu sync.Mutex

	decodeStatus DecodeStatus
	decodeErr    error
	buffers      []*image.NRGBA

	matStatus   MaterializeStatus
	matAttempts int
	textures    []render.Texture
}

// Table is the shared asset table: the single synchronization point between
// the decode workers and the render thread. It performs no eviction; memory
// is bounded by the sequence cap, not at runtime.
type Table struct {
	records []sequence.Record
	slots   []slot
}

// NewTable sizes the slot array to the asset index. Records are read-only
// from here on.
func NewTable(records []sequence.Record) *Table {
	return &Table{
		records: records,
		slots:   make([]slot, len(records)),
	}
}

// Len returns the sequence length N.
func (t *Table) Len() int {
	return len(t.records)
}

// Record returns the immutable asset record at index i.
func (t *Table) Record(i int) sequence.Record {
	return t.records[i]
}

// BeginDecode transitions slot i from Pending to Decoding and reports whether
// the caller now owns the decode. It returns false when the slot is already
// being decoded or has reached a terminal status, so racing claimants (the
// eager window, the pool, a foreground navigation decode) never decode the
// same slot twice.
func (t *Table) BeginDecode(i int) bool {
	s := &t.slots[i]
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.decodeStatus != DecodePending {
		return false
	}
	s.decodeStatus = Decoding
	return true
}

// FinishDecode publishes the result of a decode owned via BeginDecode. With a
// nil error the buffers become visible together with the Decoded status; with
// an error the slot becomes Failed and retains the reason.
func (t *Table) FinishDecode(i int, buffers []*image.NRGBA, err error) {
	s := &t.slots[i]
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.decodeStatus != Decoding {
		return
	}
	if err != nil {
		s.decodeStatus = DecodeFailed
		s.decodeErr = err
		return
	}
	s.buffers = buffers
	s.decodeStatus = Decoded
}

// DecodeState returns the slot's decode status and, for failed slots, the
// retained reason.
func (t *Table) DecodeState(i int) (DecodeStatus, error) {
	s := &t.slots[i]
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decodeStatus, s.decodeErr
}

// DecodedBuffers returns the slot's raw buffers, or nil when the slot is not
// Decoded or its buffers were released after materialization.
func (t *Table) DecodedBuffers(i int) []*image.NRGBA {
	s := &t.slots[i]
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.decodeStatus != Decoded {
		return nil
	}
	return s.buffers
}

// MaterializeState returns the slot's materialization status.
func (t *Table) MaterializeState(i int) MaterializeStatus {
	s := &t.slots[i]
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matStatus
}

// Textures returns the slot's resident textures, or nil when not
// materialized.
func (t *Table) Textures(i int) []render.Texture {
	s := &t.slots[i]
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.matStatus != Materialized {
		return nil
	}
	return s.textures
}

// SetMaterialized stores the slot's textures exactly once. When
// releaseBuffers is set the raw buffers are dropped to bound memory;
// retaining them instead allows cheap re-materialization if the textures are
// ever lost.
func (t *Table) SetMaterialized(i int, textures []render.Texture, releaseBuffers bool) {
	s := &t.slots[i]
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.matStatus != NotMaterialized {
		return
	}
	s.textures = textures
	s.matStatus = Materialized
	if releaseBuffers {
		s.buffers = nil
	}
}

// NoteMaterializeFailure counts one failed texture creation attempt and
// reports whether the slot should still be retried on a later frame.
func (t *Table) NoteMaterializeFailure(i, maxAttempts int) bool {
	s := &t.slots[i]
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.matStatus != NotMaterialized {
		return false
	}
	s.matAttempts++
	if s.matAttempts >= maxAttempts {
		s.matStatus = MaterializeFailed
		return false
	}
	return true
}

// ReleaseTextures hands every resident texture to release and clears the
// table's references. Render thread only, after all workers have been joined.
func (t *Table) ReleaseTextures(release func(render.Texture)) {
	for i := range t.slots {
		s := &t.slots[i]
		s.mu.Lock()
		textures := s.textures
		s.textures = nil
		s.mu.Unlock()
		for _, tex := range textures {
			release(tex)
		}
	}
}
