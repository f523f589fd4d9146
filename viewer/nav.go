package viewer

import "sync/atomic"

// NavCursor is the currently displayed index, bounded to [0, N). Advance and
// Retreat saturate at the bounds. Movement may be requested from the input
// layer while the render thread reads the position, so the position is
// atomic.
type NavCursor struct {
	n   int64
	pos int64
}

// NewNavCursor returns a cursor over a sequence of length n, positioned at 0.
func NewNavCursor(n int) *NavCursor {
	return &NavCursor{n: int64(n)}
}

// Pos returns the current index.
func (c *NavCursor) Pos() int {
	return int(atomic.LoadInt64(&c.pos))
}

// Advance moves forward one index, saturating at N-1, and returns the new
// position.
func (c *NavCursor) Advance() int {
	for {
		cur := atomic.LoadInt64(&c.pos)
		next := cur + 1
		if next >= c.n {
			return int(cur)
		}
		if atomic.CompareAndSwapInt64(&c.pos, cur, next) {
			return int(next)
		}
	}
}

// Retreat moves back one index, saturating at 0, and returns the new
// position.
func (c *NavCursor) Retreat() int {
	for {
		cur := atomic.LoadInt64(&c.pos)
		if cur == 0 {
			return 0
		}
		if atomic.CompareAndSwapInt64(&c.pos, cur, cur-1) {
			return int(cur - 1)
		}
	}
}
