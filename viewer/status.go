// Package viewer implements the progressive-loading pipeline: a shared asset
// table populated by a bounded decode worker pool and drained by a
// render-thread materializer.
package viewer

// DecodeStatus tracks an asset's decode lifecycle. Transitions are forward
// only: Pending -> Decoding -> Decoded or Failed.
type DecodeStatus int

const (
	// DecodePending means no decode has been claimed yet.
	DecodePending DecodeStatus = iota
	// Decoding means exactly one worker owns the decode right now.
	Decoding
	// Decoded means the slot holds the fully written buffers.
	Decoded
	// DecodeFailed means the decode errored; the slot retains the reason and
	// is never retried.
	DecodeFailed
)

func (s DecodeStatus) String() string {
	switch s {
	case DecodePending:
		return "pending"
	case Decoding:
		return "decoding"
	case Decoded:
		return "decoded"
	case DecodeFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether the status can no longer change.
func (s DecodeStatus) Terminal() bool {
	return s == Decoded || s == DecodeFailed
}

// MaterializeStatus tracks conversion of decoded buffers into textures.
// Transitions are forward only: NotMaterialized -> Materialized or
// MaterializeFailed.
type MaterializeStatus int

const (
	// NotMaterialized means no texture exists yet for the slot.
	NotMaterialized MaterializeStatus = iota
	// Materialized means the slot's textures are resident and drawable.
	Materialized
	// MaterializeFailed means texture creation failed repeatedly and is no
	// longer attempted.
	MaterializeFailed
)

func (s MaterializeStatus) String() string {
	switch s {
	case NotMaterialized:
		return "not_materialized"
	case Materialized:
		return "materialized"
	case MaterializeFailed:
		return "failed"
	}
	return "unknown"
}
