package traffic

import "time"

// HistoryBucket is one tick's snapshot of every lane's windowed metrics.
type HistoryBucket struct {
	At    time.Time                    `json:"at"`
	Lanes map[LaneID]LaneWindowMetrics `json:"lanes"`
}

// HistoryBuffer is a fixed-capacity ring of HistoryBuckets spanning the
// configured display duration. Append is O(1); once full, the oldest
// bucket is overwritten. Capacity is duration ÷ tick interval, so the
// buffer length can never exceed that bound.
type HistoryBuffer struct {
	buf   []HistoryBucket
	start int
	n     int
}

// NewHistoryBuffer allocates a ring holding capacity buckets.
func NewHistoryBuffer(capacity int) *HistoryBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &HistoryBuffer{buf: make([]HistoryBucket, capacity)}
}

// Append stores a bucket, evicting the oldest when full.
func (h *HistoryBuffer) Append(b HistoryBucket) {
	idx := (h.start + h.n) % len(h.buf)
	h.buf[idx] = b
	if h.n < len(h.buf) {
		h.n++
	} else {
		h.start = (h.start + 1) % len(h.buf)
	}
}

// Snapshot returns the retained buckets oldest-first.
func (h *HistoryBuffer) Snapshot() []HistoryBucket {
	out := make([]HistoryBucket, h.n)
	for i := 0; i < h.n; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Len returns the number of retained buckets.
func (h *HistoryBuffer) Len() int { return h.n }

// Cap returns the fixed capacity.
func (h *HistoryBuffer) Cap() int { return len(h.buf) }
