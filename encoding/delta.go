package encoding

import (
	"encoding/binary"
	"fmt"

	"github.com/uftkit/uft/errs"
	"github.com/uftkit/uft/internal/pool"
)

// IntervalDeltaEncoder compresses flux intervals with delta-of-delta, zigzag
// and varint encoding.
//
// Capture clocks tick at tens of MHz while the media's cell grid repeats a
// few interval lengths over and over, so consecutive deltas are small and
// delta-of-deltas are mostly near zero:
//   - First interval: full varint value
//   - Second interval: zigzag varint delta from the first
//   - Remaining intervals: zigzag varint delta-of-deltas
//
// Internal state:
//   - prev: previous interval for delta calculation
//   - prevDelta: previous delta for delta-of-delta calculation
//   - temp: reusable buffer for varint encoding (avoids allocations)
//   - buf: output buffer accumulating encoded data
//   - count: number of intervals encoded
type IntervalDeltaEncoder struct {
	prev      int64
	prevDelta int64
	temp      [binary.MaxVarintLen64]byte
	buf       *pool.ByteBuffer
	count     int
}

// NewIntervalDeltaEncoder creates an encoder backed by a pooled buffer.
// Call Finish to take the payload and release the buffer.
func NewIntervalDeltaEncoder() *IntervalDeltaEncoder {
	return &IntervalDeltaEncoder{buf: pool.GetTrackBuffer()}
}

// Write appends one interval.
func (e *IntervalDeltaEncoder) Write(interval uint32) {
	v := int64(interval)
	switch e.count {
	case 0:
		n := binary.PutUvarint(e.temp[:], uint64(v))
		e.buf.MustWrite(e.temp[:n])
	case 1:
		delta := v - e.prev
		n := binary.PutUvarint(e.temp[:], zigzagEncode(delta))
		e.buf.MustWrite(e.temp[:n])
		e.prevDelta = delta
	default:
		delta := v - e.prev
		n := binary.PutUvarint(e.temp[:], zigzagEncode(delta-e.prevDelta))
		e.buf.MustWrite(e.temp[:n])
		e.prevDelta = delta
	}
	e.prev = v
	e.count++
}

// WriteSlice appends all intervals in order.
func (e *IntervalDeltaEncoder) WriteSlice(intervals []uint32) {
	for _, interval := range intervals {
		e.Write(interval)
	}
}

// Count returns the number of intervals written so far.
func (e *IntervalDeltaEncoder) Count() int {
	return e.count
}

// Finish returns a copy of the encoded payload and resets the encoder for
// reuse.
func (e *IntervalDeltaEncoder) Finish() []byte {
	out := append([]byte(nil), e.buf.Bytes()...)
	pool.PutTrackBuffer(e.buf)
	e.buf = pool.GetTrackBuffer()
	e.prev, e.prevDelta, e.count = 0, 0, 0

	return out
}

// DecodeIntervalDeltas reverses IntervalDeltaEncoder for a known interval
// count. Truncated or overlong payloads, and deltas walking out of the
// uint32 range, are rejected.
func DecodeIntervalDeltas(data []byte, count int) ([]uint32, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: negative interval count", errs.ErrInvalidArgument)
	}
	if count == 0 {
		if len(data) != 0 {
			return nil, fmt.Errorf("%w: %d trailing bytes after 0 intervals",
				errs.ErrFormatMismatch, len(data))
		}

		return nil, nil
	}

	out := make([]uint32, 0, count)

	first, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, fmt.Errorf("%w: truncated first interval", errs.ErrTruncated)
	}
	data = data[n:]

	value := int64(first)
	if value > int64(^uint32(0)) {
		return nil, fmt.Errorf("%w: interval %d out of range", errs.ErrFormatMismatch, value)
	}
	out = append(out, uint32(value))

	var delta int64
	for i := 1; i < count; i++ {
		raw, n := binary.Uvarint(data)
		if n <= 0 {
			return nil, fmt.Errorf("%w: truncated at interval %d of %d",
				errs.ErrTruncated, i, count)
		}
		data = data[n:]

		if i == 1 {
			delta = zigzagDecode(raw)
		} else {
			delta += zigzagDecode(raw)
		}
		value += delta
		if value < 0 || value > int64(^uint32(0)) {
			return nil, fmt.Errorf("%w: interval %d out of range at index %d",
				errs.ErrFormatMismatch, value, i)
		}
		out = append(out, uint32(value))
	}

	if len(data) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after %d intervals",
			errs.ErrFormatMismatch, len(data), count)
	}

	return out, nil
}

func zigzagEncode(v int64) uint64 {
	return uint64(v<<1) ^ uint64(v>>63)
}

func zigzagDecode(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}
