// Package flux holds raw flux-interval captures and the software PLL that
// turns them into clocked bits.
//
// A Flux value is a sequence of intervals between magnetic transitions, in
// ticks of the capture clock (24MHz for most modern capture hardware), with
// optional per-revolution index offsets. The Decoder recovers a bitstream
// from it; the Merger consolidates several revolutions of the same track
// into one consensus bitstream with per-bit confidence.
package flux

import (
	"fmt"
	"iter"
	"math"

	"github.com/uftkit/uft/bitstream"
	"github.com/uftkit/uft/errs"
	"github.com/uftkit/uft/internal/hash"
)

// Flux is one capture of a track: flux intervals in sample-rate ticks.
type Flux struct {
	// Intervals between successive flux transitions, in ticks.
	Intervals []uint32
	// SampleRateHz is the capture clock, e.g. 24000000.
	SampleRateHz uint32
	// IndexOffsets, when present, holds the interval index at which each
	// revolution starts. Captures without an index sensor leave it nil.
	IndexOffsets []uint32
	// RevolutionCount is the number of full rotations captured.
	RevolutionCount uint8
}

// Validate checks structural consistency of the capture.
func (f *Flux) Validate() error {
	if f.SampleRateHz == 0 {
		return fmt.Errorf("%w: zero sample rate", errs.ErrInvalidArgument)
	}
	if f.IndexOffsets != nil {
		if len(f.IndexOffsets) != int(f.RevolutionCount) {
			return fmt.Errorf("%w: %d index offsets for %d revolutions",
				errs.ErrInvalidArgument, len(f.IndexOffsets), f.RevolutionCount)
		}
		for i, off := range f.IndexOffsets {
			if int(off) > len(f.Intervals) {
				return fmt.Errorf("%w: index offset %d beyond %d intervals",
					errs.ErrInvalidArgument, off, len(f.Intervals))
			}
			if i > 0 && off < f.IndexOffsets[i-1] {
				return fmt.Errorf("%w: index offsets not monotone", errs.ErrInvalidArgument)
			}
		}
	}

	return nil
}

// All returns a restartable iterator over the intervals.
func (f *Flux) All() iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		for _, interval := range f.Intervals {
			if !yield(interval) {
				return
			}
		}
	}
}

// Revolution returns the interval slice for revolution i. Without index
// offsets the whole capture counts as revolution 0.
func (f *Flux) Revolution(i int) []uint32 {
	if f.IndexOffsets == nil {
		if i == 0 {
			return f.Intervals
		}

		return nil
	}
	if i < 0 || i >= len(f.IndexOffsets) {
		return nil
	}

	start := int(f.IndexOffsets[i])
	end := len(f.Intervals)
	if i+1 < len(f.IndexOffsets) {
		end = int(f.IndexOffsets[i+1])
	}

	return f.Intervals[start:end]
}

// TickNs returns the duration of one capture tick in nanoseconds.
func (f *Flux) TickNs() float64 {
	return 1e9 / float64(f.SampleRateHz)
}

// DurationNs returns the total capture duration in nanoseconds.
func (f *Flux) DurationNs() float64 {
	var ticks uint64
	for _, interval := range f.Intervals {
		ticks += uint64(interval)
	}

	return float64(ticks) * f.TickNs()
}

// Fingerprint returns an xxHash64 over the interval payload, used for
// duplicate-revolution detection and lineage tracking.
func (f *Flux) Fingerprint() uint64 {
	buf := make([]byte, 0, len(f.Intervals)*4)
	for _, interval := range f.Intervals {
		buf = append(buf,
			byte(interval), byte(interval>>8), byte(interval>>16), byte(interval>>24))
	}

	return hash.Fingerprint(buf)
}

// Clone returns a deep copy of the capture.
func (f *Flux) Clone() *Flux {
	out := &Flux{
		Intervals:       append([]uint32(nil), f.Intervals...),
		SampleRateHz:    f.SampleRateHz,
		RevolutionCount: f.RevolutionCount,
	}
	if f.IndexOffsets != nil {
		out.IndexOffsets = append([]uint32(nil), f.IndexOffsets...)
	}

	return out
}

// Synthesize builds a flux capture from a bitstream, one transition per
// one-bit at the stream's nominal cell period. The result is a clean-room
// reconstruction: no jitter, no weak bits, exactly one revolution. Callers
// storing it into a track IR must tag the layer synthetic.
func Synthesize(b *bitstream.Bitstream, sampleRateHz uint32) (*Flux, error) {
	if b == nil || b.BitCount == 0 {
		return nil, fmt.Errorf("%w: empty bitstream", errs.ErrInvalidArgument)
	}
	if sampleRateHz == 0 {
		return nil, fmt.Errorf("%w: zero sample rate", errs.ErrInvalidArgument)
	}

	ticksPerCell := float64(b.CellNs) * float64(sampleRateHz) / 1e9

	out := &Flux{
		SampleRateHz:    sampleRateHz,
		RevolutionCount: 1,
		IndexOffsets:    []uint32{0},
	}

	// Emit rounded tick deltas against a float cell accumulator so the
	// synthesized stream has no cumulative rounding drift.
	totalCells := 0
	emittedTicks := 0.0
	for i := 0; i < b.BitCount; i++ {
		totalCells++
		if b.Bit(i) == 1 {
			target := float64(totalCells) * ticksPerCell
			interval := uint32(math.Round(target - emittedTicks))
			out.Intervals = append(out.Intervals, interval)
			emittedTicks += float64(interval)
		}
	}
	// Trailing zero bits produce no final transition; that matches real
	// media, where the next index pulse ends the revolution.

	return out, nil
}
