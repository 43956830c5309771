package timing

import (
	"fmt"
	"math"
	"sort"

	"github.com/uftkit/uft/bitstream"
	"github.com/uftkit/uft/errs"
	"github.com/uftkit/uft/flux"
	"github.com/uftkit/uft/format"
	"github.com/uftkit/uft/internal/options"
)

// minRegionBits filters out single-interval jitter from the region table.
const minRegionBits = 4

// syncRunBits is the 1-cell run length past which a sync region is emitted.
const syncRunBits = 1024

// Recorder derives a TrackTiming overlay from a flux capture by quantizing
// each interval against the encoding's nominal cell and recording the
// per-cell deviation.
type Recorder struct {
	resolutionNs uint8
	thresholdPct int
	preserveAll  bool
	preserveAnom bool
	maxEntries   int
}

// RecorderOption configures a Recorder.
type RecorderOption = options.Option[*Recorder]

// WithResolution sets the delta quantum in nanoseconds.
func WithResolution(ns uint8) RecorderOption {
	return options.New(func(r *Recorder) error {
		if ns == 0 {
			return fmt.Errorf("%w: zero timing resolution", errs.ErrInvalidArgument)
		}
		r.resolutionNs = ns

		return nil
	})
}

// WithAnomalyThreshold sets the cell-delta percentage past which an interval
// counts as anomalous.
func WithAnomalyThreshold(pct int) RecorderOption {
	return options.New(func(r *Recorder) error {
		if pct <= 0 || pct >= 100 {
			return fmt.Errorf("%w: anomaly threshold %d%% out of range", errs.ErrInvalidArgument, pct)
		}
		r.thresholdPct = pct

		return nil
	})
}

// WithPreserveAll records a dense entry for every interval, not just the
// anomalous ones. Memory-hungry; meant for protection dumps and debugging.
func WithPreserveAll(enabled bool) RecorderOption {
	return options.NoError(func(r *Recorder) { r.preserveAll = enabled })
}

// WithPreserveAnomalies enables or disables dense entries for anomalous
// intervals. Off, the overlay carries regions only.
func WithPreserveAnomalies(enabled bool) RecorderOption {
	return options.NoError(func(r *Recorder) { r.preserveAnom = enabled })
}

// WithMaxEntries lowers the dense entry quota below the MaxEntries default.
func WithMaxEntries(n int) RecorderOption {
	return options.New(func(r *Recorder) error {
		if n <= 0 || n > MaxEntries {
			return fmt.Errorf("%w: entry quota %d out of range", errs.ErrInvalidArgument, n)
		}
		r.maxEntries = n

		return nil
	})
}

// NewRecorder creates a Recorder. Defaults: 10ns resolution, 15% anomaly
// threshold, anomalies preserved, full entry quota.
func NewRecorder(opts ...RecorderOption) (*Recorder, error) {
	r := &Recorder{
		resolutionNs: DefaultResolutionNs,
		thresholdPct: DefaultAnomalyThresholdPct,
		preserveAnom: true,
		maxEntries:   MaxEntries,
	}
	if err := options.Apply(r, opts...); err != nil {
		return nil, err
	}

	return r, nil
}

// regionAccum collects running stats for an open region.
type regionAccum struct {
	open     bool
	startBit uint32
	count    int
	mean     float64
	m2       float64
	maxDev   float64
}

func (a *regionAccum) add(deltaNs float64) {
	a.count++
	d := deltaNs - a.mean
	a.mean += d / float64(a.count)
	a.m2 += d * (deltaNs - a.mean)
	if math.Abs(deltaNs) > a.maxDev {
		a.maxDev = math.Abs(deltaNs)
	}
}

func (a *regionAccum) close(t *TrackTiming, endBit uint32, kind format.RegionKind) {
	if a.open && endBit-a.startBit >= minRegionBits {
		variance := 0.0
		if a.count > 1 {
			variance = a.m2 / float64(a.count-1)
		}
		t.Regions = append(t.Regions, Region{
			StartBit:       a.startBit,
			EndBit:         endBit,
			Kind:           kind,
			ExpectedCellNs: t.NominalCellNs,
			MeanDeltaNs:    clampI16(math.Round(a.mean)),
			VarianceNs:     uint32(math.Min(variance, math.MaxUint32)),
			MaxDeviationNs: clampU16(math.Round(a.maxDev)),
		})
	}
	*a = regionAccum{}
}

// Record builds a timing overlay from revolution 0 of a capture. Each
// interval is quantized to whole nominal cells; the residual, spread over
// the interval's cells, becomes the recorded deviation.
func (r *Recorder) Record(f *flux.Flux, track uint16, side uint8, encoding format.Encoding) (*TrackTiming, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil flux", errs.ErrInvalidArgument)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	intervals := f.Revolution(0)
	if len(intervals) == 0 {
		return nil, fmt.Errorf("%w: capture has no intervals", errs.ErrInvalidArgument)
	}

	nominal := float64(encoding.NominalCellNs())
	tick := f.TickNs()
	thresholdNs := nominal * float64(r.thresholdPct) / 100

	t := NewTrackTiming(track, side, uint16(encoding.NominalCellNs()), 0)
	t.ResolutionNs = r.resolutionNs

	var (
		bitPos  uint32
		totalNs float64
		anom    regionAccum
		syncRun uint32
	)

	flushSync := func(endBit uint32) {
		if syncRun > syncRunBits {
			t.Regions = append(t.Regions, Region{
				StartBit:       endBit - syncRun,
				EndBit:         endBit,
				Kind:           format.RegionSync,
				ExpectedCellNs: t.NominalCellNs,
			})
		}
		syncRun = 0
	}

	for _, interval := range intervals {
		ns := float64(interval) * tick
		totalNs += ns

		cells := int(math.Round(ns / nominal))
		if cells < 1 {
			cells = 1
		}
		deltaNs := (ns - float64(cells)*nominal) / float64(cells)
		anomalous := math.Abs(deltaNs) > thresholdNs

		if cells == 1 {
			syncRun++
		} else {
			flushSync(bitPos)
		}

		if anomalous {
			if !anom.open {
				anom = regionAccum{open: true, startBit: bitPos}
			}
			anom.add(deltaNs)
		} else {
			anom.close(t, bitPos, format.RegionAnomaly)
		}

		if r.preserveAll || (r.preserveAnom && anomalous) {
			flags := FlagNormal
			if anomalous {
				flags |= FlagAnomaly
			}
			if len(t.Entries) < r.maxEntries && len(t.Entries) < MaxEntries {
				t.AddEntry(Entry{
					BitOffset: uint16(bitPos & 0xFFFF),
					DeltaRes:  clampI8(math.Round(deltaNs / float64(r.resolutionNs))),
					Flags:     flags,
				})
			}
		}

		bitPos += uint32(cells)
	}

	anom.close(t, bitPos, format.RegionAnomaly)
	flushSync(bitPos)

	// Sync and anomaly regions close at different points; restore the
	// strictly increasing span order.
	sort.Slice(t.Regions, func(i, j int) bool {
		return t.Regions[i].StartBit < t.Regions[j].StartBit
	})

	t.RevolutionNs = uint32(math.Min(totalNs, math.MaxUint32))

	return t, nil
}

// markWeakRuns appends one weak region per run in the bitstream's weak
// mask. Runs shorter than minRegionBits are dropped.
func (t *TrackTiming) markWeakRuns(b *bitstream.Bitstream) bool {
	added := false
	runStart := -1
	for i := 0; i <= b.BitCount; i++ {
		weak := i < b.BitCount && b.Weak(i)
		if weak && runStart < 0 {
			runStart = i
		}
		if !weak && runStart >= 0 {
			if i-runStart >= minRegionBits {
				t.Regions = append(t.Regions, Region{
					StartBit:       uint32(runStart),
					EndBit:         uint32(i),
					Kind:           format.RegionWeak,
					ExpectedCellNs: t.NominalCellNs,
				})
				added = true
			}
			runStart = -1
		}
	}

	return added
}

// MarkWeakRegions merges the bitstream's weak runs into the overlay's
// region table, keeping the spans ordered by start bit.
func MarkWeakRegions(t *TrackTiming, b *bitstream.Bitstream) {
	if t == nil || b == nil {
		return
	}

	if !t.markWeakRuns(b) {
		return
	}

	// Weak runs interleave with the flux-derived anomaly and sync spans.
	sort.SliceStable(t.Regions, func(i, j int) bool {
		return t.Regions[i].StartBit < t.Regions[j].StartBit
	})
}

func clampI8(v float64) int8 {
	if v > math.MaxInt8 {
		return math.MaxInt8
	}
	if v < math.MinInt8 {
		return math.MinInt8
	}

	return int8(v)
}

func clampI16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}

	return int16(v)
}

func clampU16(v float64) uint16 {
	if v > math.MaxUint16 {
		return math.MaxUint16
	}
	if v < 0 {
		return 0
	}

	return uint16(v)
}
