package flux

import (
	"context"
	"fmt"
	"math"

	"github.com/uftkit/uft/bitstream"
	"github.com/uftkit/uft/errs"
	"github.com/uftkit/uft/format"
	"github.com/uftkit/uft/internal/options"
)

// Default PLL gains. The frequency gain pulls the tracked clock toward the
// observed interval residual; the phase gain absorbs one-shot jitter without
// disturbing the clock.
const (
	DefaultFreqGain  = 0.05
	DefaultPhaseGain = 0.60

	// clockClampPct bounds the tracked clock to +/-20% of nominal.
	clockClampPct = 0.20

	// maxPeriods saturates the per-interval cell count; longer intervals
	// count as resync events.
	maxPeriods = 8
)

// Result is the outcome of one flux decode: the recovered bitstream plus
// quality accounting.
type Result struct {
	Bits *bitstream.Bitstream

	WeakBitCount int
	// ErrorCount counts resync events (intervals saturating at maxPeriods).
	ErrorCount int
	// Confidence is 0..100; it folds together encoding-detection certainty
	// and the weak/resync ratios.
	Confidence int
	// Partial is set when decoding was cancelled mid-stream; partial
	// results must not be committed into a track IR.
	Partial bool

	Warnings errs.Warnings
}

// Decoder converts flux intervals to clocked bits. Each Decoder carries its
// own PLL state and is re-entrant across calls but not safe for concurrent
// use; decode different tracks with different Decoders.
type Decoder struct {
	usePLL     bool
	freqGain   float64
	phaseGain  float64
	detect     bool
	hint       format.Encoding
	sampleRate uint32 // overrides the capture's rate when non-zero (testing)
}

// Option configures a Decoder.
type Option = options.Option[*Decoder]

// WithPLL enables or disables clock adaptation. With the PLL off, intervals
// are quantized against the fixed nominal clock.
func WithPLL(enabled bool) Option {
	return options.NoError(func(d *Decoder) { d.usePLL = enabled })
}

// WithPLLGains overrides the default frequency and phase gains.
func WithPLLGains(freqGain, phaseGain float64) Option {
	return options.New(func(d *Decoder) error {
		if freqGain <= 0 || freqGain >= 1 || phaseGain < 0 || phaseGain >= 1 {
			return fmt.Errorf("%w: pll gains %.3f/%.3f out of range", errs.ErrInvalidArgument, freqGain, phaseGain)
		}
		d.freqGain = freqGain
		d.phaseGain = phaseGain

		return nil
	})
}

// WithEncodingDetection enables or disables histogram auto-detection.
func WithEncodingDetection(enabled bool) Option {
	return options.NoError(func(d *Decoder) { d.detect = enabled })
}

// WithEncodingHint sets the encoding to assume when detection is disabled
// or inconclusive.
func WithEncodingHint(encoding format.Encoding) Option {
	return options.NoError(func(d *Decoder) { d.hint = encoding })
}

// NewDecoder creates a flux decoder. Defaults: PLL on with gains 0.05/0.60,
// encoding auto-detection on.
func NewDecoder(opts ...Option) (*Decoder, error) {
	d := &Decoder{
		usePLL:    true,
		freqGain:  DefaultFreqGain,
		phaseGain: DefaultPhaseGain,
		detect:    true,
	}
	if err := options.Apply(d, opts...); err != nil {
		return nil, err
	}

	return d, nil
}

// Decode converts a whole capture into a bitstream.
//
// On cancellation it returns both the partial result (Partial set) and an
// error wrapping errs.ErrInvalidState.
func (d *Decoder) Decode(ctx context.Context, f *Flux) (*Result, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil flux", errs.ErrInvalidArgument)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if len(f.Intervals) == 0 {
		return nil, fmt.Errorf("%w: empty flux stream", errs.ErrNoSync)
	}

	encoding, detectConf := d.resolveEncoding(f)

	return d.decodeIntervals(ctx, f.Intervals, f.TickNs(), encoding, detectConf)
}

// DecodeRevolution decodes a single revolution of a multi-revolution
// capture. Encoding detection still runs over the whole capture, which has
// the better histogram statistics.
func (d *Decoder) DecodeRevolution(ctx context.Context, f *Flux, rev int) (*Result, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil flux", errs.ErrInvalidArgument)
	}
	intervals := f.Revolution(rev)
	if len(intervals) == 0 {
		return nil, fmt.Errorf("%w: revolution %d has no intervals", errs.ErrNoSync, rev)
	}

	encoding, detectConf := d.resolveEncoding(f)

	return d.decodeIntervals(ctx, intervals, f.TickNs(), encoding, detectConf)
}

func (d *Decoder) resolveEncoding(f *Flux) (format.Encoding, int) {
	if !d.detect {
		if d.hint != format.EncodingUnknown {
			return d.hint, 95
		}

		return format.EncodingUnknown, 20
	}

	encoding, conf := DetectEncoding(f)
	if encoding == format.EncodingUnknown && d.hint != format.EncodingUnknown {
		// Proceed with the configured hint at reduced confidence.
		return d.hint, 50
	}

	return encoding, conf
}

func (d *Decoder) decodeIntervals(
	ctx context.Context, intervals []uint32, tickNs float64,
	encoding format.Encoding, detectConf int,
) (*Result, error) {
	nominal := float64(encoding.NominalCellNs())

	res := &Result{
		Bits: bitstream.New(len(intervals)*4, encoding.NominalCellNs(), encoding),
	}
	if encoding == format.EncodingUnknown {
		res.Warnings.Add("encoding detection inconclusive, assuming MFM cell timing")
	}

	clock := nominal
	clockLo := nominal * (1 - clockClampPct)
	clockHi := nominal * (1 + clockClampPct)
	phase := 0.0
	warnedLo, warnedHi := false, false

	for _, interval := range intervals {
		if err := ctx.Err(); err != nil {
			res.Partial = true
			res.Bits.SyncWeakMask()
			d.score(res, len(intervals), detectConf)

			return res, fmt.Errorf("%w: flux decode cancelled at bit %d: %v",
				errs.ErrInvalidState, res.Bits.BitCount, err)
		}

		ns := float64(interval)*tickNs - phase

		periods := int(math.Round(ns / clock))
		if periods < 1 {
			periods = 1
		}
		saturated := periods > maxPeriods
		if saturated {
			periods = maxPeriods
			res.ErrorCount++
		}

		for i := 0; i < periods-1; i++ {
			res.Bits.AppendBit(0)
		}
		res.Bits.AppendBit(1)

		residual := ns - float64(periods)*clock

		// An interval landing more than half a cell off its grid point
		// decoded to an unreliable bit.
		if math.Abs(residual) > clock/2 {
			res.Bits.SetWeak(res.Bits.BitCount - 1)
			res.WeakBitCount++
		}

		if d.usePLL {
			clock += residual * d.freqGain
			if clock < clockLo {
				clock = clockLo
				if !warnedLo {
					res.Warnings.Add("pll clock clamped at -20% of nominal")
					warnedLo = true
				}
			} else if clock > clockHi {
				clock = clockHi
				if !warnedHi {
					res.Warnings.Add("pll clock clamped at +20% of nominal")
					warnedHi = true
				}
			}
			phase = residual * d.phaseGain
		}
	}

	res.Bits.SyncWeakMask()
	d.score(res, len(intervals), detectConf)

	return res, nil
}

// score folds detection certainty and decode quality into 0..100.
func (d *Decoder) score(res *Result, intervalCount int, detectConf int) {
	conf := detectConf
	if conf > 95 {
		conf = 95
	}

	if intervalCount > 0 {
		errPenalty := res.ErrorCount * 100 / intervalCount
		if errPenalty > 40 {
			errPenalty = 40
		}
		conf -= errPenalty
	}
	if res.Bits.BitCount > 0 {
		weakPenalty := res.WeakBitCount * 50 / res.Bits.BitCount
		if weakPenalty > 30 {
			weakPenalty = 30
		}
		conf -= weakPenalty
	}
	if res.Partial {
		conf /= 2
	}
	if conf < 0 {
		conf = 0
	}

	res.Confidence = conf
}
