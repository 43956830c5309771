package section

import (
	"bytes"
	"fmt"

	"github.com/uftkit/uft/encoding"
	"github.com/uftkit/uft/endian"
	"github.com/uftkit/uft/errs"
	"github.com/uftkit/uft/flux"
	"github.com/uftkit/uft/internal/options"
)

// Flux envelope layout, little-endian:
//
//	[0:4]   magic "UFLX"
//	[4:6]   version
//	[6]     flags
//	[7]     revolution_count
//	[8:12]  sample_rate_hz
//	[12:16] interval_count
//
// followed by revolution_count u32 index offsets when flag bit 1 is set,
// then the intervals: raw u32 each, or the varint delta payload when flag
// bit 0 is set.

type fluxConfig struct {
	delta bool
}

// FluxOption configures flux envelope encoding.
type FluxOption = options.Option[*fluxConfig]

// WithDeltaIntervals stores the interval array delta-of-delta varint
// encoded instead of raw u32 values.
func WithDeltaIntervals() FluxOption {
	return options.NoError(func(c *fluxConfig) { c.delta = true })
}

// EncodeFlux serializes a capture.
func EncodeFlux(f *flux.Flux, opts ...FluxOption) ([]byte, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil flux", errs.ErrInvalidArgument)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	cfg := &fluxConfig{}
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}

	engine := endian.GetLittleEndianEngine()

	flags := byte(0)
	if cfg.delta {
		flags |= fluxFlagDelta
	}
	if f.IndexOffsets != nil {
		flags |= fluxFlagHasOffset
	}

	out := make([]byte, 0, fluxHeaderSize+len(f.Intervals)*4)
	out = append(out, fluxMagic...)
	out = engine.AppendUint16(out, envelopeVersion)
	out = append(out, flags, f.RevolutionCount)
	out = engine.AppendUint32(out, f.SampleRateHz)
	out = engine.AppendUint32(out, uint32(len(f.Intervals)))

	for _, off := range f.IndexOffsets {
		out = engine.AppendUint32(out, off)
	}

	if cfg.delta {
		enc := encoding.NewIntervalDeltaEncoder()
		enc.WriteSlice(f.Intervals)
		out = append(out, enc.Finish()...)
	} else {
		for _, interval := range f.Intervals {
			out = engine.AppendUint32(out, interval)
		}
	}

	return out, nil
}

// DecodeFlux reverses EncodeFlux.
func DecodeFlux(data []byte) (*flux.Flux, error) {
	if len(data) < fluxHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the flux header",
			errs.ErrTruncated, len(data))
	}
	if !bytes.Equal(data[:4], []byte(fluxMagic)) {
		return nil, fmt.Errorf("%w: bad magic %q", errs.ErrFormatMismatch, data[:4])
	}

	engine := endian.GetLittleEndianEngine()
	if v := engine.Uint16(data[4:6]); !versionSupported(v) {
		return nil, fmt.Errorf("%w: flux envelope version %d.%d",
			errs.ErrFormatMismatch, v>>8, v&0xFF)
	}

	flags := data[6]
	f := &flux.Flux{
		RevolutionCount: data[7],
		SampleRateHz:    engine.Uint32(data[8:12]),
	}
	intervalCount := int(engine.Uint32(data[12:16]))
	payload := data[fluxHeaderSize:]

	if flags&fluxFlagHasOffset != 0 {
		need := int(f.RevolutionCount) * 4
		if len(payload) < need {
			return nil, fmt.Errorf("%w: index offsets hold %d of %d bytes",
				errs.ErrTruncated, len(payload), need)
		}
		f.IndexOffsets = make([]uint32, f.RevolutionCount)
		for i := range f.IndexOffsets {
			f.IndexOffsets[i] = engine.Uint32(payload[i*4 : i*4+4])
		}
		payload = payload[need:]
	}

	if flags&fluxFlagDelta != 0 {
		intervals, err := encoding.DecodeIntervalDeltas(payload, intervalCount)
		if err != nil {
			return nil, err
		}
		f.Intervals = intervals
	} else {
		if len(payload) != intervalCount*4 {
			return nil, fmt.Errorf("%w: interval payload holds %d of %d bytes",
				errs.ErrTruncated, len(payload), intervalCount*4)
		}
		if intervalCount > 0 {
			f.Intervals = make([]uint32, intervalCount)
			for i := range f.Intervals {
				f.Intervals[i] = engine.Uint32(payload[i*4 : i*4+4])
			}
		}
	}

	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%w: decoded flux envelope inconsistent: %v",
			errs.ErrFormatMismatch, err)
	}

	return f, nil
}
