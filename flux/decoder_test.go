package flux

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uftkit/uft/errs"
	"github.com/uftkit/uft/format"
)

// mfmIntervals is a clean double-density mix of 2, 3 and 4 cell gaps.
func mfmIntervals(groups int) []uint32 {
	var out []uint32
	for i := 0; i < groups; i++ {
		out = append(out, 4000, 6000, 4000, 8000)
	}

	return out
}

func TestNewDecoder_RejectsBadGains(t *testing.T) {
	_, err := NewDecoder(WithPLLGains(0, 0.6))
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = NewDecoder(WithPLLGains(0.05, 1.0))
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = NewDecoder(WithPLLGains(0.05, 0.6))
	require.NoError(t, err)
}

func TestDecoder_Decode_NilAndEmptyInput(t *testing.T) {
	dec, err := NewDecoder()
	require.NoError(t, err)

	_, err = dec.Decode(context.Background(), nil)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = dec.Decode(context.Background(), nsFlux())
	require.ErrorIs(t, err, errs.ErrNoSync)
}

func TestDecoder_Decode_CleanMFM(t *testing.T) {
	dec, err := NewDecoder()
	require.NoError(t, err)

	res, err := dec.Decode(context.Background(), nsFlux(mfmIntervals(50)...))
	require.NoError(t, err)

	require.Equal(t, format.EncodingMFM, res.Bits.Encoding)
	require.Equal(t, uint32(2000), res.Bits.CellNs)
	// Each group is 01 001 01 0001: eleven bits.
	require.Equal(t, 50*11, res.Bits.BitCount)
	require.Zero(t, res.ErrorCount)
	require.Zero(t, res.WeakBitCount)
	require.False(t, res.Partial)
	require.GreaterOrEqual(t, res.Confidence, 90)

	want := []byte{0, 1, 0, 0, 1, 0, 1, 0, 0, 0, 1}
	for i := 0; i < res.Bits.BitCount; i++ {
		require.Equal(t, want[i%len(want)], res.Bits.Bit(i), "bit %d", i)
	}
}

func TestDecoder_Decode_ToleratesJitter(t *testing.T) {
	clean := mfmIntervals(50)
	jittered := make([]uint32, len(clean))
	for i, ns := range clean {
		// Deterministic +/-150ns jitter, well inside half a cell.
		switch i % 3 {
		case 0:
			jittered[i] = ns + 150
		case 1:
			jittered[i] = ns - 150
		default:
			jittered[i] = ns
		}
	}

	dec, err := NewDecoder()
	require.NoError(t, err)

	want, err := dec.Decode(context.Background(), nsFlux(clean...))
	require.NoError(t, err)
	got, err := dec.Decode(context.Background(), nsFlux(jittered...))
	require.NoError(t, err)

	require.Equal(t, want.Bits.BitCount, got.Bits.BitCount)
	for i := 0; i < want.Bits.BitCount; i++ {
		require.Equal(t, want.Bits.Bit(i), got.Bits.Bit(i), "bit %d", i)
	}
}

func TestDecoder_Decode_ShortSpikeFlagsWeakBit(t *testing.T) {
	// An 800ns noise spike clamps to one cell with a residual far past half
	// a cell.
	intervals := repeatNs(nil, 4000, 20)
	intervals = append(intervals, 800)
	intervals = repeatNs(intervals, 4000, 20)

	dec, err := NewDecoder(WithPLL(false),
		WithEncodingDetection(false), WithEncodingHint(format.EncodingMFM))
	require.NoError(t, err)

	res, err := dec.Decode(context.Background(), nsFlux(intervals...))
	require.NoError(t, err)
	require.GreaterOrEqual(t, res.WeakBitCount, 1)
	require.True(t, res.Bits.Weak(20*2), "the spike's bit is weak")
}

func TestDecoder_Decode_SaturatedIntervalCountsAsResync(t *testing.T) {
	intervals := repeatNs(nil, 4000, 20)
	intervals = append(intervals, 30000) // 15 cells, far past the saturation cap
	intervals = repeatNs(intervals, 4000, 20)

	dec, err := NewDecoder(
		WithEncodingDetection(false), WithEncodingHint(format.EncodingMFM))
	require.NoError(t, err)

	res, err := dec.Decode(context.Background(), nsFlux(intervals...))
	require.NoError(t, err)
	require.Equal(t, 1, res.ErrorCount)
}

// A steady 15% slow spindle needs the PLL: against the fixed nominal clock a
// four-cell gap quantizes to five cells.
func TestDecoder_Decode_PLLTracksSpeedVariation(t *testing.T) {
	intervals := repeatNs(nil, 4600, 50) // two cells at 2300ns
	intervals = append(intervals, 9200)  // four cells at 2300ns

	adaptive, err := NewDecoder(
		WithEncodingDetection(false), WithEncodingHint(format.EncodingMFM))
	require.NoError(t, err)
	fixed, err := NewDecoder(WithPLL(false),
		WithEncodingDetection(false), WithEncodingHint(format.EncodingMFM))
	require.NoError(t, err)

	got, err := adaptive.Decode(context.Background(), nsFlux(intervals...))
	require.NoError(t, err)
	require.Equal(t, 50*2+4, got.Bits.BitCount)

	raw, err := fixed.Decode(context.Background(), nsFlux(intervals...))
	require.NoError(t, err)
	require.Equal(t, 50*2+5, raw.Bits.BitCount)
}

func TestDecoder_Decode_ClockClampWarnsOnce(t *testing.T) {
	// Two-cell intervals of a 1550ns-cell spindle pull the clock below the
	// -20% bound.
	dec, err := NewDecoder(
		WithEncodingDetection(false), WithEncodingHint(format.EncodingMFM))
	require.NoError(t, err)

	res, err := dec.Decode(context.Background(), nsFlux(repeatNs(nil, 3100, 200)...))
	require.NoError(t, err)

	found := 0
	for _, w := range res.Warnings.Entries() {
		if w == "pll clock clamped at -20% of nominal" {
			found++
		}
	}
	require.Equal(t, 1, found)
}

func TestDecoder_Decode_CancellationYieldsPartialResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dec, err := NewDecoder()
	require.NoError(t, err)

	res, err := dec.Decode(ctx, nsFlux(mfmIntervals(50)...))
	require.ErrorIs(t, err, errs.ErrInvalidState)
	require.NotNil(t, res)
	require.True(t, res.Partial)
}

func TestDecoder_DecodeRevolution_SelectsSlice(t *testing.T) {
	rev := mfmIntervals(10)
	f := nsFlux(append(append([]uint32{}, rev...), rev...)...)
	f.RevolutionCount = 2
	f.IndexOffsets = []uint32{0, uint32(len(rev))}

	dec, err := NewDecoder()
	require.NoError(t, err)

	res, err := dec.DecodeRevolution(context.Background(), f, 1)
	require.NoError(t, err)
	require.Equal(t, 10*11, res.Bits.BitCount)

	_, err = dec.DecodeRevolution(context.Background(), f, 2)
	require.ErrorIs(t, err, errs.ErrNoSync)
}
