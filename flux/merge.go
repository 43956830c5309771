package flux

import (
	"context"
	"fmt"
	"math"

	"github.com/uftkit/uft/bitstream"
	"github.com/uftkit/uft/errs"
	"github.com/uftkit/uft/internal/options"
)

// Voting weights: a weak bit still carries information, just less of it.
const (
	voteWeightStable = 1.0
	voteWeightWeak   = 0.3

	// singleRevConfidence is reported when only one revolution exists and
	// voting is impossible.
	singleRevConfidence = 85

	// alignSearchPct bounds the sliding-correlation window to +/-3% of the
	// revolution length.
	alignSearchPct = 0.03
	// alignProbeBits is the length of the stable-bit prefix used for
	// correlation.
	alignProbeBits = 1024
	// alignMinMatch is the match ratio under which alignment is considered
	// failed for that revolution.
	alignMinMatch = 0.75
)

// MergeResult is the consensus of N revolutions: one bitstream, a parallel
// per-bit confidence array, and an overall 0..100 score.
type MergeResult struct {
	Bits *bitstream.Bitstream
	// BitConfidence holds one 0..100 value per output bit: the vote margin
	// scaled by total vote weight.
	BitConfidence []uint8
	Confidence    int
	// Revolutions is the number of revolutions that contributed votes.
	Revolutions int

	Warnings errs.Warnings
}

// Merger consolidates multiple revolutions of the same track into one
// bitstream by weighted per-bit voting.
type Merger struct {
	decoder *Decoder
	median  bool
}

// MergeOption configures a Merger.
type MergeOption = options.Option[*Merger]

// WithMergeDecoder sets the flux decoder used for the per-revolution
// decodes. Defaults to a fresh decoder with default settings.
func WithMergeDecoder(d *Decoder) MergeOption {
	return options.New(func(m *Merger) error {
		if d == nil {
			return fmt.Errorf("%w: nil decoder", errs.ErrInvalidArgument)
		}
		m.decoder = d

		return nil
	})
}

// WithMedianMerge switches to the unweighted majority vote. This reproduces
// captures merged by older tooling bit-exactly; the default weighted vote is
// more faithful to weak-bit semantics.
func WithMedianMerge() MergeOption {
	return options.NoError(func(m *Merger) { m.median = true })
}

// NewMerger creates a revolution merger.
func NewMerger(opts ...MergeOption) (*Merger, error) {
	m := &Merger{}
	if err := options.Apply(m, opts...); err != nil {
		return nil, err
	}
	if m.decoder == nil {
		d, err := NewDecoder()
		if err != nil {
			return nil, err
		}
		m.decoder = d
	}

	return m, nil
}

// Merge decodes every revolution of the capture independently and votes
// per bit. Revolutions are aligned by index pulse; a capture without index
// offsets is treated as a single revolution (pass-through).
func (m *Merger) Merge(ctx context.Context, f *Flux) (*MergeResult, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil flux", errs.ErrInvalidArgument)
	}

	revCount := int(f.RevolutionCount)
	if revCount <= 1 || f.IndexOffsets == nil {
		res, err := m.decoder.Decode(ctx, f)
		if err != nil {
			return nil, err
		}

		out := passThrough(res)
		if revCount > 1 {
			out.Warnings.Add("multi-revolution capture without index offsets, merged as single revolution")
		}

		return out, nil
	}

	decoded := make([]*Result, 0, revCount)
	for rev := 0; rev < revCount; rev++ {
		res, err := m.decoder.DecodeRevolution(ctx, f, rev)
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, res)
	}

	// Index-aligned revolutions all start at the pulse; offset 0 each.
	offsets := make([]int, len(decoded))

	return m.vote(decoded, offsets)
}

// MergeStreams merges separately captured streams of the same track,
// aligning each against the first by sliding correlation over a stable-bit
// prefix. Streams that fail to align are dropped with a warning; if none
// align, the result falls back to the first stream alone.
func (m *Merger) MergeStreams(ctx context.Context, streams []*Flux) (*MergeResult, error) {
	if len(streams) == 0 {
		return nil, fmt.Errorf("%w: no streams", errs.ErrInvalidArgument)
	}

	decoded := make([]*Result, 0, len(streams))
	for _, s := range streams {
		res, err := m.decoder.Decode(ctx, s)
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, res)
	}

	if len(decoded) == 1 {
		return passThrough(decoded[0]), nil
	}

	ref := decoded[0]
	kept := []*Result{ref}
	offsets := []int{0}

	var warnings []string
	for i, res := range decoded[1:] {
		off, ok := align(ref.Bits, res.Bits)
		if !ok {
			warnings = append(warnings,
				fmt.Sprintf("revolution %d failed alignment, dropped from vote", i+1))
			continue
		}
		kept = append(kept, res)
		offsets = append(offsets, off)
	}

	out, err := m.vote(kept, offsets)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		out.Warnings.Add(w)
	}
	if len(kept) == 1 {
		out.Warnings.Add("no revolutions aligned, single-revolution fallback")
	}

	return out, nil
}

// align finds the bit offset of other relative to ref by correlating the
// first alignProbeBits stable bits within a +/-3% window.
func align(ref, other *bitstream.Bitstream) (int, bool) {
	probe := alignProbeBits
	if probe > ref.BitCount {
		probe = ref.BitCount
	}
	if probe == 0 {
		return 0, false
	}

	window := int(float64(ref.BitCount) * alignSearchPct)
	bestOff, bestScore := 0, -1.0

	for off := -window; off <= window; off++ {
		match, total := 0, 0
		for i := 0; i < probe; i++ {
			j := i + off
			if j < 0 || j >= other.BitCount {
				continue
			}
			if ref.Weak(i) || other.Weak(j) {
				continue // only stable bits correlate
			}
			total++
			if ref.Bit(i) == other.Bit(j) {
				match++
			}
		}
		if total == 0 {
			continue
		}
		score := float64(match) / float64(total)
		if score > bestScore {
			bestScore = score
			bestOff = off
		}
	}

	if bestScore < alignMinMatch {
		return 0, false
	}

	return bestOff, true
}

// vote performs the weighted (or median-mode) per-bit majority.
func (m *Merger) vote(decoded []*Result, offsets []int) (*MergeResult, error) {
	if len(decoded) == 1 {
		return passThrough(decoded[0]), nil
	}

	ref := decoded[0]
	n := len(decoded)
	outLen := ref.Bits.BitCount

	out := &MergeResult{
		Bits:          bitstream.New(outLen, ref.Bits.CellNs, ref.Bits.Encoding),
		BitConfidence: make([]uint8, 0, outLen),
		Revolutions:   n,
	}
	out.Bits.WeakMask = make([]byte, 0)

	// Stability quorum per the vote rule: ceil(N/2)+1 revolutions must
	// agree on a bit for it to count as stable.
	quorum := (n+1)/2 + 1
	if quorum > n {
		quorum = n
	}

	stableBits := 0
	for i := 0; i < outLen; i++ {
		var zeroW, oneW float64
		var zeroN, oneN int

		for r, res := range decoded {
			j := i + offsets[r]
			if j < 0 || j >= res.Bits.BitCount {
				continue
			}
			w := voteWeightStable
			if !m.median && res.Bits.Weak(j) {
				w = voteWeightWeak
			}
			if res.Bits.Bit(j) == 1 {
				oneW += w
				oneN++
			} else {
				zeroW += w
				zeroN++
			}
		}

		total := zeroW + oneW
		var bit byte
		weak := false
		switch {
		case total == 0:
			bit, weak = 0, true
		case oneW > zeroW:
			bit = 1
		case oneW == zeroW:
			// Ties resolve to zero and stay flagged weak.
			bit, weak = 0, true
		default:
			bit = 0
		}

		agree := zeroN
		if bit == 1 {
			agree = oneN
		}
		if agree < quorum {
			weak = true
		} else {
			stableBits++
		}

		out.Bits.AppendBit(bit)
		if weak {
			out.Bits.SetWeak(out.Bits.BitCount - 1)
		}

		conf := 0.0
		if total > 0 {
			conf = math.Abs(oneW-zeroW) / total * 100
		}
		out.BitConfidence = append(out.BitConfidence, uint8(conf))
	}

	out.Bits.SyncWeakMask()

	conf := meanConfidence(out.BitConfidence)
	if outLen > 0 && n >= 2 && float64(stableBits)/float64(outLen) > 0.99 {
		conf += 10
		if conf > 99 {
			conf = 99
		}
	}
	out.Confidence = conf

	return out, nil
}

func passThrough(res *Result) *MergeResult {
	out := &MergeResult{
		Bits:          res.Bits,
		BitConfidence: make([]uint8, res.Bits.BitCount),
		Confidence:    singleRevConfidence,
		Revolutions:   1,
	}
	for i := range out.BitConfidence {
		out.BitConfidence[i] = singleRevConfidence
	}
	for _, w := range res.Warnings.Entries() {
		out.Warnings.Add(w)
	}

	return out
}

func meanConfidence(conf []uint8) int {
	if len(conf) == 0 {
		return 0
	}
	var sum int
	for _, c := range conf {
		sum += int(c)
	}

	return sum / len(conf)
}
