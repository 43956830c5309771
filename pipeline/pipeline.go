// Package pipeline orchestrates the full flux-to-sectors path: decode each
// revolution, merge into a consensus bitstream, record the timing overlay,
// then extract and verify sector records.
//
// The pipeline is fail-fast: a flux-stage failure suppresses the later
// stages. A flux success that yields zero syncs is not a pipeline failure;
// the bitstream result simply comes back empty with a warning.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/uftkit/uft/bitstream"
	"github.com/uftkit/uft/errs"
	"github.com/uftkit/uft/flux"
	"github.com/uftkit/uft/format"
	"github.com/uftkit/uft/internal/options"
	"github.com/uftkit/uft/timing"
)

// Result aggregates the artifacts of one pipeline run. Stages that did not
// run (after a failure) leave their field nil.
type Result struct {
	// Flux is the merged consensus of the capture's revolutions.
	Flux *flux.MergeResult
	// Bitstream holds the sector records extracted from the merged bits.
	Bitstream *bitstream.DecodeResult
	// Timing is the overlay recorded from revolution 0.
	Timing *timing.TrackTiming

	// Code is the numeric taxonomy value of the first failure, CodeOK on
	// success.
	Code format.ErrorCode
	// Detail names the failing stage, empty on success.
	Detail string

	// AnomalyCount totals the quality findings even on success: CRC
	// mismatches, weak bits and PLL resync events.
	AnomalyCount int

	Warnings errs.Warnings
}

// Pipeline is a reusable orchestrator. It carries no per-run state and can
// process any number of tracks sequentially; use one Pipeline per goroutine.
type Pipeline struct {
	decoder  *flux.Decoder
	merger   *flux.Merger
	recorder *timing.Recorder
	hint     format.Encoding
	median   bool
}

// Option configures a Pipeline.
type Option = options.Option[*Pipeline]

// WithFluxDecoder replaces the default flux decoder, e.g. to change PLL
// gains or disable encoding detection.
func WithFluxDecoder(d *flux.Decoder) Option {
	return options.New(func(p *Pipeline) error {
		if d == nil {
			return fmt.Errorf("%w: nil decoder", errs.ErrInvalidArgument)
		}
		p.decoder = d

		return nil
	})
}

// WithEncodingHint sets the encoding assumed when detection is
// inconclusive, and overrides the sector stage when the merged bits carry
// no encoding tag.
func WithEncodingHint(encoding format.Encoding) Option {
	return options.NoError(func(p *Pipeline) { p.hint = encoding })
}

// WithCompatibilityMerge switches the merger to the unweighted majority
// vote, reproducing captures merged by older tooling bit-exactly.
func WithCompatibilityMerge() Option {
	return options.NoError(func(p *Pipeline) { p.median = true })
}

// WithRecorder replaces the default timing recorder.
func WithRecorder(r *timing.Recorder) Option {
	return options.New(func(p *Pipeline) error {
		if r == nil {
			return fmt.Errorf("%w: nil recorder", errs.ErrInvalidArgument)
		}
		p.recorder = r

		return nil
	})
}

// New creates a pipeline with default stages.
func New(opts ...Option) (*Pipeline, error) {
	p := &Pipeline{}
	if err := options.Apply(p, opts...); err != nil {
		return nil, err
	}

	if p.decoder == nil {
		var decOpts []flux.Option
		if p.hint != format.EncodingUnknown {
			decOpts = append(decOpts, flux.WithEncodingHint(p.hint))
		}
		d, err := flux.NewDecoder(decOpts...)
		if err != nil {
			return nil, err
		}
		p.decoder = d
	}

	mergeOpts := []flux.MergeOption{flux.WithMergeDecoder(p.decoder)}
	if p.median {
		mergeOpts = append(mergeOpts, flux.WithMedianMerge())
	}
	m, err := flux.NewMerger(mergeOpts...)
	if err != nil {
		return nil, err
	}
	p.merger = m

	if p.recorder == nil {
		r, err := timing.NewRecorder()
		if err != nil {
			return nil, err
		}
		p.recorder = r
	}

	return p, nil
}

// Run processes one capture for the given track coordinates. The returned
// error, when non-nil, matches Result.Code; the Result always comes back
// with whatever stages completed.
func (p *Pipeline) Run(ctx context.Context, f *flux.Flux, track uint16, side uint8) (*Result, error) {
	res := &Result{}

	if f == nil {
		return p.fail(res, "flux", fmt.Errorf("%w: nil flux", errs.ErrInvalidArgument))
	}

	fields := log.Fields{"track": track, "side": side}

	log.WithFields(fields).WithField("stage", "merge").Debug("pipeline stage")
	merged, err := p.merger.Merge(ctx, f)
	if err != nil {
		return p.fail(res, "merge", err)
	}
	res.Flux = merged
	copyWarnings(&res.Warnings, &merged.Warnings)
	res.AnomalyCount += merged.Bits.WeakCount()

	log.WithFields(fields).WithField("stage", "timing").Debug("pipeline stage")
	overlay, err := p.recorder.Record(f, track, side, merged.Bits.Encoding)
	if err != nil {
		return p.fail(res, "timing", err)
	}
	timing.MarkWeakRegions(overlay, merged.Bits)
	res.Timing = overlay

	log.WithFields(fields).WithField("stage", "sectors").Debug("pipeline stage")
	var decOpts []bitstream.DecoderOption
	if merged.Bits.Encoding == format.EncodingUnknown && p.hint != format.EncodingUnknown {
		decOpts = append(decOpts, bitstream.WithDecodeEncoding(p.hint))
	}
	dec, err := bitstream.NewDecoder(decOpts...)
	if err != nil {
		return p.fail(res, "sectors", err)
	}

	sectors, err := dec.Decode(ctx, merged.Bits)
	if err != nil {
		if errors.Is(err, errs.ErrNoSync) {
			// An unreadable but decodable track is a finding, not a failure.
			res.Bitstream = sectors
			res.Warnings.Add(fmt.Sprintf("no sync marks on track %d side %d", track, side))

			return res, nil
		}

		return p.fail(res, "sectors", err)
	}
	res.Bitstream = sectors
	copyWarnings(&res.Warnings, &sectors.Warnings)

	for _, rec := range sectors.Sectors {
		if rec.HeaderCRC.State == bitstream.CrcMismatch {
			res.AnomalyCount++
		}
		if rec.DataCRC.State == bitstream.CrcMismatch {
			res.AnomalyCount++
		}
	}

	log.WithFields(fields).WithFields(log.Fields{
		"sectors":    len(sectors.Sectors),
		"confidence": sectors.Confidence,
		"anomalies":  res.AnomalyCount,
	}).Debug("pipeline done")

	return res, nil
}

// fail stamps the result with the failing stage and returns both.
func (p *Pipeline) fail(res *Result, stage string, err error) (*Result, error) {
	res.Code = errs.Code(err)
	res.Detail = fmt.Sprintf("%s stage: %v", stage, err)
	log.WithFields(log.Fields{"stage": stage, "code": res.Code}).Debug("pipeline failed")

	return res, err
}

func copyWarnings(dst, src *errs.Warnings) {
	for _, w := range src.Entries() {
		dst.Add(w)
	}
}
