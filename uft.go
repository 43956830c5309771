// Package uft is the core of a universal floppy-media preservation toolkit:
// layered track representations and the decoders that move between them.
//
// A track is captured as flux (intervals between magnetic transitions),
// recovered into clocked bits by a software PLL, and finally parsed into
// sector records by encoding-specific state machines (MFM, FM, Amiga MFM,
// and the GCR families). Each stage is usable on its own; the pipeline
// package chains them with consistent error accounting.
//
// # Basic usage
//
// Decoding a captured track end to end:
//
//	import "github.com/uftkit/uft"
//
//	res, err := uft.DecodeTrack(ctx, capture, trackX2, side)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, sector := range res.Bitstream.Sectors {
//	    fmt.Printf("C%d H%d S%d crc=%v\n",
//	        sector.Cylinder, sector.Head, sector.Sector, sector.DataCRC.OK())
//	}
//
// Consolidating a multi-revolution capture before sector decoding:
//
//	merged, err := uft.MergeRevolutions(ctx, capture)
//	result, err := uft.DecodeSectors(ctx, merged.Bits)
//
// # Package structure
//
// This package provides top-level wrappers around the flux, bitstream,
// timing and pipeline packages, covering the common paths. For layered
// track objects and disk images use the track package; for driver
// dispatch use the registry package.
package uft

import (
	"context"

	"github.com/uftkit/uft/bitstream"
	"github.com/uftkit/uft/flux"
	"github.com/uftkit/uft/format"
	"github.com/uftkit/uft/internal/hash"
	"github.com/uftkit/uft/pipeline"
	"github.com/uftkit/uft/timing"
)

// DecodeTrack runs the full pipeline over one capture: per-revolution
// decode, consensus merge, timing overlay, sector extraction.
//
// trackX2 is the canonical track key (2*cylinder, plus one on half
// tracks). The returned result carries whatever stages completed; on
// success its Bitstream field holds the sector records.
func DecodeTrack(ctx context.Context, f *flux.Flux, trackX2 uint16, side uint8, opts ...pipeline.Option) (*pipeline.Result, error) {
	p, err := pipeline.New(opts...)
	if err != nil {
		return nil, err
	}

	return p.Run(ctx, f, trackX2, side)
}

// DecodeFlux converts a capture into clocked bits with the default PLL.
//
// Options tune the PLL and encoding detection, e.g. flux.WithPLLGains or
// flux.WithEncodingHint.
func DecodeFlux(ctx context.Context, f *flux.Flux, opts ...flux.Option) (*flux.Result, error) {
	d, err := flux.NewDecoder(opts...)
	if err != nil {
		return nil, err
	}

	return d.Decode(ctx, f)
}

// MergeRevolutions consolidates a multi-revolution capture into one
// consensus bitstream with per-bit confidence. Captures without index
// offsets pass through as a single revolution.
func MergeRevolutions(ctx context.Context, f *flux.Flux, opts ...flux.MergeOption) (*flux.MergeResult, error) {
	m, err := flux.NewMerger(opts...)
	if err != nil {
		return nil, err
	}

	return m.Merge(ctx, f)
}

// DecodeSectors extracts sector records from a clocked bitstream,
// dispatching on its encoding tag.
func DecodeSectors(ctx context.Context, b *bitstream.Bitstream, opts ...bitstream.DecoderOption) (*bitstream.DecodeResult, error) {
	d, err := bitstream.NewDecoder(opts...)
	if err != nil {
		return nil, err
	}

	return d.Decode(ctx, b)
}

// RecordTiming builds a timing overlay from revolution 0 of a capture,
// quantizing each interval against the encoding's nominal cell.
func RecordTiming(f *flux.Flux, trackX2 uint16, side uint8, encoding format.Encoding, opts ...timing.RecorderOption) (*timing.TrackTiming, error) {
	r, err := timing.NewRecorder(opts...)
	if err != nil {
		return nil, err
	}

	return r.Record(f, trackX2, side, encoding)
}

// DriverID converts a driver or format name to its 64-bit hash identifier,
// the fixed-size key used in registry logs and external indexes.
func DriverID(name string) uint64 {
	return hash.ID(name)
}
