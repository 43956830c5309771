// Package track holds the layered track intermediate representation: one
// object per physical track carrying whichever layers (flux, bitstream,
// sectors, filesystem view) have been captured or derived, plus the disk
// image that owns a dense array of them.
//
// The availability bitmap is exact: a layer bit is set if and only if the
// layer's storage is populated. Layers produced by synthesis (sectors back
// to bits, bits back to flux) additionally carry a synthetic provenance
// flag that conversion never clears.
package track

import (
	"context"
	"fmt"
	"time"

	"github.com/uftkit/uft/bitstream"
	"github.com/uftkit/uft/errs"
	"github.com/uftkit/uft/flux"
	"github.com/uftkit/uft/format"
	"github.com/uftkit/uft/internal/hash"
	"github.com/uftkit/uft/internal/options"
	"github.com/uftkit/uft/timing"
)

// DefaultSampleRateHz is the capture clock assumed when synthesizing flux.
const DefaultSampleRateHz = 24_000_000

// Metadata describes where a track's content came from.
type Metadata struct {
	// Source is a free-form capture description (device, file, operator).
	Source string
	// CapturedAt is the capture timestamp, zero for synthesized content.
	CapturedAt time.Time
	// Confidence is the decode confidence 0..100 of the best layer.
	Confidence uint8
	// Encoding is the track's bit encoding once known.
	Encoding format.Encoding
	// Revolutions is the number of rotations captured.
	Revolutions uint8
}

// Filesystem is the borrowed view a filesystem driver mounts over a disk
// image. The core only dispatches to drivers; the view's contents belong to
// external filesystem code.
type Filesystem interface {
	// TypeTag identifies the filesystem family, e.g. "fat12" or "adfs-ofs".
	TypeTag() string
}

// Track is the layered IR for one physical track.
type Track struct {
	Cylinder uint16
	Head     uint8
	// Half marks a half-track position between Cylinder and Cylinder+1.
	Half bool

	Meta Metadata

	layers    uint8
	synthetic uint8

	flux    *flux.Flux
	bits    *bitstream.Bitstream
	sectors []bitstream.SectorRecord
	fs      Filesystem
	timing  *timing.TrackTiming
}

// New allocates an empty track IR with no layers.
func New(cylinder uint16, head uint8) *Track {
	return &Track{Cylinder: cylinder, Head: head}
}

// TrackX2 returns the canonical integer track key, 2*cylinder plus one for
// half-track positions. It matches the timing IR's track field.
func (t *Track) TrackX2() int {
	key := 2 * int(t.Cylinder)
	if t.Half {
		key++
	}

	return key
}

// AvailableLayers returns the exact availability bitmap.
func (t *Track) AvailableLayers() uint8 {
	return t.layers
}

// Has reports whether the track holds the given layer.
func (t *Track) Has(l format.Layer) bool {
	return t.layers&format.LayerMask(l) != 0
}

// Synthetic reports whether the given layer was produced by synthesis
// rather than captured or decoded from a capture.
func (t *Track) Synthetic(l format.Layer) bool {
	return t.synthetic&format.LayerMask(l) != 0
}

// Flux returns the flux layer, nil when absent. The capture stays owned by
// the track; callers may iterate but not re-tag it.
func (t *Track) Flux() *flux.Flux {
	return t.flux
}

// Bitstream returns the bitstream layer, nil when absent.
func (t *Track) Bitstream() *bitstream.Bitstream {
	return t.bits
}

// Sectors returns the sector layer, nil when absent.
func (t *Track) Sectors() []bitstream.SectorRecord {
	return t.sectors
}

// Filesystem returns the mounted filesystem view, nil when absent.
func (t *Track) Filesystem() Filesystem {
	return t.fs
}

// Timing returns the attached timing object, nil when absent.
func (t *Track) Timing() *timing.TrackTiming {
	return t.timing
}

// SetFlux moves a capture into the track and sets the flux layer bit. The
// layer is captured, not synthetic; a later SetFlux of a synthesized stream
// must be followed by conversion through ConvertLayer to keep provenance.
func (t *Track) SetFlux(f *flux.Flux) error {
	if f == nil {
		return fmt.Errorf("%w: nil flux", errs.ErrInvalidArgument)
	}
	if err := f.Validate(); err != nil {
		return err
	}

	t.flux = f
	t.layers |= format.LayerMask(format.LayerFlux)
	t.synthetic &^= format.LayerMask(format.LayerFlux)
	if f.RevolutionCount > 0 {
		t.Meta.Revolutions = f.RevolutionCount
	} else {
		t.Meta.Revolutions = 1
	}

	return nil
}

// SetBitstream moves clocked bits into the track and sets the layer bit.
func (t *Track) SetBitstream(b *bitstream.Bitstream) error {
	if b == nil {
		return fmt.Errorf("%w: nil bitstream", errs.ErrInvalidArgument)
	}
	if err := b.Validate(); err != nil {
		return err
	}

	t.bits = b
	t.layers |= format.LayerMask(format.LayerBitstream)
	t.synthetic &^= format.LayerMask(format.LayerBitstream)
	if t.Meta.Encoding == format.EncodingUnknown {
		t.Meta.Encoding = b.Encoding
	}

	return nil
}

// SetSectors moves sector records into the track and sets the layer bit.
func (t *Track) SetSectors(records []bitstream.SectorRecord) error {
	if records == nil {
		return fmt.Errorf("%w: nil sector list", errs.ErrInvalidArgument)
	}

	t.sectors = records
	t.layers |= format.LayerMask(format.LayerSector)
	t.synthetic &^= format.LayerMask(format.LayerSector)

	return nil
}

// SetFilesystem attaches a mounted filesystem view and sets the layer bit.
func (t *Track) SetFilesystem(fs Filesystem) error {
	if fs == nil {
		return fmt.Errorf("%w: nil filesystem view", errs.ErrInvalidArgument)
	}

	t.fs = fs
	t.layers |= format.LayerMask(format.LayerFilesystem)

	return nil
}

// AttachTiming reattaches a detached timing object. The timing's (track,
// side) key must match this track's coordinates.
func (t *Track) AttachTiming(tt *timing.TrackTiming) error {
	if tt == nil {
		return fmt.Errorf("%w: nil timing", errs.ErrInvalidArgument)
	}
	if int(tt.Track) != t.TrackX2() || tt.Side != t.Head {
		return fmt.Errorf("%w: timing for track %d side %d cannot attach to track %d side %d",
			errs.ErrInvalidArgument, tt.Track, tt.Side, t.TrackX2(), t.Head)
	}

	t.timing = tt

	return nil
}

// Fingerprint returns the xxHash64 of a layer's payload, 0 when the layer
// is absent. Used for duplicate detection and lineage tracking.
func (t *Track) Fingerprint(l format.Layer) uint64 {
	if !t.Has(l) {
		return 0
	}

	switch l {
	case format.LayerFlux:
		return t.flux.Fingerprint()
	case format.LayerBitstream:
		return hash.Fingerprint(t.bits.Bits[:(t.bits.BitCount+7)/8])
	case format.LayerSector:
		buf := make([]byte, 0, 256)
		for _, rec := range t.sectors {
			buf = append(buf, rec.Cylinder, rec.Head, rec.Sector, rec.SizeCode)
			buf = append(buf, rec.Data...)
		}

		return hash.Fingerprint(buf)
	default:
		return 0
	}
}

// CanConvert reports whether the target layer is reachable from the layers
// currently present, with a warning when reaching it involves synthesis or
// an external driver.
func (t *Track) CanConvert(target format.Layer) (bool, string) {
	if t.Has(target) {
		return true, ""
	}

	switch target {
	case format.LayerFlux:
		if t.Has(format.LayerBitstream) || t.Has(format.LayerSector) {
			return true, "flux would be synthesized, not captured"
		}
	case format.LayerBitstream:
		if t.Has(format.LayerFlux) {
			return true, ""
		}
		if t.Has(format.LayerSector) {
			return true, "bitstream would be synthesized from sector data"
		}
	case format.LayerSector:
		if t.Has(format.LayerBitstream) || t.Has(format.LayerFlux) {
			return true, ""
		}
	case format.LayerFilesystem:
		if t.Has(format.LayerSector) {
			return true, "requires a filesystem driver mount"
		}
	}

	return false, ""
}

type convertConfig struct {
	sampleRateHz uint32
	hint         format.Encoding
	fs           Filesystem
}

// ConvertOption configures ConvertLayer.
type ConvertOption = options.Option[*convertConfig]

// WithSampleRate sets the capture clock for synthesized flux.
func WithSampleRate(hz uint32) ConvertOption {
	return options.New(func(c *convertConfig) error {
		if hz == 0 {
			return fmt.Errorf("%w: zero sample rate", errs.ErrInvalidArgument)
		}
		c.sampleRateHz = hz

		return nil
	})
}

// WithEncodingHint sets the encoding to assume when decoding or
// synthesizing and the track does not know its own.
func WithEncodingHint(encoding format.Encoding) ConvertOption {
	return options.NoError(func(c *convertConfig) { c.hint = encoding })
}

// WithFilesystem supplies the mounted view for a filesystem-layer
// conversion. The view comes from a registry driver's Mount.
func WithFilesystem(fs Filesystem) ConvertOption {
	return options.NoError(func(c *convertConfig) { c.fs = fs })
}

// ConvertLayer materializes the target layer in place and adds it to the
// availability bitmap. Idempotent when the layer is already present. On
// failure the track is unchanged.
//
// Conversions in the synthesis direction (sectors to bits, bits to flux)
// tag the destination layer synthetic.
func (t *Track) ConvertLayer(ctx context.Context, target format.Layer, opts ...ConvertOption) error {
	if t.Has(target) {
		return nil
	}

	cfg := &convertConfig{sampleRateHz: DefaultSampleRateHz}
	if err := options.Apply(cfg, opts...); err != nil {
		return err
	}

	switch target {
	case format.LayerBitstream:
		b, synthetic, err := t.materializeBitstream(ctx, cfg)
		if err != nil {
			return err
		}
		t.bits = b
		t.layers |= format.LayerMask(format.LayerBitstream)
		if synthetic {
			t.synthetic |= format.LayerMask(format.LayerBitstream)
		}
		if t.Meta.Encoding == format.EncodingUnknown {
			t.Meta.Encoding = b.Encoding
		}

	case format.LayerFlux:
		b, _, err := t.materializeBitstream(ctx, cfg)
		if err != nil {
			return err
		}
		f, err := flux.Synthesize(b, cfg.sampleRateHz)
		if err != nil {
			return err
		}
		t.flux = f
		t.layers |= format.LayerMask(format.LayerFlux)
		t.synthetic |= format.LayerMask(format.LayerFlux)

	case format.LayerSector:
		b, _, err := t.materializeBitstream(ctx, cfg)
		if err != nil {
			return err
		}
		var decOpts []bitstream.DecoderOption
		if cfg.hint != format.EncodingUnknown && b.Encoding == format.EncodingUnknown {
			decOpts = append(decOpts, bitstream.WithDecodeEncoding(cfg.hint))
		}
		dec, err := bitstream.NewDecoder(decOpts...)
		if err != nil {
			return err
		}
		res, err := dec.Decode(ctx, b)
		if err != nil {
			return err
		}
		t.sectors = res.Sectors
		t.layers |= format.LayerMask(format.LayerSector)
		if res.Confidence > int(t.Meta.Confidence) {
			t.Meta.Confidence = uint8(res.Confidence)
		}

	case format.LayerFilesystem:
		if !t.Has(format.LayerSector) {
			return fmt.Errorf("%w: no sector layer to mount a filesystem over",
				errs.ErrInvalidState)
		}
		if cfg.fs == nil {
			return fmt.Errorf("%w: filesystem conversion needs a driver view (WithFilesystem)",
				errs.ErrInvalidArgument)
		}
		t.fs = cfg.fs
		t.layers |= format.LayerMask(format.LayerFilesystem)

	default:
		return fmt.Errorf("%w: unknown layer %d", errs.ErrInvalidArgument, target)
	}

	return nil
}

// materializeBitstream resolves a bitstream from the present layers without
// committing anything: the present one, a flux decode, or sector synthesis.
// The second return is true when the bits are synthetic.
func (t *Track) materializeBitstream(ctx context.Context, cfg *convertConfig) (*bitstream.Bitstream, bool, error) {
	if t.Has(format.LayerBitstream) {
		return t.bits, t.Synthetic(format.LayerBitstream), nil
	}

	if t.Has(format.LayerFlux) {
		var decOpts []flux.Option
		if cfg.hint != format.EncodingUnknown {
			decOpts = append(decOpts, flux.WithEncodingHint(cfg.hint))
		}
		dec, err := flux.NewDecoder(decOpts...)
		if err != nil {
			return nil, false, err
		}
		res, err := dec.Decode(ctx, t.flux)
		if err != nil {
			return nil, false, err
		}

		return res.Bits, false, nil
	}

	if t.Has(format.LayerSector) {
		encoding := cfg.hint
		if encoding == format.EncodingUnknown {
			encoding = t.Meta.Encoding
		}
		if encoding == format.EncodingUnknown && len(t.sectors) > 0 {
			encoding = t.sectors[0].Encoding
		}

		var (
			b   *bitstream.Bitstream
			err error
		)
		switch encoding {
		case format.EncodingMFM:
			b, err = bitstream.EncodeMFMTrack(t.sectors)
		case format.EncodingFM:
			b, err = bitstream.EncodeFMTrack(t.sectors)
		default:
			return nil, false, fmt.Errorf("%w: synthesizing %s bitstreams",
				errs.ErrNotImplemented, encoding)
		}
		if err != nil {
			return nil, false, err
		}

		return b, true, nil
	}

	return nil, false, fmt.Errorf("%w: no source layer for a bitstream",
		errs.ErrInvalidState)
}

// Clone returns a deep copy of the track, including all present layers.
// The filesystem view, being a borrowed driver handle, is shared.
func (t *Track) Clone() *Track {
	out := &Track{
		Cylinder:  t.Cylinder,
		Head:      t.Head,
		Half:      t.Half,
		Meta:      t.Meta,
		layers:    t.layers,
		synthetic: t.synthetic,
		fs:        t.fs,
	}
	if t.flux != nil {
		out.flux = t.flux.Clone()
	}
	if t.bits != nil {
		out.bits = t.bits.Clone()
	}
	if t.sectors != nil {
		out.sectors = make([]bitstream.SectorRecord, len(t.sectors))
		for i := range t.sectors {
			out.sectors[i] = t.sectors[i].Clone()
		}
	}
	if t.timing != nil {
		out.timing = t.timing.Clone()
	}

	return out
}
