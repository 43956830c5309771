package timing

import (
	"bytes"
	"fmt"
	"math"

	"github.com/uftkit/uft/compress"
	"github.com/uftkit/uft/endian"
	"github.com/uftkit/uft/errs"
	"github.com/uftkit/uft/format"
	"github.com/uftkit/uft/internal/options"
)

// UTIM envelope layout, all fields little-endian:
//
//	[0:4]   magic "UTIM"
//	[4:6]   version (major in the high byte)
//	[6:8]   track
//	[8]     side
//	[9]     flags (bits 0-1: payload compression)
//	[10:12] sector_count
//	[12:16] entry_count
//	[16:20] region_count
//	[20:24] revolution_ns
//	[24:26] nominal_cell_ns
//
// followed by the sector, entry and region arrays in that order. A non-zero
// compression tag means the three arrays are stored as one compressed blob.
// Entry deltas always travel in units of DefaultResolutionNs; overlays
// recorded at another resolution are rescaled on the way out.
const (
	envelopeMagic      = "UTIM"
	envelopeVersion    = uint16(0x0100)
	envelopeHeaderSize = 26

	sectorWireSize = 11
	entryWireSize  = 4
	regionWireSize = 19
)

// Envelope flag bits.
const (
	flagCompressionMask = 0x03
)

type serializeConfig struct {
	compression format.CompressionType
}

// SerializeOption configures envelope serialization.
type SerializeOption = options.Option[*serializeConfig]

// WithCompression compresses the entry, region and sector arrays with the
// given codec. The header stays uncompressed.
func WithCompression(ct format.CompressionType) SerializeOption {
	return options.New(func(c *serializeConfig) error {
		if _, err := compress.GetCodec(ct); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrInvalidArgument, err)
		}
		c.compression = ct

		return nil
	})
}

func compressionFlag(ct format.CompressionType) byte {
	switch ct {
	case format.CompressionZstd:
		return 1
	case format.CompressionS2:
		return 2
	case format.CompressionLZ4:
		return 3
	default:
		return 0
	}
}

func flagCompression(flags byte) format.CompressionType {
	switch flags & flagCompressionMask {
	case 1:
		return format.CompressionZstd
	case 2:
		return format.CompressionS2
	case 3:
		return format.CompressionLZ4
	default:
		return format.CompressionNone
	}
}

// Serialize encodes the overlay into a UTIM envelope.
func Serialize(t *TrackTiming, opts ...SerializeOption) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil track timing", errs.ErrInvalidArgument)
	}
	if len(t.Entries) > MaxEntries {
		return nil, fmt.Errorf("%w: %d entries exceed the %d quota",
			errs.ErrInvalidArgument, len(t.Entries), MaxEntries)
	}

	cfg := &serializeConfig{compression: format.CompressionNone}
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}

	engine := endian.GetLittleEndianEngine()

	payload := make([]byte, 0,
		len(t.Sectors)*sectorWireSize+len(t.Entries)*entryWireSize+len(t.Regions)*regionWireSize)
	for _, s := range t.Sectors {
		payload = append(payload, s.Sector)
		payload = engine.AppendUint32(payload, s.StartBit)
		payload = engine.AppendUint32(payload, s.EndBit)
		payload = engine.AppendUint16(payload, uint16(s.MeanDeltaNs))
	}
	resolution := t.ResolutionNs
	if resolution == 0 {
		resolution = DefaultResolutionNs
	}
	for _, e := range t.Entries {
		delta := e.DeltaRes
		if resolution != DefaultResolutionNs {
			delta = clampI8(math.Round(
				float64(e.DeltaRes) * float64(resolution) / DefaultResolutionNs))
		}
		payload = engine.AppendUint16(payload, e.BitOffset)
		payload = append(payload, byte(delta), byte(e.Flags))
	}
	for _, r := range t.Regions {
		payload = engine.AppendUint32(payload, r.StartBit)
		payload = engine.AppendUint32(payload, r.EndBit)
		payload = append(payload, byte(r.Kind))
		payload = engine.AppendUint16(payload, r.ExpectedCellNs)
		payload = engine.AppendUint16(payload, uint16(r.MeanDeltaNs))
		payload = engine.AppendUint32(payload, r.VarianceNs)
		payload = engine.AppendUint16(payload, r.MaxDeviationNs)
	}

	if cfg.compression != format.CompressionNone {
		codec, err := compress.GetCodec(cfg.compression)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrInvalidArgument, err)
		}
		payload, err = codec.Compress(payload)
		if err != nil {
			return nil, fmt.Errorf("compress timing payload: %w", err)
		}
	}

	out := make([]byte, 0, envelopeHeaderSize+len(payload))
	out = append(out, envelopeMagic...)
	out = engine.AppendUint16(out, envelopeVersion)
	out = engine.AppendUint16(out, t.Track)
	out = append(out, t.Side, compressionFlag(cfg.compression))
	out = engine.AppendUint16(out, uint16(len(t.Sectors)))
	out = engine.AppendUint32(out, uint32(len(t.Entries)))
	out = engine.AppendUint32(out, uint32(len(t.Regions)))
	out = engine.AppendUint32(out, t.RevolutionNs)
	out = engine.AppendUint16(out, t.NominalCellNs)
	out = append(out, payload...)

	return out, nil
}

// SerializeTo encodes into a caller-provided buffer and returns the number
// of bytes written. A too-small buffer yields errs.ErrBufferTooSmall with
// nothing written.
func SerializeTo(t *TrackTiming, buf []byte, opts ...SerializeOption) (int, error) {
	data, err := Serialize(t, opts...)
	if err != nil {
		return 0, err
	}
	if len(buf) < len(data) {
		return 0, fmt.Errorf("%w: need %d bytes, have %d",
			errs.ErrBufferTooSmall, len(data), len(buf))
	}

	return copy(buf, data), nil
}

// Deserialize decodes a UTIM envelope. Only major version 1 is accepted;
// unknown minor versions parse as version 1.0.
func Deserialize(data []byte) (*TrackTiming, error) {
	if len(data) < envelopeHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the envelope header",
			errs.ErrTruncated, len(data))
	}
	if !bytes.Equal(data[:4], []byte(envelopeMagic)) {
		return nil, fmt.Errorf("%w: bad magic %q", errs.ErrFormatMismatch, data[:4])
	}

	engine := endian.GetLittleEndianEngine()

	version := engine.Uint16(data[4:6])
	if version>>8 != envelopeVersion>>8 {
		return nil, fmt.Errorf("%w: envelope version %d.%d",
			errs.ErrFormatMismatch, version>>8, version&0xFF)
	}

	t := &TrackTiming{
		Track:        engine.Uint16(data[6:8]),
		Side:         data[8],
		ResolutionNs: DefaultResolutionNs,
	}
	flags := data[9]
	sectorCount := int(engine.Uint16(data[10:12]))
	entryCount := int(engine.Uint32(data[12:16]))
	regionCount := int(engine.Uint32(data[16:20]))
	t.RevolutionNs = engine.Uint32(data[20:24])
	t.NominalCellNs = engine.Uint16(data[24:26])

	if entryCount > MaxEntries {
		return nil, fmt.Errorf("%w: %d entries exceed the %d quota",
			errs.ErrFormatMismatch, entryCount, MaxEntries)
	}

	payload := data[envelopeHeaderSize:]
	if ct := flagCompression(flags); ct != format.CompressionNone {
		codec, err := compress.GetCodec(ct)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrFormatMismatch, err)
		}
		payload, err = codec.Decompress(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: timing payload: %v", errs.ErrFormatMismatch, err)
		}
	}

	need := sectorCount*sectorWireSize + entryCount*entryWireSize + regionCount*regionWireSize
	if len(payload) < need {
		return nil, fmt.Errorf("%w: payload holds %d of %d bytes",
			errs.ErrTruncated, len(payload), need)
	}

	pos := 0
	if sectorCount > 0 {
		t.Sectors = make([]SectorTiming, sectorCount)
		for i := range t.Sectors {
			t.Sectors[i] = SectorTiming{
				Sector:      payload[pos],
				StartBit:    engine.Uint32(payload[pos+1 : pos+5]),
				EndBit:      engine.Uint32(payload[pos+5 : pos+9]),
				MeanDeltaNs: int16(engine.Uint16(payload[pos+9 : pos+11])),
			}
			pos += sectorWireSize
		}
	}
	if entryCount > 0 {
		t.Entries = make([]Entry, entryCount)
		for i := range t.Entries {
			t.Entries[i] = Entry{
				BitOffset: engine.Uint16(payload[pos : pos+2]),
				DeltaRes:  int8(payload[pos+2]),
				Flags:     EntryFlags(payload[pos+3]),
			}
			pos += entryWireSize
		}
	}
	if regionCount > 0 {
		t.Regions = make([]Region, regionCount)
		for i := range t.Regions {
			t.Regions[i] = Region{
				StartBit:       engine.Uint32(payload[pos : pos+4]),
				EndBit:         engine.Uint32(payload[pos+4 : pos+8]),
				Kind:           format.RegionKind(payload[pos+8]),
				ExpectedCellNs: engine.Uint16(payload[pos+9 : pos+11]),
				MeanDeltaNs:    int16(engine.Uint16(payload[pos+11 : pos+13])),
				VarianceNs:     engine.Uint32(payload[pos+13 : pos+17]),
				MaxDeviationNs: engine.Uint16(payload[pos+17 : pos+19]),
			}
			pos += regionWireSize
		}
	}

	return t, nil
}
