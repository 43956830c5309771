package section

import (
	"bytes"
	"fmt"

	"github.com/uftkit/uft/bitstream"
	"github.com/uftkit/uft/endian"
	"github.com/uftkit/uft/errs"
	"github.com/uftkit/uft/format"
)

// Bitstream envelope layout, little-endian:
//
//	[0:4]   magic "UBIT"
//	[4:6]   version
//	[6]     flags
//	[7]     encoding tag
//	[8:12]  bit_count
//	[12:14] bit_cell_ns
//
// followed by ceil(bit_count/8) packed bit bytes, MSB-first, and the weak
// mask of the same length when flag bit 0 is set.

// EncodeBitstream serializes a clocked bit track.
func EncodeBitstream(b *bitstream.Bitstream) ([]byte, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil bitstream", errs.ErrInvalidArgument)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if b.CellNs > 0xFFFF {
		return nil, fmt.Errorf("%w: bit cell %dns exceeds the envelope field",
			errs.ErrInvalidArgument, b.CellNs)
	}

	engine := endian.GetLittleEndianEngine()
	byteLen := (b.BitCount + 7) / 8

	flags := byte(0)
	if b.WeakMask != nil {
		flags |= bitsFlagWeakMask
	}

	out := make([]byte, 0, bitstreamHeaderSize+2*byteLen)
	out = append(out, bitstreamMagic...)
	out = engine.AppendUint16(out, envelopeVersion)
	out = append(out, flags, byte(b.Encoding))
	out = engine.AppendUint32(out, uint32(b.BitCount))
	out = engine.AppendUint16(out, uint16(b.CellNs))
	out = append(out, b.Bits[:byteLen]...)
	if b.WeakMask != nil {
		out = append(out, b.WeakMask...)
	}

	return out, nil
}

// DecodeBitstream reverses EncodeBitstream.
func DecodeBitstream(data []byte) (*bitstream.Bitstream, error) {
	if len(data) < bitstreamHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the bitstream header",
			errs.ErrTruncated, len(data))
	}
	if !bytes.Equal(data[:4], []byte(bitstreamMagic)) {
		return nil, fmt.Errorf("%w: bad magic %q", errs.ErrFormatMismatch, data[:4])
	}

	engine := endian.GetLittleEndianEngine()
	if v := engine.Uint16(data[4:6]); !versionSupported(v) {
		return nil, fmt.Errorf("%w: bitstream envelope version %d.%d",
			errs.ErrFormatMismatch, v>>8, v&0xFF)
	}

	flags := data[6]
	b := &bitstream.Bitstream{
		Encoding: format.Encoding(data[7]),
		BitCount: int(engine.Uint32(data[8:12])),
		CellNs:   uint32(engine.Uint16(data[12:14])),
	}

	byteLen := (b.BitCount + 7) / 8
	need := byteLen
	if flags&bitsFlagWeakMask != 0 {
		need *= 2
	}
	payload := data[bitstreamHeaderSize:]
	if len(payload) != need {
		return nil, fmt.Errorf("%w: bit payload holds %d of %d bytes",
			errs.ErrTruncated, len(payload), need)
	}

	b.Bits = append([]byte(nil), payload[:byteLen]...)
	if flags&bitsFlagWeakMask != 0 {
		b.WeakMask = append([]byte(nil), payload[byteLen:]...)
	}

	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("%w: decoded bitstream envelope inconsistent: %v",
			errs.ErrFormatMismatch, err)
	}

	return b, nil
}
