package bitstream

import (
	"context"
	"fmt"

	"github.com/uftkit/uft/crc"
	"github.com/uftkit/uft/errs"
	"github.com/uftkit/uft/format"
	"github.com/uftkit/uft/internal/options"
)

// DecodeResult carries the sector records extracted from one track.
//
// CRC failures never abort the decode; they are attached to the individual
// records. A successful result can mix verified, CRC-failed and missing
// sectors.
type DecodeResult struct {
	Sectors []SectorRecord
	// SyncCount is the number of address-mark syncs encountered.
	SyncCount int
	// Confidence is 0..100, the fraction of checksum verdicts that passed.
	Confidence int

	Warnings errs.Warnings
}

// Decoder extracts sector records from a bitstream. It dispatches on the
// stream's encoding tag (or a configured override) to the MFM, FM, GCR or
// Amiga state machines.
type Decoder struct {
	crc      *crc.Engine
	encoding format.Encoding
}

// DecoderOption configures a Decoder.
type DecoderOption = options.Option[*Decoder]

// WithDecodeEncoding overrides the bitstream's own encoding tag. Useful
// when the flux stage reported Unknown but the caller knows the format.
func WithDecodeEncoding(encoding format.Encoding) DecoderOption {
	return options.NoError(func(d *Decoder) { d.encoding = encoding })
}

// NewDecoder creates a sector decoder. The CRC16-CCITT engine backs the
// MFM and FM families; the GCR families bring their own checksums.
func NewDecoder(opts ...DecoderOption) (*Decoder, error) {
	d := &Decoder{crc: crc.CCITT()}
	if err := options.Apply(d, opts...); err != nil {
		return nil, err
	}

	return d, nil
}

// Decode runs the sector state machine over the bitstream.
//
// It returns an error only for programmer misuse (nil or empty stream,
// impossible encoding) or when not a single sync mark exists in the whole
// track; in the latter case the result still carries an empty record list.
func (d *Decoder) Decode(ctx context.Context, b *Bitstream) (*DecodeResult, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil bitstream", errs.ErrInvalidArgument)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}

	encoding := b.Encoding
	if d.encoding != format.EncodingUnknown {
		encoding = d.encoding
	}

	res := &DecodeResult{}

	var err error
	switch encoding {
	case format.EncodingMFM:
		err = d.decodeMFM(ctx, b, res)
	case format.EncodingFM:
		err = d.decodeFM(ctx, b, res)
	case format.EncodingAmigaMFM:
		err = d.decodeAmiga(ctx, b, res)
	case format.EncodingGCRC64:
		err = d.decodeGCRC64(ctx, b, res)
	case format.EncodingGCRApple52:
		err = d.decodeApple62(ctx, b, res)
	case format.EncodingGCRApple35:
		err = d.decodeApple35(ctx, b, res)
	default:
		return nil, fmt.Errorf("%w: cannot sector-decode %s bitstream",
			errs.ErrUnsupportedEncoding, encoding)
	}
	if err != nil {
		return res, err
	}

	if res.SyncCount == 0 {
		return res, fmt.Errorf("%w: no sync marks in %d bits", errs.ErrNoSync, b.BitCount)
	}

	res.Confidence = d.score(res)

	return res, nil
}

// score is the fraction of checksum verdicts that passed, 0..100.
func (d *Decoder) score(res *DecodeResult) int {
	if len(res.Sectors) == 0 {
		return 0
	}

	passed, total := 0, 0
	for _, rec := range res.Sectors {
		if rec.HeaderCRC.State != CrcNotChecked {
			total++
			if rec.HeaderCRC.OK() {
				passed++
			}
		}
		if rec.DataCRC.State != CrcNotChecked {
			total++
			if rec.DataCRC.OK() {
				passed++
			}
		}
	}
	if total == 0 {
		return 0
	}

	return passed * 100 / total
}
