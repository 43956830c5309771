package bitstream

import (
	"context"
	"fmt"

	"github.com/uftkit/uft/errs"
	"github.com/uftkit/uft/format"
	"github.com/uftkit/uft/internal/pool"
)

// Mac 3.5" GCR sector geometry. A data field carries 12 tag bytes ahead of
// the 512-byte payload, nibblized through the shared 6-and-2 table in
// groups of three: one sextet of high-order bit pairs, then the three low
// sextets.
const (
	apple35TagLen   = 12
	apple35DataLen  = 512
	apple35FieldLen = apple35TagLen + apple35DataLen
	apple35Groups   = (apple35FieldLen + 2) / 3
)

// decodeApple35 scans for Mac 3.5" address fields (D5 AA 96) and data
// fields (D5 AA AD). The address field is five sextets: track low bits,
// sector, side, format, and their XOR checksum. The side sextet extends the
// track number in bit 0 and carries the head in bit 5. The data field is a
// sector sextet, the nibblized 524-byte field, and a three-byte rotating
// XOR checksum group.
func (d *Decoder) decodeApple35(ctx context.Context, b *Bitstream, res *DecodeResult) error {
	r := reader{b: b}

	pos := 0
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: bitstream decode cancelled at bit %d: %v",
				errs.ErrInvalidState, pos, err)
		}

		addrPos, found := huntApplePrologue(r, pos, 0x96)
		if !found {
			return nil
		}
		res.SyncCount++

		fields, ok := r.bits(addrPos+24, 40)
		if !ok {
			return nil
		}
		trackLow := apple62Decode[byte(fields>>32)]
		sector := apple62Decode[byte(fields>>24)]
		side := apple62Decode[byte(fields>>16)]
		fmtField := apple62Decode[byte(fields>>8)]
		stored := apple62Decode[byte(fields)]

		rec := SectorRecord{
			SizeCode:    2, // 512-byte sectors
			Encoding:    format.EncodingGCRApple35,
			IDBitOffset: addrPos,
		}
		if trackLow < 0 || sector < 0 || side < 0 || fmtField < 0 || stored < 0 {
			rec.HeaderCRC = CrcVerdict{State: CrcMismatch}
		} else {
			rec.Cylinder = byte(trackLow) | byte(side&1)<<6
			rec.Head = byte(side >> 5 & 1)
			rec.Sector = byte(sector)
			rec.HeaderCRC = verdict(uint32(stored), uint32(trackLow^sector^side^fmtField))
		}

		addrEnd := addrPos + 24 + 40

		dataPos, found := huntApplePrologue(r, addrEnd, 0xAD)
		if !found {
			rec.WeakPresent = r.weakInRange(addrPos, addrEnd)
			res.Sectors = append(res.Sectors, rec)

			return nil
		}

		// The sector sextet after the prologue repeats the address field; the
		// nibblized field starts past it.
		data, dataOK, readOK := readApple35Field(r, dataPos+24+8)
		if !readOK {
			rec.Missing = true
			rec.WeakPresent = r.weakInRange(addrPos, r.b.BitCount)
			res.Sectors = append(res.Sectors, rec)

			return nil
		}

		rec.Data = data
		state := CrcMismatch
		if dataOK {
			state = CrcOK
		}
		rec.DataCRC = CrcVerdict{State: state}

		dataEnd := dataPos + 24 + 8 + (apple35Groups+1)*4*8
		rec.WeakPresent = r.weakInRange(addrPos, dataEnd)
		res.Sectors = append(res.Sectors, rec)
		pos = dataEnd
	}
}

// readApple35Field denibblizes the 524-byte tag-plus-payload field at pos
// and verifies the trailing checksum group. The tag bytes join the checksum
// but only the payload is copied out.
func readApple35Field(r reader, pos int) (data []byte, dataOK, readOK bool) {
	if pos+(apple35Groups+1)*4*8 > r.b.BitCount {
		return nil, false, false
	}

	scratch := pool.GetScratchBuffer()
	defer pool.PutScratchBuffer(scratch)

	var c1, c2, c3 byte
	for g := 0; g < apple35Groups; g++ {
		b1, b2, b3, ok := apple35Group(r, pos+g*32)
		if !ok {
			return nil, false, false
		}
		c1 = c1<<1 | c1>>7
		c1 ^= b1
		c2 ^= b2
		c3 ^= b3
		scratch.MustWrite([]byte{b1, b2, b3})
	}

	s1, s2, s3, ok := apple35Group(r, pos+apple35Groups*32)
	dataOK = ok && s1 == c1 && s2 == c2 && s3 == c3

	data = make([]byte, apple35DataLen)
	copy(data, scratch.Bytes()[apple35TagLen:apple35TagLen+apple35DataLen])

	return data, dataOK, true
}

// apple35Group reads four sextets and reassembles the three bytes they
// carry. The first sextet holds the three high-order bit pairs.
func apple35Group(r reader, pos int) (b1, b2, b3 byte, ok bool) {
	var n [4]int16
	for i := range n {
		raw, _ := r.bits(pos+i*8, 8)
		n[i] = apple62Decode[byte(raw)]
		if n[i] < 0 {
			return 0, 0, 0, false
		}
	}

	hi := byte(n[0])

	return byte(n[1]) | hi<<2&0xC0, byte(n[2]) | hi<<4&0xC0, byte(n[3]) | hi<<6&0xC0, true
}
