package bitstream

import (
	"context"
	"fmt"

	"github.com/uftkit/uft/errs"
	"github.com/uftkit/uft/format"
	"github.com/uftkit/uft/internal/pool"
)

// Apple II 5.25" 6-and-2 nibble table (DOS 3.3 / ProDOS).
var apple62Encode = [64]byte{
	0x96, 0x97, 0x9A, 0x9B, 0x9D, 0x9E, 0x9F, 0xA6,
	0xA7, 0xAB, 0xAC, 0xAD, 0xAE, 0xAF, 0xB2, 0xB3,
	0xB4, 0xB5, 0xB6, 0xB7, 0xB9, 0xBA, 0xBB, 0xBC,
	0xBD, 0xBE, 0xBF, 0xCB, 0xCD, 0xCE, 0xCF, 0xD3,
	0xD6, 0xD7, 0xD9, 0xDA, 0xDB, 0xDC, 0xDD, 0xDE,
	0xDF, 0xE5, 0xE6, 0xE7, 0xE9, 0xEA, 0xEB, 0xEC,
	0xED, 0xEE, 0xEF, 0xF2, 0xF3, 0xF4, 0xF5, 0xF6,
	0xF7, 0xF9, 0xFA, 0xFB, 0xFC, 0xFD, 0xFE, 0xFF,
}

var apple62Decode = buildApple62Decode()

func buildApple62Decode() [256]int16 {
	var table [256]int16
	for i := range table {
		table[i] = -1
	}
	for val, nib := range apple62Encode {
		table[nib] = int16(val)
	}

	return table
}

const (
	appleAuxLen   = 86
	applePrimLen  = 256
	appleFieldLen = appleAuxLen + applePrimLen // the 342 six-bit values
)

// decodeApple62 scans for DOS 3.3 address fields (D5 AA 96) and their data
// fields (D5 AA AD). ID fields are 4-and-4 encoded; the data field is 342
// six-bit values chained by running XOR with a final checksum nibble.
func (d *Decoder) decodeApple62(ctx context.Context, b *Bitstream, res *DecodeResult) error {
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

		// Volume, track, sector, checksum: 4-and-4 pairs.
		fields, ok := r.bits(addrPos+24, 64)
		if !ok {
			return nil
		}
		volume := apple44(byte(fields>>56), byte(fields>>48))
		track := apple44(byte(fields>>40), byte(fields>>32))
		sector := apple44(byte(fields>>24), byte(fields>>16))
		stored := apple44(byte(fields>>8), byte(fields))

		rec := SectorRecord{
			Cylinder:    track,
			Sector:      sector,
			SizeCode:    1, // 256-byte sectors
			Encoding:    format.EncodingGCRApple52,
			IDBitOffset: addrPos,
		}
		rec.HeaderCRC = verdict(uint32(stored), uint32(volume^track^sector))

		addrEnd := addrPos + 24 + 64

		dataPos, found := huntApplePrologue(r, addrEnd, 0xAD)
		if !found {
			rec.WeakPresent = r.weakInRange(addrPos, addrEnd)
			res.Sectors = append(res.Sectors, rec)

			return nil
		}

		data, dataOK, readOK := readApple62Field(r, dataPos+24)
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

		dataEnd := dataPos + 24 + (appleFieldLen+1)*8
		rec.WeakPresent = r.weakInRange(addrPos, dataEnd)
		res.Sectors = append(res.Sectors, rec)
		pos = dataEnd
	}
}

// huntApplePrologue finds D5 AA <last> at any bit alignment.
func huntApplePrologue(r reader, pos int, last byte) (int, bool) {
	want := uint64(0xD5)<<16 | uint64(0xAA)<<8 | uint64(last)
	for ; pos+24 <= r.b.BitCount; pos++ {
		v, ok := r.bits(pos, 24)
		if !ok {
			return 0, false
		}
		if v == want {
			return pos, true
		}
	}

	return 0, false
}

// apple44 combines a 4-and-4 encoded pair: odd bits in the first byte,
// even bits in the second.
func apple44(odd, even byte) byte {
	return (odd<<1 | 1) & even
}

// readApple62Field reads the 342 six-bit values plus checksum nibble at pos
// and denibblizes them to 256 bytes. dataOK reports the checksum verdict;
// readOK is false when the track ends mid-field.
func readApple62Field(r reader, pos int) (data []byte, dataOK, readOK bool) {
	if pos+(appleFieldLen+1)*8 > r.b.BitCount {
		return nil, false, false
	}

	scratch := pool.GetScratchBuffer()
	defer pool.PutScratchBuffer(scratch)
	scratch.Grow(appleFieldLen)
	scratch.SetLength(appleFieldLen)
	values := scratch.Bytes()
	acc := byte(0)
	for i := range values {
		raw, _ := r.bits(pos+i*8, 8)
		dec := apple62Decode[byte(raw)]
		if dec < 0 {
			return nil, false, false
		}
		// Written values are XOR-chained; decoding accumulates.
		acc ^= byte(dec)
		values[i] = acc
	}

	chkRaw, _ := r.bits(pos+appleFieldLen*8, 8)
	chk := apple62Decode[byte(chkRaw)]
	dataOK = chk >= 0 && byte(chk) == acc

	data = make([]byte, applePrimLen)
	for i := 0; i < applePrimLen; i++ {
		aux := values[i%appleAuxLen] >> (2 * uint(i/appleAuxLen)) & 3
		// The two low bits are stored swapped.
		low := (aux&1)<<1 | aux>>1
		data[i] = values[appleAuxLen+i]<<2 | low
	}

	return data, dataOK, true
}
