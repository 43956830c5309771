package bitstream

import (
	"context"
	"fmt"

	"github.com/uftkit/uft/errs"
	"github.com/uftkit/uft/format"
)

// Amiga trackdisk constants. A sector is 540 encoded longwords after a
// doubled A1 sync: info, 4 label longs, header checksum, data checksum and
// 512 data bytes, each split into odd-bits and even-bits MFM longwords.
const (
	amigaSyncWord    = uint64(0x44894489)
	amigaFormatByte  = 0xFF
	amigaDataLongs   = 128 // per half; 512 bytes total
	amigaSectorBytes = 512
)

// AmigaChecksum returns the big-endian 32-bit end-around-carry sum of data.
// Amiga bootblocks are laid out so the whole block sums to zero; callers
// verify by checking for a zero result. Trailing bytes short of a longword
// are zero-padded.
func AmigaChecksum(data []byte) uint32 {
	var sum uint64
	for i := 0; i < len(data); i += 4 {
		var word uint32
		for j := 0; j < 4; j++ {
			word <<= 8
			if i+j < len(data) {
				word |= uint32(data[i+j])
			}
		}
		sum += uint64(word)
		sum = (sum & 0xFFFFFFFF) + (sum >> 32) // wrap the carry back in
	}

	return uint32(sum)
}

// decodeAmiga scans for trackdisk sectors behind doubled A1 syncs. The
// odd/even longword split is undone per field; the XOR checksums over the
// encoded longwords are reported through CrcVerdict.
func (d *Decoder) decodeAmiga(ctx context.Context, b *Bitstream, res *DecodeResult) error {
	r := reader{b: b}

	pos := 0
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: bitstream decode cancelled at bit %d: %v",
				errs.ErrInvalidState, pos, err)
		}

		syncPos, found := huntAmigaSync(r, pos)
		if !found {
			return nil
		}
		res.SyncCount++

		body := syncPos + 32

		// info + label: 2 + 8 encoded longs; checksums: 4; data: 256.
		raw := make([]uint32, 0, 270)
		ok := true
		for i := 0; i < 270; i++ {
			v, got := r.bits(body+i*32, 32)
			if !got {
				ok = false
				break
			}
			raw = append(raw, uint32(v))
		}
		if !ok {
			res.Warnings.Add(fmt.Sprintf("sector truncated at bit %d", body))
			return nil
		}

		info := amigaDecodeLong(raw[0], raw[1])
		track := byte(info >> 16)

		rec := SectorRecord{
			Cylinder:    track >> 1,
			Head:        track & 1,
			Sector:      byte(info >> 8),
			SizeCode:    2, // 512-byte sectors
			Encoding:    format.EncodingAmigaMFM,
			IDBitOffset: syncPos,
		}

		if byte(info>>24) != amigaFormatByte {
			res.Warnings.Add(fmt.Sprintf("unexpected format byte %#02x at bit %d", byte(info>>24), syncPos))
		}

		// Header checksum covers the encoded info and label longs.
		var hdrSum uint32
		for _, v := range raw[:10] {
			hdrSum ^= v
		}
		hdrSum &= 0x55555555
		rec.HeaderCRC = verdict(amigaDecodeLong(raw[10], raw[11]), hdrSum)

		var dataSum uint32
		for _, v := range raw[14:270] {
			dataSum ^= v
		}
		dataSum &= 0x55555555
		rec.DataCRC = verdict(amigaDecodeLong(raw[12], raw[13]), dataSum)

		data := make([]byte, 0, amigaSectorBytes)
		for i := 0; i < amigaDataLongs; i++ {
			long := amigaDecodeLong(raw[14+i], raw[14+amigaDataLongs+i])
			data = append(data, byte(long>>24), byte(long>>16), byte(long>>8), byte(long))
		}
		rec.Data = data

		end := body + 270*32
		rec.WeakPresent = r.weakInRange(syncPos, end)
		res.Sectors = append(res.Sectors, rec)
		pos = end
	}
}

func huntAmigaSync(r reader, pos int) (int, bool) {
	for ; pos+32 <= r.b.BitCount; pos++ {
		v, ok := r.bits(pos, 32)
		if !ok {
			return 0, false
		}
		if v == amigaSyncWord {
			return pos, true
		}
	}

	return 0, false
}

// amigaDecodeLong recombines an odd-bits/even-bits encoded longword pair.
func amigaDecodeLong(odd, even uint32) uint32 {
	return (odd&0x55555555)<<1 | even&0x55555555
}
