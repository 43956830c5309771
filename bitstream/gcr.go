package bitstream

import (
	"context"
	"fmt"

	"github.com/uftkit/uft/errs"
	"github.com/uftkit/uft/format"
)

// Commodore 4-and-5 GCR code table: one 5-bit code per data nibble.
var gcrC64Encode = [16]byte{
	0x0A, 0x0B, 0x12, 0x13, 0x0E, 0x0F, 0x16, 0x17,
	0x09, 0x19, 0x1A, 0x1B, 0x0D, 0x1D, 0x1E, 0x15,
}

var gcrC64Decode = buildGCRC64Decode()

func buildGCRC64Decode() [32]int8 {
	var table [32]int8
	for i := range table {
		table[i] = -1
	}
	for nibble, code := range gcrC64Encode {
		table[code] = int8(nibble)
	}

	return table
}

// C64 block type bytes and layout constants (1541 drive format).
const (
	gcrC64HeaderID     = 0x08
	gcrC64DataID       = 0x07
	gcrC64SyncMinOnes  = 10
	gcrC64SyncOnes     = 40
	gcrC64HeaderLen    = 8   // id, checksum, sector, track, id2, id1, 0F, 0F
	gcrC64DataLen      = 260 // id, 256 data, checksum, 00, 00
	gcrC64SectorBytes  = 256
	gcrC64GapByte      = 0x55
	gcrC64HeaderGapLen = 9
)

// decodeGCRC64 scans a Commodore GCR bitstream for header/data block pairs.
// Sync is a run of at least ten one-bits; blocks start at the first zero
// bit after the run. Checksums are the 1541's XOR bytes, reported through
// the same CrcVerdict carrier as the CRC16 families.
func (d *Decoder) decodeGCRC64(ctx context.Context, b *Bitstream, res *DecodeResult) error {
	r := reader{b: b}

	pos := 0
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: bitstream decode cancelled at bit %d: %v",
				errs.ErrInvalidState, pos, err)
		}

		blockPos, found := huntGCRSync(r, pos)
		if !found {
			return nil
		}

		header, ok := readGCRC64Block(r, blockPos, gcrC64HeaderLen)
		if !ok || header[0] != gcrC64HeaderID {
			// Not a header block; resume past this sync.
			pos = blockPos + 1
			continue
		}
		res.SyncCount++

		rec := SectorRecord{
			Sector:      header[2],
			Cylinder:    header[3], // 1541 headers carry the 1-based track number
			SizeCode:    1,         // 256-byte sectors throughout
			Encoding:    format.EncodingGCRC64,
			IDBitOffset: blockPos,
		}

		wantSum := header[2] ^ header[3] ^ header[4] ^ header[5]
		rec.HeaderCRC = verdict(uint32(header[1]), uint32(wantSum))

		headerEnd := blockPos + gcrC64HeaderLen*10 // 10 GCR bits per data byte

		dataSync, found := huntGCRSync(r, headerEnd)
		if !found {
			rec.WeakPresent = r.weakInRange(blockPos, headerEnd)
			res.Sectors = append(res.Sectors, rec)

			return nil
		}

		data, ok := readGCRC64Block(r, dataSync, gcrC64DataLen)
		if !ok || data[0] != gcrC64DataID {
			rec.WeakPresent = r.weakInRange(blockPos, headerEnd)
			res.Sectors = append(res.Sectors, rec)
			pos = dataSync + 1

			continue
		}

		rec.Data = append([]byte(nil), data[1:1+gcrC64SectorBytes]...)

		var sum byte
		for _, v := range rec.Data {
			sum ^= v
		}
		rec.DataCRC = verdict(uint32(data[1+gcrC64SectorBytes]), uint32(sum))

		dataEnd := dataSync + gcrC64DataLen*10
		rec.WeakPresent = r.weakInRange(blockPos, dataEnd)
		res.Sectors = append(res.Sectors, rec)
		pos = dataEnd
	}
}

// huntGCRSync finds a run of at least gcrC64SyncMinOnes one-bits from pos
// and returns the position of the first zero bit after it.
func huntGCRSync(r reader, pos int) (int, bool) {
	run := 0
	for i := pos; i < r.b.BitCount; i++ {
		if r.b.Bit(i) == 1 {
			run++
			continue
		}
		if run >= gcrC64SyncMinOnes {
			return i, true
		}
		run = 0
	}

	return 0, false
}

// readGCRC64Block decodes byteLen data bytes (2 nibbles, 5 GCR bits each)
// starting at bit position pos.
func readGCRC64Block(r reader, pos, byteLen int) ([]byte, bool) {
	out := make([]byte, byteLen)
	for i := range out {
		hi, ok := readGCRC64Nibble(r, pos+i*10)
		if !ok {
			return nil, false
		}
		lo, ok := readGCRC64Nibble(r, pos+i*10+5)
		if !ok {
			return nil, false
		}
		out[i] = hi<<4 | lo
	}

	return out, true
}

func readGCRC64Nibble(r reader, pos int) (byte, bool) {
	code, ok := r.bits(pos, 5)
	if !ok {
		return 0, false
	}
	nibble := gcrC64Decode[code]
	if nibble < 0 {
		return 0, false // invalid GCR code, treat as unreadable
	}

	return byte(nibble), true
}

// gcrC64Writer appends raw GCR bits.
type gcrC64Writer struct {
	b *Bitstream
}

func (w gcrC64Writer) writeSync() {
	for i := 0; i < gcrC64SyncOnes; i++ {
		w.b.AppendBit(1)
	}
}

func (w gcrC64Writer) writeRawByte(v byte) {
	for i := 7; i >= 0; i-- {
		w.b.AppendBit(v >> uint(i) & 1)
	}
}

func (w gcrC64Writer) writeGCRBytes(data []byte) {
	for _, v := range data {
		for _, nibble := range [2]byte{v >> 4, v & 0x0F} {
			code := gcrC64Encode[nibble]
			for i := 4; i >= 0; i-- {
				w.b.AppendBit(code >> uint(i) & 1)
			}
		}
	}
}

// EncodeGCRC64Track synthesizes a Commodore GCR bitstream for one track.
// The track number comes from each record's Cylinder field (1-based, as on
// the medium); id1/id2 are the disk ID bytes from the BAM.
func EncodeGCRC64Track(sectors []SectorRecord, id1, id2 byte) (*Bitstream, error) {
	if len(sectors) == 0 {
		return nil, fmt.Errorf("%w: no sectors to encode", errs.ErrInvalidArgument)
	}

	b := New(0, format.EncodingGCRC64.NominalCellNs(), format.EncodingGCRC64)
	w := gcrC64Writer{b: b}

	for _, rec := range sectors {
		if rec.Data == nil || len(rec.Data) != gcrC64SectorBytes {
			return nil, fmt.Errorf("%w: sector %d needs exactly %d data bytes",
				errs.ErrInvalidArgument, rec.Sector, gcrC64SectorBytes)
		}

		track := rec.Cylinder
		header := []byte{
			gcrC64HeaderID,
			rec.Sector ^ track ^ id2 ^ id1,
			rec.Sector,
			track,
			id2,
			id1,
			0x0F,
			0x0F,
		}

		w.writeSync()
		w.writeGCRBytes(header)
		for i := 0; i < gcrC64HeaderGapLen; i++ {
			w.writeRawByte(gcrC64GapByte)
		}

		var sum byte
		for _, v := range rec.Data {
			sum ^= v
		}

		data := make([]byte, 0, gcrC64DataLen)
		data = append(data, gcrC64DataID)
		data = append(data, rec.Data...)
		data = append(data, sum, 0x00, 0x00)

		w.writeSync()
		w.writeGCRBytes(data)
		for i := 0; i < gcrC64HeaderGapLen; i++ {
			w.writeRawByte(gcrC64GapByte)
		}
	}

	return b, nil
}
