package bitstream

import (
	"context"
	"fmt"

	"github.com/uftkit/uft/crc"
	"github.com/uftkit/uft/errs"
)

// Channel-bit sync words. MFM A1 carries a deliberately missing clock bit,
// so 0x4489 never occurs in regular data. The FM marks bake the mark byte
// and its C7 clock into one 16-bit word.
const (
	mfmSyncWord  uint16 = 0x4489 // A1 with missing clock
	fmIDAMWord   uint16 = 0xF57E // FE with C7 clock
	fmDAMWord    uint16 = 0xF56F // FB with C7 clock
	fmDelDAMWord uint16 = 0xF56A // F8 with C7 clock
)

// Address and data mark bytes.
const (
	markIDAM       = 0xFE
	markDAM        = 0xFB
	markDeletedDAM = 0xF8
)

// DAM search gaps, in bytes past the ID record CRC.
const (
	mfmDAMGapBytes = 60
	fmDAMGapBytes  = 40
)

// decodeMFM runs the sync-mark state machine over an MFM bitstream:
// HUNT -> IDAM -> SEARCH_DAM -> DATA -> DATA_CRC -> HUNT.
func (d *Decoder) decodeMFM(ctx context.Context, b *Bitstream, res *DecodeResult) error {
	r := reader{b: b}
	engine := d.crc

	pos := 0
	for {
		// Sync hunt restarts are the cancellation points.
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: bitstream decode cancelled at bit %d: %v",
				errs.ErrInvalidState, pos, err)
		}

		syncPos, found := huntMFMSync(r, pos)
		if !found {
			return nil
		}
		res.SyncCount++

		markPos := syncPos + 48
		mark, ok := r.channelByte(markPos)
		if !ok {
			return nil // sync at the very end of the track
		}

		switch mark {
		case markIDAM:
			pos = d.decodeMFMSector(r, engine, syncPos, res)
		case markDAM, markDeletedDAM:
			// Orphan data mark with no preceding ID record: skip it, its
			// bytes belong to no sector.
			res.Warnings.Add(fmt.Sprintf("orphan data mark at bit %d", syncPos))
			pos = markPos + 16
		default:
			pos = syncPos + 16
		}
	}
}

// huntMFMSync scans from pos for the A1 A1 A1 sync train with a 1-bit
// sliding window.
func huntMFMSync(r reader, pos int) (int, bool) {
	for ; pos+48 <= r.b.BitCount; pos++ {
		if r.match16(pos, mfmSyncWord) &&
			r.match16(pos+16, mfmSyncWord) &&
			r.match16(pos+32, mfmSyncWord) {
			return pos, true
		}
	}

	return 0, false
}

// decodeMFMSector consumes one ID record at syncPos and its data record if
// one follows within the gap. Returns the bit position to resume hunting at.
func (d *Decoder) decodeMFMSector(r reader, engine *crc.Engine, syncPos int, res *DecodeResult) int {
	idPos := syncPos + 48 + 16 // past sync train and FE mark

	idBytes, ok := r.channelBytes(idPos, 6) // cyl head sec size crc crc
	if !ok {
		res.Warnings.Add(fmt.Sprintf("id record truncated at bit %d", idPos))
		return r.b.BitCount
	}

	rec := SectorRecord{
		Cylinder:    idBytes[0],
		Head:        idBytes[1],
		Sector:      idBytes[2],
		SizeCode:    idBytes[3],
		Encoding:    r.b.Encoding,
		IDBitOffset: syncPos,
	}

	// Header CRC covers the sync bytes and mark even though they arrived
	// in a different scan state; the streaming digest carries it across.
	digest := engine.NewDigest()
	digest.Write([]byte{0xA1, 0xA1, 0xA1, markIDAM})
	digest.Write(idBytes[:4])
	stored := uint32(idBytes[4])<<8 | uint32(idBytes[5])
	rec.HeaderCRC = verdict(stored, digest.Sum())

	headerEnd := idPos + 6*16

	damSync, damMark, found := huntDAM(r, headerEnd, mfmDAMGapBytes)
	if !found {
		// No data mark within the gap: header-only record.
		rec.WeakPresent = r.weakInRange(syncPos, headerEnd)
		res.Sectors = append(res.Sectors, rec)

		return headerEnd
	}

	rec.Deleted = damMark == markDeletedDAM

	dataLen := rec.ExpectedDataLen()
	if 128<<rec.SizeCode > MaxSectorDataLen {
		res.Warnings.Add(fmt.Sprintf("%v: sector %d size code %d clamped to %d bytes",
			errs.ErrTruncated, rec.Sector, rec.SizeCode, MaxSectorDataLen))
	}

	dataPos := damSync + 48 + 16
	data, ok := r.channelBytes(dataPos, dataLen+2)
	if !ok {
		// Data mark with no reachable payload: the track ends mid-record.
		rec.Missing = true
		rec.WeakPresent = r.weakInRange(syncPos, r.b.BitCount)
		res.Sectors = append(res.Sectors, rec)

		return r.b.BitCount
	}

	rec.Data = data[:dataLen]

	digest.Reset()
	digest.Write([]byte{0xA1, 0xA1, 0xA1, damMark})
	digest.Write(rec.Data)
	stored = uint32(data[dataLen])<<8 | uint32(data[dataLen+1])
	rec.DataCRC = verdict(stored, digest.Sum())

	dataEnd := dataPos + (dataLen+2)*16
	rec.WeakPresent = r.weakInRange(syncPos, dataEnd)
	res.Sectors = append(res.Sectors, rec)

	return dataEnd
}

// huntDAM looks for a data-mark sync within gapBytes of start.
// Returns the sync position and the mark byte.
func huntDAM(r reader, start, gapBytes int) (int, byte, bool) {
	limit := start + gapBytes*16
	if limit > r.b.BitCount-48-16 {
		limit = r.b.BitCount - 48 - 16
	}

	for pos := start; pos <= limit; pos++ {
		if !r.match16(pos, mfmSyncWord) ||
			!r.match16(pos+16, mfmSyncWord) ||
			!r.match16(pos+32, mfmSyncWord) {
			continue
		}
		mark, ok := r.channelByte(pos + 48)
		if !ok {
			return 0, 0, false
		}
		if mark == markDAM || mark == markDeletedDAM {
			return pos, mark, true
		}
	}

	return 0, 0, false
}

// decodeFM is the single-density variant: no A1 train, the mark byte and
// its C7 clock form the sync word directly, and the CRC covers the mark and
// fields only.
func (d *Decoder) decodeFM(ctx context.Context, b *Bitstream, res *DecodeResult) error {
	r := reader{b: b}
	engine := d.crc

	pos := 0
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: bitstream decode cancelled at bit %d: %v",
				errs.ErrInvalidState, pos, err)
		}

		syncPos, found := huntFMIDAM(r, pos)
		if !found {
			return nil
		}
		res.SyncCount++

		idPos := syncPos + 16
		idBytes, ok := r.channelBytes(idPos, 6)
		if !ok {
			res.Warnings.Add(fmt.Sprintf("id record truncated at bit %d", idPos))
			return nil
		}

		rec := SectorRecord{
			Cylinder:    idBytes[0],
			Head:        idBytes[1],
			Sector:      idBytes[2],
			SizeCode:    idBytes[3],
			Encoding:    r.b.Encoding,
			IDBitOffset: syncPos,
		}

		digest := engine.NewDigest()
		digest.Write([]byte{markIDAM})
		digest.Write(idBytes[:4])
		stored := uint32(idBytes[4])<<8 | uint32(idBytes[5])
		rec.HeaderCRC = verdict(stored, digest.Sum())

		headerEnd := idPos + 6*16

		damPos, damMark, found := huntFMDAM(r, headerEnd, fmDAMGapBytes)
		if !found {
			rec.WeakPresent = r.weakInRange(syncPos, headerEnd)
			res.Sectors = append(res.Sectors, rec)
			pos = headerEnd

			continue
		}

		rec.Deleted = damMark == markDeletedDAM

		dataLen := rec.ExpectedDataLen()
		if 128<<rec.SizeCode > MaxSectorDataLen {
			res.Warnings.Add(fmt.Sprintf("%v: sector %d size code %d clamped to %d bytes",
				errs.ErrTruncated, rec.Sector, rec.SizeCode, MaxSectorDataLen))
		}

		dataPos := damPos + 16
		data, ok := r.channelBytes(dataPos, dataLen+2)
		if !ok {
			rec.Missing = true
			rec.WeakPresent = r.weakInRange(syncPos, r.b.BitCount)
			res.Sectors = append(res.Sectors, rec)

			return nil
		}

		rec.Data = data[:dataLen]

		digest.Reset()
		digest.Write([]byte{damMark})
		digest.Write(rec.Data)
		stored = uint32(data[dataLen])<<8 | uint32(data[dataLen+1])
		rec.DataCRC = verdict(stored, digest.Sum())

		dataEnd := dataPos + (dataLen+2)*16
		rec.WeakPresent = r.weakInRange(syncPos, dataEnd)
		res.Sectors = append(res.Sectors, rec)
		pos = dataEnd
	}
}

func huntFMIDAM(r reader, pos int) (int, bool) {
	for ; pos+16 <= r.b.BitCount; pos++ {
		if r.match16(pos, fmIDAMWord) {
			return pos, true
		}
	}

	return 0, false
}

func huntFMDAM(r reader, start, gapBytes int) (int, byte, bool) {
	limit := start + gapBytes*16
	if limit > r.b.BitCount-16 {
		limit = r.b.BitCount - 16
	}

	for pos := start; pos <= limit; pos++ {
		if r.match16(pos, fmDAMWord) {
			return pos, markDAM, true
		}
		if r.match16(pos, fmDelDAMWord) {
			return pos, markDeletedDAM, true
		}
	}

	return 0, 0, false
}

func verdict(stored, computed uint32) CrcVerdict {
	state := CrcMismatch
	if stored == computed {
		state = CrcOK
	}

	return CrcVerdict{State: state, Stored: stored, Computed: computed}
}
