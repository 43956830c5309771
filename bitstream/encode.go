package bitstream

import (
	"fmt"

	"github.com/uftkit/uft/crc"
	"github.com/uftkit/uft/errs"
	"github.com/uftkit/uft/format"
)

// Track layout filler counts for synthesized tracks. These follow the IBM
// System/34 track format, trimmed: synthesis aims at decodability, not at
// byte-exact gap reproduction of any particular drive controller.
const (
	mfmLeadInBytes  = 32
	mfmPreSyncZeros = 12
	mfmGap2Bytes    = 22
	mfmGap3Bytes    = 24
	fmLeadInBytes   = 16
	fmPreSyncOnes   = 6
	fmGap2Bytes     = 11
	fmGap3Bytes     = 12
	gapFiller       = 0x4E
	fmGapFiller     = 0xFF
)

// mfmWriter tracks the previous data bit across byte boundaries so clock
// bits obey the MFM rule: clock = 1 only between two zero data bits.
type mfmWriter struct {
	b    *Bitstream
	prev byte
}

func (w *mfmWriter) writeByte(v byte) {
	for i := 7; i >= 0; i-- {
		d := v >> uint(i) & 1
		clock := byte(0)
		if w.prev == 0 && d == 0 {
			clock = 1
		}
		w.b.AppendBit(clock)
		w.b.AppendBit(d)
		w.prev = d
	}
}

func (w *mfmWriter) writeBytes(data []byte) {
	for _, v := range data {
		w.writeByte(v)
	}
}

// writeSync emits the raw A1 sync word with its missing clock bit.
func (w *mfmWriter) writeSync() {
	for i := 15; i >= 0; i-- {
		w.b.AppendBit(byte(mfmSyncWord >> uint(i) & 1))
	}
	w.prev = 1 // A1 ends in a one data bit
}

// EncodeMFMTrack synthesizes an MFM bitstream holding the given sector
// records in order, with valid CRCs computed from the record contents.
// Records without data become header-only records (ID mark, no data mark),
// matching how they would have been captured.
//
// The output is a reconstruction: callers storing it into a track IR must
// tag the bitstream layer synthetic.
func EncodeMFMTrack(sectors []SectorRecord) (*Bitstream, error) {
	if len(sectors) == 0 {
		return nil, fmt.Errorf("%w: no sectors to encode", errs.ErrInvalidArgument)
	}

	engine := crc.CCITT()
	b := New(0, format.EncodingMFM.NominalCellNs(), format.EncodingMFM)
	w := &mfmWriter{b: b}

	for i := 0; i < mfmLeadInBytes; i++ {
		w.writeByte(gapFiller)
	}

	for _, rec := range sectors {
		if rec.Data != nil && len(rec.Data) != rec.ExpectedDataLen() {
			return nil, fmt.Errorf("%w: sector %d data length %d, size code %d wants %d",
				errs.ErrInvalidArgument, rec.Sector, len(rec.Data), rec.SizeCode, rec.ExpectedDataLen())
		}

		for i := 0; i < mfmPreSyncZeros; i++ {
			w.writeByte(0x00)
		}
		w.writeSync()
		w.writeSync()
		w.writeSync()

		id := []byte{rec.Cylinder, rec.Head, rec.Sector, rec.SizeCode}
		w.writeByte(markIDAM)
		w.writeBytes(id)

		digest := engine.NewDigest()
		digest.Write([]byte{0xA1, 0xA1, 0xA1, markIDAM})
		digest.Write(id)
		headerCRC := uint16(digest.Sum())
		w.writeByte(byte(headerCRC >> 8))
		w.writeByte(byte(headerCRC))

		if rec.Data == nil {
			for i := 0; i < mfmGap3Bytes; i++ {
				w.writeByte(gapFiller)
			}

			continue
		}

		for i := 0; i < mfmGap2Bytes; i++ {
			w.writeByte(gapFiller)
		}
		for i := 0; i < mfmPreSyncZeros; i++ {
			w.writeByte(0x00)
		}
		w.writeSync()
		w.writeSync()
		w.writeSync()

		dam := byte(markDAM)
		if rec.Deleted {
			dam = markDeletedDAM
		}
		w.writeByte(dam)
		w.writeBytes(rec.Data)

		digest.Reset()
		digest.Write([]byte{0xA1, 0xA1, 0xA1, dam})
		digest.Write(rec.Data)
		dataCRC := uint16(digest.Sum())
		w.writeByte(byte(dataCRC >> 8))
		w.writeByte(byte(dataCRC))

		for i := 0; i < mfmGap3Bytes; i++ {
			w.writeByte(gapFiller)
		}
	}

	return b, nil
}

// fmWriter emits FM channel bits: every data bit gets a one clock bit.
type fmWriter struct {
	b *Bitstream
}

func (w fmWriter) writeByte(v byte) {
	for i := 7; i >= 0; i-- {
		w.b.AppendBit(1)
		w.b.AppendBit(v >> uint(i) & 1)
	}
}

func (w fmWriter) writeBytes(data []byte) {
	for _, v := range data {
		w.writeByte(v)
	}
}

// writeMark emits a 16-bit mark word with its clock violations verbatim.
func (w fmWriter) writeMark(word uint16) {
	for i := 15; i >= 0; i-- {
		w.b.AppendBit(byte(word >> uint(i) & 1))
	}
}

// EncodeFMTrack synthesizes a single-density FM bitstream from sector
// records, IBM 3740 style.
func EncodeFMTrack(sectors []SectorRecord) (*Bitstream, error) {
	if len(sectors) == 0 {
		return nil, fmt.Errorf("%w: no sectors to encode", errs.ErrInvalidArgument)
	}

	engine := crc.CCITT()
	b := New(0, format.EncodingFM.NominalCellNs(), format.EncodingFM)
	w := fmWriter{b: b}

	for i := 0; i < fmLeadInBytes; i++ {
		w.writeByte(fmGapFiller)
	}

	for _, rec := range sectors {
		if rec.Data != nil && len(rec.Data) != rec.ExpectedDataLen() {
			return nil, fmt.Errorf("%w: sector %d data length %d, size code %d wants %d",
				errs.ErrInvalidArgument, rec.Sector, len(rec.Data), rec.SizeCode, rec.ExpectedDataLen())
		}

		for i := 0; i < fmPreSyncOnes; i++ {
			w.writeByte(0x00)
		}
		w.writeMark(fmIDAMWord)

		id := []byte{rec.Cylinder, rec.Head, rec.Sector, rec.SizeCode}
		w.writeBytes(id)

		digest := engine.NewDigest()
		digest.Write([]byte{markIDAM})
		digest.Write(id)
		headerCRC := uint16(digest.Sum())
		w.writeByte(byte(headerCRC >> 8))
		w.writeByte(byte(headerCRC))

		if rec.Data == nil {
			for i := 0; i < fmGap3Bytes; i++ {
				w.writeByte(fmGapFiller)
			}

			continue
		}

		for i := 0; i < fmGap2Bytes; i++ {
			w.writeByte(fmGapFiller)
		}
		for i := 0; i < fmPreSyncOnes; i++ {
			w.writeByte(0x00)
		}

		damWord := fmDAMWord
		dam := byte(markDAM)
		if rec.Deleted {
			damWord = fmDelDAMWord
			dam = markDeletedDAM
		}
		w.writeMark(damWord)
		w.writeBytes(rec.Data)

		digest.Reset()
		digest.Write([]byte{dam})
		digest.Write(rec.Data)
		dataCRC := uint16(digest.Sum())
		w.writeByte(byte(dataCRC >> 8))
		w.writeByte(byte(dataCRC))

		for i := 0; i < fmGap3Bytes; i++ {
			w.writeByte(fmGapFiller)
		}
	}

	return b, nil
}
