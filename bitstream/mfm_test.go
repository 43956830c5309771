package bitstream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uftkit/uft/format"
)

func fillSector(sector, seed byte, sizeCode uint8) SectorRecord {
	rec := SectorRecord{
		Cylinder: 5,
		Head:     1,
		Sector:   sector,
		SizeCode: sizeCode,
	}
	rec.Data = make([]byte, rec.ExpectedDataLen())
	for i := range rec.Data {
		rec.Data[i] = seed + byte(i)
	}

	return rec
}

func TestEncodeMFMTrack_DecodeRoundTrip(t *testing.T) {
	sectors := []SectorRecord{
		fillSector(1, 0x11, 2),
		fillSector(2, 0x47, 2),
		fillSector(3, 0xA0, 2),
	}
	sectors[1].Deleted = true

	b, err := EncodeMFMTrack(sectors)
	require.NoError(t, err)
	require.Equal(t, format.EncodingMFM, b.Encoding)

	dec, err := NewDecoder()
	require.NoError(t, err)

	res, err := dec.Decode(context.Background(), b)
	require.NoError(t, err)
	require.Len(t, res.Sectors, 3)
	require.Equal(t, 100, res.Confidence)

	for i, rec := range res.Sectors {
		require.Equal(t, sectors[i].Cylinder, rec.Cylinder)
		require.Equal(t, sectors[i].Head, rec.Head)
		require.Equal(t, sectors[i].Sector, rec.Sector)
		require.Equal(t, sectors[i].SizeCode, rec.SizeCode)
		require.True(t, rec.HeaderCRC.OK(), "sector %d header crc", i)
		require.True(t, rec.DataCRC.OK(), "sector %d data crc", i)
		require.Equal(t, sectors[i].Data, rec.Data)
		require.False(t, rec.Missing)
	}
	require.False(t, res.Sectors[0].Deleted)
	require.True(t, res.Sectors[1].Deleted)
}

func TestEncodeMFMTrack_HeaderOnlyRecord(t *testing.T) {
	headerOnly := SectorRecord{Cylinder: 2, Head: 0, Sector: 9, SizeCode: 2}

	b, err := EncodeMFMTrack([]SectorRecord{headerOnly})
	require.NoError(t, err)

	dec, err := NewDecoder()
	require.NoError(t, err)

	res, err := dec.Decode(context.Background(), b)
	require.NoError(t, err)
	require.Len(t, res.Sectors, 1)

	rec := res.Sectors[0]
	require.True(t, rec.HeaderCRC.OK())
	require.Equal(t, CrcNotChecked, rec.DataCRC.State)
	require.Nil(t, rec.Data)
	require.False(t, rec.Missing)
}

func TestEncodeMFMTrack_RejectsBadInput(t *testing.T) {
	_, err := EncodeMFMTrack(nil)
	require.Error(t, err)

	bad := fillSector(1, 0, 2)
	bad.Data = bad.Data[:100]
	_, err = EncodeMFMTrack([]SectorRecord{bad})
	require.Error(t, err)
}

func TestDecoder_Decode_MFMCorruptedDataFailsCRC(t *testing.T) {
	sectors := []SectorRecord{fillSector(1, 0x11, 2)}

	b, err := EncodeMFMTrack(sectors)
	require.NoError(t, err)

	dec, err := NewDecoder()
	require.NoError(t, err)

	clean, err := dec.Decode(context.Background(), b)
	require.NoError(t, err)
	require.Len(t, clean.Sectors, 1)

	// First data bit of the payload: past the ID record, gap2, the pre-sync
	// zeros, the sync train and the data mark.
	idEnd := clean.Sectors[0].IDBitOffset + 48 + 16 + 6*16
	dataPos := idEnd + (mfmGap2Bytes+mfmPreSyncZeros)*16 + 48 + 16

	corrupt := b.Clone()
	corrupt.Bits[(dataPos+1)>>3] ^= 1 << (7 - uint((dataPos+1)&7))

	res, err := dec.Decode(context.Background(), corrupt)
	require.NoError(t, err)
	require.Len(t, res.Sectors, 1)

	rec := res.Sectors[0]
	require.True(t, rec.HeaderCRC.OK())
	require.Equal(t, CrcMismatch, rec.DataCRC.State)
	require.NotEqual(t, rec.DataCRC.Stored, rec.DataCRC.Computed)
	require.NotEqual(t, sectors[0].Data[0], rec.Data[0])
	require.Equal(t, 50, res.Confidence)
}

func TestDecoder_Decode_MFMWeakBitsSurfaceOnRecord(t *testing.T) {
	b, err := EncodeMFMTrack([]SectorRecord{fillSector(1, 0, 2), fillSector(2, 1, 2)})
	require.NoError(t, err)

	dec, err := NewDecoder()
	require.NoError(t, err)

	res, err := dec.Decode(context.Background(), b)
	require.NoError(t, err)
	require.Len(t, res.Sectors, 2)

	// Flag a bit inside the first record's span weak.
	b.SetWeak(res.Sectors[0].IDBitOffset + 100)

	res, err = dec.Decode(context.Background(), b)
	require.NoError(t, err)
	require.True(t, res.Sectors[0].WeakPresent)
	require.False(t, res.Sectors[1].WeakPresent)
}

func TestDecoder_Decode_MFMSizeCodeClampWarns(t *testing.T) {
	b, err := EncodeMFMTrack([]SectorRecord{fillSector(1, 0x55, 7)})
	require.NoError(t, err)

	dec, err := NewDecoder()
	require.NoError(t, err)

	res, err := dec.Decode(context.Background(), b)
	require.NoError(t, err)
	require.Len(t, res.Sectors, 1)
	require.Len(t, res.Sectors[0].Data, MaxSectorDataLen)
	require.True(t, res.Sectors[0].DataCRC.OK())
	require.Equal(t, 1, res.Warnings.Len())
}

func TestEncodeFMTrack_DecodeRoundTrip(t *testing.T) {
	sectors := []SectorRecord{
		fillSector(1, 0x31, 0), // 128-byte single density sectors
		fillSector(2, 0x77, 0),
	}
	sectors[1].Deleted = true

	b, err := EncodeFMTrack(sectors)
	require.NoError(t, err)
	require.Equal(t, format.EncodingFM, b.Encoding)

	dec, err := NewDecoder()
	require.NoError(t, err)

	res, err := dec.Decode(context.Background(), b)
	require.NoError(t, err)
	require.Len(t, res.Sectors, 2)
	require.Equal(t, 100, res.Confidence)

	for i, rec := range res.Sectors {
		require.Equal(t, sectors[i].Sector, rec.Sector)
		require.True(t, rec.HeaderCRC.OK(), "sector %d header crc", i)
		require.True(t, rec.DataCRC.OK(), "sector %d data crc", i)
		require.Equal(t, sectors[i].Data, rec.Data)
	}
	require.True(t, res.Sectors[1].Deleted)
}

func TestDecoder_Decode_TruncatedDataRecordIsMissing(t *testing.T) {
	b, err := EncodeMFMTrack([]SectorRecord{fillSector(1, 0x11, 2)})
	require.NoError(t, err)

	dec, err := NewDecoder()
	require.NoError(t, err)

	clean, err := dec.Decode(context.Background(), b)
	require.NoError(t, err)

	// Cut the track just past the data mark, leaving the payload
	// unreachable.
	idEnd := clean.Sectors[0].IDBitOffset + 48 + 16 + 6*16
	cut := idEnd + (mfmGap2Bytes+mfmPreSyncZeros)*16 + 48 + 16 + 64

	b.BitCount = cut
	b.Bits = b.Bits[:(cut+7)/8]

	res, err := dec.Decode(context.Background(), b)
	require.NoError(t, err)
	require.Len(t, res.Sectors, 1)
	require.True(t, res.Sectors[0].Missing)
	require.Nil(t, res.Sectors[0].Data)
}
