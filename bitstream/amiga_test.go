package bitstream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uftkit/uft/format"
)

// amigaSplit separates a longword into its odd-bits and even-bits encoded
// halves with zero clock bits, the inverse of amigaDecodeLong.
func amigaSplit(v uint32) (odd, even uint32) {
	return v >> 1 & 0x55555555, v & 0x55555555
}

func appendLong(b *Bitstream, v uint32) {
	for i := 31; i >= 0; i-- {
		b.AppendBit(byte(v >> uint(i) & 1))
	}
}

// amigaTrackSector appends one encoded trackdisk sector with valid
// checksums.
func amigaTrackSector(b *Bitstream, track, sector byte, data []byte) {
	info := uint32(amigaFormatByte)<<24 | uint32(track)<<16 | uint32(sector)<<8 | 1

	raw := make([]uint32, 0, 270)
	infoOdd, infoEven := amigaSplit(info)
	raw = append(raw, infoOdd, infoEven)
	for i := 0; i < 8; i++ {
		raw = append(raw, 0) // blank label area
	}

	var hdrSum uint32
	for _, v := range raw[:10] {
		hdrSum ^= v
	}
	sumOdd, sumEven := amigaSplit(hdrSum & 0x55555555)
	raw = append(raw, sumOdd, sumEven)

	// Odd halves of all data longs first, then all even halves.
	longs := make([]uint32, amigaDataLongs)
	for i := range longs {
		longs[i] = uint32(data[i*4])<<24 | uint32(data[i*4+1])<<16 |
			uint32(data[i*4+2])<<8 | uint32(data[i*4+3])
	}
	dataRaw := make([]uint32, 0, 2*amigaDataLongs)
	for _, long := range longs {
		odd, _ := amigaSplit(long)
		dataRaw = append(dataRaw, odd)
	}
	for _, long := range longs {
		_, even := amigaSplit(long)
		dataRaw = append(dataRaw, even)
	}

	var dataSum uint32
	for _, v := range dataRaw {
		dataSum ^= v
	}
	dSumOdd, dSumEven := amigaSplit(dataSum & 0x55555555)
	raw = append(raw, dSumOdd, dSumEven)
	raw = append(raw, dataRaw...)

	// Gap filler, then the doubled A1 sync.
	for i := 0; i < 2; i++ {
		appendLong(b, 0xAAAAAAAA)
	}
	appendLong(b, uint32(amigaSyncWord))
	for _, v := range raw {
		appendLong(b, v)
	}
}

func TestAmigaChecksum_EndAroundCarry(t *testing.T) {
	require.Equal(t, uint32(0), AmigaChecksum(nil))
	require.Equal(t, uint32(0x01020304), AmigaChecksum([]byte{1, 2, 3, 4}))

	// Two maxed longwords wrap the carry back into bit zero.
	sum := AmigaChecksum([]byte{
		0xFF, 0xFF, 0xFF, 0xFF,
		0xFF, 0xFF, 0xFF, 0xFF,
	})
	require.Equal(t, uint32(0xFFFFFFFF), sum)

	// Trailing bytes pad with zeros.
	require.Equal(t, uint32(0x05000000), AmigaChecksum([]byte{5}))
}

func TestDecoder_Decode_AmigaSectors(t *testing.T) {
	b := New(0, 2000, format.EncodingAmigaMFM)

	data0 := make([]byte, amigaSectorBytes)
	data1 := make([]byte, amigaSectorBytes)
	for i := range data0 {
		data0[i] = byte(i)
		data1[i] = byte(255 - i%256)
	}

	amigaTrackSector(b, 3, 0, data0) // cylinder 1, head 1
	amigaTrackSector(b, 3, 1, data1)

	dec, err := NewDecoder()
	require.NoError(t, err)

	res, err := dec.Decode(context.Background(), b)
	require.NoError(t, err)
	require.Len(t, res.Sectors, 2)
	require.Equal(t, 100, res.Confidence)

	for i, rec := range res.Sectors {
		require.Equal(t, byte(1), rec.Cylinder)
		require.Equal(t, byte(1), rec.Head)
		require.Equal(t, byte(i), rec.Sector)
		require.Equal(t, uint8(2), rec.SizeCode)
		require.True(t, rec.HeaderCRC.OK(), "sector %d header checksum", i)
		require.True(t, rec.DataCRC.OK(), "sector %d data checksum", i)
	}
	require.Equal(t, data0, res.Sectors[0].Data)
	require.Equal(t, data1, res.Sectors[1].Data)
}

func TestDecoder_Decode_AmigaTruncatedSectorWarns(t *testing.T) {
	b := New(0, 2000, format.EncodingAmigaMFM)
	appendLong(b, 0xAAAAAAAA)
	appendLong(b, uint32(amigaSyncWord))
	appendLong(b, 0x11111111) // far short of a full sector

	dec, err := NewDecoder()
	require.NoError(t, err)

	res, err := dec.Decode(context.Background(), b)
	require.NoError(t, err)
	require.Empty(t, res.Sectors)
	require.Equal(t, 1, res.Warnings.Len())
}
