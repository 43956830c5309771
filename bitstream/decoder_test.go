package bitstream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uftkit/uft/errs"
	"github.com/uftkit/uft/format"
)

func TestDecoder_Decode_InvalidInput(t *testing.T) {
	dec, err := NewDecoder()
	require.NoError(t, err)

	_, err = dec.Decode(context.Background(), nil)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	bad := New(8, 2000, format.EncodingMFM)
	bad.BitCount = 100
	_, err = dec.Decode(context.Background(), bad)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestDecoder_Decode_UnsupportedEncodings(t *testing.T) {
	dec, err := NewDecoder()
	require.NoError(t, err)

	b := New(64, 2000, format.EncodingUnknown)
	for i := 0; i < 64; i++ {
		b.AppendBit(byte(i & 1))
	}

	_, err = dec.Decode(context.Background(), b)
	require.ErrorIs(t, err, errs.ErrUnsupportedEncoding)
}

func TestDecoder_Decode_NoSyncMarks(t *testing.T) {
	dec, err := NewDecoder()
	require.NoError(t, err)

	// A track of pure gap bytes has no address marks at all.
	b := New(0, 2000, format.EncodingMFM)
	w := &mfmWriter{b: b}
	for i := 0; i < 256; i++ {
		w.writeByte(gapFiller)
	}

	res, err := dec.Decode(context.Background(), b)
	require.ErrorIs(t, err, errs.ErrNoSync)
	require.NotNil(t, res)
	require.Zero(t, res.SyncCount)
	require.Empty(t, res.Sectors)
}

func TestDecoder_WithDecodeEncoding_OverridesStreamTag(t *testing.T) {
	b, err := EncodeMFMTrack([]SectorRecord{fillSector(1, 0x22, 2)})
	require.NoError(t, err)
	b.Encoding = format.EncodingUnknown

	dec, err := NewDecoder(WithDecodeEncoding(format.EncodingMFM))
	require.NoError(t, err)

	res, err := dec.Decode(context.Background(), b)
	require.NoError(t, err)
	require.Len(t, res.Sectors, 1)
	require.True(t, res.Sectors[0].DataCRC.OK())
}

func TestDecoder_Decode_CancellationStopsHunt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b, err := EncodeMFMTrack([]SectorRecord{fillSector(1, 0, 2)})
	require.NoError(t, err)

	dec, err := NewDecoder()
	require.NoError(t, err)

	_, err = dec.Decode(ctx, b)
	require.ErrorIs(t, err, errs.ErrInvalidState)
}
