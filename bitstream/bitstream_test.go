package bitstream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uftkit/uft/errs"
	"github.com/uftkit/uft/format"
)

func TestBitstream_AppendBit_PacksMSBFirst(t *testing.T) {
	b := New(16, 2000, format.EncodingMFM)
	for _, bit := range []byte{1, 0, 1, 1, 0, 0, 1, 0, 1} {
		b.AppendBit(bit)
	}

	require.Equal(t, 9, b.BitCount)
	require.Equal(t, []byte{0xB2, 0x80}, b.Bits)
	require.Equal(t, byte(1), b.Bit(0))
	require.Equal(t, byte(0), b.Bit(1))
	require.Equal(t, byte(1), b.Bit(8))

	// Out-of-range reads are zero, not panics.
	require.Equal(t, byte(0), b.Bit(-1))
	require.Equal(t, byte(0), b.Bit(9))
}

func TestBitstream_Validate(t *testing.T) {
	b := New(8, 2000, format.EncodingMFM)
	b.AppendBit(1)
	require.NoError(t, b.Validate())

	b.BitCount = 9
	require.ErrorIs(t, b.Validate(), errs.ErrInvalidArgument)

	b.BitCount = 1
	b.WeakMask = []byte{0, 0}
	require.ErrorIs(t, b.Validate(), errs.ErrInvalidArgument)

	b.WeakMask = []byte{0}
	require.NoError(t, b.Validate())
}

func TestBitstream_WeakMask(t *testing.T) {
	b := New(32, 2000, format.EncodingMFM)
	for i := 0; i < 20; i++ {
		b.AppendBit(1)
	}

	require.False(t, b.Weak(5))
	require.Nil(t, b.WeakMask)

	b.SetWeak(5)
	b.SetWeak(19)
	b.SetWeak(25) // past BitCount, ignored

	require.True(t, b.Weak(5))
	require.True(t, b.Weak(19))
	require.False(t, b.Weak(6))
	require.Equal(t, 2, b.WeakCount())
	require.NoError(t, b.Validate())
}

func TestBitstream_SyncWeakMask_TracksAppends(t *testing.T) {
	b := New(8, 2000, format.EncodingMFM)
	b.AppendBit(1)
	b.SetWeak(0)

	for i := 0; i < 20; i++ {
		b.AppendBit(0)
	}
	b.SyncWeakMask()

	require.NoError(t, b.Validate())
	require.True(t, b.Weak(0))
	require.False(t, b.Weak(20))
}

func TestBitstream_Clone_IsDeep(t *testing.T) {
	b := New(8, 2000, format.EncodingMFM)
	b.AppendBit(1)
	b.AppendBit(0)
	b.SetWeak(0)

	clone := b.Clone()
	require.Equal(t, b, clone)

	clone.Bits[0] = 0
	clone.WeakMask[0] = 0
	require.Equal(t, byte(1), b.Bit(0))
	require.True(t, b.Weak(0))
}

func TestSectorRecord_ExpectedDataLen_Clamps(t *testing.T) {
	rec := SectorRecord{SizeCode: 2}
	require.Equal(t, 512, rec.ExpectedDataLen())

	rec.SizeCode = 7 // nominally 16384
	require.Equal(t, MaxSectorDataLen, rec.ExpectedDataLen())
}
