// Package bitstream holds the clocked-bit track representation and the
// decoders that turn it into sector records.
//
// A Bitstream is what the flux PLL emits: packed bits (MSB-first within each
// byte), a nominal bit-cell period, an encoding tag and an optional parallel
// weak-bit mask. The sector decoders in this package scan it for sync marks
// and extract ID and data records for the MFM, FM and GCR encoding families.
package bitstream

import (
	"fmt"

	"github.com/uftkit/uft/errs"
	"github.com/uftkit/uft/format"
)

// MaxSectorDataLen clamps sector payloads. Size code 7 nominally means
// 16384 bytes but no supported format exceeds 8192; larger reads are
// truncated with a warning.
const MaxSectorDataLen = 8192

// Bitstream is a packed MSB-first bit array with clocking metadata.
type Bitstream struct {
	// Bits holds the packed bits, MSB-first within each byte. Only the
	// first BitCount bits are meaningful.
	Bits []byte
	// BitCount is the number of valid bits in Bits.
	BitCount int
	// CellNs is the nominal bit-cell period in nanoseconds.
	CellNs uint32
	// Encoding tags how the bits were clocked off the medium.
	Encoding format.Encoding
	// WeakMask, when non-nil, is a parallel bit-per-bit mask flagging
	// positions whose value is not stable across revolutions. Its length
	// is ceil(BitCount/8) bytes.
	WeakMask []byte
}

// New allocates an empty bitstream with capacity for capBits bits.
func New(capBits int, cellNs uint32, encoding format.Encoding) *Bitstream {
	return &Bitstream{
		Bits:     make([]byte, 0, (capBits+7)/8),
		CellNs:   cellNs,
		Encoding: encoding,
	}
}

// Validate checks the structural invariants: the bit count fits the backing
// array and any weak mask covers exactly the bit count.
func (b *Bitstream) Validate() error {
	if b.BitCount < 0 || b.BitCount > 8*len(b.Bits) {
		return fmt.Errorf("%w: bit count %d exceeds %d stored bits",
			errs.ErrInvalidArgument, b.BitCount, 8*len(b.Bits))
	}
	if b.WeakMask != nil && len(b.WeakMask) != (b.BitCount+7)/8 {
		return fmt.Errorf("%w: weak mask length %d, want %d",
			errs.ErrInvalidArgument, len(b.WeakMask), (b.BitCount+7)/8)
	}

	return nil
}

// Bit returns bit i (0 or 1). Out-of-range reads return 0.
func (b *Bitstream) Bit(i int) byte {
	if i < 0 || i >= b.BitCount {
		return 0
	}

	return (b.Bits[i>>3] >> (7 - uint(i&7))) & 1
}

// AppendBit appends one bit, growing the backing array as needed.
func (b *Bitstream) AppendBit(bit byte) {
	if b.BitCount&7 == 0 {
		b.Bits = append(b.Bits, 0)
	}
	if bit != 0 {
		b.Bits[b.BitCount>>3] |= 1 << (7 - uint(b.BitCount&7))
	}
	b.BitCount++
}

// Weak reports whether bit i is flagged weak.
func (b *Bitstream) Weak(i int) bool {
	if b.WeakMask == nil || i < 0 || i>>3 >= len(b.WeakMask) {
		return false
	}

	return (b.WeakMask[i>>3]>>(7-uint(i&7)))&1 != 0
}

// SetWeak flags bit i as weak, allocating the mask on first use.
func (b *Bitstream) SetWeak(i int) {
	if i < 0 || i >= b.BitCount {
		return
	}
	need := (b.BitCount + 7) / 8
	if len(b.WeakMask) < need {
		grown := make([]byte, need)
		copy(grown, b.WeakMask)
		b.WeakMask = grown
	}
	b.WeakMask[i>>3] |= 1 << (7 - uint(i&7))
}

// SyncWeakMask resizes an existing weak mask to match BitCount. Called after
// appends so the invariant len(mask) == ceil(BitCount/8) holds.
func (b *Bitstream) SyncWeakMask() {
	if b.WeakMask == nil {
		return
	}
	need := (b.BitCount + 7) / 8
	for len(b.WeakMask) < need {
		b.WeakMask = append(b.WeakMask, 0)
	}
	b.WeakMask = b.WeakMask[:need]
}

// WeakCount returns the number of weak-flagged bits.
func (b *Bitstream) WeakCount() int {
	count := 0
	for i := 0; i < b.BitCount; i++ {
		if b.Weak(i) {
			count++
		}
	}

	return count
}

// Clone returns a deep copy.
func (b *Bitstream) Clone() *Bitstream {
	out := &Bitstream{
		Bits:     append([]byte(nil), b.Bits...),
		BitCount: b.BitCount,
		CellNs:   b.CellNs,
		Encoding: b.Encoding,
	}
	if b.WeakMask != nil {
		out.WeakMask = append([]byte(nil), b.WeakMask...)
	}

	return out
}
