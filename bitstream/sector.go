package bitstream

import "github.com/uftkit/uft/format"

// CrcState classifies a record checksum comparison.
type CrcState uint8

const (
	CrcNotChecked CrcState = iota // no data reached the checksum stage
	CrcOK
	CrcMismatch
)

// CrcVerdict carries the outcome of one checksum comparison together with
// the stored and computed values, so protection analysis can inspect
// deliberate mismatches.
type CrcVerdict struct {
	State    CrcState
	Stored   uint32
	Computed uint32
}

// OK reports whether the checksum verified.
func (v CrcVerdict) OK() bool {
	return v.State == CrcOK
}

func (s CrcState) String() string {
	switch s {
	case CrcOK:
		return "ok"
	case CrcMismatch:
		return "mismatch"
	default:
		return "not-checked"
	}
}

// SectorRecord is one decoded sector: the ID fields from the address mark
// and, when found, the data payload with its checksum verdict.
//
// A record with a failed header CRC is still emitted (position matters to
// protection analysis). A record whose data mark never arrived has nil Data
// and Missing set.
type SectorRecord struct {
	Cylinder uint8
	Head     uint8
	Sector   uint8
	SizeCode uint8

	HeaderCRC CrcVerdict
	DataCRC   CrcVerdict

	// Deleted is set when the data mark was the deleted-data mark (F8).
	Deleted bool
	// Missing is set when an address mark had no reachable data record.
	Missing bool
	// WeakPresent is set when any bit of the record overlapped the
	// bitstream's weak mask.
	WeakPresent bool

	// Data is the sector payload, nil when Missing. Its length is
	// 128<<SizeCode clamped to MaxSectorDataLen.
	Data []byte

	Encoding format.Encoding

	// IDBitOffset is the bit position of the record's address mark in the
	// source bitstream, for timing correlation.
	IDBitOffset int
}

// ExpectedDataLen returns 128<<SizeCode clamped to MaxSectorDataLen.
func (r *SectorRecord) ExpectedDataLen() int {
	n := 128 << r.SizeCode
	if n > MaxSectorDataLen {
		return MaxSectorDataLen
	}

	return n
}

// Clone returns a deep copy of the record.
func (r *SectorRecord) Clone() SectorRecord {
	out := *r
	if r.Data != nil {
		out.Data = append([]byte(nil), r.Data...)
	}

	return out
}
