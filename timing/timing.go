// Package timing is the timing-preserving overlay of the track IR.
//
// It records per-bit clock-cell deviation from the flux stage as compact
// dense entries plus sparse aggregated regions, detects copy-protection
// timing patterns (Speedlock-style anomalies, long/short tracks, weak-bit
// regions, abnormal sync runs), and round-trips through the binary UTIM
// envelope bit-for-bit.
package timing

import (
	"math"

	"github.com/uftkit/uft/format"
)

const (
	// DefaultResolutionNs is the delta quantum of dense entries.
	DefaultResolutionNs = 10

	// MaxEntries caps the dense entry table per track.
	MaxEntries = 65536

	// DefaultAnomalyThresholdPct is the cell-delta percentage past which a
	// region is considered anomalous.
	DefaultAnomalyThresholdPct = 15
)

// EntryFlags classifies one dense entry.
type EntryFlags uint8

const (
	FlagNormal  EntryFlags = 0
	FlagAnomaly EntryFlags = 1 << 0
	FlagWeak    EntryFlags = 1 << 1
	FlagSync    EntryFlags = 1 << 2
	FlagGap     EntryFlags = 1 << 3
)

// Entry is one compact timing sample: the bit offset within a 64K wrap
// window, the cell delta in resolution units, and classification flags.
type Entry struct {
	BitOffset uint16
	DeltaRes  int8 // delta in units of the recording resolution
	Flags     EntryFlags
}

// Region aggregates a contiguous bit range sharing one timing behaviour.
// Spans are half-open [StartBit, EndBit) and strictly increasing across a
// track's region array.
type Region struct {
	StartBit       uint32
	EndBit         uint32
	Kind           format.RegionKind
	ExpectedCellNs uint16
	MeanDeltaNs    int16
	VarianceNs     uint32
	MaxDeviationNs uint16
}

// Bits returns the region's span length.
func (r Region) Bits() uint32 {
	if r.EndBit <= r.StartBit {
		return 0
	}

	return r.EndBit - r.StartBit
}

// SectorTiming locates one sector's bit span and its mean cell delta.
type SectorTiming struct {
	Sector      uint8
	StartBit    uint32
	EndBit      uint32
	MeanDeltaNs int16
}

// TrackTiming is the per-track timing overlay. Track is the canonical
// doubled track number (2*cylinder + half-track), matching the rest of the
// IR's track keying.
//
// Everything here serializes; derived values (RPM, mean delta, variance,
// protection verdict) are methods so the round-trip law stays exact.
type TrackTiming struct {
	Track         uint16
	Side          uint8
	NominalCellNs uint16
	RevolutionNs  uint32
	ResolutionNs  uint8

	Sectors []SectorTiming
	Entries []Entry
	Regions []Region
}

// NewTrackTiming creates an empty overlay for a track.
func NewTrackTiming(track uint16, side uint8, nominalCellNs uint16, revolutionNs uint32) *TrackTiming {
	return &TrackTiming{
		Track:         track,
		Side:          side,
		NominalCellNs: nominalCellNs,
		RevolutionNs:  revolutionNs,
		ResolutionNs:  DefaultResolutionNs,
	}
}

// AddEntry appends a dense entry, growing the array by doubling and
// dropping samples past the MaxEntries quota.
func (t *TrackTiming) AddEntry(e Entry) bool {
	if len(t.Entries) >= MaxEntries {
		return false
	}
	if len(t.Entries) == cap(t.Entries) {
		grown := make([]Entry, len(t.Entries), max(8, cap(t.Entries)*2))
		copy(grown, t.Entries)
		t.Entries = grown
	}
	t.Entries = append(t.Entries, e)

	return true
}

// RPMx10 derives the measured rotation speed, in tenths of a revolution
// per minute, from the revolution time.
func (t *TrackTiming) RPMx10() uint16 {
	if t.RevolutionNs == 0 {
		return 0
	}

	return uint16(math.Round(600e9 / float64(t.RevolutionNs)))
}

// MeanCellDeltaNs is the mean cell deviation over the recorded entries.
func (t *TrackTiming) MeanCellDeltaNs() float64 {
	if len(t.Entries) == 0 {
		return 0
	}

	var sum float64
	for _, e := range t.Entries {
		sum += float64(e.DeltaRes) * float64(t.ResolutionNs)
	}

	return sum / float64(len(t.Entries))
}

// CellVarianceNs is the cell deviation variance over the recorded entries.
func (t *TrackTiming) CellVarianceNs() float64 {
	n := len(t.Entries)
	if n < 2 {
		return 0
	}

	mean := t.MeanCellDeltaNs()
	var sum float64
	for _, e := range t.Entries {
		d := float64(e.DeltaRes)*float64(t.ResolutionNs) - mean
		sum += d * d
	}

	return sum / float64(n-1)
}

// Clone returns a deep copy of the overlay.
func (t *TrackTiming) Clone() *TrackTiming {
	out := *t
	out.Sectors = append([]SectorTiming(nil), t.Sectors...)
	out.Entries = append([]Entry(nil), t.Entries...)
	out.Regions = append([]Region(nil), t.Regions...)

	return &out
}
