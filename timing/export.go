package timing

import (
	"encoding/json"
	"fmt"

	"github.com/uftkit/uft/errs"
)

// maxJSONEntries caps the dense entry dump in JSON exports; past it the
// export truncates and says so.
const maxJSONEntries = 1000

type jsonEntry struct {
	BitOffset uint16 `json:"bit_offset"`
	DeltaNs   int    `json:"delta_ns"`
	Flags     uint8  `json:"flags"`
}

type jsonRegion struct {
	StartBit       uint32 `json:"start_bit"`
	EndBit         uint32 `json:"end_bit"`
	Kind           string `json:"kind"`
	ExpectedCellNs uint16 `json:"expected_cell_ns"`
	MeanDeltaNs    int16  `json:"mean_delta_ns"`
	VarianceNs     uint32 `json:"variance_ns"`
	MaxDeviationNs uint16 `json:"max_deviation_ns"`
}

type jsonSector struct {
	Sector      uint8  `json:"sector"`
	StartBit    uint32 `json:"start_bit"`
	EndBit      uint32 `json:"end_bit"`
	MeanDeltaNs int16  `json:"mean_delta_ns"`
}

type jsonTrack struct {
	Track            uint16       `json:"track"`
	Side             uint8        `json:"side"`
	NominalCellNs    uint16       `json:"nominal_cell_ns"`
	RevolutionNs     uint32       `json:"revolution_ns"`
	RPMx10           uint16       `json:"rpm_x10"`
	MeanCellDeltaNs  float64      `json:"mean_cell_delta_ns"`
	CellVarianceNs   float64      `json:"cell_variance_ns"`
	Protection       string       `json:"protection"`
	Sectors          []jsonSector `json:"sectors,omitempty"`
	Regions          []jsonRegion `json:"regions,omitempty"`
	Entries          []jsonEntry  `json:"entries,omitempty"`
	EntriesTruncated bool         `json:"entries_truncated,omitempty"`
	EntryCount       int          `json:"entry_count"`
}

// ExportJSON renders the overlay for humans and external tooling. Dense
// entries are truncated past the first thousand; the full table travels in
// the UTIM envelope, not here.
func ExportJSON(t *TrackTiming) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil track timing", errs.ErrInvalidArgument)
	}

	out := jsonTrack{
		Track:           t.Track,
		Side:            t.Side,
		NominalCellNs:   t.NominalCellNs,
		RevolutionNs:    t.RevolutionNs,
		RPMx10:          t.RPMx10(),
		MeanCellDeltaNs: t.MeanCellDeltaNs(),
		CellVarianceNs:  t.CellVarianceNs(),
		Protection:      t.DetectProtection(0).Kind.String(),
		EntryCount:      len(t.Entries),
	}

	for _, s := range t.Sectors {
		out.Sectors = append(out.Sectors, jsonSector(s))
	}
	for _, r := range t.Regions {
		out.Regions = append(out.Regions, jsonRegion{
			StartBit:       r.StartBit,
			EndBit:         r.EndBit,
			Kind:           r.Kind.String(),
			ExpectedCellNs: r.ExpectedCellNs,
			MeanDeltaNs:    r.MeanDeltaNs,
			VarianceNs:     r.VarianceNs,
			MaxDeviationNs: r.MaxDeviationNs,
		})
	}

	entries := t.Entries
	if len(entries) > maxJSONEntries {
		entries = entries[:maxJSONEntries]
		out.EntriesTruncated = true
	}
	resolution := int(t.ResolutionNs)
	if resolution == 0 {
		resolution = DefaultResolutionNs
	}
	for _, e := range entries {
		out.Entries = append(out.Entries, jsonEntry{
			BitOffset: e.BitOffset,
			DeltaNs:   int(e.DeltaRes) * resolution,
			Flags:     uint8(e.Flags),
		})
	}

	return json.MarshalIndent(out, "", "  ")
}
