package timing

import (
	"math"

	"github.com/uftkit/uft/format"
)

// Protection heuristics thresholds.
const (
	// speedlockMinBits is the minimum anomalous span for a Speedlock-style
	// verdict.
	speedlockMinBits = 500
	// speedlockMinDevNs is the minimum peak deviation inside that span.
	speedlockMinDevNs = 200

	// longRegionBits flags a sustained anomaly covering most of a track.
	longRegionBits = 50000

	// weakRegionQuorum is how many distinct weak regions suggest a
	// deliberate weak-bit scheme rather than dropout.
	weakRegionQuorum = 3

	// trackLengthTolerancePct is the bit-length deviation past which a
	// track counts as mastered long or short.
	trackLengthTolerancePct = 3
)

// Protection is the timing analyzer's verdict for one track.
type Protection struct {
	Detected bool
	Kind     format.ProtectionKind
	// StartBit and Length locate the triggering region when the verdict is
	// region-based; both are zero for whole-track verdicts.
	StartBit uint32
	Length   uint32
}

// DetectProtection classifies the overlay's timing patterns against known
// protection schemes. totalBits is the decoded track bit length, used for
// the long/short track check; pass 0 to skip it.
//
// The verdict is a pure function of the overlay's serialized fields, so a
// deserialized track reports the same result as the freshly recorded one.
func (t *TrackTiming) DetectProtection(totalBits int) Protection {
	var weakRegions []Region

	for _, r := range t.Regions {
		switch r.Kind {
		case format.RegionAnomaly:
			if r.Bits() > longRegionBits {
				return Protection{
					Detected: true,
					Kind:     format.ProtectionLongTrack,
					StartBit: r.StartBit,
					Length:   r.Bits(),
				}
			}
			if r.Bits() >= speedlockMinBits && r.MaxDeviationNs > speedlockMinDevNs {
				return Protection{
					Detected: true,
					Kind:     format.ProtectionSpeedlockLike,
					StartBit: r.StartBit,
					Length:   r.Bits(),
				}
			}
		case format.RegionSync:
			if r.Bits() > syncRunBits {
				return Protection{
					Detected: true,
					Kind:     format.ProtectionLongSync,
					StartBit: r.StartBit,
					Length:   r.Bits(),
				}
			}
		case format.RegionWeak:
			weakRegions = append(weakRegions, r)
		}
	}

	if len(weakRegions) >= weakRegionQuorum {
		return Protection{
			Detected: true,
			Kind:     format.ProtectionWeakBit,
			StartBit: weakRegions[0].StartBit,
			Length:   weakRegions[len(weakRegions)-1].EndBit - weakRegions[0].StartBit,
		}
	}

	if totalBits > 0 && t.NominalCellNs > 0 && t.RevolutionNs > 0 {
		nominalBits := float64(t.RevolutionNs) / float64(t.NominalCellNs)
		devPct := (float64(totalBits) - nominalBits) / nominalBits * 100
		if math.Abs(devPct) > trackLengthTolerancePct {
			kind := format.ProtectionLongTrack
			if devPct < 0 {
				kind = format.ProtectionShortTrack
			}

			return Protection{Detected: true, Kind: kind}
		}
	}

	return Protection{Kind: format.ProtectionNone}
}
