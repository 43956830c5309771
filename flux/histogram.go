package flux

import (
	"sort"

	"github.com/uftkit/uft/format"
)

// Histogram parameters: 100ns bins up to 10us.
const (
	histBinNs   = 100
	histBinMax  = 100
	histRangeNs = histBinNs * histBinMax
)

// histCluster is one peak in the interval histogram: a contiguous run of
// populated bins around a local maximum.
type histCluster struct {
	centerUs float64
	count    int
}

// DetectEncoding builds an interval histogram and classifies the encoding
// from its peak structure. Returns the encoding and a 0..100 confidence.
//
// Classification rules, in order:
//   - peaks near 4/6/8us, or 4/6us alone: MFM double density (payloads
//     without the 4-cell run pattern never produce the 8us interval)
//   - peaks near 8 and 4us with no 6us peak (or 8/16us captures folded into
//     the 10us range): FM
//   - a single dominant cluster with first peak near 4us: Amiga MFM (the
//     2us-cell Amiga tracks show one tall 4us peak on formatted gaps)
//   - first peak near 3us with a secondary near 4us: GCR, defaulting to C64
//   - anything else: Unknown, low confidence
func DetectEncoding(f *Flux) (format.Encoding, int) {
	bins := make([]int, histBinMax)
	tickNs := f.TickNs()

	total := 0
	for _, interval := range f.Intervals {
		ns := float64(interval) * tickNs
		if ns >= histRangeNs {
			continue
		}
		bins[int(ns)/histBinNs]++
		total++
	}

	if total == 0 {
		return format.EncodingUnknown, 0
	}

	clusters := findClusters(bins)
	if len(clusters) == 0 {
		return format.EncodingUnknown, 0
	}

	// Most populated first; ties resolve to the lower-microsecond peak.
	byCount := append([]histCluster(nil), clusters...)
	sort.SliceStable(byCount, func(i, j int) bool {
		if byCount[i].count != byCount[j].count {
			return byCount[i].count > byCount[j].count
		}

		return byCount[i].centerUs < byCount[j].centerUs
	})
	if len(byCount) > 3 {
		byCount = byCount[:3]
	}

	// Position order for structural matching.
	byPos := append([]histCluster(nil), byCount...)
	sort.Slice(byPos, func(i, j int) bool { return byPos[i].centerUs < byPos[j].centerUs })

	near := func(c histCluster, us float64) bool {
		return c.centerUs > us-0.7 && c.centerUs < us+0.7
	}

	switch {
	case len(byPos) >= 3 && near(byPos[0], 4) && near(byPos[1], 6) && near(byPos[2], 8):
		return format.EncodingMFM, 95

	case len(byPos) == 2 && near(byPos[0], 4) && near(byPos[1], 6):
		return format.EncodingMFM, 85

	case len(byPos) == 2 && near(byPos[0], 4) && near(byPos[1], 8):
		return format.EncodingFM, 90

	case len(byPos) == 2 && near(byPos[0], 8):
		// 8/16us single density; the 16us peak folds past the histogram
		// range, leaving 8us dominant with stragglers.
		return format.EncodingFM, 75

	case len(byPos) == 1 && near(byPos[0], 4):
		return format.EncodingAmigaMFM, 80

	case len(byPos) >= 2 && near(byPos[0], 3) && near(byPos[1], 4):
		return format.EncodingGCRC64, 85

	case len(byPos) == 1 && near(byPos[0], 8):
		return format.EncodingFM, 70
	}

	return format.EncodingUnknown, 20
}

// findClusters groups contiguous bins above a noise threshold into peaks.
func findClusters(bins []int) []histCluster {
	maxCount := 0
	for _, c := range bins {
		if c > maxCount {
			maxCount = c
		}
	}
	if maxCount == 0 {
		return nil
	}

	// Bins below 1/8 of the tallest peak are jitter noise.
	threshold := maxCount / 8
	if threshold < 1 {
		threshold = 1
	}

	var clusters []histCluster
	i := 0
	for i < len(bins) {
		if bins[i] < threshold {
			i++
			continue
		}

		count := 0
		weighted := 0.0
		for i < len(bins) && bins[i] >= threshold {
			count += bins[i]
			weighted += float64(bins[i]) * (float64(i)*histBinNs + histBinNs/2)
			i++
		}
		clusters = append(clusters, histCluster{
			centerUs: weighted / float64(count) / 1000,
			count:    count,
		})
	}

	return clusters
}
