package timing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uftkit/uft/bitstream"
	"github.com/uftkit/uft/errs"
	"github.com/uftkit/uft/flux"
	"github.com/uftkit/uft/format"
)

// testFlux builds a capture at 1ns ticks from interval durations in ns.
func testFlux(intervalsNs ...uint32) *flux.Flux {
	return &flux.Flux{
		Intervals:    intervalsNs,
		SampleRateHz: 1e9,
	}
}

func repeatIntervals(dst []uint32, ns uint32, n int) []uint32 {
	for i := 0; i < n; i++ {
		dst = append(dst, ns)
	}

	return dst
}

func TestRecorder_Record_CleanTrackHasNoRegions(t *testing.T) {
	rec, err := NewRecorder()
	require.NoError(t, err)

	// 500 exact double cells of MFM timing.
	f := testFlux(repeatIntervals(nil, 4000, 500)...)

	tt, err := rec.Record(f, 10, 0, format.EncodingMFM)
	require.NoError(t, err)
	require.Equal(t, uint16(10), tt.Track)
	require.Equal(t, uint16(2000), tt.NominalCellNs)
	require.Equal(t, uint32(500*4000), tt.RevolutionNs)
	require.Empty(t, tt.Regions)
	require.Empty(t, tt.Entries)
	require.False(t, tt.DetectProtection(0).Detected)
}

func TestRecorder_Record_AnomalousRegionTriggersSpeedlockVerdict(t *testing.T) {
	rec, err := NewRecorder()
	require.NoError(t, err)

	// 200 clean double cells, then 300 intervals running 20% slow (600
	// bits, 400ns per cell), then clean again.
	intervals := repeatIntervals(nil, 4000, 200)
	intervals = repeatIntervals(intervals, 4800, 300)
	intervals = repeatIntervals(intervals, 4000, 200)

	tt, err := rec.Record(testFlux(intervals...), 0, 0, format.EncodingMFM)
	require.NoError(t, err)

	require.Len(t, tt.Regions, 1)
	region := tt.Regions[0]
	require.Equal(t, format.RegionAnomaly, region.Kind)
	require.Equal(t, uint32(400), region.StartBit)
	require.Equal(t, uint32(1000), region.EndBit)
	require.Equal(t, int16(400), region.MeanDeltaNs)
	require.Equal(t, uint16(400), region.MaxDeviationNs)

	// Dense entries cover the anomalous intervals only.
	require.Len(t, tt.Entries, 300)
	require.Equal(t, int8(40), tt.Entries[0].DeltaRes)
	require.Equal(t, FlagAnomaly, tt.Entries[0].Flags)

	verdict := tt.DetectProtection(0)
	require.True(t, verdict.Detected)
	require.Equal(t, format.ProtectionSpeedlockLike, verdict.Kind)
	require.Equal(t, uint32(400), verdict.StartBit)
	require.Equal(t, uint32(600), verdict.Length)
}

func TestRecorder_Record_LongSyncRunDetected(t *testing.T) {
	rec, err := NewRecorder()
	require.NoError(t, err)

	// 1500 single-cell intervals form a sync run past the 1024 threshold.
	intervals := repeatIntervals(nil, 4000, 100)
	intervals = repeatIntervals(intervals, 2000, 1500)
	intervals = repeatIntervals(intervals, 4000, 100)

	tt, err := rec.Record(testFlux(intervals...), 0, 1, format.EncodingMFM)
	require.NoError(t, err)

	require.Len(t, tt.Regions, 1)
	require.Equal(t, format.RegionSync, tt.Regions[0].Kind)
	require.Equal(t, uint32(1500), tt.Regions[0].Bits())

	verdict := tt.DetectProtection(0)
	require.True(t, verdict.Detected)
	require.Equal(t, format.ProtectionLongSync, verdict.Kind)
}

func TestRecorder_Record_PreserveAllRecordsEveryInterval(t *testing.T) {
	rec, err := NewRecorder(WithPreserveAll(true))
	require.NoError(t, err)

	tt, err := rec.Record(testFlux(repeatIntervals(nil, 4000, 50)...), 0, 0, format.EncodingMFM)
	require.NoError(t, err)
	require.Len(t, tt.Entries, 50)
	require.Equal(t, FlagNormal, tt.Entries[0].Flags)
}

func TestRecorder_Record_EntryQuotaStopsRecording(t *testing.T) {
	rec, err := NewRecorder(WithPreserveAll(true), WithMaxEntries(16))
	require.NoError(t, err)

	tt, err := rec.Record(testFlux(repeatIntervals(nil, 4000, 100)...), 0, 0, format.EncodingMFM)
	require.NoError(t, err)
	require.Len(t, tt.Entries, 16)
}

func TestRecorder_Record_EmptyCaptureFails(t *testing.T) {
	rec, err := NewRecorder()
	require.NoError(t, err)

	_, err = rec.Record(testFlux(), 0, 0, format.EncodingMFM)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestNewRecorder_InvalidOptionsRejected(t *testing.T) {
	_, err := NewRecorder(WithResolution(0))
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = NewRecorder(WithAnomalyThreshold(0))
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = NewRecorder(WithMaxEntries(MaxEntries + 1))
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestTrackTiming_AddEntry_StopsAtQuota(t *testing.T) {
	tt := NewTrackTiming(0, 0, 2000, 0)
	for i := 0; i < MaxEntries; i++ {
		require.True(t, tt.AddEntry(Entry{BitOffset: uint16(i)}))
	}
	require.False(t, tt.AddEntry(Entry{}))
	require.Len(t, tt.Entries, MaxEntries)
}

func TestTrackTiming_RPMx10(t *testing.T) {
	// A 200ms revolution is 300.0 RPM.
	tt := NewTrackTiming(0, 0, 2000, 200_000_000)
	require.Equal(t, uint16(3000), tt.RPMx10())

	tt.RevolutionNs = 0
	require.Equal(t, uint16(0), tt.RPMx10())
}

func TestTrackTiming_DetectProtection_WeakRegionQuorum(t *testing.T) {
	tt := NewTrackTiming(0, 0, 2000, 0)
	for i := uint32(0); i < 3; i++ {
		tt.Regions = append(tt.Regions, Region{
			StartBit: i * 1000,
			EndBit:   i*1000 + 32,
			Kind:     format.RegionWeak,
		})
	}

	verdict := tt.DetectProtection(0)
	require.True(t, verdict.Detected)
	require.Equal(t, format.ProtectionWeakBit, verdict.Kind)

	// Two weak regions stay below the quorum.
	tt.Regions = tt.Regions[:2]
	require.False(t, tt.DetectProtection(0).Detected)
}

func TestTrackTiming_DetectProtection_TrackLength(t *testing.T) {
	// 200ms at 2us cells is a nominal 100000 bits.
	tt := NewTrackTiming(0, 0, 2000, 200_000_000)

	require.Equal(t, format.ProtectionLongTrack, tt.DetectProtection(105000).Kind)
	require.Equal(t, format.ProtectionShortTrack, tt.DetectProtection(95000).Kind)
	require.Equal(t, format.ProtectionNone, tt.DetectProtection(101000).Kind)
	require.Equal(t, format.ProtectionNone, tt.DetectProtection(0).Kind)
}

func TestMarkWeakRegions_FindsRuns(t *testing.T) {
	b := bitstream.New(64, 2000, format.EncodingMFM)
	for i := 0; i < 64; i++ {
		b.AppendBit(1)
	}
	for i := 10; i < 20; i++ {
		b.SetWeak(i)
	}
	b.SetWeak(40) // lone weak bit, below the region minimum

	tt := NewTrackTiming(0, 0, 2000, 0)
	MarkWeakRegions(tt, b)

	require.Len(t, tt.Regions, 1)
	require.Equal(t, format.RegionWeak, tt.Regions[0].Kind)
	require.Equal(t, uint32(10), tt.Regions[0].StartBit)
	require.Equal(t, uint32(20), tt.Regions[0].EndBit)
}

func TestMarkWeakRegions_KeepsRegionOrder(t *testing.T) {
	b := bitstream.New(3000, 2000, format.EncodingMFM)
	for i := 0; i < 3000; i++ {
		b.AppendBit(1)
	}
	// Early weak run, before the recorded anomaly span.
	for i := 4; i < 12; i++ {
		b.SetWeak(i)
	}
	// A second run past it.
	for i := 2600; i < 2640; i++ {
		b.SetWeak(i)
	}

	tt := NewTrackTiming(0, 0, 2000, 0)
	tt.Regions = []Region{
		{StartBit: 2000, EndBit: 2400, Kind: format.RegionAnomaly, ExpectedCellNs: 2000},
	}
	MarkWeakRegions(tt, b)

	require.Len(t, tt.Regions, 3)
	for i := 1; i < len(tt.Regions); i++ {
		require.Less(t, tt.Regions[i-1].StartBit, tt.Regions[i].StartBit,
			"region %d out of order", i)
		require.LessOrEqual(t, tt.Regions[i-1].EndBit, tt.Regions[i].StartBit,
			"region %d overlaps its predecessor", i)
	}
	require.Equal(t, format.RegionWeak, tt.Regions[0].Kind)
	require.Equal(t, uint32(4), tt.Regions[0].StartBit)
	require.Equal(t, format.RegionAnomaly, tt.Regions[1].Kind)
	require.Equal(t, format.RegionWeak, tt.Regions[2].Kind)
}

func buildOverlay() *TrackTiming {
	tt := NewTrackTiming(35, 1, 2000, 200_000_000)
	tt.Sectors = []SectorTiming{
		{Sector: 1, StartBit: 100, EndBit: 5000, MeanDeltaNs: -12},
		{Sector: 2, StartBit: 5200, EndBit: 10100, MeanDeltaNs: 4},
	}
	tt.Entries = []Entry{
		{BitOffset: 400, DeltaRes: 40, Flags: FlagAnomaly},
		{BitOffset: 402, DeltaRes: -35, Flags: FlagAnomaly | FlagWeak},
		{BitOffset: 60000, DeltaRes: 3, Flags: FlagNormal},
	}
	tt.Regions = []Region{
		{StartBit: 400, EndBit: 1000, Kind: format.RegionAnomaly,
			ExpectedCellNs: 2000, MeanDeltaNs: 380, VarianceNs: 900, MaxDeviationNs: 410},
		{StartBit: 2000, EndBit: 2100, Kind: format.RegionWeak, ExpectedCellNs: 2000},
	}

	return tt
}

func TestSerialize_RoundTrip(t *testing.T) {
	original := buildOverlay()

	data, err := Serialize(original)
	require.NoError(t, err)

	restored, err := Deserialize(data)
	require.NoError(t, err)
	require.Equal(t, original, restored)

	// Derived values survive the trip because they are recomputed.
	require.Equal(t, original.RPMx10(), restored.RPMx10())
	require.Equal(t, original.DetectProtection(0), restored.DetectProtection(0))
}

func TestSerialize_RoundTripCompressed(t *testing.T) {
	original := buildOverlay()
	// Pad the entry table so compression has something to chew on.
	for i := 0; i < 4000; i++ {
		original.AddEntry(Entry{BitOffset: uint16(i), DeltaRes: 5, Flags: FlagNormal})
	}

	for _, ct := range []format.CompressionType{
		format.CompressionZstd, format.CompressionS2, format.CompressionLZ4,
	} {
		data, err := Serialize(original, WithCompression(ct))
		require.NoError(t, err)

		restored, err := Deserialize(data)
		require.NoError(t, err)
		require.Equal(t, original, restored)
	}
}

func TestSerialize_MaxEntriesBoundary(t *testing.T) {
	tt := NewTrackTiming(0, 0, 2000, 1000)
	for i := 0; i < MaxEntries; i++ {
		tt.AddEntry(Entry{BitOffset: uint16(i), DeltaRes: int8(i % 100)})
	}

	data, err := Serialize(tt)
	require.NoError(t, err)

	restored, err := Deserialize(data)
	require.NoError(t, err)
	require.Len(t, restored.Entries, MaxEntries)
	require.Equal(t, tt.Entries, restored.Entries)
}

func TestSerializeTo_BufferTooSmall(t *testing.T) {
	tt := buildOverlay()

	_, err := SerializeTo(tt, make([]byte, 8))
	require.ErrorIs(t, err, errs.ErrBufferTooSmall)

	full, err := Serialize(tt)
	require.NoError(t, err)

	buf := make([]byte, len(full))
	n, err := SerializeTo(tt, buf)
	require.NoError(t, err)
	require.Equal(t, len(full), n)
	require.Equal(t, full, buf)
}

func TestDeserialize_RejectsBadEnvelopes(t *testing.T) {
	good, err := Serialize(buildOverlay())
	require.NoError(t, err)

	_, err = Deserialize(good[:10])
	require.ErrorIs(t, err, errs.ErrTruncated)

	bad := append([]byte(nil), good...)
	copy(bad, "NOPE")
	_, err = Deserialize(bad)
	require.ErrorIs(t, err, errs.ErrFormatMismatch)

	// Future major version is a hard error.
	bad = append([]byte(nil), good...)
	bad[5] = 2
	_, err = Deserialize(bad)
	require.ErrorIs(t, err, errs.ErrFormatMismatch)

	// Payload shorter than the declared counts.
	_, err = Deserialize(good[:len(good)-2])
	require.ErrorIs(t, err, errs.ErrTruncated)
}

func TestExportJSON_TruncatesEntries(t *testing.T) {
	tt := NewTrackTiming(5, 0, 2000, 200_000_000)
	for i := 0; i < 1500; i++ {
		tt.AddEntry(Entry{BitOffset: uint16(i), DeltaRes: 2})
	}

	out, err := ExportJSON(tt)
	require.NoError(t, err)

	text := string(out)
	require.Contains(t, text, `"entries_truncated": true`)
	require.Contains(t, text, `"entry_count": 1500`)
	require.Contains(t, text, `"rpm_x10": 3000`)
}

func TestTrackTiming_Clone_IsDeep(t *testing.T) {
	original := buildOverlay()
	clone := original.Clone()
	require.Equal(t, original, clone)

	clone.Entries[0].DeltaRes = 99
	clone.Regions[0].EndBit = 1
	require.NotEqual(t, original.Entries[0], clone.Entries[0])
	require.NotEqual(t, original.Regions[0], clone.Regions[0])
}
