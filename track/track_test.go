package track

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uftkit/uft/bitstream"
	"github.com/uftkit/uft/errs"
	"github.com/uftkit/uft/flux"
	"github.com/uftkit/uft/format"
	"github.com/uftkit/uft/timing"
)

type fakeFS struct{ tag string }

func (f fakeFS) TypeTag() string { return f.tag }

func testSectors(count int) []bitstream.SectorRecord {
	records := make([]bitstream.SectorRecord, count)
	for i := range records {
		data := make([]byte, 256)
		for j := range data {
			data[j] = byte(i*31 + j)
		}
		records[i] = bitstream.SectorRecord{
			Cylinder: 2, Head: 0, Sector: uint8(i + 1), SizeCode: 1,
			Data: data, Encoding: format.EncodingMFM,
		}
	}

	return records
}

func TestTrack_New_NoLayers(t *testing.T) {
	tr := New(2, 0)

	require.Equal(t, uint8(0), tr.AvailableLayers())
	require.False(t, tr.Has(format.LayerFlux))
	require.Nil(t, tr.Flux())
	require.Nil(t, tr.Bitstream())
	require.Nil(t, tr.Sectors())
	require.Nil(t, tr.Filesystem())
	require.Equal(t, 4, tr.TrackX2())

	tr.Half = true
	require.Equal(t, 5, tr.TrackX2())
}

func TestTrack_SetLayers_BitmapExact(t *testing.T) {
	tr := New(0, 0)

	require.ErrorIs(t, tr.SetFlux(nil), errs.ErrInvalidArgument)
	require.ErrorIs(t, tr.SetBitstream(nil), errs.ErrInvalidArgument)
	require.ErrorIs(t, tr.SetSectors(nil), errs.ErrInvalidArgument)
	require.ErrorIs(t, tr.SetFilesystem(nil), errs.ErrInvalidArgument)
	require.Equal(t, uint8(0), tr.AvailableLayers())

	f := &flux.Flux{SampleRateHz: 24_000_000, Intervals: []uint32{96, 96}}
	require.NoError(t, tr.SetFlux(f))
	require.Equal(t, format.LayerMask(format.LayerFlux), tr.AvailableLayers())
	require.Equal(t, uint8(1), tr.Meta.Revolutions)

	b := bitstream.New(8, 2000, format.EncodingMFM)
	b.AppendBit(1)
	require.NoError(t, tr.SetBitstream(b))
	require.True(t, tr.Has(format.LayerBitstream))
	require.Equal(t, format.EncodingMFM, tr.Meta.Encoding)

	require.NoError(t, tr.SetSectors(testSectors(1)))
	require.True(t, tr.Has(format.LayerSector))

	require.NoError(t, tr.SetFilesystem(fakeFS{tag: "fat12"}))
	require.True(t, tr.Has(format.LayerFilesystem))
	require.Equal(t, "fat12", tr.Filesystem().TypeTag())

	// Nothing so far was synthesized.
	for _, l := range []format.Layer{
		format.LayerFlux, format.LayerBitstream, format.LayerSector,
	} {
		require.False(t, tr.Synthetic(l), l.String())
	}
}

func TestTrack_AttachTiming_ChecksCoordinates(t *testing.T) {
	tr := New(10, 1)

	require.ErrorIs(t, tr.AttachTiming(nil), errs.ErrInvalidArgument)

	wrong := timing.NewTrackTiming(7, 1, 2000, 200_000_000)
	require.ErrorIs(t, tr.AttachTiming(wrong), errs.ErrInvalidArgument)
	require.Nil(t, tr.Timing())

	right := timing.NewTrackTiming(20, 1, 2000, 200_000_000)
	require.NoError(t, tr.AttachTiming(right))
	require.Same(t, right, tr.Timing())
}

func TestTrack_CanConvert_ReachabilityTable(t *testing.T) {
	empty := New(0, 0)
	for _, l := range []format.Layer{
		format.LayerFlux, format.LayerBitstream,
		format.LayerSector, format.LayerFilesystem,
	} {
		ok, _ := empty.CanConvert(l)
		require.False(t, ok, l.String())
	}

	withSectors := New(0, 0)
	require.NoError(t, withSectors.SetSectors(testSectors(1)))

	ok, warning := withSectors.CanConvert(format.LayerSector)
	require.True(t, ok)
	require.Empty(t, warning)

	ok, warning = withSectors.CanConvert(format.LayerBitstream)
	require.True(t, ok)
	require.NotEmpty(t, warning)

	ok, warning = withSectors.CanConvert(format.LayerFlux)
	require.True(t, ok)
	require.NotEmpty(t, warning)

	ok, warning = withSectors.CanConvert(format.LayerFilesystem)
	require.True(t, ok)
	require.NotEmpty(t, warning)

	withFlux := New(0, 0)
	require.NoError(t, withFlux.SetFlux(
		&flux.Flux{SampleRateHz: 24_000_000, Intervals: []uint32{96}}))

	ok, warning = withFlux.CanConvert(format.LayerBitstream)
	require.True(t, ok)
	require.Empty(t, warning)

	ok, _ = withFlux.CanConvert(format.LayerSector)
	require.True(t, ok)

	ok, _ = withFlux.CanConvert(format.LayerFilesystem)
	require.False(t, ok)
}

func TestTrack_ConvertLayer_DecodeDirection(t *testing.T) {
	original := testSectors(2)
	bits, err := bitstream.EncodeMFMTrack(original)
	require.NoError(t, err)
	capture, err := flux.Synthesize(bits, DefaultSampleRateHz)
	require.NoError(t, err)

	tr := New(2, 0)
	require.NoError(t, tr.SetFlux(capture))

	require.NoError(t, tr.ConvertLayer(context.Background(), format.LayerBitstream))
	require.True(t, tr.Has(format.LayerBitstream))
	require.False(t, tr.Synthetic(format.LayerBitstream))

	require.NoError(t, tr.ConvertLayer(context.Background(), format.LayerSector))
	require.True(t, tr.Has(format.LayerSector))
	require.False(t, tr.Synthetic(format.LayerSector))

	records := tr.Sectors()
	require.Len(t, records, len(original))
	for i, rec := range records {
		require.Equal(t, original[i].Sector, rec.Sector)
		require.True(t, rec.HeaderCRC.OK())
		require.True(t, rec.DataCRC.OK())
		require.Equal(t, original[i].Data, rec.Data)
	}
}

func TestTrack_ConvertLayer_SynthesisDirectionRoundTrip(t *testing.T) {
	original := testSectors(2)

	tr := New(2, 0)
	require.NoError(t, tr.SetSectors(testSectors(2)))

	require.NoError(t, tr.ConvertLayer(context.Background(), format.LayerBitstream))
	require.True(t, tr.Synthetic(format.LayerBitstream))

	require.NoError(t, tr.ConvertLayer(context.Background(), format.LayerFlux))
	require.True(t, tr.Synthetic(format.LayerFlux))

	// Decoding the synthesized flux in a fresh IR reproduces the records.
	second := New(2, 0)
	require.NoError(t, second.SetFlux(tr.Flux().Clone()))
	require.NoError(t, second.ConvertLayer(context.Background(), format.LayerSector))

	records := second.Sectors()
	require.Len(t, records, len(original))
	for i, rec := range records {
		require.Equal(t, original[i].Sector, rec.Sector)
		require.Equal(t, original[i].Data, rec.Data)
		require.True(t, rec.DataCRC.OK())
	}
}

func TestTrack_ConvertLayer_Idempotent(t *testing.T) {
	tr := New(0, 0)
	require.NoError(t, tr.SetSectors(testSectors(1)))

	require.NoError(t, tr.ConvertLayer(context.Background(), format.LayerBitstream))
	first := tr.Bitstream()
	require.NoError(t, tr.ConvertLayer(context.Background(), format.LayerBitstream))
	require.Same(t, first, tr.Bitstream())
}

func TestTrack_ConvertLayer_PureOnFailure(t *testing.T) {
	records := testSectors(1)
	records[0].Encoding = format.EncodingGCRC64

	tr := New(0, 0)
	require.NoError(t, tr.SetSectors(records))
	before := tr.AvailableLayers()

	err := tr.ConvertLayer(context.Background(), format.LayerBitstream)
	require.ErrorIs(t, err, errs.ErrNotImplemented)
	require.Equal(t, before, tr.AvailableLayers())
	require.Nil(t, tr.Bitstream())
}

func TestTrack_ConvertLayer_NoSourceLayer(t *testing.T) {
	tr := New(0, 0)

	err := tr.ConvertLayer(context.Background(), format.LayerBitstream)
	require.ErrorIs(t, err, errs.ErrInvalidState)

	err = tr.ConvertLayer(context.Background(), format.LayerFlux)
	require.ErrorIs(t, err, errs.ErrInvalidState)
}

func TestTrack_ConvertLayer_Filesystem(t *testing.T) {
	tr := New(0, 0)

	err := tr.ConvertLayer(context.Background(), format.LayerFilesystem,
		WithFilesystem(fakeFS{tag: "fat12"}))
	require.ErrorIs(t, err, errs.ErrInvalidState)

	require.NoError(t, tr.SetSectors(testSectors(1)))

	err = tr.ConvertLayer(context.Background(), format.LayerFilesystem)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
	require.False(t, tr.Has(format.LayerFilesystem))

	require.NoError(t, tr.ConvertLayer(context.Background(), format.LayerFilesystem,
		WithFilesystem(fakeFS{tag: "fat12"})))
	require.True(t, tr.Has(format.LayerFilesystem))
	require.Equal(t, "fat12", tr.Filesystem().TypeTag())
}

func TestTrack_Fingerprint_PerLayer(t *testing.T) {
	tr := New(0, 0)
	require.Zero(t, tr.Fingerprint(format.LayerSector))

	require.NoError(t, tr.SetSectors(testSectors(1)))
	first := tr.Fingerprint(format.LayerSector)
	require.NotZero(t, first)

	changed := testSectors(1)
	changed[0].Data[0] ^= 0xFF
	require.NoError(t, tr.SetSectors(changed))
	require.NotEqual(t, first, tr.Fingerprint(format.LayerSector))
}

func TestTrack_Clone_DeepCopy(t *testing.T) {
	tr := New(3, 1)
	tr.Meta.Source = "capture rig A"
	require.NoError(t, tr.SetFlux(
		&flux.Flux{SampleRateHz: 24_000_000, Intervals: []uint32{96, 144}}))
	require.NoError(t, tr.SetSectors(testSectors(1)))

	clone := tr.Clone()
	require.Equal(t, tr.AvailableLayers(), clone.AvailableLayers())
	require.Equal(t, tr.Meta, clone.Meta)

	clone.Flux().Intervals[0] = 1
	clone.Sectors()[0].Data[0] = 0xEE
	require.Equal(t, uint32(96), tr.Flux().Intervals[0])
	require.NotEqual(t, clone.Sectors()[0].Data[0], tr.Sectors()[0].Data[0])
}

func TestDiskImage_NewDiskImage(t *testing.T) {
	_, err := NewDiskImage(Geometry{Cylinders: 0, Heads: 2})
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	g := Geometry{Cylinders: 40, Heads: 2, SectorsPerTrack: 9, BytesPerSector: 512}
	img, err := NewDiskImage(g)
	require.NoError(t, err)
	require.Equal(t, 80, img.TrackCount())
	require.Equal(t, int64(40*2*9*512), g.Capacity())

	tr := img.Track(17, 1)
	require.NotNil(t, tr)
	require.Equal(t, uint16(17), tr.Cylinder)
	require.Equal(t, uint8(1), tr.Head)
	require.Same(t, tr, img.TrackAt(17*2+1))

	require.Nil(t, img.Track(40, 0))
	require.Nil(t, img.Track(0, 2))
	require.Nil(t, img.TrackAt(-1))
	require.Nil(t, img.TrackAt(80))

	count := 0
	for range img.All() {
		count++
	}
	require.Equal(t, 80, count)
}

func TestDiskImage_SetFilesystem(t *testing.T) {
	img, err := NewDiskImage(Geometry{Cylinders: 2, Heads: 1})
	require.NoError(t, err)

	require.ErrorIs(t, img.SetFilesystem(nil), errs.ErrInvalidArgument)

	require.NoError(t, img.Track(0, 0).SetSectors(testSectors(1)))
	require.NoError(t, img.SetFilesystem(fakeFS{tag: "adfs-ofs"}))

	require.Equal(t, "adfs-ofs", img.Filesystem().TypeTag())
	require.True(t, img.Track(0, 0).Has(format.LayerFilesystem))
	require.False(t, img.Track(1, 0).Has(format.LayerFilesystem))
}

func TestDiskImage_Clone_DeepCopy(t *testing.T) {
	img, err := NewDiskImage(Geometry{Cylinders: 1, Heads: 1})
	require.NoError(t, err)
	require.NoError(t, img.Track(0, 0).SetSectors(testSectors(1)))

	clone := img.Clone()
	clone.Track(0, 0).Sectors()[0].Data[0] = 0x42

	require.NotEqual(t,
		clone.Track(0, 0).Sectors()[0].Data[0],
		img.Track(0, 0).Sectors()[0].Data[0])
}
