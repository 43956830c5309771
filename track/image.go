package track

import (
	"fmt"
	"iter"

	"github.com/uftkit/uft/errs"
	"github.com/uftkit/uft/format"
)

// Geometry is the logical disk layout.
type Geometry struct {
	Cylinders       uint16
	Heads           uint8
	SectorsPerTrack uint16
	BytesPerSector  uint16
}

// TrackCount returns the number of track slots the geometry spans.
func (g Geometry) TrackCount() int {
	return int(g.Cylinders) * int(g.Heads)
}

// Capacity returns the nominal byte capacity of the geometry.
func (g Geometry) Capacity() int64 {
	return int64(g.TrackCount()) * int64(g.SectorsPerTrack) * int64(g.BytesPerSector)
}

// DiskImage owns a dense array of track IRs in (cylinder*heads + head)
// order. Tracks are allocated empty up front so callers can fill them in
// any order; they stay exclusively owned by the image.
type DiskImage struct {
	Geometry Geometry

	tracks []*Track
	fs     Filesystem
}

// NewDiskImage allocates an image with one empty track per geometry slot.
func NewDiskImage(g Geometry) (*DiskImage, error) {
	if g.Cylinders == 0 || g.Heads == 0 {
		return nil, fmt.Errorf("%w: geometry %dx%d has no tracks",
			errs.ErrInvalidArgument, g.Cylinders, g.Heads)
	}

	d := &DiskImage{
		Geometry: g,
		tracks:   make([]*Track, g.TrackCount()),
	}
	for cyl := uint16(0); cyl < g.Cylinders; cyl++ {
		for head := uint8(0); head < g.Heads; head++ {
			d.tracks[int(cyl)*int(g.Heads)+int(head)] = New(cyl, head)
		}
	}

	return d, nil
}

// Track returns the IR at (cylinder, head), nil when out of range.
func (d *DiskImage) Track(cylinder uint16, head uint8) *Track {
	if cylinder >= d.Geometry.Cylinders || head >= d.Geometry.Heads {
		return nil
	}

	return d.tracks[int(cylinder)*int(d.Geometry.Heads)+int(head)]
}

// TrackAt returns the IR at dense index i, nil when out of range.
func (d *DiskImage) TrackAt(i int) *Track {
	if i < 0 || i >= len(d.tracks) {
		return nil
	}

	return d.tracks[i]
}

// TrackCount returns the number of track slots.
func (d *DiskImage) TrackCount() int {
	return len(d.tracks)
}

// All returns a restartable iterator over the tracks in dense order.
func (d *DiskImage) All() iter.Seq[*Track] {
	return func(yield func(*Track) bool) {
		for _, t := range d.tracks {
			if !yield(t) {
				return
			}
		}
	}
}

// SetFilesystem attaches a mounted filesystem view to the whole image and
// to every track holding a sector layer.
func (d *DiskImage) SetFilesystem(fs Filesystem) error {
	if fs == nil {
		return fmt.Errorf("%w: nil filesystem view", errs.ErrInvalidArgument)
	}

	d.fs = fs
	for _, t := range d.tracks {
		if t.Has(format.LayerSector) {
			if err := t.SetFilesystem(fs); err != nil {
				return err
			}
		}
	}

	return nil
}

// Filesystem returns the image-level filesystem view, nil when unmounted.
func (d *DiskImage) Filesystem() Filesystem {
	return d.fs
}

// Clone returns a deep copy of the image and all its tracks.
func (d *DiskImage) Clone() *DiskImage {
	out := &DiskImage{
		Geometry: d.Geometry,
		tracks:   make([]*Track, len(d.tracks)),
		fs:       d.fs,
	}
	for i, t := range d.tracks {
		out.tracks[i] = t.Clone()
	}

	return out
}
