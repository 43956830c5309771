// Package registry holds the process-wide driver registries: track drivers
// for vendor-specific pre-decoded track representations, and filesystem
// drivers consumed by external filesystem code.
//
// Both registries are write-once at startup and read-only afterwards.
// Auto-dispatch picks the highest-scoring probe with score at least
// MinProbeScore; ties go to the earlier registration.
package registry

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/uftkit/uft/bitstream"
	"github.com/uftkit/uft/errs"
	"github.com/uftkit/uft/internal/collision"
	"github.com/uftkit/uft/internal/hash"
	"github.com/uftkit/uft/track"
)

const (
	// MaxTrackDrivers caps track-driver registrations.
	MaxTrackDrivers = 64
	// MaxFSDrivers caps filesystem-driver registrations.
	MaxFSDrivers = 32
	// MinProbeScore is the dispatch threshold: probes below it never win.
	MinProbeScore = 10
)

// TrackDriver decodes a vendor-specific pre-decoded track representation
// (a container's raw track bytes) into a bitstream result, bypassing the
// flux stage.
type TrackDriver interface {
	// Name identifies the driver, unique within the registry.
	Name() string
	// Probe scores how confidently the driver recognizes the raw track
	// bytes, 0..100.
	Probe(raw []byte) int
	// Decode converts the raw track bytes for the given physical position.
	Decode(ctx context.Context, raw []byte, cylinder uint16, head uint8) (*bitstream.DecodeResult, error)
}

// FSDriver probes and mounts a filesystem over a decoded disk image. The
// mounted view belongs to external filesystem code; the core only
// dispatches.
type FSDriver interface {
	Name() string
	// TypeTag identifies the filesystem family, e.g. "fat12".
	TypeTag() string
	// Probe scores how confidently the driver recognizes the image, 0..100.
	Probe(img *track.DiskImage) int
	// Mount builds the filesystem view over the image.
	Mount(img *track.DiskImage) (track.Filesystem, error)
}

// Registry is one pair of driver tables. The package-level Default registry
// serves normal use; tests build their own.
type Registry struct {
	mu           sync.RWMutex
	trackDrivers []TrackDriver
	fsDrivers    []FSDriver
	formats      []FormatHandler
	ids          *collision.Tracker
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{ids: collision.NewTracker()}
}

var defaultRegistry = New()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// RegisterTrackDriver adds a track driver. Registration order is the
// dispatch tie-break order.
func (r *Registry) RegisterTrackDriver(d TrackDriver) error {
	if d == nil {
		return fmt.Errorf("%w: nil track driver", errs.ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.trackDrivers) >= MaxTrackDrivers {
		return fmt.Errorf("%w: track driver table full at %d entries",
			errs.ErrOutOfMemory, MaxTrackDrivers)
	}
	for _, existing := range r.trackDrivers {
		if existing.Name() == d.Name() {
			return fmt.Errorf("%w: track driver %q already registered",
				errs.ErrInvalidArgument, d.Name())
		}
	}

	r.trackDrivers = append(r.trackDrivers, d)
	r.trackID(d.Name())
	log.WithFields(log.Fields{
		"driver": d.Name(),
		"id":     fmt.Sprintf("%016x", hash.ID(d.Name())),
		"slot":   len(r.trackDrivers) - 1,
	}).Debug("registered track driver")

	return nil
}

// trackID records the name's hash identifier. Names are unique per table,
// so a tracking error only means the name already exists in another table;
// the interesting outcome is the collision flag.
func (r *Registry) trackID(name string) {
	if err := r.ids.Track(name, hash.ID(name)); err != nil {
		return
	}
	if r.ids.HasCollision() {
		log.WithField("name", name).Warn("hash id collision among registered names")
	}
}

// RegisterFSDriver adds a filesystem driver.
func (r *Registry) RegisterFSDriver(d FSDriver) error {
	if d == nil {
		return fmt.Errorf("%w: nil filesystem driver", errs.ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.fsDrivers) >= MaxFSDrivers {
		return fmt.Errorf("%w: filesystem driver table full at %d entries",
			errs.ErrOutOfMemory, MaxFSDrivers)
	}
	for _, existing := range r.fsDrivers {
		if existing.Name() == d.Name() {
			return fmt.Errorf("%w: filesystem driver %q already registered",
				errs.ErrInvalidArgument, d.Name())
		}
	}

	r.fsDrivers = append(r.fsDrivers, d)
	r.trackID(d.Name())
	log.WithFields(log.Fields{
		"driver": d.Name(),
		"type":   d.TypeTag(),
		"slot":   len(r.fsDrivers) - 1,
	}).Debug("registered filesystem driver")

	return nil
}

// TrackDriverByName returns a registered driver, nil when unknown.
func (r *Registry) TrackDriverByName(name string) TrackDriver {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.trackDrivers {
		if d.Name() == name {
			return d
		}
	}

	return nil
}

// TrackDrivers returns the registered drivers in registration order.
func (r *Registry) TrackDrivers() []TrackDriver {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]TrackDriver(nil), r.trackDrivers...)
}

// ProbeTrack dispatches raw track bytes to the best-scoring driver. The
// winner needs a score of at least MinProbeScore; ties go to the earlier
// registration.
func (r *Registry) ProbeTrack(raw []byte) (TrackDriver, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best TrackDriver
	bestScore := 0
	for _, d := range r.trackDrivers {
		if score := d.Probe(raw); score > bestScore {
			best, bestScore = d, score
		}
	}
	if best == nil || bestScore < MinProbeScore {
		return nil, bestScore, fmt.Errorf("%w: no track driver recognizes the input",
			errs.ErrFormatMismatch)
	}

	return best, bestScore, nil
}

// ProbeFilesystem dispatches a disk image to the best-scoring filesystem
// driver, same rules as ProbeTrack.
func (r *Registry) ProbeFilesystem(img *track.DiskImage) (FSDriver, int, error) {
	if img == nil {
		return nil, 0, fmt.Errorf("%w: nil disk image", errs.ErrInvalidArgument)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var best FSDriver
	bestScore := 0
	for _, d := range r.fsDrivers {
		if score := d.Probe(img); score > bestScore {
			best, bestScore = d, score
		}
	}
	if best == nil || bestScore < MinProbeScore {
		return nil, bestScore, fmt.Errorf("%w: no filesystem driver recognizes the image",
			errs.ErrFormatMismatch)
	}

	return best, bestScore, nil
}

// Mount probes for a filesystem driver, mounts it, and attaches the view
// to the image and its sector-bearing tracks.
func (r *Registry) Mount(img *track.DiskImage) (track.Filesystem, error) {
	driver, score, err := r.ProbeFilesystem(img)
	if err != nil {
		return nil, err
	}

	fs, err := driver.Mount(img)
	if err != nil {
		return nil, fmt.Errorf("mount %s: %w", driver.Name(), err)
	}
	if err := img.SetFilesystem(fs); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"driver": driver.Name(),
		"type":   driver.TypeTag(),
		"score":  score,
	}).Debug("mounted filesystem")

	return fs, nil
}
