package registry

import (
	"bytes"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/uftkit/uft/errs"
	"github.com/uftkit/uft/internal/hash"
)

// Capability bits advertised by a format handler.
type Capability uint8

const (
	CapRead Capability = 1 << iota
	CapWrite
	CapFlux
	CapWeakBits
	CapMultipleRevs
)

// FormatHandler is the static descriptor of a container format, used to
// route files to the right track driver before any decoding happens.
type FormatHandler struct {
	// ID is the xxHash64 of Name, filled in at registration.
	ID uint64
	// Name identifies the format, unique within the registry.
	Name string
	// Extensions are lowercase without the dot, e.g. "scp", "adf".
	Extensions []string
	MIME       string

	Capabilities Capability

	// MagicBytes, when non-empty, must appear at MagicOffset for Sniff to
	// match the format.
	MagicBytes  []byte
	MagicOffset int

	// Probe, when set, refines a magic match with a content score 0..100.
	Probe func(data []byte) int
}

// RegisterFormat adds a format descriptor. The descriptor's ID is derived
// from its name.
func (r *Registry) RegisterFormat(h FormatHandler) error {
	if h.Name == "" {
		return fmt.Errorf("%w: format handler without a name", errs.ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.formats {
		if existing.Name == h.Name {
			return fmt.Errorf("%w: format %q already registered",
				errs.ErrInvalidArgument, h.Name)
		}
	}

	h.ID = hash.ID(h.Name)
	r.formats = append(r.formats, h)
	r.trackID(h.Name)
	log.WithFields(log.Fields{
		"format": h.Name,
		"id":     fmt.Sprintf("%016x", h.ID),
	}).Debug("registered format handler")

	return nil
}

// FormatByName returns a registered descriptor and whether it exists.
func (r *Registry) FormatByName(name string) (FormatHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, h := range r.formats {
		if h.Name == name {
			return h, true
		}
	}

	return FormatHandler{}, false
}

// FormatByExtension returns the first registered descriptor claiming the
// extension (case-insensitive, leading dot ignored).
func (r *Registry) FormatByExtension(ext string) (FormatHandler, bool) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, h := range r.formats {
		for _, candidate := range h.Extensions {
			if candidate == ext {
				return h, true
			}
		}
	}

	return FormatHandler{}, false
}

// Sniff matches file content against the registered magic bytes, refining
// with the handlers' probe functions when present. Magic-less handlers
// never match by content.
func (r *Registry) Sniff(data []byte) (FormatHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best FormatHandler
	bestScore := -1
	for _, h := range r.formats {
		if len(h.MagicBytes) == 0 {
			continue
		}
		end := h.MagicOffset + len(h.MagicBytes)
		if h.MagicOffset < 0 || end > len(data) {
			continue
		}
		if !bytes.Equal(data[h.MagicOffset:end], h.MagicBytes) {
			continue
		}

		score := 100
		if h.Probe != nil {
			score = h.Probe(data)
		}
		if score > bestScore {
			best, bestScore = h, score
		}
	}

	if bestScore < MinProbeScore {
		return FormatHandler{}, false
	}

	return best, true
}
