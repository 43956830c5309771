// Package encoding holds the compact varint codecs used inside stored
// envelopes.
//
// Flux intervals cluster tightly around a handful of cell multiples, so
// delta-of-delta encoding with zigzag and varint compression shrinks a
// typical capture to a fraction of its raw 4-bytes-per-interval size before
// any general-purpose compressor runs.
package encoding
