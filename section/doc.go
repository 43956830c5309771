// Package section implements the stored wire envelopes for the flux,
// bitstream and sector layers, plus the compressed archive container that
// wraps any of them for storage.
//
// All envelopes are little-endian with a 4-byte magic and a major.minor
// version word; decoders reject unknown major versions. The flux envelope
// optionally stores its intervals delta-of-delta varint encoded, which is
// where most of the size win comes from; the archive container adds
// general-purpose compression and an integrity fingerprint on top.
package section
