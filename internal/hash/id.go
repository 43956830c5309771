package hash

import "github.com/cespare/xxhash/v2"

// ID computes the xxHash64 of the given string.
func ID(data string) uint64 {
	return xxhash.Sum64String(data)
}

// Fingerprint computes the xxHash64 of a byte payload. Used to fingerprint
// track layers for lineage tracking and duplicate-revolution detection.
func Fingerprint(data []byte) uint64 {
	return xxhash.Sum64(data)
}
