package hash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestID_DeterministicPerName(t *testing.T) {
	// xxHash64 of the empty string with seed 0.
	require.Equal(t, uint64(0xef46db3751d8e999), ID(""))

	require.Equal(t, ID("supercard-pro"), ID("supercard-pro"))
	require.NotEqual(t, ID("supercard-pro"), ID("kryoflux"))
	require.NotZero(t, ID("adf"))
}

func TestID_MatchesFingerprint(t *testing.T) {
	// Driver ids and layer fingerprints share one hash function; a name
	// hashed as a string equals its byte form.
	require.Equal(t, ID("greaseweazle"), Fingerprint([]byte("greaseweazle")))
}

func TestFingerprint_SensitiveToSingleBit(t *testing.T) {
	payload := make([]byte, 4096)
	before := Fingerprint(payload)

	payload[2048] ^= 0x01
	require.NotEqual(t, before, Fingerprint(payload))
}

func BenchmarkFingerprint(b *testing.B) {
	// A track-sized payload.
	payload := make([]byte, 1<<16)
	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for b.Loop() {
		Fingerprint(payload)
	}
}
