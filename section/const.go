package section

// Envelope magics, one per stored layer.
const (
	fluxMagic      = "UFLX"
	bitstreamMagic = "UBIT"
	sectorMagic    = "USEC"
	archiveMagic   = "UARC"
)

// envelopeVersion is the shared major.minor version word, major in the high
// byte. Decoders hard-reject a different major and accept any minor.
const envelopeVersion = uint16(0x0100)

// Flux envelope flag bits.
const (
	fluxFlagDelta     = 1 << 0 // intervals are delta-of-delta varint encoded
	fluxFlagHasOffset = 1 << 1 // per-revolution index offsets present
)

// Bitstream envelope flag bits.
const (
	bitsFlagWeakMask = 1 << 0 // weak-bit mask follows the packed bits
)

// Sector record status bits.
const (
	sectorStatusHeaderOK    = 1 << 0
	sectorStatusDataOK      = 1 << 1
	sectorStatusDeleted     = 1 << 2
	sectorStatusMissing     = 1 << 3
	sectorStatusWeakPresent = 1 << 4
	sectorStatusHasData     = 1 << 5
	sectorStatusDataChecked = 1 << 6
)

// Header sizes.
const (
	fluxHeaderSize      = 16
	bitstreamHeaderSize = 14
	sectorHeaderSize    = 8
	sectorRecordSize    = 12 // fixed part, before the data payload
	archiveHeaderSize   = 24
)

func versionSupported(v uint16) bool {
	return v>>8 == envelopeVersion>>8
}
