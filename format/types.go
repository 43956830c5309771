package format

type (
	Encoding        uint8
	Layer           uint8
	RegionKind      uint8
	ProtectionKind  uint8
	CompressionType uint8
	ErrorCode       uint8
)

// Bitstream encodings recognized by the flux and bitstream decoders.
const (
	EncodingUnknown    Encoding = 0x0 // EncodingUnknown means detection failed or was skipped.
	EncodingFM         Encoding = 0x1 // EncodingFM is single-density FM (IBM 3740 style).
	EncodingMFM        Encoding = 0x2 // EncodingMFM is double-density MFM (IBM System/34 style).
	EncodingAmigaMFM   Encoding = 0x3 // EncodingAmigaMFM is Amiga trackdisk MFM (2us cell).
	EncodingGCRC64     Encoding = 0x4 // EncodingGCRC64 is Commodore 4-and-5 GCR.
	EncodingGCRApple52 Encoding = 0x5 // EncodingGCRApple52 is Apple II 5.25" 6-and-2 GCR.
	EncodingGCRApple35 Encoding = 0x6 // EncodingGCRApple35 is Apple/Mac 3.5" GCR.
)

// Track IR layers. Layer values are bit positions in the availability bitmap,
// not the bitmap itself; see LayerMask.
const (
	LayerFlux       Layer = 0 // LayerFlux holds raw flux intervals.
	LayerBitstream  Layer = 1 // LayerBitstream holds clocked bits.
	LayerSector     Layer = 2 // LayerSector holds decoded sector records.
	LayerFilesystem Layer = 3 // LayerFilesystem holds a mounted filesystem view.
)

// Timing region classifications.
const (
	RegionNormal  RegionKind = 0x0
	RegionGap     RegionKind = 0x1
	RegionSync    RegionKind = 0x2
	RegionData    RegionKind = 0x3
	RegionAnomaly RegionKind = 0x4
	RegionWeak    RegionKind = 0x5
)

// Copy-protection patterns reported by the timing analyzer.
const (
	ProtectionNone          ProtectionKind = 0x0
	ProtectionSpeedlockLike ProtectionKind = 0x1 // sustained cell deviation over a bounded region
	ProtectionLongTrack     ProtectionKind = 0x2 // track bit length above nominal tolerance
	ProtectionShortTrack    ProtectionKind = 0x3 // track bit length below nominal tolerance
	ProtectionWeakBit       ProtectionKind = 0x4 // multiple deliberate weak-bit regions
	ProtectionLongSync      ProtectionKind = 0x5 // abnormally long sync run (RapidLok family)
)

// Payload compression for stored envelopes.
const (
	CompressionNone CompressionType = 0x1 // CompressionNone represents no compression.
	CompressionZstd CompressionType = 0x2 // CompressionZstd represents Zstandard compression.
	CompressionS2   CompressionType = 0x3 // CompressionS2 represents S2 compression.
	CompressionLZ4  CompressionType = 0x4 // CompressionLZ4 represents LZ4 compression.
)

// Numeric error taxonomy shared with non-Go consumers of the core.
const (
	CodeOK                  ErrorCode = 0
	CodeInvalidArgument     ErrorCode = 1
	CodeOutOfMemory         ErrorCode = 2
	CodeIo                  ErrorCode = 3
	CodeFormatMismatch      ErrorCode = 4
	CodeTruncated           ErrorCode = 5
	CodeUnsupportedEncoding ErrorCode = 6
	CodeCrcMismatch         ErrorCode = 7
	CodePllLostLock         ErrorCode = 8
	CodeNoSync              ErrorCode = 9
	CodeNoIndex             ErrorCode = 10
	CodeBufferTooSmall      ErrorCode = 11
	CodeNotImplemented      ErrorCode = 12
	CodeInvalidState        ErrorCode = 13
)

// LayerMask returns the availability-bitmap bit for a layer.
func LayerMask(l Layer) uint8 {
	return 1 << uint8(l)
}

func (e Encoding) String() string {
	switch e {
	case EncodingFM:
		return "FM"
	case EncodingMFM:
		return "MFM"
	case EncodingAmigaMFM:
		return "Amiga-MFM"
	case EncodingGCRC64:
		return "GCR-C64"
	case EncodingGCRApple52:
		return "GCR-Apple-5.25"
	case EncodingGCRApple35:
		return "GCR-Apple-3.5"
	default:
		return "Unknown"
	}
}

// NominalCellNs returns the nominal bit-cell period in nanoseconds for an
// encoding, used to seed the PLL clock. Unknown encodings fall back to the
// MFM double-density cell.
func (e Encoding) NominalCellNs() uint32 {
	switch e {
	case EncodingFM:
		return 4000
	case EncodingMFM, EncodingAmigaMFM:
		return 2000
	case EncodingGCRC64:
		return 3200
	case EncodingGCRApple52, EncodingGCRApple35:
		return 4000
	default:
		return 2000
	}
}

func (l Layer) String() string {
	switch l {
	case LayerFlux:
		return "flux"
	case LayerBitstream:
		return "bitstream"
	case LayerSector:
		return "sector"
	case LayerFilesystem:
		return "filesystem"
	default:
		return "invalid"
	}
}

func (k RegionKind) String() string {
	switch k {
	case RegionNormal:
		return "normal"
	case RegionGap:
		return "gap"
	case RegionSync:
		return "sync"
	case RegionData:
		return "data"
	case RegionAnomaly:
		return "anomaly"
	case RegionWeak:
		return "weak"
	default:
		return "invalid"
	}
}

func (p ProtectionKind) String() string {
	switch p {
	case ProtectionNone:
		return "none"
	case ProtectionSpeedlockLike:
		return "speedlock-like"
	case ProtectionLongTrack:
		return "long-track"
	case ProtectionShortTrack:
		return "short-track"
	case ProtectionWeakBit:
		return "weak-bit"
	case ProtectionLongSync:
		return "long-sync"
	default:
		return "invalid"
	}
}

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "None"
	case CompressionZstd:
		return "Zstd"
	case CompressionS2:
		return "S2"
	case CompressionLZ4:
		return "LZ4"
	default:
		return "Unknown"
	}
}
