package section

import (
	"bytes"
	"fmt"

	"github.com/uftkit/uft/compress"
	"github.com/uftkit/uft/endian"
	"github.com/uftkit/uft/errs"
	"github.com/uftkit/uft/format"
	"github.com/uftkit/uft/internal/hash"
)

// Archive container layout, little-endian:
//
//	[0:4]   magic "UARC"
//	[4:6]   version
//	[6]     compression tag (format.CompressionType)
//	[7]     reserved, zero
//	[8:12]  uncompressed payload size
//	[12:16] stored payload size
//	[16:24] xxHash64 fingerprint of the uncompressed payload
//
// followed by the (possibly compressed) payload. The payload is normally
// another section envelope, but the container does not care.

// Archive wraps a payload for storage with the given compression.
func Archive(payload []byte, ct format.CompressionType) ([]byte, error) {
	codec, err := compress.GetCodec(ct)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidArgument, err)
	}

	stored, err := codec.Compress(payload)
	if err != nil {
		return nil, fmt.Errorf("compress archive payload: %w", err)
	}

	engine := endian.GetLittleEndianEngine()

	out := make([]byte, 0, archiveHeaderSize+len(stored))
	out = append(out, archiveMagic...)
	out = engine.AppendUint16(out, envelopeVersion)
	out = append(out, byte(ct), 0)
	out = engine.AppendUint32(out, uint32(len(payload)))
	out = engine.AppendUint32(out, uint32(len(stored)))
	out = engine.AppendUint64(out, hash.Fingerprint(payload))
	out = append(out, stored...)

	return out, nil
}

// Unarchive unwraps a container, decompresses the payload and verifies its
// fingerprint.
func Unarchive(data []byte) ([]byte, error) {
	if len(data) < archiveHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the archive header",
			errs.ErrTruncated, len(data))
	}
	if !bytes.Equal(data[:4], []byte(archiveMagic)) {
		return nil, fmt.Errorf("%w: bad magic %q", errs.ErrFormatMismatch, data[:4])
	}

	engine := endian.GetLittleEndianEngine()
	if v := engine.Uint16(data[4:6]); !versionSupported(v) {
		return nil, fmt.Errorf("%w: archive version %d.%d",
			errs.ErrFormatMismatch, v>>8, v&0xFF)
	}

	ct := format.CompressionType(data[6])
	rawSize := int(engine.Uint32(data[8:12]))
	storedSize := int(engine.Uint32(data[12:16]))
	fingerprint := engine.Uint64(data[16:24])

	stored := data[archiveHeaderSize:]
	if len(stored) != storedSize {
		return nil, fmt.Errorf("%w: archive payload holds %d of %d bytes",
			errs.ErrTruncated, len(stored), storedSize)
	}

	codec, err := compress.GetCodec(ct)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrFormatMismatch, err)
	}
	payload, err := codec.Decompress(stored)
	if err != nil {
		return nil, fmt.Errorf("%w: archive payload: %v", errs.ErrFormatMismatch, err)
	}

	if len(payload) != rawSize {
		return nil, fmt.Errorf("%w: archive expands to %d bytes, header says %d",
			errs.ErrFormatMismatch, len(payload), rawSize)
	}
	if hash.Fingerprint(payload) != fingerprint {
		return nil, fmt.Errorf("%w: archive fingerprint mismatch", errs.ErrCrcMismatch)
	}

	return payload, nil
}
