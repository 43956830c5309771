package section

import (
	"bytes"
	"fmt"

	"github.com/uftkit/uft/bitstream"
	"github.com/uftkit/uft/endian"
	"github.com/uftkit/uft/errs"
	"github.com/uftkit/uft/format"
)

// Sector envelope layout, little-endian:
//
//	[0:4] magic "USEC"
//	[4:6] version
//	[6:8] record count
//
// followed by one record each:
//
//	[0]     cylinder
//	[1]     head
//	[2]     sector
//	[3]     size code
//	[4]     encoding tag
//	[5]     status bits
//	[6:10]  id_bit_offset
//	[10:12] data_len
//
// and data_len payload bytes. The wire form keeps the checksum verdicts as
// status bits only; the stored and computed values do not travel.

// EncodeSectors serializes decoded sector records.
func EncodeSectors(records []bitstream.SectorRecord) ([]byte, error) {
	if len(records) > 0xFFFF {
		return nil, fmt.Errorf("%w: %d records exceed the envelope count field",
			errs.ErrInvalidArgument, len(records))
	}

	engine := endian.GetLittleEndianEngine()

	out := make([]byte, 0, sectorHeaderSize+len(records)*sectorRecordSize)
	out = append(out, sectorMagic...)
	out = engine.AppendUint16(out, envelopeVersion)
	out = engine.AppendUint16(out, uint16(len(records)))

	for i, rec := range records {
		if len(rec.Data) > bitstream.MaxSectorDataLen {
			return nil, fmt.Errorf("%w: record %d carries %d data bytes",
				errs.ErrInvalidArgument, i, len(rec.Data))
		}

		status := byte(0)
		if rec.HeaderCRC.OK() {
			status |= sectorStatusHeaderOK
		}
		if rec.DataCRC.OK() {
			status |= sectorStatusDataOK
		}
		if rec.DataCRC.State != bitstream.CrcNotChecked {
			status |= sectorStatusDataChecked
		}
		if rec.Deleted {
			status |= sectorStatusDeleted
		}
		if rec.Missing {
			status |= sectorStatusMissing
		}
		if rec.WeakPresent {
			status |= sectorStatusWeakPresent
		}
		if rec.Data != nil {
			status |= sectorStatusHasData
		}

		out = append(out, rec.Cylinder, rec.Head, rec.Sector, rec.SizeCode,
			byte(rec.Encoding), status)
		out = engine.AppendUint32(out, uint32(rec.IDBitOffset))
		out = engine.AppendUint16(out, uint16(len(rec.Data)))
		out = append(out, rec.Data...)
	}

	return out, nil
}

// DecodeSectors reverses EncodeSectors. Checksum verdicts come back as
// states only, with zero stored and computed values.
func DecodeSectors(data []byte) ([]bitstream.SectorRecord, error) {
	if len(data) < sectorHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the sector header",
			errs.ErrTruncated, len(data))
	}
	if !bytes.Equal(data[:4], []byte(sectorMagic)) {
		return nil, fmt.Errorf("%w: bad magic %q", errs.ErrFormatMismatch, data[:4])
	}

	engine := endian.GetLittleEndianEngine()
	if v := engine.Uint16(data[4:6]); !versionSupported(v) {
		return nil, fmt.Errorf("%w: sector envelope version %d.%d",
			errs.ErrFormatMismatch, v>>8, v&0xFF)
	}

	count := int(engine.Uint16(data[6:8]))
	payload := data[sectorHeaderSize:]

	records := make([]bitstream.SectorRecord, 0, count)
	for i := 0; i < count; i++ {
		if len(payload) < sectorRecordSize {
			return nil, fmt.Errorf("%w: record %d of %d cut off in the fixed part",
				errs.ErrTruncated, i, count)
		}

		status := payload[5]
		rec := bitstream.SectorRecord{
			Cylinder:    payload[0],
			Head:        payload[1],
			Sector:      payload[2],
			SizeCode:    payload[3],
			Encoding:    format.Encoding(payload[4]),
			Deleted:     status&sectorStatusDeleted != 0,
			Missing:     status&sectorStatusMissing != 0,
			WeakPresent: status&sectorStatusWeakPresent != 0,
			IDBitOffset: int(engine.Uint32(payload[6:10])),
		}
		rec.HeaderCRC = verdictFromStatus(status&sectorStatusHeaderOK != 0, true)
		rec.DataCRC = verdictFromStatus(
			status&sectorStatusDataOK != 0, status&sectorStatusDataChecked != 0)

		dataLen := int(engine.Uint16(payload[10:12]))
		payload = payload[sectorRecordSize:]
		if len(payload) < dataLen {
			return nil, fmt.Errorf("%w: record %d data holds %d of %d bytes",
				errs.ErrTruncated, i, len(payload), dataLen)
		}
		if status&sectorStatusHasData != 0 {
			rec.Data = append([]byte{}, payload[:dataLen]...)
		}
		payload = payload[dataLen:]

		records = append(records, rec)
	}

	if len(payload) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after %d records",
			errs.ErrFormatMismatch, len(payload), count)
	}

	return records, nil
}

func verdictFromStatus(ok, checked bool) bitstream.CrcVerdict {
	switch {
	case !checked:
		return bitstream.CrcVerdict{State: bitstream.CrcNotChecked}
	case ok:
		return bitstream.CrcVerdict{State: bitstream.CrcOK}
	default:
		return bitstream.CrcVerdict{State: bitstream.CrcMismatch}
	}
}
