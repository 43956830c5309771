package crc

// Digest is a streaming CRC context over one engine. The bitstream decoder
// uses it to run a CRC across sync-mark boundaries: the three A1 sync bytes,
// the mark byte and the record body arrive from different scan states but
// contribute to one checksum.
//
// A Digest is not safe for concurrent use; each decoder owns its own.
type Digest struct {
	engine   *Engine
	register uint32
}

// NewDigest returns a streaming context seeded with the engine's Init value.
func (e *Engine) NewDigest() *Digest {
	return &Digest{
		engine:   e,
		register: e.initRegister(),
	}
}

// Reset returns the digest to its initial seeded state.
func (d *Digest) Reset() {
	d.register = d.engine.initRegister()
}

// Write feeds data into the running CRC. It never fails; the error return
// satisfies io.Writer.
func (d *Digest) Write(data []byte) (int, error) {
	d.register = d.engine.update(d.register, data)
	return len(data), nil
}

// WriteByte feeds a single byte into the running CRC.
func (d *Digest) WriteByte(b byte) error {
	d.register = d.engine.update(d.register, []byte{b})
	return nil
}

// Sum returns the presented CRC for everything written so far. The digest
// remains usable; further writes continue the same stream.
func (d *Digest) Sum() uint32 {
	return d.engine.finalize(d.register)
}
