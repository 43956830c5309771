package bitstream

// reader provides bit-exact, MSB-first access into a Bitstream for the sync
// scanners and record decoders. Reads past the end return short counts so
// callers can distinguish a truncated record from a corrupt one.
type reader struct {
	b *Bitstream
}

// bits reads n bits (n <= 64) starting at bit position pos.
// ok is false when fewer than n bits remain.
func (r reader) bits(pos, n int) (value uint64, ok bool) {
	if pos < 0 || pos+n > r.b.BitCount {
		return 0, false
	}
	for i := 0; i < n; i++ {
		value = value<<1 | uint64(r.b.Bit(pos+i))
	}

	return value, true
}

// match16 reports whether the 16 bits at pos equal word.
func (r reader) match16(pos int, word uint16) bool {
	v, ok := r.bits(pos, 16)

	return ok && uint16(v) == word
}

// channelByte extracts one data byte from 16 channel bits at pos. In both
// FM and MFM the data bits sit at the odd channel positions (clock bits at
// even positions).
func (r reader) channelByte(pos int) (byte, bool) {
	v, ok := r.bits(pos, 16)
	if !ok {
		return 0, false
	}

	var out byte
	for i := 0; i < 8; i++ {
		out = out<<1 | byte(v>>(14-2*i)&1)
	}

	return out, true
}

// channelBytes extracts count data bytes starting at pos.
func (r reader) channelBytes(pos, count int) ([]byte, bool) {
	if pos < 0 || pos+count*16 > r.b.BitCount {
		return nil, false
	}

	out := make([]byte, count)
	for i := range out {
		b, _ := r.channelByte(pos + i*16)
		out[i] = b
	}

	return out, true
}

// weakInRange reports whether any bit in [start, end) is flagged weak.
func (r reader) weakInRange(start, end int) bool {
	if r.b.WeakMask == nil {
		return false
	}
	if start < 0 {
		start = 0
	}
	if end > r.b.BitCount {
		end = r.b.BitCount
	}
	for i := start; i < end; i++ {
		if r.b.Weak(i) {
			return true
		}
	}

	return false
}
