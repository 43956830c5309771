// Package crc implements the parameterised CRC family used by every decoder
// in the core.
//
// A single table-driven engine covers widths 8, 16 and 32 with configurable
// polynomial, initial value, final xor and input/output reflection. Tables
// are generated lazily on first use and cached per parameterisation;
// generation is idempotent, so concurrent first use is safe.
//
// The named registry (Lookup) carries the standard parameterisations the
// sector decoders need, most importantly CRC-16/CCITT-FALSE for MFM/FM
// address and data records.
package crc

import (
	"fmt"
	"sync"

	"github.com/uftkit/uft/errs"
)

// Params describes one CRC parameterisation. Params is comparable and serves
// as the table-cache key.
type Params struct {
	Width      uint8 // 8, 16 or 32
	Polynomial uint32
	Init       uint32
	XorOut     uint32
	ReflectIn  bool
	ReflectOut bool
}

// Engine is an immutable table-driven CRC calculator for one parameterisation.
// Engines are safe for concurrent use.
type Engine struct {
	params Params
	table  [256]uint32
	mask   uint32
}

var engineCache sync.Map // Params -> *Engine

// NewEngine returns the engine for the given parameterisation, generating
// and caching its table on first use. Double generation under a race
// produces identical tables, so the cache needs no locking beyond sync.Map.
func NewEngine(p Params) (*Engine, error) {
	if cached, ok := engineCache.Load(p); ok {
		return cached.(*Engine), nil
	}

	switch p.Width {
	case 8, 16, 32:
	default:
		return nil, fmt.Errorf("%w: crc width %d (want 8, 16 or 32)", errs.ErrInvalidArgument, p.Width)
	}

	e := &Engine{params: p}
	if p.Width == 32 {
		e.mask = 0xFFFFFFFF
	} else {
		e.mask = (uint32(1) << p.Width) - 1
	}
	e.generateTable()

	actual, _ := engineCache.LoadOrStore(p, e)

	return actual.(*Engine), nil
}

// Params returns the engine's parameterisation.
func (e *Engine) Params() Params {
	return e.params
}

func (e *Engine) generateTable() {
	p := e.params
	if p.ReflectIn {
		poly := reflect(p.Polynomial, p.Width)
		for i := range 256 {
			crc := uint32(i)
			for range 8 {
				if crc&1 != 0 {
					crc = (crc >> 1) ^ poly
				} else {
					crc >>= 1
				}
			}
			e.table[i] = crc & e.mask
		}

		return
	}

	top := uint32(1) << (p.Width - 1)
	for i := range 256 {
		crc := uint32(i) << (p.Width - 8)
		for range 8 {
			if crc&top != 0 {
				crc = (crc << 1) ^ p.Polynomial
			} else {
				crc <<= 1
			}
		}
		e.table[i] = crc & e.mask
	}
}

// initRegister returns the raw shift-register value corresponding to Init.
func (e *Engine) initRegister() uint32 {
	if e.params.ReflectIn {
		return reflect(e.params.Init, e.params.Width)
	}

	return e.params.Init
}

// update feeds data through the raw register value.
func (e *Engine) update(register uint32, data []byte) uint32 {
	p := e.params
	if p.ReflectIn {
		for _, b := range data {
			register = e.table[byte(register)^b] ^ (register >> 8)
		}

		return register & e.mask
	}

	shift := uint(p.Width - 8)
	for _, b := range data {
		register = (e.table[byte(register>>shift)^b] ^ (register << 8)) & e.mask
	}

	return register
}

// finalize converts a raw register value into the presented CRC.
func (e *Engine) finalize(register uint32) uint32 {
	if e.params.ReflectIn != e.params.ReflectOut {
		register = reflect(register, e.params.Width)
	}

	return (register ^ e.params.XorOut) & e.mask
}

// Checksum computes the CRC of data in one shot.
func (e *Engine) Checksum(data []byte) uint32 {
	return e.finalize(e.update(e.initRegister(), data))
}

// Combine folds crcB (over lenB bytes) onto crcA as if the two byte strings
// had been hashed in one pass.
//
// This is the O(lenB) zero-feeding construction, not the logarithmic GF(2)
// matrix method, so keep lenB at record scale.
func (e *Engine) Combine(crcA, crcB uint32, lenB int) uint32 {
	if lenB < 0 {
		return crcA
	}

	rawA := e.unfinalize(crcA)
	rawB := e.unfinalize(crcB)

	zeros := make([]byte, lenB)

	// CRC update is affine in the register: feeding B from register R equals
	// feeding zeros from R, xor feeding B from register 0, modulo the init
	// contribution present in rawB.
	combined := e.update(rawA, zeros) ^ rawB ^ e.update(e.initRegister(), zeros)

	return e.finalize(combined & e.mask)
}

// unfinalize reverses finalize, recovering the raw register value.
func (e *Engine) unfinalize(crc uint32) uint32 {
	register := (crc ^ e.params.XorOut) & e.mask
	if e.params.ReflectIn != e.params.ReflectOut {
		register = reflect(register, e.params.Width)
	}

	return register
}

// reflect reverses the low width bits of v.
func reflect(v uint32, width uint8) uint32 {
	var out uint32
	for i := uint8(0); i < width; i++ {
		if v&(1<<i) != 0 {
			out |= 1 << (width - 1 - i)
		}
	}

	return out
}
