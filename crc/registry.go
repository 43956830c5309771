package crc

import (
	"fmt"

	"github.com/uftkit/uft/errs"
)

// Standard parameterisation names accepted by Lookup.
const (
	CRC8SMBus       = "CRC-8/SMBUS"
	CRC16CCITTFalse = "CRC-16/CCITT-FALSE" // MFM/FM sector header and data records
	CRC16XModem     = "CRC-16/XMODEM"
	CRC16Modbus     = "CRC-16/MODBUS"
	CRC16ARC        = "CRC-16/ARC"
	CRC32IEEE       = "CRC-32/IEEE"
	CRC32Castagnoli = "CRC-32/CASTAGNOLI"
	CRC32MPEG2      = "CRC-32/MPEG-2"
	CRC32POSIX      = "CRC-32/POSIX"
	CRC32JAMCRC     = "CRC-32/JAMCRC"
	CRC32BZip2      = "CRC-32/BZIP2"
)

var namedParams = map[string]Params{
	CRC8SMBus:       {Width: 8, Polynomial: 0x07},
	CRC16CCITTFalse: {Width: 16, Polynomial: 0x1021, Init: 0xFFFF},
	CRC16XModem:     {Width: 16, Polynomial: 0x1021},
	CRC16Modbus:     {Width: 16, Polynomial: 0x8005, Init: 0xFFFF, ReflectIn: true, ReflectOut: true},
	CRC16ARC:        {Width: 16, Polynomial: 0x8005, ReflectIn: true, ReflectOut: true},
	CRC32IEEE:       {Width: 32, Polynomial: 0x04C11DB7, Init: 0xFFFFFFFF, XorOut: 0xFFFFFFFF, ReflectIn: true, ReflectOut: true},
	CRC32Castagnoli: {Width: 32, Polynomial: 0x1EDC6F41, Init: 0xFFFFFFFF, XorOut: 0xFFFFFFFF, ReflectIn: true, ReflectOut: true},
	CRC32MPEG2:      {Width: 32, Polynomial: 0x04C11DB7, Init: 0xFFFFFFFF},
	CRC32POSIX:      {Width: 32, Polynomial: 0x04C11DB7, XorOut: 0xFFFFFFFF},
	CRC32JAMCRC:     {Width: 32, Polynomial: 0x04C11DB7, Init: 0xFFFFFFFF, ReflectIn: true, ReflectOut: true},
	CRC32BZip2:      {Width: 32, Polynomial: 0x04C11DB7, Init: 0xFFFFFFFF, XorOut: 0xFFFFFFFF},
}

// Lookup returns the engine for a standard parameterisation by name.
// The engine's table is generated on first lookup and cached.
func Lookup(name string) (*Engine, error) {
	p, ok := namedParams[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown crc parameterisation %q", errs.ErrInvalidArgument, name)
	}

	return NewEngine(p)
}

// Names returns the registered parameterisation names, for diagnostics.
func Names() []string {
	names := make([]string, 0, len(namedParams))
	for name := range namedParams {
		names = append(names, name)
	}

	return names
}

// CCITT returns the CRC-16/CCITT-FALSE engine used by the MFM/FM sector
// decoder. It cannot fail; the parameterisation is built in.
func CCITT() *Engine {
	e, err := Lookup(CRC16CCITTFalse)
	if err != nil {
		panic(err) // unreachable: built-in parameterisation
	}

	return e
}
