// SPDX-License-Identifier: MIT
package native

import (
	"encoding/binary"

	"omx/internal/il"
)

// OpenMAX IL 1.1.2 structure version stamped into every parameter struct.
var specVersion = [4]byte{1, 1, 2, 0}

// OMX_PARAM_PORTDEFINITIONTYPE on LP64 targets.
const (
	portDefSize        = 112
	portDefFormatStart = 40
	portDefFormatEnd   = 104
)

var le = binary.LittleEndian

func stamp(p []byte) {
	le.PutUint32(p[0:], uint32(len(p)))
	copy(p[4:8], specVersion[:])
}

func encodePortDefinition(def il.PortDefinition) []byte {
	p := make([]byte, portDefSize)
	stamp(p)
	le.PutUint32(p[8:], def.Index)
	le.PutUint32(p[12:], uint32(def.Direction))
	le.PutUint32(p[16:], def.BufferCountActual)
	le.PutUint32(p[20:], def.BufferCountMin)
	le.PutUint32(p[24:], def.BufferSize)
	le.PutUint32(p[28:], boolean(def.Enabled))
	le.PutUint32(p[32:], boolean(def.Populated))
	copy(p[portDefFormatStart:portDefFormatEnd], def.Format)
	return p
}

func decodePortDefinition(p []byte) il.PortDefinition {
	format := make([]byte, portDefFormatEnd-portDefFormatStart)
	copy(format, p[portDefFormatStart:portDefFormatEnd])
	return il.PortDefinition{
		Index:             le.Uint32(p[8:]),
		Direction:         il.Direction(le.Uint32(p[12:])),
		BufferCountActual: le.Uint32(p[16:]),
		BufferCountMin:    le.Uint32(p[20:]),
		BufferSize:        le.Uint32(p[24:]),
		Enabled:           le.Uint32(p[28:]) != 0,
		Populated:         le.Uint32(p[32:]) != 0,
		Format:            format,
	}
}

func boolean(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func check(r uint32) error {
	if r == 0 {
		return nil
	}
	return il.ErrorCode(r)
}
