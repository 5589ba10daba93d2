// SPDX-License-Identifier: MIT
package pipeline

import "fmt"

// bytesPerSample returns the storage size of one little-endian PCM sample.
func bytesPerSample(bitDepth int) (int, error) {
	switch bitDepth {
	case 8, 16, 24, 32:
		return bitDepth / 8, nil
	default:
		return 0, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}
}

// encodePCM packs samples into dst, which must hold len(samples) samples.
func encodePCM(dst []byte, samples []int, bitDepth int) {
	width := bitDepth / 8
	for i, s := range samples {
		o := i * width
		switch width {
		case 1:
			dst[o] = byte(s)
		case 2:
			dst[o] = byte(s)
			dst[o+1] = byte(s >> 8)
		case 3:
			dst[o] = byte(s)
			dst[o+1] = byte(s >> 8)
			dst[o+2] = byte(s >> 16)
		case 4:
			dst[o] = byte(s)
			dst[o+1] = byte(s >> 8)
			dst[o+2] = byte(s >> 16)
			dst[o+3] = byte(s >> 24)
		}
	}
}

// decodePCM unpacks whole samples from src into dst[:0]. A trailing partial
// sample is ignored.
func decodePCM(dst []int, src []byte, bitDepth int) []int {
	width := bitDepth / 8
	dst = dst[:0]
	for o := 0; o+width <= len(src); o += width {
		var s int
		switch width {
		case 1:
			s = int(src[o])
		case 2:
			s = int(int16(uint16(src[o]) | uint16(src[o+1])<<8))
		case 3:
			v := int32(uint32(src[o]) | uint32(src[o+1])<<8 | uint32(src[o+2])<<16)
			s = int(v<<8) >> 8
		case 4:
			s = int(int32(uint32(src[o]) | uint32(src[o+1])<<8 | uint32(src[o+2])<<16 | uint32(src[o+3])<<24))
		}
		dst = append(dst, s)
	}
	return dst
}
