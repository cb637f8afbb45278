package protocol

import (
	"encoding/binary"

	"golang.org/x/sys/cpu"
)

// На проводе всегда big-endian. Пишем в нативном порядке во внутренний
// буфер кодека и разворачиваем байты, если хост little-endian.
var hostBigEndian = cpu.IsBigEndian

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

func toWire(b []byte) []byte {
	if !hostBigEndian {
		reverse(b)
	}
	return b
}

func putUint16(b []byte, v uint16) []byte {
	binary.NativeEndian.PutUint16(b[:2], v)
	return toWire(b[:2])
}

func putUint32(b []byte, v uint32) []byte {
	binary.NativeEndian.PutUint32(b[:4], v)
	return toWire(b[:4])
}

func putUint64(b []byte, v uint64) []byte {
	binary.NativeEndian.PutUint64(b[:8], v)
	return toWire(b[:8])
}

// fromWire копирует src в scratch и приводит к нативному порядку.
func fromWire(scratch, src []byte) []byte {
	n := copy(scratch, src)
	b := scratch[:n]
	if !hostBigEndian {
		reverse(b)
	}
	return b
}
