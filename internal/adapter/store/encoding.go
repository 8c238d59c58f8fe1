package store

import (
	"encoding/binary"
	"fmt"
	"math"
)

// encodeVector encodes v as little-endian IEEE 754 float32 values without a
// length prefix. The bit pattern of every component is preserved.
func encodeVector(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(x))
	}
	return b
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob length %d (not multiple of 4)", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// entryKey orders entries by insertion when iterated by bbolt.
func entryKey(n uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, n)
	return k
}

func keyValue(k []byte) (uint64, error) {
	if len(k) != 8 {
		return 0, fmt.Errorf("invalid entry key length %d", len(k))
	}
	return binary.BigEndian.Uint64(k), nil
}
