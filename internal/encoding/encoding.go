// Package encoding converts embedding vectors to and from the byte
// representation stored by database-backed indexes.
package encoding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidVector is returned when a vector is nil, empty, or contains
// non-finite values.
var ErrInvalidVector = errors.New("invalid vector")

// EncodeVector encodes a float32 vector as a length-prefixed little-endian
// blob. The layout is a uint32 element count followed by the raw values.
func EncodeVector(vector []float32) ([]byte, error) {
	if err := ValidateVector(vector); err != nil {
		return nil, err
	}

	buf := make([]byte, 4+4*len(vector))
	binary.LittleEndian.PutUint32(buf, uint32(len(vector)))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[4+4*i:], math.Float32bits(v))
	}
	return buf, nil
}

// DecodeVector decodes a blob produced by EncodeVector.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, ErrInvalidVector
	}

	n := binary.LittleEndian.Uint32(data)
	if len(data) != 4+4*int(n) {
		return nil, fmt.Errorf("%w: blob length %d does not match element count %d", ErrInvalidVector, len(data), n)
	}

	vector := make([]float32, n)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4+4*i:]))
	}
	return vector, nil
}

// ValidateVector reports whether a vector is usable: non-empty and free of
// NaN and infinite values.
func ValidateVector(vector []float32) error {
	if len(vector) == 0 {
		return ErrInvalidVector
	}
	for i, v := range vector {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite value at index %d", ErrInvalidVector, i)
		}
	}
	return nil
}
