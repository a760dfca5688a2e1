package database

import (
	"database/sql/driver"
	"encoding/binary"
	"fmt"
	"math"
)

// Float32Blob wraps a float32 slice for use as a binary BLOB column value.
// It implements sql.Scanner and driver.Valuer to convert between Go and the
// on-disk format: a packed little-endian float32 array.
type Float32Blob struct {
	floats []float32
}

// NewFloat32Blob creates a Float32Blob from a float32 slice. The input is
// defensively copied so later mutations of the source slice have no effect.
func NewFloat32Blob(floats []float32) Float32Blob {
	cp := make([]float32, len(floats))
	copy(cp, floats)
	return Float32Blob{floats: cp}
}

// Floats returns a defensive copy of the underlying float32 slice.
// Returns nil if the blob was never initialized (e.g. scanned from NULL).
func (v Float32Blob) Floats() []float32 {
	if v.floats == nil {
		return nil
	}
	cp := make([]float32, len(v.floats))
	copy(cp, v.floats)
	return cp
}

// Dimension returns the number of elements in the vector.
func (v Float32Blob) Dimension() int {
	return len(v.floats)
}

// Scan implements sql.Scanner. It decodes a packed little-endian float32
// array from a []byte value.
func (v *Float32Blob) Scan(value any) error {
	if value == nil {
		v.floats = nil
		return nil
	}

	var raw []byte
	switch val := value.(type) {
	case []byte:
		raw = val
	case string:
		raw = []byte(val)
	default:
		return fmt.Errorf("cannot scan %T into Float32Blob", value)
	}

	if len(raw)%4 != 0 {
		return fmt.Errorf("blob length %d is not a multiple of 4", len(raw))
	}

	floats := make([]float32, len(raw)/4)
	for i := range floats {
		bits := binary.LittleEndian.Uint32(raw[i*4:])
		floats[i] = math.Float32frombits(bits)
	}

	v.floats = floats
	return nil
}

// Value implements driver.Valuer. It serializes the vector to a packed
// little-endian float32 array.
func (v Float32Blob) Value() (driver.Value, error) {
	buf := make([]byte, len(v.floats)*4)
	for i, f := range v.floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf, nil
}
