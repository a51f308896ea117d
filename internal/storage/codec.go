package storage

import (
	"encoding/binary"
	"math"

	"github.com/m-mizutani/goerr/v2"
)

// EncodeVector encodes a vector as little-endian IEEE 754 float64s.
func EncodeVector(vec []float64) []byte {
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// DecodeVector decodes a vector written by EncodeVector, checking the buffer
// against dimension.
func DecodeVector(buf []byte, dimension int) ([]float64, error) {
	if dimension <= 0 {
		return nil, goerr.New("invalid dimension", goerr.V("dimension", dimension))
	}
	if len(buf) != dimension*8 {
		return nil, goerr.New("buffer size mismatch",
			goerr.V("expected", dimension*8), goerr.V("got", len(buf)))
	}

	vec := make([]float64, dimension)
	for i := range vec {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec, nil
}
