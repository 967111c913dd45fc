package common

import (
	"encoding/binary"
	"errors"
	"math"
)

// SampleSize is the encoded length of a Sample: 10 float64 + int64 label.
const SampleSize = NumFeatures*8 + 8

var ErrShortBuffer = errors.New("codec: short buffer")

// PutVector 按大端序写入 float64
func PutVector(buf []byte, v []float64) {
	for i, x := range v {
		binary.BigEndian.PutUint64(buf[i*8:], math.Float64bits(x))
	}
}

// ReadVector decodes n float64 values from buf.
func ReadVector(buf []byte, n int) ([]float64, error) {
	if len(buf) < n*8 {
		return nil, ErrShortBuffer
	}
	v := make([]float64, n)
	for i := range v {
		v[i] = math.Float64frombits(binary.BigEndian.Uint64(buf[i*8:]))
	}
	return v, nil
}

func EncodeProfile(p Profile) []byte {
	buf := make([]byte, NumFeatures*8)
	PutVector(buf, p.Vector())
	return buf
}

func DecodeProfile(buf []byte) (Profile, error) {
	v, err := ReadVector(buf, NumFeatures)
	if err != nil {
		return Profile{}, err
	}
	return ProfileFromVector(v)
}

func EncodeSample(s Sample) []byte {
	buf := make([]byte, SampleSize)
	PutVector(buf, s.Profile.Vector())
	binary.BigEndian.PutUint64(buf[NumFeatures*8:], uint64(int64(s.Label)))
	return buf
}

func DecodeSample(buf []byte) (Sample, error) {
	if len(buf) < SampleSize {
		return Sample{}, ErrShortBuffer
	}
	p, err := DecodeProfile(buf)
	if err != nil {
		return Sample{}, err
	}
	label := int64(binary.BigEndian.Uint64(buf[NumFeatures*8:]))
	return Sample{Profile: p, Label: int(label)}, nil
}
