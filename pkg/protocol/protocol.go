package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	MagicNumber = 0x54

	OpPredict = 0x01 // value: encoded profile
	OpModel   = 0x02
	OpRecent  = 0x03 // key: uint32 limit
	OpSample  = 0x04 // value: encoded sample

	RespOK  = 0x00
	RespErr = 0xFF
	RespVal = 0x01

	HeaderSize = 8

	// MaxValueSize bounds a single frame body.
	MaxValueSize = 16 << 20
)

var ErrInvalidMagic = errors.New("invalid magic number")

type Packet struct {
	Op    byte
	Key   []byte
	Value []byte
}

func Encode(w io.Writer, op byte, key []byte, value []byte) error {
	if len(key) > 0xFFFF {
		return fmt.Errorf("key too large: %d bytes", len(key))
	}
	if len(value) > MaxValueSize {
		return fmt.Errorf("value too large: %d bytes", len(value))
	}
	frame := make([]byte, HeaderSize+len(key)+len(value))
	frame[0] = MagicNumber
	frame[1] = op
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(key)))
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(value)))
	copy(frame[HeaderSize:], key)
	copy(frame[HeaderSize+len(key):], value)

	_, err := w.Write(frame)
	return err
}

func Decode(r io.Reader) (*Packet, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	if header[0] != MagicNumber {
		return nil, ErrInvalidMagic
	}

	op := header[1]
	kLen := binary.BigEndian.Uint16(header[2:4])
	vLen := binary.BigEndian.Uint32(header[4:8])
	if vLen > MaxValueSize {
		return nil, fmt.Errorf("value too large: %d bytes", vLen)
	}

	key := make([]byte, kLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}

	val := make([]byte, vLen)
	if _, err := io.ReadFull(r, val); err != nil {
		return nil, err
	}

	return &Packet{Op: op, Key: key, Value: val}, nil
}

// EncodeLimit OpRecent 请求的 key
func EncodeLimit(limit int) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(limit))
	return buf
}

func DecodeLimit(key []byte) (int, error) {
	if len(key) != 4 {
		return 0, fmt.Errorf("limit key must be 4 bytes, got %d", len(key))
	}
	return int(binary.BigEndian.Uint32(key)), nil
}
