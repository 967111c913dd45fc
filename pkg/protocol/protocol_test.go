package protocol

import (
	"bytes"
	"io"
	"testing"

	"thrivesight/pkg/common"
)

func TestEncodeDecode(t *testing.T) {
	buf := new(bytes.Buffer)
	val := common.EncodeProfile(common.Profile{Age: 2, Milestones: 4, IsTop500: 1})

	if err := Encode(buf, OpPredict, nil, val); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if buf.Len() != HeaderSize+len(val) {
		t.Fatalf("unexpected frame size %d", buf.Len())
	}

	pkg, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if pkg.Op != OpPredict {
		t.Errorf("got op %v, want %v", pkg.Op, OpPredict)
	}
	if !bytes.Equal(pkg.Value, val) {
		t.Errorf("value mismatch")
	}
	p, err := common.DecodeProfile(pkg.Value)
	if err != nil || p.Milestones != 4 {
		t.Errorf("profile did not survive the frame: %+v err=%v", p, err)
	}
}

func TestDecodeInvalidMagic(t *testing.T) {
	buf := bytes.NewReader([]byte{0x4E, OpPredict, 0, 0, 0, 0, 0, 5, 'h', 'e', 'l', 'l', 'o'})
	_, err := Decode(buf)
	if err != ErrInvalidMagic {
		t.Errorf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestEncodeDecodeEmptyKeyValue(t *testing.T) {
	buf := new(bytes.Buffer)
	if err := Encode(buf, OpModel, []byte{}, []byte{}); err != nil {
		t.Fatalf("Encode empty failed: %v", err)
	}
	pkg, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if pkg.Op != OpModel || len(pkg.Key) != 0 || len(pkg.Value) != 0 {
		t.Errorf("unexpected result: %+v", pkg)
	}
}

func TestRoundtripAllOps(t *testing.T) {
	ops := []byte{OpPredict, OpModel, OpRecent, OpSample, RespOK, RespVal, RespErr}
	key := EncodeLimit(25)
	val := []byte("test-value")

	for _, op := range ops {
		buf := new(bytes.Buffer)
		if err := Encode(buf, op, key, val); err != nil {
			t.Errorf("Encode op %v failed: %v", op, err)
			continue
		}
		pkg, err := Decode(buf)
		if err != nil {
			t.Errorf("Decode op %v failed: %v", op, err)
			continue
		}
		if pkg.Op != op {
			t.Errorf("op %v: got %v", op, pkg.Op)
		}
		if n, err := DecodeLimit(pkg.Key); err != nil || n != 25 {
			t.Errorf("op %v: limit %d err=%v", op, n, err)
		}
	}
}

func TestDecodeIncompleteHeader(t *testing.T) {
	r := bytes.NewReader([]byte{MagicNumber, OpPredict}) // only 2 bytes
	_, err := Decode(r)
	if err != io.ErrUnexpectedEOF {
		t.Errorf("expected ErrUnexpectedEOF for incomplete header, got %v", err)
	}
}

func TestDecodeOversizedValue(t *testing.T) {
	r := bytes.NewReader([]byte{MagicNumber, OpPredict, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF})
	if _, err := Decode(r); err == nil {
		t.Error("expected error for oversized value")
	}
	if _, err := DecodeLimit([]byte{1, 2}); err == nil {
		t.Error("expected error for short limit key")
	}
}
