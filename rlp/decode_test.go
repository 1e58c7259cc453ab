package rlp

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
)

func TestDecodeString(t *testing.T) {
	var s string
	if err := DecodeBytes([]byte{0x83, 0x64, 0x6f, 0x67}, &s); err != nil {
		t.Fatal(err)
	}
	if s != "dog" {
		t.Fatalf("got %q, want %q", s, "dog")
	}
}

func TestDecodeUint64(t *testing.T) {
	tests := []struct {
		in   []byte
		want uint64
	}{
		{[]byte{0x80}, 0},
		{[]byte{0x7f}, 127},
		{[]byte{0x81, 0x80}, 128},
		{[]byte{0x82, 0x01, 0x00}, 256},
	}
	for _, tt := range tests {
		var u uint64
		if err := DecodeBytes(tt.in, &u); err != nil {
			t.Fatalf("decode %x: %v", tt.in, err)
		}
		if u != tt.want {
			t.Fatalf("decode %x: got %d, want %d", tt.in, u, tt.want)
		}
	}
}

func TestDecodeBigIntRoundTrip(t *testing.T) {
	want := big.NewInt(123456789)
	enc, err := EncodeToBytes(want)
	if err != nil {
		t.Fatal(err)
	}
	var got big.Int
	if err := DecodeBytes(enc, &got); err != nil {
		t.Fatal(err)
	}
	if got.Cmp(want) != 0 {
		t.Fatalf("got %s, want %s", got.String(), want.String())
	}
}

func TestDecodeUint256RoundTrip(t *testing.T) {
	want := uint256.NewInt(0).SetAllOne()
	enc, err := EncodeToBytes(want)
	if err != nil {
		t.Fatal(err)
	}
	var got uint256.Int
	if err := DecodeBytes(enc, &got); err != nil {
		t.Fatal(err)
	}
	if !got.Eq(want) {
		t.Fatalf("got %s, want %s", got.String(), want.String())
	}
}

func TestDecodeList(t *testing.T) {
	var got []string
	if err := DecodeBytes([]byte{0xc8, 0x83, 0x63, 0x61, 0x74, 0x83, 0x64, 0x6f, 0x67}, &got); err != nil {
		t.Fatal(err)
	}
	want := []string{"cat", "dog"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestDecodeStructRoundTrip(t *testing.T) {
	type TestStruct struct {
		Name string
		Age  uint64
	}
	want := TestStruct{Name: "cat", Age: 5}
	enc, err := EncodeToBytes(want)
	if err != nil {
		t.Fatal(err)
	}
	var got TestStruct
	if err := DecodeBytes(enc, &got); err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestDecodeNonCanonicalSizeRejected(t *testing.T) {
	// 0xb8 0x01 <byte>: long-string form encoding a 1-byte payload, which
	// must be encoded in short form instead.
	var s string
	err := DecodeBytes([]byte{0xb8, 0x01, 0x41}, &s)
	if err != ErrNonCanonicalSize {
		t.Fatalf("got %v, want %v", err, ErrNonCanonicalSize)
	}
}
