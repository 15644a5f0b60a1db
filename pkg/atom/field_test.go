package atom

import (
	"testing"

	"github.com/ewal-lang/ewal/pkg/value"
)

func TestFieldSetGetIdempotent(t *testing.T) {
	f := FieldSelector{Offset: 10, Length: 4}
	a := Empty()
	a = f.Set(a, value.FromUint64(0xF))

	again := f.Set(a, f.Get(a))
	if !value.Equal(again.Bits, a.Bits) {
		t.Fatal("setfield(a, f, getfield(a, f)) must equal a")
	}
}

func TestFieldGetSetRoundTripsModuloLength(t *testing.T) {
	f := FieldSelector{Offset: 3, Length: 5}
	a := Empty()
	a = f.Set(a, value.FromUint64(0x3F)) // truncates to 5 bits: 0x1F

	got := f.Get(a).Uint64()
	if got != 0x1F {
		t.Fatalf("Get() = %#x, want %#x", got, 0x1F)
	}
}

func TestFieldSelectorValidate(t *testing.T) {
	if err := (FieldSelector{Offset: 70, Length: 2}).Validate(); err == nil {
		t.Fatal("expected error for field exceeding 71-bit data region")
	}
	if err := (FieldSelector{Offset: 0, Length: 0}).Validate(); err == nil {
		t.Fatal("expected error for zero-length field")
	}
	if err := (FieldSelector{Offset: 10, Length: 4}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGetSignedSignExtends(t *testing.T) {
	f := FieldSelector{Offset: 0, Length: 4}
	a := Empty()
	a = f.Set(a, value.FromUint64(0xF)) // -1 in 4-bit two's complement

	signed := f.GetSigned(a)
	if !signed.IsSigned() {
		t.Fatal("GetSigned must tag result as signed")
	}
	if signed.Big().Int64() != -1 {
		t.Fatalf("GetSigned() = %v, want -1", signed.Big())
	}
}

func TestGetSignedPositiveUnaffected(t *testing.T) {
	f := FieldSelector{Offset: 0, Length: 4}
	a := Empty()
	a = f.Set(a, value.FromUint64(0x5))

	signed := f.GetSigned(a)
	if signed.Big().Int64() != 5 {
		t.Fatalf("GetSigned() = %v, want 5", signed.Big())
	}
}

func TestBuiltinFieldOffsets(t *testing.T) {
	a := New(0xABCD, value.FromUint64(0x123))
	if Type.Get(a).Uint64() != 0xABCD {
		t.Fatalf("Type field mismatch: %#x", Type.Get(a).Uint64())
	}
	if Data.Get(a).Uint64() != 0x123 {
		t.Fatalf("Data field mismatch: %#x", Data.Get(a).Uint64())
	}
}
