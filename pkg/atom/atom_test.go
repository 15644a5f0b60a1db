package atom

import (
	"testing"

	"github.com/ewal-lang/ewal/pkg/value"
)

func TestEmptyIsType0(t *testing.T) {
	if !Empty().IsEmpty() {
		t.Fatal("Empty() should have type 0")
	}
}

func TestNewRoundTripsTypeAndData(t *testing.T) {
	a := New(0x1234, value.FromUint64(0x7F))
	if a.TypeNumber() != 0x1234 {
		t.Fatalf("TypeNumber() = %#x, want 0x1234", a.TypeNumber())
	}
	if got := Data.Get(a).Uint64(); got != 0x7F {
		t.Fatalf("Data.Get() = %#x, want 0x7F", got)
	}
}

func TestChecksumValidOnFreshAtom(t *testing.T) {
	a := New(7, value.FromUint64(42))
	if !a.ChecksumValid() {
		t.Fatal("freshly built atom should have a valid checksum")
	}
}

func TestChecksumPureAndRepeatable(t *testing.T) {
	a := New(7, value.FromUint64(42))
	first := a.ChecksumValid()
	second := a.ChecksumValid()
	if first != second {
		t.Fatal("checksum verification must be pure and repeatable")
	}
}

func TestChecksumDetectsCorruption(t *testing.T) {
	a := New(7, value.FromUint64(42))
	// Mutating data directly (bypassing New, which would recompute the
	// checksum) must invalidate the stored header.
	corrupted := Data.Set(a, value.FromUint64(43))
	if corrupted.ChecksumValid() {
		t.Fatal("corrupted atom should fail checksum verification")
	}
}
