// Package value implements the VM's 96-bit integer substrate: a fixed-width
// magnitude with an unsigned or signed-twos-complement interpretation.
package value

import (
	"fmt"
	"math/big"
	"math/bits"

	"github.com/holiman/uint256"
)

// Width is the bit width of every Value.
const Width = 96

// Kind selects how the 96-bit magnitude is interpreted by arithmetic and
// comparison operators.
type Kind uint8

const (
	Unsigned Kind = iota
	Signed
)

func (k Kind) String() string {
	if k == Signed {
		return "signed"
	}
	return "unsigned"
}

// Value is a 96-bit magnitude tagged with an interpretation. The magnitude
// is always stored masked to the low 96 bits of a uint256.Int; arithmetic
// that needs two's-complement decoding goes through math/big as an
// intermediate step and is re-masked on the way back in.
type Value struct {
	mag  uint256.Int
	kind Kind
}

var (
	one256   = uint256.NewInt(1)
	mask96   = new(uint256.Int).Sub(new(uint256.Int).Lsh(one256, Width), one256)
	pow96Big = new(big.Int).Lsh(big.NewInt(1), Width)
	bit95    = new(uint256.Int).Lsh(one256, Width-1)
)

func maskTo96(z *uint256.Int) uint256.Int {
	var r uint256.Int
	r.And(z, mask96)
	return r
}

// Zero returns the unsigned zero value.
func Zero() Value { return Value{} }

// FromUint64 builds an unsigned Value from a machine integer.
func FromUint64(n uint64) Value {
	var v Value
	v.mag.SetUint64(n)
	v.kind = Unsigned
	return v
}

// FromInt64 builds a signed Value, encoding negative numbers as 96-bit
// two's complement.
func FromInt64(n int64) Value {
	return FromBig(big.NewInt(n), Signed)
}

// FromUint256 wraps a raw 96-bit bit pattern with the given interpretation.
// Bits above position 95 are discarded.
func FromUint256(bitsPattern *uint256.Int, kind Kind) Value {
	return Value{mag: maskTo96(bitsPattern), kind: kind}
}

// FromBig builds a Value from an arbitrary-precision integer, reducing it
// modulo 2^96 (Euclidean, i.e. always non-negative) and tagging it with
// kind. This is how negative big.Int results of signed arithmetic are
// folded back into the 96-bit two's-complement representation.
func FromBig(b *big.Int, kind Kind) Value {
	m := new(big.Int).Mod(b, pow96Big)
	var z uint256.Int
	z.SetFromBig(m)
	return Value{mag: z, kind: kind}
}

// Kind reports whether v is interpreted as signed or unsigned.
func (v Value) Kind() Kind { return v.kind }

// IsSigned reports whether v is interpreted as two's-complement signed.
func (v Value) IsSigned() bool { return v.kind == Signed }

// WithKind returns v reinterpreted under kind, bit pattern unchanged.
func (v Value) WithKind(kind Kind) Value { return Value{mag: v.mag, kind: kind} }

// Bits returns the raw 96-bit magnitude as a bit pattern (no sign decode).
func (v Value) Bits() uint256.Int { return v.mag }

// IsZero reports whether the bit pattern is all zero.
func (v Value) IsZero() bool { return v.mag.IsZero() }

// negative reports whether, under v's kind, v represents a negative number.
func (v Value) negative() bool {
	if v.kind != Signed {
		return false
	}
	var top uint256.Int
	top.And(&v.mag, bit95)
	return !top.IsZero()
}

// Big decodes v to an arbitrary-precision integer honoring its kind.
func (v Value) Big() *big.Int {
	b := v.mag.ToBig()
	if v.negative() {
		return new(big.Int).Sub(b, pow96Big)
	}
	return b
}

// Uint64 truncates v's unsigned bit pattern to the low 64 bits.
func (v Value) Uint64() uint64 { return v.mag.Uint64() }

// Bytes12 renders the 96-bit bit pattern big-endian, as stored in an Atom.
func (v Value) Bytes12() [12]byte {
	full := v.mag.Bytes32()
	var out [12]byte
	copy(out[:], full[20:32])
	return out
}

// FromBytes12 reconstructs a Value from its big-endian 12-byte encoding.
func FromBytes12(b [12]byte, kind Kind) Value {
	var full [32]byte
	copy(full[20:32], b[:])
	var z uint256.Int
	z.SetBytes(full[:])
	return Value{mag: z, kind: kind}
}

func (v Value) String() string {
	return fmt.Sprintf("%s:%s", v.kind, v.Big().String())
}

func promote(a, b Value) Kind {
	if a.kind == Signed || b.kind == Signed {
		return Signed
	}
	return Unsigned
}

// Add returns a+b, wrapping modulo 2^96. Signed if either operand is signed.
func Add(a, b Value) Value {
	k := promote(a, b)
	return FromBig(new(big.Int).Add(decode(a, k), decode(b, k)), k)
}

// Sub returns a-b, wrapping modulo 2^96.
func Sub(a, b Value) Value {
	k := promote(a, b)
	return FromBig(new(big.Int).Sub(decode(a, k), decode(b, k)), k)
}

// Mul returns a*b, wrapping modulo 2^96.
func Mul(a, b Value) Value {
	k := promote(a, b)
	return FromBig(new(big.Int).Mul(decode(a, k), decode(b, k)), k)
}

// Neg returns -a, wrapping modulo 2^96, always signed.
func Neg(a Value) Value {
	return FromBig(new(big.Int).Neg(decode(a, Signed)), Signed)
}

// decode reinterprets a's bit pattern under kind before combining operands
// of mixed signedness: an unsigned operand promoted into a signed op is read
// as two's complement, so one with bit 95 set becomes negative.
func decode(a Value, kind Kind) *big.Int {
	if kind == Signed {
		return a.WithKind(Signed).Big()
	}
	return a.WithKind(Unsigned).Big()
}

// DivMod returns floor division and its matching remainder. Division by
// zero is reported via ok=false; the caller turns that into a runtime fault.
func DivMod(a, b Value) (q, m Value, ok bool) {
	if b.IsZero() {
		return Value{}, Value{}, false
	}
	k := promote(a, b)
	bigA, bigB := decode(a, k), decode(b, k)
	qq, rr := floorDivMod(bigA, bigB)
	return FromBig(qq, k), FromBig(rr, k), true
}

// floorDivMod computes floor division (quotient rounds toward -infinity)
// and the remainder consistent with it, from Go's truncating QuoRem.
func floorDivMod(a, b *big.Int) (q, r *big.Int) {
	q, r = new(big.Int), new(big.Int)
	q.QuoRem(a, b, r)
	if r.Sign() != 0 && (r.Sign() < 0) != (b.Sign() < 0) {
		q.Sub(q, big.NewInt(1))
		r.Add(r, b)
	}
	return q, r
}

// Less reports a < b under promoted signedness.
func Less(a, b Value) bool {
	k := promote(a, b)
	return decode(a, k).Cmp(decode(b, k)) < 0
}

// LessEqual reports a <= b under promoted signedness.
func LessEqual(a, b Value) bool {
	k := promote(a, b)
	return decode(a, k).Cmp(decode(b, k)) <= 0
}

// Equal reports bit-pattern equality (sign interpretation is irrelevant to
// equality of a fixed-width representation).
func Equal(a, b Value) bool {
	return a.mag.Eq(&b.mag)
}

// Lsh performs a logical left shift by n mod 96 bits.
func Lsh(a Value, n uint) Value {
	n %= Width
	var z uint256.Int
	z.Lsh(&a.mag, n)
	return Value{mag: maskTo96(&z), kind: a.kind}
}

// Rsh performs a logical right shift by n mod 96 bits. It never
// sign-extends, even for signed values; arithmetic shift is left to
// sign-extending field reads instead.
func Rsh(a Value, n uint) Value {
	n %= Width
	var z uint256.Int
	z.Rsh(&a.mag, n)
	return Value{mag: z, kind: a.kind}
}

// BitAnd, BitOr, BitXor, BitNot are pure bit-pattern operators.
func BitAnd(a, b Value) Value {
	var z uint256.Int
	z.And(&a.mag, &b.mag)
	return Value{mag: z, kind: promote(a, b)}
}

func BitOr(a, b Value) Value {
	var z uint256.Int
	z.Or(&a.mag, &b.mag)
	return Value{mag: z, kind: promote(a, b)}
}

func BitXor(a, b Value) Value {
	var z uint256.Int
	z.Xor(&a.mag, &b.mag)
	return Value{mag: z, kind: promote(a, b)}
}

func BitNot(a Value) Value {
	var z uint256.Int
	z.Not(&a.mag)
	return Value{mag: maskTo96(&z), kind: a.kind}
}

// Truthy treats a nonzero magnitude as true, per the VM's logical operators.
func (v Value) Truthy() bool { return !v.IsZero() }

// LogicalAnd, LogicalOr implement the boolean (not bitwise) and/or/xor ops.
func LogicalAnd(a, b Value) Value { return boolValue(a.Truthy() && b.Truthy()) }
func LogicalOr(a, b Value) Value  { return boolValue(a.Truthy() || b.Truthy()) }
func LogicalXor(a, b Value) Value { return boolValue(a.Truthy() != b.Truthy()) }

func boolValue(b bool) Value {
	if b {
		return FromUint64(1)
	}
	return FromUint64(0)
}

// BitCount returns the number of set bits in the 96-bit pattern.
func (v Value) BitCount() int {
	buf := v.mag.Bytes32()
	n := 0
	for _, b := range buf[20:32] {
		n += bits.OnesCount8(b)
	}
	return n
}

// BitScanForward returns the index of the least significant set bit, or 0
// if the value is zero (per spec, scan-of-zero is defined as 0).
func (v Value) BitScanForward() int {
	return int(v.mag.ToBig().TrailingZeroBits())
}

// BitScanReverse returns the index of the most significant set bit, or 0
// if the value is zero.
func (v Value) BitScanReverse() int {
	b := v.mag.ToBig()
	if b.Sign() == 0 {
		return 0
	}
	return b.BitLen() - 1
}
