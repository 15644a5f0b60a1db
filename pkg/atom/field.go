package atom

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/ewal-lang/ewal/pkg/value"
)

// FieldSelector names a bitslice within an Atom's 96 bits: [offset, offset+length).
type FieldSelector struct {
	Offset uint8
	Length uint8
}

// Builtin field ids, reserved and never assignable by user .field directives.
const (
	FieldIDType     = 0
	FieldIDChecksum = 1
	FieldIDHeader   = 2
	FieldIDData     = 3
)

// Builtin field selectors, pinned to the 16+9+71 layout (spec's choice among
// the layouts the manuals disagree on).
var (
	Type     = FieldSelector{Offset: TypeOffset, Length: TypeLen}
	Checksum = FieldSelector{Offset: ChecksumOffset, Length: ChecksumLen}
	Header   = FieldSelector{Offset: HeaderOffset, Length: HeaderLen}
	Data     = FieldSelector{Offset: DataOffset, Length: DataLen}
)

// Validate checks a user-declared field against the atom's 71-bit data
// region: 0 ≤ offset, offset+length ≤ 71, length ≥ 1.
func (fs FieldSelector) Validate() error {
	if fs.Length < 1 {
		return fmt.Errorf("field length must be >= 1, got %d", fs.Length)
	}
	if int(fs.Offset)+int(fs.Length) > DataLen {
		return fmt.Errorf("field [%d,%d) exceeds 71-bit data region", fs.Offset, fs.Offset+fs.Length)
	}
	return nil
}

func lowMask(length uint8) uint256.Int {
	if length == 0 {
		return uint256.Int{}
	}
	one := uint256.NewInt(1)
	shifted := new(uint256.Int).Lsh(one, uint(length))
	var z uint256.Int
	z.Sub(shifted, one)
	return z
}

// Get extracts the bitslice from a, zero-extended to 96 bits, unsigned.
func (fs FieldSelector) Get(a Atom) value.Value {
	shifted := value.Rsh(a.Bits, uint(fs.Offset))
	mask := lowMask(fs.Length)
	return value.BitAnd(shifted, value.FromUint256(&mask, value.Unsigned)).WithKind(value.Unsigned)
}

// GetSigned extracts the bitslice and sign-extends it to 96 bits.
func (fs FieldSelector) GetSigned(a Atom) value.Value {
	raw := fs.Get(a)
	if fs.Length == 0 || fs.Length >= 96 {
		return raw.WithKind(value.Signed)
	}
	signBit := uint256.NewInt(1)
	var signMask uint256.Int
	signMask.Lsh(signBit, uint(fs.Length-1))
	var isNeg uint256.Int
	rawBits := raw.Bits()
	isNeg.And(&rawBits, &signMask)
	if isNeg.IsZero() {
		return raw.WithKind(value.Signed)
	}
	// Sign-extend: set all bits above Length.
	extendMask := lowMask(fs.Length)
	notExtend := new(uint256.Int).Not(&extendMask)
	var extended uint256.Int
	extended.Or(&rawBits, notExtend)
	return value.FromUint256(&extended, value.Signed)
}

// Set splices v, truncated to Length bits, into a's bitslice at Offset,
// returning the updated Atom. The header fields (type, checksum) are
// read-only through instructions; callers must not route user setfield at
// those offsets, the VM engine enforces this at the opcode level.
func (fs FieldSelector) Set(a Atom, v value.Value) Atom {
	mask := lowMask(fs.Length)
	shiftedMask := new(uint256.Int).Lsh(&mask, uint(fs.Offset))
	clearMask := new(uint256.Int).Not(shiftedMask)

	vBits := v.Bits()
	var truncated uint256.Int
	truncated.And(&vBits, &mask)
	var positioned uint256.Int
	positioned.Lsh(&truncated, uint(fs.Offset))

	aBits := a.Bits.Bits()
	var cleared uint256.Int
	cleared.And(&aBits, clearMask)
	var result uint256.Int
	result.Or(&cleared, &positioned)

	return Atom{Bits: value.FromUint256(&result, value.Unsigned)}
}
