package vm

import "github.com/ewal-lang/ewal/pkg/value"

// registerCount is the number of addressable general registers, R0...R14.
const registerCount = 15

// randomRegisterIndex is the operand value the resolver assigns to the
// read-only uniform-random register R?.
const randomRegisterIndex = 15

// Registers is an origin atom's persistent register file: R0...R14 plus
// the read-only random register R?, which re-samples on every read and is
// never part of the persisted state.
type Registers struct {
	R [registerCount]value.Value
}

// NewRegisters returns a zeroed register file.
func NewRegisters() *Registers {
	return &Registers{}
}

// Get reads register index (0..14). The caller resolves R? separately
// since reading it requires the host RNG, not just the register file.
func (r *Registers) Get(index int) (value.Value, bool) {
	if index < 0 || index >= registerCount {
		return value.Value{}, false
	}
	return r.R[index], true
}

// Set writes register index (0..14).
func (r *Registers) Set(index int, v value.Value) bool {
	if index < 0 || index >= registerCount {
		return false
	}
	r.R[index] = v
	return true
}
