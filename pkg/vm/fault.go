// Package vm executes a decoded bytecode.Module against one event window
// activation: register file, kind-tagged call/operand stack, dispatcher.
package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/ewal-lang/ewal/pkg/bytecode"
)

// faultCBOREncMode encodes in canonical mode, so the same Fault value
// always produces the same bytes (required for byte-for-byte golden
// vectors and for crash-dump files to diff cleanly across runs).
var faultCBOREncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	faultCBOREncMode = em
}

// Reason identifies why an activation entered FAULTED.
type Reason uint8

const (
	ReasonDivideByZero Reason = iota
	ReasonStackUnderflow
	ReasonStackOverflow
	ReasonWrongStackKind
	ReasonInvalidRegister
	ReasonInvalidSite
	ReasonInvalidField
	ReasonInvalidFieldWrite // write targeted a read-only header field
	ReasonInvalidSymmetrySet
	ReasonJumpTargetInvalid
	ReasonUnknownOpcode
)

func (r Reason) String() string {
	switch r {
	case ReasonDivideByZero:
		return "divide by zero"
	case ReasonStackUnderflow:
		return "stack underflow"
	case ReasonStackOverflow:
		return "stack overflow"
	case ReasonWrongStackKind:
		return "control slot reached by user instruction"
	case ReasonInvalidRegister:
		return "register index out of range"
	case ReasonInvalidSite:
		return "site number out of range"
	case ReasonInvalidField:
		return "unknown field id"
	case ReasonInvalidFieldWrite:
		return "write to a read-only header field"
	case ReasonInvalidSymmetrySet:
		return "empty symmetry set"
	case ReasonJumpTargetInvalid:
		return "jump target out of range"
	case ReasonUnknownOpcode:
		return "unknown opcode"
	default:
		return "unknown fault"
	}
}

// Fault is a typed, CBOR-encodable snapshot of a runtime fault: the host
// sees a reason code, the faulting instruction's position and opcode, and
// the top of the operand stack at the moment of the fault.
type Fault struct {
	Reason  Reason         `cbor:"reason"`
	IP      int            `cbor:"ip"`
	Opcode  bytecode.Opcode `cbor:"opcode"`
	HasTop  bool           `cbor:"has_top"`
	TopBits [12]byte       `cbor:"top_bits,omitempty"`
}

func (f *Fault) Error() string {
	return fmt.Sprintf("fault at ip=%d (%s): %s", f.IP, f.Opcode, f.Reason)
}

// EncodeCBOR serializes f for transport across the hostsvc boundary or for
// writing a crash-dump file, using its own cbor struct tags.
func (f *Fault) EncodeCBOR() ([]byte, error) {
	return faultCBOREncMode.Marshal(f)
}

// DecodeFaultCBOR reconstructs a Fault from CBOR-encoded bytes.
func DecodeFaultCBOR(data []byte) (*Fault, error) {
	var f Fault
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("vm: decode fault: %w", err)
	}
	return &f, nil
}
