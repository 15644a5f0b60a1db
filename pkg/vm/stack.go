package vm

import "github.com/ewal-lang/ewal/pkg/value"

// kind tags every stack slot so user instructions can be refused access to
// control bookkeeping: the stack is a single array of 96-bit cells, but
// `pop`/`dup`/etc. only ever see slots tagged Value.
type kind uint8

const (
	kindValue kind = iota
	kindFrameMark
	kindReturnAddr
	kindSymmetrySave
)

type slot struct {
	kind kind
	val  value.Value
}

// maxStackDepth bounds the combined operand/call stack; exceeding it is a
// StackOverflow fault rather than unbounded host memory growth.
const maxStackDepth = 4096

// stack is the VM's single kind-tagged array shared by operand values and
// call/symmetry control bookkeeping.
type stack struct {
	slots []slot
}

func newStack() *stack {
	return &stack{slots: make([]slot, 0, 64)}
}

func (s *stack) depth() int { return len(s.slots) }

func (s *stack) push(k kind, v value.Value) error {
	if len(s.slots) >= maxStackDepth {
		return &Fault{Reason: ReasonStackOverflow}
	}
	s.slots = append(s.slots, slot{kind: k, val: v})
	return nil
}

// pop removes and returns the top slot regardless of kind; used only by
// internal frame unwinding, never directly by a user opcode handler.
func (s *stack) pop() (slot, error) {
	if len(s.slots) == 0 {
		return slot{}, &Fault{Reason: ReasonStackUnderflow}
	}
	top := s.slots[len(s.slots)-1]
	s.slots = s.slots[:len(s.slots)-1]
	return top, nil
}

// popKind pops the top slot and requires it to carry k, faulting with
// WrongStackKind if a control slot leaks into user-visible territory.
func (s *stack) popKind(k kind) (value.Value, error) {
	top, err := s.pop()
	if err != nil {
		return value.Value{}, err
	}
	if top.kind != k {
		return value.Value{}, &Fault{Reason: ReasonWrongStackKind}
	}
	return top.val, nil
}

// popValue is the common case: pop a user-visible Value slot.
func (s *stack) popValue() (value.Value, error) { return s.popKind(kindValue) }

func (s *stack) peekValue() (value.Value, error) {
	if len(s.slots) == 0 {
		return value.Value{}, &Fault{Reason: ReasonStackUnderflow}
	}
	top := s.slots[len(s.slots)-1]
	if top.kind != kindValue {
		return value.Value{}, &Fault{Reason: ReasonWrongStackKind}
	}
	return top.val, nil
}

func (s *stack) pushValue(v value.Value) error { return s.push(kindValue, v) }

// topKind reports the kind tag of the top slot without removing it, and
// false if the stack is empty.
func (s *stack) topKind() (kind, bool) {
	if len(s.slots) == 0 {
		return 0, false
	}
	return s.slots[len(s.slots)-1].kind, true
}
