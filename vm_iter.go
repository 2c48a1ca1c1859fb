package lily

import (
	"fmt"
	"strings"
)

// CodeIter walks an encoded word stream one instruction at a time,
// exposing the layout dispatch assumes for each opcode: which words are
// input registers, which are outputs, which hold jump distances, and
// which are plain operands (class ids, constant indexes, immediates).
// The closure transform and the encoder are written against the same
// fixed layouts; this iterator is the one place they are enumerated for
// the encoded form, so a validator (or a disassembler of frozen code)
// never re-derives them by hand.
type CodeIter struct {
	code []uint16
	pos  int

	op       uint16
	size     int
	inputs   []int // word offsets, relative to pos
	outputs  []int
	jumps    []int
	specials []int
}

func NewCodeIter(code []uint16) *CodeIter {
	return &CodeIter{code: code, pos: -1}
}

// Next advances to the following instruction, returning false once the
// stream is exhausted. It returns an error through Err-style panic-free
// decoding: an opcode it does not recognize stops iteration with size 0,
// which ValidateBytecode reports as incomplete coverage.
func (it *CodeIter) Next() bool {
	if it.pos < 0 {
		it.pos = 0
	} else {
		it.pos += it.size
	}
	if it.pos >= len(it.code) || it.size < 0 {
		return false
	}
	return it.decode()
}

func (it *CodeIter) Opcode() uint16 { return it.op }
func (it *CodeIter) Pos() int       { return it.pos }
func (it *CodeIter) Size() int      { return it.size }

// Name returns the current opcode's mnemonic.
func (it *CodeIter) Name() string { return opName[it.op] }

func (it *CodeIter) regsAt(offsets []int) []Reg {
	regs := make([]Reg, len(offsets))
	for i, off := range offsets {
		regs[i] = Reg(it.code[it.pos+off])
	}
	return regs
}

// InputRegs returns the registers the current instruction reads.
func (it *CodeIter) InputRegs() []Reg { return it.regsAt(it.inputs) }

// OutputRegs returns the registers the current instruction writes.
func (it *CodeIter) OutputRegs() []Reg { return it.regsAt(it.outputs) }

// SpecialWords returns the plain (non-register, non-jump) operand words.
func (it *CodeIter) SpecialWords() []uint16 {
	words := make([]uint16, len(it.specials))
	for i, off := range it.specials {
		words[i] = it.code[it.pos+off]
	}
	return words
}

// JumpTargets resolves every jump operand to its absolute code
// position: distances are encoded relative to the operand's own word.
func (it *CodeIter) JumpTargets() []int {
	targets := make([]int, len(it.jumps))
	for i, off := range it.jumps {
		targets[i] = it.pos + off + s16(it.code[it.pos+off])
	}
	return targets
}

func (it *CodeIter) set(size int, inputs, outputs, jumps, specials []int) bool {
	it.size, it.inputs, it.outputs, it.jumps, it.specials = size, inputs, outputs, jumps, specials
	return true
}

// seq builds [start, start+1, ..., start+n-1].
func seq(start, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = start + i
	}
	return out
}

func (it *CodeIter) decode() bool {
	code, pc := it.code, it.pos
	op := code[pc]
	it.op = op

	switch {
	case op == opAssign, op == opFastAssign:
		return it.set(3, []int{2}, []int{1}, nil, nil)
	case op >= opIntBinOpBase && op < opIntBinOpBase+10,
		op >= opNumberBinOpBase && op < opNumberBinOpBase+4,
		op >= opCompareBase && op < opCompareBase+4:
		return it.set(4, []int{2, 3}, []int{1}, nil, nil)
	case op >= opUnaryBase && op < opUnaryBase+3:
		return it.set(3, []int{2}, []int{1}, nil, nil)
	case op == opJump:
		return it.set(2, nil, nil, []int{1}, nil)
	case op == opJumpIf, op == opJumpIfSet:
		return it.set(3, []int{1}, nil, []int{2}, nil)
	case op == opJumpIfNotClass:
		return it.set(4, []int{1}, nil, []int{3}, []int{2})
	case op == opForSetup:
		return it.set(7, []int{3, 4, 5}, []int{1, 2}, []int{6}, nil)
	case op == opForInteger:
		return it.set(6, []int{2, 3, 4}, []int{1, 2}, []int{5}, nil)
	case op == opCallForeign, op == opCallNative:
		n := int(code[pc+2])
		return it.set(4+n, seq(4, n), []int{3}, nil, []int{1, 2})
	case op == opCallRegister:
		n := int(code[pc+2])
		return it.set(4+n, append([]int{1}, seq(4, n)...), []int{3}, nil, []int{2})
	case op == opReturnValue:
		return it.set(2, []int{1}, nil, nil, nil)
	case op == opReturnUnit, op == opCatchPop, op == opVMExit:
		return it.set(1, nil, nil, nil, nil)
	case op == opBuildList, op == opBuildTuple:
		n := int(code[pc+2])
		return it.set(3+n, seq(3, n), []int{1}, nil, []int{2})
	case op == opBuildHash:
		n := int(code[pc+2])
		return it.set(3+2*n, seq(3, 2*n), []int{1}, nil, []int{2})
	case op == opBuildVariant:
		n := int(code[pc+4])
		return it.set(5+n, seq(5, n), []int{1}, nil, []int{2, 3, 4})
	case op == opSubscriptGet:
		return it.set(4, []int{2, 3}, []int{1}, nil, nil)
	case op == opSubscriptSet:
		return it.set(4, []int{1, 2, 3}, nil, nil, nil)
	case op == opPropertyGet:
		return it.set(4, []int{2}, []int{1}, nil, []int{3})
	case op == opPropertySet:
		return it.set(4, []int{1, 3}, nil, nil, []int{2})
	case op == opGlobalGet:
		return it.set(3, nil, []int{1}, nil, []int{2})
	case op == opGlobalSet:
		return it.set(3, []int{2}, nil, nil, []int{1})
	case op == opLoadReadonly, op == opLoadBoolean, op == opLoadByte, op == opLoadEmptyVariant:
		return it.set(3, nil, []int{1}, nil, []int{2})
	case op == opLoadInteger:
		return it.set(6, nil, []int{1}, nil, seq(2, 4))
	case op == opLoadUnset:
		return it.set(2, nil, []int{1}, nil, nil)
	case op >= opInstanceNewBase && op < opInstanceNewBase+3:
		n := int(code[pc+3])
		return it.set(4+n, seq(4, n), []int{1}, nil, []int{2, 3})
	case op == opCatchPush:
		return it.set(2, nil, nil, []int{1}, nil)
	case op == opExceptionCatch:
		return it.set(3, nil, nil, []int{2}, []int{1})
	case op == opExceptionStore:
		return it.set(2, nil, []int{1}, nil, nil)
	case op == opExceptionRaise:
		return it.set(2, []int{1}, nil, nil, nil)
	case op == opMatchDispatch:
		n := int(code[pc+3])
		return it.set(4+n, []int{1}, nil, seq(4, n), []int{2, 3})
	case op == opVariantDecompose:
		n := int(code[pc+2])
		return it.set(3+n, []int{1}, seq(3, n), nil, []int{2})
	case op == opClosureNew:
		return it.set(3, nil, []int{1}, nil, []int{2})
	case op == opClosureFunction:
		return it.set(4, []int{3}, []int{1}, nil, []int{2})
	case op == opClosureGet:
		return it.set(3, nil, []int{1}, nil, []int{2})
	case op == opClosureSet:
		return it.set(3, []int{2}, nil, nil, []int{1})
	case op == opDynamicCast:
		return it.set(5, []int{2}, []int{1}, []int{4}, []int{3})
	case op == opInterpolation:
		n := int(code[pc+2])
		return it.set(3+n, seq(3, n), []int{1}, nil, []int{2})
	case op == opOptargDispatch:
		n := int(code[pc+2])
		return it.set(3+n, []int{1}, nil, seq(3, n), []int{2})
	}
	it.size = -1
	return false
}

// ValidateBytecode runs the structural checks emitted code must satisfy:
// iterating the stream visits every word exactly once, and every jump
// operand resolves to the first word of some instruction.
func ValidateBytecode(bc *Bytecode) error {
	starts := make(map[int]bool)
	covered := 0
	it := NewCodeIter(bc.Code)
	for it.Next() {
		starts[it.Pos()] = true
		covered += it.Size()
	}
	if covered != len(bc.Code) {
		return fmt.Errorf("lily: code iterator covered %d of %d words (bad opcode or truncated stream at %d)", covered, len(bc.Code), covered)
	}
	it = NewCodeIter(bc.Code)
	for it.Next() {
		for _, target := range it.JumpTargets() {
			if !starts[target] {
				return fmt.Errorf("lily: %s at %d jumps to %d, which is not an instruction boundary", it.Name(), it.Pos(), target)
			}
		}
	}
	return nil
}

// DisassembleBytecode renders the frozen, encoded form of a function —
// the counterpart to Program.PrettyString, which walks the unencoded
// instruction list. Jump operands print as resolved absolute positions.
func DisassembleBytecode(bc *Bytecode) string {
	var b strings.Builder
	it := NewCodeIter(bc.Code)
	for it.Next() {
		fmt.Fprintf(&b, "%06d  %s", it.Pos(), it.Name())
		for _, r := range it.OutputRegs() {
			fmt.Fprintf(&b, " r%d", r)
		}
		for _, r := range it.InputRegs() {
			fmt.Fprintf(&b, " r%d", r)
		}
		for _, w := range it.SpecialWords() {
			fmt.Fprintf(&b, " %d", w)
		}
		for _, t := range it.JumpTargets() {
			fmt.Fprintf(&b, " @%d", t)
		}
		b.WriteString("\n")
	}
	return b.String()
}
