package lily

// instructionRegs returns the registers an instruction reads and writes.
// Used by ClosureConvert to find every register reference an inner
// function's body makes, and by ClosureSpots to tell which of those
// references cross into the enclosing function's frame. Instructions
// with no register operands (labels, unconditional jumps, catch
// push/pop) return nil, nil. IClosureGet/IClosureSet are deliberately
// absent: they only exist after conversion has already run, and
// re-spotting them would wrap cell traffic in more cell traffic.
func instructionRegs(i Instruction) (reads, writes []Reg) {
	switch ii := i.(type) {
	case IAssign:
		return []Reg{ii.Src}, []Reg{ii.Dst}
	case IFastAssign:
		return []Reg{ii.Src}, []Reg{ii.Dst}
	case IIntBinOp:
		return []Reg{ii.A, ii.B}, []Reg{ii.Dst}
	case INumberBinOp:
		return []Reg{ii.A, ii.B}, []Reg{ii.Dst}
	case ICompare:
		return []Reg{ii.A, ii.B}, []Reg{ii.Dst}
	case IUnary:
		return []Reg{ii.Src}, []Reg{ii.Dst}
	case IJumpIf:
		return []Reg{ii.Cond}, nil
	case IJumpIfSet:
		return []Reg{ii.Reg}, nil
	case IJumpIfNotClass:
		return []Reg{ii.Reg}, nil
	case IForSetup:
		return []Reg{ii.Start, ii.Stop, ii.Step}, []Reg{ii.LoopVar, ii.Acc}
	case IForInteger:
		return []Reg{ii.Acc, ii.Stop, ii.Step}, []Reg{ii.LoopVar, ii.Acc}
	case ICallForeign:
		return append([]Reg(nil), ii.Args...), []Reg{ii.Dst}
	case ICallNative:
		return append([]Reg(nil), ii.Args...), []Reg{ii.Dst}
	case ICallRegister:
		return append([]Reg{ii.Callee}, ii.Args...), []Reg{ii.Dst}
	case IReturnValue:
		return []Reg{ii.Src}, nil
	case IBuildList:
		return append([]Reg(nil), ii.Items...), []Reg{ii.Dst}
	case IBuildTuple:
		return append([]Reg(nil), ii.Items...), []Reg{ii.Dst}
	case IBuildHash:
		regs := append(append([]Reg(nil), ii.Keys...), ii.Vals...)
		return regs, []Reg{ii.Dst}
	case IBuildVariant:
		return append([]Reg(nil), ii.Fields...), []Reg{ii.Dst}
	case ISubscriptGet:
		return []Reg{ii.Obj, ii.Idx}, []Reg{ii.Dst}
	case ISubscriptSet:
		return []Reg{ii.Obj, ii.Idx, ii.Val}, nil
	case IPropertyGet:
		return []Reg{ii.Obj}, []Reg{ii.Dst}
	case IPropertySet:
		return []Reg{ii.Obj, ii.Val}, nil
	case IGlobalGet:
		return nil, []Reg{ii.Dst}
	case IGlobalSet:
		return []Reg{ii.Src}, nil
	case ILoadReadonly:
		return nil, []Reg{ii.Dst}
	case ILoadInteger:
		return nil, []Reg{ii.Dst}
	case ILoadBoolean:
		return nil, []Reg{ii.Dst}
	case ILoadByte:
		return nil, []Reg{ii.Dst}
	case ILoadEmptyVariant:
		return nil, []Reg{ii.Dst}
	case IInstanceNew:
		return append([]Reg(nil), ii.Props...), []Reg{ii.Dst}
	case IExceptionStore:
		return nil, []Reg{ii.Dst}
	case IExceptionRaise:
		return []Reg{ii.Src}, nil
	case IMatchDispatch:
		return []Reg{ii.Scrutinee}, nil
	case IVariantDecompose:
		return []Reg{ii.Src}, append([]Reg(nil), ii.Dsts...)
	case IClosureNew:
		return nil, []Reg{ii.Dst}
	case IClosureFunction:
		return []Reg{ii.Closure}, []Reg{ii.Dst}
	case IDynamicCast:
		return []Reg{ii.Src}, []Reg{ii.Dst}
	case IInterpolation:
		return append([]Reg(nil), ii.Parts...), []Reg{ii.Dst}
	case IOptargDispatch:
		return []Reg{ii.Count}, nil
	case ILoadUnset:
		return nil, []Reg{ii.Dst}
	}
	return nil, nil
}

// ClosureSpots numbers the set of registers an inner function's body
// refers to that belong to an enclosing frame (outerRegs), in
// first-occurrence order, so spot numbering is stable under insertion
// order.
func ClosureSpots(p *Program, outerRegs map[Reg]bool) map[Reg]int {
	spots := make(map[Reg]int)
	for _, instr := range p.code {
		if _, ok := instr.(ILabel); ok {
			continue
		}
		reads, writes := instructionRegs(instr)
		for _, r := range reads {
			if outerRegs[r] {
				if _, seen := spots[r]; !seen {
					spots[r] = len(spots)
				}
			}
		}
		for _, r := range writes {
			if outerRegs[r] {
				if _, seen := spots[r]; !seen {
					spots[r] = len(spots)
				}
			}
		}
	}
	return spots
}

// ClosureConvert is the closure-lowering post-pass: for every
// instruction reading or writing a spotted register, it inserts an
// o_closure_get before the read (reloading the cell into the local
// register) and an o_closure_set after the write (writing the local back
// into the cell).
//
// Because the result is built from ILabel-anchored Instructions rather
// than raw encoded words, the jump fix-up an offset-based stream would
// need falls out for free here: inserting instructions
// before or after a labeled position never invalidates the label itself,
// so Encode's own two-pass patcher resolves every jump correctly once
// conversion is done, with no separate (old-target, new-target) rewrite
// pass needed.
func ClosureConvert(p *Program, spots map[Reg]int) *Program {
	out := NewProgram(p.moduleName, p.funcName)
	out.strings, out.stringsMap = p.strings, p.stringsMap
	out.functions = p.functions
	out.variants = p.variants

	for _, instr := range p.code {
		if lbl, ok := instr.(ILabel); ok {
			out.Emit(lbl)
			continue
		}

		reads, writes := instructionRegs(instr)
		for _, r := range reads {
			if spot, ok := spots[r]; ok {
				out.Emit(IClosureGet{Dst: r, CellIdx: spot})
			}
		}
		out.Emit(instr)
		for _, r := range writes {
			if spot, ok := spots[r]; ok {
				out.Emit(IClosureSet{CellIdx: spot, Src: r})
			}
		}
	}
	return out
}
