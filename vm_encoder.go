package lily

// Encode freezes a Program into words with two-pass label patching: a
// first pass measures every instruction to assign
// label positions, a second pass emits words, and jump operands are
// patched relative to their own word's position.
func Encode(p *Program) *Bytecode {
	labels := map[int]int{}
	cursor := 0
	for _, instruction := range p.code {
		if lbl, ok := instruction.(ILabel); ok {
			labels[lbl.ID] = cursor
			continue
		}
		cursor += instruction.SizeInWords()
	}

	var code []uint16
	lines := map[int]int{}
	emit := func(words ...uint16) { code = append(code, words...) }
	jumpDistance := func(target ILabel) uint16 {
		operandPos := len(code) // the jump word itself lands at the next append
		return uint16(labels[target.ID] - operandPos)
	}
	for _, instruction := range p.code {
		if _, ok := instruction.(ILabel); ok {
			continue
		}
		opStart := len(code)

		switch ii := instruction.(type) {
		case IAssign:
			emit(opAssign, uint16(ii.Dst), uint16(ii.Src))
		case IFastAssign:
			emit(opFastAssign, uint16(ii.Dst), uint16(ii.Src))
		case IIntBinOp:
			emit(opIntBinOpBase+uint16(ii.Op), uint16(ii.Dst), uint16(ii.A), uint16(ii.B))
		case INumberBinOp:
			emit(opNumberBinOpBase+uint16(ii.Op), uint16(ii.Dst), uint16(ii.A), uint16(ii.B))
		case ICompare:
			emit(opCompareBase+uint16(ii.Op), uint16(ii.Dst), uint16(ii.A), uint16(ii.B))
		case IUnary:
			emit(opUnaryBase+uint16(ii.Op), uint16(ii.Dst), uint16(ii.Src))
		case IJump:
			emit(opJump)
			emit(jumpDistance(ii.Target))
		case IJumpIf:
			emit(opJumpIf, uint16(ii.Cond))
			emit(jumpDistance(ii.Target))
		case IJumpIfSet:
			emit(opJumpIfSet, uint16(ii.Reg))
			emit(jumpDistance(ii.Target))
		case IJumpIfNotClass:
			emit(opJumpIfNotClass, uint16(ii.Reg), uint16(ii.ClassID))
			emit(jumpDistance(ii.Target))
		case IForSetup:
			emit(opForSetup, uint16(ii.LoopVar), uint16(ii.Acc), uint16(ii.Start), uint16(ii.Stop), uint16(ii.Step))
			emit(jumpDistance(ii.Exit))
		case IForInteger:
			emit(opForInteger, uint16(ii.LoopVar), uint16(ii.Acc), uint16(ii.Stop), uint16(ii.Step))
			emit(jumpDistance(ii.Top))
		case ICallForeign:
			emit(opCallForeign, uint16(ii.ConstIdx), uint16(len(ii.Args)), uint16(ii.Dst))
			emit(encodeRegs(ii.Args)...)
		case ICallNative:
			emit(opCallNative, uint16(ii.ConstIdx), uint16(len(ii.Args)), uint16(ii.Dst))
			emit(encodeRegs(ii.Args)...)
		case ICallRegister:
			emit(opCallRegister, uint16(ii.Callee), uint16(len(ii.Args)), uint16(ii.Dst))
			emit(encodeRegs(ii.Args)...)
		case IReturnValue:
			emit(opReturnValue, uint16(ii.Src))
		case IReturnUnit:
			emit(opReturnUnit)
		case IBuildList:
			emit(opBuildList, uint16(ii.Dst), uint16(len(ii.Items)))
			emit(encodeRegs(ii.Items)...)
		case IBuildTuple:
			emit(opBuildTuple, uint16(ii.Dst), uint16(len(ii.Items)))
			emit(encodeRegs(ii.Items)...)
		case IBuildHash:
			emit(opBuildHash, uint16(ii.Dst), uint16(len(ii.Keys)))
			emit(encodeRegs(ii.Keys)...)
			emit(encodeRegs(ii.Vals)...)
		case IBuildVariant:
			emit(opBuildVariant, uint16(ii.Dst), uint16(ii.EnumID), uint16(ii.VariantID), uint16(len(ii.Fields)))
			emit(encodeRegs(ii.Fields)...)
		case ISubscriptGet:
			emit(opSubscriptGet, uint16(ii.Dst), uint16(ii.Obj), uint16(ii.Idx))
		case ISubscriptSet:
			emit(opSubscriptSet, uint16(ii.Obj), uint16(ii.Idx), uint16(ii.Val))
		case IPropertyGet:
			emit(opPropertyGet, uint16(ii.Dst), uint16(ii.Obj), uint16(ii.PropIdx))
		case IPropertySet:
			emit(opPropertySet, uint16(ii.Obj), uint16(ii.PropIdx), uint16(ii.Val))
		case IGlobalGet:
			emit(opGlobalGet, uint16(ii.Dst), uint16(ii.GlobalIdx))
		case IGlobalSet:
			emit(opGlobalSet, uint16(ii.GlobalIdx), uint16(ii.Src))
		case ILoadReadonly:
			emit(opLoadReadonly, uint16(ii.Dst), uint16(ii.ConstIdx))
		case ILoadInteger:
			emit(opLoadInteger, uint16(ii.Dst))
			emit(encodeI64(ii.Value)...)
		case ILoadBoolean:
			v := uint16(0)
			if ii.Value {
				v = 1
			}
			emit(opLoadBoolean, uint16(ii.Dst), v)
		case ILoadByte:
			emit(opLoadByte, uint16(ii.Dst), uint16(ii.Value))
		case ILoadEmptyVariant:
			emit(opLoadEmptyVariant, uint16(ii.Dst), uint16(ii.ConstIdx))
		case ILoadUnset:
			emit(opLoadUnset, uint16(ii.Dst))
		case IInstanceNew:
			emit(opInstanceNewBase+uint16(ii.Kind), uint16(ii.Dst), uint16(ii.ClassID), uint16(len(ii.Props)))
			emit(encodeRegs(ii.Props)...)
		case ICatchPush:
			emit(opCatchPush)
			emit(jumpDistance(ii.ExceptHeader))
		case ICatchPop:
			emit(opCatchPop)
		case IExceptionCatch:
			emit(opExceptionCatch, uint16(ii.ClassID))
			emit(jumpDistance(ii.Next))
		case IExceptionStore:
			emit(opExceptionStore, uint16(ii.Dst))
		case IExceptionRaise:
			emit(opExceptionRaise, uint16(ii.Src))
		case IMatchDispatch:
			emit(opMatchDispatch, uint16(ii.Scrutinee), uint16(ii.EnumID), uint16(len(ii.Targets)))
			for _, t := range ii.Targets {
				emit(jumpDistance(t))
			}
		case IVariantDecompose:
			emit(opVariantDecompose, uint16(ii.Src), uint16(len(ii.Dsts)))
			emit(encodeRegs(ii.Dsts)...)
		case IClosureNew:
			emit(opClosureNew, uint16(ii.Dst), uint16(ii.NumCells))
		case IClosureFunction:
			emit(opClosureFunction, uint16(ii.Dst), uint16(ii.ConstIdx), uint16(ii.Closure))
		case IClosureGet:
			emit(opClosureGet, uint16(ii.Dst), uint16(ii.CellIdx))
		case IClosureSet:
			emit(opClosureSet, uint16(ii.CellIdx), uint16(ii.Src))
		case IDynamicCast:
			emit(opDynamicCast, uint16(ii.Dst), uint16(ii.Src), uint16(ii.ClassID))
			emit(jumpDistance(ii.Fail))
		case IInterpolation:
			emit(opInterpolation, uint16(ii.Dst), uint16(len(ii.Parts)))
			emit(encodeRegs(ii.Parts)...)
		case IOptargDispatch:
			emit(opOptargDispatch, uint16(ii.Count), uint16(len(ii.Targets)))
			for _, t := range ii.Targets {
				emit(jumpDistance(t))
			}
		case IVMExit:
			emit(opVMExit)
		}

		lines[opStart] = instruction.SourceLocation().Line
	}

	return &Bytecode{
		Code:      code,
		Strings:   append([]string(nil), p.strings...),
		Functions: append([]Value(nil), p.functions...),
		Variants:  append([]Value(nil), p.variants...),
		lines:     lines,
	}
}

func encodeRegs(regs []Reg) []uint16 {
	out := make([]uint16, len(regs))
	for i, r := range regs {
		out[i] = uint16(r)
	}
	return out
}

func encodeI64(v int64) []uint16 {
	u := uint64(v)
	return []uint16{
		uint16(u),
		uint16(u >> 16),
		uint16(u >> 32),
		uint16(u >> 48),
	}
}

func decodeI64(words []uint16) int64 {
	u := uint64(words[0]) | uint64(words[1])<<16 | uint64(words[2])<<32 | uint64(words[3])<<48
	return int64(u)
}
