package lily

import (
	"fmt"
	"strings"

	"github.com/lily-lang/lily/ascii"
)

// AsmFormatToken classifies a span of disassembler output for themed
// coloring.
type AsmFormatToken int

const (
	AsmFormatToken_None AsmFormatToken = iota
	AsmFormatToken_Comment
	AsmFormatToken_Label
	AsmFormatToken_Literal
	AsmFormatToken_Operator
	AsmFormatToken_Operand
)

var asmPrinterTheme = map[AsmFormatToken]string{
	AsmFormatToken_None:     ascii.Reset,
	AsmFormatToken_Comment:  ascii.DefaultTheme.Comment,
	AsmFormatToken_Label:    ascii.DefaultTheme.Label,
	AsmFormatToken_Literal:  ascii.DefaultTheme.Literal,
	AsmFormatToken_Operator: ascii.DefaultTheme.Operator,
	AsmFormatToken_Operand:  ascii.DefaultTheme.Operand,
}

// FormatFunc decorates a span of text tagged with a semantic token; the
// plain PrettyString formatter ignores the token, HighlightString wraps
// it in the matching ANSI color.
type FormatFunc func(input string, token AsmFormatToken) string

// Program is the emitter's mutable, not-yet-encoded output for one
// function body: the instruction stream plus the readonly tables its
// opcodes will index into once Encode freezes it into a Bytecode.
type Program struct {
	code []Instruction

	strings   []string
	stringsMap map[string]int

	functions []Value
	variants  []Value

	// moduleName/funcName annotate the disassembler header; they carry no
	// runtime meaning.
	moduleName string
	funcName   string
}

func NewProgram(moduleName, funcName string) *Program {
	return &Program{moduleName: moduleName, funcName: funcName, stringsMap: make(map[string]int)}
}

func (p *Program) Emit(i Instruction) { p.code = append(p.code, i) }

func (p *Program) AddString(s string) int {
	if idx, ok := p.stringsMap[s]; ok {
		return idx
	}
	idx := len(p.strings)
	p.strings = append(p.strings, s)
	p.stringsMap[s] = idx
	return idx
}

func (p *Program) AddFunction(v Value) int {
	p.functions = append(p.functions, v)
	return len(p.functions) - 1
}

func (p *Program) AddVariant(v Value) int {
	p.variants = append(p.variants, v)
	return len(p.variants) - 1
}

func (p *Program) StringID(s string) int { return p.stringsMap[s] }

func (p Program) PrettyString() string {
	return p.prettyString(func(input string, _ AsmFormatToken) string { return input })
}

func (p Program) HighlightString() string {
	return p.prettyString(func(input string, token AsmFormatToken) string {
		return asmPrinterTheme[token] + input + asmPrinterTheme[AsmFormatToken_None]
	})
}

// prettyString walks the not-yet-encoded instruction list (not the
// encoded Bytecode) so disassembly is available before Encode runs —
// useful for debugging a program that fails to encode.
func (p Program) prettyString(format FormatFunc) string {
	var s strings.Builder
	fmt.Fprintf(&s, "%s\n", format(fmt.Sprintf(";; %s::%s", p.moduleName, p.funcName), AsmFormatToken_Comment))

	index := 0
	writeName := func(name string) {
		s.WriteString(format(fmt.Sprintf("%06d  ", index), AsmFormatToken_Comment))
		s.WriteString(format(name, AsmFormatToken_Operand))
	}
	writeReg := func(r Reg) {
		s.WriteString(format(fmt.Sprintf(" r%d", r), AsmFormatToken_Operand))
	}
	writeRegs := func(rs []Reg) {
		for _, r := range rs {
			writeReg(r)
		}
	}
	writeInt := func(n int) {
		s.WriteString(format(fmt.Sprintf(" %d", n), AsmFormatToken_Literal))
	}
	writeLabel := func(l ILabel) {
		s.WriteString(format(fmt.Sprintf(" l%d", l.ID), AsmFormatToken_Label))
	}

	for _, instruction := range p.code {
		if lbl, ok := instruction.(ILabel); ok {
			s.WriteString(format(fmt.Sprintf("%06d  l%d:\n", index, lbl.ID), AsmFormatToken_Label))
			continue
		}

		writeName(instruction.Name())
		switch ii := instruction.(type) {
		case IAssign:
			writeReg(ii.Dst)
			writeReg(ii.Src)
		case IFastAssign:
			writeReg(ii.Dst)
			writeReg(ii.Src)
		case IIntBinOp:
			writeReg(ii.Dst)
			writeReg(ii.A)
			writeReg(ii.B)
		case INumberBinOp:
			writeReg(ii.Dst)
			writeReg(ii.A)
			writeReg(ii.B)
		case ICompare:
			writeReg(ii.Dst)
			writeReg(ii.A)
			writeReg(ii.B)
		case IUnary:
			writeReg(ii.Dst)
			writeReg(ii.Src)
		case IJump:
			writeLabel(ii.Target)
		case IJumpIf:
			writeReg(ii.Cond)
			writeLabel(ii.Target)
		case IJumpIfSet:
			writeReg(ii.Reg)
			writeLabel(ii.Target)
		case IJumpIfNotClass:
			writeReg(ii.Reg)
			writeInt(ii.ClassID)
			writeLabel(ii.Target)
		case IForSetup:
			writeReg(ii.LoopVar)
			writeReg(ii.Acc)
			writeReg(ii.Start)
			writeReg(ii.Stop)
			writeReg(ii.Step)
			writeLabel(ii.Exit)
		case IForInteger:
			writeReg(ii.LoopVar)
			writeReg(ii.Acc)
			writeReg(ii.Stop)
			writeReg(ii.Step)
			writeLabel(ii.Top)
		case ICallForeign:
			writeInt(ii.ConstIdx)
			writeRegs(ii.Args)
			writeReg(ii.Dst)
		case ICallNative:
			writeInt(ii.ConstIdx)
			writeRegs(ii.Args)
			writeReg(ii.Dst)
		case ICallRegister:
			writeReg(ii.Callee)
			writeRegs(ii.Args)
			writeReg(ii.Dst)
		case IReturnValue:
			writeReg(ii.Src)
		case IBuildList:
			writeReg(ii.Dst)
			writeRegs(ii.Items)
		case IBuildTuple:
			writeReg(ii.Dst)
			writeRegs(ii.Items)
		case IBuildHash:
			writeReg(ii.Dst)
			writeRegs(ii.Keys)
			writeRegs(ii.Vals)
		case IBuildVariant:
			writeReg(ii.Dst)
			writeInt(ii.EnumID)
			writeInt(ii.VariantID)
			writeRegs(ii.Fields)
		case ISubscriptGet:
			writeReg(ii.Dst)
			writeReg(ii.Obj)
			writeReg(ii.Idx)
		case ISubscriptSet:
			writeReg(ii.Obj)
			writeReg(ii.Idx)
			writeReg(ii.Val)
		case IPropertyGet:
			writeReg(ii.Dst)
			writeReg(ii.Obj)
			writeInt(ii.PropIdx)
		case IPropertySet:
			writeReg(ii.Obj)
			writeInt(ii.PropIdx)
			writeReg(ii.Val)
		case IGlobalGet:
			writeReg(ii.Dst)
			writeInt(ii.GlobalIdx)
		case IGlobalSet:
			writeInt(ii.GlobalIdx)
			writeReg(ii.Src)
		case ILoadReadonly:
			writeReg(ii.Dst)
			s.WriteString(format(fmt.Sprintf(" '%s'", p.strings[ii.ConstIdx]), AsmFormatToken_Literal))
		case ILoadInteger:
			writeReg(ii.Dst)
			s.WriteString(format(fmt.Sprintf(" %d", ii.Value), AsmFormatToken_Literal))
		case ILoadBoolean:
			writeReg(ii.Dst)
			s.WriteString(format(fmt.Sprintf(" %t", ii.Value), AsmFormatToken_Literal))
		case ILoadByte:
			writeReg(ii.Dst)
			writeInt(int(ii.Value))
		case ILoadEmptyVariant:
			writeReg(ii.Dst)
			writeInt(ii.ConstIdx)
		case ILoadUnset:
			writeReg(ii.Dst)
		case IInstanceNew:
			writeReg(ii.Dst)
			writeInt(ii.ClassID)
			writeRegs(ii.Props)
		case ICatchPush:
			writeLabel(ii.ExceptHeader)
		case IExceptionCatch:
			writeInt(ii.ClassID)
			writeLabel(ii.Next)
		case IExceptionStore:
			writeReg(ii.Dst)
		case IExceptionRaise:
			writeReg(ii.Src)
		case IMatchDispatch:
			writeReg(ii.Scrutinee)
			writeInt(ii.EnumID)
			for _, t := range ii.Targets {
				writeLabel(t)
			}
		case IVariantDecompose:
			writeReg(ii.Src)
			writeRegs(ii.Dsts)
		case IClosureNew:
			writeReg(ii.Dst)
			writeInt(ii.NumCells)
		case IClosureFunction:
			writeReg(ii.Dst)
			writeInt(ii.ConstIdx)
			writeReg(ii.Closure)
		case IClosureGet:
			writeReg(ii.Dst)
			writeInt(ii.CellIdx)
		case IClosureSet:
			writeInt(ii.CellIdx)
			writeReg(ii.Src)
		case IDynamicCast:
			writeReg(ii.Dst)
			writeReg(ii.Src)
			writeInt(ii.ClassID)
			writeLabel(ii.Fail)
		case IInterpolation:
			writeReg(ii.Dst)
			writeRegs(ii.Parts)
		case IOptargDispatch:
			writeReg(ii.Count)
			for _, t := range ii.Targets {
				writeLabel(t)
			}
		}
		s.WriteString("\n")
		index += instruction.SizeInWords()
	}
	return s.String()
}
