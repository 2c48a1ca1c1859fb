package lily

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// VM executes Bytecode against a register file grown on demand. It
// owns the frame stack, the try/except chain, the collector,
// and the interned type pool — the single VM-state pointer every
// operation threads through instead of reaching for package-level
// globals.
type VM struct {
	ID uuid.UUID

	Config    *Config
	Collector *Collector
	Pool      *Pool
	Checker   *Checker
	Modules   map[string]*Module

	regs     []Value
	regsBase int

	frames  frames
	catches catchStack

	activeException Value
	builtinClasses  map[ErrorKind]*Class
	importCB        ImportCallback

	hashSeed uint64
	maxDepth int
	eqLimit  int

	log *zap.Logger
}

// NewVM builds a VM wired to the given configuration. A nil config or
// logger falls back to defaults.
func NewVM(cfg *Config, log *zap.Logger) *VM {
	if cfg == nil {
		cfg = NewConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}
	id := uuid.New()
	log = log.With(zap.Stringer("vm", id))
	pool := NewPool(4096)
	vm := &VM{
		ID:        id,
		Config:    cfg,
		Collector: NewCollector(cfg.GetInt("gc.threshold"), log.Named("gc")),
		Pool:      pool,
		Checker:   NewChecker(pool),
		Modules:   make(map[string]*Module),
		regs:      make([]Value, 256),
		maxDepth:  cfg.GetInt("vm.max_depth"),
		eqLimit:   cfg.GetInt("vm.equality_depth_limit"),
		log:       log,
	}
	vm.registerBuiltinErrors()
	return vm
}

// registerBuiltinErrors wires each ErrorKind into a one-off "builtin"
// Module so a catch-chain's ClassID operand can name a built-in error
// type exactly the way it names a user-defined exception class.
func (vm *VM) registerBuiltinErrors() {
	mod := NewModule("builtin", "")
	vm.Modules[mod.Name] = mod
	vm.builtinClasses = make(map[ErrorKind]*Class)
	for k := ErrSyntax; k <= ErrRecursion; k++ {
		c := mod.DefineClass(k.String())
		c.Props = append(c.Props, &Property{Name: "message", Type: vm.Pool.Scalar("String"), Index: 0})
		vm.builtinClasses[k] = c
	}
}

func (vm *VM) RegisterModule(m *Module) {
	vm.Modules[m.Name] = m
	vm.log.Debug("module registered", zap.String("module", m.Name), zap.Stringer("module_id", m.ID))
}

// ensureRegs grows the register file geometrically.
func (vm *VM) ensureRegs(n int) {
	if n <= len(vm.regs) {
		return
	}
	grown := make([]Value, n*2)
	copy(grown, vm.regs)
	vm.regs = grown
}

func (vm *VM) reg(offset int) *Value { return &vm.regs[vm.regsBase+offset] }

// Run invokes fn with args and runs it to completion, returning its
// result or the uncaught error that escaped it. The returned value
// carries a reference owned by the embedder.
func (vm *VM) Run(fn Value, args []Value) (result Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			re, ok := r.(*RuntimeError)
			if !ok {
				panic(r)
			}
			if re.Traceback == nil {
				re.Traceback = vm.traceback()
			}
			// A panic skipped every call teardown on the way out; the
			// frame and catch stacks are unusable, so reset them rather
			// than leaving the next Run to trip over them. Registers are
			// cleared without deref'ing — their counts are already torn,
			// and leaking is safer than double-freeing.
			vm.frames = vm.frames[:0]
			vm.catches = catchStack{}
			vm.regsBase = 0
			for i := range vm.regs {
				vm.regs[i] = Value{}
			}
			err = re
		}
	}()
	return vm.call(fn, args)
}

func (vm *VM) call(fn Value, args []Value) (Value, error) {
	f := fn.Function()
	if f.IsForeign() {
		return f.Foreign(vm, args)
	}

	if vm.frames.len() >= vm.maxDepth {
		vm.log.Warn("recursion depth exceeded",
			zap.String("function", f.Name), zap.Int("limit", vm.maxDepth))
		return Value{}, NewRuntimeError(ErrRecursion, "Recursion depth exceeded limit.")
	}

	callerBase, callerUsed := vm.regsBase, 0
	if vm.frames.len() > 0 {
		callerUsed = vm.frames.top().regsUsed
	}
	base := callerBase + callerUsed
	vm.ensureRegs(base + f.RegisterCount)
	for i, a := range args {
		refValue(a)
		vm.regs[base+i] = a
	}

	fr := frame{
		function: f,
		code:     f.Code,
		codePos:  0,
		regsUsed: f.RegisterCount,
		regsBase: base,
		upvalues: f.Upvalues,
	}
	// A constructor invoked by another constructor finds the instance
	// under construction threaded through the frame chain, so a super
	// chain populates one object instead of allocating per class.
	if f.ClassName != "" && f.Name == "new" && vm.frames.len() > 0 {
		fr.buildValue = vm.frames.top().buildValue
	}
	vm.frames.push(fr)
	savedBase := vm.regsBase
	vm.regsBase = base

	result, err := vm.dispatch()

	// A raise whose handler lives in this frame resumes here instead of
	// propagating further: pop catch entries recorded by this frame one
	// at a time (nested trys stack them), and if one's except chain
	// covers the raised class, re-enter dispatch at the matched branch.
	// Entries left by deeper frames are impossible — their own call
	// teardown drained them before the error reached us.
	for err != nil {
		re, ok := err.(*RuntimeError)
		if !ok {
			break
		}
		frameIdx := vm.frames.len() - 1
		handled := false
		for vm.catches.top != nil && vm.catches.top.frameIndex == frameIdx {
			entry := vm.catches.pop()
			top := vm.frames.top()
			top.codePos = entry.exceptPC
			vm.regsBase = entry.regsBase
			if vm.exceptChainMatches(top, re.ClassName()) {
				handled = true
				break
			}
		}
		if !handled {
			break
		}
		result, err = vm.dispatch()
	}

	// Tearing down the frame releases every register in its window, not
	// just the argument slots: assignInto has kept each register's
	// current occupant's refcount in sync with "this register owns a
	// reference" for the whole life of the call. The slot is cleared as
	// well, so the next frame reusing this window never derefs a stale
	// occupant.
	// The result is ref'd first so it survives its own register's
	// release with a reference the caller now owns.
	refValue(result)
	for i := 0; i < f.RegisterCount; i++ {
		derefValue(vm.regs[base+i])
		vm.regs[base+i] = Value{}
	}
	vm.frames.pop()
	vm.regsBase = savedBase
	return result, err
}

func s16(w uint16) int { return int(int16(w)) }

// dispatch is the main loop: a computed switch over the current
// instruction's opcode word. The current frame pointer is
// re-fetched every iteration since nested calls can push/pop the frame
// stack, which may reallocate its backing array.
func (vm *VM) dispatch() (Value, error) {
	for {
		fr := vm.frames.top()
		code := fr.code.Code
		pc := fr.codePos
		op := code[pc]
		fr.lineNum = fr.code.LineAt(pc)

		switch {
		case op == opAssign:
			dst, src := Reg(code[pc+1]), Reg(code[pc+2])
			assignInto(vm.reg(int(dst)), *vm.reg(int(src)))
			fr.codePos += 3

		case op == opFastAssign:
			dst, src := Reg(code[pc+1]), Reg(code[pc+2])
			*vm.reg(int(dst)) = *vm.reg(int(src))
			fr.codePos += 3

		case op >= opIntBinOpBase && op < opIntBinOpBase+10:
			intOp := IntOp(op - opIntBinOpBase)
			dst, a, b := Reg(code[pc+1]), Reg(code[pc+2]), Reg(code[pc+3])
			v, err := evalIntBinOp(intOp, vm.reg(int(a)).AsInt(), vm.reg(int(b)).AsInt())
			if err != nil {
				return vm.raiseInternal(err)
			}
			assignInto(vm.reg(int(dst)), v)
			fr.codePos += 4

		case op >= opNumberBinOpBase && op < opNumberBinOpBase+4:
			numOp := NumberOp(op - opNumberBinOpBase)
			dst, a, b := Reg(code[pc+1]), Reg(code[pc+2]), Reg(code[pc+3])
			v, err := evalNumberBinOp(numOp, vm.reg(int(a)).AsDouble(), vm.reg(int(b)).AsDouble())
			if err != nil {
				return vm.raiseInternal(err)
			}
			assignInto(vm.reg(int(dst)), v)
			fr.codePos += 4

		case op >= opCompareBase && op < opCompareBase+4:
			cmpOp := CompareOp(op - opCompareBase)
			dst, a, b := Reg(code[pc+1]), Reg(code[pc+2]), Reg(code[pc+3])
			eq, err := vm.compare(cmpOp, *vm.reg(int(a)), *vm.reg(int(b)))
			if err != nil {
				return vm.raiseInternal(err)
			}
			assignInto(vm.reg(int(dst)), BooleanValue(eq))
			fr.codePos += 4

		case op >= opUnaryBase && op < opUnaryBase+3:
			unOp := UnaryOp(op - opUnaryBase)
			dst, src := Reg(code[pc+1]), Reg(code[pc+2])
			assignInto(vm.reg(int(dst)), evalUnary(unOp, *vm.reg(int(src))))
			fr.codePos += 3

		case op == opJump:
			fr.codePos = pc + 1 + s16(code[pc+1])

		case op == opJumpIf:
			cond := Reg(code[pc+1])
			if vm.reg(int(cond)).AsBool() {
				fr.codePos = pc + 2 + s16(code[pc+2])
			} else {
				fr.codePos = pc + 3
			}

		case op == opJumpIfSet:
			r := Reg(code[pc+1])
			if !isUnsetSentinel(*vm.reg(int(r))) {
				fr.codePos = pc + 2 + s16(code[pc+2])
			} else {
				fr.codePos = pc + 3
			}

		case op == opJumpIfNotClass:
			r, classID := Reg(code[pc+1]), int(code[pc+2])
			if !vm.valueIsClass(*vm.reg(int(r)), classID) {
				fr.codePos = pc + 3 + s16(code[pc+3])
			} else {
				fr.codePos = pc + 4
			}

		case op == opForSetup:
			// Acc is the internal accumulator that actually drives stepping;
			// loopVar only ever receives Acc's value and is never read back,
			// so a foreign call reassigning the visible loop variable
			// mid-body cannot perturb iteration.
			loopVar, acc, start, stop, step := Reg(code[pc+1]), Reg(code[pc+2]), Reg(code[pc+3]), Reg(code[pc+4]), Reg(code[pc+5])
			startV, stopV, stepV := vm.reg(int(start)).AsInt(), vm.reg(int(stop)).AsInt(), vm.reg(int(step)).AsInt()
			assignInto(vm.reg(int(acc)), IntegerValue(startV))
			assignInto(vm.reg(int(loopVar)), IntegerValue(startV))
			empty := (stepV >= 0 && startV > stopV) || (stepV < 0 && startV < stopV)
			if empty {
				fr.codePos = pc + 6 + s16(code[pc+6])
			} else {
				fr.codePos = pc + 7
			}

		case op == opForInteger:
			loopVar, acc, stop, step := Reg(code[pc+1]), Reg(code[pc+2]), Reg(code[pc+3]), Reg(code[pc+4])
			cur := vm.reg(int(acc)).AsInt()
			stepV := vm.reg(int(step)).AsInt()
			next := cur + stepV
			stopV := vm.reg(int(stop)).AsInt()
			cont := (stepV >= 0 && next <= stopV) || (stepV < 0 && next >= stopV)
			if cont {
				assignInto(vm.reg(int(acc)), IntegerValue(next))
				assignInto(vm.reg(int(loopVar)), IntegerValue(next))
				fr.codePos = pc + 5 + s16(code[pc+5])
			} else {
				fr.codePos = pc + 6
			}

		case op == opCallForeign, op == opCallNative:
			constIdx, n, dst := int(code[pc+1]), int(code[pc+2]), Reg(code[pc+3])
			args := make([]Value, n)
			for i := 0; i < n; i++ {
				args[i] = *vm.reg(int(code[pc+4+i]))
			}
			fn := fr.code.Functions[constIdx]
			fr.codePos = pc + 4 + n
			result, err := vm.call(fn, args)
			if err != nil {
				return vm.propagateCallError(err)
			}
			moveInto(vm.reg(int(dst)), result)

		case op == opCallRegister:
			callee, n, dst := Reg(code[pc+1]), int(code[pc+2]), Reg(code[pc+3])
			args := make([]Value, n)
			for i := 0; i < n; i++ {
				args[i] = *vm.reg(int(code[pc+4+i]))
			}
			fn := *vm.reg(int(callee))
			fr.codePos = pc + 4 + n
			result, err := vm.call(fn, args)
			if err != nil {
				return vm.propagateCallError(err)
			}
			moveInto(vm.reg(int(dst)), result)

		case op == opReturnValue:
			src := Reg(code[pc+1])
			return *vm.reg(int(src)), nil

		case op == opReturnUnit:
			return Value{}, nil

		case op == opBuildList:
			dst, n := Reg(code[pc+1]), int(code[pc+2])
			items := make([]Value, n)
			for i := 0; i < n; i++ {
				items[i] = *vm.reg(int(code[pc+3+i]))
			}
			moveInto(vm.reg(int(dst)), ListValue(vm.Collector, items))
			vm.maybeCollect()
			fr.codePos = pc + 3 + n

		case op == opBuildTuple:
			dst, n := Reg(code[pc+1]), int(code[pc+2])
			items := make([]Value, n)
			for i := 0; i < n; i++ {
				items[i] = *vm.reg(int(code[pc+3+i]))
			}
			moveInto(vm.reg(int(dst)), TupleValue(vm.Collector, items))
			vm.maybeCollect()
			fr.codePos = pc + 3 + n

		case op == opBuildHash:
			dst, n := Reg(code[pc+1]), int(code[pc+2])
			h := HashValue(vm.Collector)
			for i := 0; i < n; i++ {
				k := *vm.reg(int(code[pc+3+i]))
				v := *vm.reg(int(code[pc+3+n+i]))
				h.HashSet(vm.hashSeed, k, v)
			}
			moveInto(vm.reg(int(dst)), h)
			vm.maybeCollect()
			fr.codePos = pc + 3 + 2*n

		case op == opBuildVariant:
			dst, enumID, variantID, n := Reg(code[pc+1]), int(code[pc+2]), int(code[pc+3]), int(code[pc+4])
			fields := make([]Value, n)
			for i := 0; i < n; i++ {
				fields[i] = *vm.reg(int(code[pc+5+i]))
			}
			enum := vm.classByID(enumID)
			if enum == nil || variantID >= len(enum.Variants) {
				return vm.raiseInternal(NewRuntimeError(ErrRuntime, fmt.Sprintf("unknown variant %d of enum %d", variantID, enumID)))
			}
			moveInto(vm.reg(int(dst)), EnumValue(vm.Collector, enum.Variants[variantID], fields))
			vm.maybeCollect()
			fr.codePos = pc + 5 + n

		case op == opSubscriptGet:
			dst, obj, idx := Reg(code[pc+1]), Reg(code[pc+2]), Reg(code[pc+3])
			v, err := vm.subscriptGet(*vm.reg(int(obj)), *vm.reg(int(idx)))
			if err != nil {
				return vm.raiseInternal(err)
			}
			assignInto(vm.reg(int(dst)), v)
			fr.codePos = pc + 4

		case op == opSubscriptSet:
			obj, idx, val := Reg(code[pc+1]), Reg(code[pc+2]), Reg(code[pc+3])
			if err := vm.subscriptSet(*vm.reg(int(obj)), *vm.reg(int(idx)), *vm.reg(int(val))); err != nil {
				return vm.raiseInternal(err)
			}
			fr.codePos = pc + 4

		case op == opPropertyGet:
			dst, obj, idx := Reg(code[pc+1]), Reg(code[pc+2]), int(code[pc+3])
			assignInto(vm.reg(int(dst)), vm.reg(int(obj)).InstanceProperty(idx))
			fr.codePos = pc + 4

		case op == opPropertySet:
			obj, idx, val := Reg(code[pc+1]), int(code[pc+2]), Reg(code[pc+3])
			inst := vm.reg(int(obj)).obj.(*instanceObj)
			assignInto(&inst.properties[idx], *vm.reg(int(val)))
			fr.codePos = pc + 4

		case op == opGlobalGet:
			dst, idx := Reg(code[pc+1]), int(code[pc+2])
			mod := vm.Modules[fr.function.ModuleName]
			assignInto(vm.reg(int(dst)), mod.GlobalValues[idx])
			fr.codePos = pc + 3

		case op == opGlobalSet:
			idx, src := int(code[pc+1]), Reg(code[pc+2])
			mod := vm.Modules[fr.function.ModuleName]
			assignInto(&mod.GlobalValues[idx], *vm.reg(int(src)))
			fr.codePos = pc + 3

		case op == opLoadReadonly:
			dst, idx := Reg(code[pc+1]), int(code[pc+2])
			moveInto(vm.reg(int(dst)), StringValue(vm.Collector, fr.code.Strings[idx]))
			fr.codePos = pc + 3

		case op == opLoadInteger:
			dst := Reg(code[pc+1])
			assignInto(vm.reg(int(dst)), IntegerValue(decodeI64(code[pc+2:pc+6])))
			fr.codePos = pc + 6

		case op == opLoadBoolean:
			dst := Reg(code[pc+1])
			assignInto(vm.reg(int(dst)), BooleanValue(code[pc+2] != 0))
			fr.codePos = pc + 3

		case op == opLoadByte:
			dst := Reg(code[pc+1])
			assignInto(vm.reg(int(dst)), IntegerValue(int64(code[pc+2])))
			fr.codePos = pc + 3

		case op == opLoadEmptyVariant:
			// The canonical singleton lives in the readonly table; loading it
			// shares the one interned heap object rather than allocating.
			dst, idx := Reg(code[pc+1]), int(code[pc+2])
			assignInto(vm.reg(int(dst)), fr.code.Variants[idx])
			fr.codePos = pc + 3

		case op == opLoadUnset:
			dst := Reg(code[pc+1])
			assignInto(vm.reg(int(dst)), Value{Kind: KindDynamic})
			fr.codePos = pc + 2

		case op >= opInstanceNewBase && op < opInstanceNewBase+3:
			dst, classID, n := Reg(code[pc+1]), int(code[pc+2]), int(code[pc+3])
			if fr.buildValue.Kind == KindInstance && fr.buildValue.obj != nil {
				// An instance threaded down from a subclass constructor: fill
				// this class's property slots on the existing object instead of
				// allocating a second one.
				inst := fr.buildValue.obj.(*instanceObj)
				for i := 0; i < n; i++ {
					assignInto(&inst.properties[i], *vm.reg(int(code[pc+4+i])))
				}
				assignInto(vm.reg(int(dst)), fr.buildValue)
				fr.codePos = pc + 4 + n
				continue
			}
			props := make([]Value, n)
			for i := 0; i < n; i++ {
				props[i] = *vm.reg(int(code[pc+4+i]))
			}
			class := vm.classByID(classID)
			moveInto(vm.reg(int(dst)), InstanceValue(vm.Collector, class, props))
			if fr.function.ClassName != "" && fr.function.Name == "new" {
				// The register owns the reference; the frame only borrows it
				// for threading into a super constructor's frame.
				fr.buildValue = *vm.reg(int(dst))
			}
			vm.maybeCollect()
			fr.codePos = pc + 4 + n

		case op == opCatchPush:
			target := pc + 1 + s16(code[pc+1])
			vm.catches.push(&catchEntry{frameIndex: vm.frames.len() - 1, exceptPC: target, regsBase: vm.regsBase})
			fr.codePos = pc + 2

		case op == opCatchPop:
			vm.catches.pop()
			fr.codePos = pc + 1

		case op == opExceptionCatch:
			// Reached only via ordinary fallthrough from the preceding
			// branch's matched body; normal control flow jumps clean over
			// the whole except chain, so landing here means "no branch
			// matched" and we keep walking to the next one.
			fr.codePos = pc + 3 + s16(code[pc+2])

		case op == opExceptionStore:
			dst := Reg(code[pc+1])
			assignInto(vm.reg(int(dst)), vm.activeException)
			fr.codePos = pc + 2

		case op == opExceptionRaise:
			src := Reg(code[pc+1])
			return vm.raiseValue(*vm.reg(int(src)))

		case op == opMatchDispatch:
			scrutinee := Reg(code[pc+1])
			variantID := vm.reg(int(scrutinee)).EnumVariant().ID
			fr.codePos = pc + 4 + variantID + s16(code[pc+4+variantID])

		case op == opVariantDecompose:
			src, n := Reg(code[pc+1]), int(code[pc+2])
			fields := vm.reg(int(src)).EnumFields()
			for i := 0; i < n; i++ {
				assignInto(vm.reg(int(code[pc+3+i])), fields[i])
			}
			fr.codePos = pc + 3 + n

		case op == opClosureNew:
			dst, n := Reg(code[pc+1]), int(code[pc+2])
			cells := make([]*Cell, n)
			for i := range cells {
				cells[i] = NewCell()
			}
			moveInto(vm.reg(int(dst)), ForeignValue(vm.Collector, cells))
			fr.codePos = pc + 3

		case op == opClosureFunction:
			dst, constIdx, closureReg := Reg(code[pc+1]), int(code[pc+2]), Reg(code[pc+3])
			cells := vm.reg(int(closureReg)).ForeignData().([]*Cell)
			base := fr.code.Functions[constIdx].Function()
			clone := base.cloneForClosure(cells)
			moveInto(vm.reg(int(dst)), newHeapValue(KindFunction, vm.Collector, clone))
			fr.codePos = pc + 4

		case op == opClosureGet:
			dst, cellIdx := Reg(code[pc+1]), int(code[pc+2])
			assignInto(vm.reg(int(dst)), fr.upvalues[cellIdx].Get())
			fr.codePos = pc + 3

		case op == opClosureSet:
			cellIdx, src := int(code[pc+1]), Reg(code[pc+2])
			fr.upvalues[cellIdx].Set(*vm.reg(int(src)))
			fr.codePos = pc + 3

		case op == opDynamicCast:
			dst, src, classID := Reg(code[pc+1]), Reg(code[pc+2]), int(code[pc+3])
			inner := vm.reg(int(src)).DynamicInner()
			if vm.valueIsClass(inner, classID) {
				assignInto(vm.reg(int(dst)), inner)
				fr.codePos = pc + 5
			} else {
				fr.codePos = pc + 4 + s16(code[pc+4])
			}

		case op == opInterpolation:
			dst, n := Reg(code[pc+1]), int(code[pc+2])
			var b []byte
			for i := 0; i < n; i++ {
				b = append(b, vm.reg(int(code[pc+3+i])).String()...)
			}
			moveInto(vm.reg(int(dst)), StringValue(vm.Collector, string(b)))
			fr.codePos = pc + 3 + n

		case op == opOptargDispatch:
			count, n := Reg(code[pc+1]), int(code[pc+2])
			idx := int(vm.reg(int(count)).AsInt())
			if idx < 0 {
				idx = 0
			}
			if idx >= n {
				idx = n - 1
			}
			fr.codePos = pc + 3 + idx + s16(code[pc+3+idx])

		case op == opVMExit:
			return Value{}, nil

		default:
			return vm.raiseInternal(NewRuntimeError(ErrRuntime, fmt.Sprintf("unknown opcode %d", op)))
		}
	}
}

// isUnsetSentinel reports whether v is the sentinel Value the optional-
// argument call-lowering path uses to mark "argument not supplied": a
// zero-value Dynamic, distinguishable from any real Dynamic value
// because DynamicValue always allocates a payload.
func isUnsetSentinel(v Value) bool {
	return v.Kind == KindDynamic && v.obj == nil
}

func evalIntBinOp(op IntOp, a, b int64) (Value, error) {
	switch op {
	case IntAdd:
		return IntegerValue(a + b), nil
	case IntSub:
		return IntegerValue(a - b), nil
	case IntMul:
		return IntegerValue(a * b), nil
	case IntDiv:
		if b == 0 {
			return Value{}, NewRuntimeError(ErrDivisionByZero, "Attempt to divide by zero.")
		}
		return IntegerValue(a / b), nil
	case IntMod:
		if b == 0 {
			return Value{}, NewRuntimeError(ErrDivisionByZero, "Attempt to divide by zero.")
		}
		return IntegerValue(a % b), nil
	case IntShl:
		return IntegerValue(a << uint(b)), nil
	case IntShr:
		return IntegerValue(a >> uint(b)), nil
	case IntAnd:
		return IntegerValue(a & b), nil
	case IntOr:
		return IntegerValue(a | b), nil
	case IntXor:
		return IntegerValue(a ^ b), nil
	}
	return Value{}, NewRuntimeError(ErrRuntime, "unknown integer operator")
}

func evalNumberBinOp(op NumberOp, a, b float64) (Value, error) {
	switch op {
	case NumberAdd:
		return DoubleValue(a + b), nil
	case NumberSub:
		return DoubleValue(a - b), nil
	case NumberMul:
		return DoubleValue(a * b), nil
	case NumberDiv:
		if b == 0 {
			return Value{}, NewRuntimeError(ErrDivisionByZero, "Attempt to divide by zero.")
		}
		return DoubleValue(a / b), nil
	}
	return Value{}, NewRuntimeError(ErrRuntime, "unknown number operator")
}

func evalUnary(op UnaryOp, v Value) Value {
	switch op {
	case UnaryNot:
		return BooleanValue(!v.AsBool())
	case UnaryMinus:
		if v.Kind == KindDouble {
			return DoubleValue(-v.AsDouble())
		}
		return IntegerValue(-v.AsInt())
	case UnaryBitwiseNot:
		return IntegerValue(^v.AsInt())
	}
	return Value{}
}

// compare implements the typed comparison family: Integer, Double,
// String, and ByteString are handled directly for ordering; equality
// falls through to the depth-bounded general equality walk.
func (vm *VM) compare(op CompareOp, a, b Value) (bool, error) {
	if op == CompareEq || op == CompareNotEq {
		eq, err := ValuesEqual(a, b, vm.eqLimit)
		if err != nil {
			return false, err
		}
		if op == CompareNotEq {
			eq = !eq
		}
		return eq, nil
	}
	var cmp int
	switch a.Kind {
	case KindInteger:
		cmp = cmpInt(a.AsInt(), b.AsInt())
	case KindDouble:
		cmp = cmpFloat(a.AsDouble(), b.AsDouble())
	case KindString:
		cmp = cmpString(a.AsString(), b.AsString())
	case KindByteString:
		cmp = cmpString(string(a.AsByteString()), string(b.AsByteString()))
	default:
		return false, NewRuntimeError(ErrValue, "Ordered comparison requires Integer, Double, String, or ByteString.")
	}
	if op == CompareGreater {
		return cmp > 0, nil
	}
	return cmp >= 0, nil
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// subscriptGet/subscriptSet implement indexed access on list/hash/tuple/
// bytestring. A negative index -k addresses length-k when |k| fits.
func (vm *VM) subscriptGet(obj, idx Value) (Value, error) {
	switch obj.Kind {
	case KindList:
		items := obj.ListItems()
		i, err := normalizeIndex(idx.AsInt(), len(items))
		if err != nil {
			return Value{}, err
		}
		return items[i], nil
	case KindTuple:
		items := obj.TupleItems()
		i, err := normalizeIndex(idx.AsInt(), len(items))
		if err != nil {
			return Value{}, err
		}
		return items[i], nil
	case KindHash:
		return obj.HashGet(vm.hashSeed, idx)
	case KindByteString:
		b := obj.AsByteString()
		i, err := normalizeIndex(idx.AsInt(), len(b))
		if err != nil {
			return Value{}, err
		}
		return IntegerValue(int64(b[i])), nil
	}
	return Value{}, NewRuntimeError(ErrValue, "Value does not support subscript access.")
}

func (vm *VM) subscriptSet(obj, idx, val Value) error {
	switch obj.Kind {
	case KindList:
		items := obj.ListItems()
		i, err := normalizeIndex(idx.AsInt(), len(items))
		if err != nil {
			return err
		}
		assignInto(&items[i], val)
		return nil
	case KindHash:
		obj.HashSet(vm.hashSeed, idx, val)
		return nil
	}
	return NewRuntimeError(ErrValue, "Value does not support subscript assignment.")
}

func normalizeIndex(i int64, length int) (int, error) {
	if i < 0 {
		i += int64(length)
	}
	if i < 0 || i >= int64(length) {
		return 0, NewRuntimeError(ErrIndex, "Index out of range.")
	}
	return int(i), nil
}

// maybeCollect runs a GC pass when the live tagged-entry count has
// crossed the configured threshold, gathering roots from every register
// slot currently in use across all live frames plus every module's
// globals.
func (vm *VM) maybeCollect() {
	if !vm.Collector.ShouldCollect() {
		return
	}
	var roots []*Value
	for i := range vm.frames {
		f := &vm.frames[i]
		for r := 0; r < f.regsUsed; r++ {
			roots = append(roots, &vm.regs[f.regsBase+r])
		}
	}
	for _, m := range vm.Modules {
		for i := range m.GlobalValues {
			roots = append(roots, &m.GlobalValues[i])
		}
	}
	vm.Collector.Collect(Roots{Registers: roots})
}

// traceback walks the live frame stack newest-to-oldest, synthesizing the
// (module_path, function_qualified_name, line_number) tuples an uncaught
// error is rendered with.
func (vm *VM) traceback() []TracebackEntry {
	entries := make([]TracebackEntry, 0, vm.frames.len())
	for i := vm.frames.len() - 1; i >= 0; i-- {
		f := &vm.frames[i]
		qual := f.function.Name
		if f.function.ClassName != "" {
			qual = f.function.ClassName + "." + qual
		}
		entries = append(entries, TracebackEntry{
			ModulePath:   f.function.ModuleName,
			FunctionQual: qual,
			LineNumber:   f.lineNum,
		})
	}
	return entries
}

// raiseInternal turns a VM-detected error (division by zero, index out
// of range, ...) into a raise: it records the traceback at the point of
// origin, synthesizes an instance of the matching builtin error class
// so an `except ... as e` binding sees a `message` property like any
// other exception, and hands the error back to call's catch-entry walk.
func (vm *VM) raiseInternal(err error) (Value, error) {
	re, ok := err.(*RuntimeError)
	if !ok {
		return Value{}, err
	}
	if re.Traceback == nil {
		re.Traceback = vm.traceback()
	}
	class := vm.builtinClasses[re.Kind]
	inst := InstanceValue(vm.Collector, class, []Value{StringValue(vm.Collector, re.Message)})
	moveInto(&vm.activeException, inst)
	return Value{}, re
}

// raiseValue is reached from o_exception_raise: exc is always a
// user-constructed Instance.
func (vm *VM) raiseValue(exc Value) (Value, error) {
	className := "ValueError"
	if exc.Kind == KindInstance {
		className = exc.InstanceClass().Name
	}
	re := NewRuntimeError(ErrRuntime, classMessage(exc))
	re.Class = className
	re.Traceback = vm.traceback()
	assignInto(&vm.activeException, exc)
	return Value{}, re
}

// propagateCallError forwards an error coming out of a nested call. A
// *RuntimeError that already carries a traceback did its raise
// bookkeeping (activeException, traceback) at its point of origin and
// passes through untouched; one without a traceback came straight from
// a foreign function's return value (e.g. via SignalError) and is
// raised here, at the call site re-entering native code.
func (vm *VM) propagateCallError(err error) (Value, error) {
	if re, ok := err.(*RuntimeError); ok && re.Traceback == nil {
		return vm.raiseInternal(re)
	}
	return Value{}, err
}

func classMessage(exc Value) string {
	if exc.Kind == KindInstance {
		if p := exc.InstanceClass().PropertyByName("message"); p != nil {
			return exc.InstanceProperty(p.Index).String()
		}
	}
	return exc.String()
}

// exceptChainMatches walks the exception_catch branches starting at the
// frame's current code position (the except-chain header a catch_push
// recorded), landing the frame's code position just past the matched
// branch's IExceptionCatch header when found.
func (vm *VM) exceptChainMatches(fr *frame, className string) bool {
	code := fr.code.Code
	pc := fr.codePos
	for {
		op := code[pc]
		if op != opExceptionCatch {
			return false
		}
		classID := int(code[pc+1])
		next := pc + 3 + s16(code[pc+2])
		if vm.classIDName(classID) == className || vm.classIDIsAncestor(classID, className) {
			fr.codePos = pc + 3
			return true
		}
		pc = next
	}
}

func (vm *VM) classIDName(id int) string {
	if c := vm.classByID(id); c != nil {
		return c.Name
	}
	return ""
}

// classIDIsAncestor reports whether the declared except-branch class
// named by id is the raised class itself or one of its ancestors: walk
// up from the actually-raised class's Parent chain, not the declared
// branch's, since a branch declaring a superclass must catch every
// subclass raised at runtime.
func (vm *VM) classIDIsAncestor(id int, className string) bool {
	declared := vm.classByID(id)
	if declared == nil {
		return false
	}
	raised := vm.classByName(className)
	if raised == nil {
		return false
	}
	return raised.IsSubclassOf(declared)
}

func (vm *VM) classByID(id int) *Class {
	for _, m := range vm.Modules {
		for _, c := range m.Classes {
			if c.ID == id {
				return c
			}
		}
	}
	return nil
}

func (vm *VM) classByName(name string) *Class {
	for _, m := range vm.Modules {
		for _, c := range m.Classes {
			if c.Name == name {
				return c
			}
		}
	}
	return nil
}


func (vm *VM) valueIsClass(v Value, classID int) bool {
	switch v.Kind {
	case KindInstance:
		return v.InstanceClass().ID == classID
	case KindEnum:
		return v.EnumVariant().Enum.ID == classID
	default:
		return false
	}
}
