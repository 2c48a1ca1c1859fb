package lily

// CallKind distinguishes the four call-lowering shapes.
type CallKind int

const (
	CallStaticNative  CallKind = iota // globally named function with code: o_call_native
	CallStaticForeign                 // globally named function with no code: o_call_foreign
	CallRegister                      // expression result / local / upvalue / closured reference
	CallInheritedNew                  // super constructor: a native call whose build_value is
	                                  // threaded up the frame chain so the subclass instance is reused
	CallVariantApply                  // not a call at runtime: lowered to o_build_variant
)

// Argument is one already-lowered call argument: the register its value
// landed in, and the declared parameter position it binds to. Position
// is -1 when the argument was supplied positionally and already sits in
// declaration order, avoiding the reorder step for the common case.
type Argument struct {
	Reg      Reg
	Position int
}

// EmitCall lowers one call site according to kind. constIdx
// selects the callee out of the bytecode's function table for the two
// static shapes; callee is the register holding the callee value for
// CallRegister; variant names the enum arm for CallVariantApply (nil
// for every other kind). Keyword arguments are reordered into
// declaration position before the instruction is emitted.
func (e *Emitter) EmitCall(kind CallKind, dst Reg, constIdx int, callee Reg, variant *Variant, args []Argument) {
	ordered := orderArguments(args)
	switch kind {
	case CallStaticNative:
		e.Program.Emit(ICallNative{ConstIdx: constIdx, Args: ordered, Dst: dst})
	case CallStaticForeign:
		e.Program.Emit(ICallForeign{ConstIdx: constIdx, Args: ordered, Dst: dst})
	case CallRegister:
		e.Program.Emit(ICallRegister{Callee: callee, Args: ordered, Dst: dst})
	case CallInheritedNew:
		// A super constructor call is lowered exactly like a static
		// native call; the callee's frame finds build_value already
		// threaded onto it (via the caller's own frame.buildValue) and
		// populates the existing subclass instance instead of
		// allocating a new one.
		e.Program.Emit(ICallNative{ConstIdx: constIdx, Args: ordered, Dst: dst})
	case CallVariantApply:
		e.Program.Emit(IBuildVariant{Dst: dst, EnumID: variant.Enum.ID, VariantID: variant.ID, Fields: ordered})
	}
}

// orderArguments re-links evaluated arguments into declaration order, the
// keyword-argument reordering step. Arguments already in
// positional order (Position == -1) are appended in the order they were
// evaluated, after every explicitly positioned argument has claimed its
// slot.
func orderArguments(args []Argument) []Reg {
	width := len(args)
	for _, a := range args {
		if a.Position >= width {
			width = a.Position + 1
		}
	}
	ordered := make([]Reg, width)
	next := 0
	for _, a := range args {
		if a.Position < 0 {
			for next < width && positionClaimed(args, next) {
				next++
			}
			ordered[next] = a.Reg
			next++
			continue
		}
		ordered[a.Position] = a.Reg
	}
	return ordered
}

func positionClaimed(args []Argument, pos int) bool {
	for _, a := range args {
		if a.Position == pos {
			return true
		}
	}
	return false
}

// EmitVarargTail collects the trailing variadic arguments into a single
// list register via o_build_list, the shape a call's vararg tail
// takes.
func (e *Emitter) EmitVarargTail(dst Reg, items []Reg) {
	e.Program.Emit(IBuildList{Dst: dst, Items: items})
}

// EmitUnsetArg loads the sentinel value into dst, marking an optional or
// keyword parameter the caller didn't supply. Callees test it with
// jump_if_set, or count how many leading parameters were actually set
// via OptargTarget/EmitOptargDispatch.
func (e *Emitter) EmitUnsetArg(dst Reg) {
	e.Program.Emit(ILoadUnset{Dst: dst})
}

// OptargTarget is one arm of an optional-argument dispatch table: the
// number of leading optional parameters the caller supplied, and the
// callback emitting the default-initialization code for the rest.
type OptargTarget struct {
	SetCount int
	Emit     func(e *Emitter)
}

// EmitOptargDispatch lowers a function's optional-parameter prologue into
// o_optarg_dispatch: count holds how many of the function's optional
// parameters were actually supplied (computed by the caller's call site
// from how many trailing arguments are the unset sentinel), and targets
// must cover every count from 0 through the declared optional arity,
// mirroring opOptargDispatch's clamped table lookup.
func (e *Emitter) EmitOptargDispatch(count Reg, targets []OptargTarget) {
	byCount := make(map[int]ILabel, len(targets))
	labels := make([]ILabel, len(targets))
	for i, t := range targets {
		lbl := NewILabel()
		labels[i] = lbl
		byCount[t.SetCount] = lbl
	}

	jumpTargets := make([]ILabel, len(targets))
	for i := range targets {
		jumpTargets[i] = byCount[i]
	}

	done := NewILabel()
	e.Program.Emit(IOptargDispatch{Count: count, Targets: jumpTargets})
	for i, t := range targets {
		e.Program.Emit(labels[i])
		t.Emit(e)
		e.Program.Emit(IJump{Target: done})
	}
	e.Program.Emit(done)
}
