package lily

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runProgram(t *testing.T, vm *VM, p *Program, regCount int, args []Value) (Value, error) {
	t.Helper()
	bc := Encode(p)
	fn := NativeFunctionValue(vm.Collector, "test", "", "sample", bc, regCount)
	return vm.Run(fn, args)
}

func TestVMArithmeticAndAssignment(t *testing.T) {
	vm := NewVM(nil, nil)

	p := NewProgram("sample", "arith")
	p.Emit(ILoadInteger{Dst: 0, Value: 10})
	p.Emit(ILoadInteger{Dst: 1, Value: 3})
	p.Emit(IIntBinOp{Op: IntAdd, Dst: 2, A: 0, B: 1})
	p.Emit(IIntBinOp{Op: IntMul, Dst: 3, A: 0, B: 1})
	p.Emit(IAssign{Dst: 4, Src: 2})
	p.Emit(IReturnValue{Src: 3})

	result, err := runProgram(t, vm, p, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(30), result.AsInt())
}

// TestVMCaughtException builds a try/except by hand: catch_push installs
// a handler before a division that is guaranteed to raise, and the
// except branch overwrites the result register instead of propagating.
func TestVMCaughtException(t *testing.T) {
	vm := NewVM(nil, nil)
	divClass := vm.builtinClasses[ErrDivisionByZero]
	require.NotNil(t, divClass)

	exceptHeader := NewILabel()
	afterExcept := NewILabel()

	p := NewProgram("sample", "divider")
	p.Emit(ILoadInteger{Dst: 0, Value: 10})
	p.Emit(ILoadInteger{Dst: 1, Value: 0})
	p.Emit(ICatchPush{ExceptHeader: exceptHeader})
	p.Emit(IIntBinOp{Op: IntDiv, Dst: 2, A: 0, B: 1})
	p.Emit(ICatchPop{})
	p.Emit(IAssign{Dst: 5, Src: 2})
	p.Emit(IJump{Target: afterExcept})
	p.Emit(exceptHeader)
	p.Emit(IExceptionCatch{ClassID: divClass.ID, Next: afterExcept})
	p.Emit(IExceptionStore{Dst: 3})
	p.Emit(ILoadInteger{Dst: 5, Value: -1})
	p.Emit(IJump{Target: afterExcept})
	p.Emit(afterExcept)
	p.Emit(IReturnValue{Src: 5})

	result, err := runProgram(t, vm, p, 6, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), result.AsInt())
}

// TestVMUncaughtExceptionTraceback checks that an internally raised error
// with no matching catch entry surfaces as an error from Run carrying a
// non-empty traceback, rather than a raw Go panic escaping.
func TestVMUncaughtExceptionTraceback(t *testing.T) {
	vm := NewVM(nil, nil)

	p := NewProgram("sample", "boom")
	p.Emit(ILoadInteger{Dst: 0, Value: 1})
	p.Emit(ILoadInteger{Dst: 1, Value: 0})
	p.Emit(IIntBinOp{Op: IntDiv, Dst: 2, A: 0, B: 1})
	p.Emit(IReturnValue{Src: 2})

	_, err := runProgram(t, vm, p, 3, nil)
	require.Error(t, err)
	re, ok := err.(*RuntimeError)
	require.True(t, ok)
	assert.Equal(t, ErrDivisionByZero, re.Kind)
	assert.NotEmpty(t, re.Traceback)
}

// TestVMClosureMutation exercises closure_new/closure_function/closure_get
// to confirm a cell written by one call is visible to a later call sharing
// the same closure, the register-machine equivalent of an upvalue capture.
func TestVMClosureMutation(t *testing.T) {
	vm := NewVM(nil, nil)

	// bumpAndLoad: r0 = cell[0]; cell[0] = r0 + 1; return cell[0]
	bump := NewProgram("sample", "bump")
	bump.Emit(IClosureGet{Dst: 0, CellIdx: 0})
	bump.Emit(ILoadInteger{Dst: 1, Value: 1})
	bump.Emit(IIntBinOp{Op: IntAdd, Dst: 2, A: 0, B: 1})
	bump.Emit(IClosureSet{CellIdx: 0, Src: 2})
	bump.Emit(IReturnValue{Src: 2})
	bumpBC := Encode(bump)
	bumpFn := NativeFunctionValue(vm.Collector, "bump", "", "sample", bumpBC, 3)

	cell := NewCell()
	cell.Set(IntegerValue(5))
	f := bumpFn.Function()
	f.Upvalues = []*Cell{cell}

	first, err := vm.Run(bumpFn, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(6), first.AsInt())

	second, err := vm.Run(bumpFn, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), second.AsInt())

	assert.Equal(t, int64(7), cell.Get().AsInt())
}

// TestVMCatchesSubclassViaSuperclassBranch raises an instance of a
// subclass and confirms an except branch declaring only the superclass
// still catches it: exceptChainMatches must walk up from the raised
// class, not the declared branch, to find the covering ancestor.
func TestVMCatchesSubclassViaSuperclassBranch(t *testing.T) {
	vm := NewVM(nil, nil)
	mod := NewModule("sample", "sample")
	animal := mod.DefineClass("Animal")
	dog := mod.DefineClass("Dog")
	dog.Parent = animal
	vm.RegisterModule(mod)

	exceptHeader := NewILabel()
	afterExcept := NewILabel()

	p := NewProgram("sample", "fetch")
	p.Emit(ICatchPush{ExceptHeader: exceptHeader})
	p.Emit(IExceptionRaise{Src: 0})
	p.Emit(ICatchPop{})
	p.Emit(IJump{Target: afterExcept})
	p.Emit(exceptHeader)
	p.Emit(IExceptionCatch{ClassID: animal.ID, Next: afterExcept})
	p.Emit(IExceptionStore{Dst: 1})
	p.Emit(ILoadInteger{Dst: 2, Value: 1})
	p.Emit(IJump{Target: afterExcept})
	p.Emit(afterExcept)
	p.Emit(IReturnValue{Src: 2})

	dogInstance := InstanceValue(vm.Collector, dog, nil)
	result, err := runProgram(t, vm, p, 3, []Value{dogInstance})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.AsInt())
}

// TestVMMatchDispatchExhaustive drives match_dispatch over every variant
// of a two-armed enum and confirms each arm lands on its own target.
func TestVMMatchDispatchExhaustive(t *testing.T) {
	vm := NewVM(nil, nil)
	mod := NewModule("sample", "sample")
	vm.RegisterModule(mod)
	enum := mod.DefineClass("Option")

	some := NewVariant(0, "Some", enum, []*Type{{Kind: TypeScalar, ScalarName: "Integer"}})
	none := NewEmptyVariant(vm.Collector, 1, "None", enum)

	someArm := NewILabel()
	noneArm := NewILabel()
	done := NewILabel()

	run := func(scrutinee Value) int64 {
		p := NewProgram("sample", "describe")
		p.Emit(IMatchDispatch{Scrutinee: 0, EnumID: enum.ID, Targets: []ILabel{someArm, noneArm}})
		p.Emit(someArm)
		p.Emit(ILoadInteger{Dst: 1, Value: 1})
		p.Emit(IJump{Target: done})
		p.Emit(noneArm)
		p.Emit(ILoadInteger{Dst: 1, Value: 0})
		p.Emit(IJump{Target: done})
		p.Emit(done)
		p.Emit(IReturnValue{Src: 1})

		bc := Encode(p)
		fn := NativeFunctionValue(vm.Collector, "describe", "", "sample", bc, 2)
		result, err := vm.Run(fn, []Value{scrutinee})
		require.NoError(t, err)
		return result.AsInt()
	}

	someValue := EnumValue(vm.Collector, some, []Value{IntegerValue(42)})
	assert.Equal(t, int64(1), run(someValue))
	assert.Equal(t, int64(0), run(EnumValue(vm.Collector, none, nil)))
}

// TestVMForLoopIgnoresMidBodyMutationOfLoopVar builds a 1...3 for loop whose
// body overwrites the visible loop register every iteration (standing in
// for a foreign call reassigning the loop variable) and confirms the loop
// still runs exactly three times: stepping must read back the internal
// accumulator register, never the externally-visible one.
func TestVMForLoopIgnoresMidBodyMutationOfLoopVar(t *testing.T) {
	vm := NewVM(nil, nil)

	top := NewILabel()
	exit := NewILabel()

	p := NewProgram("sample", "count_ignoring_mutation")
	p.Emit(ILoadInteger{Dst: 1, Value: 1})
	p.Emit(ILoadInteger{Dst: 2, Value: 3})
	p.Emit(ILoadInteger{Dst: 3, Value: 1})
	p.Emit(ILoadInteger{Dst: 4, Value: 0})
	p.Emit(IForSetup{LoopVar: 0, Acc: 5, Start: 1, Stop: 2, Step: 3, Exit: exit})
	p.Emit(top)
	p.Emit(IIntBinOp{Op: IntAdd, Dst: 4, A: 4, B: 3})
	p.Emit(ILoadInteger{Dst: 0, Value: 999})
	p.Emit(IForInteger{LoopVar: 0, Acc: 5, Stop: 2, Step: 3, Top: top})
	p.Emit(exit)
	p.Emit(IReturnValue{Src: 4})

	result, err := runProgram(t, vm, p, 6, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.AsInt())
}

// TestVMCatchAcrossCallBoundary installs a handler in the caller and
// raises two frames of native code away: the callee's teardown must run
// (its frame popped, registers released) before the caller's catch
// entry takes the error.
func TestVMCatchAcrossCallBoundary(t *testing.T) {
	vm := NewVM(nil, nil)
	divClass := vm.builtinClasses[ErrDivisionByZero]

	callee := NewProgram("sample", "boom")
	callee.Emit(ILoadInteger{Dst: 0, Value: 1})
	callee.Emit(ILoadInteger{Dst: 1, Value: 0})
	callee.Emit(IIntBinOp{Op: IntDiv, Dst: 2, A: 0, B: 1})
	callee.Emit(IReturnValue{Src: 2})
	calleeFn := NativeFunctionValue(vm.Collector, "boom", "", "sample", Encode(callee), 3)

	exceptHeader := NewILabel()
	afterExcept := NewILabel()

	p := NewProgram("sample", "guarded")
	p.Emit(ICatchPush{ExceptHeader: exceptHeader})
	p.Emit(ICallNative{ConstIdx: 0, Args: nil, Dst: 0})
	p.Emit(ICatchPop{})
	p.Emit(IJump{Target: afterExcept})
	p.Emit(exceptHeader)
	p.Emit(IExceptionCatch{ClassID: divClass.ID, Next: afterExcept})
	p.Emit(IExceptionStore{Dst: 1})
	p.Emit(ILoadInteger{Dst: 2, Value: 11})
	p.Emit(IJump{Target: afterExcept})
	p.Emit(afterExcept)
	p.Emit(IReturnValue{Src: 2})
	bc := Encode(p)
	bc.Functions = append(bc.Functions, calleeFn)

	fn := NativeFunctionValue(vm.Collector, "guarded", "", "sample", bc, 3)
	result, err := vm.Run(fn, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(11), result.AsInt())
	assert.Equal(t, 0, vm.frames.len())
	assert.Nil(t, vm.catches.top)
}

// TestVMTracebackOrdersFramesNewestFirst raises from a nested call and
// checks the traceback names the raising function before its caller,
// with each frame's function attributed correctly.
func TestVMTracebackOrdersFramesNewestFirst(t *testing.T) {
	vm := NewVM(nil, nil)

	callee := NewProgram("sample", "f")
	callee.Emit(ILoadInteger{Dst: 0, Value: 1})
	callee.Emit(ILoadInteger{Dst: 1, Value: 0})
	callee.Emit(IIntBinOp{Op: IntDiv, Dst: 2, A: 0, B: 1})
	callee.Emit(IReturnValue{Src: 2})
	calleeFn := NativeFunctionValue(vm.Collector, "f", "", "sample", Encode(callee), 3)

	p := NewProgram("sample", "__main__")
	p.Emit(ICallNative{ConstIdx: 0, Args: nil, Dst: 0})
	p.Emit(IReturnValue{Src: 0})
	bc := Encode(p)
	bc.Functions = append(bc.Functions, calleeFn)

	fn := NativeFunctionValue(vm.Collector, "__main__", "", "sample", bc, 1)
	_, err := vm.Run(fn, nil)
	require.Error(t, err)
	re, ok := err.(*RuntimeError)
	require.True(t, ok)
	require.Len(t, re.Traceback, 2)
	assert.Equal(t, "f", re.Traceback[0].FunctionQual)
	assert.Equal(t, "__main__", re.Traceback[1].FunctionQual)
}

// TestVMInheritedNewReusesInstance chains two constructors: the subclass
// new allocates, the superclass new (called with the build value
// threaded through the frame chain) must populate the same object
// rather than allocating a second one.
func TestVMInheritedNewReusesInstance(t *testing.T) {
	vm := NewVM(nil, nil)
	mod := NewModule("sample", "sample")
	animal := mod.DefineClass("Animal")
	animal.Props = append(animal.Props, &Property{Name: "name", Index: 0})
	dog := mod.DefineClass("Dog")
	dog.Parent = animal
	dog.Props = append(dog.Props, &Property{Name: "name", Index: 0}, &Property{Name: "breed", Index: 1})
	vm.RegisterModule(mod)

	superNew := NewProgram("sample", "Animal.new")
	superNew.Emit(ILoadInteger{Dst: 0, Value: 1})
	superNew.Emit(IInstanceNew{Kind: InstanceTagged, Dst: 1, ClassID: animal.ID, Props: []Reg{0}})
	superNew.Emit(IReturnValue{Src: 1})
	superFn := NativeFunctionValue(vm.Collector, "new", "Animal", "sample", Encode(superNew), 2)

	subNew := NewProgram("sample", "Dog.new")
	subNew.Emit(ILoadInteger{Dst: 0, Value: 0})
	subNew.Emit(ILoadInteger{Dst: 1, Value: 2})
	subNew.Emit(IInstanceNew{Kind: InstanceTagged, Dst: 2, ClassID: dog.ID, Props: []Reg{0, 1}})
	subNew.Emit(ICallNative{ConstIdx: 0, Args: nil, Dst: 3})
	subNew.Emit(IReturnValue{Src: 3})
	bc := Encode(subNew)
	bc.Functions = append(bc.Functions, superFn)
	subFn := NativeFunctionValue(vm.Collector, "new", "Dog", "sample", bc, 4)

	result, err := vm.Run(subFn, nil)
	require.NoError(t, err)
	require.Equal(t, KindInstance, result.Kind)
	assert.Equal(t, "Dog", result.InstanceClass().Name)
	// The super constructor overwrote slot 0 on the shared instance and
	// left the subclass's slot 1 alone.
	assert.Equal(t, int64(1), result.InstanceProperty(0).AsInt())
	assert.Equal(t, int64(2), result.InstanceProperty(1).AsInt())
}

// TestVMRunResultCarriesSingleOwnedReference confirms a heap value
// returned through call teardown reaches the embedder with exactly one
// reference: the one the embedder now owns.
func TestVMRunResultCarriesSingleOwnedReference(t *testing.T) {
	vm := NewVM(nil, nil)

	p := NewProgram("sample", "makelist")
	p.Emit(ILoadInteger{Dst: 0, Value: 1})
	p.Emit(IBuildList{Dst: 1, Items: []Reg{0}})
	p.Emit(IReturnValue{Src: 1})

	result, err := runProgram(t, vm, p, 2, nil)
	require.NoError(t, err)
	require.Equal(t, KindList, result.Kind)
	assert.Equal(t, uint32(1), *result.obj.refs())
}

// TestVMLoadEmptyVariantSharesReadonlySingleton loads an empty variant
// through the readonly table twice and confirms both registers alias
// the interned canonical object.
func TestVMLoadEmptyVariantSharesReadonlySingleton(t *testing.T) {
	vm := NewVM(nil, nil)
	mod := NewModule("sample", "sample")
	enum := mod.DefineClass("Option")
	enum.DefineVariant("Some", []*Type{{Kind: TypeScalar, ScalarName: "Integer"}})
	none := enum.DefineEmptyVariant(vm.Collector, "None")
	vm.RegisterModule(mod)

	canonical := EnumValue(vm.Collector, none, nil)

	p := NewProgram("sample", "load_none")
	idx := p.AddVariant(canonical)
	p.Emit(ILoadEmptyVariant{Dst: 0, ConstIdx: idx})
	p.Emit(ILoadEmptyVariant{Dst: 1, ConstIdx: idx})
	p.Emit(IReturnValue{Src: 1})

	result, err := runProgram(t, vm, p, 2, nil)
	require.NoError(t, err)
	require.Equal(t, KindEnum, result.Kind)
	assert.Equal(t, none.ID, result.EnumVariant().ID)
	assert.Equal(t, canonical.obj, result.obj)
}
