package lily

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRunByNameInvokesGlobalFunction installs a function value into a
// module's global slot and runs it by its dotted name, the way an
// embedder starts __main__.
func TestRunByNameInvokesGlobalFunction(t *testing.T) {
	vm := NewVM(nil, nil)
	mod := NewModule("sample", "sample.lily")
	vm.RegisterModule(mod)

	p := NewProgram("sample", "answer")
	p.Emit(ILoadInteger{Dst: 0, Value: 42})
	p.Emit(IReturnValue{Src: 0})
	fn := NativeFunctionValue(vm.Collector, "answer", "", "sample", Encode(p), 1)

	sym := mod.DefineGlobal("answer", nil)
	mod.GlobalValues[sym.Index] = fn

	result, err := vm.RunByName("sample", "answer", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(42), result.AsInt())

	_, err = vm.RunByName("sample", "missing", nil)
	assert.Error(t, err)
}

// TestImportCallbackLoadsModuleOnDemand confirms a module name that
// isn't registered yet goes through the installed callback exactly
// once, and that without a callback the lookup fails.
func TestImportCallbackLoadsModuleOnDemand(t *testing.T) {
	vm := NewVM(nil, nil)

	_, err := vm.RunByName("lazy", "nothing", nil)
	require.Error(t, err)

	calls := 0
	vm.SetImportCallback(func(name string) (*Module, error) {
		calls++
		if name != "lazy" {
			return nil, fmt.Errorf("unexpected module %q", name)
		}
		mod := NewModule("lazy", "lazy.lily")
		p := NewProgram("lazy", "one")
		p.Emit(ILoadInteger{Dst: 0, Value: 1})
		p.Emit(IReturnValue{Src: 0})
		fn := NativeFunctionValue(vm.Collector, "one", "", "lazy", Encode(p), 1)
		sym := mod.DefineGlobal("one", nil)
		mod.GlobalValues[sym.Index] = fn
		return mod, nil
	})

	result, err := vm.RunByName("lazy", "one", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.AsInt())

	_, err = vm.RunByName("lazy", "one", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

// TestForeignReentryAndRegisterAccess drives the full re-entry path: a
// native caller invokes a foreign function, which reads the caller's
// window through RegisterGet, re-enters the VM against a native helper
// through ForeignCall, and writes a second result back with
// RegisterSet.
func TestForeignReentryAndRegisterAccess(t *testing.T) {
	vm := NewVM(nil, nil)

	double := NewProgram("sample", "double")
	double.Emit(ILoadInteger{Dst: 1, Value: 2})
	double.Emit(IIntBinOp{Op: IntMul, Dst: 2, A: 0, B: 1})
	double.Emit(IReturnValue{Src: 2})
	doubleFn := NativeFunctionValue(vm.Collector, "double", "", "sample", Encode(double), 3)

	foreignFn := ForeignFunctionValue(vm.Collector, "bridge", "sample", func(vm *VM, args []Value) (Value, error) {
		seed := vm.RegisterGet(0)
		result, err := vm.ForeignCall(doubleFn, []Value{seed})
		if err != nil {
			return Value{}, err
		}
		vm.RegisterSet(2, IntegerValue(result.AsInt()+1))
		return result, nil
	})

	p := NewProgram("sample", "caller")
	p.Emit(ILoadInteger{Dst: 0, Value: 21})
	p.Emit(ICallForeign{ConstIdx: 0, Args: nil, Dst: 1})
	p.Emit(IIntBinOp{Op: IntAdd, Dst: 3, A: 1, B: 2})
	p.Emit(IReturnValue{Src: 3})
	bc := Encode(p)
	bc.Functions = append(bc.Functions, foreignFn)

	caller := NativeFunctionValue(vm.Collector, "caller", "", "sample", bc, 4)
	result, err := vm.Run(caller, nil)
	require.NoError(t, err)
	// double(21) = 42 in r1, 43 in r2 via RegisterSet, summed to 85.
	assert.Equal(t, int64(85), result.AsInt())
}

// TestForeignSignalErrorIsCatchable raises from a foreign function via
// SignalError and confirms an except branch for the matching builtin
// class catches it like any opcode-raised error.
func TestForeignSignalErrorIsCatchable(t *testing.T) {
	vm := NewVM(nil, nil)
	ioClass := vm.builtinClasses[ErrIO]
	require.NotNil(t, ioClass)

	failing := ForeignFunctionValue(vm.Collector, "fail", "sample", func(vm *VM, args []Value) (Value, error) {
		return Value{}, vm.SignalError(ErrIO, "stream closed")
	})

	exceptHeader := NewILabel()
	afterExcept := NewILabel()

	p := NewProgram("sample", "guarded")
	p.Emit(ICatchPush{ExceptHeader: exceptHeader})
	p.Emit(ICallForeign{ConstIdx: 0, Args: nil, Dst: 0})
	p.Emit(ICatchPop{})
	p.Emit(IJump{Target: afterExcept})
	p.Emit(exceptHeader)
	p.Emit(IExceptionCatch{ClassID: ioClass.ID, Next: afterExcept})
	p.Emit(IExceptionStore{Dst: 1})
	p.Emit(ILoadInteger{Dst: 2, Value: 7})
	p.Emit(IJump{Target: afterExcept})
	p.Emit(afterExcept)
	p.Emit(IReturnValue{Src: 2})
	bc := Encode(p)
	bc.Functions = append(bc.Functions, failing)

	fn := NativeFunctionValue(vm.Collector, "guarded", "", "sample", bc, 3)
	result, err := vm.Run(fn, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), result.AsInt())
}
