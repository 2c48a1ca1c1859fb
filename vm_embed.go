package lily

import (
	"fmt"

	"go.uber.org/zap"
)

// The embedding surface: everything a host application needs to drive
// the VM without reaching into its internals — registering modules,
// resolving imports, running named functions, and the register-window
// access a foreign function uses while the VM is re-entered.

// ImportCallback loads a module the first time something references it
// by name. The callback owns building the Module (the package search
// itself lives outside this core); the VM registers whatever it
// returns.
type ImportCallback func(name string) (*Module, error)

func (vm *VM) SetImportCallback(cb ImportCallback) { vm.importCB = cb }

func (vm *VM) moduleByName(name string) (*Module, error) {
	if m, ok := vm.Modules[name]; ok {
		return m, nil
	}
	if vm.importCB == nil {
		return nil, fmt.Errorf("lily: module %q is not loaded", name)
	}
	m, err := vm.importCB(name)
	if err != nil {
		return nil, fmt.Errorf("lily: importing %q: %w", name, err)
	}
	vm.Modules[m.Name] = m
	vm.log.Debug("module imported", zap.String("module", m.Name), zap.Stringer("module_id", m.ID))
	return m, nil
}

// RunByName looks a function up in a module's globals and runs it,
// importing the module on demand when a callback is installed. This is
// how an embedder starts __main__ without holding a function value.
func (vm *VM) RunByName(moduleName, funcName string, args []Value) (Value, error) {
	mod, err := vm.moduleByName(moduleName)
	if err != nil {
		return Value{}, err
	}
	sym, ok := mod.Globals[funcName]
	if !ok {
		return Value{}, fmt.Errorf("lily: module %q has no global %q", moduleName, funcName)
	}
	fn := mod.GlobalValues[sym.Index]
	if fn.Kind != KindFunction {
		return Value{}, fmt.Errorf("lily: %s.%s is a %s, not a function", moduleName, funcName, fn.Kind)
	}
	return vm.Run(fn, args)
}

// ForeignCall is the documented re-entry path: a foreign function
// may call back into the VM through it, and only it. The callee runs in
// a fresh frame beyond the foreign caller's window; frame pointers are
// restored before this returns.
func (vm *VM) ForeignCall(fn Value, args []Value) (Value, error) {
	return vm.call(fn, args)
}

// RegisterGet reads a register of the active window by index. During a
// foreign call the window is the caller's, since foreign calls never
// shift the register file.
func (vm *VM) RegisterGet(i int) Value { return *vm.reg(i) }

// RegisterSet writes a register of the active window, with ordinary
// assignment refcounting.
func (vm *VM) RegisterSet(i int, v Value) { assignInto(vm.reg(i), v) }

// SignalError builds the error value a foreign function returns to
// raise: the surrounding call site turns it into a catchable exception
// exactly as if an opcode had detected the condition itself.
func (vm *VM) SignalError(kind ErrorKind, msg string) error {
	return NewRuntimeError(kind, msg)
}

// ErrorMessage renders err the way the embedder shows it: the
// "<ClassName>: <msg>" line followed by the traceback for runtime
// errors, or the error's own text for anything else.
func (vm *VM) ErrorMessage(err error) string {
	if re, ok := err.(*RuntimeError); ok {
		return re.Render()
	}
	return err.Error()
}
