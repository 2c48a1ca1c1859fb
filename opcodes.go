package lily

// Opcode words, assigned densely in declaration order. Binary-op families
// (int/number arithmetic, comparisons, unary, instance allocation) reserve
// a contiguous run so the encoder can compute `base + uint16(op)` instead
// of a second switch.
const (
	opAssign uint16 = iota
	opFastAssign

	opIntBinOpBase // + IntAdd..IntXor (10 opcodes)
	_
	_
	_
	_
	_
	_
	_
	_
	_

	opNumberBinOpBase // + NumberAdd..NumberDiv (4 opcodes)
	_
	_
	_

	opCompareBase // + CompareEq..CompareGreaterEq (4 opcodes)
	_
	_
	_

	opUnaryBase // + UnaryNot..UnaryBitwiseNot (3 opcodes)
	_
	_

	opJump
	opJumpIf
	opJumpIfSet
	opJumpIfNotClass

	opForSetup
	opForInteger

	opCallForeign
	opCallNative
	opCallRegister

	opReturnValue
	opReturnUnit

	opBuildList
	opBuildTuple
	opBuildHash
	opBuildVariant

	opSubscriptGet
	opSubscriptSet
	opPropertyGet
	opPropertySet
	opGlobalGet
	opGlobalSet

	opLoadReadonly
	opLoadInteger
	opLoadBoolean
	opLoadByte
	opLoadEmptyVariant
	opLoadUnset

	opInstanceNewBase // + InstancePlain..InstanceSpeculative (3 opcodes)
	_
	_

	opCatchPush
	opCatchPop
	opExceptionCatch
	opExceptionStore
	opExceptionRaise

	opMatchDispatch
	opVariantDecompose

	opClosureNew
	opClosureFunction
	opClosureGet
	opClosureSet

	opDynamicCast
	opInterpolation
	opOptargDispatch

	opVMExit
)

// opName maps an encoded opcode word back to its mnemonic, used by the
// disassembler. Built from the same bases used by the encoder so the two
// can never drift apart.
var opName = buildOpNameTable()

func buildOpNameTable() map[uint16]string {
	m := map[uint16]string{
		opAssign:      "assign",
		opFastAssign:  "fast_assign",
		opJump:        "jump",
		opJumpIf:      "jump_if",
		opJumpIfSet:   "jump_if_set",
		opJumpIfNotClass: "jump_if_not_class",
		opForSetup:    "for_setup",
		opForInteger:  "for_integer",
		opCallForeign: "call_foreign",
		opCallNative:  "call_native",
		opCallRegister: "call_register",
		opReturnValue: "return_value",
		opReturnUnit:  "return_unit",
		opBuildList:   "build_list",
		opBuildTuple:  "build_tuple",
		opBuildHash:   "build_hash",
		opBuildVariant: "build_variant",
		opSubscriptGet: "subscript_get",
		opSubscriptSet: "subscript_set",
		opPropertyGet: "property_get",
		opPropertySet: "property_set",
		opGlobalGet:   "global_get",
		opGlobalSet:   "global_set",
		opLoadReadonly: "load_readonly",
		opLoadInteger: "load_integer",
		opLoadBoolean: "load_boolean",
		opLoadByte:    "load_byte",
		opLoadEmptyVariant: "load_empty_variant",
		opLoadUnset:   "load_unset",
		opCatchPush:   "catch_push",
		opCatchPop:    "catch_pop",
		opExceptionCatch: "exception_catch",
		opExceptionStore: "exception_store",
		opExceptionRaise: "exception_raise",
		opMatchDispatch: "match_dispatch",
		opVariantDecompose: "variant_decompose",
		opClosureNew:  "closure_new",
		opClosureFunction: "closure_function",
		opClosureGet:  "closure_get",
		opClosureSet:  "closure_set",
		opDynamicCast: "dynamic_cast",
		opInterpolation: "interpolation",
		opOptargDispatch: "optarg_dispatch",
		opVMExit:      "vm_exit",
	}
	for op := IntAdd; op <= IntXor; op++ {
		m[opIntBinOpBase+uint16(op)] = op.String()
	}
	for op := NumberAdd; op <= NumberDiv; op++ {
		m[opNumberBinOpBase+uint16(op)] = op.String()
	}
	for op := CompareEq; op <= CompareGreaterEq; op++ {
		m[opCompareBase+uint16(op)] = op.String()
	}
	for op := UnaryNot; op <= UnaryBitwiseNot; op++ {
		m[opUnaryBase+uint16(op)] = op.String()
	}
	m[opInstanceNewBase+uint16(InstancePlain)] = "instance_new"
	m[opInstanceNewBase+uint16(InstanceTagged)] = "instance_new_tagged"
	m[opInstanceNewBase+uint16(InstanceSpeculative)] = "instance_new_speculative"
	return m
}
