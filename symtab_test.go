package lily

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymbolTableLocalShadowingAcrossScopes(t *testing.T) {
	mod := NewModule("sample", "sample")
	st := NewSymbolTable(mod)

	outer := st.DefineLocal("x", nil)
	assert.Equal(t, 0, outer.Index)

	st.PushScope()
	inner := st.DefineLocal("x", nil)
	assert.Equal(t, 1, inner.Index)

	resolved, ok := st.Resolve("x")
	require.True(t, ok)
	assert.Same(t, inner, resolved)

	st.PopScope()
	resolved, ok = st.Resolve("x")
	require.True(t, ok)
	assert.Same(t, outer, resolved)
}

func TestSymbolTableFallsBackToModuleGlobals(t *testing.T) {
	mod := NewModule("sample", "sample")
	mod.DefineGlobal("counter", nil)
	st := NewSymbolTable(mod)

	sym, ok := st.Resolve("counter")
	require.True(t, ok)
	assert.Equal(t, SymGlobal, sym.Kind)
	assert.Equal(t, 0, sym.Index)
}

func TestSymbolTableRegisterCountTracksHighWaterMark(t *testing.T) {
	mod := NewModule("sample", "sample")
	st := NewSymbolTable(mod)

	st.DefineLocal("a", nil)
	st.PushScope()
	st.DefineLocal("b", nil)
	st.DefineLocal("c", nil)
	st.PopScope()

	assert.Equal(t, 3, st.RegisterCount())
}

func TestModuleDefineGlobalKeepsValuesInLockstep(t *testing.T) {
	mod := NewModule("sample", "sample")
	first := mod.DefineGlobal("a", nil)
	second := mod.DefineGlobal("b", nil)

	assert.Equal(t, 0, first.Index)
	assert.Equal(t, 1, second.Index)
	assert.Len(t, mod.GlobalValues, 2)
}

func TestModuleDefineClassAllocatesGloballyUniqueIDs(t *testing.T) {
	modA := NewModule("a", "a")
	modB := NewModule("b", "b")

	ca := modA.DefineClass("Widget")
	cb := modB.DefineClass("Widget")

	assert.NotEqual(t, ca.ID, cb.ID)
}
