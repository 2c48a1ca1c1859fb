package lily

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolInternsStructurallyEqualTypes(t *testing.T) {
	pool := NewPool(0)
	a := pool.Scalar("Integer")
	b := pool.Scalar("Integer")
	assert.Same(t, a, b)

	fn1 := pool.Function([]*Type{a}, pool.Scalar("Boolean"), false)
	fn2 := pool.Function([]*Type{b}, pool.Scalar("Boolean"), false)
	assert.Same(t, fn1, fn2)
}

func TestCheckerUnifyBindsGenericParameter(t *testing.T) {
	pool := NewPool(0)
	checker := NewChecker(pool)

	generic := pool.Generic("A")
	intType := pool.Scalar("Integer")

	assert.True(t, checker.Unify(generic, intType))
	bound, ok := checker.Resolve(generic), true
	_ = ok
	assert.Equal(t, intType, bound)
}

func TestCheckFunctionParametersAreContravariant(t *testing.T) {
	pool := NewPool(0)
	checker := NewChecker(pool)

	base := NewClass(allocClassID(), "Animal", "sample")
	dog := NewClass(allocClassID(), "Dog", "sample")
	dog.Parent = base

	// A function wanting to accept any Animal is a valid substitute
	// wherever a function accepting only Dog is expected: its parameter
	// type is wider (contravariant), so have's narrower-parameter function
	// cannot stand in for want's wider-parameter one, but the reverse can.
	acceptsAnimal := pool.Function([]*Type{pool.ForClass(base)}, pool.Scalar("Unit"), false)
	acceptsDog := pool.Function([]*Type{pool.ForClass(dog)}, pool.Scalar("Unit"), false)

	assert.True(t, checker.Check(acceptsDog, acceptsAnimal))
	assert.False(t, checker.Check(acceptsAnimal, acceptsDog))
}

func TestTypeGreaterEqFunctionArityWidth(t *testing.T) {
	pool := NewPool(0)
	checker := NewChecker(pool)

	intType := pool.Scalar("Integer")
	narrow := pool.Function([]*Type{intType}, pool.Scalar("Unit"), false)
	wide := pool.Function([]*Type{intType, intType}, pool.Scalar("Unit"), false)

	// A function accepting fewer parameters (narrow) can stand in wherever
	// one accepting more (wide) is expected — callers passing the extra
	// argument still work since narrow just ignores it.
	assert.True(t, checker.TypeGreaterEq(narrow, wide))
	assert.False(t, checker.TypeGreaterEq(wide, narrow))
}

func TestCheckResetsWorkingStackBetweenCalls(t *testing.T) {
	pool := NewPool(0)
	checker := NewChecker(pool)

	generic := pool.Generic("A")
	assert.True(t, checker.Check(generic, pool.Scalar("Integer")))
	// A later, unrelated check against the same generic parameter name
	// must not see the first call's binding.
	assert.True(t, checker.Check(generic, pool.Scalar("String")))
}

func TestUnifySubclassSatisfiesParentParameter(t *testing.T) {
	pool := NewPool(0)
	checker := NewChecker(pool)

	base := NewClass(allocClassID(), "Shape", "sample")
	circle := NewClass(allocClassID(), "Circle", "sample")
	circle.Parent = base

	assert.True(t, checker.Unify(pool.ForClass(base), pool.ForClass(circle)))
	assert.False(t, checker.Unify(pool.ForClass(circle), pool.ForClass(base)))
}

// TestUnifyTypesGreatestLowerBoundIsSymmetric checks the bound picks the
// more-derived class regardless of argument order and fails cleanly on
// unrelated types.
func TestUnifyTypesGreatestLowerBoundIsSymmetric(t *testing.T) {
	pool := NewPool(0)
	checker := NewChecker(pool)

	base := NewClass(allocClassID(), "Animal", "sample")
	dog := NewClass(allocClassID(), "Dog", "sample")
	dog.Parent = base
	cat := NewClass(allocClassID(), "Cat", "sample")
	cat.Parent = base

	animalT, dogT, catT := pool.ForClass(base), pool.ForClass(dog), pool.ForClass(cat)

	assert.Same(t, dogT, checker.UnifyTypes(animalT, dogT))
	assert.Same(t, dogT, checker.UnifyTypes(dogT, animalT))
	assert.Nil(t, checker.UnifyTypes(dogT, catT))
	assert.Nil(t, checker.UnifyTypes(catT, dogT))

	// Function results lower, parameters raise: the common function type
	// accepts the wider parameter and returns the narrower result.
	fa := pool.Function([]*Type{dogT}, animalT, false)
	fb := pool.Function([]*Type{animalT}, dogT, false)
	want := pool.Function([]*Type{animalT}, dogT, false)
	assert.Same(t, want, checker.UnifyTypes(fa, fb))
	assert.Same(t, want, checker.UnifyTypes(fb, fa))
}

// TestResolveDefaultsUnboundGenericToDynamic checks an unbound generic
// resolves to Dynamic, is written back, and stays stable across repeated
// resolution.
func TestResolveDefaultsUnboundGenericToDynamic(t *testing.T) {
	pool := NewPool(0)
	checker := NewChecker(pool)

	generic := pool.Generic("A")
	first := checker.Resolve(generic)
	assert.Same(t, pool.Scalar("Dynamic"), first)
	assert.Same(t, first, checker.Resolve(generic))
	assert.Same(t, checker.Resolve(first), checker.Resolve(checker.Resolve(first)))
}

// TestQuantifyKeepsCalleeGenericsRigid seeds a globally-defined callee's
// signature against itself and confirms its generic no longer unifies
// with a caller-supplied concrete type.
func TestQuantifyKeepsCalleeGenericsRigid(t *testing.T) {
	pool := NewPool(0)
	checker := NewChecker(pool)

	generic := pool.Generic("A")
	identity := pool.Function([]*Type{generic}, generic, false)

	checker.Quantify(identity)
	assert.False(t, checker.Unify(generic, pool.Scalar("Integer")))
	assert.True(t, checker.Unify(generic, generic))
}
