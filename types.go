package lily

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// TypeKind distinguishes the shapes a Type can take.
type TypeKind uint8

const (
	TypeScalar TypeKind = iota
	TypeClass
	TypeFunction
	TypeGeneric  // an unbound/bound generic parameter, e.g. `A`
	TypeVariant
)

// Type is an interned, structurally-deduplicated type descriptor: two
// types with the same shape are always the same *Type pointer, so
// equality and map-keying can use pointer identity.
type Type struct {
	Kind TypeKind

	ScalarName string // TypeScalar: "Integer", "Boolean", ...
	Class      *Class // TypeClass / TypeVariant

	// TypeFunction
	Params  []*Type
	Result  *Type
	Vararg  bool

	// TypeGeneric
	GenericName string
}

func (t *Type) String() string {
	switch t.Kind {
	case TypeScalar:
		return t.ScalarName
	case TypeClass:
		return t.Class.Name
	case TypeGeneric:
		return t.GenericName
	case TypeVariant:
		return t.Class.Name
	case TypeFunction:
		parts := make([]string, len(t.Params))
		for i, p := range t.Params {
			parts[i] = p.String()
		}
		res := "Unit"
		if t.Result != nil {
			res = t.Result.String()
		}
		return fmt.Sprintf("Function(%s => %s)", strings.Join(parts, ", "), res)
	}
	return "?"
}

// Pool interns Type descriptors so structurally identical types collapse
// to a single pointer.
type Pool struct {
	scalars   map[string]*Type
	generics  map[string]*Type
	classes   map[*Class]*Type
	functions map[string]*Type // keyed by a canonical string shape

	resolveMemo *lru.Cache[memoKey, *Type]
	unifyMemo   *lru.Cache[memoKey, bool]
}

// NewPool builds an interning pool with the given bound on the resolve/
// unify memoization cache (the "spot cache" from the glossary addition).
func NewPool(memoSize int) *Pool {
	if memoSize <= 0 {
		memoSize = 4096
	}
	resolveMemo, _ := lru.New[memoKey, *Type](memoSize)
	unifyMemo, _ := lru.New[memoKey, bool](memoSize)
	return &Pool{
		scalars:     make(map[string]*Type),
		generics:    make(map[string]*Type),
		classes:     make(map[*Class]*Type),
		functions:   make(map[string]*Type),
		resolveMemo: resolveMemo,
		unifyMemo:   unifyMemo,
	}
}

func (p *Pool) Scalar(name string) *Type {
	if t, ok := p.scalars[name]; ok {
		return t
	}
	t := &Type{Kind: TypeScalar, ScalarName: name}
	p.scalars[name] = t
	return t
}

func (p *Pool) Generic(name string) *Type {
	if t, ok := p.generics[name]; ok {
		return t
	}
	t := &Type{Kind: TypeGeneric, GenericName: name}
	p.generics[name] = t
	return t
}

func (p *Pool) ForClass(c *Class) *Type {
	if t, ok := p.classes[c]; ok {
		return t
	}
	kind := TypeClass
	if c.IsEnum() {
		kind = TypeVariant
	}
	t := &Type{Kind: kind, Class: c}
	p.classes[c] = t
	return t
}

func (p *Pool) Function(params []*Type, result *Type, vararg bool) *Type {
	key := functionShapeKey(params, result, vararg)
	if t, ok := p.functions[key]; ok {
		return t
	}
	t := &Type{Kind: TypeFunction, Params: params, Result: result, Vararg: vararg}
	p.functions[key] = t
	return t
}

func functionShapeKey(params []*Type, result *Type, vararg bool) string {
	var b strings.Builder
	for _, p := range params {
		fmt.Fprintf(&b, "%p,", p)
	}
	fmt.Fprintf(&b, "|%p|%t", result, vararg)
	return b.String()
}

// Binding is one entry of the working stack of generic bindings: while
// checking a call against a generic function's
// signature, each generic parameter encountered is bound to a concrete
// type for the remainder of that check.
type Binding struct {
	Name string
	To   *Type
}

// WorkingStack is a small LIFO of generic bindings, pushed on entry to a
// generic call-site check and popped on exit, so nested generic calls
// don't leak bindings into each other.
type WorkingStack struct {
	stack []Binding
}

func (w *WorkingStack) Push(name string, to *Type) { w.stack = append(w.stack, Binding{name, to}) }

func (w *WorkingStack) Pop() { w.stack = w.stack[:len(w.stack)-1] }

func (w *WorkingStack) Lookup(name string) (*Type, bool) {
	for i := len(w.stack) - 1; i >= 0; i-- {
		if w.stack[i].Name == name {
			return w.stack[i].To, true
		}
	}
	return nil, false
}

// memoKey identifies a (a, b, op) triple for the resolve/unify caches,
// together with a fingerprint of the working stack: both operations'
// answers depend on which generic bindings are in scope, so a result
// cached under one binding set must never be replayed under another.
type memoKey struct {
	a, b  *Type
	op    byte
	stack string
}

// Checker bundles a Pool with the working stack and memo caches needed to
// run check/unify/resolve/type_greater_eq during emission.
type Checker struct {
	pool  *Pool
	stack WorkingStack
}

func NewChecker(pool *Pool) *Checker { return &Checker{pool: pool} }

// Resolve substitutes any generic type reachable from t using the
// current working-stack bindings, memoized per (t, stackTop) pair. A
// generic with no binding defaults to Dynamic, and the default is
// written back into the stack so a repeated Resolve gives the same
// answer.
func (c *Checker) Resolve(t *Type) *Type {
	if t == nil {
		return nil
	}
	if t.Kind == TypeGeneric {
		if bound, ok := c.stack.Lookup(t.GenericName); ok {
			return bound
		}
		dyn := c.pool.Scalar("Dynamic")
		c.stack.Push(t.GenericName, dyn)
		return dyn
	}
	if t.Kind != TypeFunction {
		return t
	}
	key := memoKey{a: t, op: 'r', stack: c.stackFingerprint()}
	if cached, ok := c.pool.resolveMemo.Get(key); ok {
		return cached
	}
	params := make([]*Type, len(t.Params))
	for i, p := range t.Params {
		params[i] = c.Resolve(p)
	}
	result := c.Resolve(t.Result)
	resolved := c.pool.Function(params, result, t.Vararg)
	c.pool.resolveMemo.Add(key, resolved)
	return resolved
}

// stackFingerprint serializes the current generic bindings into the
// memo key. Working stacks are a handful of entries deep at most (one
// frame per nested generic call-site check), so rebuilding the string
// is cheaper than a cache that can lie.
func (c *Checker) stackFingerprint() string {
	if len(c.stack.stack) == 0 {
		return ""
	}
	var b strings.Builder
	for _, bind := range c.stack.stack {
		fmt.Fprintf(&b, "%s=%p;", bind.Name, bind.To)
	}
	return b.String()
}

// Unify attempts to bind any generic parameters in want against have,
// pushing successful bindings onto the working stack. It returns false
// (leaving the stack unchanged) the first time a generic would need two
// incompatible bindings.
func (c *Checker) Unify(want, have *Type) bool {
	if want == have {
		return true
	}
	if want == nil || have == nil {
		return false
	}
	key := memoKey{a: want, b: have, op: 'u', stack: c.stackFingerprint()}
	if cached, ok := c.pool.unifyMemo.Get(key); ok {
		if cached {
			c.applyUnifyBindings(want, have)
		}
		return cached
	}
	ok := c.unify(want, have)
	c.pool.unifyMemo.Add(key, ok)
	return ok
}

func (c *Checker) unify(want, have *Type) bool {
	if want.Kind == TypeGeneric {
		if bound, ok := c.stack.Lookup(want.GenericName); ok {
			return c.TypeGreaterEq(bound, have)
		}
		c.stack.Push(want.GenericName, have)
		return true
	}
	if want.Kind != have.Kind {
		return false
	}
	switch want.Kind {
	case TypeScalar:
		return want.ScalarName == have.ScalarName
	case TypeClass, TypeVariant:
		return have.Class.IsSubclassOf(want.Class)
	case TypeFunction:
		if len(want.Params) != len(have.Params) {
			return false
		}
		for i := range want.Params {
			// Parameters are contravariant: the callee's parameter type
			// must accept anything the caller's parameter type promises.
			if !c.unify(have.Params[i], want.Params[i]) {
				return false
			}
		}
		return c.unify(want.Result, have.Result)
	}
	return false
}

// applyUnifyBindings replays the generic bindings a cached Unify result
// implies, since the memo only stores the boolean and bindings are a side
// effect callers still need on a cache hit.
func (c *Checker) applyUnifyBindings(want, have *Type) {
	if want.Kind == TypeGeneric {
		if _, ok := c.stack.Lookup(want.GenericName); !ok {
			c.stack.Push(want.GenericName, have)
		}
		return
	}
	if want.Kind == TypeFunction && have.Kind == TypeFunction {
		for i := range want.Params {
			if i < len(have.Params) {
				c.applyUnifyBindings(want.Params[i], have.Params[i])
			}
		}
		c.applyUnifyBindings(want.Result, have.Result)
	}
}

// TypeGreaterEq is the subtype relation (a accepts b): invariant on
// return/scalar identity, contravariant on function parameters, and
// width-compatible on function arity (a function accepting fewer
// parameters is greater-or-equal to one accepting more, since it can
// stand in wherever the caller passes extra arguments it ignores).
func (c *Checker) TypeGreaterEq(a, b *Type) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case TypeScalar:
		return a.ScalarName == b.ScalarName
	case TypeClass, TypeVariant:
		return b.Class.IsSubclassOf(a.Class)
	case TypeFunction:
		if len(a.Params) > len(b.Params) {
			return false
		}
		for i, ap := range a.Params {
			// contravariant: b's parameter must accept what a's promises
			if !c.TypeGreaterEq(b.Params[i], ap) {
				return false
			}
		}
		return c.TypeGreaterEq(a.Result, b.Result)
	case TypeGeneric:
		return a.GenericName == b.GenericName
	}
	return false
}

// Check verifies that a value of type `have` may be used where `want` is
// expected, resetting the working stack around the call so one check's
// generic bindings never leak into the next.
func (c *Checker) Check(want, have *Type) bool {
	base := len(c.stack.stack)
	ok := c.Unify(want, have)
	c.stack.stack = c.stack.stack[:base]
	return ok
}

// Quantify pre-seeds the working stack for a named, globally-defined
// callee: every generic in its declared type is bound to itself, fixing
// `A -> A` so the callee's generics stay rigid instead of unifying with
// whatever the caller's arguments happen to carry. Local function values are not quantified; their
// generics are the caller's to bind.
func (c *Checker) Quantify(t *Type) {
	if t == nil {
		return
	}
	switch t.Kind {
	case TypeGeneric:
		if _, ok := c.stack.Lookup(t.GenericName); !ok {
			c.stack.Push(t.GenericName, t)
		}
	case TypeFunction:
		for _, p := range t.Params {
			c.Quantify(p)
		}
		c.Quantify(t.Result)
	}
}

// UnifyTypes returns the greatest lower bound of a and b under the
// subtype relation, interned, or nil when the two share no common
// subtype. It is symmetric: UnifyTypes(a, b) == UnifyTypes(b, a).
func (c *Checker) UnifyTypes(a, b *Type) *Type {
	if a == b {
		return a
	}
	if a == nil || b == nil {
		return nil
	}
	if a.Kind == TypeGeneric {
		if bound, ok := c.stack.Lookup(a.GenericName); ok && bound != a {
			return c.UnifyTypes(bound, b)
		}
		return b
	}
	if b.Kind == TypeGeneric {
		if bound, ok := c.stack.Lookup(b.GenericName); ok && bound != b {
			return c.UnifyTypes(a, bound)
		}
		return a
	}
	if a.Kind != b.Kind {
		return nil
	}
	switch a.Kind {
	case TypeScalar:
		if a.ScalarName == b.ScalarName {
			return a
		}
		return nil
	case TypeClass, TypeVariant:
		// The bound is the more-derived side when the two are related.
		if a.Class.IsSubclassOf(b.Class) {
			return a
		}
		if b.Class.IsSubclassOf(a.Class) {
			return b
		}
		return nil
	case TypeFunction:
		if len(a.Params) != len(b.Params) || a.Vararg != b.Vararg {
			return nil
		}
		// Parameters join upward (contravariance flips the bound): the
		// common function must accept everything either side accepts.
		params := make([]*Type, len(a.Params))
		for i := range a.Params {
			p := c.joinTypes(a.Params[i], b.Params[i])
			if p == nil {
				return nil
			}
			params[i] = p
		}
		result := c.UnifyTypes(a.Result, b.Result)
		if result == nil && (a.Result != nil || b.Result != nil) {
			return nil
		}
		return c.pool.Function(params, result, a.Vararg)
	}
	return nil
}

// joinTypes is UnifyTypes' dual: the least upper bound, used for
// function parameters where variance runs the other way.
func (c *Checker) joinTypes(a, b *Type) *Type {
	if a == b {
		return a
	}
	if a == nil || b == nil {
		return nil
	}
	if a.Kind != b.Kind {
		return nil
	}
	switch a.Kind {
	case TypeScalar:
		if a.ScalarName == b.ScalarName {
			return a
		}
		return nil
	case TypeClass, TypeVariant:
		if a.Class.IsSubclassOf(b.Class) {
			return b
		}
		if b.Class.IsSubclassOf(a.Class) {
			return a
		}
		return nil
	case TypeFunction:
		return c.UnifyTypes(a, b)
	case TypeGeneric:
		if a.GenericName == b.GenericName {
			return a
		}
		return nil
	}
	return nil
}
