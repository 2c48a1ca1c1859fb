package lily

import "sync/atomic"

// classIDCounter hands out globally unique class ids across every Module,
// including the builtin error classes the VM registers at startup, so a
// bare int suffices as the operand exception_catch/jump_if_not_class
// compare against instead of a (module, local id) pair.
var classIDCounter int64

func allocClassID() int {
	return int(atomic.AddInt64(&classIDCounter, 1) - 1)
}

// ClassFlags records properties of a user-defined class relevant to
// typechecking and instance layout.
type ClassFlags uint8

const (
	ClassFlagIsEnum ClassFlags = 1 << iota
	ClassFlagForeign
)

// Property describes one instance slot: its declared type and index into
// instanceObj.properties.
type Property struct {
	Name  string
	Type  *Type
	Index int
}

// Method is a named, statically resolvable function stored on a class:
// the callee half of the "static readonly" call-lowering shape.
type Method struct {
	Name     string
	Type     *Type
	IsStatic bool
}

// Class is a Lily class or enum declaration's runtime representation: a
// name, a stable numeric id (used as the fast path for instance-of and
// equality checks instead of string comparison), its declared properties,
// its methods, and — for enums — its variants.
type Class struct {
	ID       int
	Name     string
	Module   string
	Flags    ClassFlags
	Parent   *Class
	Props    []*Property
	Methods  map[string]*Method
	Variants []*Variant // only populated when Flags&ClassFlagIsEnum != 0
}

func NewClass(id int, name, module string) *Class {
	return &Class{ID: id, Name: name, Module: module, Methods: make(map[string]*Method)}
}

func (c *Class) IsEnum() bool { return c.Flags&ClassFlagIsEnum != 0 }

// DefineVariant declares one non-empty arm of an enum class, assigning
// it the next variant id in declaration order and marking the class as
// an enum on first use.
func (c *Class) DefineVariant(name string, fields []*Type) *Variant {
	c.Flags |= ClassFlagIsEnum
	v := NewVariant(len(c.Variants), name, c, fields)
	c.Variants = append(c.Variants, v)
	return v
}

// DefineEmptyVariant declares one field-less arm, preallocating its
// canonical singleton value the same way NewEmptyVariant does.
func (c *Class) DefineEmptyVariant(col *Collector, name string) *Variant {
	c.Flags |= ClassFlagIsEnum
	v := NewEmptyVariant(col, len(c.Variants), name, c)
	c.Variants = append(c.Variants, v)
	return v
}

// PropertyByName does a linear scan; class property counts are small
// enough in practice that this beats maintaining a second map.
func (c *Class) PropertyByName(name string) *Property {
	for _, p := range c.Props {
		if p.Name == name {
			return p
		}
	}
	if c.Parent != nil {
		return c.Parent.PropertyByName(name)
	}
	return nil
}

func (c *Class) MethodByName(name string) *Method {
	if m, ok := c.Methods[name]; ok {
		return m
	}
	if c.Parent != nil {
		return c.Parent.MethodByName(name)
	}
	return nil
}

// IsSubclassOf walks Parent links, used by the typecheck subsumption
// rule and the catch-chain's ancestor matching.
func (c *Class) IsSubclassOf(other *Class) bool {
	for cur := c; cur != nil; cur = cur.Parent {
		if cur == other {
			return true
		}
	}
	return false
}

// Variant is one arm of an enum class: either empty (a singleton value,
// allocated once and reused — see EnumValue) or carrying a fixed tuple of
// typed fields that o_variant_decompose unpacks during match dispatch.
type Variant struct {
	ID        int
	Name      string
	Enum      *Class
	Fields    []*Type
	canonical Value // only set when Empty()
}

func (v *Variant) Empty() bool { return len(v.Fields) == 0 }

// NewEmptyVariant preallocates the canonical singleton Value for a
// field-less variant: every occurrence of, say, `None` in a running
// program shares one heap object instead of allocating per use.
func NewEmptyVariant(col *Collector, id int, name string, enum *Class) *Variant {
	v := &Variant{ID: id, Name: name, Enum: enum}
	v.canonical = newHeapValue(KindEnum, col, &enumObj{refcount: 1, variant: v})
	return v
}

func NewVariant(id int, name string, enum *Class, fields []*Type) *Variant {
	return &Variant{ID: id, Name: name, Enum: enum, Fields: fields}
}
