package lily

import "fmt"

// Kind is the dense, compile-time-known tag for every value a Lily program
// can hold. It doubles as the fast-path class id the VM uses for checks
// like `kind == KindInteger`.
type Kind uint8

const (
	KindBoolean Kind = iota
	KindInteger
	KindDouble
	KindString
	KindByteString
	KindFunction
	KindDynamic
	KindList
	KindHash
	KindTuple
	KindInstance
	KindEnum
	KindFile
	KindForeign
)

func (k Kind) String() string {
	switch k {
	case KindBoolean:
		return "Boolean"
	case KindInteger:
		return "Integer"
	case KindDouble:
		return "Double"
	case KindString:
		return "String"
	case KindByteString:
		return "ByteString"
	case KindFunction:
		return "Function"
	case KindDynamic:
		return "Dynamic"
	case KindList:
		return "List"
	case KindHash:
		return "Hash"
	case KindTuple:
		return "Tuple"
	case KindInstance:
		return "Instance"
	case KindEnum:
		return "Enum"
	case KindFile:
		return "File"
	case KindForeign:
		return "Foreign"
	default:
		return "Unknown"
	}
}

// ValueFlags sits alongside the kind tag: whether the payload is a heap object with its own refcount,
// and whether the GC sweeper must (or might transitively) visit it.
type ValueFlags uint8

const (
	FlagDerefable ValueFlags = 1 << iota
	FlagGCTagged
	FlagGCSpeculative
)

// kindTraits is populated once and answers "is this kind ever derefable /
// GC-tagged / GC-speculative" without re-deriving it at every allocation
// site: the class-id-keyed hook table the design notes call for in place
// of virtual dispatch.
var kindTraits = [...]ValueFlags{
	KindBoolean:    0,
	KindInteger:    0,
	KindDouble:     0,
	KindString:     FlagDerefable,
	KindByteString: FlagDerefable,
	KindFunction:   FlagDerefable | FlagGCSpeculative,
	KindDynamic:    FlagDerefable | FlagGCSpeculative,
	KindList:       FlagDerefable | FlagGCTagged,
	KindHash:       FlagDerefable | FlagGCTagged,
	KindTuple:      FlagDerefable | FlagGCTagged,
	KindInstance:   FlagDerefable | FlagGCTagged,
	KindEnum:       FlagDerefable | FlagGCSpeculative,
	KindFile:       FlagDerefable,
	KindForeign:    FlagDerefable,
}

// heapPayload is implemented by every out-of-line object a derefable Value
// can point at. Payloads that can participate in reference cycles also
// implement gcObject.
type heapPayload interface {
	refs() *uint32
}

// gcObject is implemented by payloads whose class is GC_TAGGED or
// GC_SPECULATIVE: they may transitively reach another tagged payload and
// must be visited by the cycle collector.
type gcObject interface {
	heapPayload
	gcEntry() **GcEntry
	gcMark(col *Collector)
	gcSever()
}

// Value is the runtime's tagged union: a kind tag plus either an
// immediate scalar or a pointer to a heap payload. Boolean/Integer/Double
// are never derefable and never touch the refcounting machinery.
type Value struct {
	Kind  Kind
	flags ValueFlags

	asBool   bool
	asInt    int64
	asDouble float64

	obj heapPayload
}

func (v Value) IsDerefable() bool     { return v.flags&FlagDerefable != 0 }
func (v Value) IsGCTagged() bool      { return v.flags&FlagGCTagged != 0 }
func (v Value) IsGCSpeculative() bool { return v.flags&FlagGCSpeculative != 0 }

// --- scalar constructors ---

func BooleanValue(b bool) Value   { return Value{Kind: KindBoolean, asBool: b} }
func IntegerValue(n int64) Value  { return Value{Kind: KindInteger, asInt: n} }
func DoubleValue(f float64) Value { return Value{Kind: KindDouble, asDouble: f} }

func (v Value) AsBool() bool      { return v.asBool }
func (v Value) AsInt() int64      { return v.asInt }
func (v Value) AsDouble() float64 { return v.asDouble }

// newHeapValue wires a freshly built payload (refcount already 1) into
// a Value of the given kind, registering it with
// the collector if its class is tagged.
func newHeapValue(kind Kind, col *Collector, obj heapPayload) Value {
	v := Value{Kind: kind, flags: kindTraits[kind], obj: obj}
	if g, ok := obj.(gcObject); ok && v.IsGCTagged() && col != nil {
		col.register(g)
	}
	return v
}

// --- String / ByteString ---

type stringObj struct {
	refcount uint32
	data     string
}

func (s *stringObj) refs() *uint32 { return &s.refcount }

func StringValue(col *Collector, s string) Value {
	return newHeapValue(KindString, col, &stringObj{refcount: 1, data: s})
}

func (v Value) AsString() string {
	return v.obj.(*stringObj).data
}

type byteStringObj struct {
	refcount uint32
	data     []byte
}

func (s *byteStringObj) refs() *uint32 { return &s.refcount }

func ByteStringValue(col *Collector, b []byte) Value {
	return newHeapValue(KindByteString, col, &byteStringObj{refcount: 1, data: append([]byte(nil), b...)})
}

func (v Value) AsByteString() []byte {
	return v.obj.(*byteStringObj).data
}

// --- List / Tuple ---

type listObj struct {
	refcount uint32
	entry    *GcEntry
	items    []Value
}

func (l *listObj) refs() *uint32      { return &l.refcount }
func (l *listObj) gcEntry() **GcEntry { return &l.entry }
func (l *listObj) gcSever()           { l.items = nil }
func (l *listObj) gcMark(col *Collector) {
	for _, item := range l.items {
		col.markValue(item)
	}
}

func ListValue(col *Collector, items []Value) Value {
	for _, it := range items {
		refValue(it)
	}
	return newHeapValue(KindList, col, &listObj{refcount: 1, items: items})
}

func (v Value) ListItems() []Value { return v.obj.(*listObj).items }

type tupleObj struct {
	refcount uint32
	entry    *GcEntry
	items    []Value
}

func (t *tupleObj) refs() *uint32      { return &t.refcount }
func (t *tupleObj) gcEntry() **GcEntry { return &t.entry }
func (t *tupleObj) gcSever()           { t.items = nil }
func (t *tupleObj) gcMark(col *Collector) {
	for _, item := range t.items {
		col.markValue(item)
	}
}

func TupleValue(col *Collector, items []Value) Value {
	for _, it := range items {
		refValue(it)
	}
	return newHeapValue(KindTuple, col, &tupleObj{refcount: 1, items: items})
}

func (v Value) TupleItems() []Value { return v.obj.(*tupleObj).items }

// --- Hash ---

// hashElement is one chained bucket entry: key hash computed once
// with a keyed 64-bit mixer, equality falling back to the class-specific
// equality function on collision.
type hashElement struct {
	keyHash uint64
	key     Value
	value   Value
}

type hashObj struct {
	refcount uint32
	entry    *GcEntry
	buckets  map[uint64][]*hashElement
	size     int
}

func (h *hashObj) refs() *uint32      { return &h.refcount }
func (h *hashObj) gcEntry() **GcEntry { return &h.entry }
func (h *hashObj) gcSever()           { h.buckets = nil; h.size = 0 }
func (h *hashObj) gcMark(col *Collector) {
	for _, chain := range h.buckets {
		for _, e := range chain {
			col.markValue(e.key)
			col.markValue(e.value)
		}
	}
}

func HashValue(col *Collector) Value {
	return newHeapValue(KindHash, col, &hashObj{refcount: 1, buckets: make(map[uint64][]*hashElement)})
}

// hashKeyMix keys hashing per VM instance: FNV-1a seeded so two
// VM instances don't produce colliding hashes from the same seed.
func hashKeyMix(seed uint64, v Value) uint64 {
	h := seed ^ 0xcbf29ce484222325
	mix := func(x uint64) {
		h ^= x
		h *= 0x100000001b3
	}
	mix(uint64(v.Kind))
	switch v.Kind {
	case KindBoolean:
		if v.asBool {
			mix(1)
		}
	case KindInteger:
		mix(uint64(v.asInt))
	case KindDouble:
		mix(uint64(v.asDouble))
	case KindString:
		for _, c := range v.AsString() {
			mix(uint64(c))
		}
	case KindByteString:
		for _, c := range v.AsByteString() {
			mix(uint64(c))
		}
	}
	return h
}

// HashGet looks a key up; a missing key raises
// KeyError.
func (v Value) HashGet(seed uint64, key Value) (Value, error) {
	h := v.obj.(*hashObj)
	hk := hashKeyMix(seed, key)
	for _, e := range h.buckets[hk] {
		if e.keyHash == hk && valuesEqual(e.key, key, 0, equalityDepthLimit) {
			return e.value, nil
		}
	}
	return Value{}, NewRuntimeError(ErrKey, "Key not found in hash.")
}

// HashSet implements assignment; assigning to a missing key creates it.
func (v Value) HashSet(seed uint64, key, val Value) {
	h := v.obj.(*hashObj)
	hk := hashKeyMix(seed, key)
	for _, e := range h.buckets[hk] {
		if e.keyHash == hk && valuesEqual(e.key, key, 0, equalityDepthLimit) {
			derefValue(e.value)
			e.value = val
			refValue(val)
			return
		}
	}
	refValue(key)
	refValue(val)
	h.buckets[hk] = append(h.buckets[hk], &hashElement{keyHash: hk, key: key, value: val})
	h.size++
}

func (v Value) HashLen() int { return v.obj.(*hashObj).size }

// --- Instance / Enum ---

type instanceObj struct {
	refcount   uint32
	entry      *GcEntry
	class      *Class
	properties []Value
}

func (i *instanceObj) refs() *uint32      { return &i.refcount }
func (i *instanceObj) gcEntry() **GcEntry { return &i.entry }
func (i *instanceObj) gcSever()           { i.properties = nil }
func (i *instanceObj) gcMark(col *Collector) {
	for _, p := range i.properties {
		col.markValue(p)
	}
}

func InstanceValue(col *Collector, class *Class, properties []Value) Value {
	for _, p := range properties {
		refValue(p)
	}
	return newHeapValue(KindInstance, col, &instanceObj{refcount: 1, class: class, properties: properties})
}

func (v Value) InstanceClass() *Class        { return v.obj.(*instanceObj).class }
func (v Value) InstanceProperty(i int) Value { return v.obj.(*instanceObj).properties[i] }

type enumObj struct {
	refcount uint32
	entry    *GcEntry
	variant  *Variant
	fields   []Value
}

func (e *enumObj) refs() *uint32      { return &e.refcount }
func (e *enumObj) gcEntry() **GcEntry { return &e.entry }
func (e *enumObj) gcSever()           { e.fields = nil }
func (e *enumObj) gcMark(col *Collector) {
	for _, f := range e.fields {
		col.markValue(f)
	}
}

// EnumValue returns an owned reference: fresh for a variant with
// fields, a retained share of the interned singleton for an empty one.
func EnumValue(col *Collector, variant *Variant, fields []Value) Value {
	if variant.Empty() {
		refValue(variant.canonical)
		return variant.canonical
	}
	for _, f := range fields {
		refValue(f)
	}
	return newHeapValue(KindEnum, col, &enumObj{refcount: 1, variant: variant, fields: fields})
}

func (v Value) EnumVariant() *Variant { return v.obj.(*enumObj).variant }
func (v Value) EnumFields() []Value   { return v.obj.(*enumObj).fields }

// --- Dynamic ---

type dynamicObj struct {
	refcount uint32
	entry    *GcEntry
	inner    Value
}

func (d *dynamicObj) refs() *uint32      { return &d.refcount }
func (d *dynamicObj) gcEntry() **GcEntry { return &d.entry }
func (d *dynamicObj) gcSever()           { d.inner = Value{} }
func (d *dynamicObj) gcMark(col *Collector) {
	col.markValue(d.inner)
}

func DynamicValue(col *Collector, inner Value) Value {
	refValue(inner)
	return newHeapValue(KindDynamic, col, &dynamicObj{refcount: 1, inner: inner})
}

func (v Value) DynamicInner() Value { return v.obj.(*dynamicObj).inner }

// --- Function ---

// Cell is a closure cell: one slot in a backing closure, shared by every
// inner function that closes over the activation owning it. It carries
// its own refcount, separate from the Value refcounting of whatever it
// holds, because the cell is destroyed only when every closure sharing it
// is gone.
type Cell struct {
	cellRefcount uint32
	value        Value
}

func NewCell() *Cell { return &Cell{cellRefcount: 1} }

func (c *Cell) Retain() *Cell { c.cellRefcount++; return c }

func (c *Cell) Release() {
	c.cellRefcount--
	if c.cellRefcount == 0 {
		derefValue(c.value)
	}
}

func (c *Cell) Get() Value { return c.value }

func (c *Cell) Set(v Value) {
	assignInto(&c.value, v)
}

// ForeignFunc is the signature of a foreign (non-Lily) function reachable
// through o_call_foreign. It operates on the caller's register window, so
// unlike a native call it never shifts the register file. The
// returned value must be an owned reference: a freshly built value, or an
// existing one the implementation ref'd before returning.
type ForeignFunc func(vm *VM, args []Value) (Value, error)

// functionObj is the payload behind KindFunction. Native and foreign
// functions are distinguished only by whether Code is nil; there is no
// separate "kind of function" tag.
type functionObj struct {
	refcount uint32
	entry    *GcEntry

	Name       string
	ClassName  string
	ModuleName string
	Foreign    ForeignFunc
	Code       *Bytecode // nil iff Foreign != nil; carries the readonly table too

	RegisterCount int
	Upvalues      []*Cell // non-nil only once closure conversion has run
}

func (f *functionObj) refs() *uint32      { return &f.refcount }
func (f *functionObj) gcEntry() **GcEntry { return &f.entry }
func (f *functionObj) gcSever()           { f.Upvalues = nil }

// gcMark marks through every cell a closure captured: a Function is only
// GC_SPECULATIVE, never itself registered with the collector, but a
// value reachable solely through a live closure's cells must still be
// found by the mark phase, so marking must traverse into Upvalues even
// though Function payloads never own a live GcEntry themselves.
func (f *functionObj) gcMark(col *Collector) {
	for _, c := range f.Upvalues {
		col.markValue(c.Get())
	}
}

func (f *functionObj) IsForeign() bool { return f.Code == nil }

func NativeFunctionValue(col *Collector, name, className, moduleName string, code *Bytecode, regCount int) Value {
	return newHeapValue(KindFunction, col, &functionObj{
		refcount: 1, Name: name, ClassName: className, ModuleName: moduleName,
		Code: code, RegisterCount: regCount,
	})
}

func ForeignFunctionValue(col *Collector, name, moduleName string, fn ForeignFunc) Value {
	return newHeapValue(KindFunction, col, &functionObj{
		refcount: 1, Name: name, ModuleName: moduleName, Foreign: fn,
	})
}

func (v Value) Function() *functionObj { return v.obj.(*functionObj) }

// cloneForClosure produces the per-call copy that o_create_function
// emits when closure conversion found upvalue spots for this function.
func (f *functionObj) cloneForClosure(upvalues []*Cell) *functionObj {
	clone := *f
	clone.refcount = 1
	clone.Upvalues = upvalues
	return &clone
}

// --- File ---

type fileObj struct {
	refcount uint32
	handle   FileHandle
	builtin  bool
}

func (fo *fileObj) refs() *uint32 { return &fo.refcount }

// FileHandle abstracts the host file handle a File value wraps; it is
// closed when the last reference drops unless marked builtin (the three
// standard streams).
type FileHandle interface {
	Close() error
}

func FileValue(col *Collector, h FileHandle, builtin bool) Value {
	return newHeapValue(KindFile, col, &fileObj{refcount: 1, handle: h, builtin: builtin})
}

func (v Value) FileHandle() FileHandle { return v.obj.(*fileObj).handle }

// --- Foreign (opaque host payload) ---

type foreignObj struct {
	refcount uint32
	data     any
}

func (fo *foreignObj) refs() *uint32 { return &fo.refcount }

func ForeignValue(col *Collector, data any) Value {
	return newHeapValue(KindForeign, col, &foreignObj{refcount: 1, data: data})
}

func (v Value) ForeignData() any { return v.obj.(*foreignObj).data }

// --- refcounting primitives ---

// refValue bumps the refcount of a derefable value. Immediate values are
// a no-op: a value with DEREFABLE clear never participates in
// refcounting.
func refValue(v Value) {
	if !v.IsDerefable() || v.obj == nil {
		return
	}
	*v.obj.refs()++
}

// derefValue decrements the refcount, destroying the payload when it
// reaches zero. Destruction first severs child references (so cascading
// derefs see a consistent tree) and, for GC-tagged payloads, nulls the
// GcEntry's back-pointer before freeing so an in-flight sweep never
// revisits freed memory.
func derefValue(v Value) {
	if !v.IsDerefable() || v.obj == nil {
		return
	}
	rc := v.obj.refs()
	*rc--
	if *rc > 0 {
		return
	}
	destroyPayload(v.obj)
}

func destroyPayload(obj heapPayload) {
	switch o := obj.(type) {
	case *listObj:
		for _, it := range o.items {
			derefValue(it)
		}
		sweepDetach(o)
	case *tupleObj:
		for _, it := range o.items {
			derefValue(it)
		}
		sweepDetach(o)
	case *hashObj:
		for _, chain := range o.buckets {
			for _, e := range chain {
				derefValue(e.key)
				derefValue(e.value)
			}
		}
		sweepDetach(o)
	case *instanceObj:
		for _, p := range o.properties {
			derefValue(p)
		}
		sweepDetach(o)
	case *enumObj:
		for _, f := range o.fields {
			derefValue(f)
		}
		sweepDetach(o)
	case *dynamicObj:
		derefValue(o.inner)
		sweepDetach(o)
	case *functionObj:
		for _, c := range o.Upvalues {
			c.Release()
		}
	case *fileObj:
		if !o.builtin && o.handle != nil {
			_ = o.handle.Close()
		}
	}
}

// sweepDetach clears the GcEntry's payload back-pointer before the
// payload is freed, so an in-flight sweep never revisits freed memory.
func sweepDetach(obj gcObject) {
	if e := *obj.gcEntry(); e != nil {
		e.payload = nil
		*obj.gcEntry() = nil
	}
	obj.gcSever()
}

// assignInto implements ordinary `a = b` assignment semantics: bump the
// right-hand refcount first, then deref the left-hand side, in that
// order, so self-assignment through an alias never drops to zero
// prematurely.
func assignInto(dst *Value, src Value) {
	refValue(src)
	old := *dst
	*dst = src
	derefValue(old)
}

// moveInto writes a freshly built value into dst without incrementing its
// refcount: the caller already owns the single reference it's handing
// off.
func moveInto(dst *Value, src Value) {
	old := *dst
	*dst = src
	derefValue(old)
}

// --- equality ---

const equalityDepthLimit = 100

func valuesEqual(a, b Value, depth, limit int) bool {
	if depth > limit {
		panic(NewRuntimeError(ErrRuntime, "Infinite loop in comparison"))
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindBoolean:
		return a.asBool == b.asBool
	case KindInteger:
		return a.asInt == b.asInt
	case KindDouble:
		return a.asDouble == b.asDouble
	case KindString:
		return a.AsString() == b.AsString()
	case KindByteString:
		return string(a.AsByteString()) == string(b.AsByteString())
	case KindList:
		ai, bi := a.ListItems(), b.ListItems()
		if len(ai) != len(bi) {
			return false
		}
		for i := range ai {
			if !valuesEqual(ai[i], bi[i], depth+1, limit) {
				return false
			}
		}
		return true
	case KindTuple:
		ai, bi := a.TupleItems(), b.TupleItems()
		if len(ai) != len(bi) {
			return false
		}
		for i := range ai {
			if !valuesEqual(ai[i], bi[i], depth+1, limit) {
				return false
			}
		}
		return true
	case KindHash:
		ah, bh := a.obj.(*hashObj), b.obj.(*hashObj)
		if ah.size != bh.size {
			return false
		}
		for hk, chain := range ah.buckets {
			other := bh.buckets[hk]
			for _, e := range chain {
				found := false
				for _, oe := range other {
					if valuesEqual(e.key, oe.key, depth+1, limit) && valuesEqual(e.value, oe.value, depth+1, limit) {
						found = true
						break
					}
				}
				if !found {
					return false
				}
			}
		}
		return true
	case KindDynamic:
		return valuesEqual(a.DynamicInner(), b.DynamicInner(), depth+1, limit)
	case KindEnum:
		ae, be := a.obj.(*enumObj), b.obj.(*enumObj)
		if ae.variant.Enum.ID != be.variant.Enum.ID || ae.variant.ID != be.variant.ID {
			return false
		}
		if len(ae.fields) != len(be.fields) {
			return false
		}
		for i := range ae.fields {
			if !valuesEqual(ae.fields[i], be.fields[i], depth+1, limit) {
				return false
			}
		}
		return true
	default:
		return a.obj == b.obj
	}
}

// ValuesEqual is the panic-safe form used by VM opcodes: a comparison
// that would exceed the configured depth limit becomes a *RuntimeError
// return instead of a panic.
func ValuesEqual(a, b Value, limit int) (eq bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			if re, ok := r.(*RuntimeError); ok {
				err = re
				return
			}
			panic(r)
		}
	}()
	return valuesEqual(a, b, 0, limit), nil
}

func (v Value) String() string {
	switch v.Kind {
	case KindBoolean:
		return fmt.Sprintf("%t", v.asBool)
	case KindInteger:
		return fmt.Sprintf("%d", v.asInt)
	case KindDouble:
		return fmt.Sprintf("%g", v.asDouble)
	case KindString:
		return v.AsString()
	default:
		return fmt.Sprintf("<%s>", v.Kind)
	}
}
