package lily

import "github.com/google/uuid"

// SymbolKind distinguishes what a Symbol resolves to at emit time.
type SymbolKind uint8

const (
	SymLocal SymbolKind = iota
	SymGlobal
	SymUpvalue
	SymClass
	SymFunction
)

// Symbol is one entry of a Module's symbol table: a name bound to a
// register slot (locals/upvalues), a global slot index, or a class/
// function declaration.
type Symbol struct {
	Name  string
	Kind  SymbolKind
	Index int
	Type  *Type
}

// Scope is one lexical block's worth of local bindings, linked to its
// parent so lookups walk outward exactly the way nested blocks shadow
// each other during emission.
type Scope struct {
	parent *Scope
	locals map[string]*Symbol
}

func newScope(parent *Scope) *Scope {
	return &Scope{parent: parent, locals: make(map[string]*Symbol)}
}

func (s *Scope) define(sym *Symbol) { s.locals[sym.Name] = sym }

func (s *Scope) lookup(name string) (*Symbol, *Scope) {
	for cur := s; cur != nil; cur = cur.parent {
		if sym, ok := cur.locals[name]; ok {
			return sym, cur
		}
	}
	return nil, nil
}

// Module is one compiled unit: a name, a stable instance id (used in log
// fields and tracebacks the way the ambient stack's uuid dependency is
// wired in), its globals, and its declared classes.
type Module struct {
	ID      uuid.UUID
	Name    string
	Path    string
	Globals map[string]*Symbol
	Classes map[string]*Class

	// GlobalValues is the runtime storage global_get/global_set index into,
	// kept in lockstep with Globals: DefineGlobal appends a slot here at
	// the same index it hands out in the symbol table.
	GlobalValues []Value

	nextGlobal int
}

func NewModule(name, path string) *Module {
	return &Module{
		ID:      uuid.New(),
		Name:    name,
		Path:    path,
		Globals: make(map[string]*Symbol),
		Classes: make(map[string]*Class),
	}
}

func (m *Module) DefineGlobal(name string, typ *Type) *Symbol {
	sym := &Symbol{Name: name, Kind: SymGlobal, Index: m.nextGlobal, Type: typ}
	m.nextGlobal++
	m.Globals[name] = sym
	m.GlobalValues = append(m.GlobalValues, Value{})
	return sym
}

// DefineClass allocates a class with a globally unique id, per allocClassID.
func (m *Module) DefineClass(name string) *Class {
	c := NewClass(allocClassID(), name, m.Name)
	m.Classes[name] = c
	return c
}

// SymbolTable is the emitter's live name-resolution context for one
// function body: a chain of lexical Scopes rooted at the enclosing
// Module's globals, plus the running count of registers allocated so
// far (used directly as functionObj.RegisterCount once emission of that
// function body finishes).
type SymbolTable struct {
	Module       *Module
	scope        *Scope
	nextRegister int
	maxRegister  int
}

func NewSymbolTable(mod *Module) *SymbolTable {
	return &SymbolTable{Module: mod, scope: newScope(nil)}
}

// PushScope/PopScope bracket a lexical block; PopScope does not reclaim
// register numbers eagerly — the emitter's register allocator rewinds
// nextRegister itself once a block's locals provably won't be
// referenced by a closure (closure conversion needs sight of register
// numbers that stay stable across the whole function).
func (st *SymbolTable) PushScope() { st.scope = newScope(st.scope) }
func (st *SymbolTable) PopScope()  { st.scope = st.scope.parent }

func (st *SymbolTable) AllocRegister() int {
	r := st.nextRegister
	st.nextRegister++
	if st.nextRegister > st.maxRegister {
		st.maxRegister = st.nextRegister
	}
	return r
}

func (st *SymbolTable) RegisterCount() int { return st.maxRegister }

func (st *SymbolTable) DefineLocal(name string, typ *Type) *Symbol {
	sym := &Symbol{Name: name, Kind: SymLocal, Index: st.AllocRegister(), Type: typ}
	st.scope.define(sym)
	return sym
}

// Resolve looks a name up through local scopes first, then falls back to
// the enclosing module's globals — the lookup order free-identifier
// resolution takes before closure conversion decides whether a
// local reference actually needs to become an upvalue.
func (st *SymbolTable) Resolve(name string) (*Symbol, bool) {
	if sym, _ := st.scope.lookup(name); sym != nil {
		return sym, true
	}
	if sym, ok := st.Module.Globals[name]; ok {
		return sym, true
	}
	return nil, false
}
