package lily

import "go.uber.org/zap"

// BlockKind distinguishes the structured control constructs the emitter
// tracks while lowering a function body.
type BlockKind int

const (
	BlockIf BlockKind = iota
	BlockWhile
	BlockForIn
	BlockDoWhile
	BlockTry
	BlockMatch
	BlockDefine
	BlockLambda
	BlockClass
)

// Block is one entry of the emitter's block stack: its kind, the label
// marking where its code began (the backward-jump target for `continue`
// on a loop block), and the label every forward exit from it — a break,
// or simply falling off the end — ultimately lands on. Using ILabel
// instead of a raw patch-list offset means the "rewrite every patch back
// to the anchor" rewrite happens for free: Encode's own
// two-pass label resolution does it once the whole function is emitted.
type Block struct {
	Kind        BlockKind
	CodeStart   ILabel
	Exit        ILabel
	AlwaysExits bool
	parent      *Block
}

// Emitter lowers a function body into a Program, tracking the block
// stack around if/while/for-in/try/match/define/lambda, plus the
// symbol table and type checker emission consults
// for register allocation and call-site generic resolution.
type Emitter struct {
	Program *Program
	Symbols *SymbolTable
	Checker *Checker

	block *Block
	log   *zap.Logger
}

// NewEmitter builds an emitter for one function body. A nil logger is
// replaced with a no-op one; when a symbol table is supplied, the
// logger carries the enclosing module's name and instance id.
func NewEmitter(p *Program, st *SymbolTable, checker *Checker, log *zap.Logger) *Emitter {
	if log == nil {
		log = zap.NewNop()
	}
	if st != nil {
		log = log.With(zap.String("module", st.Module.Name), zap.Stringer("module_id", st.Module.ID))
	}
	return &Emitter{Program: p, Symbols: st, Checker: checker, log: log}
}

// OpenBlock pushes a new block of the given kind, starting at the
// program's current position.
func (e *Emitter) OpenBlock(kind BlockKind) *Block {
	b := &Block{Kind: kind, CodeStart: NewILabel(), Exit: NewILabel(), parent: e.block}
	e.Program.Emit(b.CodeStart)
	e.block = b
	return b
}

// CloseBlock pops the current block and emits its exit label, the point
// every forward jump registered against this block lands on.
func (e *Emitter) CloseBlock() *Block {
	b := e.block
	e.Program.Emit(b.Exit)
	e.block = b.parent
	return b
}

// Break walks up to the nearest loop block and emits a forward jump to
// its exit, first popping one catch entry per enclosing try block so
// unwinding a loop from inside a try cannot leave a stale catch entry
// behind.
func (e *Emitter) Break() {
	loop := e.enclosingLoop()
	if loop == nil {
		return
	}
	e.popTriesUpTo(loop)
	e.Program.Emit(IJump{Target: loop.Exit})
	e.block.AlwaysExits = true
}

// Continue emits a backward jump to the loop's code_start, unwinding any
// try blocks entered since the loop began the same way Break does.
func (e *Emitter) Continue() {
	loop := e.enclosingLoop()
	if loop == nil {
		return
	}
	e.popTriesUpTo(loop)
	e.Program.Emit(IJump{Target: loop.CodeStart})
	e.block.AlwaysExits = true
}

// Return emits a function exit, first popping one catch entry per try
// block still open anywhere on the block stack: a return from inside a
// try must not leave its handler installed for whatever call reaches
// this frame depth next. A negative src returns Unit.
func (e *Emitter) Return(src int) {
	e.popTriesUpTo(nil)
	if src < 0 {
		e.Program.Emit(IReturnUnit{})
	} else {
		e.Program.Emit(IReturnValue{Src: Reg(src)})
	}
	if e.block != nil {
		e.block.AlwaysExits = true
	}
}

func (e *Emitter) enclosingLoop() *Block {
	for b := e.block; b != nil; b = b.parent {
		switch b.Kind {
		case BlockWhile, BlockForIn, BlockDoWhile:
			return b
		}
	}
	return nil
}

// popTriesUpTo emits one catch_pop per try block between the emitter's
// current block and (exclusive of) target; a nil target pops every
// open try, the walk Return takes before exiting the function.
func (e *Emitter) popTriesUpTo(target *Block) {
	for b := e.block; b != nil && b != target; b = b.parent {
		if b.Kind == BlockTry {
			e.Program.Emit(ICatchPop{})
		}
	}
}

// EmitTry lowers a try/except block: catch_push before the body, one
// exception_catch per except branch guarded by its class id, and
// catch_pop on the body's normal-completion path.
func (e *Emitter) EmitTry(body func(e *Emitter), excepts []ExceptClause) {
	e.log.Debug("emit try", zap.Int("branches", len(excepts)))
	except := NewILabel()
	b := e.OpenBlock(BlockTry)
	e.Program.Emit(ICatchPush{ExceptHeader: except})

	body(e)

	e.Program.Emit(ICatchPop{})
	e.Program.Emit(IJump{Target: b.Exit})

	e.Program.Emit(except)
	for i, ex := range excepts {
		next := b.Exit
		if i < len(excepts)-1 {
			next = NewILabel()
		}
		e.Program.Emit(IExceptionCatch{ClassID: ex.ClassID, Next: next})
		if ex.Bind >= 0 {
			e.Program.Emit(IExceptionStore{Dst: Reg(ex.Bind)})
		}
		ex.Emit(e)
		e.Program.Emit(IJump{Target: b.Exit})
		if i < len(excepts)-1 {
			e.Program.Emit(next)
		}
	}

	e.CloseBlock()
}

// ExceptClause is one except branch of a try block: the builtin or
// user-defined class it guards against, the register (or -1) its
// matched exception is stored into, and the callback that emits its
// body.
type ExceptClause struct {
	ClassID int
	Bind    int // register to store the matched exception into, or -1
	Emit    func(e *Emitter)
}
