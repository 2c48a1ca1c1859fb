package lily

import "fmt"

// ErrorKind enumerates the error classes the execution core can raise.
type ErrorKind int

const (
	ErrSyntax ErrorKind = iota
	ErrDivisionByZero
	ErrIndex
	ErrKey
	ErrValue
	ErrRuntime
	ErrIO
	ErrFormat
	ErrBadTypecast
	ErrRecursion
)

func (k ErrorKind) String() string {
	switch k {
	case ErrSyntax:
		return "SyntaxError"
	case ErrDivisionByZero:
		return "DivisionByZeroError"
	case ErrIndex:
		return "IndexError"
	case ErrKey:
		return "KeyError"
	case ErrValue:
		return "ValueError"
	case ErrRuntime:
		return "RuntimeError"
	case ErrIO:
		return "IOError"
	case ErrFormat:
		return "FormatError"
	case ErrBadTypecast:
		return "BadTypecastError"
	case ErrRecursion:
		return "RecursionError"
	default:
		return "UnknownError"
	}
}

// SourcePos is a position in the original source text. The emitter attaches
// one to every raised SyntaxError so the embedder can point at the
// offending program text.
type SourcePos struct {
	Module string
	Line   int
}

func (p SourcePos) String() string {
	if p.Module == "" {
		return fmt.Sprintf("line %d", p.Line)
	}
	return fmt.Sprintf("%s:%d", p.Module, p.Line)
}

// SyntaxError is raised by the emitter when a program is structurally
// invalid: a missing return, a shadowing violation, a non-exhaustive match,
// and so on. It unwinds the emitter's own call stack back to whatever
// embeds the parser; it is never caught by a Lily try/except block.
type SyntaxError struct {
	Message string
	Pos     SourcePos
}

func (e SyntaxError) Error() string {
	return fmt.Sprintf("SyntaxError: %s (%s)", e.Message, e.Pos)
}

// TracebackEntry is one frame of a runtime traceback, synthesized by
// walking call frames newest-to-oldest.
type TracebackEntry struct {
	ModulePath   string
	FunctionQual string
	LineNumber   int
}

func (t TracebackEntry) String() string {
	return fmt.Sprintf("    from %s:%d: in %s", t.ModulePath, t.LineNumber, t.FunctionQual)
}

// RuntimeError is the value carried by o_exception_raise: an error kind
// (which doubles as the raised class name unless Class is set to a
// user-defined exception class), a message, and a traceback collected as
// the error escapes vm_execute uncaught.
type RuntimeError struct {
	Kind      ErrorKind
	Class     string
	Message   string
	Traceback []TracebackEntry
}

func NewRuntimeError(kind ErrorKind, message string) *RuntimeError {
	return &RuntimeError{Kind: kind, Message: message}
}

// ClassName returns the name used for catch-chain matching: the
// user-defined class name if one was attached, otherwise the built-in
// error kind's name.
func (e *RuntimeError) ClassName() string {
	if e.Class != "" {
		return e.Class
	}
	return e.Kind.String()
}

// Error implements the standard error interface with the rendering
// format embedders show: "<ClassName>: <msg>\n" followed by the
// traceback, oldest call site last.
func (e *RuntimeError) Error() string {
	return e.Render()
}

// Render produces the embedder-facing message.
func (e *RuntimeError) Render() string {
	s := fmt.Sprintf("%s: %s\n", e.ClassName(), e.Message)
	if len(e.Traceback) == 0 {
		return s
	}
	s += "Traceback:\n"
	for _, t := range e.Traceback {
		s += t.String() + "\n"
	}
	return s
}
