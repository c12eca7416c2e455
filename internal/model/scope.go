package model

import "fmt"

// ScopeKind tags the variant carried by a Scope.
type ScopeKind uint8

const (
	ScopeGlobal ScopeKind = iota
	ScopeUnknown
	ScopePlaceholder
	ScopePoint
	ScopeFunction
	ScopeLexicalLoop
	ScopeBinaryLoop
	ScopeLine
)

// Scope is a logical location: an instruction point, a function, a loop, a
// line, a placeholder, or one of the two degenerate values (global/unknown).
// It is a tagged union over the payload fields relevant to its Kind; the
// irrelevant fields are left zero.
type Scope struct {
	Kind ScopeKind

	Module *Module // point, binary_loop
	Offset uint64  // point, placeholder, binary_loop

	Function *Function // function

	File *File  // lexical_loop, binary_loop, line
	Line uint64 // lexical_loop, binary_loop, line
}

func GlobalScope() Scope   { return Scope{Kind: ScopeGlobal} }
func UnknownScope() Scope  { return Scope{Kind: ScopeUnknown} }
func Placeholder(id uint64) Scope {
	return Scope{Kind: ScopePlaceholder, Offset: id}
}
func PointScope(m *Module, offset uint64) Scope {
	return Scope{Kind: ScopePoint, Module: m, Offset: offset}
}
func FunctionScope(f *Function) Scope {
	return Scope{Kind: ScopeFunction, Function: f}
}
func LexicalLoopScope(f *File, line uint64) Scope {
	return Scope{Kind: ScopeLexicalLoop, File: f, Line: line}
}
func BinaryLoopScope(m *Module, offset uint64, f *File, line uint64) Scope {
	return Scope{Kind: ScopeBinaryLoop, Module: m, Offset: offset, File: f, Line: line}
}
func LineScope(f *File, line uint64) Scope {
	return Scope{Kind: ScopeLine, File: f, Line: line}
}

// key returns a value comparable with ==, used as a map key. Go structs with
// only comparable fields (pointers and integers) are themselves comparable,
// so Scope can be used directly as a map key without a separate hash.
func (s Scope) key() Scope { return s }

func (s Scope) String() string {
	switch s.Kind {
	case ScopeGlobal:
		return "<global>"
	case ScopeUnknown:
		return "<unknown>"
	case ScopePlaceholder:
		return fmt.Sprintf("<placeholder 0x%x>", s.Offset)
	case ScopePoint:
		return fmt.Sprintf("point(%s+0x%x)", s.Module.Path(), s.Offset)
	case ScopeFunction:
		return fmt.Sprintf("function(%s)", s.Function.Name)
	case ScopeLexicalLoop:
		return fmt.Sprintf("loop(%s:%d)", s.File.Path(), s.Line)
	case ScopeBinaryLoop:
		return fmt.Sprintf("loop(%s+0x%x @ %s:%d)", s.Module.Path(), s.Offset, s.File.Path(), s.Line)
	case ScopeLine:
		return fmt.Sprintf("line(%s:%d)", s.File.Path(), s.Line)
	default:
		return "<invalid scope>"
	}
}

// Relation describes how a child Context is attached to its parent.
type Relation uint8

const (
	RelGlobal Relation = iota
	RelEnclosure
	RelCall
	RelInlinedCall
)

func (r Relation) String() string {
	switch r {
	case RelGlobal:
		return "global"
	case RelEnclosure:
		return "enclosure"
	case RelCall:
		return "call"
	case RelInlinedCall:
		return "inlined_call"
	default:
		return "?"
	}
}

// NestedScope is the immutable (Relation, Scope) edge label used to look up
// or create a child Context under a parent.
type NestedScope struct {
	Relation Relation
	Scope    Scope
}

func NS(rel Relation, sc Scope) NestedScope { return NestedScope{Relation: rel, Scope: sc} }

func (n NestedScope) String() string {
	return fmt.Sprintf("%s->%s", n.Relation, n.Scope)
}
