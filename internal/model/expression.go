package model

import (
	"fmt"
	"math"
)

// Op tags the variant of an Expression node.
type Op uint8

const (
	OpConstant Op = iota
	OpVariable
	OpSubexpression
	OpSum
	OpSub
	OpNeg
	OpProd
	OpDiv
	OpPow
	OpSqrt
	OpLog
	OpLn
	OpMin
	OpMax
	OpFloor
	OpCeil
)

// Expression is a node in a recursive AST evaluated over a Metric sample's
// raw value (Partial.Accumulate) or over a Metric's Partial slots
// (Statistic.Finalize / ExtraStatistic.Formula). Variables carry an opaque
// Uservalue whose meaning depends on which of those two roles the tree is
// playing; the evaluator is handed a lookup function rather than baking in
// one interpretation.
//
// A flat node pool indexed by integer would avoid per-node heap allocation,
// but in Go a tree of *Expression pointers is already GC-managed and incurs
// none of the recursive-ownership cost such a pool would exist to avoid, so
// this implementation keeps the simpler shape (see DESIGN.md).
type Expression struct {
	Op       Op
	Constant float64
	Uservalue int
	Children []*Expression
	// Ref is used only for OpSubexpression: a shared pointer to another
	// Expression tree, letting multiple Statistics reuse a common subtree
	// without duplicating it.
	Ref *Expression
}

func Const(v float64) *Expression { return &Expression{Op: OpConstant, Constant: v} }
func Var(uservalue int) *Expression { return &Expression{Op: OpVariable, Uservalue: uservalue} }
func Sub_(ref *Expression) *Expression { return &Expression{Op: OpSubexpression, Ref: ref} }

func bin(op Op, a, b *Expression) *Expression { return &Expression{Op: op, Children: []*Expression{a, b}} }
func un(op Op, a *Expression) *Expression     { return &Expression{Op: op, Children: []*Expression{a}} }

func Sum(a, b *Expression) *Expression  { return bin(OpSum, a, b) }
func Diff(a, b *Expression) *Expression { return bin(OpSub, a, b) }
func Neg(a *Expression) *Expression     { return un(OpNeg, a) }
func Prod(a, b *Expression) *Expression { return bin(OpProd, a, b) }
func Div(a, b *Expression) *Expression  { return bin(OpDiv, a, b) }
func Pow(a, b *Expression) *Expression  { return bin(OpPow, a, b) }
func Sqrt(a *Expression) *Expression    { return un(OpSqrt, a) }
func Log(a, b *Expression) *Expression  { return bin(OpLog, a, b) }
func Ln(a *Expression) *Expression      { return un(OpLn, a) }
func Min(a, b *Expression) *Expression  { return bin(OpMin, a, b) }
func Max(a, b *Expression) *Expression  { return bin(OpMax, a, b) }
func Floor(a *Expression) *Expression   { return un(OpFloor, a) }
func Ceil(a *Expression) *Expression    { return un(OpCeil, a) }

// VarLookup resolves a variable's Uservalue to a concrete float64 at
// evaluation time.
type VarLookup func(uservalue int) float64

// Eval recursively evaluates the expression tree.
func (e *Expression) Eval(lookup VarLookup) float64 {
	switch e.Op {
	case OpConstant:
		return e.Constant
	case OpVariable:
		return lookup(e.Uservalue)
	case OpSubexpression:
		return e.Ref.Eval(lookup)
	case OpSum:
		return e.Children[0].Eval(lookup) + e.Children[1].Eval(lookup)
	case OpSub:
		return e.Children[0].Eval(lookup) - e.Children[1].Eval(lookup)
	case OpNeg:
		return -e.Children[0].Eval(lookup)
	case OpProd:
		return e.Children[0].Eval(lookup) * e.Children[1].Eval(lookup)
	case OpDiv:
		return e.Children[0].Eval(lookup) / e.Children[1].Eval(lookup)
	case OpPow:
		return math.Pow(e.Children[0].Eval(lookup), e.Children[1].Eval(lookup))
	case OpSqrt:
		return math.Sqrt(e.Children[0].Eval(lookup))
	case OpLog:
		return math.Log(e.Children[0].Eval(lookup)) / math.Log(e.Children[1].Eval(lookup))
	case OpLn:
		return math.Log(e.Children[0].Eval(lookup))
	case OpMin:
		return math.Min(e.Children[0].Eval(lookup), e.Children[1].Eval(lookup))
	case OpMax:
		return math.Max(e.Children[0].Eval(lookup), e.Children[1].Eval(lookup))
	case OpFloor:
		return math.Floor(e.Children[0].Eval(lookup))
	case OpCeil:
		return math.Ceil(e.Children[0].Eval(lookup))
	default:
		return math.NaN()
	}
}

// VarName resolves a variable's Uservalue to the identifier Render should
// print for it.
type VarName func(uservalue int) string

// Render prints e as an arithmetic formula in the subset CompileFormula
// accepts, using names to render each OpVariable leaf.
func (e *Expression) Render(names VarName) string {
	switch e.Op {
	case OpConstant:
		return fmt.Sprintf("%g", e.Constant)
	case OpVariable:
		return names(e.Uservalue)
	case OpSubexpression:
		return e.Ref.Render(names)
	case OpSum:
		return fmt.Sprintf("(%s + %s)", e.Children[0].Render(names), e.Children[1].Render(names))
	case OpSub:
		return fmt.Sprintf("(%s - %s)", e.Children[0].Render(names), e.Children[1].Render(names))
	case OpNeg:
		return fmt.Sprintf("(-%s)", e.Children[0].Render(names))
	case OpProd:
		return fmt.Sprintf("(%s * %s)", e.Children[0].Render(names), e.Children[1].Render(names))
	case OpDiv:
		return fmt.Sprintf("(%s / %s)", e.Children[0].Render(names), e.Children[1].Render(names))
	case OpPow:
		return fmt.Sprintf("(%s ^ %s)", e.Children[0].Render(names), e.Children[1].Render(names))
	case OpSqrt:
		return fmt.Sprintf("sqrt(%s)", e.Children[0].Render(names))
	case OpLog:
		return fmt.Sprintf("log(%s, %s)", e.Children[0].Render(names), e.Children[1].Render(names))
	case OpLn:
		return fmt.Sprintf("ln(%s)", e.Children[0].Render(names))
	case OpMin:
		return fmt.Sprintf("min(%s, %s)", e.Children[0].Render(names), e.Children[1].Render(names))
	case OpMax:
		return fmt.Sprintf("max(%s, %s)", e.Children[0].Render(names), e.Children[1].Render(names))
	case OpFloor:
		return fmt.Sprintf("floor(%s)", e.Children[0].Render(names))
	case OpCeil:
		return fmt.Sprintf("ceil(%s)", e.Children[0].Render(names))
	default:
		return "?"
	}
}

// VisitorCallbacks groups the three hooks Visit offers: one fired before
// descending into a node's children (Pre), one fired for every OpVariable
// leaf (Variable), and one fired after a node's children have all been
// visited (Post).
type VisitorCallbacks struct {
	Pre      func(*Expression)
	Variable func(*Expression)
	Post     func(*Expression)
}

// Visit walks the tree, invoking cb's hooks. Any nil hook is skipped.
func (e *Expression) Visit(cb VisitorCallbacks) {
	if cb.Pre != nil {
		cb.Pre(e)
	}
	if e.Op == OpVariable && cb.Variable != nil {
		cb.Variable(e)
	}
	if e.Op == OpSubexpression {
		e.Ref.Visit(cb)
	} else {
		for _, c := range e.Children {
			c.Visit(cb)
		}
	}
	if cb.Post != nil {
		cb.Post(e)
	}
}
