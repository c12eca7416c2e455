package model

import (
	"fmt"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
)

// CompileFormula parses a textual arithmetic formula (as used by
// metricsyaml-sourced ExtraStatistic and Statistic finalize definitions) with
// expr-lang/expr's parser and lowers its AST into our Expression tree.
// names maps identifiers usable inside the formula (Partial slot names for a
// Statistic, Metric names for an ExtraStatistic) to the Uservalue an
// Expression.Variable should carry.
//
// Only the arithmetic subset of the expr-lang grammar is supported —
// identifiers, numeric literals, +-*/^, unary minus, and calls to
// sqrt/log/ln/min/max/floor/ceil — since that is all a Metric/Statistic
// formula ever needs. Anything else is a configuration error, reported with
// the formula text for context.
func CompileFormula(formula string, names map[string]int) (*Expression, error) {
	tree, err := parser.Parse(formula)
	if err != nil {
		return nil, fmt.Errorf("parse formula %q: %w", formula, err)
	}
	return lowerNode(tree.Node, formula, names)
}

func lowerNode(n ast.Node, formula string, names map[string]int) (*Expression, error) {
	switch node := n.(type) {
	case *ast.IntegerNode:
		return Const(float64(node.Value)), nil
	case *ast.FloatNode:
		return Const(node.Value), nil
	case *ast.IdentifierNode:
		uv, ok := names[node.Value]
		if !ok {
			return nil, fmt.Errorf("formula %q: unknown identifier %q", formula, node.Value)
		}
		return Var(uv), nil
	case *ast.UnaryNode:
		inner, err := lowerNode(node.Node, formula, names)
		if err != nil {
			return nil, err
		}
		switch node.Operator {
		case "-":
			return Neg(inner), nil
		case "+":
			return inner, nil
		default:
			return nil, fmt.Errorf("formula %q: unsupported unary operator %q", formula, node.Operator)
		}
	case *ast.BinaryNode:
		left, err := lowerNode(node.Left, formula, names)
		if err != nil {
			return nil, err
		}
		right, err := lowerNode(node.Right, formula, names)
		if err != nil {
			return nil, err
		}
		switch node.Operator {
		case "+":
			return Sum(left, right), nil
		case "-":
			return Diff(left, right), nil
		case "*":
			return Prod(left, right), nil
		case "/":
			return Div(left, right), nil
		case "^", "**":
			return Pow(left, right), nil
		default:
			return nil, fmt.Errorf("formula %q: unsupported binary operator %q", formula, node.Operator)
		}
	case *ast.CallNode:
		ident, ok := node.Callee.(*ast.IdentifierNode)
		if !ok {
			return nil, fmt.Errorf("formula %q: unsupported call target", formula)
		}
		args := make([]*Expression, len(node.Arguments))
		for i, a := range node.Arguments {
			ex, err := lowerNode(a, formula, names)
			if err != nil {
				return nil, err
			}
			args[i] = ex
		}
		switch ident.Value {
		case "sqrt":
			if len(args) != 1 {
				return nil, fmt.Errorf("formula %q: sqrt takes 1 argument", formula)
			}
			return Sqrt(args[0]), nil
		case "ln":
			if len(args) != 1 {
				return nil, fmt.Errorf("formula %q: ln takes 1 argument", formula)
			}
			return Ln(args[0]), nil
		case "log":
			switch len(args) {
			case 1:
				return Log(args[0], Const(10)), nil
			case 2:
				return Log(args[0], args[1]), nil
			default:
				return nil, fmt.Errorf("formula %q: log takes 1 or 2 arguments", formula)
			}
		case "min":
			if len(args) != 2 {
				return nil, fmt.Errorf("formula %q: min takes 2 arguments", formula)
			}
			return Min(args[0], args[1]), nil
		case "max":
			if len(args) != 2 {
				return nil, fmt.Errorf("formula %q: max takes 2 arguments", formula)
			}
			return Max(args[0], args[1]), nil
		case "floor":
			if len(args) != 1 {
				return nil, fmt.Errorf("formula %q: floor takes 1 argument", formula)
			}
			return Floor(args[0]), nil
		case "ceil":
			if len(args) != 1 {
				return nil, fmt.Errorf("formula %q: ceil takes 1 argument", formula)
			}
			return Ceil(args[0]), nil
		default:
			return nil, fmt.Errorf("formula %q: unknown function %q", formula, ident.Value)
		}
	default:
		return nil, fmt.Errorf("formula %q: unsupported construct %T", formula, n)
	}
}
