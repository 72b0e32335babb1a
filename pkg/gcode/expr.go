// Macro expressions
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gcode

import (
	"fmt"
	"math"
	"strconv"
)

// Variables resolves #n references while an expression is evaluated.
type Variables interface {
	Get(id int) (float64, error)
}

// Expr is a word value or assignment right-hand side. Expressions are kept
// unevaluated by the parser and evaluated by the interpreter.
type Expr interface {
	Eval(vars Variables) (float64, error)
	String() string
}

// Number is a literal value.
type Number float64

func (n Number) Eval(Variables) (float64, error) { return float64(n), nil }
func (n Number) String() string                 { return strconv.FormatFloat(float64(n), 'f', -1, 64) }

// VarRef is a #n reference.
type VarRef int

func (v VarRef) Eval(vars Variables) (float64, error) {
	if vars == nil {
		return 0, fmt.Errorf("variable #%d referenced without a variable table", int(v))
	}
	return vars.Get(int(v))
}

func (v VarRef) String() string { return "#" + strconv.Itoa(int(v)) }

// Indirect is #[expr], a reference whose index is computed.
type Indirect struct {
	Index Expr
}

func (ind Indirect) Eval(vars Variables) (float64, error) {
	idx, err := ind.Index.Eval(vars)
	if err != nil {
		return 0, err
	}
	return VarRef(int(math.Round(idx))).Eval(vars)
}

func (ind Indirect) String() string { return "#[" + ind.Index.String() + "]" }

// Negate is unary minus.
type Negate struct {
	X Expr
}

func (n Negate) Eval(vars Variables) (float64, error) {
	x, err := n.X.Eval(vars)
	return -x, err
}

func (n Negate) String() string { return "-" + n.X.String() }

// Op is a binary operator.
type Op int

const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEQ
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
	OpAnd
	OpOr
)

var opNames = [...]string{"+", "-", "*", "/", "MOD", "EQ", "NE", "LT", "LE", "GT", "GE", "AND", "OR"}

func (op Op) String() string { return opNames[op] }

var opPrecedence = [...]int{
	OpAdd: 3, OpSub: 3,
	OpMul: 4, OpDiv: 4, OpMod: 4,
	OpEQ: 2, OpNE: 2, OpLT: 2, OpLE: 2, OpGT: 2, OpGE: 2,
	OpAnd: 1, OpOr: 0,
}

// Binary applies Op to two operands. Comparisons and logical operators
// yield 1 or 0.
type Binary struct {
	Op   Op
	L, R Expr
}

func (b Binary) Eval(vars Variables) (float64, error) {
	l, err := b.L.Eval(vars)
	if err != nil {
		return 0, err
	}
	r, err := b.R.Eval(vars)
	if err != nil {
		return 0, err
	}
	switch b.Op {
	case OpAdd:
		return l + r, nil
	case OpSub:
		return l - r, nil
	case OpMul:
		return l * r, nil
	case OpDiv:
		if r == 0 {
			return 0, fmt.Errorf("division by zero in %s", b)
		}
		return l / r, nil
	case OpMod:
		if r == 0 {
			return 0, fmt.Errorf("division by zero in %s", b)
		}
		return math.Mod(l, r), nil
	case OpEQ:
		return truth(l == r), nil
	case OpNE:
		return truth(l != r), nil
	case OpLT:
		return truth(l < r), nil
	case OpLE:
		return truth(l <= r), nil
	case OpGT:
		return truth(l > r), nil
	case OpGE:
		return truth(l >= r), nil
	case OpAnd:
		return truth(l != 0 && r != 0), nil
	case OpOr:
		return truth(l != 0 || r != 0), nil
	}
	return 0, fmt.Errorf("unknown operator %d", int(b.Op))
}

func (b Binary) String() string {
	op := b.Op.String()
	if b.Op >= OpMod {
		op = " " + op + " "
	}
	return "[" + b.L.String() + op + b.R.String() + "]"
}

func truth(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Call applies a named function to one argument, e.g. SQRT[#1].
type Call struct {
	Name string
	Arg  Expr
}

var functions = map[string]func(float64) (float64, error){
	"ABS":   func(x float64) (float64, error) { return math.Abs(x), nil },
	"SQRT":  sqrt,
	"SIN":   func(x float64) (float64, error) { return math.Sin(x * math.Pi / 180), nil },
	"COS":   func(x float64) (float64, error) { return math.Cos(x * math.Pi / 180), nil },
	"TAN":   func(x float64) (float64, error) { return math.Tan(x * math.Pi / 180), nil },
	"ATAN":  func(x float64) (float64, error) { return math.Atan(x) * 180 / math.Pi, nil },
	"ROUND": func(x float64) (float64, error) { return math.Round(x), nil },
	"FIX":   func(x float64) (float64, error) { return math.Floor(x), nil },
	"FUP":   func(x float64) (float64, error) { return math.Ceil(x), nil },
}

func sqrt(x float64) (float64, error) {
	if x < 0 {
		return 0, fmt.Errorf("SQRT of negative value %g", x)
	}
	return math.Sqrt(x), nil
}

func (c Call) Eval(vars Variables) (float64, error) {
	fn, ok := functions[c.Name]
	if !ok {
		return 0, fmt.Errorf("unknown function %s", c.Name)
	}
	x, err := c.Arg.Eval(vars)
	if err != nil {
		return 0, err
	}
	return fn(x)
}

func (c Call) String() string { return c.Name + "[" + c.Arg.String() + "]" }

// IsFunction reports whether name is a recognised expression function.
func IsFunction(name string) bool {
	_, ok := functions[name]
	return ok
}

// Constant returns the literal value of e, if it has one.
func Constant(e Expr) (float64, bool) {
	switch v := e.(type) {
	case Number:
		return float64(v), true
	case Negate:
		if x, ok := Constant(v.X); ok {
			return -x, true
		}
	}
	return 0, false
}
