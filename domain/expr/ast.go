// Package expr parses and renders the pattern-expression syntax used by
// schema definitions: bare symbols like "a" and calls like "f(x,y)"
// whose arguments are either variables or ground constants.
package expr

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Expr is a parsed pattern expression: either a Sym or a Call.
type Expr interface {
	fmt.Stringer
	exprNode()
}

// Sym is a bare symbol reference with no argument list, e.g. "a".
// It is equivalent to a Call with zero arguments for arity purposes.
type Sym struct {
	Name string
}

func (*Sym) exprNode() {}

// String renders the symbol as it was parsed.
func (s *Sym) String() string {
	return s.Name
}

// AsCall returns the Sym represented as a zero-arity Call, so that
// callers working uniformly over patterns never need to special-case
// Sym vs Call.
func (s *Sym) AsCall() *Call {
	return &Call{Head: s.Name, Args: nil}
}

// Call is a functor applied to a fixed, ordered list of arguments.
type Call struct {
	Head string
	Args []Arg
}

func (*Call) exprNode() {}

// String renders the call in canonical "head(a,b,c)" form.
func (c *Call) String() string {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = a.String()
	}
	return c.Head + "(" + strings.Join(parts, ",") + ")"
}

// Arity returns the number of arguments.
func (c *Call) Arity() int {
	return len(c.Args)
}

// Arg is a single argument of a Call: either a Var or a Const.
type Arg interface {
	fmt.Stringer
	argNode()
}

// Var is a free variable occurring in a pattern.
type Var struct {
	Name string
}

func (*Var) argNode() {}

func (v *Var) String() string {
	return v.Name
}

// Const is a ground, JSON-serializable value occurring in a pattern.
type Const struct {
	Value interface{}
}

func (*Const) argNode() {}

func (c *Const) String() string {
	b, err := json.Marshal(c.Value)
	if err != nil {
		return fmt.Sprintf("%v", c.Value)
	}
	return string(b)
}

// AsCall normalizes any Expr to Call form, treating a bare Sym as a
// zero-arity call.
func AsCall(e Expr) *Call {
	switch v := e.(type) {
	case *Call:
		return v
	case *Sym:
		return v.AsCall()
	default:
		return nil
	}
}
