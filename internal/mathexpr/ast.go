// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mathexpr

import "github.com/googleapis/ads-report-fetcher/internal/util"

// Scope resolves a root accessor name (the first segment of a dotted
// path) to a Value; the AST itself walks remaining segments via member
// access once the root Value is in hand.
type Scope interface {
	Lookup(name string) (Value, bool)
}

// MapScope adapts a plain map into a Scope, the shape both the Macro
// Engine (macro name -> string) and the Row Parser (resource name ->
// nested resource node) use.
type MapScope map[string]Value

func (m MapScope) Lookup(name string) (Value, bool) {
	v, ok := m[name]
	return v, ok
}

// Node is an expression AST node. Every node supports evaluation against
// a Scope, accessor-path collection (so the Query Editor can learn which
// row fields a virtual column depends on without evaluating it), and
// constant detection (so a virtual column with no field dependency can
// be computed once instead of per-row).
type Node interface {
	Eval(scope Scope) (Value, error)
	CollectAccessors(out *[][]string)
	IsConstant() bool
}

// Literal is a constant scalar.
type Literal struct {
	Value Value
}

func (n *Literal) Eval(Scope) (Value, error)         { return n.Value, nil }
func (n *Literal) CollectAccessors(*[][]string)       {}
func (n *Literal) IsConstant() bool                   { return true }

// Accessor is a dotted/bracketed member-access chain rooted at a scope
// variable, e.g. campaign.network_settings.target_google_search or
// row["campaign"]["id"].
type Accessor struct {
	Root    string
	Path    []Node // each element evaluates to a string (dot) or int/string (bracket) key
	RawPath []string
}

func (n *Accessor) IsConstant() bool { return false }

func (n *Accessor) CollectAccessors(out *[][]string) {
	full := append([]string{n.Root}, n.RawPath...)
	*out = append(*out, full)
}

func (n *Accessor) Eval(scope Scope) (Value, error) {
	cur, ok := scope.Lookup(n.Root)
	if !ok {
		return Value{}, util.NewQueryError(util.KindInvalidFieldPath,
			"unknown accessor root \""+n.Root+"\"", nil)
	}
	for _, seg := range n.RawPath {
		switch cur.Kind {
		case KindMap:
			next, ok := cur.M[seg]
			if !ok {
				return Null(), nil
			}
			cur = next
		case KindList:
			idx, err := parseIndex(seg)
			if err != nil || idx < 0 || idx >= len(cur.L) {
				return Null(), nil
			}
			cur = cur.L[idx]
		default:
			return Value{}, util.NewQueryError(util.KindInvalidFieldPath,
				"cannot access member \""+seg+"\" of a non-container value", nil)
		}
	}
	return cur, nil
}

func parseIndex(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, util.NewQueryError(util.KindInvalidFieldPath, "non-numeric index \""+s+"\"", nil)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// BinaryOp applies one of +, -, *, /, % to the evaluated operands, with
// overloads for date/time arithmetic (see eval.go).
type BinaryOp struct {
	Op    byte
	Left  Node
	Right Node
}

func (n *BinaryOp) IsConstant() bool { return n.Left.IsConstant() && n.Right.IsConstant() }

func (n *BinaryOp) CollectAccessors(out *[][]string) {
	n.Left.CollectAccessors(out)
	n.Right.CollectAccessors(out)
}

func (n *BinaryOp) Eval(scope Scope) (Value, error) {
	l, err := n.Left.Eval(scope)
	if err != nil {
		return Value{}, err
	}
	r, err := n.Right.Eval(scope)
	if err != nil {
		return Value{}, err
	}
	return applyBinaryOp(n.Op, l, r)
}

// UnaryOp applies unary minus to its operand.
type UnaryOp struct {
	Op byte // only '-' is currently supported
	X  Node
}

func (n *UnaryOp) IsConstant() bool { return n.X.IsConstant() }

func (n *UnaryOp) CollectAccessors(out *[][]string) { n.X.CollectAccessors(out) }

func (n *UnaryOp) Eval(scope Scope) (Value, error) {
	v, err := n.X.Eval(scope)
	if err != nil {
		return Value{}, err
	}
	switch v.Kind {
	case KindInt:
		return IntVal(-v.I), nil
	case KindFloat:
		return FloatVal(-v.F), nil
	default:
		return Value{}, util.NewQueryError(util.KindInvalidQuery, "unary minus applied to a non-numeric value", nil)
	}
}

// Call invokes one of the built-in functions by name.
type Call struct {
	Name string
	Args []Node
}

func (n *Call) IsConstant() bool {
	for _, a := range n.Args {
		if !a.IsConstant() {
			return false
		}
	}
	// today()/now() etc. are never constant: they depend on wall-clock
	// time, not just their (possibly empty) argument list.
	return !isClockFunction(n.Name)
}

func (n *Call) CollectAccessors(out *[][]string) {
	for _, a := range n.Args {
		a.CollectAccessors(out)
	}
}

func (n *Call) Eval(scope Scope) (Value, error) {
	args := make([]Value, len(n.Args))
	for i, a := range n.Args {
		v, err := a.Eval(scope)
		if err != nil {
			return Value{}, err
		}
		args[i] = v
	}
	return callBuiltin(n.Name, args)
}
