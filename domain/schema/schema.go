// Package schema compiles a set of node definitions into a validated
// Schema: a head index mapping each functor name to its compiled form,
// plus the stable schema hash that namespaces all persistent state.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"increment/domain/expr"
	"increment/domain/nodekey"
	apperrors "increment/pkg/errors"
	"increment/pkg/utils"
)

// UnchangedType is the sentinel a Computor returns to assert that its
// previous value is still semantically current. Computors return the
// package-level Unchanged value, never construct their own.
type UnchangedType struct{}

// Unchanged is the sentinel value signaling no semantic change.
var Unchanged = UnchangedType{}

// Computor computes a node's value from its input values (positional,
// matching the order of InputPatterns) and the node's previous value
// (nil if none). It returns Unchanged, any other non-nil value, or an
// error. Returning nil without an error is invalid.
type Computor func(inputValues []interface{}, previousValue interface{}, bindings map[string]interface{}) (interface{}, error)

// NodeDef is a user-supplied node definition: an output pattern, zero
// or more input patterns over the same variable space, and a computor.
type NodeDef struct {
	OutputPattern string   `validate:"required"`
	InputPatterns []string `validate:"dive,required"`
	Computor      Computor `validate:"required"`
}

// Validate checks structural requirements before the pattern parser
// even runs, giving a fast InvalidSchema for a zero-value NodeDef.
// Required-field and non-empty-input-pattern checks are driven by
// struct tags via go-playground/validator, the same way the teacher
// validates inbound commands before they reach domain logic.
func (d NodeDef) Validate() error {
	if err := utils.ValidateStruct(d); err != nil {
		return apperrors.NewInvalidSchema(err.Error())
	}
	if d.Computor == nil {
		return apperrors.NewInvalidSchema(fmt.Sprintf("node definition %q has a nil computor", d.OutputPattern))
	}
	return nil
}

// CompiledNode is the compiled form of a single NodeDef.
type CompiledNode struct {
	Head         string
	Arity        int
	IsSource     bool
	OutputCall   *expr.Call
	InputCalls   []*expr.Call
	VarPositions map[string]int
	Computor     Computor
}

// ConcreteNode is a schema pattern instantiated with ground arguments:
// its own key, the compiled node it came from, the keys of its inputs
// (substituted positionally), and the variable bindings used to derive
// them.
type ConcreteNode struct {
	Key          nodekey.Key
	CompiledNode *CompiledNode
	InputKeys    []nodekey.Key
	Bindings     map[string]interface{}
}

// Schema is the compiled, validated set of node definitions.
type Schema struct {
	byHead map[string]*CompiledNode
	order  []string
	hash   string
}

// Head looks up a compiled node by head symbol.
func (s *Schema) Head(head string) (*CompiledNode, bool) {
	cn, ok := s.byHead[head]
	return cn, ok
}

// Hash returns the hex-encoded SHA-256 schema hash.
func (s *Schema) Hash() string {
	return s.hash
}

// Heads returns all compiled head names in a stable (declaration) order.
func (s *Schema) Heads() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Instantiate binds a compiled head's positional arguments, producing
// a ConcreteNode with its inputs substituted.
func (s *Schema) Instantiate(head string, args []interface{}) (*ConcreteNode, error) {
	cn, ok := s.byHead[head]
	if !ok {
		return nil, apperrors.NewInvalidNode(head)
	}
	if len(args) != cn.Arity {
		return nil, apperrors.NewArityMismatch(head, len(args), cn.Arity)
	}

	bindings := make(map[string]interface{}, len(cn.VarPositions))
	for name, pos := range cn.VarPositions {
		bindings[name] = args[pos]
	}

	inputKeys := make([]nodekey.Key, len(cn.InputCalls))
	for i, inputCall := range cn.InputCalls {
		concreteArgs := make([]interface{}, len(inputCall.Args))
		for j, a := range inputCall.Args {
			switch v := a.(type) {
			case *expr.Var:
				val, bound := bindings[v.Name]
				if !bound {
					return nil, apperrors.NewInvalidSchema(
						fmt.Sprintf("unbound variable %q in an input pattern of head %q", v.Name, head))
				}
				concreteArgs[j] = val
			case *expr.Const:
				concreteArgs[j] = v.Value
			default:
				return nil, apperrors.NewInvalidSchema(fmt.Sprintf("unrecognized argument node in head %q", head))
			}
		}
		inputKeys[i] = nodekey.New(inputCall.Head, concreteArgs)
	}

	return &ConcreteNode{
		Key:          nodekey.New(head, args),
		CompiledNode: cn,
		InputKeys:    inputKeys,
		Bindings:     bindings,
	}, nil
}

// Compile validates and compiles a set of node definitions in the
// order mandated by the spec: parse, no-overlap, acyclic, single
// arity per head, input arities match. Each failure aborts
// construction immediately; the schema is never partially built.
func Compile(defs []NodeDef) (*Schema, error) {
	if len(defs) == 0 {
		return nil, apperrors.NewInvalidSchema("schema must declare at least one node definition")
	}

	type parsed struct {
		def        NodeDef
		output     *expr.Call
		inputs     []*expr.Call
		mapping    string
	}

	parsedDefs := make([]parsed, 0, len(defs))

	// Step 1: parse.
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}

		outExpr, err := expr.ParseExpr(d.OutputPattern)
		if err != nil {
			return nil, err
		}
		outCall := expr.AsCall(outExpr)

		inputCalls := make([]*expr.Call, 0, len(d.InputPatterns))
		for _, ip := range d.InputPatterns {
			inExpr, err := expr.ParseExpr(ip)
			if err != nil {
				return nil, err
			}
			inputCalls = append(inputCalls, expr.AsCall(inExpr))
		}

		mapping := expr.CanonicalizeMapping(inputCalls, outCall)
		parsedDefs = append(parsedDefs, parsed{def: d, output: outCall, inputs: inputCalls, mapping: mapping})
	}

	// Step 2: no-overlap, pairwise. Every overlapping pair found is
	// accumulated, not just the first, so a schema with several
	// ambiguous output patterns reports all of them in one pass.
	overlaps := apperrors.NewValidationErrors()
	for i := 0; i < len(parsedDefs); i++ {
		for j := i + 1; j < len(parsedDefs); j++ {
			if expr.PatternsOverlap(parsedDefs[i].output, parsedDefs[j].output) {
				overlaps.AddError(apperrors.NewSchemaOverlap(parsedDefs[i].output.String(), parsedDefs[j].output.String()))
			}
		}
	}
	if overlaps.HasErrors() {
		return nil, overlaps
	}

	// Step 3: acyclic schema graph (output-head -> input-head edges).
	graph := make(map[string][]string, len(parsedDefs))
	for _, p := range parsedDefs {
		for _, in := range p.inputs {
			graph[p.output.Head] = append(graph[p.output.Head], in.Head)
		}
	}
	if cycle := findCycle(graph); cycle != nil {
		return nil, apperrors.NewSchemaCycle(cycle)
	}

	// Step 4: single arity per head, across all output declarations.
	arities := make(map[string]int, len(parsedDefs))
	seenArities := make(map[string][]int)
	for _, p := range parsedDefs {
		seenArities[p.output.Head] = append(seenArities[p.output.Head], p.output.Arity())
	}
	for head, list := range seenArities {
		first := list[0]
		for _, a := range list[1:] {
			if a != first {
				return nil, apperrors.NewSchemaArityConflict(head, list)
			}
		}
		if len(list) > 1 {
			return nil, apperrors.NewSchemaArityConflict(head, list)
		}
		arities[head] = first
	}

	// Step 5: input arities match the declared output arity of their
	// referenced head.
	for _, p := range parsedDefs {
		for _, in := range p.inputs {
			wantArity, defined := arities[in.Head]
			if !defined {
				return nil, apperrors.NewInvalidSchema(
					fmt.Sprintf("head %q (referenced as an input of %q) has no output definition", in.Head, p.output.Head))
			}
			if in.Arity() != wantArity {
				return nil, apperrors.NewArityMismatch(in.Head, in.Arity(), wantArity)
			}
		}
	}

	byHead := make(map[string]*CompiledNode, len(parsedDefs))
	order := make([]string, 0, len(parsedDefs))
	mappings := make([]string, 0, len(parsedDefs))

	for _, p := range parsedDefs {
		varPositions := make(map[string]int, len(p.output.Args))
		for i, a := range p.output.Args {
			if v, ok := a.(*expr.Var); ok {
				varPositions[v.Name] = i
			}
		}

		byHead[p.output.Head] = &CompiledNode{
			Head:         p.output.Head,
			Arity:        p.output.Arity(),
			IsSource:     len(p.inputs) == 0,
			OutputCall:   p.output,
			InputCalls:   p.inputs,
			VarPositions: varPositions,
			Computor:     p.def.Computor,
		}
		order = append(order, p.output.Head)
		mappings = append(mappings, p.mapping)
	}

	hash := computeSchemaHash(mappings)

	return &Schema{byHead: byHead, order: order, hash: hash}, nil
}

func computeSchemaHash(mappings []string) string {
	sorted := expr.SortedMappingSet(mappings)
	sum := sha256.New()
	for _, m := range sorted {
		sum.Write([]byte(m))
		sum.Write([]byte{0})
	}
	return hex.EncodeToString(sum.Sum(nil))
}

// findCycle performs a DFS cycle detection over the head graph,
// returning the cycle as a slice of head names if one exists.
func findCycle(graph map[string][]string) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var path []string

	var visit func(node string) []string
	visit = func(node string) []string {
		color[node] = gray
		path = append(path, node)

		for _, next := range graph[node] {
			switch color[next] {
			case white:
				if cyc := visit(next); cyc != nil {
					return cyc
				}
			case gray:
				// Found the back edge; slice the path from next's first
				// occurrence to build the cycle.
				for i, n := range path {
					if n == next {
						cyc := append([]string{}, path[i:]...)
						return append(cyc, next)
					}
				}
			}
		}

		path = path[:len(path)-1]
		color[node] = black
		return nil
	}

	// Ensure deterministic iteration order isn't required for
	// correctness, only for which cycle is reported first.
	for node := range graph {
		if color[node] == white {
			if cyc := visit(node); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}
