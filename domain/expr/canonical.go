package expr

import (
	"sort"
	"strconv"
	"strings"
)

// CanonicalizeMapping produces a string representation of an
// (inputs -> output) mapping that is invariant under consistent
// variable renaming. Variables are renamed to "V0", "V1", ... in the
// order they are first encountered while scanning the output call
// followed by the input calls, left to right. It is used to compute
// the schema hash; overlap detection uses PatternsOverlap instead.
func CanonicalizeMapping(inputs []*Call, output *Call) string {
	renames := map[string]string{}
	next := 0

	rename := func(name string) string {
		if r, ok := renames[name]; ok {
			return r
		}
		r := "V" + strconv.Itoa(next)
		next++
		renames[name] = r
		return r
	}

	renderCall := func(c *Call) string {
		parts := make([]string, len(c.Args))
		for i, a := range c.Args {
			switch v := a.(type) {
			case *Var:
				parts[i] = rename(v.Name)
			case *Const:
				parts[i] = v.String()
			}
		}
		return c.Head + "(" + strings.Join(parts, ",") + ")"
	}

	var b strings.Builder
	b.WriteString(renderCall(output))
	b.WriteString("<-[")

	inputStrs := make([]string, len(inputs))
	for i, in := range inputs {
		inputStrs[i] = renderCall(in)
	}
	// Input order is semantically significant (positional args to the
	// computor), so it is NOT sorted here; only the final set comparison
	// across definitions needs the caller to sort whole mapping strings.
	b.WriteString(strings.Join(inputStrs, ","))
	b.WriteString("]")

	return b.String()
}

// SortedMappingSet returns a sorted copy of already-canonicalized mappings, producing
// a stable representation for schema-hash computation.
func SortedMappingSet(mappings []string) []string {
	out := make([]string, len(mappings))
	copy(out, mappings)
	sort.Strings(out)
	return out
}

// PatternsOverlap reports whether two output patterns could unify
// under some substitution: same head, same arity, and no position
// where both sides are constants with different values.
func PatternsOverlap(a, b *Call) bool {
	if a.Head != b.Head || len(a.Args) != len(b.Args) {
		return false
	}
	for i := range a.Args {
		aConst, aIsConst := a.Args[i].(*Const)
		bConst, bIsConst := b.Args[i].(*Const)
		if aIsConst && bIsConst && aConst.String() != bConst.String() {
			return false
		}
	}
	return true
}
