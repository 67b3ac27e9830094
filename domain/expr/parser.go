package expr

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	apperrors "increment/pkg/errors"
)

var identRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// ParseExpr parses pattern-expression syntax: a bare identifier ("a")
// or a call ("f(x,y)") whose arguments are variables or JSON literals.
// It fails with an InvalidExpression domain error on any syntax problem.
func ParseExpr(s string) (Expr, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, apperrors.NewInvalidExpression(s, "empty expression")
	}

	open := strings.IndexByte(trimmed, '(')
	if open == -1 {
		if !identRegexp.MatchString(trimmed) {
			return nil, apperrors.NewInvalidExpression(s, "not a valid identifier")
		}
		return &Sym{Name: trimmed}, nil
	}

	if !strings.HasSuffix(trimmed, ")") {
		return nil, apperrors.NewInvalidExpression(s, "missing closing parenthesis")
	}

	head := trimmed[:open]
	if !identRegexp.MatchString(head) {
		return nil, apperrors.NewInvalidExpression(s, "invalid head identifier")
	}

	body := trimmed[open+1 : len(trimmed)-1]
	body = strings.TrimSpace(body)

	var argStrs []string
	if body != "" {
		argStrs = splitArgs(body)
	}

	args := make([]Arg, 0, len(argStrs))
	for _, raw := range argStrs {
		arg, err := parseArg(strings.TrimSpace(raw))
		if err != nil {
			return nil, apperrors.NewInvalidExpression(s, err.Error())
		}
		args = append(args, arg)
	}

	return &Call{Head: head, Args: args}, nil
}

// splitArgs splits a comma-separated argument list, respecting quoted
// strings so that a literal like "a,b" is not split in the middle.
func splitArgs(body string) []string {
	var out []string
	var cur strings.Builder
	inString := false
	for i := 0; i < len(body); i++ {
		ch := body[i]
		switch {
		case ch == '"' && (i == 0 || body[i-1] != '\\'):
			inString = !inString
			cur.WriteByte(ch)
		case ch == ',' && !inString:
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(ch)
		}
	}
	out = append(out, cur.String())
	return out
}

func parseArg(s string) (Arg, error) {
	if s == "" {
		return nil, fmt.Errorf("empty argument")
	}

	if identRegexp.MatchString(s) && s != "true" && s != "false" && s != "null" {
		return &Var{Name: s}, nil
	}

	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("argument %q is neither a variable nor a JSON literal", s)
	}
	return &Const{Value: v}, nil
}
