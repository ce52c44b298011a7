// Package eval evaluates the restricted {{ ... }} expressions permitted
// inside attribute values when permit_eval is enabled (spec §4.6). It
// deliberately uses the standard library's text/template rather than a
// general-purpose expression language: the spec's own delimiter syntax
// is template syntax, and a FuncMap restricted to a handful of named
// helpers gives the same "small, auditable vocabulary" property a
// sandboxed CEL environment would, without adding an expression-language
// dependency nothing else in the corpus actually imports.
package eval

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/bcdev/zappend/pkg/zerrors"
)

// Bounds is one named array's lower and upper extent, as known at the
// point attrs are evaluated (spec §4.6: "post-write against the
// freshly-committed in-memory cube view").
type Bounds struct {
	Lower any
	Upper any
}

// Context supplies the arrays an attribute expression may reference by
// name, e.g. the append axis's own coordinate plus any other coordinate
// variable carried along in the slice.
type Context struct {
	Arrays map[string]Bounds
}

// funcMap exposes lower_bound(array, ref) and upper_bound(array, ref)
// with ref ∈ {"lower", "upper", "center"} (spec §4.6/§9): both helpers
// resolve the same way, so a template may use whichever name reads
// better at the call site.
func funcMap(c Context) template.FuncMap {
	bound := func(array, ref string) (any, error) {
		b, ok := c.Arrays[array]
		if !ok {
			return nil, fmt.Errorf("unknown array %q", array)
		}
		switch ref {
		case "lower":
			return b.Lower, nil
		case "upper":
			return b.Upper, nil
		case "center":
			return center(b.Lower, b.Upper)
		default:
			return nil, fmt.Errorf("ref must be %q, %q, or %q, got %q", "lower", "upper", "center", ref)
		}
	}
	return template.FuncMap{
		"lower_bound": bound,
		"upper_bound": bound,
	}
}

// center computes the midpoint of lo and hi, both of which must be one
// of the numeric kinds Bounds is ever populated with.
func center(lo, hi any) (any, error) {
	loF, err := toFloat64(lo)
	if err != nil {
		return nil, err
	}
	hiF, err := toFloat64(hi)
	if err != nil {
		return nil, err
	}
	return (loF + hiF) / 2, nil
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("value %v is not numeric", v)
	}
}

// IsExpression reports whether s contains the {{ ... }} delimiters that
// mark it as an expression rather than a literal attribute value.
func IsExpression(s string) bool {
	return strings.Contains(s, "{{") && strings.Contains(s, "}}")
}

// Eval renders expr against ctx and returns the resulting string. A
// template referencing anything outside the FuncMap above (field
// access, pipelines calling arbitrary functions) fails to parse or to
// execute, which is the containment mechanism: there is no ambient scope
// to escape into.
func Eval(expr string, ctx Context) (string, error) {
	tmpl, err := template.New("attr").Option("missingkey=error").Funcs(funcMap(ctx)).Parse(expr)
	if err != nil {
		return "", zerrors.Config("invalid attribute expression %q: %s", expr, err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, nil); err != nil {
		return "", zerrors.Config("evaluating attribute expression %q: %s", expr, err)
	}
	return sb.String(), nil
}

// EvalAttrs walks attrs and evaluates every string value containing
// {{ ... }} delimiters in place, returning a new map; non-expression
// values pass through unchanged.
func EvalAttrs(attrs map[string]any, ctx Context) (map[string]any, error) {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		s, ok := v.(string)
		if !ok || !IsExpression(s) {
			out[k] = v
			continue
		}
		rendered, err := Eval(s, ctx)
		if err != nil {
			return nil, fmt.Errorf("attrs[%q]: %w", k, err)
		}
		out[k] = rendered
	}
	return out, nil
}
