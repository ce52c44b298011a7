package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// IsExpression Tests
// ============================================================================

func TestIsExpression(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"plain string", "hello", false},
		{"expression", `{{ lower_bound "t" "lower" }}`, true},
		{"only opening delim", "{{ lower_bound", false},
		{"only closing delim", "lower_bound }}", false},
		{"embedded expression", `prefix-{{ upper_bound "t" "upper" }}-suffix`, true},
		{"empty string", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsExpression(tt.in))
		})
	}
}

// ============================================================================
// Eval Tests
// ============================================================================

func TestEval_Bounds(t *testing.T) {
	t.Parallel()

	ctx := Context{Arrays: map[string]Bounds{
		"t":   {Lower: "2020-01-01", Upper: "2020-01-31"},
		"lat": {Lower: 10.0, Upper: 30.0},
	}}

	tests := []struct {
		name string
		expr string
		want string
	}{
		{"lower_bound lower ref", `{{ lower_bound "t" "lower" }}`, "2020-01-01"},
		{"lower_bound upper ref", `{{ lower_bound "t" "upper" }}`, "2020-01-31"},
		{"upper_bound lower ref", `{{ upper_bound "t" "lower" }}`, "2020-01-01"},
		{"upper_bound upper ref", `{{ upper_bound "t" "upper" }}`, "2020-01-31"},
		{"center of numeric array", `{{ lower_bound "lat" "center" }}`, "20"},
		{"literal passthrough", "no template here", "no template here"},
		{"composed", `from {{ lower_bound "t" "lower" }} to {{ upper_bound "t" "upper" }}`, "from 2020-01-01 to 2020-01-31"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Eval(tt.expr, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEval_UnknownArrayIsAnError(t *testing.T) {
	t.Parallel()

	ctx := Context{Arrays: map[string]Bounds{"t": {Lower: 1.0, Upper: 2.0}}}
	_, err := Eval(`{{ lower_bound "nope" "lower" }}`, ctx)
	require.Error(t, err)
}

func TestEval_UnknownRefIsAnError(t *testing.T) {
	t.Parallel()

	ctx := Context{Arrays: map[string]Bounds{"t": {Lower: 1.0, Upper: 2.0}}}
	_, err := Eval(`{{ upper_bound "t" "middle" }}`, ctx)
	require.Error(t, err)
}

func TestEval_RejectsOutsideFuncMap(t *testing.T) {
	t.Parallel()

	ctx := Context{}

	// No ambient scope to escape into: field access and arbitrary
	// functions outside the FuncMap fail to parse or execute.
	_, err := Eval("{{ .Secret }}", ctx)
	require.Error(t, err)

	_, err = Eval("{{ call .SomeFunc }}", ctx)
	require.Error(t, err)
}

func TestEval_InvalidSyntax(t *testing.T) {
	t.Parallel()

	_, err := Eval(`{{ lower_bound "t" "lower"`, Context{})
	require.Error(t, err)
}

// ============================================================================
// EvalAttrs Tests
// ============================================================================

func TestEvalAttrs(t *testing.T) {
	t.Parallel()

	ctx := Context{Arrays: map[string]Bounds{"t": {Lower: "A", Upper: "Z"}}}
	attrs := map[string]any{
		"title":      "static title",
		"range":      `{{ lower_bound "t" "lower" }}-{{ upper_bound "t" "upper" }}`,
		"count":      42,
		"is_enabled": true,
	}

	got, err := EvalAttrs(attrs, ctx)
	require.NoError(t, err)

	assert.Equal(t, "static title", got["title"])
	assert.Equal(t, "A-Z", got["range"])
	assert.Equal(t, 42, got["count"])
	assert.Equal(t, true, got["is_enabled"])
}

func TestEvalAttrs_PropagatesError(t *testing.T) {
	t.Parallel()

	attrs := map[string]any{"bad": "{{ .Nope }}"}
	_, err := EvalAttrs(attrs, Context{})
	require.Error(t, err)
}
