package expr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCanonical(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"a >= 0.2", "(a >= 0.2)"},
		{"x + y * 2", "(x + (y * 2))"},
		{"(x + y) * 2", "((x + y) * 2)"},
		{"a > 1 && b < 2 || c", "(((a > 1) && (b < 2)) || c)"},
		{"!flag", "(!flag)"},
		{"-x + 1", "((-x) + 1)"},
		{"sqrt(px*px + py*py)", "sqrt(((px * px) + (py * py)))"},
		{"where(q > 0, 1.0, -1.0)", "where((q > 0), 1.0, (-1.0))"},
		{`name == "mu"`, `(name == "mu")`},
		{`name != 'e'`, `(name != "e")`},
		{"x % 3 == 0", "((x % 3) == 0)"},
		{"1e3 < .5", "(1000.0 < 0.5)"},
		{"true", "true"},
		{"a - b - c", "((a - b) - c)"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			e, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, e.String())

			// canonical form parses back to itself
			again, err := Parse(e.String())
			require.NoError(t, err)
			assert.Equal(t, e.String(), again.String())
		})
	}
}

func TestParseLiteralTypes(t *testing.T) {
	e := MustParse("42")
	lit, ok := e.(*LiteralExpr)
	require.True(t, ok)
	assert.Equal(t, int64(42), lit.Value())

	lit = MustParse("4.0").(*LiteralExpr)
	assert.Equal(t, 4.0, lit.Value())

	lit = MustParse(`"a\"b"`).(*LiteralExpr)
	assert.Equal(t, `a"b`, lit.Value())
}

func TestLiteralStringParsesBack(t *testing.T) {
	tests := []struct {
		value    any
		expected string
	}{
		{math.Inf(1), "inf()"},
		{math.Inf(-1), "(-inf())"},
		{math.NaN(), "nan()"},
		{-2.5, "(-2.5)"},
		{-3, "(-3)"},
		{math.Copysign(0, -1), "(-0.0)"},
		{1e300, "1e+300"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			e := Col("x").Lt(Lit(tt.value))
			assert.Equal(t, "(x < "+tt.expected+")", e.String())

			parsed, err := Parse(e.String())
			require.NoError(t, err)
			assert.Equal(t, e.String(), parsed.String())
		})
	}

	lit, ok := MustParse("inf()").(*LiteralExpr)
	require.True(t, ok)
	assert.True(t, math.IsInf(lit.Value().(float64), 1))
	lit, ok = MustParse("nan()").(*LiteralExpr)
	require.True(t, ok)
	assert.True(t, math.IsNaN(lit.Value().(float64)))

	_, ok = MustParse("inf(x)").(*LiteralExpr)
	assert.False(t, ok, "inf with arguments stays a call")
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		"",
		"a >",
		"(a > 1",
		"a = 1",
		"a & b",
		"sqrt(a,",
		"a b",
		`"open`,
		"#",
	}

	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			require.Error(t, err)
			var syn *SyntaxError
			assert.ErrorAs(t, err, &syn)
		})
	}
}

func TestSyntaxErrorPosition(t *testing.T) {
	_, err := Parse("a > > 1")
	var syn *SyntaxError
	require.ErrorAs(t, err, &syn)
	assert.Equal(t, 4, syn.Position)
	assert.Contains(t, syn.Error(), "offset 4")
}

func TestBuilderMatchesParser(t *testing.T) {
	built := Col("pt").Gt(Lit(20)).And(Binary(Call("abs", Col("eta")), OpLt, Lit(2.4)))
	parsed := MustParse("pt > 20 && abs(eta) < 2.4")
	assert.Equal(t, parsed.String(), built.String())
	assert.Equal(t, []string{"eta", "pt"}, Columns(built))
}
