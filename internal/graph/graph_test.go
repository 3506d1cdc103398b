package graph

import (
	"math"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/goccy/go-json"
	"github.com/paveg/tachyon/internal/action"
	"github.com/paveg/tachyon/internal/errors"
	"github.com/paveg/tachyon/internal/expr"
	"github.com/paveg/tachyon/internal/hist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "pt", Type: arrow.PrimitiveTypes.Float64},
		{Name: "eta", Type: arrow.PrimitiveTypes.Float64},
		{Name: "nmuon", Type: arrow.PrimitiveTypes.Int32},
		{Name: "flavor", Type: arrow.BinaryTypes.String},
		{Name: "trigger", Type: arrow.FixedWidthTypes.Boolean},
	}, nil)
}

func TestBuildDoesNotShareScopes(t *testing.T) {
	g := New(eventSchema())

	sel, err := g.Filter(RootID, "pt > 20")
	require.NoError(t, err)
	def, err := g.Define(sel, "pt2", "pt * pt")
	require.NoError(t, err)
	other, err := g.Filter(RootID, "trigger")
	require.NoError(t, err)

	assert.Equal(t, NodeID(1), sel)
	assert.Equal(t, NodeID(2), def)
	assert.Equal(t, NodeID(3), other)
	assert.Equal(t, []NodeID{sel, other}, g.Children(RootID))

	assert.Contains(t, g.Columns(def), "pt2")
	assert.NotContains(t, g.Columns(other), "pt2")
	assert.Equal(t, []string{"pt2"}, g.DefinedColumns(def))
	assert.Empty(t, g.DefinedColumns(sel))
	assert.Equal(t, []NodeID{RootID, sel, def}, g.Path(def))

	dt, err := g.ColumnType(def, "pt2")
	require.NoError(t, err)
	assert.Equal(t, arrow.FLOAT64, dt.ID())
}

func TestBuildErrors(t *testing.T) {
	g := New(eventSchema())
	def, err := g.Define(RootID, "ptsq", "pt * pt")
	require.NoError(t, err)

	tests := []struct {
		name     string
		build    func() error
		sentinel error
	}{
		{"syntax error", func() error { _, err := g.Filter(RootID, "pt >"); return err }, errors.ErrInvalidExpression},
		{"unknown column", func() error { _, err := g.Filter(RootID, "px > 1"); return err }, errors.ErrColumnNotFound},
		{"unknown function", func() error { _, err := g.Define(RootID, "y", "frob(pt)"); return err }, errors.ErrInvalidExpression},
		{"non boolean predicate", func() error { _, err := g.Filter(RootID, "pt + 1"); return err }, errors.ErrTypeMismatch},
		{"string arithmetic", func() error { _, err := g.Define(RootID, "y", "flavor * 2"); return err }, errors.ErrTypeMismatch},
		{"define source column", func() error { _, err := g.Define(RootID, "pt", "eta"); return err }, errors.ErrColumnExists},
		{"define defined column", func() error { _, err := g.Define(def, "ptsq", "eta"); return err }, errors.ErrColumnExists},
		{"redefine unknown", func() error { _, err := g.Redefine(RootID, "px", "eta"); return err }, errors.ErrColumnNotFound},
		{"alias unknown", func() error { _, err := g.Alias(RootID, "p", "px"); return err }, errors.ErrColumnNotFound},
		{"alias existing", func() error { _, err := g.Alias(RootID, "eta", "pt"); return err }, errors.ErrColumnExists},
		{"invalid name", func() error { _, err := g.Define(RootID, "a b", "pt"); return err }, errors.ErrInvalidInput},
		{"mean of string", func() error {
			_, err := g.Book(RootID, action.Spec{Kind: action.KindMean, Column: "flavor"})
			return err
		}, errors.ErrTypeMismatch},
		{"histogram without model", func() error {
			_, err := g.Book(RootID, action.Spec{Kind: action.KindHisto1D, Column: "pt"})
			return err
		}, errors.ErrInvalidModel},
		{"histogram bad limits", func() error {
			_, err := g.Book(RootID, action.Spec{Kind: action.KindHisto1D, Column: "pt", Model: &hist.Model{NBins: 10, Min: 5, Max: 1}})
			return err
		}, errors.ErrInvalidModel},
		{"csv snapshot", func() error {
			_, err := g.Book(RootID, action.Spec{Kind: action.KindSnapshot, Path: "out.csv"})
			return err
		}, errors.ErrInvalidInput},
		{"child of action", func() error {
			id, err := g.Book(RootID, action.Spec{Kind: action.KindCount})
			require.NoError(t, err)
			_, err = g.Filter(id, "pt > 1")
			return err
		}, errors.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := g.Len()
			err := tt.build()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			if tt.name != "child of action" {
				assert.Equal(t, before, g.Len(), "failed build must not add nodes")
			}
		})
	}
}

func TestColumnNotFoundHint(t *testing.T) {
	g := New(eventSchema())
	_, err := g.Filter(RootID, "ptt > 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did you mean 'pt'?")
}

func TestRedefineScoping(t *testing.T) {
	g := New(eventSchema())

	before, err := g.Define(RootID, "x", "pt")
	require.NoError(t, err)
	early, err := g.Filter(before, "x > 0")
	require.NoError(t, err)
	redef, err := g.Redefine(early, "x", "x > 10")
	require.NoError(t, err)

	xEarly, ok := g.Resolve(early, "x")
	require.True(t, ok)
	xLate, ok := g.Resolve(redef, "x")
	require.True(t, ok)

	assert.Equal(t, before, xEarly.Node)
	assert.Equal(t, arrow.FLOAT64, xEarly.Type.ID())
	assert.Equal(t, redef, xLate.Node)
	assert.Equal(t, arrow.BOOL, xLate.Type.ID())

	// Redefining a source column shadows it below the new node only.
	pt, err := g.Redefine(RootID, "pt", "pt / 1000.0")
	require.NoError(t, err)
	b, _ := g.Resolve(pt, "pt")
	assert.Equal(t, pt, b.Node)
	b, _ = g.Resolve(RootID, "pt")
	assert.Equal(t, RootID, b.Node)
}

func TestAlias(t *testing.T) {
	g := New(eventSchema())
	def, err := g.Define(RootID, "ptsq", "pt * pt")
	require.NoError(t, err)
	al, err := g.Alias(def, "p2", "ptsq")
	require.NoError(t, err)

	b, ok := g.Resolve(al, "p2")
	require.True(t, ok)
	assert.Equal(t, Binding{Node: def, Column: "ptsq", Type: arrow.PrimitiveTypes.Float64}, b)
	assert.Equal(t, []string{"p2", "ptsq"}, g.DefinedColumns(al))

	src, err := g.Alias(RootID, "n", "nmuon")
	require.NoError(t, err)
	b, _ = g.Resolve(src, "n")
	assert.Equal(t, RootID, b.Node)
	assert.Equal(t, "nmuon", b.Column)
}

func TestBookFillsTypes(t *testing.T) {
	g := New(eventSchema())
	sel, err := g.Filter(RootID, "trigger")
	require.NoError(t, err)

	model := &hist.Model{Name: "h", NBins: 10, Min: 0, Max: 100}
	h, err := g.Book(sel, action.Spec{Kind: action.KindHisto1D, Column: "pt", Weight: "nmuon", Model: model})
	require.NoError(t, err)
	snap, err := g.Book(sel, action.Spec{Kind: action.KindSnapshot, Path: "out.arrow"})
	require.NoError(t, err)

	n, err := g.Node(h)
	require.NoError(t, err)
	assert.Equal(t, []string{"float64", "int32"}, n.Action.Types)
	model.NBins = 1
	assert.Equal(t, 10, n.Action.Model.NBins, "booked model is a copy")

	n, err = g.Node(snap)
	require.NoError(t, err)
	assert.Equal(t, []string{"eta", "flavor", "nmuon", "pt", "trigger"}, n.Action.Select)
	assert.Equal(t, []string{"float64", "utf8", "int32", "float64", "bool"}, n.Action.Types)
	assert.Equal(t, []NodeID{h, snap}, g.Actions())
}

func buildSample(t *testing.T) *Graph {
	t.Helper()
	g := New(eventSchema())
	sel, err := g.FilterNamed(RootID, "pt > 20 && abs(eta) < 2.4", "kinematics")
	require.NoError(t, err)
	def, err := g.Define(sel, "w", "where(nmuon > 1, 0.5, 1.0)")
	require.NoError(t, err)
	al, err := g.Alias(def, "weight", "w")
	require.NoError(t, err)
	re, err := g.Redefine(al, "pt", "pt / 1000.0")
	require.NoError(t, err)
	_, err = g.Book(re, action.Spec{Kind: action.KindMean, Column: "pt"})
	require.NoError(t, err)
	_, err = g.Book(al, action.Spec{Kind: action.KindHisto1D, Column: "pt", Weight: "weight",
		Model: &hist.Model{Name: "pt", NBins: 20, Min: 0, Max: 200}})
	require.NoError(t, err)
	_, err = g.FilterExpr(RootID, expr.Col("flavor").Eq(expr.Lit("b")), "")
	require.NoError(t, err)
	_, err = g.Book(sel, action.Spec{Kind: action.KindReport})
	require.NoError(t, err)
	return g
}

func TestSpecReplay(t *testing.T) {
	g := buildSample(t)
	spec := g.Spec()

	data, err := json.Marshal(spec)
	require.NoError(t, err)
	var decoded Spec
	require.NoError(t, json.Unmarshal(data, &decoded))

	replayed, err := FromSpec(eventSchema(), decoded)
	require.NoError(t, err)
	require.Equal(t, g.Len(), replayed.Len())
	assert.Equal(t, spec, replayed.Spec())
	assert.Equal(t, g.Fingerprint(), replayed.Fingerprint())

	for i := 0; i < g.Len(); i++ {
		id := NodeID(i)
		assert.Equal(t, g.Columns(id), replayed.Columns(id))
	}
}

func TestSpecReplayNonFiniteLiterals(t *testing.T) {
	g := New(eventSchema())
	sel, err := g.FilterExpr(RootID, expr.Col("pt").Lt(expr.Lit(math.Inf(1))), "")
	require.NoError(t, err)
	_, err = g.DefineExpr(sel, "shifted", expr.Binary(expr.Col("eta"), expr.OpAdd, expr.Lit(-2.5)))
	require.NoError(t, err)
	_, err = g.DefineExpr(sel, "lo", expr.Binary(expr.Col("pt"), expr.OpMul, expr.Lit(math.Inf(-1))))
	require.NoError(t, err)

	replayed, err := FromSpec(eventSchema(), g.Spec())
	require.NoError(t, err)
	assert.Equal(t, g.Spec(), replayed.Spec())
	assert.Equal(t, g.Fingerprint(), replayed.Fingerprint())
}

func TestSpecReplayErrors(t *testing.T) {
	g := buildSample(t)
	spec := g.Spec()

	_, err := FromSpec(eventSchema(), Spec{})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	// A schema missing a referenced column cannot replay the graph.
	narrow := arrow.NewSchema([]arrow.Field{{Name: "pt", Type: arrow.PrimitiveTypes.Float64}}, nil)
	_, err = FromSpec(narrow, spec)
	assert.ErrorIs(t, err, errors.ErrColumnNotFound)

	shuffled := Spec{Nodes: append([]NodeSpec(nil), spec.Nodes...)}
	shuffled.Nodes[1].ID = 7
	_, err = FromSpec(eventSchema(), shuffled)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestFingerprintChanges(t *testing.T) {
	a := buildSample(t)
	b := buildSample(t)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	_, err := b.Book(RootID, action.Spec{Kind: action.KindCount})
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestDescribe(t *testing.T) {
	g := buildSample(t)
	tests := []struct {
		id       NodeID
		expected string
	}{
		{RootID, "Root"},
		{1, "Filter ((pt > 20) && (abs(eta) < 2.4)) [kinematics]"},
		{3, "Alias weight -> w"},
		{4, "Redefine pt = (pt / 1000.0)"},
		{5, "Action mean(pt)"},
	}
	for _, tt := range tests {
		n, err := g.Node(tt.id)
		require.NoError(t, err)
		assert.Equal(t, tt.expected, n.Describe())
	}

	_, err := g.Node(99)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}
