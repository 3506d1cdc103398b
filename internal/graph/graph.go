// Package graph builds the computation graph of an analysis: an arena of
// Root, Filter, Define, Alias and Action nodes addressed by NodeID. Building
// the graph never touches data; every node is type checked against the
// columns visible at its parent when it is created.
//
// A Graph is not safe for concurrent use. The engine serializes access.
package graph

import (
	stderrors "errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/paveg/tachyon/internal/action"
	"github.com/paveg/tachyon/internal/errors"
	"github.com/paveg/tachyon/internal/expr"
	"github.com/paveg/tachyon/internal/io"
	"golang.org/x/exp/slices"
)

// NodeID addresses a node in the graph arena.
type NodeID int

// RootID is the id of the root node of every graph.
const RootID NodeID = 0

// NodeKind identifies the role of a node.
type NodeKind string

const (
	KindRoot   NodeKind = "root"
	KindFilter NodeKind = "filter"
	KindDefine NodeKind = "define"
	KindAlias  NodeKind = "alias"
	KindAction NodeKind = "action"
)

// Binding is what a visible column name refers to. Node is RootID for
// source columns and the defining node otherwise; Column is the name the
// value is stored under at that node.
type Binding struct {
	Node   NodeID
	Column string
	Type   arrow.DataType
}

// Node is a vertex of the graph. Nodes are immutable once created.
type Node struct {
	ID     NodeID
	Kind   NodeKind
	Parent NodeID

	// Name is the filter name, the defined column or the alias.
	Name string
	// Expr is the predicate of a filter or the expression of a define.
	Expr     expr.Expr
	Type     arrow.DataType
	Redefine bool
	// Target is the aliased column.
	Target string
	Action *action.Spec

	scope    map[string]Binding
	children []NodeID
}

// Graph is an arena of nodes rooted at the source dataset's schema.
type Graph struct {
	schema *arrow.Schema
	nodes  []*Node
}

// New creates a graph whose root exposes the fields of schema.
func New(schema *arrow.Schema) *Graph {
	scope := make(map[string]Binding, schema.NumFields())
	for _, f := range schema.Fields() {
		scope[f.Name] = Binding{Node: RootID, Column: f.Name, Type: f.Type}
	}
	root := &Node{ID: RootID, Kind: KindRoot, Parent: RootID, scope: scope}
	return &Graph{schema: schema, nodes: []*Node{root}}
}

// Schema returns the schema of the source dataset.
func (g *Graph) Schema() *arrow.Schema {
	return g.schema
}

// Len returns the number of nodes, the root included.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Node returns the node with the given id.
func (g *Graph) Node(id NodeID) (*Node, error) {
	if id < 0 || int(id) >= len(g.nodes) {
		return nil, errors.NewInvalidInputError("Node", fmt.Sprintf("node %d does not exist", id))
	}
	return g.nodes[id], nil
}

// Children returns the ids of the direct children of id in creation order.
func (g *Graph) Children(id NodeID) []NodeID {
	n, err := g.Node(id)
	if err != nil {
		return nil
	}
	return append([]NodeID(nil), n.children...)
}

// Path returns the ids from the root down to id, both included.
func (g *Graph) Path(id NodeID) []NodeID {
	if _, err := g.Node(id); err != nil {
		return nil
	}
	var path []NodeID
	for cur := id; ; cur = g.nodes[cur].Parent {
		path = append(path, cur)
		if cur == RootID {
			break
		}
	}
	slices.Reverse(path)
	return path
}

// Resolve looks up a column name in the scope of id.
func (g *Graph) Resolve(id NodeID, name string) (Binding, bool) {
	n, err := g.Node(id)
	if err != nil {
		return Binding{}, false
	}
	b, ok := n.scope[name]
	return b, ok
}

// Columns returns the sorted names visible at id.
func (g *Graph) Columns(id NodeID) []string {
	return g.names(id, func(Binding) bool { return true })
}

// DefinedColumns returns the sorted names visible at id that are not
// source columns.
func (g *Graph) DefinedColumns(id NodeID) []string {
	return g.names(id, func(b Binding) bool { return b.Node != RootID })
}

func (g *Graph) names(id NodeID, keep func(Binding) bool) []string {
	n, err := g.Node(id)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(n.scope))
	for name, b := range n.scope {
		if keep(b) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// ColumnType returns the type of a column visible at id.
func (g *Graph) ColumnType(id NodeID, name string) (arrow.DataType, error) {
	b, ok := g.Resolve(id, name)
	if !ok {
		return nil, errors.NewColumnNotFoundError("ColumnType", name, g.Columns(id)...)
	}
	return b.Type, nil
}

// Actions returns the ids of all action nodes in creation order.
func (g *Graph) Actions() []NodeID {
	var ids []NodeID
	for _, n := range g.nodes {
		if n.Kind == KindAction {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// transform returns the parent node for a new transformation, rejecting
// action nodes, which cannot have children.
func (g *Graph) transform(op string, parent NodeID) (*Node, error) {
	p, err := g.Node(parent)
	if err != nil {
		return nil, err
	}
	if p.Kind == KindAction {
		return nil, errors.NewInvalidInputError(op, fmt.Sprintf("node %d is an action", parent))
	}
	return p, nil
}

func (g *Graph) add(n *Node) NodeID {
	n.ID = NodeID(len(g.nodes))
	g.nodes = append(g.nodes, n)
	g.nodes[n.Parent].children = append(g.nodes[n.Parent].children, n.ID)
	return n.ID
}

func (n *Node) resolver() expr.Resolver {
	return func(name string) (arrow.DataType, bool) {
		b, ok := n.scope[name]
		return b.Type, ok
	}
}

func (n *Node) visible() []string {
	names := make([]string, 0, len(n.scope))
	for name := range n.scope {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (n *Node) extend(name string, b Binding) map[string]Binding {
	scope := make(map[string]Binding, len(n.scope)+1)
	for k, v := range n.scope {
		scope[k] = v
	}
	scope[name] = b
	return scope
}

// check type checks e at node p, turning checker failures into engine
// errors.
func check(op string, p *Node, e expr.Expr) (arrow.DataType, error) {
	for _, name := range expr.Columns(e) {
		if _, ok := p.scope[name]; !ok {
			return nil, errors.NewColumnNotFoundError(op, name, p.visible()...)
		}
	}
	dt, err := expr.Check(e, p.resolver())
	if err == nil {
		return dt, nil
	}
	if stderrors.Is(err, expr.ErrType) {
		return nil, &errors.EngineError{
			Kind:    errors.KindTypeMismatch,
			Op:      op,
			Message: fmt.Sprintf("cannot type %s", e),
			Cause:   err,
		}
	}
	return nil, errors.NewInvalidExpressionError(op, e.String(), err)
}

func parse(op, source string) (expr.Expr, error) {
	e, err := expr.Parse(source)
	if err != nil {
		return nil, errors.NewInvalidExpressionError(op, source, err)
	}
	return e, nil
}

// Filter adds a node keeping the rows of parent for which predicate holds.
func (g *Graph) Filter(parent NodeID, predicate string) (NodeID, error) {
	return g.FilterNamed(parent, predicate, "")
}

// FilterNamed is Filter with a name under which the cut appears in reports.
func (g *Graph) FilterNamed(parent NodeID, predicate, name string) (NodeID, error) {
	e, err := parse("Filter", predicate)
	if err != nil {
		return 0, err
	}
	return g.FilterExpr(parent, e, name)
}

// FilterExpr adds a filter node for an already built predicate.
func (g *Graph) FilterExpr(parent NodeID, predicate expr.Expr, name string) (NodeID, error) {
	p, err := g.transform("Filter", parent)
	if err != nil {
		return 0, err
	}
	dt, err := check("Filter", p, predicate)
	if err != nil {
		return 0, err
	}
	if dt.ID() != arrow.BOOL {
		return 0, errors.NewTypeMismatchError("Filter", predicate.String(), "bool", dt.String())
	}
	return g.add(&Node{
		Kind:   KindFilter,
		Parent: parent,
		Name:   name,
		Expr:   predicate,
		Type:   dt,
		scope:  p.scope,
	}), nil
}

// Define adds a node computing a new column. It fails if name is already
// visible at parent.
func (g *Graph) Define(parent NodeID, name, expression string) (NodeID, error) {
	e, err := parse("Define", expression)
	if err != nil {
		return 0, err
	}
	return g.DefineExpr(parent, name, e)
}

// DefineExpr is Define for an already built expression.
func (g *Graph) DefineExpr(parent NodeID, name string, e expr.Expr) (NodeID, error) {
	return g.define("Define", parent, name, e, false)
}

// Redefine adds a node that rebinds an existing name to a new expression.
// Only descendants of the new node see the new binding.
func (g *Graph) Redefine(parent NodeID, name, expression string) (NodeID, error) {
	e, err := parse("Redefine", expression)
	if err != nil {
		return 0, err
	}
	return g.RedefineExpr(parent, name, e)
}

// RedefineExpr is Redefine for an already built expression.
func (g *Graph) RedefineExpr(parent NodeID, name string, e expr.Expr) (NodeID, error) {
	return g.define("Redefine", parent, name, e, true)
}

func (g *Graph) define(op string, parent NodeID, name string, e expr.Expr, redefine bool) (NodeID, error) {
	p, err := g.transform(op, parent)
	if err != nil {
		return 0, err
	}
	if !validName(name) {
		return 0, errors.NewInvalidInputError(op, fmt.Sprintf("invalid column name %q", name))
	}
	_, exists := p.scope[name]
	switch {
	case !redefine && exists:
		return 0, errors.NewColumnExistsError(op, name)
	case redefine && !exists:
		return 0, errors.NewColumnNotFoundError(op, name, p.visible()...)
	}
	dt, err := check(op, p, e)
	if err != nil {
		return 0, err
	}
	id := NodeID(len(g.nodes))
	return g.add(&Node{
		Kind:     KindDefine,
		Parent:   parent,
		Name:     name,
		Expr:     e,
		Type:     dt,
		Redefine: redefine,
		scope:    p.extend(name, Binding{Node: id, Column: name, Type: dt}),
	}), nil
}

// Alias adds a node that makes column visible under a second name.
func (g *Graph) Alias(parent NodeID, alias, column string) (NodeID, error) {
	p, err := g.transform("Alias", parent)
	if err != nil {
		return 0, err
	}
	if !validName(alias) {
		return 0, errors.NewInvalidInputError("Alias", fmt.Sprintf("invalid column name %q", alias))
	}
	b, ok := p.scope[column]
	if !ok {
		return 0, errors.NewColumnNotFoundError("Alias", column, p.visible()...)
	}
	if _, exists := p.scope[alias]; exists {
		return 0, errors.NewColumnExistsError("Alias", alias)
	}
	return g.add(&Node{
		Kind:   KindAlias,
		Parent: parent,
		Name:   alias,
		Target: column,
		Type:   b.Type,
		scope:  p.extend(alias, b),
	}), nil
}

// validName reports whether name can be referenced from an expression.
func validName(name string) bool {
	if name == "" {
		return false
	}
	e, err := expr.Parse(name)
	if err != nil {
		return false
	}
	c, ok := e.(*expr.ColumnExpr)
	return ok && c.Name() == name
}

// Book adds an action node reading the rows of parent. The stored spec is a
// copy with Types resolved and, for snapshots without a selection, every
// visible column selected.
func (g *Graph) Book(parent NodeID, spec action.Spec) (NodeID, error) {
	op := string(spec.Kind)
	p, err := g.transform(op, parent)
	if err != nil {
		return 0, err
	}
	if spec.Kind == action.KindSnapshot && len(spec.Select) == 0 {
		spec.Select = g.Columns(parent)
	} else {
		spec.Select = append([]string(nil), spec.Select...)
	}
	if err := validateAction(op, spec); err != nil {
		return 0, err
	}

	cols := spec.Columns()
	spec.Types = make([]string, 0, len(cols))
	for _, name := range cols {
		b, ok := p.scope[name]
		if !ok {
			return 0, errors.NewColumnNotFoundError(op, name, p.visible()...)
		}
		if spec.NumericInput() && !numeric(b.Type) {
			return 0, errors.NewTypeMismatchError(op, name, "numeric column", b.Type.String())
		}
		spec.Types = append(spec.Types, b.Type.String())
	}
	if spec.Model != nil {
		m := *spec.Model
		spec.Model = &m
	}
	return g.add(&Node{
		Kind:   KindAction,
		Parent: parent,
		Action: &spec,
		scope:  p.scope,
	}), nil
}

func validateAction(op string, spec action.Spec) error {
	switch spec.Kind {
	case action.KindCount, action.KindReport:
	case action.KindSum, action.KindMean, action.KindMin, action.KindMax, action.KindStdDev, action.KindTake:
		if spec.Column == "" {
			return errors.NewInvalidInputError(op, "column is required")
		}
	case action.KindHisto1D:
		if spec.Column == "" {
			return errors.NewInvalidInputError(op, "column is required")
		}
		if spec.Model == nil {
			return errors.NewInvalidModelError(op, "histogram model is required")
		}
		if err := spec.Model.Validate(); err != nil {
			e := errors.NewInvalidModelError(op, "invalid histogram model")
			e.Cause = err
			return e
		}
	case action.KindSnapshot:
		if spec.Path == "" {
			return errors.NewInvalidInputError(op, "output path is required")
		}
		format := io.Format(spec.Format)
		if format == "" {
			format, _ = io.DetectFormat(spec.Path)
			if format == "" {
				format = io.FormatParquet
			}
		}
		if format != io.FormatParquet && format != io.FormatIPC {
			return errors.NewInvalidInputError(op, fmt.Sprintf("cannot snapshot to %q, use parquet or ipc", format))
		}
	default:
		return errors.NewInvalidInputError(op, fmt.Sprintf("unknown action kind %q", spec.Kind))
	}
	return nil
}

func numeric(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.INT32, arrow.INT64, arrow.FLOAT32, arrow.FLOAT64:
		return true
	default:
		return false
	}
}
