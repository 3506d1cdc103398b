package engine

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/tachyon/internal/action"
	"github.com/paveg/tachyon/internal/dataset"
	"github.com/paveg/tachyon/internal/expr"
	"github.com/paveg/tachyon/internal/graph"
)

// bindingKey identifies a column value independent of the name it is
// visible under.
type bindingKey struct {
	node   graph.NodeID
	column string
}

// view holds the rows of a chunk that reached a root or filter node and
// the column values computed for those rows so far.
type view struct {
	// sel lists the chunk rows of the view; nil selects every row.
	sel    []int
	rows   int
	values map[bindingKey]arrow.Array
}

func (v *view) release() {
	for _, arr := range v.values {
		arr.Release()
	}
	v.values = nil
}

// chunkPass evaluates the graph over one chunk. Views are built on demand
// so that nodes no pending action depends on are never evaluated.
type chunkPass struct {
	g    *graph.Graph
	data *dataset.Dataset
	mem  memory.Allocator
	eval *expr.Evaluator

	views map[graph.NodeID]*view
	cuts  map[graph.NodeID]action.Cut
}

func newChunkPass(g *graph.Graph, data *dataset.Dataset, mem memory.Allocator) *chunkPass {
	return &chunkPass{
		g:     g,
		data:  data,
		mem:   mem,
		eval:  expr.NewEvaluator(mem),
		views: make(map[graph.NodeID]*view),
		cuts:  make(map[graph.NodeID]action.Cut),
	}
}

func (p *chunkPass) release() {
	for _, v := range p.views {
		v.release()
	}
	p.views = nil
}

// viewNode returns the closest root or filter node at or above id. Defines
// and aliases do not change which rows flow through them.
func (p *chunkPass) viewNode(id graph.NodeID) graph.NodeID {
	for {
		n, err := p.g.Node(id)
		if err != nil || n.Kind == graph.KindRoot || n.Kind == graph.KindFilter {
			return id
		}
		id = n.Parent
	}
}

func (p *chunkPass) viewOf(id graph.NodeID) (*view, error) {
	vid := p.viewNode(id)
	if v, ok := p.views[vid]; ok {
		return v, nil
	}

	n, err := p.g.Node(vid)
	if err != nil {
		return nil, err
	}
	if n.Kind == graph.KindRoot {
		v := &view{rows: p.data.Len(), values: make(map[bindingKey]arrow.Array)}
		p.views[vid] = v
		return v, nil
	}

	parent, err := p.viewOf(n.Parent)
	if err != nil {
		return nil, err
	}
	cols, err := p.inputs(parent, n.Parent, n.Expr)
	if err != nil {
		return nil, err
	}
	mask, err := p.eval.EvaluateMask(n.Expr, cols, parent.rows)
	if err != nil {
		return nil, fmt.Errorf("evaluating filter %s: %w", n.Expr, err)
	}

	sel := make([]int, 0, parent.rows)
	for i, keep := range mask {
		if !keep {
			continue
		}
		if parent.sel != nil {
			sel = append(sel, parent.sel[i])
		} else {
			sel = append(sel, i)
		}
	}
	p.cuts[vid] = action.Cut{Name: n.Name, All: int64(parent.rows), Pass: int64(len(sel))}

	v := &view{sel: sel, rows: len(sel), values: make(map[bindingKey]arrow.Array)}
	p.views[vid] = v
	return v, nil
}

// inputs collects the columns referenced by e, resolved in the scope of
// node and computed at the rows of v.
func (p *chunkPass) inputs(v *view, node graph.NodeID, e expr.Expr) (map[string]arrow.Array, error) {
	names := expr.Columns(e)
	cols := make(map[string]arrow.Array, len(names))
	for _, name := range names {
		arr, err := p.value(v, node, name)
		if err != nil {
			return nil, err
		}
		cols[name] = arr
	}
	return cols, nil
}

// value returns the values of the column visible as name at node, for the
// rows of v. The array is owned by the view.
func (p *chunkPass) value(v *view, node graph.NodeID, name string) (arrow.Array, error) {
	b, ok := p.g.Resolve(node, name)
	if !ok {
		return nil, fmt.Errorf("column %q is not visible at node %d", name, node)
	}
	key := bindingKey{node: b.Node, column: b.Column}
	if arr, ok := v.values[key]; ok {
		return arr, nil
	}

	var arr arrow.Array
	if b.Node == graph.RootID {
		col, ok := p.data.Column(b.Column)
		if !ok {
			return nil, fmt.Errorf("source column %q missing from dataset", b.Column)
		}
		src := col.Array()
		defer src.Release()
		var err error
		if arr, err = take(src, v.sel, p.mem); err != nil {
			return nil, err
		}
	} else {
		def, err := p.g.Node(b.Node)
		if err != nil {
			return nil, err
		}
		// The define's inputs are resolved where it was declared but
		// computed at the rows of v, which all reached the define.
		cols, err := p.inputs(v, def.Parent, def.Expr)
		if err != nil {
			return nil, err
		}
		if arr, err = p.eval.Evaluate(def.Expr, cols, v.rows); err != nil {
			return nil, fmt.Errorf("evaluating %s = %s: %w", def.Name, def.Expr, err)
		}
	}
	v.values[key] = arr
	return arr, nil
}

// cutsTo returns the statistics of the named filters from the root down to
// id.
func (p *chunkPass) cutsTo(id graph.NodeID) []action.Cut {
	var cuts []action.Cut
	for _, nid := range p.g.Path(id) {
		if c, ok := p.cuts[nid]; ok && c.Name != "" {
			cuts = append(cuts, c)
		}
	}
	return cuts
}

// fill feeds the rows reaching the parent of the action node id to acc.
func (p *chunkPass) fill(id graph.NodeID, acc action.Accumulator) error {
	n, err := p.g.Node(id)
	if err != nil {
		return err
	}
	v, err := p.viewOf(n.Parent)
	if err != nil {
		return err
	}
	if obs, ok := acc.(action.CutObserver); ok {
		obs.ObserveCuts(p.cutsTo(n.Parent))
	}
	return acc.Fill(&batch{pass: p, view: v, scope: n.Parent})
}

// batch exposes a view to an accumulator.
type batch struct {
	pass  *chunkPass
	view  *view
	scope graph.NodeID
}

func (b *batch) Len() int {
	return b.view.rows
}

func (b *batch) Column(name string) (arrow.Array, error) {
	return b.pass.value(b.view, b.scope, name)
}

// take gathers the rows of arr listed in sel into a new array. A nil
// selection returns arr itself, retained.
func take(arr arrow.Array, sel []int, mem memory.Allocator) (arrow.Array, error) {
	if sel == nil {
		arr.Retain()
		return arr, nil
	}

	switch src := arr.(type) {
	case *array.Float64:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		b.Reserve(len(sel))
		for _, i := range sel {
			if src.IsNull(i) {
				b.AppendNull()
			} else {
				b.Append(src.Value(i))
			}
		}
		return b.NewArray(), nil
	case *array.Float32:
		b := array.NewFloat32Builder(mem)
		defer b.Release()
		b.Reserve(len(sel))
		for _, i := range sel {
			if src.IsNull(i) {
				b.AppendNull()
			} else {
				b.Append(src.Value(i))
			}
		}
		return b.NewArray(), nil
	case *array.Int64:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		b.Reserve(len(sel))
		for _, i := range sel {
			if src.IsNull(i) {
				b.AppendNull()
			} else {
				b.Append(src.Value(i))
			}
		}
		return b.NewArray(), nil
	case *array.Int32:
		b := array.NewInt32Builder(mem)
		defer b.Release()
		b.Reserve(len(sel))
		for _, i := range sel {
			if src.IsNull(i) {
				b.AppendNull()
			} else {
				b.Append(src.Value(i))
			}
		}
		return b.NewArray(), nil
	case *array.Boolean:
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		b.Reserve(len(sel))
		for _, i := range sel {
			if src.IsNull(i) {
				b.AppendNull()
			} else {
				b.Append(src.Value(i))
			}
		}
		return b.NewArray(), nil
	case *array.String:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		b.Reserve(len(sel))
		for _, i := range sel {
			if src.IsNull(i) {
				b.AppendNull()
			} else {
				b.Append(src.Value(i))
			}
		}
		return b.NewArray(), nil
	default:
		return nil, fmt.Errorf("unsupported column type %s", arr.DataType())
	}
}
