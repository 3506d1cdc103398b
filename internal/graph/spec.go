package graph

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
	"github.com/paveg/tachyon/internal/action"
	"github.com/paveg/tachyon/internal/errors"
)

// NodeSpec is the serializable form of a node. Expressions are stored as
// their canonical strings.
type NodeSpec struct {
	ID       NodeID       `json:"id"`
	Kind     NodeKind     `json:"kind"`
	Parent   NodeID       `json:"parent"`
	Name     string       `json:"name,omitempty"`
	Expr     string       `json:"expr,omitempty"`
	Redefine bool         `json:"redefine,omitempty"`
	Target   string       `json:"target,omitempty"`
	Action   *action.Spec `json:"action,omitempty"`
}

// Spec is the serializable form of a whole graph, nodes in id order.
type Spec struct {
	Nodes []NodeSpec `json:"nodes"`
}

// Spec captures the graph for replay in another process.
func (g *Graph) Spec() Spec {
	nodes := make([]NodeSpec, 0, len(g.nodes))
	for _, n := range g.nodes {
		ns := NodeSpec{
			ID:       n.ID,
			Kind:     n.Kind,
			Parent:   n.Parent,
			Name:     n.Name,
			Redefine: n.Redefine,
			Target:   n.Target,
			Action:   n.Action,
		}
		if n.Expr != nil {
			ns.Expr = n.Expr.String()
		}
		nodes = append(nodes, ns)
	}
	return Spec{Nodes: nodes}
}

// FromSpec rebuilds a graph from its spec over schema. Every node is
// re-validated and receives the same id it had in the original graph.
func FromSpec(schema *arrow.Schema, spec Spec) (*Graph, error) {
	g := New(schema)
	if len(spec.Nodes) == 0 || spec.Nodes[0].Kind != KindRoot {
		return nil, errors.NewInvalidInputError("FromSpec", "graph spec must start with the root node")
	}
	for _, ns := range spec.Nodes[1:] {
		id, err := g.replay(ns)
		if err != nil {
			return nil, fmt.Errorf("replaying node %d: %w", ns.ID, err)
		}
		if id != ns.ID {
			return nil, errors.NewInvalidInputError("FromSpec",
				fmt.Sprintf("node %d replayed as %d", ns.ID, id))
		}
	}
	return g, nil
}

func (g *Graph) replay(ns NodeSpec) (NodeID, error) {
	switch ns.Kind {
	case KindFilter:
		e, err := parse("Filter", ns.Expr)
		if err != nil {
			return 0, err
		}
		return g.FilterExpr(ns.Parent, e, ns.Name)
	case KindDefine:
		e, err := parse("Define", ns.Expr)
		if err != nil {
			return 0, err
		}
		if ns.Redefine {
			return g.RedefineExpr(ns.Parent, ns.Name, e)
		}
		return g.DefineExpr(ns.Parent, ns.Name, e)
	case KindAlias:
		return g.Alias(ns.Parent, ns.Name, ns.Target)
	case KindAction:
		if ns.Action == nil {
			return 0, errors.NewInvalidInputError("FromSpec", "action node without action")
		}
		return g.Book(ns.Parent, *ns.Action)
	default:
		return 0, errors.NewInvalidInputError("FromSpec", fmt.Sprintf("unexpected node kind %q", ns.Kind))
	}
}

// Fingerprint hashes the schema and spec of the graph. Graphs that replay
// identically have equal fingerprints.
func (g *Graph) Fingerprint() uint64 {
	h := xxhash.New()
	for _, f := range g.schema.Fields() {
		_, _ = h.WriteString(f.Name)
		_, _ = h.WriteString(":")
		_, _ = h.WriteString(f.Type.String())
		_, _ = h.WriteString(";")
	}
	data, _ := json.Marshal(g.Spec())
	_, _ = h.Write(data)
	return h.Sum64()
}

// ExprString returns the canonical form of a node's expression, or "".
func (n *Node) ExprString() string {
	if n.Expr == nil {
		return ""
	}
	return n.Expr.String()
}

// Describe returns a one-line description of the node.
func (n *Node) Describe() string {
	switch n.Kind {
	case KindFilter:
		if n.Name != "" {
			return fmt.Sprintf("Filter %s [%s]", n.ExprString(), n.Name)
		}
		return "Filter " + n.ExprString()
	case KindDefine:
		op := "Define"
		if n.Redefine {
			op = "Redefine"
		}
		return fmt.Sprintf("%s %s = %s", op, n.Name, n.ExprString())
	case KindAlias:
		return fmt.Sprintf("Alias %s -> %s", n.Name, n.Target)
	case KindAction:
		return "Action " + n.Action.String()
	default:
		return "Root"
	}
}
