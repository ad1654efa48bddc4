package pipeline

import (
	"fmt"

	"github.com/geekscape/aiko-services/internal/sexp"
)

// Edge is one directed element-to-element dataflow connection.
type Edge struct {
	From string
	To   string
}

// Graph is the element dataflow graph derived from a Definition's graph
// expressions: its node set, its edge set, and its validated topological
// processing order.
type Graph struct {
	Nodes []string
	Edges []Edge
	Order []string
}

// BuildGraph parses every graph expression and unions their node and
// edge sets. Each expression is a chain of symbols with optional
// parenthesized branches, e.g. (A (B D) (C D)) meaning A feeds both B
// and C, and both B and C feed D.
func BuildGraph(exprs []string) (*Graph, error) {
	g := &Graph{}
	nodeSeen := make(map[string]bool)
	edgeSeen := make(map[string]bool)

	addNode := func(name string) {
		if !nodeSeen[name] {
			nodeSeen[name] = true
			g.Nodes = append(g.Nodes, name)
		}
	}
	addEdge := func(from, to string) {
		key := from + "->" + to
		if !edgeSeen[key] {
			edgeSeen[key] = true
			g.Edges = append(g.Edges, Edge{From: from, To: to})
		}
	}

	for _, expr := range exprs {
		v, err := sexp.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("pipeline: graph expression %q: %w", expr, err)
		}
		if v.Kind != sexp.KindList {
			return nil, fmt.Errorf("pipeline: graph expression %q must be a list", expr)
		}
		if err := walkGraphExpr(v.List, "", addNode, addEdge); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// walkGraphExpr processes one graph chain left to right. A nested list
// item is a branch: it attaches to the current chain position (attachTo)
// but does not itself advance the chain, so sibling branches and the
// continuing chain all fan out from the same point. A bare symbol or
// string item advances the chain, attaching to whatever came before it.
func walkGraphExpr(items []sexp.Value, attachTo string, addNode func(string), addEdge func(string, string)) error {
	prev := attachTo
	for _, item := range items {
		switch item.Kind {
		case sexp.KindList:
			if err := walkGraphExpr(item.List, prev, addNode, addEdge); err != nil {
				return err
			}
		case sexp.KindSymbol, sexp.KindString:
			name, _ := item.AsString()
			addNode(name)
			if prev != "" {
				addEdge(prev, name)
			}
			prev = name
		default:
			return fmt.Errorf("pipeline: graph expression element must be a symbol, string, or branch list")
		}
	}
	return nil
}

// Validate computes Order via Kahn's algorithm and enforces 
// invariant that a graph has at most one head element (no inbound
// edges), erroring on a cycle or more than one head.
func (g *Graph) Validate() error {
	indeg := make(map[string]int, len(g.Nodes))
	adj := make(map[string][]string, len(g.Nodes))
	for _, n := range g.Nodes {
		indeg[n] = 0
	}
	for _, e := range g.Edges {
		indeg[e.To]++
		adj[e.From] = append(adj[e.From], e.To)
	}

	var heads []string
	var queue []string
	for _, n := range g.Nodes {
		if indeg[n] == 0 {
			heads = append(heads, n)
			queue = append(queue, n)
		}
	}
	if len(heads) > 1 {
		return fmt.Errorf("pipeline: graph has more than one head element: %v", heads)
	}

	var order []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, next := range adj[n] {
			indeg[next]--
			if indeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(g.Nodes) {
		return fmt.Errorf("pipeline: graph contains a cycle")
	}
	g.Order = order
	return nil
}
