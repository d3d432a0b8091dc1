package pipeline

import "fmt"

// NodeID addresses a Node by its dense 0-based position within a Graph.
type NodeID int

// Link is a directed edge; only the destination is stored since the source
// is implicit in which Node's LinksTo slice holds it.
type Link struct {
	To NodeID
}

// Node is one module instance inside a graph replica.
type Node struct {
	ID       NodeID
	Name     string
	Module   Module
	LinksTo  []Link
}

// Graph is an executable replica bound to exactly one CPU/Worker.
type Graph struct {
	ID    int
	Name  string
	CPU   int
	Nodes []*Node

	// pollable caches the indices of nodes with CapPoll, computed once at
	// build time so the worker's poll phase doesn't scan every node.
	pollable []NodeID
}

// Pollable returns the node ids the Worker should poll every iteration.
func (g *Graph) Pollable() []NodeID { return g.pollable }

// PolicyChecker is consulted by Builder before instantiating any module, to
// veto module names a cluster operator's policy bundle disallows. A nil
// checker always allows everything.
type PolicyChecker interface {
	Allow(moduleName string) (bool, string)
}

// Builder translates config.GraphConfig values into executable Graphs, one
// per listed CPU.
type Builder struct {
	registry *Registry
	policy   PolicyChecker
}

// NewBuilder creates a Builder bound to registry. policy may be nil.
func NewBuilder(registry *Registry, policy PolicyChecker) *Builder {
	return &Builder{registry: registry, policy: policy}
}

// GraphSpec is the minimal shape Builder needs out of a parsed GraphConfig;
// kept independent of the config package so pipeline has no import-cycle
// back onto config.
type GraphSpec struct {
	Name    string
	Modules []string
	Links   [][2]string // [src, dst] module *names*, resolved by position
}

// Build instantiates one Graph, pinned to cpu, using spec.Modules in
// declared order as the node list and resolving spec.Links by name.
// Unknown module names or unresolved link endpoints are fatal configuration
// errors, never observed at packet time.
func (b *Builder) Build(spec GraphSpec, id int, cpu int) (*Graph, error) {
	nodes := make([]*Node, len(spec.Modules))
	byName := make(map[string]NodeID, len(spec.Modules))

	for i, name := range spec.Modules {
		if b.policy != nil {
			if ok, reason := b.policy.Allow(name); !ok {
				return nil, fmt.Errorf("module %q rejected by policy: %s", name, reason)
			}
		}
		mod, err := b.registry.BuildModule(name)
		if err != nil {
			return nil, err
		}
		nid := NodeID(i)
		nodes[i] = &Node{ID: nid, Name: name, Module: mod}
		byName[name] = nid
	}

	for _, link := range spec.Links {
		srcName, dstName := link[0], link[1]
		srcID, ok := byName[srcName]
		if !ok {
			return nil, fmt.Errorf("%w: link source %q", ErrUnknownNode, srcName)
		}
		dstID, ok := byName[dstName]
		if !ok {
			return nil, fmt.Errorf("%w: link destination %q", ErrUnknownNode, dstName)
		}

		src := nodes[srcID]
		for _, existing := range src.LinksTo {
			if existing.To == dstID {
				return nil, fmt.Errorf("%w: %q -> %q", ErrDuplicateEdge, srcName, dstName)
			}
		}
		src.LinksTo = append(src.LinksTo, Link{To: dstID})
	}

	g := &Graph{ID: id, Name: spec.Name, CPU: cpu, Nodes: nodes}
	for _, n := range nodes {
		if n.Module.Capability().Has(CapPoll) {
			g.pollable = append(g.pollable, n.ID)
		}
	}
	return g, nil
}

// BuildReplicas builds one Graph per CPU in cpus, each a structurally
// identical copy with its own module instances (spec: "one replica per
// core").
func (b *Builder) BuildReplicas(spec GraphSpec, baseID int, cpus []int) ([]*Graph, error) {
	graphs := make([]*Graph, len(cpus))
	for i, cpu := range cpus {
		g, err := b.Build(spec, baseID+i, cpu)
		if err != nil {
			return nil, fmt.Errorf("graph %q on cpu %d: %w", spec.Name, cpu, err)
		}
		graphs[i] = g
	}
	return graphs, nil
}

// SameShape reports whether two graphs have structurally identical node
// lists (same names at the same ids with the same links) — the condition
// required before work-stealing between their workers is legal.
func SameShape(a, b *Graph) bool {
	if len(a.Nodes) != len(b.Nodes) {
		return false
	}
	for i := range a.Nodes {
		na, nb := a.Nodes[i], b.Nodes[i]
		if na.Name != nb.Name || len(na.LinksTo) != len(nb.LinksTo) {
			return false
		}
		for j := range na.LinksTo {
			if na.LinksTo[j] != nb.LinksTo[j] {
				return false
			}
		}
	}
	return true
}
