// Package resolver orders components so that every component comes after the
// components it depends on.
package resolver

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
)

// DefaultPriority applies to components missing from the priority table.
const DefaultPriority = 100

// DefaultPriorities is the built-in tie-break table. Lower runs earlier.
// Distro descriptors may override entries.
var DefaultPriorities = map[string]int{
	"db":              10,
	"rabbit-mq":       20,
	"keystone":        30,
	"keystone-client": 35,
	"glance":          40,
	"swift":           40,
	"quantum":         45,
	"nova":            50,
	"nova-client":     55,
	"melange":         55,
	"horizon":         60,
	"no-vnc":          65,
}

// CycleError reports a dependency cycle among the requested components.
type CycleError struct {
	// Cycle starts and ends with the same component.
	Cycle []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Cycle, " -> ")
}

// Priorities merges overrides over DefaultPriorities.
func Priorities(overrides map[string]int) map[string]int {
	out := maps.Clone(DefaultPriorities)
	maps.Copy(out, overrides)
	return out
}

// Order returns requested sorted so that dependencies come first. Only edges
// between requested components count; ties are broken by priority and then
// by name, so the result is deterministic.
func Order(requested []string, deps map[string][]string, priorities map[string]int) ([]string, error) {
	g := newGraph(requested, deps, priorities)
	ready := g.roots()
	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		g.sort(ready)
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		for _, d := range g.dependents[n] {
			g.indegree[d]--
			if g.indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	if len(order) != len(g.nodes) {
		return nil, g.cycle(order)
	}
	return order, nil
}

// Levels groups requested by dependency depth. Every component's
// dependencies are in earlier levels, so the components within one level can
// run concurrently. Each level is sorted by priority and then by name.
func Levels(requested []string, deps map[string][]string, priorities map[string]int) ([][]string, error) {
	order, err := Order(requested, deps, priorities)
	if err != nil {
		return nil, err
	}
	g := newGraph(requested, deps, priorities)
	depth := make(map[string]int, len(order))
	var levels [][]string
	for _, n := range order {
		d := 0
		for _, dep := range g.deps[n] {
			d = max(d, depth[dep]+1)
		}
		depth[n] = d
		if d == len(levels) {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], n)
	}
	for _, l := range levels {
		g.sort(l)
	}
	return levels, nil
}

// Reverse returns levels in reverse order, for stop and uninstall. The
// components inside each level keep their order.
func Reverse(levels [][]string) [][]string {
	out := slices.Clone(levels)
	slices.Reverse(out)
	return out
}

// Flatten concatenates levels.
func Flatten(levels [][]string) []string {
	var out []string
	for _, l := range levels {
		out = append(out, l...)
	}
	return out
}

type graph struct {
	nodes      []string
	deps       map[string][]string
	dependents map[string][]string
	indegree   map[string]int
	priorities map[string]int
}

func newGraph(requested []string, deps map[string][]string, priorities map[string]int) *graph {
	g := &graph{
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
		indegree:   make(map[string]int),
		priorities: priorities,
	}
	in := make(map[string]bool, len(requested))
	for _, n := range requested {
		if !in[n] {
			in[n] = true
			g.nodes = append(g.nodes, n)
		}
	}
	for _, n := range g.nodes {
		seen := make(map[string]bool)
		for _, d := range deps[n] {
			if !in[d] || seen[d] {
				continue
			}
			seen[d] = true
			g.deps[n] = append(g.deps[n], d)
			g.dependents[d] = append(g.dependents[d], n)
			g.indegree[n]++
		}
	}
	return g
}

func (g *graph) roots() []string {
	var out []string
	for _, n := range g.nodes {
		if g.indegree[n] == 0 {
			out = append(out, n)
		}
	}
	return out
}

func (g *graph) priority(n string) int {
	if p, ok := g.priorities[n]; ok {
		return p
	}
	return DefaultPriority
}

func (g *graph) sort(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		pi, pj := g.priority(names[i]), g.priority(names[j])
		if pi != pj {
			return pi < pj
		}
		return names[i] < names[j]
	})
}

// cycle finds one cycle among the nodes Kahn's algorithm could not place.
func (g *graph) cycle(placed []string) error {
	done := make(map[string]bool, len(placed))
	for _, n := range placed {
		done[n] = true
	}
	var start string
	for _, n := range g.nodes {
		if !done[n] {
			start = n
			break
		}
	}
	// Every unplaced node has an unplaced dependency, so walking those edges
	// must revisit a node.
	index := make(map[string]int)
	var path []string
	for n := start; ; {
		if i, ok := index[n]; ok {
			return &CycleError{Cycle: append(slices.Clone(path[i:]), n)}
		}
		index[n] = len(path)
		path = append(path, n)
		next := ""
		for _, d := range g.deps[n] {
			if !done[d] {
				next = d
				break
			}
		}
		if next == "" {
			return fmt.Errorf("dependency cycle involving %s", n)
		}
		n = next
	}
}
