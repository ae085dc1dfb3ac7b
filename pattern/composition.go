package pattern

import (
	"github.com/rhema-dev/coordination/coorderr"
)

// TopologicalWaves groups phases into waves: phases in the same wave have
// no dependency on each other and no unresolved dependency outside
// earlier waves, so every phase in wave N can start once every phase in
// waves 0..N-1 has completed. Used both for the fixed six declared
// pattern kinds (most have a two- or three-wave shape) and for Workflow
// Orchestration's configuration-declared DAG.
func TopologicalWaves(phases []Phase) ([][]Phase, error) {
	byName := make(map[string]Phase, len(phases))
	indegree := make(map[string]int, len(phases))
	dependents := make(map[string][]string)

	for _, ph := range phases {
		byName[ph.Name] = ph
		if _, ok := indegree[ph.Name]; !ok {
			indegree[ph.Name] = 0
		}
	}
	for _, ph := range phases {
		for _, dep := range ph.DependsOn {
			if _, ok := byName[dep]; !ok {
				return nil, coorderr.New(coorderr.CodeInvalidConfiguration, "phase depends on an undeclared phase").
					WithTarget(ph.Name)
			}
			indegree[ph.Name]++
			dependents[dep] = append(dependents[dep], ph.Name)
		}
	}

	var waves [][]Phase
	remaining := len(phases)
	current := make(map[string]int, len(indegree))
	for k, v := range indegree {
		current[k] = v
	}

	for remaining > 0 {
		var wave []Phase
		for name, deg := range current {
			if deg == 0 {
				wave = append(wave, byName[name])
			}
		}
		if len(wave) == 0 {
			return nil, coorderr.New(coorderr.CodeInvalidConfiguration, "phase graph contains a cycle")
		}
		for _, ph := range wave {
			delete(current, ph.Name)
			remaining--
			for _, dep := range dependents[ph.Name] {
				current[dep]--
			}
		}
		waves = append(waves, wave)
	}
	return waves, nil
}

// WaitForGraph detects deadlock cycles among lock requesters: edges[a] =
// b means a is waiting on a lock held by b. Used by the File Lock
// Management pattern's acquire phase.
type WaitForGraph struct {
	edges map[string][]string
}

// NewWaitForGraph builds an empty WaitForGraph.
func NewWaitForGraph() *WaitForGraph {
	return &WaitForGraph{edges: make(map[string][]string)}
}

// AddWait records that waiter is blocked on a lock held by holder.
func (g *WaitForGraph) AddWait(waiter, holder string) {
	g.edges[waiter] = append(g.edges[waiter], holder)
}

// RemoveWaiter clears every edge recorded for waiter, e.g. once its lock
// request is granted or abandoned.
func (g *WaitForGraph) RemoveWaiter(waiter string) {
	delete(g.edges, waiter)
}

// HasCycle reports whether the current wait-for graph contains a cycle,
// i.e. a deadlock exists among the recorded lock requests.
func (g *WaitForGraph) HasCycle() bool {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(g.edges))

	var visit func(node string) bool
	visit = func(node string) bool {
		switch state[node] {
		case visiting:
			return true
		case done:
			return false
		}
		state[node] = visiting
		for _, next := range g.edges[node] {
			if visit(next) {
				return true
			}
		}
		state[node] = done
		return false
	}

	for node := range g.edges {
		if state[node] == unvisited && visit(node) {
			return true
		}
	}
	return false
}
