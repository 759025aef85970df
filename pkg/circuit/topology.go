package circuit

import (
	"github.com/edp1096/spicecore/pkg/device"
)

type loopEdge struct {
	to   int
	name string
}

// VoltageLoops returns the loops formed only of voltage sources and
// inductors. Each loop lists its elements, the one closing it last.
func (c *Circuit) VoltageLoops() [][]string {
	parent := make(map[int]int)
	var find func(int) int
	find = func(x int) int {
		p, ok := parent[x]
		if !ok || p == x {
			parent[x] = x
			return x
		}
		root := find(p)
		parent[x] = root
		return root
	}

	adj := make(map[int][]loopEdge)
	var loops [][]string
	for _, m := range c.models {
		for _, inst := range m.Instances() {
			lb, ok := inst.(device.LoopBranch)
			if !ok {
				continue
			}
			a, b := lb.LoopNodes()
			name := inst.GetName()
			if a == b {
				loops = append(loops, []string{name})
				continue
			}
			ra, rb := find(a), find(b)
			if ra == rb {
				loops = append(loops, append(treePath(adj, a, b), name))
				continue
			}
			parent[ra] = rb
			adj[a] = append(adj[a], loopEdge{to: b, name: name})
			adj[b] = append(adj[b], loopEdge{to: a, name: name})
		}
	}
	return loops
}

// treePath lists the element names on the forest path from a to b.
func treePath(adj map[int][]loopEdge, a, b int) []string {
	type hop struct {
		from int
		name string
	}
	prev := map[int]hop{a: {from: a}}
	queue := []int{a}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n == b {
			break
		}
		for _, e := range adj[n] {
			if _, seen := prev[e.to]; !seen {
				prev[e.to] = hop{from: n, name: e.name}
				queue = append(queue, e.to)
			}
		}
	}

	var path []string
	for n := b; n != a; {
		h, ok := prev[n]
		if !ok {
			return nil
		}
		path = append(path, h.name)
		n = h.from
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
