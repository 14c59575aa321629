package tax

import (
	"sort"
	"strconv"
	"strings"
)

// CycleError reports a cyclic taxable-tax reference. Path starts and ends
// at the same tax id.
type CycleError struct {
	Path []int64
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return "taxable tax cycle: " + strings.Join(parts, " -> ")
}

// Order returns node ids so that every tax follows the tax it is levied on.
// base maps a tax to the tax its amount is computed from. Edges pointing
// outside nodes are ignored. Output is deterministic: roots are visited in
// ascending id order.
func Order(nodes []int64, base map[int64]int64) ([]int64, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	in := make(map[int64]bool, len(nodes))
	for _, id := range nodes {
		in[id] = true
	}
	sorted := append([]int64(nil), nodes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	state := make(map[int64]int, len(nodes))
	out := make([]int64, 0, len(nodes))

	for _, start := range sorted {
		if state[start] != unvisited {
			continue
		}
		// each tax has at most one base, so the walk is a chain
		var chain []int64
		cur := start
		for {
			if state[cur] == done {
				break
			}
			if state[cur] == visiting {
				return nil, &CycleError{Path: cyclePath(chain, cur)}
			}
			state[cur] = visiting
			chain = append(chain, cur)
			next, ok := base[cur]
			if !ok || !in[next] {
				break
			}
			cur = next
		}
		for i := len(chain) - 1; i >= 0; i-- {
			state[chain[i]] = done
			out = append(out, chain[i])
		}
	}
	return out, nil
}

// cyclePath trims the walked chain to the loop closing at id
func cyclePath(chain []int64, id int64) []int64 {
	for i, c := range chain {
		if c == id {
			path := append([]int64(nil), chain[i:]...)
			return append(path, id)
		}
	}
	return append(chain, id)
}
