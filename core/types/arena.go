package types

import (
	"sort"
)

// Ruled is implemented by every rule family through the embedded Rule
type Ruled interface {
	Base() *Rule
}

// Arena is a flat id-indexed collection of rule rows. Parent and
// reference fields stay ids and are resolved through the arena.
type Arena[T Ruled] struct {
	byID     map[int64]T
	order    []int64
	children map[int64][]int64
}

// NewArena indexes rows, keeping the first row seen for a duplicate id
func NewArena[T Ruled](rows []T) *Arena[T] {
	a := &Arena[T]{
		byID:     make(map[int64]T, len(rows)),
		children: make(map[int64][]int64),
	}
	for _, row := range rows {
		base := row.Base()
		if _, dup := a.byID[base.ID]; dup {
			continue
		}
		a.byID[base.ID] = row
		a.order = append(a.order, base.ID)
		if base.ParentID != nil {
			a.children[*base.ParentID] = append(a.children[*base.ParentID], base.ID)
		}
	}
	return a
}

// Len returns the number of rows
func (a *Arena[T]) Len() int {
	return len(a.order)
}

// Get returns a row by id
func (a *Arena[T]) Get(id int64) (T, bool) {
	row, ok := a.byID[id]
	return row, ok
}

// All returns every row in insertion order
func (a *Arena[T]) All() []T {
	out := make([]T, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.byID[id])
	}
	return out
}

// Parents returns rows that are not band children, in insertion order
func (a *Arena[T]) Parents() []T {
	var out []T
	for _, id := range a.order {
		row := a.byID[id]
		if !row.Base().IsBandChild() {
			out = append(out, row)
		}
	}
	return out
}

// Children returns the band children of a parent ordered by band start
func (a *Arena[T]) Children(parentID int64) []T {
	ids := a.children[parentID]
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, a.byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		bi, bj := out[i].Base().Band, out[j].Base().Band
		if bi == nil || bj == nil {
			return bj != nil
		}
		if !bi.Start.Equal(bj.Start) {
			return bi.Start.LessThan(bj.Start)
		}
		return out[i].Base().ID < out[j].Base().ID
	})
	return out
}

// Orphans returns band children whose parent is not in the arena
func (a *Arena[T]) Orphans() []T {
	var out []T
	for _, id := range a.order {
		base := a.byID[id].Base()
		if base.ParentID == nil {
			continue
		}
		if _, ok := a.byID[*base.ParentID]; !ok {
			out = append(out, a.byID[id])
		}
	}
	return out
}

// SupersedeChain follows superseded_by links from id and returns the visited
// rows, ending at the first row that is not superseded. The walk stops on a
// missing link or a repeated id.
func SupersedeChain[T Ruled](a *Arena[T], id int64) []T {
	var chain []T
	seen := make(map[int64]bool)
	for {
		row, ok := a.Get(id)
		if !ok || seen[id] {
			return chain
		}
		seen[id] = true
		chain = append(chain, row)
		status := row.Base().Status
		if status.Lifecycle != LifecycleSuperseded {
			return chain
		}
		id = status.SupersededBy
	}
}

// Current resolves the row currently standing in for id along its supersede chain
func Current[T Ruled](a *Arena[T], id int64) (T, bool) {
	chain := SupersedeChain(a, id)
	var zero T
	if len(chain) == 0 {
		return zero, false
	}
	last := chain[len(chain)-1]
	if !last.Base().Status.IsActive() {
		return zero, false
	}
	return last, true
}
