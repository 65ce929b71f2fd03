package prefetch

import (
	"github.com/armon/go-radix"
)

// workingSet is the ordered list of navigable paths plus a patricia-tree
// index from path to position. Callers hold Cache.mu.
type workingSet struct {
	paths []string
	index *radix.Tree
}

// newWorkingSet copies paths, dropping repeats so every path has exactly one
// position. It returns the set and how many duplicates were dropped.
func newWorkingSet(paths []string) (*workingSet, int) {
	ws := &workingSet{
		paths: make([]string, 0, len(paths)),
		index: radix.New(),
	}

	dropped := 0
	for _, p := range paths {
		if _, exists := ws.index.Get(p); exists {
			dropped++
			continue
		}
		ws.index.Insert(p, len(ws.paths))
		ws.paths = append(ws.paths, p)
	}
	return ws, dropped
}

// Len returns the number of paths in the set.
func (ws *workingSet) Len() int {
	return len(ws.paths)
}

// IndexOf returns the position of path.
func (ws *workingSet) IndexOf(path string) (int, bool) {
	v, ok := ws.index.Get(path)
	if !ok {
		return 0, false
	}
	return v.(int), true
}

// At returns the path at position i.
func (ws *workingSet) At(i int) string {
	return ws.paths[i]
}
