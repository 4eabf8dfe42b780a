package index

import (
	"fmt"
	"math"

	"github.com/coder/hnsw"
)

// vectorHit is one kNN neighbour.
type vectorHit struct {
	ID    string
	Score float64
}

// vectorIndex is an in-memory HNSW graph over unit vectors with cosine
// distance. It is rebuilt from the passage store on open.
type vectorIndex struct {
	graph *hnsw.Graph[uint64]
	dims  int

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
}

func newVectorIndex(dims int) *vectorIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 64
	graph.Ml = 0.25

	return &vectorIndex{
		graph:  graph,
		dims:   dims,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

// add inserts or replaces a vector. A replaced id keeps its old node in the
// graph but the node no longer maps to an id, so it never surfaces.
func (v *vectorIndex) add(id string, vec []float32) error {
	if len(vec) != v.dims {
		return fmt.Errorf("vector for %s has %d dimensions, index has %d", id, len(vec), v.dims)
	}
	if old, ok := v.idMap[id]; ok {
		delete(v.keyMap, old)
		delete(v.idMap, id)
	}

	key := v.nextKey
	v.nextKey++

	unit := make([]float32, len(vec))
	copy(unit, vec)
	normalizeInPlace(unit)

	v.graph.Add(hnsw.MakeNode(key, unit))
	v.idMap[id] = key
	v.keyMap[key] = id
	return nil
}

// search returns up to k neighbours, closest first. Scores follow the
// OpenSearch cosinesimil convention (1 + cos) / 2.
func (v *vectorIndex) search(query []float32, k int) ([]vectorHit, error) {
	if len(query) != v.dims {
		return nil, fmt.Errorf("query has %d dimensions, index has %d", len(query), v.dims)
	}
	if v.graph.Len() == 0 || k <= 0 {
		return nil, nil
	}

	unit := make([]float32, len(query))
	copy(unit, query)
	normalizeInPlace(unit)

	// Orphaned nodes take result slots, so ask for more when there are any.
	want := k + (v.graph.Len() - len(v.idMap))
	nodes := v.graph.Search(unit, want)

	out := make([]vectorHit, 0, min(k, len(nodes)))
	for _, n := range nodes {
		id, ok := v.keyMap[n.Key]
		if !ok {
			continue
		}
		dist := v.graph.Distance(unit, n.Value)
		out = append(out, vectorHit{ID: id, Score: 1 - float64(dist)/2})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func (v *vectorIndex) count() int {
	return len(v.idMap)
}

func (v *vectorIndex) ids() []string {
	ids := make([]string, 0, len(v.idMap))
	for id := range v.idMap {
		ids = append(ids, id)
	}
	return ids
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
