package synth

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
)

// ErrEmptyCorpus indicates no donor chunk was available to build an index.
var ErrEmptyCorpus = errors.New("empty corpus: no donor chunks")

// Entry pairs a donor chunk with its descriptor.
type Entry struct {
	Chunk      Chunk
	Descriptor Descriptor
}

// IndexKind selects the nearest-neighbour structure behind an Index.
type IndexKind string

const (
	IndexKDTree IndexKind = "kdtree"
	IndexLinear IndexKind = "linear"
)

// ParseIndexKind parses an index kind name; empty means kdtree.
func ParseIndexKind(s string) (IndexKind, error) {
	switch IndexKind(strings.ToLower(strings.TrimSpace(s))) {
	case "", IndexKDTree:
		return IndexKDTree, nil
	case IndexLinear:
		return IndexLinear, nil
	default:
		return "", fmt.Errorf("unknown index kind %q (valid: kdtree, linear)", s)
	}
}

// Index answers nearest-descriptor queries over donor chunks. It is never
// mutated after NewIndex returns and is safe for concurrent queries.
//
// Ties on distance go to the smallest donor file index, then the smallest
// offset. Entries are kept sorted by that key, so the first entry at the
// minimum distance wins regardless of the search structure.
type Index struct {
	entries []Entry
	dim     int
	kind    IndexKind
	tree    *descriptorTree
}

// NewIndex builds an index over entries. The slice is copied.
func NewIndex(entries []Entry, kind IndexKind) (*Index, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyCorpus
	}
	dim := len(entries[0].Descriptor)
	for i, e := range entries {
		if len(e.Descriptor) != dim {
			return nil, fmt.Errorf("entry %d has %d dimensions, want %d", i, len(e.Descriptor), dim)
		}
	}

	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b Entry) int {
		if c := cmp.Compare(a.Chunk.Source, b.Chunk.Source); c != 0 {
			return c
		}
		return cmp.Compare(a.Chunk.Offset, b.Chunk.Offset)
	})

	ix := &Index{entries: sorted, dim: dim, kind: kind}
	switch kind {
	case IndexLinear:
	case IndexKDTree, "":
		ix.kind = IndexKDTree
		ix.tree = newDescriptorTree(sorted)
	default:
		return nil, fmt.Errorf("unknown index kind %q", kind)
	}
	return ix, nil
}

// Len returns the number of donor chunks.
func (ix *Index) Len() int { return len(ix.entries) }

// Dim returns the descriptor dimensionality.
func (ix *Index) Dim() int { return ix.dim }

// Kind returns the search structure in use.
func (ix *Index) Kind() IndexKind { return ix.kind }

// Entry returns entry i in (source, offset) order.
func (ix *Index) Entry(i int) Entry { return ix.entries[i] }

// Query returns the donor chunk nearest to d and its Euclidean distance.
func (ix *Index) Query(d Descriptor) (Chunk, float64) {
	var best int
	var bestSq float64
	if ix.tree != nil {
		best, bestSq = ix.tree.nearest(d)
	} else {
		best, bestSq = ix.scan(d)
	}
	return ix.entries[best].Chunk, math.Sqrt(bestSq)
}

// scan is the exhaustive reference search. Strict comparison keeps the
// earliest entry among equals.
func (ix *Index) scan(d Descriptor) (int, float64) {
	best := 0
	bestSq := math.Inf(1)
	for i, e := range ix.entries {
		if sq := squaredDistance(d, e.Descriptor); sq < bestSq {
			best = i
			bestSq = sq
		}
	}
	return best, bestSq
}

func squaredDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
