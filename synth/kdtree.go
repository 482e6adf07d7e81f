package synth

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// descriptorTree is a k-d tree over index entries. The tree only narrows the
// search; the tie-break over equal distances is resolved on entry ids so the
// result matches Index.scan exactly.
type descriptorTree struct {
	tree *kdtree.Tree
}

func newDescriptorTree(entries []Entry) *descriptorTree {
	pts := make(treePoints, len(entries))
	for i, e := range entries {
		pts[i] = treePoint{id: i, vec: e.Descriptor}
	}
	return &descriptorTree{tree: kdtree.New(pts, false)}
}

// nearest returns the entry id and squared distance of the best match.
func (t *descriptorTree) nearest(d Descriptor) (int, float64) {
	q := treePoint{id: -1, vec: d}
	c, best := t.tree.Nearest(q)
	id := c.(treePoint).id

	// Gather everything at (or a hair above) the minimum, then keep the
	// lowest id among exact minima.
	radius := best + math.Max(best*1e-9, 1e-12)
	keep := kdtree.NewDistKeeper(radius)
	t.tree.NearestSet(keep, q)
	for _, cd := range keep.Heap {
		if cd.Comparable == nil {
			continue
		}
		p := cd.Comparable.(treePoint)
		if cd.Dist < best || (cd.Dist == best && p.id < id) {
			id = p.id
			best = cd.Dist
		}
	}
	return id, best
}

type treePoint struct {
	id  int
	vec []float64
}

func (p treePoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.vec[d] - c.(treePoint).vec[d]
}

func (p treePoint) Dims() int { return len(p.vec) }

// Distance returns the squared Euclidean distance, as kdtree expects.
func (p treePoint) Distance(c kdtree.Comparable) float64 {
	return squaredDistance(p.vec, c.(treePoint).vec)
}

type treePoints []treePoint

func (p treePoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p treePoints) Len() int                              { return len(p) }
func (p treePoints) Pivot(d kdtree.Dim) int                { return treePlane{dim: d, points: p}.Pivot() }
func (p treePoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// treePlane orders points along one dimension for median partitioning.
type treePlane struct {
	dim    kdtree.Dim
	points treePoints
}

func (p treePlane) Len() int           { return len(p.points) }
func (p treePlane) Less(i, j int) bool { return p.points[i].vec[p.dim] < p.points[j].vec[p.dim] }
func (p treePlane) Swap(i, j int)      { p.points[i], p.points[j] = p.points[j], p.points[i] }
func (p treePlane) Pivot() int         { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }

func (p treePlane) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}
