package resolve

import (
	"math"
	"strings"

	"github.com/dhconnelly/rtreego"
	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/sells-group/biome-cli/internal/model"
	"github.com/sells-group/biome-cli/internal/raster"
)

// IndexKind selects the nearest-neighbour index built over candidate cells.
type IndexKind string

const (
	IndexKDTree IndexKind = "kdtree"
	IndexRTree  IndexKind = "rtree"
)

// ParseIndexKind validates an index name. Empty selects the k-d tree.
func ParseIndexKind(s string) (IndexKind, error) {
	switch IndexKind(strings.ToLower(strings.TrimSpace(s))) {
	case "", IndexKDTree:
		return IndexKDTree, nil
	case IndexRTree:
		return IndexRTree, nil
	default:
		return "", eris.Wrapf(model.ErrConfiguration, "resolve: unknown index %q", s)
	}
}

// Index answers nearest-cell queries over a fixed set of valid cells.
type Index interface {
	// Nearest returns the closest cell centre to (x, y) and its Euclidean distance.
	Nearest(x, y float64) (raster.Cell, float64)
}

// NewIndex builds an index of the given kind. cells must not be empty.
func NewIndex(kind IndexKind, cells []raster.Cell) Index {
	if kind == IndexRTree {
		return newRTreeIndex(cells)
	}
	return newKDTreeIndex(cells)
}

func distance(c raster.Cell, x, y float64) float64 {
	return math.Hypot(c.X-x, c.Y-y)
}

// cellPoint adapts a cell centre to kdtree.Comparable.
type cellPoint struct {
	cell raster.Cell
}

// Compare implements kdtree.Comparable.
func (p cellPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(cellPoint)
	if d == 0 {
		return p.cell.X - q.cell.X
	}
	return p.cell.Y - q.cell.Y
}

// Dims implements kdtree.Comparable.
func (p cellPoint) Dims() int { return 2 }

// Distance implements kdtree.Comparable and returns the squared distance.
func (p cellPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(cellPoint)
	dx, dy := p.cell.X-q.cell.X, p.cell.Y-q.cell.Y
	return dx*dx + dy*dy
}

// cellPoints satisfies kdtree.Interface.
type cellPoints []cellPoint

func (p cellPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p cellPoints) Len() int                              { return len(p) }
func (p cellPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements kdtree.Interface.
func (p cellPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(cellPlane{cellPoints: p, Dim: d}, kdtree.MedianOfMedians(cellPlane{cellPoints: p, Dim: d}))
}

// cellPlane sorts cellPoints along one dimension.
type cellPlane struct {
	kdtree.Dim
	cellPoints
}

func (p cellPlane) Less(i, j int) bool {
	return p.cellPoints[i].Compare(p.cellPoints[j], p.Dim) < 0
}

func (p cellPlane) Slice(start, end int) kdtree.SortSlicer {
	p.cellPoints = p.cellPoints[start:end]
	return p
}

func (p cellPlane) Swap(i, j int) {
	p.cellPoints[i], p.cellPoints[j] = p.cellPoints[j], p.cellPoints[i]
}

type kdTreeIndex struct {
	tree *kdtree.Tree
}

func newKDTreeIndex(cells []raster.Cell) *kdTreeIndex {
	pts := make(cellPoints, len(cells))
	for i, c := range cells {
		pts[i] = cellPoint{cell: c}
	}
	return &kdTreeIndex{tree: kdtree.New(pts, false)}
}

func (k *kdTreeIndex) Nearest(x, y float64) (raster.Cell, float64) {
	got, d2 := k.tree.Nearest(cellPoint{cell: raster.Cell{X: x, Y: y}})
	return got.(cellPoint).cell, math.Sqrt(d2)
}

// rtreeTolerance is the half-size of the degenerate rectangle stored per cell.
const rtreeTolerance = 1e-12

// cellRect adapts a cell centre to rtreego.Spatial.
type cellRect struct {
	cell raster.Cell
	rect rtreego.Rect
}

// Bounds implements rtreego.Spatial.
func (c *cellRect) Bounds() rtreego.Rect { return c.rect }

type rTreeIndex struct {
	tree *rtreego.Rtree
}

func newRTreeIndex(cells []raster.Cell) *rTreeIndex {
	objs := make([]rtreego.Spatial, len(cells))
	for i, c := range cells {
		objs[i] = &cellRect{cell: c, rect: rtreego.Point{c.X, c.Y}.ToRect(rtreeTolerance)}
	}
	return &rTreeIndex{tree: rtreego.NewTree(2, 25, 50, objs...)}
}

func (r *rTreeIndex) Nearest(x, y float64) (raster.Cell, float64) {
	got := r.tree.NearestNeighbor(rtreego.Point{x, y}).(*cellRect)
	return got.cell, distance(got.cell, x, y)
}
