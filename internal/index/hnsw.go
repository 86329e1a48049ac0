// Package index keeps an in-memory approximate nearest neighbour index over the
// face gallery and re-ranks its candidates with the exact cosine distance.
package index

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/coder/hnsw"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/example/face-attendance/internal/face"
)

const (
	defaultCandidates   = 10
	defaultMaxNeighbors = 16
	defaultEfSearch     = 64
)

// Options tune the graph.
type Options struct {
	// Candidates is how many approximate neighbours are re-ranked exactly.
	Candidates int
	// MaxNeighbors is the HNSW M parameter.
	MaxNeighbors int
	// EfSearch is the search queue size.
	EfSearch int
	// ConfirmBelow is the distance under which a graph answer is trusted.
	// Anything at or above it is re-checked with an exact scan of the snapshot,
	// so a graph miss cannot turn a known face into an unknown one.
	ConfirmBelow float64
	// Seed fixes level generation; zero picks a fixed default.
	Seed int64
	// Size, when set, reports the number of indexed faces.
	Size prometheus.Gauge
}

// snapshot is an immutable view of the gallery at one point in time.
type snapshot struct {
	graph   *hnsw.Graph[uint]
	vectors map[uint]face.Embedding
	dim     int
}

// HNSWFinder implements face.Finder on top of a periodically rebuilt HNSW graph.
// Writes to the gallery must call Invalidate so the next lookup rebuilds first.
type HNSWFinder struct {
	source face.Gallery
	opts   Options
	logger *zap.Logger

	current   atomic.Pointer[snapshot]
	dirty     atomic.Bool
	rebuildMu sync.Mutex
}

// NewHNSWFinder creates a finder over source. The first lookup builds the index.
func NewHNSWFinder(source face.Gallery, opts Options, logger *zap.Logger) *HNSWFinder {
	if opts.Candidates <= 0 {
		opts.Candidates = defaultCandidates
	}
	if opts.MaxNeighbors <= 0 {
		opts.MaxNeighbors = defaultMaxNeighbors
	}
	if opts.EfSearch <= 0 {
		opts.EfSearch = defaultEfSearch
	}
	if opts.ConfirmBelow <= 0 {
		opts.ConfirmBelow = face.DefaultThreshold
	}
	if opts.Seed == 0 {
		opts.Seed = 1
	}
	f := &HNSWFinder{
		source: source,
		opts:   opts,
		logger: logger.Named("hnsw_finder"),
	}
	f.dirty.Store(true)
	return f
}

// Invalidate marks the index stale.
func (f *HNSWFinder) Invalidate() {
	f.dirty.Store(true)
}

// Len returns the number of indexed faces.
func (f *HNSWFinder) Len() int {
	snap := f.current.Load()
	if snap == nil {
		return 0
	}
	return len(snap.vectors)
}

// Refresh rebuilds the graph from a full gallery scan and swaps it in.
func (f *HNSWFinder) Refresh(ctx context.Context) error {
	f.rebuildMu.Lock()
	defer f.rebuildMu.Unlock()
	return f.rebuild(ctx)
}

func (f *HNSWFinder) rebuild(ctx context.Context) error {
	// Cleared before the scan so writes landing during the rebuild mark it stale again.
	f.dirty.Store(false)

	g := hnsw.NewGraph[uint]()
	g.M = f.opts.MaxNeighbors
	g.Ml = 1.0 / float64(f.opts.MaxNeighbors)
	g.EfSearch = f.opts.EfSearch
	g.Distance = hnsw.CosineDistance
	g.Rng = rand.New(rand.NewSource(f.opts.Seed))

	snap := &snapshot{vectors: make(map[uint]face.Embedding)}
	for entry, err := range f.source.AllEntries(ctx) {
		if err != nil {
			f.dirty.Store(true)
			return fmt.Errorf("rebuild index: %w", err)
		}
		if snap.dim == 0 {
			snap.dim = entry.Embedding.Dim()
		} else if entry.Embedding.Dim() != snap.dim {
			f.dirty.Store(true)
			return fmt.Errorf("rebuild index: person %d: %w: %d vs %d",
				entry.PersonID, face.ErrDimensionMismatch, entry.Embedding.Dim(), snap.dim)
		}
		g.Add(hnsw.MakeNode(entry.PersonID, toFloat32(entry.Embedding)))
		snap.vectors[entry.PersonID] = entry.Embedding
	}
	snap.graph = g

	f.current.Store(snap)
	if f.opts.Size != nil {
		f.opts.Size.Set(float64(len(snap.vectors)))
	}
	f.logger.Debug("gallery index rebuilt", zap.Int("faces", len(snap.vectors)))
	return nil
}

func (f *HNSWFinder) ensureFresh(ctx context.Context) (*snapshot, error) {
	if !f.dirty.Load() {
		if snap := f.current.Load(); snap != nil {
			return snap, nil
		}
	}

	f.rebuildMu.Lock()
	defer f.rebuildMu.Unlock()
	if f.dirty.Load() || f.current.Load() == nil {
		if err := f.rebuild(ctx); err != nil {
			return nil, err
		}
	}
	return f.current.Load(), nil
}

// FindBest implements face.Finder. Candidates from the graph are re-ranked with
// the exact distance; equal distances resolve to the lowest person id, matching
// the ordered linear scan. When no candidate lands under ConfirmBelow the whole
// snapshot is scanned, so every rejection agrees with the linear scan.
func (f *HNSWFinder) FindBest(ctx context.Context, target face.Embedding) (face.Match, error) {
	snap, err := f.ensureFresh(ctx)
	if err != nil {
		return face.Match{}, err
	}
	if len(snap.vectors) == 0 {
		return face.Match{}, face.ErrGalleryEmpty
	}
	if target.Dim() != snap.dim {
		return face.Match{}, fmt.Errorf("%w: %d vs %d", face.ErrDimensionMismatch, target.Dim(), snap.dim)
	}

	k := min(max(f.opts.Candidates, f.opts.EfSearch), len(snap.vectors))
	neighbors := snap.graph.Search(toFloat32(target), k)

	best, found, err := rerank(target, snap, func(yield func(uint) bool) {
		for _, n := range neighbors {
			if !yield(n.Key) {
				return
			}
		}
	})
	if err != nil {
		return face.Match{}, err
	}
	if found && best.Distance < f.opts.ConfirmBelow {
		return best, nil
	}

	exact, _, err := rerank(target, snap, maps.Keys(snap.vectors))
	if err != nil {
		return face.Match{}, err
	}
	if found && exact.PersonID != best.PersonID {
		f.logger.Debug("graph search missed nearest face",
			zap.Uint("graph_person_id", best.PersonID),
			zap.Uint("exact_person_id", exact.PersonID))
	}
	return exact, nil
}

// rerank returns the closest of ids by exact distance; equal distances go to
// the lowest person id.
func rerank(target face.Embedding, snap *snapshot, ids iter.Seq[uint]) (face.Match, bool, error) {
	best := face.Match{}
	found := false
	for id := range ids {
		d, err := face.Distance(target, snap.vectors[id])
		if err != nil {
			return face.Match{}, false, fmt.Errorf("person %d: %w", id, err)
		}
		if !found || d < best.Distance || (d == best.Distance && id < best.PersonID) {
			best = face.Match{PersonID: id, Distance: d}
			found = true
		}
	}
	return best, found, nil
}

func toFloat32(v face.Embedding) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
