package face

import (
	"context"
	"fmt"
	"iter"
	"math"
)

// Embedding is a fixed-length face descriptor produced by the extractor.
type Embedding []float64

// Dim returns the dimensionality of the embedding.
func (e Embedding) Dim() int {
	return len(e)
}

// Validate rejects vectors that can never take part in a cosine comparison.
func (e Embedding) Validate() error {
	if len(e) == 0 {
		return fmt.Errorf("%w: empty vector", ErrInvalidEmbedding)
	}
	var sum float64
	for i, v := range e {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value at index %d", ErrInvalidEmbedding, i)
		}
		sum += v * v
	}
	if sum == 0 {
		return fmt.Errorf("%w: zero norm", ErrInvalidEmbedding)
	}
	return nil
}

// Clone returns a copy that does not share the backing array.
func (e Embedding) Clone() Embedding {
	out := make(Embedding, len(e))
	copy(out, e)
	return out
}

// Entry is one registered face: a person and their single stored embedding.
type Entry struct {
	PersonID  uint
	Embedding Embedding
}

// Gallery exposes a full scan over the registered faces. Each call to AllEntries
// starts a fresh scan; the sequence stops at the first error it yields.
type Gallery interface {
	AllEntries(ctx context.Context) iter.Seq2[Entry, error]
}

// StaticGallery is an in-memory Gallery over a fixed slice, scanned in slice order.
type StaticGallery []Entry

// AllEntries implements Gallery.
func (g StaticGallery) AllEntries(ctx context.Context) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for _, entry := range g {
			if err := ctx.Err(); err != nil {
				yield(Entry{}, err)
				return
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}
