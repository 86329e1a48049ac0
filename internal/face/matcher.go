package face

import (
	"context"
	"fmt"
)

// DefaultThreshold is the reference cosine-distance cut-off for 128-d face descriptors.
const DefaultThreshold = 0.40

// Decision is the verdict for a single recognition attempt.
type Decision string

const (
	DecisionAccepted Decision = "accepted"
	DecisionRejected Decision = "rejected"
	DecisionNoFace   Decision = "no_face"
)

// Match is the closest gallery entry found for a probe embedding.
type Match struct {
	PersonID uint
	Distance float64
	Decision Decision
}

// Finder locates the closest registered face for a probe embedding.
type Finder interface {
	FindBest(ctx context.Context, target Embedding) (Match, error)
}

// Matcher holds the accept threshold for one embedding model.
type Matcher struct {
	threshold float64
}

// NewMatcher returns a matcher that accepts distances strictly below threshold.
func NewMatcher(threshold float64) (*Matcher, error) {
	if threshold <= 0 || threshold > 2 {
		return nil, fmt.Errorf("matcher threshold must be in (0, 2], got %v", threshold)
	}
	return &Matcher{threshold: threshold}, nil
}

// Threshold returns the configured cut-off.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Decide accepts iff distance < threshold.
func Decide(distance, threshold float64) Decision {
	if distance < threshold {
		return DecisionAccepted
	}
	return DecisionRejected
}

// Decide applies the matcher's threshold to the match and returns it with the decision set.
func (m *Matcher) Decide(match Match) Match {
	match.Decision = Decide(match.Distance, m.threshold)
	return match
}

// FindBest scans every gallery entry and returns the one closest to target.
// The first entry seen at the minimum distance wins. ErrGalleryEmpty is
// returned when the scan yields nothing.
func FindBest(ctx context.Context, target Embedding, gallery Gallery) (Match, error) {
	best := Match{}
	found := false

	for entry, err := range gallery.AllEntries(ctx) {
		if err != nil {
			return Match{}, err
		}
		d, err := Distance(target, entry.Embedding)
		if err != nil {
			return Match{}, fmt.Errorf("person %d: %w", entry.PersonID, err)
		}
		if !found || d < best.Distance {
			best = Match{PersonID: entry.PersonID, Distance: d}
			found = true
		}
	}

	if !found {
		return Match{}, ErrGalleryEmpty
	}
	return best, nil
}

// LinearFinder is the exhaustive Finder over a Gallery.
type LinearFinder struct {
	gallery Gallery
}

// NewLinearFinder builds a Finder that scans the whole gallery on each call.
func NewLinearFinder(gallery Gallery) *LinearFinder {
	return &LinearFinder{gallery: gallery}
}

// FindBest implements Finder.
func (f *LinearFinder) FindBest(ctx context.Context, target Embedding) (Match, error) {
	return FindBest(ctx, target, f.gallery)
}
