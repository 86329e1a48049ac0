package extractor

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/face-attendance/internal/face"
)

// ErrInvalidImage signals bytes that cannot be decoded as a supported image.
var ErrInvalidImage = errors.New("invalid image")

// Detection is one face found by the embedding model.
type Detection struct {
	Score     float64
	Embedding face.Embedding
}

// Result contains every face the model returned for an image.
type Result struct {
	Model      string
	Detections []Detection
}

// Client exposes the raw detection call of the embedding service.
type Client interface {
	Detect(ctx context.Context, image []byte) (*Result, error)
}

// Extractor maps an image to the embedding of the single face it shows.
type Extractor interface {
	Extract(ctx context.Context, image []byte) (face.Embedding, error)
}

// MultiFacePolicy decides what happens when an image contains more than one face.
type MultiFacePolicy string

const (
	// MultiFaceReject refuses images with more than one face.
	MultiFaceReject MultiFacePolicy = "reject"
	// MultiFacePrimary keeps the detection with the highest score.
	MultiFacePrimary MultiFacePolicy = "primary"
)

// ParseMultiFacePolicy validates a configured policy name.
func ParseMultiFacePolicy(value string) (MultiFacePolicy, error) {
	switch MultiFacePolicy(value) {
	case MultiFaceReject, MultiFacePrimary:
		return MultiFacePolicy(value), nil
	case "":
		return MultiFaceReject, nil
	default:
		return "", fmt.Errorf("unknown multi-face policy %q", value)
	}
}

// SelectFace applies policy to a detection result.
func SelectFace(result *Result, policy MultiFacePolicy) (Detection, error) {
	if result == nil || len(result.Detections) == 0 {
		return Detection{}, face.ErrNoFaceDetected
	}
	if len(result.Detections) > 1 && policy != MultiFacePrimary {
		return Detection{}, fmt.Errorf("%w: %d faces", face.ErrMultipleFaces, len(result.Detections))
	}

	best := result.Detections[0]
	for _, d := range result.Detections[1:] {
		if d.Score > best.Score {
			best = d
		}
	}
	return best, nil
}

// FaceExtractor turns a detection Client into an Extractor.
type FaceExtractor struct {
	client    Client
	policy    MultiFacePolicy
	dimension int
	maxSide   int
	maxPixels int
}

// Options configures a FaceExtractor.
type Options struct {
	Policy MultiFacePolicy
	// Dimension, when positive, is the embedding length the model must produce.
	Dimension int
	// MaxSide bounds the longer image side sent to the model; 0 disables resizing.
	MaxSide int
	// MaxPixels rejects images declaring more pixels; 0 means DefaultMaxPixels.
	MaxPixels int
}

// NewFaceExtractor wraps client with image normalisation and face selection.
func NewFaceExtractor(client Client, opts Options) *FaceExtractor {
	policy := opts.Policy
	if policy == "" {
		policy = MultiFaceReject
	}
	return &FaceExtractor{
		client:    client,
		policy:    policy,
		dimension: opts.Dimension,
		maxSide:   opts.MaxSide,
		maxPixels: opts.MaxPixels,
	}
}

// Extract normalises the image, runs detection and returns the selected face embedding.
func (e *FaceExtractor) Extract(ctx context.Context, image []byte) (face.Embedding, error) {
	normalized, err := NormalizeImage(image, e.maxSide, e.maxPixels)
	if err != nil {
		return nil, err
	}

	result, err := e.client.Detect(ctx, normalized)
	if err != nil {
		return nil, err
	}

	detection, err := SelectFace(result, e.policy)
	if err != nil {
		return nil, err
	}

	if err := detection.Embedding.Validate(); err != nil {
		return nil, err
	}
	if e.dimension > 0 && detection.Embedding.Dim() != e.dimension {
		return nil, fmt.Errorf("%w: model %q returned %d values, expected %d",
			face.ErrInvalidEmbedding, result.Model, detection.Embedding.Dim(), e.dimension)
	}
	return detection.Embedding, nil
}
