package face

import "errors"

var (
	// ErrNoFaceDetected signals that the extractor found no usable face in the image.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrMultipleFaces signals that more than one face was found while the policy requires exactly one.
	ErrMultipleFaces = errors.New("multiple faces detected")
	// ErrInvalidEmbedding signals an empty, non-finite or zero-norm vector, or one whose
	// dimensionality does not fit the gallery.
	ErrInvalidEmbedding = errors.New("invalid embedding")
	// ErrDimensionMismatch signals that two embeddings of different length were compared.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrGalleryEmpty signals that no faces have been registered yet.
	ErrGalleryEmpty = errors.New("gallery empty")
)
