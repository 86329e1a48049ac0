package extractor

import (
	"errors"

	"github.com/example/face-attendance/internal/face"
)

// IsNoFace reports whether err means the image did not yield exactly one usable face.
func IsNoFace(err error) bool {
	return isFaceError(err)
}

func isFaceError(err error) bool {
	return errors.Is(err, face.ErrNoFaceDetected) || errors.Is(err, face.ErrMultipleFaces)
}

func isImageError(err error) bool {
	return errors.Is(err, ErrInvalidImage)
}
