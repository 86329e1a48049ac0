package extractor

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/example/face-attendance/internal/face"
)

// InstrumentedExtractor records extraction latency and logs failures.
type InstrumentedExtractor struct {
	inner    Extractor
	duration *prometheus.HistogramVec
	logger   *zap.Logger
}

// NewInstrumentedExtractor wraps inner; duration takes a single "result" label and may be nil.
func NewInstrumentedExtractor(inner Extractor, duration *prometheus.HistogramVec, logger *zap.Logger) *InstrumentedExtractor {
	return &InstrumentedExtractor{inner: inner, duration: duration, logger: logger.Named("extractor")}
}

// Extract delegates to the inner extractor and observes the call.
func (e *InstrumentedExtractor) Extract(ctx context.Context, image []byte) (face.Embedding, error) {
	start := time.Now()
	vec, err := e.inner.Extract(ctx, image)
	elapsed := time.Since(start)

	result := resultLabel(err)
	if e.duration != nil {
		e.duration.WithLabelValues(result).Observe(elapsed.Seconds())
	}

	if err != nil && result == "error" {
		e.logger.Error("embedding extraction failed",
			zap.Int("image_bytes", len(image)),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	e.logger.Debug("embedding extracted",
		zap.Int("dimensions", vec.Dim()),
		zap.Duration("duration", elapsed),
	)
	return vec, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isFaceError(err):
		return "no_face"
	case isImageError(err):
		return "invalid_image"
	default:
		return "error"
	}
}
