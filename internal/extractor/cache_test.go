package extractor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/face-attendance/internal/face"
)

type stubCache struct {
	values map[string][]byte
	getErr error
	setErr error
	sets   int
}

func newStubCache() *stubCache {
	return &stubCache{values: map[string][]byte{}}
}

func (s *stubCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	s.sets++
	if s.setErr != nil {
		return s.setErr
	}
	s.values[key] = value
	return nil
}

func (s *stubCache) Get(ctx context.Context, key string) ([]byte, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	v, ok := s.values[key]
	if !ok {
		return nil, redis.Nil
	}
	return v, nil
}

var testScope = CacheScope{Model: "dlib-resnet-128", Policy: MultiFaceReject}

type stubExtractor struct {
	vec   face.Embedding
	err   error
	calls int
}

func (s *stubExtractor) Extract(ctx context.Context, image []byte) (face.Embedding, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.vec, nil
}

func TestCachedExtractorServesSecondCallFromCache(t *testing.T) {
	inner := &stubExtractor{vec: face.Embedding{0.25, -0.5, 1}}
	cache := newStubCache()
	ex := NewCachedExtractor(inner, cache, testScope, time.Minute, nil, zap.NewNop())

	first, err := ex.Extract(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := ex.Extract(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if inner.calls != 1 {
		t.Fatalf("expected inner extractor to be called once, got %d", inner.calls)
	}
	if len(first) != len(second) {
		t.Fatalf("cached vector length differs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("cached vector differs at %d: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestCachedExtractorDoesNotCacheNoFace(t *testing.T) {
	inner := &stubExtractor{err: face.ErrNoFaceDetected}
	cache := newStubCache()
	ex := NewCachedExtractor(inner, cache, testScope, time.Minute, nil, zap.NewNop())

	_, err := ex.Extract(context.Background(), []byte("img"))
	if !errors.Is(err, face.ErrNoFaceDetected) {
		t.Fatalf("expected ErrNoFaceDetected, got %v", err)
	}
	if cache.sets != 0 {
		t.Fatalf("expected no cache writes, got %d", cache.sets)
	}
}

func TestCachedExtractorIgnoresCacheFailures(t *testing.T) {
	inner := &stubExtractor{vec: face.Embedding{1, 2}}
	cache := &stubCache{values: map[string][]byte{}, getErr: errors.New("conn refused"), setErr: errors.New("conn refused")}
	ex := NewCachedExtractor(inner, cache, testScope, time.Minute, nil, zap.NewNop())

	vec, err := ex.Extract(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("expected cache failure to be ignored, got %v", err)
	}
	if vec.Dim() != 2 {
		t.Fatalf("unexpected vector: %v", vec)
	}
}

func TestDecodeVectorRejectsTruncatedData(t *testing.T) {
	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for truncated data")
	}
}

func TestCachedExtractorKeysByScope(t *testing.T) {
	cache := newStubCache()
	image := []byte("img")

	oldModel := &stubExtractor{vec: face.Embedding{1, 0}}
	old := NewCachedExtractor(oldModel, cache, CacheScope{Model: "v1", Dimension: 2, Policy: MultiFaceReject}, time.Minute, nil, zap.NewNop())
	if _, err := old.Extract(context.Background(), image); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	scopes := []CacheScope{
		{Model: "v2", Dimension: 2, Policy: MultiFaceReject},
		{Model: "v1", Dimension: 3, Policy: MultiFaceReject},
		{Model: "v1", Dimension: 2, Policy: MultiFacePrimary},
	}
	for _, scope := range scopes {
		inner := &stubExtractor{vec: face.Embedding{0, 1, 0}}
		ex := NewCachedExtractor(inner, cache, scope, time.Minute, nil, zap.NewNop())
		if _, err := ex.Extract(context.Background(), image); err != nil {
			t.Fatalf("%+v: unexpected error: %v", scope, err)
		}
		if inner.calls != 1 {
			t.Fatalf("%+v: expected a cache miss, got %d inner calls", scope, inner.calls)
		}
	}
}

func TestCachedExtractorDiscardsInvalidCachedVectors(t *testing.T) {
	scope := CacheScope{Model: "v1", Dimension: 3, Policy: MultiFaceReject}
	image := []byte("img")

	tests := []struct {
		name   string
		cached face.Embedding
	}{
		{name: "wrong dimension", cached: face.Embedding{1, 0}},
		{name: "zero norm", cached: face.Embedding{0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := newStubCache()
			cache.values[scope.key(image)] = encodeVector(tt.cached)
			inner := &stubExtractor{vec: face.Embedding{0, 0, 1}}
			ex := NewCachedExtractor(inner, cache, scope, time.Minute, nil, zap.NewNop())

			vec, err := ex.Extract(context.Background(), image)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if inner.calls != 1 || vec.Dim() != 3 || vec[2] != 1 {
				t.Fatalf("expected fresh extraction, got %v after %d calls", vec, inner.calls)
			}
		})
	}
}
