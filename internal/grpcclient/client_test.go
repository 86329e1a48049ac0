package grpcclient

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/face-attendance/internal/extractor"
	"github.com/example/face-attendance/internal/face"
	"github.com/example/face-attendance/internal/logging"
)

type fakeServer struct {
	result *extractor.Result
	err    error
	got    []byte
}

func (f *fakeServer) Extract(ctx context.Context, image *wrapperspb.BytesValue) (*structpb.Struct, error) {
	f.got = image.GetValue()
	if f.err != nil {
		return nil, f.err
	}
	return EncodeResult(f.result)
}

func startServer(t *testing.T, srv ExtractorServer) extractor.Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	RegisterExtractorServer(server, srv)
	go func() {
		_ = server.Serve(lis)
	}()
	t.Cleanup(server.Stop)

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	client, conn, err := DialExtractor(context.Background(), "bufnet", time.Second, zap.NewNop(), grpc.WithContextDialer(dialer))
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return client
}

func TestDetectRoundTrip(t *testing.T) {
	srv := &fakeServer{result: &extractor.Result{
		Model: "facenet-128",
		Detections: []extractor.Detection{
			{Score: 0.98, Embedding: face.Embedding{0.5, -0.25, 0.125}},
			{Score: 0.41, Embedding: face.Embedding{1, 1, 1}},
		},
	}}
	client := startServer(t, srv)

	result, err := client.Detect(context.Background(), []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(srv.got) != "jpeg-bytes" {
		t.Fatalf("server received %q", srv.got)
	}
	if result.Model != "facenet-128" {
		t.Fatalf("unexpected model: %s", result.Model)
	}
	if len(result.Detections) != 2 {
		t.Fatalf("expected 2 detections, got %d", len(result.Detections))
	}
	first := result.Detections[0]
	if first.Score != 0.98 || len(first.Embedding) != 3 || first.Embedding[1] != -0.25 {
		t.Fatalf("unexpected first detection: %+v", first)
	}
}

func TestDetectNoFaces(t *testing.T) {
	client := startServer(t, &fakeServer{result: &extractor.Result{Model: "m"}})

	result, err := client.Detect(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := extractor.SelectFace(result, extractor.MultiFaceReject); !errors.Is(err, face.ErrNoFaceDetected) {
		t.Fatalf("expected ErrNoFaceDetected, got %v", err)
	}
}

func TestDetectMapsInvalidArgument(t *testing.T) {
	client := startServer(t, &fakeServer{err: status.Error(codes.InvalidArgument, "unsupported format")})

	_, err := client.Detect(context.Background(), []byte("img"))
	if !errors.Is(err, extractor.ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
}

func TestDetectWrapsTransportErrors(t *testing.T) {
	client := startServer(t, &fakeServer{err: status.Error(codes.Unavailable, "model loading")})

	_, err := client.Detect(context.Background(), []byte("img"))
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T (%v)", err, err)
	}
	if opErr.Operation != "grpcclient.extract" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
}

func TestDecodeResultRejectsNonNumericEmbedding(t *testing.T) {
	msg, err := structpb.NewStruct(map[string]interface{}{
		"faces": []interface{}{
			map[string]interface{}{"score": 1.0, "embedding": []interface{}{"x"}},
		},
	})
	if err != nil {
		t.Fatalf("failed to build struct: %v", err)
	}
	if _, err := DecodeResult(msg); err == nil {
		t.Fatal("expected error for non-numeric embedding")
	}
}
