package grpcclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/face-attendance/internal/extractor"
	"github.com/example/face-attendance/internal/logging"
)

// DialExtractor returns a ready-to-use gRPC client for the embedding service.
func DialExtractor(ctx context.Context, addr string, timeout time.Duration, logger *zap.Logger, opts ...grpc.DialOption) (extractor.Client, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_extractor", "", err)
		logger.Error("failed to dial embedding service", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewClient(conn, timeout, logger), conn, nil
}

// NewClient wraps an existing connection.
func NewClient(conn grpc.ClientConnInterface, timeout time.Duration, logger *zap.Logger) extractor.Client {
	return &grpcExtractor{conn: conn, timeout: timeout, logger: logger}
}

type grpcExtractor struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
	logger  *zap.Logger
}

func (g *grpcExtractor) Detect(ctx context.Context, image []byte) (*extractor.Result, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp := new(structpb.Struct)
	if err := g.conn.Invoke(ctx, extractMethod, wrapperspb.Bytes(image), resp); err != nil {
		if status.Code(err) == codes.InvalidArgument {
			return nil, fmt.Errorf("%w: %s", extractor.ErrInvalidImage, status.Convert(err).Message())
		}
		wrapped := logging.NewOperationError("grpcclient.extract", "", err)
		g.logger.Error("embedding service call failed", zap.Error(wrapped), zap.Int("image_bytes", len(image)))
		return nil, wrapped
	}

	result, err := DecodeResult(resp)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.decode_result", "", err)
	}
	return result, nil
}
