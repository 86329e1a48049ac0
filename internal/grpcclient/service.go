package grpcclient

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/face-attendance/internal/extractor"
	"github.com/example/face-attendance/internal/face"
)

const (
	serviceName   = "faceembed.v1.Extractor"
	extractMethod = "/" + serviceName + "/Extract"
)

// ExtractorServer is the server side of the embedding service. Requests carry the raw
// image bytes; responses are a Struct of the form
// {"model": string, "faces": [{"score": number, "embedding": [number...]}]}.
type ExtractorServer interface {
	Extract(ctx context.Context, image *wrapperspb.BytesValue) (*structpb.Struct, error)
}

// RegisterExtractorServer exposes srv on s under the faceembed.v1.Extractor service.
func RegisterExtractorServer(s grpc.ServiceRegistrar, srv ExtractorServer) {
	s.RegisterService(&extractorServiceDesc, srv)
}

var extractorServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ExtractorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Extract",
			Handler:    extractHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "faceembed/v1/extractor.proto",
}

func extractHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExtractorServer).Extract(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: extractMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ExtractorServer).Extract(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// EncodeResult converts a detection result into its wire form.
func EncodeResult(result *extractor.Result) (*structpb.Struct, error) {
	faces := make([]interface{}, 0, len(result.Detections))
	for _, d := range result.Detections {
		values := make([]interface{}, len(d.Embedding))
		for i, v := range d.Embedding {
			values[i] = v
		}
		faces = append(faces, map[string]interface{}{
			"score":     d.Score,
			"embedding": values,
		})
	}
	return structpb.NewStruct(map[string]interface{}{
		"model": result.Model,
		"faces": faces,
	})
}

// DecodeResult parses the wire form produced by EncodeResult.
func DecodeResult(msg *structpb.Struct) (*extractor.Result, error) {
	fields := msg.GetFields()
	result := &extractor.Result{Model: fields["model"].GetStringValue()}

	for i, item := range fields["faces"].GetListValue().GetValues() {
		faceFields := item.GetStructValue().GetFields()
		if faceFields == nil {
			return nil, fmt.Errorf("face %d: expected object", i)
		}
		values := faceFields["embedding"].GetListValue().GetValues()
		vec := make(face.Embedding, len(values))
		for j, v := range values {
			if _, ok := v.GetKind().(*structpb.Value_NumberValue); !ok {
				return nil, fmt.Errorf("face %d: embedding value %d is not a number", i, j)
			}
			vec[j] = v.GetNumberValue()
		}
		result.Detections = append(result.Detections, extractor.Detection{
			Score:     faceFields["score"].GetNumberValue(),
			Embedding: vec,
		})
	}
	return result, nil
}
