package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/kid-extractor/internal/common"
	"github.com/joseph-ayodele/kid-extractor/internal/validation"
)

const (
	ValidationServiceName = "kid.v1.ValidationService"
	validateMethod        = "/" + ValidationServiceName + "/Validate"
)

// ValidationServer grades a record sent as a google.protobuf.Struct and
// answers with the verdict as a Struct.
type ValidationServer interface {
	Validate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type ValidationService struct {
	validator *validation.Validator
	minScore  float64
	logger    *slog.Logger
}

func NewValidationService(v *validation.Validator, minScore float64, logger *slog.Logger) *ValidationService {
	if v == nil {
		v = validation.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ValidationService{validator: v, minScore: minScore, logger: logger}
}

func (s *ValidationService) Validate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if in == nil {
		return nil, common.InvalidArgumentError("record is required")
	}
	start := time.Now()
	res, err := s.validator.ValidateDocument(in.AsMap())
	if err != nil {
		return nil, common.InvalidArgumentError(err.Error())
	}

	out, err := verdictStruct(res, res.Accepted(s.minScore))
	if err != nil {
		s.logger.Error("grpc.validate.encode_failed", "error", err)
		return nil, common.InternalErrorf("encode verdict: %v", err)
	}
	s.logger.Info("grpc.validate.ok",
		"req_id", common.RequestIDFromContext(ctx),
		"score", res.Score,
		"violations", len(res.Violations),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func verdictStruct(res *validation.Result, accepted bool) (*structpb.Struct, error) {
	b, err := json.Marshal(verdict{Accepted: accepted, Score: res.Score, Feedback: res.Feedback, Result: res})
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

var validationServiceDesc = grpc.ServiceDesc{
	ServiceName: ValidationServiceName,
	HandlerType: (*ValidationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Validate", Handler: validateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "kid/v1/validation.proto",
}

func validateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ValidationServer).Validate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: validateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ValidationServer).Validate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func RegisterValidationServer(s grpc.ServiceRegistrar, srv ValidationServer) {
	s.RegisterService(&validationServiceDesc, srv)
}

// ValidationClient calls kid.v1.ValidationService.
type ValidationClient struct {
	cc grpc.ClientConnInterface
}

func NewValidationClient(cc grpc.ClientConnInterface) *ValidationClient {
	return &ValidationClient{cc: cc}
}

func (c *ValidationClient) Validate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, validateMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// NewGRPCServer returns a server with the validation, health and reflection
// services registered. The health status starts as SERVING.
func NewGRPCServer(svc ValidationServer, logger *slog.Logger) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = slog.Default()
	}
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ValidationServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(srv)

	RegisterValidationServer(srv, svc)
	return srv, hs
}

// loggingInterceptor maps application errors onto status codes and logs
// failed calls.
func loggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			err = common.ToStatus(err)
			logger.Warn("grpc.call.failed",
				"method", info.FullMethod,
				"error", err,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
		}
		return resp, err
	}
}
