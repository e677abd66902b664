package server

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func dialValidation(t *testing.T) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv, _ := NewGRPCServer(NewValidationService(nil, 0.5, nil), nil)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestValidationService_Validate(t *testing.T) {
	conn := dialValidation(t)
	client := NewValidationClient(conn)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(record), &m))
	in, err := structpb.NewStruct(m)
	require.NoError(t, err)

	out, err := client.Validate(context.Background(), in)
	require.NoError(t, err)
	got := out.AsMap()
	assert.Equal(t, true, got["accepted"])
	assert.InDelta(t, 1.0, got["score"], 1e-9)
	assert.Contains(t, got, "result")
}

func TestValidationService_Validate_PenalizesBadRecord(t *testing.T) {
	conn := dialValidation(t)
	in, err := structpb.NewStruct(map[string]any{
		"product": map[string]any{"name": "Fonds", "isin": "FR0000000000", "currency": "EUR"},
	})
	require.NoError(t, err)

	out, err := NewValidationClient(conn).Validate(context.Background(), in)
	require.NoError(t, err)
	got := out.AsMap()
	assert.Equal(t, false, got["accepted"])
	assert.Less(t, got["score"], 0.5)
	assert.NotEmpty(t, got["feedback"])
}

func TestValidationService_Validate_NilRecord(t *testing.T) {
	_, err := NewValidationService(nil, 0.5, nil).Validate(context.Background(), nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestNewGRPCServer_Health(t *testing.T) {
	conn := dialValidation(t)
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ValidationServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
