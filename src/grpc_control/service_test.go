package grpc_control

import (
	"context"
	"net"
	"testing"
	"time"

	"market-gateway/src/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
)

func dialBufconn(t *testing.T, svc *ControlService) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go svc.Serve(lis)
	t.Cleanup(svc.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return healthpb.NewHealthClient(conn)
}

// -----------------------------------------------------------------------------

func TestControlService_MirrorsFeedStatus(t *testing.T) {
	svc := NewControlService(0, logger.NewNop())
	client := dialBufconn(t, svc)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(UpstreamService))

	svc.OnFeedStatus("connected", "")
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(UpstreamService))

	svc.OnFeedStatus("auth_expired", "token rejected")
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(UpstreamService))
}

// -----------------------------------------------------------------------------

func TestControlService_WatchStreamsTransitions(t *testing.T) {
	svc := NewControlService(0, logger.NewNop())
	client := dialBufconn(t, svc)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stream, err := client.Watch(ctx, &healthpb.HealthCheckRequest{Service: UpstreamService})
	require.NoError(t, err)

	first, err := stream.Recv()
	require.NoError(t, err)
	assert.True(t, proto.Equal(&healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, first))

	svc.OnFeedStatus("connected", "")
	next, err := stream.Recv()
	require.NoError(t, err)
	assert.True(t, proto.Equal(&healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, next))
}
