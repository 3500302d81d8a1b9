package syncctl

import (
	"context"
	"fmt"
	"time"

	"github.com/ismaiel54/floating-order-sync/internal/syncer"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client is a gRPC client for the sync control service
type Client struct {
	cc      *grpc.ClientConn
	timeout time.Duration
}

// Dial creates a new client connection to the sync control service
func Dial(ctx context.Context, addr string, timeout time.Duration, logger *zap.Logger, opts ...grpc.DialOption) (*Client, error) {
	unaryInterceptor := func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		logger.Info("gRPC call",
			zap.String("method", method),
			zap.Duration("duration", time.Since(start)),
			zap.String("status_code", status.Code(err).String()),
		)
		return err
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(unaryInterceptor),
	}, opts...)

	conn, err := grpc.DialContext(ctx, addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial sync control: %w", err)
	}
	return &Client{cc: conn, timeout: timeout}, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// TriggerSync runs a full reconciliation on the server
func (c *Client) TriggerSync(ctx context.Context) (syncer.RunStats, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodTriggerSync, &emptypb.Empty{}, out); err != nil {
		return syncer.RunStats{}, err
	}
	return StatsFromStruct(out), nil
}

// TriggerMarket runs a reconciliation for one market on the server
func (c *Client) TriggerMarket(ctx context.Context, marketID int64) (syncer.RunStats, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodTriggerMarket, wrapperspb.Int64(marketID), out); err != nil {
		return syncer.RunStats{}, err
	}
	return StatsFromStruct(out), nil
}

// RefreshSubscriptions asks the server to recompute live subscriptions
func (c *Client) RefreshSubscriptions(ctx context.Context) (int64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	out := new(wrapperspb.Int64Value)
	if err := c.cc.Invoke(ctx, methodRefreshSubscriptions, &emptypb.Empty{}, out); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}

// Close closes the client connection
func (c *Client) Close() error {
	if c.cc != nil {
		return c.cc.Close()
	}
	return nil
}
