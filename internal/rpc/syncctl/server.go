package syncctl

import (
	"context"
	"time"

	"github.com/ismaiel54/floating-order-sync/internal/orders"
	"github.com/ismaiel54/floating-order-sync/internal/syncer"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Runner is the reconciliation entry point driven by manual triggers.
type Runner interface {
	RunAll(ctx context.Context, trigger syncer.Trigger) (syncer.RunStats, error)
	RunMarket(ctx context.Context, marketID int64, trigger syncer.Trigger) (syncer.RunStats, error)
}

// Subscriptions is the live listener's subscription surface.
type Subscriptions interface {
	SyncSubscriptions(ctx context.Context) error
	Subscriptions() []orders.SubscriptionKey
}

// Server implements SyncControlServer
type Server struct {
	runner Runner
	subs   Subscriptions
	logger *zap.Logger
}

// NewServer creates a sync control server. subs may be nil when live
// updates are disabled.
func NewServer(runner Runner, subs Subscriptions, logger *zap.Logger) *Server {
	return &Server{
		runner: runner,
		subs:   subs,
		logger: logger,
	}
}

// TriggerSync runs a full reconciliation now
func (s *Server) TriggerSync(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	stats, err := s.runner.RunAll(ctx, syncer.TriggerManual)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "sync failed: %v", err)
	}
	return StatsToStruct(stats), nil
}

// TriggerMarket runs a reconciliation for one market now
func (s *Server) TriggerMarket(ctx context.Context, req *wrapperspb.Int64Value) (*structpb.Struct, error) {
	if req.GetValue() <= 0 {
		return nil, status.Error(codes.InvalidArgument, "market id must be greater than 0")
	}
	stats, err := s.runner.RunMarket(ctx, req.GetValue(), syncer.TriggerManual)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "market sync failed: %v", err)
	}
	return StatsToStruct(stats), nil
}

// RefreshSubscriptions recomputes the live subscription set
func (s *Server) RefreshSubscriptions(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.Int64Value, error) {
	if s.subs == nil {
		return nil, status.Error(codes.FailedPrecondition, "live updates are disabled")
	}
	if err := s.subs.SyncSubscriptions(ctx); err != nil {
		return nil, status.Errorf(codes.Unavailable, "refresh failed: %v", err)
	}
	return wrapperspb.Int64(int64(len(s.subs.Subscriptions()))), nil
}

// StatsToStruct encodes run stats for the wire.
func StatsToStruct(st syncer.RunStats) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"accounts":      structpb.NewNumberValue(float64(st.Accounts)),
		"skipped":       structpb.NewNumberValue(float64(st.Skipped)),
		"failed":        structpb.NewNumberValue(float64(st.Failed)),
		"evaluated":     structpb.NewNumberValue(float64(st.Evaluated)),
		"repositions":   structpb.NewNumberValue(float64(st.Repositions)),
		"settled":       structpb.NewNumberValue(float64(st.Settled)),
		"cancelled":     structpb.NewNumberValue(float64(st.Cancelled)),
		"placed":        structpb.NewNumberValue(float64(st.Placed)),
		"cancel_failed": structpb.NewNumberValue(float64(st.CancelFailed)),
		"place_failed":  structpb.NewNumberValue(float64(st.PlaceFailed)),
	}}
}

// StatsFromStruct decodes run stats; unknown or missing fields are zero.
func StatsFromStruct(s *structpb.Struct) syncer.RunStats {
	f := func(name string) int {
		return int(s.GetFields()[name].GetNumberValue())
	}
	return syncer.RunStats{
		Accounts:     f("accounts"),
		Skipped:      f("skipped"),
		Failed:       f("failed"),
		Evaluated:    f("evaluated"),
		Repositions:  f("repositions"),
		Settled:      f("settled"),
		Cancelled:    f("cancelled"),
		Placed:       f("placed"),
		CancelFailed: f("cancel_failed"),
		PlaceFailed:  f("place_failed"),
	}
}

// LoggingInterceptor logs every unary call with its duration and status.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("gRPC request",
			zap.String("method", info.FullMethod),
			zap.Duration("duration", time.Since(start)),
			zap.String("status_code", status.Code(err).String()),
		)
		return resp, err
	}
}
