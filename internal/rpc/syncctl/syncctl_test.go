package syncctl

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/ismaiel54/floating-order-sync/internal/orders"
	"github.com/ismaiel54/floating-order-sync/internal/syncer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fakeRunner struct {
	lastMarket int64
	err        error
}

func (f *fakeRunner) RunAll(context.Context, syncer.Trigger) (syncer.RunStats, error) {
	return syncer.RunStats{Accounts: 3, Evaluated: 7, Repositions: 2, Placed: 2, Cancelled: 2}, f.err
}

func (f *fakeRunner) RunMarket(_ context.Context, marketID int64, trigger syncer.Trigger) (syncer.RunStats, error) {
	f.lastMarket = marketID
	return syncer.RunStats{Accounts: 1, Evaluated: 1, PlaceFailed: 1}, f.err
}

type fakeSubs struct {
	keys []orders.SubscriptionKey
	err  error
}

func (f *fakeSubs) SyncSubscriptions(context.Context) error { return f.err }

func (f *fakeSubs) Subscriptions() []orders.SubscriptionKey { return f.keys }

func startServer(t *testing.T, srv SyncControlServer) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer(grpc.UnaryInterceptor(LoggingInterceptor(zap.NewNop())))
	RegisterSyncControlServer(s, srv)
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	client, err := Dial(context.Background(), "bufnet", 5*time.Second, zap.NewNop(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestTriggerSync(t *testing.T) {
	client := startServer(t, NewServer(&fakeRunner{}, nil, zap.NewNop()))

	stats, err := client.TriggerSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, syncer.RunStats{Accounts: 3, Evaluated: 7, Repositions: 2, Placed: 2, Cancelled: 2}, stats)
}

func TestTriggerSync_RunnerError(t *testing.T) {
	client := startServer(t, NewServer(&fakeRunner{err: errors.New("store down")}, nil, zap.NewNop()))

	_, err := client.TriggerSync(context.Background())
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestTriggerMarket(t *testing.T) {
	runner := &fakeRunner{}
	client := startServer(t, NewServer(runner, nil, zap.NewNop()))

	stats, err := client.TriggerMarket(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), runner.lastMarket)
	assert.Equal(t, 1, stats.PlaceFailed)

	_, err = client.TriggerMarket(context.Background(), 0)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestRefreshSubscriptions(t *testing.T) {
	subs := &fakeSubs{keys: []orders.SubscriptionKey{{ID: 1}, {ID: 2, Root: true}}}
	client := startServer(t, NewServer(&fakeRunner{}, subs, zap.NewNop()))

	n, err := client.RefreshSubscriptions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	subs.err = errors.New("not connected")
	_, err = client.RefreshSubscriptions(context.Background())
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestRefreshSubscriptions_LiveDisabled(t *testing.T) {
	client := startServer(t, NewServer(&fakeRunner{}, nil, zap.NewNop()))

	_, err := client.RefreshSubscriptions(context.Background())
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestStatsRoundTrip(t *testing.T) {
	in := syncer.RunStats{Accounts: 1, Skipped: 2, Failed: 3, Evaluated: 4, Repositions: 5, Settled: 6, Cancelled: 7, Placed: 8, CancelFailed: 9, PlaceFailed: 10}
	assert.Equal(t, in, StatsFromStruct(StatsToStruct(in)))
	assert.Equal(t, syncer.RunStats{}, StatsFromStruct(nil))
}
