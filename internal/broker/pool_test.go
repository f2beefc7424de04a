package broker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct{ id int }

func (f *fakeChannel) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	return nil
}
func (f *fakeChannel) Consume(ctx context.Context, queue string) (<-chan Delivery, error) {
	return nil, nil
}
func (f *fakeChannel) Close() error { return nil }

type fakeConnection struct {
	closed    atomic.Bool
	nextChID  atomic.Int32
	failAfter int32 // unused; HealthCheck results come from fakeTransport.healthErr
}

func (f *fakeConnection) Channel(ctx context.Context) (Channel, error) {
	id := f.nextChID.Add(1)
	return &fakeChannel{id: int(id)}, nil
}
func (f *fakeConnection) IsClosed() bool { return f.closed.Load() }
func (f *fakeConnection) Close() error   { f.closed.Store(true); return nil }

type fakeTransport struct {
	connectCalls  atomic.Int32
	healthErr     error
	connections   []*fakeConnection
	connectErr    error
}

func (t *fakeTransport) Connect(ctx context.Context) (Connection, error) {
	if t.connectErr != nil {
		return nil, t.connectErr
	}
	t.connectCalls.Add(1)
	c := &fakeConnection{}
	t.connections = append(t.connections, c)
	return c, nil
}

func (t *fakeTransport) HealthCheck(ctx context.Context, conn Connection) error {
	return t.healthErr
}

func testConfig() Config {
	return Config{
		MaxConnections:     2,
		ChannelsPerConn:    2,
		MonitoringInterval: 20 * time.Millisecond,
		ReconnectBaseDelay: time.Millisecond,
		ReconnectMaxDelay:  10 * time.Millisecond,
		DrainTimeout:       time.Second,
	}
}

func TestAcquireChannelLazilyOpensConnection(t *testing.T) {
	tr := &fakeTransport{}
	p := New(tr, testConfig(), nil)

	ch, release, err := p.AcquireChannel(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ch)
	release()

	assert.Equal(t, int32(1), tr.connectCalls.Load())
}

func TestAcquireChannelReusesConnectionUpToBound(t *testing.T) {
	tr := &fakeTransport{}
	cfg := testConfig()
	cfg.MaxConnections = 1
	cfg.ChannelsPerConn = 1
	p := New(tr, cfg, nil)

	_, release1, err := p.AcquireChannel(context.Background())
	require.NoError(t, err)
	release1()

	_, release2, err := p.AcquireChannel(context.Background())
	require.NoError(t, err)
	release2()

	assert.Equal(t, int32(1), tr.connectCalls.Load())
}

func TestCloseIsIdempotent(t *testing.T) {
	tr := &fakeTransport{}
	p := New(tr, testConfig(), nil)
	p.Start(context.Background())

	assert.NoError(t, p.Close())
	assert.NoError(t, p.Close())
}

func TestAcquireChannelFailsOnClosedPool(t *testing.T) {
	tr := &fakeTransport{}
	p := New(tr, testConfig(), nil)
	require.NoError(t, p.Close())

	_, _, err := p.AcquireChannel(context.Background())
	assert.Error(t, err)
}

func TestHealthCheckMarksUnhealthyOnFailure(t *testing.T) {
	tr := &fakeTransport{healthErr: errors.New("down")}
	p := New(tr, testConfig(), nil)
	p.Start(context.Background())
	defer p.Close()

	_, release, err := p.AcquireChannel(context.Background())
	require.NoError(t, err)
	release()

	require.Eventually(t, func() bool {
		return p.ConsecutiveFailures() > 0
	}, time.Second, 5*time.Millisecond)
	assert.False(t, p.IsHealthy())
}

func TestHealthCheckRecoversAfterSuccess(t *testing.T) {
	tr := &fakeTransport{}
	p := New(tr, testConfig(), nil)
	p.Start(context.Background())
	defer p.Close()

	_, release, err := p.AcquireChannel(context.Background())
	require.NoError(t, err)
	release()

	require.Eventually(t, func() bool { return p.IsHealthy() }, time.Second, 5*time.Millisecond)
}

func TestAcquireChannelPropagatesConnectError(t *testing.T) {
	tr := &fakeTransport{connectErr: errors.New("refused")}
	p := New(tr, testConfig(), nil)

	_, _, err := p.AcquireChannel(context.Background())
	assert.Error(t, err)
}
