package broker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/indexforge/ingestcore/internal/coreerrors"
	"github.com/indexforge/ingestcore/internal/metricsink/prom"
)

// Config bounds the pool.
type Config struct {
	MaxConnections     int
	ChannelsPerConn    int
	MonitoringInterval time.Duration
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	DrainTimeout       time.Duration
}

type pooledConnection struct {
	conn     Connection
	channels chan Channel
	mu       sync.Mutex
}

// Pool is a bounded connection pool with a per-connection channel
// sub-pool, a background health-check loop, and backoff-bounded
// reconnection.
type Pool struct {
	transport Transport
	cfg       Config
	logger    *slog.Logger

	mu          sync.Mutex
	connections []*pooledConnection
	started     bool

	healthy             atomic.Bool
	closed              atomic.Bool
	consecutiveFailures atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reconnectMu    sync.Mutex
	reconnectDelay time.Duration
}

// New creates a Pool. Connections are opened lazily on first Acquire.
func New(transport Transport, cfg Config, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{transport: transport, cfg: cfg, logger: logger}
	p.reconnectDelay = cfg.ReconnectBaseDelay
	p.healthy.Store(true)
	return p
}

// Start launches the health-check loop. Idempotent.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.healthCheckLoop()
}

// Close stops the health-check loop (waiting up to DrainTimeout for it to
// exit), then closes every pooled channel and then each connection.
// Idempotent.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	timeout := p.cfg.DrainTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	select {
	case <-done:
	case <-time.After(timeout):
		p.logger.Warn("broker pool drain timed out")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, pc := range p.connections {
		close(pc.channels)
		for ch := range pc.channels {
			if err := ch.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := pc.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.connections = nil
	return firstErr
}

// AcquireChannel borrows a channel from the first live connection that has
// an idle one, opening a new connection (up to MaxConnections) when none
// has; at the limit it waits on the first live connection's sub-pool. It
// returns a release func. It never yields a channel on a closed
// connection.
func (p *Pool) AcquireChannel(ctx context.Context) (Channel, func(), error) {
	if p.closed.Load() {
		return nil, nil, coreerrors.NewBrokerError("pool is closed", nil)
	}

	pc, err := p.acquireConnection(ctx)
	if err != nil {
		return nil, nil, err
	}

	select {
	case ch, ok := <-pc.channels:
		if !ok || pc.conn.IsClosed() {
			return nil, nil, coreerrors.NewBrokerError("connection closed while acquiring channel", nil)
		}
		release := func() {
			if !pc.conn.IsClosed() {
				select {
				case pc.channels <- ch:
				default:
					ch.Close()
				}
			}
		}
		return ch, release, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func (p *Pool) acquireConnection(ctx context.Context) (*pooledConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pc := range p.connections {
		if !pc.conn.IsClosed() && len(pc.channels) > 0 {
			return pc, nil
		}
	}

	if len(p.connections) >= p.cfg.MaxConnections {
		// All connections busy; return the first live one and let the
		// channel-acquire select block for availability.
		for _, pc := range p.connections {
			if !pc.conn.IsClosed() {
				return pc, nil
			}
		}
		return nil, coreerrors.NewBrokerError("no live connections available", nil)
	}

	conn, err := p.transport.Connect(ctx)
	if err != nil {
		return nil, coreerrors.NewBrokerError("failed to open connection", err)
	}

	pc := &pooledConnection{conn: conn, channels: make(chan Channel, p.cfg.ChannelsPerConn)}
	for i := 0; i < p.cfg.ChannelsPerConn; i++ {
		ch, err := conn.Channel(ctx)
		if err != nil {
			conn.Close()
			return nil, coreerrors.NewBrokerError("failed to open channel", err)
		}
		pc.channels <- ch
	}

	p.connections = append(p.connections, pc)
	return pc, nil
}

func (p *Pool) healthCheckLoop() {
	defer p.wg.Done()

	interval := p.cfg.MonitoringInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.performHealthCheck()
		}
	}
}

func (p *Pool) performHealthCheck() {
	p.mu.Lock()
	conns := make([]*pooledConnection, len(p.connections))
	copy(conns, p.connections)
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
	defer cancel()

	allHealthy := true
	for _, pc := range conns {
		if err := p.transport.HealthCheck(ctx, pc.conn); err != nil {
			allHealthy = false
			p.logger.Warn("broker health check failed", "error", err)
			prom.RecordBrokerHealthCheckError("health_check_failed")
		}
	}

	if allHealthy {
		p.consecutiveFailures.Store(0)
		p.healthy.Store(true)
		p.reconnectMu.Lock()
		p.reconnectDelay = p.cfg.ReconnectBaseDelay
		p.reconnectMu.Unlock()
		return
	}

	failures := p.consecutiveFailures.Add(1)
	p.healthy.Store(false)
	p.logger.Error("broker pool unhealthy", "consecutive_failures", failures)
	p.tryReconnect()
}

// tryReconnect drops closed connections from the pool and makes one
// acquireConnection call, which opens at most one new connection (none if a
// live connection still has an idle channel), growing the backoff delay on
// failure and resetting it on success.
func (p *Pool) tryReconnect() {
	p.reconnectMu.Lock()
	delay := p.reconnectDelay
	p.reconnectMu.Unlock()

	time.Sleep(delay)

	p.mu.Lock()
	live := p.connections[:0]
	for _, pc := range p.connections {
		if pc.conn.IsClosed() {
			continue
		}
		live = append(live, pc)
	}
	p.connections = live
	p.mu.Unlock()

	if _, err := p.acquireConnection(p.ctx); err != nil {
		p.reconnectMu.Lock()
		p.reconnectDelay *= 2
		if p.reconnectDelay > p.cfg.ReconnectMaxDelay {
			p.reconnectDelay = p.cfg.ReconnectMaxDelay
		}
		p.reconnectMu.Unlock()
		p.logger.Error("broker reconnect failed", "error", err, "next_delay", p.reconnectDelay)
		return
	}

	p.reconnectMu.Lock()
	p.reconnectDelay = p.cfg.ReconnectBaseDelay
	p.reconnectMu.Unlock()
}

// IsHealthy reports the last health-check loop outcome.
func (p *Pool) IsHealthy() bool { return p.healthy.Load() }

// ConsecutiveFailures reports the current run of failed health checks.
func (p *Pool) ConsecutiveFailures() int32 { return p.consecutiveFailures.Load() }
