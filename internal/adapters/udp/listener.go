// Package udp runs the listener nodes: one blocking receive loop per bound
// socket, decoding datagrams and pushing them onto the ingress queue.
package udp

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scorepipe/scorepipe/internal/adapters/balancer"
	"github.com/scorepipe/scorepipe/internal/domain/model"
	"github.com/scorepipe/scorepipe/internal/domain/protocol"
	"github.com/scorepipe/scorepipe/pkg/logger"
	"github.com/scorepipe/scorepipe/pkg/metrics"
)

// Default listener configuration constants.
const (
	defaultReadBufferSize = 64 * 1024
)

// Enqueuer accepts decoded events for processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, e model.DecodedEvent) bool
}

// Health receives node health reports, typically the distributor.
type Health interface {
	Heartbeat(ctx context.Context, id balancer.NodeID, ok bool) error
}

// Listener is one node's receive loop bound to a UDP socket. The listener
// owns its node's processing counters.
type Listener struct {
	node    *balancer.Node
	nodeID  balancer.NodeID
	addr    string
	queue   Enqueuer
	health  Health
	bufSize int

	mu        sync.Mutex
	localAddr net.Addr

	logger logger.Logger
}

// Option applies a configuration option to the Listener.
type Option func(*Listener)

// WithReadBufferSize sets the datagram read buffer size.
func WithReadBufferSize(n int) Option {
	return func(l *Listener) {
		if n > 0 {
			l.bufSize = n
		}
	}
}

// WithLogger sets a custom logger for the listener.
func WithLogger(lg logger.Logger) Option {
	return func(l *Listener) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// NewListener creates a listener for the given node, binding the node's
// address. The socket is not bound until Run.
func NewListener(node *balancer.Node, queue Enqueuer, health Health, opts ...Option) *Listener {
	l := &Listener{
		node:    node,
		nodeID:  node.ID(),
		addr:    node.Addr(),
		queue:   queue,
		health:  health,
		bufSize: defaultReadBufferSize,
		logger:  logger.Get().Named("listener").Named(string(node.ID())),
	}

	// Apply all options
	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Run binds the socket and receives datagrams until ctx is canceled. A socket
// error marks the node unhealthy and ends the loop; the node stays registered
// so a later heartbeat can restore it.
func (l *Listener) Run(ctx context.Context) error {
	udpAddr, err := net.ResolveUDPAddr("udp", l.addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		metrics.RecordListenerError()
		return err
	}

	l.mu.Lock()
	l.localAddr = conn.LocalAddr()
	l.mu.Unlock()

	// Unblock the read when shutdown arrives.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	l.logger.Info(ctx, "listener started", logger.String("addr", conn.LocalAddr().String()))

	buf := make([]byte, l.bufSize)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			metrics.RecordListenerError()
			if l.health != nil {
				l.health.Heartbeat(ctx, l.nodeID, false)
			}
			l.logger.Error(ctx, "socket read failed", logger.Error(err))
			return err
		}

		metrics.RecordListenerDatagram(string(l.nodeID))
		l.handle(ctx, buf[:n], src)
	}
}

// Addr returns the bound socket address, or nil before Run has bound it.
// Useful when the configured address picks an ephemeral port.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.localAddr
}

// NodeID returns the node identity this listener serves.
func (l *Listener) NodeID() balancer.NodeID {
	return l.nodeID
}

// handle decodes one datagram and pushes it onto the ingress queue.
func (l *Listener) handle(ctx context.Context, payload []byte, src *net.UDPAddr) {
	event := protocol.Decode(payload)
	event.ReceivedAt = time.Now()
	event.SourceNode = string(l.nodeID)
	metrics.RecordEventDecoded(string(event.Status))

	if event.Status == model.StatusUnknown {
		l.logger.Warn(ctx, "unrecognized payload",
			logger.String("reason", event.StatusReason),
			logger.String("source", src.String()),
		)
	}

	if !l.queue.Enqueue(ctx, event) {
		// Backpressure policy: drop at ingress, never block the receive loop.
		l.node.RecordFailure()
		l.logger.Warn(ctx, "ingress queue full, event dropped",
			logger.String("event_id", event.ID),
			logger.String("type", string(event.Type)),
		)
		return
	}

	l.node.RecordProcessed()
	metrics.RecordNodeProcessed(string(l.nodeID))
}

// Supervisor runs a group of listeners and fails together: the first listener
// error cancels the rest.
type Supervisor struct {
	listeners []*Listener
	logger    logger.Logger
}

// NewSupervisor creates a supervisor over the given listeners.
func NewSupervisor(listeners []*Listener) *Supervisor {
	return &Supervisor{
		listeners: listeners,
		logger:    logger.Get().Named("udp"),
	}
}

// Run blocks until every listener has exited. Cancellation of ctx stops all
// listeners cleanly.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range s.listeners {
		l := l
		g.Go(func() error {
			return l.Run(gctx)
		})
	}
	return g.Wait()
}
