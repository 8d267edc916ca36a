package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/synerchat/server/internal/observability"
)

// DefaultSendTimeout bounds one per-connection send when none is configured.
const DefaultSendTimeout = 5 * time.Second

// Conn is one live realtime connection of a user.
type Conn interface {
	ID() string
	// Send hands payload to the connection. It must honour ctx.
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// DeliveryFailure records a connection that could not take a payload. The
// connection has already been pruned when a failure is reported.
type DeliveryFailure struct {
	UserID uuid.UUID
	ConnID string
	Err    error
}

func (f DeliveryFailure) Error() string {
	return fmt.Sprintf("deliver to user %s conn %s: %v", f.UserID, f.ConnID, f.Err)
}

func (f DeliveryFailure) Unwrap() error {
	return f.Err
}

// DeliveryReport summarises one SendToUser call.
type DeliveryReport struct {
	UserID    uuid.UUID
	Delivered int
	Failures  []DeliveryFailure
}

// Registry maps users to their live connections.
type Registry struct {
	mu          sync.RWMutex
	conns       map[uuid.UUID]map[string]Conn
	sendTimeout time.Duration
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// NewRegistry creates an empty registry. A zero sendTimeout uses DefaultSendTimeout.
func NewRegistry(sendTimeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Registry {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:       make(map[uuid.UUID]map[string]Conn),
		sendTimeout: sendTimeout,
		logger:      logger.With("component", "registry"),
		metrics:     metrics,
	}
}

// SendTimeout is the bound applied to each per-connection send.
func (r *Registry) SendTimeout() time.Duration { return r.sendTimeout }

// Register adds conn to the set of userID. Registering the same connection
// twice keeps one entry.
func (r *Registry) Register(userID uuid.UUID, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[userID]
	if !ok {
		set = make(map[string]Conn)
		r.conns[userID] = set
	}
	if _, exists := set[conn.ID()]; exists {
		return
	}
	set[conn.ID()] = conn
	r.metrics.ConnectionOpened()
	r.logger.Debug("connection registered", "user_id", userID, "conn_id", conn.ID(), "count", len(set))
}

// Unregister removes conn and drops the user entry once it is empty. It
// reports whether anything was removed; a second call is a no-op.
func (r *Registry) Unregister(userID uuid.UUID, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[userID]
	if !ok {
		return false
	}
	existing, ok := set[conn.ID()]
	if !ok || existing != conn {
		return false
	}
	delete(set, conn.ID())
	if len(set) == 0 {
		delete(r.conns, userID)
	}
	r.metrics.ConnectionClosed()
	r.logger.Debug("connection unregistered", "user_id", userID, "conn_id", conn.ID())
	return true
}

// ConnectionCount returns the number of live connections of userID.
func (r *Registry) ConnectionCount(userID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID])
}

// Online reports whether userID has at least one live connection.
func (r *Registry) Online(userID uuid.UUID) bool {
	return r.ConnectionCount(userID) > 0
}

func (r *Registry) snapshot(userID uuid.UUID) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.conns[userID]
	out := make([]Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// SendToUser hands payload to every connection of userID concurrently. Each
// send is bounded by the registry send timeout; connections that fail are
// unregistered and closed. Failures are reported, never returned as errors.
func (r *Registry) SendToUser(ctx context.Context, userID uuid.UUID, payload []byte) DeliveryReport {
	report := DeliveryReport{UserID: userID}
	conns := r.snapshot(userID)
	if len(conns) == 0 {
		return report
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, c := range conns {
		wg.Add(1)
		go func(c Conn) {
			defer wg.Done()

			sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
			err := c.Send(sendCtx, payload)
			cancel()
			r.metrics.RecordDelivery(err == nil)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				report.Delivered++
				return
			}
			report.Failures = append(report.Failures, DeliveryFailure{UserID: userID, ConnID: c.ID(), Err: err})
		}(c)
	}
	wg.Wait()

	for _, f := range report.Failures {
		r.logger.Warn("pruning connection after failed delivery", "user_id", userID, "conn_id", f.ConnID, "error", f.Err)
		for _, c := range conns {
			if c.ID() == f.ConnID {
				r.Unregister(userID, c)
				_ = c.Close()
			}
		}
	}
	return report
}

// CloseAll closes and forgets every connection. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.conns
	r.conns = make(map[uuid.UUID]map[string]Conn)
	r.mu.Unlock()

	for _, set := range all {
		for _, c := range set {
			r.metrics.ConnectionClosed()
			_ = c.Close()
		}
	}
}
