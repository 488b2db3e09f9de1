package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/hearken/internal/alert"
	"github.com/MrWong99/hearken/internal/observe"
)

// ConnManager tracks the live connections. It is the broadcaster's
// [alert.Source]. All methods are safe for concurrent use.
type ConnManager struct {
	mu    sync.RWMutex
	conns map[string]*Connection

	seq     atomic.Uint64
	metrics *observe.Metrics
}

var _ alert.Source = (*ConnManager)(nil)

// NewConnManager returns an empty ConnManager. m may be nil.
func NewConnManager(m *observe.Metrics) *ConnManager {
	return &ConnManager{
		conns:   make(map[string]*Connection),
		metrics: m,
	}
}

// Open builds a connection from p and adds it to the live set.
func (cm *ConnManager) Open(ctx context.Context, remote string, p *Pipeline, send WriteFunc) (*Connection, error) {
	id := fmt.Sprintf("conn-%d", cm.seq.Add(1))
	c, err := newConnection(ctx, id, remote, p, send, cm.metrics)
	if err != nil {
		return nil, err
	}

	cm.mu.Lock()
	cm.conns[id] = c
	cm.mu.Unlock()

	if cm.metrics != nil {
		cm.metrics.ActiveConnections.Add(ctx, 1)
	}
	c.log.Info("client connected")
	return c, nil
}

// Remove takes c out of the live set and closes it. It is safe to call more
// than once.
func (cm *ConnManager) Remove(c *Connection) {
	cm.mu.Lock()
	_, ok := cm.conns[c.id]
	delete(cm.conns, c.id)
	cm.mu.Unlock()

	c.Close()
	if ok {
		if cm.metrics != nil {
			cm.metrics.ActiveConnections.Add(context.Background(), -1)
		}
		c.log.Info("client disconnected")
	}
}

// Snapshot returns the live connections as broadcast targets. Later
// membership changes do not affect the returned slice.
func (cm *ConnManager) Snapshot() []alert.Sender {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	out := make([]alert.Sender, 0, len(cm.conns))
	for _, c := range cm.conns {
		out = append(out, c)
	}
	return out
}

// Get returns the live connection with id.
func (cm *ConnManager) Get(id string) (*Connection, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	c, ok := cm.conns[id]
	return c, ok
}

// Len reports the number of live connections.
func (cm *ConnManager) Len() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.conns)
}
