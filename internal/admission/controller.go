package admission

import (
	"context"
	"errors"
	"maps"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("admission")

// ErrTooManyConnections is the machine-readable rejection reason surfaced to
// a client that exceeds its address quota.
var ErrTooManyConnections = errors.New("TOO_MANY_CONNECTIONS")

// Controller gates new connections by source address before the websocket
// handshake completes. It runs ahead of the hub on concurrent HTTP handler
// goroutines, so the quota table takes a mutex of its own.
type Controller struct {
	mu     sync.Mutex
	list   TrustList
	counts map[string]int

	rejections metric.Int64Counter
}

func NewController(list TrustList) *Controller {
	c := &Controller{
		list:   list,
		counts: make(map[string]int),
	}

	c.rejections, _ = meter.Int64Counter("admission.rejections",
		metric.WithDescription("Connections refused for exceeding the per-address quota"))
	_, _ = meter.Int64ObservableGauge("admission.live_connections",
		metric.WithDescription("Currently admitted connections across all addresses"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			c.mu.Lock()
			defer c.mu.Unlock()
			total := 0
			for _, n := range c.counts {
				total += n
			}
			o.Observe(int64(total))
			return nil
		}))
	return c
}

// Admit decides synchronously whether a connection from addr may proceed.
// On success the count is incremented; on rejection the table is untouched,
// so a refused connection can never leak a quota slot.
func (c *Controller) Admit(ctx context.Context, addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.counts[addr] >= c.list.QuotaFor(addr) {
		if c.rejections != nil {
			c.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("addr", addr)))
		}
		return ErrTooManyConnections
	}
	c.counts[addr]++
	return nil
}

// Release decrements the count for addr, removing the entry at zero. Calling
// it for an address with no live connections is a no-op; the count never goes
// negative.
func (c *Controller) Release(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.counts[addr]
	if !ok {
		return
	}
	if n <= 1 {
		delete(c.counts, addr)
		return
	}
	c.counts[addr] = n - 1
}

// Counts returns a snapshot of the per-address connection table for the
// diagnostic endpoint.
func (c *Controller) Counts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.counts)
}

// TrustList returns the active trust-list document.
func (c *Controller) TrustList() TrustList {
	return c.list
}
