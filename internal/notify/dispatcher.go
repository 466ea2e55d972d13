package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/worker"
)

// Dispatcher is the asynchronous outbox between the coordinator and the
// notification transports. Publish only enqueues; delivery to the in-process
// hub and the optional MQTT bridge happens on the worker pool, so a slow or
// failing transport can never block or fail a committed state transition.
type Dispatcher struct {
	hub    *Hub
	bridge *MQTTBridge
	pool   *worker.Pool
}

func NewDispatcher(hub *Hub, bridge *MQTTBridge, workers, bufferSize int) *Dispatcher {
	d := &Dispatcher{
		hub:    hub,
		bridge: bridge,
	}
	d.pool = worker.NewPool(workers, bufferSize, d.deliver)
	return d
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.pool.Start(ctx)
}

func (d *Dispatcher) Stop() {
	d.pool.Stop()
}

// Publish enqueues the event for delivery. Never blocks; if the outbox is
// saturated the event is dropped and logged (delivery is best-effort).
func (d *Dispatcher) Publish(e Event) {
	if !d.pool.TrySubmit(e) {
		slog.Warn("notification outbox full, event dropped",
			"event", e.Name, "topic", e.Topic)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, job worker.Job) error {
	e, ok := job.(Event)
	if !ok {
		return fmt.Errorf("unexpected job type %T", job)
	}

	d.hub.Publish(e)

	if d.bridge != nil {
		if err := d.bridge.Publish(e); err != nil {
			// Non-fatal: the hub already served connected clients.
			return fmt.Errorf("mqtt publish %s to %s: %w", e.Name, e.Topic, err)
		}
	}
	return nil
}
