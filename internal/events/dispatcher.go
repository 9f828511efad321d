package events

import (
	"context"
	"encoding/json"

	"github.com/fixhaven/fixhaven-api/pkg/logging"
)

// Deliverer pushes a recorded event to its downstream consumer
// (currently the notification service).
type Deliverer interface {
	Deliver(ctx context.Context, entry OutboxEntry) error
}

// Dispatcher records events in the outbox and attempts delivery
// inline. Delivery failure is logged and the row stays pending; there
// is no background scheduler; redelivery is triggered on demand via
// DispatchPending.
type Dispatcher struct {
	outbox    *OutboxStore
	deliverer Deliverer
	logger    *logging.Logger
}

func NewDispatcher(outbox *OutboxStore, deliverer Deliverer, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{outbox: outbox, deliverer: deliverer, logger: logger}
}

// Publish records the event and fires delivery once, best-effort.
// Errors never propagate to the caller.
func (d *Dispatcher) Publish(ctx context.Context, eventType string, payload any) {
	if d == nil || d.outbox == nil {
		return
	}
	id, err := d.outbox.Insert(ctx, eventType, payload)
	if err != nil {
		d.logger.Error("outbox insert failed", "type", eventType, "error", err)
		return
	}
	if d.deliverer == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("event payload marshal failed", "type", eventType, "error", err)
		return
	}
	entry := OutboxEntry{ID: id, Type: eventType, Payload: data}
	if err := d.deliverer.Deliver(ctx, entry); err != nil {
		d.logger.Warn("event delivery failed, left pending",
			"id", id, "type", eventType, "error", err)
		return
	}
	if err := d.outbox.MarkDelivered(ctx, id); err != nil {
		d.logger.Error("mark delivered failed", "id", id, "error", err)
	}
}

// DispatchPending retries undelivered events; used by the admin
// redelivery endpoint. Returns how many were delivered.
func (d *Dispatcher) DispatchPending(ctx context.Context, limit int32) (int, error) {
	if d == nil || d.outbox == nil || d.deliverer == nil {
		return 0, nil
	}
	entries, err := d.outbox.FetchPending(ctx, limit)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, entry := range entries {
		if err := d.deliverer.Deliver(ctx, entry); err != nil {
			d.logger.Warn("event redelivery failed",
				"id", entry.ID, "type", entry.Type, "error", err)
			continue
		}
		if err := d.outbox.MarkDelivered(ctx, entry.ID); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}
