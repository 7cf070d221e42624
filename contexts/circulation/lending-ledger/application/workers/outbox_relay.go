package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"circulate/contexts/circulation/lending-ledger/application"
	"circulate/contexts/circulation/lending-ledger/ports"
)

// OutboxRelay drains pending circulation events from the ledger outbox and
// publishes them to the event bus. Rows are marked published only after a
// successful publish, so delivery is at-least-once.
type OutboxRelay struct {
	Outbox    ports.OutboxRepository
	Publisher ports.EventPublisher
	Clock     ports.Clock
	Topic     string
	BatchSize int
	Logger    *slog.Logger
}

func (r OutboxRelay) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(r.Logger)
	limit := r.BatchSize
	if limit <= 0 {
		limit = 100
	}

	pending, err := r.Outbox.ListPendingOutbox(ctx, limit)
	if err != nil {
		logger.Error("circulation outbox list failed",
			"event", "circulation_outbox_list_failed",
			"module", "circulation/lending-ledger",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}

	now := time.Now().UTC()
	if r.Clock != nil {
		now = r.Clock.Now().UTC()
	}

	for _, row := range pending {
		var envelope ports.EventEnvelope
		if err := json.Unmarshal(row.Payload, &envelope); err != nil {
			return err
		}
		if err := r.Publisher.Publish(ctx, r.topic(), envelope); err != nil {
			logger.Error("circulation outbox publish failed",
				"event", "circulation_outbox_publish_failed",
				"module", "circulation/lending-ledger",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"error", err.Error(),
			)
			return err
		}
		if err := r.Outbox.MarkOutboxPublished(ctx, row.OutboxID, now); err != nil {
			return err
		}
	}
	return nil
}

func (r OutboxRelay) topic() string {
	if r.Topic == "" {
		return "circulation.loans"
	}
	return r.Topic
}
