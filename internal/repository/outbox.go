package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/trailpay/platform/internal/domain"
)

const outboxColumns = 8

type outboxRepo struct{}

// NewOutboxRepository returns a pgx-backed OutboxRepository.
func NewOutboxRepository() OutboxRepository {
	return &outboxRepo{}
}

// InsertAll writes the drafts in one statement. The bigserial "id" follows slice
// order, so the relay publishes them in emission order.
func (r *outboxRepo) InsertAll(ctx context.Context, db DBTX, drafts []domain.OutboxDraft) error {
	if len(drafts) == 0 {
		return nil
	}
	query, args := buildOutboxInsert(drafts)
	tag, err := db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert %d outbox events: %w", len(drafts), err)
	}
	if tag.RowsAffected() != int64(len(drafts)) {
		return fmt.Errorf("insert outbox events: wrote %d of %d rows", tag.RowsAffected(), len(drafts))
	}
	return nil
}

func buildOutboxInsert(drafts []domain.OutboxDraft) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO event_outbox ("eventId", "aggregateType", "aggregateId", "eventType", "partitionKey", "headers", "payload", "occurredAt") VALUES `)
	args := make([]interface{}, 0, len(drafts)*outboxColumns)
	for i, d := range drafts {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := 1; c <= outboxColumns; c++ {
			if c > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*outboxColumns+c)
		}
		sb.WriteByte(')')
		args = append(args,
			d.EventID,
			string(d.AggregateType),
			d.AggregateID,
			string(d.EventType),
			d.PartitionKey,
			d.Headers,
			d.Payload,
			d.OccurredAt,
		)
	}
	return sb.String(), args
}
