package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Execer is satisfied by client.ClickHouseClient
type Execer interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
}

const createEventsTable = `CREATE TABLE IF NOT EXISTS enquiry_events (
    event_id UUID,
    event_type LowCardinality(String),
    occurred_at DateTime64(3, 'UTC'),
    event_date Date,
    enquiry_id String,
    phone String,
    attributes String
) ENGINE = MergeTree
PARTITION BY toYYYYMM(event_date)
ORDER BY (event_type, occurred_at)`

const insertEvent = `INSERT INTO enquiry_events
    (event_id, event_type, occurred_at, event_date, enquiry_id, phone, attributes)
    VALUES (?, ?, ?, ?, ?, ?, ?)`

// ClickHouseSink appends events to an analytics table
type ClickHouseSink struct {
	conn   Execer
	closer func() error
}

func NewClickHouseSink(conn Execer, closer func() error) *ClickHouseSink {
	return &ClickHouseSink{conn: conn, closer: closer}
}

func (s *ClickHouseSink) EnsureSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, createEventsTable); err != nil {
		return fmt.Errorf("failed to create enquiry_events table: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Publish(ctx context.Context, event Event) error {
	attributes := "{}"
	if len(event.Attributes) > 0 {
		encoded, err := json.Marshal(event.Attributes)
		if err != nil {
			return fmt.Errorf("failed to encode event attributes: %w", err)
		}
		attributes = string(encoded)
	}

	day := event.OccurredAt.UTC().Truncate(24 * time.Hour)
	err := s.conn.Exec(ctx, insertEvent,
		event.ID, event.Type, event.OccurredAt, day, event.EnquiryID, event.Phone, attributes)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
