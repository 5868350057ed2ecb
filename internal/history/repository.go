// Package history reads the upstream system's call-history table and records
// relay events. The history lookup is a read-only fallback used when local
// reconciliation state has nothing for phone1; the writer that populates the
// table can lag the dialer's callback delivery, so reads retry briefly before
// accepting "no data".
package history

import (
	"context"
	"database/sql"
	"log"
	"time"
)

const (
	lookupRetries    = 2
	lookupRetryDelay = time.Second
)

// Repository handles call-history reads and event-log writes.
type Repository struct {
	conn    *Connection
	batcher *EventBatcher

	// query is the disposition source, swappable in tests.
	query      func(ctx context.Context, customerID int, phone, callIDHint string) (string, error)
	retryDelay time.Duration
}

// NewRepository creates a repository and starts its event batcher.
func NewRepository(conn *Connection) *Repository {
	repo := &Repository{
		conn:       conn,
		batcher:    NewEventBatcher(conn.DB),
		retryDelay: lookupRetryDelay,
	}
	repo.query = repo.queryDisposition
	repo.batcher.Start()
	return repo
}

// Close stops background workers.
func (r *Repository) Close() {
	if r.batcher != nil {
		r.batcher.Stop()
	}
}

// Ping verifies the history database connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.conn.DB.PingContext(ctx)
}

// LogEvent queues a relay event for batched insertion.
func (r *Repository) LogEvent(ev Event) {
	r.batcher.Queue(ev)
}

// LastDisposition returns the most recent disposition recorded for a
// customer+phone, optionally narrowed by a call-reference substring. It never
// raises: any failure is logged and reported as "no data".
func (r *Repository) LastDisposition(ctx context.Context, customerID int, phone, callIDHint string) string {
	for attempt := 0; ; attempt++ {
		disposition, err := r.query(ctx, customerID, phone, callIDHint)
		if err != nil {
			log.Printf("[History] lookup failed (customer=%d phone=%s): %v", customerID, phone, err)
			return ""
		}
		if disposition != "" || attempt >= lookupRetries {
			return disposition
		}

		// No row yet; the upstream writer may still be catching up.
		select {
		case <-ctx.Done():
			return ""
		case <-time.After(r.retryDelay):
		}
	}
}

func (r *Repository) queryDisposition(ctx context.Context, customerID int, phone, callIDHint string) (string, error) {
	query := `
		SELECT disposition
		FROM relay_call_history
		WHERE customer_id = ? AND phone = ?
	`
	args := []any{customerID, phone}

	if callIDHint != "" {
		query += " AND call_ref LIKE ?"
		args = append(args, "%"+callIDHint+"%")
	}

	query += " ORDER BY created_at DESC LIMIT 1"

	var disposition string
	err := r.conn.DB.QueryRowContext(ctx, query, args...).Scan(&disposition)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return disposition, nil
}

// RecentEvents returns the latest relay events for the admin API.
func (r *Repository) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.conn.DB.QueryContext(ctx, `
		SELECT created_at, request_id, channel, label, message, detail
		FROM relay_event_log
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.CreatedAt, &ev.RequestID, &ev.Channel, &ev.Label, &ev.Message, &ev.Detail); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
