package history

import (
	"database/sql"
	"log"
	"strings"
	"sync"
	"time"
)

const (
	batchSize     = 200
	flushInterval = time.Second
	bufferSize    = 2000
)

// Event is one relay event destined for the relay_event_log table.
// Channel names the processing path (call_start, call_end, not_answer,
// general) and is carried explicitly on each event rather than held in
// process-wide state.
type Event struct {
	CreatedAt time.Time `json:"created_at"`
	RequestID string    `json:"request_id"`
	Channel   string    `json:"channel"`
	Label     string    `json:"label"`
	Message   string    `json:"message"`
	Detail    string    `json:"detail"`
}

// EventBatcher buffers relay events and bulk-inserts them in the background
// so callback handling never waits on the database.
type EventBatcher struct {
	db        *sql.DB
	events    chan Event
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewEventBatcher creates a batcher over the given connection.
func NewEventBatcher(db *sql.DB) *EventBatcher {
	return &EventBatcher{
		db:     db,
		events: make(chan Event, bufferSize),
	}
}

// Start launches the background worker.
func (b *EventBatcher) Start() {
	b.mu.Lock()
	if b.isRunning {
		b.mu.Unlock()
		return
	}
	b.isRunning = true
	b.wg.Add(1)
	b.mu.Unlock()

	go b.worker()
	log.Println("[EventBatcher] Worker started")
}

// Stop flushes remaining events and stops the worker.
func (b *EventBatcher) Stop() {
	b.mu.Lock()
	if !b.isRunning {
		b.mu.Unlock()
		return
	}
	b.isRunning = false
	b.mu.Unlock()

	close(b.events)
	b.wg.Wait()
	log.Println("[EventBatcher] Worker stopped")
}

// Queue adds an event to the buffer, dropping it when the buffer is full so
// logging can never block a callback.
func (b *EventBatcher) Queue(ev Event) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	select {
	case b.events <- ev:
	default:
		log.Printf("[EventBatcher] WARNING: buffer full, dropping event %s/%s", ev.Channel, ev.Label)
	}
}

func (b *EventBatcher) worker() {
	defer b.wg.Done()

	buffer := make([]Event, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-b.events:
			if !ok {
				if len(buffer) > 0 {
					b.flush(buffer)
				}
				return
			}
			buffer = append(buffer, ev)
			if len(buffer) >= batchSize {
				b.flush(buffer)
				buffer = buffer[:0]
			}
		case <-ticker.C:
			if len(buffer) > 0 {
				b.flush(buffer)
				buffer = buffer[:0]
			}
		}
	}
}

func (b *EventBatcher) flush(events []Event) {
	if len(events) == 0 {
		return
	}

	start := time.Now()

	var sb strings.Builder
	sb.WriteString("INSERT INTO relay_event_log (created_at, request_id, channel, label, message, detail) VALUES ")

	args := make([]any, 0, len(events)*6)
	for i, ev := range events {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?)")
		args = append(args, ev.CreatedAt, ev.RequestID, ev.Channel, ev.Label, ev.Message, ev.Detail)
	}

	if _, err := b.db.Exec(sb.String(), args...); err != nil {
		log.Printf("[EventBatcher] ERROR flushing batch of %d events: %v", len(events), err)
		return
	}
	log.Printf("[EventBatcher] Flushed %d events in %v", len(events), time.Since(start))
}
