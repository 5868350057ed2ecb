// Package dedupe gates inbound callbacks so the same logical event is never
// relayed upstream twice. Dialer platforms are known to retry and duplicate
// callbacks; the gate distinguishes "still being processed, don't race" (short
// TTL) from "already handled recently, drop silently" (long TTL).
package dedupe

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "dedupe:"

// Status is the lifecycle state of one gated request.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
	// StatusWaiting marks the provisional phone1 no-answer outcome: the
	// request was handled but the logical call is still awaiting phone2.
	StatusWaiting Status = "waiting_phone2"
)

// Record is the persisted dedup entry for one request key.
type Record struct {
	Status      Status    `json:"status"`
	CRTObjectID string    `json:"crtObjectId,omitempty"`
	CustomerID  int       `json:"customerId,omitempty"`
	CallID      string    `json:"callId,omitempty"`
	Result      *Result   `json:"result,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Result summarizes how the relay attempt for a request ended.
type Result struct {
	OK       bool   `json:"ok"`
	Status   string `json:"status"`
	HTTPCode int    `json:"http_code,omitempty"`
}

// Decision is the outcome of a gate check.
type Decision struct {
	Admit  bool
	Reason string
	Key    string
}

// Gate is the Redis-backed dedup gate.
type Gate struct {
	rdb           *redis.Client
	processingTTL time.Duration
	dedupeTTL     time.Duration
	failOpen      bool
	locks         [64]sync.Mutex
}

// NewGate creates a gate with the two suppression windows. failOpen admits
// traffic when the backing store is unreachable.
func NewGate(rdb *redis.Client, processingTTL, dedupeTTL time.Duration, failOpen bool) *Gate {
	return &Gate{
		rdb:           rdb,
		processingTTL: processingTTL,
		dedupeTTL:     dedupeTTL,
		failOpen:      failOpen,
	}
}

// Key derives the stable dedup key for a request identity.
func Key(crtObjectID string, customerID int, callID string) string {
	raw, err := json.Marshal(struct {
		CRTObjectID string `json:"crtObjectId"`
		CustomerID  int    `json:"customerId"`
		CallID      string `json:"callId"`
	}{crtObjectID, customerID, callID})
	if err != nil {
		raw = []byte(fmt.Sprintf("%s|%d|%s", crtObjectID, customerID, callID))
	}
	sum := sha1.Sum(raw)
	return hex.EncodeToString(sum[:])
}

func (g *Gate) lock(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &g.locks[h.Sum32()%uint32(len(g.locks))]
}

// Check loads the record for the request identity and decides admission:
// a fresh processing record rejects (request in flight), a recent processed
// record rejects (replay duplicate), a fresh failed record rejects until the
// short window passes so the dialer's own retry is the one that gets through.
// Anything else writes a new processing record and admits.
func (g *Gate) Check(ctx context.Context, crtObjectID string, customerID int, callID string) Decision {
	key := Key(crtObjectID, customerID, callID)
	mu := g.lock(key)
	mu.Lock()
	defer mu.Unlock()

	rec, err := g.load(ctx, key)
	if err != nil {
		if g.failOpen {
			log.Printf("[Dedupe] WARNING: store unavailable, admitting request (fail open): %v", err)
			return Decision{Admit: true, Reason: "store_unavailable", Key: key}
		}
		log.Printf("[Dedupe] store unavailable, rejecting request (fail closed): %v", err)
		return Decision{Admit: false, Reason: "store_unavailable", Key: key}
	}

	if rec != nil {
		age := time.Since(rec.UpdatedAt)
		switch {
		case rec.Status == StatusProcessing && age < g.processingTTL:
			return Decision{Admit: false, Reason: string(StatusProcessing), Key: key}
		case rec.Status == StatusProcessed && age < g.dedupeTTL:
			return Decision{Admit: false, Reason: string(StatusProcessed), Key: key}
		case rec.Status == StatusFailed && age < g.processingTTL:
			return Decision{Admit: false, Reason: string(StatusFailed), Key: key}
		}
	}

	if err := g.save(ctx, key, Record{
		Status:      StatusProcessing,
		CRTObjectID: crtObjectID,
		CustomerID:  customerID,
		CallID:      callID,
	}); err != nil {
		log.Printf("[Dedupe] WARNING: could not write processing record: %v", err)
	}

	return Decision{Admit: true, Reason: "new", Key: key}
}

// Complete overwrites the record with the terminal status for the request.
func (g *Gate) Complete(ctx context.Context, key string, res Result) {
	status := StatusProcessed
	if !res.OK {
		status = StatusFailed
	}
	if err := g.save(ctx, key, Record{Status: status, Result: &res}); err != nil {
		log.Printf("[Dedupe] WARNING: could not write %s record: %v", status, err)
	}
}

// MarkWaiting records the non-terminal awaiting-phone2 outcome. The next
// callback for the same identity is admitted normally.
func (g *Gate) MarkWaiting(ctx context.Context, key string) {
	if err := g.save(ctx, key, Record{
		Status: StatusWaiting,
		Result: &Result{OK: true, Status: string(StatusWaiting)},
	}); err != nil {
		log.Printf("[Dedupe] WARNING: could not write waiting record: %v", err)
	}
}

// Load returns the current record for a key, nil when absent. Exposed for the
// admin inspection endpoints.
func (g *Gate) Load(ctx context.Context, key string) (*Record, error) {
	return g.load(ctx, key)
}

func (g *Gate) load(ctx context.Context, key string) (*Record, error) {
	raw, err := g.rdb.Get(ctx, keyPrefix+key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading dedup record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		// Malformed record: treat as absent so the request is not blocked.
		return nil, nil
	}
	return &rec, nil
}

func (g *Gate) save(ctx context.Context, key string, rec Record) error {
	rec.UpdatedAt = time.Now()
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding dedup record: %w", err)
	}
	// Expire at the longer window; age checks handle the shorter one.
	if err := g.rdb.Set(ctx, keyPrefix+key, raw, g.dedupeTTL).Err(); err != nil {
		return fmt.Errorf("saving dedup record: %w", err)
	}
	return nil
}
