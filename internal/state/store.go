// Package state persists per-logical-call reconciliation state. The two dial
// attempts of one call arrive as separate, uncorrelated HTTP requests, so the
// outcome of the first attempt has to be remembered until the second one
// reports in.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"regexp"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "callstate:"

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// CallState is the stored reconciliation record for one logical call.
type CallState struct {
	Phones           []string       `json:"phones,omitempty"`
	StatusByIndex    map[int]string `json:"statusByIndex,omitempty"`
	ConnectedByIndex map[int]bool   `json:"connectedByIndex,omitempty"`
	LastDialIndex    int            `json:"lastDialIndex"`
	NumAttempts      int            `json:"numAttempts"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// Status returns the recorded status for a dial index, empty when unknown.
func (s CallState) Status(index int) string {
	return s.StatusByIndex[index]
}

// Connected reports whether the given dial index reached a live party.
func (s CallState) Connected(index int) bool {
	return s.ConnectedByIndex[index]
}

// Empty reports whether nothing has been recorded for this call yet.
func (s CallState) Empty() bool {
	return len(s.StatusByIndex) == 0 && len(s.ConnectedByIndex) == 0 && len(s.Phones) == 0
}

// Update is the partial overlay applied by Merge for one dial attempt.
type Update struct {
	Phones      []string
	DialIndex   int
	Status      string
	Connected   bool
	NumAttempts int
}

// Store keeps CallState records in Redis with a TTL. Writes for the same key
// are serialized through striped in-process locks so concurrent callbacks for
// one call cannot interleave their read-modify-write cycles.
type Store struct {
	rdb   *redis.Client
	ttl   time.Duration
	locks [64]sync.Mutex
}

// NewStore creates a call-state store with the given expiry window.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) key(callID string) string {
	return keyPrefix + unsafeKeyChars.ReplaceAllString(callID, "_")
}

func (s *Store) lock(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &s.locks[h.Sum32()%uint32(len(s.locks))]
}

// Load reads the state for a call id. Missing, malformed, or expired records
// come back as an empty state; expired records are purged on read.
func (s *Store) Load(ctx context.Context, callID string) (CallState, error) {
	key := s.key(callID)

	raw, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return CallState{}, nil
	}
	if err != nil {
		return CallState{}, fmt.Errorf("loading call state %s: %w", key, err)
	}

	var st CallState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		// Malformed record: treat as absent.
		return CallState{}, nil
	}

	if s.ttl > 0 && !st.UpdatedAt.IsZero() && time.Since(st.UpdatedAt) > s.ttl {
		s.rdb.Del(ctx, key)
		return CallState{}, nil
	}

	return st, nil
}

// Merge overlays one attempt's result onto the stored state: a longer phone
// list replaces a shorter one, per-index maps are unioned with new entries
// winning, and the dial index and attempt count are overwritten.
func (s *Store) Merge(ctx context.Context, callID string, upd Update) (CallState, error) {
	key := s.key(callID)
	mu := s.lock(key)
	mu.Lock()
	defer mu.Unlock()

	st, err := s.Load(ctx, callID)
	if err != nil {
		return CallState{}, err
	}

	if len(upd.Phones) > len(st.Phones) {
		st.Phones = upd.Phones
	}
	if st.StatusByIndex == nil {
		st.StatusByIndex = make(map[int]string)
	}
	if st.ConnectedByIndex == nil {
		st.ConnectedByIndex = make(map[int]bool)
	}
	st.StatusByIndex[upd.DialIndex] = upd.Status
	st.ConnectedByIndex[upd.DialIndex] = upd.Connected
	st.LastDialIndex = upd.DialIndex
	st.NumAttempts = upd.NumAttempts
	st.UpdatedAt = time.Now()

	raw, err := json.Marshal(st)
	if err != nil {
		return CallState{}, fmt.Errorf("encoding call state %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		return CallState{}, fmt.Errorf("saving call state %s: %w", key, err)
	}

	return st, nil
}

// Ping verifies the backing Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Clear deletes the record for a call id. Deleting an absent record is fine.
func (s *Store) Clear(ctx context.Context, callID string) error {
	if err := s.rdb.Del(ctx, s.key(callID)).Err(); err != nil {
		return fmt.Errorf("clearing call state: %w", err)
	}
	return nil
}
