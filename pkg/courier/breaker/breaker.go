// Package breaker implements a per-courier circuit breaker backed by a
// shared Redis store, so state is consistent across worker processes.
package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status is the circuit breaker state for one courier.
type Status string

const (
	StatusClosed   Status = "closed"
	StatusOpen     Status = "open"
	StatusHalfOpen Status = "half_open"
)

// State is the persisted breaker record for one courier code.
// An absent record means the circuit is closed with no failures tracked.
type State struct {
	Status    Status `json:"status"`
	Failures  int    `json:"failures"`
	Successes int    `json:"successes"`
	OpenedAt  int64  `json:"opened_at,omitempty"`
}

// Config holds circuit breaker thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// OpenTimeout is how long the circuit stays open before allowing a trial call.
	OpenTimeout time.Duration
	// SuccessThreshold is the number of half-open successes that closes the circuit.
	SuccessThreshold int
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 60 * time.Second
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	return c
}

// Breaker tracks courier failures in Redis. All transitions use an optimistic
// WATCH transaction per courier key, so concurrent workers cannot double-open
// the circuit or both win the half-open trial.
type Breaker struct {
	rdb redis.UniversalClient
	cfg Config
	now func() time.Time
}

// New creates a breaker on top of a shared Redis client.
func New(rdb redis.UniversalClient, cfg Config) *Breaker {
	return &Breaker{
		rdb: rdb,
		cfg: cfg.withDefaults(),
		now: time.Now,
	}
}

const maxCASRetries = 3

func key(code string) string {
	return fmt.Sprintf("courier:%s:circuit_breaker", code)
}

// stateTTL keeps stale records from lingering after a courier recovers.
func (b *Breaker) stateTTL() time.Duration {
	return 2 * b.cfg.OpenTimeout
}

// Allow reports whether a call to the courier may be attempted. When the
// open timeout has elapsed it atomically transitions the record to half_open,
// so exactly one concurrent caller wins the trial call.
func (b *Breaker) Allow(ctx context.Context, code string) (bool, error) {
	allowed := true

	for i := 0; i < maxCASRetries; i++ {
		err := b.rdb.Watch(ctx, func(tx *redis.Tx) error {
			state, err := getState(ctx, tx, code)
			if err != nil {
				return err
			}
			if state == nil || state.Status != StatusOpen {
				allowed = true
				return nil
			}

			if b.now().Unix() <= state.OpenedAt+int64(b.cfg.OpenTimeout.Seconds()) {
				allowed = false
				return nil
			}

			// Open timeout elapsed: move to half_open and let this caller through.
			state.Status = StatusHalfOpen
			state.Successes = 0
			allowed = true
			return putState(ctx, tx, code, state, b.stateTTL())
		}, key(code))

		if errors.Is(err, redis.TxFailedErr) {
			// Another worker transitioned the record first; it owns the trial.
			allowed = false
			continue
		}
		return allowed, err
	}
	return false, nil
}

// RecordSuccess records a successful courier call. While closed the record is
// simply dropped; in half_open it counts toward closing the circuit.
func (b *Breaker) RecordSuccess(ctx context.Context, code string) error {
	return b.update(ctx, code, func(state *State) (*State, bool) {
		if state == nil {
			return nil, false
		}
		if state.Status != StatusHalfOpen {
			return nil, true // reset to closed
		}
		state.Successes++
		if state.Successes >= b.cfg.SuccessThreshold {
			return nil, true // close the circuit, discard counters
		}
		return state, false
	})
}

// RecordFailure records a failed courier call. In half_open a single failure
// reopens the circuit immediately; while closed it counts toward the failure
// threshold.
func (b *Breaker) RecordFailure(ctx context.Context, code string) error {
	return b.update(ctx, code, func(state *State) (*State, bool) {
		if state == nil {
			state = &State{Status: StatusClosed}
		}
		switch state.Status {
		case StatusOpen:
			return state, false
		case StatusHalfOpen:
			state.Status = StatusOpen
			state.OpenedAt = b.now().Unix()
			state.Successes = 0
			return state, false
		}
		state.Failures++
		if state.Failures >= b.cfg.FailureThreshold {
			state.Status = StatusOpen
			state.OpenedAt = b.now().Unix()
		}
		return state, false
	})
}

// State returns the current breaker state for a courier code. An absent
// record reads as closed.
func (b *Breaker) State(ctx context.Context, code string) (*State, error) {
	data, err := b.rdb.Get(ctx, key(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return &State{Status: StatusClosed}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading breaker state for %s: %w", code, err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding breaker state for %s: %w", code, err)
	}
	return &state, nil
}

// update applies fn atomically to the stored state. fn returns the new state
// (nil to leave it untouched) and whether to delete the record instead.
func (b *Breaker) update(ctx context.Context, code string, fn func(*State) (*State, bool)) error {
	var lastErr error
	for i := 0; i < maxCASRetries; i++ {
		lastErr = b.rdb.Watch(ctx, func(tx *redis.Tx) error {
			state, err := getState(ctx, tx, code)
			if err != nil {
				return err
			}
			next, del := fn(state)
			if del {
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key(code))
					return nil
				})
				return err
			}
			if next == nil {
				return nil
			}
			return putState(ctx, tx, code, next, b.stateTTL())
		}, key(code))

		if !errors.Is(lastErr, redis.TxFailedErr) {
			return lastErr
		}
	}
	return lastErr
}

func getState(ctx context.Context, tx *redis.Tx, code string) (*State, error) {
	data, err := tx.Get(ctx, key(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading breaker state for %s: %w", code, err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding breaker state for %s: %w", code, err)
	}
	return &state, nil
}

func putState(ctx context.Context, tx *redis.Tx, code string, state *State, ttl time.Duration) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key(code), data, ttl)
		return nil
	})
	return err
}
