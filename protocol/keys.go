package protocol

import (
	"strconv"
	"sync"
	"time"
)

// KeySource hands out strictly increasing, time-derived idempotency keys.
// Two commands never share a key even when issued in the same millisecond.
type KeySource struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewKeySource creates a key source on the wall clock
func NewKeySource() *KeySource {
	return &KeySource{now: time.Now}
}

// Next returns a fresh key
func (k *KeySource) Next() string {
	k.mu.Lock()
	defer k.mu.Unlock()

	ms := k.now().UnixMilli()
	if ms <= k.last {
		ms = k.last + 1
	}
	k.last = ms
	return strconv.FormatInt(ms, 10)
}
