// Package queuetest provides an in-memory queue.Queue fake for unit tests.
package queuetest

import (
	"context"
	"sync"
	"time"

	"github.com/centralbank/ledgerd/internal/queue"
)

// Queue is the in-memory fake. The zero value is not usable; use New.
type Queue struct {
	mu     sync.Mutex
	lists  map[string][]string
	leases map[string]time.Time
}

var _ queue.Queue = (*Queue)(nil)

// New returns an empty Queue.
func New() *Queue {
	return &Queue{
		lists:  make(map[string][]string),
		leases: make(map[string]time.Time),
	}
}

// Len returns the current length of list, for test assertions.
func (q *Queue) Len(list string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lists[list])
}

// Snapshot returns a copy of list's contents head-to-tail, for test assertions.
func (q *Queue) Snapshot(list string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.lists[list]))
	copy(out, q.lists[list])
	return out
}

func (q *Queue) Push(ctx context.Context, list string, value string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lists[list] = append([]string{value}, q.lists[list]...)
	return nil
}

func (q *Queue) PushFront(ctx context.Context, list string, value string) error {
	return q.Push(ctx, list, value)
}

func (q *Queue) Pop(ctx context.Context, list string, n int) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.lists[list]
	if len(items) == 0 {
		return nil, nil
	}

	take := n
	if take > len(items) {
		take = len(items)
	}

	tailStart := len(items) - take
	popped := make([]string, take)
	copy(popped, items[tailStart:])
	reverse(popped)

	q.lists[list] = items[:tailStart]
	return popped, nil
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func (q *Queue) AcquireLease(ctx context.Context, key string, ttl queue.Seconds) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	if expiry, ok := q.leases[key]; ok && now.Before(expiry) {
		return false, nil
	}

	q.leases[key] = now.Add(time.Duration(ttl) * time.Second)
	return true, nil
}

func (q *Queue) ReleaseLease(ctx context.Context, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.leases, key)
	return nil
}
