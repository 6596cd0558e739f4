// Package queue defines the Queue collaborator contract (spec.md §6): a
// durable FIFO list with atomic push/pop and per-key leases, plus a
// dead-letter list. internal/queue/redisqueue and internal/queue/queuetest
// provide implementations.
package queue

import "context"

// Queue is the durable mempool + lease + dead-letter surface the intake,
// executor, and pipeline loop depend on.
type Queue interface {
	// Push inserts value at the head of list (LPUSH semantics: pushed
	// values are popped FIFO by Pop's RPOP from the tail).
	Push(ctx context.Context, list string, value string) error

	// PushFront re-queues value at the head of list, the same end Push
	// uses, when a sealed batch's store commit fails (spec.md §4.4 step 7).
	// The re-queued id is popped after the values already in the list.
	PushFront(ctx context.Context, list string, value string) error

	// Pop removes and returns up to n values from the tail of list. It
	// returns fewer than n values (including zero) if the list is shorter.
	Pop(ctx context.Context, list string, n int) ([]string, error)

	// AcquireLease attempts to set key with the given TTL if and only if it
	// does not already exist (SETNX semantics). acquired is false if
	// another caller currently holds the lease.
	AcquireLease(ctx context.Context, key string, ttl Seconds) (acquired bool, err error)

	// ReleaseLease deletes key, freeing the lease before its TTL expires.
	ReleaseLease(ctx context.Context, key string) error
}

// Seconds is a plain integer TTL, matching the Queue contract's
// setNxEx(key, value, ttlSec) shape from spec.md §6.
type Seconds = int
