// Package registrystore persists structural snapshots of registered trees,
// keyed by (process type, instance), for audit and debugging. It never
// persists a runnable tree — only process.NodeSnapshot's plain data — since
// handlers and conditions are Go closures and spec.md explicitly excludes
// tree serialization as a goal.
package registrystore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested snapshot key does not exist.
var ErrNotFound = errors.New("registrystore: not found")

// Key identifies one registered tree: an empty Instance addresses the
// global entry.
type Key struct {
	ProcessType string
	Instance    string
}

// Store persists and retrieves tree snapshots.
type Store interface {
	Save(ctx context.Context, key Key, version int, snapshot []byte) error
	Load(ctx context.Context, key Key) (snapshot []byte, version int, err error)
	Delete(ctx context.Context, key Key) error
}
