// Package storage persists scheduled posts in a single SQLite file.
//
// It exposes the narrow query/command surface the dispatcher and the HTTP API
// share. Every mutation is an independent, immediately committed write; there
// are no multi-post transactions, so partial progress within a dispatch tick
// survives a crash.
package storage

import (
	"context"
	"time"
)

// Store is the persistence API used by the dispatcher and the HTTP API.
type Store interface {
	CreatePost(ctx context.Context, p Post) (Post, error)
	GetPost(ctx context.Context, id int64) (Post, error)
	ListPosts(ctx context.Context, status string) ([]Post, error)
	UpdatePost(ctx context.Context, id int64, upd PostUpdate) (Post, error)
	DeletePost(ctx context.Context, id int64) error

	// ListDue returns posts with status=scheduled and scheduled_at <= now,
	// earliest first, ties broken by ascending id.
	ListDue(ctx context.Context, now time.Time) ([]Post, error)

	// MarkSent and MarkFailed only apply while the post is still scheduled.
	// A vanished or already-transitioned row is tolerated as a benign race
	// (logged, nil error) so a concurrent external edit never fails a tick.
	MarkSent(ctx context.Context, id int64, sentAt time.Time) error
	MarkFailed(ctx context.Context, id int64) error

	Close() error
}

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}
