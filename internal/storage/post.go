package storage

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("post not found")

// Post statuses. Transitions are scheduled -> sent or scheduled -> failed;
// both are terminal.
const (
	StatusScheduled = "scheduled"
	StatusSent      = "sent"
	StatusFailed    = "failed"
)

// Post is one scheduled message addressed to a single Signal group.
//
// ScheduledAt and CreatedAt are always UTC. GroupName is a denormalized
// display name; the gateway only ever sees GroupID. ImagePath, when set, is
// the absolute path of an uploaded attachment whose lifetime is tied to the
// post record.
type Post struct {
	ID          int64      `json:"id"`
	Message     string     `json:"message"`
	GroupID     string     `json:"group_id"`
	GroupName   string     `json:"group_name"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	ImagePath   string     `json:"image_path,omitempty"`
}

// PostUpdate carries the content fields the API may rewrite while a post is
// still scheduled. Status and timestamps are never touched through it.
type PostUpdate struct {
	Message     string
	GroupID     string
	GroupName   string
	ScheduledAt time.Time
	ImagePath   string
}
