package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sigsched/internal/storage"
)

type deliveryCall struct {
	groupID   string
	message   string
	imagePath string
}

type fakeDeliverer struct {
	calls  []deliveryCall
	reject map[string]error // by group id
}

func (f *fakeDeliverer) Deliver(_ context.Context, groupID, message, imagePath string) error {
	f.calls = append(f.calls, deliveryCall{groupID, message, imagePath})
	if err := f.reject[groupID]; err != nil {
		return err
	}
	return nil
}

type fakeStore struct {
	due     []storage.Post
	listErr error

	sent        map[int64]time.Time
	failed      map[int64]bool
	markSentErr error
}

func newFakeStore(due ...storage.Post) *fakeStore {
	return &fakeStore{due: due, sent: map[int64]time.Time{}, failed: map[int64]bool{}}
}

func (f *fakeStore) ListDue(_ context.Context, _ time.Time) ([]storage.Post, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.due, nil
}

func (f *fakeStore) MarkSent(_ context.Context, id int64, sentAt time.Time) error {
	if f.markSentErr != nil {
		return f.markSentErr
	}
	f.sent[id] = sentAt
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, id int64) error {
	f.failed[id] = true
	return nil
}

func newTestDispatcher(st Store, del Deliverer) *Dispatcher {
	return New(Config{}, st, del, zerolog.Nop())
}

func duePost(id int64, group string, age time.Duration) storage.Post {
	return storage.Post{
		ID:          id,
		Message:     "msg",
		GroupID:     group,
		GroupName:   group,
		ScheduledAt: time.Now().UTC().Add(-age),
		Status:      storage.StatusScheduled,
	}
}

func TestTickCommitsPerPostOutcomes(t *testing.T) {
	st := newFakeStore(duePost(1, "g1", 10*time.Minute), duePost(2, "g2", 5*time.Minute))
	del := &fakeDeliverer{reject: map[string]error{"g2": errors.New("gateway said no")}}
	d := newTestDispatcher(st, del)

	before := time.Now().UTC()
	if err := d.RunTick(context.Background()); err != nil {
		t.Fatalf("RunTick: %v", err)
	}

	if len(del.calls) != 2 {
		t.Fatalf("expected exactly 2 delivery attempts, got %d", len(del.calls))
	}
	if del.calls[0].groupID != "g1" || del.calls[1].groupID != "g2" {
		t.Fatalf("posts attempted out of order: %+v", del.calls)
	}

	sentAt, ok := st.sent[1]
	if !ok {
		t.Fatalf("post 1 was not marked sent")
	}
	if sentAt.Before(before) || sentAt.After(time.Now().UTC()) {
		t.Fatalf("sent_at %v not within the tick window", sentAt)
	}
	if _, ok := st.sent[2]; ok {
		t.Fatalf("rejected post 2 must not have a sent_at")
	}
	if !st.failed[2] {
		t.Fatalf("post 2 was not marked failed")
	}
	if st.failed[1] {
		t.Fatalf("post 1 wrongly marked failed")
	}
}

func TestFailureDoesNotBlockSiblings(t *testing.T) {
	st := newFakeStore(duePost(1, "g1", 3*time.Minute), duePost(2, "g2", 2*time.Minute), duePost(3, "g3", time.Minute))
	del := &fakeDeliverer{reject: map[string]error{"g2": errors.New("boom")}}
	d := newTestDispatcher(st, del)

	if err := d.RunTick(context.Background()); err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if len(del.calls) != 3 {
		t.Fatalf("expected all 3 posts attempted, got %d", len(del.calls))
	}
	if _, ok := st.sent[3]; !ok {
		t.Fatalf("post after the failing one was not sent")
	}
}

func TestFetchErrorAbortsTick(t *testing.T) {
	st := newFakeStore(duePost(1, "g1", time.Minute))
	st.listErr = errors.New("db locked")
	del := &fakeDeliverer{}
	d := newTestDispatcher(st, del)

	if err := d.RunTick(context.Background()); err == nil {
		t.Fatalf("expected fetch-stage error")
	}
	if len(del.calls) != 0 {
		t.Fatalf("no post may be attempted after a fetch abort, got %d attempts", len(del.calls))
	}
	if len(st.sent) != 0 || len(st.failed) != 0 {
		t.Fatalf("posts must stay untouched after a fetch abort")
	}
}

func TestEmptyTickIsNoOp(t *testing.T) {
	st := newFakeStore()
	del := &fakeDeliverer{}
	d := newTestDispatcher(st, del)

	if err := d.RunTick(context.Background()); err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if len(del.calls) != 0 {
		t.Fatalf("unexpected delivery attempts on an empty tick")
	}
}

func TestMarkSentWriteFailureDoesNotAbort(t *testing.T) {
	st := newFakeStore(duePost(1, "g1", 2*time.Minute), duePost(2, "g2", time.Minute))
	st.markSentErr = errors.New("disk full")
	del := &fakeDeliverer{}
	d := newTestDispatcher(st, del)

	if err := d.RunTick(context.Background()); err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if len(del.calls) != 2 {
		t.Fatalf("expected both posts attempted despite write failures, got %d", len(del.calls))
	}
}

func TestCancelledContextLeavesRemainingScheduled(t *testing.T) {
	st := newFakeStore(duePost(1, "g1", time.Minute))
	del := &fakeDeliverer{}
	d := newTestDispatcher(st, del)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.RunTick(ctx); err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if len(del.calls) != 0 {
		t.Fatalf("no delivery may run on a cancelled context")
	}
	if len(st.sent) != 0 || len(st.failed) != 0 {
		t.Fatalf("posts must stay scheduled when the tick is interrupted")
	}
}

func TestFrozenClockStampsSentAt(t *testing.T) {
	st := newFakeStore(duePost(1, "g1", time.Minute))
	del := &fakeDeliverer{}
	d := newTestDispatcher(st, del)

	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return frozen }

	if err := d.RunTick(context.Background()); err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if got := st.sent[1]; !got.Equal(frozen) {
		t.Fatalf("sent_at = %v, want %v", got, frozen)
	}
}
