package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"trackrelay/internal/config"
	"trackrelay/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewTask inserts a task with the given requester and status.
func NewTask(t testing.TB, store *queue.Store, requester string, status queue.Status) *queue.Task {
	t.Helper()

	task := &queue.Task{
		ID:          uuid.NewString(),
		RequesterID: requester,
		SourceURL:   "https://music.apple.com/us/song/test/1440818839",
		TrackID:     "1440818839",
		Quality:     "alac",
		Status:      status,
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.InsertTask(context.Background(), task); err != nil {
		t.Fatalf("store.InsertTask: %v", err)
	}
	return task
}
