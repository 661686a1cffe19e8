package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/tjfontaine/polyglot-chat-backend/internal/storage"
)

func TestMemoryStore_CreateSession(t *testing.T) {
	store := New()
	ctx := context.Background()

	sess := &storage.Session{ID: "s1", Name: "first"}
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if sess.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	got, err := store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.Name != "first" {
		t.Errorf("Name = %q, want first", got.Name)
	}

	if err := store.CreateSession(ctx, &storage.Session{ID: "s1"}); err == nil {
		t.Error("CreateSession() duplicate expected error")
	}
}

func TestMemoryStore_Messages(t *testing.T) {
	store := New()
	ctx := context.Background()

	if err := store.CreateSession(ctx, &storage.Session{ID: "s1"}); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	err := store.AppendMessages(ctx, "s1", []*storage.StoredMessage{
		{ID: "m1", Role: "user", Content: "Hello"},
		{ID: "m2", Role: "assistant", Content: "Hi"},
	})
	if err != nil {
		t.Fatalf("AppendMessages() error = %v", err)
	}

	msgs, err := store.ListMessages(ctx, "s1")
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "Hello" || msgs[1].Role != "assistant" {
		t.Errorf("ListMessages() = %+v", msgs)
	}

	if err := store.ClearMessages(ctx, "s1"); err != nil {
		t.Fatalf("ClearMessages() error = %v", err)
	}
	msgs, _ = store.ListMessages(ctx, "s1")
	if len(msgs) != 0 {
		t.Errorf("ListMessages() after clear = %d messages", len(msgs))
	}
	if _, err := store.GetSession(ctx, "s1"); err != nil {
		t.Errorf("session removed by ClearMessages: %v", err)
	}
}

func TestMemoryStore_NotFound(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.GetSession(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetSession() error = %v, want ErrNotFound", err)
	}
	if err := store.AppendMessages(ctx, "missing", nil); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("AppendMessages() error = %v, want ErrNotFound", err)
	}
	if _, err := store.ListMessages(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ListMessages() error = %v, want ErrNotFound", err)
	}
	if err := store.DeleteSession(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("DeleteSession() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_DeleteSession(t *testing.T) {
	store := New()
	ctx := context.Background()

	_ = store.CreateSession(ctx, &storage.Session{ID: "s1"})
	_ = store.AppendMessages(ctx, "s1", []*storage.StoredMessage{{ID: "m1", Role: "user", Content: "x"}})

	if err := store.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if _, err := store.ListMessages(ctx, "s1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ListMessages() error = %v, want ErrNotFound", err)
	}
}
