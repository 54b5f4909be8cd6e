package donky

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/donkynetwork/donky-core-go/internal/store"
)

func TestNewClient_RequiresIdentity(t *testing.T) {
	if _, err := NewClient("", "device-1"); err == nil {
		t.Error("NewClient accepted an empty api key")
	}
	if _, err := NewClient("key-1", ""); err == nil {
		t.Error("NewClient accepted an empty device id")
	}
}

func TestNewClient_SQLiteQueueSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	c, err := NewClient("key-1", "device-1", WithSQLiteQueue(path))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if err := c.SendContent(ctx, "chatMessage", map[string]string{"text": "hi"}); err != nil {
		t.Fatalf("SendContent failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A fresh client on the same path picks the queued notification back up.
	c, err = NewClient("key-1", "device-1", WithSQLiteQueue(path))
	if err != nil {
		t.Fatalf("NewClient on existing db failed: %v", err)
	}
	defer c.Close()

	all, err := c.queue.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(all) != 1 || all[0].Type != "SendContent" {
		t.Fatalf("queue after restart = %v, want one SendContent item", all)
	}
	var body struct {
		CustomType string `json:"customType"`
	}
	if err := json.Unmarshal(all[0].Data, &body); err != nil {
		t.Fatalf("decode queued payload: %v", err)
	}
	if body.CustomType != "chatMessage" {
		t.Errorf("customType = %q, want chatMessage", body.CustomType)
	}
}

func TestNewClient_CallerSuppliedQueueStaysOpen(t *testing.T) {
	ctx := context.Background()
	q := store.NewMemoryQueue()

	c, err := NewClient("key-1", "device-1", WithQueue(q))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if err := c.SendContent(ctx, "chatMessage", nil); err != nil {
		t.Fatalf("SendContent failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// The caller owns the queue; Close must not have touched it.
	pending, err := q.HasPending(ctx)
	if err != nil {
		t.Fatalf("HasPending failed: %v", err)
	}
	if !pending {
		t.Error("caller-supplied queue lost its contents on Close")
	}
}
