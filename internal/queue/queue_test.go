package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestInMemoryPublishConsume(t *testing.T) {
	q := NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	body, _ := json.Marshal(map[string]string{"record_id": "r1"})
	if err := q.Publish(ctx, Message{Type: "attendance.recorded", Body: body}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	select {
	case msg := <-msgs:
		if msg.Type != "attendance.recorded" {
			t.Fatalf("unexpected type %q", msg.Type)
		}
		var payload map[string]string
		if err := json.Unmarshal(msg.Body, &payload); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if payload["record_id"] != "r1" {
			t.Fatalf("unexpected payload %+v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestInMemoryPublishHonorsCancel(t *testing.T) {
	q := NewInMemory(1)
	ctx := context.Background()
	if err := q.Publish(ctx, Message{Type: "a"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.Publish(cancelled, Message{Type: "b"}); err == nil {
		t.Fatal("expected context error on full queue")
	}
}
