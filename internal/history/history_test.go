package history

import (
	"context"
	"fmt"
	"testing"

	"tradedesk/internal/domain"
	"tradedesk/internal/kvstore"
)

func msg(role, content string) domain.ConversationMessage {
	return domain.ConversationMessage{Role: role, Content: content}
}

func TestKey(t *testing.T) {
	if got := Key("whatsapp", "15551234567"); got != "history:whatsapp:15551234567" {
		t.Errorf("Key = %q", got)
	}
}

func TestLoad_MissingIsEmpty(t *testing.T) {
	s := NewStore(kvstore.NewMemoryStore())
	msgs, err := s.Load(context.Background(), Key("web", "nobody"))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages", len(msgs))
	}
}

func TestAppendAndLoad(t *testing.T) {
	s := NewStore(kvstore.NewMemoryStore())
	ctx := context.Background()
	key := Key("slack", "U1")

	if err := s.Append(ctx, key, msg("user", "hi"), msg("assistant", "hello")); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, key, msg("user", "again"), msg("assistant", "sure")); err != nil {
		t.Fatal(err)
	}

	msgs, err := s.Load(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	if msgs[0].Content != "hi" || msgs[3].Content != "sure" {
		t.Errorf("order wrong: %+v", msgs)
	}
}

func TestLoad_BoundsToReadLimit(t *testing.T) {
	s := NewStore(kvstore.NewMemoryStore())
	ctx := context.Background()
	key := Key("web", "u")

	for i := 0; i < 30; i++ {
		if err := s.Append(ctx, key, msg("user", fmt.Sprintf("m%d", i))); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := s.Load(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != ReadLimit {
		t.Fatalf("got %d messages, want %d", len(msgs), ReadLimit)
	}
	if msgs[len(msgs)-1].Content != "m29" {
		t.Errorf("last = %q, want the newest message", msgs[len(msgs)-1].Content)
	}
	if msgs[0].Content != "m10" {
		t.Errorf("first = %q, want the oldest retained message", msgs[0].Content)
	}
}

func TestAppend_CorruptHistoryDropped(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	s := NewStore(kv)
	ctx := context.Background()
	key := Key("web", "u")

	if err := kv.Set(ctx, key, []byte("not json"), 0); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, key, msg("user", "fresh start")); err != nil {
		t.Fatal(err)
	}

	msgs, err := s.Load(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "fresh start" {
		t.Errorf("msgs = %+v", msgs)
	}
}

func TestBound(t *testing.T) {
	var msgs []domain.ConversationMessage
	for i := 0; i < ReadLimit+5; i++ {
		msgs = append(msgs, msg("user", fmt.Sprintf("m%d", i)))
	}
	got := Bound(msgs)
	if len(got) != ReadLimit {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].Content != "m5" {
		t.Errorf("first = %q", got[0].Content)
	}

	short := msgs[:3]
	if len(Bound(short)) != 3 {
		t.Error("short history trimmed")
	}
}
