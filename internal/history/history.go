// Package history stores bounded per-identity conversation history in the
// key-value store. It is a cache, not a system of record: entries expire
// after the retention window and concurrent writers are last-write-wins.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tradedesk/internal/domain"
	"tradedesk/internal/kvstore"
)

const (
	keyPrefix = "history:"

	// ReadLimit is the number of most recent messages ever sent to the
	// model. More may be stored.
	ReadLimit = 20

	// storeCap bounds row growth on append; the semantic bound is ReadLimit.
	storeCap = 100

	retention = 7 * 24 * time.Hour
)

type Store struct {
	kv kvstore.Store
}

func NewStore(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

// Key builds the history key for a channel-specific identity, e.g.
// Key("whatsapp", phone) or Key("slack", channel+":"+user).
func Key(channel, identity string) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, channel, identity)
}

// Load returns the most recent ReadLimit messages for an identity. A missing
// key is an empty history, not an error.
func (s *Store) Load(ctx context.Context, key string) ([]domain.ConversationMessage, error) {
	data, err := s.kv.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var msgs []domain.ConversationMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	return Bound(msgs), nil
}

// Append records a completed exchange and refreshes the retention window.
// Incomplete exchanges (failed turns) must not be appended.
func (s *Store) Append(ctx context.Context, key string, exchange ...domain.ConversationMessage) error {
	data, err := s.kv.Get(ctx, key)
	var msgs []domain.ConversationMessage
	if err == nil {
		if err := json.Unmarshal(data, &msgs); err != nil {
			// Corrupt history is dropped rather than poisoning future turns.
			msgs = nil
		}
	}
	msgs = append(msgs, exchange...)
	if len(msgs) > storeCap {
		msgs = msgs[len(msgs)-storeCap:]
	}
	out, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	return s.kv.Set(ctx, key, out, retention)
}

// Bound trims a history to the most recent ReadLimit messages.
func Bound(msgs []domain.ConversationMessage) []domain.ConversationMessage {
	if len(msgs) > ReadLimit {
		return msgs[len(msgs)-ReadLimit:]
	}
	return msgs
}
