// Package upload stages parsed product files between the upload turn and the
// confirmation-code turn. Sessions are single-use and expire after an hour if
// abandoned.
package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradedesk/internal/kvstore"
	"tradedesk/internal/tabular"
)

const (
	sessionPrefix = "upload:sess:"
	hashPrefix    = "upload:hash:"
	sessionTTL    = time.Hour
)

// ErrSessionNotFound signals an expired or already-consumed session; the
// user must re-upload.
var ErrSessionNotFound = errors.New("upload session expired or not found")

// Session is a staged upload awaiting confirmation.
type Session struct {
	Key     string     `json:"key"`
	Hash    string     `json:"hash"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"` // includes the header row
}

type Manager struct {
	kv kvstore.Store
}

func NewManager(kv kvstore.Store) *Manager {
	return &Manager{kv: kv}
}

// Stage stores a parsed table and returns its session. Identical content
// (same row hash) reuses the existing session's key instead of creating a
// duplicate; reused reports that case.
func (m *Manager) Stage(ctx context.Context, t *tabular.Table) (sess *Session, reused bool, err error) {
	hash := tabular.ContentHash(t)

	if keyData, err := m.kv.Get(ctx, hashPrefix+hash); err == nil {
		existing, err := m.get(ctx, string(keyData))
		if err == nil {
			return existing, true, nil
		}
		// Hash index outlived its session; fall through and re-stage.
	}

	sess = &Session{
		Key:     uuid.NewString(),
		Hash:    hash,
		Columns: t.Columns(),
		Rows:    t.Rows,
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, false, fmt.Errorf("marshal session: %w", err)
	}
	if err := m.kv.Set(ctx, sessionPrefix+sess.Key, data, sessionTTL); err != nil {
		return nil, false, err
	}
	if err := m.kv.Set(ctx, hashPrefix+hash, []byte(sess.Key), sessionTTL); err != nil {
		return nil, false, err
	}
	return sess, false, nil
}

func (m *Manager) get(ctx context.Context, key string) (*Session, error) {
	data, err := m.kv.Get(ctx, sessionPrefix+key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// Take retrieves a session and deletes it (single use). The hash index is
// removed too so a re-upload after confirmation mints a fresh key.
func (m *Manager) Take(ctx context.Context, key string) (*Session, error) {
	sess, err := m.get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := m.kv.Delete(ctx, sessionPrefix+key); err != nil {
		return nil, err
	}
	_ = m.kv.Delete(ctx, hashPrefix+sess.Hash)
	return sess, nil
}

// MatchCode compares a user-supplied confirmation code against the expected
// secret: whitespace-insensitive and case-insensitive.
func MatchCode(provided, expected string) bool {
	return strings.EqualFold(strings.TrimSpace(provided), strings.TrimSpace(expected))
}
