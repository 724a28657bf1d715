package kvstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing: %v, want ErrNotFound", err)
	}
	if err := m.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	got, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v" {
		t.Errorf("got %q", got)
	}
	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete: %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_TTL(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	current := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	if err := m.Set(ctx, "k", []byte("v"), time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, "k"); err != nil {
		t.Fatalf("get before expiry: %v", err)
	}

	current = current.Add(time.Hour + time.Second)
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after expiry: %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_ScanPrefix(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	current := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	m.Set(ctx, "rfq:fu:A", []byte("1"), 0)
	m.Set(ctx, "rfq:fu:B", []byte("2"), time.Minute)
	m.Set(ctx, "rfq:quote:A", []byte("3"), 0)

	out, err := m.ScanPrefix(ctx, "rfq:fu:")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("scan = %v", out)
	}

	current = current.Add(2 * time.Minute)
	out, _ = m.ScanPrefix(ctx, "rfq:fu:")
	if len(out) != 1 {
		t.Errorf("scan after expiry = %v, want only the unexpiring key", out)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSQLiteTest(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "kv.db"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// setExpired inserts a row whose expiry is already in the past. Set treats
// non-positive TTLs as "no expiry", so tests write the row directly.
func setExpired(t *testing.T, s *SQLiteStore, key string) {
	t.Helper()
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)`,
		key, []byte("v"), time.Now().Add(-time.Minute).Unix(),
	)
	if err != nil {
		t.Fatal(err)
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	s := newSQLiteTest(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v1"), 0); err != nil {
		t.Fatal(err)
	}
	// Upsert.
	if err := s.Set(ctx, "k", []byte("v2"), 0); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v2" {
		t.Errorf("got %q, want v2", got)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete: %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_ExpiredReadsAsAbsent(t *testing.T) {
	s := newSQLiteTest(t)
	ctx := context.Background()

	setExpired(t, s, "ephemeral")
	if _, err := s.Get(ctx, "ephemeral"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired key read back: %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_ScanPrefixEscapesWildcards(t *testing.T) {
	s := newSQLiteTest(t)
	ctx := context.Background()

	s.Set(ctx, "a_b:1", []byte("x"), 0)
	s.Set(ctx, "aXb:1", []byte("y"), 0)

	out, err := s.ScanPrefix(ctx, "a_b:")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Errorf("scan matched LIKE wildcards: %v", out)
	}
}

func TestSQLiteStore_PurgeExpired(t *testing.T) {
	s := newSQLiteTest(t)
	ctx := context.Background()

	setExpired(t, s, "stale")
	s.Set(ctx, "fresh", []byte("v"), time.Hour)
	s.Set(ctx, "forever", []byte("v"), 0)

	n, err := s.PurgeExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("purged %d rows, want 1", n)
	}
	if _, err := s.Get(ctx, "fresh"); err != nil {
		t.Errorf("fresh key gone: %v", err)
	}
	if _, err := s.Get(ctx, "forever"); err != nil {
		t.Errorf("unexpiring key gone: %v", err)
	}
}
