// Package catalog maintains the product price/unit lookup table derived from
// the most recently confirmed upload. It is a lookup cache for RFQ pricing,
// not authoritative inventory.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tradedesk/internal/kvstore"
	"tradedesk/internal/tabular"
)

const (
	storeKey   = "catalog:products"
	defaultTTL = 30 * 24 * time.Hour
)

// Entry is one product row keyed by its case-normalized SKU.
type Entry struct {
	SKU   string   `json:"sku"`
	Name  string   `json:"name,omitempty"`
	Price *float64 `json:"price,omitempty"` // nil when the source had no usable price
	Unit  string   `json:"unit,omitempty"`
}

// Build derives a catalog from a parsed table by heuristic header matching.
// Returns nil when no SKU column is recognized.
func Build(t *tabular.Table) map[string]Entry {
	header := t.Columns()
	if header == nil {
		return nil
	}
	cols := tabular.DetectColumns(header)
	skuIdx, ok := cols[tabular.RoleSKU]
	if !ok {
		return nil
	}

	out := make(map[string]Entry)
	for _, row := range t.Rows[1:] {
		sku := cellAt(row, skuIdx)
		if sku == "" {
			continue
		}
		key := strings.ToUpper(sku)
		e := Entry{SKU: key}
		if i, ok := cols[tabular.RoleName]; ok {
			e.Name = cellAt(row, i)
		}
		if i, ok := cols[tabular.RoleUnit]; ok {
			e.Unit = cellAt(row, i)
		}
		if i, ok := cols[tabular.RolePrice]; ok {
			if p, err := parsePrice(cellAt(row, i)); err == nil {
				e.Price = &p
			}
		}
		out[key] = e
	}
	return out
}

func cellAt(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// parsePrice tolerates currency symbols and thousands separators.
func parsePrice(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "$€£ ")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, fmt.Errorf("empty price")
	}
	return strconv.ParseFloat(s, 64)
}

// Store persists the single shared catalog in the key-value store.
// Each confirmed upload overwrites it wholesale.
type Store struct {
	kv kvstore.Store
}

func NewStore(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

// Save replaces the stored catalog. A nil or empty catalog is a no-op.
func (s *Store) Save(ctx context.Context, entries map[string]Entry) error {
	if len(entries) == 0 {
		return nil
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}
	return s.kv.Set(ctx, storeKey, data, defaultTTL)
}

// Load returns the stored catalog, or an empty map when none exists.
func (s *Store) Load(ctx context.Context) (map[string]Entry, error) {
	data, err := s.kv.Get(ctx, storeKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, err
	}
	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal catalog: %w", err)
	}
	return entries, nil
}

// Lookup finds an entry by SKU, case-insensitively.
func (s *Store) Lookup(ctx context.Context, sku string) (*Entry, error) {
	entries, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	e, ok := entries[strings.ToUpper(strings.TrimSpace(sku))]
	if !ok {
		return nil, nil
	}
	return &e, nil
}
