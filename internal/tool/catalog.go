package tool

import (
	"context"
	"fmt"
	"log/slog"

	"tradedesk/internal/catalog"
)

// CatalogLookupTool retrieves a product entry by SKU from the shared catalog.
type CatalogLookupTool struct {
	store  *catalog.Store
	logger *slog.Logger
}

func NewCatalogLookupTool(store *catalog.Store, logger *slog.Logger) *CatalogLookupTool {
	return &CatalogLookupTool{store: store, logger: logger}
}

func (t *CatalogLookupTool) Name() string { return "catalogLookup" }
func (t *CatalogLookupTool) Description() string {
	return "Look up a product in the catalog by SKU. Returns name, price, and unit when known."
}
func (t *CatalogLookupTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"sku": {Type: "string", Description: "The product SKU to look up"},
		},
		[]string{"sku"},
	)
}

type catalogLookupResult struct {
	Success bool           `json:"success"`
	Entry   *catalog.Entry `json:"entry"`
}

func (t *CatalogLookupTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	sku := ArgsString(args, "sku")
	if sku == "" {
		return Failure("No SKU was provided."), nil
	}

	entry, err := t.store.Lookup(ctx, sku)
	if err != nil {
		t.logger.Error("catalog lookup failed", "sku", sku, "err", err)
		return Failure("Catalog lookup failed. Please try again in a moment."), nil
	}
	if entry == nil {
		return Failure(fmt.Sprintf("SKU %s is not in the product catalog.", sku)), nil
	}
	return Result(catalogLookupResult{Success: true, Entry: entry})
}
