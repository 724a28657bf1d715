package tool

import (
	"context"
	"log/slog"

	"tradedesk/internal/domain"
	"tradedesk/internal/orders"
)

// OrderLookupTool lists the current user's recent orders. The identity comes
// from the request context, never from model arguments, so the model cannot
// query another user's data.
type OrderLookupTool struct {
	store  *orders.Store
	logger *slog.Logger
}

func NewOrderLookupTool(store *orders.Store, logger *slog.Logger) *OrderLookupTool {
	return &OrderLookupTool{store: store, logger: logger}
}

func (t *OrderLookupTool) Name() string { return "orderLookup" }
func (t *OrderLookupTool) Description() string {
	return "Look up the current user's recent orders. Use when the user asks about their order status or order history."
}
func (t *OrderLookupTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"limit": {Type: "number", Description: "Maximum number of orders to return (default 10)"},
		},
		nil,
	)
}

type orderLookupResult struct {
	Success bool           `json:"success"`
	Orders  []orders.Order `json:"orders"`
}

func (t *OrderLookupTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	userID := domain.UserID(ctx)
	if userID == "" {
		return Failure("Order lookup is only available in an identified conversation (WhatsApp or Slack)."), nil
	}

	limit := int(ArgsFloat(args, "limit"))
	list, err := t.store.ListByCustomer(ctx, userID, limit)
	if err != nil {
		t.logger.Error("order lookup failed", "user", userID, "err", err)
		return Failure("Order lookup failed. Please try again in a moment."), nil
	}
	if list == nil {
		list = []orders.Order{}
	}
	return Result(orderLookupResult{Success: true, Orders: list})
}
