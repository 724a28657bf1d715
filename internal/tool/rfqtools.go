package tool

import (
	"context"
	"encoding/json"
	"log/slog"

	"tradedesk/internal/rfq"
)

// ProcessRfqTool converts model-extracted contact, items, and destination
// into a persisted quote.
type ProcessRfqTool struct {
	svc    *rfq.Service
	logger *slog.Logger
}

func NewProcessRfqTool(svc *rfq.Service, logger *slog.Logger) *ProcessRfqTool {
	return &ProcessRfqTool{svc: svc, logger: logger}
}

func (t *ProcessRfqTool) Name() string { return "processRfq" }
func (t *ProcessRfqTool) Description() string {
	return "Create a quote from a request-for-quote. Extract contactName, items (sku, qty, optional price), and shipTo from the conversation before calling. If the result reports missing SKUs or fields, relay the message to the user exactly as given."
}
func (t *ProcessRfqTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"contactName":  map[string]any{"type": "string", "description": "Name of the requesting contact"},
			"contactEmail": map[string]any{"type": "string", "description": "Contact email, if given"},
			"contactPhone": map[string]any{"type": "string", "description": "Contact phone, if given"},
			"shipTo":       map[string]any{"type": "string", "description": "Ship-to destination"},
			"deliveryDate": map[string]any{"type": "string", "description": "Requested delivery date, if given"},
			"notes":        map[string]any{"type": "string", "description": "Free-text notes, if any"},
			"items": map[string]any{
				"type":        "array",
				"description": "Requested line items",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"sku":   map[string]any{"type": "string"},
						"qty":   map[string]any{"type": "number"},
						"price": map[string]any{"type": "number", "description": "Unit price if the user stated one; omit or 0 when unknown"},
					},
					"required": []string{"sku", "qty"},
				},
			},
		},
		"required": []string{"contactName", "items", "shipTo"},
	}
}

func (t *ProcessRfqTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	// Re-decode through JSON so nested item objects land in typed fields.
	raw, err := json.Marshal(args)
	if err != nil {
		return Failure("The quote request could not be read. Please try again."), nil
	}
	var in rfq.ProcessInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return Failure("The quote request could not be read. Please try again."), nil
	}

	result, err := t.svc.Process(ctx, in)
	if err != nil {
		t.logger.Error("rfq processing failed", "err", err)
		return Failure("Creating the quote failed. Please try again in a moment."), nil
	}
	return Result(result)
}

// SendRfqEmailTool emails an existing quote to a recipient.
type SendRfqEmailTool struct {
	svc    *rfq.Service
	logger *slog.Logger
}

func NewSendRfqEmailTool(svc *rfq.Service, logger *slog.Logger) *SendRfqEmailTool {
	return &SendRfqEmailTool{svc: svc, logger: logger}
}

func (t *SendRfqEmailTool) Name() string { return "sendRfqEmail" }
func (t *SendRfqEmailTool) Description() string {
	return "Email an existing quote to the customer. Only callable after processRfq succeeded. If no email address is on file, ask the user for one first."
}
func (t *SendRfqEmailTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"quoteNumber": {Type: "string", Description: "Quote number returned by processRfq"},
			"email":       {Type: "string", Description: "Recipient email address; omit to use the contact email on the quote"},
		},
		[]string{"quoteNumber"},
	)
}

func (t *SendRfqEmailTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	quoteNumber := ArgsString(args, "quoteNumber")
	if quoteNumber == "" {
		return Failure("No quote number was provided."), nil
	}

	result, err := t.svc.SendQuoteEmail(ctx, quoteNumber, ArgsString(args, "email"))
	if err != nil {
		t.logger.Error("quote email failed", "quote", quoteNumber, "err", err)
		return Failure("Sending the quote email failed. Please try again in a moment."), nil
	}
	return Result(result)
}
