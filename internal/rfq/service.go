package rfq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tradedesk/internal/catalog"
	"tradedesk/internal/kvstore"
	"tradedesk/internal/metrics"
)

const (
	quotePrefix    = "rfq:quote:"
	followupPrefix = "rfq:fu:"

	quoteRetention    = 30 * 24 * time.Hour
	followupRetention = 7 * 24 * time.Hour
)

// ErrQuoteNotFound signals an expired or unknown quote; the user must
// re-submit the RFQ.
var ErrQuoteNotFound = errors.New("quote expired or not found")

// Mailer sends quote emails. Fire-and-forget: a failure is reported, never
// compensated.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SheetLogger appends rows to the external spreadsheet, best-effort.
type SheetLogger interface {
	AppendRow(ctx context.Context, sheet string, row []string) error
}

// ProcessInput is what the model extracts from free text.
type ProcessInput struct {
	ContactName  string `json:"contactName"`
	ContactEmail string `json:"contactEmail,omitempty"`
	ContactPhone string `json:"contactPhone,omitempty"`
	Items        []Item `json:"items"`
	ShipTo       string `json:"shipTo"`
	DeliveryDate string `json:"deliveryDate,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

// ProcessResult is returned to the model. On validation failure nothing is
// persisted and Message carries the user-facing text to relay verbatim.
type ProcessResult struct {
	Success          bool     `json:"success"`
	Message          string   `json:"message,omitempty"`
	QuoteNumber      string   `json:"quoteNumber,omitempty"`
	Total            string   `json:"total,omitempty"`
	HasAllPrices     bool     `json:"hasAllPrices,omitempty"`
	MissingSkus      []string `json:"missingSkus,omitempty"`
	MissingPriceSkus []string `json:"missingPriceSkus,omitempty"`
}

// Service owns the RfqQuote / RfqFollowup lifecycles.
type Service struct {
	kv      kvstore.Store
	catalog *catalog.Store
	mailer  Mailer
	sheets  SheetLogger
	logger  *slog.Logger
	now     func() time.Time
}

type ServiceConfig struct {
	KV      kvstore.Store
	Catalog *catalog.Store
	Mailer  Mailer
	Sheets  SheetLogger
	Logger  *slog.Logger
	Now     func() time.Time // test hook; defaults to time.Now
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		kv:      cfg.KV,
		catalog: cfg.Catalog,
		mailer:  cfg.Mailer,
		sheets:  cfg.Sheets,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
}

// Process validates the request, backfills missing unit prices from the
// catalog, computes totals, and persists the quote plus its follow-up record.
// A validation failure persists nothing.
func (s *Service) Process(ctx context.Context, in ProcessInput) (*ProcessResult, error) {
	if msg := validate(in); msg != "" {
		return &ProcessResult{Success: false, Message: msg}, nil
	}

	entries, err := s.catalog.Load(ctx)
	if err != nil {
		s.logger.Warn("catalog unavailable, pricing from request only", "err", err)
		entries = map[string]catalog.Entry{}
	}

	now := s.now()
	q := Quote{
		QuoteNumber:  NewQuoteNumber(now),
		QuoteDate:    now.Format("2006-01-02"),
		ValidUntil:   now.AddDate(0, 0, quoteValidityDays).Format("2006-01-02"),
		ContactName:  strings.TrimSpace(in.ContactName),
		ContactEmail: strings.TrimSpace(in.ContactEmail),
		ContactPhone: strings.TrimSpace(in.ContactPhone),
		ShipTo:       strings.TrimSpace(in.ShipTo),
		DeliveryDate: in.DeliveryDate,
		Notes:        in.Notes,
		HasAllPrices: true,
	}

	var missingSkus, missingPriceSkus []string
	for _, item := range in.Items {
		sku := strings.ToUpper(strings.TrimSpace(item.SKU))
		line := Line{SKU: sku, Qty: item.Qty}

		entry, inCatalog := entries[sku]
		if inCatalog {
			line.Name = entry.Name
			line.Unit = entry.Unit
		} else {
			missingSkus = append(missingSkus, sku)
		}

		// An explicit price of exactly 0 means "not provided": upstream
		// model output defaults unknown prices to 0.
		switch {
		case item.Price > 0:
			p := item.Price
			line.UnitPrice = &p
		case inCatalog && entry.Price != nil:
			p := *entry.Price
			line.UnitPrice = &p
		}

		if line.UnitPrice != nil {
			t := *line.UnitPrice * item.Qty
			line.LineTotal = &t
			q.Total += t
		} else {
			q.HasAllPrices = false
			missingPriceSkus = append(missingPriceSkus, sku)
		}
		q.Lines = append(q.Lines, line)
	}

	if len(missingSkus) > 0 {
		// Surfaced instead of a partial quote: the model must tell the user
		// which SKUs were unknown.
		return &ProcessResult{
			Success:     false,
			Message:     fmt.Sprintf("These SKUs are not in the product catalog: %s. Please check the SKUs or upload an updated catalog, then re-submit the request.", strings.Join(missingSkus, ", ")),
			MissingSkus: missingSkus,
		}, nil
	}

	fu := Followup{
		QuoteNumber:    q.QuoteNumber,
		RecipientEmail: q.ContactEmail,
		FollowUpDates:  followUpDates(now),
		Status:         StatusPending,
	}

	if err := s.saveQuote(ctx, &q); err != nil {
		return nil, fmt.Errorf("persist quote: %w", err)
	}
	metrics.QuotesCreated.Inc()
	if err := s.saveFollowup(ctx, &fu); err != nil {
		return nil, fmt.Errorf("persist followup: %w", err)
	}

	// Best-effort spreadsheet log; a failure never fails the quote.
	if s.sheets != nil {
		row := []string{q.QuoteNumber, q.QuoteDate, q.ContactName, q.ShipTo, q.TotalDisplay()}
		if err := s.sheets.AppendRow(ctx, "quotes", row); err != nil {
			s.logger.Warn("spreadsheet log failed", "quote", q.QuoteNumber, "err", err)
		}
	}

	s.logger.Info("quote created", "quote", q.QuoteNumber, "lines", len(q.Lines), "total", q.TotalDisplay())

	return &ProcessResult{
		Success:          true,
		QuoteNumber:      q.QuoteNumber,
		Total:            q.TotalDisplay(),
		HasAllPrices:     q.HasAllPrices,
		MissingPriceSkus: missingPriceSkus,
	}, nil
}

func validate(in ProcessInput) string {
	var missing []string
	if strings.TrimSpace(in.ContactName) == "" {
		missing = append(missing, "contact name")
	}
	if len(in.Items) == 0 {
		missing = append(missing, "at least one item")
	}
	if strings.TrimSpace(in.ShipTo) == "" {
		missing = append(missing, "a ship-to destination")
	}
	if len(missing) == 0 {
		return ""
	}
	return fmt.Sprintf("Cannot create a quote yet: missing %s. Please provide the missing details and try again.", strings.Join(missing, ", "))
}

func (s *Service) saveQuote(ctx context.Context, q *Quote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, quotePrefix+q.QuoteNumber, data, quoteRetention)
}

// GetQuote loads a quote by number.
func (s *Service) GetQuote(ctx context.Context, number string) (*Quote, error) {
	data, err := s.kv.Get(ctx, quotePrefix+strings.TrimSpace(number))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrQuoteNotFound
	}
	if err != nil {
		return nil, err
	}
	var q Quote
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("unmarshal quote: %w", err)
	}
	return &q, nil
}

func (s *Service) saveFollowup(ctx context.Context, fu *Followup) error {
	data, err := json.Marshal(fu)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, followupPrefix+fu.QuoteNumber, data, followupRetention)
}

func (s *Service) getFollowup(ctx context.Context, number string) (*Followup, error) {
	data, err := s.kv.Get(ctx, followupPrefix+number)
	if err != nil {
		return nil, err
	}
	var fu Followup
	if err := json.Unmarshal(data, &fu); err != nil {
		return nil, fmt.Errorf("unmarshal followup: %w", err)
	}
	return &fu, nil
}
