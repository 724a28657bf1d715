// Package rfq converts model-extracted quote requests into persisted quotes
// with a scheduled follow-up cadence.
package rfq

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const (
	quoteValidityDays = 30

	// Follow-up reminders relative to the quote date.
	followUp1Days = 3
	followUp2Days = 7
	followUp3Days = 14
)

// Item is one requested line before pricing.
type Item struct {
	SKU   string  `json:"sku"`
	Qty   float64 `json:"qty"`
	Price float64 `json:"price,omitempty"` // 0 means "not provided"
}

// Line is a priced quote line. UnitPrice is nil when neither the request nor
// the catalog had a price.
type Line struct {
	SKU       string   `json:"sku"`
	Name      string   `json:"name,omitempty"`
	Qty       float64  `json:"qty"`
	Unit      string   `json:"unit,omitempty"`
	UnitPrice *float64 `json:"unitPrice,omitempty"`
	LineTotal *float64 `json:"lineTotal,omitempty"`
}

// PriceDisplay renders the unit price, or "TBD" when unknown.
func (l Line) PriceDisplay() string {
	if l.UnitPrice == nil {
		return "TBD"
	}
	return fmt.Sprintf("%.2f", *l.UnitPrice)
}

// LineTotalDisplay renders the line total, or "TBD" when unknown.
func (l Line) LineTotalDisplay() string {
	if l.LineTotal == nil {
		return "TBD"
	}
	return fmt.Sprintf("%.2f", *l.LineTotal)
}

// Quote is an immutable persisted quote; only the recipient email may be
// backfilled later by the email tool.
type Quote struct {
	QuoteNumber    string  `json:"quoteNumber"`
	QuoteDate      string  `json:"quoteDate"`  // 2006-01-02
	ValidUntil     string  `json:"validUntil"` // 2006-01-02
	ContactName    string  `json:"contactName"`
	ContactEmail   string  `json:"contactEmail,omitempty"`
	ContactPhone   string  `json:"contactPhone,omitempty"`
	Lines          []Line  `json:"lines"`
	ShipTo         string  `json:"shipTo"`
	DeliveryDate   string  `json:"deliveryDate,omitempty"`
	Notes          string  `json:"notes,omitempty"`
	Total          float64 `json:"total"`
	HasAllPrices   bool    `json:"hasAllPrices"`
}

// TotalDisplay renders the grand total, or "TBD" while any price is missing.
func (q *Quote) TotalDisplay() string {
	if !q.HasAllPrices {
		return "TBD"
	}
	return fmt.Sprintf("%.2f", q.Total)
}

// Followup tracks the reminder cadence for a quote. Reminders are strictly
// sequential: a later one is never sent before an earlier one.
type Followup struct {
	QuoteNumber    string    `json:"quoteNumber"`
	RecipientEmail string    `json:"recipientEmail,omitempty"`
	FollowUpDates  [3]string `json:"followUpDates"` // 2006-01-02, ascending
	FollowUpSent   [3]bool   `json:"followUpSent"`
	Status         string    `json:"status"` // pending | email_sent
}

const (
	StatusPending   = "pending"
	StatusEmailSent = "email_sent"
)

const quoteNumberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewQuoteNumber generates a date-prefixed quote number, RFQ-YYYYMMDD-XXXX.
func NewQuoteNumber(on time.Time) string {
	suffix := make([]byte, 4)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(quoteNumberAlphabet))))
		if err != nil {
			// crypto/rand is the kernel; treat failure as unrecoverable.
			panic(fmt.Sprintf("rfq: random source failed: %v", err))
		}
		suffix[i] = quoteNumberAlphabet[n.Int64()]
	}
	return fmt.Sprintf("RFQ-%s-%s", on.Format("20060102"), suffix)
}

func followUpDates(on time.Time) [3]string {
	return [3]string{
		on.AddDate(0, 0, followUp1Days).Format("2006-01-02"),
		on.AddDate(0, 0, followUp2Days).Format("2006-01-02"),
		on.AddDate(0, 0, followUp3Days).Format("2006-01-02"),
	}
}
