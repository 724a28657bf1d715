package rfq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"tradedesk/internal/metrics"
)

// EmailResult is returned by the send-quote-email tool.
type EmailResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// SendQuoteEmail emails a quote, backfills the recipient address on the
// stored quote, and flips the follow-up status to email_sent. Callable only
// after the quote exists.
func (s *Service) SendQuoteEmail(ctx context.Context, quoteNumber, to string) (*EmailResult, error) {
	q, err := s.GetQuote(ctx, quoteNumber)
	if err == ErrQuoteNotFound {
		return &EmailResult{Success: false, Message: fmt.Sprintf("Quote %s has expired or does not exist. Please re-submit the request for quote.", quoteNumber)}, nil
	}
	if err != nil {
		return nil, err
	}

	to = strings.TrimSpace(to)
	if to == "" {
		to = q.ContactEmail
	}
	if to == "" {
		return &EmailResult{Success: false, Message: "No recipient email address is available for this quote. Please provide one."}, nil
	}

	subject := fmt.Sprintf("Your quote %s", q.QuoteNumber)
	if err := s.mailer.Send(ctx, to, subject, RenderEmail(q)); err != nil {
		return &EmailResult{Success: false, Message: fmt.Sprintf("Sending the quote email failed: %v. Please try again.", err)}, nil
	}

	// Email-address backfill is the one permitted mutation of a quote.
	if q.ContactEmail != to {
		q.ContactEmail = to
		if err := s.saveQuote(ctx, q); err != nil {
			s.logger.Warn("email backfill failed", "quote", q.QuoteNumber, "err", err)
		}
	}

	if fu, err := s.getFollowup(ctx, q.QuoteNumber); err == nil {
		fu.Status = StatusEmailSent
		fu.RecipientEmail = to
		if err := s.saveFollowup(ctx, fu); err != nil {
			s.logger.Warn("followup status update failed", "quote", q.QuoteNumber, "err", err)
		}
	}

	s.logger.Info("quote emailed", "quote", q.QuoteNumber, "to", to)
	return &EmailResult{Success: true, Message: fmt.Sprintf("Quote %s sent to %s.", q.QuoteNumber, to)}, nil
}

// SweepResult reports one follow-up sweep run.
type SweepResult struct {
	Sent   int      `json:"sent"`
	Errors []string `json:"errors,omitempty"`
}

// SweepFollowups walks every stored follow-up record and dispatches the due,
// not-yet-sent reminders in date order, stopping at the first future date.
// Reminders are strictly sequential: a later reminder is never sent before
// an earlier one even if both are due. Idempotent across runs within a day.
func (s *Service) SweepFollowups(ctx context.Context) (*SweepResult, error) {
	records, err := s.kv.ScanPrefix(ctx, followupPrefix)
	if err != nil {
		return nil, fmt.Errorf("scan followups: %w", err)
	}

	today := s.now().Format("2006-01-02")
	result := &SweepResult{}

	for key, data := range records {
		var fu Followup
		if err := json.Unmarshal(data, &fu); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: corrupt record", key))
			continue
		}
		if fu.Status != StatusEmailSent || fu.RecipientEmail == "" {
			// Reminders only make sense once the quote left by email.
			continue
		}

		changed := false
		for i := range fu.FollowUpDates {
			if fu.FollowUpDates[i] > today {
				break // first not-yet-due date ends the walk
			}
			if fu.FollowUpSent[i] {
				continue
			}
			if err := s.sendReminder(ctx, &fu, i); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s reminder %d: %v", fu.QuoteNumber, i+1, err))
				break // retry this one on the next sweep, keep order
			}
			fu.FollowUpSent[i] = true
			changed = true
			result.Sent++
			metrics.FollowupsSent.Inc()
		}

		if changed {
			if err := s.saveFollowup(ctx, &fu); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: save: %v", fu.QuoteNumber, err))
			}
		}
	}

	s.logger.Info("followup sweep complete", "sent", result.Sent, "errors", len(result.Errors))
	return result, nil
}

func (s *Service) sendReminder(ctx context.Context, fu *Followup, i int) error {
	subject := fmt.Sprintf("Following up on quote %s (reminder %d)", fu.QuoteNumber, i+1)
	body := fmt.Sprintf(
		"Hello,\n\nJust following up on quote %s we sent over. Let us know if you have any questions or if you'd like to proceed.\n\nBest regards",
		fu.QuoteNumber,
	)
	return s.mailer.Send(ctx, fu.RecipientEmail, subject, body)
}
