package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"tradedesk/internal/catalog"
	"tradedesk/internal/domain"
	"tradedesk/internal/metrics"
	"tradedesk/internal/tabular"
	"tradedesk/internal/upload"
)

const (
	uploadKeyMarker = "Upload key: "
	previewRows     = 4

	defaultUploadPrompt = "I uploaded a product file. Please confirm you received it and tell me how to proceed."
)

var uploadKeyRe = regexp.MustCompile(`Upload key: ([A-Za-z0-9-]+)`)

// Preprocessor stages product-file attachments before the model is invoked.
type Preprocessor struct {
	uploads *upload.Manager
	catalog *catalog.Store
	logger  *slog.Logger
}

func NewPreprocessor(uploads *upload.Manager, cat *catalog.Store, logger *slog.Logger) *Preprocessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Preprocessor{uploads: uploads, catalog: cat, logger: logger}
}

// PreprocessResult describes a staged product file. Prompt is the rewritten
// user prompt; RemainingAttachments are the attachments left after the
// product file is stripped.
type PreprocessResult struct {
	UploadKey            string
	RowCount             int
	Columns              []string
	AlreadyExists        bool
	Prompt               string
	RemainingAttachments []domain.Attachment
}

// Run stages the first product-file attachment, if any. A nil result with a
// nil error means no attachment qualified and the turn proceeds unchanged.
func (p *Preprocessor) Run(ctx context.Context, prompt string, attachments []domain.Attachment) (*PreprocessResult, error) {
	idx := -1
	for i, a := range attachments {
		if tabular.IsProductFile(a.Name, a.MimeType) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil
	}
	att := attachments[idx]

	table, err := tabular.Parse(att.Name, att.MimeType, att.Data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", att.Name, err)
	}

	sess, existed, err := p.uploads.Stage(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("stage upload: %w", err)
	}
	metrics.UploadsStaged.Inc()
	if existed {
		p.logger.Info("upload deduplicated", "key", sess.Key, "file", att.Name)
	}

	// Catalog extraction is best effort: a file without a recognizable SKU
	// column still goes through the sheet-upload flow.
	if entries := catalog.Build(table); entries != nil && p.catalog != nil {
		if err := p.catalog.Save(ctx, entries); err != nil {
			p.logger.Warn("catalog save failed", "err", err)
		} else {
			p.logger.Info("catalog updated", "products", len(entries), "file", att.Name)
		}
	}

	remaining := make([]domain.Attachment, 0, len(attachments)-1)
	remaining = append(remaining, attachments[:idx]...)
	remaining = append(remaining, attachments[idx+1:]...)

	return &PreprocessResult{
		UploadKey:            sess.Key,
		RowCount:             table.RowCount(),
		Columns:              table.Columns(),
		AlreadyExists:        existed,
		Prompt:               rewritePrompt(prompt, att.Name, table, sess.Key),
		RemainingAttachments: remaining,
	}, nil
}

// rewritePrompt replaces the raw file with a structured summary the model
// can act on. The upload key line is load-bearing: it is how a later turn
// recovers the pending upload from history.
func rewritePrompt(original, filename string, t *tabular.Table, key string) string {
	var b strings.Builder
	b.WriteString("[PRODUCT FILE UPLOADED]\n")
	fmt.Fprintf(&b, "File: %s\n", filename)
	fmt.Fprintf(&b, "Rows: %d (including header)\n", len(t.Rows))
	fmt.Fprintf(&b, "Columns (%d): %s\n", len(t.Columns()), strings.Join(t.Columns(), ", "))
	fmt.Fprintf(&b, "%s%s\n", uploadKeyMarker, key)
	b.WriteString("Preview:\n")
	b.WriteString(tabular.Preview(t, previewRows))
	b.WriteString("\n[END PRODUCT FILE]\n\n")

	text := strings.TrimSpace(original)
	if text == "" {
		text = defaultUploadPrompt
	}
	b.WriteString(text)
	return b.String()
}

// findPendingUploadKey walks history newest-first looking for the most
// recent upload key mentioned in a user message.
func findPendingUploadKey(hist []domain.ConversationMessage) string {
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i].Role != "user" {
			continue
		}
		if m := uploadKeyRe.FindStringSubmatch(hist[i].Content); m != nil {
			return m[1]
		}
	}
	return ""
}
