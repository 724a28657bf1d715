package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tradedesk/internal/sheets"
	"tradedesk/internal/upload"
)

// UploadToSheetTool commits a staged upload after the user supplies the
// confirmation code. The session is single-use: a successful commit deletes
// the staged rows.
type UploadToSheetTool struct {
	sessions *upload.Manager
	sheets   *sheets.Client
	secret   string // server-side confirmation code
	logger   *slog.Logger
}

func NewUploadToSheetTool(sessions *upload.Manager, sheetClient *sheets.Client, secret string, logger *slog.Logger) *UploadToSheetTool {
	return &UploadToSheetTool{
		sessions: sessions,
		sheets:   sheetClient,
		secret:   secret,
		logger:   logger,
	}
}

func (t *UploadToSheetTool) Name() string { return "uploadToSheet" }
func (t *UploadToSheetTool) Description() string {
	return "Commit a previously uploaded product file to the spreadsheet. Requires the upload key from the upload turn and the confirmation code the user must supply. If the result is a failure, relay its message to the user exactly as given."
}
func (t *UploadToSheetTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"uploadKey":        {Type: "string", Description: "Upload key from the upload step"},
			"confirmationCode": {Type: "string", Description: "Confirmation code supplied by the user"},
		},
		[]string{"uploadKey", "confirmationCode"},
	)
}

type uploadCommitResult struct {
	Success  bool     `json:"success"`
	Message  string   `json:"message,omitempty"`
	RowCount int      `json:"rowCount"`
	Columns  []string `json:"columns"`
}

func (t *UploadToSheetTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	key := ArgsString(args, "uploadKey")
	code := ArgsString(args, "confirmationCode")
	if key == "" || code == "" {
		return Failure("Both the upload key and the confirmation code are required."), nil
	}

	if t.secret == "" {
		return Failure("Upload confirmation is not configured on this server."), nil
	}
	if !upload.MatchCode(code, t.secret) {
		return Failure("The confirmation code is incorrect. Please check it and try again."), nil
	}

	sess, err := t.sessions.Take(ctx, key)
	if errors.Is(err, upload.ErrSessionNotFound) {
		return Failure("This upload has expired or was already committed. Please upload the file again."), nil
	}
	if err != nil {
		t.logger.Error("upload session fetch failed", "key", key, "err", err)
		return Failure("Committing the upload failed. Please try again in a moment."), nil
	}

	if t.sheets != nil && t.sheets.Enabled() {
		if err := t.sheets.AppendRows(ctx, "products", sess.Rows); err != nil {
			t.logger.Error("sheet write failed", "key", key, "err", err)
			// The session is already consumed; tell the user to re-upload
			// rather than leaving a half-written sheet ambiguous.
			return Failure("Writing to the spreadsheet failed partway. Please upload the file again."), nil
		}
	}

	t.logger.Info("upload committed", "key", key, "rows", len(sess.Rows))
	return Result(uploadCommitResult{
		Success:  true,
		Message:  fmt.Sprintf("Upload committed: %d rows written.", len(sess.Rows)),
		RowCount: len(sess.Rows),
		Columns:  sess.Columns,
	})
}
