package tool

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"tradedesk/internal/kvstore"
	"tradedesk/internal/tabular"
	"tradedesk/internal/upload"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stagedUpload(t *testing.T) (*upload.Manager, string) {
	t.Helper()
	mgr := upload.NewManager(kvstore.NewMemoryStore())
	table := &tabular.Table{Rows: [][]string{
		{"SKU", "Price"},
		{"AB-1", "9.99"},
	}}
	sess, _, err := mgr.Stage(context.Background(), table)
	if err != nil {
		t.Fatal(err)
	}
	return mgr, sess.Key
}

func decodeResult(t *testing.T, raw string) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("result not JSON: %q", raw)
	}
	return out
}

func TestUploadToSheet_WrongCode(t *testing.T) {
	mgr, key := stagedUpload(t)
	tl := NewUploadToSheetTool(mgr, nil, "GO-AHEAD", discardLogger())

	raw, err := tl.Execute(context.Background(), map[string]any{
		"uploadKey":        key,
		"confirmationCode": "wrong",
	})
	if err != nil {
		t.Fatal(err)
	}
	res := decodeResult(t, raw)
	if res["success"] != false {
		t.Fatalf("wrong code accepted: %v", res)
	}
	if !strings.Contains(res["message"].(string), "confirmation code is incorrect") {
		t.Errorf("message = %v", res["message"])
	}

	// A failed attempt must not consume the session.
	raw, err = tl.Execute(context.Background(), map[string]any{
		"uploadKey":        key,
		"confirmationCode": "GO-AHEAD",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res := decodeResult(t, raw); res["success"] != true {
		t.Errorf("retry after wrong code failed: %v", res)
	}
}

func TestUploadToSheet_CommitIsSingleUse(t *testing.T) {
	mgr, key := stagedUpload(t)
	tl := NewUploadToSheetTool(mgr, nil, "GO-AHEAD", discardLogger())
	args := map[string]any{"uploadKey": key, "confirmationCode": " go-ahead "}

	raw, err := tl.Execute(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	res := decodeResult(t, raw)
	if res["success"] != true {
		t.Fatalf("commit failed: %v", res)
	}
	if res["rowCount"].(float64) != 2 {
		t.Errorf("rowCount = %v", res["rowCount"])
	}

	raw, err = tl.Execute(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	res = decodeResult(t, raw)
	if res["success"] != false || !strings.Contains(res["message"].(string), "expired or was already committed") {
		t.Errorf("second commit = %v", res)
	}
}

func TestUploadToSheet_MissingArgs(t *testing.T) {
	mgr, _ := stagedUpload(t)
	tl := NewUploadToSheetTool(mgr, nil, "GO-AHEAD", discardLogger())

	raw, err := tl.Execute(context.Background(), map[string]any{"uploadKey": "k"})
	if err != nil {
		t.Fatal(err)
	}
	if res := decodeResult(t, raw); res["success"] != false {
		t.Errorf("missing code accepted: %v", res)
	}
}

func TestUploadToSheet_NoServerCode(t *testing.T) {
	mgr, key := stagedUpload(t)
	tl := NewUploadToSheetTool(mgr, nil, "", discardLogger())

	raw, err := tl.Execute(context.Background(), map[string]any{
		"uploadKey":        key,
		"confirmationCode": "anything",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res := decodeResult(t, raw); res["success"] != false {
		t.Errorf("commit allowed without a configured code: %v", res)
	}
}
