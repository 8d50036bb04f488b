package serve

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marcus/trail/internal/config"
	"github.com/marcus/trail/internal/models"
	"github.com/marcus/trail/internal/pipeline"
	"github.com/marcus/trail/internal/store"
)

func newTestServer(t *testing.T) (*Server, *pipeline.Pipeline) {
	t.Helper()
	cfg := config.Default(t.TempDir())
	p, err := pipeline.New(cfg, nil)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	t.Cleanup(func() { p.Stop(time.Second) })
	return NewServer(p, p.Resolver()), p
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body []byte) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var env Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("response not an envelope: %v\n%s", err, rec.Body.String())
	}
	return rec, env
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec, env := doJSON(t, s.Handler(), "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !env.OK {
		t.Fatalf("envelope not ok: %+v", env.Error)
	}

	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %T", env.Data)
	}
	if data["store_open"] != true {
		t.Errorf("store_open = %v", data["store_open"])
	}
}

func TestListEntries(t *testing.T) {
	s, p := newTestServer(t)
	ctx := context.Background()

	for i, file := range []string{"a.go", "b.go"} {
		_, err := p.Store().AppendEntry(ctx, &models.Entry{
			SessionID:     "sess-1",
			WorkspacePath: "/ws",
			Timestamp:     time.Now().Add(time.Duration(i) * time.Second),
			Source:        models.SourceFilesystem,
			FilePath:      file,
			BeforeCode:    "before",
			AfterCode:     "after",
			Diff:          models.DiffSummary{CharsAdded: 20, Significant: true},
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	rec, env := doJSON(t, s.Handler(), "GET", "/v1/entries", nil)
	if rec.Code != http.StatusOK || !env.OK {
		t.Fatalf("status %d, env %+v", rec.Code, env.Error)
	}

	data := env.Data.(map[string]any)
	entries := data["entries"].([]any)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	// Newest first by default, bodies omitted from the list view.
	first := entries[0].(map[string]any)
	if first["file_path"] != "b.go" {
		t.Errorf("first entry = %v, want b.go", first["file_path"])
	}
	if _, present := first["before_code"]; present {
		t.Error("list view leaked before_code")
	}

	// Unknown source is a validation error.
	rec, env = doJSON(t, s.Handler(), "GET", "/v1/entries?source=martian", nil)
	if rec.Code != http.StatusBadRequest || env.Error == nil || env.Error.Code != ErrValidation {
		t.Errorf("bad source: status %d, %+v", rec.Code, env.Error)
	}
}

func TestGetEntry(t *testing.T) {
	s, p := newTestServer(t)

	id, err := p.Store().AppendEntry(context.Background(), &models.Entry{
		SessionID:     "sess-1",
		WorkspacePath: "/ws",
		Timestamp:     time.Now(),
		Source:        models.SourceFilesystem,
		FilePath:      "a.go",
		BeforeCode:    "old body",
		AfterCode:     "new body",
		Diff:          models.DiffSummary{CharsAdded: 20, Significant: true},
	})
	if err != nil {
		t.Fatal(err)
	}

	rec, env := doJSON(t, s.Handler(), "GET", "/v1/entries/"+id, nil)
	if rec.Code != http.StatusOK || !env.OK {
		t.Fatalf("status %d, %+v", rec.Code, env.Error)
	}
	data := env.Data.(map[string]any)
	if data["before_code"] != "old body" || data["after_code"] != "new body" {
		t.Errorf("single-entry view missing bodies: %v", data)
	}

	rec, env = doJSON(t, s.Handler(), "GET", "/v1/entries/en-missing1", nil)
	if rec.Code != http.StatusNotFound || env.Error == nil || env.Error.Code != ErrNotFound {
		t.Errorf("missing entry: status %d, %+v", rec.Code, env.Error)
	}
}

func TestPostEvent(t *testing.T) {
	s, p := newTestServer(t)

	body := []byte(`{"workspace_path": "/ws/api", "type": "terminal_command", "details": "{\"cmd\":\"go build\"}"}`)
	rec, env := doJSON(t, s.Handler(), "POST", "/v1/events", body)
	if rec.Code != http.StatusCreated || !env.OK {
		t.Fatalf("status %d, %+v", rec.Code, env.Error)
	}

	events, err := p.Store().QueryEvents(store.EventFilter{Type: "terminal_command"})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].SessionID == "" {
		t.Error("posted event has no session id")
	}
	if events[0].WorkspacePath != "/ws/api" {
		t.Errorf("workspace = %q", events[0].WorkspacePath)
	}

	rec, env = doJSON(t, s.Handler(), "POST", "/v1/events", []byte(`{"details": "x"}`))
	if rec.Code != http.StatusBadRequest || env.Error == nil {
		t.Errorf("missing type: status %d, %+v", rec.Code, env.Error)
	}

	rec, env = doJSON(t, s.Handler(), "POST", "/v1/events", []byte(`not json`))
	if rec.Code != http.StatusBadRequest || env.Error == nil {
		t.Errorf("bad json: status %d, %+v", rec.Code, env.Error)
	}
}

func TestListPromptsAndEvents(t *testing.T) {
	s, p := newTestServer(t)
	ctx := context.Background()

	_, _, err := p.Store().AppendPrompt(ctx, &models.Prompt{
		Timestamp:    time.Now(),
		SourceOrigin: models.OriginDB,
		SourceID:     "row-1",
		Text:         "captured prompt",
		Status:       models.PromptCaptured,
	})
	if err != nil {
		t.Fatal(err)
	}

	rec, env := doJSON(t, s.Handler(), "GET", "/v1/prompts?status=captured", nil)
	if rec.Code != http.StatusOK || !env.OK {
		t.Fatalf("status %d, %+v", rec.Code, env.Error)
	}
	prompts := env.Data.(map[string]any)["prompts"].([]any)
	if len(prompts) != 1 {
		t.Fatalf("prompts = %d, want 1", len(prompts))
	}

	rec, env = doJSON(t, s.Handler(), "GET", "/v1/prompts?status=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bogus status accepted: %d", rec.Code)
	}

	_, err = p.Store().AppendEvent(ctx, &models.Event{
		SessionID:     "sess-1",
		WorkspacePath: "/ws",
		Timestamp:     time.Now(),
		Type:          "terminal_command",
	})
	if err != nil {
		t.Fatal(err)
	}
	rec, env = doJSON(t, s.Handler(), "GET", "/v1/events?type=terminal_command", nil)
	if rec.Code != http.StatusOK || !env.OK {
		t.Fatalf("status %d, %+v", rec.Code, env.Error)
	}
	events := env.Data.(map[string]any)["events"].([]any)
	if len(events) != 1 {
		t.Errorf("events = %d, want 1", len(events))
	}
}
