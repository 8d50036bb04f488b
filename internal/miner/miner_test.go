package miner

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/marcus/trail/internal/models"
	"github.com/marcus/trail/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "activity.db"), nil, 64)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// writeGenericDB creates an external database using the generic prompts
// layout and fills it with the given rows.
func writeGenericDB(t *testing.T, path string, rows [][3]string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE prompts (
		id TEXT PRIMARY KEY,
		timestamp INTEGER NOT NULL,
		text TEXT NOT NULL,
		response TEXT,
		metadata TEXT
	)`)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range rows {
		ts, err := strconv.ParseInt(r[1], 10, 64)
		if err != nil {
			t.Fatalf("bad timestamp %q", r[1])
		}
		if _, err := db.Exec(`INSERT INTO prompts (id, timestamp, text, response) VALUES (?, ?, ?, ?)`,
			r[0], ts, r[2], ""); err != nil {
			t.Fatal(err)
		}
	}
}

func TestMineGenericLayout(t *testing.T) {
	st := openTestStore(t)
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "assistant.db")
	writeGenericDB(t, dbPath, [][3]string{
		{"row-1", "1000", "first prompt"},
		{"row-2", "2000", "second prompt"},
	})

	m := New(Config{Databases: []string{dbPath}}, st)
	m.MineOnce(context.Background())

	prompts, err := st.QueryPrompts(store.PromptFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(prompts) != 2 {
		t.Fatalf("mined %d prompts, want 2", len(prompts))
	}
	for _, p := range prompts {
		if p.SourceOrigin != models.OriginDB {
			t.Errorf("SourceOrigin = %q, want db", p.SourceOrigin)
		}
		if p.Status != models.PromptCaptured {
			t.Errorf("Status = %q, want captured", p.Status)
		}
	}
}

func TestMineIdempotent(t *testing.T) {
	st := openTestStore(t)
	dbPath := filepath.Join(t.TempDir(), "assistant.db")
	writeGenericDB(t, dbPath, [][3]string{
		{"row-1", "1000", "only prompt"},
	})

	m := New(Config{Databases: []string{dbPath}}, st)
	ctx := context.Background()
	m.MineOnce(ctx)
	m.MineOnce(ctx)
	m.MineOnce(ctx)

	prompts, err := st.QueryPrompts(store.PromptFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(prompts) != 1 {
		t.Errorf("re-mining duplicated prompts: %d rows", len(prompts))
	}
}

func TestMineCursorAdvances(t *testing.T) {
	st := openTestStore(t)
	dbPath := filepath.Join(t.TempDir(), "assistant.db")
	writeGenericDB(t, dbPath, [][3]string{
		{"row-1", "1000", "first"},
	})

	m := New(Config{Databases: []string{dbPath}}, st)
	ctx := context.Background()
	m.MineOnce(ctx)

	raw, err := st.GetMeta("miner.cursor." + dbPath)
	if err != nil {
		t.Fatal(err)
	}
	var cur cursor
	if err := json.Unmarshal([]byte(raw), &cur); err != nil {
		t.Fatalf("cursor not valid JSON: %q", raw)
	}
	if cur.TimestampMS != 1000 || cur.SourceID != "row-1" {
		t.Errorf("cursor = %+v, want row-1 @ 1000", cur)
	}

	// New rows behind the cursor stay ignored; rows past it are picked up.
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO prompts (id, timestamp, text) VALUES ('row-2', 3000, 'second')`); err != nil {
		t.Fatal(err)
	}
	db.Close()

	m.MineOnce(ctx)
	prompts, _ := st.QueryPrompts(store.PromptFilter{Descending: true})
	if len(prompts) != 2 {
		t.Fatalf("prompt count = %d, want 2", len(prompts))
	}
	if prompts[0].Text != "second" {
		t.Errorf("newest prompt = %q", prompts[0].Text)
	}
}

func TestMineCorruptCursorResets(t *testing.T) {
	st := openTestStore(t)
	dbPath := filepath.Join(t.TempDir(), "assistant.db")
	writeGenericDB(t, dbPath, [][3]string{
		{"row-1", "1000", "first"},
	})
	ctx := context.Background()

	if err := st.SetMeta(ctx, "miner.cursor."+dbPath, "{not json"); err != nil {
		t.Fatal(err)
	}

	m := New(Config{Databases: []string{dbPath}}, st)
	m.MineOnce(ctx)

	prompts, _ := st.QueryPrompts(store.PromptFilter{})
	if len(prompts) != 1 {
		t.Errorf("mining with corrupt cursor yielded %d prompts, want 1", len(prompts))
	}
}

func TestMineMissingDatabaseSkipped(t *testing.T) {
	st := openTestStore(t)
	m := New(Config{Databases: []string{"/nonexistent/state.vscdb"}}, st)
	m.MineOnce(context.Background()) // must not panic or error out

	prompts, _ := st.QueryPrompts(store.PromptFilter{})
	if len(prompts) != 0 {
		t.Errorf("prompts from missing database: %d", len(prompts))
	}
}

func TestMineItemTableLayout(t *testing.T) {
	st := openTestStore(t)
	dbPath := filepath.Join(t.TempDir(), "state.vscdb")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`CREATE TABLE ItemTable (key TEXT PRIMARY KEY, value BLOB)`); err != nil {
		t.Fatal(err)
	}
	gens := `[
		{"unixMs": 1700000001000, "generationUUID": "gen-aaa", "type": "composer", "textDescription": "refactor the parser"},
		{"unixMs": 1700000002000, "generationUUID": "gen-bbb", "type": "chat", "textDescription": "explain this function"},
		{"bad": "row"}
	]`
	prompts := `[
		{"text": "make the tests pass", "commandType": 4},
		{"text": "", "commandType": 1}
	]`
	if _, err := db.Exec(`INSERT INTO ItemTable (key, value) VALUES ('aiService.generations', ?), ('aiService.prompts', ?)`,
		gens, prompts); err != nil {
		t.Fatal(err)
	}
	db.Close()

	m := New(Config{Databases: []string{dbPath}}, st)
	ctx := context.Background()
	m.MineOnce(ctx)

	mined, err := st.QueryPrompts(store.PromptFilter{})
	if err != nil {
		t.Fatal(err)
	}
	// Two generations plus one non-empty prompt; the malformed generation
	// and the empty prompt are skipped.
	if len(mined) != 3 {
		t.Fatalf("mined %d prompts, want 3", len(mined))
	}

	texts := make(map[string]bool)
	for _, p := range mined {
		texts[p.Text] = true
	}
	for _, want := range []string{"refactor the parser", "explain this function", "make the tests pass"} {
		if !texts[want] {
			t.Errorf("missing mined prompt %q", want)
		}
	}

	// Second cycle: nothing new.
	m.MineOnce(ctx)
	again, _ := st.QueryPrompts(store.PromptFilter{})
	if len(again) != 3 {
		t.Errorf("re-mining ItemTable duplicated prompts: %d rows", len(again))
	}
}

func TestMineItemTableBatchLimit(t *testing.T) {
	st := openTestStore(t)
	dbPath := filepath.Join(t.TempDir(), "state.vscdb")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`CREATE TABLE ItemTable (key TEXT PRIMARY KEY, value BLOB)`); err != nil {
		t.Fatal(err)
	}
	prompts := `[
		{"text": "one", "commandType": 1},
		{"text": "two", "commandType": 1},
		{"text": "three", "commandType": 1},
		{"text": "four", "commandType": 1},
		{"text": "five", "commandType": 1}
	]`
	if _, err := db.Exec(`INSERT INTO ItemTable (key, value) VALUES ('aiService.prompts', ?)`, prompts); err != nil {
		t.Fatal(err)
	}
	db.Close()

	m := New(Config{Databases: []string{dbPath}, BatchLimit: 2}, st)
	ctx := context.Background()

	// The limit trims each cycle to 2 rows; the remainder must surface on
	// later cycles instead of being skipped by an over-advanced cursor.
	wantTotals := []int{2, 4, 5}
	for cycle, want := range wantTotals {
		m.MineOnce(ctx)
		mined, err := st.QueryPrompts(store.PromptFilter{})
		if err != nil {
			t.Fatal(err)
		}
		if len(mined) != want {
			t.Fatalf("after cycle %d: %d prompts, want %d", cycle+1, len(mined), want)
		}
	}

	raw, err := st.GetMeta("miner.cursor." + dbPath)
	if err != nil {
		t.Fatal(err)
	}
	var cur cursor
	if err := json.Unmarshal([]byte(raw), &cur); err != nil {
		t.Fatalf("cursor not valid JSON: %q", raw)
	}
	if cur.PromptIndex != 5 {
		t.Errorf("PromptIndex = %d, want 5", cur.PromptIndex)
	}

	// A further cycle finds nothing new.
	m.MineOnce(ctx)
	again, _ := st.QueryPrompts(store.PromptFilter{})
	if len(again) != 5 {
		t.Errorf("extra cycle changed prompt count: %d rows", len(again))
	}
}

func TestExtractGenericTieBreakOnID(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "assistant.db")
	writeGenericDB(t, dbPath, [][3]string{
		{"row-1", "1000", "a"},
		{"row-2", "1000", "b"},
		{"row-3", "1000", "c"},
	})

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	// Cursor mid-timestamp: only ids past row-1 qualify.
	rows, next, err := extractRows(context.Background(), db,
		cursor{SourceID: "row-1", TimestampMS: 1000}, 10, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("extracted %d rows, want 2", len(rows))
	}
	if rows[0].SourceID != "row-2" || rows[1].SourceID != "row-3" {
		t.Errorf("rows = %s, %s", rows[0].SourceID, rows[1].SourceID)
	}
	if next.SourceID != "row-3" || next.TimestampMS != 1000 {
		t.Errorf("next cursor = %+v", next)
	}
}

func TestParseMetadata(t *testing.T) {
	tests := []struct {
		name string
		blob string
		want map[string]string
	}{
		{name: "empty", blob: "", want: nil},
		{name: "not json", blob: "garbage", want: nil},
		{
			name: "mixed types",
			blob: `{"model": "gpt", "tokens": 128, "cached": true}`,
			want: map[string]string{"model": "gpt", "tokens": "128", "cached": "true"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseMetadata(tt.blob)
			if len(got) != len(tt.want) {
				t.Fatalf("parseMetadata = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("[%s] = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}
