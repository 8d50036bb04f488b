package miner

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"
)

// sourceRow is one prompt observation extracted from an external database.
type sourceRow struct {
	SourceID  string
	Timestamp time.Time
	Text      string
	Response  string
	Metadata  map[string]string
	Workspace string

	// promptIndex is the row's position in an index-keyed prompt array,
	// or -1 for rows cursored by timestamp.
	promptIndex int
}

// extractRows reads rows strictly newer than the cursor from whichever
// layout the database exposes. Two layouts are recognized:
//
//  1. An editor-style ItemTable key/value store holding JSON arrays under
//     "aiService.prompts" and "aiService.generations".
//  2. A generic prompts(id, timestamp, text, response, metadata) table.
//
// Returns the extracted rows in source-timestamp order and the advanced
// cursor. A row that cannot be parsed is skipped with a warning; the cursor
// still advances past it.
func extractRows(ctx context.Context, db *sql.DB, cur cursor, limit int, now time.Time) ([]sourceRow, cursor, error) {
	hasItemTable, err := tableExists(ctx, db, "ItemTable")
	if err != nil {
		return nil, cur, err
	}
	if hasItemTable {
		return extractItemTable(ctx, db, cur, limit, now)
	}

	hasPrompts, err := tableExists(ctx, db, "prompts")
	if err != nil {
		return nil, cur, err
	}
	if hasPrompts {
		return extractGeneric(ctx, db, cur, limit)
	}
	return nil, cur, fmt.Errorf("no recognized prompt tables")
}

func tableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ============================================================================
// Editor ItemTable layout
// ============================================================================

// itemPrompt is one element of the "aiService.prompts" array. The array is
// append-only within the host application, so the array index is a stable
// source id.
type itemPrompt struct {
	Text        string `json:"text"`
	CommandType int    `json:"commandType"`
}

// itemGeneration is one element of "aiService.generations".
type itemGeneration struct {
	UnixMS          int64  `json:"unixMs"`
	GenerationUUID  string `json:"generationUUID"`
	Type            string `json:"type"`
	TextDescription string `json:"textDescription"`
}

func extractItemTable(ctx context.Context, db *sql.DB, cur cursor, limit int, now time.Time) ([]sourceRow, cursor, error) {
	next := cur
	var out []sourceRow

	// Generations carry their own timestamps and UUIDs.
	if raw, ok := readItem(ctx, db, "aiService.generations"); ok {
		var gens []json.RawMessage
		if err := json.Unmarshal(raw, &gens); err != nil {
			slog.Warn("unparseable generations blob", "err", err)
		} else {
			for _, g := range gens {
				var gen itemGeneration
				if err := json.Unmarshal(g, &gen); err != nil {
					slog.Warn("skipping malformed generation row", "err", err)
					continue
				}
				if gen.UnixMS <= cur.TimestampMS {
					continue
				}
				id := gen.GenerationUUID
				if id == "" {
					id = fallbackID(gen.UnixMS, gen.TextDescription)
				}
				out = append(out, sourceRow{
					SourceID:    id,
					Timestamp:   time.UnixMilli(gen.UnixMS),
					Text:        gen.TextDescription,
					Metadata:    map[string]string{"type": gen.Type, "mode": "generation"},
					promptIndex: -1,
				})
				if gen.UnixMS > next.TimestampMS {
					next.TimestampMS = gen.UnixMS
					next.SourceID = id
				}
			}
		}
	}

	// The prompts array has no timestamps; positions past the cursor's
	// prompt index are new and get the observation time.
	if raw, ok := readItem(ctx, db, "aiService.prompts"); ok {
		var prompts []json.RawMessage
		if err := json.Unmarshal(raw, &prompts); err != nil {
			slog.Warn("unparseable prompts blob", "err", err)
		} else {
			for i := cur.PromptIndex; i < len(prompts); i++ {
				var p itemPrompt
				if err := json.Unmarshal(prompts[i], &p); err != nil {
					slog.Warn("skipping malformed prompt row", "index", i, "err", err)
					continue
				}
				if p.Text == "" {
					continue
				}
				out = append(out, sourceRow{
					SourceID:  "prompt-" + strconv.Itoa(i),
					Timestamp: now,
					Text:      p.Text,
					Metadata: map[string]string{
						"command_type": strconv.Itoa(p.CommandType),
						"mode":         "prompt",
					},
					promptIndex: i,
				})
			}
			next.PromptIndex = len(prompts)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
		// Rows beyond the batch limit are picked up next cycle, so the
		// cursor advances only past rows actually retained.
		next = cur
		for _, r := range out {
			if r.promptIndex >= 0 {
				if r.promptIndex >= next.PromptIndex {
					next.PromptIndex = r.promptIndex + 1
				}
				continue
			}
			if ms := r.Timestamp.UnixMilli(); ms > next.TimestampMS {
				next.TimestampMS = ms
				next.SourceID = r.SourceID
			}
		}
	}
	return out, next, nil
}

func readItem(ctx context.Context, db *sql.DB, key string) ([]byte, bool) {
	var value []byte
	err := db.QueryRowContext(ctx, `SELECT value FROM ItemTable WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return nil, false
	}
	return value, true
}

// ============================================================================
// Generic prompts table layout
// ============================================================================

func extractGeneric(ctx context.Context, db *sql.DB, cur cursor, limit int) ([]sourceRow, cursor, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, timestamp, text, COALESCE(response, ''), COALESCE(metadata, '')
		FROM prompts
		WHERE timestamp > ? OR (timestamp = ? AND id > ?)
		ORDER BY timestamp ASC, id ASC
		LIMIT ?`,
		cur.TimestampMS, cur.TimestampMS, cur.SourceID, limit)
	if err != nil {
		return nil, cur, err
	}
	defer rows.Close()

	next := cur
	var out []sourceRow
	for rows.Next() {
		var id, text, response, metaBlob string
		var ts int64
		if err := rows.Scan(&id, &ts, &text, &response, &metaBlob); err != nil {
			slog.Warn("skipping malformed prompt row", "err", err)
			continue
		}
		if id == "" {
			id = fallbackID(ts, text)
		}
		out = append(out, sourceRow{
			SourceID:    id,
			Timestamp:   time.UnixMilli(ts),
			Text:        text,
			Response:    response,
			Metadata:    parseMetadata(metaBlob),
			promptIndex: -1,
		})
		if ts > next.TimestampMS || (ts == next.TimestampMS && id > next.SourceID) {
			next.TimestampMS = ts
			next.SourceID = id
		}
	}
	return out, next, rows.Err()
}

// parseMetadata decodes a metadata blob as a best-effort key-value bag.
// Non-string values are stringified; a blob that is not a JSON object
// yields an empty bag.
func parseMetadata(blob string) map[string]string {
	if blob == "" {
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(blob), &raw); err != nil {
		slog.Warn("unparseable prompt metadata", "err", err)
		return nil
	}
	meta := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			meta[k] = val
		case float64:
			meta[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			meta[k] = strconv.FormatBool(val)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				continue
			}
			meta[k] = string(data)
		}
	}
	return meta
}

// fallbackID derives a stable source id for rows that carry none.
func fallbackID(ts int64, text string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d\x00%s", ts, text)))
	return hex.EncodeToString(sum[:8])
}
