package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
	"github.com/google/uuid"

	"stakeledger/core/events"
)

var (
	// ErrPathRequired is returned when the backing store path is missing.
	ErrPathRequired = errors.New("journal path must be configured")
)

const (
	defaultHistoryLimit = 100
	maxReplayLimit      = 1000
)

// Journal is an append-only record of committed ledger events.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Entry is one journaled event.
type Entry struct {
	ID         string            `json:"id"`
	Sequence   int64             `json:"sequence"`
	Type       string            `json:"type"`
	Account    string            `json:"account,omitempty"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// Open initialises the journal using a sqlite-compatible DSN.
func Open(dsn string) (*Journal, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Journal{db: db, now: time.Now}, nil
}

// Close releases database resources.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append records the events of one committed operation in a single
// transaction and returns the stored entries with their sequence numbers.
func (j *Journal) Append(ctx context.Context, evs []events.Event) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	if len(evs) == 0 {
		return nil, nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	recorded := j.now().UTC()
	out := make([]Entry, 0, len(evs))
	for _, ev := range evs {
		entry, ok := EntryFrom(ev, recorded)
		if !ok {
			continue
		}
		attrs, err := json.Marshal(entry.Attributes)
		if err != nil {
			return nil, fmt.Errorf("encode attributes: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
            INSERT INTO ledger_events(id, type, account, attributes, recorded_at)
            VALUES(?, ?, ?, ?, ?)
        `, entry.ID, entry.Type, entry.Account, string(attrs), recorded)
		if err != nil {
			return nil, fmt.Errorf("insert event: %w", err)
		}
		if entry.Sequence, err = res.LastInsertId(); err != nil {
			return nil, fmt.Errorf("event sequence: %w", err)
		}
		out = append(out, entry)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

// EntryFrom renders ev into an unsequenced entry with a fresh identifier.
func EntryFrom(ev events.Event, recorded time.Time) (Entry, bool) {
	rendered := events.Render(ev)
	if rendered == nil {
		return Entry{}, false
	}
	return Entry{
		ID:         uuid.NewString(),
		Type:       rendered.Type,
		Account:    accountOf(rendered.Attributes),
		Attributes: rendered.Attributes,
		RecordedAt: recorded,
	}, true
}

// Since returns up to limit entries with a sequence above cursor, oldest
// first.
func (j *Journal) Since(ctx context.Context, cursor int64, limit int) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	if limit <= 0 || limit > maxReplayLimit {
		limit = maxReplayLimit
	}
	rows, err := j.db.QueryContext(ctx, `
        SELECT seq, id, type, account, attributes, recorded_at
        FROM ledger_events
        WHERE seq > ?
        ORDER BY seq ASC
        LIMIT ?
    `, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("query replay: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// History returns the most recent entries, newest first. When account is
// non-empty only entries touching that account are returned.
func (j *Journal) History(ctx context.Context, account string, limit int) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	if limit <= 0 || limit > defaultHistoryLimit {
		limit = defaultHistoryLimit
	}
	query := `
        SELECT seq, id, type, account, attributes, recorded_at
        FROM ledger_events
        ORDER BY seq DESC
        LIMIT ?
    `
	args := []any{limit}
	if trimmed := strings.TrimSpace(account); trimmed != "" {
		query = `
        SELECT seq, id, type, account, attributes, recorded_at
        FROM ledger_events
        WHERE account = ?
        ORDER BY seq DESC
        LIMIT ?
    `
		args = []any{trimmed, limit}
	}
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var (
			entry Entry
			attrs string
		)
		if err := rows.Scan(&entry.Sequence, &entry.ID, &entry.Type, &entry.Account, &attrs, &entry.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if err := json.Unmarshal([]byte(attrs), &entry.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

// Count returns the number of journaled entries.
func (j *Journal) Count(ctx context.Context) (int64, error) {
	if j == nil || j.db == nil {
		return 0, fmt.Errorf("journal not configured")
	}
	var n int64
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func accountOf(attrs map[string]string) string {
	for _, key := range []string{"addr", "caller", "from", "owner", "to"} {
		if v := strings.TrimSpace(attrs[key]); v != "" {
			return v
		}
	}
	return ""
}

const schema = `
CREATE TABLE IF NOT EXISTS ledger_events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL,
    account TEXT NOT NULL DEFAULT '',
    attributes TEXT NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_events_account ON ledger_events(account, seq);
`
