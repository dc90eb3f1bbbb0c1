package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/resilience"
)

// Execer is the part of *sql.DB the Postgres sink needs.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Migrator applies schema statements; *postgres.Client implements it.
type Migrator interface {
	Migrate(ctx context.Context, statements ...string) error
}

const columnsPerRow = 6

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Postgres appends records to an append-only table. One Append is one
// multi-row INSERT, so a batch is either fully written or not at all.
//
// The table layout is:
//
//	CREATE TABLE match_results (
//	    run_id         TEXT        NOT NULL,
//	    row_id         BIGINT      NOT NULL,
//	    transaction_id TEXT        NOT NULL,
//	    source         JSONB,
//	    items          JSONB       NOT NULL,
//	    mismatches     INT         NOT NULL,
//	    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    PRIMARY KEY (run_id, row_id)
//	);
type Postgres struct {
	mu     sync.Mutex
	seq    sequence
	db     Execer
	table  string
	runID  string
	retry  resilience.RetryConfig
	logger *slog.Logger
}

func NewPostgres(db Execer, table, runID string) (*Postgres, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Postgres{
		db:     db,
		table:  table,
		runID:  runID,
		retry:  resilience.RetryConfig{MaxAttempts: 3},
		logger: slog.Default().With("component", "postgres-sink", "table", table, "run_id", runID),
	}, nil
}

// EnsureSchema creates the results table if it does not exist.
func EnsureSchema(ctx context.Context, m Migrator, table string) error {
	if !tableName.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	return m.Migrate(ctx,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			run_id         TEXT        NOT NULL,
			row_id         BIGINT      NOT NULL,
			transaction_id TEXT        NOT NULL,
			source         JSONB,
			items          JSONB       NOT NULL,
			mismatches     INT         NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (run_id, row_id)
		)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_transaction_idx ON %s (run_id, transaction_id)`, table, table),
	)
}

func (p *Postgres) Append(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq.assign(records)
	query, args, err := p.insert(records)
	if err != nil {
		return err
	}
	err = resilience.Retry(ctx, "postgres-append", p.retry, func(ctx context.Context) error {
		_, err := p.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting %d match records: %w", len(records), err)
	}
	p.seq.commit(len(records))
	return nil
}

func (p *Postgres) insert(records []Record) (string, []any, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (run_id, row_id, transaction_id, source, items, mismatches) VALUES ", p.table)
	args := make([]any, 0, len(records)*columnsPerRow)
	for i, r := range records {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * columnsPerRow
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5, base+6)

		items, err := json.Marshal(r.Items)
		if err != nil {
			return "", nil, fmt.Errorf("marshaling items: %w", err)
		}
		var source any
		if r.Source != nil {
			raw, err := json.Marshal(r.Source)
			if err != nil {
				return "", nil, fmt.Errorf("marshaling source: %w", err)
			}
			source = raw
		}
		args = append(args, p.runID, r.RowID, r.TransactionID, source, items, r.Mismatches)
	}
	return b.String(), args, nil
}

func (p *Postgres) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger.Info("postgres sink closed", "rows", p.seq.last)
	return nil
}
