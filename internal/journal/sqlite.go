package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fifobacktester/internal/engine"
	"fifobacktester/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

var ErrRunNotFound = errors.New("run not found")

// RunSummary is the headline of one journaled run.
type RunSummary struct {
	ID            string
	CreatedAt     time.Time
	Securities    string
	StartDate     string
	EndDate       string
	EndingCapital string
	TotalTrades   int
}

// SQLiteJournal stores finished runs in a SQLite file.
type SQLiteJournal struct {
	db *sql.DB
}

func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteJournal{db: db}, nil
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			securities TEXT NOT NULL,
			start_date TEXT NOT NULL,
			end_date TEXT NOT NULL,
			initial_capital TEXT NOT NULL,
			ending_capital TEXT NOT NULL,
			total_trades INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			security TEXT NOT NULL,
			price TEXT NOT NULL,
			quantity TEXT NOT NULL,
			side TEXT NOT NULL,
			direction TEXT NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS closed_trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			security TEXT NOT NULL,
			pnl TEXT NOT NULL,
			cost TEXT NOT NULL,
			trade_return REAL NOT NULL,
			side TEXT NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS equity (
			run_id TEXT NOT NULL,
			date TEXT NOT NULL,
			cash TEXT NOT NULL,
			holdings_value TEXT NOT NULL,
			equity TEXT NOT NULL,
			PRIMARY KEY(run_id, date),
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS metrics (
			run_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			name TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY(run_id, position),
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_closed_trades_run ON closed_trades(run_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// RecordRun writes a run and everything it produced in one transaction.
func (j *SQLiteJournal) RecordRun(ctx context.Context, result *engine.Result) (err error) {
	if _, err := uuid.Parse(result.RunID); err != nil {
		return fmt.Errorf("run id %q: %w", result.RunID, err)
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	report := result.Report
	securities := strings.Join(result.Securities, ",")
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, securities, start_date, end_date, initial_capital, ending_capital, total_trades)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RunID, time.Now().UnixMilli(), securities,
		report.StartDate.Format(time.DateOnly), report.EndDate.Format(time.DateOnly),
		report.InitialCapital.String(), report.EndingCapital.String(), report.TotalTrades); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, tr := range result.Trades {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO trades (run_id, ts, security, price, quantity, side, direction)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			result.RunID, tr.Time.UnixMilli(), tr.Security, tr.Price.String(), tr.Quantity.String(),
			string(tr.Side), string(tr.Direction)); err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}
	}
	for _, ct := range result.ClosedTrades {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO closed_trades (run_id, ts, security, pnl, cost, trade_return, side)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			result.RunID, ct.CloseTime.UnixMilli(), ct.Security, ct.PnL.String(), ct.Cost.String(),
			ct.Return.InexactFloat64(), string(ct.Side)); err != nil {
			return fmt.Errorf("insert closed trade: %w", err)
		}
	}
	for _, p := range result.EquityCurve {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO equity (run_id, date, cash, holdings_value, equity)
			VALUES (?, ?, ?, ?, ?)`,
			result.RunID, p.Date.Format(time.DateOnly), p.Cash.String(), p.HoldingsValue.String(),
			p.Equity.String()); err != nil {
			return fmt.Errorf("insert equity: %w", err)
		}
	}
	for i, m := range report.Metrics() {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO metrics (run_id, position, name, value) VALUES (?, ?, ?, ?)`,
			result.RunID, i, m.Name, m.Value); err != nil {
			return fmt.Errorf("insert metric: %w", err)
		}
	}
	return tx.Commit()
}

// Metrics returns a journaled run's report in display order.
func (j *SQLiteJournal) Metrics(ctx context.Context, runID string) ([]engine.Metric, error) {
	if _, err := uuid.Parse(runID); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT name, value FROM metrics WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Metric
	for rows.Next() {
		var m engine.Metric
		if err := rows.Scan(&m.Name, &m.Value); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return out, nil
}

// ListRuns returns every journaled run, newest first.
func (j *SQLiteJournal) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, created_at, securities, start_date, end_date, ending_capital, total_trades
		FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			r       RunSummary
			created int64
		)
		if err := rows.Scan(&r.ID, &created, &r.Securities, &r.StartDate, &r.EndDate, &r.EndingCapital, &r.TotalTrades); err != nil {
			return nil, err
		}
		r.CreatedAt = time.UnixMilli(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// EquityCurve returns the journaled equity curve of a run.
func (j *SQLiteJournal) EquityCurve(ctx context.Context, runID string) ([]types.EquityPoint, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT date, cash, holdings_value, equity FROM equity WHERE run_id = ? ORDER BY date`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.EquityPoint
	for rows.Next() {
		var date, cash, holdings, equity string
		if err := rows.Scan(&date, &cash, &holdings, &equity); err != nil {
			return nil, err
		}
		p := types.EquityPoint{}
		if p.Date, err = time.Parse(time.DateOnly, date); err != nil {
			return nil, err
		}
		if p.Cash, err = decimal.NewFromString(cash); err != nil {
			return nil, err
		}
		if p.HoldingsValue, err = decimal.NewFromString(holdings); err != nil {
			return nil, err
		}
		if p.Equity, err = decimal.NewFromString(equity); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
