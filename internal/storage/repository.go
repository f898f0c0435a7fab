package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"currency-exchange-bot/internal/currency"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS rate_snapshots (
        day        date        NOT NULL,
        currency   char(3)     NOT NULL,
        rate       numeric     NOT NULL,
        source     text        NOT NULL DEFAULT '',
        created_at timestamptz NOT NULL DEFAULT now(),
        PRIMARY KEY (day, currency)
    );`

	upsertSnapshotSQL = `INSERT INTO rate_snapshots (
        day,
        currency,
        rate,
        source
    ) VALUES (
        $1,$2,$3::numeric,$4
    )
    ON CONFLICT (day, currency) DO UPDATE
    SET
        rate   = EXCLUDED.rate,
        source = EXCLUDED.source;`

	listHistorySQL = `SELECT
        day,
        currency,
        rate::text,
        source,
        created_at
    FROM rate_snapshots
    WHERE currency = $1
      AND day >= $2
      AND day <= $3
    ORDER BY day;`

	listDaysSQL = `SELECT DISTINCT day
    FROM rate_snapshots
    WHERE day >= $1
      AND day <= $2
    ORDER BY day;`

	countSnapshotsSQL = `SELECT COUNT(*) FROM rate_snapshots;`

	deleteSnapshotsBeforeSQL = `DELETE FROM rate_snapshots WHERE day < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SnapshotStore persists daily rate tables.
type SnapshotStore interface {
	UpsertSnapshots(ctx context.Context, day time.Time, table currency.Table, source string) (int, error)
	ListHistory(ctx context.Context, code currency.Code, from, to time.Time) ([]RateSnapshot, error)
	ListDays(ctx context.Context, from, to time.Time) ([]time.Time, error)
	CountSnapshots(ctx context.Context) (int64, error)
	DeleteSnapshotsBefore(ctx context.Context, day time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL rate archive.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the snapshot table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// UpsertSnapshots writes every rate of table for day in one batch and returns the row count.
func (s *Store) UpsertSnapshots(ctx context.Context, day time.Time, table currency.Table, source string) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	if len(table) == 0 {
		return 0, nil
	}

	day = Day(day)
	batch := &pgx.Batch{}
	codes := table.Codes()
	for _, code := range codes {
		batch.Queue(upsertSnapshotSQL, day, string(code), table[code].String(), source)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()
	for range codes {
		if _, err := results.Exec(); err != nil {
			return 0, fmt.Errorf("upsert snapshot: %w", err)
		}
	}
	return len(codes), nil
}

// ListHistory returns code's snapshots between from and to inclusive, oldest first.
func (s *Store) ListHistory(ctx context.Context, code currency.Code, from, to time.Time) ([]RateSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listHistorySQL, string(code), Day(from), Day(to))
	if queryErr != nil {
		return nil, fmt.Errorf("list history: %w", queryErr)
	}
	defer rows.Close()

	snapshots := make([]RateSnapshot, 0)
	for rows.Next() {
		snap, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snapshots = append(snapshots, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

// ListDays returns the distinct days stored between from and to inclusive.
func (s *Store) ListDays(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listDaysSQL, Day(from), Day(to))
	if queryErr != nil {
		return nil, fmt.Errorf("list days: %w", queryErr)
	}
	days, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, fmt.Errorf("scan days: %w", err)
	}
	return days, nil
}

// CountSnapshots counts stored rows.
func (s *Store) CountSnapshots(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSnapshotsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count snapshots: %w", scanErr)
	}
	return count, nil
}

// DeleteSnapshotsBefore removes rows older than day and returns how many were deleted.
func (s *Store) DeleteSnapshotsBefore(ctx context.Context, day time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteSnapshotsBeforeSQL, Day(day))
	if execErr != nil {
		return 0, fmt.Errorf("delete snapshots before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func scanSnapshot(rows pgx.Rows) (RateSnapshot, error) {
	var (
		day       time.Time
		code      string
		rateStr   string
		source    string
		createdAt time.Time
	)
	if err := rows.Scan(&day, &code, &rateStr, &source, &createdAt); err != nil {
		return RateSnapshot{}, err
	}

	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return RateSnapshot{}, fmt.Errorf("parse rate: %w", err)
	}

	return RateSnapshot{
		Day:       day,
		Currency:  currency.Code(code),
		Rate:      rate,
		Source:    source,
		CreatedAt: createdAt,
	}, nil
}

var (
	_ SnapshotStore  = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
