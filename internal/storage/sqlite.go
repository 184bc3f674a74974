package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "gasbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

// Open initializes the sqlite store at cfg.Path, creating the schema if
// needed.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ListEnabledSubscribers(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM subscribers WHERE enabled = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetSubscription upserts the subscriber row. Idempotent: enabling an
// already-enabled subscriber is a no-op beyond bumping updated_at.
func (s *sqliteStore) SetSubscription(ctx context.Context, userID int64, username string, enabled bool) error {
	en := 0
	if enabled {
		en = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers(user_id, username, enabled, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET username=excluded.username, enabled=excluded.enabled, updated_at=excluded.updated_at`,
		userID, nullStr(username), en, time.Now().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) Subscription(ctx context.Context, userID int64) (bool, error) {
	var en int
	err := s.db.QueryRowContext(ctx, `SELECT enabled FROM subscribers WHERE user_id = ?`, userID).Scan(&en)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return en == 1, nil
}

func (s *sqliteStore) AppendProfileRequest(ctx context.Context, e ProfileRequest) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	ok := 0
	if e.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profile_requests(at, actor_id, kind, payload, ok, err) VALUES(?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ActorID, e.Kind, nullStr(e.Payload), ok, nullStr(e.Error),
	)
	return err
}

func (s *sqliteStore) RecordGasSample(ctx context.Context, at time.Time, gwei float64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO gas_samples(at, gwei) VALUES(?,?)`, at.UnixMilli(), gwei)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		s.pruneOldSamples(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) GasStats(ctx context.Context, since time.Time) (GasStats, error) {
	var (
		n             int
		min, avg, max sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(gwei), AVG(gwei), MAX(gwei) FROM gas_samples WHERE at >= ?`,
		since.UnixMilli(),
	).Scan(&n, &min, &avg, &max)
	if err != nil {
		return GasStats{}, err
	}
	return GasStats{Samples: n, Min: min.Float64, Avg: avg.Float64, Max: max.Float64}, nil
}

// pruneOldSamples drops samples older than 7 days. Best-effort.
func (s *sqliteStore) pruneOldSamples(ctx context.Context) {
	cutoff := time.Now().Add(-7 * 24 * time.Hour).UnixMilli()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM gas_samples WHERE at < ?`, cutoff); err != nil {
		s.log.Debug("gas sample prune failed", logx.Err(err))
	}
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
