package storage

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"relaybot/pkg/logx"
)

// sqlStore implements Store over database/sql for both SQL drivers.
// Queries are written with '?' placeholders and rebound for postgres.
type sqlStore struct {
	db       *sql.DB
	log      logx.Logger
	postgres bool
	now      func() time.Time
}

func newSQLStore(db *sql.DB, log logx.Logger, postgres bool) *sqlStore {
	return &sqlStore{db: db, log: log, postgres: postgres, now: time.Now}
}

func (s *sqlStore) q(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) UpsertUser(ctx context.Context, u User) (bool, error) {
	now := s.now().UnixMilli()
	reg := now
	if !u.RegisteredAt.IsZero() {
		reg = u.RegisteredAt.UnixMilli()
	}
	res, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO users(id, username, first_name, banned, registered_at, updated_at)
		 VALUES(?,?,?,?,?,?) ON CONFLICT(id) DO NOTHING`),
		u.ID, u.Username, u.FirstName, u.Banned, reg, now)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}
	_, err = s.db.ExecContext(ctx, s.q(
		`UPDATE users SET username = ?, first_name = ?, updated_at = ? WHERE id = ?`),
		u.Username, u.FirstName, now, u.ID)
	return false, err
}

const userColumns = `id, username, first_name, banned, registered_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (User, error) {
	var (
		u        User
		reg, upd int64
	)
	if err := r.Scan(&u.ID, &u.Username, &u.FirstName, &u.Banned, &reg, &upd); err != nil {
		return User{}, err
	}
	u.RegisteredAt = time.UnixMilli(reg)
	u.UpdatedAt = time.UnixMilli(upd)
	return u, nil
}

func (s *sqlStore) GetUser(ctx context.Context, id int64) (User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (s *sqlStore) SetBanned(ctx context.Context, id int64, banned bool) (bool, error) {
	now := s.now().UnixMilli()
	res, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO users(id, banned, registered_at, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET banned = excluded.banned, updated_at = excluded.updated_at
		 WHERE users.banned <> excluded.banned`),
		id, banned, now, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqlStore) ListUsers(ctx context.Context, f UserFilter) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var args []any
	if f.ExcludeBanned {
		query += ` WHERE banned = ?`
		args = append(args, false)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *sqlStore) CountUsers(ctx context.Context) (UserCounts, error) {
	var c UserCounts
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN banned THEN 1 ELSE 0 END), 0) FROM users`,
	).Scan(&c.Total, &c.Banned)
	return c, err
}

func (s *sqlStore) PutCorrelation(ctx context.Context, c Correlation) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO correlations(relay_id, sender_id, destination_id, mode, created_at)
		 VALUES(?,?,?,?,?) ON CONFLICT(relay_id) DO NOTHING`),
		c.RelayID, c.SenderID, c.DestinationID, c.Mode, c.CreatedAt.UnixMilli())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *sqlStore) GetCorrelation(ctx context.Context, relayID string) (Correlation, error) {
	var (
		c  Correlation
		at int64
	)
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT relay_id, sender_id, destination_id, mode, created_at FROM correlations WHERE relay_id = ?`),
		relayID,
	).Scan(&c.RelayID, &c.SenderID, &c.DestinationID, &c.Mode, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return Correlation{}, ErrNotFound
	}
	if err != nil {
		return Correlation{}, err
	}
	c.CreatedAt = time.UnixMilli(at)
	return c, nil
}

func (s *sqlStore) DeleteCorrelation(ctx context.Context, relayID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM correlations WHERE relay_id = ?`), relayID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqlStore) PruneCorrelations(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM correlations WHERE created_at < ?`), before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqlStore) CountCorrelations(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM correlations`).Scan(&n)
	return n, err
}

func (s *sqlStore) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT value FROM settings WHERE key = ?`), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return v, err
}

func (s *sqlStore) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO settings(key, value) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`),
		key, value)
	return err
}

func (s *sqlStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO audit(at, actor_id, action, target, ok, fail, err) VALUES(?,?,?,?,?,?,?)`),
		e.At.UnixMilli(), e.ActorID, e.Action, nullStr(e.Target), e.OK, e.Fail, nullStr(e.Error))
	return err
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
