package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	logx "partybot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log, pruneEvery: 500}, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, chat_id, thread_id, plugin, action, target, ok, fail, err, took_ms, meta)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorUsername), e.ChatID, e.ThreadID,
		e.Plugin, e.Action, e.Target, e.OK, e.Fail, nullStr(e.Error), e.TookMS, nullStr(e.MetaJSON),
	)
	return err
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_, _ = s.db.ExecContext(pctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli())
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) GetChatSettings(ctx context.Context, chatID int64) (ChatSettings, bool, error) {
	cs := ChatSettings{ChatID: chatID}
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT alert, default_capacity, updated_by, updated_at FROM chat_settings WHERE chat_id = ?`, chatID,
	).Scan(&cs.Alert, &cs.DefaultCapacity, &cs.UpdatedBy, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return ChatSettings{}, false, nil
	}
	if err != nil {
		return ChatSettings{}, false, err
	}
	cs.UpdatedAt = time.UnixMilli(updated)
	return cs, true, nil
}

func (s *sqliteStore) PutChatSettings(ctx context.Context, cs ChatSettings) error {
	if cs.UpdatedAt.IsZero() {
		cs.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_settings(chat_id, alert, default_capacity, updated_by, updated_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET alert=excluded.alert, default_capacity=excluded.default_capacity,
		 updated_by=excluded.updated_by, updated_at=excluded.updated_at`,
		cs.ChatID, cs.Alert, cs.DefaultCapacity, cs.UpdatedBy, cs.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) ArchiveSession(ctx context.Context, r SessionRecord) error {
	participants, err := json.Marshal(r.Participants)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions(id, chat_id, thread_id, title, meetup, organizer_id, organizer_name,
		 capacity, count, reason, participants, deadline, created_at, closed_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.ChatID, r.ThreadID, r.Title, r.Meetup, r.OrganizerID, r.OrganizerName,
		r.Capacity, r.Count, r.Reason, string(participants),
		r.Deadline.UnixMilli(), r.CreatedAt.UnixMilli(), r.ClosedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) RecentSessions(ctx context.Context, chatID int64, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, thread_id, title, meetup, organizer_id, organizer_name, capacity, count, reason,
		 participants, deadline, created_at, closed_at
		 FROM sessions WHERE chat_id = ? ORDER BY closed_at DESC LIMIT ?`, chatID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var (
			r                           SessionRecord
			participants                string
			deadline, created, closedAt int64
		)
		if err := rows.Scan(&r.ID, &r.ChatID, &r.ThreadID, &r.Title, &r.Meetup, &r.OrganizerID, &r.OrganizerName,
			&r.Capacity, &r.Count, &r.Reason, &participants, &deadline, &created, &closedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(participants), &r.Participants); err != nil {
			s.log.Debug("archived participants unreadable", logx.String("session", r.ID), logx.Err(err))
		}
		r.Deadline = time.UnixMilli(deadline)
		r.CreatedAt = time.UnixMilli(created)
		r.ClosedAt = time.UnixMilli(closedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Prune(ctx context.Context, before time.Time) (int, error) {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli()); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE closed_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
