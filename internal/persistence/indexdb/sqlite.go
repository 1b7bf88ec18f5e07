// Package indexdb keeps a queryable SQLite copy of the bridge audit trail.
// The JSONL journal stays the source of truth; the index may drop entries
// when its writer falls behind.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"p8link.dev/internal/bridge"
)

type SQLiteIndex struct {
	db  *sql.DB
	log *log.Logger

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropAuditTotal atomic.Uint64
	writtenTotal   atomic.Uint64
}

type reqKind int

const (
	reqAudit reqKind = iota + 1
	reqFlush
)

type req struct {
	kind reqKind

	audit bridge.AuditEntry
	done  chan struct{}
}

// Stats reports writer queue health.
type Stats struct {
	QueueDepth     int    `json:"queue_depth"`
	QueueCapacity  int    `json:"queue_capacity"`
	DropAuditTotal uint64 `json:"drop_audit_total"`
	WrittenTotal   uint64 `json:"written_total"`
}

// OpenSQLite opens or creates the index at path. A nil logger discards.
func OpenSQLite(path string, logger *log.Logger) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &SQLiteIndex{
		db:  db,
		log: logger,
		ch:  make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS audits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			kind TEXT NOT NULL,
			slot INTEGER NOT NULL,
			name TEXT,
			ids_json TEXT,
			text TEXT,
			err TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_kind_id ON audits(kind, id);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_slot_id ON audits(slot, id);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteAudit implements bridge.Recorder. It never blocks.
func (s *SQLiteIndex) WriteAudit(entry bridge.AuditEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqAudit, audit: entry}:
	default:
		// Drop if the indexer falls behind; the journal remains the source of truth.
		s.dropAuditTotal.Add(1)
	}
	return nil
}

// Flush waits until everything queued before it is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropAuditTotal: s.dropAuditTotal.Load(),
		WrittenTotal:   s.writtenTotal.Load(),
	}
}

// Recent returns up to limit entries, newest first. An empty kind matches
// every kind.
func (s *SQLiteIndex) Recent(ctx context.Context, kind string, limit int) ([]bridge.AuditEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q := `SELECT raw_json FROM audits ORDER BY id DESC LIMIT ?`
	args := []any{limit}
	if kind != "" {
		q = `SELECT raw_json FROM audits WHERE kind = ? ORDER BY id DESC LIMIT ?`
		args = []any{kind, limit}
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bridge.AuditEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e bridge.AuditEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountByKind summarizes the index for the status endpoint.
func (s *SQLiteIndex) CountByKind(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM audits GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertAudit, err := s.db.Prepare(`INSERT INTO audits(at,kind,slot,name,ids_json,text,err,raw_json) VALUES(?,?,?,?,?,?,?,?)`)
	if err != nil {
		s.log.Printf("indexdb: prepare insert: %v (audits will be dropped)", err)
	}
	defer func() {
		if insertAudit != nil {
			_ = insertAudit.Close()
		}
	}()

	var (
		tx            *sql.Tx
		pending       uint64
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.log.Printf("indexdb: begin: %v", err)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		pending = 0
		lastCommit = time.Now()
	}
	// Entries only count as written once their transaction commits.
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.log.Printf("indexdb: commit: %v", err)
			s.dropAuditTotal.Add(pending)
		} else {
			s.writtenTotal.Add(pending)
		}
		tx = nil
		pending = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.dropAuditTotal.Add(pending)
		tx = nil
		pending = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if pending >= uint64(commitEvery) || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		switch r.kind {
		case reqFlush:
			commit()
			close(r.done)
			continue

		case reqAudit:
			if insertAudit == nil {
				s.dropAuditTotal.Add(1)
				continue
			}
			begin()
			if tx == nil {
				s.dropAuditTotal.Add(1)
				continue
			}
			a := r.audit
			at := a.Time
			if at.IsZero() {
				at = time.Now().UTC()
			}
			raw, _ := json.Marshal(a)
			var ids []byte
			if len(a.IDs) > 0 {
				ids, _ = json.Marshal(a.IDs)
			}
			if _, err := tx.Stmt(insertAudit).Exec(
				at.UTC().Format(time.RFC3339Nano),
				a.Kind,
				a.Slot,
				a.Name,
				string(ids),
				a.Text,
				a.Err,
				string(raw),
			); err != nil {
				s.log.Printf("indexdb: insert %s: %v", a.Kind, err)
				s.dropAuditTotal.Add(1)
				rollback()
				continue
			}
			pending++
		}
		flushIfNeeded()
	}

	commit()
}
