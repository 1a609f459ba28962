package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"fogfield.dev/internal/sim/tuning"
	"fogfield.dev/internal/sim/world"
)

// SQLiteIndex is a queryable read model of the tick log. It is never read
// back into the fog registry.
type SQLiteIndex struct {
	db    *sql.DB
	runID string

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
)

type req struct {
	kind reqKind
	tick world.TickLogEntry
}

type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	DropTickTotal uint64 `json:"drop_tick_total"`
}

func OpenSQLite(path, runID string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if runID == "" {
		return nil, fmt.Errorf("empty run id")
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

	s := &SQLiteIndex{
		db:    db,
		runID: runID,
		ch:    make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
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
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			world_id TEXT NOT NULL,
			started_at TEXT NOT NULL,
			tuning_digest TEXT NOT NULL,
			tuning_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			time REAL NOT NULL,
			active INTEGER NOT NULL,
			visible INTEGER NOT NULL,
			explored INTEGER NOT NULL,
			newly_explored INTEGER NOT NULL,
			evicted INTEGER NOT NULL,
			created INTEGER NOT NULL,
			providers INTEGER NOT NULL,
			digest TEXT NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run_id, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS explorations (
			run_id TEXT NOT NULL,
			cx INTEGER NOT NULL,
			cy INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			time REAL NOT NULL,
			PRIMARY KEY (run_id, cx, cy)
		);`,
		`CREATE TABLE IF NOT EXISTS evictions (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			cx INTEGER NOT NULL,
			cy INTEGER NOT NULL,
			PRIMARY KEY (run_id, tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_evictions_chunk ON evictions(cx, cy, tick);`,
		`CREATE TABLE IF NOT EXISTS provider_joins (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			provider_id TEXT NOT NULL,
			name TEXT NOT NULL,
			PRIMARY KEY (run_id, provider_id)
		);`,
		`CREATE TABLE IF NOT EXISTS provider_leaves (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			provider_id TEXT NOT NULL,
			PRIMARY KEY (run_id, provider_id)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) RunID() string { return s.runID }

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

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropTickTotal: s.dropTick.Load(),
	}
}

// RecordRun stores the run header with the tuning we actually apply (canonical JSON).
func (s *SQLiteIndex) RecordRun(worldID string, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	digest := hex.EncodeToString(sum[:])
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('last_run_id',?)`, s.runID); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO runs(run_id,world_id,started_at,tuning_digest,tuning_json) VALUES(?,?,?,?,?)`,
		s.runID, worldID, now, digest, string(b)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(run_id,tick,time,active,visible,explored,newly_explored,evicted,created,providers,digest,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertExplored, _ := s.db.Prepare(`INSERT OR IGNORE INTO explorations(run_id,cx,cy,tick,time) VALUES(?,?,?,?,?)`)
	insertEviction, _ := s.db.Prepare(`INSERT OR REPLACE INTO evictions(run_id,tick,seq,cx,cy) VALUES(?,?,?,?,?)`)
	insertJoin, _ := s.db.Prepare(`INSERT OR REPLACE INTO provider_joins(run_id,tick,provider_id,name) VALUES(?,?,?,?)`)
	insertLeave, _ := s.db.Prepare(`INSERT OR REPLACE INTO provider_leaves(run_id,tick,provider_id) VALUES(?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertExplored, insertEviction, insertJoin, insertLeave} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			t := r.tick
			tick := int64(t.Tick)
			b, _ := json.Marshal(t)
			if !exec(insertTick, s.runID, tick, t.Time, t.Active, t.Visible, t.Explored,
				len(t.NewlyExplored), len(t.Evicted), t.Created, len(t.Providers), t.Digest, string(b)) {
				continue
			}
			ok := true
			for _, c := range t.NewlyExplored {
				if ok = exec(insertExplored, s.runID, c[0], c[1], tick, t.Time); !ok {
					break
				}
			}
			for i, c := range t.Evicted {
				if !ok {
					break
				}
				ok = exec(insertEviction, s.runID, tick, i, c[0], c[1])
			}
			for _, j := range t.Joins {
				if !ok {
					break
				}
				ok = exec(insertJoin, s.runID, tick, j.ProviderID, j.Name)
			}
			for _, id := range t.Leaves {
				if !ok {
					break
				}
				ok = exec(insertLeave, s.runID, tick, id)
			}
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
