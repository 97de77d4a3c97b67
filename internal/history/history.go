// Package history persists nonce issuance records to SQLite for
// after-the-fact debugging of ordering anomalies.
//
// Writes go through a buffered channel and a single writer goroutine;
// a full buffer drops records and a failed insert only logs. Durable
// history is best-effort by contract and must never slow down or fail
// the issuance path.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/betbot/apigate/internal/metrics"
	"github.com/betbot/apigate/pkg/logger"
	"github.com/betbot/apigate/pkg/nonce"
)

const writeBuffer = 1024

// Recorder writes issuance records to SQLite.
type Recorder struct {
	db *sql.DB
	ch chan nonce.IssuanceRecord

	// mu orders Record against Close: the write channel is only closed
	// while no sender holds the lock, so a late Record degrades to a
	// counted drop instead of a send on a closed channel.
	mu     sync.Mutex
	closed bool

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Open opens (and migrates) the history DB and starts the writer goroutine.
func Open(path string) (*Recorder, error) {
	if path == "" {
		return nil, fmt.Errorf("history: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir history dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	r := &Recorder{
		db: db,
		ch: make(chan nonce.IssuanceRecord, writeBuffer),
	}
	if err := r.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	r.wg.Add(1)
	go r.writerLoop()

	return r, nil
}

func (r *Recorder) migrate() error {
	_, err := r.db.Exec(`
CREATE TABLE IF NOT EXISTS nonce_history (
	id            TEXT PRIMARY KEY,
	credential_id TEXT NOT NULL,
	label         TEXT NOT NULL,
	nonce         INTEGER NOT NULL,
	source        TEXT NOT NULL,
	submitted_at  INTEGER NOT NULL,
	issued_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nonce_history_issued_at ON nonce_history(issued_at);
`)
	if err != nil {
		return fmt.Errorf("migrate history: %w", err)
	}
	return nil
}

// Record enqueues a record without blocking. Implements nonce.Recorder.
// Safe to call during and after Close; late records are dropped.
func (r *Recorder) Record(rec nonce.IssuanceRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		metrics.HistoryDropped.Add(1)
		return
	}
	select {
	case r.ch <- rec:
	default:
		metrics.HistoryDropped.Add(1)
	}
}

func (r *Recorder) writerLoop() {
	defer r.wg.Done()

	for rec := range r.ch {
		_, err := r.db.Exec(
			`INSERT OR REPLACE INTO nonce_history
			 (id, credential_id, label, nonce, source, submitted_at, issued_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.CredentialID, rec.Label, rec.Nonce, rec.Source,
			rec.SubmittedAt.UnixMilli(), rec.IssuedAt.UnixMilli(),
		)
		if err != nil {
			// 落盘失败不致命：记录日志后继续
			logger.Warnf("[history] 写入发号记录失败: %v", err)
			continue
		}
		metrics.HistoryWrites.Add(1)
	}
}

// Recent returns the most recent records, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]nonce.IssuanceRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, credential_id, label, nonce, source, submitted_at, issued_at
		 FROM nonce_history ORDER BY issued_at DESC, nonce DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []nonce.IssuanceRecord
	for rows.Next() {
		var rec nonce.IssuanceRecord
		var submittedMs, issuedMs int64
		if err := rows.Scan(&rec.ID, &rec.CredentialID, &rec.Label, &rec.Nonce,
			&rec.Source, &submittedMs, &issuedMs); err != nil {
			return nil, err
		}
		rec.SubmittedAt = time.UnixMilli(submittedMs)
		rec.IssuedAt = time.UnixMilli(issuedMs)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close drains pending writes and closes the DB.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.ch)
		r.mu.Unlock()
	})
	r.wg.Wait()
	return r.db.Close()
}
