// Package store keeps a tamper-evident local journal of every event the
// monitor reports. Rows form a hash chain and each row carries an HMAC
// keyed from a per-install secret, so edits made outside the daemon are
// detected by Verify.
package store

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"proctord/internal/report"
)

// ErrChainBroken is returned when the journal fails verification.
var ErrChainBroken = errors.New("store: journal chain broken")

// ErrClosed is returned by operations on a closed journal.
var ErrClosed = errors.New("store: journal closed")

const schema = `
CREATE TABLE IF NOT EXISTS integrity (
    id              INTEGER PRIMARY KEY CHECK (id = 1),
    chain_hash      BLOB NOT NULL,
    event_count     INTEGER NOT NULL,
    last_verified   INTEGER NOT NULL,
    hmac            BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id      TEXT NOT NULL,
    type            TEXT NOT NULL,
    timestamp_ms    INTEGER NOT NULL,
    detail          TEXT NOT NULL DEFAULT '',
    keyword         TEXT NOT NULL DEFAULT '',
    previous_hash   BLOB NOT NULL,
    event_hash      BLOB NOT NULL,
    hmac            BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, id);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp_ms);
`

// Entry is one journal row.
type Entry struct {
	ID           int64
	SessionID    string
	Type         string
	Timestamp    time.Time
	Detail       string
	Keyword      string
	PreviousHash [32]byte
	EventHash    [32]byte
}

// Stats summarizes the journal.
type Stats struct {
	EventCount  int64
	Sessions    int64
	Oldest      time.Time
	Newest      time.Time
	ChainHash   string
	IntegrityOK bool
}

// Journal is a SQLite-backed hash-chained event log. It implements
// report.Journal.
type Journal struct {
	mu          sync.Mutex
	db          *sql.DB
	key         []byte
	sessionID   string
	lastHash    [32]byte
	integrityOK bool
	closed      bool
	logger      *slog.Logger
}

// Open opens the journal at path, deriving its HMAC key from the secret
// at secretPath (created when missing). Events appended through the
// returned journal are tagged with sessionID.
func Open(path, secretPath, sessionID string, logger *slog.Logger) (*Journal, error) {
	secret, err := LoadOrCreateSecret(secretPath)
	if err != nil {
		return nil, err
	}
	key, err := DeriveKey(secret)
	if err != nil {
		return nil, err
	}
	return OpenWithKey(path, key, sessionID, logger)
}

// OpenWithKey opens the journal at path with an already derived key.
// An existing journal is verified; when verification fails the journal
// is opened read-only and Append returns ErrChainBroken.
func OpenWithKey(path string, key []byte, sessionID string, logger *slog.Logger) (*Journal, error) {
	if len(key) == 0 {
		return nil, errors.New("store: empty journal key")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// One connection keeps the chain head consistent with the rows.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	os.Chmod(path, 0600)

	j := &Journal{
		db:        db,
		key:       append([]byte(nil), key...),
		sessionID: sessionID,
		logger:    logger.With("component", "journal"),
	}

	if err := j.initIntegrity(); err != nil {
		db.Close()
		return nil, err
	}
	if err := j.verifyLocked(); err != nil {
		j.logger.Error("journal failed verification, refusing writes", "path", path, "error", err)
	} else {
		j.integrityOK = true
	}
	return j, nil
}

func (j *Journal) initIntegrity() error {
	var count int
	if err := j.db.QueryRow(`SELECT COUNT(*) FROM integrity`).Scan(&count); err != nil {
		return fmt.Errorf("check integrity: %w", err)
	}
	if count > 0 {
		return nil
	}
	var zero [32]byte
	mac := j.integrityMAC(zero, 0)
	_, err := j.db.Exec(`INSERT INTO integrity (id, chain_hash, event_count, last_verified, hmac) VALUES (1, ?, 0, ?, ?)`,
		zero[:], time.Now().UnixMilli(), mac)
	if err != nil {
		return fmt.Errorf("init integrity: %w", err)
	}
	return nil
}

// SessionID returns the session events are tagged with.
func (j *Journal) SessionID() string {
	return j.sessionID
}

// IntegrityOK reports whether the journal passed verification on open.
func (j *Journal) IntegrityOK() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.integrityOK
}

// Append records e at the head of the chain.
func (j *Journal) Append(ctx context.Context, e report.Event) error {
	if e == nil {
		return errors.New("store: nil event")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}
	if !j.integrityOK {
		return ErrChainBroken
	}

	entry := Entry{
		SessionID:    j.sessionID,
		Type:         e.Type(),
		Timestamp:    e.Time(),
		Detail:       report.Detail(e),
		Keyword:      report.Keyword(e),
		PreviousHash: j.lastHash,
	}
	entry.EventHash = entryHash(&entry)
	mac := j.entryMAC(&entry)

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO events (session_id, type, timestamp_ms, detail, keyword, previous_hash, event_hash, hmac)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.SessionID, entry.Type, entry.Timestamp.UnixMilli(), entry.Detail, entry.Keyword,
		entry.PreviousHash[:], entry.EventHash[:], mac,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	var count int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		return fmt.Errorf("count events: %w", err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE integrity SET chain_hash = ?, event_count = ?, last_verified = ?, hmac = ? WHERE id = 1`,
		entry.EventHash[:], count, time.Now().UnixMilli(), j.integrityMAC(entry.EventHash, count))
	if err != nil {
		return fmt.Errorf("update integrity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	j.lastHash = entry.EventHash
	j.logger.Debug("event journaled", "id", id, "type", entry.Type)
	return nil
}

// Verify walks the whole chain, checking linkage, hashes and HMACs.
// It returns an error wrapping ErrChainBroken on any mismatch.
func (j *Journal) Verify() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	err := j.verifyLocked()
	j.integrityOK = err == nil
	return err
}

func (j *Journal) verifyLocked() error {
	var chainHash, storedMAC []byte
	var eventCount int64
	err := j.db.QueryRow(`SELECT chain_hash, event_count, hmac FROM integrity WHERE id = 1`).
		Scan(&chainHash, &eventCount, &storedMAC)
	if err != nil {
		return fmt.Errorf("read integrity: %w", err)
	}

	var head [32]byte
	copy(head[:], chainHash)
	if !hmac.Equal(storedMAC, j.integrityMAC(head, eventCount)) {
		return fmt.Errorf("%w: integrity record HMAC mismatch", ErrChainBroken)
	}

	rows, err := j.db.Query(`
		SELECT id, session_id, type, timestamp_ms, detail, keyword, previous_hash, event_hash, hmac
		FROM events ORDER BY id ASC`)
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var last [32]byte
	var count int64
	for rows.Next() {
		var mac []byte
		e, err := scanEntry(rows, &mac)
		if err != nil {
			return err
		}
		if e.PreviousHash != last {
			return fmt.Errorf("%w: event %d previous hash mismatch", ErrChainBroken, e.ID)
		}
		if !hmac.Equal(mac, j.entryMAC(e)) {
			return fmt.Errorf("%w: event %d HMAC mismatch", ErrChainBroken, e.ID)
		}
		if entryHash(e) != e.EventHash {
			return fmt.Errorf("%w: event %d hash mismatch", ErrChainBroken, e.ID)
		}
		last = e.EventHash
		count++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate events: %w", err)
	}

	if count != eventCount {
		return fmt.Errorf("%w: expected %d events, found %d", ErrChainBroken, eventCount, count)
	}
	if !bytes.Equal(chainHash, last[:]) {
		return fmt.Errorf("%w: chain head mismatch", ErrChainBroken)
	}

	j.lastHash = last
	return nil
}

// Recent returns up to n of the newest entries, oldest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, ErrClosed
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, session_id, type, timestamp_ms, detail, keyword, previous_hash, event_hash, hmac
		FROM (SELECT * FROM events ORDER BY id DESC LIMIT ?) ORDER BY id ASC`, n)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var mac []byte
		e, err := scanEntry(rows, &mac)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return entries, nil
}

// Stats returns journal statistics.
func (j *Journal) Stats(ctx context.Context) (*Stats, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, ErrClosed
	}

	stats := &Stats{IntegrityOK: j.integrityOK}
	var oldest, newest sql.NullInt64
	err := j.db.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(DISTINCT session_id), MIN(timestamp_ms), MAX(timestamp_ms) FROM events`).
		Scan(&stats.EventCount, &stats.Sessions, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	if oldest.Valid {
		stats.Oldest = time.UnixMilli(oldest.Int64)
		stats.Newest = time.UnixMilli(newest.Int64)
	}
	stats.ChainHash = hex.EncodeToString(j.lastHash[:])
	return stats, nil
}

// Close closes the database. It is safe to call more than once.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(rows rowScanner, mac *[]byte) (*Entry, error) {
	var e Entry
	var ts int64
	var prev, hash []byte
	if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &ts, &e.Detail, &e.Keyword, &prev, &hash, mac); err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	e.Timestamp = time.UnixMilli(ts)
	copy(e.PreviousHash[:], prev)
	copy(e.EventHash[:], hash)
	return &e, nil
}

// writeCanonical writes the hashed fields of e. Strings are length
// prefixed so field boundaries cannot shift.
func writeCanonical(w interface{ Write([]byte) (int, error) }, e *Entry) {
	var buf [8]byte
	str := func(s string) {
		binary.BigEndian.PutUint64(buf[:], uint64(len(s)))
		w.Write(buf[:])
		w.Write([]byte(s))
	}
	w.Write([]byte("proctord-event-v1"))
	w.Write(e.PreviousHash[:])
	str(e.SessionID)
	str(e.Type)
	binary.BigEndian.PutUint64(buf[:], uint64(e.Timestamp.UnixMilli()))
	w.Write(buf[:])
	str(e.Detail)
	str(e.Keyword)
}

func entryHash(e *Entry) [32]byte {
	h := sha256.New()
	writeCanonical(h, e)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (j *Journal) entryMAC(e *Entry) []byte {
	h := hmac.New(sha256.New, j.key)
	writeCanonical(h, e)
	return h.Sum(nil)
}

func (j *Journal) integrityMAC(chainHash [32]byte, count int64) []byte {
	h := hmac.New(sha256.New, j.key)
	h.Write([]byte("proctord-integrity-v1"))
	h.Write(chainHash[:])
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(count))
	h.Write(buf[:])
	return h.Sum(nil)
}
