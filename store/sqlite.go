package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite implements a store on a SQLite file.
// Writes are appended to a change log that other processes poll.
type SQLite struct {
	db     *sql.DB
	origin string
	hub    *hub
	log    *zap.Logger

	lastSeq int64
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewSQLite opens (or creates) the SQLite store at opts.Path.
func NewSQLite(opts *Opts) (*SQLite, error) {
	opts = opts.withDefaults()
	if opts.Path == "" {
		return nil, errors.New("sqlite store requires a path")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating database directory")
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	// A single connection keeps the pragmas below in effect for every statement.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "setting busy timeout")
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enabling WAL")
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			update_timestamp INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating kv table")
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS changes (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT NOT NULL,
			value TEXT,
			origin TEXT NOT NULL,
			creation_timestamp INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating changes table")
	}

	cutoff := time.Now().Add(-changeRetention).UnixMicro()
	if _, err := db.Exec(`DELETE FROM changes WHERE creation_timestamp < ?`, cutoff); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "pruning change log")
	}

	s := &SQLite{
		db:     db,
		origin: newOrigin(),
		hub:    newHub(),
		log:    opts.Logger.With(zap.String("store", DriverSQLite)),
		done:   make(chan struct{}),
	}
	if err := db.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM changes`).Scan(&s.lastSeq); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "reading change log head")
	}

	s.wg.Add(1)
	go s.poll(opts.PollInterval)
	return s, nil
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "querying key %s", key)
	}
	return value, true, nil
}

// Set implements Store.
func (s *SQLite) Set(ctx context.Context, key, value string) error {
	if err := s.write(ctx, key, &value); err != nil {
		return err
	}
	s.hub.publish(Change{Key: key, Value: value, Origin: s.origin, Local: true})
	return nil
}

// Remove implements Store.
func (s *SQLite) Remove(ctx context.Context, key string) error {
	if err := s.write(ctx, key, nil); err != nil {
		return err
	}
	s.hub.publish(Change{Key: key, Removed: true, Origin: s.origin, Local: true})
	return nil
}

// write applies a set (value != nil) or a removal and records it in the change log.
func (s *SQLite) write(ctx context.Context, key string, value *string) error {
	now := time.Now().UnixMicro()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	if value != nil {
		_, err = tx.ExecContext(ctx, `
			REPLACE INTO kv (key, value, update_timestamp)
			VALUES (?, ?, ?)
		`, key, *value, now)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	}
	if err != nil {
		return errors.Wrapf(err, "writing key %s", key)
	}

	var logged sql.NullString
	if value != nil {
		logged = sql.NullString{String: *value, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO changes (key, value, origin, creation_timestamp)
		VALUES (?, ?, ?, ?)
	`, key, logged, s.origin, now)
	if err != nil {
		return errors.Wrap(err, "appending to change log")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing transaction")
	}
	return nil
}

// poll publishes changes written by other processes.
func (s *SQLite) poll(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.readChanges(); err != nil {
				s.log.Debug("reading change log", zap.Error(err))
			}
		}
	}
}

func (s *SQLite) readChanges() error {
	rows, err := s.db.Query(`
		SELECT seq, key, value, origin
		FROM changes
		WHERE seq > ?
		ORDER BY seq ASC
	`, s.lastSeq)
	if err != nil {
		return errors.Wrap(err, "querying changes")
	}
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		var (
			seq    int64
			change Change
			value  sql.NullString
		)
		if err := rows.Scan(&seq, &change.Key, &value, &change.Origin); err != nil {
			return errors.Wrap(err, "scanning change row")
		}
		s.lastSeq = seq
		if change.Origin == s.origin {
			continue
		}
		change.Value = value.String
		change.Removed = !value.Valid
		changes = append(changes, change)
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "iterating change rows")
	}

	for _, change := range changes {
		s.hub.publish(change)
	}
	return nil
}

// Subscribe implements Store.
func (s *SQLite) Subscribe() (<-chan Change, func()) { return s.hub.subscribe() }

// Origin implements Store.
func (s *SQLite) Origin() string { return s.origin }

// Close implements Store.
func (s *SQLite) Close() error {
	close(s.done)
	s.wg.Wait()
	s.hub.close()
	return s.db.Close()
}
