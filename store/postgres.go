package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const postgresChannel = "emily_kv"

// postgresNotification is the NOTIFY payload. Values are re-read by the receiver
// so that large values do not hit the payload size limit.
type postgresNotification struct {
	Key     string `json:"key"`
	Removed bool   `json:"removed,omitempty"`
	Origin  string `json:"origin"`
}

// Postgres implements a store on a Postgres table. Other processes are notified with LISTEN/NOTIFY.
type Postgres struct {
	pool   *pgxpool.Pool
	origin string
	hub    *hub
	log    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPostgres connects to opts.URL and starts listening for foreign writes.
func NewPostgres(ctx context.Context, opts *Opts) (*Postgres, error) {
	opts = opts.withDefaults()
	if opts.URL == "" {
		return nil, errors.New("postgres store requires a url")
	}
	pool, err := pgxpool.New(ctx, opts.URL)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to postgres")
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			update_time TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "creating kv table")
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	p := &Postgres{
		pool:   pool,
		origin: newOrigin(),
		hub:    newHub(),
		log:    opts.Logger.With(zap.String("store", DriverPostgres)),
		cancel: cancel,
	}
	p.wg.Add(1)
	go p.listen(listenCtx)
	return p, nil
}

// Get implements Store.
func (p *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.pool.QueryRow(ctx, `SELECT value FROM kv WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "querying key %s", key)
	}
	return value, true, nil
}

// Set implements Store.
func (p *Postgres) Set(ctx context.Context, key, value string) error {
	err := p.write(ctx, postgresNotification{Key: key, Origin: p.origin}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO kv (key, value, update_time) VALUES ($1, $2, now())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, update_time = EXCLUDED.update_time
		`, key, value)
		return err
	})
	if err != nil {
		return err
	}
	p.hub.publish(Change{Key: key, Value: value, Origin: p.origin, Local: true})
	return nil
}

// Remove implements Store.
func (p *Postgres) Remove(ctx context.Context, key string) error {
	err := p.write(ctx, postgresNotification{Key: key, Removed: true, Origin: p.origin}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM kv WHERE key = $1`, key)
		return err
	})
	if err != nil {
		return err
	}
	p.hub.publish(Change{Key: key, Removed: true, Origin: p.origin, Local: true})
	return nil
}

// write runs fn and queues a notification in the same transaction; NOTIFY is delivered on commit.
func (p *Postgres) write(ctx context.Context, notification postgresNotification, fn func(tx pgx.Tx) error) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return errors.Wrap(err, "marshaling notification")
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return errors.Wrapf(err, "writing key %s", notification.Key)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, postgresChannel, string(payload)); err != nil {
		return errors.Wrap(err, "notifying listeners")
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "committing transaction")
	}
	return nil
}

// listen holds a dedicated connection on the notification channel, reconnecting on failure.
func (p *Postgres) listen(ctx context.Context) {
	defer p.wg.Done()
	for {
		err := p.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		p.log.Debug("listener disconnected", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (p *Postgres) listenOnce(ctx context.Context) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return errors.Wrap(err, "acquiring connection")
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+postgresChannel); err != nil {
		return errors.Wrap(err, "listening")
	}
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return errors.Wrap(err, "waiting for notification")
		}
		var notification postgresNotification
		if err := json.Unmarshal([]byte(n.Payload), &notification); err != nil {
			p.log.Debug("skipping malformed notification", zap.String("payload", n.Payload))
			continue
		}
		if notification.Origin == p.origin {
			continue
		}

		change := Change{Key: notification.Key, Removed: notification.Removed, Origin: notification.Origin}
		if !change.Removed {
			value, found, err := p.Get(ctx, change.Key)
			if err != nil {
				p.log.Debug("reading notified key", zap.String("key", change.Key), zap.Error(err))
				continue
			}
			change.Value, change.Removed = value, !found
		}
		p.hub.publish(change)
	}
}

// Subscribe implements Store.
func (p *Postgres) Subscribe() (<-chan Change, func()) { return p.hub.subscribe() }

// Origin implements Store.
func (p *Postgres) Origin() string { return p.origin }

// Close implements Store.
func (p *Postgres) Close() error {
	p.cancel()
	p.wg.Wait()
	p.hub.close()
	p.pool.Close()
	return nil
}
