package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	kvBucket      = []byte("kv")
	changesBucket = []byte("changes")
)

// boltChange is the persisted form of a change log entry.
type boltChange struct {
	Key       string `json:"key"`
	Value     string `json:"value,omitempty"`
	Removed   bool   `json:"removed,omitempty"`
	Origin    string `json:"origin"`
	Timestamp int64  `json:"timestamp"`
}

// Bolt implements a store on a BoltDB file.
// The file is opened for the duration of each operation so that several processes can share it.
type Bolt struct {
	path   string
	origin string
	hub    *hub
	log    *zap.Logger

	mu      sync.Mutex
	lastSeq uint64
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewBolt opens (or creates) the BoltDB store at opts.Path.
func NewBolt(opts *Opts) (*Bolt, error) {
	opts = opts.withDefaults()
	if opts.Path == "" {
		return nil, errors.New("bolt store requires a path")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating database directory")
	}

	b := &Bolt{
		path:   opts.Path,
		origin: newOrigin(),
		hub:    newHub(),
		log:    opts.Logger.With(zap.String("store", DriverBolt)),
		done:   make(chan struct{}),
	}

	cutoff := time.Now().Add(-changeRetention).UnixMicro()
	err := b.update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(kvBucket); err != nil {
			return errors.Wrap(err, "creating kv bucket")
		}
		changes, err := tx.CreateBucketIfNotExists(changesBucket)
		if err != nil {
			return errors.Wrap(err, "creating changes bucket")
		}
		b.lastSeq = changes.Sequence()

		// Prune expired entries. Keys are ordered by sequence, so timestamps are too.
		var expired [][]byte
		c := changes.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var entry boltChange
			if err := json.Unmarshal(v, &entry); err == nil && entry.Timestamp >= cutoff {
				break
			}
			expired = append(expired, append([]byte(nil), k...))
		}
		for _, k := range expired {
			if err := changes.Delete(k); err != nil {
				return errors.Wrap(err, "pruning change log")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.wg.Add(1)
	go b.poll(opts.PollInterval)
	return b, nil
}

func (b *Bolt) open() (*bolt.DB, error) {
	db, err := bolt.Open(b.path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "opening bolt database")
	}
	return db, nil
}

func (b *Bolt) view(fn func(tx *bolt.Tx) error) error {
	db, err := b.open()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return db.View(fn)
}

func (b *Bolt) update(fn func(tx *bolt.Tx) error) error {
	db, err := b.open()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return db.Update(fn)
}

// Get implements Store.
func (b *Bolt) Get(_ context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := b.view(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(kvBucket)
		if bucket == nil {
			return nil
		}
		if v := bucket.Get([]byte(key)); v != nil {
			value, found = string(v), true
		}
		return nil
	})
	if err != nil {
		return "", false, errors.Wrapf(err, "reading key %s", key)
	}
	return value, found, nil
}

// Set implements Store.
func (b *Bolt) Set(_ context.Context, key, value string) error {
	entry := boltChange{Key: key, Value: value, Origin: b.origin}
	if err := b.write(entry); err != nil {
		return err
	}
	b.hub.publish(Change{Key: key, Value: value, Origin: b.origin, Local: true})
	return nil
}

// Remove implements Store.
func (b *Bolt) Remove(_ context.Context, key string) error {
	entry := boltChange{Key: key, Removed: true, Origin: b.origin}
	if err := b.write(entry); err != nil {
		return err
	}
	b.hub.publish(Change{Key: key, Removed: true, Origin: b.origin, Local: true})
	return nil
}

func (b *Bolt) write(entry boltChange) error {
	entry.Timestamp = time.Now().UnixMicro()
	err := b.update(func(tx *bolt.Tx) error {
		kv, err := tx.CreateBucketIfNotExists(kvBucket)
		if err != nil {
			return err
		}
		if entry.Removed {
			err = kv.Delete([]byte(entry.Key))
		} else {
			err = kv.Put([]byte(entry.Key), []byte(entry.Value))
		}
		if err != nil {
			return err
		}

		changes, err := tx.CreateBucketIfNotExists(changesBucket)
		if err != nil {
			return err
		}
		seq, err := changes.NextSequence()
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return changes.Put(itob(seq), encoded)
	})
	if err != nil {
		return errors.Wrapf(err, "writing key %s", entry.Key)
	}
	return nil
}

func (b *Bolt) poll(interval time.Duration) {
	defer b.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			if err := b.readChanges(); err != nil {
				b.log.Debug("reading change log", zap.Error(err))
			}
		}
	}
}

func (b *Bolt) readChanges() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var changes []Change
	err := b.view(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(changesBucket)
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, v := c.Seek(itob(b.lastSeq + 1)); k != nil; k, v = c.Next() {
			b.lastSeq = btoi(k)
			var entry boltChange
			if err := json.Unmarshal(v, &entry); err != nil {
				// Skip malformed entries instead of failing the whole read.
				continue
			}
			if entry.Origin == b.origin {
				continue
			}
			changes = append(changes, Change{
				Key:     entry.Key,
				Value:   entry.Value,
				Removed: entry.Removed,
				Origin:  entry.Origin,
			})
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, change := range changes {
		b.hub.publish(change)
	}
	return nil
}

// Subscribe implements Store.
func (b *Bolt) Subscribe() (<-chan Change, func()) { return b.hub.subscribe() }

// Origin implements Store.
func (b *Bolt) Origin() string { return b.origin }

// Close implements Store.
func (b *Bolt) Close() error {
	close(b.done)
	b.wg.Wait()
	b.hub.close()
	return nil
}
