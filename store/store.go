package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

const (
	defaultPollInterval = 250 * time.Millisecond
	subscriberBuffer    = 64

	// Change log entries older than this are pruned when a store opens.
	changeRetention = 24 * time.Hour
)

// ErrUnknownDriver is returned by Open for an unsupported driver.
var ErrUnknownDriver = errors.New("unknown storage driver")

// Change describes a single write to the store.
type Change struct {
	// Key that was written.
	Key string
	// Value after the write. Empty when Removed is set.
	Value string
	// Removed is set when the key was deleted.
	Removed bool
	// Origin identifies the store instance that performed the write.
	Origin string
	// Local is set when the write was performed by the receiving instance.
	Local bool
}

// Store is a durable key-value store shared by every process pointing at the same backend.
// Writes are visible to local subscribers immediately and to other processes through the backend.
type Store interface {
	// Get returns the value stored under key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key.
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	// Subscribe returns a channel of changes and a function releasing it.
	Subscribe() (<-chan Change, func())
	// Origin returns the identifier of this store instance.
	Origin() string
	// Close releases the backend.
	Close() error
}

// Opts configures Open.
type Opts struct {
	Driver string
	// Path of the database file (sqlite, bolt).
	Path string
	// URL of the database (postgres).
	URL string
	// PollInterval at which file-based backends look for foreign writes.
	PollInterval time.Duration
	Logger       *zap.Logger
}

func (o *Opts) withDefaults() *Opts {
	out := *o
	if out.Driver == "" {
		out.Driver = DriverSQLite
	}
	if out.PollInterval <= 0 {
		out.PollInterval = defaultPollInterval
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	return &out
}

// Open a store with the given options.
func Open(ctx context.Context, opts *Opts) (Store, error) {
	opts = opts.withDefaults()
	switch opts.Driver {
	case DriverSQLite:
		return NewSQLite(opts)
	case DriverBolt:
		return NewBolt(opts)
	case DriverPostgres:
		return NewPostgres(ctx, opts)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, errors.Wrapf(ErrUnknownDriver, "driver %q", opts.Driver)
	}
}

// OpenOrMemory opens the configured store, degrading to an in-memory store
// when the backend is unavailable.
func OpenOrMemory(ctx context.Context, opts *Opts) Store {
	s, err := Open(ctx, opts)
	if err == nil {
		return s
	}
	logger := opts.withDefaults().Logger
	logger.Warn("storage unavailable, preferences will not persist",
		zap.String("driver", opts.Driver), zap.Error(err))
	return NewMemory()
}

func newOrigin() string {
	return uuid.New().String()
}
