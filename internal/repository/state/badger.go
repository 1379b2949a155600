package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/oshokin/alarm-engine/internal/capability"
	domain "github.com/oshokin/alarm-engine/internal/domain/alarm"
)

// Repository defines the persistence operations the engine needs to recover
// scheduling intent after a process restart: one record per alarm config,
// one per currently-armed instance, one per capability.
type Repository interface {
	SaveConfig(ctx context.Context, cfg *domain.Config) error
	LoadConfigs(ctx context.Context) ([]*domain.Config, error)
	DeleteConfig(ctx context.Context, id string) error

	SaveInstance(ctx context.Context, instance *domain.Instance) error
	LoadInstances(ctx context.Context) ([]*domain.Instance, error)
	DeleteInstance(ctx context.Context, id string) error

	SaveCapability(ctx context.Context, name string, stats capability.Stats) error
	LoadCapabilities(ctx context.Context) (map[string]capability.Stats, error)
	DeleteCapabilities(ctx context.Context) error

	Close() error
}

// Key prefixes partitioning the store.
const (
	configPrefix     = "config/"
	instancePrefix   = "instance/"
	capabilityPrefix = "capability/"
)

// stateDirPermissions is the permission mask for the state directory.
const stateDirPermissions = 0o750

// errNilRecord is returned when a nil config or instance is passed to Save.
var errNilRecord = errors.New("record is not set")

// BadgerRepository persists engine state in an embedded BadgerDB key-value
// store, JSON-encoded per record.
type BadgerRepository struct {
	// db is the underlying key-value store.
	db *badger.DB
}

// NewBadgerRepository opens (or creates) a store in the given directory.
func NewBadgerRepository(dir string) (*BadgerRepository, error) {
	if dir == "" {
		return nil, errors.New("state directory is required")
	}

	if err := os.MkdirAll(dir, stateDirPermissions); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	return &BadgerRepository{db: db}, nil
}

// NewInMemoryRepository opens a store that keeps everything in memory.
// Used by tests and as the degraded mode when the state directory is not
// writable.
func NewInMemoryRepository() (*BadgerRepository, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open in-memory state store: %w", err)
	}

	return &BadgerRepository{db: db}, nil
}

// Close flushes and closes the underlying store.
func (r *BadgerRepository) Close() error {
	return r.db.Close()
}

// SaveConfig writes one alarm config record.
func (r *BadgerRepository) SaveConfig(_ context.Context, cfg *domain.Config) error {
	if cfg == nil {
		return errNilRecord
	}

	return r.put(configPrefix+cfg.ID, cfg)
}

// LoadConfigs reads every persisted alarm config.
func (r *BadgerRepository) LoadConfigs(_ context.Context) ([]*domain.Config, error) {
	var configs []*domain.Config

	err := r.scan(configPrefix, func(value []byte) error {
		var cfg domain.Config
		if err := json.Unmarshal(value, &cfg); err != nil {
			return err
		}

		configs = append(configs, &cfg)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load configs: %w", err)
	}

	return configs, nil
}

// DeleteConfig removes one alarm config record. Unknown ids are no-ops.
func (r *BadgerRepository) DeleteConfig(_ context.Context, id string) error {
	return r.delete(configPrefix + id)
}

// SaveInstance writes one armed-instance record.
func (r *BadgerRepository) SaveInstance(_ context.Context, instance *domain.Instance) error {
	if instance == nil {
		return errNilRecord
	}

	return r.put(instancePrefix+instance.ID, instance)
}

// LoadInstances reads every persisted instance record.
func (r *BadgerRepository) LoadInstances(_ context.Context) ([]*domain.Instance, error) {
	var instances []*domain.Instance

	err := r.scan(instancePrefix, func(value []byte) error {
		var instance domain.Instance
		if err := json.Unmarshal(value, &instance); err != nil {
			return err
		}

		instances = append(instances, &instance)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load instances: %w", err)
	}

	return instances, nil
}

// DeleteInstance removes one instance record. Unknown ids are no-ops.
func (r *BadgerRepository) DeleteInstance(_ context.Context, id string) error {
	return r.delete(instancePrefix + id)
}

// SaveCapability writes the stats record for one capability.
func (r *BadgerRepository) SaveCapability(_ context.Context, name string, stats capability.Stats) error {
	return r.put(capabilityPrefix+name, stats)
}

// LoadCapabilities reads the stats of every known capability.
func (r *BadgerRepository) LoadCapabilities(_ context.Context) (map[string]capability.Stats, error) {
	stats := make(map[string]capability.Stats)

	err := r.scanKeys(capabilityPrefix, func(key string, value []byte) error {
		var s capability.Stats
		if err := json.Unmarshal(value, &s); err != nil {
			return err
		}

		stats[key[len(capabilityPrefix):]] = s

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load capabilities: %w", err)
	}

	return stats, nil
}

// DeleteCapabilities removes every capability record.
func (r *BadgerRepository) DeleteCapabilities(_ context.Context) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(capabilityPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := txn.Delete(it.Item().KeyCopy(nil)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("delete capabilities: %w", err)
	}

	return nil
}

// put JSON-encodes the record and writes it under the key.
func (r *BadgerRepository) put(key string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", key, err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("write record %s: %w", key, err)
	}

	return nil
}

// delete removes the record under the key, ignoring missing keys.
func (r *BadgerRepository) delete(key string) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("delete record %s: %w", key, err)
	}

	return nil
}

// scan visits the value of every record under the prefix.
func (r *BadgerRepository) scan(prefix string, visit func(value []byte) error) error {
	return r.scanKeys(prefix, func(_ string, value []byte) error {
		return visit(value)
	})
}

// scanKeys visits the key and value of every record under the prefix.
func (r *BadgerRepository) scanKeys(prefix string, visit func(key string, value []byte) error) error {
	return r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			err := item.Value(func(value []byte) error {
				return visit(string(item.Key()), value)
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
}
