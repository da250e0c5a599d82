package kvstore

import (
	"fmt"

	"rankgofer/internal/config"
)

// New creates the store selected by cfg.Type
func New(cfg config.StoreConfig) (Store, error) {
	switch cfg.Type {
	case config.StoreMemory, "":
		store, err := NewMemoryStore(cfg.Size, cfg.MaxValueBytes)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreSQLite:
		store, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreRedis:
		store, err := NewRedisStore(RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}
