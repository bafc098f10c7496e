package dedupcore

import (
	"errors"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"rubin.dev/dedup/checksum"
	"rubin.dev/dedup/pipeline"
)

// PoolConfig controls which checksum algorithms a pool tracks and the
// BoltDB path backing its DDTs, following node.Config/node.DefaultConfig/
// node.ValidateConfig's shape (a plain struct filled in by the caller,
// validated separately from construction).
type PoolConfig struct {
	// Name identifies the pool in logs.
	Name string `json:"name"`
	// DataDir holds the bbolt file backing the DDTs, one per pool.
	DataDir string `json:"data_dir"`
	// Algorithms lists which checksum algorithms this pool maintains
	// tables for. Defaults to all registered algorithms if empty.
	Algorithms []checksum.Algorithm `json:"algorithms"`
	// FreerWorkers sizes the pipeline.Freer worker pool.
	FreerWorkers int `json:"freer_workers"`
	// FreerQueueDepth bounds the pipeline.Freer request channel.
	FreerQueueDepth int `json:"freer_queue_depth"`
	// Compressor is the write-path compression stage new blocks pass
	// through before being recorded (spec.md §1's "compression stage of
	// the storage pipeline" external collaborator). Defaults to
	// pipeline.NewOffCompressor() when nil, matching CompressOff being
	// the BlockPointer zero value.
	Compressor pipeline.Compressor `json:"-"`
}

// DefaultPoolConfig mirrors node.DefaultConfig: sane values for local
// development, not production tuning.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Name:            "default",
		DataDir:         ".dedup",
		Algorithms:      nil,
		FreerWorkers:    4,
		FreerQueueDepth: 256,
	}
}

// ValidateConfig mirrors node.ValidateConfig's flat precondition checks.
func ValidateConfig(cfg PoolConfig) error {
	if cfg.Name == "" {
		return errors.New("name is required")
	}
	if cfg.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if cfg.FreerWorkers <= 0 {
		return errors.New("freer_workers must be > 0")
	}
	if cfg.FreerQueueDepth <= 0 {
		return errors.New("freer_queue_depth must be > 0")
	}
	return nil
}

// DBPath returns the bbolt file path this pool's DDTs share, one bucket
// per checksum algorithm (see package ddt).
func (c PoolConfig) DBPath() string {
	return filepath.Join(c.DataDir, fmt.Sprintf("%s.ddt", c.Name))
}

// OpenBoltDB opens (creating if necessary) the bbolt database backing a
// pool's DDTs.
func OpenBoltDB(cfg PoolConfig) (*bolt.DB, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	db, err := bolt.Open(cfg.DBPath(), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("dedupcore: open bolt db: %w", err)
	}
	return db, nil
}
