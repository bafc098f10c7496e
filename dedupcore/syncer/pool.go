// Package syncer implements the per-pool table set and the sync
// coordinator from spec.md §4.4: a per-transaction-group pass that
// reclassifies base entries, frees dead phys copies, and cascades removal
// to BSTT and then HTDDT entries whose base DDE has vanished.
package syncer

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	bolt "go.etcd.io/bbolt"

	"rubin.dev/dedup/checksum"
	"rubin.dev/dedup/ddt"
	"rubin.dev/dedup/dedupcore"
	"rubin.dev/dedup/dedupcore/bstt"
	"rubin.dev/dedup/dedupcore/htddt"
	"rubin.dev/dedup/pipeline"
)

// Pool is the per-pool context spec.md §3 names under "Table ownership": a
// per-pool context exclusively owns all four tables for each checksum tag,
// with a lifetime ending at pool unload.
type Pool struct {
	Config dedupcore.PoolConfig
	Log    *slog.Logger

	db         *bolt.DB
	ddt        map[checksum.Algorithm]*ddt.Table
	htddt      map[checksum.Algorithm][2]*htddt.Table
	bstt       map[checksum.Algorithm]*bstt.Table
	freer      *pipeline.Freer
	compressor pipeline.Compressor

	// blocksMu/blocks stand in for the storage pipeline's content-
	// addressable backing store (spec.md §1 places device I/O out of
	// scope for the core; DDT/HTDDT/BSTT entries only ever carry DVAs,
	// never bytes). The demo CLI and tests need somewhere to fetch a
	// base block's bytes back from to run the burst codec against, so
	// this in-memory map plays that role for this module.
	blocksMu sync.Mutex
	blocks   map[checksum.Value][]byte
}

// algorithmsOrAll returns cfg.Algorithms, or every registered algorithm if
// cfg.Algorithms is empty.
func algorithmsOrAll(cfg dedupcore.PoolConfig) []checksum.Algorithm {
	if len(cfg.Algorithms) > 0 {
		return cfg.Algorithms
	}
	all := make([]checksum.Algorithm, 0, checksum.Count)
	for _, fn := range checksum.All() {
		all = append(all, fn.Algorithm())
	}
	return all
}

// Open creates a Pool: one bbolt-backed DDT, one head and one tail HTDDT,
// and one BSTT per tracked checksum algorithm, plus a pipeline.Freer sized
// per cfg.
func Open(cfg dedupcore.PoolConfig, log *slog.Logger) (*Pool, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("syncer: create data dir: %w", err)
	}
	db, err := dedupcore.OpenBoltDB(cfg)
	if err != nil {
		return nil, err
	}

	compressor := cfg.Compressor
	if compressor == nil {
		compressor = pipeline.NewOffCompressor()
	}

	p := &Pool{
		Config:     cfg,
		Log:        log.With("pool", cfg.Name),
		db:         db,
		ddt:        make(map[checksum.Algorithm]*ddt.Table),
		htddt:      make(map[checksum.Algorithm][2]*htddt.Table),
		bstt:       make(map[checksum.Algorithm]*bstt.Table),
		freer:      pipeline.NewFreer(log, cfg.FreerWorkers, cfg.FreerQueueDepth),
		compressor: compressor,
		blocks:     make(map[checksum.Value][]byte),
	}

	for _, algo := range algorithmsOrAll(cfg) {
		dt, err := ddt.Open(db, algo)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		p.ddt[algo] = dt
		p.htddt[algo] = [2]*htddt.Table{
			dedupcore.SideHead: htddt.New(algo, dedupcore.SideHead),
			dedupcore.SideTail: htddt.New(algo, dedupcore.SideTail),
		}
		p.bstt[algo] = bstt.New(algo)
	}

	p.Log.Info("pool opened", "algorithms", len(p.ddt), "compress", compressor.Code())
	return p, nil
}

// DDT returns the base dedup table for algo, or nil if algo is not tracked
// by this pool.
func (p *Pool) DDT(algo checksum.Algorithm) *ddt.Table { return p.ddt[algo] }

// HTDDT returns the head or tail table for algo.
func (p *Pool) HTDDT(algo checksum.Algorithm, side dedupcore.Side) *htddt.Table {
	pair, ok := p.htddt[algo]
	if !ok {
		return nil
	}
	return pair[side]
}

// BSTT returns the burst dedup table for algo.
func (p *Pool) BSTT(algo checksum.Algorithm) *bstt.Table { return p.bstt[algo] }

// Freer returns the pool's async free-request worker pool.
func (p *Pool) Freer() *pipeline.Freer { return p.freer }

// Compressor returns the write-path compression stage this pool was opened
// with (pipeline.NewOffCompressor() if PoolConfig.Compressor was nil).
func (p *Pool) Compressor() pipeline.Compressor { return p.compressor }

// StoreBlock records data under key in this pool's demo content store.
func (p *Pool) StoreBlock(key checksum.Value, data []byte) {
	p.blocksMu.Lock()
	defer p.blocksMu.Unlock()
	p.blocks[key] = data
}

// LoadBlock retrieves the bytes previously stored under key, if any.
func (p *Pool) LoadBlock(key checksum.Value) ([]byte, bool) {
	p.blocksMu.Lock()
	defer p.blocksMu.Unlock()
	data, ok := p.blocks[key]
	return data, ok
}

// Algorithms returns every checksum algorithm this pool tracks tables for.
func (p *Pool) Algorithms() []checksum.Algorithm {
	out := make([]checksum.Algorithm, 0, len(p.ddt))
	for algo := range p.ddt {
		out = append(out, algo)
	}
	return out
}

// Close unloads the pool: stops the freer, then closes the backing bbolt
// database, per spec.md §3's "per-pool context... lifetime ends at pool
// unload."
func (p *Pool) Close() error {
	p.freer.Close()
	for _, pair := range p.htddt {
		pair[dedupcore.SideHead].Destroy()
		pair[dedupcore.SideTail].Destroy()
	}
	for _, table := range p.bstt {
		table.Destroy()
	}
	p.Log.Info("pool closed", "freed", p.freer.Freed())
	return p.db.Close()
}
