// Package engine is the external-interface glue (spec.md §2 "external
// interface glue", §4.12): it registers Indexes and their Fragments,
// opens/owns the B-tree and T-tree fragment instances, drives secondary
// index maintenance (§4.10/§4.13), and dispatches the Section 6 operation
// surface to the cursor/btree/ttree packages. It is the only package that
// wires contract.PageCache/LockManager/HeapStore/WAL/TxnManager together
// with btree/ttree/cursor/stats into one runnable thing.
//
// Grounded on the teacher's database.DB (the top-level handle holding the
// KV store, table registry, and worker pool in filodb_engine.go) and its
// RegisterCommands/processQueryRequest dispatch in filodb_commands.go,
// generalized from an ad hoc SQL-shaped REPL to the Section 6 operation
// table.
package engine

import (
	"sync"

	"go.uber.org/zap"

	"github.com/sharvit-labs/ordidx/contract"
)

// Options configures an Environment, built with functional options the way
// the teacher's DB{Path: ...} plus option-table pattern is generalized
// (SPEC_FULL.md §1.2). None of these are read from a config file — parsing
// is out of scope.
type Options struct {
	PageSize          int
	DescPageSize      int
	ChecksumEnabled   bool
	VersionBits       uint
	StatsTriggerPct   int64
	StatsTriggerScale int64
}

func defaultOptions() Options {
	return Options{
		PageSize:          4096,
		DescPageSize:      512,
		ChecksumEnabled:   true,
		VersionBits:       contract.DefaultVersionBits,
		StatsTriggerPct:   100,
		StatsTriggerScale: 1,
	}
}

// Option mutates an Options during NewEnvironment.
type Option func(*Options)

func WithPageSize(n int) Option { return func(o *Options) { o.PageSize = n } }

func WithDescPageSize(n int) Option { return func(o *Options) { o.DescPageSize = n } }

func WithChecksum(enabled bool) Option { return func(o *Options) { o.ChecksumEnabled = enabled } }

func WithVersionBits(bits uint) Option { return func(o *Options) { o.VersionBits = bits } }

func WithStatsTrigger(pct, scale int64) Option {
	return func(o *Options) { o.StatsTriggerPct = pct; o.StatsTriggerScale = scale }
}

// Environment is the runtime handle every Index is registered against: the
// external collaborators (spec.md §1 "Out of scope" contracts) plus the
// Index registry. Exactly one Environment exists per open database, the
// way the teacher threads one *DB through every command handler.
type Environment struct {
	Cache contract.PageCache
	Locks contract.LockManager
	Heap  contract.HeapStore
	WAL   contract.WAL
	Txns  contract.TxnManager
	Log   *zap.Logger

	Options Options

	mu      sync.RWMutex
	indexes map[string]*Index
}

// NewEnvironment builds an Environment. log may be nil, in which case a
// no-op logger is used (matching memstore.NewCache's nil-logger default).
func NewEnvironment(cache contract.PageCache, locks contract.LockManager, heap contract.HeapStore, wal contract.WAL, txns contract.TxnManager, log *zap.Logger, opts ...Option) *Environment {
	if log == nil {
		log = zap.NewNop()
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Environment{
		Cache: cache, Locks: locks, Heap: heap, WAL: wal, Txns: txns, Log: log,
		Options: o,
		indexes: make(map[string]*Index),
	}
}

// Index looks up a registered index by name.
func (env *Environment) Index(name string) (*Index, bool) {
	env.mu.RLock()
	defer env.mu.RUnlock()
	idx, ok := env.indexes[name]
	return idx, ok
}

// register adds idx to the environment's registry, replacing any index
// already registered under the same name; CreateIndex rejects a duplicate
// name before it calls register.
func (env *Environment) register(idx *Index) {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.indexes[idx.Name] = idx
}

// unregister removes idx from the registry (Index.Drop).
func (env *Environment) unregister(name string) {
	env.mu.Lock()
	defer env.mu.Unlock()
	delete(env.indexes, name)
}
