// Package state is the core API for the ledger and implements all the
// business rules and processing.
package state

import (
	"errors"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/cashbond/blockchain/foundation/blockchain/currency"
	"github.com/cashbond/blockchain/foundation/blockchain/database"
	"github.com/cashbond/blockchain/foundation/blockchain/genesis"
	"github.com/cashbond/blockchain/foundation/blockchain/mempool"
	"github.com/cashbond/blockchain/foundation/blockchain/mining"
	lru "github.com/hashicorp/golang-lru/v2"
)

// recoveredAccountCacheSize bounds the cache of accounts recovered from
// transaction signatures. Recovery runs elliptic curve math, so block
// scans and repeated submissions should not pay for it twice.
const recoveredAccountCacheSize = 4_096

// =============================================================================

// EventHandler defines a function that is called when events
// occur in the processing of persisting blocks.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for mining and pool maintenance.
type Worker interface {
	Shutdown()
	SignalStartMining()
	SignalCancelMining() (done func())
}

// =============================================================================

// Config represents the configuration required to start
// the blockchain node.
type Config struct {
	BeneficiaryID database.AccountID
	Genesis       genesis.Genesis
	Storage       database.Storage
	PoolMaxBytes  int64
	MinFeeRate    currency.FeeRate
	EvHandler     EventHandler
}

// State manages the blockchain database.
type State struct {
	mu sync.Mutex

	beneficiaryID database.AccountID
	poolMaxBytes  int64
	evHandler     EventHandler

	genesis   genesis.Genesis
	db        *database.Database
	mempool   *mempool.Pool
	assembler *mining.Assembler
	estimator *feeEstimator
	recovered *lru.Cache[string, database.AccountID]

	Worker Worker
}

// New constructs a new blockchain for data management.
func New(cfg Config) (*State, error) {
	if cfg.BeneficiaryID == "" {
		return nil, errors.New("a beneficiary account is required")
	}
	if cfg.Storage == nil {
		return nil, errors.New("a storage implementation is required")
	}

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	// Access the storage for the blockchain. This replays any blocks
	// already on storage to rebuild the coin set and supply.
	db, err := database.New(cfg.Genesis, cfg.Storage, ev)
	if err != nil {
		return nil, err
	}

	// The estimator is fed by the pool as transactions are admitted
	// and mined.
	estimator := newFeeEstimator()

	// The database serves the pool as both the coin view and the chain
	// tip it validates against.
	pool, err := mempool.New(mempool.Config{
		ChainID:      cfg.Genesis.ChainID,
		ChainTip:     db,
		View:         db,
		Estimator:    estimator,
		Clock:        clock.New(),
		EvHandler:    ev,
		MaxPoolBytes: cfg.PoolMaxBytes,
	})
	if err != nil {
		return nil, err
	}

	assembler, err := mining.New(mining.Config{
		Genesis:       cfg.Genesis,
		BeneficiaryID: cfg.BeneficiaryID,
		MinFeeRate:    cfg.MinFeeRate,
		EvHandler:     ev,
	})
	if err != nil {
		return nil, err
	}

	recovered, err := lru.New[string, database.AccountID](recoveredAccountCacheSize)
	if err != nil {
		return nil, err
	}

	// Create the State to provide support for managing the blockchain.
	state := State{
		beneficiaryID: cfg.BeneficiaryID,
		poolMaxBytes:  cfg.PoolMaxBytes,
		evHandler:     ev,

		genesis:   cfg.Genesis,
		db:        db,
		mempool:   pool,
		assembler: assembler,
		estimator: estimator,
		recovered: recovered,
	}

	// The Worker is not set here. The call to worker.Run will assign itself
	// and start everything up and running for the node.

	return &state, nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {
	s.evHandler("state: shutdown: started")
	defer s.evHandler("state: shutdown: completed")

	// Make sure the database file is properly closed.
	defer func() {
		s.db.Close()
	}()

	// Stop all blockchain writing activity.
	s.Worker.Shutdown()

	return nil
}
