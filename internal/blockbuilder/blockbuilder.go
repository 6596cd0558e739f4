// Package blockbuilder implements BlockBuilder (spec.md §4.3, component
// C3): sealing a batch of PROCESSING transactions into the next block of the
// hash-linked chain, confirming each of them into that block.
package blockbuilder

import (
	"context"
	"errors"
	"fmt"

	"github.com/centralbank/ledgerd/internal/clock"
	"github.com/centralbank/ledgerd/internal/ledger"
	"github.com/centralbank/ledgerd/internal/pkg/logger"
	"github.com/centralbank/ledgerd/internal/store"
)

// Service is the BlockBuilder entrypoint.
type Service interface {
	// SealBlock confirms every transaction in txIDs within a single new
	// block and returns that block. Callers (PipelineLoop) are responsible
	// for ensuring every id in txIDs is currently PROCESSING and owned by
	// the caller's lease; SealBlock itself only enforces the chain-linkage
	// and transaction-state invariants.
	SealBlock(ctx context.Context, storeTx store.Tx, txIDs []string) (ledger.Block, error)
}

type service struct {
	clock clock.Clock
}

var _ Service = (*service)(nil)

// New wires a BlockBuilder against a Clock.
func New(c clock.Clock) *service {
	return &service{clock: c}
}

// SealBlock implements spec.md §4.3's algorithm:
//
//  1. Load the chain tip (height, blockHash), or treat as genesis if none exists.
//  2. Load every transaction in txIDs, confirming each is PROCESSING.
//  3. Compute the Merkle root over their system hashes.
//  4. Compute the new block's hash over height, timestamp, prior hash, and
//     the Merkle root's inputs.
//  5. Insert the block row, then confirm every transaction into it.
//
// The whole operation runs inside the caller's storeTx, so a failure at any
// step leaves neither a new block nor any CONFIRMED transaction behind.
func (s *service) SealBlock(ctx context.Context, storeTx store.Tx, txIDs []string) (ledger.Block, error) {
	if len(txIDs) == 0 {
		return ledger.Block{}, fmt.Errorf("%w: sealBlock requires at least one transaction", ledger.ErrBadRequest)
	}

	height := int64(0)
	var previousHash *string

	tip, err := storeTx.LatestBlock(ctx)
	switch {
	case err == nil:
		height = tip.Height + 1
		hash := tip.BlockHash
		previousHash = &hash
	case errors.Is(err, ledger.ErrNotFound):
		// no prior block: this is the genesis block, height 0, no parent.
	default:
		return ledger.Block{}, err
	}

	transactions := make([]ledger.Transaction, 0, len(txIDs))
	systemHashes := make([]string, 0, len(txIDs))
	for _, id := range txIDs {
		transaction, err := storeTx.FindTransaction(ctx, store.TransactionFilter{ID: id}, store.LockForUpdate)
		if err != nil {
			return ledger.Block{}, err
		}
		if transaction.Status != ledger.StatusProcessing {
			return ledger.Block{}, fmt.Errorf("%w: transaction %s is %s, not PROCESSING", ledger.ErrInvariantViolation, transaction.SystemHash, transaction.Status)
		}
		transactions = append(transactions, transaction)
		systemHashes = append(systemHashes, transaction.SystemHash)
	}

	timestamp := s.clock.Now()
	merkleRoot := ledger.MerkleRoot(systemHashes)
	blockHash := ledger.BlockHash(height, timestamp, previousHash, systemHashes)

	block, err := storeTx.CreateBlock(ctx, ledger.Block{
		Height:            height,
		BlockHash:         blockHash,
		PreviousBlockHash: previousHash,
		Timestamp:         timestamp,
		MerkleRoot:        merkleRoot,
		TransactionIDs:    txIDs,
	})
	if err != nil {
		return ledger.Block{}, err
	}

	for i := range transactions {
		if err := transactions[i].ConfirmInBlock(block.ID, block.Height); err != nil {
			return ledger.Block{}, err
		}
		if err := storeTx.SaveTransaction(ctx, transactions[i]); err != nil {
			return ledger.Block{}, err
		}
	}

	logger.Info(ctx, "sealed block",
		"block.height", block.Height,
		"block.hash", block.BlockHash,
		"block.transaction_count", len(txIDs),
	)

	return block, nil
}
