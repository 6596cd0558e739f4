package ledger

import "time"

// GenesisPreviousHash is the sentinel previous-hash value hashed into the
// height-0 block, standing in for "there is no prior block".
const GenesisPreviousHash = "GENESIS_BLOCK_PREV_HASH_0000000000000"

// Block is an immutable, hash-linked commitment over a batch of CONFIRMED
// transactions.
//
// Invariants (spec.md §3):
//   - For every non-genesis block B: B.PreviousBlockHash == prior(B).BlockHash
//   - Every transaction attached to B has Status == CONFIRMED and identical BlockID/BlockHeight
//   - Block is immutable after commit
type Block struct {
	ID                string
	Height            int64 // monotone, non-negative, unique
	BlockHash         string
	PreviousBlockHash *string // nil only for height 0
	Timestamp         time.Time
	MerkleRoot        string
	TransactionIDs    []string
}
