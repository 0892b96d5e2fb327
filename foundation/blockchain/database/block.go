package database

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/cashbond/blockchain/foundation/blockchain/currency"
	"github.com/cashbond/blockchain/foundation/blockchain/merkle"
	"github.com/cashbond/blockchain/foundation/blockchain/signature"
)

// Consensus limits applied to every block.
const (
	MaxBlockWeight     int64 = 4_000_000 // Serialized bytes times the weight factor.
	WeightFactor       int64 = 4
	MaxBlockSigOpsCost int64 = 80_000
	CoinbaseMaturity   uint64 = 100 // Blocks before a coinbase output can be spent.
)

// ErrChainForked is returned from ValidateBlock if another node's chain
// is two or more blocks ahead of ours.
var ErrChainForked = errors.New("blockchain forked, start resync")

// =============================================================================

// BlockHeader represents common information required for each block. The
// header declares the circulating supply of both currencies after every
// conversion in the block has settled and the mining reward was issued, so
// the conversion rate for the next block is known from headers alone.
type BlockHeader struct {
	PrevBlockHash string          `json:"prev_block_hash"` // Hash of the previous block in the chain.
	TimeStamp     uint64          `json:"timestamp"`       // Time the block was mined.
	Nonce         uint64          `json:"nonce"`           // Value identified to solve the hash solution.
	BeneficiaryID AccountID       `json:"beneficiary"`     // The account receiving fees and the mining reward.
	Difficulty    uint16          `json:"difficulty"`      // Number of 0's needed to solve the hash solution.
	Number        uint64          `json:"number"`          // Block number in the chain.
	CashSupply    currency.Amount `json:"cash_supply"`     // Circulating cash after this block.
	BondSupply    currency.Amount `json:"bond_supply"`     // Circulating bond after this block.
	TransRoot     string          `json:"trans_root"`      // Merkle tree root hash for the transactions in this block.
}

// Supply returns the declared circulating supply in indexed form.
func (h BlockHeader) Supply() currency.Amounts {
	return currency.Amounts{
		currency.Cash: h.CashSupply,
		currency.Bond: h.BondSupply,
	}
}

// Block represents a group of transactions batched together.
type Block struct {
	Header BlockHeader
	Trans  *merkle.Tree[BlockTx]
}

// POW constructs a new Block and performs the work to find a nonce that
// solves the cryptographic POW puzzle.
func POW(ctx context.Context, beneficiaryID AccountID, difficulty uint16, prevBlock Block, supply currency.Amounts, trans []BlockTx, evHandler func(v string, args ...any)) (Block, error) {

	// When mining the first block, the previous block's hash will be zero.
	prevBlockHash := signature.ZeroHash
	if prevBlock.Header.Number > 0 {
		prevBlockHash = prevBlock.Hash()
	}

	// Construct a merkle tree from the transactions for this block. The root
	// of this tree will be part of the block to be mined.
	tree, err := merkle.NewTree(trans)
	if err != nil {
		return Block{}, err
	}

	// Construct the block to be mined.
	nb := Block{
		Header: BlockHeader{
			PrevBlockHash: prevBlockHash,
			TimeStamp:     uint64(time.Now().UTC().Unix()),
			Nonce:         0, // Will be identified by the POW algorithm.
			BeneficiaryID: beneficiaryID,
			Difficulty:    difficulty,
			Number:        prevBlock.Header.Number + 1,
			CashSupply:    supply[currency.Cash],
			BondSupply:    supply[currency.Bond],
			TransRoot:     tree.RootHex(),
		},
		Trans: tree,
	}

	// Perform the proof of work mining operation.
	if err := nb.performPOW(ctx, evHandler); err != nil {
		return Block{}, err
	}

	return nb, nil
}

// performPOW does the work of mining to find a valid hash for a specified
// block. Pointer semantics are being used since a nonce is being discovered.
func (b *Block) performPOW(ctx context.Context, ev func(v string, args ...any)) error {
	ev("database: PerformPOW: MINING: started")
	defer ev("database: PerformPOW: MINING: completed")

	// Log the transactions that are a part of this potential block.
	for _, tx := range b.Trans.Values() {
		ev("database: PerformPOW: MINING: tx[%s]", tx.TxID())
	}

	// Choose a random starting point for the nonce. After this, the nonce
	// will be incremented by 1 until a solution is found by us or another node.
	nBig, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	if err != nil {
		return ctx.Err()
	}
	b.Header.Nonce = nBig.Uint64()

	// Loop until we or another node finds a solution for the next block.
	var attempts uint64
	for {
		attempts++
		if attempts%1_000_000 == 0 {
			ev("database: PerformPOW: MINING: attempts[%d]", attempts)
		}

		// Did we timeout trying to solve the problem.
		if ctx.Err() != nil {
			ev("database: PerformPOW: MINING: CANCELLED")
			return ctx.Err()
		}

		// Hash the block and check if we have solved the puzzle.
		hash := b.Hash()
		if !isHashSolved(b.Header.Difficulty, hash) {
			b.Header.Nonce++
			continue
		}

		ev("database: PerformPOW: MINING: SOLVED: prevBlk[%s]: newBlk[%s]", b.Header.PrevBlockHash, hash)
		ev("database: PerformPOW: MINING: attempts[%d]", attempts)

		return nil
	}
}

// Hash returns the unique hash for the Block. Only the header is hashed so
// the chain can be cryptographically checked from headers alone.
func (b Block) Hash() string {
	if b.Header.Number == 0 {
		return signature.ZeroHash
	}

	return signature.Hash(b.Header)
}

// ValidateBlock performs the header and structural checks required before a
// block can be applied to the chain. Contextual checks against the coin set
// happen when the block is applied.
func (b Block) ValidateBlock(previousBlock Block, evHandler func(v string, args ...any)) error {
	evHandler("database: ValidateBlock: validate: blk[%d]: check: chain is not forked", b.Header.Number)

	// The node who sent this block has a chain that is two or more blocks
	// ahead of ours. This means there has been a fork and we are on the
	// wrong side.
	nextNumber := previousBlock.Header.Number + 1
	if b.Header.Number >= (nextNumber + 2) {
		return ErrChainForked
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: block difficulty is the same or greater than parent block difficulty", b.Header.Number)

	if b.Header.Difficulty < previousBlock.Header.Difficulty {
		return fmt.Errorf("block difficulty is less than previous block difficulty, parent %d, block %d", previousBlock.Header.Difficulty, b.Header.Difficulty)
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: block hash has been solved", b.Header.Number)

	hash := b.Hash()
	if !isHashSolved(b.Header.Difficulty, hash) {
		return fmt.Errorf("%s invalid block hash", hash)
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: block number is the next number", b.Header.Number)

	if b.Header.Number != nextNumber {
		return fmt.Errorf("this block is not the next number, got %d, exp %d", b.Header.Number, nextNumber)
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: parent hash does match parent block", b.Header.Number)

	if b.Header.PrevBlockHash != previousBlock.Hash() {
		return fmt.Errorf("parent block hash doesn't match our known parent, got %s, exp %s", b.Header.PrevBlockHash, previousBlock.Hash())
	}

	if previousBlock.Header.TimeStamp > 0 {
		evHandler("database: ValidateBlock: validate: blk[%d]: check: block's timestamp is greater than parent block's timestamp", b.Header.Number)

		parentTime := time.Unix(int64(previousBlock.Header.TimeStamp), 0)
		blockTime := time.Unix(int64(b.Header.TimeStamp), 0)
		if !blockTime.After(parentTime) {
			return fmt.Errorf("block timestamp is before parent block, parent %s, block %s", parentTime, blockTime)
		}
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: declared supply is in the money range", b.Header.Number)

	if !currency.Range(b.Header.CashSupply) || !currency.Range(b.Header.BondSupply) {
		return fmt.Errorf("declared supply out of range, cash %d, bond %d", b.Header.CashSupply, b.Header.BondSupply)
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: block is inside the weight limit", b.Header.Number)

	var weight int64
	for _, tx := range b.Trans.Values() {
		weight += tx.Size() * WeightFactor
	}
	if weight > MaxBlockWeight {
		return fmt.Errorf("block weight %d exceeds the limit %d", weight, MaxBlockWeight)
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: merkle root does match transactions", b.Header.Number)

	if b.Header.TransRoot != b.Trans.RootHex() {
		return fmt.Errorf("merkle root does not match transactions, got %s, exp %s", b.Trans.RootHex(), b.Header.TransRoot)
	}

	return nil
}

// isHashSolved checks the hash to make sure it complies with the POW rules.
// We need to match a difficulty number of 0's after the hex prefix.
func isHashSolved(difficulty uint16, hash string) bool {
	const match = "0x00000000000000000"

	if len(hash) != 66 {
		return false
	}

	d := int(difficulty) + 2
	if d > len(match) {
		return false
	}

	return hash[:d] == match[:d]
}

// =============================================================================

// BlockData represents what can be serialized to disk and over the network.
type BlockData struct {
	Hash   string      `json:"hash"`
	Header BlockHeader `json:"block"`
	Trans  []BlockTx   `json:"trans"`
}

// NewBlockData constructs block data from the block.
func NewBlockData(block Block) BlockData {
	blockData := BlockData{
		Hash:   block.Hash(),
		Header: block.Header,
		Trans:  block.Trans.Values(),
	}

	return blockData
}

// ToBlock converts a storage block into a database block.
func ToBlock(blockData BlockData) (Block, error) {
	tree, err := merkle.NewTree(blockData.Trans)
	if err != nil {
		return Block{}, err
	}

	nb := Block{
		Header: blockData.Header,
		Trans:  tree,
	}

	return nb, nil
}
