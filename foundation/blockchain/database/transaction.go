package database

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/cashbond/blockchain/foundation/blockchain/currency"
	"github.com/cashbond/blockchain/foundation/blockchain/signature"
)

// CoinbaseOutPointIndex is the output index used by the single null input
// of a coinbase transaction.
const CoinbaseOutPointIndex uint32 = 0xFFFFFFFF

// SigOpCostPerInput is the accounting cost charged for verifying one input
// signature, measured against MaxBlockSigOpsCost.
const SigOpCostPerInput int64 = 20

// =============================================================================

// OutPoint identifies a single output of a previous transaction.
type OutPoint struct {
	TxID  string `json:"txid"`  // Transaction that created the output.
	Index uint32 `json:"index"` // Position of the output in that transaction.
}

// String implements the fmt.Stringer interface.
func (op OutPoint) String() string {
	return fmt.Sprintf("%s:%d", op.TxID, op.Index)
}

// TxIn represents a reference to an output being spent.
type TxIn struct {
	OutPoint OutPoint `json:"outpoint"`
}

// TxOut represents value assigned to an account in one of the two
// currencies. An output with an empty owner id is unspendable; the only
// legal use of one is the fee marker at index 0 of a conversion.
type TxOut struct {
	OwnerID  AccountID         `json:"owner"`
	Currency currency.Currency `json:"currency"`
	Value    currency.Amount   `json:"value"`
}

// IsFeeMarker reports whether the output is a conversion fee marker.
func (out TxOut) IsFeeMarker() bool {
	return out.OwnerID == ""
}

// ConversionDecl declares a transaction trades one currency for the other
// against the reserve. The deadline is a block height after which the
// conversion may no longer be mined, zero meaning no deadline. The
// remainder owner receives whatever amount is left over when the trade
// settles above its declared minimum; when empty the remainder goes to
// the miner as fees.
type ConversionDecl struct {
	RemainderType  currency.Currency `json:"remainder_type"`
	Deadline       uint64            `json:"deadline"`
	RemainderOwner AccountID         `json:"remainder_owner"`
}

// =============================================================================

// Tx is the core transactional information recorded on the blockchain.
// For a coinbase transaction the nonce carries the block height so every
// coinbase has a unique id.
type Tx struct {
	ChainID    uint16          `json:"chain_id"` // Unique id of the chain this transaction belongs to.
	Nonce      uint64          `json:"nonce"`    // Wallet supplied value making retries distinguishable.
	Inputs     []TxIn          `json:"inputs"`
	Outputs    []TxOut         `json:"outputs"`
	LockTime   uint64          `json:"lock_time"`            // Earliest height or unix time the transaction is final.
	Conversion *ConversionDecl `json:"conversion,omitempty"` // Present when the transaction converts currencies.
}

// NewTx constructs a new transaction and validates the output owners are
// properly formatted.
func NewTx(chainID uint16, nonce uint64, inputs []TxIn, outputs []TxOut, conversion *ConversionDecl) (Tx, error) {
	for i, out := range outputs {
		if out.IsFeeMarker() {
			if conversion == nil || i != 0 {
				return Tx{}, fmt.Errorf("output %d is not properly formatted", i)
			}
			continue
		}
		if !out.OwnerID.IsAccountID() {
			return Tx{}, fmt.Errorf("output %d owner is not properly formatted", i)
		}
	}

	tx := Tx{
		ChainID:    chainID,
		Nonce:      nonce,
		Inputs:     inputs,
		Outputs:    outputs,
		Conversion: conversion,
	}

	return tx, nil
}

// TxID returns the unique id for the transaction. The id covers only the
// core transaction so it is known before signing and is shared by the
// unsigned coinbase.
func (tx Tx) TxID() string {
	return signature.Hash(tx)
}

// IsCoinbase reports whether the transaction mints the block reward. A
// coinbase has exactly one input referencing the null outpoint.
func (tx Tx) IsCoinbase() bool {
	if len(tx.Inputs) != 1 {
		return false
	}

	op := tx.Inputs[0].OutPoint
	return op.TxID == signature.ZeroHash && op.Index == CoinbaseOutPointIndex
}

// IsConversion reports whether the transaction declares a currency
// conversion.
func (tx Tx) IsConversion() bool {
	return tx.Conversion != nil
}

// ValuesOut returns the total value created by the transaction in each
// currency, including the conversion fee marker.
func (tx Tx) ValuesOut() currency.Amounts {
	var total currency.Amounts
	for _, out := range tx.Outputs {
		total[out.Currency] = currency.SaturatingAdd(total[out.Currency], out.Value)
	}

	return total
}

// ConversionFee returns the currency and amount carried by the fee marker
// output. The transaction must be a conversion that has passed
// CheckTransaction first.
func (tx Tx) ConversionFee() (currency.Currency, currency.Amount) {
	marker := tx.Outputs[0]
	return marker.Currency, marker.Value
}

// IsFinal reports whether the transaction can be mined at the specified
// height and block time. A lock time below the unix time threshold is
// compared against the height, otherwise against the time.
func (tx Tx) IsFinal(height uint64, blockTime uint64) bool {
	const lockTimeThreshold = 500_000_000

	if tx.LockTime == 0 {
		return true
	}

	cutoff := blockTime
	if tx.LockTime < lockTimeThreshold {
		cutoff = height
	}

	return tx.LockTime < cutoff
}

// SigOpCost returns the signature verification cost charged against the
// block budget for this transaction.
func (tx Tx) SigOpCost() int64 {
	return int64(len(tx.Inputs)) * SigOpCostPerInput
}

// Sign uses the specified private key to sign the transaction.
func (tx Tx) Sign(privateKey *ecdsa.PrivateKey) (SignedTx, error) {
	v, r, s, err := signature.Sign(tx, privateKey)
	if err != nil {
		return SignedTx{}, err
	}

	signedTx := SignedTx{
		Tx: tx,
		V:  v,
		R:  r,
		S:  s,
	}

	return signedTx, nil
}

// =============================================================================

// SignedTx is a signed version of the transaction. This is how clients like
// a wallet provide transactions for inclusion into the blockchain. The
// account recovered from the signature must own every coin the transaction
// spends. A coinbase carries no signature.
type SignedTx struct {
	Tx
	V *big.Int `json:"v"` // Recovery identifier, either 31 or 32 with the ledger id.
	R *big.Int `json:"r"` // First coordinate of the ECDSA signature.
	S *big.Int `json:"s"` // Second coordinate of the ECDSA signature.
}

// Validate verifies the transaction has a proper signature that conforms to
// this ledger's standards, is associated with the data claimed to be signed,
// and belongs to the specified chain.
func (tx SignedTx) Validate(chainID uint16) error {
	if tx.ChainID != chainID {
		return fmt.Errorf("invalid chain id, got %d, exp %d", tx.ChainID, chainID)
	}

	if tx.IsCoinbase() {
		return errors.New("coinbase cannot be submitted")
	}

	if err := signature.VerifySignature(tx.V, tx.R, tx.S); err != nil {
		return err
	}

	return nil
}

// FromAccount extracts the account id that signed the transaction.
func (tx SignedTx) FromAccount() (AccountID, error) {
	address, err := signature.FromAddress(tx.Tx, tx.V, tx.R, tx.S)
	return AccountID(address), err
}

// SignatureString returns the signature as a string.
func (tx SignedTx) SignatureString() string {
	return signature.SignatureString(tx.V, tx.R, tx.S)
}

// Size returns the serialized size of the transaction in bytes, the unit
// all feerates and pool usage accounting are measured against.
func (tx SignedTx) Size() int64 {
	data, err := json.Marshal(tx)
	if err != nil {
		return 0
	}

	return int64(len(data))
}

// String implements the fmt.Stringer interface for logging.
func (tx SignedTx) String() string {
	from, err := tx.FromAccount()
	if err != nil {
		from = "unknown"
	}

	return fmt.Sprintf("%s:%d", from, tx.Nonce)
}

// =============================================================================

// BlockTx represents the transaction as it's recorded inside a block. This
// includes a timestamp of when it was received.
type BlockTx struct {
	SignedTx
	TimeStamp uint64 `json:"timestamp"` // The time the transaction was received.
}

// NewBlockTx constructs a new block transaction.
func NewBlockTx(signedTx SignedTx, timeStamp uint64) BlockTx {
	return BlockTx{
		SignedTx:  signedTx,
		TimeStamp: timeStamp,
	}
}

// Hash implements the merkle Hashable interface for providing a hash
// of a block transaction.
func (tx BlockTx) Hash() ([]byte, error) {
	str := signature.Hash(tx)
	return hex.DecodeString(str[2:])
}

// Equals implements the merkle Hashable interface for providing an equality
// check between two block transactions. Two transactions with the same core
// id are the same transaction.
func (tx BlockTx) Equals(otherTx BlockTx) bool {
	return tx.TxID() == otherTx.TxID()
}

// =============================================================================

// ConversionInfo captures everything input resolution learned about a
// conversion so settlement code never needs to look the coins up again.
type ConversionInfo struct {
	Inputs         currency.Amounts  // Value consumed from the spent coins, per currency.
	MinOutputs     currency.Amounts  // Value the transaction insists on creating, per currency.
	RemainderType  currency.Currency // Currency the settlement remainder is paid in.
	Deadline       uint64            // Height after which the conversion may no longer be mined.
	RemainderOwner AccountID         // Account paid the remainder, or empty for the miner.
}

// Expired reports whether the conversion may no longer be mined at the
// specified height.
func (ci ConversionInfo) Expired(height uint64) bool {
	return ci.Deadline != 0 && ci.Deadline < height
}
