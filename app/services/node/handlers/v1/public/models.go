package public

import (
	"github.com/cashbond/blockchain/foundation/blockchain/currency"
	"github.com/cashbond/blockchain/foundation/blockchain/database"
	"github.com/cashbond/blockchain/foundation/blockchain/mempool"
	"github.com/cashbond/blockchain/foundation/nameservice"
)

// money represents a value held in each currency.
type money struct {
	Cash currency.Amount `json:"cash"`
	Bond currency.Amount `json:"bond"`
}

func toMoney(amounts currency.Amounts) money {
	return money{
		Cash: amounts[currency.Cash],
		Bond: amounts[currency.Bond],
	}
}

// balance represents an account balance with its known name.
type balance struct {
	Account string          `json:"account"`
	Name    string          `json:"name,omitempty"`
	Cash    currency.Amount `json:"cash"`
	Bond    currency.Amount `json:"bond"`
}

// balances is the response for the balance queries.
type balances struct {
	LastestBlock string    `json:"lastest_block"`
	Uncommitted  int       `json:"uncommitted"`
	Balances     []balance `json:"balances"`
}

// utxo represents a single unspent output owned by an account.
type utxo struct {
	TxID     string          `json:"txid"`
	Index    uint32          `json:"index"`
	Currency string          `json:"currency"`
	Value    currency.Amount `json:"value"`
	Height   uint64          `json:"height"`
	Coinbase bool            `json:"coinbase"`
}

// input identifies the coin a transaction spends.
type input struct {
	TxID  string `json:"txid"`
	Index uint32 `json:"index"`
}

// output represents the value a transaction pays to an owner. The fee
// marker of a conversion has no owner.
type output struct {
	Owner     string          `json:"owner,omitempty"`
	OwnerName string          `json:"owner_name,omitempty"`
	Currency  string          `json:"currency"`
	Value     currency.Amount `json:"value"`
}

// conversion represents the conversion declaration of a transaction.
type conversion struct {
	RemainderType  string `json:"remainder_type"`
	Deadline       uint64 `json:"deadline"`
	RemainderOwner string `json:"remainder_owner,omitempty"`
}

// tx represents a committed transaction with names resolved.
type tx struct {
	TxID       string      `json:"txid"`
	From       string      `json:"from,omitempty"`
	FromName   string      `json:"from_name,omitempty"`
	Nonce      uint64      `json:"nonce"`
	Inputs     []input     `json:"inputs"`
	Outputs    []output    `json:"outputs"`
	LockTime   uint64      `json:"lock_time"`
	Conversion *conversion `json:"conversion,omitempty"`
	Sig        string      `json:"sig,omitempty"`
	TimeStamp  uint64      `json:"timestamp"`
}

// block represents a committed block with names resolved.
type block struct {
	Hash            string          `json:"hash"`
	PrevBlockHash   string          `json:"prev_block_hash"`
	TimeStamp       uint64          `json:"timestamp"`
	Nonce           uint64          `json:"nonce"`
	Beneficiary     string          `json:"beneficiary"`
	BeneficiaryName string          `json:"beneficiary_name,omitempty"`
	Difficulty      uint16          `json:"difficulty"`
	Number          uint64          `json:"number"`
	CashSupply      currency.Amount `json:"cash_supply"`
	BondSupply      currency.Amount `json:"bond_supply"`
	TransRoot       string          `json:"trans_root"`
	Transactions    []tx            `json:"trans"`
}

// poolTx represents an uncommitted transaction in the pool.
type poolTx struct {
	TxID          string          `json:"txid"`
	From          string          `json:"from,omitempty"`
	FromName      string          `json:"from_name,omitempty"`
	Nonce         uint64          `json:"nonce"`
	Size          int64           `json:"size"`
	Fees          money           `json:"fees"`
	ModifiedFees  money           `json:"modified_fees"`
	NormalizedFee currency.Amount `json:"normalized_fee"`
	Conversion    *conversion     `json:"conversion,omitempty"`
	Time          int64           `json:"time"`
}

// =============================================================================

func toConversion(decl *database.ConversionDecl) *conversion {
	if decl == nil {
		return nil
	}

	return &conversion{
		RemainderType:  decl.RemainderType.String(),
		Deadline:       decl.Deadline,
		RemainderOwner: string(decl.RemainderOwner),
	}
}

func toTx(ns *nameservice.NameService, blockTx database.BlockTx) tx {

	// The coinbase carries no signature to recover an account from.
	var from database.AccountID
	if !blockTx.IsCoinbase() {
		from, _ = blockTx.FromAccount()
	}

	inputs := make([]input, len(blockTx.Inputs))
	for i, in := range blockTx.Inputs {
		inputs[i] = input{
			TxID:  in.OutPoint.TxID,
			Index: in.OutPoint.Index,
		}
	}

	outputs := make([]output, len(blockTx.Outputs))
	for i, out := range blockTx.Outputs {
		outputs[i] = output{
			Owner:    string(out.OwnerID),
			Currency: out.Currency.String(),
			Value:    out.Value,
		}
		if out.OwnerID != "" {
			outputs[i].OwnerName = ns.Lookup(out.OwnerID)
		}
	}

	t := tx{
		TxID:      blockTx.TxID(),
		From:      string(from),
		Nonce:     blockTx.Nonce,
		Inputs:    inputs,
		Outputs:   outputs,
		LockTime:  blockTx.LockTime,
		TimeStamp: blockTx.TimeStamp,
	}

	if from != "" {
		t.FromName = ns.Lookup(from)
		t.Sig = blockTx.SignatureString()
	}

	t.Conversion = toConversion(blockTx.Conversion)

	return t
}

func toBlock(ns *nameservice.NameService, blk database.Block) block {
	values := blk.Trans.Values()

	trans := make([]tx, len(values))
	for i, blockTx := range values {
		trans[i] = toTx(ns, blockTx)
	}

	return block{
		Hash:            blk.Hash(),
		PrevBlockHash:   blk.Header.PrevBlockHash,
		TimeStamp:       blk.Header.TimeStamp,
		Nonce:           blk.Header.Nonce,
		Beneficiary:     string(blk.Header.BeneficiaryID),
		BeneficiaryName: ns.Lookup(blk.Header.BeneficiaryID),
		Difficulty:      blk.Header.Difficulty,
		Number:          blk.Header.Number,
		CashSupply:      blk.Header.CashSupply,
		BondSupply:      blk.Header.BondSupply,
		TransRoot:       blk.Header.TransRoot,
		Transactions:    trans,
	}
}

func toPoolTx(ns *nameservice.NameService, from database.AccountID, info mempool.EntryInfo) poolTx {
	t := poolTx{
		TxID:          info.TxID,
		From:          string(from),
		Nonce:         info.Tx.Nonce,
		Size:          info.Size,
		Fees:          toMoney(info.Fees),
		ModifiedFees:  toMoney(info.ModifiedFees),
		NormalizedFee: info.NormalizedFee,
		Time:          info.Time,
	}

	if from != "" {
		t.FromName = ns.Lookup(from)
	}

	t.Conversion = toConversion(info.Tx.Conversion)

	return t
}
