package database

// Coin represents one unspent transaction output together with the context
// of the block that created it.
type Coin struct {
	Out      TxOut  `json:"out"`
	Height   uint64 `json:"height"`
	Coinbase bool   `json:"coinbase"`
}

// CoinView provides read access to a set of unspent outputs. The database
// implements it over the confirmed chain and the transaction pool layers
// its own unconfirmed outputs on top.
type CoinView interface {
	AccessCoin(op OutPoint) (Coin, bool)
	HasInputs(tx Tx) bool
}

// UTXO pairs a coin with the outpoint that identifies it, for wallet and
// query surfaces.
type UTXO struct {
	OutPoint OutPoint `json:"outpoint"`
	Coin     Coin     `json:"coin"`
}
