package database

import (
	"github.com/cashbond/blockchain/foundation/blockchain/conversion"
	"github.com/cashbond/blockchain/foundation/blockchain/currency"
	"github.com/cashbond/blockchain/foundation/blockchain/signature"
)

// CheckTransaction performs the context free consistency checks every
// transaction must pass before its inputs are even looked at.
func CheckTransaction(tx SignedTx) error {
	if len(tx.Inputs) == 0 {
		return Rejectf(RejectMalformed, "transaction has no inputs")
	}
	if len(tx.Outputs) == 0 {
		return Rejectf(RejectMalformed, "transaction has no outputs")
	}

	if weight := tx.Size() * WeightFactor; weight > MaxBlockWeight {
		return Rejectf(RejectMalformed, "transaction weight %d exceeds block weight limit", weight)
	}

	if tx.IsConversion() {
		if tx.IsCoinbase() {
			return Rejectf(RejectMalformed, "coinbase cannot be a conversion")
		}
		if !tx.Outputs[0].IsFeeMarker() {
			return Rejectf(RejectMalformed, "conversion is missing the fee marker output")
		}
		if !tx.Conversion.RemainderType.Valid() {
			return Rejectf(RejectMalformed, "conversion remainder currency is unknown")
		}
		if owner := tx.Conversion.RemainderOwner; owner != "" && !owner.IsAccountID() {
			return Rejectf(RejectMalformed, "conversion remainder owner is not properly formatted")
		}
	}

	// Output values must be individually and cumulatively in range, and
	// an unspendable fee marker may only sit at index 0 of a conversion.
	var totalOut currency.Amounts
	for i, out := range tx.Outputs {
		if out.IsFeeMarker() && (i != 0 || !tx.IsConversion()) {
			return Rejectf(RejectMalformed, "output %d is unspendable", i)
		}
		if !out.Currency.Valid() {
			return Rejectf(RejectMalformed, "output %d currency is unknown", i)
		}
		if out.Value < 0 {
			return Rejectf(RejectOutOfRange, "output %d value is negative", i)
		}
		if out.Value > currency.MaxMoney {
			return Rejectf(RejectOutOfRange, "output %d value exceeds the money range", i)
		}

		totalOut[out.Currency] += out.Value
		if !currency.Range(totalOut[out.Currency]) {
			return Rejectf(RejectOutOfRange, "total %s output exceeds the money range", out.Currency)
		}
	}

	seen := make(map[OutPoint]struct{}, len(tx.Inputs))
	for _, in := range tx.Inputs {
		if _, exists := seen[in.OutPoint]; exists {
			return Rejectf(RejectDuplicateInput, "input %s spent twice", in.OutPoint)
		}
		seen[in.OutPoint] = struct{}{}
	}

	if !tx.IsCoinbase() {
		for _, in := range tx.Inputs {
			if in.OutPoint.TxID == "" || in.OutPoint.TxID == signature.ZeroHash {
				return Rejectf(RejectMalformed, "input references the null outpoint")
			}
		}
	}

	return nil
}

// CheckTxInputs resolves the transaction's inputs against the coin view,
// enforces coinbase maturity, and returns the fees the transaction pays in
// each currency. For a conversion the fee is whatever the marker output
// declares and the full input and minimum output totals are captured so
// settlement never resolves the coins again.
func CheckTxInputs(tx Tx, view CoinView, spendHeight uint64) (currency.Amounts, *ConversionInfo, error) {
	if !view.HasInputs(tx) {
		return currency.Amounts{}, nil, Rejectf(RejectMissingOrSpent, "inputs missing or already spent for %s", tx.TxID())
	}

	var valueIn currency.Amounts
	for _, in := range tx.Inputs {
		coin, ok := view.AccessCoin(in.OutPoint)
		if !ok {
			return currency.Amounts{}, nil, Rejectf(RejectMissingOrSpent, "input %s missing or already spent", in.OutPoint)
		}

		if coin.Coinbase && spendHeight-coin.Height < CoinbaseMaturity {
			return currency.Amounts{}, nil, Rejectf(RejectPrematureSpend, "coinbase output %s spent at depth %d", in.OutPoint, spendHeight-coin.Height)
		}

		valueIn[coin.Out.Currency] += coin.Out.Value
		if !currency.Range(valueIn[coin.Out.Currency]) {
			return currency.Amounts{}, nil, Rejectf(RejectOutOfRange, "total %s input exceeds the money range", coin.Out.Currency)
		}
	}

	if tx.IsConversion() {
		feeCurrency, feeAmount := tx.ConversionFee()

		var fees currency.Amounts
		fees[feeCurrency] = feeAmount

		info := ConversionInfo{
			Inputs:         valueIn,
			MinOutputs:     tx.ValuesOut(),
			RemainderType:  tx.Conversion.RemainderType,
			Deadline:       tx.Conversion.Deadline,
			RemainderOwner: tx.Conversion.RemainderOwner,
		}

		return fees, &info, nil
	}

	valueOut := tx.ValuesOut()

	var fees currency.Amounts
	for _, c := range currency.Types {
		if valueIn[c] < valueOut[c] {
			return currency.Amounts{}, nil, Rejectf(RejectOutOfRange, "%s value in %d below value out %d", c, valueIn[c], valueOut[c])
		}

		fees[c] = valueIn[c] - valueOut[c]
		if !currency.Range(fees[c]) {
			return currency.Amounts{}, nil, Rejectf(RejectOutOfRange, "%s fee exceeds the money range", c)
		}
	}

	return fees, nil, nil
}

// ValidConversion reports whether the conversion can settle against the
// specified circulating supply without increasing the invariant. The
// supply is not modified.
func ValidConversion(supply currency.Amounts, info ConversionInfo) error {
	scratch := supply
	if _, err := conversion.Apply(&scratch, info.Inputs, info.MinOutputs, info.RemainderType); err != nil {
		return Rejectf(RejectInvalidConversion, "conversion does not satisfy the reserve invariant")
	}

	return nil
}
