// Package private maintains the group of handlers for operator access.
package private

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/cashbond/blockchain/business/web/errs"
	"github.com/cashbond/blockchain/foundation/blockchain/currency"
	"github.com/cashbond/blockchain/foundation/blockchain/database"
	"github.com/cashbond/blockchain/foundation/blockchain/state"
	"github.com/cashbond/blockchain/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of operator endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
}

// status is the response for the node status query.
type status struct {
	LatestBlockHash   string          `json:"latest_block_hash"`
	LatestBlockNumber uint64          `json:"latest_block_number"`
	Beneficiary       string          `json:"beneficiary"`
	CashSupply        currency.Amount `json:"cash_supply"`
	BondSupply        currency.Amount `json:"bond_supply"`
	PoolLength        int             `json:"pool_length"`
	PoolBytes         int64           `json:"pool_bytes"`
	PoolCashFees      currency.Amount `json:"pool_cash_fees"`
	PoolBondFees      currency.Amount `json:"pool_bond_fees"`
	MinFeePerKB       currency.Amount `json:"min_fee_per_kb"`
	EstimatedFeePerKB currency.Amount `json:"estimated_fee_per_kb"`
}

// Status returns the current status of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	latestBlock := h.State.RetrieveLatestBlock()
	supply := h.State.RetrieveTotalSupply()
	poolFees := h.State.RetrievePoolFees()

	resp := status{
		LatestBlockHash:   latestBlock.Hash(),
		LatestBlockNumber: latestBlock.Header.Number,
		Beneficiary:       string(h.State.RetrieveBeneficiaryID()),
		CashSupply:        supply[currency.Cash],
		BondSupply:        supply[currency.Bond],
		PoolLength:        h.State.QueryMempoolLength(),
		PoolBytes:         h.State.RetrievePoolBytes(),
		PoolCashFees:      poolFees[currency.Cash],
		PoolBondFees:      poolFees[currency.Bond],
		MinFeePerKB:       h.State.RetrievePoolMinFee().PerKB(),
		EstimatedFeePerKB: h.State.RetrieveFeeEstimate().PerKB(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Fees returns the current fee pressure of the pool.
func (h Handlers) Fees(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	poolFees := h.State.RetrievePoolFees()

	resp := struct {
		MinFeePerKB       currency.Amount `json:"min_fee_per_kb"`
		EstimatedFeePerKB currency.Amount `json:"estimated_fee_per_kb"`
		PoolBytes         int64           `json:"pool_bytes"`
		PoolCashFees      currency.Amount `json:"pool_cash_fees"`
		PoolBondFees      currency.Amount `json:"pool_bond_fees"`
	}{
		MinFeePerKB:       h.State.RetrievePoolMinFee().PerKB(),
		EstimatedFeePerKB: h.State.RetrieveFeeEstimate().PerKB(),
		PoolBytes:         h.State.RetrievePoolBytes(),
		PoolCashFees:      poolFees[currency.Cash],
		PoolBondFees:      poolFees[currency.Bond],
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// BlocksByNumber returns the blocks in the specified range in wire form.
func (h Handlers) BlocksByNumber(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	fromStr := web.Param(r, "from")
	if fromStr == "latest" || fromStr == "" {
		fromStr = fmt.Sprintf("%d", state.QueryLastest)
	}

	toStr := web.Param(r, "to")
	if toStr == "latest" || toStr == "" {
		toStr = fmt.Sprintf("%d", state.QueryLastest)
	}

	from, err := strconv.ParseUint(fromStr, 10, 64)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}
	to, err := strconv.ParseUint(toStr, 10, 64)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if from > to {
		return errs.NewTrusted(fmt.Errorf("from %d is greater than to %d", from, to), http.StatusBadRequest)
	}

	dbBlocks := h.State.QueryBlocksByNumber(from, to)
	if len(dbBlocks) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	blockData := make([]database.BlockData, len(dbBlocks))
	for i, blk := range dbBlocks {
		blockData[i] = database.NewBlockData(blk)
	}

	return web.Respond(ctx, w, blockData, http.StatusOK)
}

// RevertBlock detaches the latest block from the chain and returns its
// transactions to the pool.
func (h Handlers) RevertBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	block, err := h.State.RevertLatestBlock()
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	h.Log.Infow("reverted block", "traceid", v.TraceID, "block", block.Header.Number, "hash", block.Hash())

	return web.Respond(ctx, w, database.NewBlockData(block), http.StatusOK)
}

// Prioritise adjusts the fee standing of a pool transaction by the
// specified delta.
func (h Handlers) Prioritise(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var req struct {
		TxID  string          `json:"txid" validate:"required"`
		Delta currency.Amount `json:"delta" validate:"required"`
	}
	if err := web.Decode(r, &req); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}

	h.Log.Infow("prioritise tran", "traceid", v.TraceID, "txid", req.TxID, "delta", req.Delta)
	h.State.PrioritiseTransaction(req.TxID, req.Delta)

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "transaction prioritised",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// CheckPool verifies the internal consistency of the pool against the
// confirmed coin set.
func (h Handlers) CheckPool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	h.State.CheckPool()

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "pool consistent",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}
