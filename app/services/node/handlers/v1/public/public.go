// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cashbond/blockchain/business/web/errs"
	"github.com/cashbond/blockchain/foundation/blockchain/database"
	"github.com/cashbond/blockchain/foundation/blockchain/state"
	"github.com/cashbond/blockchain/foundation/events"
	"github.com/cashbond/blockchain/foundation/nameservice"
	"github.com/cashbond/blockchain/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of public endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	NS    *nameservice.NameService
	WS    websocket.Upgrader
	Evts  *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	// Need to pull the upgrader out to access the response writer.
	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	h.Log.Infow("websocket open", "path", "/v1/events", "traceid", v.TraceID)
	defer h.Log.Infow("websocket closed", "path", "/v1/events", "traceid", v.TraceID)

	// This provides a channel for receiving events from the blockchain.
	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	// Starting a ticker to send a ping message over the websocket.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:

			// If the channel is closed, release the websocket.
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// SubmitWalletTransaction adds a new signed transaction to the mempool.
func (h Handlers) SubmitWalletTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	// Decode the JSON in the post call into a signed transaction.
	var signedTx database.SignedTx
	if err := web.Decode(r, &signedTx); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}

	// Ask the state package to add this transaction to the mempool and
	// perform the rest of the admission checks.
	h.Log.Infow("add wallet tran", "traceid", v.TraceID, "txid", signedTx.TxID(), "nonce", signedTx.Nonce)
	if err := h.State.UpsertWalletTransaction(signedTx); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "transaction added to mempool",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Genesis returns the genesis information.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	gen := h.State.RetrieveGenesis()
	return web.Respond(ctx, w, gen, http.StatusOK)
}

// Balances returns the current balances for all accounts or the specified
// account.
func (h Handlers) Balances(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	accountStr := web.Param(r, "account")

	var accountBalances []database.AccountBalance
	switch accountStr {
	case "":
		accountBalances = h.State.RetrieveBalances()

	default:
		accountID, err := database.ToAccountID(accountStr)
		if err != nil {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
		accountBalances = []database.AccountBalance{h.State.QueryBalances(accountID)}
	}

	bals := make([]balance, len(accountBalances))
	for i, ab := range accountBalances {
		bals[i] = balance{
			Account: string(ab.AccountID),
			Name:    h.NS.Lookup(ab.AccountID),
			Cash:    ab.Cash,
			Bond:    ab.Bond,
		}
	}

	resp := balances{
		LastestBlock: h.State.RetrieveLatestBlock().Hash(),
		Uncommitted:  h.State.QueryMempoolLength(),
		Balances:     bals,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// UnspentOutputs returns the set of coins spendable by the specified
// account.
func (h Handlers) UnspentOutputs(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	accountID, err := database.ToAccountID(web.Param(r, "account"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	utxos := h.State.QueryUnspentOutputs(accountID)

	resp := make([]utxo, len(utxos))
	for i, u := range utxos {
		resp[i] = utxo{
			TxID:     u.OutPoint.TxID,
			Index:    u.OutPoint.Index,
			Currency: u.Coin.Out.Currency.String(),
			Value:    u.Coin.Out.Value,
			Height:   u.Coin.Height,
			Coinbase: u.Coin.Coinbase,
		}
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// BlocksByAccount returns the blocks that carry value for the specified
// account, or all blocks when no account is provided.
func (h Handlers) BlocksByAccount(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var accountID database.AccountID
	if accountStr := web.Param(r, "account"); accountStr != "" {
		var err error
		accountID, err = database.ToAccountID(accountStr)
		if err != nil {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
	}

	dbBlocks, err := h.State.QueryBlocksByAccount(accountID)
	if err != nil {
		return err
	}
	if len(dbBlocks) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	blocks := make([]block, len(dbBlocks))
	for i, blk := range dbBlocks {
		blocks[i] = toBlock(h.NS, blk)
	}

	return web.Respond(ctx, w, blocks, http.StatusOK)
}

// Mempool returns the set of uncommitted transactions, optionally limited
// to those that touch the specified account.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	acct := web.Param(r, "account")

	infos := h.State.QueryMempool()

	trans := make([]poolTx, 0, len(infos))
	for _, info := range infos {
		from, _ := info.Tx.FromAccount()

		if acct != "" && acct != string(from) && !paysAccount(info.Tx, acct) {
			continue
		}

		trans = append(trans, toPoolTx(h.NS, from, info))
	}

	return web.Respond(ctx, w, trans, http.StatusOK)
}

// SignalMining signals the node to mine the next block from the pool.
func (h Handlers) SignalMining(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	h.State.Worker.SignalStartMining()

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "mining signaled",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// paysAccount reports whether any output of the transaction pays the
// specified account.
func paysAccount(tx database.BlockTx, acct string) bool {
	for _, out := range tx.Outputs {
		if string(out.OwnerID) == acct {
			return true
		}
	}
	return false
}
