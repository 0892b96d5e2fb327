package worker

import "time"

// janitorOperations periodically expires stale pool transactions and
// re-checks the pool byte budget.
func (w *Worker) janitorOperations() {
	w.evHandler("worker: janitorOperations: G started")
	defer w.evHandler("worker: janitorOperations: G completed")

	for {
		select {
		case <-w.ticker.C:
			if !w.isShutdown() {
				w.runJanitorOperation()
			}
		case <-w.shut:
			w.evHandler("worker: janitorOperations: received shut signal")
			return
		}
	}
}

// runJanitorOperation sweeps the transaction pool once.
func (w *Worker) runJanitorOperation() {
	w.evHandler("worker: runJanitorOperation: JANITOR: started")
	defer w.evHandler("worker: runJanitorOperation: JANITOR: completed")

	cutoff := time.Now().Add(-maxPoolTxAge)
	if dropped := w.state.ExpireTransactions(cutoff); dropped > 0 {
		w.evHandler("worker: runJanitorOperation: JANITOR: expired[%d]", dropped)
	}

	w.state.TrimTransactionPool()
}
