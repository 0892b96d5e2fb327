package mid

import (
	"context"
	"expvar"
	"net/http"
	"runtime"

	"github.com/cashbond/blockchain/foundation/web"
)

// m contains the single instance of the metrics the middleware maintains.
// These values are exposed through the debug endpoint via expvar.
var m = struct {
	goroutines *expvar.Int
	requests   *expvar.Int
	errors     *expvar.Int
	panics     *expvar.Int
}{
	goroutines: expvar.NewInt("goroutines"),
	requests:   expvar.NewInt("requests"),
	errors:     expvar.NewInt("errors"),
	panics:     expvar.NewInt("panics"),
}

// Metrics updates program counters.
func Metrics() web.Middleware {

	// This is the actual middleware function to be executed.
	mw := func(handler web.Handler) web.Handler {

		// Create the handler that will be attached in the middleware chain.
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			// Call the next handler.
			err := handler(ctx, w, r)

			// Increment the request and error counters.
			m.requests.Add(1)
			if err != nil {
				m.errors.Add(1)
			}

			// Update the count for the number of active goroutines every
			// 100 requests.
			if m.requests.Value()%100 == 0 {
				m.goroutines.Set(int64(runtime.NumGoroutine()))
			}

			// Return the error so it can be handled further up the chain.
			return err
		}

		return h
	}

	return mw
}
