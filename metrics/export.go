package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"

	"fortio.org/log"
	"fortio.org/scli"
)

// Exporter returns an http.HandlerFunc writing a's state as Prometheus text
// exposition format, generalized from fortio's metrics.Exporter (same
// fortio_num_fd/fortio_goroutines gauges via scli.NumFD, retargeted at this
// project's request/error/user counters instead of rapi's run counts).
func (a *Aggregator) Exporter() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.LogRequest(r, "metrics")
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		snap, err := a.Snapshot(ctx)
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if err != nil {
			http.Error(w, err.Error(), http.StatusGatewayTimeout)
			return
		}
		writeGauge(w, "goatling_num_fd", float64(scli.NumFD()))
		writeGauge(w, "goatling_goroutines", float64(runtime.NumGoroutine()))
		writeGauge(w, "goatling_active_users", float64(snap.ActiveUsers))
		writeCounter(w, "goatling_dropped_metrics_total", float64(snap.Dropped))

		var reqTotal, reqFail int64
		for _, b := range snap.Requests {
			reqTotal += b.Success + b.Fail
			reqFail += b.Fail
		}
		writeCounter(w, "goatling_requests_total", float64(reqTotal))
		writeCounter(w, "goatling_request_errors_total", float64(reqFail))

		var txnTotal, txnFail int64
		for _, b := range snap.Transactions {
			txnTotal += b.Success + b.Fail
			txnFail += b.Fail
		}
		writeCounter(w, "goatling_transactions_total", float64(txnTotal))
		writeCounter(w, "goatling_transaction_errors_total", float64(txnFail))
	}
}

func writeGauge(w io.Writer, name string, v float64) {
	fmt.Fprintf(w, "# TYPE %s gauge\n%s %v\n", name, name, v)
}

func writeCounter(w io.Writer, name string, v float64) {
	fmt.Fprintf(w, "# TYPE %s counter\n%s %v\n", name, name, v)
}
