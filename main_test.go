package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortio-goat/goatling/metrics"
	"github.com/fortio-goat/goatling/scenario"
	"github.com/fortio-goat/goatling/throttle"
	"github.com/fortio-goat/goatling/vuser"
	"github.com/fortio-goat/goatling/vuser/httpclient"
	"github.com/fortio-goat/goatling/weights"
)

func TestDefaultScenarioIssuesGetAgainstHost(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := defaultScenario()
	plan, err := scenario.Compile(s, weights.RoundRobin, 1)
	if err != nil {
		t.Fatal(err)
	}
	client, err := httpclient.New(httpclient.Config{})
	if err != nil {
		t.Fatal(err)
	}
	agg := metrics.NewAggregator(metrics.CODisabled, nil)
	defer agg.Close()
	u := vuser.New(vuser.Config{
		Plan:     plan,
		BaseURL:  srv.URL,
		Client:   client,
		Metrics:  agg,
		Throttle: throttle.New(0, 1),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		u.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for hits.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a GET against the test server")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done
}
