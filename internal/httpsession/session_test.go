package httpsession

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPoolSharesClientsPerVerifyFlag(t *testing.T) {
	pool := NewPool()
	defer pool.Close()

	if pool.Get(false) != pool.Get(false) {
		t.Fatalf("expected the same client for the same flag")
	}
	if pool.Get(false) == pool.Get(true) {
		t.Fatalf("expected distinct clients per verify flag")
	}
}

func TestWrapRecordsStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = io.WriteString(w, "short and stout")
	}))
	defer server.Close()

	client := Wrap(server.Client())
	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()

	host := resp.Request.URL.Host
	if got := testutil.ToFloat64(lastStatusGauge.WithLabelValues(host)); got != http.StatusTeapot {
		t.Fatalf("unexpected last status: %v", got)
	}
	if got := testutil.ToFloat64(requestsTotal.WithLabelValues(host, "418")); got != 1 {
		t.Fatalf("unexpected request count: %v", got)
	}
}
