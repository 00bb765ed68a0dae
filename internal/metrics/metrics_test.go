package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCollectorExposesRelayMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("teleconsult", reg)

	c.RoomsCreated.Inc()
	c.SignalsSent.WithLabelValues("offer").Inc()
	c.SignalsFetched.Add(3)

	srv := httptest.NewServer(Handler(reg))
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	for _, want := range []string{
		"teleconsult_rtc_rooms_created_total 1",
		`teleconsult_rtc_signals_sent_total{type="offer"} 1`,
		"teleconsult_rtc_signals_fetched_total 3",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestCollectorsAreIsolatedPerRegistry(t *testing.T) {
	NewCollector("a", prometheus.NewRegistry())
	NewCollector("a", prometheus.NewRegistry())
}
