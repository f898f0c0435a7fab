package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRouterServesMetricsAndHealth(t *testing.T) {
	m := New()
	m.ObserveInteraction("pick_source", 10*time.Millisecond)
	m.ObserveFetch("rates", errors.New("timeout"))
	m.ObserveAlertsFired(2)

	srv := httptest.NewServer(m.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	for _, want := range []string{
		`exchangebot_interactions_total{intent="pick_source"} 1`,
		`exchangebot_source_fetches_total{source="rates",status="error"} 1`,
		`exchangebot_alerts_fired_total 2`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("missing %q in metrics output", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveInteraction("x", time.Second)
	m.ObserveThrottled("global", "interval")
	m.ObserveFetch("rates", nil)
	m.ObserveDelivery("alert", nil)
	m.ObserveAlertsFired(1)
	m.ObserveTick("alerts", nil)
	if m.Registry() != nil {
		t.Fatal("nil metrics has no registry")
	}
}
