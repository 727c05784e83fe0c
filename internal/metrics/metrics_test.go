package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestConnectionsOpenTracksGaugeOps(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ConnectionsOpen.Inc()
	m.ConnectionsOpen.Inc()
	m.ConnectionsOpen.Dec()

	if got := gaugeValue(t, m.ConnectionsOpen); got != 1 {
		t.Fatalf("ConnectionsOpen = %v, want 1", got)
	}
}

func TestRequestsTotalLabelsByCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RequestsTotal.WithLabelValues("200").Inc()
	m.RequestsTotal.WithLabelValues("200").Inc()
	m.RequestsTotal.WithLabelValues("404").Inc()

	mf, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := map[string]float64{}
	for _, f := range mf {
		if f.GetName() != "ember_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "code" {
					found[l.GetValue()] = metric.GetCounter().GetValue()
				}
			}
		}
	}
	if found["200"] != 2 || found["404"] != 1 {
		t.Fatalf("unexpected label counts: %+v", found)
	}
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetGauge().GetValue()
}
