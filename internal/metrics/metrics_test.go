package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RTPPacketsReceived.WithLabelValues("video").Add(3)
	r.HLSSegmentsActive.WithLabelValues("video").Set(2)

	var m dto.Metric
	if err := r.RTPPacketsReceived.WithLabelValues("video").Write(&m); err != nil {
		t.Fatal(err)
	}
	if m.GetCounter().GetValue() != 3 {
		t.Errorf("got %v, want 3", m.GetCounter().GetValue())
	}

	var g dto.Metric
	if err := r.HLSSegmentsActive.WithLabelValues("video").Write(&g); err != nil {
		t.Fatal(err)
	}
	if g.GetGauge().GetValue() != 2 {
		t.Errorf("got %v, want 2", g.GetGauge().GetValue())
	}
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	New(reg)
}
