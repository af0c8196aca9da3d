package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// CounterValue reads the current value of cv for the series matching labels. It returns
// 0 when no such series exists. Used by the admin stats endpoint and by tests.
func CounterValue(cv *prometheus.CounterVec, labels prometheus.Labels) float64 {
	ch := make(chan prometheus.Metric, 32)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()

	var total float64
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		if labelsMatch(dm.GetLabel(), labels) {
			total += dm.GetCounter().GetValue()
		}
	}
	return total
}

// PlainCounterValue reads the value of a non-vector counter.
func PlainCounterValue(c prometheus.Counter) float64 {
	var dm dto.Metric
	if err := c.Write(&dm); err != nil {
		return 0
	}
	return dm.GetCounter().GetValue()
}

// GaugeValue reads the value of a gauge.
func GaugeValue(g prometheus.Gauge) float64 {
	var dm dto.Metric
	if err := g.Write(&dm); err != nil {
		return 0
	}
	return dm.GetGauge().GetValue()
}

// labelsMatch returns true when all entries in want appear in got.
func labelsMatch(got []*dto.LabelPair, want prometheus.Labels) bool {
	for k, v := range want {
		found := false
		for _, lp := range got {
			if lp.GetName() == k && lp.GetValue() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
