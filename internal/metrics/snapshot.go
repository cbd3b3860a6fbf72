package metrics

import (
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/client_golang/prometheus"
)

type dtoMetric struct {
	value float64
}

// writeMetric reads a single-valued prometheus.Metric's current value via
// its Write method, the same low-level mechanism promhttp itself uses to
// serialise a collector.
func writeMetric(m prometheus.Metric, out *dtoMetric) error {
	var pb dto.Metric
	if err := m.Write(&pb); err != nil {
		return err
	}
	switch {
	case pb.Counter != nil:
		out.value = pb.Counter.GetValue()
	case pb.Gauge != nil:
		out.value = pb.Gauge.GetValue()
	}
	return nil
}

func readCounterVec(v *prometheus.CounterVec, labelNames ...string) map[string]float64 {
	out := make(map[string]float64)
	ch := make(chan prometheus.Metric)
	go func() {
		v.Collect(ch)
		close(ch)
	}()
	for m := range ch {
		var pb dto.Metric
		if err := m.Write(&pb); err != nil {
			continue
		}
		out[labelKey(pb.GetLabel())] = pb.Counter.GetValue()
	}
	return out
}

func readGaugeVec(v *prometheus.GaugeVec, labelNames ...string) map[string]float64 {
	out := make(map[string]float64)
	ch := make(chan prometheus.Metric)
	go func() {
		v.Collect(ch)
		close(ch)
	}()
	for m := range ch {
		var pb dto.Metric
		if err := m.Write(&pb); err != nil {
			continue
		}
		out[labelKey(pb.GetLabel())] = pb.Gauge.GetValue()
	}
	return out
}

func labelKey(pairs []*dto.LabelPair) string {
	if len(pairs) == 0 {
		return ""
	}
	return pairs[0].GetValue()
}
