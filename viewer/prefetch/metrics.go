package prefetch

import "time"

// multiMetrics forwards every event to each sink in order.
type multiMetrics []Metrics

// MultiMetrics combines several sinks into one, skipping nil entries.
func MultiMetrics(sinks ...Metrics) Metrics {
	out := make(multiMetrics, 0, len(sinks))
	for _, m := range sinks {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

func (mm multiMetrics) ObserveHit() {
	for _, m := range mm {
		m.ObserveHit()
	}
}

func (mm multiMetrics) ObserveWait() {
	for _, m := range mm {
		m.ObserveWait()
	}
}

func (mm multiMetrics) ObserveMiss() {
	for _, m := range mm {
		m.ObserveMiss()
	}
}

func (mm multiMetrics) ObserveDecode(duration time.Duration, err error) {
	for _, m := range mm {
		m.ObserveDecode(duration, err)
	}
}

func (mm multiMetrics) ObserveEviction(n int) {
	for _, m := range mm {
		m.ObserveEviction(n)
	}
}

func (mm multiMetrics) SetWarm(pending, completed int) {
	for _, m := range mm {
		m.SetWarm(pending, completed)
	}
}
