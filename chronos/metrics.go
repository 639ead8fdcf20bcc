package chronos

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Exposes an authority's state as Prometheus metrics.
type Collector struct {
	authority *Authority
	wall      func() time.Time

	initialized        *prometheus.Desc
	nowSeconds         *prometheus.Desc
	deviceOffset       *prometheus.Desc
	elapsedWhileClosed *prometheus.Desc
	resolutions        *prometheus.Desc
	regressions        *prometheus.Desc
}

// Constructs a collector for a. Register it with a prometheus.Registerer.
func NewCollector(a *Authority) *Collector {
	return &Collector{
		authority: a,
		wall:      time.Now,
		initialized: prometheus.NewDesc(
			"chronos_initialized",
			"1 if the time authority is initialized, otherwise 0",
			nil, nil,
		),
		nowSeconds: prometheus.NewDesc(
			"chronos_now_unix_seconds",
			"Trusted current time as Unix seconds",
			nil, nil,
		),
		deviceOffset: prometheus.NewDesc(
			"chronos_device_offset_seconds",
			"Device clock minus trusted time; positive means the device clock is ahead",
			nil, nil,
		),
		elapsedWhileClosed: prometheus.NewDesc(
			"chronos_elapsed_while_closed_seconds",
			"Time between the previous anchor and the latest successful reconciliation",
			nil, nil,
		),
		resolutions: prometheus.NewDesc(
			"chronos_resolutions_total",
			"Waterfall resolutions by outcome",
			[]string{"outcome"}, nil,
		),
		regressions: prometheus.NewDesc(
			"chronos_clock_regressions_total",
			"Resolved times that were not after the stored anchor",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.initialized
	ch <- c.nowSeconds
	ch <- c.deviceOffset
	ch <- c.elapsedWhileClosed
	ch <- c.resolutions
	ch <- c.regressions
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	a := c.authority
	now := a.Now()

	var initialized float64
	if a.IsInitialized() {
		initialized = 1
	}
	ch <- prometheus.MustNewConstMetric(c.initialized, prometheus.GaugeValue, initialized)
	ch <- prometheus.MustNewConstMetric(c.nowSeconds, prometheus.GaugeValue, float64(now.UnixNano())/1e9)
	ch <- prometheus.MustNewConstMetric(c.deviceOffset, prometheus.GaugeValue, c.wall().Sub(now).Seconds())
	ch <- prometheus.MustNewConstMetric(c.elapsedWhileClosed, prometheus.GaugeValue, a.ElapsedWhileClosed().Seconds())
	ch <- prometheus.MustNewConstMetric(c.resolutions, prometheus.CounterValue, float64(a.resolveOK.Load()), "success")
	ch <- prometheus.MustNewConstMetric(c.resolutions, prometheus.CounterValue, float64(a.resolveFail.Load()), "failure")
	ch <- prometheus.MustNewConstMetric(c.regressions, prometheus.CounterValue, float64(a.regressions.Load()))
}
