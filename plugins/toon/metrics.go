package toon

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	webhookReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "toonbridge_toon_webhook_received_total",
		Help: "Webhook pushes accepted for decoding",
	})
	webhookRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "toonbridge_toon_webhook_rejected_total",
		Help: "Webhook pushes with an undecodable payload",
	})
	webhookIgnored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "toonbridge_toon_webhook_ignored_total",
		Help: "Webhook pushes for a display other than the resolved agreement",
	})
	webhookDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "toonbridge_toon_webhook_duplicate_total",
		Help: "Webhook pushes dropped inside the debounce window",
	})
	pollSuccess = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "toonbridge_toon_poll_success_total",
		Help: "Successful status polls",
	})
	pollFailure = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "toonbridge_toon_poll_failure_total",
		Help: "Failed status polls",
	})
)

// MetricsCollector exposes the mirror's last-known readings as gauges. It
// never calls the vendor; the poller and webhook receiver keep the mirror
// fresh.
type MetricsCollector struct {
	mirror *Mirror

	temp        prometheus.Gauge
	setpoint    prometheus.Gauge
	state       *prometheus.GaugeVec
	program     *prometheus.GaugeVec
	burner      *prometheus.GaugeVec
	gasMeter    prometheus.Gauge
	gasDay      prometheus.Gauge
	power       prometheus.Gauge
	powerMeter  prometheus.Gauge
	powerDay    prometheus.Gauge
	lastUpdated prometheus.Gauge
	fresh       prometheus.Gauge
}

func NewMetricsCollector(mirror *Mirror) *MetricsCollector {
	return &MetricsCollector{
		mirror: mirror,
		temp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "toonbridge_toon_display_temperature_celsius",
			Help: "Current temperature reported by the display",
		}),
		setpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "toonbridge_toon_setpoint_celsius",
			Help: "Target temperature",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "toonbridge_toon_active_state",
			Help: "Active thermostat state (1 on the matching label)",
		}, []string{"state"}),
		program: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "toonbridge_toon_program_state",
			Help: "Weekly program state (1 on the matching label)",
		}, []string{"program"}),
		burner: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "toonbridge_toon_burner_state",
			Help: "Boiler activity (1 on the matching label)",
		}, []string{"burner"}),
		gasMeter: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "toonbridge_toon_gas_meter_m3",
			Help: "Gas meter reading in cubic meters",
		}),
		gasDay: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "toonbridge_toon_gas_day_usage_m3",
			Help: "Gas used today in cubic meters",
		}),
		power: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "toonbridge_toon_power_watts",
			Help: "Momentary power draw in watts",
		}),
		powerMeter: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "toonbridge_toon_power_meter_kwh",
			Help: "Electricity meter reading in kWh",
		}),
		powerDay: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "toonbridge_toon_power_day_usage_kwh",
			Help: "Electricity used today in kWh",
		}),
		lastUpdated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "toonbridge_toon_last_update_timestamp_seconds",
			Help: "Last display update folded into the mirror (epoch seconds)",
		}),
		fresh: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "toonbridge_toon_mirror_populated",
			Help: "Mirror holds at least one reading (1=yes, 0=no)",
		}),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.temp.Describe(ch)
	c.setpoint.Describe(ch)
	c.state.Describe(ch)
	c.program.Describe(ch)
	c.burner.Describe(ch)
	c.gasMeter.Describe(ch)
	c.gasDay.Describe(ch)
	c.power.Describe(ch)
	c.powerMeter.Describe(ch)
	c.powerDay.Describe(ch)
	c.lastUpdated.Describe(ch)
	c.fresh.Describe(ch)
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	readings := c.mirror.Snapshot()

	if readings.UpdatedAt.IsZero() {
		c.fresh.Set(0)
	} else {
		c.fresh.Set(1)
		c.lastUpdated.Set(float64(readings.UpdatedAt.Unix()))
	}
	if readings.DisplayTemperature != nil {
		c.temp.Set(*readings.DisplayTemperature)
	}
	if readings.TargetTemperature != nil {
		c.setpoint.Set(*readings.TargetTemperature)
	}
	if readings.TemperatureState != nil {
		c.state.Reset()
		c.state.WithLabelValues(readings.TemperatureState.String()).Set(1)
	}
	if readings.Program != nil {
		c.program.Reset()
		c.program.WithLabelValues(readings.Program.String()).Set(1)
	}
	if readings.Burner != nil {
		c.burner.Reset()
		c.burner.WithLabelValues(readings.Burner.String()).Set(1)
	}
	if readings.GasMeterM3 != nil {
		c.gasMeter.Set(*readings.GasMeterM3)
	}
	if readings.GasDayUsageM3 != nil {
		c.gasDay.Set(*readings.GasDayUsageM3)
	}
	if readings.PowerWatts != nil {
		c.power.Set(*readings.PowerWatts)
	}
	if readings.PowerMeterKWh != nil {
		c.powerMeter.Set(*readings.PowerMeterKWh)
	}
	if readings.PowerDayUsageKWh != nil {
		c.powerDay.Set(*readings.PowerDayUsageKWh)
	}

	c.temp.Collect(ch)
	c.setpoint.Collect(ch)
	c.state.Collect(ch)
	c.program.Collect(ch)
	c.burner.Collect(ch)
	c.gasMeter.Collect(ch)
	c.gasDay.Collect(ch)
	c.power.Collect(ch)
	c.powerMeter.Collect(ch)
	c.powerDay.Collect(ch)
	c.lastUpdated.Collect(ch)
	c.fresh.Collect(ch)
}

// SharedCollectors returns the package-level webhook and poll counters.
func SharedCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		webhookReceived,
		webhookRejected,
		webhookIgnored,
		webhookDuplicate,
		pollSuccess,
		pollFailure,
	}
}
