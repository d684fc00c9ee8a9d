package toon

import (
	"sync"
	"time"
)

// Host capability identifiers this plugin reports.
const (
	CapMeasureTemperature = "measure_temperature"
	CapTargetTemperature  = "target_temperature"
	CapTemperatureState   = "temperature_state"
	CapProgram            = "thermostat_program"
	CapMeterGas           = "meter_gas"
	CapMeterPower         = "meter_power"
	CapMeasurePower       = "measure_power"
)

// CapabilityUpdate is one changed capability value destined for the host's
// realtime surface.
type CapabilityUpdate struct {
	Capability string `json:"capability"`
	Value      any    `json:"value"`
}

// Readings is the last-known device state. Pointers are nil until the first
// successful poll or webhook carries the field.
type Readings struct {
	DisplayTemperature *float64      `json:"display_temperature,omitempty"`
	TargetTemperature  *float64      `json:"target_temperature,omitempty"`
	TemperatureState   *ActiveState  `json:"temperature_state,omitempty"`
	Program            *ProgramState `json:"program,omitempty"`
	GasMeterM3         *float64      `json:"gas_meter_m3,omitempty"`
	GasDayUsageM3      *float64      `json:"gas_day_usage_m3,omitempty"`
	Burner             *BurnerState  `json:"burner,omitempty"`
	PowerWatts         *float64      `json:"power_watts,omitempty"`
	PowerMeterKWh      *float64      `json:"power_meter_kwh,omitempty"`
	PowerDayUsageKWh   *float64      `json:"power_day_usage_kwh,omitempty"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Mirror holds the in-memory copy of the most recent successful poll or
// webhook for one agreement.
type Mirror struct {
	mu       sync.RWMutex
	readings Readings
}

func NewMirror() *Mirror {
	return &Mirror{}
}

// Snapshot returns a copy of the current readings.
func (m *Mirror) Snapshot() Readings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readings
}

// Reset clears the mirror; used on unpair.
func (m *Mirror) Reset() {
	m.mu.Lock()
	m.readings = Readings{}
	m.mu.Unlock()
}

// Apply folds a status update into the mirror and returns the capability
// values that changed. The fold is atomic: a partial vendor payload only
// touches the fields it carries.
func (m *Mirror) Apply(status Status) []CapabilityUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()

	var updates []CapabilityUpdate
	setFloat := func(target **float64, capability string, value float64) {
		if *target != nil && **target == value {
			return
		}
		v := value
		*target = &v
		if capability != "" {
			updates = append(updates, CapabilityUpdate{Capability: capability, Value: value})
		}
	}

	if info := status.ThermostatInfo; info != nil {
		if info.CurrentDisplayTemp != nil {
			setFloat(&m.readings.DisplayTemperature, CapMeasureTemperature, celsiusFromCenti(*info.CurrentDisplayTemp))
		}
		if info.CurrentSetpoint != nil {
			setFloat(&m.readings.TargetTemperature, CapTargetTemperature, celsiusFromCenti(*info.CurrentSetpoint))
		}
		if info.ActiveState != nil {
			state := ActiveState(*info.ActiveState)
			if m.readings.TemperatureState == nil || *m.readings.TemperatureState != state {
				m.readings.TemperatureState = &state
				updates = append(updates, CapabilityUpdate{Capability: CapTemperatureState, Value: state.String()})
			}
		}
		if info.ProgramState != nil {
			program := ProgramState(*info.ProgramState)
			if m.readings.Program == nil || *m.readings.Program != program {
				m.readings.Program = &program
				updates = append(updates, CapabilityUpdate{Capability: CapProgram, Value: program.String()})
			}
		}
		if info.BurnerInfo != "" {
			burner := parseBurnerState(info.BurnerInfo)
			if m.readings.Burner == nil || *m.readings.Burner != burner {
				m.readings.Burner = &burner
			}
		}
	}

	if gas := status.GasUsage; gas != nil {
		if gas.MeterReading != nil {
			// Vendor reports liters.
			setFloat(&m.readings.GasMeterM3, CapMeterGas, *gas.MeterReading/1000)
		}
		if gas.DayUsage != nil {
			setFloat(&m.readings.GasDayUsageM3, "", *gas.DayUsage/1000)
		}
	}

	if power := status.PowerUsage; power != nil {
		if power.Value != nil {
			setFloat(&m.readings.PowerWatts, CapMeasurePower, *power.Value)
		}
		if power.MeterReading != nil {
			// Vendor reports watt-hours.
			setFloat(&m.readings.PowerMeterKWh, CapMeterPower, *power.MeterReading/1000)
		}
		if power.DayUsage != nil {
			setFloat(&m.readings.PowerDayUsageKWh, "", *power.DayUsage/1000)
		}
	}

	if len(updates) > 0 || statusCarriesData(status) {
		if status.LastUpdateFromDisplay != nil {
			m.readings.UpdatedAt = timeFromMillis(*status.LastUpdateFromDisplay)
		} else {
			m.readings.UpdatedAt = time.Now().UTC()
		}
	}

	return updates
}

func statusCarriesData(status Status) bool {
	return status.ThermostatInfo != nil || status.GasUsage != nil || status.PowerUsage != nil
}
