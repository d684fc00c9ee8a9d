package toon

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Agreement is the vendor's binding between an account and a physical
// display. Every data call is scoped to a registered agreement.
type Agreement struct {
	AgreementID            string `json:"agreementId"`
	AgreementIDChecksum    string `json:"agreementIdChecksum"`
	DisplayCommonName      string `json:"displayCommonName"`
	DisplayHardwareVersion string `json:"displayHardwareVersion"`
	DisplaySoftwareVersion string `json:"displaySoftwareVersion"`
	HeatingType            string `json:"heatingType"`
	IsToonSolar            bool   `json:"isToonSolar"`
	IsToonly               bool   `json:"isToonly"`
}

// ThermostatInfo mirrors the vendor thermostat block. Temperatures cross the
// wire in centi-degrees; use Celsius helpers at the boundary.
type ThermostatInfo struct {
	CurrentDisplayTemp     *int   `json:"currentDisplayTemp,omitempty"`
	CurrentSetpoint        *int   `json:"currentSetpoint,omitempty"`
	ProgramState           *int   `json:"programState,omitempty"`
	ActiveState            *int   `json:"activeState,omitempty"`
	NextProgram            *int   `json:"nextProgram,omitempty"`
	NextState              *int   `json:"nextState,omitempty"`
	NextTime               *int64 `json:"nextTime,omitempty"`
	NextSetpoint           *int   `json:"nextSetpoint,omitempty"`
	ErrorFound             *int   `json:"errorFound,omitempty"`
	BurnerInfo             string `json:"burnerInfo,omitempty"`
	CurrentModulationLevel *int   `json:"currentModulationLevel,omitempty"`
}

// GasUsage carries day counters in liters and the meter reading in liters.
type GasUsage struct {
	Value        *float64 `json:"value,omitempty"`
	DayCost      *float64 `json:"dayCost,omitempty"`
	AvgValue     *float64 `json:"avgValue,omitempty"`
	AvgDayValue  *float64 `json:"avgDayValue,omitempty"`
	DayUsage     *float64 `json:"dayUsage,omitempty"`
	MeterReading *float64 `json:"meterReading,omitempty"`
	IsSmart      *int     `json:"isSmart,omitempty"`
}

// PowerUsage carries the momentary draw in watts and day counters in Wh.
type PowerUsage struct {
	Value           *float64 `json:"value,omitempty"`
	DayCost         *float64 `json:"dayCost,omitempty"`
	ValueProduced   *float64 `json:"valueProduced,omitempty"`
	DayUsage        *float64 `json:"dayUsage,omitempty"`
	DayLowUsage     *float64 `json:"dayLowUsage,omitempty"`
	MeterReading    *float64 `json:"meterReading,omitempty"`
	MeterReadingLow *float64 `json:"meterReadingLow,omitempty"`
	IsSmart         *int     `json:"isSmart,omitempty"`
}

// Status is the full device state envelope returned by the status endpoint.
// Webhook pushes carry the same blocks inside updateDataSet.
type Status struct {
	ThermostatInfo        *ThermostatInfo `json:"thermostatInfo,omitempty"`
	GasUsage              *GasUsage       `json:"gasUsage,omitempty"`
	PowerUsage            *PowerUsage     `json:"powerUsage,omitempty"`
	SerialNumber          string          `json:"serialNumber,omitempty"`
	LastUpdateFromDisplay *int64          `json:"lastUpdateFromDisplay,omitempty"`
}

// webhookPush is the inbound webhook envelope.
type webhookPush struct {
	AppID          string  `json:"appId"`
	SubscriptionID string  `json:"subscriptionId"`
	CommonName     string  `json:"commonName"`
	Timestamp      int64   `json:"timestamp"`
	TimeToLive     int     `json:"timeToLiveSeconds"`
	UpdateDataSet  *Status `json:"updateDataSet"`
}

// FlowSample is one point of a consumption flow series.
type FlowSample struct {
	Timestamp int64    `json:"timestamp"`
	Value     *float64 `json:"value"`
}

type flowSeries struct {
	Hours []FlowSample `json:"hours"`
}

// ActiveState is the thermostat program state shown on the display.
type ActiveState int

const (
	StateNone    ActiveState = -1
	StateComfort ActiveState = 0
	StateHome    ActiveState = 1
	StateSleep   ActiveState = 2
	StateAway    ActiveState = 3
	StateHoliday ActiveState = 4
)

func (s ActiveState) String() string {
	switch s {
	case StateComfort:
		return "comfort"
	case StateHome:
		return "home"
	case StateSleep:
		return "sleep"
	case StateAway:
		return "away"
	case StateHoliday:
		return "holiday"
	default:
		return "none"
	}
}

// ParseActiveState maps a capability value back to the vendor enum.
func ParseActiveState(name string) (ActiveState, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "comfort":
		return StateComfort, nil
	case "home":
		return StateHome, nil
	case "sleep":
		return StateSleep, nil
	case "away":
		return StateAway, nil
	case "holiday":
		return StateHoliday, nil
	case "none", "":
		return StateNone, nil
	default:
		return StateNone, fmt.Errorf("unknown thermostat state %q", name)
	}
}

// ProgramState reports whether the weekly program drives the setpoint.
type ProgramState int

const (
	ProgramOff      ProgramState = 0
	ProgramOn       ProgramState = 1
	ProgramOverride ProgramState = 2
)

func (p ProgramState) String() string {
	switch p {
	case ProgramOn:
		return "on"
	case ProgramOverride:
		return "override"
	default:
		return "off"
	}
}

// BurnerState is the boiler activity reported by the display. The vendor
// sends it as a string.
type BurnerState int

const (
	BurnerOff      BurnerState = 0
	BurnerOn       BurnerState = 1
	BurnerHotWater BurnerState = 2
	BurnerPreheat  BurnerState = 4
	BurnerUnknown  BurnerState = -1
)

func (b BurnerState) String() string {
	switch b {
	case BurnerOff:
		return "off"
	case BurnerOn:
		return "heating"
	case BurnerHotWater:
		return "hot_water"
	case BurnerPreheat:
		return "preheat"
	default:
		return "unknown"
	}
}

func parseBurnerState(raw string) BurnerState {
	switch strings.TrimSpace(raw) {
	case "0":
		return BurnerOff
	case "1":
		return BurnerOn
	case "2":
		return BurnerHotWater
	case "4":
		return BurnerPreheat
	default:
		return BurnerUnknown
	}
}

// Setpoint bounds accepted by the display.
const (
	MinSetpointCelsius = 6.0
	MaxSetpointCelsius = 30.0
)

func celsiusFromCenti(centi int) float64 {
	return float64(centi) / 100
}

func centiFromCelsius(celsius float64) int {
	return int(math.Round(celsius * 100))
}

func timeFromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
