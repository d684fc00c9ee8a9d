package toon

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

var (
	ErrMissingSetpoint    = errors.New("toon: setpoint is required")
	ErrSetpointOutOfRange = fmt.Errorf("toon: setpoint outside %.0f..%.0f°C", MinSetpointCelsius, MaxSetpointCelsius)
)

// SetTemperature sets the target temperature. The weekly program stays in
// control but is flagged as overridden until the next program switch.
func (c *Client) SetTemperature(ctx context.Context, celsius float64) error {
	if math.IsNaN(celsius) {
		return ErrMissingSetpoint
	}
	if celsius < MinSetpointCelsius || celsius > MaxSetpointCelsius {
		return ErrSetpointOutOfRange
	}

	info, err := c.Thermostat(ctx)
	if err != nil {
		return err
	}

	centi := centiFromCelsius(celsius)
	info.CurrentSetpoint = &centi
	if info.ProgramState != nil && ProgramState(*info.ProgramState) == ProgramOn {
		override := int(ProgramOverride)
		info.ProgramState = &override
	}

	return c.PutThermostat(ctx, info)
}

// SetState switches the display to a program state (home, away, ...). The
// vendor treats this as a temporary override of the weekly program.
func (c *Client) SetState(ctx context.Context, state ActiveState) error {
	if state == StateNone {
		return fmt.Errorf("toon: cannot set state %q", state)
	}

	info, err := c.Thermostat(ctx)
	if err != nil {
		return err
	}

	active := int(state)
	override := int(ProgramOverride)
	info.ActiveState = &active
	info.ProgramState = &override

	return c.PutThermostat(ctx, info)
}

// ResumeProgram hands control back to the weekly program.
func (c *Client) ResumeProgram(ctx context.Context) error {
	info, err := c.Thermostat(ctx)
	if err != nil {
		return err
	}

	on := int(ProgramOn)
	info.ProgramState = &on

	return c.PutThermostat(ctx, info)
}

// RegisterAgreementWithRetry drives a fixed-delay retry loop around the set
// agreement call. The vendor intermittently answers 500 right after pairing.
func (c *Client) RegisterAgreementWithRetry(ctx context.Context, agreement Agreement) error {
	var err error
	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		err = c.SetAgreement(ctx, agreement)
		if err == nil {
			return nil
		}
		var statusErr HTTPStatusError
		if !errors.As(err, &statusErr) || statusErr.Status != http.StatusInternalServerError {
			return err
		}
		if attempt == c.retryAttempts {
			break
		}
		c.log.WithField("attempt", attempt).Warn("set agreement failed; retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
	return err
}
