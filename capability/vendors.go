package capability

import (
	"context"
	"evledger/entity"
	"evledger/ocpp/core"
	"evledger/ocpp/smartcharging"
	"evledger/types"
	"fmt"
	"math"
)

const (
	lineVoltage   = 230.0
	defaultPhases = 3
	// schneiderLimitKey is the configuration key holding the socket current limit
	schneiderLimitKey = "maxintensitysocket"
)

var profileAccepted = []string{string(smartcharging.ChargingProfileStatusAccepted)}

type schneider struct {
	commander Commander
}

func (s *schneider) Vendor() string {
	return VendorSchneider
}

func (s *schneider) Supports(operation Operation) bool {
	return operation == OperationStaticLimit
}

func (s *schneider) SetStaticLimit(ctx context.Context, chargePoint *entity.ChargePoint, maxAmps float64, connectorId *int) error {
	if err := validateLimit(chargePoint, maxAmps, connectorId); err != nil {
		return err
	}
	amps := int(math.Floor(maxAmps))
	if amps < 1 {
		return fmt.Errorf("%w: %v A below 1 A", ErrInvalidArgument, maxAmps)
	}
	request := core.NewChangeConfigurationRequest(schneiderLimitKey, fmt.Sprintf("%d", amps))
	return call(ctx, s.commander, chargePoint.Id, request,
		string(core.ConfigurationStatusAccepted), string(core.ConfigurationStatusRebootRequired))
}

func (s *schneider) ApplyChargingProfile(context.Context, *entity.ChargePoint, int, *types.ChargingProfile) error {
	return fmt.Errorf("%w: %s charging profiles", ErrUnsupported, VendorSchneider)
}

// abb firmware honours profiles in amperes only
type abb struct {
	commander Commander
}

func (a *abb) Vendor() string {
	return VendorABB
}

func (a *abb) Supports(Operation) bool {
	return true
}

func (a *abb) SetStaticLimit(ctx context.Context, chargePoint *entity.ChargePoint, maxAmps float64, connectorId *int) error {
	if err := validateLimit(chargePoint, maxAmps, connectorId); err != nil {
		return err
	}
	request := smartcharging.NewSetChargingProfileRequest(0, smartcharging.NewChargePointMaxProfile(maxAmps))
	return call(ctx, a.commander, chargePoint.Id, request, profileAccepted...)
}

func (a *abb) ApplyChargingProfile(ctx context.Context, chargePoint *entity.ChargePoint, connectorId int, profile *types.ChargingProfile) error {
	if err := ValidateProfile(chargePoint, connectorId, profile); err != nil {
		return err
	}
	adapted := profile.Clone()
	schedule := adapted.ChargingSchedule
	if schedule.ChargingRateUnit == types.ChargingRateUnitWatts {
		for i, period := range schedule.ChargingSchedulePeriod {
			phases := defaultPhases
			if period.NumberPhases != nil && *period.NumberPhases > 0 {
				phases = *period.NumberPhases
			}
			schedule.ChargingSchedulePeriod[i].Limit = WattsToAmps(period.Limit, phases)
		}
		schedule.ChargingRateUnit = types.ChargingRateUnitAmperes
		schedule.MinChargingRate = nil
	}
	request := smartcharging.NewSetChargingProfileRequest(connectorId, adapted)
	return call(ctx, a.commander, chargePoint.Id, request, profileAccepted...)
}

type delta struct {
	commander Commander
}

func (d *delta) Vendor() string {
	return VendorDelta
}

func (d *delta) Supports(Operation) bool {
	return true
}

func (d *delta) SetStaticLimit(ctx context.Context, chargePoint *entity.ChargePoint, maxAmps float64, connectorId *int) error {
	if err := validateLimit(chargePoint, maxAmps, connectorId); err != nil {
		return err
	}
	connector := 0
	if connectorId != nil {
		connector = *connectorId
	}
	request := smartcharging.NewSetChargingProfileRequest(connector, smartcharging.NewDefaultChargingProfile(maxAmps))
	return call(ctx, d.commander, chargePoint.Id, request, profileAccepted...)
}

// ApplyChargingProfile passes the profile through; the firmware rejects schedules without a duration
func (d *delta) ApplyChargingProfile(ctx context.Context, chargePoint *entity.ChargePoint, connectorId int, profile *types.ChargingProfile) error {
	if err := ValidateProfile(chargePoint, connectorId, profile); err != nil {
		return err
	}
	adapted := profile.Clone()
	if adapted.ChargingSchedule.Duration == nil {
		adapted.ChargingSchedule.Duration = smartcharging.DailyDuration()
	}
	request := smartcharging.NewSetChargingProfileRequest(connectorId, adapted)
	return call(ctx, d.commander, chargePoint.Id, request, profileAccepted...)
}

type legrand struct {
	commander Commander
}

func (l *legrand) Vendor() string {
	return VendorLegrand
}

func (l *legrand) Supports(operation Operation) bool {
	return operation == OperationChargingProfile
}

func (l *legrand) SetStaticLimit(context.Context, *entity.ChargePoint, float64, *int) error {
	return fmt.Errorf("%w: %s static limit", ErrUnsupported, VendorLegrand)
}

// ApplyChargingProfile rounds limits down; the firmware rejects fractional values
func (l *legrand) ApplyChargingProfile(ctx context.Context, chargePoint *entity.ChargePoint, connectorId int, profile *types.ChargingProfile) error {
	if err := ValidateProfile(chargePoint, connectorId, profile); err != nil {
		return err
	}
	adapted := profile.Clone()
	for i, period := range adapted.ChargingSchedule.ChargingSchedulePeriod {
		adapted.ChargingSchedule.ChargingSchedulePeriod[i].Limit = math.Floor(period.Limit)
	}
	request := smartcharging.NewSetChargingProfileRequest(connectorId, adapted)
	return call(ctx, l.commander, chargePoint.Id, request, profileAccepted...)
}

// unsupported serves every vendor outside the table
type unsupported struct {
	vendor string
}

func (u *unsupported) Vendor() string {
	return u.vendor
}

func (u *unsupported) Supports(Operation) bool {
	return false
}

func (u *unsupported) SetStaticLimit(context.Context, *entity.ChargePoint, float64, *int) error {
	return fmt.Errorf("%w: vendor %q", ErrUnsupported, u.vendor)
}

func (u *unsupported) ApplyChargingProfile(context.Context, *entity.ChargePoint, int, *types.ChargingProfile) error {
	return fmt.Errorf("%w: vendor %q", ErrUnsupported, u.vendor)
}

// WattsToAmps converts a power limit to a per phase current, rounded down to 0.1 A
func WattsToAmps(watts float64, phases int) float64 {
	if phases <= 0 {
		phases = defaultPhases
	}
	return math.Floor(watts/(lineVoltage*float64(phases))*10) / 10
}
