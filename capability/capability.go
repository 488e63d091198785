package capability

import (
	"context"
	"encoding/json"
	"errors"
	"evledger/entity"
	"evledger/ocpp"
	"evledger/types"
	"fmt"
	"math"
)

type Operation string

const (
	OperationStaticLimit     Operation = "SetStaticLimit"
	OperationChargingProfile Operation = "ApplyChargingProfile"
)

var (
	ErrUnsupported     = errors.New("operation not supported by vendor")
	ErrDeviceError     = errors.New("device error")
	ErrExternalTimeout = fmt.Errorf("%w: no response from charge point", ErrDeviceError)
	ErrInvalidArgument = errors.New("invalid argument")
)

// Commander sends a request over the control channel of a connected charge point
// and returns the raw confirmation payload
type Commander interface {
	Call(ctx context.Context, chargePointId string, request ocpp.Request) (string, error)
}

// Capability drives vendor specific control operations through one contract;
// an operation the vendor does not implement returns ErrUnsupported without contacting the device
type Capability interface {
	Vendor() string
	Supports(operation Operation) bool
	SetStaticLimit(ctx context.Context, chargePoint *entity.ChargePoint, maxAmps float64, connectorId *int) error
	ApplyChargingProfile(ctx context.Context, chargePoint *entity.ChargePoint, connectorId int, profile *types.ChargingProfile) error
}

func validateLimit(chargePoint *entity.ChargePoint, maxAmps float64, connectorId *int) error {
	if chargePoint == nil {
		return fmt.Errorf("%w: charge point is nil", ErrInvalidArgument)
	}
	if math.IsNaN(maxAmps) || math.IsInf(maxAmps, 0) || maxAmps <= 0 {
		return fmt.Errorf("%w: limit %v A must be positive", ErrInvalidArgument, maxAmps)
	}
	if connectorId != nil && !chargePoint.ConnectorIndexValid(*connectorId) {
		return fmt.Errorf("%w: connector %d not on %s", ErrInvalidArgument, *connectorId, chargePoint.Id)
	}
	return nil
}

// ValidateProfile checks the structure of a charging profile before any vendor adaptation
func ValidateProfile(chargePoint *entity.ChargePoint, connectorId int, profile *types.ChargingProfile) error {
	if chargePoint == nil {
		return fmt.Errorf("%w: charge point is nil", ErrInvalidArgument)
	}
	if !chargePoint.ConnectorIndexValid(connectorId) {
		return fmt.Errorf("%w: connector %d not on %s", ErrInvalidArgument, connectorId, chargePoint.Id)
	}
	if profile == nil || profile.ChargingSchedule == nil {
		return fmt.Errorf("%w: profile without schedule", ErrInvalidArgument)
	}
	if !profile.ChargingProfilePurpose.IsValid() {
		return fmt.Errorf("%w: purpose %q", ErrInvalidArgument, profile.ChargingProfilePurpose)
	}
	if !profile.ChargingProfileKind.IsValid() {
		return fmt.Errorf("%w: kind %q", ErrInvalidArgument, profile.ChargingProfileKind)
	}
	if profile.ChargingProfilePurpose == types.ChargingProfilePurposeChargePointMaxProfile && connectorId != 0 {
		return fmt.Errorf("%w: %s applies to connector 0 only", ErrInvalidArgument, profile.ChargingProfilePurpose)
	}
	schedule := profile.ChargingSchedule
	if !schedule.ChargingRateUnit.IsValid() {
		return fmt.Errorf("%w: rate unit %q", ErrInvalidArgument, schedule.ChargingRateUnit)
	}
	if len(schedule.ChargingSchedulePeriod) == 0 {
		return fmt.Errorf("%w: schedule has no periods", ErrInvalidArgument)
	}
	if schedule.ChargingSchedulePeriod[0].StartPeriod != 0 {
		return fmt.Errorf("%w: first period starts at %d", ErrInvalidArgument, schedule.ChargingSchedulePeriod[0].StartPeriod)
	}
	for i, period := range schedule.ChargingSchedulePeriod {
		if math.IsNaN(period.Limit) || math.IsInf(period.Limit, 0) || period.Limit < 0 {
			return fmt.Errorf("%w: period %d limit %v", ErrInvalidArgument, i, period.Limit)
		}
		if i > 0 && period.StartPeriod <= schedule.ChargingSchedulePeriod[i-1].StartPeriod {
			return fmt.Errorf("%w: period %d does not follow the previous one", ErrInvalidArgument, i)
		}
	}
	return nil
}

type confirmation struct {
	Status string `json:"status"`
}

// call sends the request and checks the confirmation status against the accepted values
func call(ctx context.Context, commander Commander, chargePointId string, request ocpp.Request, accepted ...string) error {
	payload, err := commander.Call(ctx, chargePointId, request)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrExternalTimeout) {
			return fmt.Errorf("%w: %s %s", ErrExternalTimeout, request.GetFeatureName(), chargePointId)
		}
		return fmt.Errorf("%w: %s %s: %v", ErrDeviceError, request.GetFeatureName(), chargePointId, err)
	}
	var conf confirmation
	if err = json.Unmarshal([]byte(payload), &conf); err != nil {
		return fmt.Errorf("%w: %s confirmation: %v", ErrDeviceError, request.GetFeatureName(), err)
	}
	for _, status := range accepted {
		if conf.Status == status {
			return nil
		}
	}
	return fmt.Errorf("%w: %s status %q", ErrDeviceError, request.GetFeatureName(), conf.Status)
}
