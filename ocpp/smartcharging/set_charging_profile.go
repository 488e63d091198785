package smartcharging

import (
	"evledger/types"
	"time"
)

const SetChargingProfileFeatureName = "SetChargingProfile"

type ChargingProfileStatus string

const (
	ChargingProfileStatusAccepted     ChargingProfileStatus = "Accepted"
	ChargingProfileStatusRejected     ChargingProfileStatus = "Rejected"
	ChargingProfileStatusNotSupported ChargingProfileStatus = "NotSupported"
)

// profile ids and stack levels used by the central system; a higher stack level wins on the device
const (
	maxProfileId         = 1
	defaultProfileId     = 2
	transactionProfileId = 10
	dailySeconds         = 86400
)

type SetChargingProfileRequest struct {
	ConnectorId     int                    `json:"connectorId"`
	ChargingProfile *types.ChargingProfile `json:"csChargingProfiles"`
}

type SetChargingProfileResponse struct {
	Status ChargingProfileStatus `json:"status"`
}

func NewSetChargingProfileRequest(connectorId int, chargingProfile *types.ChargingProfile) *SetChargingProfileRequest {
	return &SetChargingProfileRequest{ConnectorId: connectorId, ChargingProfile: chargingProfile}
}

func (r SetChargingProfileRequest) GetFeatureName() string {
	return SetChargingProfileFeatureName
}

func (r SetChargingProfileResponse) GetFeatureName() string {
	return SetChargingProfileFeatureName
}

// NewChargePointMaxProfile caps the whole charge point, always applied to connector 0
func NewChargePointMaxProfile(limit float64) *types.ChargingProfile {
	return &types.ChargingProfile{
		ChargingProfileId:      maxProfileId,
		StackLevel:             0,
		ChargingProfilePurpose: types.ChargingProfilePurposeChargePointMaxProfile,
		ChargingProfileKind:    types.ChargingProfileKindAbsolute,
		ChargingSchedule: &types.ChargingSchedule{
			ChargingRateUnit: types.ChargingRateUnitAmperes,
			ChargingSchedulePeriod: []types.ChargingSchedulePeriod{
				{StartPeriod: 0, Limit: limit},
			},
		},
	}
}

func NewDefaultChargingProfile(limit float64) *types.ChargingProfile {
	duration := dailySeconds
	return &types.ChargingProfile{
		ChargingProfileId:      defaultProfileId,
		StackLevel:             1,
		ChargingProfilePurpose: types.ChargingProfilePurposeTxDefaultProfile,
		ChargingProfileKind:    types.ChargingProfileKindRecurring,
		RecurrencyKind:         types.RecurrencyKindDaily,
		ChargingSchedule: &types.ChargingSchedule{
			StartSchedule:    types.NewDateTime(time.Now().UTC().Truncate(24 * time.Hour)),
			Duration:         &duration,
			ChargingRateUnit: types.ChargingRateUnitAmperes,
			ChargingSchedulePeriod: []types.ChargingSchedulePeriod{
				{StartPeriod: 0, Limit: limit},
			},
		},
	}
}

func NewTransactionChargingProfile(transactionId int, limit float64) *types.ChargingProfile {
	return &types.ChargingProfile{
		ChargingProfileId:      transactionProfileId,
		StackLevel:             10,
		TransactionId:          transactionId,
		ChargingProfilePurpose: types.ChargingProfilePurposeTxProfile,
		ChargingProfileKind:    types.ChargingProfileKindRelative,
		ChargingSchedule: &types.ChargingSchedule{
			ChargingRateUnit: types.ChargingRateUnitAmperes,
			ChargingSchedulePeriod: []types.ChargingSchedulePeriod{
				{StartPeriod: 0, Limit: limit},
			},
		},
	}
}

// DailyDuration is the schedule length used when a device requires an explicit duration
func DailyDuration() *int {
	d := dailySeconds
	return &d
}
