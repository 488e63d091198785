package types

const SubProtocol16 = "ocpp1.6"

type AuthorizationStatus string

const (
	AuthorizationStatusAccepted     AuthorizationStatus = "Accepted"
	AuthorizationStatusBlocked      AuthorizationStatus = "Blocked"
	AuthorizationStatusExpired      AuthorizationStatus = "Expired"
	AuthorizationStatusInvalid      AuthorizationStatus = "Invalid"
	AuthorizationStatusConcurrentTx AuthorizationStatus = "ConcurrentTx"
)

type IdTagInfo struct {
	ExpiryDate  *DateTime           `json:"expiryDate,omitempty"`
	ParentIdTag string              `json:"parentIdTag,omitempty"`
	Status      AuthorizationStatus `json:"status"`
}

func NewIdTagInfo(status AuthorizationStatus) *IdTagInfo {
	return &IdTagInfo{Status: status}
}

type ReadingContext string
type Measurand string
type UnitOfMeasure string

const (
	ReadingContextSampleClock           ReadingContext = "Sample.Clock"
	ReadingContextSamplePeriodic        ReadingContext = "Sample.Periodic"
	ReadingContextTransactionBegin      ReadingContext = "Transaction.Begin"
	ReadingContextTransactionEnd        ReadingContext = "Transaction.End"
	MeasurandEnergyActiveImportRegister Measurand      = "Energy.Active.Import.Register"
	MeasurandPowerActiveImport          Measurand      = "Power.Active.Import"
	MeasurandCurrentImport              Measurand      = "Current.Import"
	MeasurandSoC                        Measurand      = "SoC"
	UnitOfMeasureWh                     UnitOfMeasure  = "Wh"
	UnitOfMeasureKWh                    UnitOfMeasure  = "kWh"
	UnitOfMeasureW                      UnitOfMeasure  = "W"
	UnitOfMeasureKW                     UnitOfMeasure  = "kW"
	UnitOfMeasureA                      UnitOfMeasure  = "A"
	UnitOfMeasurePercent                UnitOfMeasure  = "Percent"
)

type SampledValue struct {
	Value     string         `json:"value"`
	Context   ReadingContext `json:"context,omitempty"`
	Measurand Measurand      `json:"measurand,omitempty"`
	Phase     string         `json:"phase,omitempty"`
	Location  string         `json:"location,omitempty"`
	Unit      UnitOfMeasure  `json:"unit,omitempty"`
}

// IsEnergyRegister reports whether the sample carries the cumulative imported energy;
// a sample without a measurand is the energy register by protocol default
func (sv *SampledValue) IsEnergyRegister() bool {
	return sv.Measurand == "" || sv.Measurand == MeasurandEnergyActiveImportRegister
}

type MeterValue struct {
	Timestamp    *DateTime      `json:"timestamp"`
	SampledValue []SampledValue `json:"sampledValue"`
}

// Charging Profiles
type ChargingProfilePurposeType string
type ChargingProfileKindType string
type RecurrencyKindType string
type ChargingRateUnitType string

const (
	ChargingProfilePurposeChargePointMaxProfile ChargingProfilePurposeType = "ChargePointMaxProfile"
	ChargingProfilePurposeTxDefaultProfile      ChargingProfilePurposeType = "TxDefaultProfile"
	ChargingProfilePurposeTxProfile             ChargingProfilePurposeType = "TxProfile"
	ChargingProfileKindAbsolute                 ChargingProfileKindType    = "Absolute"
	ChargingProfileKindRecurring                ChargingProfileKindType    = "Recurring"
	ChargingProfileKindRelative                 ChargingProfileKindType    = "Relative"
	RecurrencyKindDaily                         RecurrencyKindType         = "Daily"
	RecurrencyKindWeekly                        RecurrencyKindType         = "Weekly"
	ChargingRateUnitWatts                       ChargingRateUnitType       = "W"
	ChargingRateUnitAmperes                     ChargingRateUnitType       = "A"
)

func (p ChargingProfilePurposeType) IsValid() bool {
	switch p {
	case ChargingProfilePurposeChargePointMaxProfile, ChargingProfilePurposeTxDefaultProfile, ChargingProfilePurposeTxProfile:
		return true
	}
	return false
}

func (k ChargingProfileKindType) IsValid() bool {
	switch k {
	case ChargingProfileKindAbsolute, ChargingProfileKindRecurring, ChargingProfileKindRelative:
		return true
	}
	return false
}

func (u ChargingRateUnitType) IsValid() bool {
	return u == ChargingRateUnitWatts || u == ChargingRateUnitAmperes
}

type ChargingSchedulePeriod struct {
	StartPeriod  int     `json:"startPeriod"`
	Limit        float64 `json:"limit"`
	NumberPhases *int    `json:"numberPhases,omitempty"`
}

type ChargingSchedule struct {
	Duration               *int                     `json:"duration,omitempty"`
	StartSchedule          *DateTime                `json:"startSchedule,omitempty"`
	ChargingRateUnit       ChargingRateUnitType     `json:"chargingRateUnit"`
	ChargingSchedulePeriod []ChargingSchedulePeriod `json:"chargingSchedulePeriod"`
	MinChargingRate        *float64                 `json:"minChargingRate,omitempty"`
}

type ChargingProfile struct {
	ChargingProfileId      int                        `json:"chargingProfileId"`
	TransactionId          int                        `json:"transactionId,omitempty"`
	StackLevel             int                        `json:"stackLevel"`
	ChargingProfilePurpose ChargingProfilePurposeType `json:"chargingProfilePurpose"`
	ChargingProfileKind    ChargingProfileKindType    `json:"chargingProfileKind"`
	RecurrencyKind         RecurrencyKindType         `json:"recurrencyKind,omitempty"`
	ValidFrom              *DateTime                  `json:"validFrom,omitempty"`
	ValidTo                *DateTime                  `json:"validTo,omitempty"`
	ChargingSchedule       *ChargingSchedule          `json:"chargingSchedule"`
}

// Clone returns a deep copy so vendor adaptations never touch the caller's profile
func (p *ChargingProfile) Clone() *ChargingProfile {
	if p == nil {
		return nil
	}
	c := *p
	if p.ChargingSchedule != nil {
		s := *p.ChargingSchedule
		s.ChargingSchedulePeriod = make([]ChargingSchedulePeriod, len(p.ChargingSchedule.ChargingSchedulePeriod))
		copy(s.ChargingSchedulePeriod, p.ChargingSchedule.ChargingSchedulePeriod)
		c.ChargingSchedule = &s
	}
	return &c
}
