package server

import (
	"evledger/entity"
	"evledger/types"
	"evledger/utility"
	"fmt"
	"math"
	"time"
)

// energySample picks the energy register of a meter value; a sample without a phase is the total
func energySample(value types.MeterValue) (*types.SampledValue, bool) {
	var found *types.SampledValue
	for i := range value.SampledValue {
		sample := &value.SampledValue[i]
		if !sample.IsEnergyRegister() {
			continue
		}
		if sample.Phase == "" {
			return sample, true
		}
		if found == nil {
			found = sample
		}
	}
	return found, found != nil
}

func contextOf(value types.MeterValue) types.ReadingContext {
	if sample, ok := energySample(value); ok {
		return sample.Context
	}
	return ""
}

// meterReading converts a meter value to a ledger reading; ok is false when it carries no energy register
func meterReading(value types.MeterValue, fallback time.Time) (entity.MeterReading, bool, error) {
	sample, ok := energySample(value)
	if !ok {
		return entity.MeterReading{}, false, nil
	}
	timestamp := fallback
	if value.Timestamp != nil && !value.Timestamp.IsZero() {
		timestamp = value.Timestamp.Time
	}

	energy, err := utility.ParseFloat(sample.Value)
	if err != nil {
		return entity.MeterReading{}, false, fmt.Errorf("energy register: %w", err)
	}
	switch sample.Unit {
	case "", types.UnitOfMeasureWh:
	case types.UnitOfMeasureKWh:
		energy = energy * 1000
	default:
		return entity.MeterReading{}, false, fmt.Errorf("energy register: unexpected unit %q", sample.Unit)
	}
	if energy < 0 {
		return entity.MeterReading{}, false, fmt.Errorf("energy register: negative value %v", energy)
	}
	reading := entity.NewMeterReading(timestamp, int64(math.Round(energy)))

	for _, sv := range value.SampledValue {
		if sv.Measurand != types.MeasurandSoC {
			continue
		}
		soc, err := utility.ParseFloat(sv.Value)
		if err != nil {
			return entity.MeterReading{}, false, fmt.Errorf("state of charge: %w", err)
		}
		if soc < 0 || soc > 100 {
			return entity.MeterReading{}, false, fmt.Errorf("state of charge: %v out of range", soc)
		}
		reading = reading.WithSoC(int(math.Round(soc)))
		break
	}
	return reading, true, nil
}
