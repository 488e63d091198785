package server

import (
	"evledger/types"
	"testing"
	"time"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestMeterReadingPrefersTotal(t *testing.T) {
	value := types.MeterValue{
		Timestamp: types.NewDateTime(t0),
		SampledValue: []types.SampledValue{
			{Value: "400", Measurand: types.MeasurandEnergyActiveImportRegister, Phase: "L1", Unit: types.UnitOfMeasureWh},
			{Value: "12.5", Measurand: types.MeasurandEnergyActiveImportRegister, Unit: types.UnitOfMeasureKWh},
			{Value: "16", Measurand: types.MeasurandCurrentImport, Unit: types.UnitOfMeasureA},
			{Value: "57.4", Measurand: types.MeasurandSoC, Unit: types.UnitOfMeasurePercent},
		},
	}
	reading, ok, err := meterReading(value, time.Time{})
	if err != nil || !ok {
		t.Fatalf("reading = %v, %v", ok, err)
	}
	if reading.Energy != 12500 {
		t.Errorf("energy = %d, want 12500", reading.Energy)
	}
	if !reading.Time.Equal(t0) {
		t.Errorf("time = %v", reading.Time)
	}
	if reading.SoC == nil || *reading.SoC != 57 {
		t.Errorf("soc = %v", reading.SoC)
	}
}

func TestMeterReadingDefaults(t *testing.T) {
	value := types.MeterValue{SampledValue: []types.SampledValue{{Value: "1234"}}}
	reading, ok, err := meterReading(value, t0)
	if err != nil || !ok {
		t.Fatalf("reading = %v, %v", ok, err)
	}
	if reading.Energy != 1234 || !reading.Time.Equal(t0) || reading.SoC != nil {
		t.Errorf("unexpected reading %+v", reading)
	}
}

func TestMeterReadingWithoutRegister(t *testing.T) {
	value := types.MeterValue{SampledValue: []types.SampledValue{{Value: "7000", Measurand: types.MeasurandPowerActiveImport, Unit: types.UnitOfMeasureW}}}
	if _, ok, err := meterReading(value, t0); ok || err != nil {
		t.Errorf("expected no reading, got %v, %v", ok, err)
	}
}

func TestMeterReadingRejectsMalformed(t *testing.T) {
	cases := map[string]types.SampledValue{
		"empty":    {Value: ""},
		"text":     {Value: "abc"},
		"negative": {Value: "-5"},
		"unit":     {Value: "5", Unit: types.UnitOfMeasureW},
	}
	for name, sample := range cases {
		value := types.MeterValue{SampledValue: []types.SampledValue{sample}}
		if _, _, err := meterReading(value, t0); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	soc := types.MeterValue{SampledValue: []types.SampledValue{{Value: "10"}, {Value: "140", Measurand: types.MeasurandSoC}}}
	if _, _, err := meterReading(soc, t0); err == nil {
		t.Error("soc out of range: expected error")
	}
}

func TestContextOf(t *testing.T) {
	value := types.MeterValue{SampledValue: []types.SampledValue{
		{Value: "10", Measurand: types.MeasurandSoC, Context: types.ReadingContextSamplePeriodic},
		{Value: "100", Context: types.ReadingContextTransactionEnd},
	}}
	if c := contextOf(value); c != types.ReadingContextTransactionEnd {
		t.Errorf("context = %q", c)
	}
}
