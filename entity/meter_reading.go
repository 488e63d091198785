package entity

import "time"

// MeterReading is a cumulative energy register sample in Wh
type MeterReading struct {
	Time   time.Time `json:"time" bson:"time"`
	Energy int64     `json:"energy" bson:"energy"`
	SoC    *int      `json:"soc,omitempty" bson:"soc,omitempty"`
}

func NewMeterReading(t time.Time, energy int64) MeterReading {
	return MeterReading{Time: t, Energy: energy}
}

func (r MeterReading) WithSoC(soc int) MeterReading {
	r.SoC = &soc
	return r
}

func (r MeterReading) Equal(other MeterReading) bool {
	if !r.Time.Equal(other.Time) || r.Energy != other.Energy {
		return false
	}
	if r.SoC == nil || other.SoC == nil {
		return r.SoC == nil && other.SoC == nil
	}
	return *r.SoC == *other.SoC
}
