package entity

import "time"

type StopRecord struct {
	Time         time.Time     `json:"time" bson:"time"`
	Consumption  int64         `json:"consumption" bson:"consumption"`
	Duration     time.Duration `json:"duration" bson:"duration"`
	Inactivity   time.Duration `json:"inactivity" bson:"inactivity"`
	StoppingTag  string        `json:"stopping_tag,omitempty" bson:"stopping_tag,omitempty"`
	FinalReading MeterReading  `json:"final_reading" bson:"final_reading"`
	// Reason is set when the session was finalized by a connector fault
	Reason string `json:"reason,omitempty" bson:"reason,omitempty"`
	Forced bool   `json:"forced" bson:"forced"`
	// Corrected marks a final reading behind the last stored one; totals use the stored reading
	Corrected bool `json:"corrected,omitempty" bson:"corrected,omitempty"`
}
