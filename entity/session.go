package entity

import "time"

type SessionStatus string

const (
	SessionAuthorized SessionStatus = "Authorized"
	SessionActive     SessionStatus = "Active"
	SessionStopping   SessionStatus = "Stopping"
	SessionFinalized  SessionStatus = "Finalized"
)

// Session is one charging transaction; it is immutable once Stop is set
type Session struct {
	Id            int            `json:"transaction_id" bson:"transaction_id"`
	ChargePointId string         `json:"charge_point_id" bson:"charge_point_id"`
	ConnectorId   int            `json:"connector_id" bson:"connector_id"`
	IdTag         string         `json:"id_tag" bson:"id_tag"`
	User          *UserRef       `json:"user,omitempty" bson:"user,omitempty"`
	Status        SessionStatus  `json:"status" bson:"status"`
	AuthorizedAt  time.Time      `json:"authorized_at" bson:"authorized_at"`
	TimeStart     time.Time      `json:"time_start" bson:"time_start"`
	MeterValues   []MeterReading `json:"meter_values" bson:"meter_values"`
	Stop          *StopRecord    `json:"stop,omitempty" bson:"stop,omitempty"`
	LastUpdated   time.Time      `json:"last_updated" bson:"last_updated"`
}

func (s *Session) IsFinalized() bool {
	return s.Stop != nil
}

// StartTime is the start timestamp, falling back to the authorization time before start
func (s *Session) StartTime() time.Time {
	if s.TimeStart.IsZero() {
		return s.AuthorizedAt
	}
	return s.TimeStart
}

func (s *Session) LastReading() (MeterReading, bool) {
	if len(s.MeterValues) == 0 {
		return MeterReading{}, false
	}
	return s.MeterValues[len(s.MeterValues)-1], true
}

// Energy returns the energy delivered so far
func (s *Session) Energy() int64 {
	if s.Stop != nil {
		return s.Stop.Consumption
	}
	if len(s.MeterValues) < 2 {
		return 0
	}
	return s.MeterValues[len(s.MeterValues)-1].Energy - s.MeterValues[0].Energy
}

func (s *Session) Username() string {
	if s.User == nil {
		return ""
	}
	return s.User.Username
}

// Clone returns a copy safe to hand out of the ledger
func (s *Session) Clone() *Session {
	c := *s
	c.MeterValues = make([]MeterReading, len(s.MeterValues))
	copy(c.MeterValues, s.MeterValues)
	if s.User != nil {
		u := *s.User
		c.User = &u
	}
	if s.Stop != nil {
		st := *s.Stop
		c.Stop = &st
	}
	return &c
}
