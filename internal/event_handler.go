package internal

import "time"

type EventType string

const (
	SessionStarted     EventType = "SessionStarted"
	MeterValueRecorded EventType = "MeterValueRecorded"
	SessionStopped     EventType = "SessionStopped"
	ConnectorFaulted   EventType = "ConnectorFaulted"
)

// EventHandler receives session lifecycle events; implementations must not block the caller
type EventHandler interface {
	OnSessionStarted(event *EventMessage)
	OnMeterValueRecorded(event *EventMessage)
	OnSessionStopped(event *EventMessage)
	OnConnectorFaulted(event *EventMessage)
}

// EventMessage energy values are in Wh
type EventMessage struct {
	Type          EventType     `json:"type" bson:"type"`
	ChargePointId string        `json:"charge_point_id" bson:"charge_point_id"`
	ConnectorId   int           `json:"connector_id" bson:"connector_id"`
	Time          time.Time     `json:"time" bson:"time"`
	SessionId     int           `json:"transaction_id" bson:"transaction_id"`
	Username      string        `json:"username" bson:"username"`
	UserId        string        `json:"user_id" bson:"user_id"`
	IdTag         string        `json:"id_tag" bson:"id_tag"`
	TimeStart     time.Time     `json:"time_start" bson:"time_start"`
	Energy        int64         `json:"energy" bson:"energy"`
	SoC           *int          `json:"soc,omitempty" bson:"soc,omitempty"`
	Consumption   int64         `json:"consumption" bson:"consumption"`
	Duration      time.Duration `json:"duration" bson:"duration"`
	Inactivity    time.Duration `json:"inactivity" bson:"inactivity"`
	Reason        string        `json:"reason,omitempty" bson:"reason,omitempty"`
}

const EventMessageType = "eventMessage"

func (e *EventMessage) MessageType() string {
	return EventMessageType
}
