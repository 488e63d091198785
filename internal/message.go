package internal

import "time"

const FeatureLogMessageType = "featureLogMessage"

// Message is anything pushed to operators: log lines and lifecycle events
type Message interface {
	MessageType() string
}

// MessageService delivers messages to an external push channel
type MessageService interface {
	Send(message Message) error
}

// FeatureLogMessage is one log line as stored in the log collection and pushed to operators
type FeatureLogMessage struct {
	Time          string    `json:"time" bson:"time"`
	TimeStamp     time.Time `json:"timestamp" bson:"timestamp"`
	Feature       string    `json:"feature" bson:"feature"`
	ChargePointId string    `json:"id" bson:"charge_point_id"`
	Text          string    `json:"text" bson:"text"`
	Importance    string    `json:"importance" bson:"importance"`
}

func (fm *FeatureLogMessage) MessageType() string {
	return FeatureLogMessageType
}
