package entity

import "time"

type ConnectorStatus string

const (
	ConnectorStatusAvailable   ConnectorStatus = "Available"
	ConnectorStatusPreparing   ConnectorStatus = "Preparing"
	ConnectorStatusCharging    ConnectorStatus = "Charging"
	ConnectorStatusFinishing   ConnectorStatus = "Finishing"
	ConnectorStatusFaulted     ConnectorStatus = "Faulted"
	ConnectorStatusUnavailable ConnectorStatus = "Unavailable"
)

type Connector struct {
	Id                   int    `json:"connector_id" bson:"connector_id"`
	ChargePointId        string `json:"charge_point_id" bson:"charge_point_id"`
	IsEnabled            bool   `json:"is_enabled" bson:"is_enabled"`
	Status               string `json:"status" bson:"status"`
	ErrorCode            string `json:"error_code" bson:"error_code"`
	Info                 string `json:"info" bson:"info"`
	VendorId             string `json:"vendor_id" bson:"vendor_id"`
	CurrentTransactionId int    `json:"current_transaction_id" bson:"current_transaction_id"`
	CurrentPowerLimit    int    `json:"current_power_limit" bson:"current_power_limit"`
}

func NewConnector(id int, chargePointId string) *Connector {
	return &Connector{
		Id:                   id,
		ChargePointId:        chargePointId,
		IsEnabled:            true,
		Status:               string(ConnectorStatusAvailable),
		CurrentTransactionId: -1,
	}
}

// ConnectorSnapshot is the ledger view of a connector handed to persistence after every transition
type ConnectorSnapshot struct {
	ChargePointId string          `json:"charge_point_id" bson:"charge_point_id"`
	ConnectorId   int             `json:"connector_id" bson:"connector_id"`
	State         string          `json:"state" bson:"state"`
	Status        ConnectorStatus `json:"status" bson:"status"`
	SessionId     int             `json:"session_id" bson:"session_id"`
	Time          time.Time       `json:"time" bson:"time"`
}
