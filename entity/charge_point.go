package entity

import (
	"sync"
	"time"
)

type ChargePoint struct {
	Id              string       `json:"charge_point_id" bson:"charge_point_id"`
	IsEnabled       bool         `json:"is_enabled" bson:"is_enabled"`
	Title           string       `json:"title" bson:"title"`
	Description     string       `json:"description" bson:"description"`
	Model           string       `json:"model" bson:"model"`
	SerialNumber    string       `json:"serial_number" bson:"serial_number"`
	Vendor          string       `json:"vendor" bson:"vendor"`
	FirmwareVersion string       `json:"firmware_version" bson:"firmware_version"`
	ProtocolVersion string       `json:"protocol_version" bson:"protocol_version"`
	Status          string       `json:"status" bson:"status"`
	ErrorCode       string       `json:"error_code" bson:"error_code"`
	Info            string       `json:"info" bson:"info"`
	LocationId      string       `json:"location_id" bson:"location_id"`
	SmartCharging   bool         `json:"smart_charging" bson:"smart_charging"`
	IsOnline        bool         `json:"is_online" bson:"is_online"`
	LastSeen        time.Time    `json:"last_seen" bson:"last_seen"`
	Connectors      []*Connector `json:"connectors,omitempty" bson:"-"`
	mutex           sync.Mutex
}

func NewChargePoint(id string) *ChargePoint {
	return &ChargePoint{
		Id:        id,
		IsEnabled: true,
		Status:    string(ConnectorStatusAvailable),
		ErrorCode: "NoError",
	}
}

func (cp *ChargePoint) Lock() {
	cp.mutex.Lock()
}

func (cp *ChargePoint) Unlock() {
	cp.mutex.Unlock()
}

// Connector returns the connector with the given id or nil
func (cp *ChargePoint) Connector(id int) *Connector {
	for _, c := range cp.Connectors {
		if c.Id == id {
			return c
		}
	}
	return nil
}

// ConnectorIndexValid reports whether id addresses the whole charge point (0) or a known connector;
// a charge point that has not reported connectors yet accepts any positive id
func (cp *ChargePoint) ConnectorIndexValid(id int) bool {
	if id < 0 {
		return false
	}
	cp.mutex.Lock()
	defer cp.mutex.Unlock()
	if id == 0 || len(cp.Connectors) == 0 {
		return true
	}
	return cp.Connector(id) != nil
}

// Deactivate marks the charge point unusable without removing it; sessions keep referencing it
func (cp *ChargePoint) Deactivate() {
	cp.IsEnabled = false
	cp.Status = string(ConnectorStatusUnavailable)
}
