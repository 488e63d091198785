package power

import (
	"evledger/capability"
	"evledger/entity"
)

type Repository interface {
	GetChargePoint(id string) (*entity.ChargePoint, error)
	GetChargePoints() ([]*entity.ChargePoint, error)
	GetLocation(locationId string) (*entity.Location, error)
	UpdateConnector(connector *entity.Connector) error
}

// Sessions is the part of the ledger the balancer needs: the live session of a connector and
// the exclusion domain control operations run in
type Sessions interface {
	ActiveSession(chargePointId string, connectorId int) (*entity.Session, bool)
	Control(chargePointId string, connectorId int, fn func() error) error
}

type Capabilities interface {
	Resolve(vendor string) capability.Capability
}
