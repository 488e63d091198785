package internal

import "evledger/entity"

// Database is the persistence collaborator; implementations bound every call with their own timeout
type Database interface {
	WriteLogMessage(message *FeatureLogMessage) error
	GetChargePoints() ([]*entity.ChargePoint, error)
	GetChargePoint(id string) (*entity.ChargePoint, error)
	AddChargePoint(chargePoint *entity.ChargePoint) error
	UpdateChargePoint(chargePoint *entity.ChargePoint) error
	GetConnectors() ([]*entity.Connector, error)
	UpdateConnector(connector *entity.Connector) error
	SaveConnectorSnapshot(snapshot *entity.ConnectorSnapshot) error
	GetUserTag(id string) (*entity.UserTag, error)
	AddUserTag(userTag *entity.UserTag) error
	UpsertUserTag(userTag *entity.UserTag) error
	GetLastSessionId() (int, error)
	SaveSession(session *entity.Session) error
	GetLocation(id string) (*entity.Location, error)
	GetLocations() ([]*entity.Location, error)
	UpsertLocation(location *entity.Location) error
	AddErrorData(data *entity.ErrorData) error
	GetSubscriptions() ([]entity.UserSubscription, error)
	AddSubscription(subscription *entity.UserSubscription) error
	DeleteSubscription(subscription *entity.UserSubscription) error
}
