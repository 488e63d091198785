package ledger

import "evledger/entity"

// State of a connector as seen by the ledger
type State string

const (
	StateIdle        State = "Idle"
	StateAuthorizing State = "Authorizing"
	StateActive      State = "Active"
	StateStopping    State = "Stopping"
	StateFaulted     State = "Faulted"
)

// Availability maps the ledger state to the reported connector status
func (s State) Availability() entity.ConnectorStatus {
	switch s {
	case StateAuthorizing:
		return entity.ConnectorStatusPreparing
	case StateActive:
		return entity.ConnectorStatusCharging
	case StateStopping:
		return entity.ConnectorStatusFinishing
	case StateFaulted:
		return entity.ConnectorStatusFaulted
	}
	return entity.ConnectorStatusAvailable
}

// busy states hold the connector for one session
func (s State) busy() bool {
	return s == StateAuthorizing || s == StateActive || s == StateStopping
}
