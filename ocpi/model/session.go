package model

import (
	"evledger/entity"
	"evledger/internal"
	"evledger/ocpi/codec"
	"strconv"
	"time"
)

type SessionStatus string

const (
	SessionActive    SessionStatus = "ACTIVE"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionInvalid   SessionStatus = "INVALID"
	SessionPending   SessionStatus = "PENDING"
)

type CdrToken struct {
	Uid        string `json:"uid"`
	Type       string `json:"type"`
	ContractId string `json:"contract_id"`
}

type Session struct {
	CountryCode   string        `json:"country_code"`
	PartyId       string        `json:"party_id"`
	Id            string        `json:"id"`
	StartDateTime time.Time     `json:"start_date_time"`
	EndDateTime   *time.Time    `json:"end_date_time,omitempty"`
	Kwh           float64       `json:"kwh"`
	CdrToken      CdrToken      `json:"cdr_token"`
	AuthMethod    string        `json:"auth_method"`
	LocationId    string        `json:"location_id"`
	EvseUid       string        `json:"evse_uid"`
	ConnectorId   string        `json:"connector_id"`
	Currency      string        `json:"currency"`
	Status        SessionStatus `json:"status"`
	LastUpdated   time.Time     `json:"last_updated"`
}

// SessionPatch is the partial update sent while a session is charging
type SessionPatch struct {
	Kwh         float64   `json:"kwh"`
	LastUpdated time.Time `json:"last_updated"`
}

const (
	tokenTypeRfid   = "RFID"
	authWhitelist   = "WHITELIST"
	defaultCurrency = "EUR"
)

func kwh(wh int64) float64 {
	return float64(wh) / 1000
}

// EvseUid is the station id of a charge point within its location; a location id that cannot be
// part of a station id leaves the charge point id as is
func EvseUid(locationId, chargePointId string) string {
	if locationId == "" {
		return chargePointId
	}
	id, err := codec.BuildStationId(locationId, chargePointId)
	if err != nil {
		return chargePointId
	}
	return id
}

func newSession(party Party, locationId, chargePointId string, connectorId int) *Session {
	return &Session{
		CountryCode: party.CountryCode,
		PartyId:     party.PartyId,
		AuthMethod:  authWhitelist,
		LocationId:  locationId,
		EvseUid:     EvseUid(locationId, chargePointId),
		ConnectorId: strconv.Itoa(connectorId),
		Currency:    defaultCurrency,
	}
}

// FromSession converts a ledger session for the partner
func FromSession(party Party, locationId string, session *entity.Session) *Session {
	s := newSession(party, locationId, session.ChargePointId, session.ConnectorId)
	s.Id = strconv.Itoa(session.Id)
	s.StartDateTime = session.StartTime()
	s.Kwh = kwh(session.Energy())
	s.CdrToken = CdrToken{Uid: session.IdTag, Type: tokenTypeRfid, ContractId: session.IdTag}
	s.LastUpdated = session.LastUpdated
	switch {
	case session.Stop != nil:
		end := session.Stop.Time
		s.EndDateTime = &end
		s.Status = SessionCompleted
		if session.Stop.Forced && session.Stop.Consumption == 0 {
			s.Status = SessionInvalid
		}
	case session.Status == entity.SessionAuthorized:
		s.Status = SessionPending
	default:
		s.Status = SessionActive
	}
	return s
}

// FromEvent builds the session state carried by a lifecycle event
func FromEvent(party Party, locationId string, event *internal.EventMessage) *Session {
	s := newSession(party, locationId, event.ChargePointId, event.ConnectorId)
	s.Id = strconv.Itoa(event.SessionId)
	s.StartDateTime = event.TimeStart
	s.CdrToken = CdrToken{Uid: event.IdTag, Type: tokenTypeRfid, ContractId: event.IdTag}
	s.LastUpdated = event.Time
	switch event.Type {
	case internal.SessionStopped, internal.ConnectorFaulted:
		end := event.Time
		s.EndDateTime = &end
		s.Kwh = kwh(event.Consumption)
		s.Status = SessionCompleted
	default:
		s.Kwh = kwh(event.Energy)
		s.Status = SessionActive
	}
	return s
}
