package model

import (
	"evledger/entity"
	"evledger/ocpi/codec"
	"fmt"
	"strconv"
	"time"
)

// Party is the country code and party id pair identifying an operator
type Party struct {
	CountryCode string
	PartyId     string
}

func (p Party) OperatorName() (string, error) {
	return codec.BuildOperatorName(p.CountryCode, p.PartyId)
}

type GeoLocation struct {
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
}

type Connector struct {
	Id          string    `json:"id"`
	Standard    string    `json:"standard"`
	Format      string    `json:"format"`
	PowerType   string    `json:"power_type"`
	MaxVoltage  int       `json:"max_voltage"`
	MaxAmperage int       `json:"max_amperage"`
	LastUpdated time.Time `json:"last_updated"`
}

type Evse struct {
	Uid         string       `json:"uid"`
	EvseId      string       `json:"evse_id,omitempty"`
	Status      string       `json:"status"`
	Connectors  []*Connector `json:"connectors"`
	LastUpdated time.Time    `json:"last_updated"`
}

type Location struct {
	CountryCode string      `json:"country_code"`
	PartyId     string      `json:"party_id"`
	Id          string      `json:"id"`
	Publish     bool        `json:"publish"`
	Name        string      `json:"name,omitempty"`
	Address     string      `json:"address"`
	City        string      `json:"city"`
	PostalCode  string      `json:"postal_code,omitempty"`
	Country     string      `json:"country"`
	Coordinates GeoLocation `json:"coordinates"`
	Evses       []*Evse     `json:"evses,omitempty"`
	TimeZone    string      `json:"time_zone,omitempty"`
	LastUpdated time.Time   `json:"last_updated"`
}

// evseStatus maps the connector status to the OCPI EVSE status
func evseStatus(status string) string {
	switch entity.ConnectorStatus(status) {
	case entity.ConnectorStatusAvailable:
		return "AVAILABLE"
	case entity.ConnectorStatusPreparing, entity.ConnectorStatusCharging, entity.ConnectorStatusFinishing:
		return "CHARGING"
	case entity.ConnectorStatusFaulted:
		return "OUTOFORDER"
	case entity.ConnectorStatusUnavailable:
		return "INOPERATIVE"
	}
	return "UNKNOWN"
}

// FromLocation converts a local location with its charge points
func FromLocation(party Party, location *entity.Location, chargePoints []*entity.ChargePoint, timeZone string) *Location {
	l := &Location{
		CountryCode: party.CountryCode,
		PartyId:     party.PartyId,
		Id:          location.Id,
		Publish:     true,
		Name:        location.Name,
		Address:     location.Address,
		City:        location.City,
		PostalCode:  location.PostalCode,
		Country:     location.Country,
		Coordinates: GeoLocation{Latitude: location.Coordinates.Latitude, Longitude: location.Coordinates.Longitude},
		TimeZone:    timeZone,
		LastUpdated: location.LastUpdated,
	}
	for _, chp := range chargePoints {
		if !chp.IsEnabled {
			continue
		}
		evse := &Evse{
			Uid:         EvseUid(location.Id, chp.Id),
			Status:      evseStatus(chp.Status),
			LastUpdated: chp.LastSeen,
		}
		if name, err := party.OperatorName(); err == nil {
			evse.EvseId = fmt.Sprintf("%s*E%s", name, chp.Id)
		}
		for _, c := range chp.Connectors {
			evse.Connectors = append(evse.Connectors, &Connector{
				Id:          strconv.Itoa(c.Id),
				Standard:    "IEC_62196_T2",
				Format:      "SOCKET",
				PowerType:   "AC_3_PHASE",
				MaxVoltage:  230,
				MaxAmperage: c.CurrentPowerLimit,
				LastUpdated: chp.LastSeen,
			})
		}
		l.Evses = append(l.Evses, evse)
	}
	return l
}

// Entity converts a partner location; the site area name is left empty when the partner ids
// cannot form one
func (l *Location) Entity() *entity.Location {
	location := &entity.Location{
		Id:          l.Id,
		CountryCode: l.CountryCode,
		PartyId:     l.PartyId,
		Remote:      true,
		Name:        l.Name,
		Address:     l.Address,
		City:        l.City,
		PostalCode:  l.PostalCode,
		Country:     l.Country,
		Coordinates: entity.GeoLocation{Latitude: l.Coordinates.Latitude, Longitude: l.Coordinates.Longitude},
		LastUpdated: l.LastUpdated,
	}
	if name, err := codec.BuildSiteAreaName(l.CountryCode, l.PartyId, l.Id); err == nil {
		location.SiteAreaName = name
	}
	return location
}
