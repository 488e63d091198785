package entity

import "time"

type GeoLocation struct {
	Latitude  string `json:"latitude" bson:"latitude"`
	Longitude string `json:"longitude" bson:"longitude"`
}

// Location groups charge points of one site; remote locations carry the partner party
type Location struct {
	Id                string         `json:"id" bson:"id"`
	CountryCode       string         `json:"country_code" bson:"country_code"`
	PartyId           string         `json:"party_id" bson:"party_id"`
	Remote            bool           `json:"remote" bson:"remote"`
	SiteAreaName      string         `json:"site_area_name,omitempty" bson:"site_area_name,omitempty"`
	Name              string         `json:"name,omitempty" bson:"name,omitempty"`
	Address           string         `json:"address" bson:"address"`
	City              string         `json:"city" bson:"city"`
	PostalCode        string         `json:"postal_code" bson:"postal_code"`
	Country           string         `json:"country" bson:"country"`
	Coordinates       GeoLocation    `json:"coordinates" bson:"coordinates"`
	PowerLimit        int            `json:"power_limit" bson:"power_limit"`
	DefaultPowerLimit int            `json:"default_power_limit" bson:"default_power_limit"`
	LastUpdated       time.Time      `json:"last_updated" bson:"last_updated"`
	Evses             []*ChargePoint `json:"evses,omitempty" bson:"evses,omitempty"`
}
