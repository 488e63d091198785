package model

import (
	"evledger/entity"
	"time"
)

type Token struct {
	CountryCode  string    `json:"country_code"`
	PartyId      string    `json:"party_id"`
	Uid          string    `json:"uid"`
	Type         string    `json:"type"`
	ContractId   string    `json:"contract_id"`
	VisualNumber string    `json:"visual_number,omitempty"`
	Issuer       string    `json:"issuer"`
	Valid        bool      `json:"valid"`
	Whitelist    string    `json:"whitelist"`
	LastUpdated  time.Time `json:"last_updated"`
}

// UserTag converts a partner token into a tag owned by the partner
func (t *Token) UserTag() *entity.UserTag {
	return &entity.UserTag{
		Username:       t.Issuer,
		UserId:         t.ContractId,
		IdTag:          t.Uid,
		Source:         entity.TagSourceRemote,
		IsEnabled:      t.Valid,
		Note:           t.VisualNumber,
		DateRegistered: t.LastUpdated,
		LastSeen:       t.LastUpdated,
	}
}
