package entity

import (
	"strings"
	"time"
)

// TagSourceRemote marks tags owned by a federation partner
const TagSourceRemote = "ocpi"

type UserTag struct {
	Username       string    `json:"username" bson:"username"`
	UserId         string    `json:"user_id" bson:"user_id"`
	IdTag          string    `json:"id_tag" bson:"id_tag"`
	Source         string    `json:"source" bson:"source"`
	IsEnabled      bool      `json:"is_enabled" bson:"is_enabled"`
	Local          bool      `json:"local" bson:"local"`
	Note           string    `json:"note" bson:"note"`
	DateRegistered time.Time `json:"date_registered" bson:"date_registered"`
	LastSeen       time.Time `json:"last_seen" bson:"last_seen"`
}

func NewUserTag(idTag string) *UserTag {
	// charge point can add a prefix to the id tag, separated by a colon
	source, id := SplitIdTag(idTag)
	return &UserTag{
		IdTag:          id,
		Source:         source,
		IsEnabled:      false,
		DateRegistered: time.Now().UTC(),
	}
}

func SplitIdTag(idTag string) (string, string) {
	if source, id, ok := strings.Cut(idTag, ":"); ok {
		return source, id
	}
	return "", idTag
}

// UserRef identifies the user behind an accepted tag
type UserRef struct {
	UserId   string `json:"user_id" bson:"user_id"`
	Username string `json:"username" bson:"username"`
	IdTag    string `json:"id_tag" bson:"id_tag"`
	Source   string `json:"source,omitempty" bson:"source,omitempty"`
}

func (t *UserTag) Ref() *UserRef {
	return &UserRef{
		UserId:   t.UserId,
		Username: t.Username,
		IdTag:    t.IdTag,
		Source:   t.Source,
	}
}
