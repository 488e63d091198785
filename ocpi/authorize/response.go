package authorize

import (
	"encoding/json"
	"errors"
)

type LocationReferences struct {
	LocationId string   `json:"location_id"`
	EvseUids   []string `json:"evse_uids,omitempty"`
}

type DisplayText struct {
	Language string `json:"language"`
	Text     string `json:"text"`
}

type Response struct {
	Allowed                string       `json:"allowed"`
	AuthorizationReference string       `json:"authorization_reference,omitempty"`
	Info                   *DisplayText `json:"info,omitempty"`
}

func ParseResponse(body []byte) (*Response, error) {
	if len(body) == 0 {
		return nil, errors.New("empty authorization info")
	}
	res := &Response{}
	if err := json.Unmarshal(body, res); err != nil {
		return nil, err
	}
	if res.Allowed == "" {
		return nil, errors.New("authorization info without allowed status")
	}
	return res, nil
}
