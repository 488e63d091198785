package authorize

import (
	"context"
	"evledger/ocpi/client"
	"fmt"
	"net/http"
	"net/url"
)

const authorizeEndpoint = "/tokens/%s/authorize?type=RFID"

type Authorize struct {
	client *client.Client
}

func New(client *client.Client) *Authorize {
	return &Authorize{
		client: client,
	}
}

// Authorize asks the token owner whether idTag may charge; locationId and evseUid narrow the
// request when known
func (a *Authorize) Authorize(ctx context.Context, locationId, evseUid, idTag string) (*Result, error) {
	var body interface{}
	if locationId != "" {
		refs := &LocationReferences{LocationId: locationId}
		if evseUid != "" {
			refs.EvseUids = []string{evseUid}
		}
		body = refs
	}
	resp, err := a.client.Send(ctx, http.MethodPost, fmt.Sprintf(authorizeEndpoint, url.PathEscape(idTag)), body)
	if err != nil {
		return nil, fmt.Errorf("authorize %s: %w", idTag, err)
	}
	response, err := ParseResponse(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("authorize %s: %w", idTag, err)
	}
	return NewFromResponse(response), nil
}
