package ocpi

import (
	"context"
	"encoding/json"
	"evledger/entity"
	"evledger/internal"
	"evledger/internal/config"
	"evledger/ocpi/authorize"
	"evledger/ocpi/client"
	"evledger/ocpi/codec"
	"evledger/ocpi/endpoint"
	"evledger/ocpi/listener"
	"evledger/ocpi/model"
	"fmt"
	"time"

	"github.com/julienschmidt/httprouter"
)

const (
	featureName       = "OCPI"
	tokensEndpoint    = "/tokens"
	locationsEndpoint = "/locations"
)

type Repository interface {
	endpoint.Repository
	UpsertUserTag(userTag *entity.UserTag) error
	UpsertLocation(location *entity.Location) error
}

// OCPI connects the central system to one federation partner
type OCPI struct {
	client     *client.Client
	listener   *listener.Listener
	auth       *authorize.Authorize
	endpoint   *endpoint.Endpoint
	database   Repository
	party      model.Party
	tenant     string
	pageLimit  int
	pullPeriod time.Duration
	logger     internal.LogHandler
}

func New(conf *config.Config, database Repository, sessions endpoint.Sessions, logger internal.LogHandler) *OCPI {
	cl := client.New(conf.Ocpi.Url, conf.Ocpi.Token)
	cl.SetLogger(logger)
	party := model.Party{CountryCode: conf.Ocpi.CountryCode, PartyId: conf.Ocpi.PartyId}
	ep := endpoint.New(sessions, database, party, conf.Ocpi.Tenant, logger)
	ep.SetPaging(conf.Ocpi.BaseUrl, conf.Ocpi.PageLimit)
	ep.SetTimeZone(conf.TimeZone)
	return &OCPI{
		client:     cl,
		listener:   listener.New(cl, party, database, logger),
		auth:       authorize.New(cl),
		endpoint:   ep,
		database:   database,
		party:      party,
		tenant:     conf.Ocpi.Tenant,
		pageLimit:  conf.Ocpi.PageLimit,
		pullPeriod: conf.Ocpi.PullPeriod,
		logger:     logger,
	}
}

// Listener is the event handler pushing sessions to the partner
func (o *OCPI) Listener() internal.EventHandler {
	return o.listener
}

func (o *OCPI) RegisterRoutes(router *httprouter.Router) {
	o.endpoint.Register(router)
}

// Credentials returns a token the partner presents to this system
func (o *OCPI) Credentials() string {
	return codec.EncodeLocalToken(o.tenant)
}

// AuthorizeTag asks the partner about a tag not known locally
func (o *OCPI) AuthorizeTag(ctx context.Context, idTag string) (bool, error) {
	result, err := o.auth.Authorize(ctx, "", "", idTag)
	if err != nil {
		return false, err
	}
	if !result.Allowed {
		o.logger.FeatureEvent(featureName, idTag, fmt.Sprintf("remote authorization refused: expired=%v blocked=%v %s", result.Expired, result.Blocked, result.Info))
	}
	return result.Allowed, nil
}

// PullTokens stores every token of the partner and returns how many were stored
func (o *OCPI) PullTokens(ctx context.Context) (int, error) {
	count := 0
	err := o.client.GetPages(ctx, tokensEndpoint, o.pageLimit, func(data json.RawMessage) error {
		var tokens []*model.Token
		if err := json.Unmarshal(data, &tokens); err != nil {
			return fmt.Errorf("decoding tokens: %w", err)
		}
		for _, token := range tokens {
			if token.Uid == "" {
				continue
			}
			if err := o.database.UpsertUserTag(token.UserTag()); err != nil {
				return fmt.Errorf("saving token %s: %w", token.Uid, err)
			}
			count++
		}
		return nil
	})
	return count, err
}

// PullLocations stores the partner locations and returns how many were stored
func (o *OCPI) PullLocations(ctx context.Context) (int, error) {
	count := 0
	err := o.client.GetPages(ctx, locationsEndpoint, o.pageLimit, func(data json.RawMessage) error {
		var locations []*model.Location
		if err := json.Unmarshal(data, &locations); err != nil {
			return fmt.Errorf("decoding locations: %w", err)
		}
		for _, location := range locations {
			if location.Id == "" {
				continue
			}
			if err := o.database.UpsertLocation(location.Entity()); err != nil {
				return fmt.Errorf("saving location %s: %w", location.Id, err)
			}
			count++
		}
		return nil
	})
	return count, err
}

// Start runs the session push worker and pulls partner data every pull period
func (o *OCPI) Start(ctx context.Context) {
	o.listener.Start(ctx)
	if o.pullPeriod <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(o.pullPeriod)
		defer ticker.Stop()
		for {
			o.pull(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (o *OCPI) pull(ctx context.Context) {
	tokens, err := o.PullTokens(ctx)
	if err != nil {
		o.logger.Error(featureName+": pulling tokens", err)
	}
	locations, err := o.PullLocations(ctx)
	if err != nil {
		o.logger.Error(featureName+": pulling locations", err)
	}
	o.logger.FeatureEvent(featureName, o.tenant, fmt.Sprintf("pulled %d tokens, %d locations", tokens, locations))
}
