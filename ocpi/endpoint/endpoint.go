package endpoint

import (
	"encoding/json"
	"evledger/entity"
	"evledger/internal"
	"evledger/ocpi/codec"
	"evledger/ocpi/model"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
)

const (
	SessionsPath  = "/ocpi/cpo/2.2/sessions"
	LocationsPath = "/ocpi/cpo/2.2/locations"
	maxPageLimit  = 1000
	featureName   = "OCPI"
)

type Sessions interface {
	Sessions(offset, limit int) ([]*entity.Session, int)
}

type Repository interface {
	GetChargePoint(id string) (*entity.ChargePoint, error)
	GetChargePoints() ([]*entity.ChargePoint, error)
	GetLocations() ([]*entity.Location, error)
}

// Endpoint serves the paged sender interfaces to the partner
type Endpoint struct {
	sessions  Sessions
	database  Repository
	party     model.Party
	tenant    string
	baseUrl   string
	pageLimit int
	timeZone  string
	logger    internal.LogHandler
}

func New(sessions Sessions, database Repository, party model.Party, tenant string, logger internal.LogHandler) *Endpoint {
	return &Endpoint{
		sessions:  sessions,
		database:  database,
		party:     party,
		tenant:    tenant,
		pageLimit: 50,
		timeZone:  "UTC",
		logger:    logger,
	}
}

// SetPaging sets the public base url used in next links and the default page size
func (e *Endpoint) SetPaging(baseUrl string, pageLimit int) {
	e.baseUrl = baseUrl
	if pageLimit > 0 {
		e.pageLimit = pageLimit
	}
}

func (e *Endpoint) SetTimeZone(timeZone string) {
	e.timeZone = timeZone
}

func (e *Endpoint) Register(router *httprouter.Router) {
	router.GET(SessionsPath, e.authorized(e.getSessions))
	router.GET(LocationsPath, e.authorized(e.getLocations))
}

func (e *Endpoint) authorized(handle httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		token, ok := codec.TokenFromHeader(r.Header.Get("Authorization"))
		if !ok {
			e.write(w, http.StatusUnauthorized, codec.Failure(codec.NewError(codec.StatusGenericClientError, "missing token")))
			return
		}
		tenant, err := codec.DecodeLocalToken(token)
		if err != nil || tenant != e.tenant {
			e.logger.Warn(fmt.Sprintf("%s: rejected token from %s", featureName, r.RemoteAddr))
			e.write(w, http.StatusUnauthorized, codec.Failure(codec.NewError(codec.StatusGenericClientError, "invalid token")))
			return
		}
		handle(w, r, ps)
	}
}

func (e *Endpoint) getSessions(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	offset, limit, err := codec.ParsePage(r.URL.Query(), e.pageLimit, maxPageLimit)
	if err != nil {
		e.fail(w, err)
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		e.fail(w, err)
		return
	}
	all, _ := e.sessions.Sessions(0, 0)
	var filtered []*entity.Session
	for _, session := range all {
		if !from.IsZero() && session.LastUpdated.Before(from) {
			continue
		}
		if !to.IsZero() && !session.LastUpdated.Before(to) {
			continue
		}
		filtered = append(filtered, session)
	}

	page := window(len(filtered), offset, limit)
	locations := make(map[string]string)
	result := make([]*model.Session, 0, len(page))
	for _, i := range page {
		session := filtered[i]
		locationId, ok := locations[session.ChargePointId]
		if !ok {
			locationId = e.locationId(session.ChargePointId)
			locations[session.ChargePointId] = locationId
		}
		result = append(result, model.FromSession(e.party, locationId, session))
	}
	e.page(w, r, result, offset, limit, len(filtered))
}

func (e *Endpoint) getLocations(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	offset, limit, err := codec.ParsePage(r.URL.Query(), e.pageLimit, maxPageLimit)
	if err != nil {
		e.fail(w, err)
		return
	}
	all, err := e.database.GetLocations()
	if err != nil {
		e.fail(w, err)
		return
	}
	var local []*entity.Location
	for _, location := range all {
		if !location.Remote {
			local = append(local, location)
		}
	}
	chargePoints, err := e.database.GetChargePoints()
	if err != nil {
		e.fail(w, err)
		return
	}
	byLocation := make(map[string][]*entity.ChargePoint)
	for _, chp := range chargePoints {
		byLocation[chp.LocationId] = append(byLocation[chp.LocationId], chp)
	}

	page := window(len(local), offset, limit)
	result := make([]*model.Location, 0, len(page))
	for _, i := range page {
		location := local[i]
		result = append(result, model.FromLocation(e.party, location, byLocation[location.Id], e.timeZone))
	}
	e.page(w, r, result, offset, limit, len(local))
}

func (e *Endpoint) locationId(chargePointId string) string {
	chp, err := e.database.GetChargePoint(chargePointId)
	if err != nil || chp == nil {
		return ""
	}
	return chp.LocationId
}

func (e *Endpoint) page(w http.ResponseWriter, r *http.Request, data interface{}, offset, limit, total int) {
	if link, ok := codec.BuildPaginationLink(r.URL.String(), e.baseUrl, offset, limit, total); ok {
		w.Header().Set("Link", codec.LinkHeader(link))
	}
	w.Header().Set(codec.TotalCountHeader, strconv.Itoa(total))
	w.Header().Set(codec.LimitHeader, strconv.Itoa(limit))
	e.write(w, http.StatusOK, codec.Success(data))
}

func (e *Endpoint) fail(w http.ResponseWriter, err error) {
	envelope := codec.Failure(err)
	status := (&codec.Error{Code: envelope.StatusCode}).HTTPStatus()
	if status == http.StatusInternalServerError {
		e.logger.Error(featureName+": request failed", err)
	}
	e.write(w, status, envelope)
}

func (e *Endpoint) write(w http.ResponseWriter, status int, envelope *codec.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope); err != nil {
		e.logger.Error(featureName+": writing response", err)
	}
}

// window returns the indexes of the requested page
func window(total, offset, limit int) []int {
	var indexes []int
	for i := offset; i < total && i < offset+limit; i++ {
		indexes = append(indexes, i)
	}
	return indexes
}

func dateRange(r *http.Request) (time.Time, time.Time, error) {
	var from, to time.Time
	for name, target := range map[string]*time.Time{"date_from": &from, "date_to": &to} {
		value := r.URL.Query().Get(name)
		if value == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return from, to, codec.NewError(codec.StatusInvalidOrMissingParameters, "%s: %s is not a RFC 3339 time", name, value)
		}
		*target = t
	}
	return from, to, nil
}
