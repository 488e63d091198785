package ocpi

import (
	"context"
	"encoding/json"
	"evledger/entity"
	"evledger/internal/config"
	"evledger/ocpi/codec"
	"evledger/ocpi/model"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
)

type nopLog struct{}

func (nopLog) FeatureEvent(string, string, string) {}
func (nopLog) Debug(string)                        {}
func (nopLog) Warn(string)                         {}
func (nopLog) Error(string, error)                 {}
func (nopLog) RawDataEvent(string, string)         {}

type memoryRepository struct {
	tags      map[string]*entity.UserTag
	locations map[string]*entity.Location
}

func (m *memoryRepository) GetChargePoint(string) (*entity.ChargePoint, error)  { return nil, nil }
func (m *memoryRepository) GetChargePoints() ([]*entity.ChargePoint, error)   { return nil, nil }
func (m *memoryRepository) GetLocations() ([]*entity.Location, error)         { return nil, nil }
func (m *memoryRepository) UpsertUserTag(tag *entity.UserTag) error            { m.tags[tag.IdTag] = tag; return nil }
func (m *memoryRepository) UpsertLocation(location *entity.Location) error     { m.locations[location.Id] = location; return nil }

type noSessions struct{}

func (noSessions) Sessions(int, int) ([]*entity.Session, int) { return nil, 0 }

func partner(t *testing.T) *httptest.Server {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, limit, _ := codec.ParsePage(r.URL.Query(), 2, 2)
		switch r.URL.Path {
		case "/tokens":
			const total = 3
			var tokens []model.Token
			for i := offset; i < offset+limit && i < total; i++ {
				tokens = append(tokens, model.Token{Uid: "U" + strconv.Itoa(i), Valid: i != 1})
			}
			if link, ok := codec.BuildPaginationLink(r.URL.String(), server.URL, offset, limit, total); ok {
				w.Header().Set("Link", codec.LinkHeader(link))
			}
			_ = json.NewEncoder(w).Encode(codec.Success(tokens))
		case "/locations":
			_ = json.NewEncoder(w).Encode(codec.Success([]model.Location{{CountryCode: "DE", PartyId: "XYZ", Id: "S1"}}))
		case "/tokens/U9/authorize":
			_ = json.NewEncoder(w).Encode(codec.Success(map[string]string{"allowed": "ALLOWED"}))
		default:
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(codec.Failure(codec.NewError(codec.StatusUnknownToken, "unknown")))
		}
	}))
	return server
}

func newOCPI(url string) (*OCPI, *memoryRepository) {
	conf := &config.Config{}
	conf.Ocpi.Url = url
	conf.Ocpi.Token = "t"
	conf.Ocpi.CountryCode = "FR"
	conf.Ocpi.PartyId = "ABC"
	conf.Ocpi.Tenant = "acme"
	conf.Ocpi.PageLimit = 2
	repo := &memoryRepository{tags: map[string]*entity.UserTag{}, locations: map[string]*entity.Location{}}
	return New(conf, repo, noSessions{}, nopLog{}), repo
}

func TestPull(t *testing.T) {
	server := partner(t)
	defer server.Close()
	o, repo := newOCPI(server.URL)

	count, err := o.PullTokens(context.Background())
	if err != nil || count != 3 {
		t.Fatalf("PullTokens = %d, %v", count, err)
	}
	if repo.tags["U1"].IsEnabled || !repo.tags["U2"].IsEnabled {
		t.Errorf("tags = %+v", repo.tags)
	}

	count, err = o.PullLocations(context.Background())
	if err != nil || count != 1 || repo.locations["S1"].SiteAreaName != "DE*XYZ-S1" {
		t.Errorf("PullLocations = %d, %v, %+v", count, err, repo.locations)
	}
}

func TestAuthorizeTag(t *testing.T) {
	server := partner(t)
	defer server.Close()
	o, _ := newOCPI(server.URL)

	if ok, err := o.AuthorizeTag(context.Background(), "U9"); err != nil || !ok {
		t.Errorf("AuthorizeTag(U9) = %v, %v", ok, err)
	}
	if ok, err := o.AuthorizeTag(context.Background(), "U0"); err == nil || ok {
		t.Errorf("AuthorizeTag(U0) = %v, %v, want error", ok, err)
	}
}

func TestCredentials(t *testing.T) {
	o, _ := newOCPI("http://localhost")
	tenant, err := codec.DecodeLocalToken(o.Credentials())
	if err != nil || tenant != "acme" {
		t.Errorf("credentials decode to %q, %v", tenant, err)
	}
}
