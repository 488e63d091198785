package listener

import (
	"context"
	"encoding/json"
	"evledger/entity"
	"evledger/internal"
	"evledger/ocpi/client"
	"evledger/ocpi/codec"
	"evledger/ocpi/model"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type nopLog struct{}

func (nopLog) FeatureEvent(string, string, string) {}
func (nopLog) Debug(string)                        {}
func (nopLog) Warn(string)                         {}
func (nopLog) Error(string, error)                 {}
func (nopLog) RawDataEvent(string, string)         {}

type oneChargePoint struct{}

func (oneChargePoint) GetChargePoint(id string) (*entity.ChargePoint, error) {
	chp := entity.NewChargePoint(id)
	chp.LocationId = "LOC1"
	return chp, nil
}

type request struct {
	method string
	path   string
	body   map[string]interface{}
}

func TestListener_PushesSessions(t *testing.T) {
	var mutex sync.Mutex
	var requests []request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mutex.Lock()
		requests = append(requests, request{r.Method, r.URL.Path, body})
		mutex.Unlock()
		_ = json.NewEncoder(w).Encode(codec.Success(nil))
	}))
	defer server.Close()

	l := New(client.New(server.URL, "t"), model.Party{CountryCode: "FR", PartyId: "ABC"}, oneChargePoint{}, nopLog{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Start(ctx)

	now := time.Now().UTC()
	l.OnSessionStarted(&internal.EventMessage{Type: internal.SessionStarted, ChargePointId: "CP1", ConnectorId: 1, SessionId: 3, Time: now, TimeStart: now})
	l.OnMeterValueRecorded(&internal.EventMessage{Type: internal.MeterValueRecorded, ChargePointId: "CP1", SessionId: 3, Energy: 1500, Time: now})
	l.OnSessionStopped(&internal.EventMessage{Type: internal.SessionStopped, ChargePointId: "CP1", ConnectorId: 1, SessionId: 3, Consumption: 2000, Time: now})
	l.OnConnectorFaulted(&internal.EventMessage{Type: internal.ConnectorFaulted, ChargePointId: "CP1", ConnectorId: 2})

	deadline := time.Now().Add(2 * time.Second)
	for {
		mutex.Lock()
		n := len(requests)
		mutex.Unlock()
		if n >= 3 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mutex.Lock()
	defer mutex.Unlock()
	if len(requests) != 3 {
		t.Fatalf("requests = %d, want 3", len(requests))
	}
	want := []string{http.MethodPut, http.MethodPatch, http.MethodPut}
	for i, r := range requests {
		if r.method != want[i] || r.path != "/sessions/FR/ABC/3" {
			t.Errorf("request %d = %s %s", i, r.method, r.path)
		}
	}
	if requests[0].body["location_id"] != "LOC1" || requests[0].body["status"] != "ACTIVE" {
		t.Errorf("start body = %v", requests[0].body)
	}
	if requests[1].body["kwh"] != 1.5 {
		t.Errorf("patch body = %v", requests[1].body)
	}
	if requests[2].body["status"] != "COMPLETED" || requests[2].body["kwh"] != 2.0 {
		t.Errorf("stop body = %v", requests[2].body)
	}
}
