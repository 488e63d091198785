package server

import (
	"context"
	"evledger/internal"
	"evledger/ocpp"
	"evledger/ocpp/remotetrigger"
	"sync"
	"testing"
)

type recordingCommander struct {
	mutex    sync.Mutex
	requests map[string][]ocpp.Request
}

func (c *recordingCommander) Call(_ context.Context, chargePointId string, request ocpp.Request) (string, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.requests == nil {
		c.requests = make(map[string][]ocpp.Request)
	}
	c.requests[chargePointId] = append(c.requests[chargePointId], request)
	return `{"status":"Accepted"}`, nil
}

func TestTriggerFollowsSessions(t *testing.T) {
	commander := &recordingCommander{}
	trigger := NewTrigger(commander, 0, nopLog{})
	trigger.OnSessionStarted(&internal.EventMessage{ChargePointId: "CP1", ConnectorId: 2, SessionId: 7})
	trigger.OnSessionStarted(&internal.EventMessage{ChargePointId: "CP2", ConnectorId: 1, SessionId: 8})
	trigger.OnSessionStopped(&internal.EventMessage{ChargePointId: "CP2", ConnectorId: 1, SessionId: 8})
	// a fault without a session keeps the others
	trigger.OnConnectorFaulted(&internal.EventMessage{ChargePointId: "CP1", ConnectorId: 1})

	trigger.triggerMeterValues(context.Background())

	if len(commander.requests["CP2"]) != 0 {
		t.Errorf("stopped session triggered")
	}
	requests := commander.requests["CP1"]
	if len(requests) != 1 {
		t.Fatalf("requests = %v", commander.requests)
	}
	request := requests[0].(*remotetrigger.TriggerMessageRequest)
	if request.RequestedMessage != remotetrigger.MessageTriggerMeterValues || request.ConnectorId == nil || *request.ConnectorId != 2 {
		t.Errorf("unexpected request %+v", request)
	}

	trigger.OnConnectorFaulted(&internal.EventMessage{ChargePointId: "CP1", ConnectorId: 2, SessionId: 7})
	if len(trigger.targets()) != 0 {
		t.Error("faulted session still watched")
	}
}
