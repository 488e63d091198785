package server

import (
	"context"
	"encoding/json"
	"evledger/capability"
	"evledger/internal"
	"evledger/ocpp/remotetrigger"
	"fmt"
	"sync"
	"time"
)

const featureNameTrigger = "Trigger"

type triggerTarget struct {
	chargePointId string
	connectorId   int
}

// Trigger asks charge points with an active session for fresh meter values every period
type Trigger struct {
	commander capability.Commander
	period    time.Duration
	sessions  map[int]triggerTarget
	mutex     sync.Mutex
	logger    internal.LogHandler
}

func NewTrigger(commander capability.Commander, period time.Duration, logger internal.LogHandler) *Trigger {
	return &Trigger{
		commander: commander,
		period:    period,
		sessions:  make(map[int]triggerTarget),
		logger:    logger,
	}
}

func (t *Trigger) Start(ctx context.Context) {
	if t.period <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(t.period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.triggerMeterValues(ctx)
			}
		}
	}()
}

func (t *Trigger) targets() []triggerTarget {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	list := make([]triggerTarget, 0, len(t.sessions))
	for _, target := range t.sessions {
		list = append(list, target)
	}
	return list
}

func (t *Trigger) triggerMeterValues(ctx context.Context) {
	for _, target := range t.targets() {
		request := remotetrigger.NewTriggerMessageRequest(remotetrigger.MessageTriggerMeterValues, target.connectorId)
		payload, err := t.commander.Call(ctx, target.chargePointId, request)
		if err != nil {
			t.logger.FeatureEvent(featureNameTrigger, target.chargePointId, fmt.Sprintf("error sending request: %v", err))
			continue
		}
		var response remotetrigger.TriggerMessageResponse
		if err = json.Unmarshal([]byte(payload), &response); err != nil {
			t.logger.FeatureEvent(featureNameTrigger, target.chargePointId, fmt.Sprintf("invalid response: %v", err))
			continue
		}
		if response.Status != remotetrigger.TriggerMessageStatusAccepted {
			t.logger.FeatureEvent(featureNameTrigger, target.chargePointId, fmt.Sprintf("connector %d: trigger %s", target.connectorId, response.Status))
		}
	}
}

func (t *Trigger) OnSessionStarted(event *internal.EventMessage) {
	t.mutex.Lock()
	t.sessions[event.SessionId] = triggerTarget{chargePointId: event.ChargePointId, connectorId: event.ConnectorId}
	t.mutex.Unlock()
	t.logger.FeatureEvent(featureNameTrigger, event.ChargePointId, fmt.Sprintf("start watching on connector: %v session: %v", event.ConnectorId, event.SessionId))
}

func (t *Trigger) OnMeterValueRecorded(*internal.EventMessage) {}

func (t *Trigger) OnSessionStopped(event *internal.EventMessage) {
	t.forget(event.SessionId)
}

func (t *Trigger) OnConnectorFaulted(event *internal.EventMessage) {
	if event.SessionId > 0 {
		t.forget(event.SessionId)
	}
}

func (t *Trigger) forget(sessionId int) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if _, ok := t.sessions[sessionId]; ok {
		delete(t.sessions, sessionId)
	}
}
