package server

import (
	"context"
	"errors"
	"evledger/capability"
	"evledger/ocpp"
	"evledger/ocpp/remotetrigger"
	"fmt"
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

// capturingSender records sent calls and hands their ids to the test
type capturingSender struct {
	mutex     sync.Mutex
	connected map[string]bool
	sent      chan string
	requests  []ocpp.Request
}

func newCapturingSender(chargePointIds ...string) *capturingSender {
	s := &capturingSender{connected: make(map[string]bool), sent: make(chan string, 8)}
	for _, id := range chargePointIds {
		s.connected[id] = true
	}
	return s
}

func (s *capturingSender) SendRequest(chargePointId, uniqueId string, request ocpp.Request) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.connected[chargePointId] {
		return fmt.Errorf("%s: %w", chargePointId, ErrNotConnected)
	}
	s.requests = append(s.requests, request)
	s.sent <- uniqueId
	return nil
}

func triggerRequest() ocpp.Request {
	return remotetrigger.NewTriggerMessageRequest(remotetrigger.MessageTriggerMeterValues, 1)
}

func TestCommanderResolvesResult(t *testing.T) {
	sender := newCapturingSender("CP1")
	commander := NewCommander(sender, time.Second, nopLog{})
	go func() {
		id := <-sender.sent
		if !commander.resolve(id, `{"status":"Accepted"}`, nil) {
			t.Error("call was not pending")
		}
	}()
	payload, err := commander.Call(context.Background(), "CP1", triggerRequest())
	if err != nil {
		t.Fatal(err)
	}
	if payload != `{"status":"Accepted"}` {
		t.Errorf("payload = %s", payload)
	}
	if commander.resolve("unknown", "{}", nil) {
		t.Error("unknown id resolved")
	}
}

func TestCommanderCallError(t *testing.T) {
	sender := newCapturingSender("CP1")
	commander := NewCommander(sender, time.Second, nopLog{})
	go func() {
		id := <-sender.sent
		commander.resolve(id, "", &CallError{UniqueId: id, ErrorCode: "NotSupported"})
	}()
	_, err := commander.Call(context.Background(), "CP1", triggerRequest())
	var callError *CallError
	if !errors.As(err, &callError) || callError.ErrorCode != "NotSupported" {
		t.Fatalf("expected call error, got %v", err)
	}
}

func TestCommanderTimeout(t *testing.T) {
	sender := newCapturingSender("CP1")
	commander := NewCommander(sender, 20*time.Millisecond, nopLog{})
	_, err := commander.Call(context.Background(), "CP1", triggerRequest())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	commander.mutex.Lock()
	pending := len(commander.pending)
	commander.mutex.Unlock()
	if pending != 0 {
		t.Errorf("%d calls left pending", pending)
	}
}

func TestCommanderNotConnected(t *testing.T) {
	commander := NewCommander(newCapturingSender(), time.Second, nopLog{})
	if _, err := commander.Call(context.Background(), "CP1", triggerRequest()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}
}

func TestCommanderCancelOnClose(t *testing.T) {
	sender := newCapturingSender("CP1", "CP2")
	commander := NewCommander(sender, time.Minute, nopLog{})
	done := make(chan error, 1)
	go func() {
		_, err := commander.Call(context.Background(), "CP1", triggerRequest())
		done <- err
	}()
	<-sender.sent
	commander.cancel("CP2")
	select {
	case err := <-done:
		t.Fatalf("call of another charge point cancelled: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	commander.cancel("CP1")
	select {
	case err := <-done:
		if !errors.Is(err, errConnectionClosed) {
			t.Errorf("expected connection closed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("call not cancelled")
	}
}

// capability calls map a command timeout to the external timeout error
func TestCommanderTimeoutThroughCapability(t *testing.T) {
	sender := newCapturingSender("CP1")
	commander := NewCommander(sender, 20*time.Millisecond, nopLog{})
	registry := capability.NewRegistry(commander)
	handler := newTestHandler(t, registry)
	boot(t, handler, "CP1", capability.VendorABB)

	amps := 16.0
	err := handler.SetStaticLimit(context.Background(), "CP1", amps, nil)
	if !errors.Is(err, capability.ErrExternalTimeout) {
		t.Fatalf("expected external timeout, got %v", err)
	}
	if statusCode(err) != 504 {
		t.Errorf("status = %d", statusCode(err))
	}
}
