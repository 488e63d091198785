package server

import (
	"errors"
	"evledger/ocpp/core"
	"evledger/ocpp/remotetrigger"
	"evledger/utility"
	"strings"
	"testing"
)

func parse(t *testing.T, raw string) []interface{} {
	t.Helper()
	message, err := utility.ParseJson([]byte(raw))
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	return message
}

func TestParseRequest(t *testing.T) {
	message := parse(t, `[2,"19223201","BootNotification",{"chargePointVendor":"ABB","chargePointModel":"Terra AC"}]`)
	callType, err := MessageType(message)
	if err != nil || callType != CallTypeRequest {
		t.Fatalf("message type = %v, %v", callType, err)
	}
	call, err := ParseRequest(message)
	if err != nil {
		t.Fatal(err)
	}
	if call.UniqueId != "19223201" || call.GetFeatureName() != core.BootNotificationFeatureName {
		t.Fatalf("unexpected call %+v", call)
	}
	request, ok := call.Payload.(*core.BootNotificationRequest)
	if !ok {
		t.Fatalf("payload is %T", call.Payload)
	}
	if request.ChargePointVendor != "ABB" || request.ChargePointModel != "Terra AC" {
		t.Errorf("unexpected payload %+v", request)
	}
}

func TestParseRequestUnknownAction(t *testing.T) {
	_, err := ParseRequest(parse(t, `[2,"1","FirmwareStatusNotification",{}]`))
	var callError *CallError
	if !errors.As(err, &callError) || callError.ErrorCode != ErrorNotImplemented {
		t.Fatalf("expected NotImplemented, got %v", err)
	}
}

func TestParseRequestMalformedPayload(t *testing.T) {
	_, err := ParseRequest(parse(t, `[2,"1","StartTransaction",{"connectorId":"one"}]`))
	var callError *CallError
	if !errors.As(err, &callError) || callError.ErrorCode != ErrorFormationViolation {
		t.Fatalf("expected FormationViolation, got %v", err)
	}
}

func TestMessageType(t *testing.T) {
	for _, raw := range []string{`[5,"1",{}]`, `["2","1",{}]`, `[3,"1"]`} {
		if _, err := MessageType(parse(t, raw)); err == nil {
			t.Errorf("%s: expected error", raw)
		}
	}
}

func TestParseResultKeepsPayload(t *testing.T) {
	result, err := ParseResult(parse(t, `[3,"abc",{"status":"Accepted"}]`))
	if err != nil {
		t.Fatal(err)
	}
	if result.UniqueId != "abc" || result.Payload != `{"status":"Accepted"}` {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestParseError(t *testing.T) {
	callError, err := ParseError(parse(t, `[4,"abc","NotSupported","unknown action",{}]`))
	if err != nil {
		t.Fatal(err)
	}
	if callError.UniqueId != "abc" || callError.ErrorCode != "NotSupported" || callError.ErrorDescription != "unknown action" {
		t.Errorf("unexpected error %+v", callError)
	}
}

func TestCreateCall(t *testing.T) {
	data, err := CreateCall("42", remotetrigger.NewTriggerMessageRequest(remotetrigger.MessageTriggerMeterValues, 2))
	if err != nil {
		t.Fatal(err)
	}
	expected := `[2,"42","TriggerMessage",{"requestedMessage":"MeterValues","connectorId":2}]`
	if string(data) != expected {
		t.Errorf("got %s, want %s", data, expected)
	}
	data, err = CreateCallError("42", ErrorInternalError, "failed")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), `[4,"42","InternalError","failed"`) {
		t.Errorf("unexpected error frame %s", data)
	}
}
