package server

import (
	"encoding/json"
	"evledger/ocpp"
	"evledger/ocpp/core"
	"evledger/utility"
	"fmt"
	"reflect"
)

type CallType int

const (
	CallTypeRequest CallType = 2
	CallTypeResult  CallType = 3
	CallTypeError   CallType = 4
)

// OCPP-J error codes used in CallError replies
const (
	ErrorNotImplemented         = "NotImplemented"
	ErrorFormationViolation     = "FormationViolation"
	ErrorInternalError          = "InternalError"
	ErrorPropertyConstraint     = "PropertyConstraintViolation"
	ErrorGenericError           = "GenericError"
	ErrorProtocolError          = "ProtocolError"
	ErrorSecurityError          = "SecurityError"
	ErrorTypeConstraintViolated = "TypeConstraintViolation"
)

// CallRequest An OCPP-J Call message, containing an OCPP Request.
type CallRequest struct {
	TypeId   CallType
	UniqueId string
	feature  string
	Payload  ocpp.Request
}

func (callRequest *CallRequest) GetFeatureName() string {
	return callRequest.feature
}

// CallResult An OCPP-J CallResult message; Payload keeps the raw JSON of the confirmation
type CallResult struct {
	TypeId   CallType
	UniqueId string
	Payload  string
}

type CallError struct {
	TypeId           CallType
	UniqueId         string
	ErrorCode        string
	ErrorDescription string
	ErrorDetails     interface{}
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call error %s: %s", e.ErrorCode, e.ErrorDescription)
}

func MessageType(data []interface{}) (CallType, error) {
	if len(data) < 3 {
		return 0, utility.Err("unsupported message format; expected at least 3 elements")
	}
	rawTypeId, ok := data[0].(float64)
	if !ok {
		return 0, utility.Err("invalid message type")
	}
	callType := CallType(rawTypeId)
	switch callType {
	case CallTypeRequest, CallTypeResult, CallTypeError:
		return callType, nil
	}
	return 0, utility.Err(fmt.Sprintf("invalid message type id: %v", rawTypeId))
}

// UniqueId returns the message id when the frame carries one
func UniqueId(data []interface{}) string {
	if len(data) < 2 {
		return ""
	}
	id, _ := data[1].(string)
	return id
}

func ParseRequest(data []interface{}) (*CallRequest, error) {
	if len(data) != 4 {
		return nil, utility.Err("unsupported request format; expected length: 4 elements")
	}
	uniqueId, ok := data[1].(string)
	if !ok {
		return nil, utility.Err("invalid message unique id in request")
	}
	action, ok := data[2].(string)
	if !ok {
		return nil, utility.Err("invalid action in request")
	}
	requestType, err := getRequestType(action)
	if err != nil {
		return nil, err
	}
	request, err := parseRawJsonRequest(data[3], requestType)
	if err != nil {
		return nil, err
	}
	return &CallRequest{
		TypeId:   CallTypeRequest,
		UniqueId: uniqueId,
		feature:  action,
		Payload:  request,
	}, nil
}

func ParseResult(data []interface{}) (*CallResult, error) {
	if len(data) != 3 {
		return nil, utility.Err("unsupported result format; expected length: 3 elements")
	}
	uniqueId, ok := data[1].(string)
	if !ok {
		return nil, utility.Err("invalid message unique id in result")
	}
	payload, err := json.Marshal(data[2])
	if err != nil {
		return nil, err
	}
	return &CallResult{
		TypeId:   CallTypeResult,
		UniqueId: uniqueId,
		Payload:  string(payload),
	}, nil
}

func ParseError(data []interface{}) (*CallError, error) {
	if len(data) < 4 {
		return nil, utility.Err("unsupported error format; expected at least 4 elements")
	}
	uniqueId, ok := data[1].(string)
	if !ok {
		return nil, utility.Err("invalid message unique id in error")
	}
	callError := &CallError{
		TypeId:   CallTypeError,
		UniqueId: uniqueId,
	}
	callError.ErrorCode, _ = data[2].(string)
	callError.ErrorDescription, _ = data[3].(string)
	if len(data) > 4 {
		callError.ErrorDetails = data[4]
	}
	return callError, nil
}

func getRequestType(action string) (requestType reflect.Type, err error) {
	switch action {
	case core.BootNotificationFeatureName:
		requestType = reflect.TypeOf(core.BootNotificationRequest{})
	case core.AuthorizeFeatureName:
		requestType = reflect.TypeOf(core.AuthorizeRequest{})
	case core.HeartbeatFeatureName:
		requestType = reflect.TypeOf(core.HeartbeatRequest{})
	case core.StartTransactionFeatureName:
		requestType = reflect.TypeOf(core.StartTransactionRequest{})
	case core.StopTransactionFeatureName:
		requestType = reflect.TypeOf(core.StopTransactionRequest{})
	case core.MeterValuesFeatureName:
		requestType = reflect.TypeOf(core.MeterValuesRequest{})
	case core.StatusNotificationFeatureName:
		requestType = reflect.TypeOf(core.StatusNotificationRequest{})
	case core.DataTransferFeatureName:
		requestType = reflect.TypeOf(core.DataTransferRequest{})
	default:
		return nil, &CallError{ErrorCode: ErrorNotImplemented, ErrorDescription: fmt.Sprintf("unsupported action requested: %s", action)}
	}
	return requestType, nil
}

func parseRawJsonRequest(raw interface{}, requestType reflect.Type) (ocpp.Request, error) {
	if raw == nil {
		raw = &struct{}{}
	}
	bytes, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	request := reflect.New(requestType).Interface()
	if err = json.Unmarshal(bytes, request); err != nil {
		return nil, &CallError{ErrorCode: ErrorFormationViolation, ErrorDescription: err.Error()}
	}
	result, ok := request.(ocpp.Request)
	if !ok {
		return nil, utility.Err(fmt.Sprintf("%s is not a request", requestType))
	}
	return result, nil
}

func CreateCall(uniqueId string, request ocpp.Request) ([]byte, error) {
	return json.Marshal([]interface{}{int(CallTypeRequest), uniqueId, request.GetFeatureName(), request})
}

func CreateCallResult(uniqueId string, response ocpp.Response) ([]byte, error) {
	return json.Marshal([]interface{}{int(CallTypeResult), uniqueId, response})
}

func CreateCallError(uniqueId, code, description string) ([]byte, error) {
	return json.Marshal([]interface{}{int(CallTypeError), uniqueId, code, description, struct{}{}})
}
