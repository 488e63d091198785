package remotetrigger

const TriggerMessageFeatureName = "TriggerMessage"

type MessageTrigger string

const (
	MessageTriggerMeterValues        MessageTrigger = "MeterValues"
	MessageTriggerStatusNotification MessageTrigger = "StatusNotification"
)

type TriggerMessageStatus string

const (
	TriggerMessageStatusAccepted       TriggerMessageStatus = "Accepted"
	TriggerMessageStatusRejected       TriggerMessageStatus = "Rejected"
	TriggerMessageStatusNotImplemented TriggerMessageStatus = "NotImplemented"
)

type TriggerMessageRequest struct {
	RequestedMessage MessageTrigger `json:"requestedMessage"`
	ConnectorId      *int           `json:"connectorId,omitempty"`
}

func (r TriggerMessageRequest) GetFeatureName() string {
	return TriggerMessageFeatureName
}

// NewTriggerMessageRequest addresses the whole charge point when connectorId is not positive
func NewTriggerMessageRequest(requestedMessage MessageTrigger, connectorId int) *TriggerMessageRequest {
	request := &TriggerMessageRequest{RequestedMessage: requestedMessage}
	if connectorId > 0 {
		request.ConnectorId = &connectorId
	}
	return request
}

type TriggerMessageResponse struct {
	Status TriggerMessageStatus `json:"status"`
}

func (r TriggerMessageResponse) GetFeatureName() string {
	return TriggerMessageFeatureName
}
