package ocpp

// Request is a message sent as an OCPP-J Call, by a charge point or by the central system
type Request interface {
	// GetFeatureName returns the action name carried in the Call frame
	GetFeatureName() string
}

// Response is the payload of a CallResult
type Response interface {
	GetFeatureName() string
}
