package server

import (
	"context"
	"encoding/json"
	"errors"
	"evledger/capability"
	"evledger/entity"
	"evledger/internal"
	"evledger/ledger"
	"evledger/metrics/counters"
	"evledger/ocpp/core"
	"evledger/types"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultHeartbeatInterval = 600

type ChargePointState struct {
	model      *entity.ChargePoint
	capability capability.Capability
}

// SystemHandler maps charge point requests onto the session ledger
type SystemHandler struct {
	chargePoints     map[string]*ChargePointState
	database         internal.Database
	logger           internal.LogHandler
	ledger           *ledger.Ledger
	capabilities     *capability.Registry
	powerManager     PowerManager
	commander        capability.Commander
	location         *time.Location
	acceptUnknownChp bool
	mux              sync.Mutex
}

func NewSystemHandler(location *time.Location, sessions *ledger.Ledger, capabilities *capability.Registry) *SystemHandler {
	if location == nil {
		location = time.UTC
	}
	return &SystemHandler{
		chargePoints: make(map[string]*ChargePointState),
		ledger:       sessions,
		capabilities: capabilities,
		location:     location,
	}
}

func (h *SystemHandler) SetDatabase(database internal.Database) {
	h.database = database
}

func (h *SystemHandler) SetLogger(logger internal.LogHandler) {
	h.logger = logger
}

func (h *SystemHandler) SetPowerManager(powerManager PowerManager) {
	h.powerManager = powerManager
}

// SetCommander is used for requests that are not vendor specific
func (h *SystemHandler) SetCommander(commander capability.Commander) {
	h.commander = commander
}

// SetAcceptUnknownChp registers charge points that connect without being known
func (h *SystemHandler) SetAcceptUnknownChp(accept bool) {
	h.acceptUnknownChp = accept
}

// OnStart loads charge points with their connectors and continues the session numbering
func (h *SystemHandler) OnStart() error {
	if h.database == nil {
		return nil
	}
	chargePoints, err := h.database.GetChargePoints()
	if err != nil {
		return fmt.Errorf("failed to load charge points from database: %w", err)
	}
	connectors, err := h.database.GetConnectors()
	if err != nil {
		return fmt.Errorf("failed to load connectors from database: %w", err)
	}
	h.mux.Lock()
	for _, cp := range chargePoints {
		for _, c := range connectors {
			if c.ChargePointId == cp.Id {
				cp.Connectors = append(cp.Connectors, c)
			}
		}
		h.chargePoints[cp.Id] = &ChargePointState{
			model:      cp,
			capability: h.capabilities.Resolve(cp.Vendor),
		}
	}
	h.mux.Unlock()
	h.logger.Debug(fmt.Sprintf("loaded %d charge points, %d connectors from database", len(chargePoints), len(connectors)))

	lastId, err := h.database.GetLastSessionId()
	if err != nil {
		return fmt.Errorf("failed to load last session id: %w", err)
	}
	h.ledger.SetNextSessionId(lastId)
	return nil
}

func (h *SystemHandler) addChargePoint(chargePointId string) *ChargePointState {
	cp := entity.NewChargePoint(chargePointId)
	if h.database != nil {
		if err := h.database.AddChargePoint(cp); err != nil {
			h.logger.Error("failed to add charge point to database", err)
		}
	}
	state := &ChargePointState{model: cp, capability: h.capabilities.Resolve("")}
	h.chargePoints[chargePointId] = state
	return state
}

// getChargePoint returns the known charge point, registering it when unknown ones are accepted
func (h *SystemHandler) getChargePoint(chargePointId string) (*ChargePointState, bool) {
	h.mux.Lock()
	defer h.mux.Unlock()
	state, ok := h.chargePoints[chargePointId]
	if ok {
		return state, true
	}
	h.logger.Warn(fmt.Sprintf("unknown charging point: %s", chargePointId))
	if !h.acceptUnknownChp {
		return nil, false
	}
	h.logger.Debug(fmt.Sprintf("registering new charge point %s", chargePointId))
	return h.addChargePoint(chargePointId), true
}

func (h *SystemHandler) getConnector(state *ChargePointState, id int) *entity.Connector {
	state.model.Lock()
	defer state.model.Unlock()
	connector := state.model.Connector(id)
	if connector == nil {
		connector = entity.NewConnector(id, state.model.Id)
		state.model.Connectors = append(state.model.Connectors, connector)
	}
	return connector
}

func (h *SystemHandler) timestamp(dt *types.DateTime) time.Time {
	if dt == nil || dt.IsZero() {
		return time.Now().In(h.location)
	}
	return dt.Time
}

func (h *SystemHandler) OnBootNotification(chargePointId string, request *core.BootNotificationRequest) (*core.BootNotificationResponse, error) {
	regStatus := core.RegistrationStatusAccepted
	state, ok := h.getChargePoint(chargePointId)
	if ok {
		state.model.Lock()
		changed := state.model.Vendor != request.ChargePointVendor ||
			state.model.Model != request.ChargePointModel ||
			state.model.SerialNumber != request.ChargePointSerialNumber ||
			state.model.FirmwareVersion != request.FirmwareVersion
		state.model.Vendor = request.ChargePointVendor
		state.model.Model = request.ChargePointModel
		state.model.SerialNumber = request.ChargePointSerialNumber
		state.model.FirmwareVersion = request.FirmwareVersion
		state.model.IsOnline = true
		state.model.LastSeen = time.Now().UTC()
		state.model.Unlock()

		c := h.capabilities.Resolve(request.ChargePointVendor)
		h.mux.Lock()
		state.capability = c
		h.mux.Unlock()
		if !c.Supports(capability.OperationStaticLimit) && !c.Supports(capability.OperationChargingProfile) {
			h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, fmt.Sprintf("no control operations for vendor %q", request.ChargePointVendor))
		}

		if h.database != nil && changed {
			if err := h.database.UpdateChargePoint(state.model); err != nil {
				h.logger.Error("update charge point", err)
			}
		}
		if h.powerManager != nil {
			h.powerManager.OnChargePointBoot(chargePointId)
		}
	} else {
		regStatus = core.RegistrationStatusRejected
		h.logger.Debug(fmt.Sprintf("charge point %s not registered", chargePointId))
	}

	h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, string(regStatus))
	return core.NewBootNotificationResponse(types.NewDateTime(time.Now()), defaultHeartbeatInterval, regStatus), nil
}

func (h *SystemHandler) OnAuthorize(chargePointId string, request *core.AuthorizeRequest) (*core.AuthorizeResponse, error) {
	authStatus := types.AuthorizationStatusAccepted
	state, ok := h.getChargePoint(chargePointId)
	switch {
	case !ok || !state.model.IsEnabled:
		authStatus = types.AuthorizationStatusBlocked
	case request.IdTag == "":
		authStatus = types.AuthorizationStatusInvalid
	default:
		user, err := h.ledger.ResolveTag(context.Background(), request.IdTag)
		switch {
		case errors.Is(err, ledger.ErrExternalTimeout):
			h.logger.Warn(fmt.Sprintf("authorize %s on %s: %v", request.IdTag, chargePointId, err))
			authStatus = types.AuthorizationStatusInvalid
		case err != nil:
			h.logger.Error("resolve tag", err)
			authStatus = types.AuthorizationStatusInvalid
		case user == nil:
			authStatus = types.AuthorizationStatusBlocked
		}
	}
	h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, fmt.Sprintf("id tag: %s; authorization status: %s", request.IdTag, authStatus))
	return core.NewAuthorizationResponse(types.NewIdTagInfo(authStatus)), nil
}

func (h *SystemHandler) OnHeartbeat(chargePointId string, request *core.HeartbeatRequest) (*core.HeartbeatResponse, error) {
	if state, ok := h.getChargePoint(chargePointId); ok {
		state.model.Lock()
		state.model.IsOnline = true
		state.model.LastSeen = time.Now().UTC()
		state.model.Unlock()
	}
	h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, "")
	return core.NewHeartbeatResponse(types.NewDateTime(time.Now())), nil
}

// authorizationStatus maps a ledger refusal to the status reported to the charge point
func authorizationStatus(err error) types.AuthorizationStatus {
	switch {
	case errors.Is(err, ledger.ErrConnectorBusy):
		return types.AuthorizationStatusConcurrentTx
	case errors.Is(err, ledger.ErrUnknownTag), errors.Is(err, ledger.ErrExternalTimeout):
		return types.AuthorizationStatusInvalid
	}
	return types.AuthorizationStatusBlocked
}

func (h *SystemHandler) OnStartTransaction(chargePointId string, request *core.StartTransactionRequest) (*core.StartTransactionResponse, error) {
	state, ok := h.getChargePoint(chargePointId)
	if !ok || !state.model.IsEnabled {
		return core.NewStartTransactionResponse(types.NewIdTagInfo(types.AuthorizationStatusBlocked), 0), nil
	}
	h.getConnector(state, request.ConnectorId)
	timestamp := h.timestamp(request.Timestamp)

	session, err := h.ledger.Authorize(context.Background(), chargePointId, request.ConnectorId, request.IdTag, timestamp)
	if err != nil {
		status := authorizationStatus(err)
		h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, fmt.Sprintf("connector %d: %v; status %s", request.ConnectorId, err, status))
		return core.NewStartTransactionResponse(types.NewIdTagInfo(status), 0), nil
	}
	if err = h.ledger.Start(session.Id, timestamp); err != nil {
		h.logger.Error(fmt.Sprintf("start session %d on %s@%d", session.Id, chargePointId, request.ConnectorId), err)
		return core.NewStartTransactionResponse(types.NewIdTagInfo(types.AuthorizationStatusBlocked), session.Id), nil
	}
	reading := entity.NewMeterReading(timestamp, int64(request.MeterStart))
	if err = h.ledger.RecordMeterValue(session.Id, reading); err != nil {
		h.rejectedReading(chargePointId, err)
	}

	h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, fmt.Sprintf("started session #%v for connector %v", session.Id, request.ConnectorId))
	return core.NewStartTransactionResponse(types.NewIdTagInfo(types.AuthorizationStatusAccepted), session.Id), nil
}

func (h *SystemHandler) OnStopTransaction(chargePointId string, request *core.StopTransactionRequest) (*core.StopTransactionResponse, error) {
	timestamp := h.timestamp(request.Timestamp)
	final := entity.NewMeterReading(timestamp, int64(request.MeterStop))
	// transaction data may carry the end register with its own timestamp
	for _, data := range request.TransactionData {
		reading, ok, err := meterReading(data, timestamp)
		if err != nil || !ok {
			continue
		}
		if contextOf(data) == types.ReadingContextTransactionEnd {
			final = reading
		}
	}

	record, err := h.ledger.Stop(request.TransactionId, timestamp, final, request.IdTag)
	switch {
	case err == nil:
		if record.Corrected {
			counters.CountRejectedReading(chargePointId, "non_monotonic")
			h.logger.Warn(fmt.Sprintf("stop session %d on %s: final reading %d Wh behind stored readings, totals use the last stored value",
				request.TransactionId, chargePointId, record.FinalReading.Energy))
		}
		h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, fmt.Sprintf("stopped session %v %v: %d Wh", request.TransactionId, request.Reason, record.Consumption))
	case errors.Is(err, ledger.ErrConflictingStop):
		h.logger.Error(fmt.Sprintf("stop session %d on %s", request.TransactionId, chargePointId), err)
	case errors.Is(err, ledger.ErrAlreadyFinalized):
		h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, fmt.Sprintf("session %v already finalized", request.TransactionId))
	default:
		h.logger.Warn(fmt.Sprintf("stop session %d on %s: %v", request.TransactionId, chargePointId, err))
	}
	return core.NewStopTransactionResponse(), nil
}

func (h *SystemHandler) OnMeterValues(chargePointId string, request *core.MeterValuesRequest) (*core.MeterValuesResponse, error) {
	if _, ok := h.getChargePoint(chargePointId); !ok {
		return core.NewMeterValuesResponse(), nil
	}
	sessionId := 0
	if request.TransactionId != nil {
		sessionId = *request.TransactionId
	} else if session, ok := h.ledger.ActiveSession(chargePointId, request.ConnectorId); ok {
		sessionId = session.Id
	}
	if sessionId == 0 {
		h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, fmt.Sprintf("no session on connector %d, values ignored", request.ConnectorId))
		return core.NewMeterValuesResponse(), nil
	}
	for _, value := range request.MeterValue {
		reading, ok, err := meterReading(value, time.Now().In(h.location))
		if err != nil {
			counters.CountRejectedReading(chargePointId, "malformed")
			h.logger.Warn(fmt.Sprintf("meter value from %s: %v", chargePointId, err))
			continue
		}
		if !ok {
			continue
		}
		if err = h.ledger.RecordMeterValue(sessionId, reading); err != nil {
			h.rejectedReading(chargePointId, err)
			h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, fmt.Sprintf("session %d: %v", sessionId, err))
		}
	}
	return core.NewMeterValuesResponse(), nil
}

func (h *SystemHandler) rejectedReading(chargePointId string, err error) {
	reason := "other"
	switch {
	case errors.Is(err, ledger.ErrNonMonotonicEnergy):
		reason = "non_monotonic"
	case errors.Is(err, ledger.ErrInvalidTransition):
		reason = "inactive"
	case errors.Is(err, ledger.ErrUnknownSession):
		reason = "unknown_session"
	}
	counters.CountRejectedReading(chargePointId, reason)
}

func faultReason(request *core.StatusNotificationRequest) string {
	parts := []string{string(request.ErrorCode)}
	if request.VendorErrorCode != "" {
		parts = append(parts, request.VendorErrorCode)
	}
	if request.Info != "" {
		parts = append(parts, request.Info)
	}
	return strings.Join(parts, ": ")
}

func (h *SystemHandler) OnStatusNotification(chargePointId string, request *core.StatusNotificationRequest) (*core.StatusNotificationResponse, error) {
	state, ok := h.getChargePoint(chargePointId)
	if !ok {
		return core.NewStatusNotificationResponse(), nil
	}
	if _, known := core.ParseStatus(string(request.Status)); !known {
		h.logger.Warn(fmt.Sprintf("%s: unknown status %q on connector %d", chargePointId, request.Status, request.ConnectorId))
		return core.NewStatusNotificationResponse(), nil
	}
	timestamp := h.timestamp(request.Timestamp)

	if request.ConnectorId > 0 {
		connector := h.getConnector(state, request.ConnectorId)
		state.model.Lock()
		connector.Status = string(request.Status)
		connector.Info = request.Info
		connector.VendorId = request.VendorId
		connector.ErrorCode = string(request.ErrorCode)
		state.model.Unlock()
		if h.database != nil {
			if err := h.database.UpdateConnector(connector); err != nil {
				h.logger.Error("update status", err)
			}
		}
	} else {
		state.model.Lock()
		state.model.Status = string(request.Status)
		state.model.ErrorCode = string(request.ErrorCode)
		state.model.Info = request.Info
		state.model.Unlock()
		if h.database != nil {
			if err := h.database.UpdateChargePoint(state.model); err != nil {
				h.logger.Error("update status", err)
			}
		}
	}

	if request.ErrorCode.IsFault() {
		h.saveErrorData(state.model, request, timestamp)
	}

	switch request.Status {
	case core.ChargePointStatusFaulted:
		reason := faultReason(request)
		if request.ConnectorId == 0 {
			h.ledger.FaultChargePoint(chargePointId, reason, timestamp)
		} else {
			h.ledger.Fault(chargePointId, request.ConnectorId, reason, timestamp)
		}
	case core.ChargePointStatusAvailable:
		h.recover(state, request.ConnectorId, timestamp)
	case core.ChargePointStatusFinishing:
		if session, ok := h.ledger.ActiveSession(chargePointId, request.ConnectorId); ok {
			if err := h.ledger.RequestStop(session.Id); err != nil && !errors.Is(err, ledger.ErrInvalidTransition) {
				h.logger.Warn(fmt.Sprintf("request stop of session %d: %v", session.Id, err))
			}
		}
	}

	h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, fmt.Sprintf("connector #%v status %v %v", request.ConnectorId, request.Status, request.ErrorCode))
	return core.NewStatusNotificationResponse(), nil
}

func (h *SystemHandler) saveErrorData(model *entity.ChargePoint, request *core.StatusNotificationRequest, timestamp time.Time) {
	if h.database == nil {
		return
	}
	data := &entity.ErrorData{
		Location:        model.LocationId,
		ChargePointID:   model.Id,
		ConnectorID:     request.ConnectorId,
		ErrorCode:       string(request.ErrorCode),
		Info:            request.Info,
		Status:          string(request.Status),
		Timestamp:       timestamp,
		VendorId:        request.VendorId,
		VendorErrorCode: request.VendorErrorCode,
	}
	if session, ok := h.ledger.ActiveSession(model.Id, request.ConnectorId); ok {
		data.SessionId = session.Id
	}
	if err := h.database.AddErrorData(data); err != nil {
		h.logger.Error("save error data", err)
	}
}

// recover clears a fault; connector 0 clears the charge point and every known connector
func (h *SystemHandler) recover(state *ChargePointState, connectorId int, timestamp time.Time) {
	ids := []int{connectorId}
	if connectorId == 0 {
		state.model.Lock()
		for _, c := range state.model.Connectors {
			ids = append(ids, c.Id)
		}
		state.model.Unlock()
	}
	for _, id := range ids {
		if h.ledger.Recover(state.model.Id, id, timestamp) {
			h.logger.FeatureEvent("Recover", state.model.Id, fmt.Sprintf("connector %d is available again", id))
		}
	}
}

func (h *SystemHandler) OnDataTransfer(chargePointId string, request *core.DataTransferRequest) (*core.DataTransferResponse, error) {
	if _, ok := h.getChargePoint(chargePointId); !ok {
		return core.NewDataTransferResponse(core.DataTransferStatusRejected), nil
	}
	h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, fmt.Sprintf("received data from %s: %v", request.VendorId, request.Data))
	return core.NewDataTransferResponse(core.DataTransferStatusUnknownVendorId), nil
}

// ChargePoint returns the charge point model and its cached capability
func (h *SystemHandler) ChargePoint(chargePointId string) (*entity.ChargePoint, capability.Capability, bool) {
	h.mux.Lock()
	defer h.mux.Unlock()
	state, ok := h.chargePoints[chargePointId]
	if !ok {
		return nil, nil, false
	}
	return state.model, state.capability, true
}

var ErrUnknownChargePoint = errors.New("unknown charge point")

// SetStaticLimit caps the charging current of a charge point, or of one connector when connectorId is set
func (h *SystemHandler) SetStaticLimit(ctx context.Context, chargePointId string, maxAmps float64, connectorId *int) error {
	model, c, ok := h.ChargePoint(chargePointId)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChargePoint, chargePointId)
	}
	id := 0
	if connectorId != nil {
		id = *connectorId
	}
	if id < 0 {
		return fmt.Errorf("%w: connector %d", capability.ErrInvalidArgument, id)
	}
	err := h.ledger.Control(chargePointId, id, func() error {
		return c.SetStaticLimit(ctx, model, maxAmps, connectorId)
	})
	h.countCall(model, capability.OperationStaticLimit, err)
	return err
}

// ApplyChargingProfile installs a charging profile through the vendor capability of the charge point
func (h *SystemHandler) ApplyChargingProfile(ctx context.Context, chargePointId string, connectorId int, profile *types.ChargingProfile) error {
	model, c, ok := h.ChargePoint(chargePointId)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChargePoint, chargePointId)
	}
	if connectorId < 0 {
		return fmt.Errorf("%w: connector %d", capability.ErrInvalidArgument, connectorId)
	}
	err := h.ledger.Control(chargePointId, connectorId, func() error {
		return c.ApplyChargingProfile(ctx, model, connectorId, profile)
	})
	h.countCall(model, capability.OperationChargingProfile, err)
	return err
}

// RemoteStop asks the charge point to end an active session; the ledger moves it to Stopping
// and the session is finalized by the StopTransaction that follows
func (h *SystemHandler) RemoteStop(ctx context.Context, sessionId int) error {
	session, ok := h.ledger.Session(sessionId)
	if !ok {
		return fmt.Errorf("%w: #%d", ledger.ErrUnknownSession, sessionId)
	}
	if session.IsFinalized() {
		return fmt.Errorf("%w: #%d", ledger.ErrAlreadyFinalized, sessionId)
	}
	if h.commander == nil {
		return fmt.Errorf("%w: no command channel", capability.ErrDeviceError)
	}
	request := core.NewRemoteStopTransactionRequest(sessionId)
	payload, err := h.commander.Call(ctx, session.ChargePointId, request)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s %s", capability.ErrExternalTimeout, request.GetFeatureName(), session.ChargePointId)
		}
		return fmt.Errorf("%w: %s %s: %v", capability.ErrDeviceError, request.GetFeatureName(), session.ChargePointId, err)
	}
	var response core.RemoteStopTransactionResponse
	if err = json.Unmarshal([]byte(payload), &response); err != nil {
		return fmt.Errorf("%w: %s confirmation: %v", capability.ErrDeviceError, request.GetFeatureName(), err)
	}
	if response.Status != core.RemoteStartStopStatusAccepted {
		return fmt.Errorf("%w: %s status %q", capability.ErrDeviceError, request.GetFeatureName(), response.Status)
	}
	h.logger.FeatureEvent(request.GetFeatureName(), session.ChargePointId, fmt.Sprintf("stop of session %d accepted", sessionId))
	if err = h.ledger.RequestStop(sessionId); err != nil && !errors.Is(err, ledger.ErrInvalidTransition) {
		return err
	}
	return nil
}

func (h *SystemHandler) countCall(model *entity.ChargePoint, operation capability.Operation, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, capability.ErrUnsupported):
		result = "unsupported"
		h.logger.Warn(fmt.Sprintf("%s on %s: vendor %q does not support it", operation, model.Id, model.Vendor))
	case errors.Is(err, capability.ErrInvalidArgument):
		result = "invalid"
	default:
		result = "error"
		h.logger.Error(fmt.Sprintf("%s on %s", operation, model.Id), err)
	}
	counters.CountCapabilityCall(model.Vendor, string(operation), result)
}
