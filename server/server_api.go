package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"evledger/capability"
	"evledger/internal"
	"evledger/internal/config"
	"evledger/ledger"
	"evledger/types"
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

const (
	limitEndpoint   = "/api/limit"
	profileEndpoint = "/api/profile"
	stopEndpoint    = "/api/stop"
)

// Controller runs vendor control operations for the api
type Controller interface {
	SetStaticLimit(ctx context.Context, chargePointId string, maxAmps float64, connectorId *int) error
	ApplyChargingProfile(ctx context.Context, chargePointId string, connectorId int, profile *types.ChargingProfile) error
	RemoteStop(ctx context.Context, sessionId int) error
}

type Api struct {
	conf       *config.Config
	httpServer *http.Server
	router     *httprouter.Router
	controller Controller
	logger     internal.LogHandler
}

type limitCommand struct {
	ChargePointId string  `json:"charge_point_id"`
	ConnectorId   *int    `json:"connector_id,omitempty"`
	MaxAmps       float64 `json:"max_amps"`
}

type profileCommand struct {
	ChargePointId string                 `json:"charge_point_id"`
	ConnectorId   int                    `json:"connector_id"`
	Profile       *types.ChargingProfile `json:"profile"`
}

type stopCommand struct {
	SessionId int `json:"transaction_id"`
}

type apiError struct {
	Error string `json:"error"`
}

func NewServerApi(conf *config.Config, controller Controller, logger internal.LogHandler) *Api {
	server := Api{
		conf:       conf,
		router:     httprouter.New(),
		controller: controller,
		logger:     logger,
	}
	server.router.POST(limitEndpoint, server.handleLimit)
	server.router.POST(profileEndpoint, server.handleProfile)
	server.router.POST(stopEndpoint, server.handleStop)
	server.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%s", conf.Api.BindIP, conf.Api.Port),
		Handler: server.router,
	}
	return &server
}

// Router is used to mount further handlers next to the control endpoints
func (s *Api) Router() *httprouter.Router {
	return s.router
}

func (s *Api) Start() error {
	var err error
	if s.conf.Api.TLS {
		cert, err := tls.LoadX509KeyPair(s.conf.Api.CertFile, s.conf.Api.KeyFile)
		if err != nil {
			return fmt.Errorf("api: failed to load certificate: %v", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
		err = s.httpServer.ListenAndServeTLS("", "")
	} else {
		err = s.httpServer.ListenAndServe()
	}
	return err
}

func (s *Api) handleLimit(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var cmd limitCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		s.logger.Warn(fmt.Sprintf("api: error parsing command from %s: %s", r.RemoteAddr, err))
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	err := s.controller.SetStaticLimit(r.Context(), cmd.ChargePointId, cmd.MaxAmps, cmd.ConnectorId)
	s.writeResult(w, string(capability.OperationStaticLimit), cmd.ChargePointId, err)
}

func (s *Api) handleProfile(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var cmd profileCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		s.logger.Warn(fmt.Sprintf("api: error parsing command from %s: %s", r.RemoteAddr, err))
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	err := s.controller.ApplyChargingProfile(r.Context(), cmd.ChargePointId, cmd.ConnectorId, cmd.Profile)
	s.writeResult(w, string(capability.OperationChargingProfile), cmd.ChargePointId, err)
}

func (s *Api) handleStop(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var cmd stopCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		s.logger.Warn(fmt.Sprintf("api: error parsing command from %s: %s", r.RemoteAddr, err))
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	err := s.controller.RemoteStop(r.Context(), cmd.SessionId)
	s.writeResult(w, "RemoteStop", fmt.Sprintf("#%d", cmd.SessionId), err)
}

func (s *Api) writeResult(w http.ResponseWriter, operation, chargePointId string, err error) {
	if err == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	status := statusCode(err)
	if status == http.StatusNotImplemented {
		s.logger.Warn(fmt.Sprintf("api: %s on %s: %s", operation, chargePointId, err))
	}
	s.writeError(w, status, err)
}

// statusCode maps control errors to http statuses
func statusCode(err error) int {
	switch {
	case errors.Is(err, capability.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, capability.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnknownChargePoint), errors.Is(err, ledger.ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrAlreadyFinalized), errors.Is(err, ledger.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, capability.ErrExternalTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, capability.ErrDeviceError):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Api) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if e := json.NewEncoder(w).Encode(apiError{Error: err.Error()}); e != nil {
		s.logger.Error("api: write response", e)
	}
}
