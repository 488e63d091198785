package server

import (
	"context"
	"errors"
	"evledger/capability"
	"evledger/identity"
	"evledger/internal"
	"evledger/internal/config"
	"evledger/ledger"
	"evledger/metrics"
	"evledger/metrics/counters"
	"evledger/notify"
	"evledger/ocpi"
	"evledger/ocpp"
	"evledger/ocpp/core"
	"evledger/outbox"
	"evledger/power"
	"evledger/pusher"
	"evledger/stream"
	"evledger/telegram"
	"evledger/types"
	"evledger/utility"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	eventQueueSize      = 256
	activeSessionsCheck = 15 * time.Second
)

type CentralSystem struct {
	conf        *config.Config
	server      *Server
	api         *Api
	logger      internal.LogHandler
	coreHandler core.SystemHandler
	commander   *Commander
	ledger      *ledger.Ledger
	dispatcher  *notify.Dispatcher
	outbox      *outbox.Outbox
	balancer    *power.LoadBalancer
	trigger     *Trigger
	ocpi        *ocpi.OCPI
	telegram    *telegram.TgBot
}

func (cs *CentralSystem) SetCoreHandler(handler core.SystemHandler) {
	cs.coreHandler = handler
}

func (cs *CentralSystem) handleIncomingMessage(ws *WebSocket, data []byte) error {
	chargePointId := ws.ID()
	message, err := utility.ParseJson(data)
	if err != nil {
		return err
	}
	callType, err := MessageType(message)
	if err != nil {
		return err
	}
	switch callType {
	case CallTypeResult:
		result, err := ParseResult(message)
		if err != nil {
			cs.logger.Warn(fmt.Sprintf("invalid message received from charge point %s: %s", chargePointId, string(data)))
			return nil
		}
		if !cs.commander.resolve(result.UniqueId, result.Payload, nil) {
			cs.logger.Warn(fmt.Sprintf("unexpected result %s from charge point %s", result.UniqueId, chargePointId))
		}
		return nil
	case CallTypeError:
		callError, err := ParseError(message)
		if err != nil {
			cs.logger.Warn(fmt.Sprintf("invalid message received from charge point %s: %s", chargePointId, string(data)))
			return nil
		}
		cs.logger.Warn(fmt.Sprintf("error message received from charge point %s: %s", chargePointId, string(data)))
		cs.commander.resolve(callError.UniqueId, "", callError)
		return nil
	}

	callRequest, err := ParseRequest(message)
	if err != nil {
		uniqueId := UniqueId(message)
		var callError *CallError
		if errors.As(err, &callError) && uniqueId != "" {
			cs.logger.Warn(fmt.Sprintf("%s: %s", chargePointId, callError))
			return cs.server.SendError(ws, uniqueId, callError.ErrorCode, callError.ErrorDescription)
		}
		if uniqueId != "" {
			_ = cs.server.SendError(ws, uniqueId, ErrorFormationViolation, err.Error())
		}
		return err
	}
	// calls run in order on the connection queue so that results keep flowing while a handler waits
	ws.Run(func() {
		cs.handleRequest(ws, callRequest)
	})
	return nil
}

func (cs *CentralSystem) handleRequest(ws *WebSocket, callRequest *CallRequest) {
	chargePointId := ws.ID()
	request := callRequest.Payload
	action := request.GetFeatureName()
	var confirmation ocpp.Response
	var err error
	switch action {
	case core.BootNotificationFeatureName:
		confirmation, err = cs.coreHandler.OnBootNotification(chargePointId, request.(*core.BootNotificationRequest))
	case core.AuthorizeFeatureName:
		confirmation, err = cs.coreHandler.OnAuthorize(chargePointId, request.(*core.AuthorizeRequest))
	case core.HeartbeatFeatureName:
		confirmation, err = cs.coreHandler.OnHeartbeat(chargePointId, request.(*core.HeartbeatRequest))
	case core.StartTransactionFeatureName:
		confirmation, err = cs.coreHandler.OnStartTransaction(chargePointId, request.(*core.StartTransactionRequest))
	case core.StopTransactionFeatureName:
		confirmation, err = cs.coreHandler.OnStopTransaction(chargePointId, request.(*core.StopTransactionRequest))
	case core.MeterValuesFeatureName:
		confirmation, err = cs.coreHandler.OnMeterValues(chargePointId, request.(*core.MeterValuesRequest))
	case core.StatusNotificationFeatureName:
		confirmation, err = cs.coreHandler.OnStatusNotification(chargePointId, request.(*core.StatusNotificationRequest))
	case core.DataTransferFeatureName:
		confirmation, err = cs.coreHandler.OnDataTransfer(chargePointId, request.(*core.DataTransferRequest))
	default:
		err = &CallError{ErrorCode: ErrorNotImplemented, ErrorDescription: fmt.Sprintf("feature not supported: %s", action)}
	}

	if ws.IsClosed() {
		cs.logger.FeatureEvent(action, chargePointId, "websocket closed, response not sent")
		return
	}
	if err != nil {
		code := ErrorInternalError
		var callError *CallError
		if errors.As(err, &callError) {
			code = callError.ErrorCode
		}
		cs.logger.Error(fmt.Sprintf("%s from %s", action, chargePointId), err)
		_ = cs.server.SendError(ws, callRequest.UniqueId, code, err.Error())
		return
	}
	_ = cs.server.SendResponse(ws, callRequest.UniqueId, confirmation)
}

func (cs *CentralSystem) onConnectionClosed(chargePointId string) {
	cs.commander.cancel(chargePointId)
	cs.logger.FeatureEvent("Connection", chargePointId, "disconnected")
}

// Start runs every background worker and the listeners; it blocks until the websocket server stops
func (cs *CentralSystem) Start(ctx context.Context) error {
	cs.dispatcher.Start()
	if cs.outbox != nil {
		cs.outbox.Start(ctx)
	}
	if cs.balancer != nil {
		cs.balancer.Start(ctx)
	}
	cs.trigger.Start(ctx)
	if cs.ocpi != nil {
		cs.ocpi.Start(ctx)
	}
	if cs.telegram != nil {
		cs.telegram.Start()
	}
	go cs.observeSessions(ctx)

	go func() {
		if err := metrics.Listen(cs.conf); err != nil {
			cs.logger.Error("metrics server failed", err)
		}
	}()
	go func() {
		if err := cs.api.Start(); err != nil {
			cs.logger.Error("api server failed", err)
		}
	}()

	go func() {
		<-ctx.Done()
		_ = cs.server.Close()
	}()

	err := cs.server.Start()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	cs.dispatcher.Stop()
	if cs.outbox != nil {
		if e := cs.outbox.Close(); e != nil {
			cs.logger.Error("closing outbox", e)
		}
	}
	return err
}

func (cs *CentralSystem) observeSessions(ctx context.Context) {
	ticker := time.NewTicker(activeSessionsCheck)
	defer ticker.Stop()
	for {
		counters.ObserveActiveSessions(cs.ledger.ActiveCount())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func NewCentralSystem(conf *config.Config) (*CentralSystem, error) {
	cs := &CentralSystem{conf: conf}

	log.Println("set time zone to " + conf.TimeZone)
	location, err := time.LoadLocation(conf.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("time zone initialization failed: %s", err)
	}

	var database internal.Database
	if conf.Mongo.Enabled {
		mongo, err := internal.NewMongoClient(conf)
		if err != nil {
			return nil, fmt.Errorf("mongodb setup failed: %s", err)
		}
		database = mongo
		log.Println("mongodb is configured and enabled")
	} else {
		log.Println("database is disabled")
	}
	if database == nil && (conf.Ocpi.Enabled || conf.Telegram.Enabled) {
		return nil, fmt.Errorf("ocpi and telegram require the database")
	}

	var messageService *pusher.MessagePusher
	if conf.Pusher.Enabled {
		messageService, err = pusher.NewPusher(conf)
		if err != nil {
			return nil, fmt.Errorf("pusher setup failed: %s", err)
		}
		log.Println("pusher service is configured and enabled")
	} else {
		log.Println("message pushing service is disabled")
	}

	// logger with database and push service for the message handling
	logService := internal.NewLogger(location)
	logService.SetDebugMode(conf.IsDebug)
	logService.SetDatabase(database)
	if messageService != nil {
		logService.SetMessageService(messageService)
		messageService.SetLogger(logService)
	}
	cs.logger = logService

	// tag resolution and the session ledger
	resolver := identity.NewResolver(database, logService)
	resolver.SetAcceptUnknown(conf.AcceptUnknownTag)
	sessions := ledger.New(ledger.ConfigFrom(conf), resolver)
	cs.ledger = sessions

	dispatcher := notify.NewDispatcher(eventQueueSize, logService)
	dispatcher.OnDropped(counters.CountDroppedEvent)
	dispatcher.AddHandler(counters.Observer{})
	sessions.SetEventHandler(dispatcher)
	cs.dispatcher = dispatcher

	if database != nil {
		box, err := outbox.Open(conf.Outbox.Path, database, logService)
		if err != nil {
			return nil, err
		}
		box.SetFlushInterval(conf.Outbox.FlushInterval)
		sessions.SetSink(box)
		cs.outbox = box
	}

	// websocket listener and the control channel to charge points
	wsServer := NewServer(conf, logService)
	wsServer.AddSupportedSupProtocol(types.SubProtocol16)
	wsServer.SetMessageHandler(cs.handleIncomingMessage)
	wsServer.SetCloseHandler(cs.onConnectionClosed)
	cs.server = wsServer
	cs.commander = NewCommander(wsServer, conf.Commands.Timeout, logService)

	capabilities := capability.NewRegistry(cs.commander)

	systemHandler := NewSystemHandler(location, sessions, capabilities)
	systemHandler.SetDatabase(database)
	systemHandler.SetLogger(logService)
	systemHandler.SetAcceptUnknownChp(conf.AcceptUnknownChp)
	systemHandler.SetCommander(cs.commander)
	if err = systemHandler.OnStart(); err != nil {
		return nil, err
	}
	cs.SetCoreHandler(systemHandler)

	if database != nil {
		balancer := power.NewLoadBalancer(database, sessions, capabilities, logService)
		balancer.SetTimeout(conf.Commands.Timeout * 3)
		systemHandler.SetPowerManager(balancer)
		dispatcher.AddHandler(balancer)
		cs.balancer = balancer
	}

	cs.trigger = NewTrigger(cs.commander, conf.Commands.MeterTrigger, logService)
	dispatcher.AddHandler(cs.trigger)

	if messageService != nil {
		dispatcher.AddHandler(messageService)
	}

	if conf.Kafka.Enabled {
		publisher, err := stream.NewPublisher(conf.Kafka.Brokers, conf.Kafka.Topic, logService)
		if err != nil {
			return nil, fmt.Errorf("kafka setup failed: %s", err)
		}
		dispatcher.AddHandler(publisher)
		log.Println("kafka publisher is configured and enabled")
	}

	if conf.Telegram.Enabled {
		telegramBot, err := telegram.NewBot(conf.Telegram.ApiKey)
		if err != nil {
			return nil, fmt.Errorf("telegram bot setup failed: %s", err)
		}
		telegramBot.SetDatabase(database)
		telegramBot.SetLogger(logService)
		telegramBot.SetStatusSource(sessions)
		dispatcher.AddHandler(telegramBot)
		cs.telegram = telegramBot
		log.Println("telegram bot is configured and enabled")
	}

	// api server
	apiServer := NewServerApi(conf, systemHandler, logService)
	cs.api = apiServer

	if conf.Ocpi.Enabled {
		federation := ocpi.New(conf, database, sessions, logService)
		resolver.SetRemoteAuthorizer(federation)
		federation.RegisterRoutes(apiServer.Router())
		dispatcher.AddHandler(federation.Listener())
		cs.ocpi = federation
		log.Println("ocpi federation is configured and enabled")
	}

	return cs, nil
}
