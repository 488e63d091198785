package server

import (
	"evledger/internal"
	"evledger/internal/config"
	"evledger/metrics/counters"
	"evledger/ocpp"
	"evledger/utility"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const (
	wsEndpoint = "/ws/:id"
	taskQueue  = 32
)

var ErrNotConnected = utility.Err("charge point is not connected")

type Server struct {
	conf           *config.Config
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	messageHandler func(ws *WebSocket, data []byte) error
	closeHandler   func(chargePointId string)
	connections    map[string]*WebSocket
	mutex          sync.RWMutex
	logger         internal.LogHandler
}

// WebSocket is one charge point connection; writes are serialized and incoming calls run in order
// on the connection task queue so that the reader stays free for call results
type WebSocket struct {
	conn   *websocket.Conn
	id     string
	write  sync.Mutex
	tasks  chan func()
	closed chan struct{}
	once   sync.Once
}

func newWebSocket(id string, conn *websocket.Conn) *WebSocket {
	ws := &WebSocket{
		conn:   conn,
		id:     id,
		tasks:  make(chan func(), taskQueue),
		closed: make(chan struct{}),
	}
	go ws.run()
	return ws
}

func (ws *WebSocket) ID() string {
	return ws.id
}

func (ws *WebSocket) run() {
	for {
		select {
		case task := <-ws.tasks:
			task()
		case <-ws.closed:
			return
		}
	}
}

// Run queues a task on the connection; it blocks while the queue is full
func (ws *WebSocket) Run(task func()) {
	select {
	case ws.tasks <- task:
	case <-ws.closed:
	}
}

func (ws *WebSocket) IsClosed() bool {
	select {
	case <-ws.closed:
		return true
	default:
		return false
	}
}

func (ws *WebSocket) close() {
	ws.once.Do(func() {
		close(ws.closed)
	})
}

func (ws *WebSocket) writeMessage(data []byte) error {
	ws.write.Lock()
	defer ws.write.Unlock()
	return ws.conn.WriteMessage(websocket.TextMessage, data)
}

func NewServer(conf *config.Config, logger internal.LogHandler) *Server {
	upgrader := websocket.Upgrader{Subprotocols: []string{}}
	// charge points do not send a browser origin
	upgrader.CheckOrigin = func(r *http.Request) bool {
		return true
	}
	server := Server{
		conf:        conf,
		upgrader:    upgrader,
		connections: make(map[string]*WebSocket),
		logger:      logger,
	}
	// register itself as a router for httpServer handler
	router := httprouter.New()
	server.Register(router)
	server.httpServer = &http.Server{
		Handler: router,
	}
	return &server
}

func (s *Server) AddSupportedSupProtocol(proto string) {
	for _, sub := range s.upgrader.Subprotocols {
		if sub == proto {
			return
		}
	}
	s.upgrader.Subprotocols = append(s.upgrader.Subprotocols, proto)
}

func (s *Server) SetMessageHandler(handler func(ws *WebSocket, data []byte) error) {
	s.messageHandler = handler
}

func (s *Server) SetCloseHandler(handler func(chargePointId string)) {
	s.closeHandler = handler
}

func (s *Server) Register(router *httprouter.Router) {
	router.GET(wsEndpoint, s.handleWsRequest)
}

func (s *Server) handleWsRequest(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := params.ByName("id")
	s.logger.Debug(fmt.Sprintf("connection initiated from remote %s", r.RemoteAddr))

	clientSubProto := websocket.Subprotocols(r)
	requestedProto := ""
	for _, proto := range clientSubProto {
		if len(s.upgrader.Subprotocols) == 0 {
			// supporting all protocols
			requestedProto = proto
			break
		}
		if slices.Contains(s.upgrader.Subprotocols, proto) {
			requestedProto = proto
			break
		}
	}
	responseHeader := http.Header{}
	if requestedProto != "" {
		responseHeader.Add("Sec-WebSocket-Protocol", requestedProto)
	}

	conn, err := s.upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		s.logger.Error("upgrade failed: ", err)
		return
	}

	s.logger.Debug(fmt.Sprintf("upgraded socket for %s and ready to receive data", id))
	ws := newWebSocket(id, conn)
	s.register(ws)

	go s.messageReader(ws)
}

// register replaces a previous connection of the same charge point
func (s *Server) register(ws *WebSocket) {
	s.mutex.Lock()
	previous, ok := s.connections[ws.id]
	s.connections[ws.id] = ws
	count := len(s.connections)
	s.mutex.Unlock()
	if ok {
		s.logger.Warn(fmt.Sprintf("%s reconnected, dropping previous connection", ws.id))
		previous.close()
		_ = previous.conn.Close()
	}
	counters.ObserveConnections(count)
}

func (s *Server) unregister(ws *WebSocket) {
	s.mutex.Lock()
	current, ok := s.connections[ws.id]
	if ok && current == ws {
		delete(s.connections, ws.id)
	}
	count := len(s.connections)
	s.mutex.Unlock()
	counters.ObserveConnections(count)
	if ok && current == ws && s.closeHandler != nil {
		s.closeHandler(ws.id)
	}
}

func (s *Server) connection(chargePointId string) (*WebSocket, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	ws, ok := s.connections[chargePointId]
	return ws, ok
}

func (s *Server) IsConnected(chargePointId string) bool {
	_, ok := s.connection(chargePointId)
	return ok
}

func (s *Server) messageReader(ws *WebSocket) {
	conn := ws.conn
	defer func() {
		ws.close()
		s.unregister(ws)
	}()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, 3001) {
				s.logger.Debug(fmt.Sprintf("id %s leaving session", ws.id))
			} else {
				s.logger.Debug(fmt.Sprintf("id %s is closing session %s", ws.id, err))
			}
			err = conn.Close()
			if err != nil {
				s.logger.Warn(fmt.Sprintf("error while closing socket %s %s", ws.id, err))
			}
			return
		}
		s.logger.RawDataEvent("IN", string(message))
		if s.messageHandler != nil {
			err = s.messageHandler(ws, message)
			if err != nil {
				s.logger.Error(fmt.Sprintf("handling message from %s", ws.id), err)
				continue
			}
		}
	}
}

func (s *Server) Start() error {
	if s.conf == nil {
		return utility.Err("configuration not loaded")
	}
	serverAddress := fmt.Sprintf("%s:%s", s.conf.Listen.BindIP, s.conf.Listen.Port)
	s.logger.Debug(fmt.Sprintf("starting server on %s", serverAddress))
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}
	if s.conf.Listen.TLS {
		s.logger.Debug("starting https TLS server")
		err = s.httpServer.ServeTLS(listener, s.conf.Listen.CertFile, s.conf.Listen.KeyFile)
	} else {
		s.logger.Debug("starting http server")
		err = s.httpServer.Serve(listener)
	}
	return err
}

// Close stops accepting connections and drops the open ones
func (s *Server) Close() error {
	s.mutex.RLock()
	for _, ws := range s.connections {
		ws.close()
		_ = ws.conn.Close()
	}
	s.mutex.RUnlock()
	return s.httpServer.Close()
}

func (s *Server) send(ws *WebSocket, data []byte) error {
	s.logger.RawDataEvent("OUT", string(data))
	if err := ws.writeMessage(data); err != nil {
		s.logger.Error(fmt.Sprintf("sending to %s", ws.id), err)
		return err
	}
	return nil
}

func (s *Server) SendResponse(ws *WebSocket, uniqueId string, response ocpp.Response) error {
	data, err := CreateCallResult(uniqueId, response)
	if err != nil {
		s.logger.Error("error encoding response", err)
		return err
	}
	return s.send(ws, data)
}

func (s *Server) SendError(ws *WebSocket, uniqueId, code, description string) error {
	data, err := CreateCallError(uniqueId, code, description)
	if err != nil {
		return err
	}
	return s.send(ws, data)
}

// SendRequest writes a call to the charge point connection
func (s *Server) SendRequest(chargePointId, uniqueId string, request ocpp.Request) error {
	ws, ok := s.connection(chargePointId)
	if !ok {
		return fmt.Errorf("%s: %w", chargePointId, ErrNotConnected)
	}
	data, err := CreateCall(uniqueId, request)
	if err != nil {
		return err
	}
	return s.send(ws, data)
}
