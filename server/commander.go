package server

import (
	"context"
	"evledger/internal"
	"evledger/ocpp"
	"evledger/utility"
	"fmt"
	"sync"
	"time"
)

var errConnectionClosed = utility.Err("connection closed before the charge point answered")

type requestSender interface {
	SendRequest(chargePointId, uniqueId string, request ocpp.Request) error
}

type callResponse struct {
	payload string
	err     error
}

type pendingCall struct {
	chargePointId string
	response      chan callResponse
}

// Commander correlates outgoing calls with the results read from the charge point connection
type Commander struct {
	sender  requestSender
	timeout time.Duration
	pending map[string]*pendingCall
	mutex   sync.Mutex
	logger  internal.LogHandler
}

func NewCommander(sender requestSender, timeout time.Duration, logger internal.LogHandler) *Commander {
	return &Commander{
		sender:  sender,
		timeout: timeout,
		pending: make(map[string]*pendingCall),
		logger:  logger,
	}
}

// Call sends the request and waits for the confirmation payload, the command timeout or ctx, whichever comes first
func (c *Commander) Call(ctx context.Context, chargePointId string, request ocpp.Request) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	uniqueId := utility.NewUUID()
	call := &pendingCall{chargePointId: chargePointId, response: make(chan callResponse, 1)}
	c.mutex.Lock()
	c.pending[uniqueId] = call
	c.mutex.Unlock()
	defer c.remove(uniqueId)

	if err := c.sender.SendRequest(chargePointId, uniqueId, request); err != nil {
		return "", err
	}
	select {
	case response := <-call.response:
		return response.payload, response.err
	case <-ctx.Done():
		c.logger.Warn(fmt.Sprintf("timeout waiting for %s response from %s", request.GetFeatureName(), chargePointId))
		return "", fmt.Errorf("%s %s: %w", request.GetFeatureName(), chargePointId, ctx.Err())
	}
}

func (c *Commander) remove(uniqueId string) {
	c.mutex.Lock()
	delete(c.pending, uniqueId)
	c.mutex.Unlock()
}

// resolve completes a pending call; false means no call waits for this id
func (c *Commander) resolve(uniqueId string, payload string, err error) bool {
	c.mutex.Lock()
	call, ok := c.pending[uniqueId]
	if ok {
		delete(c.pending, uniqueId)
	}
	c.mutex.Unlock()
	if !ok {
		return false
	}
	call.response <- callResponse{payload: payload, err: err}
	return true
}

// cancel fails every call waiting on the charge point connection
func (c *Commander) cancel(chargePointId string) {
	c.mutex.Lock()
	var calls []*pendingCall
	for id, call := range c.pending {
		if call.chargePointId == chargePointId {
			calls = append(calls, call)
			delete(c.pending, id)
		}
	}
	c.mutex.Unlock()
	for _, call := range calls {
		call.response <- callResponse{err: fmt.Errorf("%s: %w", chargePointId, errConnectionClosed)}
	}
}
