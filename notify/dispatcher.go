package notify

import (
	"evledger/internal"
	"fmt"
	"sync"
)

const defaultQueueSize = 256

// Dispatcher delivers lifecycle events to every registered handler from one pump goroutine.
// Publishing never blocks: when the queue is full the event is dropped and logged.
type Dispatcher struct {
	queue    chan *internal.EventMessage
	handlers []internal.EventHandler
	logger   internal.LogHandler
	dropped  func(event *internal.EventMessage)
	mutex    sync.RWMutex
	done     chan struct{}
	stopOnce sync.Once
}

func NewDispatcher(queueSize int, logger internal.LogHandler) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Dispatcher{
		queue:  make(chan *internal.EventMessage, queueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (d *Dispatcher) AddHandler(handler internal.EventHandler) {
	if handler == nil {
		return
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.handlers = append(d.handlers, handler)
}

// OnDropped registers a callback counting events lost to a full queue
func (d *Dispatcher) OnDropped(fn func(event *internal.EventMessage)) {
	d.dropped = fn
}

func (d *Dispatcher) Start() {
	go d.pump()
}

// Stop delivers the events already queued and returns when the pump has exited
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.queue)
		<-d.done
	})
}

func (d *Dispatcher) OnSessionStarted(event *internal.EventMessage) {
	d.publish(event)
}

func (d *Dispatcher) OnMeterValueRecorded(event *internal.EventMessage) {
	d.publish(event)
}

func (d *Dispatcher) OnSessionStopped(event *internal.EventMessage) {
	d.publish(event)
}

func (d *Dispatcher) OnConnectorFaulted(event *internal.EventMessage) {
	d.publish(event)
}

func (d *Dispatcher) publish(event *internal.EventMessage) {
	defer func() {
		// publish after Stop
		if recover() != nil {
			d.drop(event)
		}
	}()
	select {
	case d.queue <- event:
	default:
		d.drop(event)
	}
}

func (d *Dispatcher) drop(event *internal.EventMessage) {
	if d.logger != nil {
		d.logger.Warn(fmt.Sprintf("dropped %s event for %s@%d", event.Type, event.ChargePointId, event.ConnectorId))
	}
	if d.dropped != nil {
		d.dropped(event)
	}
}

func (d *Dispatcher) pump() {
	defer close(d.done)
	for event := range d.queue {
		d.mutex.RLock()
		handlers := d.handlers
		d.mutex.RUnlock()
		for _, handler := range handlers {
			d.deliver(handler, event)
		}
	}
}

func (d *Dispatcher) deliver(handler internal.EventHandler, event *internal.EventMessage) {
	defer func() {
		if r := recover(); r != nil && d.logger != nil {
			d.logger.Error(fmt.Sprintf("event handler %T failed on %s", handler, event.Type), fmt.Errorf("%v", r))
		}
	}()
	switch event.Type {
	case internal.SessionStarted:
		handler.OnSessionStarted(event)
	case internal.MeterValueRecorded:
		handler.OnMeterValueRecorded(event)
	case internal.SessionStopped:
		handler.OnSessionStopped(event)
	case internal.ConnectorFaulted:
		handler.OnConnectorFaulted(event)
	}
}
