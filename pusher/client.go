package pusher

import (
	"evledger/internal"
	"evledger/internal/config"
	"evledger/utility"

	"github.com/pusher/pusher-http-go/v5"
)

type Channel string
type Event string

const (
	SystemLog Channel = "sys_log"
	Sessions  Channel = "sessions"
	Call      Event   = "call_event"
)

// trigger is the part of the pusher client used here
type trigger interface {
	Trigger(channel string, eventName string, data interface{}) error
}

// MessagePusher forwards log lines and session lifecycle events to pusher channels
type MessagePusher struct {
	client trigger
	logger internal.LogHandler
}

func NewPusher(conf *config.Config) (*MessagePusher, error) {
	if !conf.Pusher.Enabled {
		return nil, nil
	}
	if conf.Pusher.AppID == "" {
		return nil, utility.Err("missed AppID parameter in Pusher configuration")
	}
	if conf.Pusher.Key == "" {
		return nil, utility.Err("missed Key parameter in Pusher configuration")
	}
	if conf.Pusher.Secret == "" {
		return nil, utility.Err("missed Secret parameter in Pusher configuration")
	}
	client := &pusher.Client{
		AppID:   conf.Pusher.AppID,
		Key:     conf.Pusher.Key,
		Secret:  conf.Pusher.Secret,
		Cluster: conf.Pusher.Cluster,
		Secure:  true,
	}
	return &MessagePusher{client: client}, nil
}

// SetLogger is used for event delivery errors; log lines themselves are never logged back
func (p *MessagePusher) SetLogger(logger internal.LogHandler) {
	p.logger = logger
}

func (p *MessagePusher) Send(msg internal.Message) error {
	switch msg.MessageType() {
	case internal.FeatureLogMessageType:
		return p.client.Trigger(string(SystemLog), string(Call), msg)
	case internal.EventMessageType:
		event := msg.(*internal.EventMessage)
		return p.client.Trigger(string(Sessions), string(event.Type), event)
	}
	return nil
}

func (p *MessagePusher) OnSessionStarted(event *internal.EventMessage) {
	p.push(event)
}

// OnMeterValueRecorded is not forwarded
func (p *MessagePusher) OnMeterValueRecorded(*internal.EventMessage) {}

func (p *MessagePusher) OnSessionStopped(event *internal.EventMessage) {
	p.push(event)
}

func (p *MessagePusher) OnConnectorFaulted(event *internal.EventMessage) {
	p.push(event)
}

func (p *MessagePusher) push(event *internal.EventMessage) {
	if err := p.Send(event); err != nil && p.logger != nil {
		p.logger.Error("pusher: "+string(event.Type), err)
	}
}
