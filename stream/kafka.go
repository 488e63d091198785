package stream

import (
	"context"
	"encoding/json"
	"evledger/internal"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

const writeTimeout = 5 * time.Second

// MessageWriter is the part of kafka.Writer used by the publisher
type MessageWriter interface {
	WriteMessages(ctx context.Context, messages ...kafka.Message) error
	Close() error
}

// Publisher writes lifecycle events to a Kafka topic keyed by charge point,
// so events of one charge point stay ordered within a partition
type Publisher struct {
	writer MessageWriter
	logger internal.LogHandler
}

func NewPublisher(brokers []string, topic string, logger internal.LogHandler) (*Publisher, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("kafka brokers and topic must be set")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil && logger != nil {
				logger.Error(fmt.Sprintf("kafka: %d events not delivered", len(messages)), err)
			}
		},
	}
	return NewPublisherWithWriter(writer, logger), nil
}

func NewPublisherWithWriter(writer MessageWriter, logger internal.LogHandler) *Publisher {
	return &Publisher{writer: writer, logger: logger}
}

func (p *Publisher) OnSessionStarted(event *internal.EventMessage) {
	p.publish(event)
}

func (p *Publisher) OnMeterValueRecorded(event *internal.EventMessage) {
	p.publish(event)
}

func (p *Publisher) OnSessionStopped(event *internal.EventMessage) {
	p.publish(event)
}

func (p *Publisher) OnConnectorFaulted(event *internal.EventMessage) {
	p.publish(event)
}

func (p *Publisher) publish(event *internal.EventMessage) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logError("encode event", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.ChargePointId),
		Value: payload,
		Time:  event.Time,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		p.logError(fmt.Sprintf("publish %s", event.Type), err)
	}
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func (p *Publisher) logError(text string, err error) {
	if p.logger != nil {
		p.logger.Error("kafka: "+text, err)
	}
}
