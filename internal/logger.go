package internal

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

type Importance string

const (
	Info    Importance = " "
	Warning Importance = "?"
	Error   Importance = "!"
	Raw     Importance = "-"
)

const logQueueSize = 100

type Logger struct {
	database       Database
	messageService MessageService
	location       *time.Location
	debugMode      bool
	writer         chan *LogEvent
	out            *logrus.Logger
}

type LogEvent struct {
	Importance Importance
	Message    *FeatureLogMessage
}

func NewLogger(location *time.Location) *Logger {
	if location == nil {
		location = time.UTC
	}
	out := logrus.New()
	out.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger := &Logger{
		debugMode: false,
		location:  location,
		writer:    make(chan *LogEvent, logQueueSize),
		out:       out,
	}
	go logger.startWriter()
	return logger
}

func (l *Logger) startWriter() {
	for event := range l.writer {
		l.write(event)
	}
}

func (l *Logger) write(event *LogEvent) {
	message := event.Message
	l.logLine(event.Importance, message)

	if l.database != nil && event.Importance != Raw {
		if err := l.database.WriteLogMessage(message); err != nil {
			l.out.WithError(err).Error("write log to database failed")
		}
	}
	if l.messageService != nil && event.Importance != Raw {
		if err := l.messageService.Send(message); err != nil {
			l.out.WithError(err).Warn("push log message failed")
		}
	}
}

func (l *Logger) SetDebugMode(debugMode bool) {
	l.debugMode = debugMode
	if debugMode {
		l.out.SetLevel(logrus.DebugLevel)
	} else {
		l.out.SetLevel(logrus.InfoLevel)
	}
}

func (l *Logger) SetDatabase(database Database) {
	l.database = database
}

func (l *Logger) SetMessageService(messageService MessageService) {
	l.messageService = messageService
}

func logTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func (l *Logger) FeatureEvent(feature, id, text string) {
	l.logEvent(Info, l.newFeatureLogMessage(feature, id, text))
}

// logEvent queues the message; when the queue is full the line is written inline, never blocking the caller
func (l *Logger) logEvent(importance Importance, message *FeatureLogMessage) {
	if message.ChargePointId == "" {
		message.ChargePointId = "*"
	}
	message.Importance = string(importance)
	event := &LogEvent{
		Importance: importance,
		Message:    message,
	}
	select {
	case l.writer <- event:
	default:
		l.logLine(importance, message)
	}
}

func (l *Logger) Debug(text string) {
	l.logEvent(Info, l.newFeatureLogMessage("info", "", text))
}

func (l *Logger) Warn(text string) {
	l.logEvent(Warning, l.newFeatureLogMessage("warning", "", text))
}

func (l *Logger) Error(text string, err error) {
	l.logEvent(Error, l.newFeatureLogMessage("error", "", fmt.Sprintf("%s: %s", text, err)))
}

func (l *Logger) RawDataEvent(direction, data string) {
	if l.debugMode {
		l.logEvent(Raw, l.newFeatureLogMessage("raw", "", fmt.Sprintf("%s: %s", direction, data)))
	}
}

func (l *Logger) logLine(importance Importance, message *FeatureLogMessage) {
	entry := l.out.WithFields(logrus.Fields{
		"feature": message.Feature,
		"id":      message.ChargePointId,
	})
	text := fmt.Sprintf("[%s] %s: %s", message.ChargePointId, message.Feature, message.Text)
	switch importance {
	case Warning:
		entry.Warn(text)
	case Error:
		entry.Error(text)
	case Raw:
		entry.Debug(text)
	default:
		entry.Info(text)
	}
}

func (l *Logger) newFeatureLogMessage(feature, id, text string) *FeatureLogMessage {
	now := time.Now()
	return &FeatureLogMessage{
		Time:          logTime(now.In(l.location)),
		TimeStamp:     now.UTC(),
		Text:          text,
		Feature:       feature,
		ChargePointId: id,
	}
}
