package telegram

import (
	"evledger/entity"
	"evledger/internal"
	"evledger/utility"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
)

const featureName = "Telegram"

// StatusSource reports the live numbers shown by the status command
type StatusSource interface {
	ActiveCount() int
}

// TgBot implements EventHandler
type TgBot struct {
	api           *tgbotapi.BotAPI
	database      internal.Database
	logger        internal.LogHandler
	status        StatusSource
	subscriptions map[int]entity.UserSubscription
	mutex         sync.RWMutex
	event         chan MessageContent
	send          chan MessageContent
}

type MessageContent struct {
	ChatID int64
	Text   string
}

func NewBot(apiKey string) (*TgBot, error) {
	api, err := tgbotapi.NewBotAPI(apiKey)
	if err != nil {
		return nil, err
	}
	return newBot(api), nil
}

func newBot(api *tgbotapi.BotAPI) *TgBot {
	return &TgBot{
		api:           api,
		subscriptions: make(map[int]entity.UserSubscription),
		event:         make(chan MessageContent, 100),
		send:          make(chan MessageContent, 100),
	}
}

// SetDatabase attach database service
func (b *TgBot) SetDatabase(database internal.Database) {
	b.database = database
}

func (b *TgBot) SetLogger(logger internal.LogHandler) {
	b.logger = logger
}

func (b *TgBot) SetStatusSource(status StatusSource) {
	b.status = status
}

func (b *TgBot) Start() {
	if b.database != nil {
		subscriptions, err := b.database.GetSubscriptions()
		if err != nil {
			b.logError("getting subscriptions", err)
		} else {
			b.mutex.Lock()
			for _, subscription := range subscriptions {
				b.subscriptions[subscription.UserID] = subscription
			}
			b.mutex.Unlock()
		}
	}
	go b.sendPump()
	go b.eventPump()
	go b.updatesPump()
}

// Start listening for updates
func (b *TgBot) updatesPump() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates, err := b.api.GetUpdatesChan(u)
	if err != nil {
		b.logError("getting updates", err)
		return
	}
	for update := range updates {
		if update.Message == nil || !update.Message.IsCommand() {
			continue
		}
		chatId := update.Message.Chat.ID
		switch update.Message.Command() {
		case "start":
			subscription := entity.UserSubscription{
				UserID:           update.Message.From.ID,
				User:             update.Message.From.UserName,
				SubscriptionType: "sessions",
			}
			b.subscribe(subscription)
			msg := fmt.Sprintf("Hello *%v*, you are now subscribed to updates", sanitize(subscription.User))
			if b.database != nil {
				if err = b.database.AddSubscription(&subscription); err != nil {
					b.logError("adding subscription", err)
					msg = fmt.Sprintf("Error adding subscription:\n `%v`", sanitize(err.Error()))
				}
			}
			b.send <- MessageContent{ChatID: chatId, Text: msg}
		case "stop":
			b.unsubscribe(update.Message.From.ID)
			if b.database != nil {
				if err = b.database.DeleteSubscription(&entity.UserSubscription{UserID: update.Message.From.ID}); err != nil {
					b.logError("deleting subscription", err)
				}
			}
			b.send <- MessageContent{ChatID: chatId, Text: "Your subscription has been removed"}
		case "status":
			b.send <- MessageContent{ChatID: chatId, Text: b.composeStatusMessage()}
		}
	}
}

func (b *TgBot) subscribe(subscription entity.UserSubscription) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.subscriptions[subscription.UserID] = subscription
}

func (b *TgBot) unsubscribe(userId int) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	delete(b.subscriptions, userId)
}

func (b *TgBot) subscribers() []int64 {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	ids := make([]int64, 0, len(b.subscriptions))
	for id := range b.subscriptions {
		ids = append(ids, int64(id))
	}
	return ids
}

// eventPump sending events to all subscribers
func (b *TgBot) eventPump() {
	for event := range b.event {
		for _, id := range b.subscribers() {
			b.sendMessage(id, event.Text)
		}
	}
}

// sendPump sending messages to users
func (b *TgBot) sendPump() {
	for event := range b.send {
		b.sendMessage(event.ChatID, event.Text)
	}
}

// sendMessage common routine to send a message via bot API
func (b *TgBot) sendMessage(id int64, text string) {
	msg := tgbotapi.NewMessage(id, text)
	msg.ParseMode = "MarkdownV2"
	_, err := b.api.Send(msg)
	if err != nil {
		// the text may have failed to parse, the error itself goes as plain text
		msg = tgbotapi.NewMessage(id, fmt.Sprintf("Error: %v", err))
		if _, err = b.api.Send(msg); err != nil {
			b.logError("sending message", err)
		}
	}
}

// post queues a message for subscribers without waiting
func (b *TgBot) post(text string) {
	select {
	case b.event <- MessageContent{Text: text}:
	default:
		if b.logger != nil {
			b.logger.Warn("telegram: event queue full, message dropped")
		}
	}
}

func (b *TgBot) OnSessionStarted(event *internal.EventMessage) {
	b.post(startedMessage(event))
}

// OnMeterValueRecorded is too frequent for chat notifications
func (b *TgBot) OnMeterValueRecorded(*internal.EventMessage) {}

func (b *TgBot) OnSessionStopped(event *internal.EventMessage) {
	b.post(stoppedMessage(event))
}

func (b *TgBot) OnConnectorFaulted(event *internal.EventMessage) {
	b.post(faultedMessage(event))
}

func header(event *internal.EventMessage) string {
	return fmt.Sprintf("*%v*: Connector %v\n", sanitize(event.ChargePointId), event.ConnectorId)
}

func startedMessage(event *internal.EventMessage) string {
	msg := header(event)
	msg += fmt.Sprintf("Session %v START\n", event.SessionId)
	msg += fmt.Sprintf("User: %v\n", sanitize(event.Username))
	msg += fmt.Sprintf("ID Tag: `%v`\n", sanitize(event.IdTag))
	return msg
}

func stoppedMessage(event *internal.EventMessage) string {
	msg := header(event)
	msg += fmt.Sprintf("Session %v STOP\n", event.SessionId)
	msg += fmt.Sprintf("User: %v\n", sanitize(event.Username))
	msg += fmt.Sprintf("Consumed: %v kWh\n", sanitize(utility.WhToString(event.Consumption)))
	msg += fmt.Sprintf("Duration: %v\n", utility.FormatDuration(event.Duration))
	if event.Inactivity > 0 {
		msg += fmt.Sprintf("Idle: %v\n", utility.FormatDuration(event.Inactivity))
	}
	if event.Reason != "" {
		msg += fmt.Sprintf("Reason: `%v`\n", sanitize(event.Reason))
	}
	return msg
}

func faultedMessage(event *internal.EventMessage) string {
	msg := header(event)
	msg += fmt.Sprintf("FAULTED: `%v`\n", sanitize(event.Reason))
	if event.SessionId > 0 {
		msg += fmt.Sprintf("Session %v closed\n", event.SessionId)
	}
	return msg
}

// compose status message
func (b *TgBot) composeStatusMessage() string {
	msg := "Status info:\n\n"
	if b.status != nil {
		msg += fmt.Sprintf("Active sessions: %v\n", b.status.ActiveCount())
	}
	msg += fmt.Sprintf("Active subscriptions: %v", len(b.subscribers()))
	return msg
}

func (b *TgBot) logError(text string, err error) {
	if b.logger != nil {
		b.logger.Error(fmt.Sprintf("%s: %s", featureName, text), err)
	}
}

// sanitize escapes MarkdownV2 reserved characters
func sanitize(input string) string {
	const reservedChars = "\\`*_{}[]()#+-.!|~>="
	var sb strings.Builder
	for _, char := range input {
		if strings.ContainsRune(reservedChars, char) {
			sb.WriteRune('\\')
		}
		sb.WriteRune(char)
	}
	return sb.String()
}
