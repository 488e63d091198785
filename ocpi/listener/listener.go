package listener

import (
	"context"
	"evledger/entity"
	"evledger/internal"
	"evledger/ocpi/client"
	"evledger/ocpi/model"
	"fmt"
	"net/http"
)

const (
	sessionEndpoint = "/sessions/%s/%s/%s"
	queueSize       = 256
	featureName     = "OCPI"
)

type ChargePoints interface {
	GetChargePoint(id string) (*entity.ChargePoint, error)
}

type push struct {
	method  string
	session *model.Session
	patch   *model.SessionPatch
}

// Listener pushes session updates to the partner; it implements EventHandler and sends from its own worker
type Listener struct {
	client       *client.Client
	party        model.Party
	chargePoints ChargePoints
	logger       internal.LogHandler
	queue        chan push
}

func New(client *client.Client, party model.Party, chargePoints ChargePoints, logger internal.LogHandler) *Listener {
	return &Listener{
		client:       client,
		party:        party,
		chargePoints: chargePoints,
		logger:       logger,
		queue:        make(chan push, queueSize),
	}
}

func (l *Listener) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case p := <-l.queue:
				l.send(ctx, p)
			}
		}
	}()
}

func (l *Listener) send(ctx context.Context, p push) {
	endpoint := fmt.Sprintf(sessionEndpoint, l.party.CountryCode, l.party.PartyId, p.session.Id)
	var data interface{} = p.session
	if p.patch != nil {
		data = p.patch
	}
	if _, err := l.client.Send(ctx, p.method, endpoint, data); err != nil {
		l.logger.Error(fmt.Sprintf("%s: push session %s", featureName, p.session.Id), err)
	}
}

func (l *Listener) locationId(chargePointId string) string {
	if l.chargePoints == nil {
		return ""
	}
	chp, err := l.chargePoints.GetChargePoint(chargePointId)
	if err != nil || chp == nil {
		return ""
	}
	return chp.LocationId
}

func (l *Listener) enqueue(p push) {
	select {
	case l.queue <- p:
	default:
		l.logger.Warn(fmt.Sprintf("%s: push queue full, session %s update dropped", featureName, p.session.Id))
	}
}

func (l *Listener) put(event *internal.EventMessage) {
	session := model.FromEvent(l.party, l.locationId(event.ChargePointId), event)
	l.enqueue(push{method: http.MethodPut, session: session})
}

func (l *Listener) OnSessionStarted(event *internal.EventMessage) {
	l.put(event)
}

func (l *Listener) OnMeterValueRecorded(event *internal.EventMessage) {
	session := &model.Session{Id: fmt.Sprint(event.SessionId)}
	patch := &model.SessionPatch{Kwh: float64(event.Energy) / 1000, LastUpdated: event.Time}
	l.enqueue(push{method: http.MethodPatch, session: session, patch: patch})
}

func (l *Listener) OnSessionStopped(event *internal.EventMessage) {
	l.put(event)
}

func (l *Listener) OnConnectorFaulted(event *internal.EventMessage) {
	if event.SessionId > 0 {
		l.put(event)
	}
}
