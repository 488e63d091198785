package power

import (
	"context"
	"errors"
	"evledger/capability"
	"evledger/entity"
	"evledger/internal"
	"evledger/metrics/counters"
	"evledger/ocpp/smartcharging"
	"fmt"
	"time"
)

const (
	featureName = "LoadBalancer"
	queueSize   = 64
)

type jobKind int

const (
	jobBoot jobKind = iota
	jobBalance
)

type job struct {
	kind          jobKind
	chargePointId string
}

// LoadBalancer applies the location power limits to smart charging points; it implements
// EventHandler and runs device calls on its own worker
type LoadBalancer struct {
	database     Repository
	sessions     Sessions
	capabilities Capabilities
	log          internal.LogHandler
	timeout      time.Duration
	jobs         chan job
}

func NewLoadBalancer(database Repository, sessions Sessions, capabilities Capabilities, log internal.LogHandler) *LoadBalancer {
	return &LoadBalancer{
		database:     database,
		sessions:     sessions,
		capabilities: capabilities,
		log:          log,
		timeout:      30 * time.Second,
		jobs:         make(chan job, queueSize),
	}
}

// SetTimeout bounds one balancing pass including every device call
func (lb *LoadBalancer) SetTimeout(timeout time.Duration) {
	lb.timeout = timeout
}

// Start runs the worker until ctx is done
func (lb *LoadBalancer) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case j := <-lb.jobs:
				lb.run(ctx, j)
			}
		}
	}()
}

func (lb *LoadBalancer) run(ctx context.Context, j job) {
	ctx, cancel := context.WithTimeout(ctx, lb.timeout)
	defer cancel()
	switch j.kind {
	case jobBoot:
		lb.applyDefaultLimit(ctx, j.chargePointId)
	case jobBalance:
		lb.balance(ctx, j.chargePointId)
	}
}

func (lb *LoadBalancer) enqueue(j job) {
	select {
	case lb.jobs <- j:
	default:
		lb.log.Warn(fmt.Sprintf("%s: queue full, skipped job for %s", featureName, j.chargePointId))
	}
}

// OnChargePointBoot schedules the default limit of the location for a booted charge point
func (lb *LoadBalancer) OnChargePointBoot(chargePointId string) {
	lb.enqueue(job{kind: jobBoot, chargePointId: chargePointId})
}

func (lb *LoadBalancer) OnSessionStarted(event *internal.EventMessage) {
	lb.enqueue(job{kind: jobBalance, chargePointId: event.ChargePointId})
}

func (lb *LoadBalancer) OnMeterValueRecorded(*internal.EventMessage) {}

func (lb *LoadBalancer) OnSessionStopped(event *internal.EventMessage) {
	lb.enqueue(job{kind: jobBalance, chargePointId: event.ChargePointId})
}

func (lb *LoadBalancer) OnConnectorFaulted(event *internal.EventMessage) {
	if event.SessionId > 0 {
		lb.enqueue(job{kind: jobBalance, chargePointId: event.ChargePointId})
	}
}

func (lb *LoadBalancer) applyDefaultLimit(ctx context.Context, chargePointId string) {
	location, chp := lb.getLocation(chargePointId)
	if location == nil || location.DefaultPowerLimit == 0 {
		return
	}
	c := lb.capabilities.Resolve(chp.Vendor)
	lb.log.FeatureEvent(featureName, chargePointId, fmt.Sprintf("setting default limit to %dA", location.DefaultPowerLimit))
	err := lb.sessions.Control(chargePointId, 0, func() error {
		return c.SetStaticLimit(ctx, chp, float64(location.DefaultPowerLimit), nil)
	})
	lb.result(chp, capability.OperationStaticLimit, err)
}

// balance splits the location limit evenly over the connectors charging on smart charging points
func (lb *LoadBalancer) balance(ctx context.Context, chargePointId string) {
	location, _ := lb.getLocation(chargePointId)
	if location == nil || location.PowerLimit == 0 {
		return
	}
	chargePoints := lb.locationChargePoints(location.Id)

	type active struct {
		chargePoint *entity.ChargePoint
		connector   *entity.Connector
		sessionId   int
	}
	var charging []active
	var idle []*entity.Connector
	for _, chp := range chargePoints {
		for _, connector := range chp.Connectors {
			if session, ok := lb.sessions.ActiveSession(chp.Id, connector.Id); ok && !session.TimeStart.IsZero() {
				charging = append(charging, active{chp, connector, session.Id})
			} else if connector.CurrentPowerLimit > 0 {
				idle = append(idle, connector)
			}
		}
	}
	for _, connector := range idle {
		connector.CurrentPowerLimit = 0
		lb.saveConnector(connector)
	}
	if len(charging) == 0 {
		return
	}
	share := location.PowerLimit / len(charging)
	for _, a := range charging {
		if a.connector.CurrentPowerLimit == share {
			continue
		}
		c := lb.capabilities.Resolve(a.chargePoint.Vendor)
		lb.log.FeatureEvent(featureName, a.chargePoint.Id, fmt.Sprintf("setting limit to %dA for connector %d", share, a.connector.Id))
		profile := smartcharging.NewTransactionChargingProfile(a.sessionId, float64(share))
		err := lb.sessions.Control(a.chargePoint.Id, a.connector.Id, func() error {
			return c.ApplyChargingProfile(ctx, a.chargePoint, a.connector.Id, profile)
		})
		lb.result(a.chargePoint, capability.OperationChargingProfile, err)
		if err == nil {
			a.connector.CurrentPowerLimit = share
			lb.saveConnector(a.connector)
		}
	}
}

func (lb *LoadBalancer) result(chp *entity.ChargePoint, operation capability.Operation, err error) {
	switch {
	case err == nil:
		counters.CountCapabilityCall(chp.Vendor, string(operation), "ok")
	case errors.Is(err, capability.ErrUnsupported):
		counters.CountCapabilityCall(chp.Vendor, string(operation), "unsupported")
		lb.log.Warn(fmt.Sprintf("%s: %s on %s (%s): %v", featureName, operation, chp.Id, chp.Vendor, err))
	default:
		counters.CountCapabilityCall(chp.Vendor, string(operation), "error")
		lb.log.Error(fmt.Sprintf("%s: %s on %s", featureName, operation, chp.Id), err)
	}
}

func (lb *LoadBalancer) getLocation(chargePointId string) (*entity.Location, *entity.ChargePoint) {
	chp, err := lb.database.GetChargePoint(chargePointId)
	if err != nil {
		lb.log.Error(fmt.Sprintf("%s: getting charge point %s", featureName, chargePointId), err)
		return nil, nil
	}
	if chp == nil || !chp.SmartCharging || chp.LocationId == "" {
		return nil, nil
	}
	location, err := lb.database.GetLocation(chp.LocationId)
	if err != nil {
		lb.log.Error(fmt.Sprintf("%s: getting location %s", featureName, chp.LocationId), err)
		return nil, nil
	}
	return location, chp
}

// locationChargePoints loads the smart charging points of a location with their connectors
func (lb *LoadBalancer) locationChargePoints(locationId string) []*entity.ChargePoint {
	all, err := lb.database.GetChargePoints()
	if err != nil {
		lb.log.Error(featureName+": getting charge points", err)
		return nil
	}
	var list []*entity.ChargePoint
	for _, chp := range all {
		if chp.LocationId != locationId || !chp.SmartCharging || !chp.IsEnabled {
			continue
		}
		full, err := lb.database.GetChargePoint(chp.Id)
		if err != nil || full == nil {
			continue
		}
		list = append(list, full)
	}
	return list
}

func (lb *LoadBalancer) saveConnector(connector *entity.Connector) {
	if err := lb.database.UpdateConnector(connector); err != nil {
		lb.log.Error(fmt.Sprintf("%s: saving connector %s@%d", featureName, connector.ChargePointId, connector.Id), err)
	}
}
