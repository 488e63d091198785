package counters

import (
	"evledger/internal"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "server",
	Name:      "connections_active",
	Help:      "Number of active ws connections",
})

var activeSessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "ledger",
	Name:      "sessions_active",
	Help:      "Number of sessions not yet finalized",
})

var sessionCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ledger",
	Name:      "session_count",
	Help:      "Total number of started sessions.",
}, []string{"charge_point_id"})

var energyCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ledger",
	Name:      "consumed_wh",
	Help:      "Energy delivered by finalized sessions in Wh.",
}, []string{"charge_point_id"})

var rejectedReadings = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ledger",
	Name:      "rejected_readings",
	Help:      "Meter readings rejected by the ledger.",
}, []string{"charge_point_id", "reason"})

var faultCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ocpp",
	Name:      "connector_faults",
	Help:      "Connector faults by vendor error code.",
}, []string{"charge_point_id", "connector_id", "code"})

var capabilityCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "capability",
	Name:      "calls",
	Help:      "Vendor capability calls by outcome.",
}, []string{"vendor", "operation", "result"})

var droppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "events",
	Name:      "dropped",
	Help:      "Lifecycle events dropped by a full queue.",
}, []string{"type"})

var droppedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "outbox",
	Name:      "dropped",
	Help:      "Persistence records dropped by a full outbox queue.",
}, []string{"kind"})

func ObserveConnections(count int) {
	connectionsGauge.Set(float64(count))
}

func ObserveActiveSessions(count int) {
	activeSessionsGauge.Set(float64(count))
}

func CountRejectedReading(chargePointId, reason string) {
	if len(chargePointId) == 0 {
		return
	}
	rejectedReadings.With(prometheus.Labels{"charge_point_id": chargePointId, "reason": reason}).Inc()
}

// CountCapabilityCall records the outcome of a vendor call: ok, unsupported, invalid, device_error or timeout
func CountCapabilityCall(vendor, operation, result string) {
	capabilityCounter.With(prometheus.Labels{"vendor": vendor, "operation": operation, "result": result}).Inc()
}

func CountDroppedEvent(event *internal.EventMessage) {
	droppedEvents.With(prometheus.Labels{"type": string(event.Type)}).Inc()
}

func CountDroppedRecord(kind string) {
	droppedRecords.With(prometheus.Labels{"kind": kind}).Inc()
}

// Observer counts lifecycle events
type Observer struct{}

func (Observer) OnSessionStarted(event *internal.EventMessage) {
	sessionCounter.With(prometheus.Labels{"charge_point_id": event.ChargePointId}).Inc()
}

func (Observer) OnMeterValueRecorded(*internal.EventMessage) {}

func (Observer) OnSessionStopped(event *internal.EventMessage) {
	if event.Consumption > 0 {
		energyCounter.With(prometheus.Labels{"charge_point_id": event.ChargePointId}).Add(float64(event.Consumption))
	}
}

func (Observer) OnConnectorFaulted(event *internal.EventMessage) {
	faultCounter.With(prometheus.Labels{
		"charge_point_id": event.ChargePointId,
		"connector_id":    strconv.Itoa(event.ConnectorId),
		"code":            event.Reason,
	}).Inc()
}
