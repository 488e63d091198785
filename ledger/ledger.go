package ledger

import (
	"context"
	"evledger/entity"
	"evledger/internal"
	"evledger/internal/config"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// TagResolver is the identity collaborator; a nil user means the tag is not accepted
type TagResolver interface {
	ResolveTag(ctx context.Context, tagId string) (*entity.UserRef, error)
}

// Sink receives finalized sessions and connector snapshots for write-behind persistence;
// implementations must return without blocking
type Sink interface {
	OnSessionFinalized(session *entity.Session)
	OnConnectorChanged(snapshot *entity.ConnectorSnapshot)
}

type Config struct {
	Inactivity     InactivityRule
	ResolveTimeout time.Duration
	// FinalizedRetention keeps finalized sessions addressable for repeated stops and paging
	FinalizedRetention time.Duration
}

func ConfigFrom(conf *config.Config) Config {
	return Config{
		Inactivity: InactivityRule{
			IdleGap:   conf.Ledger.IdleGap,
			Threshold: conf.Ledger.ChargingThresholdWh,
		},
		ResolveTimeout:     conf.Ledger.ResolveTimeout,
		FinalizedRetention: conf.Ledger.FinalizedRetention,
	}
}

type connectorKey struct {
	chargePointId string
	connectorId   int
}

// slot is the exclusion domain of one connector; session and state are guarded by mutex
type slot struct {
	mutex      sync.Mutex
	key        connectorKey
	state      State
	generation uint64
	session    *entity.Session
	reason     string
}

type record struct {
	key         connectorKey
	session     *entity.Session
	finalizedAt time.Time
}

// Ledger owns connector and session state; operations on one connector are serialized,
// different connectors never wait for each other
type Ledger struct {
	conf     Config
	resolver TagResolver
	events   internal.EventHandler
	sink     Sink
	lastId   atomic.Int64
	slotsMux sync.Mutex
	slots    map[connectorKey]*slot
	indexMux sync.RWMutex
	index    map[int]*record
}

func New(conf Config, resolver TagResolver) *Ledger {
	return &Ledger{
		conf:     conf,
		resolver: resolver,
		slots:    make(map[connectorKey]*slot),
		index:    make(map[int]*record),
	}
}

func (l *Ledger) SetEventHandler(events internal.EventHandler) {
	l.events = events
}

func (l *Ledger) SetSink(sink Sink) {
	l.sink = sink
}

// SetNextSessionId continues numbering after the last persisted session id
func (l *Ledger) SetNextSessionId(lastId int) {
	l.lastId.Store(int64(lastId))
}

func (l *Ledger) slot(key connectorKey) *slot {
	l.slotsMux.Lock()
	defer l.slotsMux.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{key: key, state: StateIdle}
		l.slots[key] = s
	}
	return s
}

func (l *Ledger) findSlot(key connectorKey) (*slot, bool) {
	l.slotsMux.Lock()
	defer l.slotsMux.Unlock()
	s, ok := l.slots[key]
	return s, ok
}

// lockSession returns the locked slot owning the session
func (l *Ledger) lockSession(sessionId int) (*slot, *entity.Session, error) {
	l.indexMux.RLock()
	rec, ok := l.index[sessionId]
	l.indexMux.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: #%d", ErrUnknownSession, sessionId)
	}
	s := l.slot(rec.key)
	s.mutex.Lock()
	return s, rec.session, nil
}

// Authorize reserves an idle connector, resolves the tag and opens a session.
// The tag is resolved outside the connector lock; a fault meanwhile makes the call fail.
func (l *Ledger) Authorize(ctx context.Context, chargePointId string, connectorId int, tagId string, timestamp time.Time) (*entity.Session, error) {
	if tagId == "" {
		return nil, fmt.Errorf("%w: empty tag", ErrUnknownTag)
	}
	if connectorId <= 0 {
		return nil, fmt.Errorf("%w: connector %d cannot host a session", ErrInvalidTransition, connectorId)
	}
	s := l.slot(connectorKey{chargePointId, connectorId})

	s.mutex.Lock()
	if s.state.busy() {
		s.mutex.Unlock()
		return nil, fmt.Errorf("%w: %s@%d is %s", ErrConnectorBusy, chargePointId, connectorId, s.state)
	}
	if s.state == StateFaulted {
		s.mutex.Unlock()
		return nil, fmt.Errorf("%w: %s@%d is faulted", ErrInvalidTransition, chargePointId, connectorId)
	}
	s.state = StateAuthorizing
	s.generation++
	generation := s.generation
	s.mutex.Unlock()

	user, err := l.resolve(ctx, tagId)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.generation != generation || s.state != StateAuthorizing {
		return nil, fmt.Errorf("%w: %s@%d changed to %s during authorization", ErrInvalidTransition, chargePointId, connectorId, s.state)
	}
	if err != nil || user == nil {
		s.state = StateIdle
		s.generation++
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownTag, tagId)
	}

	session := &entity.Session{
		Id:            int(l.lastId.Add(1)),
		ChargePointId: chargePointId,
		ConnectorId:   connectorId,
		IdTag:         tagId,
		User:          user,
		Status:        entity.SessionAuthorized,
		AuthorizedAt:  timestamp,
		LastUpdated:   timestamp,
	}
	s.session = session
	l.indexMux.Lock()
	l.index[session.Id] = &record{key: s.key, session: session}
	l.indexMux.Unlock()
	l.snapshot(s, timestamp)
	return session.Clone(), nil
}

type resolved struct {
	user *entity.UserRef
	err  error
}

// ResolveTag looks the tag up with the same time limit Authorize uses; a timeout fails
// with ErrExternalTimeout
func (l *Ledger) ResolveTag(ctx context.Context, tagId string) (*entity.UserRef, error) {
	return l.resolve(ctx, tagId)
}

// resolve bounds the identity call even when the resolver ignores its context
func (l *Ledger) resolve(ctx context.Context, tagId string) (*entity.UserRef, error) {
	if l.resolver == nil {
		return &entity.UserRef{IdTag: tagId}, nil
	}
	if l.conf.ResolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.conf.ResolveTimeout)
		defer cancel()
	}
	result := make(chan resolved, 1)
	go func() {
		user, err := l.resolver.ResolveTag(ctx, tagId)
		result <- resolved{user, err}
	}()
	select {
	case r := <-result:
		if r.err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: resolving tag %s: %v", ErrExternalTimeout, tagId, r.err)
		}
		if r.err != nil {
			return nil, fmt.Errorf("resolving tag %s: %w", tagId, r.err)
		}
		return r.user, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: resolving tag %s: %v", ErrExternalTimeout, tagId, ctx.Err())
	}
}

// Start moves an authorized session to Active
func (l *Ledger) Start(sessionId int, timestamp time.Time) error {
	s, session, err := l.lockSession(sessionId)
	if err != nil {
		return err
	}
	defer s.mutex.Unlock()
	if session.IsFinalized() {
		return fmt.Errorf("%w: #%d", ErrAlreadyFinalized, sessionId)
	}
	if s.session != session || s.state != StateAuthorizing {
		return fmt.Errorf("%w: start #%d in state %s", ErrInvalidTransition, sessionId, s.state)
	}
	s.state = StateActive
	session.Status = entity.SessionActive
	session.TimeStart = timestamp
	session.LastUpdated = timestamp
	l.snapshot(s, timestamp)
	l.emit(internal.SessionStarted, session, timestamp, "")
	return nil
}

// RecordMeterValue appends a reading to an active session. An identical retransmission is ignored,
// a reading going back in energy or time is rejected and the sequence stays unchanged.
func (l *Ledger) RecordMeterValue(sessionId int, reading entity.MeterReading) error {
	s, session, err := l.lockSession(sessionId)
	if err != nil {
		return err
	}
	defer s.mutex.Unlock()
	if session.IsFinalized() {
		return fmt.Errorf("%w: #%d", ErrAlreadyFinalized, sessionId)
	}
	if s.session != session || s.state != StateActive {
		return fmt.Errorf("%w: meter value for #%d in state %s", ErrInvalidTransition, sessionId, s.state)
	}
	if last, ok := session.LastReading(); ok {
		if last.Equal(reading) {
			return nil
		}
		if reading.Energy < last.Energy {
			return fmt.Errorf("%w: #%d reading %d Wh below last %d Wh", ErrNonMonotonicEnergy, sessionId, reading.Energy, last.Energy)
		}
		if reading.Time.Before(last.Time) {
			return fmt.Errorf("%w: #%d reading at %s precedes last at %s", ErrNonMonotonicEnergy, sessionId,
				reading.Time.Format(time.RFC3339), last.Time.Format(time.RFC3339))
		}
	}
	session.MeterValues = append(session.MeterValues, reading)
	session.LastUpdated = reading.Time
	l.emit(internal.MeterValueRecorded, session, reading.Time, "")
	return nil
}

// RequestStop marks an active session as finishing; meter values are no longer accepted
func (l *Ledger) RequestStop(sessionId int) error {
	s, session, err := l.lockSession(sessionId)
	if err != nil {
		return err
	}
	defer s.mutex.Unlock()
	if session.IsFinalized() {
		return fmt.Errorf("%w: #%d", ErrAlreadyFinalized, sessionId)
	}
	if s.session != session {
		return fmt.Errorf("%w: #%d is not on its connector", ErrInvalidTransition, sessionId)
	}
	switch s.state {
	case StateStopping:
		return nil
	case StateActive:
		s.state = StateStopping
		session.Status = entity.SessionStopping
		l.snapshot(s, time.Now().UTC())
		return nil
	}
	return fmt.Errorf("%w: stop request for #%d in state %s", ErrInvalidTransition, sessionId, s.state)
}

// Stop finalizes the session. Repeating it with the same final reading returns the same record;
// a different final reading fails with ErrConflictingStop. A final reading behind the stored
// sequence still finalizes the session, with the record marked Corrected.
func (l *Ledger) Stop(sessionId int, timestamp time.Time, finalReading entity.MeterReading, stoppingTag string) (*entity.StopRecord, error) {
	s, session, err := l.lockSession(sessionId)
	if err != nil {
		return nil, err
	}
	defer s.mutex.Unlock()
	if finalReading.Time.IsZero() {
		finalReading.Time = timestamp
	}
	if session.IsFinalized() {
		stop := *session.Stop
		if stop.Forced {
			return nil, fmt.Errorf("%w: #%d was closed by a fault", ErrAlreadyFinalized, sessionId)
		}
		if stop.FinalReading.Equal(finalReading) {
			return &stop, nil
		}
		return nil, fmt.Errorf("%w: %w: #%d stopped at %d Wh, got %d Wh", ErrAlreadyFinalized, ErrConflictingStop,
			sessionId, stop.FinalReading.Energy, finalReading.Energy)
	}
	if s.session != session || (s.state != StateActive && s.state != StateStopping) {
		return nil, fmt.Errorf("%w: stop #%d in state %s", ErrInvalidTransition, sessionId, s.state)
	}
	effective, corrected := settleFinal(session.MeterValues, finalReading)
	stop, err := ComputeStopRecord(session.StartTime(), session.MeterValues, effective, timestamp, l.conf.Inactivity)
	if err != nil {
		return nil, err
	}
	if corrected {
		stop.FinalReading = finalReading
		stop.Corrected = true
	}
	stop.StoppingTag = stoppingTag
	l.finalize(s, session, stop)
	result := *stop
	return &result, nil
}

// settleFinal keeps the final reading from going behind the last stored one; the charge point
// has already ended the transaction, so a regressed register must not hold the connector
func settleFinal(readings []entity.MeterReading, final entity.MeterReading) (entity.MeterReading, bool) {
	n := len(readings)
	if n == 0 {
		return final, false
	}
	last := readings[n-1]
	effective := final
	if effective.Energy < last.Energy {
		effective.Energy = last.Energy
	}
	if effective.Time.Before(last.Time) {
		effective.Time = last.Time
	}
	return effective, !effective.Equal(final)
}

// Fault moves the connector to Faulted from any state and closes its session with the
// last known reading. It never fails.
func (l *Ledger) Fault(chargePointId string, connectorId int, reason string, timestamp time.Time) {
	s := l.slot(connectorKey{chargePointId, connectorId})
	s.mutex.Lock()
	defer s.mutex.Unlock()
	l.fault(s, reason, timestamp)
}

// FaultChargePoint faults every connector known for the charge point
func (l *Ledger) FaultChargePoint(chargePointId string, reason string, timestamp time.Time) {
	for _, s := range l.chargePointSlots(chargePointId) {
		s.mutex.Lock()
		l.fault(s, reason, timestamp)
		s.mutex.Unlock()
	}
}

func (l *Ledger) fault(s *slot, reason string, timestamp time.Time) {
	s.state = StateFaulted
	s.reason = reason
	s.generation++
	var session *entity.Session
	if s.session != nil {
		session = s.session
		final := entity.MeterReading{Time: timestamp}
		if last, ok := session.LastReading(); ok {
			final = last
		}
		stopTime := timestamp
		if stopTime.Before(final.Time) {
			stopTime = final.Time
		}
		stop, err := ComputeStopRecord(session.StartTime(), session.MeterValues, final, stopTime, l.conf.Inactivity)
		if err != nil {
			// the last stored reading always satisfies the ordering checks
			stop = &entity.StopRecord{Time: stopTime, FinalReading: final}
		}
		stop.Reason = reason
		stop.Forced = true
		l.finalize(s, session, stop)
	} else {
		l.snapshot(s, timestamp)
	}
	event := &internal.EventMessage{
		Type:          internal.ConnectorFaulted,
		ChargePointId: s.key.chargePointId,
		ConnectorId:   s.key.connectorId,
		Time:          timestamp,
		Reason:        reason,
	}
	if session != nil {
		fillSession(event, session)
	}
	l.dispatch(event)
}

// Recover returns a faulted connector to Idle, reporting whether the state changed
func (l *Ledger) Recover(chargePointId string, connectorId int, timestamp time.Time) bool {
	s, ok := l.findSlot(connectorKey{chargePointId, connectorId})
	if !ok {
		return false
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.state != StateFaulted {
		return false
	}
	s.state = StateIdle
	s.reason = ""
	s.generation++
	l.snapshot(s, timestamp)
	return true
}

// Control runs fn inside the exclusion domain of the connector; connector 0 addresses the whole
// charge point and holds every known connector of it
func (l *Ledger) Control(chargePointId string, connectorId int, fn func() error) error {
	var slots []*slot
	if connectorId == 0 {
		slots = l.chargePointSlots(chargePointId)
		found := false
		for _, s := range slots {
			if s.key.connectorId == 0 {
				found = true
			}
		}
		if !found {
			slots = append([]*slot{l.slot(connectorKey{chargePointId, 0})}, slots...)
		}
	} else {
		slots = []*slot{l.slot(connectorKey{chargePointId, connectorId})}
	}
	for _, s := range slots {
		s.mutex.Lock()
	}
	defer func() {
		for i := len(slots) - 1; i >= 0; i-- {
			slots[i].mutex.Unlock()
		}
	}()
	return fn()
}

// chargePointSlots returns the slots of a charge point ordered by connector id
func (l *Ledger) chargePointSlots(chargePointId string) []*slot {
	l.slotsMux.Lock()
	var slots []*slot
	for key, s := range l.slots {
		if key.chargePointId == chargePointId {
			slots = append(slots, s)
		}
	}
	l.slotsMux.Unlock()
	sort.Slice(slots, func(i, j int) bool {
		return slots[i].key.connectorId < slots[j].key.connectorId
	})
	return slots
}

func (l *Ledger) finalize(s *slot, session *entity.Session, stop *entity.StopRecord) {
	session.Stop = stop
	session.Status = entity.SessionFinalized
	session.LastUpdated = stop.Time
	s.session = nil
	if s.state != StateFaulted {
		s.state = StateIdle
	}
	s.generation++
	l.snapshot(s, stop.Time)
	if l.sink != nil {
		l.sink.OnSessionFinalized(session.Clone())
	}
	l.emit(internal.SessionStopped, session, stop.Time, stop.Reason)
	l.retire(session.Id, stop.Time)
}

// retire marks the session finalized and forgets sessions finalized longer than the retention ago
func (l *Ledger) retire(sessionId int, finalizedAt time.Time) {
	l.indexMux.Lock()
	defer l.indexMux.Unlock()
	if rec, ok := l.index[sessionId]; ok {
		rec.finalizedAt = finalizedAt
	}
	if l.conf.FinalizedRetention <= 0 {
		return
	}
	cutoff := finalizedAt.Add(-l.conf.FinalizedRetention)
	for id, rec := range l.index {
		if !rec.finalizedAt.IsZero() && rec.finalizedAt.Before(cutoff) {
			delete(l.index, id)
		}
	}
}

func (l *Ledger) snapshot(s *slot, timestamp time.Time) {
	if l.sink == nil {
		return
	}
	snapshot := &entity.ConnectorSnapshot{
		ChargePointId: s.key.chargePointId,
		ConnectorId:   s.key.connectorId,
		State:         string(s.state),
		Status:        s.state.Availability(),
		SessionId:     -1,
		Time:          timestamp,
	}
	if s.session != nil {
		snapshot.SessionId = s.session.Id
	}
	l.sink.OnConnectorChanged(snapshot)
}

func fillSession(event *internal.EventMessage, session *entity.Session) {
	event.SessionId = session.Id
	event.IdTag = session.IdTag
	event.TimeStart = session.StartTime()
	if session.User != nil {
		event.Username = session.User.Username
		event.UserId = session.User.UserId
	}
	if last, ok := session.LastReading(); ok {
		event.Energy = last.Energy
		event.SoC = last.SoC
	}
	if session.Stop != nil {
		event.Energy = session.Stop.FinalReading.Energy
		event.Consumption = session.Stop.Consumption
		event.Duration = session.Stop.Duration
		event.Inactivity = session.Stop.Inactivity
	} else {
		event.Consumption = session.Energy()
	}
}

func (l *Ledger) emit(eventType internal.EventType, session *entity.Session, timestamp time.Time, reason string) {
	if l.events == nil {
		return
	}
	event := &internal.EventMessage{
		Type:          eventType,
		ChargePointId: session.ChargePointId,
		ConnectorId:   session.ConnectorId,
		Time:          timestamp,
		Reason:        reason,
	}
	fillSession(event, session)
	l.dispatch(event)
}

func (l *Ledger) dispatch(event *internal.EventMessage) {
	if l.events == nil {
		return
	}
	switch event.Type {
	case internal.SessionStarted:
		l.events.OnSessionStarted(event)
	case internal.MeterValueRecorded:
		l.events.OnMeterValueRecorded(event)
	case internal.SessionStopped:
		l.events.OnSessionStopped(event)
	case internal.ConnectorFaulted:
		l.events.OnConnectorFaulted(event)
	}
}

// Session returns a copy of a live or retained session
func (l *Ledger) Session(sessionId int) (*entity.Session, bool) {
	s, session, err := l.lockSession(sessionId)
	if err != nil {
		return nil, false
	}
	defer s.mutex.Unlock()
	return session.Clone(), true
}

// ActiveSession returns a copy of the session holding the connector
func (l *Ledger) ActiveSession(chargePointId string, connectorId int) (*entity.Session, bool) {
	s, ok := l.findSlot(connectorKey{chargePointId, connectorId})
	if !ok {
		return nil, false
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.session == nil {
		return nil, false
	}
	return s.session.Clone(), true
}

// State returns the connector state and the fault reason when faulted
func (l *Ledger) State(chargePointId string, connectorId int) (State, string) {
	s, ok := l.findSlot(connectorKey{chargePointId, connectorId})
	if !ok {
		return StateIdle, ""
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state, s.reason
}

// Sessions pages through known sessions ordered by id and returns the total count
func (l *Ledger) Sessions(offset, limit int) ([]*entity.Session, int) {
	l.indexMux.RLock()
	ids := make([]int, 0, len(l.index))
	for id := range l.index {
		ids = append(ids, id)
	}
	l.indexMux.RUnlock()
	sort.Ints(ids)

	total := len(ids)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	sessions := make([]*entity.Session, 0, end-offset)
	for _, id := range ids[offset:end] {
		if session, ok := l.Session(id); ok {
			sessions = append(sessions, session)
		}
	}
	return sessions, total
}

// ActiveCount returns the number of sessions not yet finalized
func (l *Ledger) ActiveCount() int {
	l.indexMux.RLock()
	defer l.indexMux.RUnlock()
	count := 0
	for _, rec := range l.index {
		if rec.finalizedAt.IsZero() {
			count++
		}
	}
	return count
}
