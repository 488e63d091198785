package ledger

import (
	"context"
	"errors"
	"evledger/entity"
	"evledger/internal"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type tagTable map[string]*entity.UserRef

func (tt tagTable) ResolveTag(_ context.Context, tagId string) (*entity.UserRef, error) {
	return tt[tagId], nil
}

// blockingResolver waits until released or the context ends
type blockingResolver struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingResolver) ResolveTag(ctx context.Context, tagId string) (*entity.UserRef, error) {
	close(b.entered)
	select {
	case <-b.release:
		return &entity.UserRef{IdTag: tagId}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type recordingEvents struct {
	mutex  sync.Mutex
	events []internal.EventMessage
}

func (r *recordingEvents) add(event *internal.EventMessage) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, *event)
}

func (r *recordingEvents) OnSessionStarted(event *internal.EventMessage)     { r.add(event) }
func (r *recordingEvents) OnMeterValueRecorded(event *internal.EventMessage) { r.add(event) }
func (r *recordingEvents) OnSessionStopped(event *internal.EventMessage)     { r.add(event) }
func (r *recordingEvents) OnConnectorFaulted(event *internal.EventMessage)   { r.add(event) }

func (r *recordingEvents) types() []internal.EventType {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var list []internal.EventType
	for _, e := range r.events {
		list = append(list, e.Type)
	}
	return list
}

type recordingSink struct {
	mutex     sync.Mutex
	finalized []*entity.Session
	snapshots []*entity.ConnectorSnapshot
}

func (s *recordingSink) OnSessionFinalized(session *entity.Session) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.finalized = append(s.finalized, session)
}

func (s *recordingSink) OnConnectorChanged(snapshot *entity.ConnectorSnapshot) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.snapshots = append(s.snapshots, snapshot)
}

func testConfig() Config {
	return Config{
		Inactivity:         InactivityRule{IdleGap: 5 * time.Minute, Threshold: 10},
		ResolveTimeout:     time.Second,
		FinalizedRetention: time.Hour,
	}
}

func newTestLedger() *Ledger {
	return New(testConfig(), tagTable{
		"TAG1": {UserId: "u1", Username: "alice", IdTag: "TAG1"},
		"TAG2": {UserId: "u2", Username: "bob", IdTag: "TAG2"},
	})
}

func startSession(t *testing.T, l *Ledger, cp string, connector int) *entity.Session {
	t.Helper()
	session, err := l.Authorize(context.Background(), cp, connector, "TAG1", t0)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if err = l.Start(session.Id, t0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return session
}

func TestLedger_FullSessionAndIdempotentStop(t *testing.T) {
	l := newTestLedger()
	events := &recordingEvents{}
	sink := &recordingSink{}
	l.SetEventHandler(events)
	l.SetSink(sink)

	session := startSession(t, l, "CP1", 1)
	for i, energy := range []int64{0, 150, 300} {
		reading := entity.NewMeterReading(t0.Add(time.Duration(i)*10*time.Minute), energy)
		if err := l.RecordMeterValue(session.Id, reading); err != nil {
			t.Fatalf("RecordMeterValue(%d): %v", energy, err)
		}
	}

	stopTime := t0.Add(30 * time.Minute)
	final := entity.NewMeterReading(stopTime, 450)
	first, err := l.Stop(session.Id, stopTime, final, "TAG1")
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if first.Consumption != 450 || first.Duration != 30*time.Minute || first.Inactivity != 0 {
		t.Errorf("stop record = %+v, want consumption 450, duration 30m, inactivity 0", first)
	}

	second, err := l.Stop(session.Id, stopTime, final, "TAG1")
	if err != nil {
		t.Fatalf("repeated Stop: %v", err)
	}
	if *second != *first {
		t.Errorf("repeated stop = %+v, want %+v", second, first)
	}

	_, err = l.Stop(session.Id, stopTime, entity.NewMeterReading(stopTime, 500), "TAG1")
	if !errors.Is(err, ErrConflictingStop) {
		t.Fatalf("conflicting Stop error = %v, want ErrConflictingStop", err)
	}
	if !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("conflicting Stop error = %v, want it to match ErrAlreadyFinalized", err)
	}

	if state, _ := l.State("CP1", 1); state != StateIdle {
		t.Errorf("state = %s, want Idle", state)
	}
	if len(sink.finalized) != 1 {
		t.Fatalf("finalized sessions = %d, want 1", len(sink.finalized))
	}
	if sink.finalized[0].Stop.Consumption != 450 {
		t.Errorf("persisted consumption = %d, want 450", sink.finalized[0].Stop.Consumption)
	}
	want := []internal.EventType{
		internal.SessionStarted,
		internal.MeterValueRecorded, internal.MeterValueRecorded, internal.MeterValueRecorded,
		internal.SessionStopped,
	}
	got := events.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
	if l.ActiveCount() != 0 {
		t.Errorf("active count = %d, want 0", l.ActiveCount())
	}
}

func TestLedger_RejectsNonMonotonicEnergy(t *testing.T) {
	l := newTestLedger()
	session := startSession(t, l, "CP1", 1)

	if err := l.RecordMeterValue(session.Id, entity.NewMeterReading(t0.Add(time.Minute), 300)); err != nil {
		t.Fatalf("RecordMeterValue: %v", err)
	}
	err := l.RecordMeterValue(session.Id, entity.NewMeterReading(t0.Add(2*time.Minute), 200))
	if !errors.Is(err, ErrNonMonotonicEnergy) {
		t.Fatalf("error = %v, want ErrNonMonotonicEnergy", err)
	}
	err = l.RecordMeterValue(session.Id, entity.NewMeterReading(t0, 400))
	if !errors.Is(err, ErrNonMonotonicEnergy) {
		t.Fatalf("earlier reading error = %v, want ErrNonMonotonicEnergy", err)
	}

	current, ok := l.Session(session.Id)
	if !ok {
		t.Fatal("session not found")
	}
	if len(current.MeterValues) != 1 || current.MeterValues[0].Energy != 300 {
		t.Errorf("readings = %+v, want only the 300 Wh reading", current.MeterValues)
	}
	if state, _ := l.State("CP1", 1); state != StateActive {
		t.Errorf("state = %s, want Active", state)
	}
}

func TestLedger_IgnoresRetransmittedReading(t *testing.T) {
	l := newTestLedger()
	session := startSession(t, l, "CP1", 1)
	reading := entity.NewMeterReading(t0.Add(time.Minute), 100).WithSoC(40)
	for i := 0; i < 3; i++ {
		if err := l.RecordMeterValue(session.Id, reading); err != nil {
			t.Fatalf("RecordMeterValue #%d: %v", i, err)
		}
	}
	current, _ := l.Session(session.Id)
	if len(current.MeterValues) != 1 {
		t.Errorf("readings = %d, want 1", len(current.MeterValues))
	}
}

func TestLedger_AuthorizeErrors(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	if _, err := l.Authorize(ctx, "CP1", 1, "NOPE", t0); !errors.Is(err, ErrUnknownTag) {
		t.Errorf("unknown tag error = %v, want ErrUnknownTag", err)
	}
	if state, _ := l.State("CP1", 1); state != StateIdle {
		t.Errorf("state after rejected tag = %s, want Idle", state)
	}
	if _, err := l.Authorize(ctx, "CP1", 0, "TAG1", t0); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("connector 0 error = %v, want ErrInvalidTransition", err)
	}

	if _, err := l.Authorize(ctx, "CP1", 1, "TAG1", t0); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if _, err := l.Authorize(ctx, "CP1", 1, "TAG2", t0); !errors.Is(err, ErrConnectorBusy) {
		t.Errorf("second authorize error = %v, want ErrConnectorBusy", err)
	}
	if _, err := l.Authorize(ctx, "CP1", 2, "TAG2", t0); err != nil {
		t.Errorf("authorize on another connector: %v", err)
	}

	l.Fault("CP1", 3, "GroundFailure", t0)
	if _, err := l.Authorize(ctx, "CP1", 3, "TAG1", t0); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("faulted connector error = %v, want ErrInvalidTransition", err)
	}
}

func TestLedger_ConcurrentAuthorizeAdmitsOne(t *testing.T) {
	l := New(testConfig(), nil)
	var wg sync.WaitGroup
	var admitted, busy atomic.Int32
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Authorize(context.Background(), "CP1", 1, "TAG", t0)
			switch {
			case err == nil:
				admitted.Add(1)
			case errors.Is(err, ErrConnectorBusy):
				busy.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if admitted.Load() != 1 {
		t.Errorf("admitted = %d, want 1", admitted.Load())
	}
	if busy.Load() != 31 {
		t.Errorf("busy = %d, want 31", busy.Load())
	}
}

func TestLedger_FaultSupersedesAuthorize(t *testing.T) {
	resolver := &blockingResolver{entered: make(chan struct{}), release: make(chan struct{})}
	l := New(testConfig(), resolver)

	result := make(chan error, 1)
	go func() {
		_, err := l.Authorize(context.Background(), "CP1", 1, "TAG1", t0)
		result <- err
	}()
	<-resolver.entered
	l.Fault("CP1", 1, "offline", t0)
	close(resolver.release)

	if err := <-result; !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}
	state, reason := l.State("CP1", 1)
	if state != StateFaulted || reason != "offline" {
		t.Errorf("state = %s (%s), want Faulted (offline)", state, reason)
	}
	if _, ok := l.ActiveSession("CP1", 1); ok {
		t.Error("stale authorization left a session on the connector")
	}
}

func TestLedger_ResolveTimeout(t *testing.T) {
	resolver := &blockingResolver{entered: make(chan struct{}), release: make(chan struct{})}
	conf := testConfig()
	conf.ResolveTimeout = 20 * time.Millisecond
	l := New(conf, resolver)

	_, err := l.Authorize(context.Background(), "CP1", 1, "TAG1", t0)
	if !errors.Is(err, ErrExternalTimeout) {
		t.Fatalf("error = %v, want ErrExternalTimeout", err)
	}
	if state, _ := l.State("CP1", 1); state != StateIdle {
		t.Errorf("state = %s, want Idle", state)
	}
}

func TestLedger_FaultFinalizesActiveSession(t *testing.T) {
	l := newTestLedger()
	events := &recordingEvents{}
	sink := &recordingSink{}
	l.SetEventHandler(events)
	l.SetSink(sink)

	session := startSession(t, l, "CP1", 1)
	_ = l.RecordMeterValue(session.Id, entity.NewMeterReading(t0, 1000))
	_ = l.RecordMeterValue(session.Id, entity.NewMeterReading(t0.Add(10*time.Minute), 1800))

	l.Fault("CP1", 1, "OverCurrentFailure", t0.Add(15*time.Minute))

	current, _ := l.Session(session.Id)
	if !current.IsFinalized() {
		t.Fatal("session not finalized by fault")
	}
	if !current.Stop.Forced || current.Stop.Reason != "OverCurrentFailure" {
		t.Errorf("stop = %+v, want forced with reason", current.Stop)
	}
	if current.Stop.Consumption != 800 {
		t.Errorf("consumption = %d, want 800", current.Stop.Consumption)
	}
	if current.Stop.Duration != 15*time.Minute {
		t.Errorf("duration = %v, want 15m", current.Stop.Duration)
	}
	if _, err := l.Stop(session.Id, t0.Add(20*time.Minute), entity.NewMeterReading(t0.Add(20*time.Minute), 1900), ""); !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("stop after fault error = %v, want ErrAlreadyFinalized", err)
	}
	if len(sink.finalized) != 1 {
		t.Errorf("finalized = %d, want 1", len(sink.finalized))
	}
	types := events.types()
	if types[len(types)-1] != internal.ConnectorFaulted {
		t.Errorf("last event = %s, want ConnectorFaulted", types[len(types)-1])
	}

	if !l.Recover("CP1", 1, t0.Add(time.Hour)) {
		t.Fatal("Recover returned false")
	}
	if _, err := l.Authorize(context.Background(), "CP1", 1, "TAG2", t0.Add(time.Hour)); err != nil {
		t.Errorf("authorize after recover: %v", err)
	}
}

func TestLedger_FaultChargePoint(t *testing.T) {
	l := newTestLedger()
	first := startSession(t, l, "CP1", 1)
	second := startSession(t, l, "CP1", 2)
	other := startSession(t, l, "CP2", 1)

	l.FaultChargePoint("CP1", "PowerMeterFailure", t0.Add(time.Minute))

	for _, id := range []int{first.Id, second.Id} {
		if s, _ := l.Session(id); !s.IsFinalized() {
			t.Errorf("session #%d not finalized", id)
		}
	}
	if s, _ := l.Session(other.Id); s.IsFinalized() {
		t.Error("session on another charge point finalized")
	}
}

func TestLedger_StopRequiresStartedSession(t *testing.T) {
	l := newTestLedger()
	session, err := l.Authorize(context.Background(), "CP1", 1, "TAG1", t0)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if err = l.RecordMeterValue(session.Id, entity.NewMeterReading(t0, 10)); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("reading before start error = %v, want ErrInvalidTransition", err)
	}
	if _, err = l.Stop(session.Id, t0, entity.NewMeterReading(t0, 10), ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("stop before start error = %v, want ErrInvalidTransition", err)
	}
	if _, err = l.Stop(999, t0, entity.NewMeterReading(t0, 10), ""); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("unknown session error = %v, want ErrUnknownSession", err)
	}
}

func TestLedger_RequestStopBlocksReadings(t *testing.T) {
	l := newTestLedger()
	session := startSession(t, l, "CP1", 1)
	if err := l.RequestStop(session.Id); err != nil {
		t.Fatalf("RequestStop: %v", err)
	}
	if err := l.RecordMeterValue(session.Id, entity.NewMeterReading(t0.Add(time.Minute), 10)); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("reading while stopping error = %v, want ErrInvalidTransition", err)
	}
	if _, err := l.Stop(session.Id, t0.Add(2*time.Minute), entity.MeterReading{Energy: 20}, ""); err != nil {
		t.Errorf("Stop while stopping: %v", err)
	}
}

func TestLedger_StopBehindLastReadingFinalizes(t *testing.T) {
	l := newTestLedger()
	session := startSession(t, l, "CP1", 1)
	for i, energy := range []int64{1000, 1235} {
		if err := l.RecordMeterValue(session.Id, entity.NewMeterReading(t0.Add(time.Duration(i)*10*time.Minute), energy)); err != nil {
			t.Fatalf("RecordMeterValue(%d): %v", energy, err)
		}
	}

	stopTime := t0.Add(20 * time.Minute)
	final := entity.NewMeterReading(stopTime, 1234)
	stop, err := l.Stop(session.Id, stopTime, final, "")
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !stop.Corrected || stop.Consumption != 235 || !stop.FinalReading.Equal(final) {
		t.Errorf("stop record = %+v, want corrected, consumption 235, reported final reading", stop)
	}
	if state, _ := l.State("CP1", 1); state != StateIdle {
		t.Errorf("state after stop = %s, want Idle", state)
	}

	again, err := l.Stop(session.Id, stopTime, final, "")
	if err != nil || *again != *stop {
		t.Errorf("repeated Stop = %+v, %v; want %+v", again, err, stop)
	}
	if _, err = l.Authorize(context.Background(), "CP1", 1, "TAG2", stopTime.Add(time.Minute)); err != nil {
		t.Errorf("Authorize after corrected stop: %v", err)
	}
}

func TestLedger_StopBeforeLastReadingTime(t *testing.T) {
	l := newTestLedger()
	session := startSession(t, l, "CP1", 1)
	if err := l.RecordMeterValue(session.Id, entity.NewMeterReading(t0.Add(10*time.Minute), 100)); err != nil {
		t.Fatalf("RecordMeterValue: %v", err)
	}
	stop, err := l.Stop(session.Id, t0.Add(5*time.Minute), entity.NewMeterReading(t0.Add(5*time.Minute), 300), "")
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !stop.Corrected || stop.Consumption != 200 {
		t.Errorf("stop record = %+v, want corrected with consumption 200", stop)
	}
}

func TestLedger_ControlSerializesWithConnector(t *testing.T) {
	l := newTestLedger()
	session := startSession(t, l, "CP1", 1)

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = l.Control("CP1", 0, func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	done := make(chan error, 1)
	go func() {
		done <- l.RecordMeterValue(session.Id, entity.NewMeterReading(t0.Add(time.Minute), 10))
	}()
	select {
	case <-done:
		t.Fatal("meter value recorded while the charge point was held")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)
	if err := <-done; err != nil {
		t.Errorf("RecordMeterValue: %v", err)
	}

	want := errors.New("device")
	if err := l.Control("CP1", 1, func() error { return want }); !errors.Is(err, want) {
		t.Errorf("Control error = %v, want %v", err, want)
	}
}

func TestLedger_SessionsPaging(t *testing.T) {
	l := newTestLedger()
	l.SetNextSessionId(100)
	for connector := 1; connector <= 5; connector++ {
		startSession(t, l, "CP1", connector)
	}
	page, total := l.Sessions(1, 2)
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(page) != 2 || page[0].Id != 102 || page[1].Id != 103 {
		t.Errorf("page = %v, want sessions 102 and 103", page)
	}
	if page, _ = l.Sessions(10, 2); len(page) != 0 {
		t.Errorf("page past the end = %d sessions, want 0", len(page))
	}
	if l.ActiveCount() != 5 {
		t.Errorf("active count = %d, want 5", l.ActiveCount())
	}
}
