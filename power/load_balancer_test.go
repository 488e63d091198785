package power

import (
	"context"
	"evledger/capability"
	"evledger/entity"
	"evledger/types"
	"sync"
	"testing"
	"time"
)

type nopLog struct{}

func (nopLog) FeatureEvent(string, string, string) {}
func (nopLog) Debug(string)                        {}
func (nopLog) Warn(string)                         {}
func (nopLog) Error(string, error)                 {}
func (nopLog) RawDataEvent(string, string)         {}

type memoryRepository struct {
	chargePoints map[string]*entity.ChargePoint
	locations    map[string]*entity.Location
	saved        []entity.Connector
}

func (r *memoryRepository) GetChargePoint(id string) (*entity.ChargePoint, error) {
	return r.chargePoints[id], nil
}

func (r *memoryRepository) GetChargePoints() ([]*entity.ChargePoint, error) {
	var list []*entity.ChargePoint
	for _, chp := range r.chargePoints {
		list = append(list, chp)
	}
	return list, nil
}

func (r *memoryRepository) GetLocation(id string) (*entity.Location, error) {
	return r.locations[id], nil
}

func (r *memoryRepository) UpdateConnector(connector *entity.Connector) error {
	r.saved = append(r.saved, *connector)
	return nil
}

type staticSessions struct {
	active   map[string]*entity.Session
	controls int
}

func key(chargePointId string, connectorId int) string {
	return chargePointId + "/" + string(rune('0'+connectorId))
}

func (s *staticSessions) ActiveSession(chargePointId string, connectorId int) (*entity.Session, bool) {
	session, ok := s.active[key(chargePointId, connectorId)]
	return session, ok
}

func (s *staticSessions) Control(_ string, _ int, fn func() error) error {
	s.controls++
	return fn()
}

type profileCall struct {
	chargePointId string
	connectorId   int
	limit         float64
}

type recordingCapability struct {
	mutex    sync.Mutex
	profiles []profileCall
	limits   []float64
}

func (c *recordingCapability) Vendor() string { return "ABB" }

func (c *recordingCapability) Supports(capability.Operation) bool { return true }

func (c *recordingCapability) SetStaticLimit(_ context.Context, _ *entity.ChargePoint, maxAmps float64, _ *int) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.limits = append(c.limits, maxAmps)
	return nil
}

func (c *recordingCapability) ApplyChargingProfile(_ context.Context, chp *entity.ChargePoint, connectorId int, profile *types.ChargingProfile) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.profiles = append(c.profiles, profileCall{chp.Id, connectorId, profile.ChargingSchedule.ChargingSchedulePeriod[0].Limit})
	return nil
}

type singleVendor struct {
	c capability.Capability
}

func (s singleVendor) Resolve(string) capability.Capability { return s.c }

func smartChargePoint(id string, connectors int) *entity.ChargePoint {
	chp := entity.NewChargePoint(id)
	chp.Vendor = "ABB"
	chp.LocationId = "L1"
	chp.SmartCharging = true
	for i := 1; i <= connectors; i++ {
		chp.Connectors = append(chp.Connectors, entity.NewConnector(i, id))
	}
	return chp
}

func started(id int) *entity.Session {
	return &entity.Session{Id: id, TimeStart: time.Now()}
}

func TestBalance_SplitsLimitEvenly(t *testing.T) {
	repo := &memoryRepository{
		chargePoints: map[string]*entity.ChargePoint{
			"CP1": smartChargePoint("CP1", 2),
			"CP2": smartChargePoint("CP2", 1),
		},
		locations: map[string]*entity.Location{"L1": {Id: "L1", PowerLimit: 96}},
	}
	sessions := &staticSessions{active: map[string]*entity.Session{
		key("CP1", 1): started(10),
		key("CP1", 2): started(11),
		key("CP2", 1): started(12),
	}}
	c := &recordingCapability{}
	lb := NewLoadBalancer(repo, sessions, singleVendor{c}, nopLog{})

	lb.balance(context.Background(), "CP1")

	if len(c.profiles) != 3 {
		t.Fatalf("profiles sent = %d, want 3", len(c.profiles))
	}
	for _, p := range c.profiles {
		if p.limit != 32 {
			t.Errorf("%s@%d limit = %v, want 32", p.chargePointId, p.connectorId, p.limit)
		}
	}
	if sessions.controls != 3 {
		t.Errorf("control sections = %d, want 3", sessions.controls)
	}
	if len(repo.saved) != 3 || repo.saved[0].CurrentPowerLimit != 32 {
		t.Errorf("saved connectors = %+v", repo.saved)
	}

	// same share again: nothing to send
	lb.balance(context.Background(), "CP1")
	if len(c.profiles) != 3 {
		t.Errorf("profiles after rebalance = %d, want 3", len(c.profiles))
	}
}

func TestBalance_ClearsIdleConnectors(t *testing.T) {
	chp := smartChargePoint("CP1", 2)
	chp.Connectors[1].CurrentPowerLimit = 16
	repo := &memoryRepository{
		chargePoints: map[string]*entity.ChargePoint{"CP1": chp},
		locations:    map[string]*entity.Location{"L1": {Id: "L1", PowerLimit: 40}},
	}
	sessions := &staticSessions{active: map[string]*entity.Session{key("CP1", 1): started(1)}}
	c := &recordingCapability{}
	lb := NewLoadBalancer(repo, sessions, singleVendor{c}, nopLog{})

	lb.balance(context.Background(), "CP1")

	if len(c.profiles) != 1 || c.profiles[0].limit != 40 {
		t.Errorf("profiles = %+v, want one with 40", c.profiles)
	}
	if chp.Connectors[1].CurrentPowerLimit != 0 {
		t.Errorf("idle connector limit = %d, want 0", chp.Connectors[1].CurrentPowerLimit)
	}
}

func TestBalance_IgnoresPlainChargePoints(t *testing.T) {
	chp := smartChargePoint("CP1", 1)
	chp.SmartCharging = false
	repo := &memoryRepository{
		chargePoints: map[string]*entity.ChargePoint{"CP1": chp},
		locations:    map[string]*entity.Location{"L1": {Id: "L1", PowerLimit: 40, DefaultPowerLimit: 10}},
	}
	c := &recordingCapability{}
	lb := NewLoadBalancer(repo, &staticSessions{active: map[string]*entity.Session{key("CP1", 1): started(1)}}, singleVendor{c}, nopLog{})

	lb.balance(context.Background(), "CP1")
	lb.applyDefaultLimit(context.Background(), "CP1")

	if len(c.profiles) != 0 || len(c.limits) != 0 {
		t.Errorf("device contacted: profiles %v limits %v", c.profiles, c.limits)
	}
}

func TestApplyDefaultLimit(t *testing.T) {
	repo := &memoryRepository{
		chargePoints: map[string]*entity.ChargePoint{"CP1": smartChargePoint("CP1", 1)},
		locations:    map[string]*entity.Location{"L1": {Id: "L1", DefaultPowerLimit: 20}},
	}
	c := &recordingCapability{}
	lb := NewLoadBalancer(repo, &staticSessions{}, singleVendor{c}, nopLog{})

	lb.applyDefaultLimit(context.Background(), "CP1")
	if len(c.limits) != 1 || c.limits[0] != 20 {
		t.Errorf("limits = %v, want [20]", c.limits)
	}

	repo.locations["L1"].DefaultPowerLimit = 0
	lb.applyDefaultLimit(context.Background(), "CP1")
	if len(c.limits) != 1 {
		t.Errorf("zero default limit sent to device: %v", c.limits)
	}
}

func TestWorkerRunsQueuedJobs(t *testing.T) {
	repo := &memoryRepository{
		chargePoints: map[string]*entity.ChargePoint{"CP1": smartChargePoint("CP1", 1)},
		locations:    map[string]*entity.Location{"L1": {Id: "L1", DefaultPowerLimit: 25}},
	}
	c := &recordingCapability{}
	lb := NewLoadBalancer(repo, &staticSessions{}, singleVendor{c}, nopLog{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lb.Start(ctx)

	lb.OnChargePointBoot("CP1")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		c.mutex.Lock()
		n := len(c.limits)
		c.mutex.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("boot job did not reach the device")
}
