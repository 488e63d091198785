package model

import (
	"evledger/entity"
	"evledger/internal"
	"testing"
	"time"
)

var party = Party{CountryCode: "FR", PartyId: "ABC"}

func TestFromSession(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	session := &entity.Session{
		Id:            42,
		ChargePointId: "CP7",
		ConnectorId:   2,
		IdTag:         "TAG1",
		Status:        entity.SessionActive,
		TimeStart:     start,
		MeterValues: []entity.MeterReading{
			entity.NewMeterReading(start, 1000),
			entity.NewMeterReading(start.Add(time.Hour), 8500),
		},
	}
	s := FromSession(party, "LOC1", session)
	if s.Id != "42" || s.ConnectorId != "2" || s.EvseUid != "LOC1-CP7" {
		t.Errorf("ids = %s %s %s", s.Id, s.ConnectorId, s.EvseUid)
	}
	if s.Status != SessionActive || s.Kwh != 7.5 || s.EndDateTime != nil {
		t.Errorf("active session = %+v", s)
	}

	session.Stop = &entity.StopRecord{Time: start.Add(2 * time.Hour), Consumption: 9000}
	s = FromSession(party, "LOC1", session)
	if s.Status != SessionCompleted || s.Kwh != 9 || s.EndDateTime == nil || !s.EndDateTime.Equal(start.Add(2*time.Hour)) {
		t.Errorf("completed session = %+v", s)
	}

	session.Stop = &entity.StopRecord{Time: start, Forced: true}
	if s = FromSession(party, "LOC1", session); s.Status != SessionInvalid {
		t.Errorf("forced empty session status = %s, want INVALID", s.Status)
	}
}

func TestFromEvent(t *testing.T) {
	now := time.Now().UTC()
	s := FromEvent(party, "", &internal.EventMessage{
		Type:          internal.SessionStopped,
		ChargePointId: "CP1",
		ConnectorId:   1,
		SessionId:     5,
		Time:          now,
		Consumption:   12500,
	})
	if s.Status != SessionCompleted || s.Kwh != 12.5 || s.EvseUid != "CP1" {
		t.Errorf("session = %+v", s)
	}
}

func TestEvseUidFallsBack(t *testing.T) {
	if uid := EvseUid("LOC-1", "CP1"); uid != "CP1" {
		t.Errorf("uid = %q, want CP1", uid)
	}
}

func TestLocationConversion(t *testing.T) {
	chp := entity.NewChargePoint("CP1")
	chp.Connectors = []*entity.Connector{entity.NewConnector(1, "CP1")}
	off := entity.NewChargePoint("CP2")
	off.Deactivate()
	l := FromLocation(party, &entity.Location{Id: "LOC1", City: "Lyon"}, []*entity.ChargePoint{chp, off}, "Europe/Paris")
	if len(l.Evses) != 1 || l.Evses[0].Uid != "LOC1-CP1" || l.Evses[0].EvseId != "FR*ABC*ECP1" {
		t.Fatalf("evses = %+v", l.Evses)
	}
	if l.Evses[0].Status != "AVAILABLE" || len(l.Evses[0].Connectors) != 1 {
		t.Errorf("evse = %+v", l.Evses[0])
	}

	remote := (&Location{CountryCode: "DE", PartyId: "XYZ", Id: "S1"}).Entity()
	if !remote.Remote || remote.SiteAreaName != "DE*XYZ-S1" {
		t.Errorf("remote location = %+v", remote)
	}
}

func TestTokenUserTag(t *testing.T) {
	tag := (&Token{Uid: "U1", Issuer: "Partner", ContractId: "C1", Valid: true}).UserTag()
	if tag.IdTag != "U1" || tag.Source != entity.TagSourceRemote || !tag.IsEnabled {
		t.Errorf("tag = %+v", tag)
	}
}
