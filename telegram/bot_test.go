package telegram

import (
	"evledger/internal"
	"strings"
	"testing"
	"time"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"1.5", "1\\.5"},
		{"a_b*c", "a\\_b\\*c"},
		{"(x)!", "\\(x\\)\\!"},
	}
	for _, tt := range tests {
		if got := sanitize(tt.in); got != tt.want {
			t.Errorf("sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStoppedMessage(t *testing.T) {
	msg := stoppedMessage(&internal.EventMessage{
		ChargePointId: "CP-1",
		ConnectorId:   2,
		SessionId:     17,
		Username:      "alice",
		Consumption:   12345,
		Duration:      95 * time.Minute,
		Inactivity:    10 * time.Minute,
	})
	for _, part := range []string{"*CP\\-1*: Connector 2", "Session 17 STOP", "Consumed: 12\\.3 kWh", "Duration: 1h35m", "Idle: 10m"} {
		if !strings.Contains(msg, part) {
			t.Errorf("message %q does not contain %q", msg, part)
		}
	}
}

func TestEventsDoNotBlock(t *testing.T) {
	b := newBot(nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			b.OnSessionStarted(&internal.EventMessage{ChargePointId: "CP1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("event handler blocked without a running pump")
	}
	if len(b.event) != cap(b.event) {
		t.Errorf("queued = %d, want %d", len(b.event), cap(b.event))
	}
}
