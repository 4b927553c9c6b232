package clock

import (
	"testing"
	"time"
)

func TestFakeClock_AdvanceFiresInDeadlineOrder(t *testing.T) {
	c := Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	var order []string
	c.AfterFunc(10*time.Second, func() { order = append(order, "ten") })
	c.AfterFunc(5*time.Second, func() { order = append(order, "five") })

	c.Advance(4 * time.Second)
	if len(order) != 0 {
		t.Fatalf("expected nothing fired yet, got %v", order)
	}
	c.Advance(6 * time.Second)
	if len(order) != 2 || order[0] != "five" || order[1] != "ten" {
		t.Fatalf("unexpected firing order: %v", order)
	}
	if c.Pending() != 0 {
		t.Errorf("expected no pending timers, got %d", c.Pending())
	}
}

func TestFakeClock_StopPreventsFiring(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("expected Stop to report a pending timer")
	}
	if timer.Stop() {
		t.Error("expected second Stop to report false")
	}
	c.Advance(2 * time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
}

func TestFakeClock_CallbackMayArmTimer(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	count := 0
	c.AfterFunc(time.Second, func() {
		count++
		c.AfterFunc(time.Second, func() { count++ })
	})
	c.Advance(3 * time.Second)
	if count != 2 {
		t.Errorf("expected chained timers to fire, got count %d", count)
	}
	if got := c.Now(); !got.Equal(time.Unix(3, 0)) {
		t.Errorf("unexpected clock time %v", got)
	}
}

func TestRealClock_AfterFunc(t *testing.T) {
	done := make(chan struct{})
	Real().AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("real timer did not fire")
	}
}
