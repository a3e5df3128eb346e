package zrtp

import (
	"testing"
	"time"
)

func TestRetransmitTimerDoesNotFireBeforeInterval(t *testing.T) {
	var rt retransmitTimer
	fired := false
	rt.arm(0, retransmitNonHello, func() { fired = true })

	if f, _ := rt.tick(10 * time.Millisecond); f {
		t.Error("timer fired before its base interval elapsed")
	}
	if fired {
		t.Error("onFire callback ran before the interval elapsed")
	}
}

func TestRetransmitTimerFiresAndBacksOffExponentially(t *testing.T) {
	var rt retransmitTimer
	count := 0
	rt.arm(0, retransmitNonHello, func() { count++ })

	policy := policyFor(retransmitNonHello)
	now := policy.base
	fired, exhausted := rt.tick(now)
	if !fired || exhausted {
		t.Fatalf("first fire: fired=%v exhausted=%v, want true/false", fired, exhausted)
	}
	if count != 1 {
		t.Fatalf("onFire call count = %d, want 1", count)
	}

	// second interval should be double the base, capped at policy.cap
	now += 2 * policy.base
	fired, exhausted = rt.tick(now)
	if !fired || exhausted {
		t.Fatalf("second fire: fired=%v exhausted=%v, want true/false", fired, exhausted)
	}
	if count != 2 {
		t.Fatalf("onFire call count after second fire = %d, want 2", count)
	}
}

func TestRetransmitTimerExhaustsAfterMaxFirings(t *testing.T) {
	var rt retransmitTimer
	rt.arm(0, retransmitNonHello, func() {})
	policy := policyFor(retransmitNonHello)

	now := time.Duration(0)
	exhausted := false
	for i := 0; i < policy.maxFirings+2; i++ {
		now += policy.cap // always advance far enough to guarantee a fire
		var fired bool
		fired, exhausted = rt.tick(now)
		if exhausted {
			if !fired {
				t.Fatal("final tick should report fired=true alongside exhausted=true")
			}
			break
		}
	}
	if !exhausted {
		t.Fatal("timer never reported exhausted within maxFirings+2 ticks")
	}

	// once exhausted, the timer must be disarmed: further ticks do nothing
	if fired, exh := rt.tick(now + policy.cap*10); fired || exh {
		t.Error("disarmed timer fired again after exhaustion")
	}
}

func TestRetransmitTimerDisarm(t *testing.T) {
	var rt retransmitTimer
	rt.arm(0, retransmitHello, func() {})
	rt.disarm()
	if fired, _ := rt.tick(10 * time.Second); fired {
		t.Error("disarmed timer must never fire")
	}
}

func TestRetransmitClearACKFiresOnce(t *testing.T) {
	var rt retransmitTimer
	count := 0
	rt.arm(0, retransmitClearACK, func() { count++ })

	fired, exhausted := rt.tick(1 * time.Millisecond)
	if !fired || !exhausted {
		t.Fatalf("ClearACK retransmit: fired=%v exhausted=%v, want true/true on first tick", fired, exhausted)
	}
	if count != 1 {
		t.Fatalf("onFire call count = %d, want 1", count)
	}
}
