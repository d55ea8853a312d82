package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	past := time.Now().Add(-time.Second)
	d := clock.Since(past)

	if d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestRealClock_After(t *testing.T) {
	clock := RealClock{}
	select {
	case <-clock.After(10 * time.Millisecond):
	case <-time.After(time.Second):
		t.Error("After did not fire")
	}
}

func TestMockClock_AdvanceAndSet(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	if got := clock.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}

	clock.Advance(90 * time.Second)
	if got := clock.Since(start); got != 90*time.Second {
		t.Errorf("Since() = %v, want 90s", got)
	}

	later := start.Add(time.Hour)
	clock.Set(later)
	if got := clock.Now(); !got.Equal(later) {
		t.Errorf("Now() after Set = %v, want %v", got, later)
	}
}

func TestMockClock_SleepRecordsWithoutAdvancing(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	clock.Sleep(2 * time.Second)
	clock.Sleep(time.Second)

	sleeps := clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 2*time.Second || sleeps[1] != time.Second {
		t.Errorf("Sleeps() = %v, want [2s 1s]", sleeps)
	}
	if !clock.Now().Equal(start) {
		t.Errorf("manual clock moved on Sleep: %v", clock.Now())
	}
}

func TestMockClock_AfterFiresOnAdvance(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ch := clock.After(5 * time.Second)

	clock.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before deadline")
	default:
	}
	if clock.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", clock.Pending())
	}

	clock.Advance(time.Second)
	select {
	case got := <-ch:
		if !got.Equal(time.Unix(5, 0)) {
			t.Errorf("After delivered %v, want %v", got, time.Unix(5, 0))
		}
	default:
		t.Fatal("After did not fire at deadline")
	}
	if clock.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", clock.Pending())
	}
}

func TestAutoClock_SleepAndAfterAdvance(t *testing.T) {
	start := time.Unix(100, 0)
	clock := NewAutoClock(start)

	clock.Sleep(250 * time.Millisecond)
	if got := clock.Since(start); got != 250*time.Millisecond {
		t.Errorf("Since() after Sleep = %v, want 250ms", got)
	}

	got := <-clock.After(750 * time.Millisecond)
	if !got.Equal(start.Add(time.Second)) {
		t.Errorf("After delivered %v, want %v", got, start.Add(time.Second))
	}
	if n := len(clock.Sleeps()); n != 2 {
		t.Errorf("recorded %d waits, want 2", n)
	}
}
