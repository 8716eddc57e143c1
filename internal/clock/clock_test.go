package clock

import (
	"testing"
	"time"
)

func TestFakeAfterAdvancesTime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)

	fired := <-c.After(3 * time.Second)
	if want := start.Add(3 * time.Second); !fired.Equal(want) {
		t.Fatalf("expected fire time %s got %s", want, fired)
	}
	c.Advance(time.Second)
	if got := c.Now().Sub(start); got != 4*time.Second {
		t.Fatalf("expected 4s elapsed got %s", got)
	}
	waits := c.Waits()
	if len(waits) != 1 || waits[0] != 3*time.Second {
		t.Fatalf("unexpected recorded waits: %v", waits)
	}
}

func TestFakeAfterNonPositiveFiresWithoutMoving(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)
	<-c.After(0)
	if !c.Now().Equal(start) {
		t.Fatalf("clock moved on zero wait: %s", c.Now())
	}
}
