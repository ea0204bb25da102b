package alarm

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rkanadev/raiblocks/src/common"
)

func TestAlarmFiresInWakeupOrder(t *testing.T) {
	a := New(common.NewTestEntry(t, "alarm"))
	defer a.Stop()

	var mu sync.Mutex
	fired := []int{}
	done := make(chan struct{})

	now := time.Now()
	record := func(i int) func() {
		return func() {
			mu.Lock()
			fired = append(fired, i)
			count := len(fired)
			mu.Unlock()
			if count == 3 {
				close(done)
			}
		}
	}

	a.Add(now.Add(30*time.Millisecond), record(3))
	a.Add(now.Add(10*time.Millisecond), record(1))
	a.Add(now.Add(20*time.Millisecond), record(2))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for actions")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range fired {
		if v != i+1 {
			t.Fatalf("fired out of order: %v", fired)
		}
	}
}

func TestAlarmTiesBreakByInsertionOrder(t *testing.T) {
	a := New(common.NewTestEntry(t, "alarm"))
	defer a.Stop()

	var mu sync.Mutex
	fired := []int{}
	done := make(chan struct{})

	when := time.Now().Add(20 * time.Millisecond)
	for i := 0; i < 5; i++ {
		i := i
		a.Add(when, func() {
			mu.Lock()
			fired = append(fired, i)
			count := len(fired)
			mu.Unlock()
			if count == 5 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for actions")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range fired {
		if v != i {
			t.Fatalf("ties fired out of insertion order: %v", fired)
		}
	}
}

func TestAlarmImmediateAction(t *testing.T) {
	a := New(common.NewTestEntry(t, "alarm"))
	defer a.Stop()

	done := make(chan struct{})
	a.Add(time.Now().Add(-time.Second), func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("past-due action did not fire")
	}
}

func TestAlarmStopDrainsWithoutExecuting(t *testing.T) {
	a := New(common.NewTestEntry(t, "alarm"))

	var fired atomic.Int32
	a.Add(time.Now().Add(time.Hour), func() { fired.Add(1) })

	a.Stop()

	if fired.Load() != 0 {
		t.Fatal("pending action executed during Stop")
	}
}

func TestAlarmPanicContained(t *testing.T) {
	a := New(common.NewTestEntry(t, "alarm"))
	defer a.Stop()

	done := make(chan struct{})
	a.Add(time.Now(), func() { panic("boom") })
	a.Add(time.Now().Add(10*time.Millisecond), func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after panicking action")
	}
}
