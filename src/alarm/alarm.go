// Package alarm provides a monotonic timer queue executing deferred actions
// on a dedicated worker. Actions run no earlier than their wakeup time, in
// wakeup order, with ties broken by insertion order.
package alarm

import (
	"container/heap"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type operation struct {
	wakeup time.Time
	seq    uint64
	action func()
}

type operationQueue []*operation

func (q operationQueue) Len() int { return len(q) }

func (q operationQueue) Less(i, j int) bool {
	if !q[i].wakeup.Equal(q[j].wakeup) {
		return q[i].wakeup.Before(q[j].wakeup)
	}
	return q[i].seq < q[j].seq
}

func (q operationQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *operationQueue) Push(x interface{}) {
	*q = append(*q, x.(*operation))
}

func (q *operationQueue) Pop() interface{} {
	old := *q
	n := len(old)
	op := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return op
}

// Alarm is the timer queue. A single worker goroutine sleeps until the
// earliest wakeup, fires all due actions, and re-sleeps.
type Alarm struct {
	mu         sync.Mutex
	operations operationQueue
	seq        uint64

	notifyCh   chan struct{}
	shutdownCh chan struct{}
	doneCh     chan struct{}

	logger *logrus.Entry
}

// New creates an Alarm and starts its worker.
func New(logger *logrus.Entry) *Alarm {
	a := &Alarm{
		notifyCh:   make(chan struct{}, 1),
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
		logger:     logger,
	}
	go a.run()
	return a
}

// Add enqueues an action to run no earlier than wakeup.
func (a *Alarm) Add(wakeup time.Time, action func()) {
	a.mu.Lock()
	heap.Push(&a.operations, &operation{wakeup: wakeup, seq: a.seq, action: action})
	a.seq++
	a.mu.Unlock()

	select {
	case a.notifyCh <- struct{}{}:
	default:
	}
}

// Stop drains pending actions without executing them and joins the worker.
func (a *Alarm) Stop() {
	select {
	case <-a.shutdownCh:
	default:
		close(a.shutdownCh)
	}
	<-a.doneCh

	a.mu.Lock()
	a.operations = nil
	a.mu.Unlock()
}

func (a *Alarm) run() {
	defer close(a.doneCh)

	for {
		a.mu.Lock()
		var wait <-chan time.Time
		if len(a.operations) > 0 {
			now := time.Now()
			next := a.operations[0]
			if !next.wakeup.After(now) {
				heap.Pop(&a.operations)
				a.mu.Unlock()
				a.fire(next.action)
				continue
			}
			timer := time.NewTimer(next.wakeup.Sub(now))
			wait = timer.C
			a.mu.Unlock()

			select {
			case <-wait:
			case <-a.notifyCh:
				timer.Stop()
			case <-a.shutdownCh:
				timer.Stop()
				return
			}
			continue
		}
		a.mu.Unlock()

		select {
		case <-a.notifyCh:
		case <-a.shutdownCh:
			return
		}
	}
}

// fire runs an action, containing any panic so a failing callback cannot
// take down the worker.
func (a *Alarm) fire(action func()) {
	defer func() {
		if r := recover(); r != nil && a.logger != nil {
			a.logger.WithField("panic", r).Error("alarm action panicked")
		}
	}()
	action()
}
