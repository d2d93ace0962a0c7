package dispatch

import (
	"container/heap"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salon/pkg/effect"
	"salon/pkg/proto"
)

type schedSink struct {
	mu   sync.Mutex
	msgs []proto.Message
}

func (s *schedSink) send(_ proto.Address, msg proto.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func (s *schedSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// TestScheduler_DelayedDelivery verifies a one-shot entry fires once after
// its delay and then disarms.
func TestScheduler_DelayedDelivery(t *testing.T) {
	sink := &schedSink{}
	s := newScheduler(sink.send, 5*time.Millisecond)
	s.start()
	defer s.stop()

	s.add(effect.Schedule{
		ScheduleID: "once",
		To:         probeAddr("a"),
		Msg:        &probeMsg{N: 1},
		Delay:      20 * time.Millisecond,
	})
	assert.Equal(t, 1, s.pendingCount())
	assert.Equal(t, 0, sink.count(), "must not fire before the delay")

	deadline := time.Now().Add(time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, sink.count())
	assert.Equal(t, 0, s.pendingCount())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, sink.count(), "one-shot must not fire again")
}

// TestScheduler_Cancel verifies a cancelled entry never fires.
func TestScheduler_Cancel(t *testing.T) {
	sink := &schedSink{}
	s := newScheduler(sink.send, 5*time.Millisecond)
	s.start()
	defer s.stop()

	s.add(effect.Schedule{ScheduleID: "x", To: probeAddr("a"), Msg: &probeMsg{N: 1}, Delay: 30 * time.Millisecond})
	s.cancel("x")
	assert.Equal(t, 0, s.pendingCount())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, sink.count())
}

// TestScheduler_Recurring verifies a recurring entry re-arms and each
// delivery is an independently stampable copy.
func TestScheduler_Recurring(t *testing.T) {
	sink := &schedSink{}
	s := newScheduler(sink.send, 5*time.Millisecond)
	s.start()
	defer s.stop()

	s.add(effect.Schedule{
		ScheduleID: "tick",
		To:         probeAddr("a"),
		Msg:        &probeMsg{N: 7},
		Delay:      10 * time.Millisecond,
		Every:      15 * time.Millisecond,
	})

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.GreaterOrEqual(t, sink.count(), 3)
	assert.Equal(t, 1, s.pendingCount(), "recurring entry stays armed")

	sink.mu.Lock()
	first, second := sink.msgs[0].(*probeMsg), sink.msgs[1].(*probeMsg)
	sink.mu.Unlock()
	assert.NotSame(t, first, second, "each recurring delivery must be a fresh copy")
	assert.Equal(t, 7, second.N)

	s.cancel("tick")
	assert.Equal(t, 0, s.pendingCount())
}

// TestScheduler_SameInstantFiresInArmOrder verifies entries due at the same
// instant are delivered in the order they were armed.
func TestScheduler_SameInstantFiresInArmOrder(t *testing.T) {
	sink := &schedSink{}
	s := newScheduler(sink.send, time.Hour)

	for i := 1; i <= 5; i++ {
		s.add(effect.Schedule{
			ScheduleID: fmt.Sprintf("e%d", i),
			To:         probeAddr("a"),
			Msg:        &probeMsg{N: i},
		})
	}

	// Collapse the executeAt jitter from sequential adds onto one instant.
	at := time.Now()
	s.mu.Lock()
	for _, e := range s.entries {
		e.executeAt = at
	}
	heap.Init(&s.entries)
	s.mu.Unlock()

	s.fire(at)

	require.Equal(t, 5, sink.count())
	for i, m := range sink.msgs {
		assert.Equal(t, i+1, m.(*probeMsg).N)
	}
}

// TestScheduler_ReplaceByID verifies re-adding an id rearms instead of
// duplicating.
func TestScheduler_ReplaceByID(t *testing.T) {
	sink := &schedSink{}
	s := newScheduler(sink.send, 5*time.Millisecond)
	s.start()
	defer s.stop()

	s.add(effect.Schedule{ScheduleID: "r", To: probeAddr("a"), Msg: &probeMsg{N: 1}, Delay: 15 * time.Millisecond})
	s.add(effect.Schedule{ScheduleID: "r", To: probeAddr("a"), Msg: &probeMsg{N: 2}, Delay: 15 * time.Millisecond})
	assert.Equal(t, 1, s.pendingCount())

	deadline := time.Now().Add(time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, sink.count())
	assert.Equal(t, 2, sink.msgs[0].(*probeMsg).N, "replacement wins")
}
