package dispatch

import (
	"container/heap"
	"reflect"
	"sync"
	"time"

	"salon/pkg/effect"
	"salon/pkg/proto"
)

// schedEntry is one armed timer.
type schedEntry struct {
	id        string
	to        proto.Address
	msg       proto.Message
	executeAt time.Time
	every     time.Duration
	seq       uint64 // arm order, tie-break for equal executeAt
	index     int    // heap bookkeeping
}

type schedHeap []*schedEntry

func (h schedHeap) Len() int { return len(h) }
func (h schedHeap) Less(i, j int) bool {
	if h[i].executeAt.Equal(h[j].executeAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].executeAt.Before(h[j].executeAt)
}
func (h schedHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *schedHeap) Push(x any)         { e := x.(*schedEntry); e.index = len(*h); *h = append(*h, e) }
func (h *schedHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// scheduler delivers delayed and recurring messages. A ticker moves due
// entries into the ready queue; recurring entries re-arm after dispatch.
type scheduler struct {
	send func(proto.Address, proto.Message)
	tick time.Duration

	mu      sync.Mutex
	entries schedHeap
	byID    map[string]*schedEntry
	nextSeq uint64
	stopCh  chan struct{}
	done    chan struct{}
	running bool
}

func newScheduler(send func(proto.Address, proto.Message), tick time.Duration) *scheduler {
	return &scheduler{
		send:   send,
		tick:   tick,
		byID:   map[string]*schedEntry{},
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (s *scheduler) start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.fire(time.Now())
			case <-s.stopCh:
				return
			}
		}
	}()
}

func (s *scheduler) stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()
	close(s.stopCh)
	<-s.done
}

// add arms an entry. Re-using a schedule id replaces the old entry.
func (s *scheduler) add(ef effect.Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byID[ef.ScheduleID]; ok {
		heap.Remove(&s.entries, old.index)
	}
	s.nextSeq++
	e := &schedEntry{
		id:        ef.ScheduleID,
		to:        ef.To,
		msg:       ef.Msg,
		executeAt: time.Now().Add(ef.Delay),
		every:     ef.Every,
		seq:       s.nextSeq,
	}
	heap.Push(&s.entries, e)
	s.byID[e.id] = e
}

func (s *scheduler) cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byID[id]; ok {
		heap.Remove(&s.entries, e.index)
		delete(s.byID, id)
	}
}

// fire moves due entries into the runtime. Sends happen outside the lock so
// a full mailbox path cannot stall the scheduler state.
func (s *scheduler) fire(now time.Time) {
	var due []*schedEntry

	s.mu.Lock()
	for s.entries.Len() > 0 && !s.entries[0].executeAt.After(now) {
		e := heap.Pop(&s.entries).(*schedEntry)
		due = append(due, e)
		if e.every > 0 {
			s.nextSeq++
			next := &schedEntry{
				id:        e.id,
				to:        e.to,
				msg:       e.msg,
				executeAt: e.executeAt.Add(e.every),
				every:     e.every,
				seq:       s.nextSeq,
			}
			heap.Push(&s.entries, next)
			s.byID[e.id] = next
		} else {
			delete(s.byID, e.id)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		if e.every > 0 {
			// Each recurring delivery needs its own copy so the runtime
			// stamps fresh metadata every time.
			s.send(e.to, cloneMessage(e.msg))
		} else {
			s.send(e.to, e.msg)
		}
	}
}

// cloneMessage makes a shallow copy of a pointer message and clears its
// stamp.
func cloneMessage(msg proto.Message) proto.Message {
	v := reflect.ValueOf(msg)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return msg
	}
	cp := reflect.New(v.Elem().Type())
	cp.Elem().Set(v.Elem())
	out := cp.Interface().(proto.Message)
	if c, ok := out.(interface{ ClearStamp() }); ok {
		c.ClearStamp()
	}
	return out
}

// pendingCount reports armed entries, for tests and status.
func (s *scheduler) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
