// Package scheduler implements the machine's timestamped event queue: a
// strict-priority min-heap keyed on (timestamp, insertion order) plus the
// monotonically increasing cycle counter that drives the whole emulation.
package scheduler

import "container/heap"

// Kind identifies the reason an event fired.
type Kind int

const (
	Stop Kind = iota
	IpcSyncA
	IpcSyncC
	IpcSendFifoA
	IpcSendFifoC
	IpcRecvFifoA
	IpcRecvFifoC
	PpuLineStart
	PpuHBlank
	RefreshWramPages
	RefreshVramPages
	SpiFinished
	RtcRefresh
	SerialInterrupt
	TimerOverflowA
	TimerOverflowC
	GamecardTransferReady
	GamecardCommandComplete
	ApuSample
)

func (k Kind) String() string {
	switch k {
	case Stop:
		return "Stop"
	case IpcSyncA:
		return "IpcSyncA"
	case IpcSyncC:
		return "IpcSyncC"
	case IpcSendFifoA:
		return "IpcSendFifoA"
	case IpcSendFifoC:
		return "IpcSendFifoC"
	case IpcRecvFifoA:
		return "IpcRecvFifoA"
	case IpcRecvFifoC:
		return "IpcRecvFifoC"
	case PpuLineStart:
		return "PpuLineStart"
	case PpuHBlank:
		return "PpuHBlank"
	case RefreshWramPages:
		return "RefreshWramPages"
	case RefreshVramPages:
		return "RefreshVramPages"
	case SpiFinished:
		return "SpiFinished"
	case RtcRefresh:
		return "RtcRefresh"
	case SerialInterrupt:
		return "SerialInterrupt"
	case TimerOverflowA:
		return "TimerOverflowA"
	case TimerOverflowC:
		return "TimerOverflowC"
	case GamecardTransferReady:
		return "GamecardTransferReady"
	case GamecardCommandComplete:
		return "GamecardCommandComplete"
	case ApuSample:
		return "ApuSample"
	default:
		return "Unknown"
	}
}

// Event is a single scheduled occurrence. Data carries a small payload
// (e.g. which DMA channel or timer index triggered it) so handlers don't
// need a separate lookup.
type Event struct {
	At   uint64
	Kind Kind
	Data int32

	seq uint64
}

type eventHeap []Event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].At != h[j].At {
		return h[i].At < h[j].At
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(Event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	*h = old[:n-1]
	return ev
}

// Scheduler owns the global cycle counter and the pending-event heap.
type Scheduler struct {
	now     uint64
	seq     uint64
	running bool
	heap    eventHeap
}

// New creates an empty, stopped scheduler.
func New() *Scheduler {
	s := &Scheduler{}
	s.Reset()
	return s
}

// Reset discards the event queue and resets the cycle counter to zero, per
// spec.md §3's "event queue is empty only at reset" invariant. Callers are
// expected to immediately push the machine's periodic bootstrap events
// (PPU line timing) after Reset.
func (s *Scheduler) Reset() {
	s.now = 0
	s.seq = 0
	s.running = false
	s.heap = nil
	heap.Init(&s.heap)
}

// Now returns the current value of the global cycle counter.
func (s *Scheduler) Now() uint64 { return s.now }

// Running reports whether the run loop should keep advancing time.
func (s *Scheduler) Running() bool { return s.running }

// SetRunning toggles the run loop; a Stop event handler clears this.
func (s *Scheduler) SetRunning(running bool) { s.running = running }

// After schedules an event `delay` units from now.
func (s *Scheduler) After(delay uint64, kind Kind, data int32) {
	s.At(s.now+delay, kind, data)
}

// At schedules an event at an absolute cycle count.
func (s *Scheduler) At(at uint64, kind Kind, data int32) {
	heap.Push(&s.heap, Event{At: at, Kind: kind, Data: data, seq: s.seq})
	s.seq++
}

// Pending reports how many events are still queued.
func (s *Scheduler) Pending() int { return len(s.heap) }

// AdvanceTime moves the cycle counter forward by one unit and returns the
// new value, matching spec.md §4.1's "advance currentTime one unit at a
// time" run loop.
func (s *Scheduler) AdvanceTime() uint64 {
	s.now++
	return s.now
}

// PopDue removes and returns the earliest event if its timestamp is at or
// before the current time; ties are broken by insertion order so handlers
// observe events in FIFO order within a tick, per spec.md §3's invariant.
func (s *Scheduler) PopDue() (Event, bool) {
	if len(s.heap) == 0 || s.heap[0].At > s.now {
		return Event{}, false
	}
	return heap.Pop(&s.heap).(Event), true
}

// DrainDue pops and hands every event due at or before the current time to
// handle, in FIFO order among ties. Handlers may enqueue further zero-delay
// events (e.g. a register refresh) which are observed within the same
// drain, matching spec.md §4.1/§9.
func (s *Scheduler) DrainDue(handle func(Event)) {
	for {
		ev, ok := s.PopDue()
		if !ok {
			return
		}
		handle(ev)
	}
}
