// Package ipc implements the inter-processor communication block shared by
// both CPUs: a 4-bit sync register pair and two 16-deep 32-bit FIFOs, one
// per direction. Grounded on original_source/src/emulator/ipc.cpp
// (KellanClark/ortin), translated from its NDS9/NDS7 naming to this
// module's CPU-A/CPU-C naming.
package ipc

import (
	"fmt"

	"github.com/nullbrook/ds-core/internal/scheduler"
	"github.com/nullbrook/ds-core/internal/shared"
)

const fifoDepth = 16

// fifo32 is a fixed-capacity ring buffer matching spec.md §3's "0 <= size
// <= 16" invariant.
type fifo32 struct {
	buf   [fifoDepth]uint32
	head  int
	count int
}

func (f *fifo32) empty() bool { return f.count == 0 }
func (f *fifo32) full() bool  { return f.count == fifoDepth }

func (f *fifo32) push(v uint32) bool {
	if f.full() {
		return false
	}
	f.buf[(f.head+f.count)%fifoDepth] = v
	f.count++
	return true
}

func (f *fifo32) pop() (uint32, bool) {
	if f.empty() {
		return 0, false
	}
	v := f.buf[f.head]
	f.head = (f.head + 1) % fifoDepth
	f.count--
	return v, true
}

func (f *fifo32) front() uint32 {
	if f.empty() {
		return 0
	}
	return f.buf[f.head]
}

func (f *fifo32) clear() { *f = fifo32{} }

// side holds one CPU's half of the sync/FIFO-control register pair.
type side struct {
	syncIn, syncOut uint8 // 4-bit nibbles
	sendIrq         bool
	enableIrq       bool

	sendEmptyIrqEnable bool
	recvNotEmptyEnable bool
	fifoEnable         bool
	fifoError          bool

	recvRegister uint32

	sendWord uint32 // staging register for partial-width writes
	sendMask uint32

	sendIrqStatus bool
	recvIrqStatus bool
}

// IPC is the shared sync/FIFO block. fifoAtoC carries words CPU-A pushes
// for CPU-C to read, and vice versa.
type IPC struct {
	a, c side

	fifoAtoC fifo32
	fifoCtoA fifo32
}

func New() *IPC {
	ipc := &IPC{}
	ipc.Reset()
	return ipc
}

func (ipc *IPC) Reset() {
	ipc.a = side{fifoEnable: false}
	ipc.c = side{fifoEnable: false}
	ipc.fifoAtoC.clear()
	ipc.fifoCtoA.clear()
}

// syncWord packs the nibble-level IPCSYNC fields into the 16-bit register
// image used for partial-width reads.
func syncWord(s *side) uint16 {
	v := uint16(s.syncIn) | uint16(s.syncOut)<<8
	if s.sendIrq {
		v |= 1 << 13
	}
	if s.enableIrq {
		v |= 1 << 14
	}
	return v
}

func fifoCntWord(s *side, sendQ, recvQ *fifo32) uint16 {
	var v uint16
	if sendQ.empty() {
		v |= 1 << 0
	}
	if sendQ.full() {
		v |= 1 << 1
	}
	if s.sendEmptyIrqEnable {
		v |= 1 << 2
	}
	if recvQ.empty() {
		v |= 1 << 8
	}
	if recvQ.full() {
		v |= 1 << 9
	}
	if s.recvNotEmptyEnable {
		v |= 1 << 10
	}
	if s.fifoError {
		v |= 1 << 14
	}
	if s.fifoEnable {
		v |= 1 << 15
	}
	return v
}

// readIO services both CPUs' identical register layout; self is the
// reading CPU's side, peer is the other CPU's side, selfToPeer/peerToSelf
// name the FIFOs from the reading CPU's perspective.
func (ipc *IPC) readIO(st *shared.State, address uint32, final bool, self, peer *side, peerToSelf *fifo32, wakeEvent func()) uint8 {
	// Bit 20 keeps IPCFIFORECV (0x041000xx) out of the IPCSYNC/IPCFIFOCNT cases.
	switch address & 0x0010000F {
	case 0x0:
		return uint8(syncWord(self))
	case 0x1:
		return uint8(syncWord(self) >> 8)
	case 0x2, 0x3:
		return 0
	case 0x4:
		return uint8(fifoCntWord(self, selfSendFifo(ipc, self), peerToSelf))
	case 0x5:
		return uint8(fifoCntWord(self, selfSendFifo(ipc, self), peerToSelf) >> 8)
	case 0x6, 0x7:
		return 0
	}

	switch address {
	case 0x04100000:
	case 0x04100001:
	case 0x04100002:
	case 0x04100003:
	default:
		st.Log.Warn("ipc read from unknown register", "addr", fmt.Sprintf("0x%08X", address))
		return 0
	}

	val := uint8(self.recvRegister >> ((address & 0x3) * 8))

	if final && self.fifoEnable {
		if _, ok := peerToSelf.pop(); !ok {
			self.fifoError = true
		}
		if !peerToSelf.empty() {
			self.recvRegister = peerToSelf.front()
		}
		// else: recvRegister keeps holding the last popped word.

		newSendEmpty := peerToSelf.empty()
		if !peer.sendIrqStatus && peer.sendEmptyIrqEnable && newSendEmpty {
			wakeEvent()
		}
		peer.sendIrqStatus = peer.sendEmptyIrqEnable && newSendEmpty
	}

	return val
}

// selfSendFifo returns the FIFO that `self` pushes into (i.e. the queue
// whose emptiness self's own IPCFIFOCNT reports in bits 0/1).
func selfSendFifo(ipc *IPC, self *side) *fifo32 {
	if self == &ipc.a {
		return &ipc.fifoAtoC
	}
	return &ipc.fifoCtoA
}

func (ipc *IPC) writeIO(st *shared.State, address uint32, value uint8, final bool, self, peer *side, selfSyncNotify, selfRecvWake, peerRecvWake func()) {
	switch address & 0xF {
	case 0x0:
		return
	case 0x1:
		self.syncOut = (value >> 0) & 0xF
		self.sendIrq = value&(1<<5) != 0
		self.enableIrq = value&(1<<6) != 0

		peer.syncIn = self.syncOut
		if self.sendIrq {
			self.sendIrq = false
			if peer.enableIrq {
				selfSyncNotify()
			}
		}
		return
	case 0x2, 0x3:
		return
	case 0x4:
		sendQ := selfSendFifo(ipc, self)
		self.sendIrqStatus = self.sendEmptyIrqEnable && sendQ.empty()

		self.sendEmptyIrqEnable = value&(1<<2) != 0
		if value&(1<<3) != 0 {
			sendQ.clear()
			// clearing own send fifo doesn't ack errors; that is bit 14 of the high byte
			peer.recvRegister = 0
		}

		if !self.sendIrqStatus && self.sendEmptyIrqEnable && sendQ.empty() {
			selfRecvWake()
		}
		self.sendIrqStatus = self.sendEmptyIrqEnable && sendQ.empty()
		return
	case 0x5:
		peerToSelf := otherToSelf(ipc, self)
		self.recvIrqStatus = self.recvNotEmptyEnable && !peerToSelf.empty()

		if value&(1<<6) != 0 {
			self.fifoError = false
		}
		self.recvNotEmptyEnable = value&(1<<2) != 0
		self.fifoEnable = value&(1<<7) != 0

		if !self.recvIrqStatus && self.recvNotEmptyEnable && !peerToSelf.empty() {
			selfRecvWake()
		}
		self.recvIrqStatus = self.recvNotEmptyEnable && !peerToSelf.empty()
		return
	case 0x6, 0x7:
		return
	case 0x8, 0x9, 0xA, 0xB:
		shift := (address & 0x3) * 8
		self.sendWord |= uint32(value) << shift
		self.sendMask |= 0xFF << shift
	default:
		st.Log.Warn("ipc write to unknown register", "addr", fmt.Sprintf("0x%08X", address), "value", value)
		return
	}

	if final {
		if self.fifoEnable {
			word, _ := mirrorPartialWrite(self.sendWord, self.sendMask)
			sendQ := selfSendFifo(ipc, self)
			if sendQ.full() {
				self.fifoError = true
			} else {
				wasEmpty := sendQ.empty()
				sendQ.push(word)
				peer.recvRegister = sendQ.front()

				if wasEmpty && peer.recvNotEmptyEnable {
					peerRecvWake()
				}
				peer.recvIrqStatus = peer.recvNotEmptyEnable && !sendQ.empty()
			}
		}
		self.sendWord = 0
		self.sendMask = 0
	}
}

func otherToSelf(ipc *IPC, self *side) *fifo32 {
	if self == &ipc.a {
		return &ipc.fifoCtoA
	}
	return &ipc.fifoAtoC
}

// mirrorPartialWrite replicates an 8- or 16-bit write across the full
// 32-bit send word, matching IPC::writeIO9's use of countr_zero/countl_zero
// on the byte mask built up by successive byte writes.
func mirrorPartialWrite(word, mask uint32) (uint32, uint32) {
	if mask == 0 {
		return word, mask
	}
	shift := trailingZeroBytes(mask) * 8
	word >>= shift
	mask >>= shift

	switch leadingZeroBytes(mask) {
	case 3:
		word |= word << 8
		word |= word << 16
	case 2:
		word |= word << 16
	}
	return word, mask
}

func trailingZeroBytes(mask uint32) uint {
	for i := uint(0); i < 4; i++ {
		if mask&(0xFF<<(i*8)) != 0 {
			return i
		}
	}
	return 4
}

func leadingZeroBytes(mask uint32) uint {
	for i := uint(0); i < 4; i++ {
		if mask&(0xFF<<((3-i)*8)) != 0 {
			return i
		}
	}
	return 4
}

// ReadIOA services CPU-A's view of the IPC registers (IPCSYNC/IPCFIFOCNT
// at 0x04000180.., IPCFIFORECV at 0x04100000..).
func (ipc *IPC) ReadIOA(st *shared.State, address uint32, final bool) uint8 {
	return ipc.readIO(st, address, final, &ipc.a, &ipc.c, &ipc.fifoCtoA, func() { st.Sched.After(0, scheduler.IpcSendFifoC, 0) })
}

// WriteIOA services CPU-A's writes.
func (ipc *IPC) WriteIOA(st *shared.State, address uint32, value uint8, final bool) {
	ipc.writeIO(st, address, value, final, &ipc.a, &ipc.c,
		func() { st.Sched.After(0, scheduler.IpcSyncC, 0) },
		func() { st.Sched.After(0, scheduler.IpcSendFifoA, 0) },
		func() { st.Sched.After(0, scheduler.IpcRecvFifoC, 0) })
}

// ReadIOC services CPU-C's view.
func (ipc *IPC) ReadIOC(st *shared.State, address uint32, final bool) uint8 {
	return ipc.readIO(st, address, final, &ipc.c, &ipc.a, &ipc.fifoAtoC, func() { st.Sched.After(0, scheduler.IpcSendFifoA, 0) })
}

// WriteIOC services CPU-C's writes.
func (ipc *IPC) WriteIOC(st *shared.State, address uint32, value uint8, final bool) {
	ipc.writeIO(st, address, value, final, &ipc.c, &ipc.a,
		func() { st.Sched.After(0, scheduler.IpcSyncA, 0) },
		func() { st.Sched.After(0, scheduler.IpcSendFifoC, 0) },
		func() { st.Sched.After(0, scheduler.IpcRecvFifoA, 0) })
}
